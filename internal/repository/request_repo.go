package repository

import (
	"context"
	"time"

	"invoiceflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestQuery narrows a request listing. Zero values mean "no filter".
type RequestQuery struct {
	Status    string
	Category  string
	StartDate *time.Time
	EndDate   *time.Time
	Offset    int
	Limit     int
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	AppendHistory(ctx context.Context, h *model.RequestHistory) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error)
	FindByFileName(ctx context.Context, fileName string) (*model.Request, error)
	List(ctx context.Context, q RequestQuery) ([]model.Request, int64, error)
	ListAll(ctx context.Context, q RequestQuery) ([]model.Request, error)
	TransitionFromPending(ctx context.Context, id uuid.UUID, status, comments, updatedBy string, at time.Time) (int64, error)
	History(ctx context.Context, id uuid.UUID) ([]model.RequestHistory, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) AppendHistory(ctx context.Context, h *model.RequestHistory) error {
	return GetDB(ctx, r.db).Create(h).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := forUpdate(GetDB(ctx, r.db)).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByFileName(ctx context.Context, fileName string) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).First(&req, "file_name = ?", fileName).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) filtered(ctx context.Context, q RequestQuery) *gorm.DB {
	query := GetDB(ctx, r.db).Model(&model.Request{})
	if q.Status != "" {
		query = query.Where("current_status = ?", q.Status)
	}
	if q.Category != "" {
		query = query.Where("UPPER(category_name) = UPPER(?)", q.Category)
	}
	if q.StartDate != nil {
		query = query.Where("created_on >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		query = query.Where("created_on <= ?", *q.EndDate)
	}
	return query
}

func (r *requestRepository) List(ctx context.Context, q RequestQuery) ([]model.Request, int64, error) {
	var requests []model.Request
	var total int64

	if err := r.filtered(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := r.filtered(ctx, q).Order("created_on DESC").Offset(q.Offset).Limit(q.Limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) ListAll(ctx context.Context, q RequestQuery) ([]model.Request, error) {
	var requests []model.Request
	if err := r.filtered(ctx, q).Order("created_on DESC").Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionFromPending applies the update only while the row is still Pending.
// The returned row count is 0 when another writer got there first.
func (r *requestRepository) TransitionFromPending(ctx context.Context, id uuid.UUID, status, comments, updatedBy string, at time.Time) (int64, error) {
	updates := map[string]interface{}{
		"current_status": status,
		"approval_type":  model.ApprovalTypeManual,
		"updated_on":     at,
		"updated_by":     updatedBy,
	}
	if comments != "" {
		updates["comments"] = comments
	}

	res := GetDB(ctx, r.db).Model(&model.Request{}).
		Where("id = ? AND current_status = ?", id, model.StatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *requestRepository) History(ctx context.Context, id uuid.UUID) ([]model.RequestHistory, error) {
	var rows []model.RequestHistory
	if err := GetDB(ctx, r.db).Where("request_id = ?", id).Order("created_on ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
