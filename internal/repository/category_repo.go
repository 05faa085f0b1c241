package repository

import (
	"context"

	"invoiceflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CategoryRepository interface {
	Create(ctx context.Context, c *model.Category) error
	Update(ctx context.Context, c *model.Category) error
	AppendHistory(ctx context.Context, h *model.CategoryHistory) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Category, error)
	FindByName(ctx context.Context, name string) (*model.Category, error)
	FindActiveByName(ctx context.Context, name string) (*model.Category, error)
	List(ctx context.Context, activeOnly bool, offset, limit int) ([]model.Category, int64, error)
	History(ctx context.Context, id uuid.UUID) ([]model.CategoryHistory, error)
}

type categoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(ctx context.Context, c *model.Category) error {
	return GetDB(ctx, r.db).Create(c).Error
}

func (r *categoryRepository) Update(ctx context.Context, c *model.Category) error {
	return GetDB(ctx, r.db).Save(c).Error
}

func (r *categoryRepository) AppendHistory(ctx context.Context, h *model.CategoryHistory) error {
	return GetDB(ctx, r.db).Create(h).Error
}

func (r *categoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	var c model.Category
	if err := GetDB(ctx, r.db).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	var c model.Category
	if err := forUpdate(GetDB(ctx, r.db)).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByName matches case-insensitively regardless of the active flag.
func (r *categoryRepository) FindByName(ctx context.Context, name string) (*model.Category, error) {
	var c model.Category
	if err := GetDB(ctx, r.db).First(&c, "UPPER(name) = UPPER(?)", name).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) FindActiveByName(ctx context.Context, name string) (*model.Category, error) {
	var c model.Category
	if err := GetDB(ctx, r.db).Where("UPPER(name) = UPPER(?) AND active = ?", name, true).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) List(ctx context.Context, activeOnly bool, offset, limit int) ([]model.Category, int64, error) {
	var categories []model.Category
	var total int64

	query := GetDB(ctx, r.db).Model(&model.Category{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	fetch := GetDB(ctx, r.db)
	if activeOnly {
		fetch = fetch.Where("active = ?", true)
	}
	if err := fetch.Order("name ASC").Offset(offset).Limit(limit).Find(&categories).Error; err != nil {
		return nil, 0, err
	}
	return categories, total, nil
}

func (r *categoryRepository) History(ctx context.Context, id uuid.UUID) ([]model.CategoryHistory, error) {
	var rows []model.CategoryHistory
	if err := GetDB(ctx, r.db).Where("category_id = ?", id).Order("created_on ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
