package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"invoiceflow/internal/model"
	"invoiceflow/internal/repository"
	"invoiceflow/pkg/apperrors"
	"invoiceflow/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Websocket event names published on lifecycle changes
const (
	EventRequestCreated = "request.created"
	EventRequestUpdated = "request.updated"
)

// --- DTOs ---

type CreateRequestInput struct {
	FileName      string
	UserID        string
	TotalAmount   decimal.Decimal
	InvoiceDate   string
	InvoiceNumber string
	CategoryName  string
	Comments      string
	CreatedBy     string
}

type UpdateStatusInput struct {
	Status    string `json:"status" binding:"required"`
	Comments  string `json:"comments"`
	UpdatedBy string `json:"updated_by"`
}

type RequestFilter struct {
	Status    string
	Category  string
	StartDate *time.Time
	EndDate   *time.Time
	Page      pagination.Params
}

type InsightsFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
}

// EventPublisher receives lifecycle events. Implementations must not block.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

// --- Interface ---

type RequestService interface {
	CreateRequest(ctx context.Context, in CreateRequestInput, initialStatus string) (*model.Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*model.Request, error)
	GetRequestByFileName(ctx context.Context, fileName string) (*model.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, in UpdateStatusInput) (*model.Request, error)
	GetHistory(ctx context.Context, id uuid.UUID) ([]model.RequestHistory, error)
	GetInsights(ctx context.Context, filter InsightsFilter) (model.Insights, error)
	ExportRequests(ctx context.Context, filter RequestFilter, w io.Writer) error
}

type requestService struct {
	repo     repository.RequestRepository
	insights repository.InsightsRepository
	tx       repository.TransactionManager
	events   EventPublisher
	log      *zap.Logger
}

func NewRequestService(db *gorm.DB, log *zap.Logger, events EventPublisher) RequestService {
	return &requestService{
		repo:     repository.NewRequestRepository(db),
		insights: repository.NewInsightsRepository(db),
		tx:       repository.NewTransactionManager(db),
		events:   events,
		log:      log,
	}
}

// --- Implementation ---

// CreateRequest stores the request and its creation snapshot in one transaction.
func (s *requestService) CreateRequest(ctx context.Context, in CreateRequestInput, initialStatus string) (*model.Request, error) {
	if !model.ValidStatus(initialStatus) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, initialStatus)
	}
	if in.FileName == "" {
		return nil, fmt.Errorf("%w: file name is required", apperrors.ErrValidation)
	}
	if in.UserID == "" {
		in.UserID = model.ActorSystem
	}
	if in.CreatedBy == "" {
		in.CreatedBy = model.ActorPipeline
	}
	if in.CategoryName == "" {
		in.CategoryName = model.DefaultCategory
	}

	var created *model.Request
	err := s.withRetry(ctx, "create request", func() error {
		now := time.Now().UTC()
		req := &model.Request{
			RequestFields: model.RequestFields{
				UserID:        in.UserID,
				TotalAmount:   in.TotalAmount,
				InvoiceDate:   in.InvoiceDate,
				InvoiceNumber: in.InvoiceNumber,
				CategoryName:  in.CategoryName,
				CurrentStatus: initialStatus,
				Comments:      in.Comments,
				ApprovalType:  model.ApprovalTypeAuto,
				CreatedBy:     in.CreatedBy,
				UpdatedBy:     in.CreatedBy,
			},
			FileName:  in.FileName,
			CreatedOn: now,
			UpdatedOn: now,
		}

		return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			if _, findErr := s.repo.FindByFileName(txCtx, in.FileName); findErr == nil {
				return fmt.Errorf("%w: %s", apperrors.ErrRequestExists, in.FileName)
			} else if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to check file name: %w", findErr)
			}
			if createErr := s.repo.Create(txCtx, req); errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", apperrors.ErrRequestExists, in.FileName)
			} else if createErr != nil {
				return fmt.Errorf("failed to insert request: %w", createErr)
			}
			history := req.Snapshot(now)
			if histErr := s.repo.AppendHistory(txCtx, &history); histErr != nil {
				return fmt.Errorf("failed to insert request history: %w", histErr)
			}
			created = req
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("request created",
		zap.String("request_id", created.ID.String()),
		zap.String("file", created.FileName),
		zap.String("status", created.CurrentStatus),
	)
	s.publish(EventRequestCreated, created)
	return created, nil
}

func (s *requestService) GetRequest(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	req, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request: %w", err)
	}
	return req, nil
}

func (s *requestService) GetRequestByFileName(ctx context.Context, fileName string) (*model.Request, error) {
	req, err := s.repo.FindByFileName(ctx, fileName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request by file: %w", err)
	}
	return req, nil
}

func (s *requestService) ListRequests(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	q, err := toQuery(filter)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	return items, total, nil
}

// UpdateStatus moves a Pending request to Approved or Rejected. The pre-update
// snapshot and the status change commit together or not at all.
func (s *requestService) UpdateStatus(ctx context.Context, id uuid.UUID, in UpdateStatusInput) (*model.Request, error) {
	if !model.ValidStatus(in.Status) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, in.Status)
	}
	if in.UpdatedBy == "" {
		in.UpdatedBy = model.ActorSystem
	}

	var updated *model.Request
	err := s.withRetry(ctx, "update status", func() error {
		return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			current, findErr := s.repo.FindByIDForUpdate(txCtx, id)
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			if findErr != nil {
				return fmt.Errorf("failed to load request: %w", findErr)
			}
			if model.IsTerminal(current.CurrentStatus) {
				return fmt.Errorf("%w: request is already %s", apperrors.ErrInvalidTransition, current.CurrentStatus)
			}
			if !model.IsTerminal(in.Status) {
				return fmt.Errorf("%w: %s to %s", apperrors.ErrInvalidTransition, current.CurrentStatus, in.Status)
			}

			now := time.Now().UTC()
			if now.Before(current.UpdatedOn) {
				now = current.UpdatedOn
			}
			history := current.Snapshot(now)
			if histErr := s.repo.AppendHistory(txCtx, &history); histErr != nil {
				return fmt.Errorf("failed to insert request history: %w", histErr)
			}

			affected, updErr := s.repo.TransitionFromPending(txCtx, id, in.Status, in.Comments, in.UpdatedBy, now)
			if updErr != nil {
				return fmt.Errorf("failed to update request: %w", updErr)
			}
			if affected == 0 {
				return fmt.Errorf("%w: request is no longer Pending", apperrors.ErrInvalidTransition)
			}

			reloaded, loadErr := s.repo.FindByID(txCtx, id)
			if loadErr != nil {
				return fmt.Errorf("failed to reload request: %w", loadErr)
			}
			updated = reloaded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("request status updated",
		zap.String("request_id", updated.ID.String()),
		zap.String("file", updated.FileName),
		zap.String("status", updated.CurrentStatus),
		zap.String("updated_by", updated.UpdatedBy),
	)
	s.publish(EventRequestUpdated, updated)
	return updated, nil
}

func (s *requestService) GetHistory(ctx context.Context, id uuid.UUID) ([]model.RequestHistory, error) {
	if _, err := s.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request history: %w", err)
	}
	return rows, nil
}

// withRetry runs fn again once when it fails for a non-domain reason.
func (s *requestService) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || apperrors.IsDomain(err) {
		return err
	}
	s.log.Warn("store write failed, retrying", zap.String("op", op), zap.Error(err))
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrPersistence, err)
	}

	err = fn()
	if err == nil || apperrors.IsDomain(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrPersistence, err)
}

func (s *requestService) publish(event string, req *model.Request) {
	if s.events == nil {
		return
	}
	s.events.Publish(event, req)
}

func toQuery(filter RequestFilter) (repository.RequestQuery, error) {
	if filter.Status != "" && !model.ValidStatus(filter.Status) {
		return repository.RequestQuery{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidStatus, filter.Status)
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return repository.RequestQuery{}, fmt.Errorf("%w: end_date before start_date", apperrors.ErrValidation)
	}
	page := filter.Page
	if page.Limit == 0 {
		page = pagination.New(page.Page, page.Limit)
	}
	return repository.RequestQuery{
		Status:    filter.Status,
		Category:  filter.Category,
		StartDate: filter.StartDate,
		EndDate:   filter.EndDate,
		Offset:    page.Offset,
		Limit:     page.Limit,
	}, nil
}
