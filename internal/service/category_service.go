package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"invoiceflow/internal/database"
	"invoiceflow/internal/model"
	"invoiceflow/internal/repository"
	"invoiceflow/pkg/apperrors"
	"invoiceflow/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateCategoryDTO struct {
	Name             string           `json:"name" binding:"required"`
	Description      string           `json:"description"`
	ApprovalCriteria string           `json:"approval_criteria"`
	MaximumAmount    *decimal.Decimal `json:"maximum_amount"`
	Active           *bool            `json:"active"`
}

type UpdateCategoryDTO struct {
	Name             *string          `json:"name"`
	Description      *string          `json:"description"`
	ApprovalCriteria *string          `json:"approval_criteria"`
	MaximumAmount    *decimal.Decimal `json:"maximum_amount"`
	ClearMaximum     bool             `json:"clear_maximum_amount"`
	Active           *bool            `json:"active"`
	Comments         string           `json:"comments"`
}

// --- Interface ---

type CategoryService interface {
	Lookup(ctx context.Context, name string) (model.CategoryLookup, error)
	CreateCategory(ctx context.Context, req CreateCategoryDTO, actor string) (*model.Category, error)
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	ListCategories(ctx context.Context, activeOnly bool, page pagination.Params) ([]model.Category, int64, error)
	UpdateCategory(ctx context.Context, id string, req UpdateCategoryDTO, actor string) (*model.Category, error)
	GetCategoryHistory(ctx context.Context, id string) ([]model.CategoryHistory, error)
	Seed(ctx context.Context, seeds []database.SeedCategory) (int, error)
}

type categoryService struct {
	repo repository.CategoryRepository
	tx   repository.TransactionManager
	log  *zap.Logger
}

func NewCategoryService(db *gorm.DB, log *zap.Logger) CategoryService {
	return &categoryService{
		repo: repository.NewCategoryRepository(db),
		tx:   repository.NewTransactionManager(db),
		log:  log,
	}
}

// ResolveCategory derives the category token from a document name: the part of
// the base name after the first underscore, extension stripped, upper-cased.
// Names without a usable token resolve to the default category.
func ResolveCategory(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	_, token, found := strings.Cut(stem, "_")
	if !found {
		return model.DefaultCategory
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.DefaultCategory
	}
	return strings.ToUpper(token)
}

// --- Implementation ---

func (s *categoryService) Lookup(ctx context.Context, name string) (model.CategoryLookup, error) {
	c, err := s.repo.FindActiveByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.CategoryLookup{Found: false, Name: name}, nil
	}
	if err != nil {
		return model.CategoryLookup{}, fmt.Errorf("failed to look up category %q: %w", name, err)
	}
	return model.CategoryLookup{
		Found:            true,
		Name:             c.Name,
		ApprovalCriteria: strings.TrimSpace(c.ApprovalCriteria),
		MaximumAmount:    c.MaximumAmount,
	}, nil
}

func (s *categoryService) CreateCategory(ctx context.Context, req CreateCategoryDTO, actor string) (*model.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	if req.MaximumAmount != nil && req.MaximumAmount.IsNegative() {
		return nil, fmt.Errorf("%w: maximum_amount must not be negative", apperrors.ErrValidation)
	}
	if actor == "" {
		actor = model.ActorSystem
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now().UTC()
	category := &model.Category{
		CategoryFields: model.CategoryFields{
			Name:             name,
			Description:      req.Description,
			ApprovalCriteria: req.ApprovalCriteria,
			Active:           active,
			CreatedBy:        actor,
			UpdatedBy:        actor,
		},
		CreatedOn: now,
		UpdatedOn: now,
	}
	if req.MaximumAmount != nil {
		category.MaximumAmount = decimal.NewNullDecimal(*req.MaximumAmount)
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, findErr := s.repo.FindByName(txCtx, name); findErr == nil {
			return fmt.Errorf("%w: %s", apperrors.ErrCategoryExists, name)
		} else if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check category name: %w", findErr)
		}
		if createErr := s.repo.Create(txCtx, category); errors.Is(createErr, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", apperrors.ErrCategoryExists, name)
		} else if createErr != nil {
			return fmt.Errorf("failed to create category: %w", createErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("category created", zap.String("category", category.Name), zap.String("actor", actor))
	return category, nil
}

func (s *categoryService) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	categoryID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid category id", apperrors.ErrValidation)
	}
	c, err := s.repo.FindByID(ctx, categoryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch category: %w", err)
	}
	return c, nil
}

func (s *categoryService) ListCategories(ctx context.Context, activeOnly bool, page pagination.Params) ([]model.Category, int64, error) {
	items, total, err := s.repo.List(ctx, activeOnly, page.Offset, page.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list categories: %w", err)
	}
	return items, total, nil
}

// UpdateCategory applies an administrative edit and records the previous state.
func (s *categoryService) UpdateCategory(ctx context.Context, id string, req UpdateCategoryDTO, actor string) (*model.Category, error) {
	categoryID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid category id", apperrors.ErrValidation)
	}
	if req.MaximumAmount != nil && req.MaximumAmount.IsNegative() {
		return nil, fmt.Errorf("%w: maximum_amount must not be negative", apperrors.ErrValidation)
	}
	if actor == "" {
		actor = model.ActorSystem
	}

	var updated *model.Category
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		current, findErr := s.repo.FindByIDForUpdate(txCtx, categoryID)
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		if findErr != nil {
			return fmt.Errorf("failed to fetch category: %w", findErr)
		}

		now := time.Now().UTC()
		if now.Before(current.UpdatedOn) {
			now = current.UpdatedOn
		}
		history := model.CategoryHistory{
			CategoryID:     current.ID,
			CategoryFields: current.CategoryFields,
			Comments:       req.Comments,
			CreatedOn:      now,
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return fmt.Errorf("%w: name is required", apperrors.ErrValidation)
			}
			if !strings.EqualFold(name, current.Name) {
				if _, dupErr := s.repo.FindByName(txCtx, name); dupErr == nil {
					return fmt.Errorf("%w: %s", apperrors.ErrCategoryExists, name)
				} else if !errors.Is(dupErr, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to check category name: %w", dupErr)
				}
			}
			current.Name = name
		}
		if req.Description != nil {
			current.Description = *req.Description
		}
		if req.ApprovalCriteria != nil {
			current.ApprovalCriteria = *req.ApprovalCriteria
		}
		if req.ClearMaximum {
			current.MaximumAmount = decimal.NullDecimal{}
		} else if req.MaximumAmount != nil {
			current.MaximumAmount = decimal.NewNullDecimal(*req.MaximumAmount)
		}
		if req.Active != nil {
			current.Active = *req.Active
		}
		current.UpdatedBy = actor
		current.UpdatedOn = now

		if histErr := s.repo.AppendHistory(txCtx, &history); histErr != nil {
			return fmt.Errorf("failed to write category history: %w", histErr)
		}
		if saveErr := s.repo.Update(txCtx, current); errors.Is(saveErr, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", apperrors.ErrCategoryExists, current.Name)
		} else if saveErr != nil {
			return fmt.Errorf("failed to update category: %w", saveErr)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("category updated", zap.String("category", updated.Name), zap.String("actor", actor))
	return updated, nil
}

func (s *categoryService) GetCategoryHistory(ctx context.Context, id string) ([]model.CategoryHistory, error) {
	c, err := s.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.History(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch category history: %w", err)
	}
	return rows, nil
}

// Seed creates the given categories, skipping names that already exist.
func (s *categoryService) Seed(ctx context.Context, seeds []database.SeedCategory) (int, error) {
	created := 0
	for _, seed := range seeds {
		req := CreateCategoryDTO{
			Name:             seed.Name,
			Description:      seed.Description,
			ApprovalCriteria: seed.ApprovalCriteria,
			Active:           seed.Active,
		}
		if seed.MaximumAmount != nil {
			amount, err := decimal.NewFromString(*seed.MaximumAmount)
			if err != nil {
				return created, fmt.Errorf("%w: seed %q maximum_amount", apperrors.ErrValidation, seed.Name)
			}
			req.MaximumAmount = &amount
		}

		if _, err := s.CreateCategory(ctx, req, model.ActorSystem); err != nil {
			if errors.Is(err, apperrors.ErrCategoryExists) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}
