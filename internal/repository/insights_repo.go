package repository

import (
	"context"
	"fmt"
	"time"

	"invoiceflow/internal/model"

	"gorm.io/gorm"
)

type InsightsRepository interface {
	ByStatus(ctx context.Context, start, end *time.Time) ([]model.StatusAggregate, error)
	ByCategory(ctx context.Context, start, end *time.Time) ([]model.CategoryCount, error)
	ByApprovalType(ctx context.Context, start, end *time.Time) (map[string]int64, error)
}

type insightsRepository struct {
	db *gorm.DB
}

func NewInsightsRepository(db *gorm.DB) InsightsRepository {
	return &insightsRepository{db: db}
}

func (r *insightsRepository) scoped(ctx context.Context, start, end *time.Time) *gorm.DB {
	q := GetDB(ctx, r.db).Model(&model.Request{})
	if start != nil {
		q = q.Where("created_on >= ?", *start)
	}
	if end != nil {
		q = q.Where("created_on <= ?", *end)
	}
	return q
}

func (r *insightsRepository) ByStatus(ctx context.Context, start, end *time.Time) ([]model.StatusAggregate, error) {
	var rows []model.StatusAggregate
	if err := r.scoped(ctx, start, end).
		Select("current_status, COUNT(*) as count, COALESCE(SUM(total_amount), 0) as total_amount").
		Group("current_status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	return rows, nil
}

func (r *insightsRepository) ByCategory(ctx context.Context, start, end *time.Time) ([]model.CategoryCount, error) {
	var rows []model.CategoryCount
	if err := r.scoped(ctx, start, end).
		Select("category_name, COUNT(*) as count, COALESCE(SUM(total_amount), 0) as total_amount").
		Group("category_name").
		Order("count DESC, category_name ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate by category: %w", err)
	}
	return rows, nil
}

func (r *insightsRepository) ByApprovalType(ctx context.Context, start, end *time.Time) (map[string]int64, error) {
	var rows []struct {
		ApprovalType string
		Count        int64
	}
	if err := r.scoped(ctx, start, end).
		Select("approval_type, COUNT(*) as count").
		Group("approval_type").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate by approval type: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.ApprovalType] = row.Count
	}
	return out, nil
}
