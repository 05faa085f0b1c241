package service

import (
	"context"
	"fmt"

	"invoiceflow/internal/model"
	"invoiceflow/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// GetInsights aggregates requests created within the optional date window.
func (s *requestService) GetInsights(ctx context.Context, filter InsightsFilter) (model.Insights, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return model.Insights{}, fmt.Errorf("%w: end_date before start_date", apperrors.ErrValidation)
	}

	out := model.Insights{
		ByStatus: map[string]int64{
			model.StatusPending:  0,
			model.StatusApproved: 0,
			model.StatusRejected: 0,
		},
		AmountByStatus: map[string]decimal.Decimal{
			model.StatusPending:  decimal.Zero,
			model.StatusApproved: decimal.Zero,
			model.StatusRejected: decimal.Zero,
		},
		PendingAmount: decimal.Zero,
		StartDate:     filter.StartDate,
		EndDate:       filter.EndDate,
	}

	statuses, err := s.insights.ByStatus(ctx, filter.StartDate, filter.EndDate)
	if err != nil {
		return model.Insights{}, err
	}
	for _, row := range statuses {
		out.ByStatus[row.CurrentStatus] = row.Count
		out.AmountByStatus[row.CurrentStatus] = row.TotalAmount
		out.Total += row.Count
	}
	out.PendingAmount = out.AmountByStatus[model.StatusPending]

	categories, err := s.insights.ByCategory(ctx, filter.StartDate, filter.EndDate)
	if err != nil {
		return model.Insights{}, err
	}
	out.ByCategory = categories

	types, err := s.insights.ByApprovalType(ctx, filter.StartDate, filter.EndDate)
	if err != nil {
		return model.Insights{}, err
	}
	out.AutoCount = types[model.ApprovalTypeAuto]
	out.ManualCount = types[model.ApprovalTypeManual]

	return out, nil
}
