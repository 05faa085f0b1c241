package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Insights aggregates request counts and amounts. Values in ByStatus always sum to Total.
type Insights struct {
	Total          int64                      `json:"total"`
	ByStatus       map[string]int64           `json:"by_status"`
	ByCategory     []CategoryCount            `json:"by_category"`
	AmountByStatus map[string]decimal.Decimal `json:"amount_by_status"`
	PendingAmount  decimal.Decimal            `json:"pending_amount"`
	AutoCount      int64                      `json:"auto_count"`
	ManualCount    int64                      `json:"manual_count"`
	StartDate      *time.Time                 `json:"start_date,omitempty"`
	EndDate        *time.Time                 `json:"end_date,omitempty"`
}

// CategoryCount is one row of the per-category breakdown
type CategoryCount struct {
	CategoryName string          `json:"category_name"`
	Count        int64           `json:"count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// StatusAggregate is a raw per-status row scanned from the store.
type StatusAggregate struct {
	CurrentStatus string
	Count         int64
	TotalAmount   decimal.Decimal
}
