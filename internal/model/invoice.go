package model

import (
	"github.com/shopspring/decimal"
)

// LineItem is one extracted invoice line.
type LineItem struct {
	Name  string          `json:"item_name"`
	Price decimal.Decimal `json:"item_price"`
}

// InvoiceData is the structured output of document extraction.
type InvoiceData struct {
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"`
	TotalAmount   decimal.Decimal `json:"total_price"`
	Currency      string          `json:"currency,omitempty"`
	Vendor        string          `json:"vendor,omitempty"`
	Items         []LineItem      `json:"items"`
}

// ItemCount returns the number of extracted line items.
func (d InvoiceData) ItemCount() int {
	return len(d.Items)
}
