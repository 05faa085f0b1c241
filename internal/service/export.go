package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Requests"

var exportHeaders = []interface{}{
	"ID", "File", "Invoice Number", "Invoice Date", "Category", "Total Amount",
	"Status", "Approval Type", "Comments", "User", "Created On", "Updated On", "Updated By",
}

// ExportRequests writes every request matching filter (pagination ignored) as an xlsx workbook.
func (s *requestService) ExportRequests(ctx context.Context, filter RequestFilter, w io.Writer) error {
	q, err := toQuery(filter)
	if err != nil {
		return err
	}
	requests, err := s.repo.ListAll(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to load requests for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range requests {
		amount, _ := r.TotalAmount.Float64()
		row := []interface{}{
			r.ID.String(),
			r.FileName,
			r.InvoiceNumber,
			r.InvoiceDate,
			r.CategoryName,
			amount,
			r.CurrentStatus,
			r.ApprovalType,
			r.Comments,
			r.UserID,
			r.CreatedOn.Format(time.RFC3339),
			r.UpdatedOn.Format(time.RFC3339),
			r.UpdatedBy,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "M", 20); err != nil {
		return err
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
