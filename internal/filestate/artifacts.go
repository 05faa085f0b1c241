package filestate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"invoiceflow/internal/model"

	"github.com/xuri/excelize/v2"
)

// Derived artifact suffixes, appended to the document stem.
const (
	JSONSuffix = "_output.json"
	XLSXSuffix = "_output.xlsx"
)

// Approval is the decision block of a sidecar.
type Approval struct {
	Status    string   `json:"status"`
	Reasons   []string `json:"reasons"`
	Category  string   `json:"category"`
	Strategy  string   `json:"strategy,omitempty"`
	ItemCount int      `json:"item_count"`
}

// Artifacts is the content of the JSON sidecar written next to a processed document.
type Artifacts struct {
	FileName    string            `json:"file_name"`
	RequestID   string            `json:"request_id,omitempty"`
	Invoice     model.InvoiceData `json:"invoice"`
	Approval    Approval          `json:"approval"`
	ProcessedBy string            `json:"processed_by"`
	ProcessedAt time.Time         `json:"processed_at"`
	DecidedBy   string            `json:"decided_by,omitempty"`
	DecidedAt   *time.Time        `json:"decided_at,omitempty"`
}

// WriteArtifacts writes the JSON and xlsx sidecars for fileName into loc.
func (m *Machine) WriteArtifacts(ctx context.Context, loc Location, fileName string, a Artifacts) error {
	names := ArtifactNames(fileName)

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	if err := m.upload(ctx, loc, names[0], data); err != nil {
		return fmt.Errorf("failed to write %s: %w", names[0], err)
	}

	book, err := renderWorkbook(a)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", names[1], err)
	}
	if err := m.upload(ctx, loc, names[1], book); err != nil {
		return fmt.Errorf("failed to write %s: %w", names[1], err)
	}
	return nil
}

// ReadArtifacts loads the JSON sidecar of fileName from loc.
func (m *Machine) ReadArtifacts(ctx context.Context, loc Location, fileName string) (Artifacts, error) {
	var a Artifacts
	data, err := m.Download(ctx, loc, ArtifactNames(fileName)[0])
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to decode sidecar: %w", err)
	}
	return a, nil
}

// Annotate records a manual decision in the sidecars of fileName.
func (m *Machine) Annotate(ctx context.Context, loc Location, fileName, status, actor string) error {
	a, err := m.ReadArtifacts(ctx, loc, fileName)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	a.Approval.Status = status
	a.DecidedBy = actor
	a.DecidedAt = &now
	return m.WriteArtifacts(ctx, loc, fileName, a)
}

func renderWorkbook(a Artifacts) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summary, items = "Summary", "Items"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(items); err != nil {
		return nil, err
	}

	rows := [][]interface{}{
		{"Field", "Value"},
		{"Invoice Number", a.Invoice.InvoiceNumber},
		{"Invoice Date", a.Invoice.InvoiceDate},
		{"Total Price", a.Invoice.TotalAmount.StringFixed(2)},
		{"Processing Date", a.ProcessedAt.Format("2006-01-02 15:04:05")},
		{"Processed By", a.ProcessedBy},
		{"Category", a.Approval.Category},
		{"Approval Status", a.Approval.Status},
		{"Item Count", a.Approval.ItemCount},
		{"Approval Notes", strings.Join(a.Approval.Reasons, "; ")},
	}
	if a.DecidedBy != "" && a.DecidedAt != nil {
		rows = append(rows,
			[]interface{}{"Decided By", a.DecidedBy},
			[]interface{}{"Decided At", a.DecidedAt.Format("2006-01-02 15:04:05")},
		)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow(summary, cell, &r); err != nil {
			return nil, err
		}
	}

	header := []interface{}{"item_name", "item_price"}
	if err := f.SetSheetRow(items, "A1", &header); err != nil {
		return nil, err
	}
	for i, it := range a.Invoice.Items {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{it.Name, it.Price.StringFixed(2)}
		if err := f.SetSheetRow(items, cell, &row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(summary, "A", "B", 30)
	_ = f.SetColWidth(items, "A", "B", 30)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
