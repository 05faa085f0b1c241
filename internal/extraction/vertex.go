package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"invoiceflow/internal/model"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/shopspring/decimal"
)

// DocumentModel sends a document to a multimodal model and returns its text answer.
type DocumentModel interface {
	ExtractDocument(ctx context.Context, mimeType string, data []byte) (string, error)
}

// VertexExtractor validates the document locally and asks a multimodal model for the fields.
type VertexExtractor struct {
	model    DocumentModel
	maxPages int
}

func NewVertexExtractor(m DocumentModel, maxPages int) *VertexExtractor {
	if maxPages <= 0 {
		maxPages = 20
	}
	return &VertexExtractor{model: m, maxPages: maxPages}
}

type rawItem struct {
	Name  string      `json:"item_name"`
	Price interface{} `json:"item_price"`
}

type rawInvoice struct {
	InvoiceNumber string      `json:"invoice_number"`
	InvoiceDate   string      `json:"invoice_date"`
	TotalPrice    interface{} `json:"total_price"`
	Currency      string      `json:"currency"`
	Vendor        string      `json:"vendor"`
	Items         []rawItem   `json:"items"`
}

func (x *VertexExtractor) Extract(ctx context.Context, doc Document) (model.InvoiceData, error) {
	if doc.MIMEType == "" {
		doc.MIMEType = DetectMIME(doc.Data)
	}
	if len(doc.Data) == 0 {
		return model.InvoiceData{}, &Error{File: doc.Name, Reason: "empty document"}
	}
	if !Supported(doc.MIMEType) {
		return model.InvoiceData{}, &Error{File: doc.Name, Reason: "unsupported content type " + doc.MIMEType}
	}
	if doc.MIMEType == MIMEPDF {
		if err := x.validatePDF(doc.Data); err != nil {
			return model.InvoiceData{}, &Error{File: doc.Name, Reason: "invalid pdf", Err: err}
		}
	}

	text, err := x.model.ExtractDocument(ctx, doc.MIMEType, doc.Data)
	if err != nil {
		return model.InvoiceData{}, &Error{File: doc.Name, Reason: "model call failed", Err: err}
	}

	data, err := ParseInvoiceJSON(text)
	if err != nil {
		return model.InvoiceData{}, &Error{File: doc.Name, Reason: "unparsable model output", Err: err}
	}
	return data, nil
}

func (x *VertexExtractor) validatePDF(data []byte) error {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return err
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return err
	}
	if pages > x.maxPages {
		return fmt.Errorf("document has %d pages, limit is %d", pages, x.maxPages)
	}
	return nil
}

// ParseInvoiceJSON decodes the model's answer into InvoiceData.
func ParseInvoiceJSON(text string) (model.InvoiceData, error) {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '{'); i > 0 {
		text = text[i:]
	}
	if i := strings.LastIndexByte(text, '}'); i >= 0 && i < len(text)-1 {
		text = text[:i+1]
	}

	var raw rawInvoice
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return model.InvoiceData{}, err
	}

	out := model.InvoiceData{
		InvoiceNumber: strings.TrimSpace(raw.InvoiceNumber),
		InvoiceDate:   strings.TrimSpace(raw.InvoiceDate),
		TotalAmount:   ParseAmount(raw.TotalPrice),
		Currency:      raw.Currency,
		Vendor:        raw.Vendor,
		Items:         make([]model.LineItem, 0, len(raw.Items)),
	}
	for _, it := range raw.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		out.Items = append(out.Items, model.LineItem{Name: name, Price: ParseAmount(it.Price)})
	}
	return out, nil
}

var amountPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseAmount reads a monetary value printed in any common style. Unreadable
// values become zero.
func ParseAmount(v interface{}) decimal.Decimal {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		return parseAmountString(t)
	}
	return decimal.Zero
}

func parseAmountString(s string) decimal.Decimal {
	cleaned := strings.NewReplacer("₹", "", "$", "", "€", "", "£", "", " ", "").Replace(strings.TrimSpace(s))
	switch {
	case strings.Contains(cleaned, ",") && strings.Contains(cleaned, "."):
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case strings.Contains(cleaned, ","):
		parts := strings.Split(cleaned, ",")
		cleaned = parts[0] + "." + strings.Join(parts[1:], "")
	}
	m := amountPattern.FindString(cleaned)
	if m == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero
	}
	return d
}
