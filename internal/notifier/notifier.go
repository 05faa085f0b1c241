package notifier

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"invoiceflow/internal/model"

	"github.com/hako/durafmt"
	"go.uber.org/zap"
)

// Message kinds
const (
	KindPending  = "pending"
	KindDecision = "decision"
)

// MaxListedItems is how many line items a summary shows before truncating.
const MaxListedItems = 5

// Links are the callback URLs attached to a pending notification.
type Links struct {
	Approve string `json:"approve"`
	Reject  string `json:"reject"`
	View    string `json:"view"`
}

// Message is the channel-neutral notification payload.
type Message struct {
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	RequestID     string   `json:"request_id"`
	FileName      string   `json:"file_name"`
	InvoiceNumber string   `json:"invoice_number"`
	InvoiceDate   string   `json:"invoice_date"`
	Category      string   `json:"category"`
	TotalAmount   string   `json:"total_amount"`
	ItemCount     int      `json:"item_count"`
	Items         []string `json:"items,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
	Status        string   `json:"status,omitempty"`
	DecidedBy     string   `json:"decided_by,omitempty"`
	Elapsed       string   `json:"elapsed,omitempty"`
	Links         Links    `json:"links"`
}

// Channel delivers a message to humans.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Dispatcher builds notifications and hands them to the configured channel.
// Delivery is retried once; failures are logged and returned but never undo anything upstream.
type Dispatcher struct {
	channel Channel
	baseURL string
	timeout time.Duration
	log     *zap.Logger
}

func NewDispatcher(channel Channel, baseURL string, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if channel == nil {
		channel = Nop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{channel: channel, baseURL: baseURL, timeout: timeout, log: log}
}

// ChannelName reports the active channel.
func (d *Dispatcher) ChannelName() string {
	return d.channel.Name()
}

// CallbackLinks builds the approve/reject/view URLs for a document.
func (d *Dispatcher) CallbackLinks(fileName string) Links {
	escaped := url.PathEscape(fileName)
	return Links{
		Approve: d.baseURL + "/api/invoice/approve/" + escaped,
		Reject:  d.baseURL + "/api/invoice/reject/" + escaped,
		View:    d.baseURL + "/api/invoice/view/" + escaped,
	}
}

// NotifyPending alerts reviewers that a request needs a manual decision.
func (d *Dispatcher) NotifyPending(ctx context.Context, req *model.Request, invoice model.InvoiceData, reasons []string) error {
	msg := Message{
		Kind:          KindPending,
		Title:         "Invoice Pending Approval",
		RequestID:     req.ID.String(),
		FileName:      req.FileName,
		InvoiceNumber: orNA(invoice.InvoiceNumber),
		InvoiceDate:   orNA(invoice.InvoiceDate),
		Category:      req.CategoryName,
		TotalAmount:   invoice.TotalAmount.StringFixed(2),
		ItemCount:     invoice.ItemCount(),
		Items:         SummarizeItems(invoice.Items),
		Reasons:       reasons,
		Status:        req.CurrentStatus,
		Links:         d.CallbackLinks(req.FileName),
	}
	return d.deliver(ctx, msg)
}

// NotifyDecision confirms a manual decision, including how long it took.
func (d *Dispatcher) NotifyDecision(ctx context.Context, req *model.Request) error {
	msg := Message{
		Kind:          KindDecision,
		Title:         fmt.Sprintf("Invoice %s", req.CurrentStatus),
		RequestID:     req.ID.String(),
		FileName:      req.FileName,
		InvoiceNumber: orNA(req.InvoiceNumber),
		InvoiceDate:   orNA(req.InvoiceDate),
		Category:      req.CategoryName,
		TotalAmount:   req.TotalAmount.StringFixed(2),
		Status:        req.CurrentStatus,
		DecidedBy:     req.UpdatedBy,
		Elapsed:       FormatElapsed(req.UpdatedOn.Sub(req.CreatedOn)),
		Links:         Links{View: d.CallbackLinks(req.FileName).View},
	}
	if req.Comments != "" {
		msg.Reasons = []string{req.Comments}
	}
	return d.deliver(ctx, msg)
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err = d.channel.Send(sendCtx, msg)
		cancel()
		if err == nil {
			d.log.Info("notification sent",
				zap.String("channel", d.channel.Name()),
				zap.String("kind", msg.Kind),
				zap.String("file", msg.FileName),
				zap.String("request_id", msg.RequestID),
			)
			return nil
		}
		d.log.Warn("notification attempt failed",
			zap.String("channel", d.channel.Name()),
			zap.Int("attempt", attempt),
			zap.String("file", msg.FileName),
			zap.String("request_id", msg.RequestID),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	d.log.Error("notification dropped",
		zap.String("channel", d.channel.Name()),
		zap.String("file", msg.FileName),
		zap.String("request_id", msg.RequestID),
		zap.Error(err),
	)
	return fmt.Errorf("notify via %s: %w", d.channel.Name(), err)
}

// SummarizeItems lists the first MaxListedItems items and a trailing count of the rest.
func SummarizeItems(items []model.LineItem) []string {
	var out []string
	for i, it := range items {
		if i == MaxListedItems {
			out = append(out, fmt.Sprintf("... and %d more items", len(items)-MaxListedItems))
			break
		}
		out = append(out, fmt.Sprintf("%d. %s: %s", i+1, it.Name, it.Price.StringFixed(2)))
	}
	return out
}

// FormatElapsed renders a duration with its two most significant units.
func FormatElapsed(d time.Duration) string {
	if d < time.Second {
		return "less than a second"
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Nop discards messages. Used when no channel is configured.
type Nop struct{}

func (Nop) Name() string { return "none" }

func (Nop) Send(context.Context, Message) error { return nil }
