package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"invoiceflow/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingChannel struct {
	fails int32
	calls int32
	last  Message
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	n := atomic.AddInt32(&c.calls, 1)
	c.last = msg
	if n <= c.fails {
		return errors.New("channel down")
	}
	return nil
}

func pendingRequest(file string) *model.Request {
	now := time.Now().UTC()
	return &model.Request{
		ID: uuid.New(),
		RequestFields: model.RequestFields{
			TotalAmount:   decimal.NewFromInt(2500),
			InvoiceNumber: "INV-42",
			InvoiceDate:   "2024-03-01",
			CategoryName:  "TRAVEL",
			CurrentStatus: model.StatusPending,
		},
		FileName:  file,
		CreatedOn: now,
		UpdatedOn: now,
	}
}

func invoiceWithItems(n int) model.InvoiceData {
	inv := model.InvoiceData{InvoiceNumber: "INV-42", InvoiceDate: "2024-03-01", TotalAmount: decimal.NewFromInt(2500)}
	for i := 0; i < n; i++ {
		inv.Items = append(inv.Items, model.LineItem{Name: fmt.Sprintf("item-%d", i), Price: decimal.NewFromInt(10)})
	}
	return inv
}

func TestSummarizeItems_Truncates(t *testing.T) {
	inv := invoiceWithItems(8)

	lines := SummarizeItems(inv.Items)

	require.Len(t, lines, MaxListedItems+1)
	assert.Equal(t, "1. item-0: 10.00", lines[0])
	assert.Equal(t, "... and 3 more items", lines[MaxListedItems])
}

func TestSummarizeItems_Short(t *testing.T) {
	assert.Len(t, SummarizeItems(invoiceWithItems(5).Items), 5)
	assert.Empty(t, SummarizeItems(nil))
}

func TestCallbackLinks_EscapesFileName(t *testing.T) {
	d := NewDispatcher(nil, "https://approvals.example.com", 0, zap.NewNop())

	links := d.CallbackLinks("GBS 09500_TRAVEL.pdf")

	assert.Equal(t, "https://approvals.example.com/api/invoice/approve/GBS%2009500_TRAVEL.pdf", links.Approve)
	assert.Equal(t, "https://approvals.example.com/api/invoice/reject/GBS%2009500_TRAVEL.pdf", links.Reject)
	assert.Equal(t, "https://approvals.example.com/api/invoice/view/GBS%2009500_TRAVEL.pdf", links.View)
}

func TestNotifyPending_RetriesOnce(t *testing.T) {
	ch := &recordingChannel{fails: 1}
	d := NewDispatcher(ch, "http://localhost:8080", time.Second, zap.NewNop())

	err := d.NotifyPending(context.Background(), pendingRequest("A_TRAVEL.pdf"), invoiceWithItems(2), []string{"total amount (2500.00) >= 2000.00"})

	require.NoError(t, err)
	assert.EqualValues(t, 2, ch.calls)
	assert.Equal(t, KindPending, ch.last.Kind)
	assert.Equal(t, "2500.00", ch.last.TotalAmount)
	assert.Equal(t, 2, ch.last.ItemCount)
}

func TestNotifyPending_GivesUpAfterSecondFailure(t *testing.T) {
	ch := &recordingChannel{fails: 5}
	d := NewDispatcher(ch, "http://localhost:8080", time.Second, zap.NewNop())

	err := d.NotifyPending(context.Background(), pendingRequest("A_TRAVEL.pdf"), invoiceWithItems(1), nil)

	require.Error(t, err)
	assert.EqualValues(t, 2, ch.calls)
}

func TestNotifyDecision_IncludesElapsed(t *testing.T) {
	ch := &recordingChannel{}
	d := NewDispatcher(ch, "http://localhost:8080", time.Second, zap.NewNop())
	req := pendingRequest("A_TRAVEL.pdf")
	req.CurrentStatus = model.StatusApproved
	req.UpdatedBy = model.ActorManual
	req.UpdatedOn = req.CreatedOn.Add(2*time.Hour + 5*time.Minute)

	require.NoError(t, d.NotifyDecision(context.Background(), req))

	assert.Equal(t, KindDecision, ch.last.Kind)
	assert.Equal(t, "2 hours 5 minutes", ch.last.Elapsed)
	assert.Empty(t, ch.last.Links.Approve)
	assert.NotEmpty(t, ch.last.Links.View)
}

func TestFormatElapsed_SubSecond(t *testing.T) {
	assert.Equal(t, "less than a second", FormatElapsed(300*time.Millisecond))
}

func TestTeams_PostsAdaptiveCard(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(NewTeams(srv.URL, srv.Client()), "http://localhost:8080", time.Second, zap.NewNop())
	require.NoError(t, d.NotifyPending(context.Background(), pendingRequest("A_TRAVEL.pdf"), invoiceWithItems(7), []string{"item count (7) >= 5"}))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "message", payload["type"])
	raw := string(body)
	assert.Contains(t, raw, "AdaptiveCard")
	assert.Contains(t, raw, "/api/invoice/approve/A_TRAVEL.pdf")
	assert.Contains(t, raw, "... and 2 more items")
	assert.Contains(t, raw, "item count (7) \\u003e= 5")
}

func TestTeams_NonSuccessStatusIsError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad card", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(NewTeams(srv.URL, srv.Client()), "http://localhost:8080", time.Second, zap.NewNop())
	err := d.NotifyPending(context.Background(), pendingRequest("A_TRAVEL.pdf"), invoiceWithItems(1), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRenderText(t *testing.T) {
	d := NewDispatcher(nil, "http://localhost:8080", 0, zap.NewNop())
	req := pendingRequest("A_TRAVEL.pdf")
	msg := Message{
		Kind:          KindPending,
		Title:         "Invoice Pending Approval",
		FileName:      req.FileName,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   req.InvoiceDate,
		Category:      req.CategoryName,
		TotalAmount:   "2500.00",
		ItemCount:     1,
		Items:         []string{"1. Hotel: 2500.00"},
		Reasons:       []string{"total amount (2500.00) >= 2000.00"},
		Links:         d.CallbackLinks(req.FileName),
	}

	text := RenderText(msg)

	assert.True(t, strings.HasPrefix(text, "Invoice Pending Approval"))
	assert.Contains(t, text, "Category: TRAVEL")
	assert.Contains(t, text, "  1. Hotel: 2500.00")
	assert.Contains(t, text, "• total amount (2500.00) >= 2000.00")
}

func TestNopChannel(t *testing.T) {
	d := NewDispatcher(nil, "", 0, zap.NewNop())
	assert.Equal(t, "none", d.ChannelName())
	assert.NoError(t, d.NotifyDecision(context.Background(), pendingRequest("x.pdf")))
}
