package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"invoiceflow/internal/config"
	"invoiceflow/internal/evaluator"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/filestate"
	"invoiceflow/internal/idempotency"
	"invoiceflow/internal/model"
	"invoiceflow/internal/service"
	"invoiceflow/internal/testutil"
	"invoiceflow/pkg/apperrors"
	"invoiceflow/pkg/pagination"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	mu       sync.Mutex
	invoices map[string]model.InvoiceData
	broken   map[string]bool
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, doc extraction.Document) (model.InvoiceData, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[doc.Name] {
		return model.InvoiceData{}, &extraction.Error{File: doc.Name, Reason: "unsupported document"}
	}
	if inv, ok := f.invoices[doc.Name]; ok {
		return inv, nil
	}
	return model.InvoiceData{InvoiceNumber: "INV-" + doc.Name, TotalAmount: decimal.NewFromInt(100)}, nil
}

func (f *fakeExtractor) fix(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.broken, name)
}

type pendingRecorder struct {
	mu    sync.Mutex
	files []string
}

func (r *pendingRecorder) NotifyPending(_ context.Context, req *model.Request, _ model.InvoiceData, _ []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, req.FileName)
	return nil
}

type fixture struct {
	pipeline  *Pipeline
	files     *filestate.Machine
	requests  service.RequestService
	extractor *fakeExtractor
	notifier  *pendingRecorder
	markers   *idempotency.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()
	db := testutil.NewDB(t)

	base := "mem://localhost/pipeline/" + strings.ReplaceAll(t.Name(), "/", "_")
	files, err := filestate.New(ctx, afs.New(), config.Folders{
		Incoming: base + "/Incoming",
		Approved: base + "/Approved",
		Pending:  base + "/Pending",
		Rejected: base + "/Rejected",
		Failed:   base + "/Failed",
	}, log)
	require.NoError(t, err)

	categories := service.NewCategoryService(db, log)
	_, err = categories.CreateCategory(ctx, service.CreateCategoryDTO{Name: "TRAVEL"}, "")
	require.NoError(t, err)

	requests := service.NewRequestService(db, log, nil)
	extractor := &fakeExtractor{invoices: map[string]model.InvoiceData{}, broken: map[string]bool{}}
	notifier := &pendingRecorder{}
	markers := idempotency.NewMemory()

	p := New(Deps{
		Files:      files,
		Extractor:  extractor,
		Categories: categories,
		Evaluator:  evaluator.New(evaluator.RuleStrategy{}, evaluator.Options{}, log),
		Requests:   requests,
		Notifier:   notifier,
		Markers:    markers,
	}, config.Pipeline{Workers: 2, QueueSize: 4, Extensions: []string{".pdf", ".png"}}, log)

	return fixture{pipeline: p, files: files, requests: requests, extractor: extractor, notifier: notifier, markers: markers}
}

func (f fixture) drop(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, f.files.Upload(context.Background(), filestate.Incoming, name, bytes.NewReader([]byte("%PDF-1.4\n"))))
}

func (f fixture) count(t *testing.T) int64 {
	t.Helper()
	_, total, err := f.requests.ListRequests(context.Background(), service.RequestFilter{Page: pagination.New(1, 100)})
	require.NoError(t, err)
	return total
}

func TestProcess_DuplicateNotificationsCreateOneRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.extractor.delay = 20 * time.Millisecond
	name := "GBS09500_TRAVEL.pdf"
	f.drop(t, name)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.pipeline.Process(ctx, name))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.count(t))
	assert.EqualValues(t, 1, f.extractor.calls.Load())
	assert.EqualValues(t, 7, f.pipeline.Status(ctx).Duplicates)

	loc, err := f.files.Locate(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, filestate.Approved, loc)

	// a late notification after the file has moved is still a no-op
	require.NoError(t, f.pipeline.Process(ctx, name))
	assert.EqualValues(t, 1, f.count(t))
}

func TestProcess_Decisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.extractor.invoices["B_TRAVEL.pdf"] = model.InvoiceData{InvoiceNumber: "INV-B", TotalAmount: decimal.NewFromInt(3000)}
	f.extractor.invoices["C_GOLF.pdf"] = model.InvoiceData{InvoiceNumber: "INV-C", TotalAmount: decimal.NewFromInt(10)}

	cases := []struct {
		name   string
		status string
		loc    filestate.Location
	}{
		{"A_TRAVEL.pdf", model.StatusApproved, filestate.Approved},
		{"B_TRAVEL.pdf", model.StatusPending, filestate.Pending},
		{"C_GOLF.pdf", model.StatusRejected, filestate.Rejected},
	}
	for _, tc := range cases {
		f.drop(t, tc.name)
		require.NoError(t, f.pipeline.Process(ctx, tc.name))

		req, err := f.requests.GetRequestByFileName(ctx, tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.status, req.CurrentStatus, tc.name)
		assert.Equal(t, model.ApprovalTypeAuto, req.ApprovalType, tc.name)
		assert.Equal(t, model.ActorPipeline, req.CreatedBy, tc.name)

		loc, err := f.files.Locate(ctx, tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.loc, loc, tc.name)

		sidecar, err := f.files.ReadArtifacts(ctx, tc.loc, tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, req.ID.String(), sidecar.RequestID)
		assert.Equal(t, tc.status, sidecar.Approval.Status)
	}

	golf, err := f.requests.GetRequestByFileName(ctx, "C_GOLF.pdf")
	require.NoError(t, err)
	assert.Equal(t, "GOLF", golf.CategoryName)
	assert.Equal(t, evaluator.ReasonCategoryNotRecognized, golf.Comments)

	assert.Equal(t, []string{"B_TRAVEL.pdf"}, f.notifier.files)
}

func TestProcess_ExtractionFailureParksFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	name := "broken_TRAVEL.pdf"
	f.extractor.broken[name] = true
	f.drop(t, name)

	err := f.pipeline.Process(ctx, name)
	var xerr *extraction.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, name, xerr.File)

	assert.EqualValues(t, 0, f.count(t))
	loc, err := f.files.Locate(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, filestate.Failed, loc)

	_, claimed, err := f.markers.State(ctx, f.pipeline.markerKey(name))
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.EqualValues(t, 1, f.pipeline.Status(ctx).Failed)
}

func TestReprocess_RecoversFailedFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	name := "retry_TRAVEL.pdf"
	f.extractor.broken[name] = true
	f.drop(t, name)
	require.Error(t, f.pipeline.Process(ctx, name))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.pipeline.pool.Run(ctx)
	}()

	f.extractor.fix(name)
	require.NoError(t, f.pipeline.Reprocess(ctx, name))

	assert.Eventually(t, func() bool {
		_, err := f.requests.GetRequestByFileName(ctx, name)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	err := f.pipeline.Reprocess(ctx, name)
	assert.ErrorIs(t, err, apperrors.ErrRequestExists)

	cancel()
	<-done
}

func TestRun_ScansIncoming(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)
	for _, name := range []string{"1_TRAVEL.pdf", "2_TRAVEL.png", "3_TRAVEL.pdf", "notes.txt"} {
		f.drop(t, name)
	}

	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, total, err := f.requests.ListRequests(context.Background(), service.RequestFilter{Page: pagination.New(1, 100)})
		return err == nil && total == 3
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	names, err := f.files.List(context.Background(), filestate.Incoming)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, names)
}

func TestPool_Backpressure(t *testing.T) {
	release := make(chan struct{})
	var handled atomic.Int32
	pool := NewPool(1, 1, func(ctx context.Context, name string) error {
		<-release
		handled.Add(1)
		return errors.New("ignored")
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	require.NoError(t, pool.Submit(ctx, "a"))
	assert.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.TrySubmit("b"))
	assert.ErrorIs(t, pool.TrySubmit("c"), ErrQueueFull)

	short, stop := context.WithTimeout(ctx, 30*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, pool.Submit(short, "c"), context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool {
		return handled.Load() == 2 && pool.Stats() == PoolStats{Workers: 1, Capacity: 1}
	}, time.Second, 5*time.Millisecond)
}

func TestPool_RecoversFromPanic(t *testing.T) {
	var handled atomic.Int32
	pool := NewPool(1, 2, func(ctx context.Context, name string) error {
		handled.Add(1)
		if name == "boom" {
			panic("bad document")
		}
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	require.NoError(t, pool.Submit(ctx, "boom"))
	require.NoError(t, pool.Submit(ctx, "fine"))
	assert.Eventually(t, func() bool { return handled.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_Accepts(t *testing.T) {
	w := NewWatcher("/tmp", []string{"pdf", ".PNG", " "}, 0, nil, zap.NewNop())
	assert.True(t, w.Accepts("a.pdf"))
	assert.True(t, w.Accepts("a.png"))
	assert.True(t, w.Accepts("A.PDF"))
	assert.False(t, w.Accepts("a.txt"))
	assert.False(t, w.Accepts("a_output.json"))
}
