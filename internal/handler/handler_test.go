package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"invoiceflow/internal/action"
	"invoiceflow/internal/config"
	"invoiceflow/internal/filestate"
	"invoiceflow/internal/model"
	"invoiceflow/internal/pipeline"
	"invoiceflow/internal/service"
	"invoiceflow/internal/testutil"
	"invoiceflow/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"go.uber.org/zap"
)

var testSecret = []byte("test-secret")

type fakePipeline struct {
	mu        sync.Mutex
	enqueued  []string
	reprocess map[string]error
}

func (f *fakePipeline) Accepts(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf") || strings.HasSuffix(strings.ToLower(name), ".png")
}

func (f *fakePipeline) Enqueue(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, name)
	return nil
}

func (f *fakePipeline) Reprocess(_ context.Context, name string) error {
	return f.reprocess[name]
}

func (f *fakePipeline) Status(context.Context) pipeline.Status {
	return pipeline.Status{Strategy: "rule", Pool: pipeline.PoolStats{Workers: 4, Capacity: 32}}
}

type env struct {
	router     *gin.Engine
	requests   service.RequestService
	categories service.CategoryService
	files      *filestate.Machine
	pipe       *fakePipeline
}

func newEnv(t *testing.T) env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	db := testutil.NewDB(t)

	base := "mem://localhost/handler/" + strings.ReplaceAll(t.Name(), "/", "_")
	files, err := filestate.New(context.Background(), afs.New(), config.Folders{
		Incoming: base + "/Incoming",
		Approved: base + "/Approved",
		Pending:  base + "/Pending",
		Rejected: base + "/Rejected",
	}, log)
	require.NoError(t, err)

	requests := service.NewRequestService(db, log, nil)
	categories := service.NewCategoryService(db, log)
	actions := action.NewHandler(requests, files, nil, log)
	pipe := &fakePipeline{reprocess: map[string]error{}}

	router := gin.New()
	NewRequestHandler(requests, actions, testSecret).RegisterRoutes(router.Group(""))
	NewInvoiceHandler(actions, files, pipe, testSecret).RegisterRoutes(router.Group(""))
	NewCategoryHandler(categories, testSecret).RegisterRoutes(router.Group(""))
	NewPipelineHandler(pipe, testSecret).RegisterRoutes(router.Group(""))

	return env{router: router, requests: requests, categories: categories, files: files, pipe: pipe}
}

func token(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "role": "admin"}).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func (e env) do(t *testing.T, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e env) pending(t *testing.T, name string, amount int64) *model.Request {
	t.Helper()
	ctx := context.Background()
	req, err := e.requests.CreateRequest(ctx, service.CreateRequestInput{
		FileName:     name,
		TotalAmount:  decimal.NewFromInt(amount),
		CategoryName: "TRAVEL",
	}, model.StatusPending)
	require.NoError(t, err)
	require.NoError(t, e.files.Upload(ctx, filestate.Pending, name, bytes.NewReader([]byte("%PDF-1.4\n%test"))))
	return req
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestListRequests(t *testing.T) {
	e := newEnv(t)
	e.pending(t, "a_TRAVEL.pdf", 100)
	e.pending(t, "b_TRAVEL.pdf", 200)

	w := e.do(t, http.MethodGet, "/api/requests?status=Pending&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Items []model.Request `json:"items"`
		Total int64           `json:"total"`
		Limit int             `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.EqualValues(t, 2, page.Total)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Limit)
}

func TestListRequests_BadInput(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/requests?status=Maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/requests?start_date=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRequest(t *testing.T) {
	e := newEnv(t)
	req := e.pending(t, "a_TRAVEL.pdf", 100)

	w := e.do(t, http.MethodGet, "/api/requests/"+req.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/requests/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/requests/00000000-0000-0000-0000-000000000001", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	e := newEnv(t)
	req := e.pending(t, "a_TRAVEL.pdf", 100)
	target := "/api/requests/" + req.ID.String() + "/status"
	payload := []byte(`{"status":"Rejected","comments":"duplicate invoice"}`)

	w := e.do(t, http.MethodPatch, target, payload, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	auth := map[string]string{"Authorization": "Bearer " + token(t)}
	w = e.do(t, http.MethodPatch, target, payload, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated model.Request
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &updated))
	assert.Equal(t, model.StatusRejected, updated.CurrentStatus)
	assert.Equal(t, "alice", updated.UpdatedBy)

	loc, err := e.files.Locate(context.Background(), req.FileName)
	require.NoError(t, err)
	assert.Equal(t, filestate.Rejected, loc)

	w = e.do(t, http.MethodPatch, target, []byte(`{"status":"Approved"}`), auth)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/requests/"+req.ID.String()+"/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []model.RequestHistory
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &history))
	assert.Len(t, history, 2)
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	e := newEnv(t)
	req := e.pending(t, "a_TRAVEL.pdf", 100)

	w := e.do(t, http.MethodPatch, "/api/requests/"+req.ID.String()+"/status", []byte(`{"status":"Maybe"}`),
		map[string]string{"Authorization": "Bearer " + token(t)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveCallback_Idempotent(t *testing.T) {
	e := newEnv(t)
	req := e.pending(t, "GBS1_TRAVEL.pdf", 2500)

	w := e.do(t, http.MethodGet, "/api/invoice/approve/GBS1_TRAVEL.pdf", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first action.Result
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &first))
	assert.False(t, first.AlreadyProcessed)
	assert.Equal(t, model.StatusApproved, first.Request.CurrentStatus)

	w = e.do(t, http.MethodPost, "/api/invoice/reject/"+req.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second action.Result
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &second))
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, model.StatusApproved, second.Request.CurrentStatus)

	w = e.do(t, http.MethodGet, "/api/invoice/approve/GBS1_TRAVEL.pdf", nil, map[string]string{"Accept": "text/html"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Already Processed")
}

func TestRejectCallback_StampsManualActor(t *testing.T) {
	e := newEnv(t)
	e.pending(t, "GBS2_TRAVEL.pdf", 2500)

	body := []byte(`{"comments":"duplicate receipt","updated_by":"mallory"}`)
	w := e.do(t, http.MethodPost, "/api/invoice/reject/GBS2_TRAVEL.pdf", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res action.Result
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Equal(t, model.StatusRejected, res.Request.CurrentStatus)
	assert.Equal(t, model.ActorManual, res.Request.UpdatedBy)
	assert.Equal(t, "duplicate receipt", res.Request.Comments)
}

func TestApproveCallback_Unknown(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/invoice/approve/missing.pdf", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViewInvoice(t *testing.T) {
	e := newEnv(t)
	e.pending(t, "a_TRAVEL.pdf", 100)

	w := e.do(t, http.MethodGet, "/api/invoice/view/a_TRAVEL.pdf", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))

	w = e.do(t, http.MethodGet, "/api/invoice/view/nope.pdf", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartBody(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	e := newEnv(t)
	upload := func(name string) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, name, []byte("%PDF-1.4\n"))
		req := httptest.NewRequest(http.MethodPost, "/api/invoice/upload", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer "+token(t))
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		return w
	}

	w := upload("new_TRAVEL.pdf")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []string{"new_TRAVEL.pdf"}, e.pipe.enqueued)

	ok, err := e.files.Exists(context.Background(), filestate.Incoming, "new_TRAVEL.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, http.StatusConflict, upload("new_TRAVEL.pdf").Code)
	assert.Equal(t, http.StatusBadRequest, upload("notes.txt").Code)
	assert.Equal(t, http.StatusBadRequest, upload("x_output.json").Code)
}

func TestInsights(t *testing.T) {
	e := newEnv(t)
	e.pending(t, "a_TRAVEL.pdf", 100)
	e.pending(t, "b_TRAVEL.pdf", 250)

	w := e.do(t, http.MethodGet, "/api/requests/insights/summary", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var insights model.Insights
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &insights))
	assert.EqualValues(t, 2, insights.Total)
	assert.EqualValues(t, 2, insights.ByStatus[model.StatusPending])
	assert.True(t, insights.PendingAmount.Equal(decimal.NewFromInt(350)))
}

func TestExport(t *testing.T) {
	e := newEnv(t)
	e.pending(t, "a_TRAVEL.pdf", 100)

	w := e.do(t, http.MethodGet, "/api/requests/export", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestCategories(t *testing.T) {
	e := newEnv(t)
	auth := map[string]string{"Authorization": "Bearer " + token(t)}

	w := e.do(t, http.MethodPost, "/api/categories", []byte(`{"name":"TRAVEL","maximum_amount":"3000"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/categories", []byte(`{"name":"TRAVEL","maximum_amount":"3000"}`), auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Category
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &created))
	assert.Equal(t, "alice", created.CreatedBy)

	w = e.do(t, http.MethodPost, "/api/categories", []byte(`{"name":"travel"}`), auth)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPatch, "/api/categories/"+created.ID.String(), []byte(`{"active":false,"comments":"retired"}`), auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/categories/"+created.ID.String()+"/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []model.CategoryHistory
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &history))
	require.Len(t, history, 1)
	assert.True(t, history[0].Active)
	assert.Equal(t, "retired", history[0].Comments)

	w = e.do(t, http.MethodGet, "/api/categories?active=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.EqualValues(t, 0, page.Total)
}

func TestPipelineEndpoints(t *testing.T) {
	e := newEnv(t)
	e.pipe.reprocess["done.pdf"] = apperrors.ErrRequestExists
	auth := map[string]string{"Authorization": "Bearer " + token(t)}

	w := e.do(t, http.MethodGet, "/api/pipeline/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st pipeline.Status
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &st))
	assert.Equal(t, 4, st.Pool.Workers)

	assert.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/api/pipeline/reprocess/new.pdf", nil, auth).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/api/pipeline/reprocess/done.pdf", nil, auth).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(apperrors.ErrFileNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(filestate.ErrInvalidMove))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(pipeline.ErrQueueFull))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
