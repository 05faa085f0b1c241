package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"invoiceflow/internal/action"
	"invoiceflow/internal/middleware"
	"invoiceflow/internal/model"
	"invoiceflow/internal/service"
	"invoiceflow/pkg/pagination"
	"invoiceflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type RequestHandler struct {
	requests service.RequestService
	actions  *action.Handler
	secret   []byte
}

func NewRequestHandler(requests service.RequestService, actions *action.Handler, secret []byte) *RequestHandler {
	return &RequestHandler{requests: requests, actions: actions, secret: secret}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		requests.GET("", h.ListRequests)
		requests.GET("/export", h.ExportRequests)
		requests.GET("/insights/summary", h.GetInsights)
		requests.GET("/:id", h.GetRequest)
		requests.GET("/:id/history", h.GetHistory)
		requests.PATCH("/:id/status", middleware.RequireAuth(h.secret), h.UpdateStatus)
	}
}

func (h *RequestHandler) filter(c *gin.Context) (service.RequestFilter, bool) {
	start, end, ok := dateRange(c)
	if !ok {
		return service.RequestFilter{}, false
	}
	return service.RequestFilter{
		Status:    c.Query("status"),
		Category:  c.Query("category"),
		StartDate: start,
		EndDate:   end,
		Page:      pagination.Parse(c),
	}, true
}

// ListRequests returns a filtered page of requests, newest first
// @Summary      List requests
// @Tags         requests
// @Produce      json
// @Param        status      query  string  false  "Pending, Approved or Rejected"
// @Param        category    query  string  false  "Category name"
// @Param        start_date  query  string  false  "RFC3339 or YYYY-MM-DD"
// @Param        end_date    query  string  false  "RFC3339 or YYYY-MM-DD"
// @Param        page        query  int     false  "Page number (default 1)"
// @Param        limit       query  int     false  "Page size (default 20)"
// @Success      200  {object}  response.Response{data=response.Page}
// @Failure      400  {object}  response.Response
// @Router       /api/requests [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	items, total, err := h.requests.ListRequests(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Page{
		Items: items,
		Total: total,
		Page:  filter.Page.Page,
		Limit: filter.Page.Limit,
	}))
}

// ExportRequests streams the filtered requests as an xlsx workbook
// @Summary      Export requests
// @Tags         requests
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Router       /api/requests/export [get]
func (h *RequestHandler) ExportRequests(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.requests.ExportRequests(c.Request.Context(), filter, &buf); err != nil {
		writeError(c, err)
		return
	}
	name := fmt.Sprintf("requests_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// GetInsights returns counts and amounts per status and category
// @Summary      Request insights
// @Tags         requests
// @Produce      json
// @Param        start_date  query  string  false  "RFC3339 or YYYY-MM-DD"
// @Param        end_date    query  string  false  "RFC3339 or YYYY-MM-DD"
// @Success      200  {object}  response.Response{data=model.Insights}
// @Router       /api/requests/insights/summary [get]
func (h *RequestHandler) GetInsights(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		return
	}
	insights, err := h.requests.GetInsights(c.Request.Context(), service.InsightsFilter{StartDate: start, EndDate: end})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, insights))
}

// GetRequest returns one request
// @Summary      Get request
// @Tags         requests
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=model.Request}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, err := h.requests.GetRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}

// GetHistory returns the snapshots of a request, oldest first
// @Summary      Request history
// @Tags         requests
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=[]model.RequestHistory}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/history [get]
func (h *RequestHandler) GetHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rows, err := h.requests.GetHistory(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rows))
}

// UpdateStatus moves a Pending request to Approved or Rejected
// @Summary      Update request status
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                     true  "Request ID"
// @Param        payload  body  service.UpdateStatusInput  true  "New status"
// @Success      200  {object}  response.Response{data=model.Request}
// @Failure      400  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requests/{id}/status [patch]
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in service.UpdateStatusInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	if in.UpdatedBy == "" {
		in.UpdatedBy = middleware.Actor(c, model.ActorManual)
	}

	updated, err := h.actions.Decide(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, updated))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
