package handler

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"path"
	"strings"

	"invoiceflow/internal/action"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/filestate"
	"invoiceflow/internal/middleware"
	"invoiceflow/internal/model"
	"invoiceflow/pkg/apperrors"
	"invoiceflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// maxUploadSize caps a single uploaded document.
const maxUploadSize = 20 << 20

type InvoiceHandler struct {
	actions  *action.Handler
	files    *filestate.Machine
	pipeline PipelineControl
	secret   []byte
}

func NewInvoiceHandler(actions *action.Handler, files *filestate.Machine, pipeline PipelineControl, secret []byte) *InvoiceHandler {
	return &InvoiceHandler{actions: actions, files: files, pipeline: pipeline, secret: secret}
}

func (h *InvoiceHandler) RegisterRoutes(router *gin.RouterGroup) {
	invoices := router.Group("/api/invoice")
	{
		invoices.GET("/approve/:identifier", h.Approve)
		invoices.POST("/approve/:identifier", h.Approve)
		invoices.GET("/reject/:identifier", h.Reject)
		invoices.POST("/reject/:identifier", h.Reject)
		invoices.GET("/view/:filename", h.View)
		invoices.POST("/upload", middleware.RequireAuth(h.secret), h.Upload)
	}
}

// Approve is the reviewer callback; repeating it is harmless
// @Summary      Approve invoice
// @Tags         invoice
// @Produce      json,html
// @Param        identifier  path   string  true   "Request ID or file name"
// @Param        comments    query  string  false  "Reviewer comments"
// @Success      200  {object}  response.Response{data=action.Result}
// @Failure      404  {object}  response.Response
// @Router       /api/invoice/approve/{identifier} [get]
func (h *InvoiceHandler) Approve(c *gin.Context) {
	h.decide(c, model.StatusApproved)
}

// Reject is the reviewer callback; repeating it is harmless
// @Summary      Reject invoice
// @Tags         invoice
// @Produce      json,html
// @Param        identifier  path   string  true   "Request ID or file name"
// @Param        comments    query  string  false  "Reviewer comments"
// @Success      200  {object}  response.Response{data=action.Result}
// @Failure      404  {object}  response.Response
// @Router       /api/invoice/reject/{identifier} [get]
func (h *InvoiceHandler) Reject(c *gin.Context) {
	h.decide(c, model.StatusRejected)
}

func (h *InvoiceHandler) decide(c *gin.Context, status string) {
	var in action.ActionInput
	if c.Request.Method == http.MethodPost && c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&in); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}
	}
	if in.Comments == "" {
		in.Comments = c.Query("comments")
	}

	identifier := c.Param("identifier")
	var (
		result action.Result
		err    error
	)
	if status == model.StatusApproved {
		result, err = h.actions.Approve(c.Request.Context(), identifier, in)
	} else {
		result, err = h.actions.Reject(c.Request.Context(), identifier, in)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	if wantsHTML(c) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(resultPage(result)))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

func wantsHTML(c *gin.Context) bool {
	return c.Request.Method == http.MethodGet && strings.Contains(c.GetHeader("Accept"), "text/html")
}

func resultPage(r action.Result) string {
	title := "Invoice " + r.Request.CurrentStatus
	body := fmt.Sprintf("Invoice <strong>%s</strong> is now %s.", html.EscapeString(r.Request.FileName), r.Request.CurrentStatus)
	if r.AlreadyProcessed {
		title = "Already Processed"
		body = fmt.Sprintf("Invoice <strong>%s</strong> was already %s. Nothing was changed.", html.EscapeString(r.Request.FileName), r.Request.CurrentStatus)
	}
	return `<html><head><title>` + title + `</title>
<style>body{font-family:Arial,sans-serif;text-align:center;padding:50px;background:#f0f0f0}.box{background:#fff;padding:40px;border-radius:10px;max-width:500px;margin:0 auto}</style>
</head><body><div class="box"><h1>` + title + `</h1><p>` + body + `</p><p style="color:#666">You can close this window.</p></div></body></html>`
}

// View streams the document from whichever folder holds it
// @Summary      View invoice document
// @Tags         invoice
// @Produce      octet-stream
// @Param        filename  path  string  true  "Document file name"
// @Success      200
// @Failure      404  {object}  response.Response
// @Router       /api/invoice/view/{filename} [get]
func (h *InvoiceHandler) View(c *gin.Context) {
	name := path.Base(c.Param("filename"))
	if filestate.IsArtifact(name) {
		writeError(c, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, name))
		return
	}
	data, _, err := h.files.Open(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+name+`"`)
	c.Data(http.StatusOK, extraction.DetectMIME(data), data)
}

// Upload drops a document into Incoming and queues it
// @Summary      Upload invoice
// @Tags         invoice
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        file  formData  file  true  "Invoice document"
// @Success      202  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/invoice/upload [post]
func (h *InvoiceHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "file is required: "+err.Error()))
		return
	}

	name := path.Base(fh.Filename)
	if filestate.IsArtifact(name) || !h.pipeline.Accepts(name) {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "unsupported file type: "+name))
		return
	}

	ctx := c.Request.Context()
	if loc, err := h.files.Locate(ctx, name); err == nil {
		c.JSON(http.StatusConflict, response.Error(http.StatusConflict, fmt.Sprintf("%s already exists in %s", name, loc)))
		return
	} else if !errors.Is(err, apperrors.ErrFileNotFound) {
		writeError(c, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	defer f.Close()

	if err := h.files.Upload(ctx, filestate.Incoming, name, f); err != nil {
		writeError(c, err)
		return
	}
	if err := h.pipeline.Enqueue(ctx, name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, gin.H{"file_name": name, "queued": true}))
}
