package handler

import (
	"context"
	"net/http"

	"invoiceflow/internal/middleware"
	"invoiceflow/internal/pipeline"
	"invoiceflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// PipelineControl is the part of the pipeline the HTTP layer drives.
type PipelineControl interface {
	Accepts(name string) bool
	Enqueue(ctx context.Context, name string) error
	Reprocess(ctx context.Context, name string) error
	Status(ctx context.Context) pipeline.Status
}

type PipelineHandler struct {
	pipeline PipelineControl
	secret   []byte
}

func NewPipelineHandler(p PipelineControl, secret []byte) *PipelineHandler {
	return &PipelineHandler{pipeline: p, secret: secret}
}

func (h *PipelineHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/pipeline")
	{
		group.GET("/status", h.Status)
		group.POST("/reprocess/:filename", middleware.RequireAuth(h.secret), h.Reprocess)
	}
}

// Status reports the worker pool and folder counts
// @Summary      Pipeline status
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  response.Response{data=pipeline.Status}
// @Router       /api/pipeline/status [get]
func (h *PipelineHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.pipeline.Status(c.Request.Context())))
}

// Reprocess clears the marker of an unprocessed file and queues it again
// @Summary      Reprocess file
// @Tags         pipeline
// @Security     BearerAuth
// @Produce      json
// @Param        filename  path  string  true  "Document file name"
// @Success      202  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/pipeline/reprocess/{filename} [post]
func (h *PipelineHandler) Reprocess(c *gin.Context) {
	name := c.Param("filename")
	if err := h.pipeline.Reprocess(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Success(http.StatusAccepted, gin.H{"file_name": name, "queued": true}))
}
