package handler

import (
	"errors"
	"net/http"

	"invoiceflow/internal/filestate"
	"invoiceflow/internal/pipeline"
	"invoiceflow/pkg/apperrors"
	"invoiceflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrCategoryExists),
		errors.Is(err, apperrors.ErrRequestExists),
		errors.Is(err, filestate.ErrInvalidMove):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrInvalidStatus), errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrPoolStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	c.JSON(code, response.Error(code, err.Error()))
}
