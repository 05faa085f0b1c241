package action

import (
	"context"
	"errors"
	"fmt"
	"path"

	"invoiceflow/internal/filestate"
	"invoiceflow/internal/model"
	"invoiceflow/internal/service"
	"invoiceflow/pkg/apperrors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier sends the confirmation after a manual decision.
type Notifier interface {
	NotifyDecision(ctx context.Context, req *model.Request) error
}

// ActionInput carries the optional reviewer comments of an approve/reject callback.
// Callback decisions are always stamped with model.ActorManual.
type ActionInput struct {
	Comments string `json:"comments" form:"comments"`
}

// Result of an idempotent action. AlreadyProcessed is set when the request
// was terminal before this call; Request is its current state either way.
type Result struct {
	AlreadyProcessed bool           `json:"already_processed"`
	Request          *model.Request `json:"request"`
}

// Handler applies reviewer decisions to pending requests and keeps the
// document folders in step with the stored status.
type Handler struct {
	requests service.RequestService
	files    *filestate.Machine
	notifier Notifier
	log      *zap.Logger
}

func NewHandler(requests service.RequestService, files *filestate.Machine, notifier Notifier, log *zap.Logger) *Handler {
	return &Handler{requests: requests, files: files, notifier: notifier, log: log}
}

func (h *Handler) Approve(ctx context.Context, identifier string, in ActionInput) (Result, error) {
	return h.act(ctx, identifier, model.StatusApproved, in)
}

func (h *Handler) Reject(ctx context.Context, identifier string, in ActionInput) (Result, error) {
	return h.act(ctx, identifier, model.StatusRejected, in)
}

// Decide is the strict form used by the status API: a request that is no
// longer Pending yields ErrInvalidTransition instead of a no-op.
func (h *Handler) Decide(ctx context.Context, id uuid.UUID, in service.UpdateStatusInput) (*model.Request, error) {
	updated, err := h.requests.UpdateStatus(ctx, id, in)
	if err != nil {
		return nil, err
	}
	h.afterTransition(ctx, updated)
	return updated, nil
}

func (h *Handler) act(ctx context.Context, identifier, status string, in ActionInput) (Result, error) {
	req, err := h.resolve(ctx, identifier)
	if err != nil {
		return Result{}, err
	}
	if model.IsTerminal(req.CurrentStatus) {
		h.log.Info("action on processed request ignored",
			zap.String("request_id", req.ID.String()),
			zap.String("file", req.FileName),
			zap.String("status", req.CurrentStatus),
		)
		return Result{AlreadyProcessed: true, Request: req}, nil
	}

	updated, err := h.requests.UpdateStatus(ctx, req.ID, service.UpdateStatusInput{
		Status:    status,
		Comments:  in.Comments,
		UpdatedBy: model.ActorManual,
	})
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		// another reviewer got there first
		current, getErr := h.requests.GetRequest(ctx, req.ID)
		if getErr != nil {
			return Result{}, getErr
		}
		return Result{AlreadyProcessed: true, Request: current}, nil
	}
	if err != nil {
		return Result{}, err
	}

	h.afterTransition(ctx, updated)
	return Result{Request: updated}, nil
}

// resolve accepts a request id or a document file name.
func (h *Handler) resolve(ctx context.Context, identifier string) (*model.Request, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", apperrors.ErrValidation)
	}
	if id, err := uuid.Parse(identifier); err == nil {
		return h.requests.GetRequest(ctx, id)
	}
	return h.requests.GetRequestByFileName(ctx, path.Base(identifier))
}

// afterTransition moves the document out of Pending and confirms the decision.
// The stored status is authoritative; file and notification problems are logged.
func (h *Handler) afterTransition(ctx context.Context, req *model.Request) {
	logger := h.log.With(zap.String("request_id", req.ID.String()), zap.String("file", req.FileName))
	target := filestate.ForStatus(req.CurrentStatus)

	if err := h.files.Move(ctx, req.FileName, filestate.Pending, target); err != nil {
		logger.Error("failed to move decided document", zap.String("to", string(target)), zap.Error(err))
	} else if err := h.files.Annotate(ctx, target, req.FileName, req.CurrentStatus, req.UpdatedBy); err != nil {
		logger.Warn("failed to annotate sidecar", zap.Error(err))
	}

	if h.notifier != nil {
		_ = h.notifier.NotifyDecision(ctx, req)
	}
}
