package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"invoiceflow/internal/config"
	"invoiceflow/internal/evaluator"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/filestate"
	"invoiceflow/internal/idempotency"
	"invoiceflow/internal/model"
	"invoiceflow/internal/service"
	"invoiceflow/pkg/apperrors"

	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PendingNotifier alerts reviewers about requests held for review.
type PendingNotifier interface {
	NotifyPending(ctx context.Context, req *model.Request, invoice model.InvoiceData, reasons []string) error
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Files      *filestate.Machine
	Extractor  extraction.Extractor
	Categories service.CategoryService
	Evaluator  *evaluator.Evaluator
	Requests   service.RequestService
	Notifier   PendingNotifier
	Markers    idempotency.Markers
}

// Status is reported by the pipeline status endpoint.
type Status struct {
	Watching   bool           `json:"watching"`
	Strategy   string         `json:"strategy"`
	Pool       PoolStats      `json:"pool"`
	Processed  int64          `json:"processed"`
	Failed     int64          `json:"failed"`
	Duplicates int64          `json:"duplicates"`
	Folders    map[string]int `json:"folders"`
}

// Pipeline turns documents dropped into Incoming into decided requests.
type Pipeline struct {
	Deps
	cfg     config.Pipeline
	pool    *Pool
	watcher *Watcher
	log     *zap.Logger

	watching   atomic.Bool
	processed  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
}

func New(deps Deps, cfg config.Pipeline, log *zap.Logger) *Pipeline {
	if deps.Markers == nil {
		deps.Markers = idempotency.NewMemory()
	}
	p := &Pipeline{Deps: deps, cfg: cfg, log: log}
	p.pool = NewPool(cfg.Workers, cfg.QueueSize, p.Process, log)
	p.watcher = NewWatcher(localDir(deps.Files.Folder(filestate.Incoming)), cfg.Extensions, cfg.SettleDelay, p.pool, log)
	return p
}

// localDir returns the filesystem path of a file:// folder, or "" for other schemes.
func localDir(folder string) string {
	if url.Scheme(folder, file.Scheme) != file.Scheme {
		return ""
	}
	return url.Path(folder)
}

// Run starts the worker pool, queues documents already in Incoming and, when
// enabled, watches the folder for new ones. It blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.pool.Run(gctx) })

	if err := p.Scan(gctx); err != nil {
		p.log.Warn("startup scan failed", zap.Error(err))
	}

	if p.cfg.Enabled {
		if p.watcher.dir == "" {
			p.log.Warn("watcher disabled: incoming folder is not local", zap.String("folder", p.Files.Folder(filestate.Incoming)))
		} else {
			g.Go(func() error {
				p.watching.Store(true)
				defer p.watching.Store(false)
				return p.watcher.Run(gctx)
			})
		}
	}
	return g.Wait()
}

// Scan queues every document currently in Incoming.
func (p *Pipeline) Scan(ctx context.Context) error {
	names, err := p.Files.List(ctx, filestate.Incoming)
	if err != nil {
		return err
	}
	queued := 0
	for _, name := range names {
		if !p.watcher.Accepts(name) {
			continue
		}
		if err := p.pool.Submit(ctx, name); err != nil {
			return err
		}
		queued++
	}
	p.log.Info("startup scan done", zap.Int("queued", queued))
	return nil
}

// Accepts reports whether name has a watched extension.
func (p *Pipeline) Accepts(name string) bool {
	return p.watcher.Accepts(name)
}

// Enqueue hands a file to the pool, waiting for room.
func (p *Pipeline) Enqueue(ctx context.Context, name string) error {
	return p.pool.Submit(ctx, path.Base(name))
}

// Reprocess clears a file's marker and queues it again. A file parked in
// Failed is moved back to Incoming first.
func (p *Pipeline) Reprocess(ctx context.Context, name string) error {
	name = path.Base(name)
	if _, err := p.Requests.GetRequestByFileName(ctx, name); err == nil {
		return fmt.Errorf("%w: %s", apperrors.ErrRequestExists, name)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	loc, err := p.Files.Locate(ctx, name)
	if err != nil {
		return err
	}
	switch loc {
	case filestate.Incoming:
	case filestate.Failed:
		if err := p.Files.Move(ctx, name, filestate.Failed, filestate.Incoming); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s is in %s", filestate.ErrInvalidMove, name, loc)
	}

	if err := p.Markers.Release(ctx, p.markerKey(name)); err != nil {
		return fmt.Errorf("failed to release marker: %w", err)
	}
	return p.pool.TrySubmit(name)
}

func (p *Pipeline) Status(ctx context.Context) Status {
	st := Status{
		Watching:   p.watching.Load(),
		Strategy:   p.Evaluator.StrategyName(),
		Pool:       p.pool.Stats(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Duplicates: p.duplicates.Load(),
		Folders:    map[string]int{},
	}
	locs := []filestate.Location{filestate.Incoming, filestate.Pending, filestate.Approved, filestate.Rejected}
	if p.Files.HasFailed() {
		locs = append(locs, filestate.Failed)
	}
	for _, loc := range locs {
		names, err := p.Files.List(ctx, loc)
		if err != nil {
			p.log.Warn("failed to list folder", zap.String("folder", string(loc)), zap.Error(err))
			continue
		}
		st.Folders[string(loc)] = len(names)
	}
	return st
}

func (p *Pipeline) markerKey(name string) string {
	return p.Files.URL(filestate.Incoming, name)
}

// Process runs one document through extraction, evaluation, persistence, the
// file move and notification. A path already claimed is skipped.
func (p *Pipeline) Process(ctx context.Context, name string) error {
	name = path.Base(name)
	logger := p.log.With(zap.String("file", name))
	key := p.markerKey(name)

	claimed, err := p.Markers.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to claim %s: %w", name, err)
	}
	if !claimed {
		p.duplicates.Add(1)
		logger.Debug("file already claimed, skipping")
		return nil
	}

	req, err := p.process(ctx, name, logger)
	if err != nil {
		p.failed.Add(1)
		if relErr := p.Markers.Release(ctx, key); relErr != nil {
			logger.Error("failed to release marker", zap.Error(relErr))
		}
		return err
	}
	if err := p.Markers.Done(ctx, key); err != nil {
		logger.Warn("failed to mark file done", zap.Error(err))
	}
	if req != nil {
		p.processed.Add(1)
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, name string, logger *zap.Logger) (*model.Request, error) {
	if existing, err := p.Requests.GetRequestByFileName(ctx, name); err == nil {
		p.duplicates.Add(1)
		logger.Info("request already exists for file", zap.String("request_id", existing.ID.String()))
		return nil, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	ok, err := p.Files.Exists(ctx, filestate.Incoming, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("file no longer in incoming")
		return nil, nil
	}

	invoice, err := p.extract(ctx, name)
	if err != nil {
		logger.Error("extraction failed", zap.Error(err))
		if p.Files.HasFailed() {
			if moveErr := p.Files.Move(ctx, name, filestate.Incoming, filestate.Failed); moveErr != nil {
				logger.Error("failed to park unreadable file", zap.Error(moveErr))
			}
		}
		return nil, err
	}

	category := service.ResolveCategory(name)
	lookup, err := p.Categories.Lookup(ctx, category)
	if err != nil {
		return nil, err
	}
	result := p.Evaluator.Evaluate(ctx, invoice, lookup)
	logger.Info("invoice evaluated",
		zap.String("category", category),
		zap.Bool("category_found", lookup.Found),
		zap.String("decision", result.Decision),
		zap.String("strategy", result.Strategy),
		zap.Strings("reasons", result.Reasons),
	)

	categoryName := category
	if lookup.Found {
		categoryName = lookup.Name
	}
	req, err := p.Requests.CreateRequest(ctx, service.CreateRequestInput{
		FileName:      name,
		UserID:        model.ActorSystem,
		TotalAmount:   invoice.TotalAmount,
		InvoiceDate:   invoice.InvoiceDate,
		InvoiceNumber: invoice.InvoiceNumber,
		CategoryName:  categoryName,
		Comments:      strings.Join(result.Reasons, "; "),
		CreatedBy:     model.ActorPipeline,
	}, result.Decision)
	if errors.Is(err, apperrors.ErrRequestExists) {
		p.duplicates.Add(1)
		logger.Info("request created concurrently, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("request_id", req.ID.String()))

	err = p.Files.WriteArtifacts(ctx, filestate.Incoming, name, filestate.Artifacts{
		FileName:  name,
		RequestID: req.ID.String(),
		Invoice:   invoice,
		Approval: filestate.Approval{
			Status:    result.Decision,
			Reasons:   result.Reasons,
			Category:  categoryName,
			Strategy:  result.Strategy,
			ItemCount: invoice.ItemCount(),
		},
		ProcessedBy: model.ActorPipeline,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to write artifacts", zap.Error(err))
	}

	target := filestate.ForStatus(result.Decision)
	if err := p.Files.Move(ctx, name, filestate.Incoming, target); err != nil {
		logger.Error("failed to move processed file", zap.String("to", string(target)), zap.Error(err))
	}

	if result.Decision == model.StatusPending && p.Notifier != nil {
		_ = p.Notifier.NotifyPending(ctx, req, invoice, result.Reasons)
	}
	return req, nil
}

func (p *Pipeline) extract(ctx context.Context, name string) (model.InvoiceData, error) {
	data, err := p.Files.Download(ctx, filestate.Incoming, name)
	if err != nil {
		return model.InvoiceData{}, &extraction.Error{File: name, Reason: "unreadable file", Err: err}
	}
	invoice, err := p.Extractor.Extract(ctx, extraction.NewDocument(name, data))
	if err != nil {
		var xerr *extraction.Error
		if errors.As(err, &xerr) {
			return model.InvoiceData{}, err
		}
		return model.InvoiceData{}, &extraction.Error{File: name, Reason: "extractor failed", Err: err}
	}
	return invoice, nil
}
