package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by TrySubmit when every queue slot is taken.
var ErrQueueFull = errors.New("work queue is full")

// ErrPoolStopped is returned once the pool has shut down.
var ErrPoolStopped = errors.New("worker pool stopped")

// HandleFunc processes one file name. Errors are logged by the pool.
type HandleFunc func(ctx context.Context, fileName string) error

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Workers  int `json:"workers"`
	Capacity int `json:"capacity"`
	Queued   int `json:"queued"`
	Busy     int `json:"busy"`
}

// Pool is a fixed set of workers draining a bounded queue.
type Pool struct {
	queue   chan string
	workers int
	handle  HandleFunc
	log     *zap.Logger

	busy    atomic.Int32
	stopped chan struct{}
}

func NewPool(workers, capacity int, handle HandleFunc, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		queue:   make(chan string, capacity),
		workers: workers,
		handle:  handle,
		log:     log,
		stopped: make(chan struct{}),
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	defer close(p.stopped)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			p.work(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-p.queue:
			p.busy.Add(1)
			p.runOne(ctx, id, name)
			p.busy.Add(-1)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, id int, name string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker panicked", zap.Int("worker", id), zap.String("file", name), zap.Any("panic", r))
		}
	}()
	if err := p.handle(ctx, name); err != nil {
		p.log.Warn("file processing failed", zap.Int("worker", id), zap.String("file", name), zap.Error(err))
	}
}

// Submit queues name, waiting for a free slot until ctx is done.
func (p *Pool) Submit(ctx context.Context, name string) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}
	select {
	case p.queue <- name:
		return nil
	case <-p.stopped:
		return ErrPoolStopped
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", name, ctx.Err())
	}
}

// TrySubmit queues name without waiting.
func (p *Pool) TrySubmit(name string) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}
	select {
	case p.queue <- name:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:  p.workers,
		Capacity: cap(p.queue),
		Queued:   len(p.queue),
		Busy:     int(p.busy.Load()),
	}
}
