package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Submitter receives detected file names.
type Submitter interface {
	Submit(ctx context.Context, name string) error
}

// Watcher observes a local directory and hands new documents to a Submitter.
// It never processes a file itself.
type Watcher struct {
	dir        string
	extensions map[string]bool
	settle     time.Duration
	sink       Submitter
	log        *zap.Logger
}

func NewWatcher(dir string, extensions []string, settle time.Duration, sink Submitter, log *zap.Logger) *Watcher {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Watcher{dir: dir, extensions: exts, settle: settle, sink: sink, log: log}
}

// Accepts reports whether name has one of the watched extensions.
func (w *Watcher) Accepts(name string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(name))]
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.log.Info("watching folder", zap.String("dir", w.dir))

	return w.watch(ctx, fsw.Events, fsw.Errors)
}

// watch debounces create events per file name and submits settled names from
// this loop. A blocking Submit stalls the loop, so a saturated pool holds
// events back in the watcher instead of piling up goroutines.
func (w *Watcher) watch(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	pending := make(map[string]time.Time)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !w.Accepts(name) {
				continue
			}
			w.log.Debug("file detected", zap.String("file", name), zap.String("op", event.Op.String()))
			pending[name] = time.Now().Add(w.settle)
			w.arm(timer, pending)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", zap.Error(err))
		case <-timer.C:
			for _, name := range settled(pending, time.Now()) {
				delete(pending, name)
				if err := w.sink.Submit(ctx, name); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					w.log.Warn("failed to queue file", zap.String("file", name), zap.Error(err))
				}
			}
			w.arm(timer, pending)
		}
	}
}

// arm points timer at the earliest pending deadline.
func (w *Watcher) arm(timer *time.Timer, pending map[string]time.Time) {
	if len(pending) == 0 {
		timer.Stop()
		return
	}
	var next time.Time
	for _, at := range pending {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	timer.Reset(time.Until(next))
}

// settled returns the names whose deadline has passed, oldest first.
func settled(pending map[string]time.Time, now time.Time) []string {
	var due []string
	for name, at := range pending {
		if !at.After(now) {
			due = append(due, name)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if pending[due[i]].Equal(pending[due[j]]) {
			return due[i] < due[j]
		}
		return pending[due[i]].Before(pending[due[j]])
	})
	return due
}
