package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pageshot/shot"
)

// Router fans out to all configured sinks. One sink error does not block
// the others: errors are logged and the first one is returned.
type Router struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink after construction (e.g. a display server started
// later).
func (r *Router) Add(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

func (r *Router) snapshot() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Sink(nil), r.sinks...)
}

func (r *Router) Deliver(ctx context.Context, c shot.Composite) error {
	sinks := r.snapshot()
	if len(sinks) > 1 {
		c.ShareEncoding()
	}
	var firstErr error
	for _, s := range sinks {
		if err := s.Deliver(ctx, c); err != nil {
			r.logger.Warn("sink: deliver composite failed", "page_id", c.PageID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Report(ctx context.Context, f shot.Failure) error {
	var firstErr error
	for _, s := range r.snapshot() {
		if err := s.Report(ctx, f); err != nil {
			r.logger.Warn("sink: report failure failed", "page_id", f.PageID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.snapshot() {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
