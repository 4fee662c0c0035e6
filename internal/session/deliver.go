package session

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/pageshot/internal/sink"
	"github.com/hazyhaar/pageshot/shot"
)

// deliverer hands composites and failures to the sink on its own goroutine.
// Each composite carries the whole surface, so only the newest pending one
// matters: a composite still waiting when the next arrives is replaced.
type deliverer struct {
	sink   sink.Sink
	logger *slog.Logger

	composites chan shot.Composite // one slot, latest wins
	failures   chan shot.Failure
	quit       chan struct{}
	done       chan struct{}
}

const failureBacklog = 16

func newDeliverer(s sink.Sink, logger *slog.Logger) *deliverer {
	return &deliverer{
		sink:       s,
		logger:     logger,
		composites: make(chan shot.Composite, 1),
		failures:   make(chan shot.Failure, failureBacklog),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// composite queues c, replacing any composite not yet picked up. Called only
// from the session goroutine, so the slot has a single producer.
func (d *deliverer) composite(c shot.Composite) {
	for {
		select {
		case d.composites <- c:
			return
		default:
		}
		select {
		case old := <-d.composites:
			d.logger.Debug("session: composite superseded", "seq", old.Seq, "by", c.Seq)
		default:
		}
	}
}

// failure queues f. Failures are dropped when the backlog is full.
func (d *deliverer) failure(f shot.Failure) {
	select {
	case d.failures <- f:
	default:
		d.logger.Warn("session: failure backlog full, report dropped", "stage", f.Stage)
	}
}

func (d *deliverer) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case c := <-d.composites:
			d.deliver(ctx, c)
		case f := <-d.failures:
			d.report(ctx, f)
		case <-d.quit:
			d.flush(ctx)
			return
		}
	}
}

func (d *deliverer) flush(ctx context.Context) {
	for {
		select {
		case f := <-d.failures:
			d.report(ctx, f)
		case c := <-d.composites:
			d.deliver(ctx, c)
		default:
			return
		}
	}
}

func (d *deliverer) deliver(ctx context.Context, c shot.Composite) {
	if err := d.sink.Deliver(ctx, c); err != nil {
		d.logger.Error("session: deliver composite", "seq", c.Seq, "error", err)
	}
}

func (d *deliverer) report(ctx context.Context, f shot.Failure) {
	if err := d.sink.Report(ctx, f); err != nil {
		d.logger.Error("session: report failure", "error", err)
	}
}

// close stops the goroutine after flushing what is queued and waits for it.
func (d *deliverer) close() {
	close(d.quit)
	<-d.done
}
