// Package pagewatch polls the shot_pages table and reloads the page set
// when it changes, so pages can be added, paused or retargeted without a
// restart.
//
//	w := pagewatch.New(db, pagewatch.Options{Interval: 2 * time.Second})
//	go w.Run(ctx, func(ctx context.Context) error { return shooter.SyncPages(ctx, load()) })
package pagewatch

import (
	"context"
	"database/sql"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different values mean the page set
// changed.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling period. Default: 2s.
	Interval time.Duration
	// Debounce is the quiet period after a change before reloading; each
	// further change restarts it. Zero reloads on the poll that saw it.
	Debounce time.Duration
	// Detector defaults to PagesVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Detector == nil {
		o.Detector = PagesVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a database and runs a reload action on change.
type Watcher struct {
	db      *sql.DB
	opts    Options
	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
}

// New creates a Watcher. Call Run to start polling.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
}

// Version returns the last version successfully reloaded.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Run seeds the current version and polls until ctx is done. The state at
// start is assumed loaded already. If action fails, the version is kept
// and the reload is retried on the next poll.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("pagewatch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var (
		debounce *time.Timer
		fireC    <-chan time.Time
		pending  int64
		waiting  bool
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("pagewatch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || (waiting && cur == pending) {
				continue
			}
			w.changes.Add(1)
			pending, waiting = cur, true

			if w.opts.Debounce <= 0 {
				w.fire(ctx, action, pending)
				waiting = false
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			fireC = debounce.C

		case <-fireC:
			fireC = nil
			if waiting {
				w.fire(ctx, action, pending)
				waiting = false
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, v int64) {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("pagewatch: reload failed", "version", v, "error", err)
		return
	}
	w.reloads.Add(1)
	w.version.Store(v)
	w.opts.Logger.Info("pagewatch: pages reloaded", "version", v, "duration", time.Since(start))
}

// PagesVersion folds the row count, the latest update and the number of
// active rows of shot_pages into one token.
func PagesVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var count, maxUpdated, active int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(updated_at), 0), COALESCE(SUM(status = 'active'), 0)
		FROM shot_pages`).Scan(&count, &maxUpdated, &active)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	for _, n := range []int64{count, maxUpdated, active} {
		h.Write(strconv.AppendInt(nil, n, 10))
		h.Write([]byte{0})
	}
	return int64(h.Sum64() >> 1), nil
}
