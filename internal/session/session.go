// Package session runs one page-capture session: it reacts to scroll
// events, computes which part of the visible viewport has never been
// captured, captures and composites only that part, and delivers the
// accumulated page image to a sink.
//
// A session is driven by a single goroutine (Run). Coverage, debouncer and
// surface are touched only by that goroutine, and each capture pass runs to
// completion before the next event is read, so at most one capture is in
// flight. Sinks are called from a second goroutine so delivery never holds
// up the next capture.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/pageshot/coverage"
	"github.com/hazyhaar/pageshot/internal/compositor"
	"github.com/hazyhaar/pageshot/internal/idgen"
	"github.com/hazyhaar/pageshot/internal/sink"
	"github.com/hazyhaar/pageshot/shot"
)

// Metrics describes the viewport at one instant, in logical page pixels.
type Metrics struct {
	ScrollY       int     `json:"scroll_y"`
	Height        int     `json:"height"` // viewport height
	Width         int     `json:"width"`  // viewport width
	Density       float64 `json:"density"` // physical pixels per logical pixel
	ContentWidth  int     `json:"content_width"`
	ContentHeight int     `json:"content_height"`
}

// Viewport is what a session needs from the browser. Capture returns the
// encoded image of whatever is visible when it is called.
type Viewport interface {
	Metrics(ctx context.Context) (Metrics, error)
	Capture(ctx context.Context) ([]byte, error)
}

// Config for creating a Session.
type Config struct {
	PageID   string
	PageURL  string
	Viewport Viewport
	Sink     sink.Sink

	// Cooldown is the minimum time between a scroll and its capture. Default: 3s.
	Cooldown time.Duration
	// StartupDelay precedes the first capture of the initial viewport. Default: 5s.
	StartupDelay time.Duration
	// MaxAttempts per capture pass (first try included). Default: 2.
	MaxAttempts int
	// RetryDelay between attempts. Default: 250ms.
	RetryDelay time.Duration
	// CaptureTimeout bounds one capture call. Zero means no timeout.
	CaptureTimeout time.Duration
	// MaxHeight caps the surface height. Default: 32768.
	MaxHeight int
	// Scaler names the interpolation kernel (see compositor.Scalers).
	Scaler string

	NewID idgen.Generator
	// NewSessionID names each run of a page. Default: idgen.SessionID.
	NewSessionID idgen.Generator
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 3 * time.Second
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 250 * time.Millisecond
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 32768
	}
	if c.NewID == nil {
		c.NewID = idgen.ShotID
	}
	if c.NewSessionID == nil {
		c.NewSessionID = idgen.SessionID
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session owns the coverage set, debouncer and accumulation surface of one
// page.
type Session struct {
	cfg    Config
	logger *slog.Logger
	id     string // distinguishes this run from earlier sessions of the same page
	out    *deliverer

	cov     *coverage.Set
	deb     *debouncer
	surface *compositor.Surface
	seq     uint64

	scrollCh chan struct{}

	mu      sync.RWMutex // guards the published stats below
	covered []coverage.Span
	height  int
	passes  uint64
}

// New creates a Session. Call Run to start it.
func New(cfg Config) *Session {
	cfg.defaults()
	id := cfg.NewSessionID()
	logger := cfg.Logger.With("page_id", cfg.PageID, "session", id)
	return &Session{
		cfg:      cfg,
		logger:   logger,
		id:       id,
		out:      newDeliverer(cfg.Sink, logger),
		cov:      &coverage.Set{},
		deb:      newDebouncer(cfg.Cooldown, cfg.StartupDelay),
		scrollCh: make(chan struct{}, 1),
	}
}

// Scroll notifies the session that the page scrolled. It never blocks;
// notifications arriving while one is already pending are dropped.
func (s *Session) Scroll() {
	select {
	case s.scrollCh <- struct{}{}:
	default:
	}
}

// Stats is a consistent view of a running session.
type Stats struct {
	PageID  string          `json:"page_id"`
	PageURL string          `json:"page_url"`
	Session string          `json:"session"`
	Height  int             `json:"height"`
	Covered []coverage.Span `json:"covered"`
	Passes  uint64          `json:"passes"` // successful composites
}

// Stats returns the coverage committed so far. Safe from any goroutine.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		PageID:  s.cfg.PageID,
		PageURL: s.cfg.PageURL,
		Session: s.id,
		Height:  s.height,
		Covered: append([]coverage.Span(nil), s.covered...),
		Passes:  s.passes,
	}
}

// Run sizes the surface from the current content size, schedules the
// startup capture, and processes scroll and timer events until ctx is done.
// It returns nil when ctx ends and a coverage.ErrContract error if the
// coverage invariant is broken.
func (s *Session) Run(ctx context.Context) error {
	m, err := s.cfg.Viewport.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("session: initial metrics: %w", err)
	}
	height := min(m.ContentHeight, s.cfg.MaxHeight)
	surface, err := compositor.NewSurface(m.ContentWidth, height, s.cfg.Scaler)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.surface = surface
	s.mu.Lock()
	s.height = height
	s.mu.Unlock()

	s.logger.Info("session: started",
		"url", s.cfg.PageURL, "width", m.ContentWidth, "height", height, "density", m.Density)

	// Sinks run on their own goroutine so a slow one never delays the next
	// capture. Pending deliveries are flushed when Run returns.
	go s.out.run(context.WithoutCancel(ctx))
	defer s.out.close()

	s.deb.arm()
	defer s.deb.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.scrollCh:
			if s.deb.scroll() {
				s.logger.Debug("session: cooldown started")
			}

		case <-s.deb.timerC():
			s.deb.fire()
			if err := s.pass(ctx); err != nil {
				s.logger.Error("session: stopping", "error", err)
				return err
			}
		}
	}
}

// pass runs one capture pass with retries. Only contract violations are
// returned; other failures are reported to the sink and the pass dropped.
func (s *Session) pass(ctx context.Context) error {
	var (
		lastErr error
		delta   []coverage.Span
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.cfg.RetryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		var err error
		delta, err = s.attempt(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, coverage.ErrContract) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("session: capture attempt failed", "attempt", attempt, "error", err)
	}

	f := shot.Failure{
		PageURL:   s.cfg.PageURL,
		PageID:    s.cfg.PageID,
		Stage:     stageOf(lastErr),
		Error:     lastErr.Error(),
		Delta:     delta,
		Attempts:  s.cfg.MaxAttempts,
		Timestamp: time.Now().UnixMilli(),
	}
	s.out.failure(f)
	return nil
}

// attempt computes the delta against a copy of the coverage set, captures
// and composites it, and commits the rows that reached the surface only
// when every strip drew without error. The returned spans are what was (or
// would have been) drawn.
func (s *Session) attempt(ctx context.Context) ([]coverage.Span, error) {
	m, err := s.cfg.Viewport.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: metrics: %v", ErrCaptureFailed, err)
	}
	x1, x2 := s.visible(m)

	next := s.cov.Clone()
	delta, err := next.ComputeDelta(x1, x2)
	if err != nil {
		return nil, err
	}
	if len(delta) == 0 {
		s.logger.Debug("session: nothing new visible", "x1", x1, "x2", x2)
		return nil, nil
	}

	img, err := s.capture(ctx, m)
	if err != nil {
		return delta, err
	}

	drawn := make([]coverage.Span, 0, len(delta))
	for _, d := range delta {
		r, err := s.surface.Draw(img, d, x1, m.Density)
		if err != nil {
			if errors.Is(err, coverage.ErrContract) {
				return delta, err
			}
			return delta, fmt.Errorf("%w: %v", ErrCompositeFailed, err)
		}
		if !r.Empty() {
			drawn = append(drawn, coverage.Span{Start: r.Min.Y, End: r.Max.Y})
		}
	}
	if len(drawn) == 0 {
		return delta, fmt.Errorf("%w: no rows of %v drawn", ErrCompositeFailed, delta)
	}

	// A short capture clips strips; only rows that reached the surface count
	// as covered, the rest stays eligible for the next pass.
	if !slices.Equal(drawn, delta) {
		s.logger.Warn("session: partial draw", "delta", delta, "drawn", drawn)
		next = s.cov.Clone()
		for _, sp := range drawn {
			if _, err := next.ComputeDelta(sp.Start, sp.End); err != nil {
				return delta, err
			}
		}
	}

	s.cov = next
	s.seq++
	covered := next.Spans()
	s.mu.Lock()
	s.covered = covered
	s.passes++
	s.mu.Unlock()

	bounds := s.surface.Bounds()
	c := shot.Composite{
		ID:        s.cfg.NewID(),
		PageURL:   s.cfg.PageURL,
		PageID:    s.cfg.PageID,
		Session:   s.id,
		Seq:       s.seq,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Delta:     drawn,
		Covered:   covered,
		Timestamp: time.Now().UnixMilli(),
		Image:     s.surface.Snapshot(),
	}
	s.logger.Info("session: composited",
		"seq", c.Seq, "delta", drawn, "covered_px", next.Covered(), "height", c.Height)

	s.out.composite(c)
	return drawn, nil
}

// capture grabs and decodes one image. The viewport is measured again
// afterwards; if it scrolled, the image may not match before, and the
// attempt fails so the retry recomputes the delta.
func (s *Session) capture(ctx context.Context, before Metrics) (image.Image, error) {
	cctx := ctx
	if s.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.cfg.CaptureTimeout)
		defer cancel()
	}

	data, err := s.cfg.Viewport.Capture(cctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	after, err := s.cfg.Viewport.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: metrics: %v", ErrCaptureFailed, err)
	}
	if after.ScrollY != before.ScrollY {
		return nil, fmt.Errorf("%w: %w (scroll %d -> %d)", ErrCaptureFailed, ErrViewportMoved, before.ScrollY, after.ScrollY)
	}

	return decode(data)
}

// visible returns [scrollY, scrollY+height] clipped to the surface. An
// inverted range (negative viewport height) is passed through so the
// coverage set rejects it.
func (s *Session) visible(m Metrics) (int, int) {
	limit := s.surface.Bounds().Dy()
	x1 := clamp(m.ScrollY, 0, limit)
	x2 := m.ScrollY + m.Height
	if x2 >= x1 {
		x2 = clamp(x2, x1, limit)
	}
	return x1, x2
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func stageOf(err error) shot.Stage {
	switch {
	case errors.Is(err, ErrDecodeFailed):
		return shot.StageDecode
	case errors.Is(err, ErrCompositeFailed):
		return shot.StageComposite
	default:
		return shot.StageCapture
	}
}
