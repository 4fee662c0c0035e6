// Package pageshot assembles full-length images of scrollable web pages
// from viewport-only screenshots. It drives Chrome, listens for scroll
// events, captures only when never-seen rows become visible, and
// re-delivers the accumulated page image to sinks after each composite.
//
// Each page gets its own capture session. A Shooter owns the browser,
// the sink router and the sessions.
package pageshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/pageshot/internal/browser"
	"github.com/hazyhaar/pageshot/internal/horosafe"
	"github.com/hazyhaar/pageshot/internal/idgen"
	"github.com/hazyhaar/pageshot/internal/session"
	"github.com/hazyhaar/pageshot/internal/sink"
)

var (
	// ErrUnknownPage is returned for a page ID with no session.
	ErrUnknownPage = errors.New("pageshot: unknown page")
	// ErrPageExists is returned when a page ID is already being captured.
	ErrPageExists = errors.New("pageshot: page already captured")
)

// Stats is the committed coverage of one page.
type Stats = session.Stats

// tab is what a session and its scroll drivers need from a browser tab.
type tab interface {
	session.Viewport
	OnScroll(ctx context.Context, fn func()) error
	AutoScroll(ctx context.Context, interval time.Duration, overlap int) (bool, error)
	Close() error
}

type opener func(ctx context.Context, page PageConfig) (tab, error)

type running struct {
	page   PageConfig
	tab    tab
	sess   *session.Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Shooter is the top-level orchestrator. Create one per pageshot instance.
type Shooter struct {
	cfg    *Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	open   opener
	pageID idgen.Generator
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context // parent of every session
	sessions map[string]*running
	opening  map[string]PageConfig // IDs reserved while their tab opens
	synced   map[string]PageConfig // pages owned by SyncPages
}

// New creates a Shooter from configuration.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Shooter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.ParseMode(cfg.Browser.Mode),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	s := &Shooter{
		cfg:      cfg,
		mgr:      mgr,
		sinkR:    sink.NewRouter(logger, sinks...),
		pageID:   idgen.Prefixed("page_", idgen.Default),
		logger:   logger,
		ctx:      context.Background(),
		sessions: make(map[string]*running),
		opening:  make(map[string]PageConfig),
		synced:   make(map[string]PageConfig),
	}
	s.open = s.openTab
	return s
}

// AddSink registers an extra sink on the running router.
func (s *Shooter) AddSink(sk Sink) {
	s.sinkR.Add(sk)
}

// Start launches the browser and begins capturing all configured pages.
// Sessions live until ctx is done or Stop is called.
func (s *Shooter) Start(ctx context.Context) error {
	if _, err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("pageshot: start browser: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: s.suspendAll,
		AfterRecycle:  func(*rod.Browser) { s.resumeAll() },
	})

	for _, page := range s.cfg.Pages {
		if _, err := s.CapturePage(ctx, page); err != nil {
			s.logger.Error("pageshot: failed to capture page",
				"url", page.URL, "error", err)
		}
	}
	return nil
}

// CapturePage opens a tab on the page and starts its capture session. An
// empty ID gets a generated one, which is returned. The session outlives
// ctx; it ends with StopPage, Stop, or the context given to Start.
func (s *Shooter) CapturePage(ctx context.Context, page PageConfig) (string, error) {
	if page.ID == "" {
		page.ID = s.pageID()
	}
	if err := horosafe.ValidatePageID(page.ID); err != nil {
		return "", err
	}
	if err := horosafe.ValidateTarget(page.URL, s.cfg.Capture.AllowPrivate); err != nil {
		return "", err
	}
	page.ApplyDefaults(s.cfg.Capture.Cooldown)

	if err := s.launch(ctx, page); err != nil {
		return "", err
	}
	return page.ID, nil
}

// launch reserves the page ID, opens the tab without holding the lock
// (navigation may take the whole page load timeout), then starts the
// session unless the reservation was withdrawn by StopPage or Stop.
func (s *Shooter) launch(ctx context.Context, page PageConfig) error {
	s.mu.Lock()
	if r, ok := s.sessions[page.ID]; ok {
		select {
		case <-r.done:
			// Finished session (fatal error); replace it.
			r.tab.Close()
			delete(s.sessions, page.ID)
		default:
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrPageExists, page.ID)
		}
	}
	if _, ok := s.opening[page.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPageExists, page.ID)
	}
	s.opening[page.ID] = page
	s.mu.Unlock()

	t, err := s.open(ctx, page)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, reserved := s.opening[page.ID]
	delete(s.opening, page.ID)
	if err != nil {
		return fmt.Errorf("pageshot: open tab: %w", err)
	}
	if !reserved {
		t.Close()
		return fmt.Errorf("%w: %s stopped while opening", ErrUnknownPage, page.ID)
	}
	return s.startLocked(page, t)
}

func (s *Shooter) startLocked(page PageConfig, t tab) error {
	c := s.cfg.Capture
	sess := session.New(session.Config{
		PageID:         page.ID,
		PageURL:        page.URL,
		Viewport:       t,
		Sink:           s.sinkR,
		Cooldown:       c.Cooldown,
		StartupDelay:   c.StartupDelay,
		MaxAttempts:    c.MaxAttempts,
		RetryDelay:     c.RetryDelay,
		CaptureTimeout: c.CaptureTimeout,
		MaxHeight:      c.MaxHeight,
		Scaler:         c.Scaler,
		Logger:         s.logger,
	})

	runCtx, cancel := context.WithCancel(s.ctx)
	if err := t.OnScroll(runCtx, sess.Scroll); err != nil {
		cancel()
		t.Close()
		return fmt.Errorf("pageshot: scroll hook: %w", err)
	}

	r := &running{page: page, tab: t, sess: sess, cancel: cancel, done: make(chan struct{})}
	s.sessions[page.ID] = r

	go func() {
		defer close(r.done)
		if err := sess.Run(runCtx); err != nil {
			s.logger.Error("pageshot: session ended", "page_id", page.ID, "error", err)
		}
	}()

	if page.AutoScroll {
		go s.autoScroll(runCtx, r)
	}

	s.logger.Info("pageshot: capturing page",
		"url", page.URL, "id", page.ID, "autoscroll", page.AutoScroll)
	return nil
}

// autoScroll waits for the startup capture, then scrolls the page to the
// bottom. Scrolling earlier would move the viewport before the first
// capture reads it.
func (s *Shooter) autoScroll(ctx context.Context, r *running) {
	select {
	case <-time.After(s.cfg.Capture.StartupDelay):
	case <-ctx.Done():
		return
	}
	bottom, err := r.tab.AutoScroll(ctx, r.page.ScrollInterval, r.page.ScrollOverlap)
	switch {
	case err != nil:
		s.logger.Warn("pageshot: autoscroll stopped", "page_id", r.page.ID, "error", err)
	case bottom:
		s.logger.Info("pageshot: autoscroll reached bottom", "page_id", r.page.ID)
	}
}

// SyncPages makes the pages it manages match pages: new IDs start, IDs no
// longer listed stop, and pages whose URL or scrolling changed restart.
// Pages started by Start or CapturePage are left alone.
func (s *Shooter) SyncPages(ctx context.Context, pages []PageConfig) error {
	want := make(map[string]PageConfig, len(pages))
	for _, p := range pages {
		p.ApplyDefaults(s.cfg.Capture.Cooldown)
		want[p.ID] = p
	}

	s.mu.Lock()
	var stale []string
	for id, old := range s.synced {
		if p, ok := want[id]; !ok || p != old {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		if _, err := s.StopPage(id); err != nil && !errors.Is(err, ErrUnknownPage) {
			s.logger.Warn("pageshot: sync stop", "id", id, "error", err)
		}
		s.mu.Lock()
		delete(s.synced, id)
		s.mu.Unlock()
	}

	var errs []error
	for id, p := range want {
		s.mu.Lock()
		_, owned := s.synced[id]
		s.mu.Unlock()
		if owned {
			continue
		}
		if _, err := s.CapturePage(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", id, err))
			continue
		}
		s.mu.Lock()
		s.synced[id] = p
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// StopPage ends a page's session, closes its tab and returns the final
// coverage.
func (s *Shooter) StopPage(pageID string) (Stats, error) {
	s.mu.Lock()
	r, ok := s.sessions[pageID]
	if ok {
		delete(s.sessions, pageID)
	}
	page, opening := s.opening[pageID]
	if opening {
		delete(s.opening, pageID)
	}
	s.mu.Unlock()

	if opening && !ok {
		s.logger.Info("pageshot: stopped page before its tab opened", "id", pageID)
		return pendingStats(page), nil
	}
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
	}
	stopRunning(r)
	s.logger.Info("pageshot: stopped page", "id", pageID)
	return r.sess.Stats(), nil
}

// Coverage returns the committed coverage of a page. A page whose tab is
// still opening has no coverage yet.
func (s *Shooter) Coverage(pageID string) (Stats, error) {
	s.mu.Lock()
	r, ok := s.sessions[pageID]
	page, opening := s.opening[pageID]
	s.mu.Unlock()
	switch {
	case ok:
		return r.sess.Stats(), nil
	case opening:
		return pendingStats(page), nil
	}
	return Stats{}, fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
}

func pendingStats(page PageConfig) Stats {
	return Stats{PageID: page.ID, PageURL: page.URL}
}

// Pages returns the coverage of every page, ordered by ID.
func (s *Shooter) Pages() []Stats {
	s.mu.Lock()
	out := make([]Stats, 0, len(s.sessions)+len(s.opening))
	for _, r := range s.sessions {
		out = append(out, r.sess.Stats())
	}
	for id, page := range s.opening {
		if _, ok := s.sessions[id]; !ok {
			out = append(out, pendingStats(page))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out
}

// Stop shuts down all sessions, the sinks and the browser.
func (s *Shooter) Stop() {
	s.mu.Lock()
	for id, r := range s.sessions {
		stopRunning(r)
		s.logger.Info("pageshot: stopped page", "id", id)
	}
	s.sessions = make(map[string]*running)
	s.opening = make(map[string]PageConfig)
	s.synced = make(map[string]PageConfig)
	s.mu.Unlock()

	if err := s.sinkR.Close(); err != nil {
		s.logger.Warn("pageshot: close sinks", "error", err)
	}
	if err := s.mgr.Close(); err != nil {
		s.logger.Warn("pageshot: close browser", "error", err)
	}
}

func stopRunning(r *running) {
	r.cancel()
	<-r.done
	r.tab.Close()
}

// suspendAll stops every session before Chrome is recycled. The page list
// is kept so resumeAll can restart them.
func (s *Shooter) suspendAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.sessions {
		r.cancel()
		<-r.done
		r.tab.Close()
	}
}

// resumeAll restarts a session for every page that was running. Coverage
// starts from scratch because the new tab is a fresh page load.
func (s *Shooter) resumeAll() {
	s.mu.Lock()
	pages := make([]PageConfig, 0, len(s.sessions))
	for _, r := range s.sessions {
		pages = append(pages, r.page)
	}
	s.sessions = make(map[string]*running)
	ctx := s.ctx
	s.mu.Unlock()

	for _, page := range pages {
		if err := s.launch(ctx, page); err != nil {
			s.logger.Error("pageshot: resume after recycle failed",
				"url", page.URL, "error", err)
		}
	}
}

func (s *Shooter) openTab(ctx context.Context, page PageConfig) (tab, error) {
	c := s.cfg.Capture
	return browser.OpenTab(ctx, s.mgr, browser.TabConfig{
		URL:               page.URL,
		PageID:            page.ID,
		Mode:              browser.ParseMode(s.cfg.Browser.Mode),
		Width:             c.ViewportWidth,
		Height:            c.ViewportHeight,
		DeviceScaleFactor: c.DeviceScaleFactor,
		Format:            c.Format,
		Quality:           c.Quality,
	})
}
