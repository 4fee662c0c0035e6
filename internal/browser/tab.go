package browser

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pageshot/internal/session"
)

// TabConfig describes one capture tab.
type TabConfig struct {
	URL    string
	PageID string
	Mode   Mode

	// Emulated viewport. Zero width or height keeps Chrome's default.
	Width             int
	Height            int
	DeviceScaleFactor float64

	// Format is png, jpeg or webp. Quality applies to jpeg and webp.
	Format  string
	Quality int

	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration
}

// Tab is a Rod page prepared for incremental capture. It implements
// session.Viewport.
type Tab struct {
	Page   *rod.Page
	cfg    TabConfig
	format proto.PageCaptureScreenshotFormat

	hijack      *rod.HijackRouter
	removeHooks func() error
}

var _ session.Viewport = (*Tab)(nil)

// OpenTab creates a tab, applies stealth and viewport emulation, and
// navigates to the URL.
func OpenTab(ctx context.Context, mgr *Manager, cfg TabConfig) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if cfg.Mode >= ModeHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, cfg: cfg, format: format}

	if cfg.Width > 0 && cfg.Height > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.Width,
			Height:            cfg.Height,
			DeviceScaleFactor: cfg.DeviceScaleFactor,
		})
		if err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: set viewport: %w", err)
		}
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.hijack = applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(cfg.URL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", cfg.URL, "error", err)
	}

	return t, nil
}

// PageID returns the caller-provided page identifier.
func (t *Tab) PageID() string { return t.cfg.PageID }

// URL returns the navigated URL.
func (t *Tab) URL() string { return t.cfg.URL }

// Metrics reads scroll offset, viewport and content size from the page.
func (t *Tab) Metrics(ctx context.Context) (session.Metrics, error) {
	res, err := t.Page.Context(ctx).Eval(`() => {
		const d = document.documentElement, b = document.body;
		return {
			scrollY: window.scrollY,
			height: window.innerHeight,
			width: window.innerWidth,
			density: window.devicePixelRatio || 1,
			contentWidth: Math.max(d.scrollWidth, b ? b.scrollWidth : 0, d.clientWidth),
			contentHeight: Math.max(d.scrollHeight, b ? b.scrollHeight : 0, d.clientHeight),
		};
	}`)
	if err != nil {
		return session.Metrics{}, fmt.Errorf("browser: metrics: %w", err)
	}
	v := res.Value
	return session.Metrics{
		ScrollY:       int(math.Round(v.Get("scrollY").Num())),
		Height:        v.Get("height").Int(),
		Width:         v.Get("width").Int(),
		Density:       v.Get("density").Num(),
		ContentWidth:  v.Get("contentWidth").Int(),
		ContentHeight: v.Get("contentHeight").Int(),
	}, nil
}

// Capture screenshots the visible viewport only.
func (t *Tab) Capture(ctx context.Context) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: t.format}
	if t.format != proto.PageCaptureScreenshotFormatPng && t.cfg.Quality > 0 {
		q := t.cfg.Quality
		req.Quality = &q
	}
	data, err := t.Page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Close closes the tab and its hooks.
func (t *Tab) Close() error {
	if t.removeHooks != nil {
		t.removeHooks()
		t.removeHooks = nil
	}
	if t.hijack != nil {
		t.hijack.Stop()
		t.hijack = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

func parseFormat(s string) (proto.PageCaptureScreenshotFormat, error) {
	switch s {
	case "", "png":
		return proto.PageCaptureScreenshotFormatPng, nil
	case "jpeg", "jpg":
		return proto.PageCaptureScreenshotFormatJpeg, nil
	case "webp":
		return proto.PageCaptureScreenshotFormatWebp, nil
	}
	return "", fmt.Errorf("browser: unknown capture format %q", s)
}
