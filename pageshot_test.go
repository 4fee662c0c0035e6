package pageshot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/pageshot/coverage"
	"github.com/hazyhaar/pageshot/internal/horosafe"
	"github.com/hazyhaar/pageshot/internal/session"
	"github.com/hazyhaar/pageshot/shot"
)

// fakeTab is a 40x300 page with a 100px viewport at density 1.
type fakeTab struct {
	mu       sync.Mutex
	scrollY  int
	onScroll func()
	closed   bool
	autoRuns int
}

func (f *fakeTab) Metrics(context.Context) (session.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Metrics{
		ScrollY: f.scrollY, Height: 100, Width: 40, Density: 1,
		ContentWidth: 40, ContentHeight: 300,
	}, nil
}

func (f *fakeTab) Capture(context.Context) ([]byte, error) {
	f.mu.Lock()
	top := f.scrollY
	f.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, 40, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 40; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8((top + y) % 251), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *fakeTab) OnScroll(_ context.Context, fn func()) error {
	f.mu.Lock()
	f.onScroll = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeTab) AutoScroll(ctx context.Context, _ time.Duration, _ int) (bool, error) {
	f.mu.Lock()
	f.autoRuns++
	f.mu.Unlock()
	<-ctx.Done()
	return false, nil
}

func (f *fakeTab) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTab) scrollTo(y int) {
	f.mu.Lock()
	f.scrollY = y
	fn := f.onScroll
	f.mu.Unlock()
	fn()
}

func (f *fakeTab) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	shooter    *Shooter
	composites chan shot.Composite

	mu   sync.Mutex
	tabs []*fakeTab
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{composites: make(chan shot.Composite, 16)}
	cfg := &Config{}
	cfg.Capture.Cooldown = 20 * time.Millisecond
	cfg.Capture.StartupDelay = 10 * time.Millisecond
	cfg.Capture.AllowPrivate = true

	cb := NewCallbackSink(func(_ context.Context, c shot.Composite) error {
		h.composites <- c
		return nil
	}, nil)
	h.shooter = New(cfg, nil, cb)
	h.shooter.open = func(context.Context, PageConfig) (tab, error) {
		ft := &fakeTab{}
		h.mu.Lock()
		h.tabs = append(h.tabs, ft)
		h.mu.Unlock()
		return ft, nil
	}
	t.Cleanup(h.shooter.Stop)
	return h
}

func (h *harness) tab(i int) *fakeTab {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabs[i]
}

func (h *harness) opened() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tabs)
}

func (h *harness) next(t *testing.T) shot.Composite {
	t.Helper()
	select {
	case c := <-h.composites:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for composite")
		return shot.Composite{}
	}
}

func TestShooter_CaptureScrollStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.shooter.CapturePage(ctx, PageConfig{ID: "docs", URL: "https://example.com/docs"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "docs" {
		t.Fatalf("id: got %q", id)
	}

	first := h.next(t)
	if diff := cmp.Diff([]coverage.Span{{Start: 0, End: 100}}, first.Delta); diff != "" {
		t.Fatalf("startup delta (-want +got):\n%s", diff)
	}

	h.tab(0).scrollTo(150)
	second := h.next(t)
	if diff := cmp.Diff([]coverage.Span{{Start: 100, End: 250}}, second.Delta); diff != "" {
		t.Fatalf("scroll delta (-want +got):\n%s", diff)
	}
	if r, _, _, _ := second.Image.At(0, 200).RGBA(); r>>8 != 200 {
		t.Errorf("row 200: red=%d, want 200", r>>8)
	}

	st, err := h.shooter.Coverage("docs")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]coverage.Span{{Start: 0, End: 250}}, st.Covered); diff != "" {
		t.Errorf("coverage (-want +got):\n%s", diff)
	}

	final, err := h.shooter.StopPage("docs")
	if err != nil {
		t.Fatal(err)
	}
	if final.Passes != 2 || final.Height != 300 {
		t.Errorf("final stats: %+v", final)
	}
	if !h.tab(0).isClosed() {
		t.Error("tab not closed on stop")
	}
	if _, err := h.shooter.Coverage("docs"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("coverage after stop: got %v", err)
	}
	if _, err := h.shooter.StopPage("docs"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("second stop: got %v", err)
	}
}

func TestShooter_DuplicatePage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	page := PageConfig{ID: "dup", URL: "https://example.com"}

	if _, err := h.shooter.CapturePage(ctx, page); err != nil {
		t.Fatal(err)
	}
	if _, err := h.shooter.CapturePage(ctx, page); !errors.Is(err, ErrPageExists) {
		t.Fatalf("duplicate: got %v, want ErrPageExists", err)
	}
	if h.opened() != 1 {
		t.Errorf("tabs opened: got %d, want 1", h.opened())
	}
}

func TestShooter_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.shooter.CapturePage(ctx, PageConfig{URL: "file:///etc/passwd"}); !errors.Is(err, horosafe.ErrUnsafeScheme) {
		t.Errorf("file scheme: got %v", err)
	}
	if _, err := h.shooter.CapturePage(ctx, PageConfig{ID: "../up", URL: "https://example.com"}); err == nil {
		t.Error("expected error for traversal page id")
	}
	if h.opened() != 0 {
		t.Errorf("tabs opened for invalid pages: %d", h.opened())
	}
}

func TestShooter_GeneratedID(t *testing.T) {
	h := newHarness(t)
	id, err := h.shooter.CapturePage(context.Background(), PageConfig{URL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "page_") {
		t.Errorf("generated id: got %q", id)
	}
	pages := h.shooter.Pages()
	if len(pages) != 1 || pages[0].PageID != id {
		t.Errorf("pages: %+v", pages)
	}
}

func TestShooter_AutoScrollStartsAfterStartup(t *testing.T) {
	h := newHarness(t)
	_, err := h.shooter.CapturePage(context.Background(), PageConfig{ID: "auto", URL: "https://example.com", AutoScroll: true})
	if err != nil {
		t.Fatal(err)
	}
	h.next(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.tab(0).mu.Lock()
		runs := h.tab(0).autoRuns
		h.tab(0).mu.Unlock()
		if runs == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("autoscroll never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShooter_RecycleRestartsSessions(t *testing.T) {
	h := newHarness(t)
	if _, err := h.shooter.CapturePage(context.Background(), PageConfig{ID: "r", URL: "https://example.com"}); err != nil {
		t.Fatal(err)
	}
	before := h.next(t)

	h.shooter.suspendAll()
	if !h.tab(0).isClosed() {
		t.Fatal("tab not closed before recycle")
	}
	h.shooter.resumeAll()

	if h.opened() != 2 {
		t.Fatalf("tabs opened: got %d, want 2", h.opened())
	}
	c := h.next(t)
	if c.PageID != "r" || c.Seq != 1 {
		t.Errorf("restarted session composite: page=%s seq=%d", c.PageID, c.Seq)
	}
	if c.Session == before.Session {
		t.Errorf("restarted session reuses id %q", c.Session)
	}
}

func TestShooter_SlowOpenDoesNotHoldLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gate := make(chan struct{})
	entered := make(chan struct{})
	slowTab := &fakeTab{}
	orig := h.shooter.open
	h.shooter.open = func(ctx context.Context, page PageConfig) (tab, error) {
		if page.ID != "slow" {
			return orig(ctx, page)
		}
		close(entered)
		<-gate
		return slowTab, nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.shooter.CapturePage(ctx, PageConfig{ID: "slow", URL: "https://example.com/slow"})
		errCh <- err
	}()
	<-entered

	// While the slow tab navigates, the shooter keeps answering.
	done := make(chan struct{})
	go func() {
		defer close(done)
		st, err := h.shooter.Coverage("slow")
		if err != nil || st.PageURL != "https://example.com/slow" || len(st.Covered) != 0 {
			t.Errorf("coverage while opening: %+v, %v", st, err)
		}
		if _, err := h.shooter.CapturePage(ctx, PageConfig{ID: "slow", URL: "https://example.com/slow"}); !errors.Is(err, ErrPageExists) {
			t.Errorf("duplicate while opening: got %v, want ErrPageExists", err)
		}
		if _, err := h.shooter.CapturePage(ctx, PageConfig{ID: "fast", URL: "https://example.com/fast"}); err != nil {
			t.Errorf("other page: %v", err)
		}
		if n := len(h.shooter.Pages()); n != 2 {
			t.Errorf("pages: got %d, want 2", n)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("shooter blocked while a tab was opening")
	}

	// Stopping the reservation makes the late tab close instead of start.
	if _, err := h.shooter.StopPage("slow"); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-errCh; !errors.Is(err, ErrUnknownPage) {
		t.Errorf("capture of a stopped page: got %v, want ErrUnknownPage", err)
	}
	if !slowTab.isClosed() {
		t.Error("tab opened after stop was not closed")
	}
	if _, err := h.shooter.Coverage("slow"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("coverage after stop: got %v", err)
	}
}

func TestShooter_SyncPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.shooter.CapturePage(ctx, PageConfig{ID: "manual", URL: "https://example.com/m"}); err != nil {
		t.Fatal(err)
	}

	err := h.shooter.SyncPages(ctx, []PageConfig{
		{ID: "a", URL: "https://example.com/a"},
		{ID: "b", URL: "https://example.com/b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(h.shooter.Pages()); got != 3 {
		t.Fatalf("pages after first sync: got %d, want 3", got)
	}

	// b retargeted, a removed.
	err = h.shooter.SyncPages(ctx, []PageConfig{
		{ID: "b", URL: "https://example.com/b2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, st := range h.shooter.Pages() {
		ids = append(ids, st.PageID+"="+st.PageURL)
	}
	want := []string{"b=https://example.com/b2", "manual=https://example.com/m"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("pages (-want +got):\n%s", diff)
	}
	if h.opened() != 4 {
		t.Errorf("tabs opened: got %d, want 4", h.opened())
	}

	// Unchanged list is a no-op.
	if err := h.shooter.SyncPages(ctx, []PageConfig{{ID: "b", URL: "https://example.com/b2"}}); err != nil {
		t.Fatal(err)
	}
	if h.opened() != 4 {
		t.Errorf("tabs opened after no-op sync: got %d", h.opened())
	}
}
