package config

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/internal/dbopen"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
pages:
  - id: docs
    url: https://example.com/docs
    autoscroll: true
sinks:
  - type: file
    dir: /tmp/shots
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.Cooldown != 3*time.Second || cfg.Capture.StartupDelay != 5*time.Second {
		t.Errorf("timings: cooldown=%v startup=%v", cfg.Capture.Cooldown, cfg.Capture.StartupDelay)
	}
	if cfg.Capture.MaxAttempts != 2 {
		t.Errorf("max attempts: got %d", cfg.Capture.MaxAttempts)
	}
	if cfg.Browser.Mode != "headless" {
		t.Errorf("mode: got %q", cfg.Browser.Mode)
	}
	if got := cfg.Pages[0].ScrollInterval; got != 4500*time.Millisecond {
		t.Errorf("scroll interval: got %v, want 4.5s", got)
	}
	if cfg.Sinks[0].Dir != "/tmp/shots" {
		t.Errorf("sink dir: got %q", cfg.Sinks[0].Dir)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
capture:
  cooldown: 500ms
  device_scale_factor: 2
  format: webp
  scaler: catmull-rom
display:
  addr: ":8089"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.Cooldown != 500*time.Millisecond {
		t.Errorf("cooldown: got %v", cfg.Capture.Cooldown)
	}
	if cfg.Capture.DeviceScaleFactor != 2 || cfg.Capture.Format != "webp" {
		t.Errorf("capture: %+v", cfg.Capture)
	}
	if cfg.Display.Addr != ":8089" {
		t.Errorf("display: %q", cfg.Display.Addr)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("pages: [")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadPages(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()

	if err := UpsertPage(ctx, db, PageConfig{ID: "b", URL: "https://b.example", AutoScroll: true}); err != nil {
		t.Fatal(err)
	}
	if err := UpsertPage(ctx, db, PageConfig{ID: "a", URL: "https://a.example", ScrollInterval: 2 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO shot_pages (id, url, status, updated_at) VALUES ('c', 'https://c.example', 'paused', 0)`); err != nil {
		t.Fatal(err)
	}

	pages, err := LoadPages(ctx, db, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages: got %d, want 2", len(pages))
	}
	if pages[0].ID != "a" || pages[0].ScrollInterval != 2*time.Second || pages[0].AutoScroll {
		t.Errorf("page a: %+v", pages[0])
	}
	if pages[1].ID != "b" || !pages[1].AutoScroll || pages[1].ScrollInterval != 1500*time.Millisecond {
		t.Errorf("page b: %+v", pages[1])
	}
}
