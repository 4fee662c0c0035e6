package pageshot

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/pageshot/internal/config"
)

// Config is the top-level pageshot configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// CaptureConfig tunes capture sessions.
type CaptureConfig = config.CaptureConfig

// PageConfig defines a page to capture.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// PageSchema creates the shot_pages table read by LoadPages.
const PageSchema = config.Schema

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// LoadPages reads the active pages of a shot_pages table.
func LoadPages(ctx context.Context, db *sql.DB, cfg *Config) ([]PageConfig, error) {
	return config.LoadPages(ctx, db, cfg.Capture.Cooldown)
}
