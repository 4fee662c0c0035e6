// Package config handles pageshot configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pageshot configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	Display DisplayConfig `yaml:"display"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Mode             string        `yaml:"mode"` // plain | headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// CaptureConfig tunes every capture session.
type CaptureConfig struct {
	Cooldown          time.Duration `yaml:"cooldown"`
	StartupDelay      time.Duration `yaml:"startup_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	CaptureTimeout    time.Duration `yaml:"capture_timeout"`
	MaxHeight         int           `yaml:"max_height"`
	Scaler            string        `yaml:"scaler"`
	Format            string        `yaml:"format"` // png | jpeg | webp
	Quality           int           `yaml:"quality"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	DeviceScaleFactor float64       `yaml:"device_scale_factor"`
	AllowPrivate      bool          `yaml:"allow_private"` // permit loopback/private targets
}

// PageConfig defines a page to capture.
type PageConfig struct {
	ID             string        `yaml:"id"`
	URL            string        `yaml:"url"`
	AutoScroll     bool          `yaml:"autoscroll"`
	ScrollInterval time.Duration `yaml:"scroll_interval"`
	ScrollOverlap  int           `yaml:"scroll_overlap"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | file | sqlite
	URL  string `yaml:"url"`  // webhook
	Dir  string `yaml:"dir"`  // file
	Path string `yaml:"path"` // sqlite
}

// DisplayConfig enables the HTTP display server when Addr is set.
type DisplayConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Capture.Cooldown <= 0 {
		c.Capture.Cooldown = 3 * time.Second
	}
	if c.Capture.StartupDelay <= 0 {
		c.Capture.StartupDelay = 5 * time.Second
	}
	if c.Capture.MaxAttempts <= 0 {
		c.Capture.MaxAttempts = 2
	}
	if c.Capture.MaxHeight <= 0 {
		c.Capture.MaxHeight = 32768
	}
	if c.Capture.Format == "" {
		c.Capture.Format = "png"
	}
	if c.Capture.Quality <= 0 {
		c.Capture.Quality = 90
	}
	if c.Capture.ViewportWidth <= 0 {
		c.Capture.ViewportWidth = 1280
	}
	if c.Capture.ViewportHeight <= 0 {
		c.Capture.ViewportHeight = 800
	}
	if c.Capture.DeviceScaleFactor <= 0 {
		c.Capture.DeviceScaleFactor = 1
	}
	for i := range c.Pages {
		c.Pages[i].ApplyDefaults(c.Capture.Cooldown)
	}
}

// ApplyDefaults sets the scroll interval past the cooldown so every step
// gets its own capture.
func (p *PageConfig) ApplyDefaults(cooldown time.Duration) {
	if p.ScrollInterval <= 0 {
		p.ScrollInterval = cooldown + cooldown/2
	}
	if p.ScrollOverlap < 0 {
		p.ScrollOverlap = 0
	}
}
