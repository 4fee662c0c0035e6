// Package shot defines the values a capture session hands to its sinks.
// Consumers (display pages, stores, webhooks) import this package to receive
// composites without depending on the capture machinery.
package shot

import (
	"image"

	"github.com/hazyhaar/pageshot/coverage"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageCapture   Stage = "capture"
	StageDecode    Stage = "decode"
	StageComposite Stage = "composite"
)

// Composite is the whole accumulation surface after a successful composite.
// Every delivery carries the full surface, not only the new strip.
type Composite struct {
	ID        string          `json:"id"` // UUIDv7, "shot_" prefix
	PageURL   string          `json:"page_url"`
	PageID    string          `json:"page_id"`
	Session   string          `json:"session"` // "sess_" ID, new each time capture of the page (re)starts
	Seq       uint64          `json:"seq"`     // monotonically increasing per session
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Delta     []coverage.Span `json:"delta"`   // strips drawn by this pass
	Covered   []coverage.Span `json:"covered"` // coverage after this pass
	Timestamp int64           `json:"timestamp"` // epoch milliseconds

	// Image is the surface copy. Sinks encode it as they need.
	Image *image.RGBA `json:"-"`

	png *pngCache
}

// Failure reports a capture pass that was dropped after its retries.
type Failure struct {
	PageURL   string          `json:"page_url"`
	PageID    string          `json:"page_id"`
	Stage     Stage           `json:"stage"`
	Error     string          `json:"error"`
	Delta     []coverage.Span `json:"delta"` // ranges that stay uncovered
	Attempts  int             `json:"attempts"`
	Timestamp int64           `json:"timestamp"`
}
