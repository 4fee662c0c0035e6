// Package sink defines delivery backends for pageshot composites.
package sink

import (
	"context"

	"github.com/hazyhaar/pageshot/shot"
)

// Sink is the output interface. Deliver receives the whole accumulation
// surface after each successful composite; Report receives dropped passes.
type Sink interface {
	Deliver(ctx context.Context, c shot.Composite) error
	Report(ctx context.Context, f shot.Failure) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
