package sink

import (
	"context"

	"github.com/hazyhaar/pageshot/shot"
)

// CompositeFunc is called for each composite.
type CompositeFunc func(ctx context.Context, c shot.Composite) error

// FailureFunc is called for each dropped capture pass.
type FailureFunc func(ctx context.Context, f shot.Failure) error

// Callback delivers composites via Go function calls, in process, with no
// encoding at all.
type Callback struct {
	onComposite CompositeFunc
	onFailure   FailureFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onComposite CompositeFunc, onFailure FailureFunc) *Callback {
	return &Callback{onComposite: onComposite, onFailure: onFailure}
}

func (c *Callback) Deliver(ctx context.Context, comp shot.Composite) error {
	if c.onComposite != nil {
		return c.onComposite(ctx, comp)
	}
	return nil
}

func (c *Callback) Report(ctx context.Context, f shot.Failure) error {
	if c.onFailure != nil {
		return c.onFailure(ctx, f)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
