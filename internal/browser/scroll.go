package browser

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

//go:embed scroll.js
var scrollJS string

const scrollBinding = "__pageshot_scroll"

// OnScroll installs a scroll listener in the page (current document and
// every future one) and calls fn for each scroll event until ctx is done.
// fn runs on the event goroutine and must not block.
func (t *Tab) OnScroll(ctx context.Context, fn func()) error {
	if err := (proto.RuntimeAddBinding{Name: scrollBinding}).Call(t.Page); err != nil {
		return fmt.Errorf("browser: add scroll binding: %w", err)
	}

	wait := t.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == scrollBinding {
			fn()
		}
	})
	go wait()

	remove, err := t.Page.EvalOnNewDocument(scrollJS)
	if err != nil {
		return fmt.Errorf("browser: install scroll hook: %w", err)
	}
	t.removeHooks = remove

	if _, err := t.Page.Context(ctx).Eval(`() => ` + scrollJS); err != nil {
		return fmt.Errorf("browser: inject scroll hook: %w", err)
	}
	return nil
}

// ScrollBy scrolls the window by dy logical pixels and reports whether the
// bottom of the content has been reached.
func (t *Tab) ScrollBy(ctx context.Context, dy int) (bool, error) {
	res, err := t.Page.Context(ctx).Eval(`(dy) => {
		window.scrollBy(0, dy);
		const d = document.documentElement;
		return window.scrollY + window.innerHeight >= d.scrollHeight - 1;
	}`, dy)
	if err != nil {
		return false, fmt.Errorf("browser: scroll: %w", err)
	}
	return res.Value.Bool(), nil
}

// AutoScroll scrolls one viewport (minus overlap) every interval until the
// bottom is reached or ctx is done. It returns true if the bottom was
// reached. Headless tabs never scroll on their own; this is what produces
// the scroll events a capture session reacts to.
func (t *Tab) AutoScroll(ctx context.Context, interval time.Duration, overlap int) (bool, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
			m, err := t.Metrics(ctx)
			if err != nil {
				return false, err
			}
			step := max(m.Height-overlap, 1)
			bottom, err := t.ScrollBy(ctx, step)
			if err != nil {
				return false, err
			}
			if bottom {
				return true, nil
			}
		}
	}
}
