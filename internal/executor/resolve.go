package executor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/models"
)

// ResolveOptions overrides the executor's retry budget for one resolution.
type ResolveOptions struct {
	// RetryCount of zero uses the executor's budget; a negative value
	// allows the first attempt only.
	RetryCount    int
	RetryInterval time.Duration
	// RequireClickable keeps retrying until the element is visible and on top.
	RequireClickable bool
	// FirstMatch accepts the first CSS match when the locator has no text.
	FirstMatch bool
}

// Resolve locates an element in the tab, retrying at a fixed interval. It
// returns *ElementNotFoundError once the budget of one attempt plus
// RetryCount retries is spent without a match. With RequireClickable, an
// element that was found but never became clickable is returned as is.
func (e *Executor) Resolve(ctx context.Context, tabID string, loc models.Locator, opts ResolveOptions) (Element, error) {
	retries := opts.RetryCount
	switch {
	case retries < 0:
		retries = 0
	case retries == 0:
		retries = e.opts.RetryCount
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = e.opts.RetryInterval
	}
	expr := call(inspectBody, map[string]interface{}{"loc": targetOf(loc), "firstMatch": opts.FirstMatch})

	var last Element
	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		attempts++
		var el Element
		err := e.content.Eval(ctx, tabID, expr, &el)
		if err != nil {
			if ctx.Err() != nil {
				return Element{}, ctx.Err()
			}
			e.log.WithError(err).WithFields(logrus.Fields{"tab": tabID, "attempt": attempts}).Debug("Resolve attempt failed")
		} else if el.Found {
			last = el
			if !opts.RequireClickable || el.Clickable() {
				e.opts.Metrics.Resolved(attempts)
				return el, nil
			}
		}
		if attempt < retries {
			if err := e.opts.Clock.Sleep(ctx, interval); err != nil {
				return Element{}, err
			}
		}
	}

	e.opts.Metrics.Resolved(attempts)
	if last.Found {
		return last, nil
	}
	return Element{}, &ElementNotFoundError{Locator: loc, Attempts: attempts}
}
