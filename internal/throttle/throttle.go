// Package throttle rate-limits a function to at most one leading and one
// trailing invocation per window.
package throttle

import (
	"sync"
	"time"

	"flowcraft/backend/internal/clock"
)

type config struct {
	leading  bool
	trailing bool
	clock    clock.Clock
}

type Option func(*config)

// WithLeading controls whether the first call of a window fires at once.
func WithLeading(v bool) Option { return func(c *config) { c.leading = v } }

// WithTrailing controls whether the last call inside a window fires when the
// window closes.
func WithTrailing(v bool) Option { return func(c *config) { c.trailing = v } }

func WithClock(c clock.Clock) Option { return func(cfg *config) { cfg.clock = c } }

// Throttle wraps fn. Within any window of length wait, fn fires at most once
// at the leading edge and at most once at the trailing edge with the last
// value received. Calls made inside a window never invoke fn synchronously.
type Throttle[T any] struct {
	wait time.Duration
	fn   func(T)
	cfg  config

	mu         sync.Mutex
	timer      clock.Timer
	gen        uint64
	pending    T
	hasPending bool
}

func New[T any](wait time.Duration, fn func(T), opts ...Option) *Throttle[T] {
	cfg := config{leading: true, trailing: true, clock: clock.Real}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Throttle[T]{wait: wait, fn: fn, cfg: cfg}
}

func (t *Throttle[T]) Call(v T) {
	t.mu.Lock()
	if t.timer == nil {
		t.startWindow()
		if t.cfg.leading {
			t.mu.Unlock()
			t.fn(v)
			return
		}
	}
	t.pending, t.hasPending = v, true
	t.mu.Unlock()
}

// Flush fires a pending trailing call immediately and closes the window.
func (t *Throttle[T]) Flush() {
	t.mu.Lock()
	v, ok := t.takePending()
	t.stopWindow()
	t.mu.Unlock()
	if ok && t.cfg.trailing {
		t.fn(v)
	}
}

// Cancel drops any pending call and closes the window.
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	t.takePending()
	t.stopWindow()
	t.mu.Unlock()
}

// startWindow must be called with mu held.
func (t *Throttle[T]) startWindow() {
	t.gen++
	gen := t.gen
	t.timer = t.cfg.clock.AfterFunc(t.wait, func() { t.windowEnd(gen) })
}

func (t *Throttle[T]) stopWindow() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *Throttle[T]) takePending() (T, bool) {
	v, ok := t.pending, t.hasPending
	var zero T
	t.pending, t.hasPending = zero, false
	return v, ok
}

func (t *Throttle[T]) windowEnd(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	v, ok := t.takePending()
	if !ok || !t.cfg.trailing {
		t.timer = nil
		t.mu.Unlock()
		return
	}
	// The trailing call opens a fresh window.
	t.startWindow()
	t.mu.Unlock()
	t.fn(v)
}
