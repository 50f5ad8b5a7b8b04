package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"flowcraft/backend/internal/clock"
)

type recorder struct {
	mu    sync.Mutex
	calls []int
}

func (r *recorder) fn(v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, v)
}

func (r *recorder) got() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.calls...)
}

const wait = 100 * time.Millisecond

func TestLeadingAndTrailing(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	th := New(wait, rec.fn, WithClock(clk))

	th.Call(1)
	assert.Equal(t, []int{1}, rec.got(), "leading edge fires synchronously")

	clk.Advance(30 * time.Millisecond)
	th.Call(2)
	clk.Advance(30 * time.Millisecond)
	th.Call(3)
	assert.Equal(t, []int{1}, rec.got(), "calls inside the window never fire synchronously")

	clk.Advance(40 * time.Millisecond)
	assert.Equal(t, []int{1, 3}, rec.got(), "trailing edge carries the last value")

	// the trailing call opened a new window
	clk.Advance(10 * time.Millisecond)
	th.Call(4)
	assert.Equal(t, []int{1, 3}, rec.got())
	clk.Advance(wait)
	assert.Equal(t, []int{1, 3, 4}, rec.got())

	// a quiet window closes without firing, so the next call leads again
	clk.Advance(wait)
	clk.Advance(wait)
	th.Call(5)
	assert.Equal(t, []int{1, 3, 4, 5}, rec.got())
}

func TestTrailingOnly(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	th := New(wait, rec.fn, WithClock(clk), WithLeading(false))

	th.Call(1)
	th.Call(2)
	assert.Empty(t, rec.got())
	clk.Advance(wait)
	assert.Equal(t, []int{2}, rec.got())
}

func TestLeadingOnly(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	th := New(wait, rec.fn, WithClock(clk), WithTrailing(false))

	th.Call(1)
	th.Call(2)
	clk.Advance(wait)
	assert.Equal(t, []int{1}, rec.got())
}

func TestFlushAndCancel(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	th := New(wait, rec.fn, WithClock(clk))

	th.Call(1)
	th.Call(2)
	th.Flush()
	assert.Equal(t, []int{1, 2}, rec.got())
	clk.Advance(wait)
	assert.Equal(t, []int{1, 2}, rec.got(), "flushed window does not fire again")

	th.Call(3)
	th.Call(4)
	th.Cancel()
	clk.Advance(wait)
	assert.Equal(t, []int{1, 2, 3}, rec.got())
}
