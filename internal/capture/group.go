package capture

import "sync"

// Group attaches and detaches a set of capturers together. Both operations
// are idempotent.
type Group struct {
	src       Source
	sink      Sink
	capturers []Capturer

	mu       sync.Mutex
	detach   []func()
	attached bool
}

func NewGroup(src Source, sink Sink, capturers ...Capturer) *Group {
	return &Group{src: src, sink: sink, capturers: capturers}
}

// Attach subscribes every capturer. It reports whether the group changed state.
func (g *Group) Attach() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attached {
		return false
	}
	g.detach = g.detach[:0]
	for _, c := range g.capturers {
		g.detach = append(g.detach, c.Attach(g.src, g.sink))
	}
	g.attached = true
	return true
}

// Detach releases every subscription made by Attach.
func (g *Group) Detach() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.attached {
		return false
	}
	for _, d := range g.detach {
		d()
	}
	g.detach = g.detach[:0]
	g.attached = false
	return true
}

func (g *Group) Attached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attached
}
