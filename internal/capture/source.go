// Package capture turns DOM events reported by the page shim into raw
// recorder events.
package capture

import (
	"encoding/json"
	"sync"

	"flowcraft/backend/internal/models"
)

// Event types reported by the page shim.
const (
	EventClick         = "click"
	EventInput         = "input"
	EventKeydown       = "keydown"
	EventScroll        = "scroll"
	EventMeta          = "meta"
	EventRrweb         = "rrweb"
	EventMouseOver     = "mouseover"
	EventMouseOut      = "mouseout"
	EventFocus         = "focus"
	EventBlur          = "blur"
	EventStatusRequest = "status-request"
)

// PageEvent is one message posted by the shim through the page binding.
type PageEvent struct {
	Type       string          `json:"type"`
	TabID      string          `json:"-"`
	Timestamp  int64           `json:"timestamp"`
	URL        string          `json:"url"`
	FrameURL   string          `json:"frameUrl"`
	Target     *Target         `json:"target,omitempty"`
	Key        string          `json:"key,omitempty"`
	CtrlKey    bool            `json:"ctrlKey,omitempty"`
	MetaKey    bool            `json:"metaKey,omitempty"`
	IsDocument bool            `json:"isDocument,omitempty"`
	NodeID     int64           `json:"nodeId,omitempty"`
	ScrollX    float64         `json:"scrollX,omitempty"`
	ScrollY    float64         `json:"scrollY,omitempty"`
	Href       string          `json:"href,omitempty"`
	Title      string          `json:"title,omitempty"`
	Event      json.RawMessage `json:"event,omitempty"`
}

// Target describes the element an event was dispatched to.
type Target struct {
	models.Locator
	NodeID     int64   `json:"nodeId"`
	InputType  string  `json:"inputType"`
	HasValue   bool    `json:"hasValue"`
	Value      string  `json:"value"`
	ScrollLeft float64 `json:"scrollLeft"`
	ScrollTop  float64 `json:"scrollTop"`
}

type Handler func(PageEvent)

// Source delivers page events by type.
type Source interface {
	Subscribe(eventType string, h Handler) (unsubscribe func())
}

// Sink receives the raw events produced by capturers.
type Sink interface {
	Emit(ev models.RawEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.RawEvent)

func (f SinkFunc) Emit(ev models.RawEvent) { f(ev) }

// Mux is an in-process Source. Publish calls handlers synchronously on the
// caller's goroutine, outside the lock.
type Mux struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]Handler
}

func NewMux() *Mux {
	return &Mux{subs: make(map[string]map[uint64]Handler)}
}

func (m *Mux) Subscribe(eventType string, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	if m.subs[eventType] == nil {
		m.subs[eventType] = make(map[uint64]Handler)
	}
	m.subs[eventType][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[eventType], id)
		})
	}
}

func (m *Mux) Publish(ev PageEvent) {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.subs[ev.Type]))
	for _, h := range m.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of live handlers for eventType.
func (m *Mux) Subscribers(eventType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[eventType])
}
