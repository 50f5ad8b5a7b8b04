package capture

import (
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/models"
	"flowcraft/backend/internal/throttle"
)

// ScrollWait is the scroll throttle window.
const ScrollWait = 100 * time.Millisecond

// rrweb event and incremental source codes.
const (
	rrwebIncrementalSnapshot = 3
	rrwebMeta                = 4
	rrwebSourceScroll        = 3
)

// Capturer subscribes to the page events it understands and emits raw
// events to the sink until the returned detach func is called.
type Capturer interface {
	Attach(src Source, sink Sink) (detach func())
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(src Source, sink Sink) func()

func (f CapturerFunc) Attach(src Source, sink Sink) func() { return f(src, sink) }

// DefaultCapturers returns the full capturer set.
func DefaultCapturers(c clock.Clock) []Capturer {
	return Capturers(c, ScrollWait)
}

// Capturers returns the full capturer set with a custom scroll throttle
// window.
func Capturers(c clock.Clock, scrollWait time.Duration) []Capturer {
	return []Capturer{
		CapturerFunc(captureClicks),
		CapturerFunc(captureInput),
		CapturerFunc(captureKeys),
		&ScrollCapturer{Wait: scrollWait, Clock: c},
		CapturerFunc(captureNavigation),
		CapturerFunc(captureRrweb),
		CapturerFunc(captureHighlight),
	}
}

func rawEvent(ev PageEvent, loc *models.Locator, p models.Payload) models.RawEvent {
	return models.RawEvent{
		Timestamp: ev.Timestamp,
		TabID:     ev.TabID,
		PageURL:   ev.URL,
		FrameURL:  ev.FrameURL,
		Locator:   loc,
		Payload:   p,
	}
}

func targetLocator(t *Target) *models.Locator {
	loc := t.Locator
	return &loc
}

func captureClicks(src Source, sink Sink) func() {
	return src.Subscribe(EventClick, func(ev PageEvent) {
		if ev.Target == nil {
			return
		}
		sink.Emit(rawEvent(ev, targetLocator(ev.Target), models.ClickPayload{}))
	})
}

func captureInput(src Source, sink Sink) func() {
	return src.Subscribe(EventInput, func(ev PageEvent) {
		if ev.Target == nil || !ev.Target.HasValue {
			return
		}
		sink.Emit(rawEvent(ev, targetLocator(ev.Target), models.InputPayload{Value: maskValue(ev.Target)}))
	})
}

func captureKeys(src Source, sink Sink) func() {
	return src.Subscribe(EventKeydown, func(ev PageEvent) {
		key, ok := NormalizeKey(ev.Key, ev.CtrlKey || ev.MetaKey)
		if !ok {
			return
		}
		loc := &models.Locator{ElementTag: models.DocumentTag}
		if ev.Target != nil {
			loc = targetLocator(ev.Target)
			loc.ElementText = ""
		}
		sink.Emit(rawEvent(ev, loc, models.KeyPayload{Key: key}))
	})
}

func captureNavigation(src Source, sink Sink) func() {
	return src.Subscribe(EventMeta, func(ev PageEvent) {
		if ev.Href == "" {
			return
		}
		sink.Emit(rawEvent(ev, nil, models.NavigationPayload{Href: ev.Href}))
	})
}

// captureHighlight consumes hover and focus events. The overlay itself is
// drawn by the shim; these events are never recorded.
func captureHighlight(src Source, _ Sink) func() {
	noop := func(PageEvent) {}
	unsubs := []func(){
		src.Subscribe(EventMouseOver, noop),
		src.Subscribe(EventMouseOut, noop),
		src.Subscribe(EventFocus, noop),
		src.Subscribe(EventBlur, noop),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func captureRrweb(src Source, sink Sink) func() {
	return src.Subscribe(EventRrweb, func(ev PageEvent) {
		if raw, ok := ParseRrweb(ev); ok {
			sink.Emit(raw)
		}
	})
}

// ParseRrweb maps a session-replay stream event to a raw event. Meta events
// with an href become navigations and incremental scroll snapshots become
// scrolls; everything else is ignored.
func ParseRrweb(ev PageEvent) (models.RawEvent, bool) {
	if len(ev.Event) == 0 {
		return models.RawEvent{}, false
	}
	r := gjson.ParseBytes(ev.Event)
	if ts := r.Get("timestamp"); ts.Exists() {
		ev.Timestamp = ts.Int()
	}
	data := r.Get("data")

	switch r.Get("type").Int() {
	case rrwebMeta:
		href := data.Get("href").String()
		if href == "" {
			return models.RawEvent{}, false
		}
		return rawEvent(ev, nil, models.NavigationPayload{Href: href}), true

	case rrwebIncrementalSnapshot:
		if data.Get("source").Int() != rrwebSourceScroll {
			return models.RawEvent{}, false
		}
		loc := &models.Locator{ElementTag: models.DocumentTag}
		if ev.Target != nil && !ev.IsDocument {
			loc = targetLocator(ev.Target)
			loc.ElementText = ""
		}
		return rawEvent(ev, loc, models.ScrollPayload{
			TargetID: data.Get("id").Int(),
			X:        data.Get("x").Float(),
			Y:        data.Get("y").Float(),
		}), true
	}
	return models.RawEvent{}, false
}

// ScrollCapturer throttles scroll events per tab with leading and trailing
// edges.
type ScrollCapturer struct {
	Wait  time.Duration
	Clock clock.Clock
}

func (s *ScrollCapturer) Attach(src Source, sink Sink) func() {
	wait := s.Wait
	if wait <= 0 {
		wait = ScrollWait
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real
	}

	var mu sync.Mutex
	perTab := make(map[string]*throttle.Throttle[PageEvent])
	emit := func(ev PageEvent) { sink.Emit(scrollEvent(ev)) }

	unsub := src.Subscribe(EventScroll, func(ev PageEvent) {
		mu.Lock()
		t, ok := perTab[ev.TabID]
		if !ok {
			t = throttle.New(wait, emit, throttle.WithClock(clk))
			perTab[ev.TabID] = t
		}
		mu.Unlock()
		t.Call(ev)
	})

	return func() {
		unsub()
		mu.Lock()
		defer mu.Unlock()
		for _, t := range perTab {
			t.Cancel()
		}
		perTab = make(map[string]*throttle.Throttle[PageEvent])
	}
}

func scrollEvent(ev PageEvent) models.RawEvent {
	loc := &models.Locator{ElementTag: models.DocumentTag}
	if ev.Target != nil && !ev.IsDocument {
		loc = targetLocator(ev.Target)
		loc.ElementText = ""
	}
	return rawEvent(ev, loc, models.ScrollPayload{TargetID: ev.NodeID, X: ev.ScrollX, Y: ev.ScrollY})
}
