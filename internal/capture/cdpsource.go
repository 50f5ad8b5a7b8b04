package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"flowcraft/backend/pkg/chrome"
)

const pushTimeout = 5 * time.Second

// CDPSource installs the shim into tabs and publishes the events it posts
// through the page binding. It also pushes recording state to pages.
type CDPSource struct {
	*Mux
	log    logrus.FieldLogger
	events chan PageEvent

	mu   sync.Mutex
	tabs map[string]*chrome.Tab
}

func NewCDPSource(log logrus.FieldLogger) *CDPSource {
	return &CDPSource{
		Mux:    NewMux(),
		log:    log,
		events: make(chan PageEvent, 1024),
		tabs:   make(map[string]*chrome.Tab),
	}
}

// Run publishes queued page events until ctx is done.
func (s *CDPSource) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.Publish(ev)
		}
	}
}

// Install adds the binding and the shim to tab. Installing a tab twice is a
// no-op.
func (s *CDPSource) Install(ctx context.Context, tab *chrome.Tab) error {
	s.mu.Lock()
	if _, ok := s.tabs[tab.ID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.tabs[tab.ID] = tab
	s.mu.Unlock()

	// listeners registered before the attach are not synchronized by chromedp
	if err := tab.Attach(ctx); err != nil {
		s.Forget(tab.ID)
		return err
	}
	chromedp.ListenTarget(tab.Context(), func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == BindingName {
			s.enqueue(tab.ID, e.Payload)
		}
	})

	err := tab.Run(ctx,
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(Script).Do(ctx)
			return err
		}),
		chromedp.Evaluate(Script, nil),
	)
	if err != nil {
		s.Forget(tab.ID)
		return fmt.Errorf("failed to install shim in tab %s: %w", tab.ID, err)
	}
	s.log.WithField("tab", tab.ID).Debug("Shim installed")
	return nil
}

func (s *CDPSource) enqueue(tabID, payload string) {
	var ev PageEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.log.WithError(err).WithField("tab", tabID).Warn("⚠️ Malformed page event")
		return
	}
	ev.TabID = tabID
	select {
	case s.events <- ev:
	default:
		s.log.WithField("tab", tabID).WithField("type", ev.Type).Warn("⚠️ Page event queue full, dropping event")
	}
}

// Forget stops tracking a tab, typically after it was closed.
func (s *CDPSource) Forget(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, tabID)
}

// Tabs returns the ids of the tabs with an installed shim.
func (s *CDPSource) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tabs))
	for id := range s.tabs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetRecording attaches or detaches the shim listeners in one tab.
func (s *CDPSource) SetRecording(ctx context.Context, tabID string, on bool) error {
	s.mu.Lock()
	tab, ok := s.tabs[tabID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tab %s has no shim installed", tabID)
	}
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	return tab.Run(ctx, chromedp.Evaluate(SetRecordingExpr(on), nil))
}
