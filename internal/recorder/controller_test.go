package recorder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"flowcraft/backend/internal/capture"
	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/hub"
	"flowcraft/backend/internal/models"
	"flowcraft/backend/pkg/chrome"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type push struct {
	tab string
	on  bool
}

type fakePages struct {
	mu     sync.Mutex
	tabs   []string
	fail   map[string]bool
	pushes []push
}

func (p *fakePages) Tabs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tabs...)
}

func (p *fakePages) SetRecording(_ context.Context, tab string, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{tab, on})
	if p.fail[tab] {
		return errors.New("no listener")
	}
	return nil
}

func (p *fakePages) got() []push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]push(nil), p.pushes...)
}

type fakeUI struct {
	mu   sync.Mutex
	msgs []string
	data []interface{}
}

func (u *fakeUI) Broadcast(t string, data interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.msgs = append(u.msgs, t)
	u.data = append(u.data, data)
}

func (u *fakeUI) count(t string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, m := range u.msgs {
		if m == t {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl  *Controller
	mux   *capture.Mux
	pages *fakePages
	ui    *fakeUI
	clk   *clock.Fake
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		mux:   capture.NewMux(),
		pages: &fakePages{tabs: []string{"T1", "T2"}},
		ui:    &fakeUI{},
		clk:   clock.NewFake(time.Unix(1_700_000_000, 0)),
	}
	opts.Pages, opts.UI, opts.Clock = h.pages, h.ui, h.clk
	h.ctrl = New(h.mux, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func button() *capture.Target {
	return &capture.Target{Locator: models.Locator{XPath: `id("go")`, CSSSelector: "button#go", ElementTag: "BUTTON", ElementText: "Go"}}
}

func (h *harness) click(tab string, ts int64) {
	h.mux.Publish(capture.PageEvent{Type: capture.EventClick, TabID: tab, Timestamp: ts, URL: "https://a.test/", Target: button()})
}

func TestStatusLifecycle(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	s, err := h.ctrl.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, s)

	require.NoError(t, h.ctrl.Start(ctx))
	s, _ = h.ctrl.Status(ctx)
	assert.Equal(t, models.StatusRecording, s)

	h.click("T1", 10)
	require.NoError(t, h.ctrl.Stop(ctx))
	s, _ = h.ctrl.Status(ctx)
	assert.Equal(t, models.StatusStopped, s)

	data, err := h.ctrl.Data(ctx)
	require.NoError(t, err)
	require.Len(t, data.Workflow.Steps, 1)
	assert.Equal(t, models.StatusStopped, data.Status)
}

func TestStopWithoutStepsIsIdle(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))
	s, _ := h.ctrl.Status(ctx)
	assert.Equal(t, models.StatusIdle, s)
}

func TestStartIsNoOpWhileRecording(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	h.click("T1", 10)
	require.NoError(t, h.ctrl.Start(ctx))

	data, _ := h.ctrl.Data(ctx)
	assert.Len(t, data.Workflow.Steps, 1, "second start must not clear the buffer")
	assert.Equal(t, 1, h.ui.count(hub.TypeRecordingStatus))
}

func TestRestartClearsBuffer(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	h.click("T1", 10)
	require.NoError(t, h.ctrl.Stop(ctx))
	require.NoError(t, h.ctrl.Start(ctx))

	data, _ := h.ctrl.Data(ctx)
	assert.Empty(t, data.Workflow.Steps)
}

func TestEventsOutsideRecordingAreDropped(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	h.click("T1", 5)
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))
	h.click("T1", 6)
	h.ctrl.Emit(models.RawEvent{TabID: "T1", PageURL: "https://a.test/", Locator: &models.Locator{XPath: "x", ElementTag: "A"}, Payload: models.ClickPayload{}})

	events, err := h.ctrl.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStatusIsPushedToEveryPageDespiteFailures(t *testing.T) {
	h := start(t, Options{})
	h.pages.fail = map[string]bool{"T1": true}

	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.pages.got()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []push{{"T1", true}, {"T2", true}}, h.pages.got())
}

func TestStatusRequestIsAnswered(t *testing.T) {
	h := start(t, Options{})
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.pages.got()) == 2 }, 2*time.Second, 5*time.Millisecond)

	h.mux.Publish(capture.PageEvent{Type: capture.EventStatusRequest, TabID: "T9"})
	require.Eventually(t, func() bool { return len(h.pages.got()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, push{"T9", true}, h.pages.got()[2])
}

func TestWorkflowBroadcastIsHashGated(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	before := h.ui.count(hub.TypeWorkflowUpdate)

	h.ctrl.HandleTab(chrome.TabEvent{Kind: chrome.TabUpdated, TabID: "T1", URL: "https://a.test/"})
	_, _ = h.ctrl.Status(ctx)
	assert.Equal(t, before, h.ui.count(hub.TypeWorkflowUpdate), "tab events add no steps")

	h.click("T1", 10)
	_, _ = h.ctrl.Status(ctx)
	assert.Equal(t, before+1, h.ui.count(hub.TypeWorkflowUpdate))

	events, _ := h.ctrl.Events(ctx)
	require.Len(t, events, 2)
	var kinds []models.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind())
	}
	assert.ElementsMatch(t, []models.EventKind{models.KindTab, models.KindClick}, kinds)
}

func TestCrossTabMergeKeepsArrivalOrderOnTies(t *testing.T) {
	h := start(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	h.click("T2", 20)
	h.click("T1", 10)
	h.click("T1", 20)

	data, _ := h.ctrl.Data(ctx)
	require.Len(t, data.Workflow.Steps, 3)
	var tabs []string
	for _, s := range data.Workflow.Steps {
		tabs = append(tabs, s.Base().TabID)
	}
	assert.Equal(t, []string{"T1", "T2", "T1"}, tabs)
}

func TestExternalNotifier(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()
	h := start(t, Options{External: &HTTPNotifier{URL: srv.URL, Client: client}})
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.Stop(ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "application/json", got[0])
}

func TestCallsFailAfterShutdown(t *testing.T) {
	ctrl := New(capture.NewMux(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()
	cancel()
	<-done

	assert.ErrorIs(t, ctrl.Start(context.Background()), ErrNotRunning)
}
