// Package recorder coordinates a recording session: it gates the capturers,
// owns the session buffer and broadcasts status and workflow updates.
package recorder

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/capture"
	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/consolidate"
	"flowcraft/backend/internal/hub"
	"flowcraft/backend/internal/metrics"
	"flowcraft/backend/internal/models"
	"flowcraft/backend/internal/session"
	"flowcraft/backend/internal/workflow"
	"flowcraft/backend/pkg/chrome"
)

var ErrNotRunning = errors.New("recording controller is not running")

const (
	pushTimeout   = 5 * time.Second
	notifyTimeout = 10 * time.Second
)

// PageBroadcaster pushes the recording state into page contexts.
type PageBroadcaster interface {
	Tabs() []string
	SetRecording(ctx context.Context, tabID string, on bool) error
}

// UIBroadcaster delivers updates to UI clients.
type UIBroadcaster interface {
	Broadcast(msgType string, data interface{})
}

// StatusMessage is broadcast on every recording state change.
type StatusMessage struct {
	Status      models.RecordingStatus `json:"status"`
	IsRecording bool                   `json:"isRecording"`
}

// Recording is the current workflow plus its derived status.
type Recording struct {
	Workflow models.Workflow        `json:"workflow"`
	Status   models.RecordingStatus `json:"recordingStatus"`
}

type Options struct {
	Log      logrus.FieldLogger
	Clock    clock.Clock
	Pages    PageBroadcaster
	UI       UIBroadcaster
	External ExternalNotifier
	Metrics  *metrics.Metrics
	// Capturers overrides the default capturer set.
	Capturers []capture.Capturer
}

type pushRequest struct {
	tabID string // empty means every tab
	on    bool
}

// Controller is a single-goroutine actor. Every state change runs on the
// goroutine started by Run.
type Controller struct {
	log      logrus.FieldLogger
	clock    clock.Clock
	pages    PageBroadcaster
	ui       UIBroadcaster
	external ExternalNotifier
	metrics  *metrics.Metrics
	src      capture.Source

	ops     chan func()
	pushes  chan pushRequest
	stopped chan struct{}

	// owned by the Run goroutine
	recording bool
	buffer    *session.Buffer
	assembler *workflow.Assembler
	notifier  *workflow.Notifier
	current   models.Workflow
	capture   *capture.Group
}

func New(src capture.Source, opts Options) *Controller {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real
	}

	c := &Controller{
		log:      log,
		clock:    clk,
		pages:    opts.Pages,
		ui:       opts.UI,
		external: opts.External,
		metrics:  opts.Metrics,
		src:      src,
		ops:      make(chan func(), 256),
		pushes:   make(chan pushRequest, 64),
		stopped:  make(chan struct{}),
		buffer:   session.NewBuffer(),
	}
	c.assembler = &workflow.Assembler{
		Consolidator: &consolidate.Consolidator{Log: log, TabInfo: c.buffer.TabInfo},
		Clock:        clk,
	}
	c.notifier = workflow.NewNotifier(c.broadcastWorkflow)
	c.current = c.assembler.Assemble(nil)

	capturers := opts.Capturers
	if capturers == nil {
		capturers = capture.DefaultCapturers(clk)
	}
	c.capture = capture.NewGroup(src, capture.SinkFunc(c.Emit), capturers...)
	return c
}

// Run processes operations until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	unsub := c.src.Subscribe(capture.EventStatusRequest, c.onStatusRequest)
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		c.pushLoop(ctx)
	}()

	defer func() {
		unsub()
		c.capture.Detach()
		close(c.stopped)
		<-pushDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.ops:
			op()
		}
	}
}

// post queues op without waiting for it to run.
func (c *Controller) post(op func()) {
	select {
	case c.ops <- op:
	case <-c.stopped:
	}
}

// do runs op on the controller goroutine and waits for it.
func (c *Controller) do(ctx context.Context, op func()) error {
	done := make(chan struct{})
	select {
	case c.ops <- func() { op(); close(done) }:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins a new recording. It is a no-op while already recording.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() {
		if c.recording {
			return
		}
		c.buffer.Clear()
		c.recording = true
		c.capture.Attach()
		c.metrics.SetRecording(true)
		c.log.Info("🎬 Recording started")

		c.broadcastStatus()
		c.recompute()
		c.notifyExternal(ExternalEvent{Event: EventRecordingStarted, Status: models.StatusRecording})
	})
}

// Stop ends the recording and keeps the workflow for inspection. It is a
// no-op when not recording.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func() {
		if !c.recording {
			return
		}
		c.recording = false
		c.capture.Detach()
		c.metrics.SetRecording(false)
		c.log.WithField("steps", len(c.current.Steps)).Info("⏹️ Recording stopped")

		c.broadcastStatus()
		wf := c.current
		c.notifyExternal(ExternalEvent{Event: EventRecordingStopped, Status: c.status(), Workflow: &wf})
	})
}

func (c *Controller) status() models.RecordingStatus {
	switch {
	case c.recording:
		return models.StatusRecording
	case len(c.current.Steps) > 0:
		return models.StatusStopped
	default:
		return models.StatusIdle
	}
}

func (c *Controller) Status(ctx context.Context) (models.RecordingStatus, error) {
	var s models.RecordingStatus
	err := c.do(ctx, func() { s = c.status() })
	return s, err
}

// Data returns the current workflow and status.
func (c *Controller) Data(ctx context.Context) (Recording, error) {
	var r Recording
	err := c.do(ctx, func() {
		r = Recording{Workflow: c.current, Status: c.status()}
	})
	return r, err
}

// Events returns the merged raw event log.
func (c *Controller) Events(ctx context.Context) ([]models.RawEvent, error) {
	var events []models.RawEvent
	err := c.do(ctx, func() { events = c.buffer.Snapshot() })
	return events, err
}

// Emit is the capture sink. Events arriving while not recording are dropped.
func (c *Controller) Emit(ev models.RawEvent) {
	c.post(func() { c.record(ev) })
}

func (c *Controller) record(ev models.RawEvent) {
	if !c.recording {
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = clock.NowMillis(c.clock)
	}
	c.buffer.Record(ev.TabID, ev)
	c.metrics.RawEvent(string(ev.Kind()))
	c.recompute()
}

func (c *Controller) recompute() {
	c.current = c.assembler.Assemble(c.buffer.Snapshot())
	sent, err := c.notifier.MaybeNotify(c.current)
	if err != nil {
		c.log.WithError(err).Error("Failed to hash workflow")
		return
	}
	c.metrics.Broadcast(sent)
}

// HandleTab records tab lifecycle changes and keeps first-known tab metadata.
func (c *Controller) HandleTab(ev chrome.TabEvent) {
	c.post(func() {
		kind := tabEventType(ev.Kind)
		if ev.Kind == chrome.TabCreated || ev.Kind == chrome.TabUpdated {
			c.buffer.SetTabInfo(ev.TabID, models.TabInfo{URL: ev.URL, Title: ev.Title})
		}
		c.log.WithFields(logrus.Fields{"tab": ev.TabID, "event": kind, "url": ev.URL}).Debug("Tab event")
		c.record(models.RawEvent{
			TabID:   ev.TabID,
			PageURL: ev.URL,
			Payload: models.TabPayload{Event: kind, URL: ev.URL, Title: ev.Title},
		})
	})
}

func tabEventType(k chrome.TabEventKind) models.TabEventType {
	switch k {
	case chrome.TabCreated:
		return models.TabCreated
	case chrome.TabActivated:
		return models.TabActivated
	case chrome.TabRemoved:
		return models.TabRemoved
	}
	return models.TabUpdated
}

// onStatusRequest answers a page that asked for the current state on load.
func (c *Controller) onStatusRequest(ev capture.PageEvent) {
	c.post(func() {
		c.queuePush(pushRequest{tabID: ev.TabID, on: c.recording})
	})
}

func (c *Controller) broadcastStatus() {
	c.queuePush(pushRequest{on: c.recording})
	if c.ui != nil {
		c.ui.Broadcast(hub.TypeRecordingStatus, StatusMessage{Status: c.status(), IsRecording: c.recording})
	}
}

func (c *Controller) broadcastWorkflow(wf models.Workflow) {
	if c.ui != nil {
		c.ui.Broadcast(hub.TypeWorkflowUpdate, Recording{Workflow: wf, Status: c.status()})
	}
}

func (c *Controller) queuePush(req pushRequest) {
	if c.pages == nil {
		return
	}
	select {
	case c.pushes <- req:
	default:
		c.log.WithField("tab", req.tabID).Warn("⚠️ Page push queue full, dropping state push")
	}
}

// pushLoop delivers state pushes in order. A failing tab is logged and
// skipped.
func (c *Controller) pushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.pushes:
			tabs := []string{req.tabID}
			if req.tabID == "" {
				tabs = c.pages.Tabs()
			}
			for _, tab := range tabs {
				pctx, cancel := context.WithTimeout(ctx, pushTimeout)
				if err := c.pages.SetRecording(pctx, tab, req.on); err != nil {
					c.log.WithError(err).WithField("tab", tab).Debug("Failed to push recording state")
				}
				cancel()
			}
		}
	}
}

func (c *Controller) notifyExternal(ev ExternalEvent) {
	if c.external == nil {
		return
	}
	ev.Timestamp = clock.NowMillis(c.clock)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := c.external.Notify(ctx, ev); err != nil {
			c.log.WithError(err).WithField("event", ev.Event).Warn("⚠️ External notification failed")
		}
	}()
}
