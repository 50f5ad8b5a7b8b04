// Package replay walks a workflow's steps in order against one tab.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/executor"
	"flowcraft/backend/internal/hub"
	"flowcraft/backend/internal/metrics"
	"flowcraft/backend/internal/models"
)

var ErrAlreadyPlaying = errors.New("Playback already in progress")

const (
	MinDelay = 100 * time.Millisecond
	MaxDelay = 2000 * time.Millisecond
)

// Executor runs one step and returns the tab replay continues in.
type Executor interface {
	Execute(ctx context.Context, step models.Step, tabID string) (string, error)
}

type UIBroadcaster interface {
	Broadcast(msgType string, data interface{})
}

// Status is safe to read at any time.
type Status struct {
	IsPlaying    bool   `json:"isPlaying"`
	CurrentTabID string `json:"currentTabId"`
	RunID        string `json:"runId,omitempty"`
	Workflow     string `json:"workflow,omitempty"`
	// Step is the 1-based index of the step being executed.
	Step       int    `json:"step,omitempty"`
	TotalSteps int    `json:"totalSteps,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

type Options struct {
	Log      logrus.FieldLogger
	Clock    clock.Clock
	UI       UIBroadcaster
	Metrics  *metrics.Metrics
	MinDelay time.Duration
	MaxDelay time.Duration
}

type Controller struct {
	exec     Executor
	log      logrus.FieldLogger
	clock    clock.Clock
	ui       UIBroadcaster
	metrics  *metrics.Metrics
	minDelay time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	status  Status
	stopped bool
}

func New(exec Executor, opts Options) *Controller {
	c := &Controller{
		exec:     exec,
		log:      opts.Log,
		clock:    opts.Clock,
		ui:       opts.UI,
		metrics:  opts.Metrics,
		minDelay: opts.MinDelay,
		maxDelay: opts.MaxDelay,
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = l
	}
	if c.clock == nil {
		c.clock = clock.Real
	}
	if c.minDelay <= 0 {
		c.minDelay = MinDelay
	}
	if c.maxDelay < c.minDelay {
		c.maxDelay = MaxDelay
	}
	return c
}

// Delay is the pause before a step recorded at cur whose predecessor was
// recorded at prev, clamped to [min, max].
func Delay(prev, cur int64, min, max time.Duration) time.Duration {
	d := time.Duration(cur-prev) * time.Millisecond
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// StartPlayback replays wf and returns when it completes, fails or is
// stopped.
func (c *Controller) StartPlayback(ctx context.Context, wf models.Workflow) error {
	if err := c.claim(wf); err != nil {
		return err
	}
	return c.run(ctx, wf)
}

// Launch claims the player and replays wf in the background. The outcome is
// reported through the status broadcast and Status().LastError.
func (c *Controller) Launch(ctx context.Context, wf models.Workflow) (string, error) {
	if err := c.claim(wf); err != nil {
		return "", err
	}
	c.mu.Lock()
	id := c.status.RunID
	c.mu.Unlock()
	go func() {
		_ = c.run(ctx, wf)
	}()
	return id, nil
}

func (c *Controller) claim(wf models.Workflow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsPlaying {
		return ErrAlreadyPlaying
	}
	c.stopped = false
	c.status = Status{
		IsPlaying:  true,
		RunID:      uuid.NewString(),
		Workflow:   wf.Name,
		TotalSteps: len(wf.Steps),
	}
	c.metrics.SetPlaying(true)
	c.broadcastLocked()
	return nil
}

// StopPlayback asks the running replay to stop before its next step. The
// step in flight is allowed to finish.
func (c *Controller) StopPlayback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsPlaying && !c.stopped {
		c.stopped = true
		c.log.WithField("run", c.status.RunID).Info("⏹️ Playback stop requested")
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) broadcastLocked() {
	if c.ui != nil {
		c.ui.Broadcast(hub.TypePlaybackStatus, c.status)
	}
}

func (c *Controller) update(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
	c.broadcastLocked()
}

func (c *Controller) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Controller) run(ctx context.Context, wf models.Workflow) (err error) {
	log := c.log.WithFields(logrus.Fields{"workflow": wf.Name, "steps": len(wf.Steps)})
	log.Info("▶️ Starting playback")

	stopped := false
	defer func() {
		result := "completed"
		switch {
		case err != nil:
			result = "failed"
			log.WithError(err).Error("❌ Playback failed")
		case stopped:
			result = "stopped"
			log.Info("⏹️ Playback stopped")
		default:
			log.Info("✅ Playback completed")
		}
		c.metrics.Playback(result)
		c.metrics.SetPlaying(false)
		c.update(func(s *Status) {
			s.IsPlaying = false
			s.CurrentTabID = ""
			s.Step = 0
			if err != nil {
				s.LastError = err.Error()
			}
			c.stopped = false
		})
	}()

	steps := wf.Steps
	tabID := ""
	if len(steps) > 0 && steps[0].Base().URL != "" {
		url := steps[0].Base().URL
		log.WithField("url", url).Info("🌐 Navigating to initial URL")
		tabID, err = c.exec.Execute(ctx, &models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, URL: url}}, "")
		if err != nil {
			return fmt.Errorf("initial navigation: %w", err)
		}
		c.update(func(s *Status) { s.CurrentTabID = tabID })
	}

	var prev int64
	if len(steps) > 0 {
		prev = steps[0].Base().Timestamp
	}
	for i, step := range steps {
		base := step.Base()
		if i > 0 {
			delay := Delay(prev, base.Timestamp, c.minDelay, c.maxDelay)
			if err := c.clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}
		prev = base.Timestamp
		if c.stopRequested() {
			stopped = true
			return nil
		}

		c.update(func(s *Status) { s.Step = i + 1 })
		if _, ok := step.(*models.NavigationStep); ok && i == 0 && tabID != "" {
			// already loaded by the initial navigation
			c.metrics.Step(string(base.Type), "ok", 0)
			continue
		}
		log.WithFields(logrus.Fields{"step": i + 1, "type": base.Type}).Debug("Executing step")

		started := c.clock.Now()
		next, err := c.exec.Execute(ctx, step, tabID)
		elapsed := c.clock.Now().Sub(started).Seconds()
		if errors.Is(err, executor.ErrUnknownStep) {
			c.metrics.Step(string(base.Type), "skipped", elapsed)
			log.WithField("type", base.Type).Warn("⚠️ Unknown action, skipping")
			continue
		}
		if err != nil {
			c.metrics.Step(string(base.Type), "failed", elapsed)
			return fmt.Errorf("step %d (%s): %w", i+1, base.Type, err)
		}
		c.metrics.Step(string(base.Type), "ok", elapsed)
		if next != tabID {
			tabID = next
			c.update(func(s *Status) { s.CurrentTabID = tabID })
		}
	}
	return nil
}
