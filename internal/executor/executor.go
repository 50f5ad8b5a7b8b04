// Package executor performs one workflow step against one browser tab.
//
// Element-targeted actions try the protocol channel first and fall back to
// the content channel when attaching or any protocol command fails.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/metrics"
	"flowcraft/backend/internal/models"
)

const (
	DefaultRetryCount     = 6
	DefaultRetryInterval  = 1000 * time.Millisecond
	DefaultScrollAttempts = 3
	DefaultSettleDelay    = 1000 * time.Millisecond
	DefaultLoadTimeout    = 30 * time.Second

	// NoRetries asks for a single resolution attempt.
	NoRetries = -1

	loadPollInterval = 100 * time.Millisecond
)

type Options struct {
	// RetryCount is the number of resolution retries after the first attempt.
	// Zero selects DefaultRetryCount; NoRetries (or any negative value)
	// allows the first attempt only.
	RetryCount     int
	RetryInterval  time.Duration
	ScrollAttempts int
	SettleDelay    time.Duration
	LoadTimeout    time.Duration

	Clock   clock.Clock
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

func (o *Options) defaults() {
	if o.RetryCount < 0 {
		o.RetryCount = 0
	} else if o.RetryCount == 0 {
		o.RetryCount = DefaultRetryCount
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.ScrollAttempts <= 0 {
		o.ScrollAttempts = DefaultScrollAttempts
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = DefaultLoadTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.Real
	}
	if o.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Log = l
	}
}

type Executor struct {
	content  ContentChannel
	protocol ProtocolChannel
	nav      Navigator
	opts     Options
	log      logrus.FieldLogger
}

// New builds an executor. protocol may be nil, in which case every action
// runs on the content channel.
func New(content ContentChannel, protocol ProtocolChannel, nav Navigator, opts Options) *Executor {
	opts.defaults()
	return &Executor{
		content:  content,
		protocol: protocol,
		nav:      nav,
		opts:     opts,
		log:      opts.Log,
	}
}

// Execute runs step and returns the tab the replay continues in. Navigation
// steps may open a new tab; every other step keeps tabID.
func (e *Executor) Execute(ctx context.Context, step models.Step, tabID string) (string, error) {
	if nav, ok := step.(*models.NavigationStep); ok {
		return e.navigate(ctx, nav, tabID)
	}
	if _, ok := step.(*models.UnknownStep); ok {
		return tabID, fmt.Errorf("%w: %s", ErrUnknownStep, step.Base().Type)
	}
	if tabID == "" {
		return tabID, actionFailed(step.Base().Type, "No active tab for playback", nil)
	}

	var err error
	switch s := step.(type) {
	case *models.ClickStep:
		err = e.click(ctx, s, tabID)
	case *models.InputStep:
		err = e.input(ctx, s, tabID)
	case *models.KeyPressStep:
		err = e.keyPress(ctx, s, tabID)
	case *models.ScrollStep:
		err = e.scroll(ctx, s, tabID)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownStep, step)
	}
	return tabID, err
}

// withProtocol attaches, runs fn and always detaches. It reports false when
// the protocol path could not complete so the caller can fall back.
func (e *Executor) withProtocol(ctx context.Context, tabID string, fn func(ProtocolSession) error) bool {
	if e.protocol == nil {
		return false
	}
	sess, err := e.protocol.Attach(ctx, tabID)
	if err != nil {
		e.log.WithError(err).WithField("tab", tabID).Debug("Protocol attach failed, using content channel")
		return false
	}
	defer func() {
		if err := sess.Detach(); err != nil {
			e.log.WithError(err).WithField("tab", tabID).Debug("Protocol detach failed")
		}
	}()
	if err := fn(sess); err != nil {
		e.log.WithError(err).WithField("tab", tabID).Warn("⚠️ Protocol command failed, using content channel")
		return false
	}
	return true
}

// run evaluates a mutation script and turns an unsuccessful result into an
// ActionFailed error.
func (e *Executor) run(ctx context.Context, stepType models.StepType, tabID, expr string) error {
	var res scriptResult
	if err := e.content.Eval(ctx, tabID, expr, &res); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return actionFailed(stepType, "page script failed", err)
	}
	if !res.Success {
		return actionFailed(stepType, res.Message, nil)
	}
	return nil
}

func (e *Executor) click(ctx context.Context, s *models.ClickStep, tabID string) error {
	el, err := e.Resolve(ctx, tabID, s.Locator, ResolveOptions{RequireClickable: true})
	if err != nil {
		return err
	}
	if !el.Clickable() {
		return actionFailed(models.StepClick, "Element cannot be clicked: "+el.Issues(), nil)
	}

	if e.withProtocol(ctx, tabID, func(sess ProtocolSession) error {
		touch, err := sess.TouchEmulated(ctx)
		if err != nil {
			return err
		}
		if touch {
			return sess.Tap(ctx, el.X, el.Y)
		}
		return sess.MouseClick(ctx, el.X, el.Y)
	}) {
		return nil
	}
	return e.run(ctx, models.StepClick, tabID, call(clickBody, map[string]interface{}{"loc": targetOf(s.Locator)}))
}

func isTextField(tag string) bool {
	return tag == "INPUT" || tag == "TEXTAREA" || tag == "input" || tag == "textarea"
}

func (e *Executor) input(ctx context.Context, s *models.InputStep, tabID string) error {
	el, err := e.Resolve(ctx, tabID, s.Locator, ResolveOptions{FirstMatch: true})
	if err != nil {
		return err
	}
	if !isTextField(el.TagName) {
		return actionFailed(models.StepInput, "Element is not an input field", nil)
	}
	args := map[string]interface{}{"loc": targetOf(s.Locator), "value": s.Value}

	if e.withProtocol(ctx, tabID, func(sess ProtocolSession) error {
		if err := e.run(ctx, models.StepInput, tabID, call(focusClearBody, args)); err != nil {
			return err
		}
		if err := sess.InsertText(ctx, s.Value); err != nil {
			return err
		}
		return e.run(ctx, models.StepInput, tabID, call(changeBody, args))
	}) {
		return nil
	}
	return e.run(ctx, models.StepInput, tabID, call(inputBody, args))
}

func (e *Executor) keyPress(ctx context.Context, s *models.KeyPressStep, tabID string) error {
	def, mods, err := ParseKey(s.Key)
	if err != nil {
		return actionFailed(models.StepKeyPress, err.Error(), nil)
	}

	var loc *target
	if !s.Locator.IsZero() && s.ElementTag != models.DocumentTag {
		_, err := e.Resolve(ctx, tabID, s.Locator, ResolveOptions{FirstMatch: true})
		switch {
		case err == nil:
			t := targetOf(s.Locator)
			loc = &t
		case errors.Is(err, ErrElementNotFound):
			e.log.WithField("xpath", s.XPath).Warn("⚠️ Key target not found, using the focused element")
		default:
			return err
		}
	}
	args := map[string]interface{}{"loc": loc, "key": def, "mods": mods}

	if e.withProtocol(ctx, tabID, func(sess ProtocolSession) error {
		if err := e.run(ctx, models.StepKeyPress, tabID, call(focusBody, args)); err != nil {
			return err
		}
		return sess.Key(ctx, def, mods)
	}) {
		return nil
	}
	return e.run(ctx, models.StepKeyPress, tabID, call(keyBody, args))
}

// scroll sets offsets directly. A scroll target that never appears is
// logged and skipped.
func (e *Executor) scroll(ctx context.Context, s *models.ScrollStep, tabID string) error {
	args := map[string]interface{}{"loc": targetOf(s.Locator), "x": s.ScrollX, "y": s.ScrollY}
	if s.ElementTag == models.DocumentTag || s.XPath == "" {
		return e.run(ctx, models.StepScroll, tabID, call(windowScrollBody, args))
	}

	expr := call(elementScrollBody, args)
	for attempt := 0; attempt < e.opts.ScrollAttempts; attempt++ {
		var res scriptResult
		err := e.content.Eval(ctx, tabID, expr, &res)
		if err == nil && res.Success {
			return nil
		}
		if attempt < e.opts.ScrollAttempts-1 {
			if err := e.opts.Clock.Sleep(ctx, e.opts.RetryInterval); err != nil {
				return err
			}
		}
	}
	e.log.WithFields(logrus.Fields{"tab": tabID, "xpath": s.XPath}).Warn("⚠️ Scroll target not found, skipping")
	return nil
}

// navigate opens a tab when none is active and navigates the active one
// otherwise, then waits for the document to finish loading and settle.
func (e *Executor) navigate(ctx context.Context, s *models.NavigationStep, tabID string) (string, error) {
	if s.URL == "" {
		return tabID, actionFailed(models.StepNavigation, "navigation step has no url", nil)
	}
	if e.nav == nil {
		return tabID, actionFailed(models.StepNavigation, "no navigator configured", nil)
	}

	if tabID == "" {
		id, err := e.nav.OpenTab(ctx, s.URL)
		if err != nil {
			return tabID, actionFailed(models.StepNavigation, "failed to create tab", err)
		}
		tabID = id
	} else if err := e.nav.Navigate(ctx, tabID, s.URL); err != nil {
		return tabID, actionFailed(models.StepNavigation, "failed to navigate to "+s.URL, err)
	}

	if err := e.waitLoaded(ctx, tabID); err != nil {
		return tabID, err
	}
	e.log.WithFields(logrus.Fields{"tab": tabID, "url": s.URL}).Info("🌐 Page loaded")
	if err := e.opts.Clock.Sleep(ctx, e.opts.SettleDelay); err != nil {
		return tabID, err
	}
	return tabID, nil
}

// Navigate runs a navigation to url as its own step.
func (e *Executor) Navigate(ctx context.Context, url, tabID string) (string, error) {
	return e.navigate(ctx, &models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, URL: url}}, tabID)
}

// waitLoaded polls the document ready state. The load timeout also bounds
// each poll, so a tab that stops answering cannot hold playback.
func (e *Executor) waitLoaded(parent context.Context, tabID string) error {
	ctx, cancel := context.WithTimeout(parent, e.opts.LoadTimeout)
	defer cancel()
	deadline := e.opts.Clock.Now().Add(e.opts.LoadTimeout)
	timedOut := actionFailed(models.StepNavigation, "page did not finish loading", nil)
	for {
		var state string
		if err := e.content.Eval(ctx, tabID, readyStateExpr, &state); err == nil && state == "complete" {
			return nil
		}
		if !e.opts.Clock.Now().Before(deadline) {
			return timedOut
		}
		if err := e.opts.Clock.Sleep(ctx, loadPollInterval); err != nil {
			if parent.Err() == nil {
				return timedOut
			}
			return err
		}
	}
}
