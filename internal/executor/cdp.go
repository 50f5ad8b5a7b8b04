package executor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"flowcraft/backend/pkg/chrome"
)

const commandTimeout = 10 * time.Second

const touchExpr = `navigator.maxTouchPoints > 0 || ("ontouchstart" in window)`

// CDP implements every channel on a chromedp-driven browser.
type CDP struct {
	browser *chrome.Browser
	log     logrus.FieldLogger

	mu       sync.Mutex
	attached map[string]int
}

func NewCDP(b *chrome.Browser, log logrus.FieldLogger) *CDP {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &CDP{browser: b, log: log, attached: make(map[string]int)}
}

func (c *CDP) tab(id string) (*chrome.Tab, error) {
	t, ok := c.browser.Tab(id)
	if !ok {
		return nil, fmt.Errorf("tab %s not found", id)
	}
	return t, nil
}

// Eval runs expr in the page and decodes its value into out.
func (c *CDP) Eval(ctx context.Context, tabID, expr string, out interface{}) error {
	t, err := c.tab(tabID)
	if err != nil {
		return err
	}
	return t.Run(ctx, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// Attach opens a session on the tab. A tab that already has a session is
// shared rather than rejected.
func (c *CDP) Attach(ctx context.Context, tabID string) (ProtocolSession, error) {
	t, err := c.tab(tabID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.attached[tabID] > 0 {
		c.log.WithField("tab", tabID).Debug("Debugger already attached, reusing session")
	}
	c.attached[tabID]++
	c.mu.Unlock()
	return &cdpSession{owner: c, tab: t}, nil
}

func (c *CDP) release(tabID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached[tabID] <= 1 {
		delete(c.attached, tabID)
		return
	}
	c.attached[tabID]--
}

// OpenTab opens a blank tab, loads url in it and returns its id.
func (c *CDP) OpenTab(ctx context.Context, url string) (string, error) {
	t, err := c.browser.NewTab(ctx, "about:blank")
	if err != nil {
		return "", err
	}
	if err := t.Navigate(ctx, url); err != nil {
		return t.ID, err
	}
	return t.ID, nil
}

func (c *CDP) Navigate(ctx context.Context, tabID, url string) error {
	t, err := c.tab(tabID)
	if err != nil {
		return err
	}
	if err := c.browser.Activate(ctx, tabID); err != nil {
		c.log.WithError(err).WithField("tab", tabID).Warn("⚠️ Failed to activate tab")
	}
	return t.Navigate(ctx, url)
}

type cdpSession struct {
	owner *CDP
	tab   *chrome.Tab
	once  sync.Once
}

func (s *cdpSession) do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return s.tab.Run(ctx, chromedp.ActionFunc(fn))
}

func (s *cdpSession) TouchEmulated(ctx context.Context) (bool, error) {
	var touch bool
	err := s.do(ctx, func(ctx context.Context) error {
		return chromedp.Evaluate(touchExpr, &touch).Do(ctx)
	})
	return touch, err
}

func (s *cdpSession) MouseClick(ctx context.Context, x, y float64) error {
	return s.do(ctx, func(ctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return fmt.Errorf("mouse press: %w", err)
		}
		release := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := release.Do(ctx); err != nil {
			return fmt.Errorf("mouse release: %w", err)
		}
		return nil
	})
}

func (s *cdpSession) Tap(ctx context.Context, x, y float64) error {
	return s.do(ctx, func(ctx context.Context) error {
		if err := input.DispatchTouchEvent(input.TouchStart, []*input.TouchPoint{{X: x, Y: y}}).Do(ctx); err != nil {
			return fmt.Errorf("touch start: %w", err)
		}
		if err := input.DispatchTouchEvent(input.TouchEnd, []*input.TouchPoint{}).Do(ctx); err != nil {
			return fmt.Errorf("touch end: %w", err)
		}
		return nil
	})
}

func (s *cdpSession) Key(ctx context.Context, def KeyDefinition, mods Modifiers) error {
	return s.do(ctx, func(ctx context.Context) error {
		downType := input.KeyDown
		if def.Text == "" {
			downType = input.KeyRawDown
		}
		down := input.DispatchKeyEvent(downType).
			WithModifiers(input.Modifier(mods)).
			WithKey(def.Key).
			WithCode(def.Code).
			WithWindowsVirtualKeyCode(def.KeyCode).
			WithText(def.Text).
			WithUnmodifiedText(def.Text)
		if err := down.Do(ctx); err != nil {
			return fmt.Errorf("dispatching key event down: %w", err)
		}
		up := input.DispatchKeyEvent(input.KeyUp).
			WithModifiers(input.Modifier(mods)).
			WithKey(def.Key).
			WithCode(def.Code).
			WithWindowsVirtualKeyCode(def.KeyCode)
		if err := up.Do(ctx); err != nil {
			return fmt.Errorf("dispatching key event up: %w", err)
		}
		return nil
	})
}

func (s *cdpSession) InsertText(ctx context.Context, text string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	})
}

func (s *cdpSession) Detach() error {
	s.once.Do(func() { s.owner.release(s.tab.ID) })
	return nil
}
