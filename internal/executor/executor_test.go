package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcraft/backend/internal/clock"
	"flowcraft/backend/internal/models"
)

type fakeContent struct {
	mu      sync.Mutex
	exprs   []string
	respond func(expr string) (interface{}, error)
}

func (f *fakeContent) Eval(_ context.Context, _ string, expr string, out interface{}) error {
	f.mu.Lock()
	f.exprs = append(f.exprs, expr)
	respond := f.respond
	f.mu.Unlock()
	v, err := respond(expr)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeContent) count(body string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.exprs {
		if strings.Contains(e, body) {
			n++
		}
	}
	return n
}

func (f *fakeContent) last(body string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.exprs) - 1; i >= 0; i-- {
		if strings.Contains(f.exprs[i], body) {
			return f.exprs[i]
		}
	}
	return ""
}

type fakeSession struct {
	touch    bool
	failOn   string
	ops      []string
	detached int
}

func (s *fakeSession) op(name string) error {
	s.ops = append(s.ops, name)
	if s.failOn != "" && strings.HasPrefix(name, s.failOn) {
		return errors.New(name + " failed")
	}
	return nil
}

func (s *fakeSession) TouchEmulated(context.Context) (bool, error) { return s.touch, nil }

func (s *fakeSession) MouseClick(_ context.Context, x, y float64) error {
	return s.op(fmt.Sprintf("mouse %v %v", x, y))
}

func (s *fakeSession) Tap(_ context.Context, x, y float64) error {
	return s.op(fmt.Sprintf("tap %v %v", x, y))
}

func (s *fakeSession) Key(_ context.Context, def KeyDefinition, mods Modifiers) error {
	return s.op(fmt.Sprintf("key %s %d", def.Key, mods))
}

func (s *fakeSession) InsertText(_ context.Context, text string) error {
	return s.op("insert " + text)
}

func (s *fakeSession) Detach() error {
	s.detached++
	return errors.New("detach errors are ignored")
}

type fakeProtocol struct {
	sess      *fakeSession
	attachErr error
}

func (p *fakeProtocol) Attach(context.Context, string) (ProtocolSession, error) {
	if p.attachErr != nil {
		return nil, p.attachErr
	}
	return p.sess, nil
}

type fakeNav struct {
	opened    []string
	navigated []string
}

func (n *fakeNav) OpenTab(_ context.Context, url string) (string, error) {
	n.opened = append(n.opened, url)
	return "T9", nil
}

func (n *fakeNav) Navigate(_ context.Context, tabID, url string) error {
	n.navigated = append(n.navigated, tabID+" "+url)
	return nil
}

func ok() (interface{}, error) {
	return scriptResult{Success: true, Message: "ok"}, nil
}

// page answers inspections with el and every mutation script with success.
func page(el Element) func(string) (interface{}, error) {
	return func(expr string) (interface{}, error) {
		if strings.Contains(expr, inspectBody) {
			return el, nil
		}
		if expr == readyStateExpr {
			return "complete", nil
		}
		return ok()
	}
}

var button = Element{Found: true, Visible: true, OnTop: true, X: 10, Y: 20, TagName: "BUTTON"}

func newExec(content ContentChannel, protocol ProtocolChannel, nav Navigator, clk clock.Clock) *Executor {
	if clk == nil {
		clk = clock.NewFake(time.Unix(0, 0))
	}
	return New(content, protocol, nav, Options{Clock: clk})
}

func clickStep() *models.ClickStep {
	return &models.ClickStep{
		StepBase: models.StepBase{Type: models.StepClick, TabID: "T1"},
		Locator:  models.Locator{XPath: `//button[@id="go"]`, CSSSelector: "button#go", ElementTag: "BUTTON", ElementText: "Go"},
	}
}

func TestResolveExhaustsRetries(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: false})}
	clk := clock.NewFake(time.Unix(0, 0))
	e := newExec(content, nil, nil, clk)

	_, err := e.Resolve(context.Background(), "T1", models.Locator{XPath: "//nothing"}, ResolveOptions{RetryCount: 2, RetryInterval: 10 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotFound)

	var nf *ElementNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, 3, nf.Attempts)
	assert.Equal(t, 3, content.count(inspectBody))
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, clk.Slept())
}

func TestResolveWithoutRetries(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: false})}
	clk := clock.NewFake(time.Unix(0, 0))
	e := New(content, nil, nil, Options{Clock: clk, RetryCount: NoRetries})

	_, err := e.Resolve(context.Background(), "T1", models.Locator{XPath: "//nothing"}, ResolveOptions{})
	var nf *ElementNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, 1, nf.Attempts)
	assert.Empty(t, clk.Slept())

	e = newExec(content, nil, nil, clk)
	_, err = e.Resolve(context.Background(), "T1", models.Locator{XPath: "//nothing"}, ResolveOptions{RetryCount: NoRetries})
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, 1, nf.Attempts)
}

func TestResolveRetryBudgetTakesWallTime(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: false})}
	e := New(content, nil, nil, Options{Clock: clock.Real})

	start := time.Now()
	_, err := e.Resolve(context.Background(), "T1", models.Locator{XPath: "//nothing"}, ResolveOptions{RetryCount: 2, RetryInterval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestResolveSucceedsOnLaterAttempt(t *testing.T) {
	calls := 0
	content := &fakeContent{respond: func(expr string) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("context destroyed")
		}
		return button, nil
	}}
	e := newExec(content, nil, nil, nil)

	el, err := e.Resolve(context.Background(), "T1", clickStep().Locator, ResolveOptions{})
	require.NoError(t, err)
	assert.True(t, el.Clickable())
	assert.Equal(t, 3, calls)
}

func TestResolveStopsOnCancel(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: false})}
	e := newExec(content, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Resolve(ctx, "T1", clickStep().Locator, ResolveOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClickNotClickableListsReasons(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: true, TagName: "BUTTON"})}
	e := newExec(content, &fakeProtocol{sess: &fakeSession{}}, nil, nil)

	_, err := e.Execute(context.Background(), clickStep(), "T1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Contains(t, err.Error(), "Element cannot be clicked: not visible, covered by other elements")
	assert.Equal(t, DefaultRetryCount+1, content.count(inspectBody))
}

func TestClickCoveredOnlyReportsCovered(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: true, Visible: true, TagName: "BUTTON"})}
	e := newExec(content, nil, nil, nil)

	_, err := e.Execute(context.Background(), clickStep(), "T1")
	require.Error(t, err)
	assert.True(t, strings.HasSuffix(err.Error(), "Element cannot be clicked: covered by other elements"))
}

func TestClickDispatchesMouseAtCenter(t *testing.T) {
	content := &fakeContent{respond: page(button)}
	sess := &fakeSession{}
	e := newExec(content, &fakeProtocol{sess: sess}, nil, nil)

	tab, err := e.Execute(context.Background(), clickStep(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", tab)
	assert.Equal(t, []string{"mouse 10 20"}, sess.ops)
	assert.Equal(t, 1, sess.detached)
	assert.Zero(t, content.count(clickBody))
}

func TestClickTapsUnderTouchEmulation(t *testing.T) {
	content := &fakeContent{respond: page(button)}
	sess := &fakeSession{touch: true}
	e := newExec(content, &fakeProtocol{sess: sess}, nil, nil)

	_, err := e.Execute(context.Background(), clickStep(), "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tap 10 20"}, sess.ops)
}

func TestClickFallsBackWhenAttachFails(t *testing.T) {
	content := &fakeContent{respond: page(button)}
	e := newExec(content, &fakeProtocol{attachErr: errors.New("Another debugger is attached")}, nil, nil)

	_, err := e.Execute(context.Background(), clickStep(), "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, content.count(clickBody))
}

func TestClickFallsBackWhenCommandFails(t *testing.T) {
	content := &fakeContent{respond: page(button)}
	sess := &fakeSession{failOn: "mouse"}
	e := newExec(content, &fakeProtocol{sess: sess}, nil, nil)

	_, err := e.Execute(context.Background(), clickStep(), "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.detached, "session is detached even when a command fails")
	assert.Equal(t, 1, content.count(clickBody))
}

func inputStep(value string) *models.InputStep {
	return &models.InputStep{
		StepBase: models.StepBase{Type: models.StepInput},
		Locator:  models.Locator{XPath: `//input[@name="q"]`, ElementTag: "INPUT"},
		Value:    value,
	}
}

func TestInputRejectsNonTextField(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: true, TagName: "DIV"})}
	e := newExec(content, nil, nil, nil)

	_, err := e.Execute(context.Background(), inputStep("hello"), "T1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Contains(t, err.Error(), "Element is not an input field")
}

func TestInputInsertsTextOverProtocol(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: true, TagName: "INPUT"})}
	sess := &fakeSession{}
	e := newExec(content, &fakeProtocol{sess: sess}, nil, nil)

	_, err := e.Execute(context.Background(), inputStep("hello"), "T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"insert hello"}, sess.ops)
	assert.Equal(t, 1, content.count(focusClearBody))
	assert.Equal(t, 1, content.count(changeBody))
	assert.Zero(t, content.count(inputBody))
}

func TestInputContentSetsValue(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: true, TagName: "TEXTAREA"})}
	e := newExec(content, nil, nil, nil)

	_, err := e.Execute(context.Background(), inputStep(`say "hi"`), "T1")
	require.NoError(t, err)
	assert.Contains(t, content.last(inputBody), `"value":"say \"hi\""`)
}

func TestInputContentFailureIsReported(t *testing.T) {
	content := &fakeContent{respond: func(expr string) (interface{}, error) {
		if strings.Contains(expr, inspectBody) {
			return Element{Found: true, TagName: "INPUT"}, nil
		}
		return scriptResult{Success: false, Message: "Element not found"}, nil
	}}
	e := newExec(content, nil, nil, nil)

	_, err := e.Execute(context.Background(), inputStep("x"), "T1")
	assert.ErrorIs(t, err, ErrActionFailed)
}

func TestKeyPressWithoutLocatorUsesFocusedElement(t *testing.T) {
	content := &fakeContent{respond: page(button)}
	sess := &fakeSession{}
	e := newExec(content, &fakeProtocol{sess: sess}, nil, nil)

	step := &models.KeyPressStep{StepBase: models.StepBase{Type: models.StepKeyPress}, Key: "Enter"}
	_, err := e.Execute(context.Background(), step, "T1")
	require.NoError(t, err)
	assert.Zero(t, content.count(inspectBody))
	assert.Equal(t, []string{"key Enter 0"}, sess.ops)
	assert.Contains(t, content.last(focusBody), `"loc":null`)
}

func TestKeyPressMissingTargetFallsBackToFocus(t *testing.T) {
	content := &fakeContent{respond: page(Element{Found: false})}
	e := newExec(content, nil, nil, nil)

	step := &models.KeyPressStep{
		StepBase: models.StepBase{Type: models.StepKeyPress},
		Locator:  models.Locator{XPath: "//input", ElementTag: "INPUT"},
		Key:      "Tab",
	}
	_, err := e.Execute(context.Background(), step, "T1")
	require.NoError(t, err)
	assert.Contains(t, content.last(keyBody), `"loc":null`)
	assert.Contains(t, content.last(keyBody), `"code":"Tab"`)
}

func TestKeyPressUnknownKeyFails(t *testing.T) {
	e := newExec(&fakeContent{respond: page(button)}, nil, nil, nil)
	step := &models.KeyPressStep{StepBase: models.StepBase{Type: models.StepKeyPress}, Key: "Hyper+Whatever"}
	_, err := e.Execute(context.Background(), step, "T1")
	assert.ErrorIs(t, err, ErrActionFailed)
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		key  string
		code string
		mods Modifiers
	}{
		{"Enter", "Enter", "Enter", 0},
		{"enter", "Enter", "Enter", 0},
		{"Esc", "Escape", "Escape", 0},
		{"ArrowDown", "ArrowDown", "ArrowDown", 0},
		{"a", "a", "KeyA", 0},
		{"7", "7", "Digit7", 0},
		{"Shift+Tab", "Tab", "Tab", ModifierShift},
		{"Ctrl+Alt+Delete", "Delete", "Delete", ModifierCtrl | ModifierAlt},
		{"CmdOrCtrl+A", "A", "KeyA", cmdOrCtrl()},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			def, mods, err := ParseKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.key, def.Key)
			assert.Equal(t, tt.code, def.Code)
			assert.Equal(t, tt.mods, mods)
		})
	}

	def, _, err := ParseKey("CmdOrCtrl+A")
	require.NoError(t, err)
	assert.Empty(t, def.Text, "shortcuts insert no text")

	_, _, err = ParseKey("")
	assert.Error(t, err)
	_, _, err = ParseKey("NotAKey")
	assert.Error(t, err)
}

func TestScrollWindowForDocumentTarget(t *testing.T) {
	content := &fakeContent{respond: page(button)}
	e := newExec(content, nil, nil, nil)

	step := &models.ScrollStep{
		StepBase: models.StepBase{Type: models.StepScroll},
		Locator:  models.Locator{ElementTag: models.DocumentTag},
		ScrollY:  640,
	}
	_, err := e.Execute(context.Background(), step, "T1")
	require.NoError(t, err)
	assert.Contains(t, content.last(windowScrollBody), `"y":640`)
	assert.Zero(t, content.count(elementScrollBody))
}

func TestScrollMissingElementIsSkipped(t *testing.T) {
	content := &fakeContent{respond: func(string) (interface{}, error) {
		return scriptResult{Success: false, Message: "Element not found"}, nil
	}}
	clk := clock.NewFake(time.Unix(0, 0))
	e := newExec(content, nil, nil, clk)

	step := &models.ScrollStep{
		StepBase: models.StepBase{Type: models.StepScroll},
		Locator:  models.Locator{XPath: `id("list")`, ElementTag: "UL"},
		ScrollY:  100,
	}
	_, err := e.Execute(context.Background(), step, "T1")
	require.NoError(t, err)
	assert.Equal(t, DefaultScrollAttempts, content.count(elementScrollBody))
	assert.Len(t, clk.Slept(), DefaultScrollAttempts-1)
}

func TestNavigationOpensTabWaitsAndSettles(t *testing.T) {
	polls := 0
	content := &fakeContent{respond: func(expr string) (interface{}, error) {
		polls++
		if polls < 3 {
			return "loading", nil
		}
		return "complete", nil
	}}
	nav := &fakeNav{}
	clk := clock.NewFake(time.Unix(0, 0))
	e := newExec(content, nil, nav, clk)

	step := &models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, URL: "https://a.test/"}}
	tab, err := e.Execute(context.Background(), step, "")
	require.NoError(t, err)
	assert.Equal(t, "T9", tab)
	assert.Equal(t, []string{"https://a.test/"}, nav.opened)
	assert.Equal(t, []time.Duration{loadPollInterval, loadPollInterval, DefaultSettleDelay}, clk.Slept())
}

func TestNavigationReusesActiveTab(t *testing.T) {
	nav := &fakeNav{}
	e := newExec(&fakeContent{respond: page(button)}, nil, nav, nil)

	step := &models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, URL: "https://b.test/"}}
	tab, err := e.Execute(context.Background(), step, "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", tab)
	assert.Empty(t, nav.opened)
	assert.Equal(t, []string{"T1 https://b.test/"}, nav.navigated)
}

func TestNavigationTimesOut(t *testing.T) {
	content := &fakeContent{respond: func(string) (interface{}, error) { return "loading", nil }}
	e := New(content, nil, &fakeNav{}, Options{Clock: clock.NewFake(time.Unix(0, 0)), LoadTimeout: time.Second})

	step := &models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, URL: "https://a.test/"}}
	_, err := e.Execute(context.Background(), step, "")
	assert.ErrorIs(t, err, ErrActionFailed)
}

// silentContent never answers, like a tab whose event loop has stopped.
type silentContent struct{}

func (silentContent) Eval(ctx context.Context, _ string, _ string, _ interface{}) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestNavigationToSilentTabTimesOut(t *testing.T) {
	e := New(silentContent{}, nil, &fakeNav{}, Options{Clock: clock.Real, LoadTimeout: 50 * time.Millisecond})

	step := &models.NavigationStep{StepBase: models.StepBase{Type: models.StepNavigation, URL: "https://a.test/"}}
	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), step, "")
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrActionFailed)
		assert.Contains(t, err.Error(), "page did not finish loading")
	case <-time.After(5 * time.Second):
		t.Fatal("navigation never returned")
	}
}

func TestStepsNeedAnActiveTab(t *testing.T) {
	e := newExec(&fakeContent{respond: page(button)}, nil, nil, nil)
	_, err := e.Execute(context.Background(), clickStep(), "")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Contains(t, err.Error(), "No active tab for playback")
}

func TestUnknownStep(t *testing.T) {
	e := newExec(&fakeContent{respond: page(button)}, nil, nil, nil)
	step := &models.UnknownStep{StepBase: models.StepBase{Type: "hover"}}
	_, err := e.Execute(context.Background(), step, "T1")
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &ElementNotFoundError{Locator: models.Locator{XPath: "//a"}, Attempts: 7}
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.NotErrorIs(t, err, ErrActionFailed)

	cause := errors.New("boom")
	err = fmt.Errorf("step 2: %w", actionFailed(models.StepClick, "page script failed", cause))
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.ErrorIs(t, err, cause)
}
