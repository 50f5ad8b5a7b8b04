package chrome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

var ErrChromeNotFound = errors.New("Chrome browser not found. Please install Google Chrome or Chromium")

// Options configures how the browser is obtained.
type Options struct {
	// RemoteURL connects to an already running browser instead of launching one.
	RemoteURL   string
	ExecPath    string
	Headless    bool
	UserDataDir string
	// Device is the emulation preset applied to every tab, if set.
	Device string
	Log    logrus.FieldLogger
}

type TabEventKind int

const (
	TabCreated TabEventKind = iota
	TabUpdated
	TabActivated
	TabRemoved
)

func (k TabEventKind) String() string {
	switch k {
	case TabCreated:
		return "created"
	case TabUpdated:
		return "updated"
	case TabActivated:
		return "activated"
	case TabRemoved:
		return "removed"
	}
	return "unknown"
}

// TabEvent reports a page target lifecycle change.
type TabEvent struct {
	Kind  TabEventKind
	TabID string
	URL   string
	Title string
}

type pageInfo struct {
	url   string
	title string
}

// Browser owns one Chrome instance and a context per page target. Tab
// contexts live as long as the browser; cancelling one closes its tab.
type Browser struct {
	opts Options
	log  logrus.FieldLogger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	events      chan TabEvent
	done        chan struct{}
	started     bool

	mu        sync.Mutex
	pages     map[string]pageInfo
	tabs      map[string]*Tab
	listeners []func(TabEvent)
}

func allocatorOptions(execPath string, opts Options) []chromedp.ExecAllocatorOption {
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("no-crash-upload", true),
	)
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	if dev, ok := Devices[opts.Device]; ok {
		out = append(out, chromedp.UserAgent(dev.UserAgent), chromedp.WindowSize(int(dev.Width), int(dev.Height)))
	}
	return out
}

// Launch starts or connects to Chrome and begins tracking page targets.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		execPath := opts.ExecPath
		if execPath == "" {
			execPath = FindExecPath()
		}
		if execPath == "" {
			return nil, ErrChromeNotFound
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(execPath, opts)...)
	}

	bctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Errorf),
	)
	b := &Browser{
		opts:        opts,
		log:         log,
		ctx:         bctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		events:      make(chan TabEvent, 128),
		done:        make(chan struct{}),
		pages:       make(map[string]pageInfo),
		tabs:        make(map[string]*Tab),
	}

	chromedp.ListenBrowser(bctx, b.onBrowserEvent)
	if err := chromedp.Run(bctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c := chromedp.FromContext(bctx)
	err := chromedp.Run(bctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, c.Browser))
	}))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to enable target discovery: %w", err)
	}

	first := string(c.Target.TargetID)
	b.mu.Lock()
	b.pages[first] = pageInfo{}
	b.tabs[first] = newTab(first, bctx, nil)
	b.mu.Unlock()

	b.started = true
	go b.dispatch()
	log.WithField("tab", first).Info("🚀 Browser ready")
	return b, nil
}

func (b *Browser) onBrowserEvent(ev interface{}) {
	var te TabEvent
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" {
			return
		}
		te = TabEvent{Kind: TabCreated, TabID: string(e.TargetInfo.TargetID), URL: e.TargetInfo.URL, Title: e.TargetInfo.Title}
	case *target.EventTargetInfoChanged:
		if e.TargetInfo.Type != "page" {
			return
		}
		te = TabEvent{Kind: TabUpdated, TabID: string(e.TargetInfo.TargetID), URL: e.TargetInfo.URL, Title: e.TargetInfo.Title}
	case *target.EventTargetDestroyed:
		te = TabEvent{Kind: TabRemoved, TabID: string(e.TargetID)}
	default:
		return
	}
	// listeners run on the connection reader and must not block
	select {
	case b.events <- te:
	default:
		b.log.WithField("tab", te.TabID).Warn("⚠️ Tab event queue full, dropping event")
	}
}

func (b *Browser) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.events:
			if !b.track(ev) {
				continue
			}
			b.mu.Lock()
			listeners := append([]func(TabEvent){}, b.listeners...)
			b.mu.Unlock()
			for _, fn := range listeners {
				fn(ev)
			}
		}
	}
}

// track updates the page registry and reports whether the event concerns a
// page target.
func (b *Browser) track(ev TabEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ev.Kind {
	case TabCreated, TabUpdated:
		b.pages[ev.TabID] = pageInfo{url: ev.URL, title: ev.Title}
	case TabRemoved:
		if _, ok := b.pages[ev.TabID]; !ok {
			return false
		}
		delete(b.pages, ev.TabID)
		if t, ok := b.tabs[ev.TabID]; ok && t.cancel != nil {
			t.cancel()
		}
		delete(b.tabs, ev.TabID)
	}
	return true
}

// OnTab registers fn for every later tab lifecycle event. fn runs on the
// browser's dispatch goroutine.
func (b *Browser) OnTab(fn func(TabEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *Browser) publish(ev TabEvent) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

// Tabs returns the ids of the known page targets.
func (b *Browser) Tabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pages))
	for id := range b.pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tab returns the handle of a known page target, creating its context on
// first use.
func (b *Browser) Tab(id string) (*Tab, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[id]; ok {
		return t, true
	}
	if _, ok := b.pages[id]; !ok {
		return nil, false
	}
	ctx, cancel := chromedp.NewContext(b.ctx, chromedp.WithTargetID(target.ID(id)))
	t := newTab(id, ctx, cancel)
	b.tabs[id] = t
	return t, true
}

// NewTab opens url in a new page target and activates it.
func (b *Browser) NewTab(ctx context.Context, url string) (*Tab, error) {
	c := chromedp.FromContext(b.ctx)
	exec := cdp.WithExecutor(ctx, c.Browser)
	id, err := target.CreateTarget(url).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create tab: %w", err)
	}
	b.mu.Lock()
	if _, ok := b.pages[string(id)]; !ok {
		b.pages[string(id)] = pageInfo{url: url}
	}
	b.mu.Unlock()

	if err := target.ActivateTarget(id).Do(exec); err != nil {
		b.log.WithError(err).WithField("tab", id).Warn("⚠️ Failed to activate new tab")
	}
	t, _ := b.Tab(string(id))
	if b.opts.Device != "" {
		if err := t.Emulate(ctx, b.opts.Device); err != nil {
			b.log.WithError(err).WithField("tab", id).Warn("⚠️ Failed to apply device emulation")
		}
	}
	b.publish(TabEvent{Kind: TabActivated, TabID: string(id), URL: url})
	return t, nil
}

// Activate brings a tab to the foreground.
func (b *Browser) Activate(ctx context.Context, id string) error {
	c := chromedp.FromContext(b.ctx)
	if err := target.ActivateTarget(target.ID(id)).Do(cdp.WithExecutor(ctx, c.Browser)); err != nil {
		return fmt.Errorf("failed to activate tab %s: %w", id, err)
	}
	b.publish(TabEvent{Kind: TabActivated, TabID: id})
	return nil
}

// Close shuts the browser down and waits for the dispatcher to exit.
func (b *Browser) Close() {
	if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.WithError(err).Warn("⚠️ Failed to close browser gracefully")
	}
	b.cancel()
	b.allocCancel()
	if b.started {
		<-b.done
	}
}

// Tab is a handle to one page target.
type Tab struct {
	ID     string
	ctx    context.Context
	cancel context.CancelFunc

	// connect attaches the target. chromedp binds the target's event loop
	// to the context of the first Run, so it must be the tab's own context.
	connect    func() error
	attachOnce sync.Once
	attached   chan struct{}
	attachErr  error
}

func newTab(id string, ctx context.Context, cancel context.CancelFunc) *Tab {
	t := &Tab{ID: id, ctx: ctx, cancel: cancel, attached: make(chan struct{})}
	t.connect = func() error { return chromedp.Run(t.ctx) }
	return t
}

// Context is the chromedp context bound to the tab.
func (t *Tab) Context() context.Context { return t.ctx }

// Attach connects the tab exactly once on its long-lived context. Callers
// stop waiting when ctx ends; the attach itself carries on. Run attaches
// implicitly.
func (t *Tab) Attach(ctx context.Context) error {
	t.attachOnce.Do(func() {
		go func() {
			if err := t.connect(); err != nil {
				t.attachErr = fmt.Errorf("failed to attach tab %s: %w", t.ID, err)
			}
			close(t.attached)
		}()
	})
	select {
	case <-t.attached:
		return t.attachErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes actions on the tab, bounded by ctx. Cancelling ctx aborts the
// actions without closing the tab.
func (t *Tab) Run(ctx context.Context, actions ...chromedp.Action) error {
	if err := t.Attach(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url in the tab and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}
