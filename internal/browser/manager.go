// Package browser connects the publishing agent to Chrome. The Manager
// obtains a browser, attaches to its page tabs, injects the bridge script
// into every document and runs one agent epoch per main-frame document whose
// host is watched.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/quill/internal/agent"
	"github.com/xkilldash9x/quill/internal/config"
	"go.uber.org/zap"
)

// Manager owns the browser connection and the watched tabs.
type Manager struct {
	cfg    config.BrowserConfig
	hosts  []string
	agent  *agent.Agent
	logger *zap.Logger

	mu   sync.Mutex
	tabs map[target.ID]*tab
	wg   sync.WaitGroup
}

// NewManager creates a Manager that starts agent epochs on documents whose
// host matches one of the platform's tab hosts.
func NewManager(cfg config.Interface, a *agent.Agent, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg.Browser(),
		hosts:  cfg.Platform().TabHosts,
		agent:  a,
		logger: logger.Named("browser_manager"),
		tabs:   make(map[target.ID]*tab),
	}
}

// allocatorOptions assembles the launch flags. The automation switches that
// mark the browser as remote controlled are turned off.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// Run connects to the browser and serves tabs until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if m.cfg.RemoteURL != "" {
		m.logger.Info("Attaching to running browser.", zap.String("url", m.cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, m.cfg.RemoteURL)
	} else {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(m.cfg)...)
	}
	defer allocCancel()

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(m.logger.Sugar().Infof),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	}
	if m.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	defer browserCancel()

	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	c := chromedp.FromContext(browserCtx)
	first := c.Target.TargetID
	chromedp.ListenBrowser(browserCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *target.EventTargetCreated:
			if ev.TargetInfo.Type == "page" && ev.TargetInfo.TargetID != first {
				m.spawn(browserCtx, ev.TargetInfo.TargetID)
			}
		case *target.EventTargetDestroyed:
			m.drop(ev.TargetID)
		}
	})
	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(browserCtx, c.Browser)); err != nil {
		m.logger.Warn("Target discovery unavailable; only the first tab is watched.", zap.Error(err))
	}

	// The first tab reuses the browser's target. Its cancel only ends the
	// tab's own loop so closing it leaves the other tabs running.
	firstCtx, firstCancel := context.WithCancel(browserCtx)
	t := m.register(firstCtx, firstCancel, first)
	if err := t.install(); err != nil {
		return fmt.Errorf("failed to prepare first tab: %w", err)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.run()
	}()
	if m.cfg.StartURL != "" {
		if err := chromedp.Run(browserCtx, chromedp.Navigate(m.cfg.StartURL)); err != nil {
			m.logger.Warn("Failed to open start page.", zap.String("url", m.cfg.StartURL), zap.Error(err))
		}
	}

	<-ctx.Done()
	m.logger.Info("Browser manager shutting down.")
	m.mu.Lock()
	for _, t := range m.tabs {
		t.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

func (m *Manager) spawn(browserCtx context.Context, id target.ID) {
	m.mu.Lock()
	_, known := m.tabs[id]
	m.mu.Unlock()
	if known {
		return
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
	t := m.register(tabCtx, cancel, id)
	m.wg.Add(1)
	// Listener callbacks must not block on CDP round trips.
	go func() {
		defer m.wg.Done()
		if err := t.install(); err != nil {
			t.log.Warn("Failed to prepare tab.", zap.Error(err))
			m.drop(id)
			return
		}
		t.run()
	}()
}

func (m *Manager) register(ctx context.Context, cancel context.CancelFunc, id target.ID) *tab {
	t := &tab{
		ctx:    ctx,
		cancel: cancel,
		hosts:  m.hosts,
		agent:  m.agent,
		navs:   make(chan navigation, 1),
		log:    m.logger.With(zap.String("tab", string(id))),
	}
	m.mu.Lock()
	m.tabs[id] = t
	m.mu.Unlock()
	t.listen()
	return t
}

func (m *Manager) drop(id target.ID) {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// tab tracks the current document of one page target.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	hosts  []string
	agent  *agent.Agent
	log    *zap.Logger

	// navs holds the latest main-frame navigation not yet acted on.
	navs chan navigation

	mu    sync.Mutex
	epoch *agent.Epoch
	doc   string
	world cdpruntime.ExecutionContextID
}

type navigation struct {
	url   string
	frame cdp.FrameID
}

// bridgeBinding exposes the inbound binding to the bridge's world only.
func bridgeBinding() *cdpruntime.AddBindingParams {
	return cdpruntime.AddBinding(BindingName).WithExecutionContextName(WorldName)
}

// bridgeOnNewDocument installs the bridge into the isolated world of every
// future document.
func bridgeOnNewDocument() *cdppage.AddScriptToEvaluateOnNewDocumentParams {
	return cdppage.AddScriptToEvaluateOnNewDocument(bridgeScript).WithWorldName(WorldName)
}

func (t *tab) listen() {
	chromedp.ListenTarget(t.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *cdppage.EventFrameNavigated:
			if ev.Frame.ParentID == "" {
				t.navigated(navigation{url: ev.Frame.URL, frame: ev.Frame.ID})
			}
		case *cdpruntime.EventBindingCalled:
			if ev.Name == BindingName {
				t.inbound(ev.ExecutionContextID, ev.Payload)
			}
		}
	})
}

func (t *tab) install() error {
	return chromedp.Run(t.ctx,
		cdppage.Enable(),
		bridgeBinding(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := bridgeOnNewDocument().Do(ctx); err != nil {
				return fmt.Errorf("failed to inject bridge: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// The document already loaded never saw the new-document script;
			// start picks it up through the same path as a navigation.
			tree, err := cdppage.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			t.navigated(navigation{url: tree.Frame.URL, frame: tree.Frame.ID})
			return nil
		}),
	)
}

// navigated records the latest main-frame navigation, replacing any unread one.
func (t *tab) navigated(n navigation) {
	select {
	case <-t.navs:
	default:
	}
	select {
	case t.navs <- n:
	default:
	}
}

// inbound forwards a binding call to the current epoch. Calls from any other
// execution context or document are ignored.
func (t *tab) inbound(from cdpruntime.ExecutionContextID, payload string) {
	doc, in, err := decodeInbound(payload)
	if err != nil {
		t.log.Debug("Ignoring inbound payload.", zap.Error(err))
		return
	}
	t.mu.Lock()
	e, current, world := t.epoch, t.doc, t.world
	t.mu.Unlock()
	if e == nil || doc != current || from != world {
		return
	}
	e.Deliver(in)
}

func (t *tab) run() {
	defer t.stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case n := <-t.navs:
			t.stop()
			if !hostWatched(n.url, t.hosts) {
				continue
			}
			if err := t.start(n); err != nil {
				t.log.Warn("Failed to start epoch.", zap.String("url", n.url), zap.Error(err))
			}
		}
	}
}

// start resolves the bridge world of the navigated document, injecting the
// bridge if the document predates it, and begins an epoch there.
func (t *tab) start(n navigation) error {
	var (
		world cdpruntime.ExecutionContextID
		doc   string
	)
	err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		// An existing world of this name is reused, so this finds the one the
		// new-document script ran in.
		world, err = cdppage.CreateIsolatedWorld(n.frame).WithWorldName(WorldName).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve bridge world: %w", err)
		}
		if err := chromedp.Evaluate(`window.__quill ? window.__quill.doc : ""`, &doc, inWorld(world)).Do(ctx); err != nil {
			return err
		}
		if doc != "" {
			return nil
		}
		if err := chromedp.Evaluate(bridgeScript, nil, inWorld(world)).Do(ctx); err != nil {
			return err
		}
		return chromedp.Evaluate(`window.__quill.doc`, &doc, inWorld(world)).Do(ctx)
	}))
	if err != nil {
		return err
	}
	e := t.agent.Start(t.ctx, NewCDPPage(t.ctx, world, doc))
	t.log.Info("Watching document.", zap.String("url", n.url), zap.String("epoch", e.ID))
	t.mu.Lock()
	t.epoch, t.doc, t.world = e, doc, world
	t.mu.Unlock()
	return nil
}

func (t *tab) stop() {
	t.mu.Lock()
	e := t.epoch
	t.epoch, t.doc, t.world = nil, "", 0
	t.mu.Unlock()
	if e != nil {
		e.Close()
	}
}

// hostWatched reports whether u's host is one of hosts or a subdomain of one.
func hostWatched(u string, hosts []string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
