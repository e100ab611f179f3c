package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/auracap/internal/bridge"
	"github.com/dgnsrekt/auracap/internal/capture"
	"github.com/dgnsrekt/auracap/internal/config"
	"github.com/dgnsrekt/auracap/internal/session"
)

// SessionTracker decides which tabs qualify for attachment.
type SessionTracker interface {
	EnsureSession(ctx context.Context, tabID string) (*session.TabSession, error)
	OnTabClosed(tabID string)
}

// Scripts are the page scripts injected into every attached tab.
type Scripts struct {
	Hook   string // main world
	Bridge string // isolated world
	World  string
}

// Client discovers page targets and attaches to the ones with a live session.
type Client struct {
	cfg            *config.Config
	capture        *capture.NetworkCapture
	relay          *bridge.Relay
	sessions       SessionTracker
	tabRegistry    *TabRegistry
	scripts        Scripts
	captureEnabled func() bool

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	selfID        target.ID
	tabs          map[target.ID]*TabContext
	tabsMu        sync.RWMutex
	wg            sync.WaitGroup
	done          chan struct{}
	closeOnce     sync.Once
}

type TabContext struct {
	ID       target.ID
	URL      string
	hooked   bool
	ready    bool
	ctx      context.Context
	cancel   context.CancelFunc
	bindings *bridge.TabQueue
}

func NewClient(cfg *config.Config, tabRegistry *TabRegistry, scripts Scripts, captureEnabled func() bool) *Client {
	return &Client{
		cfg:            cfg,
		tabRegistry:    tabRegistry,
		scripts:        scripts,
		captureEnabled: captureEnabled,
		tabs:           make(map[target.ID]*TabContext),
		done:           make(chan struct{}),
	}
}

// SetHandlers wires the consumers of tab events. It must be called before
// Connect; the session cache needs the client's cookie reader first.
func (c *Client) SetHandlers(netCapture *capture.NetworkCapture, relay *bridge.Relay, sessions SessionTracker) {
	c.capture = netCapture
	c.relay = relay
	c.sessions = sessions
}

func (c *Client) Connect(ctx context.Context) error {
	if c.capture == nil || c.relay == nil || c.sessions == nil {
		return errors.New("cdp: handlers not set")
	}
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run owns the browser connection, so it must not carry a deadline.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	var selfID target.ID
	if t := chromedp.FromContext(browserCtx).Target; t != nil {
		selfID = t.TargetID
	}

	c.tabsMu.Lock()
	c.allocCtx, c.allocCancel = allocCtx, allocCancel
	c.browserCtx, c.browserCancel = browserCtx, browserCancel
	c.selfID = selfID
	c.tabsMu.Unlock()

	chromedp.ListenBrowser(browserCtx, c.createBrowserHandler())
	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdproto.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	})); err != nil {
		return fmt.Errorf("failed to enable target discovery: %w", err)
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}
	pages := 0
	for _, t := range targets {
		if t.Type != "page" || t.TargetID == selfID {
			continue
		}
		pages++
		c.tabRegistry.Upsert(t.TargetID, t.URL, t.Title)
		c.evaluate(t.TargetID)
	}

	slog.Info("Found browser targets", "count", len(targets), "pages", pages)
	return nil
}

func (c *Client) createBrowserHandler() func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			c.onTargetInfo(e.TargetInfo)
		case *target.EventTargetInfoChanged:
			c.onTargetInfo(e.TargetInfo)
		case *target.EventTargetDestroyed:
			c.onTargetClosed(e.TargetID)
		}
	}
}

func (c *Client) onTargetInfo(info *target.Info) {
	if info == nil || info.Type != "page" {
		return
	}
	c.tabsMu.RLock()
	self := info.TargetID == c.selfID
	c.tabsMu.RUnlock()
	if self {
		return
	}
	if _, changed := c.tabRegistry.Upsert(info.TargetID, info.URL, info.Title); changed {
		slog.Debug("Tab updated", "tab_id", info.TargetID, "url", truncateURL(info.URL))
		c.evaluate(info.TargetID)
	}
}

func (c *Client) onTargetClosed(targetID target.ID) {
	if _, ok := c.tabRegistry.Get(targetID); !ok {
		return
	}
	tabID := string(targetID)
	c.detach(targetID, "closed")
	c.tabRegistry.Remove(targetID)
	c.sessions.OnTabClosed(tabID)
	c.capture.OnTabClosed(tabID)
	slog.Info("Tab closed", "tab_id", tabID)
}

// evaluate runs off the event loop: session resolution does I/O.
func (c *Client) evaluate(targetID target.ID) {
	select {
	case <-c.done:
		return
	default:
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if _, err := c.sessions.EnsureSession(ctx, string(targetID)); err != nil {
			slog.Debug("Tab not eligible", "tab_id", targetID, "error", err)
			c.detach(targetID, "no session")
			return
		}
		if err := c.attachToTab(targetID); err != nil {
			if isUndebuggable(err) {
				slog.Debug("Tab cannot be debugged", "tab_id", targetID, "error", err)
				return
			}
			slog.Warn("Failed to attach to tab", "tab_id", targetID, "error", err)
		}
	}()
}

func (c *Client) attachToTab(targetID target.ID) error {
	c.tabsMu.Lock()
	if _, ok := c.tabs[targetID]; ok {
		c.tabsMu.Unlock()
		return nil
	}
	if c.allocCtx == nil {
		c.tabsMu.Unlock()
		return errors.New("not connected")
	}
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	info, _ := c.tabRegistry.Get(targetID)
	tab := &TabContext{
		ID:       targetID,
		ctx:      tabCtx,
		cancel:   tabCancel,
		bindings: bridge.NewTabQueue(tabCtx, c.relay, string(targetID)),
	}
	if info != nil {
		tab.URL = info.URL
	}
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	tabID := string(targetID)
	chromedp.ListenTarget(tabCtx, c.createEventHandler(tabID))

	hook := c.captureEnabled == nil || c.captureEnabled()
	err := chromedp.Run(tabCtx, network.Enable(), page.Enable(), chromedp.ActionFunc(func(ctx context.Context) error {
		return c.injectScripts(ctx, hook)
	}))
	if err != nil {
		c.tabsMu.Lock()
		delete(c.tabs, targetID)
		c.tabsMu.Unlock()
		tabCancel()
		return fmt.Errorf("failed to prepare tab: %w", err)
	}

	c.tabsMu.Lock()
	tab.hooked = hook
	tab.ready = true
	c.tabsMu.Unlock()
	c.tabRegistry.SetAttached(targetID, true)

	slog.Info("Attached to tab", "tab_id", tabID, "hook", hook, "url", truncateURL(tab.URL))
	return nil
}

// injectScripts installs the relay binding and the bridge in the isolated
// world, then the interceptor in the main world when requested. Each script
// is registered for future documents and evaluated in the current one.
func (c *Client) injectScripts(ctx context.Context, hook bool) error {
	binding := c.relay.Binding()
	if err := runtime.AddBinding(binding).WithExecutionContextName(c.scripts.World).Do(ctx); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}
	if _, err := page.AddScriptToEvaluateOnNewDocument(c.scripts.Bridge).WithWorldName(c.scripts.World).Do(ctx); err != nil {
		return fmt.Errorf("register bridge: %w", err)
	}

	tree, err := page.GetFrameTree().Do(ctx)
	if err != nil {
		return fmt.Errorf("frame tree: %w", err)
	}
	worldID, err := page.CreateIsolatedWorld(tree.Frame.ID).WithWorldName(c.scripts.World).Do(ctx)
	if err != nil {
		return fmt.Errorf("create isolated world: %w", err)
	}
	if _, exc, err := runtime.Evaluate(c.scripts.Bridge).WithContextID(worldID).Do(ctx); err != nil {
		return fmt.Errorf("evaluate bridge: %w", err)
	} else if exc != nil {
		return fmt.Errorf("evaluate bridge: %s", exc.Text)
	}

	if hook {
		return c.injectHook(ctx)
	}
	return nil
}

func (c *Client) injectHook(ctx context.Context) error {
	if _, err := page.AddScriptToEvaluateOnNewDocument(c.scripts.Hook).Do(ctx); err != nil {
		return fmt.Errorf("register hook: %w", err)
	}
	if _, exc, err := runtime.Evaluate(c.scripts.Hook).Do(ctx); err != nil {
		return fmt.Errorf("evaluate hook: %w", err)
	} else if exc != nil {
		return fmt.Errorf("evaluate hook: %s", exc.Text)
	}
	return nil
}

// EnableHooks installs the interceptor in attached tabs that were attached
// while capture was off.
func (c *Client) EnableHooks() {
	c.tabsMu.RLock()
	var pending []*TabContext
	for _, tab := range c.tabs {
		if tab.ready && !tab.hooked {
			pending = append(pending, tab)
		}
	}
	c.tabsMu.RUnlock()

	for _, tab := range pending {
		runCtx, cancel := context.WithTimeout(tab.ctx, 10*time.Second)
		err := chromedp.Run(runCtx, chromedp.ActionFunc(c.injectHook))
		cancel()
		if err != nil {
			slog.Warn("Failed to install hook", "tab_id", tab.ID, "error", err)
			continue
		}
		c.tabsMu.Lock()
		tab.hooked = true
		c.tabsMu.Unlock()
		slog.Info("Installed hook", "tab_id", tab.ID)
	}
}

func (c *Client) detach(targetID target.ID, reason string) {
	c.tabsMu.Lock()
	tab, ok := c.tabs[targetID]
	if ok {
		delete(c.tabs, targetID)
	}
	c.tabsMu.Unlock()
	if !ok {
		return
	}
	tab.cancel()
	c.tabRegistry.SetAttached(targetID, false)
	c.capture.OnTabClosed(string(targetID))
	slog.Info("Detached from tab", "tab_id", targetID, "reason", reason)
}

func (c *Client) createEventHandler(tabID string) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				c.onNavigated(tabID, e.Frame.URL)
			}
		case *page.EventNavigatedWithinDocument:
			c.onNavigated(tabID, e.URL)
		case *runtime.EventBindingCalled:
			c.tabsMu.RLock()
			tab, ok := c.tabs[target.ID(tabID)]
			c.tabsMu.RUnlock()
			if !ok {
				return
			}
			tab.bindings.Push(e.Name, e.Payload)
		case *network.EventRequestWillBeSent:
			c.capture.OnRequestWillBeSent(tabID, e)
		case *network.EventResponseReceived:
			c.capture.OnResponseReceived(tabID, e)
		case *network.EventLoadingFinished:
			c.tabsMu.RLock()
			tab, ok := c.tabs[target.ID(tabID)]
			c.tabsMu.RUnlock()

			var getBody capture.BodyFetcher
			if ok {
				tabCtx := tab.ctx
				requestID := e.RequestID
				getBody = func(ctx context.Context) ([]byte, error) {
					bodyCtx, bodyCancel := context.WithTimeout(tabCtx, 10*time.Second)
					defer bodyCancel()
					stop := context.AfterFunc(ctx, bodyCancel)
					defer stop()

					var body []byte
					err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
						var err error
						body, err = network.GetResponseBody(requestID).Do(ctx)
						return err
					}))
					return body, err
				}
			}
			c.capture.OnLoadingFinished(context.Background(), tabID, e, getBody)
		case *network.EventLoadingFailed:
			c.capture.OnLoadingFailed(tabID, e)
		}
	}
}

func (c *Client) onNavigated(tabID, url string) {
	if _, changed := c.tabRegistry.Upsert(target.ID(tabID), url, ""); !changed {
		return
	}
	c.tabsMu.Lock()
	if tab, ok := c.tabs[target.ID(tabID)]; ok {
		tab.URL = url
	}
	c.tabsMu.Unlock()
	slog.Debug("Tab navigated", "tab_id", tabID, "url", truncateURL(url))
	c.evaluate(target.ID(tabID))
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.tabsMu.Lock()
		for _, tab := range c.tabs {
			tab.cancel()
		}
		c.tabs = make(map[target.ID]*TabContext)
		browserCancel, allocCancel := c.browserCancel, c.allocCancel
		c.tabsMu.Unlock()

		if browserCancel != nil {
			browserCancel()
		}
		if allocCancel != nil {
			allocCancel()
		}
		slog.Info("CDP client closed")
	})
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

// isUndebuggable matches the errors Chromium returns for targets that refuse
// a debugger (internal pages, crashed or already closed tabs).
func isUndebuggable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"cannot attach", "no target with given id", "target closed", "cannot access", "not allowed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
