// Package cdp attaches to Chromium page targets over the DevTools protocol
// and feeds their network and script events into the core service.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/reqlens/internal/capture"
	"github.com/dgnsrekt/reqlens/internal/config"
	"github.com/dgnsrekt/reqlens/internal/types"
)

const (
	bodyFetchTimeout      = 10 * time.Second
	inflightMaxAge        = 2 * time.Minute
	inflightSweepInterval = 30 * time.Second
)

// Sink receives translated browser events.
type Sink interface {
	RequestStarted(ctx context.Context, ev capture.RequestStart) (bool, error)
	HeadersSent(ctx context.Context, requestID string, headers []types.Header) error
	Completed(ctx context.Context, requestID string) error
	Failed(ctx context.Context, requestID string) error
	TabNavigated(ctx context.Context, tab types.TabID, rawURL string) error
	TabClosed(ctx context.Context, tab types.TabID) error
	TabActivated(ctx context.Context, tab types.TabID, rawURL string) error
	Handle(ctx context.Context, msg types.Message) (any, error)
}

// Client manages CDP connections to browser tabs.
type Client struct {
	cfg  *config.Config
	sink Sink

	ctx           context.Context
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	ownTarget     target.ID

	tabs   map[target.ID]*TabContext
	tabsMu sync.RWMutex

	responseBody func(tab *TabContext, requestID network.RequestID) ([]byte, error)
	postData     func(tab *TabContext, requestID network.RequestID) (string, error)
}

type TabContext struct {
	ID     target.ID
	URL    string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[network.RequestID]*inflightRequest
}

// inflightRequest remembers what the adapter needs after a request leaves
// requestWillBeSent: the URL and method for body delivery, and wire headers
// that arrived before the request itself. postData is closed once a
// separately fetched request body has been delivered.
type inflightRequest struct {
	url          string
	method       string
	resourceType network.ResourceType
	started      bool
	ignored      bool
	seen         time.Time
	extraHeaders []types.Header
	postData     chan struct{}
}

func NewClient(cfg *config.Config, sink Sink) *Client {
	c := &Client{
		cfg:  cfg,
		sink: sink,
		tabs: make(map[target.ID]*TabContext),
	}
	c.responseBody = c.fetchResponseBody
	c.postData = c.fetchPostData
	return c
}

// inflightEntry returns the entry for id, creating it. Callers hold t.mu.
func (t *TabContext) inflightEntry(id network.RequestID) *inflightRequest {
	req, ok := t.inflight[id]
	if !ok {
		req = &inflightRequest{seen: time.Now()}
		t.inflight[id] = req
	}
	return req
}

// sweepInflight drops entries for requests the browser never finished.
func (t *TabContext) sweepInflight(now time.Time, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, req := range t.inflight {
		if now.Sub(req.seen) > maxAge {
			delete(t.inflight, id)
			removed++
		}
	}
	return removed
}

func (c *Client) Connect(ctx context.Context) error {
	c.ctx = ctx
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	if t := chromedp.FromContext(c.browserCtx).Target; t != nil {
		c.ownTarget = t.TargetID
	}

	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	chromedp.ListenBrowser(c.browserCtx, c.handleBrowserEvent)
	if err := chromedp.Run(c.browserCtx, target.SetDiscoverTargets(true)); err != nil {
		slog.Warn("Target discovery unavailable, new tabs will not be attached", "error", err)
	}

	attachedCount := 0
	for _, t := range targets {
		if !c.wantsTarget(t) {
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attachedCount++
	}

	slog.Info("Attached to tabs", "count", attachedCount, "tab_url_filter", c.cfg.TabURLFilter)
	go c.sweepLoop(ctx)
	return nil
}

func (c *Client) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(inflightSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tabsMu.RLock()
			tabs := make([]*TabContext, 0, len(c.tabs))
			for _, tab := range c.tabs {
				tabs = append(tabs, tab)
			}
			c.tabsMu.RUnlock()
			for _, tab := range tabs {
				if n := tab.sweepInflight(now, inflightMaxAge); n > 0 {
					slog.Debug("Swept stale in-flight requests", "tab_id", tab.ID, "count", n)
				}
			}
		}
	}
}

func (c *Client) wantsTarget(t *target.Info) bool {
	if t.Type != "page" || t.TargetID == c.ownTarget {
		return false
	}
	if !c.matchesTabURL(t.URL) {
		slog.Debug("Skipping tab (url filter)", "url", truncateURL(t.URL))
		return false
	}
	c.tabsMu.RLock()
	_, attached := c.tabs[t.TargetID]
	c.tabsMu.RUnlock()
	return !attached
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{
		ID:       targetID,
		URL:      url,
		ctx:      tabCtx,
		cancel:   tabCancel,
		inflight: make(map[network.RequestID]*inflightRequest),
	}

	c.tabsMu.Lock()
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	chromedp.ListenTarget(tabCtx, c.createEventHandler(tab))

	enableDebugger := chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := debugger.Enable().Do(ctx)
		return err
	})
	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable(), enableDebugger, debugger.SetSkipAllPauses(true)); err != nil {
		tabCancel()
		c.tabsMu.Lock()
		delete(c.tabs, targetID)
		c.tabsMu.Unlock()
		return fmt.Errorf("failed to enable network/page/debugger domains: %w", err)
	}

	tabID := types.TabID(targetID)
	if err := c.sink.TabNavigated(c.ctx, tabID, url); err != nil {
		slog.Warn("Failed to register tab", "target_id", targetID, "error", err)
	}
	if err := c.sink.TabActivated(c.ctx, tabID, url); err != nil {
		slog.Warn("Failed to activate tab", "target_id", targetID, "error", err)
	}

	slog.Info("Attached to tab", "target_id", targetID, "url", truncateURL(url))
	return nil
}

func (c *Client) handleBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo == nil || !c.wantsTarget(e.TargetInfo) {
			return
		}
		info := e.TargetInfo
		go func() {
			if err := c.attachToTab(info.TargetID, info.URL); err != nil {
				slog.Warn("Failed to attach to new tab", "target_id", info.TargetID, "error", err)
			}
		}()
	case *target.EventTargetDestroyed:
		c.detach(e.TargetID)
	}
}

func (c *Client) detach(targetID target.ID) {
	c.tabsMu.Lock()
	tab, ok := c.tabs[targetID]
	delete(c.tabs, targetID)
	c.tabsMu.Unlock()
	if !ok {
		return
	}
	tab.cancel()
	if err := c.sink.TabClosed(c.ctx, types.TabID(targetID)); err != nil {
		slog.Debug("Failed to report closed tab", "target_id", targetID, "error", err)
	}
	slog.Info("Detached from tab", "target_id", targetID)
}

func (c *Client) createEventHandler(tab *TabContext) func(ev interface{}) {
	tabID := string(tab.ID)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			tab.mu.Lock()
			tab.URL = e.Frame.URL
			tab.mu.Unlock()
			if err := c.sink.TabNavigated(c.ctx, types.TabID(tabID), e.Frame.URL); err != nil {
				slog.Debug("Failed to report navigation", "tab_id", tabID, "error", err)
			}
			// CDP reports no focus changes for attached pages, so the most
			// recently navigated tab counts as active.
			_ = c.sink.TabActivated(c.ctx, types.TabID(tabID), e.Frame.URL)
			slog.Info("Tab navigated", "tab_id", tabID, "url", truncateURL(e.Frame.URL))

		case *network.EventRequestWillBeSent:
			c.onRequestWillBeSent(tab, e)

		case *network.EventRequestWillBeSentExtraInfo:
			headers := headerList(e.Headers)
			tab.mu.Lock()
			req := tab.inflightEntry(e.RequestID)
			forward := req.started && !req.ignored
			if !req.started {
				req.extraHeaders = headers
			}
			tab.mu.Unlock()
			if forward {
				_ = c.sink.HeadersSent(c.ctx, string(e.RequestID), headers)
			}

		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeScript || e.Response == nil {
				return
			}
			tab.mu.Lock()
			pageURL := tab.URL
			tab.mu.Unlock()
			msg := types.ScanScript{
				TabID:      types.TabID(tabID),
				SourceType: types.SourceTypeExternal,
				ScriptURL:  e.Response.URL,
				PageURL:    pageURL,
			}
			if _, err := c.sink.Handle(c.ctx, msg); err != nil {
				slog.Debug("Failed to queue script scan", "tab_id", tabID, "url", truncateURL(e.Response.URL), "error", err)
			}

		case *network.EventLoadingFinished:
			tab.mu.Lock()
			req, ok := tab.inflight[e.RequestID]
			delete(tab.inflight, e.RequestID)
			tab.mu.Unlock()
			if ok && req.ignored {
				return
			}
			if !ok || !req.started {
				if err := c.sink.Completed(c.ctx, string(e.RequestID)); err != nil {
					slog.Debug("Failed to report completion", "request_id", e.RequestID, "error", err)
				}
				return
			}
			go c.finishRequest(tab, e.RequestID, req)

		case *network.EventLoadingFailed:
			tab.mu.Lock()
			req, ok := tab.inflight[e.RequestID]
			delete(tab.inflight, e.RequestID)
			tab.mu.Unlock()
			if ok && req.ignored {
				return
			}
			if ok && req.postData != nil {
				go func() {
					<-req.postData
					_ = c.sink.Failed(c.ctx, string(e.RequestID))
				}()
				return
			}
			_ = c.sink.Failed(c.ctx, string(e.RequestID))

		case *debugger.EventScriptParsed:
			tab.mu.Lock()
			pageURL := tab.URL
			tab.mu.Unlock()
			if !isInlineScript(e.URL, pageURL) || e.Length == 0 {
				return
			}
			go c.scanInlineScript(tab, e, pageURL)
		}
	}
}

func (c *Client) onRequestWillBeSent(tab *TabContext, e *network.EventRequestWillBeSent) {
	start := requestStart(string(tab.ID), e)
	accepted, err := c.sink.RequestStarted(c.ctx, start)
	if err != nil {
		slog.Debug("Failed to report request", "request_id", e.RequestID, "error", err)
		return
	}

	tab.mu.Lock()
	req := tab.inflightEntry(e.RequestID)
	req.url = start.URL
	req.method = strings.ToUpper(start.Method)
	req.resourceType = e.Type
	req.started = true
	req.ignored = !accepted
	extra := req.extraHeaders
	req.extraHeaders = nil
	var postDone chan struct{}
	if accepted && req.postData == nil && needsPostDataFetch(e.Request) {
		postDone = make(chan struct{})
		req.postData = postDone
	}
	tab.mu.Unlock()

	if !accepted {
		return
	}
	if e.Request != nil {
		_ = c.sink.HeadersSent(c.ctx, start.RequestID, headerList(e.Request.Headers))
	}
	if extra != nil {
		_ = c.sink.HeadersSent(c.ctx, start.RequestID, extra)
	}
	if postDone != nil {
		go c.deliverPostData(tab, e.RequestID, req.url, req.method, postDone)
	}
}

// finishRequest reports a finished request once its payloads are in hand.
// Request and response bodies reach the pending entry before completion.
// Document content attaches to the finalized record, so it goes after.
func (c *Client) finishRequest(tab *TabContext, requestID network.RequestID, req *inflightRequest) {
	if req.postData != nil {
		<-req.postData
	}
	document := req.resourceType == network.ResourceTypeDocument
	if wantsResponseBody(req.resourceType) && !document {
		c.deliverResponseBody(tab, requestID, req)
	}
	if err := c.sink.Completed(c.ctx, string(requestID)); err != nil {
		slog.Debug("Failed to report completion", "request_id", requestID, "error", err)
	}
	if document {
		c.deliverResponseBody(tab, requestID, req)
	}
}

func (c *Client) fetchPostData(tab *TabContext, requestID network.RequestID) (string, error) {
	ctx, cancel := context.WithTimeout(tab.ctx, bodyFetchTimeout)
	defer cancel()

	var postData string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		postData, err = network.GetRequestPostData(requestID).Do(ctx)
		return err
	}))
	return postData, err
}

func (c *Client) deliverPostData(tab *TabContext, requestID network.RequestID, url, method string, done chan struct{}) {
	defer close(done)

	postData, err := c.postData(tab, requestID)
	if err != nil {
		slog.Debug("Failed to get request post data", "request_id", requestID, "error", err)
		return
	}
	if postData == "" {
		return
	}
	raw, err := jsonString(postData)
	if err != nil {
		return
	}
	if _, err := c.sink.Handle(c.ctx, types.CaptureBody{URL: url, Method: method, Body: raw}); err != nil {
		slog.Debug("Failed to deliver request body", "request_id", requestID, "error", err)
	}
}

func (c *Client) fetchResponseBody(tab *TabContext, requestID network.RequestID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(tab.ctx, bodyFetchTimeout)
	defer cancel()

	var body []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	}))
	return body, err
}

func (c *Client) deliverResponseBody(tab *TabContext, requestID network.RequestID, req *inflightRequest) {
	body, err := c.responseBody(tab, requestID)
	if err != nil {
		slog.Debug("Failed to get response body", "request_id", requestID, "error", err)
		return
	}
	text, ok := bodyText(body)
	if !ok {
		return
	}
	raw, err := jsonString(text)
	if err != nil {
		return
	}

	var msg types.Message
	if req.resourceType == network.ResourceTypeDocument {
		msg = types.CaptureDocumentContent{URL: req.url, ResponseBody: raw}
	} else {
		msg = types.CaptureResponse{URL: req.url, Method: req.method, ResponseBody: raw}
	}
	if _, err := c.sink.Handle(c.ctx, msg); err != nil {
		slog.Debug("Failed to deliver response body", "request_id", requestID, "error", err)
	}
}

func (c *Client) scanInlineScript(tab *TabContext, e *debugger.EventScriptParsed, pageURL string) {
	srcCtx, srcCancel := context.WithTimeout(tab.ctx, bodyFetchTimeout)
	defer srcCancel()

	var source string
	err := chromedp.Run(srcCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		source, _, err = debugger.GetScriptSource(e.ScriptID).Do(ctx)
		return err
	}))
	if err != nil {
		slog.Debug("Failed to get inline script source", "tab_id", tab.ID, "script_id", e.ScriptID, "error", err)
		return
	}

	msg := types.ScanScript{
		TabID:      types.TabID(tab.ID),
		SourceType: types.SourceTypeInline,
		PageURL:    pageURL,
		ScriptKey:  inlineScriptKey(e.Hash, string(e.ScriptID)),
		SourceText: &source,
	}
	if _, err := c.sink.Handle(c.ctx, msg); err != nil {
		slog.Debug("Failed to queue inline scan", "tab_id", tab.ID, "error", err)
	}
}

// Cookies returns the browser's cookies for rawURL, read through any
// attached tab.
func (c *Client) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	c.tabsMu.RLock()
	var tabCtx context.Context
	for _, tab := range c.tabs {
		tabCtx = tab.ctx
		break
	}
	c.tabsMu.RUnlock()
	if tabCtx == nil {
		return nil, errors.New("no attached tab")
	}

	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	out := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, &http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return out, nil
}

func (c *Client) Close() error {
	c.tabsMu.Lock()
	for _, tab := range c.tabs {
		tab.cancel()
	}
	c.tabs = make(map[target.ID]*TabContext)
	c.tabsMu.Unlock()

	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}

	slog.Info("CDP client closed")
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.cfg.TabURLFilter))
}
