// Package tabs tracks tab lifecycle and the active tab.
package tabs

import (
	"log/slog"
	"net/url"

	"github.com/dgnsrekt/reqlens/internal/types"
)

// Coordinator maps tab IDs to tab metadata and resets per-tab state when a
// tab navigates or closes. It is not safe for concurrent use.
type Coordinator struct {
	tabs       map[types.TabID]*types.TabInfo
	active     types.TabID
	activeHost string
	reset      func(types.TabID)
}

// NewCoordinator creates a coordinator. reset is called with the tab ID on
// every navigation and close.
func NewCoordinator(reset func(types.TabID)) *Coordinator {
	return &Coordinator{
		tabs:  make(map[types.TabID]*types.TabInfo),
		reset: reset,
	}
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c *Coordinator) register(tab types.TabID, rawURL string) *types.TabInfo {
	info := &types.TabInfo{ID: tab, URL: rawURL, Hostname: hostnameOf(rawURL)}
	c.tabs[tab] = info
	return info
}

// Navigated records a top-level navigation.
func (c *Coordinator) Navigated(tab types.TabID, rawURL string) {
	if tab == "" {
		return
	}
	if c.reset != nil {
		c.reset(tab)
	}
	info := c.register(tab, rawURL)
	if tab == c.active {
		c.activeHost = info.Hostname
	}
	slog.Debug("Tab navigated", "tab_id", tab, "hostname", info.Hostname)
}

// Closed forgets a tab.
func (c *Coordinator) Closed(tab types.TabID) {
	if tab == "" {
		return
	}
	if c.reset != nil {
		c.reset(tab)
	}
	delete(c.tabs, tab)
	if tab == c.active {
		c.active = ""
		c.activeHost = ""
	}
}

// Activated makes tab the active one. An empty URL falls back to the last
// URL seen for the tab.
func (c *Coordinator) Activated(tab types.TabID, rawURL string) {
	c.active = tab
	if rawURL == "" {
		if info, ok := c.tabs[tab]; ok {
			rawURL = info.URL
		}
	} else if tab != "" {
		c.register(tab, rawURL)
	}
	c.activeHost = hostnameOf(rawURL)
}

func (c *Coordinator) Get(tab types.TabID) (*types.TabInfo, bool) {
	info, ok := c.tabs[tab]
	return info, ok
}

func (c *Coordinator) Count() int { return len(c.tabs) }

func (c *Coordinator) Active() (types.TabID, string) { return c.active, c.activeHost }

// BadgeCount counts captured records that belong to the active site, by
// initiator or by URL hostname.
func (c *Coordinator) BadgeCount(records []types.CapturedRequest, hideStatic bool) int {
	if c.activeHost == "" {
		return 0
	}
	n := 0
	for _, r := range records {
		if hideStatic && r.IsStaticResource {
			continue
		}
		if r.Initiator != "" && hostnameOf(r.Initiator) == c.activeHost {
			n++
			continue
		}
		if r.URL != "" && hostnameOf(r.URL) == c.activeHost {
			n++
		}
	}
	return n
}
