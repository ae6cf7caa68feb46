package cdp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/reqlens/internal/capture"
	"github.com/dgnsrekt/reqlens/internal/types"
)

// resourceTypeName maps CDP resource types onto the extension-era names the
// capture manager classifies by.
func resourceTypeName(t network.ResourceType, topFrame bool) string {
	switch t {
	case network.ResourceTypeDocument:
		if topFrame {
			return "main_frame"
		}
		return "sub_frame"
	case network.ResourceTypeXHR, network.ResourceTypeFetch, network.ResourceTypeEventSource:
		return "xmlhttprequest"
	case network.ResourceTypeScript:
		return "script"
	case network.ResourceTypeStylesheet:
		return "stylesheet"
	case network.ResourceTypeImage:
		return "image"
	case network.ResourceTypeFont:
		return "font"
	case network.ResourceTypeMedia:
		return "media"
	case network.ResourceTypeWebSocket:
		return "websocket"
	case network.ResourceTypePing:
		return "ping"
	case network.ResourceTypeCSPViolationReport:
		return "csp_report"
	}
	return "other"
}

// wantsResponseBody reports whether a finished request's body is worth
// pulling from the browser.
func wantsResponseBody(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeXHR, network.ResourceTypeFetch, network.ResourceTypeDocument:
		return true
	}
	return false
}

// decodePostData joins base64 post data entries. Entries that are not
// valid base64 are kept verbatim.
func decodePostData(entries []*network.PostDataEntry) *string {
	if len(entries) == 0 {
		return nil
	}
	var decoded []byte
	for _, entry := range entries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		part, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			decoded = append(decoded, entry.Bytes...)
			continue
		}
		decoded = append(decoded, part...)
	}
	if len(decoded) == 0 {
		return nil
	}
	text := string(decoded)
	return &text
}

// needsPostDataFetch reports whether the browser flagged post data but left
// it out of the event, as it does for large bodies.
func needsPostDataFetch(r *network.Request) bool {
	return r != nil && r.HasPostData && len(r.PostDataEntries) == 0
}

// headerList flattens CDP headers into a name-sorted list. Multi-valued
// headers arrive newline-joined and are split back out.
func headerList(headers network.Headers) []types.Header {
	out := make([]types.Header, 0, len(headers))
	for name, raw := range headers {
		value, ok := raw.(string)
		if !ok {
			value = fmt.Sprint(raw)
		}
		for _, v := range strings.Split(value, "\n") {
			out = append(out, types.Header{Name: name, Value: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// requestStart converts a requestWillBeSent event for the given tab.
func requestStart(tab string, ev *network.EventRequestWillBeSent) capture.RequestStart {
	topFrame := string(ev.FrameID) == tab
	start := capture.RequestStart{
		RequestID:    string(ev.RequestID),
		TabID:        types.TabID(tab),
		ResourceType: resourceTypeName(ev.Type, topFrame),
	}
	if ev.Request != nil {
		start.URL = ev.Request.URL
		start.Method = ev.Request.Method
		if ev.Request.HasPostData {
			start.Body = decodePostData(ev.Request.PostDataEntries)
		}
	}
	if ev.WallTime != nil {
		start.Timestamp = ev.WallTime.Time()
	}
	if !(ev.Type == network.ResourceTypeDocument && topFrame) {
		start.Initiator = originOf(ev.DocumentURL)
	}
	return start
}

// bodyText returns a response body as text, skipping binary payloads.
func bodyText(body []byte) (string, bool) {
	if len(body) == 0 || !utf8.Valid(body) {
		return "", false
	}
	return string(body), true
}

func jsonString(s string) (json.RawMessage, error) {
	return json.Marshal(s)
}

func inlineScriptKey(hash, scriptID string) string {
	if hash != "" {
		return "inline:" + hash
	}
	return "inline:" + scriptID
}

// isInlineScript reports whether a parsed script has no fetchable URL of
// its own: eval'd code or a script block embedded in the page document.
func isInlineScript(scriptURL, pageURL string) bool {
	if scriptURL == "" {
		return true
	}
	return pageURL != "" && stripFragment(scriptURL) == stripFragment(pageURL)
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
