package discovery

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/reqlens/internal/types"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestEngine(limits Limits) *Engine {
	e := NewEngine(limits)
	clock := &stepClock{now: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)}
	e.now = clock.Now
	return e
}

func scanInline(t *testing.T, e *Engine, tab types.TabID, key, pageURL, source string) int {
	t.Helper()
	job, ok := e.Begin(ScanRequest{TabID: tab, SourceType: "inline", PageURL: pageURL, ScriptKey: key, SourceText: &source})
	if !ok {
		t.Fatalf("Begin(%s) = false; want true", key)
	}
	n, ok := e.Complete(job, *job.Source)
	if !ok {
		t.Fatalf("Complete(%s) dropped", key)
	}
	return n
}

func TestExtractConcreteCases(t *testing.T) {
	t.Run("fetch_relative_with_query", func(t *testing.T) {
		e := newTestEngine(DefaultLimits())
		scanInline(t, e, "1", "s1", "https://a.test/app", `fetch('/api/v2/users?id=5')`)

		snap := e.Snapshot("1")
		if len(snap.Entries) != 1 {
			t.Fatalf("len(Entries) = %d; want 1", len(snap.Entries))
		}
		got := snap.Entries[0]
		if got.Method != "GET" || got.Confidence != types.ConfidenceHigh || got.Matcher != "fetch" {
			t.Fatalf("entry = %s %s %s; want GET high fetch", got.Method, got.Confidence, got.Matcher)
		}
		if got.URL != "https://a.test/api/v2/users?id=5" {
			t.Fatalf("URL = %q; want https://a.test/api/v2/users?id=5", got.URL)
		}
		if got.Dynamic {
			t.Fatalf("Dynamic = true; want false")
		}
		if got.Snippet != `fetch('/api/v2/users?id=5')` {
			t.Fatalf("Snippet = %q", got.Snippet)
		}
	})

	t.Run("axios_post", func(t *testing.T) {
		e := newTestEngine(DefaultLimits())
		scanInline(t, e, "1", "s1", "https://a.test/", `axios.post('/auth/login', data)`)

		snap := e.Snapshot("1")
		if len(snap.Entries) != 1 {
			t.Fatalf("len(Entries) = %d; want 1", len(snap.Entries))
		}
		got := snap.Entries[0]
		if got.Method != "POST" || got.Matcher != "axios.method()" || got.Confidence != types.ConfidenceHigh {
			t.Fatalf("entry = %s %s %s; want POST axios.method() high", got.Method, got.Matcher, got.Confidence)
		}
	})

	t.Run("static_bundle_is_excluded", func(t *testing.T) {
		e := newTestEngine(DefaultLimits())
		n := scanInline(t, e, "1", "s1", "https://a.test/", `var s = "vendor.bundle.js";`)
		if n != 0 || len(e.Snapshot("1").Entries) != 0 {
			t.Fatalf("found %d candidates; want 0", n)
		}
	})

	t.Run("template_literal_is_dynamic", func(t *testing.T) {
		e := newTestEngine(DefaultLimits())
		scanInline(t, e, "1", "s1", "https://a.test/", "fetch(`/api/item/${id}`)")

		snap := e.Snapshot("1")
		if len(snap.Entries) != 1 {
			t.Fatalf("len(Entries) = %d; want 1", len(snap.Entries))
		}
		got := snap.Entries[0]
		if !got.Dynamic {
			t.Fatalf("Dynamic = false; want true")
		}
		if got.URL != "/api/item/${id}" {
			t.Fatalf("URL = %q; want unresolved raw template", got.URL)
		}
		if len(got.SourceScripts) != 1 || !strings.HasPrefix(got.SourceScripts[0], "[dynamic] ") {
			t.Fatalf("SourceScripts = %v; want [dynamic] provenance", got.SourceScripts)
		}
	})
}

func TestExtractMatchers(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		method  string
		url     string
		matcher string
	}{
		{"fetch_with_options", `fetch("/api/save", { method: 'put', body: x })`, "PUT", "https://a.test/api/save", "fetch"},
		{"fetch_unknown_method", `fetch('/api/q', {method: "TRACE"})`, "GET", "https://a.test/api/q", "fetch"},
		{"axios_config", `axios({ url: '/api/orders', headers: {a: 1}, method: 'delete' })`, "DELETE", "https://a.test/api/orders", "axios(config)"},
		{"xhr_open", `xhr.open("PATCH", "https://api.test/v1/thing")`, "PATCH", "https://api.test/v1/thing", "xhr.open()"},
		{"quoted_absolute", `const base = "https://API.test:443/graphql";`, "GET", "https://api.test/graphql", "quoted-url"},
		{"protocol_relative", `fetch('//cdn.test/data')`, "GET", "https://cdn.test/data", "fetch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(DefaultLimits())
			scanInline(t, e, "1", "s", "https://a.test/page", tt.source)
			snap := e.Snapshot("1")
			if len(snap.Entries) != 1 {
				t.Fatalf("len(Entries) = %d; want 1 (%+v)", len(snap.Entries), snap.Entries)
			}
			got := snap.Entries[0]
			if got.Method != tt.method || got.URL != tt.url || got.Matcher != tt.matcher {
				t.Fatalf("entry = %s %s %s; want %s %s %s", got.Method, got.URL, got.Matcher, tt.method, tt.url, tt.matcher)
			}
		})
	}
}

func TestExtractRejectsUnclosedFetch(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	scanInline(t, e, "1", "s", "https://a.test/", `fetch('/api/a' + id)`)
	snap := e.Snapshot("1")
	if len(snap.Entries) != 1 || snap.Entries[0].Matcher != "quoted-url" || snap.Entries[0].Confidence != types.ConfidenceMedium {
		t.Fatalf("Entries = %+v; want one medium quoted-url entry", snap.Entries)
	}
}

func TestExtractWithoutPageContext(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	scanInline(t, e, "1", "s", "", `fetch('/api/x')`)
	got := e.Snapshot("1").Entries[0]
	if !got.Dynamic || got.URL != "/api/x" || got.Key != "GET||/api/x" {
		t.Fatalf("entry = %+v; want unresolved dynamic /api/x", got)
	}
	if got.SourceScripts[0] != "[dynamic] (inline script)" {
		t.Fatalf("SourceScripts = %v", got.SourceScripts)
	}
}

func TestScanIsIdempotentPerScript(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	src := `fetch('/api/x')`
	if _, ok := e.Begin(ScanRequest{TabID: "1", ScriptURL: "https://a.test/a.js", SourceText: &src}); !ok {
		t.Fatalf("first Begin() = false")
	}
	if _, ok := e.Begin(ScanRequest{TabID: "1", ScriptURL: "https://a.test/a.js", SourceText: &src}); ok {
		t.Fatalf("second Begin() = true; want skipped")
	}
	if _, ok := e.Begin(ScanRequest{TabID: "2", ScriptURL: "https://a.test/a.js", SourceText: &src}); !ok {
		t.Fatalf("Begin() on another tab = false; want true")
	}
	if _, ok := e.Begin(ScanRequest{TabID: "", SourceText: &src}); ok {
		t.Fatalf("Begin() without tab = true; want false")
	}
	if _, ok := e.Begin(ScanRequest{TabID: "3", PageURL: "https://a.test/"}); ok {
		t.Fatalf("Begin() without source or URL = true; want false")
	}
}

func TestScanMergeAcrossScripts(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	for i := 0; i < 10; i++ {
		src := `fetch('/api/shared')`
		job, ok := e.Begin(ScanRequest{TabID: "1", ScriptURL: fmt.Sprintf("https://a.test/s%d.js", i), PageURL: "https://a.test/", SourceText: &src})
		if !ok {
			t.Fatalf("Begin(%d) = false", i)
		}
		e.Complete(job, src)

		got := e.Snapshot("1").Entries[0]
		if got.Occurrences != i+1 {
			t.Fatalf("after scan %d Occurrences = %d; want %d", i, got.Occurrences, i+1)
		}
	}

	snap := e.Snapshot("1")
	got := snap.Entries[0]
	if len(got.SourceScripts) != 8 {
		t.Fatalf("len(SourceScripts) = %d; want 8", len(got.SourceScripts))
	}
	if got.SourceScripts[0] != "https://a.test/s2.js" || got.SourceScripts[7] != "https://a.test/s9.js" {
		t.Fatalf("SourceScripts = %v; want s2..s9", got.SourceScripts)
	}
	if snap.Stats.ScriptsScanned != 10 || snap.Stats.EndpointHits != 10 || snap.Stats.EndpointCount != 1 {
		t.Fatalf("Stats = %+v; want 10 scanned, 10 hits, 1 endpoint", snap.Stats)
	}
	if snap.Stats.UpdatedAt == nil {
		t.Fatalf("UpdatedAt = nil; want set")
	}
}

func TestMergePromotesAndBackfills(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	scanInline(t, e, "1", "a", "https://a.test/", `const u = "https://a.test/api/v1/me";`)
	scanInline(t, e, "1", "b", "https://a.test/", `fetch("https://a.test/api/v1/me")`)

	got := e.Snapshot("1").Entries[0]
	if got.Confidence != types.ConfidenceHigh {
		t.Fatalf("Confidence = %s; want high", got.Confidence)
	}
	if got.Matcher != "quoted-url" || len(got.Matchers) != 2 || got.Matchers[1] != "fetch" {
		t.Fatalf("Matcher = %s, Matchers = %v; want quoted-url then fetch", got.Matcher, got.Matchers)
	}

	st := newTabState("1")
	now := time.Now()
	st.upsert(candidate{rawURL: "/x", endpointURL: "/x", method: "GET", matcher: "fetch", dynamic: true}, scriptMeta{}, now, DefaultLimits())
	st.upsert(candidate{rawURL: "/x", resolvedURL: "https://a.test/x", endpointURL: "/x", method: "GET", matcher: "fetch"}, scriptMeta{scriptURL: "s.js"}, now, DefaultLimits())
	rec := st.endpoints["GET||/x"].record
	if rec.Dynamic || rec.URL != "https://a.test/x" {
		t.Fatalf("record = %+v; want resolved and no longer dynamic", rec)
	}
	if rec.SourceScripts[0] != "[dynamic] (inline script)" || rec.SourceScripts[1] != "s.js" {
		t.Fatalf("SourceScripts = %v", rec.SourceScripts)
	}
}

func TestCatalogEviction(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxEndpoints = 3
	e := newTestEngine(limits)

	for i := 0; i < 5; i++ {
		scanInline(t, e, "1", fmt.Sprintf("s%d", i), "https://a.test/", fmt.Sprintf(`fetch('/api/e%d')`, i))
		if n := len(e.Snapshot("1").Entries); n > 3 {
			t.Fatalf("catalog size %d exceeds max", n)
		}
	}
	// Touching e2 makes e3 the oldest.
	scanInline(t, e, "1", "again", "https://a.test/", `fetch('/api/e2')`)
	scanInline(t, e, "1", "s5", "https://a.test/", `fetch('/api/e5')`)

	snap := e.Snapshot("1")
	var urls []string
	for _, en := range snap.Entries {
		urls = append(urls, en.URL)
	}
	want := []string{"https://a.test/api/e5", "https://a.test/api/e2", "https://a.test/api/e4"}
	if strings.Join(urls, ",") != strings.Join(want, ",") {
		t.Fatalf("catalog = %v; want %v", urls, want)
	}
}

func TestCoarseCancellation(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	job, ok := e.Begin(ScanRequest{TabID: "1", ScriptURL: "https://a.test/app.js"})
	if !ok || !job.NeedsFetch() {
		t.Fatalf("Begin() = %v, %v; want fetch job", job, ok)
	}

	e.ClearTab("1")
	if _, ok := e.Complete(job, `fetch('/api/x')`); ok {
		t.Fatalf("Complete() after ClearTab = ok; want dropped")
	}
	if n := len(e.Snapshot("1").Entries); n != 0 {
		t.Fatalf("len(Entries) = %d; want 0", n)
	}

	// A fresh state for the same tab accepts the script again.
	job, ok = e.Begin(ScanRequest{TabID: "1", ScriptURL: "https://a.test/app.js"})
	if !ok {
		t.Fatalf("Begin() after reset = false; want true")
	}
	if _, ok := e.Complete(job, `fetch('/api/x')`); !ok {
		t.Fatalf("Complete() on live state dropped")
	}
}

func TestSnapshotUnknownTab(t *testing.T) {
	e := newTestEngine(DefaultLimits())
	snap := e.Snapshot("missing")
	if snap.Entries == nil || len(snap.Entries) != 0 || snap.Stats.UpdatedAt != nil {
		t.Fatalf("Snapshot() = %+v; want empty entries and nil UpdatedAt", snap)
	}
	if e.Tabs() != 0 {
		t.Fatalf("Tabs() = %d; want 0", e.Tabs())
	}
}

func TestSourceIsTruncatedBeforeScan(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxSourceChars = 20
	e := newTestEngine(limits)
	src := `fetch('/api/a');            fetch('/api/b')`
	scanInline(t, e, "1", "s", "https://a.test/", src)
	snap := e.Snapshot("1")
	if len(snap.Entries) != 1 || snap.Entries[0].URL != "https://a.test/api/a" {
		t.Fatalf("Entries = %+v; want only /api/a", snap.Entries)
	}
}
