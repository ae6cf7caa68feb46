package discovery

import (
	"sort"
	"time"

	"github.com/dgnsrekt/reqlens/internal/types"
)

const inlineScriptSource = "(inline script)"

// Limits bounds per-tab discovery state.
type Limits struct {
	MaxEndpoints    int
	MaxSourceChars  int
	MaxSnippetChars int
	MaxSources      int
	MaxMethods      int
	MaxMatchers     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxEndpoints:    2000,
		MaxSourceChars:  800000,
		MaxSnippetChars: 240,
		MaxSources:      8,
		MaxMethods:      8,
		MaxMatchers:     8,
	}
}

type scriptMeta struct {
	sourceType string
	scriptURL  string
	pageURL    string
	scriptKey  string
}

func (m scriptMeta) sourceName() string {
	return firstNonEmpty(m.scriptURL, m.pageURL, inlineScriptSource)
}

type endpoint struct {
	record types.EndpointRecord
	seq    uint64
}

// TabState is one tab's discovery catalog. It is replaced wholesale when
// the tab navigates or closes.
type TabState struct {
	tabID          types.TabID
	scanned        map[string]time.Time
	endpoints      map[string]*endpoint
	scriptsScanned int
	endpointHits   int
	updatedAt      *time.Time
	seq            uint64
}

func newTabState(tabID types.TabID) *TabState {
	return &TabState{
		tabID:     tabID,
		scanned:   make(map[string]time.Time),
		endpoints: make(map[string]*endpoint),
	}
}

// pushUniqueLimited appends value if absent and drops the oldest entries
// beyond max.
func pushUniqueLimited(list []string, value string, max int) []string {
	if value == "" {
		return list
	}
	found := false
	for _, v := range list {
		if v == value {
			found = true
			break
		}
	}
	if !found {
		list = append(list, value)
	}
	if max > 0 && len(list) > max {
		list = append(list[:0:0], list[len(list)-max:]...)
	}
	return list
}

func (s *TabState) upsert(c candidate, meta scriptMeta, now time.Time, limits Limits) {
	endpointURL := firstNonEmpty(c.endpointURL, c.rawURL)
	if endpointURL == "" {
		return
	}
	method := normalizeMethod(c.method, "GET")
	key := endpointKey(method, endpointURL)

	source := meta.sourceName()
	if c.dynamic {
		source = "[dynamic] " + source
	}
	matcher := firstNonEmpty(c.matcher, "unknown")
	confidence := c.confidence
	if confidence == "" {
		confidence = types.ConfidenceMedium
	}

	existing, ok := s.endpoints[key]
	if !ok {
		s.seq++
		s.endpoints[key] = &endpoint{
			seq: s.seq,
			record: types.EndpointRecord{
				Key:           key,
				URL:           endpointURL,
				RawURL:        firstNonEmpty(c.rawURL, endpointURL),
				Method:        method,
				MethodsSeen:   []string{method},
				Confidence:    confidence,
				Matcher:       matcher,
				Matchers:      []string{matcher},
				FirstSeen:     now,
				LastSeen:      now,
				Occurrences:   1,
				Dynamic:       c.dynamic,
				Snippet:       c.snippet,
				SourceScripts: []string{source},
			},
		}
		return
	}

	r := &existing.record
	r.LastSeen = now
	r.Occurrences++
	wasUnresolved := r.URL == "" || r.Dynamic
	if r.Dynamic && !c.dynamic {
		r.Dynamic = false
	}
	if wasUnresolved && !c.dynamic && c.resolvedURL != "" {
		r.URL = c.resolvedURL
	}
	if c.snippet != "" && r.Snippet == "" {
		r.Snippet = c.snippet
	}
	if confidence == types.ConfidenceHigh {
		r.Confidence = types.ConfidenceHigh
	}
	r.MethodsSeen = pushUniqueLimited(r.MethodsSeen, method, limits.MaxMethods)
	r.Matchers = pushUniqueLimited(r.Matchers, matcher, limits.MaxMatchers)
	r.SourceScripts = pushUniqueLimited(r.SourceScripts, source, limits.MaxSources)
}

// sortedEndpoints orders entries by last-seen ascending, oldest insert first
// on ties.
func (s *TabState) sortedEndpoints() []*endpoint {
	list := make([]*endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.record.LastSeen.Equal(b.record.LastSeen) {
			return a.record.LastSeen.Before(b.record.LastSeen)
		}
		return a.seq < b.seq
	})
	return list
}

// trim evicts the least recently seen entries beyond max.
func (s *TabState) trim(max int) int {
	if max <= 0 || len(s.endpoints) <= max {
		return 0
	}
	list := s.sortedEndpoints()
	drop := len(list) - max
	for _, e := range list[:drop] {
		delete(s.endpoints, e.record.Key)
	}
	return drop
}

func capList(list []string, max int) []string {
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return append([]string(nil), list...)
}

func (s *TabState) snapshot(limits Limits) types.InterceptionSnapshot {
	entries := make([]types.EndpointRecord, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		r := e.record
		r.MethodsSeen = capList(r.MethodsSeen, limits.MaxMethods)
		r.Matchers = capList(r.Matchers, limits.MaxMatchers)
		r.SourceScripts = capList(r.SourceScripts, limits.MaxSources)
		entries = append(entries, r)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].Key < entries[j].Key
	})
	var updated *time.Time
	if s.updatedAt != nil {
		t := *s.updatedAt
		updated = &t
	}
	return types.InterceptionSnapshot{
		Entries: entries,
		Stats: types.InterceptionStats{
			ScriptsScanned: s.scriptsScanned,
			EndpointCount:  len(entries),
			EndpointHits:   s.endpointHits,
			UpdatedAt:      updated,
		},
	}
}
