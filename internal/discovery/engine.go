// Package discovery mines script sources for network call sites and keeps a
// deduplicated endpoint catalog per tab.
package discovery

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/reqlens/internal/types"
)

// ScanRequest names one script to scan for a tab.
type ScanRequest struct {
	TabID      types.TabID
	SourceType string
	ScriptURL  string
	PageURL    string
	ScriptKey  string
	SourceText *string
}

// ScanRequestFrom converts an inbound scan message.
func ScanRequestFrom(m types.ScanScript) ScanRequest {
	return ScanRequest{
		TabID:      m.TabID,
		SourceType: m.SourceType,
		ScriptURL:  m.ScriptURL,
		PageURL:    m.PageURL,
		ScriptKey:  m.ScriptKey,
		SourceText: m.SourceText,
	}
}

// Job is an accepted scan. Jobs without Source must be fetched from
// FetchURL before Complete is called.
type Job struct {
	TabID    types.TabID
	Key      string
	FetchURL string
	Source   *string

	meta  scriptMeta
	state *TabState
}

func (j *Job) NeedsFetch() bool { return j.Source == nil }

// Engine owns every tab's discovery state. It is not safe for concurrent use.
type Engine struct {
	limits   Limits
	matchers []Matcher
	tabs     map[types.TabID]*TabState
	now      func() time.Time
}

func NewEngine(limits Limits) *Engine {
	return &Engine{
		limits:   limits,
		matchers: DefaultMatchers,
		tabs:     make(map[types.TabID]*TabState),
		now:      time.Now,
	}
}

func (e *Engine) state(tab types.TabID) *TabState {
	s, ok := e.tabs[tab]
	if !ok {
		s = newTabState(tab)
		e.tabs[tab] = s
	}
	return s
}

// Begin marks the script as scanned for the tab and returns the work to do.
// It returns false for unknown tabs, scripts already scanned, and requests
// with neither source text nor a URL.
func (e *Engine) Begin(req ScanRequest) (*Job, bool) {
	if req.TabID == "" {
		return nil, false
	}
	sourceType := types.SourceTypeExternal
	if req.SourceType == types.SourceTypeInline {
		sourceType = types.SourceTypeInline
	}
	key := req.ScriptKey
	if key == "" {
		key = fmt.Sprintf("%s:%s", sourceType, firstNonEmpty(req.ScriptURL, req.PageURL))
	}

	s := e.state(req.TabID)
	if _, done := s.scanned[key]; done {
		return nil, false
	}
	s.scanned[key] = e.now()

	job := &Job{
		TabID: req.TabID,
		Key:   key,
		meta: scriptMeta{
			sourceType: sourceType,
			scriptURL:  req.ScriptURL,
			pageURL:    req.PageURL,
			scriptKey:  key,
		},
		state: s,
	}
	if req.SourceText != nil {
		job.Source = req.SourceText
		return job, true
	}
	if req.ScriptURL == "" {
		return nil, false
	}
	job.FetchURL = req.ScriptURL
	return job, true
}

// Complete scans source for the job's tab. If the tab was reset since
// Begin, the result is dropped and ok is false.
func (e *Engine) Complete(job *Job, source string) (found int, ok bool) {
	if job == nil || e.tabs[job.TabID] != job.state {
		return 0, false
	}
	if source == "" {
		return 0, true
	}
	s := job.state
	candidates := e.extract(source, job.meta)
	now := e.now()
	for _, c := range candidates {
		s.upsert(c, job.meta, now, e.limits)
		s.endpointHits++
	}
	if evicted := s.trim(e.limits.MaxEndpoints); evicted > 0 {
		slog.Debug("Evicted stale endpoints", "tab_id", job.TabID, "count", evicted)
	}
	s.scriptsScanned++
	s.updatedAt = &now
	return len(candidates), true
}

func (e *Engine) extract(source string, meta scriptMeta) []candidate {
	source = truncateRunes(source, e.limits.MaxSourceChars)

	var out []candidate
	seen := make(map[string]bool)
	claimed := make(map[int]bool)
	for _, m := range e.matchers {
		for _, loc := range m.Pattern.FindAllStringSubmatchIndex(source, -1) {
			match, ok := m.Extract(source, loc)
			if !ok {
				continue
			}
			if m.ForceInclude {
				claimed[match.URLStart] = true
			} else if claimed[match.URLStart] {
				continue
			}
			if !looksLikeEndpoint(match.RawURL, m.ForceInclude) {
				continue
			}

			raw := strings.TrimSpace(match.RawURL)
			method := normalizeMethod(match.Method, "GET")
			resolved, resolvedOK := resolveEndpointURL(raw, meta.scriptURL, meta.pageURL)
			endpointURL := raw
			if resolvedOK {
				endpointURL = resolved
			}
			if endpointURL == "" {
				continue
			}
			uniq := fmt.Sprintf("%s||%s||%d||%s", method, endpointURL, match.Index, m.Name)
			if seen[uniq] {
				continue
			}
			seen[uniq] = true

			out = append(out, candidate{
				rawURL:      raw,
				resolvedURL: resolved,
				endpointURL: endpointURL,
				method:      method,
				matcher:     m.Name,
				confidence:  m.Confidence,
				snippet:     extractSnippet(source, match.Index, e.limits.MaxSnippetChars),
				dynamic:     strings.Contains(raw, "${") || !resolvedOK,
			})
		}
	}
	return out
}

// ClearTab discards a tab's catalog. Scans still in flight for it are
// dropped when they complete.
func (e *Engine) ClearTab(tab types.TabID) {
	delete(e.tabs, tab)
}

func (e *Engine) ClearAll() {
	e.tabs = make(map[types.TabID]*TabState)
}

// Snapshot returns the tab's catalog, most recently seen first.
func (e *Engine) Snapshot(tab types.TabID) types.InterceptionSnapshot {
	s, ok := e.tabs[tab]
	if !ok {
		return types.InterceptionSnapshot{Entries: []types.EndpointRecord{}}
	}
	return s.snapshot(e.limits)
}

// Tabs reports how many tabs currently hold discovery state.
func (e *Engine) Tabs() int { return len(e.tabs) }
