package capture

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/reqlens/internal/types"
)

// Limits bounds every in-memory structure the manager owns.
type Limits struct {
	MaxRequests        int
	BufferSize         int
	BufferFreshness    time.Duration
	BufferMaxAge       time.Duration
	PendingMaxAge      time.Duration
	FallbackWait       time.Duration
	DuplicateWindow    time.Duration
	LateResponseWindow time.Duration
	MaxBodyChars       int
	MaxResponseChars   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxRequests:        2000,
		BufferSize:         200,
		BufferFreshness:    15 * time.Second,
		BufferMaxAge:       30 * time.Second,
		PendingMaxAge:      30 * time.Second,
		FallbackWait:       1500 * time.Millisecond,
		DuplicateWindow:    time.Second,
		LateResponseWindow: 5 * time.Second,
		MaxBodyChars:       120000,
		MaxResponseChars:   1200000,
	}
}

// Scheduler runs fn once after d. Implementations must deliver fn on the
// goroutine that owns the Manager.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// RequestStart is the host's observation that a request has begun.
type RequestStart struct {
	RequestID    string
	URL          string
	Method       string
	TabID        types.TabID
	ResourceType string
	Timestamp    time.Time
	Body         *string
	Initiator    string
}

type pendingRequest struct {
	seq          uint64
	url          string
	method       string
	tabID        types.TabID
	resourceType string
	timestamp    time.Time
	headers      []types.Header
	body         *string
	responseBody *string
	initiator    string
	static       bool
	waiting      bool
}

// Stats is a point-in-time view of the manager's memory use.
type Stats struct {
	Pending        int `json:"pending"`
	BodyBuffer     int `json:"bodyBuffer"`
	ResponseBuffer int `json:"responseBuffer"`
	Captured       int `json:"captured"`
}

// Manager owns in-flight requests, the correlation buffers and the capture
// log. It is not safe for concurrent use.
type Manager struct {
	limits    Limits
	scheduler Scheduler

	pending   map[string]*pendingRequest
	seq       uint64
	bodies    *CorrelationBuffer
	responses *CorrelationBuffer
	log       []types.CapturedRequest

	selfOrigin string
	onFinalize func(types.CapturedRequest)

	now   func() time.Time
	newID func() string
}

func NewManager(limits Limits, scheduler Scheduler) *Manager {
	return &Manager{
		limits:    limits,
		scheduler: scheduler,
		pending:   make(map[string]*pendingRequest),
		bodies:    NewCorrelationBuffer(limits.BufferSize, limits.BufferFreshness),
		responses: NewCorrelationBuffer(limits.BufferSize, limits.BufferFreshness),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetSelfOrigin marks an initiator origin whose requests are never captured.
func (m *Manager) SetSelfOrigin(origin string) { m.selfOrigin = strings.TrimSuffix(origin, "/") }

// OnFinalize registers an observer for every record added to the log.
func (m *Manager) OnFinalize(fn func(types.CapturedRequest)) { m.onFinalize = fn }

func (m *Manager) isSelfInitiated(initiator string) bool {
	if strings.HasPrefix(initiator, "chrome-extension://") {
		return true
	}
	return m.selfOrigin != "" && strings.TrimSuffix(initiator, "/") == m.selfOrigin
}

// OnRequestStart creates a pending entry. It returns false when the request
// is ignored.
func (m *Manager) OnRequestStart(ev RequestStart) bool {
	if ev.RequestID == "" || m.isSelfInitiated(ev.Initiator) {
		return false
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	method := strings.ToUpper(ev.Method)
	if method == "" {
		method = "GET"
	}
	resourceType := ev.ResourceType
	if resourceType == "" {
		resourceType = "other"
	}
	m.seq++
	m.pending[ev.RequestID] = &pendingRequest{
		seq:          m.seq,
		url:          ev.URL,
		method:       method,
		tabID:        ev.TabID,
		resourceType: resourceType,
		timestamp:    ts.UTC(),
		headers:      []types.Header{},
		body:         normalizePtr(ev.Body, m.limits.MaxBodyChars),
		initiator:    ev.Initiator,
		static:       IsStaticOrFrameworkResource(ev.URL),
	}
	return true
}

// OnHeadersSent attaches the header list. Unknown ids are ignored.
func (m *Manager) OnHeadersSent(requestID string, headers []types.Header) {
	p, ok := m.pending[requestID]
	if !ok {
		return
	}
	if headers == nil {
		headers = []types.Header{}
	}
	p.headers = headers
}

func methodNeedsBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// OnCompleted decides whether the request can be finalized now or should
// wait briefly for an in-page body capture.
func (m *Manager) OnCompleted(requestID string) {
	p, ok := m.pending[requestID]
	if !ok || p.waiting {
		return
	}
	now := m.now()

	if resp := m.responses.Take(p.url, p.method, now); resp != nil {
		p.responseBody = resp
	}

	if !methodNeedsBody(p.method) || p.body != nil {
		m.finalize(requestID)
		return
	}
	if body := m.bodies.Take(p.url, p.method, now); body != nil {
		p.body = body
		m.finalize(requestID)
		return
	}
	if m.scheduler == nil || m.limits.FallbackWait <= 0 {
		m.finalize(requestID)
		return
	}

	p.waiting = true
	seq := p.seq
	m.scheduler.AfterFunc(m.limits.FallbackWait, func() {
		m.finishFallback(requestID, seq)
	})
}

func (m *Manager) finishFallback(requestID string, seq uint64) {
	p, ok := m.pending[requestID]
	if !ok || p.seq != seq {
		return
	}
	if p.body == nil {
		if late := m.bodies.Take(p.url, p.method, m.now()); late != nil {
			p.body = late
		}
	}
	m.finalize(requestID)
}

// OnError discards the pending entry without emitting a record.
func (m *Manager) OnError(requestID string) {
	delete(m.pending, requestID)
}

func (m *Manager) finalize(requestID string) {
	p, ok := m.pending[requestID]
	if !ok {
		return
	}
	delete(m.pending, requestID)

	if m.isDuplicate(p) {
		slog.Debug("Dropped duplicate request", "request_id", requestID, "url", p.url)
		return
	}

	displayType := types.DisplayTypeFetch
	if p.resourceType == "main_frame" {
		displayType = types.DisplayTypeDocument
	}
	rec := types.CapturedRequest{
		ID:               m.newID(),
		URL:              p.url,
		Method:           p.method,
		Headers:          p.headers,
		Body:             normalizePtr(p.body, m.limits.MaxBodyChars),
		ResponseBody:     normalizePtr(p.responseBody, m.limits.MaxResponseChars),
		Timestamp:        p.timestamp,
		Type:             displayType,
		TabID:            p.tabID,
		Initiator:        p.initiator,
		IsStaticResource: p.static,
	}

	m.log = append(m.log, types.CapturedRequest{})
	copy(m.log[1:], m.log)
	m.log[0] = rec
	if m.limits.MaxRequests > 0 && len(m.log) > m.limits.MaxRequests {
		m.log = m.log[:m.limits.MaxRequests]
	}

	if m.onFinalize != nil {
		m.onFinalize(rec)
	}
}

func samePayload(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *Manager) isDuplicate(p *pendingRequest) bool {
	for _, r := range m.log {
		if r.URL != p.url || r.Method != p.method || !samePayload(r.Body, p.body) {
			continue
		}
		diff := r.Timestamp.Sub(p.timestamp)
		if diff < 0 {
			diff = -diff
		}
		if diff < m.limits.DuplicateWindow {
			return true
		}
	}
	return false
}

// latestPending returns the most recently created pending entry for
// url+method that still lacks the given payload.
func (m *Manager) latestPending(url, method string, missing func(*pendingRequest) bool) *pendingRequest {
	var best *pendingRequest
	for _, p := range m.pending {
		if p.method != method || p.url != url || !missing(p) {
			continue
		}
		if best == nil || p.seq > best.seq {
			best = p
		}
	}
	return best
}

// CaptureBody attaches an in-page request body to a pending request, or
// buffers it for one that has not started or completed yet.
func (m *Manager) CaptureBody(url, method string, body *string) {
	if url == "" {
		return
	}
	method = strings.ToUpper(method)
	normalized := normalizePtr(body, m.limits.MaxBodyChars)
	if p := m.latestPending(url, method, func(p *pendingRequest) bool { return p.body == nil }); p != nil {
		p.body = normalized
		return
	}
	m.bodies.Push(url, method, normalized, m.now())
}

// CaptureResponse attaches an in-page response body. If no pending request
// wants it, a recently finalized record without a response takes it, and
// failing that it is buffered.
func (m *Manager) CaptureResponse(url, method string, responseBody *string) {
	if url == "" {
		return
	}
	method = strings.ToUpper(method)
	normalized := normalizePtr(responseBody, m.limits.MaxResponseChars)
	if p := m.latestPending(url, method, func(p *pendingRequest) bool { return p.responseBody == nil }); p != nil {
		p.responseBody = normalized
		return
	}
	now := m.now()
	for i := range m.log {
		r := &m.log[i]
		if r.ResponseBody != nil || r.Method != method || r.URL != url {
			continue
		}
		if now.Sub(r.Timestamp) < m.limits.LateResponseWindow {
			r.ResponseBody = normalized
			return
		}
	}
	m.responses.Push(url, method, normalized, now)
}

// CaptureDocument attaches rendered document content to the newest document
// record for url that has no response yet. It reports whether one matched.
func (m *Manager) CaptureDocument(url string, responseBody *string) bool {
	if url == "" || responseBody == nil {
		return false
	}
	for i := range m.log {
		r := &m.log[i]
		if r.Type == types.DisplayTypeDocument && r.URL == url && r.ResponseBody == nil {
			r.ResponseBody = normalizePtr(responseBody, m.limits.MaxResponseChars)
			return true
		}
	}
	return false
}

// Sweep removes in-flight entries and buffered payloads that outlived
// their windows.
func (m *Manager) Sweep() (pending, bodies, responses int) {
	now := m.now()
	for id, p := range m.pending {
		if now.Sub(p.timestamp) > m.limits.PendingMaxAge {
			delete(m.pending, id)
			pending++
		}
	}
	bodies = m.bodies.Sweep(m.limits.BufferMaxAge, now)
	responses = m.responses.Sweep(m.limits.BufferMaxAge, now)
	return pending, bodies, responses
}

// Requests returns a copy of the log, most recent first.
func (m *Manager) Requests() []types.CapturedRequest {
	out := make([]types.CapturedRequest, len(m.log))
	copy(out, m.log)
	return out
}

// Export returns the full log with payload ceilings re-applied.
func (m *Manager) Export() []types.CapturedRequest {
	out := make([]types.CapturedRequest, 0, len(m.log))
	for _, r := range m.log {
		out = append(out, m.sanitize(r))
	}
	return out
}

func (m *Manager) sanitize(r types.CapturedRequest) types.CapturedRequest {
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Headers == nil {
		r.Headers = []types.Header{}
	}
	if r.Type == "" {
		r.Type = types.DisplayTypeFetch
	}
	r.Body = normalizePtr(r.Body, m.limits.MaxBodyChars)
	r.ResponseBody = normalizePtr(r.ResponseBody, m.limits.MaxResponseChars)
	return r
}

// Import replaces the log with previously exported records. Entries that
// are not JSON objects are dropped. It returns the resulting log size.
func (m *Manager) Import(list []json.RawMessage) int {
	log := make([]types.CapturedRequest, 0, len(list))
	for _, raw := range list {
		rec, ok := m.decodeImported(raw)
		if !ok {
			continue
		}
		log = append(log, rec)
		if m.limits.MaxRequests > 0 && len(log) >= m.limits.MaxRequests {
			break
		}
	}
	m.log = log
	return len(m.log)
}

func (m *Manager) decodeImported(raw json.RawMessage) (types.CapturedRequest, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return types.CapturedRequest{}, false
	}
	var in types.ImportedRequest
	if err := json.Unmarshal(trimmed, &in); err != nil {
		slog.Debug("Skipped unreadable imported request", "error", err)
		return types.CapturedRequest{}, false
	}

	rec := types.CapturedRequest{
		ID:        m.newID(),
		URL:       in.URL,
		Method:    in.Method,
		Type:      in.Type,
		TabID:     in.TabID,
		Initiator: in.Initiator,
		Timestamp: m.now().UTC(),
	}
	if id, ok := types.PayloadText(in.ID); ok {
		rec.ID = id
	}
	if len(in.Headers) > 0 {
		var headers []types.Header
		if err := json.Unmarshal(in.Headers, &headers); err == nil {
			rec.Headers = headers
		}
	}
	if text, ok := types.PayloadText(in.Body); ok {
		rec.Body = &text
	}
	if text, ok := types.PayloadText(in.ResponseBody); ok {
		rec.ResponseBody = &text
	}
	if ts, ok := parseImportedTimestamp(in.Timestamp); ok {
		rec.Timestamp = ts
	}
	if in.IsStaticResource != nil {
		rec.IsStaticResource = *in.IsStaticResource
	} else {
		rec.IsStaticResource = IsStaticOrFrameworkResource(in.URL)
	}
	return m.sanitize(rec), true
}

// parseImportedTimestamp accepts ISO 8601 text or epoch milliseconds.
func parseImportedTimestamp(raw json.RawMessage) (time.Time, bool) {
	text, ok := types.PayloadText(raw)
	if !ok {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return ts.UTC(), true
	}
	if ms, err := strconv.ParseFloat(text, 64); err == nil {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// Clear empties the capture log. In-flight requests are kept.
func (m *Manager) Clear() {
	m.log = nil
}

func (m *Manager) Stats() Stats {
	return Stats{
		Pending:        len(m.pending),
		BodyBuffer:     m.bodies.Len(),
		ResponseBuffer: m.responses.Len(),
		Captured:       len(m.log),
	}
}
