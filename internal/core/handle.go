package core

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/reqlens/internal/capture"
	"github.com/dgnsrekt/reqlens/internal/discovery"
	"github.com/dgnsrekt/reqlens/internal/relay"
	"github.com/dgnsrekt/reqlens/internal/types"
)

// Handle dispatches one inbound message and returns its reply.
func (s *Service) Handle(ctx context.Context, msg types.Message) (any, error) {
	if msg == nil {
		return nil, types.NewError(types.CodeValidation, "message is required", nil)
	}
	var (
		reply any
		err   error
	)
	if callErr := s.call(ctx, func() { reply, err = s.dispatch(msg) }); callErr != nil {
		return nil, callErr
	}
	return reply, err
}

func (s *Service) dispatch(msg types.Message) (any, error) {
	switch m := msg.(type) {
	case types.ScanScript:
		s.scan(discovery.ScanRequestFrom(m))
		return types.ScanReply{Success: true, Queued: true}, nil

	case types.GetInterceptionData:
		return s.engine.Snapshot(m.TabID), nil

	case types.CaptureBody:
		s.capture.CaptureBody(m.URL, m.Method, payload(m.Body))
		return types.SuccessReply{Success: true}, nil

	case types.CaptureResponse:
		s.capture.CaptureResponse(m.URL, m.Method, payload(m.ResponseBody))
		return types.SuccessReply{Success: true}, nil

	case types.CaptureDocumentContent:
		if s.capture.CaptureDocument(m.URL, payload(m.ResponseBody)) {
			slog.Debug("Attached document content", "url", truncateURL(m.URL))
		}
		return types.SuccessReply{Success: true}, nil

	case types.GetRequests:
		res := s.budget.Fit(s.capture.Requests(), s.hideStatic)
		if res.Step > 0 {
			slog.Warn("Requests reply degraded to fit message ceiling", "step", res.Step, "bytes", res.Bytes, "count", len(res.Requests))
		}
		return types.RequestsReply{Requests: res.Requests}, nil

	case types.GetRequestsForExport:
		return types.RequestsReply{Requests: s.capture.Export()}, nil

	case types.ImportHistory:
		count := s.capture.Import(m.Requests)
		slog.Info("Imported capture history", "count", count, "supplied", len(m.Requests))
		s.refreshBadge()
		return types.ImportReply{Success: true, Count: count}, nil

	case types.ClearRequests:
		s.capture.Clear()
		s.engine.ClearAll()
		s.refreshBadge()
		return types.SuccessReply{Success: true}, nil

	case types.GetHideStaticResources:
		return types.HideStaticReply{Enabled: s.hideStatic}, nil

	case types.SetHideStaticResources:
		s.hideStatic = m.Enabled
		if s.prefs != nil {
			if err := s.prefs.Set(m.Enabled); err != nil {
				slog.Warn("Failed to persist hide-static preference", "error", err)
			}
		}
		s.refreshBadge()
		return types.HideStaticReply{Success: true, Enabled: s.hideStatic}, nil
	}
	return nil, types.NewError(types.CodeUnknownAction, "unsupported action "+string(msg.Action()), nil)
}

func payload(raw []byte) *string {
	text, ok := types.PayloadText(raw)
	if !ok {
		return nil
	}
	return &text
}

// scan accepts a script and either scans it now or fetches it off the loop.
func (s *Service) scan(req discovery.ScanRequest) {
	job, ok := s.engine.Begin(req)
	if !ok {
		return
	}
	if !job.NeedsFetch() {
		s.completeScan(job, *job.Source)
		return
	}
	if s.fetcher == nil {
		s.completeScan(job, "")
		return
	}
	ctx := s.runCtx
	go func() {
		source, ok := s.fetcher.Fetch(ctx, job.FetchURL)
		if !ok {
			slog.Debug("Script source unavailable", "tab_id", job.TabID, "url", truncateURL(job.FetchURL))
			source = ""
		}
		s.post(func() { s.completeScan(job, source) })
	}()
}

func (s *Service) completeScan(job *discovery.Job, source string) {
	found, ok := s.engine.Complete(job, source)
	if !ok {
		slog.Debug("Dropped scan for reset tab", "tab_id", job.TabID, "script", job.Key)
		return
	}
	stats := s.engine.Snapshot(job.TabID).Stats
	if found > 0 {
		slog.Debug("Scanned script", "tab_id", job.TabID, "script", job.Key, "candidates", found, "endpoints", stats.EndpointCount)
	}
	s.publish(relay.TopicEndpoints, endpointsEvent{
		TabID:          job.TabID,
		EndpointCount:  stats.EndpointCount,
		ScriptsScanned: stats.ScriptsScanned,
	})
}

// RequestStarted records the start of a network request.
// RequestStarted reports whether the request was accepted for capture.
func (s *Service) RequestStarted(ctx context.Context, ev capture.RequestStart) (bool, error) {
	var accepted bool
	err := s.call(ctx, func() { accepted = s.capture.OnRequestStart(ev) })
	return accepted, err
}

// HeadersSent replaces a pending request's headers with the wire headers.
func (s *Service) HeadersSent(ctx context.Context, requestID string, headers []types.Header) error {
	return s.call(ctx, func() { s.capture.OnHeadersSent(requestID, headers) })
}

func (s *Service) Completed(ctx context.Context, requestID string) error {
	return s.call(ctx, func() { s.capture.OnCompleted(requestID) })
}

func (s *Service) Failed(ctx context.Context, requestID string) error {
	return s.call(ctx, func() { s.capture.OnError(requestID) })
}

// TabNavigated resets the tab's discovery state.
func (s *Service) TabNavigated(ctx context.Context, tab types.TabID, rawURL string) error {
	return s.call(ctx, func() {
		s.tabs.Navigated(tab, rawURL)
		s.refreshBadge()
	})
}

func (s *Service) TabClosed(ctx context.Context, tab types.TabID) error {
	return s.call(ctx, func() {
		s.tabs.Closed(tab)
		s.refreshBadge()
	})
}

func (s *Service) TabActivated(ctx context.Context, tab types.TabID, rawURL string) error {
	return s.call(ctx, func() {
		s.tabs.Activated(tab, rawURL)
		s.refreshBadge()
	})
}

// SetHideStaticFromStore applies a preference change made outside the
// service. It does not write the value back.
func (s *Service) SetHideStaticFromStore(ctx context.Context, value bool) error {
	return s.call(ctx, func() {
		if s.hideStatic == value {
			return
		}
		s.hideStatic = value
		slog.Info("Hide-static preference changed", "enabled", value)
		s.refreshBadge()
	})
}

func (s *Service) Snapshot(ctx context.Context, tab types.TabID) (types.InterceptionSnapshot, error) {
	var snap types.InterceptionSnapshot
	err := s.call(ctx, func() { snap = s.engine.Snapshot(tab) })
	return snap, err
}

// Status summarizes in-memory state for health checks.
type Status struct {
	Capture    capture.Stats `json:"capture"`
	Tabs       int           `json:"tabs"`
	HideStatic bool          `json:"hideStaticResources"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.call(ctx, func() {
		st = Status{Capture: s.capture.Stats(), Tabs: s.tabs.Count(), HideStatic: s.hideStatic}
	})
	return st, err
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
