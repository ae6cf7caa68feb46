// Package core runs every capture, discovery and tab transition on one
// goroutine. Callers post work into the loop and wait for the result.
package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/reqlens/internal/budget"
	"github.com/dgnsrekt/reqlens/internal/capture"
	"github.com/dgnsrekt/reqlens/internal/discovery"
	"github.com/dgnsrekt/reqlens/internal/relay"
	"github.com/dgnsrekt/reqlens/internal/tabs"
	"github.com/dgnsrekt/reqlens/internal/types"
)

const (
	DefaultSweepInterval = 30 * time.Second
	eventQueueSize       = 256
)

// Publisher receives state change events.
type Publisher interface {
	PublishJSON(topic string, v any)
}

// Recorder receives every finalized request.
type Recorder interface {
	Record(rec types.CapturedRequest)
}

// PrefWriter persists the static-resource filter.
type PrefWriter interface {
	Set(value bool) error
}

type Options struct {
	Capture         capture.Limits
	Discovery       discovery.Limits
	MaxMessageBytes int
	SweepInterval   time.Duration
	HideStatic      bool
	SelfOrigin      string

	Fetcher discovery.Fetcher
	Prefs   PrefWriter
	Events  Publisher
	Archive Recorder
}

// Service owns the domain state. All fields below events are touched only
// from the loop goroutine.
type Service struct {
	events  chan func()
	stopped chan struct{}
	sweep   time.Duration

	fetcher discovery.Fetcher
	prefs   PrefWriter
	pub     Publisher
	archive Recorder

	capture    *capture.Manager
	engine     *discovery.Engine
	budget     *budget.Controller
	tabs       *tabs.Coordinator
	hideStatic bool
	lastBadge  int
	runCtx     context.Context
}

func NewService(opts Options) *Service {
	s := &Service{
		events:     make(chan func(), eventQueueSize),
		stopped:    make(chan struct{}),
		sweep:      opts.SweepInterval,
		fetcher:    opts.Fetcher,
		prefs:      opts.Prefs,
		pub:        opts.Events,
		archive:    opts.Archive,
		engine:     discovery.NewEngine(opts.Discovery),
		budget:     budget.NewController(opts.MaxMessageBytes),
		hideStatic: opts.HideStatic,
		lastBadge:  -1,
		runCtx:     context.Background(),
	}
	if s.sweep <= 0 {
		s.sweep = DefaultSweepInterval
	}
	s.capture = capture.NewManager(opts.Capture, loopScheduler{s})
	s.capture.SetSelfOrigin(opts.SelfOrigin)
	s.capture.OnFinalize(s.finalized)
	s.tabs = tabs.NewCoordinator(s.engine.ClearTab)
	return s
}

// Run processes queued work until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.runCtx = ctx
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	defer close(s.stopped)

	slog.Info("Core loop started", "sweep_interval", s.sweep)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Core loop stopped")
			return nil
		case fn := <-s.events:
			fn()
		case <-ticker.C:
			s.sweepAged()
		}
	}
}

var errStopped = types.NewError(types.CodeUnavailable, "core loop is not running", nil)

// post queues fn without waiting for it to run.
func (s *Service) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Service) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.events <- wrapped:
	case <-s.stopped:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loopScheduler delivers timer callbacks back onto the loop.
type loopScheduler struct{ s *Service }

func (l loopScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.s.post(fn) })
}

func (s *Service) sweepAged() {
	pending, bodies, responses := s.capture.Sweep()
	if pending+bodies+responses > 0 {
		slog.Debug("Swept aged capture state", "pending", pending, "bodies", bodies, "responses", responses)
	}
}

type requestEvent struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Method string      `json:"method"`
	Type   string      `json:"type"`
	TabID  types.TabID `json:"tabId"`
}

type badgeEvent struct {
	Count int `json:"count"`
}

type endpointsEvent struct {
	TabID          types.TabID `json:"tabId"`
	EndpointCount  int         `json:"endpointCount"`
	ScriptsScanned int         `json:"scriptsScanned"`
}

func (s *Service) publish(topic string, v any) {
	if s.pub != nil {
		s.pub.PublishJSON(topic, v)
	}
}

func (s *Service) finalized(rec types.CapturedRequest) {
	s.publish(relay.TopicRequest, requestEvent{ID: rec.ID, URL: rec.URL, Method: rec.Method, Type: rec.Type, TabID: rec.TabID})
	if s.archive != nil {
		s.archive.Record(rec)
	}
	s.refreshBadge()
}

// refreshBadge publishes the active site's counter when it changes.
func (s *Service) refreshBadge() {
	count := s.tabs.BadgeCount(s.capture.Requests(), s.hideStatic)
	if count == s.lastBadge {
		return
	}
	s.lastBadge = count
	s.publish(relay.TopicBadge, badgeEvent{Count: count})
}
