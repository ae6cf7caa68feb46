// Package budget fits the capture log into a size-constrained outbound
// message by degrading it one step at a time.
package budget

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/dgnsrekt/reqlens/internal/types"
)

// DefaultMaxBytes is the outbound message ceiling.
const DefaultMaxBytes = 56 * 1024 * 1024

// DefaultPriorityURLMarkers keep their response bodies through step 1.
var DefaultPriorityURLMarkers = []string{
	"hometimeline",
	"home_timeline_urt",
	"threaded_conversation_with_injections_v2",
}

// Steps of the degradation ladder, in the order they are tried.
const (
	StepNone = iota
	StepTrimResponses
	StepDropResponses
	StepDropBodies
	StepShrink
)

type Controller struct {
	MaxBytes           int
	HeadWindow         int
	HeaderCap          int
	PriorityURLMarkers []string
}

func NewController(maxBytes int) *Controller {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Controller{
		MaxBytes:           maxBytes,
		HeadWindow:         20,
		HeaderCap:          30,
		PriorityURLMarkers: DefaultPriorityURLMarkers,
	}
}

// Result is the fitted payload. Bytes is its measured size, or
// math.MaxInt when it could not be encoded.
type Result struct {
	Requests []types.CapturedRequest
	Step     int
	Bytes    int
}

type envelope struct {
	Requests []types.CapturedRequest `json:"requests"`
}

// Size returns the encoded length of {"requests": records}.
func Size(records []types.CapturedRequest) int {
	if records == nil {
		records = []types.CapturedRequest{}
	}
	data, err := json.Marshal(envelope{Requests: records})
	if err != nil {
		return math.MaxInt
	}
	return len(data)
}

// Fit returns the first rung of the ladder whose encoding fits MaxBytes.
// records must be ordered most recent first and are not modified.
func (c *Controller) Fit(records []types.CapturedRequest, hideStatic bool) Result {
	payload := make([]types.CapturedRequest, 0, len(records))
	for _, r := range records {
		if hideStatic && r.IsStaticResource {
			continue
		}
		payload = append(payload, r)
	}
	if size := Size(payload); size <= c.MaxBytes {
		return Result{Requests: payload, Step: StepNone, Bytes: size}
	}

	prioritized := make([]types.CapturedRequest, len(payload))
	for i, r := range payload {
		if !c.keepsResponse(i, r.URL) {
			r.ResponseBody = nil
		}
		prioritized[i] = r
	}
	if size := Size(prioritized); size <= c.MaxBytes {
		return Result{Requests: prioritized, Step: StepTrimResponses, Bytes: size}
	}

	for i := range payload {
		payload[i].ResponseBody = nil
	}
	if size := Size(payload); size <= c.MaxBytes {
		return Result{Requests: payload, Step: StepDropResponses, Bytes: size}
	}

	for i := range payload {
		payload[i].Body = nil
		if payload[i].Headers == nil {
			payload[i].Headers = []types.Header{}
		} else if len(payload[i].Headers) > c.HeaderCap {
			payload[i].Headers = payload[i].Headers[:c.HeaderCap]
		}
	}
	if size := Size(payload); size <= c.MaxBytes {
		return Result{Requests: payload, Step: StepDropBodies, Bytes: size}
	}

	end := len(payload)
	for end > 1 {
		end = end * 3 / 4
		sliced := payload[:end]
		if size := Size(sliced); size <= c.MaxBytes {
			return Result{Requests: sliced, Step: StepShrink, Bytes: size}
		}
	}
	if len(payload) == 0 {
		return Result{Requests: []types.CapturedRequest{}, Step: StepShrink, Bytes: Size(nil)}
	}
	single := payload[:1]
	return Result{Requests: single, Step: StepShrink, Bytes: Size(single)}
}

func (c *Controller) keepsResponse(index int, rawURL string) bool {
	if index < c.HeadWindow {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, marker := range c.PriorityURLMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
