package types

import "time"

// Confidence is the coarse reliability tier of an extraction matcher.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// EndpointRecord is one deduplicated entry of a tab's endpoint catalog.
type EndpointRecord struct {
	Key           string     `json:"key"`
	URL           string     `json:"url"`
	RawURL        string     `json:"rawUrl"`
	Method        string     `json:"method"`
	MethodsSeen   []string   `json:"methodsSeen"`
	Confidence    Confidence `json:"confidence"`
	Matcher       string     `json:"matcher"`
	Matchers      []string   `json:"matchers"`
	FirstSeen     time.Time  `json:"firstSeen"`
	LastSeen      time.Time  `json:"lastSeen"`
	Occurrences   int        `json:"occurrences"`
	Dynamic       bool       `json:"dynamic"`
	Snippet       string     `json:"snippet"`
	SourceScripts []string   `json:"sourceScripts"`
}

// InterceptionStats aggregates a tab's discovery counters.
type InterceptionStats struct {
	ScriptsScanned int        `json:"scriptsScanned"`
	EndpointCount  int        `json:"endpointCount"`
	EndpointHits   int        `json:"endpointHits"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

// InterceptionSnapshot is the reply to getActiveInterceptionData.
type InterceptionSnapshot struct {
	Entries []EndpointRecord  `json:"entries"`
	Stats   InterceptionStats `json:"stats"`
}
