package types

// ScanReply acknowledges a scan request; the scan itself continues afterwards.
type ScanReply struct {
	Success bool `json:"success"`
	Queued  bool `json:"queued"`
}

type SuccessReply struct {
	Success bool `json:"success"`
}

type RequestsReply struct {
	Requests []CapturedRequest `json:"requests"`
}

type ImportReply struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type HideStaticReply struct {
	Success bool `json:"success,omitempty"`
	Enabled bool `json:"enabled"`
}
