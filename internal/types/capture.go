package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// TabID identifies a browser tab. With a Chromium host it is the CDP target ID.
// Empty means the tab is unknown.
type TabID string

// UnmarshalJSON accepts both string and numeric tab ids; negative numbers
// decode to the unknown tab.
func (t *TabID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TabID(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	if f < 0 {
		*t = ""
		return nil
	}
	*t = TabID(strconv.FormatInt(int64(f), 10))
	return nil
}

// Header is a single request header as observed on the wire.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const (
	DisplayTypeDocument = "document"
	DisplayTypeFetch    = "fetch"
)

// CapturedRequest is a finalized request in the capture log.
type CapturedRequest struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Method           string    `json:"method"`
	Headers          []Header  `json:"headers"`
	Body             *string   `json:"body"`
	ResponseBody     *string   `json:"responseBody"`
	Timestamp        time.Time `json:"timestamp"`
	Type             string    `json:"type"`
	TabID            TabID     `json:"tabId"`
	Initiator        string    `json:"initiator"`
	IsStaticResource bool      `json:"isStaticResource"`
}

// ImportedRequest is the lenient shape accepted by history import. Every
// field is optional; the capture manager fills defaults.
type ImportedRequest struct {
	ID               json.RawMessage `json:"id,omitempty"`
	URL              string          `json:"url"`
	Method           string          `json:"method"`
	Headers          json.RawMessage `json:"headers,omitempty"`
	Body             json.RawMessage `json:"body,omitempty"`
	ResponseBody     json.RawMessage `json:"responseBody,omitempty"`
	Timestamp        json.RawMessage `json:"timestamp,omitempty"`
	Type             string          `json:"type"`
	TabID            TabID           `json:"tabId"`
	Initiator        string          `json:"initiator"`
	IsStaticResource *bool           `json:"isStaticResource,omitempty"`
}
