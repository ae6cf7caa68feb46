package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Action names one inbound message kind.
type Action string

const (
	ActionScanScript          Action = "scanScriptForEndpoints"
	ActionGetInterceptionData Action = "getActiveInterceptionData"
	ActionCaptureBody         Action = "captureBody"
	ActionCaptureResponse     Action = "captureResponse"
	ActionCaptureDocument     Action = "captureDocumentContent"
	ActionGetRequests         Action = "getRequests"
	ActionGetRequestsExport   Action = "getRequestsForExport"
	ActionImportHistory       Action = "importHistory"
	ActionClearRequests       Action = "clearRequests"
	ActionGetHideStatic       Action = "getHideStaticResources"
	ActionSetHideStatic       Action = "setHideStaticResources"
)

const (
	SourceTypeInline   = "inline"
	SourceTypeExternal = "external"
)

// Message is the sealed set of inbound actions.
type Message interface {
	Action() Action
}

// ScanScript asks for a script to be scanned for endpoints.
type ScanScript struct {
	TabID      TabID   `json:"tabId"`
	SourceType string  `json:"sourceType"`
	ScriptURL  string  `json:"scriptUrl"`
	PageURL    string  `json:"pageUrl"`
	ScriptKey  string  `json:"scriptKey"`
	SourceText *string `json:"sourceText"`
}

// GetInterceptionData asks for a tab's endpoint catalog.
type GetInterceptionData struct {
	TabID TabID `json:"tabId"`
}

// CaptureBody delivers a request body observed inside the page.
type CaptureBody struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

// CaptureResponse delivers a response body observed inside the page.
type CaptureResponse struct {
	URL          string          `json:"url"`
	Method       string          `json:"method"`
	ResponseBody json.RawMessage `json:"responseBody"`
}

// CaptureDocumentContent delivers the rendered document content of a navigation.
type CaptureDocumentContent struct {
	URL          string          `json:"url"`
	ResponseBody json.RawMessage `json:"responseBody"`
}

type GetRequests struct{}

type GetRequestsForExport struct{}

// ImportHistory replaces the capture log. Each element is decoded leniently.
type ImportHistory struct {
	Requests []json.RawMessage `json:"requests"`
}

type ClearRequests struct{}

type GetHideStaticResources struct{}

// SetHideStaticResources toggles the static-resource filter. Absent means enabled.
type SetHideStaticResources struct {
	Enabled bool `json:"enabled"`
}

func (ScanScript) Action() Action             { return ActionScanScript }
func (GetInterceptionData) Action() Action    { return ActionGetInterceptionData }
func (CaptureBody) Action() Action            { return ActionCaptureBody }
func (CaptureResponse) Action() Action        { return ActionCaptureResponse }
func (CaptureDocumentContent) Action() Action { return ActionCaptureDocument }
func (GetRequests) Action() Action            { return ActionGetRequests }
func (GetRequestsForExport) Action() Action   { return ActionGetRequestsExport }
func (ImportHistory) Action() Action          { return ActionImportHistory }
func (ClearRequests) Action() Action          { return ActionClearRequests }
func (GetHideStaticResources) Action() Action { return ActionGetHideStatic }
func (SetHideStaticResources) Action() Action { return ActionSetHideStatic }

type envelope struct {
	Action   Action          `json:"action"`
	TabID    *TabID          `json:"tabId"`
	Data     json.RawMessage `json:"data"`
	Enabled  *bool           `json:"enabled"`
	Requests json.RawMessage `json:"requests"`
}

// DecodeMessage validates a raw inbound message and returns its typed variant.
// Fields may sit under "data" or at the top level. sender is the tab the
// message came from, used when the payload names no tab.
func DecodeMessage(raw []byte, sender TabID) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, NewError(CodeValidation, "message is not a JSON object", err)
	}
	if env.Action == "" {
		return nil, NewError(CodeValidation, "action is required", nil)
	}

	fields := raw
	if hasValue(env.Data) {
		fields = env.Data
	}

	topTab := sender
	if env.TabID != nil && *env.TabID != "" {
		topTab = *env.TabID
	}

	switch env.Action {
	case ActionScanScript:
		var m ScanScript
		if err := decodeFields(fields, &m); err != nil {
			return nil, err
		}
		if m.TabID == "" {
			m.TabID = topTab
		}
		if m.SourceType != SourceTypeInline {
			m.SourceType = SourceTypeExternal
		}
		return m, nil
	case ActionGetInterceptionData:
		var m GetInterceptionData
		if err := decodeFields(fields, &m); err != nil {
			return nil, err
		}
		if m.TabID == "" {
			m.TabID = topTab
		}
		return m, nil
	case ActionCaptureBody:
		var m CaptureBody
		if err := decodeFields(fields, &m); err != nil {
			return nil, err
		}
		m.Method = strings.ToUpper(m.Method)
		return m, nil
	case ActionCaptureResponse:
		var m CaptureResponse
		if err := decodeFields(fields, &m); err != nil {
			return nil, err
		}
		m.Method = strings.ToUpper(m.Method)
		return m, nil
	case ActionCaptureDocument:
		var m CaptureDocumentContent
		if err := decodeFields(fields, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ActionGetRequests:
		return GetRequests{}, nil
	case ActionGetRequestsExport:
		return GetRequestsForExport{}, nil
	case ActionImportHistory:
		list := env.Requests
		if !hasValue(list) && hasValue(env.Data) {
			var inner struct {
				Requests json.RawMessage `json:"requests"`
			}
			if err := json.Unmarshal(env.Data, &inner); err == nil {
				list = inner.Requests
			}
		}
		var m ImportHistory
		if hasValue(list) {
			// A non-array payload clears the log, same as an empty list.
			_ = json.Unmarshal(list, &m.Requests)
		}
		return m, nil
	case ActionClearRequests:
		return ClearRequests{}, nil
	case ActionGetHideStatic:
		return GetHideStaticResources{}, nil
	case ActionSetHideStatic:
		enabled := env.Enabled
		if enabled == nil && hasValue(env.Data) {
			var inner struct {
				Enabled *bool `json:"enabled"`
			}
			if err := json.Unmarshal(env.Data, &inner); err == nil {
				enabled = inner.Enabled
			}
		}
		return SetHideStaticResources{Enabled: enabled == nil || *enabled}, nil
	default:
		return nil, NewError(CodeUnknownAction, "unknown action "+string(env.Action), nil)
	}
}

func decodeFields(fields json.RawMessage, v any) error {
	if err := json.Unmarshal(fields, v); err != nil {
		return NewError(CodeValidation, "malformed message fields", err)
	}
	return nil
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// PayloadText coerces a raw JSON payload to text. Strings are used verbatim,
// other values keep their compact JSON form, null or absent yields false.
func PayloadText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s, s != ""
		}
		return string(trimmed), true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed), true
	}
	return buf.String(), true
}
