package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("legacy_data_envelope", func(t *testing.T) {
		raw := `{"action":"scanScriptForEndpoints","data":{"tabId":7,"sourceType":"inline","pageUrl":"https://app.test/","sourceText":"fetch('/api/x')"}}`
		msg, err := DecodeMessage([]byte(raw), "")
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		scan, ok := msg.(ScanScript)
		if !ok {
			t.Fatalf("DecodeMessage() = %T; want ScanScript", msg)
		}
		if scan.TabID != "7" {
			t.Fatalf("TabID = %q; want %q", scan.TabID, "7")
		}
		if scan.SourceType != SourceTypeInline {
			t.Fatalf("SourceType = %q; want inline", scan.SourceType)
		}
		if scan.SourceText == nil || *scan.SourceText != "fetch('/api/x')" {
			t.Fatalf("SourceText = %v; want fetch source", scan.SourceText)
		}
	})

	t.Run("flat_envelope_falls_back_to_sender_tab", func(t *testing.T) {
		raw := `{"action":"scanScriptForEndpoints","sourceType":"weird","scriptUrl":"https://app.test/a.js"}`
		msg, err := DecodeMessage([]byte(raw), "T1")
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		scan := msg.(ScanScript)
		if scan.TabID != "T1" {
			t.Fatalf("TabID = %q; want T1", scan.TabID)
		}
		if scan.SourceType != SourceTypeExternal {
			t.Fatalf("SourceType = %q; want external", scan.SourceType)
		}
	})

	t.Run("interception_data_uses_top_level_tab", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"action":"getActiveInterceptionData","tabId":"ABC"}`), "other")
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if got := msg.(GetInterceptionData).TabID; got != "ABC" {
			t.Fatalf("TabID = %q; want ABC", got)
		}
	})

	t.Run("interception_data_tab_locations", func(t *testing.T) {
		tests := []struct {
			name string
			raw  string
			want TabID
		}{
			{name: "under_data", raw: `{"action":"getActiveInterceptionData","data":{"tabId":7}}`, want: "7"},
			{name: "data_without_tab", raw: `{"action":"getActiveInterceptionData","tabId":"ABC","data":{}}`, want: "ABC"},
			{name: "sender_fallback", raw: `{"action":"getActiveInterceptionData"}`, want: "other"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				msg, err := DecodeMessage([]byte(tt.raw), "other")
				if err != nil {
					t.Fatalf("DecodeMessage() error = %v", err)
				}
				if got := msg.(GetInterceptionData).TabID; got != tt.want {
					t.Fatalf("TabID = %q; want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("capture_body_uppercases_method", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"action":"captureBody","data":{"url":"https://a.test/x","method":"post","body":{"a":1}}}`), "")
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		body := msg.(CaptureBody)
		if body.Method != "POST" {
			t.Fatalf("Method = %q; want POST", body.Method)
		}
		if text, ok := PayloadText(body.Body); !ok || text != `{"a":1}` {
			t.Fatalf("PayloadText() = %q, %v; want {\"a\":1}, true", text, ok)
		}
	})

	t.Run("set_hide_static_defaults_to_enabled", func(t *testing.T) {
		cases := []struct {
			raw  string
			want bool
		}{
			{`{"action":"setHideStaticResources"}`, true},
			{`{"action":"setHideStaticResources","enabled":false}`, false},
			{`{"action":"setHideStaticResources","data":{"enabled":false}}`, false},
			{`{"action":"setHideStaticResources","enabled":true}`, true},
		}
		for _, tc := range cases {
			msg, err := DecodeMessage([]byte(tc.raw), "")
			if err != nil {
				t.Fatalf("DecodeMessage(%s) error = %v", tc.raw, err)
			}
			if got := msg.(SetHideStaticResources).Enabled; got != tc.want {
				t.Fatalf("DecodeMessage(%s).Enabled = %v; want %v", tc.raw, got, tc.want)
			}
		}
	})

	t.Run("import_non_array_is_empty", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"action":"importHistory","requests":{"nope":1}}`), "")
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if got := len(msg.(ImportHistory).Requests); got != 0 {
			t.Fatalf("len(Requests) = %d; want 0", got)
		}
	})

	t.Run("import_reads_data_requests", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"action":"importHistory","data":{"requests":[{"url":"https://a.test"},{}]}}`), "")
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if got := len(msg.(ImportHistory).Requests); got != 2 {
			t.Fatalf("len(Requests) = %d; want 2", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			name string
			raw  string
			code string
		}{
			{"not_json", `nope`, CodeValidation},
			{"missing_action", `{"data":{}}`, CodeValidation},
			{"unknown_action", `{"action":"reboot"}`, CodeUnknownAction},
			{"bad_fields", `{"action":"captureBody","data":{"url":5}}`, CodeValidation},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := DecodeMessage([]byte(tc.raw), "")
				var coded *CodedError
				if !errors.As(err, &coded) {
					t.Fatalf("DecodeMessage() error = %v; want *CodedError", err)
				}
				if coded.Code != tc.code {
					t.Fatalf("Code = %q; want %q", coded.Code, tc.code)
				}
			})
		}
	})
}

func TestPayloadText(t *testing.T) {
	cases := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{``, "", false},
		{`null`, "", false},
		{`""`, "", false},
		{`"a=1&b=2"`, "a=1&b=2", true},
		{`{ "a" : [1, 2] }`, `{"a":[1,2]}`, true},
		{`42`, "42", true},
	}
	for _, tc := range cases {
		got, ok := PayloadText(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("PayloadText(%s) = %q, %v; want %q, %v", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestTabIDUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want TabID
	}{
		{`"E3F1"`, "E3F1"},
		{`12`, "12"},
		{`-1`, ""},
		{`null`, ""},
	}
	for _, tc := range cases {
		var got TabID
		if err := json.Unmarshal([]byte(tc.raw), &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("Unmarshal(%s) = %q; want %q", tc.raw, got, tc.want)
		}
	}
}
