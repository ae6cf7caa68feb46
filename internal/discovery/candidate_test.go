package discovery

import (
	"strings"
	"testing"
)

func TestLooksLikeEndpoint(t *testing.T) {
	tests := []struct {
		value string
		force bool
		want  bool
	}{
		{"/", false, false},
		{"/x", false, true},
		{"data:text/plain,hi", true, false},
		{"javascript:void(0)", true, false},
		{"#top", true, false},
		{"Mailto:a@b.test", true, false},
		{"/static/app.js", true, false},
		{"https://a.test/font.woff2?v=3", true, false},
		{"/v1.2/users", false, true},
		{"users/list", false, false},
		{"users/list", true, true},
		{"rest/v2/items", false, true},
		{"internal/graphql", false, true},
		{"search?q=1", false, true},
		{"account/oauth/callback", false, true},
		{strings.Repeat("a", 501), true, false},
	}
	for _, tt := range tests {
		if got := looksLikeEndpoint(tt.value, tt.force); got != tt.want {
			t.Fatalf("looksLikeEndpoint(%q, %v) = %v; want %v", tt.value, tt.force, got, tt.want)
		}
	}
}

func TestResolveEndpointURL(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		scriptURL string
		pageURL   string
		want      string
		wantOK    bool
	}{
		{"absolute", "HTTPS://A.test/x", "", "", "https://a.test/x", true},
		{"absolute_empty_path", "https://a.test", "", "", "https://a.test/", true},
		{"protocol_relative_page", "//b.test/y", "https://s.test/a.js", "http://p.test/", "http://b.test/y", true},
		{"protocol_relative_script", "//b.test/y", "https://s.test/a.js", "", "https://b.test/y", true},
		{"protocol_relative_default", "//b.test/y", "", "", "https://b.test/y", true},
		{"relative_page", "api/z", "https://s.test/js/a.js", "https://p.test/app/", "https://p.test/app/api/z", true},
		{"relative_script", "../api/z", "https://s.test/js/a.js", "", "https://s.test/api/z", true},
		{"relative_no_base", "/api/z", "", "", "", false},
		{"template", "/api/${id}", "", "https://p.test/", "", false},
		{"relative_base_not_absolute", "/api/z", "", "/app", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolveEndpointURL(tt.raw, tt.scriptURL, tt.pageURL)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("resolveEndpointURL(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizeEndpointKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://API.Test/Path?q=1#frag", "https://api.test/Path?q=1"},
		{"http://a.test:80/x", "http://a.test/x"},
		{"http://a.test:8080/x", "http://a.test:8080/x"},
		{"https://a.test", "https://a.test/"},
		{"  /relative/path  ", "/relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeEndpointKey(tt.in); got != tt.want {
			t.Fatalf("normalizeEndpointKey(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractSnippet(t *testing.T) {
	src := "a()\n   fetch('/x')  \nb()"
	if got := extractSnippet(src, strings.Index(src, "fetch"), 240); got != "fetch('/x')" {
		t.Fatalf("extractSnippet() = %q; want fetch('/x')", got)
	}
	long := strings.Repeat("é", 300)
	got := extractSnippet(long, 10, 240)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 243 {
		t.Fatalf("extractSnippet(long) has %d runes; want 240 plus ...", len([]rune(got)))
	}
}

func TestPushUniqueLimited(t *testing.T) {
	var list []string
	for _, v := range []string{"a", "b", "a", "c", "d"} {
		list = pushUniqueLimited(list, v, 3)
	}
	if strings.Join(list, ",") != "b,c,d" {
		t.Fatalf("pushUniqueLimited() = %v; want [b c d]", list)
	}
	if got := pushUniqueLimited(list, "", 3); len(got) != 3 {
		t.Fatalf("pushUniqueLimited(empty) changed the list")
	}
}
