package capture

import "testing"

func TestIsStaticOrFrameworkResource(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", false},
		{"data:image/png;base64,AAAA", true},
		{"data:text/plain,hi", false},
		{"chrome-extension://abc/app.js", false},
		{"https://cdn.jsdelivr.net/npm/x", true},
		{"https://sub.unpkg.com/thing", true},
		{"https://notunpkg.com/thing", false},
		{"https://app.test/static/logo.PNG", true},
		{"https://app.test/assets/main.css?v=2", true},
		{"https://app.test/js/vendor-3fa.min", true},
		{"https://app.test/api/users", false},
		{"https://app.test/api/graphql", false},
		{"https://app.test/", false},
		{"https://app.test/runtime/", true},
	}
	for _, tt := range tests {
		if got := IsStaticOrFrameworkResource(tt.url); got != tt.want {
			t.Fatalf("IsStaticOrFrameworkResource(%q) = %v; want %v", tt.url, got, tt.want)
		}
	}
}
