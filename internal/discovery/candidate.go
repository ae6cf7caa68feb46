package discovery

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/reqlens/internal/types"
)

var nonEndpointExtensions = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true, ".jsx": true, ".ts": true, ".tsx": true,
	".css": true, ".scss": true, ".sass": true, ".less": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true, ".map": true,
	".mp4": true, ".webm": true, ".mp3": true, ".wav": true, ".pdf": true, ".zip": true,
}

var (
	versionSegmentRE  = regexp.MustCompile(`(?i)/v[1-9](/|$|\?)`)
	nonEndpointScheme = []string{"data:", "blob:", "javascript:", "mailto:", "tel:", "#"}
	placeholderBase   = &url.URL{Scheme: "https", Host: "example.invalid", Path: "/"}
)

// candidate is one extracted call site after resolution.
type candidate struct {
	rawURL      string
	resolvedURL string
	endpointURL string
	method      string
	matcher     string
	confidence  types.Confidence
	snippet     string
	dynamic     bool
}

func hasNonEndpointExtension(value string) bool {
	path := value
	if u, err := placeholderBase.Parse(value); err == nil && u.EscapedPath() != "" {
		path = u.EscapedPath()
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.ToLower(path)
	dot := strings.LastIndex(path, ".")
	if dot == -1 {
		return false
	}
	return nonEndpointExtensions[path[dot:]]
}

// looksLikeEndpoint applies the generic shape filter. Forced candidates
// skip the positive checks but never the exclusions.
func looksLikeEndpoint(raw string, force bool) bool {
	value := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(value)
	if n < 2 || n > 500 {
		return false
	}
	lower := strings.ToLower(value)
	for _, prefix := range nonEndpointScheme {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	if hasNonEndpointExtension(value) {
		return false
	}
	if force {
		return true
	}

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return true
	case strings.HasPrefix(value, "/"):
		return true
	case strings.Contains(lower, "/api"), strings.Contains(lower, "graphql"), strings.Contains(lower, "/rest"):
		return true
	case versionSegmentRE.MatchString(lower):
		return true
	case strings.Contains(lower, "/auth"), strings.Contains(lower, "/oauth"),
		strings.Contains(lower, "/session"), strings.Contains(lower, "/token"):
		return true
	case strings.Contains(lower, "?") && strings.Contains(lower, "="):
		return true
	}
	return false
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}

// canonicalHref lowercases scheme and host, drops a default port and gives
// hierarchical URLs a root path.
func canonicalHref(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := c.Port(); port != "" && port != defaultPort(c.Scheme) {
		host += ":" + port
	}
	c.Host = host
	if c.Host != "" && c.Path == "" && c.RawPath == "" {
		c.Path = "/"
	}
	return c.String()
}

func parseAbsolute(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	return u, true
}

// resolveEndpointURL turns a raw literal into an absolute URL. Template
// literals and unresolvable relatives report false.
func resolveEndpointURL(raw, scriptURL, pageURL string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.Contains(value, "${") {
		return "", false
	}

	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if u, ok := parseAbsolute(value); ok && u.Host != "" {
			return canonicalHref(u), true
		}
	}

	if strings.HasPrefix(value, "//") {
		base := firstNonEmpty(pageURL, scriptURL, placeholderBase.String())
		b, ok := parseAbsolute(base)
		if !ok {
			return "", false
		}
		return strings.ToLower(b.Scheme) + ":" + value, true
	}

	base := firstNonEmpty(pageURL, scriptURL)
	if base == "" {
		return "", false
	}
	b, ok := parseAbsolute(base)
	if !ok {
		return "", false
	}
	ref, err := url.Parse(value)
	if err != nil {
		return "", false
	}
	return canonicalHref(b.ResolveReference(ref)), true
}

// normalizeEndpointKey reduces a URL to scheme, host, non-default port,
// path and query. Anything that does not parse as absolute is used as is.
func normalizeEndpointKey(urlLike string) string {
	value := strings.TrimSpace(urlLike)
	if value == "" {
		return ""
	}
	u, ok := parseAbsolute(value)
	if !ok || u.Host == "" {
		return value
	}
	scheme := strings.ToLower(u.Scheme)
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	b.WriteString(host)
	if port := u.Port(); port != "" && port != defaultPort(scheme) {
		b.WriteString(":" + port)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?" + u.RawQuery)
	}
	return b.String()
}

func endpointKey(method, endpointURL string) string {
	return method + "||" + normalizeEndpointKey(endpointURL)
}

// extractSnippet returns the trimmed source line containing index.
func extractSnippet(source string, index, maxChars int) string {
	if index < 0 || index > len(source) {
		return ""
	}
	lineStart := strings.LastIndexByte(source[:index], '\n') + 1
	lineEnd := strings.IndexByte(source[index:], '\n')
	if lineEnd == -1 {
		lineEnd = len(source)
	} else {
		lineEnd += index
	}
	snippet := strings.TrimSpace(source[lineStart:lineEnd])
	if maxChars > 0 && utf8.RuneCountInString(snippet) > maxChars {
		snippet = string([]rune(snippet)[:maxChars]) + "..."
	}
	return snippet
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncateRunes keeps the first max code points of s.
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
