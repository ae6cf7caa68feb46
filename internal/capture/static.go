package capture

import (
	"net/url"
	"strings"
)

var staticCDNDomains = []string{
	"cdn.jsdelivr.net",
	"unpkg.com",
	"cdnjs.cloudflare.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"stackpath.bootstrapcdn.com",
}

var staticFileExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".css": true, ".scss": true, ".sass": true, ".less": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".map": true, ".bmp": true, ".tiff": true,
}

var frameworkFilePatterns = []string{
	"jquery", "react", "vue", "angular", "bootstrap", "lodash", "moment",
	"webpack", "chunk", "bundle", "vendor", "polyfill", "runtime",
}

// IsStaticOrFrameworkResource reports whether a URL points at a CDN asset,
// a static file, or a framework bundle.
func IsStaticOrFrameworkResource(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if lower == "" {
		return false
	}
	if strings.HasPrefix(lower, "data:image/") {
		return true
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if hostMatchesStaticCDN(u.Hostname()) {
		return true
	}
	if hasStaticExtension(u.Path) {
		return true
	}
	return hasFrameworkPattern(u.Path)
}

func hostMatchesStaticCDN(hostname string) bool {
	host := strings.ToLower(hostname)
	if host == "" {
		return false
	}
	for _, domain := range staticCDNDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func lastPathSegment(path string) string {
	path = strings.ToLower(path)
	if i := strings.LastIndex(path, "/"); i >= 0 && i < len(path)-1 {
		return path[i+1:]
	}
	return path
}

func hasStaticExtension(path string) bool {
	if path == "" {
		return false
	}
	seg := lastPathSegment(path)
	dot := strings.LastIndex(seg, ".")
	if dot == -1 {
		return false
	}
	return staticFileExtensions[seg[dot:]]
}

func hasFrameworkPattern(path string) bool {
	if path == "" {
		return false
	}
	name := lastPathSegment(path)
	for _, p := range frameworkFilePatterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
