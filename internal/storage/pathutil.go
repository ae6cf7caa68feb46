package storage

import (
	"net/url"
	"strings"
)

const unknownHostSegment = "unknown"

// HostSegment turns a URL's host into a filesystem-safe directory name.
func HostSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if strings.HasPrefix(strings.ToLower(rawURL), "data:") {
			return "data"
		}
		return unknownHostSegment
	}
	host := strings.ToLower(parsed.Host)
	host = strings.NewReplacer(":", "_", "[", "", "]", "", "/", "_", "\\", "_").Replace(host)
	if host == "" || host == "." || host == ".." {
		return unknownHostSegment
	}
	return host
}
