package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

// DefaultFetchTimeout bounds each fetch attempt.
const DefaultFetchTimeout = 12 * time.Second

// Fetcher retrieves a script's source text. ok is false when no attempt
// produced a non-empty body.
type Fetcher interface {
	Fetch(ctx context.Context, scriptURL string) (source string, ok bool)
}

// CookieSource supplies the browser's cookies for a URL.
type CookieSource interface {
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
}

// HTTPFetcher fetches with the browser's cookies first and without them
// second, keeping the first successful response.
type HTTPFetcher struct {
	Client   *http.Client
	Cookies  CookieSource
	Timeout  time.Duration
	MaxChars int
}

func NewHTTPFetcher(client *http.Client, cookies CookieSource, timeout time.Duration, maxChars int) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{Client: client, Cookies: cookies, Timeout: timeout, MaxChars: maxChars}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, scriptURL string) (string, bool) {
	if scriptURL == "" {
		return "", false
	}
	for _, credentialed := range []bool{true, false} {
		source, err := f.attempt(ctx, scriptURL, credentialed)
		if err != nil {
			slog.Debug("Script fetch attempt failed", "url", truncateURL(scriptURL), "credentialed", credentialed, "error", err)
			if ctx.Err() != nil {
				return "", false
			}
			continue
		}
		if source == "" {
			continue
		}
		return source, true
	}
	return "", false
}

func (f *HTTPFetcher) attempt(ctx context.Context, scriptURL string, credentialed bool) (string, error) {
	c := f.Client
	if c == nil {
		c = http.DefaultClient
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return "", err
	}
	if credentialed && f.Cookies != nil {
		cookies, err := f.Cookies.Cookies(attemptCtx, scriptURL)
		if err != nil {
			slog.Debug("Cookie lookup failed", "url", truncateURL(scriptURL), "error", err)
		}
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("script fetch failed: status=%d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.MaxChars > 0 {
		body = io.LimitReader(resp.Body, int64(f.MaxChars)*utf8.UTFMax)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return truncateRunes(string(data), f.MaxChars), nil
}

func truncateURL(u string) string {
	if len(u) > 120 {
		return u[:120] + "..."
	}
	return u
}
