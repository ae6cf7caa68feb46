package discovery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type staticCookies []*http.Cookie

func (c staticCookies) Cookies(context.Context, string) ([]*http.Cookie, error) {
	return c, nil
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestHTTPFetcherSendsCookiesFirst(t *testing.T) {
	var cookieHeaders []string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			cookieHeaders = append(cookieHeaders, r.Header.Get("Cookie"))
			return response(http.StatusOK, "fetch('/api/x')"), nil
		}),
	}
	f := NewHTTPFetcher(client, staticCookies{{Name: "sid", Value: "abc"}}, 0, 100)

	src, ok := f.Fetch(context.Background(), "https://a.test/app.js")
	if !ok || src != "fetch('/api/x')" {
		t.Fatalf("Fetch() = %q, %v; want script source", src, ok)
	}
	if len(cookieHeaders) != 1 || cookieHeaders[0] != "sid=abc" {
		t.Fatalf("cookie headers = %v; want one credentialed attempt", cookieHeaders)
	}
}

func TestHTTPFetcherFallsBackWithoutCookies(t *testing.T) {
	attempts := 0
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			attempts++
			if r.Header.Get("Cookie") != "" {
				return response(http.StatusForbidden, "denied"), nil
			}
			return response(http.StatusOK, "ok"), nil
		}),
	}
	f := NewHTTPFetcher(client, staticCookies{{Name: "sid", Value: "abc"}}, 0, 100)

	src, ok := f.Fetch(context.Background(), "https://a.test/app.js")
	if !ok || src != "ok" || attempts != 2 {
		t.Fatalf("Fetch() = %q, %v after %d attempts; want ok after 2", src, ok, attempts)
	}
}

func TestHTTPFetcherGivesUp(t *testing.T) {
	tests := []struct {
		name string
		rt   roundTripFunc
	}{
		{"transport_error", func(*http.Request) (*http.Response, error) { return nil, errors.New("dial failed") }},
		{"server_error", func(*http.Request) (*http.Response, error) { return response(http.StatusBadGateway, "x"), nil }},
		{"empty_body", func(*http.Request) (*http.Response, error) { return response(http.StatusOK, ""), nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewHTTPFetcher(&http.Client{Transport: tt.rt}, nil, 0, 100)
			if src, ok := f.Fetch(context.Background(), "https://a.test/app.js"); ok {
				t.Fatalf("Fetch() = %q, true; want false", src)
			}
		})
	}
}

func TestHTTPFetcherTruncatesToMaxChars(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, strings.Repeat("ü", 50)), nil
		}),
	}
	f := NewHTTPFetcher(client, nil, 0, 10)
	src, ok := f.Fetch(context.Background(), "https://a.test/app.js")
	if !ok || len([]rune(src)) != 10 {
		t.Fatalf("Fetch() returned %d runes; want 10", len([]rune(src)))
	}
}
