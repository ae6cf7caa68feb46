package discovery

import (
	"regexp"
	"strings"

	"github.com/dgnsrekt/reqlens/internal/types"
)

// quotedURL matches a single, double or backtick quoted literal and puts
// its content in one of three consecutive groups.
const quotedURL = `(?:'([^'"` + "`" + `\n\r]{2,500})'|"([^'"` + "`" + `\n\r]{2,500})"|` + "`" + `([^'"` + "`" + `\n\r]{2,500})` + "`)"

const anyQuote = `['"` + "`]"

// Match is one call site found by a matcher.
type Match struct {
	RawURL string
	Method string
	// Index is the offset of the whole call site, URLStart the offset of
	// the literal's content.
	Index    int
	URLStart int
}

// Matcher extracts call sites with one pattern. Extract sees the submatch
// offsets of each Pattern hit and may reject it.
type Matcher struct {
	Name         string
	Confidence   types.Confidence
	ForceInclude bool
	Pattern      *regexp.Regexp
	Extract      func(source string, loc []int) (Match, bool)
}

var (
	fetchRE        = regexp.MustCompile(`(?i)fetch\s*\(\s*` + quotedURL)
	axiosMethodRE  = regexp.MustCompile(`(?i)axios\.(get|post|put|patch|delete|head|options)\s*\(\s*` + quotedURL)
	axiosConfigRE  = regexp.MustCompile(`(?i)axios\s*\(\s*\{`)
	xhrOpenRE      = regexp.MustCompile(`(?i)\.open\s*\(\s*` + anyQuote + `(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)` + anyQuote + `\s*,\s*` + quotedURL)
	quotedPathRE   = regexp.MustCompile(`'((?:https?://|/)[^'"` + "`" + `\s]{3,500})'|"((?:https?://|/)[^'"` + "`" + `\s]{3,500})"|` + "`" + `((?:https?://|/)[^'"` + "`" + `\s]{3,500})` + "`")
	methodFieldRE  = regexp.MustCompile(`(?i)method\s*:\s*` + anyQuote + `([a-z]+)` + anyQuote)
	configURLField = regexp.MustCompile(`(?i)url\s*:\s*` + quotedURL)
)

const (
	maxOptionsBlock = 1000
	maxConfigBlock  = 1200
)

// DefaultMatchers is applied in order to every scanned source.
var DefaultMatchers = []Matcher{
	{Name: "fetch", Confidence: types.ConfidenceHigh, ForceInclude: true, Pattern: fetchRE, Extract: extractFetch},
	{Name: "axios.method()", Confidence: types.ConfidenceHigh, ForceInclude: true, Pattern: axiosMethodRE, Extract: extractAxiosMethod},
	{Name: "axios(config)", Confidence: types.ConfidenceHigh, ForceInclude: true, Pattern: axiosConfigRE, Extract: extractAxiosConfig},
	{Name: "xhr.open()", Confidence: types.ConfidenceHigh, ForceInclude: true, Pattern: xhrOpenRE, Extract: extractXHROpen},
	{Name: "quoted-url", Confidence: types.ConfidenceMedium, Pattern: quotedPathRE, Extract: extractQuotedURL},
}

// pickQuoted returns the content of whichever quote alternative matched,
// starting at submatch group first.
func pickQuoted(source string, loc []int, first int) (string, int, bool) {
	for g := first; g < first+3; g++ {
		start, end := loc[2*g], loc[2*g+1]
		if start >= 0 {
			return source[start:end], start, true
		}
	}
	return "", 0, false
}

func skipSpace(source string, i int) int {
	for i < len(source) {
		switch source[i] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			i++
		default:
			return i
		}
	}
	return i
}

// closeObject finds the shortest {...} starting at open, at most limit
// characters between the braces, that is followed by a closing paren.
func closeObject(source string, open, limit int) (string, bool) {
	end := open + limit + 2
	if end > len(source) {
		end = len(source)
	}
	for i := open + 1; i < end; i++ {
		if source[i] != '}' {
			continue
		}
		after := skipSpace(source, i+1)
		if after < len(source) && source[after] == ')' {
			return source[open : i+1], true
		}
	}
	return "", false
}

func methodFromBlock(block string) string {
	m := methodFieldRE.FindStringSubmatch(block)
	if m == nil {
		return "GET"
	}
	return normalizeMethod(m[1], "GET")
}

func extractFetch(source string, loc []int) (Match, bool) {
	raw, start, ok := pickQuoted(source, loc, 1)
	if !ok {
		return Match{}, false
	}
	method := "GET"
	i := skipSpace(source, loc[1])
	switch {
	case i < len(source) && source[i] == ')':
	case i < len(source) && source[i] == ',':
		i = skipSpace(source, i+1)
		if i >= len(source) || source[i] != '{' {
			return Match{}, false
		}
		block, ok := closeObject(source, i, maxOptionsBlock)
		if !ok {
			return Match{}, false
		}
		method = methodFromBlock(block)
	default:
		return Match{}, false
	}
	return Match{RawURL: raw, Method: method, Index: loc[0], URLStart: start}, true
}

func extractAxiosMethod(source string, loc []int) (Match, bool) {
	raw, start, ok := pickQuoted(source, loc, 2)
	if !ok {
		return Match{}, false
	}
	return Match{RawURL: raw, Method: source[loc[2]:loc[3]], Index: loc[0], URLStart: start}, true
}

func extractAxiosConfig(source string, loc []int) (Match, bool) {
	block, ok := closeObject(source, loc[1]-1, maxConfigBlock)
	if !ok {
		return Match{}, false
	}
	urlLoc := configURLField.FindStringSubmatchIndex(block)
	if urlLoc == nil {
		return Match{}, false
	}
	raw, start, ok := pickQuoted(block, urlLoc, 1)
	if !ok {
		return Match{}, false
	}
	return Match{RawURL: raw, Method: methodFromBlock(block), Index: loc[0], URLStart: loc[1] - 1 + start}, true
}

func extractXHROpen(source string, loc []int) (Match, bool) {
	raw, start, ok := pickQuoted(source, loc, 2)
	if !ok {
		return Match{}, false
	}
	return Match{RawURL: raw, Method: source[loc[2]:loc[3]], Index: loc[0], URLStart: start}, true
}

func extractQuotedURL(source string, loc []int) (Match, bool) {
	raw, start, ok := pickQuoted(source, loc, 1)
	if !ok {
		return Match{}, false
	}
	return Match{RawURL: raw, Method: "GET", Index: loc[0], URLStart: start}, true
}

var acceptedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true, "OPTIONS": true,
}

func normalizeMethod(value, fallback string) string {
	method := strings.ToUpper(strings.TrimSpace(value))
	if acceptedMethods[method] {
		return method
	}
	if fallback == "" {
		return "GET"
	}
	return fallback
}
