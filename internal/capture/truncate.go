package capture

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var truncationMarker = regexp.MustCompile(`\n\n/\* truncated \d+ chars \*/$`)

// alreadyTruncated reports whether s was produced by an earlier clip at the
// same ceiling.
func alreadyTruncated(s string, maxChars int) bool {
	loc := truncationMarker.FindStringIndex(s)
	return loc != nil && utf8.RuneCountInString(s[:loc[0]]) == maxChars
}

// truncateChars clips s to maxChars code points and appends a marker naming
// how many were dropped. The second return is the omitted count.
func truncateChars(s string, maxChars int) (string, int) {
	if maxChars <= 0 || len(s) <= maxChars {
		return s, 0
	}
	total := utf8.RuneCountInString(s)
	if total <= maxChars || alreadyTruncated(s, maxChars) {
		return s, 0
	}
	cut := 0
	for i := range s {
		if cut == maxChars {
			omitted := total - maxChars
			return s[:i] + fmt.Sprintf("\n\n/* truncated %d chars */", omitted), omitted
		}
		cut++
	}
	return s, 0
}

// normalizeText applies the character ceiling and maps empty text to nil.
func normalizeText(s string, maxChars int) *string {
	if s == "" {
		return nil
	}
	out, _ := truncateChars(s, maxChars)
	return &out
}

func normalizePtr(s *string, maxChars int) *string {
	if s == nil {
		return nil
	}
	return normalizeText(*s, maxChars)
}
