package capture

import (
	"strings"
	"testing"
)

func TestTruncateChars(t *testing.T) {
	t.Run("no_truncation_when_within_limit", func(t *testing.T) {
		out, omitted := truncateChars("hello world", 11)
		if out != "hello world" || omitted != 0 {
			t.Fatalf("truncateChars() = %q, %d; want %q, 0", out, omitted, "hello world")
		}
	})

	t.Run("appends_marker", func(t *testing.T) {
		out, omitted := truncateChars("hello world", 5)
		want := "hello\n\n/* truncated 6 chars */"
		if out != want || omitted != 6 {
			t.Fatalf("truncateChars() = %q, %d; want %q, 6", out, omitted, want)
		}
	})

	t.Run("reclipping_keeps_original_count", func(t *testing.T) {
		once, _ := truncateChars(strings.Repeat("a", 1000), 10)
		twice, omitted := truncateChars(once, 10)
		want := strings.Repeat("a", 10) + "\n\n/* truncated 990 chars */"
		if twice != want || omitted != 0 {
			t.Fatalf("truncateChars(clipped) = %q, %d; want %q, 0", twice, omitted, want)
		}
	})

	t.Run("marker_at_other_ceiling_is_clipped", func(t *testing.T) {
		once, _ := truncateChars(strings.Repeat("a", 1000), 10)
		out, omitted := truncateChars(once, 5)
		if !strings.HasPrefix(out, "aaaaa\n\n/* truncated ") || omitted == 0 {
			t.Fatalf("truncateChars(clipped, 5) = %q, %d; want clipped again", out, omitted)
		}
	})

	t.Run("non_ascii_is_counted_by_code_point", func(t *testing.T) {
		input := "😀😀😀" // 12 bytes, 3 code points
		out, omitted := truncateChars(input, 3)
		if out != input || omitted != 0 {
			t.Fatalf("truncateChars() = %q, %d; want unchanged", out, omitted)
		}
		out, omitted = truncateChars(input, 2)
		if !strings.HasPrefix(out, "😀😀\n\n") || omitted != 1 {
			t.Fatalf("truncateChars() = %q, %d; want two emoji then marker", out, omitted)
		}
	})
}

func TestNormalizeText(t *testing.T) {
	if got := normalizeText("", 10); got != nil {
		t.Fatalf("normalizeText(\"\") = %q; want nil", *got)
	}
	if got := normalizeText("abc", 10); got == nil || *got != "abc" {
		t.Fatalf("normalizeText(abc) = %v; want abc", got)
	}
	if got := normalizePtr(nil, 10); got != nil {
		t.Fatalf("normalizePtr(nil) = %q; want nil", *got)
	}
}
