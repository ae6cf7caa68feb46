package capture

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestCorrelationBufferTake(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("newest_match_wins_and_is_consumed", func(t *testing.T) {
		b := NewCorrelationBuffer(10, 15*time.Second)
		b.Push("https://a.test/x", "POST", strPtr("old"), base)
		b.Push("https://a.test/x", "POST", strPtr("new"), base.Add(time.Second))

		got := b.Take("https://a.test/x", "POST", base.Add(2*time.Second))
		if got == nil || *got != "new" {
			t.Fatalf("Take() = %v; want new", got)
		}
		got = b.Take("https://a.test/x", "POST", base.Add(2*time.Second))
		if got == nil || *got != "old" {
			t.Fatalf("second Take() = %v; want old", got)
		}
		if got := b.Take("https://a.test/x", "POST", base.Add(2*time.Second)); got != nil {
			t.Fatalf("third Take() = %q; want nil", *got)
		}
	})

	t.Run("stale_entries_are_never_returned", func(t *testing.T) {
		b := NewCorrelationBuffer(10, 15*time.Second)
		b.Push("https://a.test/x", "POST", strPtr("body"), base)
		if got := b.Take("https://a.test/x", "POST", base.Add(16*time.Second)); got != nil {
			t.Fatalf("Take() = %q; want nil for stale entry", *got)
		}
		if b.Len() != 1 {
			t.Fatalf("Len() = %d; want 1 until swept", b.Len())
		}
	})

	t.Run("method_must_match", func(t *testing.T) {
		b := NewCorrelationBuffer(10, 15*time.Second)
		b.Push("https://a.test/x", "PUT", strPtr("body"), base)
		if got := b.Take("https://a.test/x", "POST", base); got != nil {
			t.Fatalf("Take() = %q; want nil", *got)
		}
	})

	t.Run("capacity_evicts_oldest", func(t *testing.T) {
		b := NewCorrelationBuffer(2, 15*time.Second)
		b.Push("https://a.test/1", "POST", strPtr("1"), base)
		b.Push("https://a.test/2", "POST", strPtr("2"), base)
		b.Push("https://a.test/3", "POST", strPtr("3"), base)
		if b.Len() != 2 {
			t.Fatalf("Len() = %d; want 2", b.Len())
		}
		if got := b.Take("https://a.test/1", "POST", base); got != nil {
			t.Fatalf("Take(evicted) = %q; want nil", *got)
		}
	})
}

func TestCorrelationBufferSweep(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCorrelationBuffer(10, 15*time.Second)
	b.Push("https://a.test/1", "POST", strPtr("1"), base)
	b.Push("https://a.test/2", "POST", strPtr("2"), base.Add(20*time.Second))

	if n := b.Sweep(30*time.Second, base.Add(31*time.Second)); n != 1 {
		t.Fatalf("Sweep() = %d; want 1", n)
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", b.Len())
	}
}
