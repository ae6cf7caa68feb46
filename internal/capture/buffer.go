package capture

import "time"

type bufferedPayload struct {
	url    string
	method string
	data   *string
	at     time.Time
}

// CorrelationBuffer holds payloads that arrived before their request was
// ready to take them. Entries are consumed at most once.
type CorrelationBuffer struct {
	entries   []bufferedPayload
	max       int
	freshness time.Duration
}

func NewCorrelationBuffer(max int, freshness time.Duration) *CorrelationBuffer {
	return &CorrelationBuffer{max: max, freshness: freshness}
}

// Push appends a payload, evicting the oldest entry when full.
func (b *CorrelationBuffer) Push(url, method string, data *string, now time.Time) {
	b.entries = append(b.entries, bufferedPayload{url: url, method: method, data: data, at: now})
	if b.max > 0 && len(b.entries) > b.max {
		over := len(b.entries) - b.max
		b.entries = append(b.entries[:0], b.entries[over:]...)
	}
}

// Take returns and removes the newest fresh entry for url+method. Stale
// entries are skipped but left for Sweep.
func (b *CorrelationBuffer) Take(url, method string, now time.Time) *string {
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if now.Sub(e.at) > b.freshness {
			continue
		}
		if e.method == method && e.url == url {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return e.data
		}
	}
	return nil
}

// Sweep drops leading entries older than maxAge and reports how many went.
func (b *CorrelationBuffer) Sweep(maxAge time.Duration, now time.Time) int {
	n := 0
	for n < len(b.entries) && now.Sub(b.entries[n].at) > maxAge {
		n++
	}
	if n > 0 {
		b.entries = append(b.entries[:0], b.entries[n:]...)
	}
	return n
}

func (b *CorrelationBuffer) Len() int { return len(b.entries) }

func (b *CorrelationBuffer) Reset() { b.entries = nil }
