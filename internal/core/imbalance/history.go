package imbalance

import (
	"sync"
	"time"

	"orderflow/internal/domain/model"
)

// DefaultHistory is the number of samples kept per symbol when no capacity
// is configured.
const DefaultHistory = 1000

// History is a bounded ring of emitted samples of one symbol. The owning
// shard appends; readers may query concurrently.
type History struct {
	mu      sync.RWMutex
	samples []model.ImbalanceSample
	next    int
	full    bool
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &History{samples: make([]model.ImbalanceSample, capacity)}
}

func (h *History) Add(s model.ImbalanceSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = s
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.full = true
	}
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lenLocked()
}

// Recent returns up to count samples, newest first. count <= 0 returns all.
func (h *History) Recent(count int) []model.ImbalanceSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.lenLocked()
	if count <= 0 || count > n {
		count = n
	}
	out := make([]model.ImbalanceSample, 0, count)
	for i := 1; i <= count; i++ {
		idx := (h.next - i + len(h.samples)) % len(h.samples)
		out = append(out, h.samples[idx])
	}
	return out
}

// Average is the mean ratio of samples whose window ends at or after since.
// ok is false when no sample qualifies.
func (h *History) Average(since time.Time) (avg float64, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var sum float64
	var n int
	for i := 1; i <= h.lenLocked(); i++ {
		s := h.samples[(h.next-i+len(h.samples))%len(h.samples)]
		if s.WindowEnd.Before(since) {
			// newest first, everything further back is older
			break
		}
		sum += s.Ratio
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.samples)
	}
	return h.next
}
