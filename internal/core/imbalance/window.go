package imbalance

import (
	"fmt"
	"time"
)

type slot struct {
	index int64
	buy   float64
	sell  float64
	count int64
}

// Window is a sliding sum over fixed-width time buckets. Old buckets are
// evicted as time advances, so each update costs O(1) amortized.
type Window struct {
	width  time.Duration
	slots  []slot
	latest int64
	primed bool

	buy   float64
	sell  float64
	count int64
}

func NewWindow(length, width time.Duration) (*Window, error) {
	if width <= 0 || length < width || length%width != 0 {
		return nil, fmt.Errorf("imbalance window: length %v must be a positive multiple of bucket width %v", length, width)
	}
	n := int(length / width)
	w := &Window{width: width, slots: make([]slot, n)}
	for i := range w.slots {
		w.slots[i].index = -1
	}
	return w, nil
}

func (w *Window) Length() time.Duration {
	return w.width * time.Duration(len(w.slots))
}

// BucketIndex is the bucket number at, counted from the epoch.
func (w *Window) BucketIndex(at time.Time) int64 {
	ns := at.UnixNano()
	idx := ns / int64(w.width)
	if ns < 0 && ns%int64(w.width) != 0 {
		idx--
	}
	return idx
}

// Add records volume at the given time. Samples older than the window are
// dropped and reported as false.
func (w *Window) Add(at time.Time, buy, sell float64) bool {
	idx := w.BucketIndex(at)
	w.advance(idx)
	if idx <= w.latest-int64(len(w.slots)) {
		return false
	}
	s := &w.slots[w.pos(idx)]
	if s.index != idx {
		w.evict(s)
		s.index = idx
	}
	s.buy += buy
	s.sell += sell
	s.count++
	w.buy += buy
	w.sell += sell
	w.count++
	return true
}

// Advance evicts buckets that fell out of the window at now.
func (w *Window) Advance(now time.Time) {
	w.advance(w.BucketIndex(now))
}

// Totals reports the sums over the window ending at now.
func (w *Window) Totals(now time.Time) (buy, sell float64, count int64) {
	w.Advance(now)
	return w.buy, w.sell, w.count
}

// Ratio is (buy - sell) / (buy + sell) over the window, 0 when empty.
func (w *Window) Ratio(now time.Time) float64 {
	buy, sell, _ := w.Totals(now)
	return Ratio(buy, sell)
}

// Bounds is the time range covered by the window ending in the bucket of now.
func (w *Window) Bounds(now time.Time) (start, end time.Time) {
	idx := w.BucketIndex(now)
	end = time.Unix(0, (idx+1)*int64(w.width)).UTC()
	return end.Add(-w.Length()), end
}

func Ratio(buy, sell float64) float64 {
	total := buy + sell
	if total <= 0 {
		return 0
	}
	r := (buy - sell) / total
	switch {
	case r > 1:
		return 1
	case r < -1:
		return -1
	}
	return r
}

func (w *Window) advance(idx int64) {
	if !w.primed {
		w.latest = idx
		w.primed = true
		return
	}
	if idx <= w.latest {
		return
	}
	from := w.latest + 1
	if idx-from >= int64(len(w.slots)) {
		from = idx - int64(len(w.slots)) + 1
	}
	for i := from; i <= idx; i++ {
		w.evict(&w.slots[w.pos(i)])
	}
	w.latest = idx
}

func (w *Window) evict(s *slot) {
	if s.index < 0 {
		return
	}
	w.buy -= s.buy
	w.sell -= s.sell
	w.count -= s.count
	*s = slot{index: -1}
	if w.count == 0 {
		w.buy, w.sell = 0, 0
	}
}

func (w *Window) pos(idx int64) int {
	n := int64(len(w.slots))
	p := idx % n
	if p < 0 {
		p += n
	}
	return int(p)
}
