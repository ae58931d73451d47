package timeframe

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"orderflow/internal/domain/model"
)

var ErrOutOfOrder = errors.New("base candle out of order")

const DefaultCapacity = 1440

// Manager keeps the base candle history per symbol and derives coarser
// timeframes from it on demand. Derived entries are rebuilt from base history
// only and are replaced wholesale; slices handed to readers are never written
// again, so callers must treat returned cells as read-only.
type Manager struct {
	base     model.Timeframe
	capacity int

	mu     sync.RWMutex
	series map[string]*series

	rebuilds atomic.Int64
}

type series struct {
	mu    sync.RWMutex
	base  []model.FootprintCandle
	cache map[model.Timeframe]*entry
}

type entry struct {
	candles []model.FootprintCandle
	dirty   bool
}

func NewManager(base time.Duration, capacity int) (*Manager, error) {
	if base <= 0 {
		return nil, fmt.Errorf("%w: base %v", model.ErrInvalidTimeframe, base)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		base:     model.Timeframe(base),
		capacity: capacity,
		series:   make(map[string]*series),
	}, nil
}

func (m *Manager) Base() model.Timeframe { return m.base }

// Rebuilds counts full timeframe rebuilds since start.
func (m *Manager) Rebuilds() int64 { return m.rebuilds.Load() }

// Validate checks tf is a positive multiple of the base resolution.
func (m *Manager) Validate(tf model.Timeframe) error {
	if tf <= 0 || tf%m.base != 0 {
		return fmt.Errorf("%w: %s is not a multiple of %s", model.ErrInvalidTimeframe, tf, m.base)
	}
	return nil
}

// AddBase appends a sealed base candle and marks every derived timeframe of
// the symbol dirty.
func (m *Manager) AddBase(symbol string, c model.FootprintCandle) error {
	s := m.getOrCreate(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.base); n > 0 && !c.Start.After(s.base[n-1].Start) {
		return fmt.Errorf("%w: %s at %s", ErrOutOfOrder, symbol, c.Start.Format(time.RFC3339))
	}
	s.base = append(s.base, c)
	if len(s.base) > m.capacity {
		trimmed := make([]model.FootprintCandle, m.capacity, m.capacity*2)
		copy(trimmed, s.base[len(s.base)-m.capacity:])
		s.base = trimmed
	}
	for _, e := range s.cache {
		e.dirty = true
	}
	return nil
}

// Get returns the candles of symbol at tf. The base timeframe is a copy of
// the history; coarser ones come from a clean cache entry or a full rebuild.
func (m *Manager) Get(symbol string, tf model.Timeframe) ([]model.FootprintCandle, error) {
	if err := m.Validate(tf); err != nil {
		return nil, err
	}
	s, ok := m.lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, symbol)
	}

	if tf == m.base {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]model.FootprintCandle(nil), s.base...), nil
	}

	s.mu.RLock()
	if e, ok := s.cache[tf]; ok && !e.dirty {
		candles := e.candles
		s.mu.RUnlock()
		return candles, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache[tf]; ok && !e.dirty {
		return e.candles, nil
	}
	candles, err := Build(s.base, tf)
	if err != nil {
		return nil, err
	}
	s.cache[tf] = &entry{candles: candles}
	m.rebuilds.Add(1)
	return candles, nil
}

// View is Get plus the still-open window. The open window is merged from its
// base candles and a copy of open, never from the cached aggregate.
func (m *Manager) View(symbol string, tf model.Timeframe, open *model.FootprintCandle) ([]model.FootprintCandle, error) {
	candles, err := m.Get(symbol, tf)
	switch {
	case errors.Is(err, model.ErrUnknownSymbol) && open != nil:
		candles = nil
	case err != nil:
		return nil, err
	case open == nil:
		return candles, nil
	}

	out := make([]model.FootprintCandle, len(candles), len(candles)+1)
	copy(out, candles)
	if tf == m.base {
		return append(out, open.Clone()), nil
	}

	start := tf.PeriodStart(open.Start)
	members := make([]model.FootprintCandle, 0, int(tf/m.base))
	if s, ok := m.lookup(symbol); ok {
		s.mu.RLock()
		for i := len(s.base) - 1; i >= 0 && !s.base[i].Start.Before(start); i-- {
			members = append(members, s.base[i])
		}
		s.mu.RUnlock()
	}
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	members = append(members, open.Clone())

	merged, err := Merge(members, start, tf.Duration())
	if err != nil {
		return nil, err
	}
	if n := len(out); n > 0 && out[n-1].Start.Equal(start) {
		out[n-1] = merged
	} else {
		out = append(out, merged)
	}
	return out, nil
}

// Range returns candles at tf whose start falls in [from, to). A zero bound
// is open.
func (m *Manager) Range(symbol string, tf model.Timeframe, from, to time.Time) ([]model.FootprintCandle, error) {
	candles, err := m.Get(symbol, tf)
	if err != nil {
		return nil, err
	}
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(candles), func(i int) bool { return !candles[i].Start.Before(from) })
	}
	hi := len(candles)
	if !to.IsZero() {
		hi = sort.Search(len(candles), func(i int) bool { return !candles[i].Start.Before(to) })
	}
	if lo >= hi {
		return nil, nil
	}
	return candles[lo:hi:hi], nil
}

func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.series))
	for sym := range m.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) lookup(symbol string) (*series, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[symbol]
	return s, ok
}

func (m *Manager) getOrCreate(symbol string) *series {
	if s, ok := m.lookup(symbol); ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.series[symbol]; ok {
		return s
	}
	s := &series{cache: make(map[model.Timeframe]*entry)}
	m.series[symbol] = s
	return s
}
