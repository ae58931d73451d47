package orderbook

import (
	"time"

	"orderflow/internal/domain/model"
)

const DefaultMaxPending = 1000

type phase int

const (
	// awaiting a REST snapshot; deltas are buffered
	phaseAwaitSnapshot phase = iota
	// snapshot loaded; the next delta must straddle its id
	phaseBridging
	phaseSynced
)

// Store maintains one symbol's book from sequenced deltas. It is owned by a
// single goroutine; readers only ever see Snapshot copies.
type Store struct {
	symbol     string
	book       *book
	lastID     int64
	lastEvent  time.Time
	phase      phase
	degraded   bool
	reason     string
	since      time.Time
	pending    []model.DepthDelta
	maxPending int
	gaps       int64
	resyncs    int64
	pruned     int64
}

func NewStore(symbol string, maxPending int) *Store {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Store{
		symbol:     symbol,
		book:       newBook(),
		maxPending: maxPending,
		since:      time.Now(),
	}
}

func (s *Store) Symbol() string { return s.symbol }

func (s *Store) LastUpdateID() int64 { return s.lastID }

// NeedsSnapshot reports whether the store is waiting for a bootstrap snapshot.
func (s *Store) NeedsSnapshot() bool { return s.phase == phaseAwaitSnapshot }

// ApplyDelta applies d or buffers it while the book is not synced. Once synced,
// d.FirstUpdateID must equal the last applied id + 1; anything else is a
// SequenceGapError and the store drops back to awaiting a snapshot. Deltas
// carrying PrevLastUpdateID chain on it instead. A delta
// entirely at or below the last applied id is a redelivery and is ignored.
func (s *Store) ApplyDelta(d model.DepthDelta) error {
	switch s.phase {
	case phaseAwaitSnapshot:
		s.buffer(d)
		return nil
	case phaseBridging:
		if d.LastUpdateID <= s.lastID {
			return nil
		}
		target := s.lastID + 1
		if d.FirstUpdateID > target && (d.PrevLastUpdateID == 0 || d.PrevLastUpdateID != s.lastID) {
			return s.gap(d, target)
		}
		s.applyLevels(d)
		s.phase = phaseSynced
		s.markLive(d.EventTime)
		return nil
	default:
		if d.LastUpdateID <= s.lastID {
			return nil
		}
		if d.PrevLastUpdateID != 0 {
			// futures streams chain on the previous event's last id
			if d.PrevLastUpdateID != s.lastID {
				return s.gapPrev(d)
			}
			s.applyLevels(d)
			return nil
		}
		target := s.lastID + 1
		if d.FirstUpdateID != target {
			return s.gap(d, target)
		}
		s.applyLevels(d)
		return nil
	}
}

// LoadSnapshot installs a bootstrap snapshot and replays buffered deltas:
// those ending at or before the snapshot id are discarded, the first remaining
// one must straddle it, and the rest must be contiguous.
func (s *Store) LoadSnapshot(snap model.DepthSnapshot, now time.Time) error {
	s.book.reset(snap.Bids, snap.Asks)
	s.lastID = snap.LastUpdateID
	s.lastEvent = now
	s.phase = phaseBridging
	s.resyncs++

	pending := s.pending
	s.pending = nil
	for i, d := range pending {
		if err := s.ApplyDelta(d); err != nil {
			// the gap path re-buffers d; keep what followed it as well
			for _, rest := range pending[i+1:] {
				s.buffer(rest)
			}
			return err
		}
	}
	return nil
}

// MarkDegraded flags the symbol without touching the book, e.g. when a resync
// did not complete in time.
func (s *Store) MarkDegraded(reason string, now time.Time) {
	if !s.degraded {
		s.since = now
	}
	s.degraded = true
	s.reason = reason
}

func (s *Store) Snapshot(levels int) model.BookSnapshot {
	bids, asks := s.book.top(levels)
	return model.BookSnapshot{
		Symbol:       s.symbol,
		LastUpdateID: s.lastID,
		Time:         s.lastEvent,
		Bids:         bids,
		Asks:         asks,
		Status:       s.State(),
	}
}

func (s *Store) State() model.StatusKind {
	switch {
	case s.degraded:
		return model.StatusDegraded
	case s.phase == phaseSynced:
		return model.StatusLive
	default:
		return model.StatusBootstrapping
	}
}

func (s *Store) Status() model.SymbolStatus {
	return model.SymbolStatus{
		Symbol:  s.symbol,
		Book:    s.State(),
		Reason:  s.reason,
		Since:   s.since,
		Gaps:    s.gaps,
		Resyncs: s.resyncs,
	}
}

// Crossed is true when best bid >= best ask with both sides non-empty.
func (s *Store) Crossed() bool {
	return s.book.crossed()
}

func (s *Store) Depth() (bidLevels, askLevels int) {
	return s.book.depth()
}

func (s *Store) applyLevels(d model.DepthDelta) {
	s.pruned += int64(s.book.apply(d.Bids, d.Asks))
	s.lastID = d.LastUpdateID
	if !d.EventTime.IsZero() {
		s.lastEvent = d.EventTime
	}
}

func (s *Store) gap(d model.DepthDelta, expected int64) error {
	s.gaps++
	s.phase = phaseAwaitSnapshot
	s.pending = s.pending[:0]
	s.buffer(d)
	s.MarkDegraded("sequence gap", d.EventTime)
	return &model.SequenceGapError{Symbol: s.symbol, Expected: expected, Got: d.FirstUpdateID}
}

func (s *Store) gapPrev(d model.DepthDelta) error {
	expected := s.lastID
	err := s.gap(d, expected).(*model.SequenceGapError)
	err.Got = d.PrevLastUpdateID
	return err
}

func (s *Store) markLive(at time.Time) {
	s.degraded = false
	s.reason = ""
	if at.IsZero() {
		at = time.Now()
	}
	s.since = at
}

func (s *Store) buffer(d model.DepthDelta) {
	if len(s.pending) >= s.maxPending {
		copy(s.pending, s.pending[1:])
		s.pending = s.pending[:len(s.pending)-1]
	}
	s.pending = append(s.pending, d)
}
