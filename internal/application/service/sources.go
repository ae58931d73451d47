package service

import (
	"context"
	"fmt"
	"sync"

	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
)

// Sources routes 24h statistics and depth snapshot requests to the upstream
// of the active data mode, so resyncs always hit the venue the feed streams from.
type Sources struct {
	mu     sync.RWMutex
	active model.DataMode
	stats  map[model.DataMode]port.StatsPort
	snaps  map[model.DataMode]port.DepthSnapshotPort
}

func NewSources(initial model.DataMode) *Sources {
	return &Sources{
		active: initial,
		stats:  make(map[model.DataMode]port.StatsPort),
		snaps:  make(map[model.DataMode]port.DepthSnapshotPort),
	}
}

// Register sets the upstreams of mode. Either may be nil.
func (s *Sources) Register(mode model.DataMode, stats port.StatsPort, snaps port.DepthSnapshotPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stats != nil {
		s.stats[mode] = stats
	}
	if snaps != nil {
		s.snaps[mode] = snaps
	}
}

func (s *Sources) Use(mode model.DataMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = mode
}

func (s *Sources) Active() model.DataMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Sources) Get24hStats(ctx context.Context, symbol string) (model.DailyStats, error) {
	s.mu.RLock()
	mode := s.active
	src, ok := s.stats[mode]
	s.mu.RUnlock()
	if !ok {
		return model.DailyStats{}, fmt.Errorf("no stats source for %s mode", mode)
	}
	return src.Get24hStats(ctx, symbol)
}

func (s *Sources) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (model.DepthSnapshot, error) {
	s.mu.RLock()
	mode := s.active
	src, ok := s.snaps[mode]
	s.mu.RUnlock()
	if !ok {
		return model.DepthSnapshot{}, fmt.Errorf("no depth snapshot source for %s mode", mode)
	}
	return src.FetchDepthSnapshot(ctx, symbol, limit)
}
