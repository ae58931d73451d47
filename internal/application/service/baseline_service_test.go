package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderflow/internal/core/baseline"
	"orderflow/internal/domain/model"
)

func TestBaselineRefreshAll(t *testing.T) {
	stats := new(MockStats)
	stats.On("Get24hStats", mock.Anything, "BTCUSDT").Return(model.DailyStats{Volume: 10, Notional: 2_000_000, TradeCount: 50}, nil)
	stats.On("Get24hStats", mock.Anything, "ETHUSDT").Return(model.DailyStats{}, errors.New("timeout"))
	stats.On("Get24hStats", mock.Anything, "SOLUSDT").Return(model.DailyStats{Symbol: "SOLUSDT"}, nil)

	engine := baseline.NewEngine(1, 0)
	svc := NewBaselineService(stats, engine, nil, time.Second, discardLogger())

	failed := svc.RefreshAll(context.Background(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	assert.ElementsMatch(t, []string{"ETHUSDT", "SOLUSDT"}, failed)

	b, ok := engine.Baseline("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", b.Symbol)
	assert.Equal(t, 2_000_000.0, b.AvgDailyNotional)

	_, ok = engine.Baseline("SOLUSDT")
	assert.False(t, ok, "zero notional must not become a baseline")
	stats.AssertExpectations(t)
}

func TestBaselineServiceRetriesFailedSymbols(t *testing.T) {
	stats := new(MockStats)
	stats.On("Get24hStats", mock.Anything, "BTCUSDT").Return(model.DailyStats{Notional: 1_000_000}, nil)
	stats.On("Get24hStats", mock.Anything, "ETHUSDT").Return(model.DailyStats{}, errors.New("503")).Once()
	stats.On("Get24hStats", mock.Anything, "ETHUSDT").Return(model.DailyStats{Notional: 500_000}, nil)

	engine := baseline.NewEngine(1, 0)
	svc := NewBaselineService(stats, engine, []string{"BTCUSDT", "ETHUSDT"}, time.Second, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx, 10*time.Millisecond)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, ok := engine.Baseline("ETHUSDT")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, engine.Stale("BTCUSDT", time.Now()))
}

func TestNextDayBoundary(t *testing.T) {
	at := time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), NextDayBoundary(at))

	midnight := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), NextDayBoundary(midnight))

	east := time.Date(2026, 3, 3, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), NextDayBoundary(east))
}
