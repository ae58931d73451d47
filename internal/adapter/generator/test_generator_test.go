package generator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/core/orderbook"
	"orderflow/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGeneratorBookMatchesSnapshot(t *testing.T) {
	gen := NewTestGenerator("test", []string{"BTCUSDT"}, 0, discardLogger())
	ctx := context.Background()

	snap, err := gen.FetchDepthSnapshot(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	store := orderbook.NewStore("BTCUSDT", 0)
	require.NoError(t, store.LoadSnapshot(snap, time.Now()))

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	var lastTrade int64
	for i := 0; i < 200; i++ {
		for _, msg := range gen.Step(now.Add(time.Duration(i) * time.Second)) {
			switch msg.Kind {
			case model.KindDepth:
				require.NoError(t, store.ApplyDelta(msg.Depth))
			case model.KindTrade:
				assert.Greater(t, msg.Trade.ID, lastTrade)
				lastTrade = msg.Trade.ID
				assert.Greater(t, msg.Trade.Price, 0.0)
				assert.Greater(t, msg.Trade.Quantity, 0.0)
			}
		}
		require.False(t, store.Crossed())
	}

	want, err := gen.FetchDepthSnapshot(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	got := store.Snapshot(0)
	assert.Equal(t, model.StatusLive, got.Status)
	assert.Equal(t, want.LastUpdateID, got.LastUpdateID)
	assert.Equal(t, want.Bids, got.Bids)
	assert.Equal(t, want.Asks, got.Asks)
}

func TestGeneratorStats(t *testing.T) {
	gen := NewTestGenerator("test", nil, 0, discardLogger())
	stats, err := gen.Get24hStats(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", stats.Symbol)
	assert.InDelta(t, 3200*20000.0, stats.Notional, 1e-6)
}

func TestGeneratorStreamsUntilClosed(t *testing.T) {
	gen := NewTestGenerator("test", nil, 5*time.Millisecond, discardLogger())
	require.NoError(t, gen.Connect(context.Background()))
	require.NoError(t, gen.Subscribe([]string{"SOLUSDT"}))

	msgs, _ := gen.ReadEvents(context.Background())
	select {
	case m := <-msgs:
		assert.Equal(t, "SOLUSDT", m.Symbol())
	case <-time.After(time.Second):
		t.Fatal("no events")
	}

	require.NoError(t, gen.Close())
	for range msgs {
	}
}
