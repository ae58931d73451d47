package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderflow/internal/core/baseline"
	"orderflow/internal/domain/model"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockSnapshots struct {
	mock.Mock
}

func (m *MockSnapshots) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (model.DepthSnapshot, error) {
	args := m.Called(ctx, symbol, limit)
	return args.Get(0).(model.DepthSnapshot), args.Error(1)
}

func newTestEngine(t *testing.T, cfg EngineConfig, snapshots *MockSnapshots) (*Engine, *Outbox) {
	t.Helper()
	baselines := baseline.NewEngine(1.0, 0)
	require.NoError(t, baselines.Update(baseline.FromDailyStats(model.DailyStats{
		Symbol:   "BTCUSDT",
		Volume:   10_000,
		Notional: 1_000_000,
	}, t0)))

	outbox := NewOutbox(64)
	var e *Engine
	var err error
	if snapshots != nil {
		e, err = NewEngine(cfg, baselines, snapshots, outbox, discardLogger())
	} else {
		e, err = NewEngine(cfg, baselines, nil, outbox, discardLogger())
	}
	require.NoError(t, err)
	e.now = func() time.Time { return t0 }
	return e, outbox
}

// dispatch runs msg on its shard synchronously.
func dispatch(e *Engine, msg model.Message) {
	e.handle(context.Background(), e.pool.Shard(msg.Symbol()), msg)
}

func trade(id int64, at time.Time, price, qty float64, side model.Side) model.Message {
	return model.TradeMessage(model.TradeEvent{Symbol: "BTCUSDT", ID: id, Time: at, Price: price, Quantity: qty, Side: side})
}

func TestEngineTradesToCandlesAndAlerts(t *testing.T) {
	e, outbox := newTestEngine(t, EngineConfig{Shards: 2, Timeframes: []model.Timeframe{model.TF1m, model.TF5m}}, nil)

	alerts, cancel := e.Hubs().Alerts.Subscribe("BTCUSDT", 4)
	defer cancel()

	dispatch(e, trade(1, t0.Add(time.Second), 100, 1, model.Buy))
	dispatch(e, trade(2, t0.Add(2*time.Second), 101, 150, model.Sell))
	dispatch(e, trade(2, t0.Add(2*time.Second), 101, 150, model.Sell)) // redelivered
	dispatch(e, trade(3, t0.Add(65*time.Second), 102, 2, model.Buy))

	sealed, err := e.Timeframes().Get("BTCUSDT", model.TF1m)
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	assert.True(t, sealed[0].Sealed)
	assert.InDelta(t, 151.0, sealed[0].Volume, 1e-9)
	assert.Equal(t, int64(2), sealed[0].TradeCount)
	assert.Equal(t, 100.0, sealed[0].Open)
	assert.Equal(t, 101.0, sealed[0].Close)

	view, err := e.Candles("BTCUSDT", model.TF1m)
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.False(t, view[1].Sealed)
	assert.InDelta(t, 2.0, view[1].Volume, 1e-9)

	five, err := e.Candles("BTCUSDT", model.TF5m)
	require.NoError(t, err)
	require.Len(t, five, 1)
	assert.InDelta(t, 153.0, five[0].Volume, 1e-9)
	assert.False(t, five[0].Sealed)

	select {
	case a := <-alerts:
		assert.Equal(t, int64(2), a.TradeID)
		assert.InDelta(t, 1.515, a.PercentageOfDaily, 1e-9)
	default:
		t.Fatal("expected an alert")
	}
	select {
	case a := <-alerts:
		t.Fatalf("unexpected second alert %+v", a)
	default:
	}

	batch := outbox.Drain()
	assert.Len(t, batch.Candles, 1)
	assert.Len(t, batch.Alerts, 1)
}

func TestEngineSequenceGapDegradesAndSuppresses(t *testing.T) {
	e, outbox := newTestEngine(t, EngineConfig{Shards: 1}, nil)

	dispatch(e, model.SnapshotMessage(model.DepthSnapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 100,
		Bids:         []model.PriceLevel{{Price: 99, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 101, Quantity: 1}},
	}))
	dispatch(e, model.DepthMessage(model.DepthDelta{Symbol: "BTCUSDT", FirstUpdateID: 100, LastUpdateID: 100}))
	dispatch(e, model.DepthMessage(model.DepthDelta{
		Symbol: "BTCUSDT", FirstUpdateID: 101, LastUpdateID: 101, EventTime: t0,
		Bids: []model.PriceLevel{{Price: 100, Quantity: 2}},
	}))

	st, err := e.Status("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLive, st.Book)

	// 102..104 never arrive
	dispatch(e, model.DepthMessage(model.DepthDelta{Symbol: "BTCUSDT", FirstUpdateID: 105, LastUpdateID: 105, EventTime: t0}))

	st, err = e.Status("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegraded, st.Book)
	assert.Equal(t, int64(1), st.Gaps)

	book, err := e.Book("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegraded, book.Status)
	assert.Equal(t, int64(101), book.LastUpdateID)
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)

	imb, cancel := e.Hubs().Imbalance.Subscribe("BTCUSDT", 4)
	defer cancel()
	dispatch(e, trade(1, t0.Add(time.Second), 100, 500, model.Buy))

	assert.Empty(t, outbox.Drain().Alerts)
	select {
	case s := <-imb:
		t.Fatalf("imbalance published while degraded: %+v", s)
	default:
	}

	// a fresh snapshot bridging the buffered delta recovers the book
	dispatch(e, model.SnapshotMessage(model.DepthSnapshot{Symbol: "BTCUSDT", LastUpdateID: 104}))
	st, err = e.Status("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.StatusLive, st.Book)

	dispatch(e, trade(2, t0.Add(2*time.Second), 100, 500, model.Buy))
	assert.Len(t, outbox.Drain().Alerts, 1)
}

func TestEngineStaleBaselineSuppressesAlerts(t *testing.T) {
	e, outbox := newTestEngine(t, EngineConfig{Shards: 1}, nil)
	e.now = func() time.Time { return t0.Add(48 * time.Hour) }

	dispatch(e, trade(1, t0.Add(time.Second), 100, 500, model.Buy))
	assert.Empty(t, outbox.Drain().Alerts)

	st, err := e.Status("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, st.BaselineStale)
}

func TestEngineLiquidations(t *testing.T) {
	e, outbox := newTestEngine(t, EngineConfig{Shards: 1, CascadeThreshold: 3, CascadeWindow: 10 * time.Second}, nil)

	cascades, cancel := e.Hubs().Cascades.Subscribe("BTCUSDT", 4)
	defer cancel()

	for i := 0; i < 4; i++ {
		dispatch(e, model.LiquidationMessage(model.ForceOrder{
			Symbol:    "BTCUSDT",
			Side:      "SELL",
			Price:     "100",
			Quantity:  "2",
			TradeTime: t0.Add(time.Duration(i) * time.Second).UnixMilli(),
		}))
	}
	dispatch(e, model.LiquidationMessage(model.ForceOrder{Symbol: "BTCUSDT", Side: "SELL", Price: "oops", Quantity: "1"}))

	batch := outbox.Drain()
	require.Len(t, batch.Liquidations, 4)
	assert.InDelta(t, 200.0, batch.Liquidations[0].Notional, 1e-9)

	select {
	case sig := <-cascades:
		assert.Equal(t, int64(3), sig.Count)
	default:
		t.Fatal("expected a cascade signal")
	}
	select {
	case sig := <-cascades:
		t.Fatalf("cascade must fire once per burst, got %+v", sig)
	default:
	}
}

func TestEngineResyncsFromSnapshotPort(t *testing.T) {
	snapshots := new(MockSnapshots)
	snapshots.On("FetchDepthSnapshot", mock.Anything, "BTCUSDT", 50).Return(model.DepthSnapshot{
		LastUpdateID: 100,
		Bids:         []model.PriceLevel{{Price: 99, Quantity: 1}},
		Asks:         []model.PriceLevel{{Price: 101, Quantity: 1}},
	}, nil).Once()

	e, _ := newTestEngine(t, EngineConfig{Shards: 1, Resync: ResyncConfig{Limit: 50}}, snapshots)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer func() {
		cancel()
		e.Wait()
	}()

	require.NoError(t, e.Submit(model.DepthMessage(model.DepthDelta{
		Symbol: "BTCUSDT", FirstUpdateID: 99, LastUpdateID: 101, EventTime: t0,
		Asks: []model.PriceLevel{{Price: 100.5, Quantity: 3}},
	})))

	require.Eventually(t, func() bool {
		st, err := e.Status("BTCUSDT")
		return err == nil && st.Book == model.StatusLive
	}, time.Second, 5*time.Millisecond)

	book, err := e.Book("BTCUSDT")
	require.NoError(t, err)
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 100.5, ask.Price)
	assert.Equal(t, int64(101), book.LastUpdateID)
	snapshots.AssertExpectations(t)
}

func TestEngineFailingResyncReportsDegraded(t *testing.T) {
	snapshots := new(MockSnapshots)
	snapshots.On("FetchDepthSnapshot", mock.Anything, "BTCUSDT", mock.Anything).
		Return(model.DepthSnapshot{}, errors.New("connection refused"))

	e, outbox := newTestEngine(t, EngineConfig{
		Shards:       1,
		TickInterval: 5 * time.Millisecond,
		Resync:       ResyncConfig{MinBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond},
	}, snapshots)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer func() {
		cancel()
		e.Wait()
	}()

	require.NoError(t, e.Submit(model.DepthMessage(model.DepthDelta{Symbol: "BTCUSDT", FirstUpdateID: 1, LastUpdateID: 2})))

	require.Eventually(t, func() bool {
		st, err := e.Status("BTCUSDT")
		return err == nil && st.Degraded()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Submit(trade(1, time.Now(), 100, 500, model.Buy)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, outbox.Drain().Alerts)
}

func TestEngineRejectsTimeframeNotMultipleOfBase(t *testing.T) {
	_, err := NewEngine(EngineConfig{
		BaseTimeframe: time.Minute,
		Timeframes:    []model.Timeframe{model.TF15s},
	}, baseline.NewEngine(1, 0), nil, nil, discardLogger())
	assert.ErrorIs(t, err, model.ErrInvalidTimeframe)
}

func startEngine(t *testing.T, e *Engine) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	return func() {
		cancel()
		e.Wait()
	}
}

func TestEngineWarmStartContinuesFromStoredCandle(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{Shards: 2, DefaultPriceScale: 1}, nil)
	defer startEngine(t, e)()

	stored := []model.FootprintCandle{
		{Symbol: "BTCUSDT", Start: t0.Add(-2 * time.Minute), Period: time.Minute, PriceScale: 1, Volume: 3, CVDClose: 4},
		{Symbol: "BTCUSDT", Start: t0.Add(-time.Minute), Period: time.Minute, PriceScale: 1, Volume: 5, CVDOpen: 4, CVDClose: 7},
		{Symbol: "BTCUSDT", Start: t0.Add(-5 * time.Minute), Period: 5 * time.Minute, PriceScale: 1},
	}
	n, err := e.WarmStart(context.Background(), "BTCUSDT", stored)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	history, err := e.Timeframes().Get("BTCUSDT", model.TF1m)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].Sealed)

	// the first trade falls into the restored minute and must not reopen it
	require.NoError(t, e.Submit(trade(1, t0.Add(-30*time.Second), 100, 1, model.Buy)))
	require.NoError(t, e.Submit(trade(2, t0.Add(time.Second), 100, 2, model.Sell)))

	require.Eventually(t, func() bool {
		c, ok := e.OpenCandle("BTCUSDT")
		return ok && c.TradeCount == 1
	}, time.Second, 5*time.Millisecond)

	open, _ := e.OpenCandle("BTCUSDT")
	assert.Equal(t, t0, open.Start)
	assert.InDelta(t, 7.0, open.CVDOpen, 1e-9)
	assert.InDelta(t, 5.0, open.CVDClose, 1e-9)
}

func TestEngineWarmStartWithoutCandles(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{Shards: 1}, nil)
	defer startEngine(t, e)()

	n, err := e.WarmStart(context.Background(), "BTCUSDT", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngineSetPriceScale(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{Shards: 2, DefaultPriceScale: 1}, nil)
	defer startEngine(t, e)()
	ctx := context.Background()

	assert.Equal(t, 1.0, e.PriceScale("BTCUSDT"))
	require.NoError(t, e.SetPriceScale(ctx, "BTCUSDT", 10))
	assert.Equal(t, 10.0, e.PriceScale("BTCUSDT"))

	require.NoError(t, e.Submit(trade(1, t0.Add(time.Second), 104, 1, model.Buy)))
	require.Eventually(t, func() bool {
		_, ok := e.OpenCandle("BTCUSDT")
		return ok
	}, time.Second, 5*time.Millisecond)
	open, _ := e.OpenCandle("BTCUSDT")
	assert.Equal(t, 10.0, open.PriceScale)
	require.Len(t, open.Cells, 1)
	assert.Contains(t, open.Cells, int64(10))

	// 0.3 does not divide 10, the open candle could no longer be merged
	err := e.SetPriceScale(ctx, "BTCUSDT", 0.3)
	assert.ErrorIs(t, err, model.ErrInvalidPriceScale)
	assert.Equal(t, 10.0, e.PriceScale("BTCUSDT"))

	assert.ErrorIs(t, e.SetPriceScale(ctx, "BTCUSDT", -1), model.ErrInvalidPriceScale)
	assert.ErrorIs(t, e.SetPriceScale(ctx, "BTCUSDT", 0), model.ErrInvalidPriceScale)
}

func TestEngineSetPriceScaleBeforeFirstTrade(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{Shards: 1, DefaultPriceScale: 1}, nil)
	defer startEngine(t, e)()

	require.NoError(t, e.SetPriceScale(context.Background(), "ETHUSDT", 0.5))
	assert.Equal(t, 0.5, e.PriceScale("ETHUSDT"))
	assert.Equal(t, 1.0, e.PriceScale("SOLUSDT"))
}

func TestEngineSetPriceScaleHonoursContext(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{Shards: 1}, nil)
	// not started, nobody answers
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.SetPriceScale(ctx, "BTCUSDT", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineKeepsImbalanceHistory(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{Shards: 1, ImbalanceHistory: 8}, nil)

	_, ok := e.ImbalanceHistory("BTCUSDT")
	assert.False(t, ok)

	dispatch(e, trade(1, t0.Add(time.Second), 100, 1, model.Buy))
	dispatch(e, trade(2, t0.Add(2*time.Second), 100, 3, model.Sell))
	dispatch(e, trade(3, t0.Add(2500*time.Millisecond), 100, 1, model.Sell)) // same bucket, no sample

	h, ok := e.ImbalanceHistory("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, 2, h.Len())
	recent := h.Recent(0)
	assert.InDelta(t, 3.0, recent[0].AskVolume, 1e-9)
	assert.InDelta(t, 1.0, recent[1].BidVolume, 1e-9)

	last, ok := e.Imbalance("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, recent[0].WindowEnd, last.WindowEnd)
}
