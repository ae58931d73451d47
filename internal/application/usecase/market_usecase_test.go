package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderflow/internal/application/service"
	"orderflow/internal/core/imbalance"
	"orderflow/internal/domain/model"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type stubEngine struct {
	candles   map[string][]model.FootprintCandle
	books     map[string]model.BookSnapshot
	histories map[string]*imbalance.History
	scales    map[string]float64
	hubs      *service.Hubs
}

func (s *stubEngine) Candles(symbol string, _ model.Timeframe) ([]model.FootprintCandle, error) {
	c, ok := s.candles[symbol]
	if !ok {
		return nil, model.ErrUnknownSymbol
	}
	return c, nil
}

func (s *stubEngine) Book(symbol string) (model.BookSnapshot, error) {
	b, ok := s.books[symbol]
	if !ok {
		return model.BookSnapshot{}, model.ErrUnknownSymbol
	}
	return b, nil
}

func (s *stubEngine) Status(symbol string) (model.SymbolStatus, error) {
	return model.SymbolStatus{Symbol: symbol, Book: model.StatusLive}, nil
}

func (s *stubEngine) Statuses() []model.SymbolStatus { return nil }

func (s *stubEngine) Imbalance(string) (model.ImbalanceSample, bool) {
	return model.ImbalanceSample{}, false
}

func (s *stubEngine) ImbalanceHistory(symbol string) (*imbalance.History, bool) {
	h, ok := s.histories[symbol]
	return h, ok
}

func (s *stubEngine) PriceScale(symbol string) float64 {
	if v, ok := s.scales[symbol]; ok {
		return v
	}
	return 1
}

func (s *stubEngine) SetPriceScale(_ context.Context, symbol string, scale float64) error {
	if scale <= 0 {
		return model.ErrInvalidPriceScale
	}
	s.scales[symbol] = scale
	return nil
}

func (s *stubEngine) Hubs() *service.Hubs { return s.hubs }

type MockCache struct {
	mock.Mock
}

func (m *MockCache) SetDepthSnapshot(ctx context.Context, snap model.BookSnapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func (m *MockCache) GetDepthSnapshot(ctx context.Context, symbol string) (*model.BookSnapshot, error) {
	args := m.Called(ctx, symbol)
	snap, _ := args.Get(0).(*model.BookSnapshot)
	return snap, args.Error(1)
}

func (m *MockCache) SetImbalance(ctx context.Context, sample model.ImbalanceSample) error {
	return m.Called(ctx, sample).Error(0)
}

func (m *MockCache) SetStatus(ctx context.Context, status model.SymbolStatus) error {
	return m.Called(ctx, status).Error(0)
}

func (m *MockCache) AddLiquidation(ctx context.Context, event model.LiquidationEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockCache) GetLiquidations(ctx context.Context, symbol string, since time.Time) ([]model.LiquidationEvent, error) {
	args := m.Called(ctx, symbol, since)
	return args.Get(0).([]model.LiquidationEvent), args.Error(1)
}

func (m *MockCache) DeleteOldLiquidations(ctx context.Context, before time.Time) error {
	return m.Called(ctx, before).Error(0)
}

func (m *MockCache) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockCache) Close() error { return m.Called().Error(0) }

func candle(start time.Time, scale float64, cells map[int64]model.PriceLevelVolume) model.FootprintCandle {
	c := model.FootprintCandle{Symbol: "BTCUSDT", Start: start, Period: time.Minute, PriceScale: scale, Cells: cells, Sealed: true}
	for _, cell := range cells {
		c.Volume += cell.Total()
		c.BuyVolume += cell.BuyVolume
		c.SellVolume += cell.SellVolume
	}
	return c
}

func newStub() *stubEngine {
	return &stubEngine{
		candles: map[string][]model.FootprintCandle{
			"BTCUSDT": {
				candle(t0, 1, map[int64]model.PriceLevelVolume{
					100: {Price: 100, BuyVolume: 5, SellVolume: 5},
					101: {Price: 101, BuyVolume: 1},
				}),
				candle(t0.Add(time.Minute), 1, map[int64]model.PriceLevelVolume{
					100: {Price: 100, BuyVolume: 10},
					102: {Price: 102, SellVolume: 3},
				}),
			},
		},
		books: map[string]model.BookSnapshot{
			"BTCUSDT": {
				Symbol: "BTCUSDT",
				Bids:   []model.PriceLevel{{Price: 99, Quantity: 1}, {Price: 98, Quantity: 2}, {Price: 97, Quantity: 3}},
				Asks:   []model.PriceLevel{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 2}},
			},
		},
		histories: map[string]*imbalance.History{},
		scales:    map[string]float64{},
		hubs:      service.NewHubs(),
	}
}

func TestGetVPVRRange(t *testing.T) {
	uc := NewMarketUseCase(newStub(), nil, 0)

	all, err := uc.GetVPVR("BTCUSDT", model.TF1m, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, all.POC)
	assert.InDelta(t, 24.0, all.TotalVolume, 1e-9)

	second, err := uc.GetVPVR("BTCUSDT", model.TF1m, t0.Add(time.Minute), time.Time{}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 13.0, second.TotalVolume, 1e-9)

	_, err = uc.GetVPVR("BTCUSDT", model.TF1m, t0.Add(time.Hour), time.Time{}, 1)
	assert.ErrorIs(t, err, model.ErrEmptyProfile)

	_, err = uc.GetVPVR("BTCUSDT", model.TF1m, time.Time{}, time.Time{}, 0.3)
	assert.ErrorIs(t, err, model.ErrInvalidPriceScale)
}

func TestGetDepthTruncatesAndFallsBackToCache(t *testing.T) {
	cache := new(MockCache)
	cache.On("GetDepthSnapshot", mock.Anything, "ETHUSDT").Return(&model.BookSnapshot{
		Symbol: "ETHUSDT",
		Bids:   []model.PriceLevel{{Price: 10, Quantity: 1}},
	}, nil)
	cache.On("GetDepthSnapshot", mock.Anything, "XRPUSDT").Return(nil, nil)

	uc := NewMarketUseCase(newStub(), cache, 0)

	snap, err := uc.GetDepth(context.Background(), "BTCUSDT", 2)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, 2)
	assert.Len(t, snap.Asks, 2)

	snap, err = uc.GetDepth(context.Background(), "ETHUSDT", 0)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", snap.Symbol)

	_, err = uc.GetDepth(context.Background(), "XRPUSDT", 0)
	assert.ErrorIs(t, err, model.ErrUnknownSymbol)
}

func TestGetLevels(t *testing.T) {
	uc := NewMarketUseCase(newStub(), nil, 0)

	levels, err := uc.GetLevels("BTCUSDT", model.TF1m)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), levels.Candle.Start)
	assert.NotEmpty(t, levels.Imbalances)
	require.NotEmpty(t, levels.Significant)
	assert.Equal(t, model.LevelPointOfControl, levels.Significant[0].Kind)
	assert.Equal(t, 100.0, levels.Significant[0].Price)

	_, err = uc.GetLevels("SOLUSDT", model.TF1m)
	assert.ErrorIs(t, err, model.ErrUnknownSymbol)
}

func TestSubscribeCandles(t *testing.T) {
	stub := newStub()
	uc := NewMarketUseCase(stub, nil, 4)

	initial, events, cancel, err := uc.SubscribeCandles("BTCUSDT", model.TF1m)
	require.NoError(t, err)
	defer cancel()
	assert.Len(t, initial, 2)

	stub.hubs.Candles.Publish(service.CandleKey("BTCUSDT", model.TF1m), model.CandleEvent{Symbol: "BTCUSDT", Timeframe: model.TF1m})
	select {
	case ev := <-events:
		assert.Equal(t, "BTCUSDT", ev.Symbol)
	case <-time.After(time.Second):
		t.Fatal("no candle event")
	}

	// unknown symbols subscribe with an empty snapshot
	initial, _, cancelNew, err := uc.SubscribeCandles("NEWUSDT", model.TF1m)
	require.NoError(t, err)
	cancelNew()
	assert.Empty(t, initial)
}

func TestGetImbalanceHistory(t *testing.T) {
	stub := newStub()
	h := imbalance.NewHistory(10)
	for i, r := range []float64{0.5, -0.5, 0.2} {
		h.Add(model.ImbalanceSample{Symbol: "BTCUSDT", WindowEnd: t0.Add(time.Duration(i) * time.Minute), Ratio: r})
	}
	stub.histories["BTCUSDT"] = h
	uc := NewMarketUseCase(stub, nil, 0)

	all, err := uc.GetImbalanceHistory("BTCUSDT", 0, 0, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, all.Samples, 3)
	assert.Equal(t, 0.2, all.Samples[0].Ratio)
	require.NotNil(t, all.Average)
	assert.InDelta(t, 0.2/3, *all.Average, 1e-9)

	recent, err := uc.GetImbalanceHistory("BTCUSDT", 5, 90*time.Second, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Second), recent.Since)
	require.Len(t, recent.Samples, 2)
	require.NotNil(t, recent.Average)
	assert.InDelta(t, -0.15, *recent.Average, 1e-9)

	one, err := uc.GetImbalanceHistory("BTCUSDT", 1, 0, t0)
	require.NoError(t, err)
	assert.Len(t, one.Samples, 1)

	stale, err := uc.GetImbalanceHistory("BTCUSDT", 0, time.Minute, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale.Samples)
	assert.Nil(t, stale.Average)

	_, err = uc.GetImbalanceHistory("SOLUSDT", 0, 0, t0)
	assert.ErrorIs(t, err, model.ErrUnknownSymbol)
}

func TestGetLiquidationSummary(t *testing.T) {
	now := t0.Add(10 * time.Minute)
	cache := new(MockCache)
	cache.On("GetLiquidations", mock.Anything, "BTCUSDT", now.Add(-5*time.Minute)).Return([]model.LiquidationEvent{
		{Symbol: "BTCUSDT", Side: model.Sell, Quantity: 2, Notional: 200, Time: now.Add(-4 * time.Minute)},
		{Symbol: "BTCUSDT", Side: model.Buy, Quantity: 1, Notional: 101, Time: now.Add(-time.Minute)},
	}, nil)

	uc := NewMarketUseCase(newStub(), cache, 0)
	sum, err := uc.GetLiquidationSummary(context.Background(), "BTCUSDT", 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.LongLiquidations)
	assert.Equal(t, 1, sum.ShortLiquidations)
	assert.Equal(t, 2, sum.TotalLiquidations)
	assert.InDelta(t, 3.0, sum.TotalVolume, 1e-9)
	assert.InDelta(t, 301.0, sum.TotalNotional, 1e-9)
	assert.Equal(t, now, sum.To)
	cache.AssertExpectations(t)

	// without a cache the summary is empty
	empty, err := NewMarketUseCase(newStub(), nil, 0).GetLiquidationSummary(context.Background(), "BTCUSDT", time.Minute, now)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalLiquidations)
}

func TestSetPriceScale(t *testing.T) {
	uc := NewMarketUseCase(newStub(), nil, 0)

	assert.Equal(t, 1.0, uc.GetPriceScale("BTCUSDT").Scale)
	got, err := uc.SetPriceScale(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, PriceScale{Symbol: "BTCUSDT", Scale: 5}, got)

	_, err = uc.SetPriceScale(context.Background(), "BTCUSDT", -1)
	assert.ErrorIs(t, err, model.ErrInvalidPriceScale)
	assert.Equal(t, 5.0, uc.GetPriceScale("BTCUSDT").Scale)
}
