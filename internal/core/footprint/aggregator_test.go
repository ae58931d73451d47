package footprint

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/domain/model"
)

const epsilon = 1e-9

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func trade(id int64, at time.Duration, price, qty float64, side model.Side) model.TradeEvent {
	return model.TradeEvent{
		Symbol:   "BTCUSDT",
		ID:       id,
		Time:     t0.Add(at),
		Price:    price,
		Quantity: qty,
		Side:     side,
	}
}

func cellTotal(cells map[int64]model.PriceLevelVolume) float64 {
	var sum float64
	for _, c := range cells {
		sum += c.Total()
	}
	return sum
}

func TestAggregatorBuildsCandle(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	for _, tr := range []model.TradeEvent{
		trade(1, 1*time.Second, 100.2, 2, model.Buy),
		trade(2, 10*time.Second, 101.7, 1, model.Sell),
		trade(3, 20*time.Second, 99.5, 3, model.Sell),
		trade(4, 59*time.Second, 100.9, 4, model.Buy),
	} {
		sealed, err := agg.OnTrade(tr)
		require.NoError(t, err)
		assert.Nil(t, sealed)
	}

	c, ok := agg.Open()
	require.True(t, ok)
	assert.Equal(t, t0, c.Start)
	assert.Equal(t, 100.2, c.Open)
	assert.Equal(t, 101.7, c.High)
	assert.Equal(t, 99.5, c.Low)
	assert.Equal(t, 100.9, c.Close)
	assert.InDelta(t, 10.0, c.Volume, epsilon)
	assert.InDelta(t, 6.0, c.BuyVolume, epsilon)
	assert.InDelta(t, 4.0, c.SellVolume, epsilon)
	assert.Equal(t, int64(4), c.TradeCount)
	assert.InDelta(t, 2.0, c.CVDClose, epsilon)

	require.Len(t, c.Cells, 3)
	assert.Equal(t, model.PriceLevelVolume{Price: 100, BuyVolume: 6, TradeCount: 2}, c.Cells[100])
	assert.Equal(t, model.PriceLevelVolume{Price: 101, SellVolume: 1, TradeCount: 1}, c.Cells[101])
	assert.Equal(t, model.PriceLevelVolume{Price: 99, SellVolume: 3, TradeCount: 1}, c.Cells[99])
}

func TestAggregatorSealsOnNewPeriodAndCarriesCVD(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	_, err = agg.OnTrade(trade(1, 0, 100, 5, model.Buy))
	require.NoError(t, err)
	_, err = agg.OnTrade(trade(2, 30*time.Second, 100, 2, model.Sell))
	require.NoError(t, err)

	sealed, err := agg.OnTrade(trade(3, 61*time.Second, 101, 1, model.Sell))
	require.NoError(t, err)
	require.NotNil(t, sealed)
	assert.True(t, sealed.Sealed)
	assert.Equal(t, 0.0, sealed.CVDOpen)
	assert.InDelta(t, 3.0, sealed.CVDClose, epsilon)

	open, ok := agg.Open()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), open.Start)
	assert.InDelta(t, 3.0, open.CVDOpen, epsilon)
	assert.InDelta(t, 2.0, open.CVDClose, epsilon)
	assert.False(t, open.Sealed)
}

func TestAggregatorRejectsDuplicatesAndLateTrades(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	_, err = agg.OnTrade(trade(10, 70*time.Second, 100, 1, model.Buy))
	require.NoError(t, err)

	_, err = agg.OnTrade(trade(10, 71*time.Second, 100, 1, model.Buy))
	assert.ErrorIs(t, err, ErrDuplicateTrade)

	_, err = agg.OnTrade(trade(11, 10*time.Second, 100, 1, model.Buy))
	assert.ErrorIs(t, err, ErrLateTrade)

	_, err = agg.OnTrade(trade(12, 72*time.Second, -1, 1, model.Buy))
	assert.ErrorIs(t, err, model.ErrMalformedMessage)

	open, _ := agg.Open()
	assert.InDelta(t, 1.0, open.Volume, epsilon)
}

func TestAggregatorTradeIDsPerSource(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	live := trade(5_000_000, 61*time.Second, 100, 1, model.Buy)
	live.Source = "binance"
	_, err = agg.OnTrade(live)
	require.NoError(t, err)

	gen := trade(1, 62*time.Second, 100, 2, model.Sell)
	gen.Source = "test-generator"
	_, err = agg.OnTrade(gen)
	require.NoError(t, err)

	live.ID--
	live.Time = live.Time.Add(2 * time.Second)
	_, err = agg.OnTrade(live)
	assert.ErrorIs(t, err, ErrDuplicateTrade)

	open, _ := agg.Open()
	assert.InDelta(t, 3.0, open.Volume, epsilon)
}

func TestAggregatorSetPriceScale(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, agg.SetPriceScale(0), model.ErrInvalidPriceScale)
	assert.ErrorIs(t, agg.SetPriceScale(-5), model.ErrInvalidPriceScale)
	assert.Equal(t, 1.0, agg.PriceScale())

	_, err = agg.OnTrade(trade(1, 0, 103, 1, model.Buy))
	require.NoError(t, err)
	require.NoError(t, agg.SetPriceScale(5))

	// the open candle keeps its scale
	_, err = agg.OnTrade(trade(2, time.Second, 104, 1, model.Buy))
	require.NoError(t, err)
	open, _ := agg.Open()
	assert.Equal(t, 1.0, open.PriceScale)
	assert.Len(t, open.Cells, 2)

	sealed, err := agg.OnTrade(trade(3, time.Minute, 104, 1, model.Buy))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sealed.PriceScale)

	open, _ = agg.Open()
	assert.Equal(t, 5.0, open.PriceScale)
	assert.Equal(t, 100.0, open.Cells[20].Price)
}

func TestAggregatorFlush(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)
	assert.Nil(t, agg.Flush(t0))

	_, err = agg.OnTrade(trade(1, 5*time.Second, 100, 1, model.Buy))
	require.NoError(t, err)

	assert.Nil(t, agg.Flush(t0.Add(59*time.Second)))
	sealed := agg.Flush(t0.Add(time.Minute))
	require.NotNil(t, sealed)
	assert.True(t, sealed.Sealed)

	_, ok := agg.Open()
	assert.False(t, ok)
}

func TestAggregatorRejectsTradeInFlushedPeriod(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	_, err = agg.OnTrade(trade(1, 10*time.Second, 100, 1, model.Buy))
	require.NoError(t, err)
	sealed := agg.Flush(t0.Add(62 * time.Second))
	require.NotNil(t, sealed)

	_, err = agg.OnTrade(trade(2, 59*time.Second, 100, 5, model.Buy))
	assert.ErrorIs(t, err, ErrLateTrade)
	assert.InDelta(t, 1.0, agg.CVD(), epsilon)

	_, ok := agg.Open()
	assert.False(t, ok)

	_, err = agg.OnTrade(trade(3, 70*time.Second, 100, 1, model.Sell))
	require.NoError(t, err)
	open, _ := agg.Open()
	assert.Equal(t, t0.Add(time.Minute), open.Start)
	assert.InDelta(t, sealed.CVDClose, open.CVDOpen, epsilon)

	// the rejected trade id is not consumed
	_, err = agg.OnTrade(trade(2, 71*time.Second, 100, 1, model.Buy))
	assert.ErrorIs(t, err, ErrDuplicateTrade)
}

func TestAggregatorRejectsTradeWithoutTime(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	tr := trade(1, 0, 100, 1, model.Buy)
	tr.Time = time.Time{}
	_, err = agg.OnTrade(tr)
	assert.ErrorIs(t, err, model.ErrMalformedMessage)

	_, ok := agg.Open()
	assert.False(t, ok)
}

func TestAggregatorRestore(t *testing.T) {
	agg, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)

	last := model.FootprintCandle{Symbol: "BTCUSDT", Start: t0, Period: time.Minute, CVDOpen: 4, CVDClose: 7, Sealed: true}
	require.NoError(t, agg.Restore(last))
	assert.InDelta(t, 7.0, agg.CVD(), epsilon)

	_, err = agg.OnTrade(trade(1, 30*time.Second, 100, 1, model.Buy))
	assert.ErrorIs(t, err, ErrLateTrade)

	_, err = agg.OnTrade(trade(2, 61*time.Second, 100, 2, model.Sell))
	require.NoError(t, err)
	open, _ := agg.Open()
	assert.InDelta(t, 7.0, open.CVDOpen, epsilon)
	assert.InDelta(t, 5.0, open.CVDClose, epsilon)

	assert.ErrorIs(t, agg.Restore(last), ErrCandleOpen)

	wrong := last
	wrong.Period = 5 * time.Minute
	fresh, err := NewAggregator("BTCUSDT", time.Minute, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, fresh.Restore(wrong), model.ErrInvalidTimeframe)
}

func TestAggregatorDecimalBucketing(t *testing.T) {
	agg, err := NewAggregator("ETHUSDT", time.Minute, 0.1)
	require.NoError(t, err)

	// 0.3 / 0.1 must land in bucket 3, not 2
	_, err = agg.OnTrade(trade(1, 0, 0.3, 1, model.Buy))
	require.NoError(t, err)
	open, _ := agg.Open()
	cell, ok := open.Cells[3]
	require.True(t, ok)
	assert.Equal(t, 0.3, cell.Price)
}

func TestRebuildPreservesTotalVolume(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	trades := make([]model.TradeEvent, 0, 500)
	var total float64
	for i := 0; i < 500; i++ {
		side := model.Buy
		if rng.Intn(2) == 0 {
			side = model.Sell
		}
		qty := math.Round(rng.Float64()*1000) / 100
		if qty == 0 {
			qty = 0.01
		}
		total += qty
		trades = append(trades, trade(int64(i+1), time.Duration(i)*700*time.Millisecond, 100+rng.Float64()*20, qty, side))
	}

	fine, err := Rebuild("BTCUSDT", trades, 0.5, time.Minute)
	require.NoError(t, err)
	coarse, err := Rebuild("BTCUSDT", trades, 5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, len(fine), len(coarse))

	var fineSum, coarseSum float64
	for i := range fine {
		assert.True(t, fine[i].Sealed)
		fineSum += cellTotal(fine[i].Cells)
		coarseSum += cellTotal(coarse[i].Cells)
		assert.InDelta(t, fine[i].Volume, cellTotal(coarse[i].Cells), 1e-6)
	}
	assert.InDelta(t, total, fineSum, 1e-6)
	assert.InDelta(t, total, coarseSum, 1e-6)
}

func TestRebucket(t *testing.T) {
	c := model.FootprintCandle{
		PriceScale: 0.5,
		Cells: map[int64]model.PriceLevelVolume{
			200: {Price: 100, BuyVolume: 1, TradeCount: 1},
			201: {Price: 100.5, SellVolume: 2, TradeCount: 1},
			202: {Price: 101, BuyVolume: 3, TradeCount: 2},
		},
	}
	out, err := Rebucket(c, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PriceLevelVolume{Price: 100, BuyVolume: 1, SellVolume: 2, TradeCount: 2}, out.Cells[100])
	assert.Equal(t, model.PriceLevelVolume{Price: 101, BuyVolume: 3, TradeCount: 2}, out.Cells[101])
	assert.Len(t, c.Cells, 3)

	_, err = Rebucket(c, 0.75)
	assert.ErrorIs(t, err, model.ErrInvalidPriceScale)
}
