package timeframe

import (
	"fmt"
	"time"

	"orderflow/internal/core/footprint"
	"orderflow/internal/domain/model"
)

// Merge combines consecutive candles into one candle starting at start and
// lasting period. Open and close come from the first and last candle, CVD is
// taken from the ends rather than summed, and cells are unioned per bucket
// after folding every input onto the coarsest price scale present.
func Merge(candles []model.FootprintCandle, start time.Time, period time.Duration) (model.FootprintCandle, error) {
	if len(candles) == 0 {
		return model.FootprintCandle{}, fmt.Errorf("merge: no candles")
	}
	scale, err := footprint.CoarsestScale(candles)
	if err != nil {
		return model.FootprintCandle{}, err
	}

	first, last := candles[0], candles[len(candles)-1]
	out := model.FootprintCandle{
		Symbol:     first.Symbol,
		Start:      start,
		Period:     period,
		PriceScale: scale,
		Open:       first.Open,
		High:       first.High,
		Low:        first.Low,
		Close:      last.Close,
		CVDOpen:    first.CVDOpen,
		CVDClose:   last.CVDClose,
		Cells:      make(map[int64]model.PriceLevelVolume),
	}
	for i := range candles {
		c, err := footprint.Rebucket(candles[i], scale)
		if err != nil {
			return model.FootprintCandle{}, err
		}
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Volume += c.Volume
		out.BuyVolume += c.BuyVolume
		out.SellVolume += c.SellVolume
		out.TradeCount += c.TradeCount
		for tick, cell := range c.Cells {
			acc, ok := out.Cells[tick]
			if !ok {
				acc.Price = cell.Price
			}
			acc.BuyVolume += cell.BuyVolume
			acc.SellVolume += cell.SellVolume
			acc.TradeCount += cell.TradeCount
			out.Cells[tick] = acc
		}
	}
	return out, nil
}

// Build partitions ordered base candles into tf windows and merges each one.
// A window is sealed when all its members are sealed and either a later
// window exists or its last member reaches the window end.
func Build(base []model.FootprintCandle, tf model.Timeframe) ([]model.FootprintCandle, error) {
	var out []model.FootprintCandle
	for i := 0; i < len(base); {
		start := tf.PeriodStart(base[i].Start)
		end := start.Add(tf.Duration())
		j := i
		sealed := true
		for j < len(base) && base[j].Start.Before(end) {
			sealed = sealed && base[j].Sealed
			j++
		}
		merged, err := Merge(base[i:j], start, tf.Duration())
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", start.Format(time.RFC3339), err)
		}
		merged.Sealed = sealed && (j < len(base) || !base[j-1].End().Before(end))
		out = append(out, merged)
		i = j
	}
	return out, nil
}
