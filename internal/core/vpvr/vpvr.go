// Package vpvr computes visible-range volume profiles from footprint candles.
package vpvr

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/core/footprint"
	"orderflow/internal/domain/model"
)

// ValueAreaShare is the fraction of total volume the value area must hold.
const ValueAreaShare = 0.7

// Compute sums the cells of candles into buckets of scale. Every candle scale
// must divide scale exactly. The profile is always built from the candles
// given, never from an earlier profile.
func Compute(symbol string, candles []model.FootprintCandle, scale float64) (model.VPVRProfile, error) {
	if _, err := footprint.ParseScale(scale); err != nil {
		return model.VPVRProfile{}, err
	}

	buckets := make(map[int64]model.PriceLevelVolume)
	for i := range candles {
		if len(candles[i].Cells) == 0 {
			continue
		}
		rb, err := footprint.Rebucket(candles[i], scale)
		if err != nil {
			return model.VPVRProfile{}, fmt.Errorf("candle %s: %w", candles[i].Start.Format(time.RFC3339), err)
		}
		for tick, cell := range rb.Cells {
			acc, ok := buckets[tick]
			if !ok {
				acc.Price = cell.Price
			}
			acc.BuyVolume += cell.BuyVolume
			acc.SellVolume += cell.SellVolume
			acc.TradeCount += cell.TradeCount
			buckets[tick] = acc
		}
	}

	p := model.VPVRProfile{Symbol: symbol, PriceScale: scale, Candles: len(candles)}
	ticks := footprint.SortedTicks(buckets)
	p.Levels = make([]model.PriceLevelVolume, len(ticks))
	for i, tick := range ticks {
		lvl := buckets[tick]
		p.Levels[i] = lvl
		p.BuyVolume += lvl.BuyVolume
		p.SellVolume += lvl.SellVolume
	}
	p.TotalVolume = p.BuyVolume + p.SellVolume
	if !(p.TotalVolume > 0) {
		return model.VPVRProfile{}, model.ErrEmptyProfile
	}

	poc := pointOfControl(p.Levels)
	lo, hi := valueArea(p.Levels, poc, p.TotalVolume*ValueAreaShare)
	p.POC = p.Levels[poc].Price
	p.VAL = p.Levels[lo].Price
	p.VAH = p.Levels[hi].Price
	return p, nil
}

// pointOfControl returns the index of the heaviest level. Levels are sorted
// ascending, so a strict comparison keeps the lowest price on ties.
func pointOfControl(levels []model.PriceLevelVolume) int {
	best := 0
	for i := 1; i < len(levels); i++ {
		if levels[i].Total() > levels[best].Total() {
			best = i
		}
	}
	return best
}

// valueArea grows [lo, hi] from poc, taking the next level above and then the
// next level below in turn, until the included volume reaches target. Once a
// side runs out only the other side is expanded.
func valueArea(levels []model.PriceLevelVolume, poc int, target float64) (lo, hi int) {
	lo, hi = poc, poc
	acc := levels[poc].Total()
	up := true
	for acc < target {
		canUp := hi+1 < len(levels)
		canDown := lo > 0
		if !canUp && !canDown {
			break
		}
		if (up && canUp) || !canDown {
			hi++
			acc += levels[hi].Total()
		} else {
			lo--
			acc += levels[lo].Total()
		}
		up = !up
	}
	return lo, hi
}

// ParseScaleText parses a price scale given as decimal text, e.g. "0.5".
func ParseScaleText(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidPriceScale, s)
	}
	return d.InexactFloat64(), nil
}
