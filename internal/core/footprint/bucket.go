package footprint

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"orderflow/internal/domain/model"
)

// Tick returns the bucket index of price at scale: floor(price / scale).
func Tick(price float64, scale decimal.Decimal) int64 {
	return decimal.NewFromFloat(price).Div(scale).Floor().IntPart()
}

// TickPrice is the lower bound of bucket tick at scale.
func TickPrice(tick int64, scale decimal.Decimal) float64 {
	return decimal.NewFromInt(tick).Mul(scale).InexactFloat64()
}

// ParseScale validates a price scale and returns its decimal form.
func ParseScale(scale float64) (decimal.Decimal, error) {
	if !(scale > 0) {
		return decimal.Zero, fmt.Errorf("%w: %v", model.ErrInvalidPriceScale, scale)
	}
	return decimal.NewFromFloat(scale), nil
}

// ScaleRatio returns to/from when it is a positive integer. Cells at scale
// from can only be folded into scale to under that condition.
func ScaleRatio(from, to float64) (int64, error) {
	f, err := ParseScale(from)
	if err != nil {
		return 0, err
	}
	t, err := ParseScale(to)
	if err != nil {
		return 0, err
	}
	ratio := t.Div(f)
	if !ratio.IsInteger() || ratio.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %v is not a multiple of %v", model.ErrInvalidPriceScale, to, from)
	}
	return ratio.IntPart(), nil
}

// Rebucket folds the cells of c into the coarser scale. The candle is copied;
// c itself is left untouched.
func Rebucket(c model.FootprintCandle, scale float64) (model.FootprintCandle, error) {
	if c.PriceScale == scale {
		return c.Clone(), nil
	}
	ratio, err := ScaleRatio(c.PriceScale, scale)
	if err != nil {
		return model.FootprintCandle{}, err
	}
	target := decimal.NewFromFloat(scale)

	out := c
	out.PriceScale = scale
	out.Cells = make(map[int64]model.PriceLevelVolume, len(c.Cells)/int(max(ratio, 1))+1)
	for tick, cell := range c.Cells {
		nt := floorDiv(tick, ratio)
		merged := out.Cells[nt]
		merged.Price = TickPrice(nt, target)
		merged.BuyVolume += cell.BuyVolume
		merged.SellVolume += cell.SellVolume
		merged.TradeCount += cell.TradeCount
		out.Cells[nt] = merged
	}
	return out, nil
}

// CoarsestScale picks the largest scale among candles and checks every other
// scale divides it.
func CoarsestScale(candles []model.FootprintCandle) (float64, error) {
	var coarsest float64
	for i := range candles {
		if candles[i].PriceScale > coarsest {
			coarsest = candles[i].PriceScale
		}
	}
	for i := range candles {
		if _, err := ScaleRatio(candles[i].PriceScale, coarsest); err != nil {
			return 0, err
		}
	}
	return coarsest, nil
}

// SortedTicks returns the cell keys of m in ascending order.
func SortedTicks(m map[int64]model.PriceLevelVolume) []int64 {
	ticks := make([]int64, 0, len(m))
	for k := range m {
		ticks = append(ticks, k)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
