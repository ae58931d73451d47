package liquidation

import (
	"time"

	"orderflow/internal/domain/model"
)

// Summarize counts the liquidations of symbol with from <= Time <= to.
// Events of other symbols are ignored.
func Summarize(symbol string, events []model.LiquidationEvent, from, to time.Time) model.LiquidationSummary {
	s := model.LiquidationSummary{Symbol: symbol, From: from, To: to}
	for _, ev := range events {
		if ev.Symbol != symbol || ev.Time.Before(from) || ev.Time.After(to) {
			continue
		}
		switch ev.Side {
		case model.Sell:
			s.LongLiquidations++
		case model.Buy:
			s.ShortLiquidations++
		default:
			continue
		}
		s.TotalVolume += ev.Quantity
		s.TotalNotional += ev.Notional
	}
	s.TotalLiquidations = s.LongLiquidations + s.ShortLiquidations
	return s
}
