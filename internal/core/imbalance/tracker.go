package imbalance

import (
	"time"

	"orderflow/internal/domain/model"
)

// Tracker follows the aggressor buy/sell balance of one symbol and emits at
// most one sample per bucket.
type Tracker struct {
	symbol  string
	window  *Window
	emitted int64
	hasEmit bool
}

func NewTracker(symbol string, length, width time.Duration) (*Tracker, error) {
	w, err := NewWindow(length, width)
	if err != nil {
		return nil, err
	}
	return &Tracker{symbol: symbol, window: w}, nil
}

// OnTrade adds t to the window. A sample is returned on the first trade of
// every new bucket.
func (t *Tracker) OnTrade(tr model.TradeEvent) (*model.ImbalanceSample, bool) {
	var buy, sell float64
	if tr.Side == model.Buy {
		buy = tr.Quantity
	} else {
		sell = tr.Quantity
	}
	if !t.window.Add(tr.Time, buy, sell) {
		return nil, false
	}
	idx := t.window.BucketIndex(tr.Time)
	if t.hasEmit && idx <= t.emitted {
		return nil, false
	}
	t.emitted = idx
	t.hasEmit = true
	s := t.Sample(tr.Time)
	return &s, true
}

// Sample reads the window ending at now without emitting.
func (t *Tracker) Sample(now time.Time) model.ImbalanceSample {
	buy, sell, _ := t.window.Totals(now)
	start, end := t.window.Bounds(now)
	return model.ImbalanceSample{
		Symbol:      t.symbol,
		WindowStart: start,
		WindowEnd:   end,
		BidVolume:   buy,
		AskVolume:   sell,
		Ratio:       Ratio(buy, sell),
	}
}
