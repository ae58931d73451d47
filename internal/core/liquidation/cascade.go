package liquidation

import (
	"time"

	"orderflow/internal/core/imbalance"
	"orderflow/internal/domain/model"
)

// Cascade counts liquidations of one symbol in a short sliding window and
// fires once when the count reaches the threshold. It re-arms after the count
// falls back below the threshold.
type Cascade struct {
	symbol    string
	window    *imbalance.Window
	threshold int64
	armed     bool
}

func NewCascade(symbol string, window, bucket time.Duration, threshold int64) (*Cascade, error) {
	w, err := imbalance.NewWindow(window, bucket)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &Cascade{symbol: symbol, window: w, threshold: threshold, armed: true}, nil
}

// Observe records ev and returns a signal on the rising edge.
func (c *Cascade) Observe(ev model.LiquidationEvent) (*model.CascadeSignal, bool) {
	if ev.Side == model.Buy {
		c.window.Add(ev.Time, ev.Notional, 0)
	} else {
		c.window.Add(ev.Time, 0, ev.Notional)
	}
	buy, sell, count := c.window.Totals(ev.Time)
	if count < c.threshold {
		c.armed = true
		return nil, false
	}
	if !c.armed {
		return nil, false
	}
	c.armed = false
	return &model.CascadeSignal{
		Symbol:   c.symbol,
		Time:     ev.Time,
		Count:    count,
		Window:   c.window.Length(),
		Notional: buy + sell,
	}, true
}

// Tick lets the window decay without new events so the detector can re-arm.
func (c *Cascade) Tick(now time.Time) {
	if _, _, count := c.window.Totals(now); count < c.threshold {
		c.armed = true
	}
}
