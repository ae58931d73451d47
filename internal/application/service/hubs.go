package service

import (
	"orderflow/internal/concurrency/fanout"
	"orderflow/internal/domain/model"
)

// Hubs are the downstream subscription points. Keys are symbols, except for
// candles which are keyed by CandleKey.
type Hubs struct {
	Candles      *fanout.Hub[model.CandleEvent]
	Depth        *fanout.Hub[model.BookSnapshot]
	Alerts       *fanout.Hub[model.Alert]
	Imbalance    *fanout.Hub[model.ImbalanceSample]
	Liquidations *fanout.Hub[model.LiquidationEvent]
	Cascades     *fanout.Hub[model.CascadeSignal]
}

func NewHubs() *Hubs {
	return &Hubs{
		Candles:      fanout.NewHub[model.CandleEvent]("candles"),
		Depth:        fanout.NewHub[model.BookSnapshot]("depth"),
		Alerts:       fanout.NewHub[model.Alert]("alerts"),
		Imbalance:    fanout.NewHub[model.ImbalanceSample]("imbalance"),
		Liquidations: fanout.NewHub[model.LiquidationEvent]("liquidations"),
		Cascades:     fanout.NewHub[model.CascadeSignal]("cascades"),
	}
}

func (h *Hubs) Close() {
	h.Candles.Close()
	h.Depth.Close()
	h.Alerts.Close()
	h.Imbalance.Close()
	h.Liquidations.Close()
	h.Cascades.Close()
}

func CandleKey(symbol string, tf model.Timeframe) string {
	return symbol + "|" + tf.String()
}
