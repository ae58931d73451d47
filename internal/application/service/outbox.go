package service

import (
	"sync/atomic"

	"orderflow/internal/domain/model"
	"orderflow/internal/infrastructure/metrics"
)

// Outbox buffers records for persistence between shard goroutines and the
// persistence flusher. Puts never block; overflow is counted and dropped.
type Outbox struct {
	candles      chan model.FootprintCandle
	alerts       chan model.Alert
	liquidations chan model.LiquidationEvent

	dropped atomic.Int64
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1024
	}
	return &Outbox{
		candles:      make(chan model.FootprintCandle, size),
		alerts:       make(chan model.Alert, size),
		liquidations: make(chan model.LiquidationEvent, size),
	}
}

func (o *Outbox) PutCandle(c model.FootprintCandle) {
	if o == nil {
		return
	}
	select {
	case o.candles <- c:
	default:
		o.drop("candle")
	}
}

func (o *Outbox) PutAlert(a model.Alert) {
	if o == nil {
		return
	}
	select {
	case o.alerts <- a:
	default:
		o.drop("alert")
	}
}

func (o *Outbox) PutLiquidation(l model.LiquidationEvent) {
	if o == nil {
		return
	}
	select {
	case o.liquidations <- l:
	default:
		o.drop("liquidation")
	}
}

func (o *Outbox) drop(record string) {
	o.dropped.Add(1)
	metrics.OutboxDropped.WithLabelValues(record).Inc()
}

func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Batch is everything drained from the outbox in one pass.
type Batch struct {
	Candles      []model.FootprintCandle
	Alerts       []model.Alert
	Liquidations []model.LiquidationEvent
}

func (b Batch) Empty() bool {
	return len(b.Candles) == 0 && len(b.Alerts) == 0 && len(b.Liquidations) == 0
}

// Drain takes whatever is buffered right now without waiting.
func (o *Outbox) Drain() Batch {
	var b Batch
	for {
		select {
		case c := <-o.candles:
			b.Candles = append(b.Candles, c)
		case a := <-o.alerts:
			b.Alerts = append(b.Alerts, a)
		case l := <-o.liquidations:
			b.Liquidations = append(b.Liquidations, l)
		default:
			return b
		}
	}
}
