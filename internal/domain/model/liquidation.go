package model

import (
	"time"

	"github.com/google/uuid"
)

// ForceOrder is the raw forced-order payload as the feed delivers it.
// Numeric fields stay textual until the classifier normalizes them.
type ForceOrder struct {
	Symbol    string
	Side      string
	Price     string
	AvgPrice  string
	Quantity  string
	TradeTime int64
}

// LiquidationEvent is a normalized forced order. Side is the order side:
// a SELL liquidation closes a long.
type LiquidationEvent struct {
	ID       uuid.UUID `json:"id"`
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Notional float64   `json:"notional"`
	Forced   bool      `json:"forced"`
}

// CascadeSignal fires when liquidations cluster inside a short window.
type CascadeSignal struct {
	Symbol   string        `json:"symbol"`
	Time     time.Time     `json:"time"`
	Count    int64         `json:"count"`
	Window   time.Duration `json:"window"`
	Notional float64       `json:"notional"`
}

// LiquidationSummary aggregates the liquidations of a symbol in [From, To].
// A SELL liquidation closes a long, a BUY one closes a short.
type LiquidationSummary struct {
	Symbol            string    `json:"symbol"`
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	LongLiquidations  int       `json:"long_liquidations"`
	ShortLiquidations int       `json:"short_liquidations"`
	TotalLiquidations int       `json:"total_liquidations"`
	TotalVolume       float64   `json:"total_volume"`
	TotalNotional     float64   `json:"total_notional"`
}
