package model

import (
	"sort"
	"time"
)

// PriceLevelVolume is one footprint cell.
type PriceLevelVolume struct {
	Price      float64 `json:"price"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
	TradeCount int64   `json:"trade_count"`
}

func (c PriceLevelVolume) Total() float64 {
	return c.BuyVolume + c.SellVolume
}

func (c PriceLevelVolume) Delta() float64 {
	return c.BuyVolume - c.SellVolume
}

// FootprintCandle is an OHLC candle annotated with per-price buy/sell cells.
// Cells are keyed by bucket index at PriceScale (bucket price = tick * PriceScale).
type FootprintCandle struct {
	Symbol     string                     `json:"symbol"`
	Start      time.Time                  `json:"start"`
	Period     time.Duration              `json:"period"`
	PriceScale float64                    `json:"price_scale"`
	Open       float64                    `json:"open"`
	High       float64                    `json:"high"`
	Low        float64                    `json:"low"`
	Close      float64                    `json:"close"`
	Volume     float64                    `json:"volume"`
	BuyVolume  float64                    `json:"buy_volume"`
	SellVolume float64                    `json:"sell_volume"`
	TradeCount int64                      `json:"trade_count"`
	Cells      map[int64]PriceLevelVolume `json:"cells"`
	CVDOpen    float64                    `json:"cvd_open"`
	CVDClose   float64                    `json:"cvd_close"`
	Sealed     bool                       `json:"sealed"`
}

func (c *FootprintCandle) Delta() float64 {
	return c.BuyVolume - c.SellVolume
}

func (c *FootprintCandle) End() time.Time {
	return c.Start.Add(c.Period)
}

// Clone returns a deep copy; the cell map is never shared between copies.
func (c *FootprintCandle) Clone() FootprintCandle {
	out := *c
	out.Cells = make(map[int64]PriceLevelVolume, len(c.Cells))
	for k, v := range c.Cells {
		out.Cells[k] = v
	}
	return out
}

// SortedCells returns the cells ordered by ascending price.
func (c *FootprintCandle) SortedCells() []PriceLevelVolume {
	out := make([]PriceLevelVolume, 0, len(c.Cells))
	for _, v := range c.Cells {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// CandleEvent is pushed to candle subscribers.
type CandleEvent struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Sealed    bool            `json:"sealed"`
	Candle    FootprintCandle `json:"candle"`
}
