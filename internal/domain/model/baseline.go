package model

import (
	"time"

	"github.com/google/uuid"
)

// DailyStats is what the upstream 24h statistics endpoint reports for a symbol.
type DailyStats struct {
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	Notional   float64 `json:"notional"`
	TradeCount int64   `json:"trade_count"`
}

// VolumeBaseline is the rolling daily reference used to size alerts.
type VolumeBaseline struct {
	Symbol           string    `json:"symbol"`
	Volume           float64   `json:"volume"`
	AvgDailyNotional float64   `json:"avg_daily_notional"`
	TradeCount       int64     `json:"trade_count"`
	RefreshedAt      time.Time `json:"refreshed_at"`
}

func (b VolumeBaseline) Stale(now time.Time, maxAge time.Duration) bool {
	return b.RefreshedAt.IsZero() || b.AvgDailyNotional <= 0 || now.Sub(b.RefreshedAt) > maxAge
}

// Alert flags a trade whose notional is a large share of the daily baseline.
type Alert struct {
	ID                uuid.UUID `json:"id"`
	Symbol            string    `json:"symbol"`
	Time              time.Time `json:"time"`
	TradeID           int64     `json:"trade_id"`
	Side              Side      `json:"side"`
	Price             float64   `json:"price"`
	Quantity          float64   `json:"quantity"`
	Notional          float64   `json:"notional"`
	PercentageOfDaily float64   `json:"percentage_of_daily"`
}
