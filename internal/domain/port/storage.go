package port

import (
	"context"
	"time"

	"orderflow/internal/domain/model"
)

// StoragePort persists sealed candles, alerts and the liquidation log.
type StoragePort interface {
	SaveCandles(ctx context.Context, candles []model.FootprintCandle) error
	SaveAlerts(ctx context.Context, alerts []model.Alert) error
	SaveLiquidations(ctx context.Context, events []model.LiquidationEvent) error
	LoadCandles(ctx context.Context, symbol string, since time.Time) ([]model.FootprintCandle, error)
	Ping(ctx context.Context) error
	Close() error
}
