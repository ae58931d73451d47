package port

import (
	"context"
	"time"

	"orderflow/internal/domain/model"
)

// CachePort publishes the latest read-only views for out-of-process readers.
type CachePort interface {
	SetDepthSnapshot(ctx context.Context, snap model.BookSnapshot) error
	GetDepthSnapshot(ctx context.Context, symbol string) (*model.BookSnapshot, error)
	SetImbalance(ctx context.Context, sample model.ImbalanceSample) error
	SetStatus(ctx context.Context, status model.SymbolStatus) error
	AddLiquidation(ctx context.Context, event model.LiquidationEvent) error
	GetLiquidations(ctx context.Context, symbol string, since time.Time) ([]model.LiquidationEvent, error)
	DeleteOldLiquidations(ctx context.Context, before time.Time) error
	Ping(ctx context.Context) error
	Close() error
}
