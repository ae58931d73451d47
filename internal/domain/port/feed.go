package port

import (
	"context"

	"orderflow/internal/domain/model"
)

// FeedPort is an upstream source of trades, depth deltas and forced orders.
// Events of one symbol arrive in order; trades may be redelivered.
type FeedPort interface {
	Name() string
	Connect(ctx context.Context) error
	Subscribe(symbols []string) error
	ReadEvents(ctx context.Context) (<-chan model.Message, <-chan error)
	Close() error
}

// StatsPort serves the rolling 24h statistics used as the alert baseline.
type StatsPort interface {
	Get24hStats(ctx context.Context, symbol string) (model.DailyStats, error)
}

// DepthSnapshotPort fetches a full book to bootstrap or resync a symbol.
type DepthSnapshotPort interface {
	FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (model.DepthSnapshot, error)
}
