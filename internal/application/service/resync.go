package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
	"orderflow/internal/infrastructure/metrics"
)

type ResyncConfig struct {
	Limit      int
	Timeout    time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Resyncer fetches depth snapshots out of band and hands them back to the
// owning shard as messages. At most one fetch per symbol is in flight.
type Resyncer struct {
	source  port.DepthSnapshotPort
	deliver func(ctx context.Context, msg model.Message) error
	cfg     ResyncConfig
	logger  *slog.Logger

	inflight sync.Map // symbol -> struct{}
	failing  sync.Map // symbol -> error
	wg       sync.WaitGroup
}

func NewResyncer(source port.DepthSnapshotPort, deliver func(ctx context.Context, msg model.Message) error, cfg ResyncConfig, logger *slog.Logger) *Resyncer {
	if cfg.Limit <= 0 {
		cfg.Limit = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Resyncer{source: source, deliver: deliver, cfg: cfg, logger: logger}
}

// Request starts a snapshot fetch for symbol unless one is already running.
func (r *Resyncer) Request(ctx context.Context, symbol string) bool {
	if r.source == nil {
		return false
	}
	if _, loaded := r.inflight.LoadOrStore(symbol, struct{}{}); loaded {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, symbol)
	}()
	return true
}

// Done clears the in-flight mark once the shard has consumed the snapshot.
func (r *Resyncer) Done(symbol string) {
	r.inflight.Delete(symbol)
}

// LastError is the most recent fetch error of a symbol that has not
// recovered yet, nil otherwise.
func (r *Resyncer) LastError(symbol string) error {
	v, ok := r.failing.Load(symbol)
	if !ok {
		return nil
	}
	return v.(error)
}

func (r *Resyncer) Wait() {
	r.wg.Wait()
}

func (r *Resyncer) run(ctx context.Context, symbol string) {
	backoff := r.cfg.MinBackoff
	for attempt := 1; ; attempt++ {
		snap, err := r.fetch(ctx, symbol)
		if err == nil {
			r.failing.Delete(symbol)
			metrics.Resyncs.WithLabelValues("ok").Inc()
			r.logger.Info("resync: snapshot fetched", "symbol", symbol, "last_update_id", snap.LastUpdateID, "attempt", attempt)
			if err := r.deliver(ctx, model.SnapshotMessage(snap)); err != nil {
				r.inflight.Delete(symbol)
			}
			return
		}

		r.failing.Store(symbol, err)
		metrics.Resyncs.WithLabelValues("failed").Inc()
		r.logger.Warn("resync: snapshot fetch failed", "symbol", symbol, "attempt", attempt, "retry_in", backoff, "error", err)

		select {
		case <-ctx.Done():
			r.inflight.Delete(symbol)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
}

func (r *Resyncer) fetch(ctx context.Context, symbol string) (model.DepthSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	snap, err := r.source.FetchDepthSnapshot(fetchCtx, symbol, r.cfg.Limit)
	if err != nil {
		return model.DepthSnapshot{}, fmt.Errorf("fetch depth snapshot %s: %w", symbol, err)
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	return snap, nil
}
