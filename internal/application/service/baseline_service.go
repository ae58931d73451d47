package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderflow/internal/core/baseline"
	"orderflow/internal/domain/port"
)

// BaselineService pulls 24h statistics on cold start and at every UTC day
// boundary. Symbols whose refresh failed are retried on a shorter interval;
// until then their old baseline ages out and alerting stays suppressed.
type BaselineService struct {
	stats   port.StatsPort
	engine  *baseline.Engine
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	symbols []string
	done    chan struct{}
	stop    sync.Once
}

func NewBaselineService(stats port.StatsPort, engine *baseline.Engine, symbols []string, timeout time.Duration, logger *slog.Logger) *BaselineService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BaselineService{
		stats:   stats,
		engine:  engine,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		symbols: append([]string{}, symbols...),
		done:    make(chan struct{}),
	}
}

// Start refreshes every symbol once, then keeps refreshing at each UTC
// midnight. Failed symbols are retried every retry interval.
func (s *BaselineService) Start(ctx context.Context, retry time.Duration) {
	if retry <= 0 {
		retry = time.Minute
	}
	s.logger.Info("baseline service starting", "retry", retry.String())
	go s.loop(ctx, retry)
}

// Stop завершает цикл обновления. Повторный вызов безопасен.
func (s *BaselineService) Stop() {
	s.stop.Do(func() { close(s.done) })
	s.logger.Info("baseline service stopped")
}

func (s *BaselineService) loop(ctx context.Context, retry time.Duration) {
	failed := s.RefreshAll(ctx, s.symbolList())

	day := time.NewTimer(NextDayBoundary(s.now()).Sub(s.now()))
	defer day.Stop()
	retryTick := time.NewTicker(retry)
	defer retryTick.Stop()

	for {
		select {
		case <-day.C:
			s.logger.Info("baseline: day rollover, refreshing")
			failed = s.RefreshAll(ctx, s.symbolList())
			day.Reset(NextDayBoundary(s.now()).Sub(s.now()))
		case <-retryTick.C:
			if len(failed) > 0 {
				failed = s.RefreshAll(ctx, failed)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RefreshAll refreshes symbols one by one and returns the ones that failed.
func (s *BaselineService) RefreshAll(ctx context.Context, symbols []string) []string {
	var failed []string
	start := time.Now()
	for _, sym := range symbols {
		if err := s.Refresh(ctx, sym); err != nil {
			s.logger.Error("baseline refresh failed", "symbol", sym, "error", err)
			failed = append(failed, sym)
		}
	}
	s.logger.Info("baseline refresh cycle completed", "symbols", len(symbols), "failed", len(failed), "duration", time.Since(start))
	return failed
}

func (s *BaselineService) Refresh(ctx context.Context, symbol string) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stats, err := s.stats.Get24hStats(reqCtx, symbol)
	if err != nil {
		return fmt.Errorf("get 24h stats: %w", err)
	}
	if stats.Symbol == "" {
		stats.Symbol = symbol
	}
	if err := s.engine.Update(baseline.FromDailyStats(stats, s.now())); err != nil {
		return err
	}
	s.logger.Debug("baseline refreshed", "symbol", symbol, "notional", stats.Notional, "trades", stats.TradeCount)
	return nil
}

func (s *BaselineService) symbolList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.symbols...)
}

// NextDayBoundary is the first UTC midnight strictly after now.
func NextDayBoundary(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
