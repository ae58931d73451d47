package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
)

// ViewSource is the read side of the engine the persistence loop mirrors.
type ViewSource interface {
	Statuses() []model.SymbolStatus
	Book(symbol string) (model.BookSnapshot, error)
	Imbalance(symbol string) (model.ImbalanceSample, bool)
}

// PersistenceService periodically drains the outbox into storage and mirrors
// the latest per-symbol views into the cache. Either port may be nil.
type PersistenceService struct {
	outbox    *Outbox
	views     ViewSource
	cache     port.CachePort
	storage   port.StoragePort
	logger    *slog.Logger
	retention time.Duration
	maxRetry  int

	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	mu       sync.RWMutex
	pending  Batch

	reportedDrops int64
}

func NewPersistenceService(outbox *Outbox, views ViewSource, cache port.CachePort, storage port.StoragePort, retention time.Duration, logger *slog.Logger) *PersistenceService {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &PersistenceService{
		outbox:    outbox,
		views:     views,
		cache:     cache,
		storage:   storage,
		logger:    logger,
		retention: retention,
		maxRetry:  10000,
		done:      make(chan struct{}),
	}
}

// Start запускает цикл сохранения с указанным интервалом.
// Если interval <= 0, используется 1 секунда.
func (s *PersistenceService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = time.NewTicker(interval)
	finished := make(chan struct{})
	s.finished = finished
	s.mu.Unlock()

	s.logger.Info("persistence service starting", "interval", interval.String())
	go func() {
		defer close(finished)
		s.loop(ctx)
	}()
}

// Stop останавливает сервис и ждёт финального сброса, выполняемого в loop.
func (s *PersistenceService) Stop() {
	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	finished := s.finished
	s.mu.Unlock()

	if finished != nil {
		<-finished
	}
	s.logger.Info("persistence service stopped")
}

func (s *PersistenceService) loop(ctx context.Context) {
	defer func() {
		s.logger.Info("running final flush before exit")
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Flush(flushCtx)
	}()

	s.mu.RLock()
	tick := s.ticker
	s.mu.RUnlock()

	for {
		select {
		case <-tick.C:
			start := time.Now()
			if err := s.Flush(ctx); err != nil {
				s.logger.Error("flush failed", "error", err, "duration", time.Since(start))
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Flush performs one persistence pass.
func (s *PersistenceService) Flush(ctx context.Context) error {
	batch := s.takePending(s.outbox.Drain())
	s.reportDrops()
	var errs []error

	if s.storage != nil && !batch.Empty() {
		if err := s.save(ctx, batch); err != nil {
			// не теряем батч: повторим на следующем тике
			s.keepPending(batch)
			errs = append(errs, err)
		} else {
			s.logger.Debug("batch saved", "candles", len(batch.Candles), "alerts", len(batch.Alerts), "liquidations", len(batch.Liquidations))
		}
	}

	if s.cache != nil {
		errs = append(errs, s.mirror(ctx, batch.Liquidations)...)
		if err := s.cache.DeleteOldLiquidations(ctx, time.Now().Add(-s.retention)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reportDrops warns once per flush when the outbox overflowed since the last one.
func (s *PersistenceService) reportDrops() {
	total := s.outbox.Dropped()
	s.mu.Lock()
	lost := total - s.reportedDrops
	s.reportedDrops = total
	s.mu.Unlock()
	if lost > 0 {
		s.logger.Warn("outbox overflowed, records lost", "dropped", lost, "total", total)
	}
}

func (s *PersistenceService) save(ctx context.Context, b Batch) error {
	if len(b.Candles) > 0 {
		if err := s.storage.SaveCandles(ctx, b.Candles); err != nil {
			return err
		}
	}
	if len(b.Alerts) > 0 {
		if err := s.storage.SaveAlerts(ctx, b.Alerts); err != nil {
			return err
		}
	}
	if len(b.Liquidations) > 0 {
		if err := s.storage.SaveLiquidations(ctx, b.Liquidations); err != nil {
			return err
		}
	}
	return nil
}

func (s *PersistenceService) mirror(ctx context.Context, liquidations []model.LiquidationEvent) []error {
	var errs []error
	for _, st := range s.views.Statuses() {
		if err := s.cache.SetStatus(ctx, st); err != nil {
			errs = append(errs, err)
			continue
		}
		if snap, err := s.views.Book(st.Symbol); err == nil {
			if err := s.cache.SetDepthSnapshot(ctx, snap); err != nil {
				errs = append(errs, err)
			}
		}
		if sample, ok := s.views.Imbalance(st.Symbol); ok {
			if err := s.cache.SetImbalance(ctx, sample); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, ev := range liquidations {
		if err := s.cache.AddLiquidation(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *PersistenceService) takePending(fresh Batch) Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.pending
	s.pending = Batch{}
	b.Candles = append(b.Candles, fresh.Candles...)
	b.Alerts = append(b.Alerts, fresh.Alerts...)
	b.Liquidations = append(b.Liquidations, fresh.Liquidations...)
	return b
}

func (s *PersistenceService) keepPending(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = Batch{
		Candles:      tail(b.Candles, s.maxRetry),
		Alerts:       tail(b.Alerts, s.maxRetry),
		Liquidations: tail(b.Liquidations, s.maxRetry),
	}
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
