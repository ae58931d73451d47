package service

import (
	"context"
	"log/slog"
	"sync"

	"orderflow/internal/domain/model"
)

// ModeSwitcher restarts ingestion for a new data mode.
type ModeSwitcher interface {
	Restart(ctx context.Context, mode model.DataMode) error
}

// ModeService управляет текущим режимом (Live/Test)
type ModeService struct {
	currentMode model.DataMode
	switcher    ModeSwitcher
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewModeService(initial model.DataMode, switcher ModeSwitcher, logger *slog.Logger) *ModeService {
	return &ModeService{
		currentMode: initial,
		switcher:    switcher,
		logger:      logger,
	}
}

// SwitchMode restarts ingestion in mode. The current mode only changes when
// the restart succeeds.
func (s *ModeService) SwitchMode(ctx context.Context, mode model.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentMode == mode {
		return nil
	}
	if s.switcher != nil {
		if err := s.switcher.Restart(ctx, mode); err != nil {
			s.logger.Error("mode_service: switch failed", "from", s.currentMode.String(), "to", mode.String(), "error", err)
			return err
		}
	}

	s.logger.Info("mode_service: mode updated", "old", s.currentMode.String(), "new", mode.String())
	s.currentMode = mode
	return nil
}

func (s *ModeService) GetCurrentMode() model.DataMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMode
}

// FeedSwitcher is the ModeSwitcher used in production: it points the
// snapshot and statistics sources at the new venue, restarts the feeds and
// then reloads the baselines from that venue in the background.
type FeedSwitcher struct {
	ingest    ModeSwitcher
	sources   *Sources
	baselines *BaselineService
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewFeedSwitcher(ingest ModeSwitcher, sources *Sources, baselines *BaselineService, logger *slog.Logger) *FeedSwitcher {
	return &FeedSwitcher{ingest: ingest, sources: sources, baselines: baselines, logger: logger}
}

func (f *FeedSwitcher) Restart(ctx context.Context, mode model.DataMode) error {
	prev := f.sources.Active()
	f.sources.Use(mode)
	if err := f.ingest.Restart(ctx, mode); err != nil {
		f.sources.Use(prev)
		return err
	}
	if f.baselines != nil {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			refreshCtx := context.WithoutCancel(ctx)
			if failed := f.baselines.RefreshAll(refreshCtx, f.baselines.symbolList()); len(failed) > 0 {
				f.logger.Warn("mode_service: baselines not refreshed after switch", "mode", mode.String(), "failed", failed)
			}
		}()
	}
	return nil
}

// Wait blocks until background baseline refreshes finish.
func (f *FeedSwitcher) Wait() {
	f.wg.Wait()
}
