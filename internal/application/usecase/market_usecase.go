package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/application/service"
	"orderflow/internal/core/footprint"
	"orderflow/internal/core/imbalance"
	"orderflow/internal/core/liquidation"
	"orderflow/internal/core/vpvr"
	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
)

// Engine is the read side of the ingestion engine.
type Engine interface {
	Candles(symbol string, tf model.Timeframe) ([]model.FootprintCandle, error)
	Book(symbol string) (model.BookSnapshot, error)
	Status(symbol string) (model.SymbolStatus, error)
	Statuses() []model.SymbolStatus
	Imbalance(symbol string) (model.ImbalanceSample, bool)
	ImbalanceHistory(symbol string) (*imbalance.History, bool)
	PriceScale(symbol string) float64
	SetPriceScale(ctx context.Context, symbol string, scale float64) error
	Hubs() *service.Hubs
}

type MarketUseCase struct {
	engine Engine
	cache  port.CachePort
	buffer int
}

func NewMarketUseCase(engine Engine, cache port.CachePort, buffer int) *MarketUseCase {
	if buffer <= 0 {
		buffer = 64
	}
	return &MarketUseCase{
		engine: engine,
		cache:  cache,
		buffer: buffer,
	}
}

// GetCandles returns the candles of symbol at tf, the open one last.
func (uc *MarketUseCase) GetCandles(symbol string, tf model.Timeframe) ([]model.FootprintCandle, error) {
	return uc.engine.Candles(symbol, tf)
}

// CandleLevels is the per-price analysis of one footprint candle.
type CandleLevels struct {
	Candle      model.FootprintCandle    `json:"candle"`
	Imbalances  []model.ImbalanceLevel   `json:"imbalances"`
	Significant []model.SignificantLevel `json:"significant"`
}

// GetLevels analyses the most recent candle of symbol at tf.
func (uc *MarketUseCase) GetLevels(symbol string, tf model.Timeframe) (*CandleLevels, error) {
	candles, err := uc.engine.Candles(symbol, tf)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", model.ErrUnknownSymbol, symbol)
	}
	last := candles[len(candles)-1]
	return &CandleLevels{
		Candle:      last,
		Imbalances:  footprint.ImbalanceLevels(&last),
		Significant: footprint.SignificantLevels(&last),
	}, nil
}

// GetDepth returns the top levels of symbol's book. A symbol this process
// has not seen yet is looked up in the cache.
func (uc *MarketUseCase) GetDepth(ctx context.Context, symbol string, levels int) (*model.BookSnapshot, error) {
	snap, err := uc.engine.Book(symbol)
	if errors.Is(err, model.ErrUnknownSymbol) && uc.cache != nil {
		cached, cerr := uc.cache.GetDepthSnapshot(ctx, symbol)
		if cerr != nil || cached == nil {
			return nil, err
		}
		snap, err = *cached, nil
	}
	if err != nil {
		return nil, err
	}
	if levels > 0 {
		if len(snap.Bids) > levels {
			snap.Bids = snap.Bids[:levels]
		}
		if len(snap.Asks) > levels {
			snap.Asks = snap.Asks[:levels]
		}
	}
	return &snap, nil
}

// GetVPVR builds the volume profile of symbol over base candles starting in
// [from, to). A zero scale uses the coarsest candle scale in range.
func (uc *MarketUseCase) GetVPVR(symbol string, base model.Timeframe, from, to time.Time, scale float64) (*model.VPVRProfile, error) {
	candles, err := uc.engine.Candles(symbol, base)
	if err != nil {
		return nil, err
	}
	inRange := make([]model.FootprintCandle, 0, len(candles))
	for _, c := range candles {
		if !from.IsZero() && c.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !c.Start.Before(to) {
			continue
		}
		inRange = append(inRange, c)
	}
	if len(inRange) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s in range", model.ErrEmptyProfile, symbol)
	}
	if scale <= 0 {
		if scale, err = footprint.CoarsestScale(inRange); err != nil {
			return nil, err
		}
	}
	profile, err := vpvr.Compute(symbol, inRange, scale)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (uc *MarketUseCase) GetStatus(symbol string) (model.SymbolStatus, error) {
	return uc.engine.Status(symbol)
}

func (uc *MarketUseCase) GetStatuses() []model.SymbolStatus {
	return uc.engine.Statuses()
}

func (uc *MarketUseCase) GetImbalance(symbol string) (model.ImbalanceSample, error) {
	s, ok := uc.engine.Imbalance(symbol)
	if !ok {
		return model.ImbalanceSample{}, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, symbol)
	}
	return s, nil
}

// GetImbalanceHistory returns up to count recent samples of symbol, newest
// first, and their average ratio. A positive window keeps only samples whose
// window ended within it before now.
func (uc *MarketUseCase) GetImbalanceHistory(symbol string, count int, window time.Duration, now time.Time) (model.ImbalanceHistory, error) {
	h, ok := uc.engine.ImbalanceHistory(symbol)
	if !ok {
		return model.ImbalanceHistory{}, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, symbol)
	}
	var since time.Time
	if window > 0 {
		since = now.Add(-window)
	}

	out := model.ImbalanceHistory{Symbol: symbol, Since: since, Samples: []model.ImbalanceSample{}}
	for _, s := range h.Recent(count) {
		if s.WindowEnd.Before(since) {
			break
		}
		out.Samples = append(out.Samples, s)
	}
	if avg, ok := h.Average(since); ok {
		out.Average = &avg
	}
	return out, nil
}

// GetLiquidationSummary aggregates the cached liquidations of symbol over the
// window ending at now.
func (uc *MarketUseCase) GetLiquidationSummary(ctx context.Context, symbol string, window time.Duration, now time.Time) (model.LiquidationSummary, error) {
	from := now.Add(-window)
	events, err := uc.GetLiquidations(ctx, symbol, from)
	if err != nil {
		return model.LiquidationSummary{}, err
	}
	return liquidation.Summarize(symbol, events, from, now), nil
}

// PriceScale is the bucket size new candles of symbol use.
type PriceScale struct {
	Symbol string  `json:"symbol"`
	Scale  float64 `json:"price_scale"`
}

func (uc *MarketUseCase) GetPriceScale(symbol string) PriceScale {
	return PriceScale{Symbol: symbol, Scale: uc.engine.PriceScale(symbol)}
}

// SetPriceScale changes the bucket size of symbol from its next candle on.
func (uc *MarketUseCase) SetPriceScale(ctx context.Context, symbol string, scale float64) (PriceScale, error) {
	if err := uc.engine.SetPriceScale(ctx, symbol, scale); err != nil {
		return PriceScale{}, err
	}
	return uc.GetPriceScale(symbol), nil
}

// GetLiquidations reads the cached liquidation log of symbol since since.
func (uc *MarketUseCase) GetLiquidations(ctx context.Context, symbol string, since time.Time) ([]model.LiquidationEvent, error) {
	if uc.cache == nil {
		return nil, nil
	}
	return uc.cache.GetLiquidations(ctx, symbol, since)
}

// SubscribeCandles returns the current candles of symbol at tf followed by a
// stream of open and sealed updates. Call cancel to unsubscribe.
func (uc *MarketUseCase) SubscribeCandles(symbol string, tf model.Timeframe) ([]model.FootprintCandle, <-chan model.CandleEvent, func(), error) {
	ch, cancel := uc.engine.Hubs().Candles.Subscribe(service.CandleKey(symbol, tf), uc.buffer)
	initial, err := uc.engine.Candles(symbol, tf)
	if err != nil && !errors.Is(err, model.ErrUnknownSymbol) {
		cancel()
		return nil, nil, nil, err
	}
	return initial, ch, cancel, nil
}

// SubscribeDepth streams throttled book snapshots of symbol.
func (uc *MarketUseCase) SubscribeDepth(symbol string) (<-chan model.BookSnapshot, func()) {
	return uc.engine.Hubs().Depth.Subscribe(symbol, uc.buffer)
}

// SubscribeAlerts streams alerts of symbol, or of every symbol when symbol is empty.
func (uc *MarketUseCase) SubscribeAlerts(symbol string) (<-chan model.Alert, func()) {
	return uc.engine.Hubs().Alerts.Subscribe(symbol, uc.buffer)
}

func (uc *MarketUseCase) SubscribeImbalance(symbol string) (<-chan model.ImbalanceSample, func()) {
	return uc.engine.Hubs().Imbalance.Subscribe(symbol, uc.buffer)
}

// SubscribeLiquidations streams liquidations of symbol, or of every symbol
// when symbol is empty.
func (uc *MarketUseCase) SubscribeLiquidations(symbol string) (<-chan model.LiquidationEvent, func()) {
	return uc.engine.Hubs().Liquidations.Subscribe(symbol, uc.buffer)
}

func (uc *MarketUseCase) SubscribeCascades(symbol string) (<-chan model.CascadeSignal, func()) {
	return uc.engine.Hubs().Cascades.Subscribe(symbol, uc.buffer)
}
