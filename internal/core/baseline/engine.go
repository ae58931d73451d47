package baseline

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/domain/model"
)

const DefaultMaxAge = 24 * time.Hour

// Engine holds one daily baseline per symbol and sizes trades against it.
// Baselines are only installed from the external 24h source; the engine never
// derives one from the trades it sees.
type Engine struct {
	baselines sync.Map // symbol -> model.VolumeBaseline
	threshold atomic.Uint64
	maxAge    time.Duration
}

// NewEngine takes the alert threshold as a percentage of daily notional.
func NewEngine(thresholdPct float64, maxAge time.Duration) *Engine {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	e := &Engine{maxAge: maxAge}
	e.SetThreshold(thresholdPct)
	return e
}

func (e *Engine) SetThreshold(pct float64) {
	e.threshold.Store(math.Float64bits(pct))
}

func (e *Engine) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// FromDailyStats turns a 24h statistics response into a baseline.
func FromDailyStats(s model.DailyStats, at time.Time) model.VolumeBaseline {
	return model.VolumeBaseline{
		Symbol:           s.Symbol,
		Volume:           s.Volume,
		AvgDailyNotional: s.Notional,
		TradeCount:       s.TradeCount,
		RefreshedAt:      at,
	}
}

// Update replaces the baseline of b.Symbol. Non-positive notional is rejected
// so a bad response cannot replace a good baseline.
func (e *Engine) Update(b model.VolumeBaseline) error {
	if b.AvgDailyNotional <= 0 {
		return fmt.Errorf("%w: %s notional %v", model.ErrStaleBaseline, b.Symbol, b.AvgDailyNotional)
	}
	e.baselines.Store(b.Symbol, b)
	return nil
}

func (e *Engine) Baseline(symbol string) (model.VolumeBaseline, bool) {
	v, ok := e.baselines.Load(symbol)
	if !ok {
		return model.VolumeBaseline{}, false
	}
	return v.(model.VolumeBaseline), true
}

func (e *Engine) Stale(symbol string, now time.Time) bool {
	b, ok := e.Baseline(symbol)
	return !ok || b.Stale(now, e.maxAge)
}

// Percentage is notional as a percentage of the daily average.
func Percentage(notional, avgDaily float64) float64 {
	return notional / avgDaily * 100
}

// Evaluate returns an alert when the trade notional reaches the threshold
// share of the daily baseline, nil when it does not, and ErrStaleBaseline
// when the symbol has no usable baseline.
func (e *Engine) Evaluate(t model.TradeEvent, now time.Time) (*model.Alert, error) {
	b, ok := e.Baseline(t.Symbol)
	if !ok || b.Stale(now, e.maxAge) {
		return nil, fmt.Errorf("%w: %s", model.ErrStaleBaseline, t.Symbol)
	}
	notional := t.Notional()
	pct := Percentage(notional, b.AvgDailyNotional)
	if pct < e.Threshold() {
		return nil, nil
	}
	return &model.Alert{
		ID:                uuid.New(),
		Symbol:            t.Symbol,
		Time:              t.Time,
		TradeID:           t.ID,
		Side:              t.Side,
		Price:             t.Price,
		Quantity:          t.Quantity,
		Notional:          notional,
		PercentageOfDaily: pct,
	}, nil
}
