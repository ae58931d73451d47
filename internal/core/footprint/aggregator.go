package footprint

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/domain/model"
)

var (
	ErrDuplicateTrade = errors.New("duplicate trade")
	ErrLateTrade      = errors.New("trade older than open candle")
	ErrCandleOpen     = errors.New("candle already open")
)

// Aggregator builds base-resolution footprint candles for one symbol.
// It is not safe for concurrent use; the owning shard is the only writer.
type Aggregator struct {
	symbol     string
	base       time.Duration
	scale      decimal.Decimal
	scaleValue float64

	open *model.FootprintCandle
	cvd  float64
	// start of the last sealed period; trades at or before it are late
	sealedStart time.Time
	// last trade id per source; ids of different feeds are unrelated
	lastIDs map[string]int64
}

func NewAggregator(symbol string, base time.Duration, scale float64) (*Aggregator, error) {
	if base <= 0 {
		return nil, fmt.Errorf("%w: base period %v", model.ErrInvalidTimeframe, base)
	}
	s, err := ParseScale(scale)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		symbol:     symbol,
		base:       base,
		scale:      s,
		scaleValue: scale,
		lastIDs:    make(map[string]int64),
	}, nil
}

func (a *Aggregator) Base() time.Duration { return a.base }

func (a *Aggregator) PriceScale() float64 { return a.scaleValue }

// CVD is the running cumulative volume delta through the last trade.
func (a *Aggregator) CVD() float64 { return a.cvd }

// SetPriceScale changes bucketing for trades that arrive afterwards. The open
// candle keeps the scale it was opened with.
func (a *Aggregator) SetPriceScale(scale float64) error {
	s, err := ParseScale(scale)
	if err != nil {
		return err
	}
	a.scale = s
	a.scaleValue = scale
	return nil
}

// OnTrade folds t into the open candle. When t belongs to a later period the
// open candle is sealed and returned.
func (a *Aggregator) OnTrade(t model.TradeEvent) (*model.FootprintCandle, error) {
	if t.Price <= 0 || t.Quantity <= 0 || (t.Side != model.Buy && t.Side != model.Sell) {
		return nil, fmt.Errorf("%w: trade %d price=%v qty=%v", model.ErrMalformedMessage, t.ID, t.Price, t.Quantity)
	}
	if t.Time.IsZero() {
		return nil, fmt.Errorf("%w: trade %d without time", model.ErrMalformedMessage, t.ID)
	}
	if last, ok := a.lastIDs[t.Source]; ok && t.ID <= last {
		return nil, ErrDuplicateTrade
	}

	start := periodStart(t.Time, a.base)
	if !a.sealedStart.IsZero() && !start.After(a.sealedStart) {
		return nil, fmt.Errorf("%w: %s already sealed", ErrLateTrade, start.Format(time.RFC3339))
	}
	var sealed *model.FootprintCandle
	if a.open != nil {
		switch {
		case start.Before(a.open.Start):
			return nil, fmt.Errorf("%w: %s < %s", ErrLateTrade, start.Format(time.RFC3339), a.open.Start.Format(time.RFC3339))
		case start.After(a.open.Start):
			sealed = a.seal()
		}
	}
	if a.open == nil {
		a.open = a.newCandle(start, t.Price)
	}

	a.add(t)
	a.lastIDs[t.Source] = t.ID
	return sealed, nil
}

// Flush seals the open candle once its period has fully elapsed at now.
func (a *Aggregator) Flush(now time.Time) *model.FootprintCandle {
	if a.open == nil || now.Before(a.open.End()) {
		return nil
	}
	return a.seal()
}

// Restore continues from a previously sealed candle, e.g. one loaded from
// storage after a restart: CVD carries on from its close and trades of its
// period or earlier are late. Only allowed while no candle is open.
func (a *Aggregator) Restore(last model.FootprintCandle) error {
	if a.open != nil {
		return fmt.Errorf("%w: %s at %s", ErrCandleOpen, a.symbol, a.open.Start.Format(time.RFC3339))
	}
	if last.Period != a.base {
		return fmt.Errorf("%w: restored period %v, base %v", model.ErrInvalidTimeframe, last.Period, a.base)
	}
	if last.Start.Before(a.sealedStart) {
		return nil
	}
	a.cvd = last.CVDClose
	a.sealedStart = last.Start
	return nil
}

// Open returns a copy of the open candle.
func (a *Aggregator) Open() (model.FootprintCandle, bool) {
	if a.open == nil {
		return model.FootprintCandle{}, false
	}
	return a.open.Clone(), true
}

func (a *Aggregator) newCandle(start time.Time, price float64) *model.FootprintCandle {
	return &model.FootprintCandle{
		Symbol:     a.symbol,
		Start:      start,
		Period:     a.base,
		PriceScale: a.scaleValue,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Cells:      make(map[int64]model.PriceLevelVolume),
		CVDOpen:    a.cvd,
		CVDClose:   a.cvd,
	}
}

func (a *Aggregator) add(t model.TradeEvent) {
	c := a.open
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Quantity
	c.TradeCount++

	scale := decimal.NewFromFloat(c.PriceScale)
	tick := Tick(t.Price, scale)
	cell, ok := c.Cells[tick]
	if !ok {
		cell.Price = TickPrice(tick, scale)
	}
	cell.TradeCount++
	if t.Side == model.Buy {
		cell.BuyVolume += t.Quantity
		c.BuyVolume += t.Quantity
		a.cvd += t.Quantity
	} else {
		cell.SellVolume += t.Quantity
		c.SellVolume += t.Quantity
		a.cvd -= t.Quantity
	}
	c.Cells[tick] = cell
	c.CVDClose = a.cvd
}

func (a *Aggregator) seal() *model.FootprintCandle {
	c := a.open
	c.CVDClose = a.cvd
	c.Sealed = true
	a.sealedStart = c.Start
	a.open = nil
	return c
}

// Rebuild recomputes base candles from raw trades at the given scale. Every
// returned candle is sealed. Duplicate and late trades are skipped the same
// way the live path skips them.
func Rebuild(symbol string, trades []model.TradeEvent, scale float64, base time.Duration) ([]model.FootprintCandle, error) {
	agg, err := NewAggregator(symbol, base, scale)
	if err != nil {
		return nil, err
	}
	var out []model.FootprintCandle
	for _, t := range trades {
		sealed, err := agg.OnTrade(t)
		switch {
		case errors.Is(err, ErrDuplicateTrade), errors.Is(err, ErrLateTrade):
			continue
		case err != nil:
			return nil, err
		}
		if sealed != nil {
			out = append(out, *sealed)
		}
	}
	if agg.open != nil {
		out = append(out, *agg.seal())
	}
	return out, nil
}

func periodStart(t time.Time, base time.Duration) time.Time {
	return model.Timeframe(base).PeriodStart(t)
}
