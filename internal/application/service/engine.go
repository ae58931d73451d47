package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"orderflow/internal/concurrency/worker"
	"orderflow/internal/core/baseline"
	"orderflow/internal/core/footprint"
	"orderflow/internal/core/imbalance"
	"orderflow/internal/core/liquidation"
	"orderflow/internal/core/orderbook"
	"orderflow/internal/core/timeframe"
	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
	"orderflow/internal/infrastructure/metrics"
)

type EngineConfig struct {
	Shards      int
	ShardBuffer int

	BaseTimeframe     time.Duration
	Timeframes        []model.Timeframe
	HistoryCapacity   int
	DefaultPriceScale float64
	PriceScales       map[string]float64
	// SealDelay keeps an idle candle open a little past its end so slightly
	// delayed trades still land in it.
	SealDelay      time.Duration
	CandleThrottle time.Duration

	DepthLevels      int
	DepthInterval    time.Duration
	MaxPendingDeltas int

	ImbalanceWindow  time.Duration
	ImbalanceBucket  time.Duration
	ImbalanceHistory int

	CascadeWindow    time.Duration
	CascadeBucket    time.Duration
	CascadeThreshold int64

	TickInterval time.Duration
	Resync       ResyncConfig
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.ShardBuffer <= 0 {
		c.ShardBuffer = 4096
	}
	if c.BaseTimeframe <= 0 {
		c.BaseTimeframe = time.Minute
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []model.Timeframe{model.Timeframe(c.BaseTimeframe)}
	}
	if c.DefaultPriceScale <= 0 {
		c.DefaultPriceScale = 1
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = 20
	}
	if c.DepthInterval <= 0 {
		c.DepthInterval = 250 * time.Millisecond
	}
	if c.ImbalanceWindow <= 0 {
		c.ImbalanceWindow = time.Minute
	}
	if c.ImbalanceBucket <= 0 {
		c.ImbalanceBucket = time.Second
	}
	if c.ImbalanceHistory <= 0 {
		c.ImbalanceHistory = imbalance.DefaultHistory
	}
	if c.CascadeWindow <= 0 {
		c.CascadeWindow = 10 * time.Second
	}
	if c.CascadeBucket <= 0 {
		c.CascadeBucket = time.Second
	}
	if c.CascadeThreshold <= 0 {
		c.CascadeThreshold = 5
	}
	return c
}

func (c EngineConfig) scaleFor(symbol string) float64 {
	if s, ok := c.PriceScales[symbol]; ok && s > 0 {
		return s
	}
	return c.DefaultPriceScale
}

// symbolState is owned by exactly one shard goroutine.
type symbolState struct {
	symbol  string
	book    *orderbook.Store
	agg     *footprint.Aggregator
	imb     *imbalance.Tracker
	cascade *liquidation.Cascade

	depthSeen     bool
	lastDepth     time.Time
	depthDirty    bool
	lastCandle    time.Time
	baselineStale bool
}

// Engine is the ingestion core: it shards messages by symbol, keeps every
// symbol's book, footprint, imbalance and cascade state on its shard, and
// publishes immutable copies for readers.
type Engine struct {
	cfg        EngineConfig
	logger     *slog.Logger
	pool       *worker.Pool
	states     []map[string]*symbolState
	timeframes *timeframe.Manager
	baselines  *baseline.Engine
	resync     *Resyncer
	hubs       *Hubs
	outbox     *Outbox
	now        func() time.Time

	books      sync.Map // symbol -> model.BookSnapshot
	opens      sync.Map // symbol -> model.FootprintCandle
	statuses   sync.Map // symbol -> model.SymbolStatus
	imbalances sync.Map // symbol -> model.ImbalanceSample
	histories  sync.Map // symbol -> *imbalance.History
	scales     sync.Map // symbol -> float64, set at runtime
}

func NewEngine(cfg EngineConfig, baselines *baseline.Engine, snapshots port.DepthSnapshotPort, outbox *Outbox, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	for _, tf := range cfg.Timeframes {
		if tf <= 0 || tf.Duration()%cfg.BaseTimeframe != 0 {
			return nil, fmt.Errorf("%w: %s is not a multiple of base %s", model.ErrInvalidTimeframe, tf, model.Timeframe(cfg.BaseTimeframe))
		}
	}
	tfm, err := timeframe.NewManager(cfg.BaseTimeframe, cfg.HistoryCapacity)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		states:     make([]map[string]*symbolState, cfg.Shards),
		timeframes: tfm,
		baselines:  baselines,
		hubs:       NewHubs(),
		outbox:     outbox,
		now:        time.Now,
	}
	for i := range e.states {
		e.states[i] = make(map[string]*symbolState)
	}
	e.pool = worker.NewPool(cfg.Shards, cfg.ShardBuffer, e.handle, logger)
	if cfg.TickInterval > 0 {
		e.pool.Every(cfg.TickInterval, e.tick)
	}
	e.resync = NewResyncer(snapshots, e.pool.SubmitWait, cfg.Resync, logger)
	return e, nil
}

func (e *Engine) Start(ctx context.Context) {
	e.pool.Start(ctx)
	e.logger.Info("engine started", "shards", e.pool.Size(), "base", model.Timeframe(e.cfg.BaseTimeframe).String())
}

// Wait blocks until shards and resync fetches have returned after ctx ends.
func (e *Engine) Wait() {
	e.pool.Wait()
	e.resync.Wait()
}

// Submit enqueues msg for its shard; a full shard drops it.
func (e *Engine) Submit(msg model.Message) error {
	return e.pool.Submit(msg)
}

// Consume feeds every message from in into the shards until in closes.
func (e *Engine) Consume(ctx context.Context, in <-chan model.Message) {
	e.pool.Consume(ctx, in)
}

func (e *Engine) Dropped() int64 { return e.pool.Dropped() }

func (e *Engine) Hubs() *Hubs { return e.hubs }

func (e *Engine) Timeframes() *timeframe.Manager { return e.timeframes }

func (e *Engine) Baselines() *baseline.Engine { return e.baselines }

func (e *Engine) BaseTimeframe() model.Timeframe { return model.Timeframe(e.cfg.BaseTimeframe) }

// Book returns the last published depth snapshot of symbol.
func (e *Engine) Book(symbol string) (model.BookSnapshot, error) {
	v, ok := e.books.Load(symbol)
	if !ok {
		return model.BookSnapshot{}, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, symbol)
	}
	return v.(model.BookSnapshot), nil
}

// OpenCandle returns a copy of the open base candle as last published.
func (e *Engine) OpenCandle(symbol string) (model.FootprintCandle, bool) {
	v, ok := e.opens.Load(symbol)
	if !ok {
		return model.FootprintCandle{}, false
	}
	return v.(model.FootprintCandle), true
}

// ImbalanceHistory returns the emitted imbalance samples of symbol.
func (e *Engine) ImbalanceHistory(symbol string) (*imbalance.History, bool) {
	v, ok := e.histories.Load(symbol)
	if !ok {
		return nil, false
	}
	return v.(*imbalance.History), true
}

// PriceScale is the scale new candles of symbol are bucketed with.
func (e *Engine) PriceScale(symbol string) float64 {
	if v, ok := e.scales.Load(symbol); ok {
		return v.(float64)
	}
	return e.cfg.scaleFor(symbol)
}

// SetPriceScale changes the bucket size of symbol for trades that follow. It
// waits until the owning shard has applied the change. The scale must divide,
// or be divisible by, every scale still held in the symbol's history,
// otherwise coarser timeframes could not be merged; such a scale is rejected
// with ErrInvalidPriceScale and nothing changes.
func (e *Engine) SetPriceScale(ctx context.Context, symbol string, scale float64) error {
	if _, err := footprint.ParseScale(scale); err != nil {
		return err
	}
	return e.control(ctx, model.KindPriceScale, model.Control{Symbol: symbol, PriceScale: scale})
}

// WarmStart loads stored base candles of symbol into the timeframe cache and
// lets the symbol's aggregator continue after the last of them. Candles must
// be ordered by start. Call after Start and before trades of symbol flow.
func (e *Engine) WarmStart(ctx context.Context, symbol string, candles []model.FootprintCandle) (int, error) {
	var last *model.FootprintCandle
	restored := 0
	for i := range candles {
		c := candles[i]
		if c.Period != e.cfg.BaseTimeframe {
			continue
		}
		c.Sealed = true
		if err := e.timeframes.AddBase(symbol, c); err != nil {
			e.logger.Warn("engine: stored candle skipped", "symbol", symbol, "start", c.Start, "error", err)
			continue
		}
		last = &c
		restored++
	}
	if last == nil {
		return 0, nil
	}
	if err := e.control(ctx, model.KindRestore, model.Control{Symbol: symbol, Candle: *last}); err != nil {
		return restored, err
	}
	return restored, nil
}

// control runs a command on the shard owning its symbol and waits for the result.
func (e *Engine) control(ctx context.Context, kind model.MessageKind, c model.Control) error {
	done := make(chan error, 1)
	c.Reply = done
	if err := e.pool.SubmitWait(ctx, model.Message{Kind: kind, Control: c}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Imbalance(symbol string) (model.ImbalanceSample, bool) {
	v, ok := e.imbalances.Load(symbol)
	if !ok {
		return model.ImbalanceSample{}, false
	}
	return v.(model.ImbalanceSample), true
}

func (e *Engine) Status(symbol string) (model.SymbolStatus, error) {
	v, ok := e.statuses.Load(symbol)
	if !ok {
		return model.SymbolStatus{}, fmt.Errorf("%w: %s", model.ErrUnknownSymbol, symbol)
	}
	st := v.(model.SymbolStatus)
	st.BaselineStale = e.baselines.Stale(symbol, e.now())
	return st, nil
}

func (e *Engine) Statuses() []model.SymbolStatus {
	var out []model.SymbolStatus
	e.statuses.Range(func(k, _ any) bool {
		if st, err := e.Status(k.(string)); err == nil {
			out = append(out, st)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Candles returns the candles of symbol at tf including the open window.
func (e *Engine) Candles(symbol string, tf model.Timeframe) ([]model.FootprintCandle, error) {
	var open *model.FootprintCandle
	if c, ok := e.OpenCandle(symbol); ok {
		open = &c
	}
	return e.timeframes.View(symbol, tf, open)
}

func (e *Engine) handle(ctx context.Context, shard int, msg model.Message) {
	symbol := msg.Symbol()
	if symbol == "" {
		e.logger.Warn("engine: message without symbol", "kind", msg.Kind.String(), "source", msg.Source)
		return
	}
	st, err := e.state(shard, symbol)
	if err != nil {
		e.logger.Error("engine: cannot create symbol state", "symbol", symbol, "error", err)
		reply(msg.Control, err)
		return
	}

	switch msg.Kind {
	case model.KindTrade:
		t := msg.Trade
		t.Source = msg.Source
		e.onTrade(st, t)
	case model.KindDepth:
		e.onDepth(ctx, st, msg.Depth)
	case model.KindBookSnapshot:
		e.onSnapshot(ctx, st, msg.Snapshot)
	case model.KindLiquidation:
		e.onLiquidation(st, msg.Liquidation)
	case model.KindPriceScale:
		reply(msg.Control, e.onPriceScale(st, msg.Control.PriceScale))
	case model.KindRestore:
		reply(msg.Control, e.onRestore(st, msg.Control.Candle))
	default:
		e.logger.Warn("engine: unknown message kind", "kind", int(msg.Kind), "symbol", symbol)
	}
}

func (e *Engine) state(shard int, symbol string) (*symbolState, error) {
	if st, ok := e.states[shard][symbol]; ok {
		return st, nil
	}
	agg, err := footprint.NewAggregator(symbol, e.cfg.BaseTimeframe, e.PriceScale(symbol))
	if err != nil {
		return nil, err
	}
	imb, err := imbalance.NewTracker(symbol, e.cfg.ImbalanceWindow, e.cfg.ImbalanceBucket)
	if err != nil {
		return nil, err
	}
	cascade, err := liquidation.NewCascade(symbol, e.cfg.CascadeWindow, e.cfg.CascadeBucket, e.cfg.CascadeThreshold)
	if err != nil {
		return nil, err
	}
	st := &symbolState{
		symbol:  symbol,
		book:    orderbook.NewStore(symbol, e.cfg.MaxPendingDeltas),
		agg:     agg,
		imb:     imb,
		cascade: cascade,
	}
	e.states[shard][symbol] = st
	e.histories.Store(symbol, imbalance.NewHistory(e.cfg.ImbalanceHistory))
	e.publishStatus(st)
	return st, nil
}

func reply(c model.Control, err error) {
	if c.Reply != nil {
		c.Reply <- err
	}
}

func (e *Engine) onPriceScale(st *symbolState, scale float64) error {
	current := st.agg.PriceScale()
	if scale == current {
		return nil
	}

	seen := map[float64]struct{}{current: {}, scale: {}}
	if history, err := e.timeframes.Get(st.symbol, model.Timeframe(e.cfg.BaseTimeframe)); err == nil {
		for _, c := range history {
			seen[c.PriceScale] = struct{}{}
		}
	}
	if open, ok := st.agg.Open(); ok {
		seen[open.PriceScale] = struct{}{}
	}
	held := make([]model.FootprintCandle, 0, len(seen))
	for s := range seen {
		held = append(held, model.FootprintCandle{PriceScale: s})
	}
	if _, err := footprint.CoarsestScale(held); err != nil {
		return fmt.Errorf("scale %v for %s: %w", scale, st.symbol, err)
	}

	if err := st.agg.SetPriceScale(scale); err != nil {
		return err
	}
	e.scales.Store(st.symbol, scale)
	e.logger.Info("engine: price scale changed", "symbol", st.symbol, "from", current, "to", scale)
	return nil
}

func (e *Engine) onRestore(st *symbolState, last model.FootprintCandle) error {
	if err := st.agg.Restore(last); err != nil {
		return err
	}
	e.logger.Info("engine: footprint restored", "symbol", st.symbol, "last_start", last.Start, "cvd", last.CVDClose)
	return nil
}

func (e *Engine) onTrade(st *symbolState, t model.TradeEvent) {
	sealed, err := st.agg.OnTrade(t)
	switch {
	case errors.Is(err, footprint.ErrDuplicateTrade):
		e.logger.Debug("engine: duplicate trade skipped", "symbol", st.symbol, "trade_id", t.ID)
		return
	case errors.Is(err, footprint.ErrLateTrade):
		e.logger.Debug("engine: late trade skipped", "symbol", st.symbol, "trade_id", t.ID, "time", t.Time)
		return
	case err != nil:
		e.logger.Warn("engine: trade rejected", "symbol", st.symbol, "trade_id", t.ID, "error", err)
		return
	}
	if sealed != nil {
		e.onSealed(st, sealed)
	}
	e.publishOpen(st, t.Time, sealed != nil)

	sample, sampled := st.imb.OnTrade(t)
	if e.suppressed(st) {
		return
	}
	if sampled {
		e.imbalances.Store(st.symbol, *sample)
		if h, ok := e.ImbalanceHistory(st.symbol); ok {
			h.Add(*sample)
		}
		e.hubs.Imbalance.Publish(st.symbol, *sample)
	}

	alert, err := e.baselines.Evaluate(t, e.now())
	switch {
	case errors.Is(err, model.ErrStaleBaseline):
		if !st.baselineStale {
			st.baselineStale = true
			e.logger.Warn("engine: alerting suppressed, baseline stale", "symbol", st.symbol)
		}
	case err != nil:
		e.logger.Error("engine: alert evaluation failed", "symbol", st.symbol, "error", err)
	default:
		st.baselineStale = false
		if alert != nil {
			metrics.AlertsEmitted.WithLabelValues(st.symbol).Inc()
			e.hubs.Alerts.Publish(st.symbol, *alert)
			e.outbox.PutAlert(*alert)
			e.logger.Info("engine: large order", "symbol", st.symbol, "side", alert.Side.String(),
				"notional", alert.Notional, "pct_of_daily", alert.PercentageOfDaily)
		}
	}
}

func (e *Engine) onSealed(st *symbolState, c *model.FootprintCandle) {
	metrics.CandlesSealed.Inc()
	if err := e.timeframes.AddBase(st.symbol, *c); err != nil {
		e.logger.Warn("engine: base candle not cached", "symbol", st.symbol, "start", c.Start, "error", err)
		return
	}
	e.outbox.PutCandle(*c)
	e.opens.Delete(st.symbol)

	base := model.Timeframe(e.cfg.BaseTimeframe)
	e.hubs.Candles.Publish(CandleKey(st.symbol, base), model.CandleEvent{Symbol: st.symbol, Timeframe: base, Sealed: true, Candle: *c})
	for _, tf := range e.cfg.Timeframes {
		if tf == base || e.hubs.Candles.Subscribers(CandleKey(st.symbol, tf)) == 0 {
			continue
		}
		candles, err := e.timeframes.Get(st.symbol, tf)
		if err != nil || len(candles) == 0 {
			continue
		}
		last := candles[len(candles)-1]
		if last.Sealed && last.End().Equal(c.End()) {
			e.hubs.Candles.Publish(CandleKey(st.symbol, tf), model.CandleEvent{Symbol: st.symbol, Timeframe: tf, Sealed: true, Candle: last})
		}
	}
}

// publishOpen refreshes the readable copy of the open candle, at most once
// per CandleThrottle of trade time unless forced.
func (e *Engine) publishOpen(st *symbolState, at time.Time, force bool) {
	if !force && !st.lastCandle.IsZero() && at.Sub(st.lastCandle) < e.cfg.CandleThrottle {
		return
	}
	open, ok := st.agg.Open()
	if !ok {
		return
	}
	st.lastCandle = at
	e.opens.Store(st.symbol, open)

	base := model.Timeframe(e.cfg.BaseTimeframe)
	e.hubs.Candles.Publish(CandleKey(st.symbol, base), model.CandleEvent{Symbol: st.symbol, Timeframe: base, Candle: open})
	for _, tf := range e.cfg.Timeframes {
		if tf == base || e.hubs.Candles.Subscribers(CandleKey(st.symbol, tf)) == 0 {
			continue
		}
		view, err := e.timeframes.View(st.symbol, tf, &open)
		if err != nil || len(view) == 0 {
			continue
		}
		e.hubs.Candles.Publish(CandleKey(st.symbol, tf), model.CandleEvent{Symbol: st.symbol, Timeframe: tf, Candle: view[len(view)-1]})
	}
}

func (e *Engine) onDepth(ctx context.Context, st *symbolState, d model.DepthDelta) {
	now := e.now()
	if err := e.resync.LastError(st.symbol); err != nil && st.book.State() != model.StatusDegraded {
		st.book.MarkDegraded("snapshot fetch failed", now)
	}

	st.depthSeen = true
	err := st.book.ApplyDelta(d)
	var gap *model.SequenceGapError
	switch {
	case errors.As(err, &gap):
		metrics.SequenceGaps.WithLabelValues(st.symbol).Inc()
		e.logger.Warn("engine: depth sequence gap, resyncing", "symbol", st.symbol, "expected", gap.Expected, "got", gap.Got)
	case err != nil:
		e.logger.Warn("engine: depth delta rejected", "symbol", st.symbol, "error", err)
	}
	if st.book.NeedsSnapshot() {
		e.resync.Request(ctx, st.symbol)
	}

	st.depthDirty = true
	e.publishDepth(st, now, err != nil)
	e.publishStatus(st)
}

func (e *Engine) onSnapshot(ctx context.Context, st *symbolState, snap model.DepthSnapshot) {
	e.resync.Done(st.symbol)
	now := e.now()
	if err := st.book.LoadSnapshot(snap, now); err != nil {
		e.logger.Warn("engine: snapshot did not bridge buffered deltas", "symbol", st.symbol, "snapshot_id", snap.LastUpdateID, "error", err)
	}
	if st.book.NeedsSnapshot() {
		e.resync.Request(ctx, st.symbol)
	}
	st.depthDirty = true
	e.publishDepth(st, now, true)
	e.publishStatus(st)
}

func (e *Engine) onLiquidation(st *symbolState, raw model.ForceOrder) {
	ev, err := liquidation.Normalize(raw)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("liquidation").Inc()
		e.logger.Warn("engine: malformed force order", "symbol", st.symbol, "error", err)
		return
	}
	e.hubs.Liquidations.Publish(st.symbol, ev)
	e.outbox.PutLiquidation(ev)

	if sig, ok := st.cascade.Observe(ev); ok {
		e.hubs.Cascades.Publish(st.symbol, *sig)
		e.logger.Warn("engine: liquidation cascade", "symbol", st.symbol, "count", sig.Count, "notional", sig.Notional, "window", sig.Window.String())
	}
}

// tick runs on the shard goroutine: it seals idle candles, lets cascade
// windows decay and publishes pending depth.
func (e *Engine) tick(ctx context.Context, shard int, now time.Time) {
	for _, st := range e.states[shard] {
		if sealed := st.agg.Flush(now.Add(-e.cfg.SealDelay)); sealed != nil {
			e.onSealed(st, sealed)
		}
		st.cascade.Tick(now)
		if st.depthDirty {
			e.publishDepth(st, now, false)
		}
		if st.depthSeen && st.book.NeedsSnapshot() {
			e.resync.Request(ctx, st.symbol)
		}
		e.publishStatus(st)
	}
}

func (e *Engine) publishDepth(st *symbolState, now time.Time, force bool) {
	if !force && now.Sub(st.lastDepth) < e.cfg.DepthInterval {
		return
	}
	snap := st.book.Snapshot(e.cfg.DepthLevels)
	if snap.Time.IsZero() {
		snap.Time = now
	}
	e.books.Store(st.symbol, snap)
	e.hubs.Depth.Publish(st.symbol, snap)
	st.lastDepth = now
	st.depthDirty = false
}

func (e *Engine) publishStatus(st *symbolState) {
	status := st.book.Status()
	if err := e.resync.LastError(st.symbol); err != nil && status.Book != model.StatusDegraded {
		status.Book = model.StatusDegraded
		status.Reason = err.Error()
	}
	status.BaselineStale = st.baselineStale
	e.statuses.Store(st.symbol, status)
}

// suppressed is true while the symbol's book cannot be trusted; alerts and
// imbalance samples are withheld until it resyncs.
func (e *Engine) suppressed(st *symbolState) bool {
	return st.book.State() == model.StatusDegraded || e.resync.LastError(st.symbol) != nil
}
