package generator

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"orderflow/internal/domain/model"
)

const bookLevels = 10

var startPrices = map[string]float64{
	"BTCUSDT": 65000,
	"ETHUSDT": 3200,
	"SOLUSDT": 150,
}

// symbolSim is a random-walk market for one symbol with a consistent book.
type symbolSim struct {
	mid      float64
	tick     float64
	tradeID  int64
	updateID int64
	bids     map[float64]float64
	asks     map[float64]float64
}

// TestGenerator produces a synthetic market: trades, sequenced depth deltas
// and occasional forced orders. It also serves 24h statistics and depth
// snapshots that agree with what it streamed, so test mode runs without any
// upstream.
type TestGenerator struct {
	name     string
	pairs    []string
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	rnd    *rand.Rand
	sims   map[string]*symbolSim
	cancel context.CancelFunc
}

func NewTestGenerator(name string, pairs []string, interval time.Duration, log *slog.Logger) *TestGenerator {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &TestGenerator{
		name:     name,
		pairs:    append([]string{}, pairs...),
		interval: interval,
		log:      log,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sims:     make(map[string]*symbolSim),
	}
}

func (t *TestGenerator) Name() string { return t.name }

func (t *TestGenerator) Connect(ctx context.Context) error {
	// nothing to do
	return nil
}

func (t *TestGenerator) Subscribe(symbols []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(symbols) > 0 {
		t.pairs = append([]string{}, symbols...)
	}
	return nil
}

func (t *TestGenerator) ReadEvents(ctx context.Context) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message, 256)
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, msg := range t.Step(now.UTC()) {
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, errCh
}

// Step advances every symbol by one tick and returns the resulting events.
func (t *TestGenerator) Step(now time.Time) []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var msgs []model.Message
	for _, pair := range t.pairs {
		sim := t.sim(pair)
		// случайное блуждание цены
		sim.mid = sim.round(sim.mid * (1 + (t.rnd.Float64()-0.5)*0.001))

		for i, n := 0, 1+t.rnd.Intn(5); i < n; i++ {
			sim.tradeID++
			side := model.Buy
			price := sim.round(sim.mid + sim.tick)
			if t.rnd.Intn(2) == 0 {
				side = model.Sell
				price = sim.round(sim.mid - sim.tick)
			}
			msgs = append(msgs, model.Message{Kind: model.KindTrade, Source: t.name, Trade: model.TradeEvent{
				Symbol:   pair,
				ID:       sim.tradeID,
				Time:     now,
				Price:    price,
				Quantity: math.Round(t.rnd.ExpFloat64()*100)/100 + 0.01,
				Side:     side,
			}})
		}

		d := sim.rebook(pair, now, t.rnd)
		d.FirstUpdateID = sim.updateID + 1
		sim.updateID += int64(1 + t.rnd.Intn(3))
		d.LastUpdateID = sim.updateID
		msgs = append(msgs, model.Message{Kind: model.KindDepth, Source: t.name, Depth: d})

		if t.rnd.Float64() < 0.02 {
			side := "SELL"
			if t.rnd.Intn(2) == 0 {
				side = "BUY"
			}
			msgs = append(msgs, model.Message{Kind: model.KindLiquidation, Source: t.name, Liquidation: model.ForceOrder{
				Symbol:    pair,
				Side:      side,
				Price:     strconv.FormatFloat(sim.mid, 'f', -1, 64),
				AvgPrice:  strconv.FormatFloat(sim.mid, 'f', -1, 64),
				Quantity:  strconv.FormatFloat(math.Round(t.rnd.Float64()*1000)/100+0.01, 'f', -1, 64),
				TradeTime: now.UnixMilli(),
			}})
		}
	}
	return msgs
}

// Get24hStats reports a baseline proportional to the current simulated price.
func (t *TestGenerator) Get24hStats(ctx context.Context, symbol string) (model.DailyStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sim := t.sim(symbol)
	return model.DailyStats{
		Symbol:     symbol,
		Volume:     20000,
		Notional:   sim.mid * 20000,
		TradeCount: 100000,
	}, nil
}

// FetchDepthSnapshot returns the simulated book as of the last streamed delta.
func (t *TestGenerator) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (model.DepthSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sim := t.sim(symbol)
	return model.DepthSnapshot{
		Symbol:       symbol,
		LastUpdateID: sim.updateID,
		Bids:         sorted(sim.bids, true, limit),
		Asks:         sorted(sim.asks, false, limit),
	}, nil
}

func (t *TestGenerator) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return nil
}

func (t *TestGenerator) sim(symbol string) *symbolSim {
	if s, ok := t.sims[symbol]; ok {
		return s
	}
	mid, ok := startPrices[symbol]
	if !ok {
		mid = 100
	}
	s := &symbolSim{
		mid:  mid,
		tick: 0.01,
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
	t.sims[symbol] = s
	return s
}

func (s *symbolSim) round(p float64) float64 {
	return math.Round(p/s.tick) * s.tick
}

// rebook moves both sides around the new mid and returns the changes as a delta.
func (s *symbolSim) rebook(symbol string, now time.Time, rnd *rand.Rand) model.DepthDelta {
	want := func(sign float64) map[float64]float64 {
		m := make(map[float64]float64, bookLevels)
		for i := 1; i <= bookLevels; i++ {
			m[s.round(s.mid+sign*float64(i)*s.tick)] = math.Round(rnd.Float64()*500)/100 + 0.01
		}
		return m
	}
	d := model.DepthDelta{Symbol: symbol, EventTime: now}
	d.Bids = diff(s.bids, want(-1))
	d.Asks = diff(s.asks, want(1))
	return d
}

// diff replaces side with next and returns the level changes.
func diff(side, next map[float64]float64) []model.PriceLevel {
	var out []model.PriceLevel
	for p := range side {
		if _, ok := next[p]; !ok {
			out = append(out, model.PriceLevel{Price: p})
			delete(side, p)
		}
	}
	for p, q := range next {
		if side[p] != q {
			out = append(out, model.PriceLevel{Price: p, Quantity: q})
			side[p] = q
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

func sorted(side map[float64]float64, desc bool, limit int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(side))
	for p, q := range side {
		out = append(out, model.PriceLevel{Price: p, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
