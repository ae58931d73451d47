package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"orderflow/internal/domain/model"
	"orderflow/internal/infrastructure/metrics"
)

// Handler обрабатывает одно сообщение. Все сообщения одного символа приходят
// в один и тот же шард, поэтому состояние символа никогда не делится между горутинами.
type Handler func(ctx context.Context, shard int, msg model.Message)

// TickFunc runs on the shard goroutine, so it may touch shard-owned state.
type TickFunc func(ctx context.Context, shard int, now time.Time)

// Pool routes messages to N shard goroutines by symbol hash. Each shard reads
// from its own bounded channel.
type Pool struct {
	shards  []chan model.Message
	handler Handler
	logger  *slog.Logger

	tickEvery time.Duration
	onTick    TickFunc

	dropped atomic.Int64
	wg      sync.WaitGroup
	started atomic.Bool
}

func NewPool(shards, buffer int, handler Handler, logger *slog.Logger) *Pool {
	if shards <= 0 {
		shards = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	p := &Pool{
		shards:  make([]chan model.Message, shards),
		handler: handler,
		logger:  logger,
	}
	for i := range p.shards {
		p.shards[i] = make(chan model.Message, buffer)
	}
	return p
}

func (p *Pool) Size() int { return len(p.shards) }

// Shard returns the shard index owning symbol.
func (p *Pool) Shard(symbol string) int {
	return int(xxhash.Sum64String(symbol) % uint64(len(p.shards)))
}

// Every registers fn to run on each shard every interval. Call before Start.
func (p *Pool) Every(interval time.Duration, fn TickFunc) {
	p.tickEvery = interval
	p.onTick = fn
}

// Start запускает по одной горутине на шард. Горутины завершаются по ctx.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(len(p.shards))
	for i := range p.shards {
		go func(id int) {
			defer p.wg.Done()
			p.shardLoop(ctx, id)
		}(i)
	}
}

// Wait blocks until every shard goroutine has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit enqueues msg without blocking. A full shard channel drops msg and
// returns ErrChannelFull.
func (p *Pool) Submit(msg model.Message) error {
	select {
	case p.shards[p.Shard(msg.Symbol())] <- msg:
		return nil
	default:
		p.dropped.Add(1)
		metrics.MessagesDropped.WithLabelValues(msg.Kind.String()).Inc()
		return fmt.Errorf("%w: %s %s", model.ErrChannelFull, msg.Kind, msg.Symbol())
	}
}

// SubmitWait enqueues msg, waiting for room. Used for control messages such as
// resync snapshots that must not be dropped.
func (p *Pool) SubmitWait(ctx context.Context, msg model.Message) error {
	select {
	case p.shards[p.Shard(msg.Symbol())] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume reads in until it is closed or ctx ends, submitting every message.
func (p *Pool) Consume(ctx context.Context, in <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := p.Submit(msg); err != nil {
				p.logger.Debug("worker: message dropped", "kind", msg.Kind.String(), "symbol", msg.Symbol(), "err", err)
			}
		}
	}
}

// Dropped is the number of messages dropped for backpressure since start.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pool) shardLoop(ctx context.Context, id int) {
	in := p.shards[id]

	var tick <-chan time.Time
	if p.onTick != nil && p.tickEvery > 0 {
		t := time.NewTicker(p.tickEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-in:
			p.handler(ctx, id, msg)
			metrics.MessagesProcessed.WithLabelValues(msg.Kind.String()).Inc()
		case now := <-tick:
			p.onTick(ctx, id, now)
		}
	}
}
