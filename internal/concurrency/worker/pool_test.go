package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tradeMsg(symbol string, id int64) model.Message {
	return model.TradeMessage(model.TradeEvent{Symbol: symbol, ID: id, Price: 1, Quantity: 1, Side: model.Buy})
}

func TestPoolRoutesSymbolToOneShard(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]map[int]bool{}
	order := map[string][]int64{}
	var wg sync.WaitGroup

	p := NewPool(4, 64, func(_ context.Context, shard int, msg model.Message) {
		mu.Lock()
		defer mu.Unlock()
		sym := msg.Symbol()
		if seen[sym] == nil {
			seen[sym] = map[int]bool{}
		}
		seen[sym][shard] = true
		order[sym] = append(order[sym], msg.Trade.ID)
		wg.Done()
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT"}
	for i := int64(1); i <= 20; i++ {
		for _, s := range symbols {
			wg.Add(1)
			require.NoError(t, p.SubmitWait(ctx, tradeMsg(s, i)))
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, s := range symbols {
		assert.Len(t, seen[s], 1, "symbol %s handled by more than one shard", s)
		assert.True(t, seen[s][p.Shard(s)])
		require.Len(t, order[s], 20)
		for i, id := range order[s] {
			assert.Equal(t, int64(i+1), id)
		}
	}
}

func TestPoolDropsNewestWhenFull(t *testing.T) {
	p := NewPool(1, 2, func(context.Context, int, model.Message) {}, discardLogger())

	// not started: nothing drains the channel
	require.NoError(t, p.Submit(tradeMsg("BTCUSDT", 1)))
	require.NoError(t, p.Submit(tradeMsg("BTCUSDT", 2)))
	err := p.Submit(tradeMsg("BTCUSDT", 3))
	assert.ErrorIs(t, err, model.ErrChannelFull)
	assert.Equal(t, int64(1), p.Dropped())

	first := <-p.shards[0]
	second := <-p.shards[0]
	assert.Equal(t, int64(1), first.Trade.ID)
	assert.Equal(t, int64(2), second.Trade.ID)
}

func TestPoolSubmitWaitHonoursContext(t *testing.T) {
	p := NewPool(1, 1, func(context.Context, int, model.Message) {}, discardLogger())
	require.NoError(t, p.Submit(tradeMsg("BTCUSDT", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.SubmitWait(ctx, tradeMsg("BTCUSDT", 2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolConsumeStopsOnClose(t *testing.T) {
	var mu sync.Mutex
	count := 0
	p := NewPool(2, 16, func(context.Context, int, model.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	in := make(chan model.Message)
	done := make(chan struct{})
	go func() {
		p.Consume(ctx, in)
		close(done)
	}()
	for i := int64(1); i <= 5; i++ {
		in <- tradeMsg("BTCUSDT", i)
	}
	close(in)
	<-done

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	p.Wait()
}

func TestPoolTicksOnShardGoroutine(t *testing.T) {
	p := NewPool(2, 4, func(context.Context, int, model.Message) {}, discardLogger())
	var mu sync.Mutex
	ticked := map[int]int{}
	p.Every(5*time.Millisecond, func(_ context.Context, shard int, _ time.Time) {
		mu.Lock()
		ticked[shard]++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticked[0] > 0 && ticked[1] > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	p.Wait()
}
