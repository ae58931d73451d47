package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"orderflow/internal/domain/model"
)

type MockStats struct {
	mock.Mock
}

func (m *MockStats) Get24hStats(ctx context.Context, symbol string) (model.DailyStats, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(model.DailyStats), args.Error(1)
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveCandles(ctx context.Context, candles []model.FootprintCandle) error {
	return m.Called(ctx, candles).Error(0)
}

func (m *MockStorage) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	return m.Called(ctx, alerts).Error(0)
}

func (m *MockStorage) SaveLiquidations(ctx context.Context, events []model.LiquidationEvent) error {
	return m.Called(ctx, events).Error(0)
}

func (m *MockStorage) LoadCandles(ctx context.Context, symbol string, since time.Time) ([]model.FootprintCandle, error) {
	args := m.Called(ctx, symbol, since)
	return args.Get(0).([]model.FootprintCandle), args.Error(1)
}

func (m *MockStorage) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockStorage) Close() error { return m.Called().Error(0) }

type MockCache struct {
	mock.Mock
}

func (m *MockCache) SetDepthSnapshot(ctx context.Context, snap model.BookSnapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func (m *MockCache) GetDepthSnapshot(ctx context.Context, symbol string) (*model.BookSnapshot, error) {
	args := m.Called(ctx, symbol)
	snap, _ := args.Get(0).(*model.BookSnapshot)
	return snap, args.Error(1)
}

func (m *MockCache) SetImbalance(ctx context.Context, sample model.ImbalanceSample) error {
	return m.Called(ctx, sample).Error(0)
}

func (m *MockCache) SetStatus(ctx context.Context, status model.SymbolStatus) error {
	return m.Called(ctx, status).Error(0)
}

func (m *MockCache) AddLiquidation(ctx context.Context, event model.LiquidationEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockCache) GetLiquidations(ctx context.Context, symbol string, since time.Time) ([]model.LiquidationEvent, error) {
	args := m.Called(ctx, symbol, since)
	return args.Get(0).([]model.LiquidationEvent), args.Error(1)
}

func (m *MockCache) DeleteOldLiquidations(ctx context.Context, before time.Time) error {
	return m.Called(ctx, before).Error(0)
}

func (m *MockCache) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockCache) Close() error { return m.Called().Error(0) }

// stubViews is a fixed ViewSource.
type stubViews struct {
	statuses  []model.SymbolStatus
	books     map[string]model.BookSnapshot
	imbalance map[string]model.ImbalanceSample
}

func (v stubViews) Statuses() []model.SymbolStatus { return v.statuses }

func (v stubViews) Book(symbol string) (model.BookSnapshot, error) {
	b, ok := v.books[symbol]
	if !ok {
		return model.BookSnapshot{}, model.ErrUnknownSymbol
	}
	return b, nil
}

func (v stubViews) Imbalance(symbol string) (model.ImbalanceSample, bool) {
	s, ok := v.imbalance[symbol]
	return s, ok
}

// fakeFeed replays a script of message batches; each ReadEvents call serves
// the next batch and then ends the stream.
type fakeFeed struct {
	name string

	mu         sync.Mutex
	batches    [][]model.Message
	connects   int
	subscribed []string
	closed     bool
	failFirst  int
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failFirst > 0 {
		f.failFirst--
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append([]string{}, symbols...)
	return nil
}

func (f *fakeFeed) ReadEvents(ctx context.Context) (<-chan model.Message, <-chan error) {
	f.mu.Lock()
	var batch []model.Message
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	out := make(chan model.Message)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if batch == nil {
			<-ctx.Done()
			return
		}
		for _, m := range batch {
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
		errs <- io.EOF
	}()
	return out, errs
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFeed) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeFeed) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}
