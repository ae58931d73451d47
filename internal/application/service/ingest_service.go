package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderflow/internal/concurrency/fanin"
	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
)

// FeedFactory builds the feeds for a data mode.
type FeedFactory func(mode model.DataMode) []port.FeedPort

// Sink consumes the merged message stream until it closes.
type Sink func(ctx context.Context, in <-chan model.Message)

// IngestService connects the feeds of the current mode, keeps them connected
// and merges their messages into the sink.
type IngestService struct {
	factory    FeedFactory
	sink       Sink
	symbols    []string
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	feeds  []port.FeedPort
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestService(factory FeedFactory, sink Sink, symbols []string, logger *slog.Logger) *IngestService {
	return &IngestService{
		factory:    factory,
		sink:       sink,
		symbols:    append([]string{}, symbols...),
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Start connects every feed of mode. At least one feed must connect.
func (s *IngestService) Start(ctx context.Context, mode model.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, mode)
}

// Restart stops the running feeds and starts the feeds of mode.
func (s *IngestService) Restart(ctx context.Context, mode model.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return s.startLocked(context.WithoutCancel(ctx), mode)
}

func (s *IngestService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *IngestService) startLocked(parent context.Context, mode model.DataMode) error {
	ctx, cancel := context.WithCancel(parent)

	var streams []<-chan model.Message
	var feeds []port.FeedPort
	for _, feed := range s.factory(mode) {
		if err := s.connect(ctx, feed); err != nil {
			s.logger.Error("failed to connect", "feed", feed.Name(), "error", err)
			continue
		}
		out := make(chan model.Message, 256)
		streams = append(streams, out)
		feeds = append(feeds, feed)

		s.wg.Add(1)
		go func(feed port.FeedPort) {
			defer s.wg.Done()
			s.pump(ctx, feed, out)
		}(feed)
	}
	if len(feeds) == 0 {
		cancel()
		return fmt.Errorf("no feeds connected for mode %s", mode)
	}

	s.feeds = feeds
	s.cancel = cancel

	merged := fanin.FanIn(ctx, streams...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sink(ctx, merged)
	}()

	s.logger.Info("ingestion started", "mode", mode.String(), "feeds", len(feeds), "symbols", len(s.symbols))
	return nil
}

func (s *IngestService) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for _, feed := range s.feeds {
		if err := feed.Close(); err != nil {
			s.logger.Error("failed to close feed", "feed", feed.Name(), "error", err)
		}
	}
	s.feeds = nil
	s.wg.Wait()
}

func (s *IngestService) connect(ctx context.Context, feed port.FeedPort) error {
	if err := feed.Connect(ctx); err != nil {
		return err
	}
	return feed.Subscribe(s.symbols)
}

// pump forwards one feed into out, reconnecting with exponential backoff
// whenever the feed's stream ends.
func (s *IngestService) pump(ctx context.Context, feed port.FeedPort, out chan<- model.Message) {
	defer close(out)
	for {
		msgs, errs := feed.ReadEvents(ctx)
		for msg := range msgs {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
		select {
		case err, ok := <-errs:
			if ok && err != nil {
				s.logger.Error("feed error", "feed", feed.Name(), "error", err)
			}
		default:
		}
		if ctx.Err() != nil {
			return
		}
		if !s.reconnect(ctx, feed) {
			return
		}
	}
}

func (s *IngestService) reconnect(ctx context.Context, feed port.FeedPort) bool {
	backoff := s.minBackoff
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
			s.logger.Info("attempting to reconnect", "feed", feed.Name())
			if err := s.connect(ctx, feed); err == nil {
				s.logger.Info("reconnected successfully", "feed", feed.Name())
				return true
			} else {
				s.logger.Warn("reconnect failed", "feed", feed.Name(), "retry_in", backoff*2, "error", err)
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}
	}
}
