package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
	"orderflow/internal/infrastructure/metrics"
)

// maxStreamsPerRequest keeps SUBSCRIBE frames under the exchange limit.
const maxStreamsPerRequest = 200

type BinanceOptions struct {
	// BaseURL is the websocket endpoint root, e.g. wss://fstream.binance.com.
	BaseURL      string
	Trades       bool
	Depth        bool
	DepthSpeed   string
	Liquidations bool
}

// BinanceFeed reads aggTrade, depth diff and forceOrder streams from one
// combined-stream websocket connection.
type BinanceFeed struct {
	name string
	opts BinanceOptions
	log  *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	symbols map[string]struct{}
	reqID   int64
}

func NewBinanceFeed(name string, opts BinanceOptions, log *slog.Logger) port.FeedPort {
	if opts.DepthSpeed == "" {
		opts.DepthSpeed = "100ms"
	}
	return &BinanceFeed{name: name, opts: opts, log: log}
}

func (b *BinanceFeed) Name() string {
	return b.name
}

func (b *BinanceFeed) Connect(ctx context.Context) error {
	url := strings.TrimRight(b.opts.BaseURL, "/") + "/stream"
	b.log.Info("connecting to websocket feed", "feed", b.name, "url", url)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		b.log.Error("failed to connect to websocket feed", "feed", b.name, "url", url, "error", err)
		return err
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	b.log.Info("connected to websocket feed", "feed", b.name)
	return nil
}

// Subscribe sends SUBSCRIBE requests for every configured stream of symbols.
func (b *BinanceFeed) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return errors.New("subscribe before connect")
	}

	b.symbols = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		b.symbols[strings.ToUpper(s)] = struct{}{}
	}

	streams := StreamNames(symbols, b.opts)
	for start := 0; start < len(streams); start += maxStreamsPerRequest {
		end := min(start+maxStreamsPerRequest, len(streams))
		b.reqID++
		req := map[string]any{
			"method": "SUBSCRIBE",
			"params": streams[start:end],
			"id":     b.reqID,
		}
		if err := b.conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", b.name, err)
		}
	}
	b.log.Info("subscribed", "feed", b.name, "symbols", len(symbols), "streams", len(streams))
	return nil
}

// StreamNames lists the stream names for symbols under opts.
func StreamNames(symbols []string, opts BinanceOptions) []string {
	var out []string
	for _, s := range symbols {
		s = strings.ToLower(s)
		if opts.Trades {
			out = append(out, s+"@aggTrade")
		}
		if opts.Depth {
			out = append(out, s+"@depth@"+opts.DepthSpeed)
		}
	}
	if opts.Liquidations {
		out = append(out, "!forceOrder@arr")
	}
	return out
}

func (b *BinanceFeed) ReadEvents(ctx context.Context) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message, 256)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		b.log.Error("cannot start reading, connection is nil", "feed", b.name)
		close(out)
		errCh <- errors.New("not connected")
		close(errCh)
		cancel()
		return out, errCh
	}

	// ReadMessage only returns once the connection is closed
	go func() {
		<-readCtx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(errCh)
		defer cancel()

		var frames, skipped int64
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() != nil {
					b.log.Info("read stopped by context cancellation", "feed", b.name, "frames", frames, "skipped", skipped)
					return
				}
				b.log.Error("error reading websocket feed, triggering reconnect", "feed", b.name, "error", err)
				errCh <- fmt.Errorf("read error: %w", err)
				return
			}
			frames++

			msg, err := Decode(data)
			switch {
			case errors.Is(err, ErrNotEvent):
				continue
			case err != nil:
				skipped++
				metrics.DecodeErrors.WithLabelValues(b.name).Inc()
				b.log.Warn("invalid frame", "feed", b.name, "error", err, "frame_preview", truncate(string(data), 80))
				continue
			}
			if !b.wanted(msg) {
				continue
			}
			msg.Source = b.name

			select {
			case out <- msg:
			case <-readCtx.Done():
				return
			}
		}
	}()

	return out, errCh
}

// wanted filters the all-market liquidation stream down to subscribed symbols.
func (b *BinanceFeed) wanted(msg model.Message) bool {
	if msg.Kind != model.KindLiquidation {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.symbols) == 0 {
		return true
	}
	_, ok := b.symbols[msg.Symbol()]
	return ok
}

func (b *BinanceFeed) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.log.Info("closing websocket feed", "feed", b.name)
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			b.log.Error("error closing connection", "feed", b.name, "error", err)
			return err
		}
	}
	return nil
}
