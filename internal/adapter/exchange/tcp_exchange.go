package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
	"orderflow/internal/infrastructure/metrics"
)

// TCPExchange reads a line-oriented replay feed: one exchange JSON frame per
// line, or a compact CSV trade line.
type TCPExchange struct {
	name    string
	host    string
	port    int
	conn    net.Conn
	log     *slog.Logger
	cancel  context.CancelFunc
	symbols map[string]struct{}
	mu      sync.RWMutex
}

func NewTCPExchange(name, host string, port int, log *slog.Logger) port.FeedPort {
	return &TCPExchange{
		name: name,
		host: host,
		port: port,
		log:  log,
	}
}

func (t *TCPExchange) Name() string {
	return t.name
}

func (t *TCPExchange) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	t.log.Info("connecting to TCP exchange", "exchange", t.name, "addr", addr)

	dialer := net.Dialer{
		Timeout: 5 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.log.Error("failed to connect to TCP exchange", "exchange", t.name, "addr", addr, "error", err)
		return err
	}

	if t.conn != nil {
		t.conn.Close()
	}

	t.conn = conn
	t.log.Info("connected to TCP exchange successfully", "exchange", t.name, "addr", addr)
	return nil
}

// Subscribe narrows the replay to symbols; an empty list passes everything.
func (t *TCPExchange) Subscribe(symbols []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbols = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		t.symbols[strings.ToUpper(s)] = struct{}{}
	}
	return nil
}

func (t *TCPExchange) wanted(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.symbols) == 0 {
		return true
	}
	_, ok := t.symbols[symbol]
	return ok
}

func (t *TCPExchange) ReadEvents(ctx context.Context) (<-chan model.Message, <-chan error) {
	out := make(chan model.Message)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	currentConn := t.conn
	t.mu.Unlock()

	if currentConn == nil {
		t.log.Error("cannot start reading, connection is nil", "exchange", t.name)
		close(out)
		close(errCh)
		cancel()
		return out, errCh
	}

	t.log.Info("starting to read events", "exchange", t.name)

	// ReadString only returns once the connection is closed
	go func() {
		<-readCtx.Done()
		currentConn.Close()
	}()

	go func() {
		defer close(out)
		defer close(errCh)

		defer func() {
			t.mu.Lock()
			if t.cancel != nil {
				t.cancel()
				t.cancel = nil
			}
			t.mu.Unlock()
			currentConn.Close()
		}()

		reader := bufio.NewReader(currentConn)
		lineCount := 0
		errorCount := 0

		for {
			select {
			case <-readCtx.Done():
				t.log.Info("read events stopped by context cancellation", "exchange", t.name, "lines_read", lineCount, "errors", errorCount)
				return
			default:
				line, err := reader.ReadString('\n')
				if err != nil {
					if readCtx.Err() != nil {
						return
					}
					t.log.Error("error reading from TCP exchange, triggering reconnect", "exchange", t.name, "error", err)
					select {
					case errCh <- fmt.Errorf("read error: %w", err):
					default:
					}
					return
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}

				msg, err := t.parseLine(line)
				if errors.Is(err, ErrNotEvent) {
					continue
				}
				if err != nil {
					t.log.Warn("invalid line", "exchange", t.name, "error", err, "line_preview", truncate(line, 50))
					metrics.DecodeErrors.WithLabelValues(t.name).Inc()
					errorCount++
					continue
				}
				if !t.wanted(msg.Symbol()) {
					continue
				}
				msg.Source = t.name

				lineCount++
				if lineCount%1000 == 0 {
					t.log.Debug("events read progress", "exchange", t.name, "count", lineCount)
				}

				select {
				case out <- msg:
				case <-readCtx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}

func (t *TCPExchange) parseLine(line string) (model.Message, error) {
	if strings.HasPrefix(line, "{") {
		return Decode([]byte(line))
	}
	trade, err := ParseCSVTrade(line)
	if err != nil {
		return model.Message{}, err
	}
	return model.TradeMessage(trade), nil
}

// ParseCSVTrade parses "symbol,id,price,qty,side[,unix_ms]". A missing time
// is the receive time.
func ParseCSVTrade(line string) (model.TradeEvent, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 && len(parts) != 6 {
		return model.TradeEvent{}, fmt.Errorf("%w: %d csv fields", model.ErrMalformedMessage, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return model.TradeEvent{}, fmt.Errorf("%w: trade id %q", model.ErrMalformedMessage, parts[1])
	}
	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || price <= 0 {
		return model.TradeEvent{}, fmt.Errorf("%w: price %q", model.ErrMalformedMessage, parts[2])
	}
	qty, err := strconv.ParseFloat(parts[3], 64)
	if err != nil || qty <= 0 {
		return model.TradeEvent{}, fmt.Errorf("%w: quantity %q", model.ErrMalformedMessage, parts[3])
	}
	var side model.Side
	if err := side.UnmarshalText([]byte(parts[4])); err != nil {
		return model.TradeEvent{}, fmt.Errorf("%w: side %q", model.ErrMalformedMessage, parts[4])
	}

	ts := time.Now().UTC()
	if len(parts) == 6 {
		ms, err := strconv.ParseInt(parts[5], 10, 64)
		if err != nil || ms <= 0 {
			return model.TradeEvent{}, fmt.Errorf("%w: time %q", model.ErrMalformedMessage, parts[5])
		}
		ts = time.UnixMilli(ms).UTC()
	}

	return model.TradeEvent{
		Symbol:   strings.ToUpper(parts[0]),
		ID:       id,
		Time:     ts,
		Price:    price,
		Quantity: qty,
		Side:     side,
	}, nil
}

func (t *TCPExchange) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Info("closing TCP exchange", "exchange", t.name)

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}

	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		if err != nil {
			t.log.Error("error closing connection", "exchange", t.name, "error", err)
			return err
		}
		t.log.Info("TCP exchange closed successfully", "exchange", t.name)
	}

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
