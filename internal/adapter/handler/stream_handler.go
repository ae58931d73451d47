package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/internal/application/usecase"
	"orderflow/internal/domain/model"
	"orderflow/internal/infrastructure/metrics"
)

const (
	TopicCandles      = "candles"
	TopicDepth        = "depth"
	TopicAlerts       = "alerts"
	TopicImbalance    = "imbalance"
	TopicLiquidations = "liquidations"
	TopicCascades     = "cascades"
)

// StreamMessage is one websocket frame. Type is "snapshot" for the initial
// candle list and "update" for everything pushed afterwards.
type StreamMessage struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Symbol string `json:"symbol,omitempty"`
	Data   any    `json:"data"`
}

type StreamOptions struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

// StreamHandler serves GET /stream?topic=&symbol=&tf= as a websocket.
type StreamHandler struct {
	useCase  *usecase.MarketUseCase
	base     model.Timeframe
	opts     StreamOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewStreamHandler(useCase *usecase.MarketUseCase, base model.Timeframe, opts StreamOptions, logger *slog.Logger) *StreamHandler {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	return &StreamHandler{
		useCase: useCase,
		base:    base,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topic := q.Get("topic")
	symbol := strings.ToUpper(q.Get("symbol"))

	tf := h.base
	switch topic {
	case TopicCandles:
		if raw := q.Get("tf"); raw != "" {
			parsed, err := model.ParseTimeframe(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			tf = parsed
		}
		fallthrough
	case TopicDepth, TopicImbalance, TopicCascades:
		if symbol == "" {
			http.Error(w, "symbol is required for topic "+topic, http.StatusBadRequest)
			return
		}
	case TopicAlerts, TopicLiquidations:
		// пустой symbol означает все символы
	default:
		http.Error(w, "unknown topic "+topic, http.StatusBadRequest)
		return
	}

	// Подписываемся до апгрейда, чтобы ошибка ушла обычным HTTP ответом.
	var initial []model.FootprintCandle
	var unsubscribe func()
	var run func(ctx context.Context, conn *websocket.Conn)
	switch topic {
	case TopicCandles:
		candles, ch, cancel, err := h.useCase.SubscribeCandles(symbol, tf)
		if err != nil {
			writeStreamError(w, err)
			return
		}
		initial, unsubscribe = candles, cancel
		run = func(ctx context.Context, conn *websocket.Conn) { stream(ctx, h, conn, topic, symbol, ch) }
	case TopicDepth:
		ch, cancel := h.useCase.SubscribeDepth(symbol)
		unsubscribe = cancel
		run = func(ctx context.Context, conn *websocket.Conn) { stream(ctx, h, conn, topic, symbol, ch) }
	case TopicAlerts:
		ch, cancel := h.useCase.SubscribeAlerts(symbol)
		unsubscribe = cancel
		run = func(ctx context.Context, conn *websocket.Conn) { stream(ctx, h, conn, topic, symbol, ch) }
	case TopicImbalance:
		ch, cancel := h.useCase.SubscribeImbalance(symbol)
		unsubscribe = cancel
		run = func(ctx context.Context, conn *websocket.Conn) { stream(ctx, h, conn, topic, symbol, ch) }
	case TopicLiquidations:
		ch, cancel := h.useCase.SubscribeLiquidations(symbol)
		unsubscribe = cancel
		run = func(ctx context.Context, conn *websocket.Conn) { stream(ctx, h, conn, topic, symbol, ch) }
	case TopicCascades:
		ch, cancel := h.useCase.SubscribeCascades(symbol)
		unsubscribe = cancel
		run = func(ctx context.Context, conn *websocket.Conn) { stream(ctx, h, conn, topic, symbol, ch) }
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream: upgrade failed", "topic", topic, "error", err)
		return
	}
	defer conn.Close()

	metrics.StreamClients.WithLabelValues(topic).Inc()
	defer metrics.StreamClients.WithLabelValues(topic).Dec()
	h.logger.Debug("stream: client subscribed", "topic", topic, "symbol", symbol, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	if topic == TopicCandles {
		if initial == nil {
			initial = []model.FootprintCandle{}
		}
		if err := h.write(conn, StreamMessage{Type: "snapshot", Topic: topic, Symbol: symbol, Data: initial}); err != nil {
			return
		}
	}
	run(ctx, conn)
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *StreamHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
	return conn.WriteJSON(msg)
}

// stream forwards events from ch until the client leaves or the hub closes.
func stream[T any](ctx context.Context, h *StreamHandler, conn *websocket.Conn, topic, symbol string, ch <-chan T) {
	ping := time.NewTicker(h.opts.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(h.opts.WriteWait))
				return
			}
			if err := h.write(conn, StreamMessage{Type: "update", Topic: topic, Symbol: symbol, Data: v}); err != nil {
				h.logger.Debug("stream: write failed", "topic", topic, "symbol", symbol, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

func writeStreamError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}
