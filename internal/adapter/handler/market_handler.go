package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderflow/internal/application/usecase"
	"orderflow/internal/core/vpvr"
	"orderflow/internal/domain/model"
)

type MarketHandler struct {
	useCase *usecase.MarketUseCase
	base    model.Timeframe
	logger  *slog.Logger
}

func NewMarketHandler(useCase *usecase.MarketUseCase, base model.Timeframe, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		useCase: useCase,
		base:    base,
		logger:  logger,
	}
}

// GetCandles serves GET /candles/{symbol}?tf=5m&limit=100.
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	tf, err := h.timeframe(r)
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}

	candles, err := h.useCase.GetCandles(symbol, tf)
	if err != nil {
		h.fail(w, err, "symbol", symbol, "tf", tf.String())
		return
	}

	if limit := queryInt(r, "limit", 0); limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	writeJSON(w, http.StatusOK, candles)
}

// GetLevels serves GET /levels/{symbol}?tf=: imbalance and significant
// levels of the latest candle.
func (h *MarketHandler) GetLevels(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	tf, err := h.timeframe(r)
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}

	levels, err := h.useCase.GetLevels(symbol, tf)
	if err != nil {
		h.fail(w, err, "symbol", symbol, "tf", tf.String())
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

func (h *MarketHandler) GetDepth(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	snap, err := h.useCase.GetDepth(r.Context(), symbol, queryInt(r, "levels", 0))
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetVPVR serves GET /vpvr/{symbol}?from=&to=&scale=. Bounds are RFC3339 or
// unix milliseconds; an empty scale picks the coarsest candle scale.
func (h *MarketHandler) GetVPVR(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		http.Error(w, "from must be before to", http.StatusBadRequest)
		return
	}

	var scale float64
	if s := q.Get("scale"); s != "" {
		if scale, err = vpvr.ParseScaleText(s); err != nil {
			h.fail(w, err, "symbol", symbol)
			return
		}
	}

	profile, err := h.useCase.GetVPVR(symbol, h.base, from, to, scale)
	if err != nil {
		h.fail(w, err, "symbol", symbol, "from", from, "to", to)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *MarketHandler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.useCase.GetStatuses()
	if statuses == nil {
		statuses = []model.SymbolStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *MarketHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	status, err := h.useCase.GetStatus(symbol)
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *MarketHandler) GetImbalance(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	sample, err := h.useCase.GetImbalance(symbol)
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// GetLiquidations serves GET /liquidations/{symbol}?since=, last hour by default.
func (h *MarketHandler) GetLiquidations(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, "invalid since: "+err.Error(), http.StatusBadRequest)
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-time.Hour)
	}

	events, err := h.useCase.GetLiquidations(r.Context(), symbol, since)
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}
	if events == nil {
		events = []model.LiquidationEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetImbalanceHistory serves GET /imbalance/{symbol}/history?count=&minutes=.
// Without minutes every retained sample counts towards the average.
func (h *MarketHandler) GetImbalanceHistory(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	minutes := queryInt(r, "minutes", 0)
	if minutes < 0 {
		http.Error(w, "invalid minutes", http.StatusBadRequest)
		return
	}

	history, err := h.useCase.GetImbalanceHistory(symbol, queryInt(r, "count", 100), time.Duration(minutes)*time.Minute, time.Now())
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetLiquidationSummary serves GET /liquidations/{symbol}/summary?minutes=60.
func (h *MarketHandler) GetLiquidationSummary(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	minutes := queryInt(r, "minutes", 60)
	if minutes <= 0 {
		http.Error(w, "invalid minutes", http.StatusBadRequest)
		return
	}

	summary, err := h.useCase.GetLiquidationSummary(r.Context(), symbol, time.Duration(minutes)*time.Minute, time.Now())
	if err != nil {
		h.fail(w, err, "symbol", symbol, "minutes", minutes)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *MarketHandler) GetPriceScale(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.useCase.GetPriceScale(pathSymbol(r)))
}

// SetPriceScale serves POST /scale/{symbol}?scale=0.5. The new bucket size
// applies from the symbol's next candle.
func (h *MarketHandler) SetPriceScale(w http.ResponseWriter, r *http.Request) {
	symbol := pathSymbol(r)
	raw := r.URL.Query().Get("scale")
	if raw == "" {
		http.Error(w, "scale is required", http.StatusBadRequest)
		return
	}
	scale, err := vpvr.ParseScaleText(raw)
	if err != nil {
		h.fail(w, err, "symbol", symbol)
		return
	}

	updated, err := h.useCase.SetPriceScale(r.Context(), symbol, scale)
	if err != nil {
		h.fail(w, err, "symbol", symbol, "scale", scale)
		return
	}
	h.logger.Info("price scale updated", "symbol", symbol, "scale", updated.Scale)
	writeJSON(w, http.StatusOK, updated)
}

func (h *MarketHandler) timeframe(r *http.Request) (model.Timeframe, error) {
	raw := r.URL.Query().Get("tf")
	if raw == "" {
		return h.base, nil
	}
	return model.ParseTimeframe(raw)
}

// fail maps domain errors onto status codes.
func (h *MarketHandler) fail(w http.ResponseWriter, err error, attrs ...any) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", append(attrs, "error", err)...)
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownSymbol), errors.Is(err, model.ErrEmptyProfile):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTimeframe), errors.Is(err, model.ErrInvalidPriceScale):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathSymbol(r *http.Request) string {
	return strings.ToUpper(r.PathValue("symbol"))
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

// parseTime accepts RFC3339 or unix milliseconds. Empty input is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
