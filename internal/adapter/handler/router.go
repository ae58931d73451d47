package handler

import "net/http"

// Handlers groups everything the HTTP router serves. Nil handlers leave their
// routes unregistered.
type Handlers struct {
	Market  *MarketHandler
	Stream  *StreamHandler
	Mode    *ModeHandler
	Health  *HealthHandler
	Metrics http.Handler
}

func NewRouter(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	if h.Market != nil {
		mux.HandleFunc("GET /candles/{symbol}", h.Market.GetCandles)
		mux.HandleFunc("GET /levels/{symbol}", h.Market.GetLevels)
		mux.HandleFunc("GET /depth/{symbol}", h.Market.GetDepth)
		mux.HandleFunc("GET /vpvr/{symbol}", h.Market.GetVPVR)
		mux.HandleFunc("GET /status", h.Market.GetStatuses)
		mux.HandleFunc("GET /status/{symbol}", h.Market.GetStatus)
		mux.HandleFunc("GET /imbalance/{symbol}", h.Market.GetImbalance)
		mux.HandleFunc("GET /imbalance/{symbol}/history", h.Market.GetImbalanceHistory)
		mux.HandleFunc("GET /liquidations/{symbol}", h.Market.GetLiquidations)
		mux.HandleFunc("GET /liquidations/{symbol}/summary", h.Market.GetLiquidationSummary)
		mux.HandleFunc("GET /scale/{symbol}", h.Market.GetPriceScale)
		mux.HandleFunc("POST /scale/{symbol}", h.Market.SetPriceScale)
	}
	if h.Stream != nil {
		mux.HandleFunc("GET /stream", h.Stream.Serve)
	}
	if h.Mode != nil {
		mux.HandleFunc("GET /mode", h.Mode.GetMode)
		mux.HandleFunc("POST /mode/test", h.Mode.SwitchToTest)
		mux.HandleFunc("POST /mode/live", h.Mode.SwitchToLive)
	}
	if h.Health != nil {
		mux.HandleFunc("GET /health", h.Health.Check)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	return mux
}
