package handler

import (
	"log/slog"
	"net/http"

	"orderflow/internal/domain/model"
	"orderflow/internal/domain/port"
)

// StatusSource lists per-symbol health.
type StatusSource interface {
	Statuses() []model.SymbolStatus
}

type HealthHandler struct {
	storage  port.StoragePort
	cache    port.CachePort
	statuses StatusSource
	logger   *slog.Logger
}

// NewHealthHandler builds the health check. storage and cache may be nil when
// they are disabled.
func NewHealthHandler(storage port.StoragePort, cache port.CachePort, statuses StatusSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		storage:  storage,
		cache:    cache,
		statuses: statuses,
		logger:   logger,
	}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	redisStatus := "disabled"
	overallStatus := "healthy"

	if h.storage != nil {
		dbStatus = "healthy"
		if err := h.storage.Ping(r.Context()); err != nil {
			dbStatus = "unhealthy"
			overallStatus = "degraded"
			h.logger.Warn("database health check failed", "error", err)
		}
	}

	if h.cache != nil {
		redisStatus = "healthy"
		if err := h.cache.Ping(r.Context()); err != nil {
			redisStatus = "unhealthy"
			overallStatus = "degraded"
			h.logger.Warn("redis health check failed", "error", err)
		}
	}

	// деградировавшие стаканы не делают сервис нездоровым
	degraded := []string{}
	if h.statuses != nil {
		for _, st := range h.statuses.Statuses() {
			if st.Degraded() {
				degraded = append(degraded, st.Symbol)
			}
		}
	}

	response := map[string]interface{}{
		"status": overallStatus,
		"checks": map[string]string{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"degraded_symbols": degraded,
	}

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}
