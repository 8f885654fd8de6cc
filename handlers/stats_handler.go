package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/services/router"
	"github.com/x402labs/llm-router/utils"
)

// StatsHandler exposes aggregated store statistics for dashboards.
type StatsHandler struct {
	router *router.Service
	logger *zap.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(svc *router.Service, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		router: svc,
		logger: logger,
	}
}

// HandleStats handles GET /api/v1/stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.router.Stats())
}
