package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/models"
	"github.com/x402labs/llm-router/services/router"
	"github.com/x402labs/llm-router/utils"
)

// FeedbackRequest reports the observed outcome of an upstream call for
// a previously returned decision.
type FeedbackRequest struct {
	Decision models.RoutingDecision `json:"decision"`
	Feedback models.RoutingFeedback `json:"feedback"`
}

// FeedbackHandler ingests routing feedback.
type FeedbackHandler struct {
	router *router.Service
	logger *zap.Logger
}

// NewFeedbackHandler creates a FeedbackHandler.
func NewFeedbackHandler(svc *router.Service, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		router: svc,
		logger: logger,
	}
}

// HandleFeedback handles POST /api/v1/feedback.
func (h *FeedbackHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	if req.Decision.Model == "" {
		_ = utils.WriteBadRequest(w, "Validation failed", map[string]interface{}{
			"decision.model": "decision.model is required",
		})
		return
	}

	h.router.RecordFeedback(req.Decision, req.Feedback)

	h.logger.Debug("feedback recorded",
		zap.String("model", req.Decision.Model),
		zap.Bool("success", req.Feedback.Success),
		zap.Int64("latency_ms", req.Feedback.LatencyMs))

	_ = utils.WriteOK(w, map[string]string{"status": "recorded"})
}
