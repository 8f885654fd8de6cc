package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/x402labs/llm-router/middleware"
	"github.com/x402labs/llm-router/services/router"
	"github.com/x402labs/llm-router/utils"
)

// ChatCompletionRequest is the OpenAI-compatible request shape the
// router accepts. Only the fields the classifier reads are validated;
// the rest pass through untouched.
type ChatCompletionRequest struct {
	Model     string        `json:"model,omitempty"`
	Messages  []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Tools     []ToolSpec    `json:"tools,omitempty"`
	MaxTokens *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stream    bool          `json:"stream,omitempty"`
}

// ChatMessage is a single turn of the conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content" validate:"required"`
}

// ToolSpec is an opaque tool declaration. Its presence is all the
// router cares about.
type ToolSpec struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function,omitempty"`
}

// RouteHandler answers routing queries over HTTP.
type RouteHandler struct {
	router *router.Service
	logger *zap.Logger
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(svc *router.Service, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{
		router: svc,
		logger: logger,
	}
}

// HandleRoute handles POST /api/v1/route. It flattens the chat request
// into a routing request and returns the decision without calling any
// upstream model.
func (h *RouteHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		details := make(map[string]interface{})
		for field, msg := range utils.GetValidationFields(err) {
			details[field] = msg
		}
		_ = utils.WriteBadRequest(w, "Validation failed", details)
		return
	}

	prompt, systemPrompt := flattenMessages(req.Messages)

	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	decision := h.router.Route(ctx, router.Request{
		RequestID:       requestID,
		Prompt:          prompt,
		SystemPrompt:    systemPrompt,
		MaxOutputTokens: maxTokens,
		SessionID:       r.Header.Get("X-Session-ID"),
		AgenticMode:     len(req.Tools) > 0,
	})

	h.logger.Info("route served",
		zap.String("request_id", requestID),
		zap.String("tier", decision.Tier.String()),
		zap.String("model", decision.Model))

	_ = utils.WriteOK(w, decision)
}

// flattenMessages joins system messages into the system prompt and the
// remaining turns into the user prompt, preserving order.
func flattenMessages(messages []ChatMessage) (prompt, systemPrompt string) {
	var promptParts, systemParts []string
	for _, msg := range messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		promptParts = append(promptParts, msg.Content)
	}
	return strings.Join(promptParts, "\n"), strings.Join(systemParts, "\n")
}
