package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/x402labs/llm-router/app"
)

func TestHealthCheck(t *testing.T) {
	deps := &app.Dependencies{Logger: zap.NewNop()}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	HealthCheck(deps)(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReadinessCheckWithoutAuditStore(t *testing.T) {
	deps := &app.Dependencies{Logger: zap.NewNop()}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	ReadinessCheck(deps)(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "disabled", resp.Checks["audit_store"])
}
