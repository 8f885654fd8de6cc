package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleFeedbackRecorded(t *testing.T) {
	svc := newTestRouter(t)
	h := NewFeedbackHandler(svc, zap.NewNop())

	body := `{
		"decision": {"tier":"simple","model":"gemini-2.5-flash","method":"rules","meta":{"fingerprint":"abc"}},
		"feedback": {"success":true,"latency_ms":120,"cost":0.001}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.HandleFeedback(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	stats := svc.Stats()
	record, ok := stats.Health["gemini-2.5-flash"]
	require.True(t, ok)
	assert.Equal(t, 1, record.TotalRequests)
}

func TestHandleFeedbackMissingModel(t *testing.T) {
	h := NewFeedbackHandler(newTestRouter(t), zap.NewNop())

	body := `{"feedback":{"success":true}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.HandleFeedback(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleFeedbackInvalidJSON(t *testing.T) {
	h := NewFeedbackHandler(newTestRouter(t), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	h.HandleFeedback(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStats(t *testing.T) {
	h := NewStatsHandler(newTestRouter(t), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	h.HandleStats(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Sessions int `json:"sessions"`
			Cache    struct {
				Size int `json:"size"`
			} `json:"cache"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Data.Sessions)
}
