// Package audit defines the decision sink the orchestrator emits routing
// decisions to. The core treats persistence as an external collaborator:
// the router only sees this interface, and the default is a no-op.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/x402labs/llm-router/models"
)

// DecisionRecord is one routing decision flattened for persistence.
type DecisionRecord struct {
	ID              uuid.UUID
	RequestID       string
	SessionID       string
	Fingerprint     string
	Tier            models.Tier
	Model           string
	Confidence      float64
	Method          string
	Reasoning       string
	EstimatedTokens int
	CacheHit        bool
	HealthOverride  bool
	CreatedAt       time.Time
}

// NewRecord flattens a routing decision into a persistable record.
func NewRecord(requestID string, d models.RoutingDecision) DecisionRecord {
	return DecisionRecord{
		ID:              uuid.New(),
		RequestID:       requestID,
		SessionID:       d.Meta.SessionID,
		Fingerprint:     d.Meta.Fingerprint,
		Tier:            d.Tier,
		Model:           d.Model,
		Confidence:      d.Confidence,
		Method:          d.Method,
		Reasoning:       d.Reasoning,
		EstimatedTokens: d.Meta.EstimatedTokens,
		CacheHit:        d.Meta.CacheHit,
		HealthOverride:  d.Meta.HealthOverride,
		CreatedAt:       time.Now().UTC(),
	}
}

// DecisionSink receives routing decisions for offline analysis.
type DecisionSink interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordDecision(context.Context, DecisionRecord) error { return nil }
