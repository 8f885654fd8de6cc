package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/repositories"
	"github.com/x402labs/llm-router/services/audit"
)

// DecisionRepository implements repositories.DecisionRepository on the
// routing_decisions table. It also satisfies audit.DecisionSink so the
// orchestrator can write to it directly.
type DecisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB, logger *zap.Logger) *DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

var _ repositories.DecisionRepository = (*DecisionRepository)(nil)
var _ audit.DecisionSink = (*DecisionRepository)(nil)

// Insert writes one decision record.
func (r *DecisionRepository) Insert(ctx context.Context, rec audit.DecisionRecord) error {
	query := `
		INSERT INTO routing_decisions (
			id, request_id, session_id, fingerprint, tier, model, confidence,
			method, reasoning, estimated_tokens, cache_hit, health_override, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.SessionID,
		rec.Fingerprint,
		rec.Tier.String(),
		rec.Model,
		rec.Confidence,
		rec.Method,
		rec.Reasoning,
		rec.EstimatedTokens,
		rec.CacheHit,
		rec.HealthOverride,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert routing decision: %w", err)
	}

	r.logger.Debug("routing decision recorded",
		zap.String("id", rec.ID.String()),
		zap.String("tier", rec.Tier.String()),
		zap.String("model", rec.Model))
	return nil
}

// RecordDecision implements audit.DecisionSink.
func (r *DecisionRepository) RecordDecision(ctx context.Context, rec audit.DecisionRecord) error {
	return r.Insert(ctx, rec)
}

// CountSince returns the number of decisions recorded after the cutoff.
func (r *DecisionRepository) CountSince(ctx context.Context, cutoff time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM routing_decisions WHERE created_at > $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count routing decisions: %w", err)
	}
	return count, nil
}

// TierCountsSince returns decision counts per tier after the cutoff.
func (r *DecisionRepository) TierCountsSince(ctx context.Context, cutoff time.Time) (map[string]int, error) {
	query := `
		SELECT tier, COUNT(*)
		FROM routing_decisions
		WHERE created_at > $1
		GROUP BY tier
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[tier] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tier counts: %w", err)
	}
	return counts, nil
}
