// Package repositories declares the persistence contracts the router
// depends on. Implementations live in subpackages (postgres).
package repositories

import (
	"context"
	"time"

	"github.com/x402labs/llm-router/services/audit"
)

// DecisionRepository persists routing decisions for offline analysis.
type DecisionRepository interface {
	// Insert writes one decision record.
	Insert(ctx context.Context, rec audit.DecisionRecord) error

	// CountSince returns the number of decisions recorded after the cutoff.
	CountSince(ctx context.Context, cutoff time.Time) (int, error)

	// TierCountsSince returns decision counts per tier after the cutoff.
	TierCountsSince(ctx context.Context, cutoff time.Time) (map[string]int, error)
}
