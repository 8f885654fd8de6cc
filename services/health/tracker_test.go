package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
)

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		Enabled:              true,
		HealthyThreshold:     0.95,
		DegradedThreshold:    0.80,
		MaxConsecutiveErrors: 3,
		CooldownDuration:     5 * time.Minute,
		LatencyThresholdMs:   30000,
		RecoveryThreshold:    0.90,
		RecoveryRequests:     5,
	}
}

func newTestTracker() (*Tracker, *time.Time) {
	tr := New(testHealthConfig(), zap.NewNop())
	now := time.Now()
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestUnknownModelIsAvailable(t *testing.T) {
	tr, _ := newTestTracker()
	assert.True(t, tr.IsAvailable("never-seen"))
}

func TestSuccessKeepsModelHealthy(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 20; i++ {
		tr.RecordSuccess("m1", 200)
	}
	rec, ok := tr.Record("m1")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, rec.Status)
	assert.Equal(t, 1.0, rec.SuccessRate)
	assert.True(t, tr.IsAvailable("m1"))
}

func TestConsecutiveErrorsTriggerCooldown(t *testing.T) {
	tr, now := newTestTracker()
	for i := 0; i < 3; i++ {
		tr.RecordError("m1", models.ErrorKindServer5xx, 0)
	}
	rec, ok := tr.Record("m1")
	require.True(t, ok)
	assert.Equal(t, StatusCooldown, rec.Status)
	assert.False(t, tr.IsAvailable("m1"))

	// Expiry flips to degraded, not healthy.
	*now = now.Add(6 * time.Minute)
	assert.True(t, tr.IsAvailable("m1"))
	rec, _ = tr.Record("m1")
	assert.Equal(t, StatusDegraded, rec.Status)
}

func TestSuccessResetsConsecutiveErrors(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordError("m1", models.ErrorKindTimeout, 0)
	tr.RecordError("m1", models.ErrorKindTimeout, 0)
	tr.RecordSuccess("m1", 100)
	tr.RecordError("m1", models.ErrorKindTimeout, 0)

	rec, _ := tr.Record("m1")
	assert.Equal(t, 1, rec.ConsecutiveErrors)
	assert.NotEqual(t, StatusCooldown, rec.Status)
}

func TestBlamelessErrorsDoNotCooldown(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess("m1", 100)
	for i := 0; i < 10; i++ {
		tr.RecordError("m1", models.ErrorKindAuth, 0)
	}
	rec, _ := tr.Record("m1")
	assert.Equal(t, StatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveErrors)
	assert.Equal(t, 10, rec.ErrorTypes[models.ErrorKindAuth])
	assert.Equal(t, 1, rec.TotalRequests)
}

func TestLowSuccessRateGoesUnhealthyThenCooldown(t *testing.T) {
	tr, _ := newTestTracker()
	// 9 requests, mostly failures but never 3 in a row: unhealthy.
	for i := 0; i < 3; i++ {
		tr.RecordError("m1", models.ErrorKindServer5xx, 0)
		tr.RecordError("m1", models.ErrorKindServer5xx, 0)
		tr.RecordSuccess("m1", 100)
	}
	rec, _ := tr.Record("m1")
	assert.Equal(t, StatusUnhealthy, rec.Status)
	assert.False(t, tr.IsAvailable("m1"))

	// Crossing 10 total requests promotes unhealthy to cooldown.
	tr.RecordError("m1", models.ErrorKindServer5xx, 0)
	rec, _ = tr.Record("m1")
	assert.Equal(t, StatusCooldown, rec.Status)
	assert.Equal(t, "sustained low success rate", rec.CooldownReason)
}

func TestHighLatencyDegrades(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 20; i++ {
		tr.RecordSuccess("m1", 45000)
	}
	rec, _ := tr.Record("m1")
	assert.Equal(t, StatusDegraded, rec.Status)
	assert.Greater(t, rec.P95LatencyMs, 30000.0)
	assert.True(t, tr.IsAvailable("m1"), "degraded models remain selectable")
}

func TestLatencyEMAAndP95(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess("m1", 100)
	tr.RecordSuccess("m1", 200)

	rec, _ := tr.Record("m1")
	// First sample seeds the EMA: 0.7*100 + 0.3*200.
	assert.InDelta(t, 130, rec.AvgLatencyMs, 1e-9)
	assert.Equal(t, 200.0, rec.P95LatencyMs)
}

func TestCooldownEarlyExitOnSustainedSuccess(t *testing.T) {
	tr, now := newTestTracker()
	for i := 0; i < 3; i++ {
		tr.RecordError("m1", models.ErrorKindServer5xx, 0)
	}
	rec, _ := tr.Record("m1")
	require.Equal(t, StatusCooldown, rec.Status)

	// Traffic still lands on the model (e.g. via a pinned session); five
	// straight successes earn an early exit.
	*now = now.Add(time.Minute)
	for i := 0; i < 5; i++ {
		tr.RecordSuccess("m1", 100)
	}
	rec, _ = tr.Record("m1")
	assert.Equal(t, StatusDegraded, rec.Status)
	assert.True(t, rec.CooldownUntil.IsZero())
}

func TestBestModelPrefersHealthy(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 20; i++ {
		tr.RecordSuccess("good", 200)
	}
	for i := 0; i < 3; i++ {
		tr.RecordError("bad", models.ErrorKindServer5xx, 0)
	}

	best, ok := tr.BestModel([]string{"bad", "good"})
	require.True(t, ok)
	assert.Equal(t, "good", best)
}

func TestBestModelSuccessRateBand(t *testing.T) {
	tr, _ := newTestTracker()
	// a: 100% success at 500ms. b: 96% success at 100ms. Both healthy and
	// the rates differ by less than the band, so latency decides.
	for i := 0; i < 100; i++ {
		tr.RecordSuccess("a", 500)
	}
	for i := 0; i < 96; i++ {
		tr.RecordSuccess("b", 100)
		if i%30 == 29 {
			tr.RecordError("b", models.ErrorKindServer5xx, 0)
		}
	}
	tr.RecordError("b", models.ErrorKindServer5xx, 0)

	best, ok := tr.BestModel([]string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, "b", best)
}

func TestBestModelKeepsCandidateOrderForUnknowns(t *testing.T) {
	tr, _ := newTestTracker()
	best, ok := tr.BestModel([]string{"primary", "fallback"})
	require.True(t, ok)
	assert.Equal(t, "primary", best)
}

func TestBestModelAllUnavailable(t *testing.T) {
	tr, _ := newTestTracker()
	for i := 0; i < 3; i++ {
		tr.RecordError("only", models.ErrorKindServer5xx, 0)
	}
	_, ok := tr.BestModel([]string{"only"})
	assert.False(t, ok)
}

func TestResetDropsRecords(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess("m1", 100)
	tr.Reset()
	_, ok := tr.Record("m1")
	assert.False(t, ok)
	assert.Empty(t, tr.Snapshot())
}
