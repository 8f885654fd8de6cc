package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
	"github.com/x402labs/llm-router/services/router"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Scoring:      config.DefaultScoring(),
		Overrides:    config.DefaultOverrides(),
		Tiers:        config.DefaultTiers(),
		AgenticTiers: config.DefaultAgenticTiers(),
		Cache: config.CacheConfig{
			Enabled:         true,
			MaxSize:         100,
			TTL:             time.Hour,
			FuzzyWidth:      0.05,
			JitterThreshold: 3,
		},
		Adaptive: config.AdaptiveConfig{
			Enabled:            true,
			AdjustmentInterval: 10,
			MinAdjustment:      0.8,
			MaxAdjustment:      1.2,
			MinRequests:        5,
			Smoothing:          0.7,
			LatencyWeight:      0.3,
			CostWeight:         0.3,
			SuccessWeight:      0.4,
		},
		Health: config.HealthConfig{
			Enabled:              true,
			HealthyThreshold:     0.95,
			DegradedThreshold:    0.80,
			MaxConsecutiveErrors: 3,
			CooldownDuration:     5 * time.Minute,
			LatencyThresholdMs:   30000,
			RecoveryThreshold:    0.90,
			RecoveryRequests:     5,
		},
		Session: config.SessionConfig{
			Timeout:              30 * time.Minute,
			DegradationThreshold: 2,
			RecoveryThreshold:    3,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("initializes without audit database", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.Logger)
		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Decisions)

		assert.NotNil(t, deps.Classifier)
		assert.NotNil(t, deps.Cache)
		assert.NotNil(t, deps.Adaptive)
		assert.NotNil(t, deps.Health)
		assert.NotNil(t, deps.Sessions)
		assert.NotNil(t, deps.Router)

		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.RateLimiter)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("rejects invalid scoring config", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Scoring.ConfidenceThreshold = 2

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
	})

	t.Run("rejects incomplete tier table", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		delete(cfg.Tiers, models.TierReasoning)

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
	})
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, deps.Close(ctx))
	// Second close must not panic.
	assert.NoError(t, deps.Close(ctx))
}

func TestDependenciesRouterServesRequests(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = deps.Close(ctx) }()

	d := deps.Router.Route(ctx, router.Request{Prompt: "What is 2+2?"})
	assert.Equal(t, models.TierSimple, d.Tier)
	assert.NotEmpty(t, d.Model)
}
