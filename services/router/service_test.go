package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
	"github.com/x402labs/llm-router/services/adaptive"
	"github.com/x402labs/llm-router/services/audit"
	"github.com/x402labs/llm-router/services/classifier"
	"github.com/x402labs/llm-router/services/health"
	"github.com/x402labs/llm-router/services/scorecache"
	"github.com/x402labs/llm-router/services/session"
)

func testRouterConfig() *config.Config {
	return &config.Config{
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
	}
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	logger := zap.NewNop()

	cls, err := classifier.New(cfg.Scoring, logger)
	require.NoError(t, err)
	cache := scorecache.New(cfg.Cache, logger)
	t.Cleanup(cache.Close)
	adapt := adaptive.New(cfg.Adaptive, logger)
	tracker := health.New(cfg.Health, logger)
	sessions := session.New(cfg.Session, cfg.Tiers, tracker, logger)
	t.Cleanup(sessions.Close)

	svc, err := New(cfg, cls, cache, adapt, tracker, sessions, audit.NopSink{}, logger)
	require.NoError(t, err)
	return svc
}

func TestNewRejectsEmptyTierTable(t *testing.T) {
	cfg := testRouterConfig()
	delete(cfg.Tiers, models.TierComplex)

	_, err := New(cfg, nil, nil, nil, nil, nil, nil, zap.NewNop())
	require.Error(t, err)

	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tiers.complex", verr.Field)
}

func TestRouteSimpleQuestion(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	d := svc.Route(context.Background(), Request{Prompt: "What is 2+2?"})
	assert.Equal(t, models.TierSimple, d.Tier)
	assert.Equal(t, "gemini-2.5-flash", d.Model)
	assert.GreaterOrEqual(t, d.Confidence, 0.7)
	assert.Equal(t, MethodRules, d.Method)
	assert.False(t, d.Meta.HealthOverride)
	assert.NotEmpty(t, d.Meta.Fingerprint)
}

func TestRouteMediumSummarization(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	filler := strings.Repeat("The river carried the wagons past the village while families gathered grain near the old stone bridge. ", 16)
	d := svc.Route(context.Background(), Request{Prompt: "Summarize this article: " + filler})
	assert.Equal(t, models.TierMedium, d.Tier)
	assert.Equal(t, "grok-code-fast-1", d.Model)
}

func TestRouteComplexCodeTask(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	prompt := "Build a React component that virtualizes a 10k-row table. " +
		"Requirements: 1. keyboard navigation 2. accessible labels 3. smooth scrolling. " +
		"Must render only visible rows."
	d := svc.Route(context.Background(), Request{Prompt: prompt})
	assert.Equal(t, models.TierComplex, d.Tier)
	assert.Equal(t, "gemini-2.5-pro", d.Model)
	assert.GreaterOrEqual(t, d.Confidence, 0.7)
}

func TestRouteReasoningOverride(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	d := svc.Route(context.Background(), Request{Prompt: "Prove that sqrt(2) is irrational, step by step."})
	assert.Equal(t, models.TierReasoning, d.Tier)
	assert.Equal(t, "grok-4-fast-reasoning", d.Model)
	assert.GreaterOrEqual(t, d.Confidence, 0.85)
}

func TestRouteStructuredOutputRaisesAmbiguous(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	d := svc.Route(context.Background(), Request{
		Prompt:       "hi",
		SystemPrompt: "Reply using the provided schema.",
	})
	assert.Equal(t, models.TierMedium, d.Tier)
	assert.Equal(t, "grok-code-fast-1", d.Model)
}

func TestRouteLargeContextOverride(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	// 480k chars is roughly 120k estimated tokens.
	prompt := strings.Repeat("the meeting covered the quarterly numbers and the plans for the warehouse ", 6500)
	d := svc.Route(context.Background(), Request{Prompt: prompt})
	assert.Equal(t, models.TierComplex, d.Tier)
	assert.Equal(t, 0.95, d.Confidence)
	assert.Contains(t, d.Reasoning, "Input exceeds 100000 tokens")
	assert.Greater(t, d.Meta.EstimatedTokens, 100000)
}

func TestRouteAgenticTableSelection(t *testing.T) {
	cfg := testRouterConfig()
	cfg.AgenticTiers = config.TierTable{
		models.TierSimple:    {Primary: "agentic-simple"},
		models.TierMedium:    {Primary: "agentic-medium"},
		models.TierComplex:   {Primary: "agentic-complex"},
		models.TierReasoning: {Primary: "agentic-reasoning"},
	}
	svc := newTestService(t, cfg)

	// A high agentic keyword density selects the agentic table.
	d := svc.Route(context.Background(), Request{
		Prompt: "search the web, fetch the page, run the tool and deploy the result",
	})
	assert.Equal(t, "agentic-"+d.Tier.String(), d.Model)

	// The caller forcing agentic mode (tools present) does too.
	d = svc.Route(context.Background(), Request{Prompt: "What is 2+2?", AgenticMode: true})
	assert.Equal(t, models.TierSimple, d.Tier)
	assert.Equal(t, "agentic-simple", d.Model)
}

func TestRouteHealthOverride(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	// Cool the simple-tier primary down through the feedback path.
	decision := models.RoutingDecision{Tier: models.TierSimple, Model: "gemini-2.5-flash"}
	for i := 0; i < 3; i++ {
		svc.RecordFeedback(decision, models.RoutingFeedback{Success: false, ErrorKind: models.ErrorKindServer5xx})
	}

	d := svc.Route(context.Background(), Request{Prompt: "What is 2+2?"})
	assert.Equal(t, models.TierSimple, d.Tier)
	assert.Equal(t, "grok-code-fast-1", d.Model)
	assert.True(t, d.Meta.HealthOverride)
}

func TestRouteSessionPinHonored(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	first := svc.Route(context.Background(), Request{Prompt: "What is 2+2?", SessionID: "s1"})
	require.Equal(t, "gemini-2.5-flash", first.Model)

	// A later, harder request in the same session keeps the pinned model.
	prompt := "Build a React component that virtualizes a 10k-row table. " +
		"Requirements: 1. keyboard navigation 2. accessible labels 3. smooth scrolling. " +
		"Must render only visible rows."
	second := svc.Route(context.Background(), Request{Prompt: prompt, SessionID: "s1"})
	assert.Equal(t, models.TierComplex, second.Tier)
	assert.Equal(t, "gemini-2.5-flash", second.Model)
	assert.Equal(t, "s1", second.Meta.SessionID)
}

func TestRouteSessionPinSkippedWhenUnavailable(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	first := svc.Route(context.Background(), Request{Prompt: "What is 2+2?", SessionID: "s1"})
	require.Equal(t, "gemini-2.5-flash", first.Model)

	for i := 0; i < 3; i++ {
		svc.RecordFeedback(first, models.RoutingFeedback{Success: false, ErrorKind: models.ErrorKindServer5xx})
	}

	second := svc.Route(context.Background(), Request{Prompt: "What is 2+2?", SessionID: "s1"})
	assert.Equal(t, "grok-code-fast-1", second.Model)
}

func TestFeedbackFanOut(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	d := svc.Route(context.Background(), Request{Prompt: "What is 2+2?", SessionID: "s1"})
	svc.RecordFeedback(d, models.RoutingFeedback{
		Success:      true,
		LatencyMs:    250,
		Cost:         0.002,
		InputTokens:  10,
		OutputTokens: 20,
	})

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Adaptive.Recorded)
	assert.Equal(t, 1, stats.Sessions)

	rec, ok := stats.Health[d.Model]
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalRequests)
	assert.Equal(t, health.StatusHealthy, rec.Status)
}

func TestRepeatClassificationIsStable(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	first := svc.Route(context.Background(), Request{Prompt: "What is 2+2?"})
	second := svc.Route(context.Background(), Request{Prompt: "What is 2+2?"})
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.Model, second.Model)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Cache.Size)
	assert.GreaterOrEqual(t, stats.Cache.Hits, uint64(1))
}

// capturingSink records every decision it receives.
type capturingSink struct {
	records []audit.DecisionRecord
}

func (c *capturingSink) RecordDecision(_ context.Context, rec audit.DecisionRecord) error {
	c.records = append(c.records, rec)
	return nil
}

func TestDecisionsReachAuditSink(t *testing.T) {
	cfg := testRouterConfig()
	logger := zap.NewNop()

	cls, err := classifier.New(cfg.Scoring, logger)
	require.NoError(t, err)
	cache := scorecache.New(cfg.Cache, logger)
	t.Cleanup(cache.Close)
	adapt := adaptive.New(cfg.Adaptive, logger)
	tracker := health.New(cfg.Health, logger)
	sessions := session.New(cfg.Session, cfg.Tiers, tracker, logger)
	t.Cleanup(sessions.Close)

	sink := &capturingSink{}
	svc, err := New(cfg, cls, cache, adapt, tracker, sessions, sink, logger)
	require.NoError(t, err)

	svc.Route(context.Background(), Request{RequestID: "req-9", Prompt: "What is 2+2?"})
	require.Len(t, sink.records, 1)
	assert.Equal(t, "req-9", sink.records[0].RequestID)
	assert.Equal(t, models.TierSimple, sink.records[0].Tier)
	assert.Equal(t, "gemini-2.5-flash", sink.records[0].Model)
}

func TestResolveTierCachedNearBoundary(t *testing.T) {
	svc := newTestService(t, testRouterConfig())

	medium := models.TierMedium
	cached := &scorecache.CachedScore{
		Result: models.ScoringResult{
			WeightedScore: 0.16,
			Tier:          &medium,
			Confidence:    0.55,
		},
		DistanceToBoundary: 0.02,
	}
	complexTier := models.TierComplex
	rule := models.ScoringResult{WeightedScore: 0.20, Tier: &complexTier, Confidence: 0.75}

	tier, conf, reason, cacheHit := svc.resolveTier(rule, cached, "", 300, 0.20)
	assert.Equal(t, models.TierMedium, tier)
	assert.GreaterOrEqual(t, conf, 0.7)
	assert.True(t, cacheHit)
	assert.Contains(t, reason, "cached")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 3, EstimateTokens("hello world", ""))
	assert.Equal(t, 1, EstimateTokens("什么", ""))
	assert.Equal(t, 0, EstimateTokens("", ""))
	// 8 + 1 joiner + 8 = 17 runes, rounding up to 5 tokens.
	assert.Equal(t, 5, EstimateTokens("hello wo", "be brief"))
}
