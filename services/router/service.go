// Package router orchestrates a routing decision: fingerprint, cache
// lookup, classification, overrides, health-aware model selection, and
// session pinning. Classification never fails; every input produces a
// decision.
package router

import (
	"context"
	"fmt"
	"math"
	"regexp"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
	"github.com/x402labs/llm-router/services/adaptive"
	"github.com/x402labs/llm-router/services/audit"
	"github.com/x402labs/llm-router/services/classifier"
	"github.com/x402labs/llm-router/services/fingerprint"
	"github.com/x402labs/llm-router/services/health"
	"github.com/x402labs/llm-router/services/scorecache"
	"github.com/x402labs/llm-router/services/session"
)

// MethodRules marks decisions produced by the rule classifier.
const MethodRules = "rules"

var structuredOutputRe = regexp.MustCompile(`(?i)json|structured|schema`)

// Request is one routing request, already flattened from the transport
// representation.
type Request struct {
	RequestID       string
	Prompt          string
	SystemPrompt    string
	MaxOutputTokens int
	SessionID       string
	// AgenticMode is raised by the caller when the request carries tools.
	AgenticMode bool
}

// Service is the route orchestrator.
type Service struct {
	cfg        *config.Config
	classifier *classifier.Classifier
	cache      *scorecache.Cache
	adaptive   *adaptive.Manager
	health     *health.Tracker
	sessions   *session.Store
	sink       audit.DecisionSink
	logger     *zap.Logger
}

// New creates the orchestrator. Every tier must have at least one model.
func New(
	cfg *config.Config,
	cls *classifier.Classifier,
	cache *scorecache.Cache,
	adapt *adaptive.Manager,
	tracker *health.Tracker,
	sessions *session.Store,
	sink audit.DecisionSink,
	logger *zap.Logger,
) (*Service, error) {
	if cfg == nil {
		return nil, &config.ValidationError{Field: "config", Reason: "missing"}
	}
	for _, tier := range models.AllTiers() {
		target, ok := cfg.Tiers[tier]
		if !ok || target.Primary == "" {
			return nil, &config.ValidationError{
				Field:  "tiers." + tier.String(),
				Reason: "no models configured",
			}
		}
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		classifier: cls,
		cache:      cache,
		adaptive:   adapt,
		health:     tracker,
		sessions:   sessions,
		sink:       sink,
		logger:     logger,
	}, nil
}

// EstimateTokens approximates the token count of the combined prompt at
// four characters per token, counting runes so CJK text is not inflated.
// A present system prompt contributes one joining character.
func EstimateTokens(prompt, systemPrompt string) int {
	chars := len([]rune(prompt))
	if systemPrompt != "" {
		chars += len([]rune(systemPrompt)) + 1
	}
	return int(math.Ceil(float64(chars) / 4))
}

// Route produces a routing decision for the request.
func (s *Service) Route(ctx context.Context, req Request) models.RoutingDecision {
	fp := fingerprint.Compute(req.Prompt, req.SystemPrompt)
	estimatedTokens := EstimateTokens(req.Prompt, req.SystemPrompt)

	var cached *scorecache.CachedScore
	if s.cfg.Cache.Enabled {
		cached = s.cache.Get(fp)
	}

	ruleResult := s.classifier.Classify(req.Prompt, req.SystemPrompt, estimatedTokens, fp)

	meanWeight := 1.0
	if s.cfg.Adaptive.Enabled {
		meanWeight = s.adaptive.MeanWeight()
	}
	adjustedScore := ruleResult.WeightedScore * meanWeight
	if s.cfg.Cache.Enabled {
		s.cache.Set(fp, ruleResult, s.cfg.Scoring.Boundaries, adjustedScore)
	}

	table := s.tierTable(req, ruleResult.AgenticScore)
	tier, confidence, reasoning, cacheHit := s.resolveTier(ruleResult, cached, req.SystemPrompt, estimatedTokens, adjustedScore)

	model, healthOverride := s.selectModel(table, tier)
	model = s.applySession(req.SessionID, &tier, model, table, ruleResult)

	decision := models.RoutingDecision{
		Tier:       tier,
		Model:      model,
		Confidence: confidence,
		Method:     MethodRules,
		Reasoning:  reasoning,
		Meta: models.DecisionMeta{
			Fingerprint:     fp,
			Signals:         ruleResult.Signals,
			EstimatedTokens: estimatedTokens,
			SessionID:       req.SessionID,
			HealthOverride:  healthOverride,
			CacheHit:        cacheHit,
		},
	}

	s.logger.Debug("routing decision",
		zap.String("tier", tier.String()),
		zap.String("model", model),
		zap.Float64("confidence", confidence),
		zap.Float64("adjusted_score", adjustedScore),
		zap.Bool("cache_hit", cacheHit))

	if err := s.sink.RecordDecision(ctx, audit.NewRecord(req.RequestID, decision)); err != nil {
		s.logger.Warn("decision audit failed", zap.Error(err))
	}
	return decision
}

// tierTable picks the agentic table when the agentic score clears the
// threshold or the caller forces agentic mode, and one is configured.
func (s *Service) tierTable(req Request, agenticScore float64) config.TierTable {
	agentic := agenticScore >= s.cfg.Overrides.AgenticScoreThreshold ||
		s.cfg.Overrides.AgenticMode || req.AgenticMode
	if agentic && len(s.cfg.AgenticTiers) > 0 {
		return s.cfg.AgenticTiers
	}
	return s.cfg.Tiers
}

// resolveTier applies the override ladder to the classifier result:
// large-context force, structured-output minimum, ambiguous default, and
// fuzzy-boundary honoring of the cached tier.
func (s *Service) resolveTier(
	ruleResult models.ScoringResult,
	cached *scorecache.CachedScore,
	systemPrompt string,
	estimatedTokens int,
	adjustedScore float64,
) (models.Tier, float64, string, bool) {
	ov := s.cfg.Overrides

	if estimatedTokens > ov.MaxTokensForceComplex {
		reason := fmt.Sprintf("Input exceeds %d tokens; forcing %s tier",
			ov.MaxTokensForceComplex, models.TierComplex)
		return models.TierComplex, 0.95, reason, false
	}

	var tier models.Tier
	var confidence float64
	var reasoning string
	cacheHit := false

	switch {
	case ruleResult.Tier != nil:
		tier = *ruleResult.Tier
		confidence = ruleResult.Confidence
		reasoning = fmt.Sprintf("Weighted score %.3f maps to %s", adjustedScore, tier)
	case cached != nil && cached.Result.Tier != nil:
		tier = *cached.Result.Tier
		confidence = math.Max(cached.Result.Confidence, 0.7)
		reasoning = fmt.Sprintf("Ambiguous score; reusing cached %s tier", tier)
		cacheHit = true
	default:
		tier = ov.AmbiguousDefaultTier
		confidence = 0.5
		reasoning = fmt.Sprintf("Ambiguous score %.3f; defaulting to %s", adjustedScore, tier)
	}

	if structuredOutputRe.MatchString(systemPrompt) && tier.Rank() < ov.StructuredOutputMinTier.Rank() {
		tier = ov.StructuredOutputMinTier
		reasoning += fmt.Sprintf("; raised to %s for structured output", tier)
	}

	if s.cfg.Cache.Enabled && s.cache.ShouldUseCachedTier(cached, tier) {
		tier = *cached.Result.Tier
		confidence = math.Max(cached.Result.Confidence, 0.7)
		reasoning = fmt.Sprintf("Score near tier boundary; keeping cached %s tier", tier)
		cacheHit = true
	}

	return tier, confidence, reasoning, cacheHit
}

// selectModel asks the health tracker for the best candidate in the
// tier. When every candidate is unavailable the primary is returned
// anyway; the resulting failure feeds back into the tracker.
func (s *Service) selectModel(table config.TierTable, tier models.Tier) (string, bool) {
	target := table[tier]
	if !s.cfg.Health.Enabled {
		return target.Primary, false
	}
	best, ok := s.health.BestModel(target.Candidates())
	if !ok {
		return target.Primary, false
	}
	return best, best != target.Primary
}

// applySession honors an existing healthy pin, or records the new one.
func (s *Service) applySession(
	sessionID string,
	tier *models.Tier,
	model string,
	table config.TierTable,
	ruleResult models.ScoringResult,
) string {
	if sessionID == "" || s.sessions == nil {
		return model
	}

	if entry, ok := s.sessions.Get(sessionID); ok && !entry.Degradation.IsDegraded {
		if !s.cfg.Health.Enabled || s.health.IsAvailable(entry.Model) {
			model = entry.Model
		}
	}

	s.sessions.Set(sessionID, model, *tier)
	s.sessions.UpdateContext(sessionID, session.ContextUpdate{
		ComplexityScore: normalizeComplexity(ruleResult.WeightedScore),
		UsedTools:       ruleResult.AgenticScore >= s.cfg.Overrides.AgenticScoreThreshold,
	})
	return model
}

// RecordFeedback fans the observed upstream outcome out to the adaptive
// weights, the health tracker, and the session store.
func (s *Service) RecordFeedback(decision models.RoutingDecision, fb models.RoutingFeedback) {
	if s.cfg.Adaptive.Enabled {
		s.adaptive.RecordFeedback(adaptive.Feedback{
			DimensionSignals: decision.Meta.Signals,
			Tier:             decision.Tier,
			LatencyMs:        fb.LatencyMs,
			Cost:             fb.Cost,
			Success:          fb.Success,
			ErrorKind:        fb.ErrorKind,
			InputTokens:      fb.InputTokens,
			OutputTokens:     fb.OutputTokens,
			Timestamp:        fb.Timestamp,
		})
	}

	if s.cfg.Health.Enabled {
		if fb.Success {
			s.health.RecordSuccess(decision.Model, float64(fb.LatencyMs))
		} else {
			s.health.RecordError(decision.Model, fb.ErrorKind, float64(fb.LatencyMs))
		}
	}

	if decision.Meta.SessionID != "" && s.sessions != nil {
		s.sessions.RecordResult(decision.Meta.SessionID, session.Result{
			Success:      fb.Success,
			LatencyMs:    float64(fb.LatencyMs),
			Cost:         fb.Cost,
			InputTokens:  fb.InputTokens,
			OutputTokens: fb.OutputTokens,
			ErrorKind:    fb.ErrorKind,
		})
	}
}

// Stats aggregates per-store statistics for dashboards.
type Stats struct {
	Cache    scorecache.Stats                    `json:"cache"`
	Adaptive adaptive.Stats                      `json:"adaptive"`
	Health   map[string]health.ModelHealthRecord `json:"health"`
	Sessions int                                 `json:"sessions"`
}

// Stats returns a snapshot across the stores.
func (s *Service) Stats() Stats {
	return Stats{
		Cache:    s.cache.Stats(),
		Adaptive: s.adaptive.Stats(),
		Health:   s.health.Snapshot(),
		Sessions: s.sessions.Len(),
	}
}

// normalizeComplexity maps a weighted score (roughly [-1, 1]) onto [0, 1].
func normalizeComplexity(score float64) float64 {
	v := (score + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
