package models

import "time"

// Tier is a coarse difficulty band used to select a target model.
// Tiers are totally ordered: SIMPLE < MEDIUM < COMPLEX < REASONING.
type Tier int

const (
	TierSimple Tier = iota
	TierMedium
	TierComplex
	TierReasoning
)

var tierNames = map[Tier]string{
	TierSimple:    "simple",
	TierMedium:    "medium",
	TierComplex:   "complex",
	TierReasoning: "reasoning",
}

// String returns the lowercase tier name.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// Rank returns the tier's position in the total order (0..3).
func (t Tier) Rank() int {
	return int(t)
}

// ParseTier converts a tier name to a Tier. The boolean reports whether
// the name was recognized.
func ParseTier(name string) (Tier, bool) {
	for t, n := range tierNames {
		if n == name {
			return t, true
		}
	}
	return TierSimple, false
}

// AllTiers lists every tier in ascending rank order.
func AllTiers() []Tier {
	return []Tier{TierSimple, TierMedium, TierComplex, TierReasoning}
}

// MarshalText implements encoding.TextMarshaler so tiers serialize as names.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, ok := ParseTier(string(text))
	if !ok {
		return &UnknownTierError{Name: string(text)}
	}
	*t = parsed
	return nil
}

// UnknownTierError reports an unrecognized tier name during decoding.
type UnknownTierError struct {
	Name string
}

func (e *UnknownTierError) Error() string {
	return "unknown tier: " + e.Name
}

// DimensionScore is the contribution of a single classifier dimension.
// Score is in [-1, 1]; Signal is a short human-readable marker
// (e.g. "code (function, class)") used for debugging and for mapping
// feedback back to dimensions.
type DimensionScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Signal string  `json:"signal,omitempty"`
}

// ScoringResult is the classifier output for one prompt.
// A nil Tier signals an ambiguous classification (confidence below
// threshold); the orchestrator substitutes a configured default.
type ScoringResult struct {
	WeightedScore float64  `json:"weighted_score"`
	Tier          *Tier    `json:"tier,omitempty"`
	Confidence    float64  `json:"confidence"`
	Signals       []string `json:"signals"`
	AgenticScore  float64  `json:"agentic_score"`
}

// ModelTarget names a tier's primary model and its ordered fallbacks.
type ModelTarget struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Candidates returns the primary followed by the fallbacks.
func (m ModelTarget) Candidates() []string {
	out := make([]string, 0, 1+len(m.Fallbacks))
	out = append(out, m.Primary)
	out = append(out, m.Fallbacks...)
	return out
}

// RoutingDecision is the router's answer for a single request.
type RoutingDecision struct {
	Tier       Tier         `json:"tier"`
	Model      string       `json:"model"`
	Confidence float64      `json:"confidence"`
	Method     string       `json:"method"`
	Reasoning  string       `json:"reasoning"`
	Meta       DecisionMeta `json:"meta"`
}

// DecisionMeta carries opaque debugging context alongside a decision.
type DecisionMeta struct {
	Fingerprint     string   `json:"fingerprint"`
	Signals         []string `json:"signals,omitempty"`
	EstimatedTokens int      `json:"estimated_tokens"`
	SessionID       string   `json:"session_id,omitempty"`
	HealthOverride  bool     `json:"health_override,omitempty"`
	CacheHit        bool     `json:"cache_hit,omitempty"`
}

// ErrorKind classifies upstream failures reported through feedback.
type ErrorKind string

const (
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindRateLimit       ErrorKind = "rate_limit"
	ErrorKindServer5xx       ErrorKind = "server_5xx"
	ErrorKindAuth            ErrorKind = "auth"
	ErrorKindPaymentRequired ErrorKind = "payment_required"
	ErrorKindCanceled        ErrorKind = "canceled"
	ErrorKindOther           ErrorKind = "other"
)

// Blameless reports whether the failure is not the model's fault and
// therefore must not contribute to cooldown.
func (k ErrorKind) Blameless() bool {
	return k == ErrorKindAuth || k == ErrorKindPaymentRequired
}

// RoutingFeedback conveys the observed outcome of the upstream call
// back into the adaptive, health, and session stores.
type RoutingFeedback struct {
	Success      bool      `json:"success"`
	LatencyMs    int64     `json:"latency_ms"`
	Cost         float64   `json:"cost"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ErrorKind    ErrorKind `json:"error_type,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}
