// Package session pins conversations to models and manages per-session
// degradation. A session that keeps failing on its pinned model is moved
// to the healthiest alternative in the same tier, and moved back once it
// recovers and the original model is available again.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
)

const (
	metricsEMAAlpha  = 0.3
	recentErrorLimit = 5
	topicLimit       = 10
)

// HealthGate is the slice of the health tracker the store needs.
type HealthGate interface {
	IsAvailable(model string) bool
	BestModel(candidates []string) (string, bool)
}

// ContextSnapshot accumulates lightweight conversation context.
type ContextSnapshot struct {
	Topics            []string `json:"topics,omitempty"`
	Intent            string   `json:"intent,omitempty"`
	ComplexityTrend   float64  `json:"complexity_trend"`
	HasUsedTools      bool     `json:"has_used_tools"`
	LastToolSequence  []string `json:"last_tool_sequence,omitempty"`
	AvgResponseLength float64  `json:"avg_response_length"`
}

// Metrics tracks per-session upstream outcomes.
type Metrics struct {
	TotalInputTokens    int     `json:"total_input_tokens"`
	TotalOutputTokens   int     `json:"total_output_tokens"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	AvgCost             float64 `json:"avg_cost"`
	SuccessRate         float64 `json:"success_rate"`
	ConsecutiveFailures int     `json:"consecutive_failures"`

	samples int
}

// Degradation records a session's switch away from its pinned model.
type Degradation struct {
	IsDegraded       bool        `json:"is_degraded"`
	OriginalModel    string      `json:"original_model,omitempty"`
	OriginalTier     models.Tier `json:"original_tier,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	DegradedAt       time.Time   `json:"degraded_at,omitzero"`
	RecoveryRequests int         `json:"recovery_requests"`
}

// RecordedError is one recent failure on the session.
type RecordedError struct {
	Kind models.ErrorKind `json:"kind"`
	At   time.Time        `json:"at"`
}

// SessionEntry is the state pinned to one session id.
type SessionEntry struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Tier         models.Tier     `json:"tier"`
	CreatedAt    time.Time       `json:"created_at"`
	LastUsedAt   time.Time       `json:"last_used_at"`
	RequestCount int             `json:"request_count"`
	Context      ContextSnapshot `json:"context"`
	Metrics      Metrics         `json:"metrics"`
	Degradation  Degradation     `json:"degradation"`
	RecentErrors []RecordedError `json:"recent_errors,omitempty"`
}

// Result is one completed upstream call attributed to a session.
type Result struct {
	Success      bool
	LatencyMs    float64
	Cost         float64
	InputTokens  int
	OutputTokens int
	ErrorKind    models.ErrorKind
}

// ContextUpdate carries per-request conversation hints into the snapshot.
type ContextUpdate struct {
	Topic           string
	Intent          string
	UsedTools       bool
	ToolSequence    []string
	ComplexityScore float64
}

// Store is the process-wide session store.
type Store struct {
	mu      sync.Mutex
	entries map[string]*SessionEntry
	cfg     config.SessionConfig
	tiers   config.TierTable
	health  HealthGate
	logger  *zap.Logger
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Store. When cfg.SweepInterval is positive a background
// sweep evicts timed-out sessions until Close is called.
func New(cfg config.SessionConfig, tiers config.TierTable, health HealthGate, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string]*SessionEntry),
		cfg:     cfg,
		tiers:   tiers,
		health:  health,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(cfg.SweepInterval)
	}
	return s
}

// Close stops the background sweep.
func (s *Store) Close() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
}

// Get returns a copy of the session and refreshes its last-used time.
// Timed-out sessions read as absent and are dropped.
func (s *Store) Get(id string) (SessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return SessionEntry{}, false
	}
	if s.now().Sub(e.LastUsedAt) > s.cfg.Timeout {
		delete(s.entries, id)
		return SessionEntry{}, false
	}
	e.LastUsedAt = s.now()
	return copyEntry(e), true
}

// Set creates or updates the session's pinned model and tier. A model
// change on a non-degraded session snapshots the previous model and tier
// so a later degradation episode can restore them.
func (s *Store) Set(id, model string, tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[id]
	if !ok {
		s.entries[id] = &SessionEntry{
			ID:           id,
			Model:        model,
			Tier:         tier,
			CreatedAt:    now,
			LastUsedAt:   now,
			RequestCount: 1,
		}
		return
	}
	if model != e.Model && !e.Degradation.IsDegraded {
		e.Degradation.OriginalModel = e.Model
		e.Degradation.OriginalTier = e.Tier
	}
	e.Model = model
	e.Tier = tier
	e.LastUsedAt = now
	e.RequestCount++
}

// UpdateContext folds per-request conversation hints into the snapshot.
func (s *Store) UpdateContext(id string, upd ContextUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	if upd.Topic != "" {
		e.Context.Topics = appendTopic(e.Context.Topics, upd.Topic)
	}
	if upd.Intent != "" {
		e.Context.Intent = upd.Intent
	}
	if upd.UsedTools {
		e.Context.HasUsedTools = true
	}
	if len(upd.ToolSequence) > 0 {
		e.Context.LastToolSequence = append([]string(nil), upd.ToolSequence...)
	}
	e.Context.ComplexityTrend = ema(e.Context.ComplexityTrend, clamp01(upd.ComplexityScore), e.RequestCount <= 1)
}

// RecordResult attributes a completed upstream call to the session,
// driving degradation on repeated failure and recovery on sustained
// success.
func (s *Store) RecordResult(id string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return
	}
	now := s.now()
	e.LastUsedAt = now

	m := &e.Metrics
	first := m.samples == 0
	m.samples++
	m.TotalInputTokens += res.InputTokens
	m.TotalOutputTokens += res.OutputTokens
	m.AvgLatencyMs = ema(m.AvgLatencyMs, res.LatencyMs, first)
	m.AvgCost = ema(m.AvgCost, res.Cost, first)
	e.Context.AvgResponseLength = ema(e.Context.AvgResponseLength, float64(res.OutputTokens), first)

	if res.Success {
		m.SuccessRate = ema(m.SuccessRate, 1, first)
		m.ConsecutiveFailures = 0
		s.maybeRecoverLocked(e)
		return
	}

	m.SuccessRate = ema(m.SuccessRate, 0, first)
	m.ConsecutiveFailures++
	if e.Degradation.IsDegraded {
		e.Degradation.RecoveryRequests = 0
	}
	e.RecentErrors = append(e.RecentErrors, RecordedError{Kind: res.ErrorKind, At: now})
	if len(e.RecentErrors) > recentErrorLimit {
		e.RecentErrors = e.RecentErrors[len(e.RecentErrors)-recentErrorLimit:]
	}
	if m.ConsecutiveFailures >= s.cfg.DegradationThreshold {
		s.maybeDegradeLocked(e)
	}
}

// maybeDegradeLocked switches the session to the healthiest alternative
// in its tier. The original model is snapshotted only when entering the
// episode, never overwritten mid-episode.
func (s *Store) maybeDegradeLocked(e *SessionEntry) {
	target, ok := s.tiers[e.Tier]
	if !ok || s.health == nil {
		return
	}
	best, ok := s.health.BestModel(target.Candidates())
	if !ok || best == e.Model {
		return
	}
	if !e.Degradation.IsDegraded {
		e.Degradation.IsDegraded = true
		if e.Degradation.OriginalModel == "" {
			e.Degradation.OriginalModel = e.Model
			e.Degradation.OriginalTier = e.Tier
		}
		e.Degradation.Reason = "consecutive failures"
		e.Degradation.DegradedAt = s.now()
		e.Degradation.RecoveryRequests = 0
	}
	s.logger.Info("session degraded to alternative model",
		zap.String("session", e.ID),
		zap.String("from", e.Model),
		zap.String("to", best))
	e.Model = best
	e.Metrics.ConsecutiveFailures = 0
}

// maybeRecoverLocked counts successes while degraded and restores the
// original model once the streak is long enough and the model is back.
func (s *Store) maybeRecoverLocked(e *SessionEntry) {
	if !e.Degradation.IsDegraded {
		return
	}
	e.Degradation.RecoveryRequests++
	if e.Degradation.RecoveryRequests < s.cfg.RecoveryThreshold {
		return
	}
	if s.health != nil && !s.health.IsAvailable(e.Degradation.OriginalModel) {
		return
	}
	s.logger.Info("session recovered, restoring original model",
		zap.String("session", e.ID),
		zap.String("model", e.Degradation.OriginalModel))
	e.Model = e.Degradation.OriginalModel
	e.Tier = e.Degradation.OriginalTier
	e.Degradation = Degradation{}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes all sessions.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*SessionEntry)
}

// SweepExpired removes timed-out sessions and returns how many were
// dropped.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, e := range s.entries {
		if s.now().Sub(e.LastUsedAt) > s.cfg.Timeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.entries, id)
	}
	return len(expired)
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				s.logger.Debug("session sweep", zap.Int("expired", n))
			}
		case <-s.stopCh:
			return
		}
	}
}

func copyEntry(e *SessionEntry) SessionEntry {
	out := *e
	out.Context.Topics = append([]string(nil), e.Context.Topics...)
	out.Context.LastToolSequence = append([]string(nil), e.Context.LastToolSequence...)
	out.RecentErrors = append([]RecordedError(nil), e.RecentErrors...)
	return out
}

// appendTopic adds a topic if new, keeping the list bounded.
func appendTopic(topics []string, topic string) []string {
	for _, t := range topics {
		if t == topic {
			return topics
		}
	}
	topics = append(topics, topic)
	if len(topics) > topicLimit {
		topics = topics[len(topics)-topicLimit:]
	}
	return topics
}

func ema(prev, sample float64, first bool) float64 {
	if first {
		return sample
	}
	return (1-metricsEMAAlpha)*prev + metricsEMAAlpha*sample
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
