// Package health tracks per-model success rate and latency and gates
// model availability. Models that fail repeatedly enter a cooldown and
// re-enter service as degraded, never directly as healthy.
package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
)

// Status is a model's availability state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusCooldown  Status = "cooldown"
)

const (
	latencyEMAAlpha  = 0.3
	latencyWindow    = 100
	successRateBand  = 0.05
	unhealthyMinReqs = 10
)

// statusPriority orders statuses for best-model selection.
var statusPriority = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
	StatusCooldown:  3,
}

// ModelHealthRecord is the tracked state for one model.
type ModelHealthRecord struct {
	Model              string                   `json:"model"`
	Status             Status                   `json:"status"`
	TotalRequests      int                      `json:"total_requests"`
	SuccessfulRequests int                      `json:"successful_requests"`
	SuccessRate        float64                  `json:"success_rate"`
	AvgLatencyMs       float64                  `json:"avg_latency_ms"`
	P95LatencyMs       float64                  `json:"p95_latency_ms"`
	ConsecutiveErrors  int                      `json:"consecutive_errors"`
	ErrorTypes         map[models.ErrorKind]int `json:"error_types,omitempty"`
	CooldownUntil      time.Time                `json:"cooldown_until,omitzero"`
	CooldownReason     string                   `json:"cooldown_reason,omitempty"`
	LastRequest        time.Time                `json:"last_request"`
	LastSuccess        time.Time                `json:"last_success,omitzero"`

	latencies []float64
	// Outcomes observed while cooling down, used to exit early.
	cooldownSamples   int
	cooldownSuccesses int
}

// Tracker is the process-wide model health store.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*ModelHealthRecord
	cfg     config.HealthConfig
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Tracker.
func New(cfg config.HealthConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		records: make(map[string]*ModelHealthRecord),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// RecordSuccess records a successful upstream call.
func (t *Tracker) RecordSuccess(model string, latencyMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordLocked(model)
	now := t.now()
	r.TotalRequests++
	r.SuccessfulRequests++
	r.SuccessRate = float64(r.SuccessfulRequests) / float64(r.TotalRequests)
	r.ConsecutiveErrors = 0
	r.LastRequest = now
	r.LastSuccess = now
	t.observeLatencyLocked(r, latencyMs)
	if !r.CooldownUntil.IsZero() {
		r.cooldownSamples++
		r.cooldownSuccesses++
	}
	t.recomputeStatusLocked(r, now)
}

// RecordError records a failed upstream call. Blameless kinds (auth,
// payment_required) are counted for observability only: they never move
// the success rate or push the model toward cooldown.
func (t *Tracker) RecordError(model string, kind models.ErrorKind, latencyMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordLocked(model)
	now := t.now()
	if r.ErrorTypes == nil {
		r.ErrorTypes = make(map[models.ErrorKind]int)
	}
	r.ErrorTypes[kind]++
	r.LastRequest = now
	if kind.Blameless() {
		return
	}

	r.TotalRequests++
	r.SuccessRate = float64(r.SuccessfulRequests) / float64(r.TotalRequests)
	r.ConsecutiveErrors++
	if latencyMs > 0 {
		t.observeLatencyLocked(r, latencyMs)
	}
	if !r.CooldownUntil.IsZero() {
		r.cooldownSamples++
	}
	t.recomputeStatusLocked(r, now)
}

// IsAvailable reports whether a model may be selected. Unknown models are
// available. A cooldown whose deadline has passed flips the model to
// degraded and reports it available again.
func (t *Tracker) IsAvailable(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isAvailableLocked(model)
}

func (t *Tracker) isAvailableLocked(model string) bool {
	r, ok := t.records[model]
	if !ok {
		return true
	}
	if r.Status == StatusCooldown {
		if t.now().Before(r.CooldownUntil) {
			return false
		}
		t.exitCooldownLocked(r)
		return true
	}
	return r.Status != StatusUnhealthy
}

// BestModel picks the best available candidate: status priority first,
// then success rate (ties within 0.05 rank equal), then average latency.
// Candidates without history tie with everything past the status check,
// so the caller's ordering breaks those ties.
func (t *Tracker) BestModel(candidates []string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type ranked struct {
		model    string
		priority int
		rate     float64
		latency  float64
		sampled  bool
	}
	var avail []ranked
	for _, m := range candidates {
		if !t.isAvailableLocked(m) {
			continue
		}
		rk := ranked{model: m, rate: 1}
		if r, ok := t.records[m]; ok && r.TotalRequests > 0 {
			rk.priority = statusPriority[r.Status]
			rk.rate = r.SuccessRate
			rk.latency = r.AvgLatencyMs
			rk.sampled = true
		}
		avail = append(avail, rk)
	}
	if len(avail) == 0 {
		return "", false
	}

	sort.SliceStable(avail, func(i, j int) bool {
		a, b := avail[i], avail[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.sampled || !b.sampled {
			return false
		}
		if diff := a.rate - b.rate; diff > successRateBand || diff < -successRateBand {
			return a.rate > b.rate
		}
		return a.latency < b.latency
	})
	return avail[0].model, true
}

// Record returns a copy of a model's health record.
func (t *Tracker) Record(model string) (ModelHealthRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[model]
	if !ok {
		return ModelHealthRecord{}, false
	}
	out := *r
	out.latencies = nil
	out.ErrorTypes = make(map[models.ErrorKind]int, len(r.ErrorTypes))
	for k, v := range r.ErrorTypes {
		out.ErrorTypes[k] = v
	}
	return out, true
}

// Snapshot returns copies of all records, keyed by model.
func (t *Tracker) Snapshot() map[string]ModelHealthRecord {
	t.mu.Lock()
	names := make([]string, 0, len(t.records))
	for m := range t.records {
		names = append(names, m)
	}
	t.mu.Unlock()

	out := make(map[string]ModelHealthRecord, len(names))
	for _, m := range names {
		if r, ok := t.Record(m); ok {
			out[m] = r
		}
	}
	return out
}

// Reset drops all records.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*ModelHealthRecord)
}

func (t *Tracker) recordLocked(model string) *ModelHealthRecord {
	r, ok := t.records[model]
	if !ok {
		r = &ModelHealthRecord{Model: model, Status: StatusHealthy}
		t.records[model] = r
	}
	return r
}

func (t *Tracker) observeLatencyLocked(r *ModelHealthRecord, latencyMs float64) {
	if r.AvgLatencyMs == 0 {
		r.AvgLatencyMs = latencyMs
	} else {
		r.AvgLatencyMs = (1-latencyEMAAlpha)*r.AvgLatencyMs + latencyEMAAlpha*latencyMs
	}
	r.latencies = append(r.latencies, latencyMs)
	if len(r.latencies) > latencyWindow {
		r.latencies = r.latencies[len(r.latencies)-latencyWindow:]
	}
	r.P95LatencyMs = p95(r.latencies)
}

// recomputeStatusLocked applies the status transition rules in their
// fixed order.
func (t *Tracker) recomputeStatusLocked(r *ModelHealthRecord, now time.Time) {
	if now.Before(r.CooldownUntil) {
		r.Status = StatusCooldown
		// A model still receiving traffic during cooldown can earn an
		// early exit by sustained success.
		if r.cooldownSamples >= t.cfg.RecoveryRequests &&
			float64(r.cooldownSuccesses)/float64(r.cooldownSamples) >= t.cfg.RecoveryThreshold {
			t.exitCooldownLocked(r)
		}
		return
	}
	if r.Status == StatusCooldown {
		// Deadline passed between requests.
		t.exitCooldownLocked(r)
		return
	}

	if r.ConsecutiveErrors >= t.cfg.MaxConsecutiveErrors {
		t.enterCooldownLocked(r, now, "consecutive errors")
		return
	}
	if r.P95LatencyMs > t.cfg.LatencyThresholdMs {
		r.Status = StatusDegraded
		return
	}
	switch {
	case r.SuccessRate >= t.cfg.HealthyThreshold:
		r.Status = StatusHealthy
	case r.SuccessRate >= t.cfg.DegradedThreshold:
		r.Status = StatusDegraded
	default:
		r.Status = StatusUnhealthy
	}
	if r.Status == StatusUnhealthy && r.TotalRequests >= unhealthyMinReqs {
		t.enterCooldownLocked(r, now, "sustained low success rate")
	}
}

func (t *Tracker) enterCooldownLocked(r *ModelHealthRecord, now time.Time, reason string) {
	r.Status = StatusCooldown
	r.CooldownUntil = now.Add(t.cfg.CooldownDuration)
	r.CooldownReason = reason
	r.cooldownSamples = 0
	r.cooldownSuccesses = 0
	t.logger.Warn("model entering cooldown",
		zap.String("model", r.Model),
		zap.String("reason", reason),
		zap.Time("until", r.CooldownUntil))
}

// exitCooldownLocked moves a model out of cooldown into degraded. It
// never restores healthy directly; the model earns that back through
// its success rate on subsequent traffic.
func (t *Tracker) exitCooldownLocked(r *ModelHealthRecord) {
	r.Status = StatusDegraded
	r.CooldownUntil = time.Time{}
	r.CooldownReason = ""
	r.ConsecutiveErrors = 0
	r.cooldownSamples = 0
	r.cooldownSuccesses = 0
	t.logger.Info("model exiting cooldown", zap.String("model", r.Model))
}

// p95 returns the 95th percentile of the sample window.
func p95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
