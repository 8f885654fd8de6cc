// Package adaptive tracks post-hoc routing feedback per classifier
// dimension and per tier, and periodically re-tunes dimension weight
// factors inside a narrow band. The intent is stability: factors stay in
// [0.8, 1.2], so modulation nudges scores rather than steering them.
package adaptive

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
)

const (
	tierEMAAlpha      = 0.3
	recentBufferLimit = 100

	// Normalization scales for the performance score.
	latencyScaleMs = 10000
	costScale      = 0.1
)

// signalPrefixes resolves a feedback signal (e.g. "code (function,
// class)") back to the dimension that produced it.
var signalPrefixes = map[string]string{
	"tokens":      models.DimTokenCount,
	"code":        models.DimCodePresence,
	"reasoning":   models.DimReasoningMarkers,
	"technical":   models.DimTechnicalTerms,
	"creative":    models.DimCreativeMarkers,
	"simple":      models.DimSimpleIndicators,
	"multi-step":  models.DimMultiStepPatterns,
	"questions":   models.DimQuestionComplexity,
	"imperative":  models.DimImperativeVerbs,
	"constraints": models.DimConstraintCount,
	"format":      models.DimOutputFormat,
	"references":  models.DimReferenceComplex,
	"negation":    models.DimNegationComplexity,
	"domain":      models.DimDomainSpecificity,
	"agentic":     models.DimAgenticTask,
}

// DimensionPerformance aggregates observed outcomes for one dimension.
type DimensionPerformance struct {
	Name               string  `json:"name"`
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	TotalLatencyMs     int64   `json:"total_latency_ms"`
	TotalCost          float64 `json:"total_cost"`
	SuccessRate        float64 `json:"success_rate"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	AvgCost            float64 `json:"avg_cost"`
	BaseWeight         float64 `json:"base_weight"`
	AdjustmentFactor   float64 `json:"adjustment_factor"`
	CurrentWeight      float64 `json:"current_weight"`
}

// TierPerformance keeps EMA quality metrics per tier.
type TierPerformance struct {
	Tier        models.Tier `json:"tier"`
	Requests    int         `json:"requests"`
	SuccessRate float64     `json:"success_rate"`
	AvgLatency  float64     `json:"avg_latency_ms"`
	AvgCost     float64     `json:"avg_cost"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Feedback is one recorded routing outcome.
type Feedback struct {
	DimensionSignals []string
	Tier             models.Tier
	LatencyMs        int64
	Cost             float64
	Success          bool
	ErrorKind        models.ErrorKind
	InputTokens      int
	OutputTokens     int
	Timestamp        time.Time
}

// Manager is the adaptive weight store.
type Manager struct {
	mu         sync.Mutex
	cfg        config.AdaptiveConfig
	dimensions map[string]*DimensionPerformance
	tiers      map[models.Tier]*TierPerformance
	recent     []Feedback
	recorded   int
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Manager with every known dimension at factor 1.0.
func New(cfg config.AdaptiveConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		dimensions: make(map[string]*DimensionPerformance),
		tiers:      make(map[models.Tier]*TierPerformance),
		logger:     logger,
		now:        time.Now,
	}
	for _, name := range models.DimensionNames() {
		m.dimensions[name] = &DimensionPerformance{
			Name:             name,
			BaseWeight:       1,
			AdjustmentFactor: 1,
			CurrentWeight:    1,
		}
	}
	return m
}

// RecordFeedback folds one observed outcome into the per-dimension and
// per-tier aggregates, and triggers a weight adjustment pass every
// AdjustmentInterval calls.
func (m *Manager) RecordFeedback(fb Feedback) {
	if fb.Timestamp.IsZero() {
		fb.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, signal := range fb.DimensionSignals {
		name, ok := resolveSignal(signal)
		if !ok {
			continue
		}
		d := m.dimensions[name]
		if d == nil {
			continue
		}
		d.TotalRequests++
		if fb.Success {
			d.SuccessfulRequests++
		}
		d.TotalLatencyMs += fb.LatencyMs
		d.TotalCost += fb.Cost
		d.SuccessRate = float64(d.SuccessfulRequests) / float64(d.TotalRequests)
		d.AvgLatencyMs = float64(d.TotalLatencyMs) / float64(d.TotalRequests)
		d.AvgCost = d.TotalCost / float64(d.TotalRequests)
	}

	m.updateTierLocked(fb)

	m.recent = append(m.recent, fb)
	if len(m.recent) > recentBufferLimit {
		m.recent = m.recent[len(m.recent)-recentBufferLimit:]
	}

	m.recorded++
	if m.cfg.AdjustmentInterval > 0 && m.recorded%m.cfg.AdjustmentInterval == 0 {
		m.adjustWeightsLocked()
	}
}

func (m *Manager) updateTierLocked(fb Feedback) {
	tp, ok := m.tiers[fb.Tier]
	if !ok {
		tp = &TierPerformance{Tier: fb.Tier}
		m.tiers[fb.Tier] = tp
	}
	success := 0.0
	if fb.Success {
		success = 1.0
	}
	if tp.Requests == 0 {
		tp.SuccessRate = success
		tp.AvgLatency = float64(fb.LatencyMs)
		tp.AvgCost = fb.Cost
	} else {
		tp.SuccessRate = (1-tierEMAAlpha)*tp.SuccessRate + tierEMAAlpha*success
		tp.AvgLatency = (1-tierEMAAlpha)*tp.AvgLatency + tierEMAAlpha*float64(fb.LatencyMs)
		tp.AvgCost = (1-tierEMAAlpha)*tp.AvgCost + tierEMAAlpha*fb.Cost
	}
	tp.Requests++
	tp.LastUpdated = fb.Timestamp
}

// adjustWeightsLocked maps each well-sampled dimension's normalized
// performance onto a target factor inside [MinAdjustment, MaxAdjustment]
// and smooths toward it.
func (m *Manager) adjustWeightsLocked() {
	for _, d := range m.dimensions {
		if d.TotalRequests < m.cfg.MinRequests {
			continue
		}
		latencyScore := 1 - d.AvgLatencyMs/latencyScaleMs
		if latencyScore < 0 {
			latencyScore = 0
		}
		costScore := 1 - d.AvgCost/costScale
		if costScore < 0 {
			costScore = 0
		}
		perf := m.cfg.LatencyWeight*latencyScore +
			m.cfg.CostWeight*costScore +
			m.cfg.SuccessWeight*d.SuccessRate

		target := m.cfg.MinAdjustment + perf*(m.cfg.MaxAdjustment-m.cfg.MinAdjustment)
		factor := m.cfg.Smoothing*d.AdjustmentFactor + (1-m.cfg.Smoothing)*target
		if factor < m.cfg.MinAdjustment {
			factor = m.cfg.MinAdjustment
		}
		if factor > m.cfg.MaxAdjustment {
			factor = m.cfg.MaxAdjustment
		}
		d.AdjustmentFactor = factor
		d.CurrentWeight = d.BaseWeight * factor
	}
	m.logger.Debug("adaptive weights adjusted", zap.Int("recorded", m.recorded))
}

// Weights returns the current weight per dimension.
func (m *Manager) Weights() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.dimensions))
	for name, d := range m.dimensions {
		out[name] = d.CurrentWeight
	}
	return out
}

// MeanWeight returns the mean of all current weights. The orchestrator
// multiplies the raw weighted score by this scalar.
func (m *Manager) MeanWeight() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.dimensions) == 0 {
		return 1
	}
	var sum float64
	for _, d := range m.dimensions {
		sum += d.CurrentWeight
	}
	return sum / float64(len(m.dimensions))
}

// Stats is a snapshot of the manager's state.
type Stats struct {
	Dimensions []DimensionPerformance `json:"dimensions"`
	Tiers      []TierPerformance      `json:"tiers"`
	Recorded   int                    `json:"recorded"`
}

// Stats returns copies of all aggregates.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Recorded: m.recorded}
	for _, d := range m.dimensions {
		s.Dimensions = append(s.Dimensions, *d)
	}
	for _, t := range m.tiers {
		s.Tiers = append(s.Tiers, *t)
	}
	return s
}

// Reset restores all dimensions to factor 1.0 and drops history.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.dimensions {
		*d = DimensionPerformance{
			Name:             d.Name,
			BaseWeight:       1,
			AdjustmentFactor: 1,
			CurrentWeight:    1,
		}
	}
	m.tiers = make(map[models.Tier]*TierPerformance)
	m.recent = nil
	m.recorded = 0
}

// resolveSignal maps a signal string to its dimension by prefix.
func resolveSignal(signal string) (string, bool) {
	for prefix, name := range signalPrefixes {
		if strings.HasPrefix(signal, prefix) {
			return name, true
		}
	}
	return "", false
}
