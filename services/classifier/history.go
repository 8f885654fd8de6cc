package classifier

import (
	"math/rand"
	"sync"
	"time"

	"github.com/x402labs/llm-router/models"
)

const (
	historyMaxSize = 1000
	historyTTL     = 5 * time.Minute
	// Probability of running expired-entry cleanup on a given Record call.
	historyCleanupChance = 0.01
)

type historyEntry struct {
	tier       models.Tier
	score      float64
	lastAccess time.Time
}

// History keeps the prior (tier, score) per fingerprint so repeat
// classifications can apply hysteresis. Size-capped with oldest-access
// eviction plus a probabilistic TTL sweep; no timer needed.
type History struct {
	mu      sync.Mutex
	entries map[string]*historyEntry
	now     func() time.Time
	rng     *rand.Rand
}

// NewHistory creates an empty score history.
func NewHistory() *History {
	return &History{
		entries: make(map[string]*historyEntry),
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Lookup returns the prior tier and score for a fingerprint, refreshing
// its access time. Expired entries are treated as absent.
func (h *History) Lookup(fp string) (models.Tier, float64, bool) {
	if fp == "" {
		return 0, 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[fp]
	if !ok {
		return 0, 0, false
	}
	if h.now().Sub(e.lastAccess) > historyTTL {
		delete(h.entries, fp)
		return 0, 0, false
	}
	e.lastAccess = h.now()
	return e.tier, e.score, true
}

// Record stores the resolved tier and score for a fingerprint.
func (h *History) Record(fp string, tier models.Tier, score float64) {
	if fp == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rng.Float64() < historyCleanupChance {
		h.cleanupLocked()
	}

	if e, ok := h.entries[fp]; ok {
		e.tier = tier
		e.score = score
		e.lastAccess = h.now()
		return
	}

	if len(h.entries) >= historyMaxSize {
		h.evictOldestLocked()
	}
	h.entries[fp] = &historyEntry{tier: tier, score: score, lastAccess: h.now()}
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Reset drops all entries.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string]*historyEntry)
}

func (h *History) cleanupLocked() {
	cutoff := h.now().Add(-historyTTL)
	for fp, e := range h.entries {
		if e.lastAccess.Before(cutoff) {
			delete(h.entries, fp)
		}
	}
}

func (h *History) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for fp, e := range h.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = fp
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(h.entries, oldestKey)
	}
}
