// Package scorecache caches classifier outputs keyed by prompt
// fingerprint. Beyond plain LRU+TTL it watches the recent tier history of
// each fingerprint and pins oscillating prompts to their modal tier
// (jitter lock).
package scorecache

import (
	"container/list"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/models"
)

// Boundary labels recorded with each entry.
const (
	BoundarySimpleMedium     = "simple-medium"
	BoundaryMediumComplex    = "medium-complex"
	BoundaryComplexReasoning = "complex-reasoning"
)

const tierHistoryWindow = 5

// CachedScore is a cached classifier result plus boundary bookkeeping.
type CachedScore struct {
	Result             models.ScoringResult
	Timestamp          time.Time
	HitCount           int
	DistanceToBoundary float64
	BoundaryName       string
	LastTier           models.Tier
}

type cacheEntry struct {
	key     string
	score   CachedScore
	element *list.Element
}

// Cache is a thread-safe LRU+TTL score cache with jitter detection.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List

	// Last observed tiers per fingerprint and the locks installed when
	// the recent window disagrees with itself.
	tierHistory map[string][]models.Tier
	jitterLocks map[string]models.Tier

	maxSize         int
	ttl             time.Duration
	fuzzyWidth      float64
	jitterThreshold int

	hits   uint64
	misses uint64

	logger *zap.Logger
	now    func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Cache. When cfg.CleanupInterval is positive a background
// sweep removes expired entries until Close is called.
func New(cfg config.CacheConfig, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		entries:         make(map[string]*cacheEntry),
		lruList:         list.New(),
		tierHistory:     make(map[string][]models.Tier),
		jitterLocks:     make(map[string]models.Tier),
		maxSize:         cfg.MaxSize,
		ttl:             cfg.TTL,
		fuzzyWidth:      cfg.FuzzyWidth,
		jitterThreshold: cfg.JitterThreshold,
		logger:          logger,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(cfg.CleanupInterval)
	}
	return c
}

// Close stops the background sweep.
func (c *Cache) Close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// Get returns the cached score for a fingerprint, refreshing LRU order
// and incrementing the hit count. If a jitter lock disagrees with the
// cached tier, the locked tier is substituted and confidence clamped to
// at least 0.7.
func (c *Cache) Get(fp string) *CachedScore {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[fp]
	if !exists || c.now().Sub(entry.score.Timestamp) > c.ttl {
		c.misses++
		if exists {
			c.removeEntry(fp)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	entry.score.HitCount++
	c.hits++

	out := entry.score
	if locked, ok := c.jitterLocks[fp]; ok && out.Result.Tier != nil && *out.Result.Tier != locked {
		tier := locked
		out.Result.Tier = &tier
		if out.Result.Confidence < 0.7 {
			out.Result.Confidence = 0.7
		}
	}
	return &out
}

// Set stores a classifier result, recording the distance to the nearest
// tier boundary and updating the fingerprint's tier history.
func (c *Cache) Set(fp string, result models.ScoringResult, boundaries config.TierBoundaries, score float64) {
	distance, name := nearestBoundary(score, boundaries)

	c.mu.Lock()
	defer c.mu.Unlock()

	cached := CachedScore{
		Result:             result,
		Timestamp:          c.now(),
		DistanceToBoundary: distance,
		BoundaryName:       name,
	}
	if result.Tier != nil {
		cached.LastTier = *result.Tier
		c.trackTier(fp, *result.Tier)
	}

	if entry, exists := c.entries[fp]; exists {
		cached.HitCount = entry.score.HitCount
		entry.score = cached
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{key: fp, score: cached}
	entry.element = c.lruList.PushFront(fp)
	c.entries[fp] = entry
}

// ShouldUseCachedTier reports whether the cached tier should be honored
// over a freshly computed one: the tiers disagree and the cached score
// sat inside the fuzzy boundary region.
func (c *Cache) ShouldUseCachedTier(cached *CachedScore, newTier models.Tier) bool {
	if cached == nil || cached.Result.Tier == nil {
		return false
	}
	return *cached.Result.Tier != newTier && cached.DistanceToBoundary < c.fuzzyWidth
}

// LockedTier returns the jitter lock for a fingerprint, if any.
func (c *Cache) LockedTier(fp string) (models.Tier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.jitterLocks[fp]
	return t, ok
}

// trackTier appends to the bounded tier window and installs a jitter
// lock when the last jitterThreshold observations are not all equal.
// The lock pins to the modal tier of the whole window, so continued
// oscillation cannot drag the lock toward the newest tier. Caller
// holds the lock.
func (c *Cache) trackTier(fp string, tier models.Tier) {
	window := append(c.tierHistory[fp], tier)
	if len(window) > tierHistoryWindow {
		window = window[len(window)-tierHistoryWindow:]
	}
	c.tierHistory[fp] = window

	if len(window) < c.jitterThreshold {
		return
	}
	recent := window[len(window)-c.jitterThreshold:]
	stable := true
	for _, t := range recent[1:] {
		if t != recent[0] {
			stable = false
			break
		}
	}
	if stable {
		delete(c.jitterLocks, fp)
		return
	}

	mode := modalTier(window)
	c.jitterLocks[fp] = mode
	c.logger.Debug("tier jitter detected, locking to mode",
		zap.String("fingerprint", fp),
		zap.String("tier", mode.String()))
}

func modalTier(tiers []models.Tier) models.Tier {
	counts := make(map[models.Tier]int)
	for _, t := range tiers {
		counts[t]++
	}
	best := tiers[0]
	for _, t := range tiers {
		if counts[t] > counts[best] {
			best = t
		}
	}
	return best
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	JitterLocks int     `json:"jitter_locks"`
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:        c.lruList.Len(),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		HitRate:     rate,
		JitterLocks: len(c.jitterLocks),
	}
}

// Clear removes all entries, tier history, and jitter locks.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
	c.tierHistory = make(map[string][]models.Tier)
	c.jitterLocks = make(map[string]models.Tier)
}

// CleanupExpired removes all expired entries and returns how many were
// dropped.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for fp, entry := range c.entries {
		if c.now().Sub(entry.score.Timestamp) > c.ttl {
			expired = append(expired, fp)
		}
	}
	for _, fp := range expired {
		c.removeEntry(fp)
	}
	return len(expired)
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.CleanupExpired(); n > 0 {
				c.logger.Debug("score cache sweep", zap.Int("expired", n))
			}
		case <-c.stopCh:
			return
		}
	}
}

// removeEntry removes an entry and its jitter state. Caller holds the lock.
func (c *Cache) removeEntry(fp string) {
	if entry, exists := c.entries[fp]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, fp)
	}
	delete(c.tierHistory, fp)
	delete(c.jitterLocks, fp)
}

// evictLRU evicts the least recently used entry. Caller holds the lock.
func (c *Cache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.removeEntry(back.Value.(string))
}

// nearestBoundary returns the distance to the closest tier boundary and
// its label.
func nearestBoundary(score float64, b config.TierBoundaries) (float64, string) {
	type bound struct {
		value float64
		name  string
	}
	bounds := []bound{
		{b.SimpleMedium, BoundarySimpleMedium},
		{b.MediumComplex, BoundaryMediumComplex},
		{b.ComplexReasoning, BoundaryComplexReasoning},
	}
	best := bounds[0]
	bestDist := math.Abs(score - best.value)
	for _, bd := range bounds[1:] {
		if d := math.Abs(score - bd.value); d < bestDist {
			best = bd
			bestDist = d
		}
	}
	return bestDist, best.name
}
