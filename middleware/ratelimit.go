package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/utils"
)

// Idle clients are pruned once the map grows past this size.
const rateLimiterPruneSize = 1024

// RateLimiter applies a per-client token bucket. Clients are keyed by
// remote IP (chi's RealIP middleware normalizes RemoteAddr upstream).
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Limit rejects requests above the per-client rate with 429.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(clientKey(r)) {
			_ = utils.WriteTooManyRequests(w, "", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
		}
		l.clients[key] = entry
	}
	entry.lastSeen = l.now()
	if !ok && len(l.clients) > rateLimiterPruneSize {
		l.pruneLocked()
	}
	return entry.limiter.Allow()
}

// pruneLocked drops clients idle for more than ten minutes.
func (l *RateLimiter) pruneLocked() {
	cutoff := l.now().Add(-10 * time.Minute)
	for key, entry := range l.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
