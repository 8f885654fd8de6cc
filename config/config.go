package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/x402labs/llm-router/models"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Scoring       ScoringConfig
	Overrides     OverrideConfig
	Tiers         TierTable
	AgenticTiers  TierTable // Optional: parallel table biased toward long tool chains. Empty ⇒ default table used.
	Cache         CacheConfig
	Adaptive      AdaptiveConfig
	Health        HealthConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Auth          AuthConfig
	AuditDatabase *DatabaseConfig // Optional: Postgres sink for emitted decisions. When nil, auditing is disabled.
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// TierBoundaries are the weighted-score cut points between tiers.
// Strictly increasing: SimpleMedium < MediumComplex < ComplexReasoning.
type TierBoundaries struct {
	SimpleMedium     float64
	MediumComplex    float64
	ComplexReasoning float64
}

// Slice returns the boundaries in ascending order.
func (b TierBoundaries) Slice() [3]float64 {
	return [3]float64{b.SimpleMedium, b.MediumComplex, b.ComplexReasoning}
}

// TokenThresholds are the estimated-token cut points for the tokenCount
// dimension: below Simple scores -1, above Complex scores +1.
type TokenThresholds struct {
	Simple  int
	Complex int
}

// ScoringConfig drives the rule classifier.
type ScoringConfig struct {
	DimensionWeights    map[string]float64
	Boundaries          TierBoundaries
	TokenThresholds     TokenThresholds
	ConfidenceSteepness float64
	ConfidenceThreshold float64
	Keywords            KeywordConfig
}

// OverrideConfig holds the orchestrator's post-classification overrides.
type OverrideConfig struct {
	AmbiguousDefaultTier    models.Tier
	StructuredOutputMinTier models.Tier
	MaxTokensForceComplex   int
	AgenticMode             bool
	AgenticScoreThreshold   float64
}

// TierTable maps each tier to its primary model and fallbacks.
type TierTable map[models.Tier]models.ModelTarget

// CacheConfig tunes the score cache.
type CacheConfig struct {
	Enabled         bool
	MaxSize         int
	TTL             time.Duration
	FuzzyWidth      float64
	JitterThreshold int
	CleanupInterval time.Duration
}

// AdaptiveConfig tunes the adaptive weight manager.
type AdaptiveConfig struct {
	Enabled            bool
	AdjustmentInterval int
	MinAdjustment      float64
	MaxAdjustment      float64
	MinRequests        int
	Smoothing          float64
	LatencyWeight      float64
	CostWeight         float64
	SuccessWeight      float64
}

// HealthConfig tunes the model health tracker.
type HealthConfig struct {
	Enabled              bool
	HealthyThreshold     float64
	DegradedThreshold    float64
	MaxConsecutiveErrors int
	CooldownDuration     time.Duration
	LatencyThresholdMs   float64
	RecoveryThreshold    float64
	RecoveryRequests     int
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	Timeout              time.Duration
	SweepInterval        time.Duration
	DegradationThreshold int
	RecoveryThreshold    int
}

// RateLimitConfig tunes the in-memory per-client limiter.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// AuthConfig holds the bearer-token settings for admin routes.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// DatabaseConfig holds PostgreSQL configuration for the decision audit sink.
// When ConnectionString (from AUDIT_DATABASE_URL) is set, it takes precedence
// over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// ValidationError is a structured construction-time error carrying the
// offending config field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// New creates a Config by loading environment variables, applying defaults,
// and validating the result.
func New() (*Config, error) {
	// Load .env if present (repo root or cwd)
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Scoring:      DefaultScoring(),
		Overrides:    DefaultOverrides(),
		Tiers:        DefaultTiers(),
		AgenticTiers: DefaultAgenticTiers(),
		Cache: CacheConfig{
			Enabled:         getEnvAsBool("CACHE_ENABLED", true),
			MaxSize:         getEnvAsInt("CACHE_MAX_SIZE", 1000),
			TTL:             getEnvAsDuration("CACHE_TTL", 24*time.Hour),
			FuzzyWidth:      getEnvAsFloat("CACHE_FUZZY_WIDTH", 0.05),
			JitterThreshold: getEnvAsInt("CACHE_JITTER_THRESHOLD", 3),
			CleanupInterval: getEnvAsDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Adaptive: AdaptiveConfig{
			Enabled:            getEnvAsBool("ADAPTIVE_ENABLED", true),
			AdjustmentInterval: getEnvAsInt("ADAPTIVE_ADJUSTMENT_INTERVAL", 10),
			MinAdjustment:      getEnvAsFloat("ADAPTIVE_MIN_ADJUSTMENT", 0.8),
			MaxAdjustment:      getEnvAsFloat("ADAPTIVE_MAX_ADJUSTMENT", 1.2),
			MinRequests:        getEnvAsInt("ADAPTIVE_MIN_REQUESTS", 5),
			Smoothing:          getEnvAsFloat("ADAPTIVE_SMOOTHING", 0.7),
			LatencyWeight:      0.3,
			CostWeight:         0.3,
			SuccessWeight:      0.4,
		},
		Health: HealthConfig{
			Enabled:              getEnvAsBool("HEALTH_TRACKING_ENABLED", true),
			HealthyThreshold:     getEnvAsFloat("HEALTH_HEALTHY_THRESHOLD", 0.95),
			DegradedThreshold:    getEnvAsFloat("HEALTH_DEGRADED_THRESHOLD", 0.80),
			MaxConsecutiveErrors: getEnvAsInt("HEALTH_MAX_CONSECUTIVE_ERRORS", 3),
			CooldownDuration:     getEnvAsDuration("HEALTH_COOLDOWN_DURATION", 5*time.Minute),
			LatencyThresholdMs:   getEnvAsFloat("HEALTH_LATENCY_THRESHOLD_MS", 30000),
			RecoveryThreshold:    getEnvAsFloat("HEALTH_RECOVERY_THRESHOLD", 0.90),
			RecoveryRequests:     getEnvAsInt("HEALTH_RECOVERY_REQUESTS", 5),
		},
		Session: SessionConfig{
			Timeout:              getEnvAsDuration("SESSION_TIMEOUT", 30*time.Minute),
			SweepInterval:        getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			DegradationThreshold: getEnvAsInt("SESSION_DEGRADATION_THRESHOLD", 2),
			RecoveryThreshold:    getEnvAsInt("SESSION_RECOVERY_THRESHOLD", 3),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 50),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			Issuer:    getEnv("ADMIN_JWT_ISSUER", "llm-router"),
		},
		AuditDatabase: loadAuditDatabaseConfig(),
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Keyword lists may be overridden from a YAML file.
	if path := getEnv("SCORING_KEYWORDS_FILE", ""); path != "" {
		kw, err := LoadKeywordFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load keyword file: %w", err)
		}
		cfg.Scoring.Keywords = cfg.Scoring.Keywords.Merge(kw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultScoring returns the built-in scoring configuration.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		DimensionWeights: map[string]float64{
			models.DimTokenCount:         0.08,
			models.DimCodePresence:       0.15,
			models.DimReasoningMarkers:   0.18,
			models.DimTechnicalTerms:     0.10,
			models.DimCreativeMarkers:    0.05,
			models.DimSimpleIndicators:   0.02,
			models.DimMultiStepPatterns:  0.12,
			models.DimQuestionComplexity: 0.05,
			models.DimImperativeVerbs:    0.03,
			models.DimConstraintCount:    0.04,
			models.DimOutputFormat:       0.03,
			models.DimReferenceComplex:   0.02,
			models.DimNegationComplexity: 0.01,
			models.DimDomainSpecificity:  0.02,
			models.DimAgenticTask:        0.04,
		},
		Boundaries: TierBoundaries{
			SimpleMedium:     0.0,
			MediumComplex:    0.18,
			ComplexReasoning: 0.40,
		},
		TokenThresholds:     TokenThresholds{Simple: 50, Complex: 500},
		ConfidenceSteepness: 12,
		ConfidenceThreshold: 0.7,
		Keywords:            DefaultKeywords(),
	}
}

// DefaultOverrides returns the built-in override configuration.
func DefaultOverrides() OverrideConfig {
	return OverrideConfig{
		AmbiguousDefaultTier:    models.TierMedium,
		StructuredOutputMinTier: models.TierMedium,
		MaxTokensForceComplex:   100000,
		AgenticMode:             false,
		AgenticScoreThreshold:   0.75,
	}
}

// DefaultTiers returns the reference tier → model table.
func DefaultTiers() TierTable {
	return TierTable{
		models.TierSimple:    {Primary: "gemini-2.5-flash", Fallbacks: []string{"grok-code-fast-1"}},
		models.TierMedium:    {Primary: "grok-code-fast-1", Fallbacks: []string{"gemini-2.5-flash", "gemini-2.5-pro"}},
		models.TierComplex:   {Primary: "gemini-2.5-pro", Fallbacks: []string{"grok-4-fast-reasoning"}},
		models.TierReasoning: {Primary: "grok-4-fast-reasoning", Fallbacks: []string{"gemini-2.5-pro"}},
	}
}

// DefaultAgenticTiers returns the tool-use-biased parallel table.
func DefaultAgenticTiers() TierTable {
	return TierTable{
		models.TierSimple:    {Primary: "grok-code-fast-1", Fallbacks: []string{"gemini-2.5-flash"}},
		models.TierMedium:    {Primary: "grok-code-fast-1", Fallbacks: []string{"gemini-2.5-pro"}},
		models.TierComplex:   {Primary: "gemini-2.5-pro", Fallbacks: []string{"grok-4-fast-reasoning"}},
		models.TierReasoning: {Primary: "grok-4-fast-reasoning", Fallbacks: []string{"gemini-2.5-pro"}},
	}
}

// Validate rejects malformed configuration at construction time.
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Tiers.Validate("tiers"); err != nil {
		return err
	}
	if len(c.AgenticTiers) > 0 {
		if err := c.AgenticTiers.Validate("agenticTiers"); err != nil {
			return err
		}
	}
	if c.Adaptive.MinAdjustment <= 0 || c.Adaptive.MinAdjustment > c.Adaptive.MaxAdjustment {
		return &ValidationError{Field: "adaptive.minAdjustment", Reason: "must be positive and ≤ maxAdjustment"}
	}
	if c.Observability.LogLevel == "" {
		return &ValidationError{Field: "observability.logLevel", Reason: "log level is required"}
	}
	return nil
}

// Validate checks the scoring configuration.
func (s *ScoringConfig) Validate() error {
	var sum float64
	for name, w := range s.DimensionWeights {
		if w < 0 {
			return &ValidationError{Field: "scoring.dimensionWeights." + name, Reason: "weight must be non-negative"}
		}
		sum += w
	}
	if sum <= 0 {
		return &ValidationError{Field: "scoring.dimensionWeights", Reason: "weights must sum to a positive number"}
	}
	b := s.Boundaries
	if !(b.SimpleMedium < b.MediumComplex && b.MediumComplex < b.ComplexReasoning) {
		return &ValidationError{Field: "scoring.tierBoundaries", Reason: "boundaries must be strictly increasing"}
	}
	if s.ConfidenceThreshold <= 0 || s.ConfidenceThreshold >= 1 {
		return &ValidationError{Field: "scoring.confidenceThreshold", Reason: "must be in (0, 1)"}
	}
	if s.ConfidenceSteepness <= 0 {
		return &ValidationError{Field: "scoring.confidenceSteepness", Reason: "must be positive"}
	}
	if s.TokenThresholds.Simple <= 0 || s.TokenThresholds.Simple >= s.TokenThresholds.Complex {
		return &ValidationError{Field: "scoring.tokenCountThresholds", Reason: "require 0 < simple < complex"}
	}
	return nil
}

// Validate ensures every tier has a non-empty model list.
func (t TierTable) Validate(field string) error {
	if len(t) == 0 {
		return &ValidationError{Field: field, Reason: "tier table is empty"}
	}
	for _, tier := range models.AllTiers() {
		target, ok := t[tier]
		if !ok || target.Primary == "" {
			return &ValidationError{Field: field + "." + tier.String(), Reason: "primary model is required"}
		}
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from AUDIT_DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from AUDIT_DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadAuditDatabaseConfig loads the audit sink DB config from AUDIT_DATABASE_URL.
// Returns nil when not set (auditing disabled).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("AUDIT_DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
