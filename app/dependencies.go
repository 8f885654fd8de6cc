package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/middleware"
	"github.com/x402labs/llm-router/repositories"
	"github.com/x402labs/llm-router/repositories/postgres"
	"github.com/x402labs/llm-router/services/adaptive"
	"github.com/x402labs/llm-router/services/audit"
	"github.com/x402labs/llm-router/services/classifier"
	"github.com/x402labs/llm-router/services/health"
	"github.com/x402labs/llm-router/services/router"
	"github.com/x402labs/llm-router/services/scorecache"
	"github.com/x402labs/llm-router/services/session"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Optional audit store. Nil when AUDIT_DATABASE_URL is unset.
	DB        *postgres.DB
	Decisions repositories.DecisionRepository
	AuditSink *audit.AsyncSink

	// Routing stores
	Classifier *classifier.Classifier
	Cache      *scorecache.Cache
	Adaptive   *adaptive.Manager
	Health     *health.Tracker
	Sessions   *session.Store
	Router     *router.Service

	// HTTP middleware
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	sink, err := deps.initAuditSink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit sink: %w", err)
	}

	if err := deps.initRouter(cfg, sink); err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	deps.AuthMiddleware = middleware.NewAuthMiddleware(cfg.Auth, logger)
	deps.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit, logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initAuditSink connects the optional Postgres decision sink. Without a
// configured audit database decisions are only logged.
func (d *Dependencies) initAuditSink(ctx context.Context, cfg *config.Config) (audit.DecisionSink, error) {
	if cfg.AuditDatabase == nil {
		d.Logger.Info("decision auditing disabled, no audit database configured")
		return audit.NopSink{}, nil
	}

	db, err := postgres.NewDB(*cfg.AuditDatabase, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect audit database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.DB = db
	repo := postgres.NewDecisionRepository(db, d.Logger)
	d.Decisions = repo

	sink := audit.NewAsyncSink(repo, d.Logger, audit.DefaultConfig())
	if err := sink.Start(); err != nil {
		_ = db.Close()
		return nil, err
	}
	d.AuditSink = sink

	d.Logger.Info("audit database connected",
		zap.String("connection", cfg.AuditDatabase.LogString()))
	return sink, nil
}

// initRouter builds the routing stores and the orchestrator on top of
// them.
func (d *Dependencies) initRouter(cfg *config.Config, sink audit.DecisionSink) error {
	cls, err := classifier.New(cfg.Scoring, d.Logger)
	if err != nil {
		return err
	}

	d.Classifier = cls
	d.Cache = scorecache.New(cfg.Cache, d.Logger)
	d.Adaptive = adaptive.New(cfg.Adaptive, d.Logger)
	d.Health = health.New(cfg.Health, d.Logger)
	d.Sessions = session.New(cfg.Session, cfg.Tiers, d.Health, d.Logger)

	svc, err := router.New(cfg, cls, d.Cache, d.Adaptive, d.Health, d.Sessions, sink, d.Logger)
	if err != nil {
		return err
	}
	d.Router = svc

	d.Logger.Info("routing stores initialized")
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Cache != nil {
		d.Cache.Close()
	}
	if d.Sessions != nil {
		d.Sessions.Close()
	}

	if d.AuditSink != nil {
		if err := d.AuditSink.Stop(5 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit sink: %w", err))
		}
		d.AuditSink = nil
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit database: %w", err))
		} else {
			d.Logger.Info("audit database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
