// Package app assembles the analysis pipeline and its backing services from
// configuration. It is shared by the HTTP server and the pgxctl CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/pharmgx-risk-server/internal/cache"
	"github.com/pharmgx-risk-server/internal/database"
	"github.com/pharmgx-risk-server/internal/domain"
	"github.com/pharmgx-risk-server/internal/feedback"
	"github.com/pharmgx-risk-server/internal/health"
	"github.com/pharmgx-risk-server/internal/metrics"
	"github.com/pharmgx-risk-server/internal/service"
	"github.com/pharmgx-risk-server/pkg/external"
)

// Feedback drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Options selects which optional services are started
type Options struct {
	// Explain enables the language-model provider when explanation.enabled is
	// also set. Otherwise template explanations are used.
	Explain bool
	// Feedback opens the configured feedback store.
	Feedback bool
}

// App holds the assembled services
type App struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	Metrics  *metrics.Collector
	Analyzer *service.Analyzer
	Feedback feedback.Store
	Health   *health.Checker

	closers []func() error
}

// New builds the pipeline. Failing optional tiers (Redis) are logged and skipped;
// a configured feedback store that cannot be opened is an error.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(),
		Health: health.NewChecker(health.Config{
			Version: cfg.MCP.ServerVersion,
		}, logger),
	}

	explainer := a.buildExplainer(opts.Explain)
	a.Analyzer = service.NewAnalyzer(explainer, logger,
		service.WithMaxConcurrency(cfg.Pipeline.MaxConcurrency),
		service.WithAnalysisRecorder(a.Metrics),
	)

	if opts.Feedback {
		if err := a.openFeedback(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) buildExplainer(explain bool) *service.Explainer {
	cfg := a.Config
	explainerOpts := []service.ExplainerOption{
		service.WithMemoryCache(cache.NewMemoryCache[string](cfg.Cache.MaxItems, cfg.Cache.DefaultTTL)),
		service.WithRecorder(a.Metrics),
	}
	if cfg.Explanation.Timeout > 0 {
		explainerOpts = append(explainerOpts, service.WithTimeout(cfg.Explanation.Timeout))
	}

	if cfg.Cache.RedisURL != "" {
		shared, err := external.NewExplanationCache(cfg.Cache)
		if err != nil {
			a.Logger.WithError(err).Warn("Shared explanation cache unavailable, continuing without it")
		} else {
			explainerOpts = append(explainerOpts, service.WithSharedCache(shared))
			a.Health.Register(health.NewPingCheck("redis", shared.Ping))
			a.closers = append(a.closers, shared.Close)
		}
	}

	var provider domain.ExplanationProvider
	if explain && cfg.Explanation.Enabled && cfg.Explanation.APIKey != "" {
		client := external.NewOpenRouterClient(external.OpenRouterConfig{
			BaseURL:     cfg.Explanation.BaseURL,
			APIKey:      cfg.Explanation.APIKey,
			Model:       cfg.Explanation.Model,
			Timeout:     cfg.Explanation.Timeout,
			Temperature: cfg.Explanation.Temperature,
			MaxTokens:   cfg.Explanation.MaxTokens,
			RateLimit:   cfg.Explanation.RateLimit,
		}, a.Logger)
		a.Health.Register(health.NewBreakerCheck("explanation_provider", client))
		provider = client
	} else {
		a.Logger.Info("Explanation provider disabled, using template explanations")
	}

	return service.NewExplainer(provider, a.Logger, explainerOpts...)
}

func (a *App) openFeedback(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Feedback.Driver {
	case DriverSQLite, "":
		if dir := filepath.Dir(cfg.Feedback.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create feedback directory: %w", err)
			}
		}
		store, err := feedback.NewSQLiteStore(cfg.Feedback.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite feedback store: %w", err)
		}
		a.Feedback = store
		a.Health.Register(health.NewPingCheck("feedback_store", store.Ping))
		a.closers = append(a.closers, store.Close)

	case DriverPostgres:
		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		store, err := feedback.NewPostgresStoreFromPool(db.Pool)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to open postgres feedback store: %w", err)
		}
		a.Feedback = store
		a.Health.Register(health.NewPingCheck("database", db.Health))
		// store first so its sql.DB is released before the pool
		a.closers = append(a.closers, store.Close, func() error { db.Close(); return nil })

	case DriverNone:
		a.Logger.Info("Feedback storage disabled")

	default:
		return fmt.Errorf("unknown feedback driver %q", cfg.Feedback.Driver)
	}
	return nil
}

// Close releases everything New opened, in order
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
