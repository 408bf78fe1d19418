// Package app wires configuration into the running orchestrator and its
// collaborators. Both binaries build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clintrovert/gitpulse/internal/github"
	"github.com/clintrovert/gitpulse/internal/metrics"
	"github.com/clintrovert/gitpulse/internal/orchestrator"
	"github.com/clintrovert/gitpulse/internal/registry"
	"github.com/clintrovert/gitpulse/internal/store"
	"github.com/clintrovert/gitpulse/internal/syncer"
	"github.com/clintrovert/gitpulse/pkg/config"
)

// Components holds everything a binary needs to serve or run tasks.
type Components struct {
	Config       *config.Config
	Store        *store.Store
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
}

// NewLogger builds the process logger. LOG_LEVEL=debug switches to the
// development configuration.
func NewLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// Build opens the store, recovers tasks left by a previous process and
// assembles the orchestrator. Metrics are registered on reg when it is not
// nil. Workers are not started.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*Components, error) {
	st, err := store.Open(ctx, store.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	c, err := assemble(ctx, cfg, st, reg, logger)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}
	return c, nil
}

func assemble(ctx context.Context, cfg *config.Config, st *store.Store, reg prometheus.Registerer, logger *zap.Logger) (*Components, error) {
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	creds := github.NewStoreCredentials(st, cfg.GitHubToken)
	api, err := github.NewClient(creds, github.Options{
		BaseURL:        cfg.GitHubBaseURL,
		RatePerSecond:  cfg.GitHubRatePerSecond,
		Burst:          cfg.GitHubRateBurst,
		RequestTimeout: cfg.GitHubRequestTimeout,
		MaxListed:      cfg.MaxListedRepositories,
	}, logger.Named("github"))
	if err != nil {
		return nil, fmt.Errorf("failed to create github client: %w", err)
	}
	mirror := github.NewMirrorSource(creds, cfg.WorkspaceDir, logger.Named("mirror"))

	retrier := syncer.NewRetrier(syncer.RetryOptions{
		RateLimitRounds:  cfg.RateLimitRounds,
		RateLimitMaxWait: cfg.RateLimitMaxWait,
		TransientRetries: cfg.TransientRetries,
	}, logger.Named("retry"))
	retrier.OnThrottle = m.RateLimitWait

	engine := syncer.NewEngine(&github.Router{API: api, Mirror: mirror}, st, retrier, logger.Named("syncer"))

	tasks := registry.New(st, logger.Named("registry"))
	if _, err := tasks.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover tasks: %w", err)
	}

	orch := orchestrator.NewOrchestrator(tasks, st, engine, api, retrier, m, orchestrator.Options{
		Workers:          cfg.WorkerCount,
		QueueSize:        cfg.QueueSize,
		BulkConcurrency:  cfg.BulkConcurrency,
		RefreshFreshness: cfg.RefreshFreshness,
	}, logger.Named("orchestrator"))

	return &Components{
		Config:       cfg,
		Store:        st,
		Registry:     tasks,
		Orchestrator: orch,
		Metrics:      m,
	}, nil
}

// Close stops the workers and closes the store.
func (c *Components) Close() error {
	c.Orchestrator.Stop()
	return c.Store.Close()
}
