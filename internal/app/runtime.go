package app

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/cli"
	"horse.fit/trendwatch/internal/config"
	"horse.fit/trendwatch/internal/db"
	"horse.fit/trendwatch/internal/logging"
	"horse.fit/trendwatch/internal/metrics"
)

// runtime bundles the shared process dependencies the commands build after
// flag parsing.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *db.Pool
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func (r *runtime) close() {
	if r != nil && r.pool != nil {
		_ = r.pool.Close()
	}
}

// initRuntime loads the environment, config and logger, and connects to the
// database. Callers must close() the result.
func initRuntime(ctx context.Context, envLoader *cli.EnvLoader) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	return &runtime{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		metrics:  metrics.New(registry),
		registry: registry,
	}, nil
}
