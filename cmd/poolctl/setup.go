package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/creator"
	"github.com/ajitpratap0/dbpool/pkg/drivers"
	"github.com/ajitpratap0/dbpool/pkg/logger"
	"github.com/ajitpratap0/dbpool/pkg/metrics"
	"github.com/ajitpratap0/dbpool/pkg/observability"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(g *globalFlags, v *viper.Viper) (*config.PoolConfig, error) {
	cfg, err := config.LoadViper(v, g.configFile)
	if err != nil {
		return nil, err
	}
	if g.driver != "" {
		cfg.Driver.Name = g.driver
	}
	if g.dsn != "" {
		cfg.Driver.DSN = g.dsn
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Driver.Name
	}
	return cfg, nil
}

// runtimePool bundles a pool with the services started for it.
type runtimePool struct {
	pool      *pool.Pool
	log       *zap.Logger
	collector *metrics.Collector
	tracing   *observability.Provider
	registry  prometheus.Registerer
}

func openPool(ctx context.Context, cfg *config.PoolConfig, reg prometheus.Registerer) (*runtimePool, error) {
	if err := logger.Init(logger.FromPoolConfig(cfg.Logging)); err != nil {
		return nil, err
	}
	log := logger.With(zap.String("component", "poolctl"), zap.String("pool", cfg.Name))

	tracing, err := observability.InitTracing(ctx,
		observability.FromConfig(cfg.Observability, "poolctl", version), log)
	if err != nil {
		return nil, err
	}

	backend, err := drivers.Open(cfg.Driver)
	if err != nil {
		_ = tracing.Shutdown(ctx)
		return nil, err
	}

	tracer := tracing.Tracer("github.com/ajitpratap0/dbpool")
	c := creator.FromConfig(cfg.Connect, backend.Creator, log)
	c = creator.Chain(c, creator.WithTracing(tracer, cfg.Name))

	p, err := pool.New(cfg, c,
		pool.WithLogger(log),
		pool.WithDetector(backend.Detector),
		pool.WithTracer(tracer),
	)
	if err != nil {
		_ = tracing.Shutdown(ctx)
		return nil, err
	}

	rp := &runtimePool{pool: p, log: log, tracing: tracing}
	if cfg.Observability.EnableMetrics && reg != nil {
		rp.collector = metrics.NewCollector(p)
		if err := rp.collector.Register(reg); err != nil {
			rp.close(ctx)
			return nil, err
		}
		rp.registry = reg
	}
	return rp, nil
}

func (r *runtimePool) close(ctx context.Context) {
	if r.collector != nil && r.registry != nil {
		r.collector.Unregister(r.registry)
	}
	if err := r.pool.Dispose(); err != nil {
		r.log.Warn("dispose reported errors", zap.Error(err))
	}
	if err := r.tracing.Shutdown(ctx); err != nil {
		r.log.Warn("tracing shutdown failed", zap.Error(err))
	}
	_ = logger.Sync()
}
