package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/infrastructure/cache"
	"github.com/ahrav/go-cadmark/infrastructure/cad"
	"github.com/ahrav/go-cadmark/infrastructure/housekeeping"
	"github.com/ahrav/go-cadmark/infrastructure/metrics"
	"github.com/ahrav/go-cadmark/infrastructure/sink"
	"github.com/ahrav/go-cadmark/internal/application"
	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// app is a fully wired grader plus everything that must be released
// after the run.
type app struct {
	grader   *application.Grader
	tracker  *application.ProgressTracker
	registry *prometheus.Registry
	closers  []func() error
}

func (a *app) close(logger *zap.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("failed to release resource", zap.Error(err))
		}
	}
}

// build wires cfg into a runnable grader. cfg must already be valid.
func build(ctx context.Context, cfg application.Config, opts options, logger *zap.Logger) (*app, error) {
	a := &app{
		tracker:  application.NewProgressTracker(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusMetrics(a.registry)

	extractor, err := buildExtractor(cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	var cached ports.Extractor = extractor
	store, closeStore, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if store != nil {
		a.closers = append(a.closers, closeStore)
		if opts.clearCache {
			if err := store.Clear(ctx); err != nil {
				return nil, domain.NewConfigurationError("cache", fmt.Errorf("clear: %w", err))
			}
			logger.Info("property cache cleared")
		}
		cached = application.NewCachingExtractor(extractor, store, cfg.CacheTTL(), logger.Named("cache"))
	}

	batch, err := application.NewBatchProcessor(cached,
		application.WithScale(cfg.MarkScale()),
		application.WithObservers(a.tracker, application.LogProgress(logger.Named("progress"))),
		application.WithBatchLogger(logger.Named("batch")),
		application.WithBatchMetrics(collector),
	)
	if err != nil {
		return nil, err
	}

	sinks := []ports.ResultSink{sink.NewCSVFileSink(cfg.ReportPath(), logger.Named("csv"))}
	if cfg.Report.PostgresDSN != "" {
		db, err := sink.OpenPostgres(ctx, cfg.Report.PostgresDSN)
		if err != nil {
			return nil, domain.NewConfigurationError("report.postgres_dsn", err)
		}
		a.closers = append(a.closers, db.Close)
		pg, err := sink.NewPostgresSink(db, "", logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, domain.NewConfigurationError("report.postgres_dsn", err)
		}
		sinks = append(sinks, pg)
	}

	graderOpts := []application.GraderOption{
		application.WithHousekeeper(housekeeping.NewCleaner(cfg.Housekeeping.Extensions, logger.Named("housekeeping"))),
		application.WithSinks(sinks...),
		application.WithProgressTracker(a.tracker),
		application.WithGraderLogger(logger.Named("grader")),
		application.WithGraderMetrics(collector),
	}
	if cfg.Roster.Path != "" {
		roster, err := application.LoadRoster(cfg.Roster.Path, cfg.Roster.MaxDistance, logger.Named("roster"))
		if err != nil {
			return nil, err
		}
		graderOpts = append(graderOpts, application.WithRoster(roster))
	}

	a.grader, err = application.NewGrader(application.GraderConfig{
		Reference:            cfg.Reference,
		SubmissionsDir:       cfg.SubmissionsDir,
		OutputDir:            cfg.OutputDir,
		SubmissionExtensions: cfg.SubmissionExtensions,
	}, cached, batch, graderOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildExtractor wraps the command adapters in the call middleware and
// the retrying extractor.
func buildExtractor(cfg application.Config, collector ports.MetricsCollector, logger *zap.Logger) (*application.PropertyExtractor, error) {
	exporter, err := cad.NewCommandExporter(cfg.Export.Command, cfg.Export.Extension, logger.Named("exporter"))
	if err != nil {
		return nil, domain.NewConfigurationError("export.command", err)
	}
	kernel, err := cad.NewCommandKernel(cfg.Kernel.Command, logger.Named("kernel"))
	if err != nil {
		return nil, domain.NewConfigurationError("kernel.command", err)
	}

	tracer := otel.Tracer("cad")
	var breaker cad.Middleware
	if cfg.Export.BreakerThreshold > 0 {
		breaker = cad.CircuitBreakerMiddleware(
			cfg.Export.BreakerThreshold,
			time.Duration(cfg.Export.BreakerCooldownSeconds)*time.Second,
			collector,
		)
	}

	wrappedExporter := cad.WrapExporter(exporter,
		cad.TracingMiddleware(tracer),
		cad.MetricsMiddleware(collector),
		breaker,
		cad.RateLimitMiddleware(cad.PerMinute(cfg.Export.LaunchesPerMinute), 1),
		cad.TimeoutMiddleware(time.Duration(cfg.Export.TimeoutSeconds)*time.Second),
	)
	wrappedKernel := cad.WrapKernel(kernel,
		cad.TracingMiddleware(tracer),
		cad.MetricsMiddleware(collector),
		cad.TimeoutMiddleware(time.Duration(cfg.Kernel.TimeoutSeconds)*time.Second),
	)

	return application.NewPropertyExtractor(wrappedExporter, wrappedKernel, cfg.RetryConfig(),
		application.WithExtractorLogger(logger.Named("extractor")),
		application.WithExtractorMetrics(collector),
	)
}

// buildCache returns nil when caching is disabled.
func buildCache(ctx context.Context, cfg application.CacheConfig) (ports.CacheStore, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		client, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, domain.NewConfigurationError("cache.redis_url", err)
		}
		store := cache.NewRedisStore(client, cache.DefaultRedisPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, domain.NewConfigurationError("cache.redis_url", err)
		}
		return store, client.Close, nil
	default:
		return nil, nil, nil
	}
}
