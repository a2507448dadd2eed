package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"verity/internal/monitoring"
	monitoringhandler "verity/internal/monitoring/handler"
	monitoringmetrics "verity/internal/monitoring/metrics"
	"verity/internal/platform/config"
	"verity/internal/platform/httpserver"
	"verity/internal/platform/logger"
	"verity/internal/ratelimit"
	ratelimitmetrics "verity/internal/ratelimit/metrics"
	ratelimitmw "verity/internal/ratelimit/middleware"
	httptransport "verity/internal/transport/http"
	"verity/internal/verification"
	verificationhandler "verity/internal/verification/handler"
	verificationmetrics "verity/internal/verification/metrics"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "verity: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	limiter := ratelimit.New(
		ratelimit.WithRetention(cfg.RateLimit.RetainFor),
		ratelimit.WithCleanupInterval(cfg.RateLimit.CleanupEvery),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
	)

	registry, err := buildSources(cfg, infra, limiter, log, reg)
	if err != nil {
		return err
	}
	repo, err := buildRepository(ctx, infra, log)
	if err != nil {
		return err
	}

	aggregator := verification.NewAggregator(verification.DefaultAggregatorConfig())
	verifier, err := verification.NewService(registry, aggregator,
		verification.WithLogger(log),
		verification.WithMetrics(verificationmetrics.New(reg)),
		verification.WithVerdictStore(repo),
		verification.WithSourceTimeout(cfg.Sources.VerifyTimeout),
	)
	if err != nil {
		return fmt.Errorf("build verification service: %w", err)
	}

	threshold, err := monitoring.ParseSeverity(cfg.Monitoring.AlertThreshold)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg, infra, log)
	if err != nil {
		return err
	}
	orchestrator, err := monitoring.NewOrchestrator(
		repo,
		verifier,
		aggregator,
		monitoring.NewDetector(monitoring.DefaultDetectorConfig()),
		notifier,
		monitoring.WithWorkers(cfg.Monitoring.Workers),
		monitoring.WithAlertThreshold(threshold),
		monitoring.WithLogger(log),
		monitoring.WithMetrics(monitoringmetrics.New(reg)),
	)
	if err != nil {
		return fmt.Errorf("build monitoring orchestrator: %w", err)
	}

	rateLimit := ratelimitmw.New(limiter, log, cfg.RateLimit.VerifyLimit, cfg.RateLimit.VerifyWindow,
		ratelimitmw.WithDisabled(cfg.RateLimit.Disabled),
	)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:   log,
		Gatherer: reg,
		Checks:   infra.healthChecks(),
		APIs: []httptransport.Registrar{
			verificationhandler.New(verifier, log, verificationhandler.WithVerifyMiddleware(rateLimit.PerClientIP)),
			monitoringhandler.New(orchestrator, repo, log, monitoringhandler.WithKnownSources(registry.Names())),
		},
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	if cfg.Monitoring.Enabled {
		scheduler, err := monitoring.NewScheduler(orchestrator, cfg.Monitoring.Interval, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Info("starting verity", "addr", cfg.Server.Addr, "sources", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped", "uptime", time.Since(infra.startedAt).Round(time.Second).String())
	return nil
}
