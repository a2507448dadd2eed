package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"verity/internal/evidence/sources"
	"verity/internal/evidence/sources/bizregistry"
	"verity/internal/evidence/sources/cache"
	"verity/internal/evidence/sources/httpx"
	sourcemetrics "verity/internal/evidence/sources/metrics"
	"verity/internal/evidence/sources/sanctions"
	"verity/internal/evidence/sources/vies"
	"verity/internal/monitoring"
	"verity/internal/monitoring/notify"
	"verity/internal/monitoring/store"
	"verity/internal/platform/config"
	"verity/internal/platform/kafka"
	"verity/internal/platform/postgres"
	"verity/internal/platform/redis"
	"verity/internal/ratelimit"
	httptransport "verity/internal/transport/http"
	"verity/pkg/platform/circuit"
)

// infra holds the optional backing services. Each one is nil when its
// configuration is absent and the process falls back to in-memory or log
// based equivalents.
type infra struct {
	startedAt time.Time
	redis     *redis.Client
	db        *sql.DB
	kafka     *kgo.Client
	nats      *nats.Conn
	log       *slog.Logger
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{startedAt: time.Now(), log: log}

	var err error
	if in.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if in.db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
		in.Close()
		return nil, err
	}
	if in.kafka, err = kafka.New(ctx, cfg.Kafka); err != nil {
		in.Close()
		return nil, err
	}
	if cfg.NATS.URL != "" {
		if in.nats, err = notify.ConnectNATS(cfg.NATS.URL); err != nil {
			in.Close()
			return nil, err
		}
	}
	log.Info("infrastructure ready",
		"redis", in.redis != nil,
		"postgres", in.db != nil,
		"kafka", in.kafka != nil,
		"nats", in.nats != nil,
	)
	return in, nil
}

func (in *infra) Close() {
	if in.nats != nil {
		if err := in.nats.Drain(); err != nil {
			in.log.Warn("nats drain failed", "error", err)
		}
	}
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}

func (in *infra) healthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	if in.kafka != nil {
		checks["kafka"] = in.kafka.Ping
	}
	if in.nats != nil {
		conn := in.nats
		checks["nats"] = func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	return checks
}

func buildSources(cfg config.Config, in *infra, limiter *ratelimit.Limiter, log *slog.Logger, reg prometheus.Registerer) (*sources.Registry, error) {
	httpClient := &http.Client{Transport: http.DefaultTransport}
	lookupMetrics := sourcemetrics.New(reg)

	upstreams := []struct {
		source sources.Source
		cfg    config.Source
	}{
		{vies.New(cfg.Sources.VIES.BaseURL, httpx.WithHTTPClient(httpClient)), cfg.Sources.VIES},
		{sanctions.New(cfg.Sources.Sanctions.BaseURL, cfg.Sources.Sanctions.APIKey, sanctions.DefaultMatchThreshold,
			httpx.WithHTTPClient(httpClient)), cfg.Sources.Sanctions},
		{bizregistry.New(cfg.Sources.BizRegistry.BaseURL, cfg.Sources.BizRegistry.APIKey,
			httpx.WithHTTPClient(httpClient)), cfg.Sources.BizRegistry},
	}

	registry := sources.NewRegistry()
	for _, u := range upstreams {
		name := u.source.Name()
		opts := []sources.ClientOption{
			sources.WithCache(sourceCache(in, name), cfg.Sources.CacheTTL),
			sources.WithRetry(cfg.Sources.MaxAttempts, cfg.Sources.BackoffBase),
			sources.WithTimeout(u.cfg.Timeout),
			sources.WithBreaker(circuit.New(name, circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))),
			sources.WithLogger(log),
			sources.WithMetrics(lookupMetrics),
		}
		if cfg.Sources.OutboundLimit > 0 {
			opts = append(opts, sources.WithOutboundLimit(limiter, cfg.Sources.OutboundLimit, cfg.Sources.OutboundWindow))
		}
		client, err := sources.NewClient(u.source, opts...)
		if err != nil {
			return nil, fmt.Errorf("build %s client: %w", name, err)
		}
		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func sourceCache(in *infra, name string) sources.Cache {
	if in.redis != nil {
		return cache.NewRedisCache(in.redis.Client, name)
	}
	return cache.NewInMemoryCache(time.Now)
}

// buildRepository returns the store shared by verification and monitoring.
func buildRepository(ctx context.Context, in *infra, log *slog.Logger) (monitoring.Repository, error) {
	if in.db == nil {
		log.Warn("DATABASE_URL not set, monitoring state is kept in memory")
		return store.NewInMemoryStore(), nil
	}
	pg := store.NewPostgres(in.db)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func buildNotifier(cfg config.Config, in *infra, log *slog.Logger) (monitoring.Notifier, error) {
	var sinks []monitoring.Notifier
	if in.kafka != nil {
		k, err := notify.NewKafka(in.kafka, cfg.Kafka.AlertTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	if in.nats != nil {
		n, err := notify.NewNATS(in.nats, cfg.NATS.AlertSubject)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n)
	}
	if len(sinks) == 0 {
		return notify.NewLog(log), nil
	}
	return notify.NewFanout(sinks...), nil
}
