package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Server     Server
	Log        Log
	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	NATS       NATSConfig
	Sources    Sources
	Monitoring Monitoring
	RateLimit  RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string // "json" or "text"
}

// RedisConfig enables the shared source cache when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig enables the Postgres monitoring repository when DSN is set.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig enables the Kafka alert notifier when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string
	AlertTopic        string
	Partitions        int32
	ReplicationFactor int16
}

// NATSConfig enables the NATS alert notifier when URL is set.
type NATSConfig struct {
	URL          string
	AlertSubject string
}

// Source is the upstream configuration of one data source.
type Source struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Sources configures every source client and the shared retry/cache policy.
type Sources struct {
	VIES        Source
	Sanctions   Source
	BizRegistry Source

	CacheTTL       time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	VerifyTimeout  time.Duration
	OutboundLimit  int
	OutboundWindow time.Duration
}

// Monitoring configures the periodic re-verification loop.
type Monitoring struct {
	Enabled        bool
	Interval       time.Duration
	Workers        int
	AlertThreshold string
}

// RateLimit configures inbound admission control.
type RateLimit struct {
	Disabled     bool
	VerifyLimit  int
	VerifyWindow time.Duration
	CleanupEvery time.Duration
	RetainFor    time.Duration
}

// FromEnv builds the Config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	var errs []string
	p := parser{errs: &errs}

	cfg := Config{
		Server: Server{
			Addr:            getEnv("VERITY_ADDR", ":8080"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     p.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    p.int("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    p.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			AlertTopic:        getEnv("KAFKA_ALERT_TOPIC", "verity.alerts"),
			Partitions:        int32(p.int("KAFKA_ALERT_PARTITIONS", 3)),
			ReplicationFactor: int16(p.int("KAFKA_ALERT_REPLICATION", 1)),
		},
		NATS: NATSConfig{
			URL:          os.Getenv("NATS_URL"),
			AlertSubject: getEnv("NATS_ALERT_SUBJECT", "verity.alerts"),
		},
		Sources: Sources{
			VIES: Source{
				BaseURL: getEnv("VIES_BASE_URL", "https://ec.europa.eu/taxation_customs/vies/rest-api"),
				Timeout: p.duration("VIES_TIMEOUT", 15*time.Second),
			},
			Sanctions: Source{
				BaseURL: getEnv("SANCTIONS_BASE_URL", "https://api.opensanctions.org"),
				APIKey:  os.Getenv("SANCTIONS_API_KEY"),
				Timeout: p.duration("SANCTIONS_TIMEOUT", 10*time.Second),
			},
			BizRegistry: Source{
				BaseURL: getEnv("BIZREGISTRY_BASE_URL", "http://localhost:9090"),
				APIKey:  os.Getenv("BIZREGISTRY_API_KEY"),
				Timeout: p.duration("BIZREGISTRY_TIMEOUT", 30*time.Second),
			},
			CacheTTL:       p.duration("SOURCE_CACHE_TTL", time.Hour),
			MaxAttempts:    p.int("SOURCE_MAX_ATTEMPTS", 3),
			BackoffBase:    p.duration("SOURCE_BACKOFF_BASE", time.Second),
			VerifyTimeout:  p.duration("VERIFY_TIMEOUT", 90*time.Second),
			OutboundLimit:  p.int("SOURCE_OUTBOUND_LIMIT", 0),
			OutboundWindow: p.duration("SOURCE_OUTBOUND_WINDOW", time.Minute),
		},
		Monitoring: Monitoring{
			Enabled:        getEnv("MONITORING_ENABLED", "true") == "true",
			Interval:       p.duration("MONITORING_INTERVAL", 24*time.Hour),
			Workers:        p.int("MONITORING_WORKERS", 5),
			AlertThreshold: getEnv("MONITORING_ALERT_THRESHOLD", "high"),
		},
		RateLimit: RateLimit{
			Disabled:     os.Getenv("RATELIMIT_DISABLED") == "true",
			VerifyLimit:  p.int("RATELIMIT_VERIFY_LIMIT", 30),
			VerifyWindow: p.duration("RATELIMIT_VERIFY_WINDOW", time.Minute),
			CleanupEvery: p.duration("RATELIMIT_CLEANUP_EVERY", 5*time.Minute),
			RetainFor:    p.duration("RATELIMIT_RETAIN_FOR", time.Hour),
		},
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces cross-field invariants.
func (c Config) Validate() error {
	if c.Sources.MaxAttempts < 1 {
		return fmt.Errorf("SOURCE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Monitoring.Workers < 1 {
		return fmt.Errorf("MONITORING_WORKERS must be at least 1")
	}
	if c.Monitoring.Interval <= 0 {
		return fmt.Errorf("MONITORING_INTERVAL must be positive")
	}
	switch c.Monitoring.AlertThreshold {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("MONITORING_ALERT_THRESHOLD must be one of low, medium, high, critical")
	}
	if c.RateLimit.VerifyLimit < 1 {
		return fmt.Errorf("RATELIMIT_VERIFY_LIMIT must be at least 1")
	}
	return nil
}

type parser struct {
	errs *[]string
}

func (p parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
