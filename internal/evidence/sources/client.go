package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"verity/internal/evidence/sources/metrics"
	"verity/internal/ratelimit"
	"verity/pkg/platform/circuit"
)

const (
	DefaultCacheTTL    = time.Hour
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
	DefaultTimeout     = 15 * time.Second
)

// Cache stores results by canonical lookup key.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Set(ctx context.Context, key string, result Result, ttl time.Duration) error
}

// RateLimiter admits outbound calls.
type RateLimiter interface {
	IsAllowed(identifier string, limit int, window time.Duration) (bool, ratelimit.Info)
}

// Client wraps a Source with caching, retry with exponential backoff,
// optional circuit breaking and optional outbound admission control.
type Client struct {
	source      Source
	cache       Cache
	ttl         time.Duration
	maxAttempts int
	backoffBase time.Duration
	timeout     time.Duration
	breaker     *circuit.Breaker
	limiter     RateLimiter
	limit       int
	window      time.Duration
	newTimer    func() backoff.Timer
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type ClientOption func(*Client)

// WithCache enables result caching for ttl.
func WithCache(cache Cache, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cache = cache
		c.ttl = ttl
	}
}

// WithRetry sets the total attempt budget and the backoff base. The wait
// before retry n (1-based) is base * 2^n.
func WithRetry(maxAttempts int, base time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.backoffBase = base
		}
	}
}

// WithTimeout bounds a single upstream attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithOutboundLimit admits at most limit upstream attempts per window.
func WithOutboundLimit(l RateLimiter, limit int, window time.Duration) ClientOption {
	return func(c *Client) {
		if l != nil && limit > 0 && window > 0 {
			c.limiter, c.limit, c.window = l, limit, window
		}
	}
}

// WithTimer replaces the backoff timer (tests).
func WithTimer(newTimer func() backoff.Timer) ClientOption {
	return func(c *Client) {
		c.newTimer = newTimer
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient wraps source.
func NewClient(source Source, opts ...ClientOption) (*Client, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	c := &Client{
		source:      source,
		ttl:         DefaultCacheTTL,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		timeout:     DefaultTimeout,
		now:         time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("verity/sources"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) Name() string { return c.source.Name() }

// Lookup returns the result for subject. Invalid input is returned as a
// format error without touching the cache or the network. Upstream failures
// never surface as errors: they become error or warning results. The only
// other error is ctx's own, when the caller gives up.
func (c *Client) Lookup(ctx context.Context, subject Subject) (Result, error) {
	name := c.source.Name()
	ctx, span := c.tracer.Start(ctx, "sources.Lookup", trace.WithAttributes(
		attribute.String("source.name", name),
	))
	defer span.End()

	key, err := c.source.Key(subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid input")
		return Result{}, err
	}
	span.SetAttributes(attribute.String("source.key", key))

	start := c.now()
	if cached, ok := c.cacheGet(ctx, key); ok {
		span.SetAttributes(attribute.Bool("source.cache_hit", true))
		c.metrics.RecordCacheHit(name)
		return cached, nil
	}
	c.metrics.RecordCacheMiss(name)

	if c.breaker != nil && !c.breaker.Allow() {
		c.metrics.RecordCircuitOpen(name)
		span.SetStatus(codes.Error, "circuit open")
		return ErrorResult(name, fmt.Sprintf("%s circuit open", name), 0, c.now()), nil
	}

	result, attempts, err := c.fetchWithRetry(ctx, subject)
	span.SetAttributes(attribute.Int("source.attempts", attempts))
	elapsed := c.now().Sub(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			span.SetStatus(codes.Error, "cancelled")
			return Result{}, err
		}
		result = c.failureResult(err, elapsed)
	} else {
		c.recordSuccess()
		result.ServiceName = name
		result.LatencyMS = elapsed.Milliseconds()
		if result.ObservedAt.IsZero() {
			result.ObservedAt = c.now()
		}
	}

	span.SetAttributes(
		attribute.String("source.status", string(result.Status)),
		attribute.Float64("source.confidence", result.Confidence),
	)
	if result.Status == StatusError {
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	c.metrics.ObserveLookup(name, string(result.Status), elapsed)
	c.cacheSet(ctx, key, result)
	return result, nil
}

// fetchWithRetry runs attempts until success, a non-retryable error, the
// attempt budget running out, or ctx ending.
func (c *Client) fetchWithRetry(ctx context.Context, subject Subject) (Result, int, error) {
	name := c.source.Name()
	var (
		result   Result
		attempts int
	)

	operation := func() error {
		attempts++
		if err := c.admit(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		r, err := c.source.Fetch(attemptCtx, subject)
		if err == nil {
			result = r
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err = classify(name, err)
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.metrics.RecordRetry(name, string(GetCategory(err)))
		c.logger.WarnContext(ctx, "source attempt failed, retrying",
			"source", name,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, c.backoffPolicy(ctx), notify, timer)
	return result, attempts, err
}

// backoffPolicy yields base*2, base*4, ... with no jitter, capped at
// maxAttempts-1 retries.
func (c *Client) backoffPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.backoffBase * 2
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.backoffBase << 10
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1)), ctx)
}

func (c *Client) admit() error {
	if c.limiter == nil {
		return nil
	}
	name := c.source.Name()
	if ok, info := c.limiter.IsAllowed("source:"+name, c.limit, c.window); !ok {
		return NewTransient(ErrorRateLimited, name,
			fmt.Sprintf("outbound limit reached, retry after %s", info.RetryAfter), nil)
	}
	return nil
}

// failureResult converts an exhausted or permanent failure into the result
// the aggregator sees.
func (c *Client) failureResult(err error, elapsed time.Duration) Result {
	name := c.source.Name()
	var se *SourceError
	if errors.As(err, &se) && se.Kind == KindPermanent {
		c.recordSuccess()
		return Result{
			ServiceName:  name,
			Status:       se.Status,
			Confidence:   se.Confidence,
			Payload:      map[string]any{"error_category": string(se.Category)},
			ErrorMessage: se.Message,
			LatencyMS:    elapsed.Milliseconds(),
			ObservedAt:   c.now(),
		}
	}

	c.recordFailure()
	c.logger.Error("source lookup failed", "source", name, "error", err)
	r := ErrorResult(name, err.Error(), elapsed, c.now())
	r.Payload = map[string]any{"error_category": string(GetCategory(err))}
	return r
}

func (c *Client) recordSuccess() {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("source circuit closed", "source", c.source.Name())
	}
}

func (c *Client) recordFailure() {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("source circuit opened", "source", c.source.Name())
	}
}

func (c *Client) cacheGet(ctx context.Context, key string) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	r, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "source cache read failed", "source", c.source.Name(), "error", err)
		return Result{}, false
	}
	return r, ok
}

func (c *Client) cacheSet(ctx context.Context, key string, r Result) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, r, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "source cache write failed", "source", c.source.Name(), "error", err)
	}
}

// classify maps errors a Source did not classify itself. Attempt timeouts
// are transient; anything else unknown is treated as a connection failure.
func classify(source string, err error) error {
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransient(ErrorTimeout, source, "attempt timed out", err)
	}
	return NewTransient(ErrorConnection, source, "upstream call failed", err)
}
