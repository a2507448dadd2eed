package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"verity/internal/ratelimit/metrics"
)

const (
	// DefaultRetention is how long an idle window is kept before Cleanup purges it.
	DefaultRetention = time.Hour
	// DefaultCleanupInterval is how often Run invokes Cleanup.
	DefaultCleanupInterval = 5 * time.Minute
)

// Info describes the caller's standing in its window after a request.
type Info struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

type windowKey struct {
	identifier string
	window     time.Duration
}

// slidingWindow tracks request timestamps for sliding window rate limiting.
type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// Limiter is an in-memory sliding-window rate limiter keyed by
// (identifier, window). It is safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	windows   map[windowKey]*slidingWindow
	now       func() time.Time
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRetention sets how long an idle window survives Cleanup.
func WithRetention(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.retention = d
		}
	}
}

// WithCleanupInterval sets the Run ticker period.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New creates an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows:   make(map[windowKey]*slidingWindow),
		now:       time.Now,
		retention: DefaultRetention,
		interval:  DefaultCleanupInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// IsAllowed evaluates one request for identifier against limit requests per
// window. Stamps older than the window are dropped first. The request is
// recorded whether or not it is admitted, so a caller that keeps retrying
// while denied keeps its window full.
func (l *Limiter) IsAllowed(identifier string, limit int, window time.Duration) (bool, Info) {
	now := l.now()

	l.mu.Lock()
	sw := l.getOrCreate(windowKey{identifier: identifier, window: window})
	sw.cleanup(now)
	allowed := len(sw.timestamps) < limit
	sw.timestamps = append(sw.timestamps, now)
	info := Info{
		Limit:     limit,
		Remaining: max(0, limit-len(sw.timestamps)),
		Reset:     sw.timestamps[0].Add(window),
	}
	l.mu.Unlock()

	if !allowed {
		info.RetryAfter = max(info.Reset.Sub(now), time.Millisecond)
		l.metrics.IncDenied()
	} else {
		l.metrics.IncAllowed()
	}
	return allowed, info
}

// Cleanup drops windows whose newest stamp is older than the retention period
// and returns how many were removed.
func (l *Limiter) Cleanup(now time.Time) int {
	cutoff := now.Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, sw := range l.windows {
		if n := len(sw.timestamps); n == 0 || sw.timestamps[n-1].Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	l.metrics.SetTrackedWindows(len(l.windows))
	return removed
}

// Run invokes Cleanup periodically until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Cleanup(l.now()); removed > 0 && l.logger != nil {
				l.logger.Debug("rate limit windows purged", "removed", removed)
			}
		}
	}
}

// cleanup removes expired timestamps from a sliding window.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// getOrCreate must be called while holding l.mu.
func (l *Limiter) getOrCreate(key windowKey) *slidingWindow {
	if sw := l.windows[key]; sw != nil {
		return sw
	}
	sw := &slidingWindow{window: key.window}
	l.windows[key] = sw
	return sw
}
