package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"verity/internal/ratelimit"
	dErrors "verity/pkg/domain-errors"
	"verity/pkg/platform/httputil"
	"verity/pkg/requestcontext"
)

// Limiter is the admission decision consumed by the middleware.
type Limiter interface {
	IsAllowed(identifier string, limit int, window time.Duration) (bool, ratelimit.Info)
}

type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	limit    int
	window   time.Duration
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter Limiter, logger *slog.Logger, limit int, window time.Duration, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
		limit:   limit,
		window:  window,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled && logger != nil {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerClientIP limits requests by the caller's address.
func (m *Middleware) PerClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ip := requestcontext.ClientIP(r.Context())
		if ip == "" {
			ip = remoteHost(r.RemoteAddr)
		}

		allowed, info := m.limiter.IsAllowed("ip:"+ip, m.limit, m.window)
		addRateLimitHeaders(w, info)
		if !allowed {
			if m.logger != nil {
				m.logger.Warn("request rate limited", "client_ip", ip, "retry_after", info.RetryAfter)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(info.RetryAfter.Seconds()))))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "rate limit exceeded, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
