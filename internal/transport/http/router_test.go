package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verity/internal/platform/logger"
	"verity/pkg/platform/middleware/request"
)

type pingAPI struct{}

func (pingAPI) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "verity_test_total", Help: "test"}))

	healthy := true
	h := NewRouter(RouterConfig{
		Logger:   logger.Discard(),
		Gatherer: reg,
		Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error {
				if healthy {
					return nil
				}
				return errors.New("connection refused")
			},
		},
		APIs: []Registrar{pingAPI{}},
	})

	t.Run("mounts apis under v1", func(t *testing.T) {
		rec := get(h, "/v1/ping")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(request.HeaderRequestID))
	})

	t.Run("liveness", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	})

	t.Run("readiness reflects checks", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(h, "/readyz").Code)
		healthy = false
		rec := get(h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})

	t.Run("exposes metrics", func(t *testing.T) {
		rec := get(h, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "verity_test_total")
	})
}
