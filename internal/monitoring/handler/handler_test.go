package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verity/internal/evidence/sources"
	"verity/internal/monitoring"
	"verity/internal/monitoring/store"
	"verity/internal/platform/logger"
)

type stubRunner struct {
	summary monitoring.CycleSummary
	err     error
}

func (s *stubRunner) StartMonitoringCycle(context.Context) (monitoring.CycleSummary, error) {
	return s.summary, s.err
}

func do(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandleStartCycle(t *testing.T) {
	t.Run("returns the summary", func(t *testing.T) {
		runner := &stubRunner{summary: monitoring.CycleSummary{CycleID: "c-1", EntitiesChecked: 3, AlertsCreated: 1}}
		rec := do(New(runner, store.NewInMemoryStore(), logger.Discard()), http.MethodPost, "/monitoring/cycles", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var body monitoring.CycleSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "c-1", body.CycleID)
		assert.Equal(t, 3, body.EntitiesChecked)
	})

	t.Run("overlapping cycle is a conflict", func(t *testing.T) {
		runner := &stubRunner{err: monitoring.ErrCycleInProgress}
		rec := do(New(runner, store.NewInMemoryStore(), logger.Discard()), http.MethodPost, "/monitoring/cycles", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("other failures are internal", func(t *testing.T) {
		runner := &stubRunner{err: errors.New("list active entities: db gone")}
		rec := do(New(runner, store.NewInMemoryStore(), logger.Discard()), http.MethodPost, "/monitoring/cycles", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "db gone")
	})
}

func TestHandleEnroll(t *testing.T) {
	known := WithKnownSources([]string{sources.NameVIES, sources.NameSanctions})

	t.Run("enrolls and reads back", func(t *testing.T) {
		s := store.NewInMemoryStore()
		h := New(&stubRunner{}, s, logger.Discard(), known)

		rec := do(h, http.MethodPut, "/monitoring/entities/acme", `{"country_code":"de","vat_number":"123456789","sources":[" VIES ","vies"]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		active, err := s.ListActiveEntities(context.Background())
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "DE", active[0].Subject.CountryCode)
		assert.Equal(t, []string{"vies"}, active[0].Sources)

		rec = do(h, http.MethodGet, "/monitoring/entities/acme", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"monitoring_active":true`)
	})

	t.Run("can pause monitoring", func(t *testing.T) {
		s := store.NewInMemoryStore()
		h := New(&stubRunner{}, s, logger.Discard())
		rec := do(h, http.MethodPut, "/monitoring/entities/acme", `{"vat_number":"1","monitoring_active":false}`)
		require.Equal(t, http.StatusOK, rec.Code)

		active, err := s.ListActiveEntities(context.Background())
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("rejects unknown source", func(t *testing.T) {
		h := New(&stubRunner{}, store.NewInMemoryStore(), logger.Discard(), known)
		rec := do(h, http.MethodPut, "/monitoring/entities/acme", `{"vat_number":"1","sources":["registry-x"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty subject", func(t *testing.T) {
		h := New(&stubRunner{}, store.NewInMemoryStore(), logger.Discard())
		rec := do(h, http.MethodPut, "/monitoring/entities/acme", `{"country_code":"DE"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown entity is 404", func(t *testing.T) {
		h := New(&stubRunner{}, store.NewInMemoryStore(), logger.Discard())
		rec := do(h, http.MethodGet, "/monitoring/entities/nobody", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandlePendingAlerts(t *testing.T) {
	s := store.NewInMemoryStore()
	require.NoError(t, s.SaveAlert(context.Background(), monitoring.Alert{ID: "a1", EntityID: "e1", Severity: monitoring.SeverityHigh}))
	h := New(&stubRunner{}, s, logger.Discard())

	rec := do(h, http.MethodGet, "/monitoring/alerts/pending?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Alerts []monitoring.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Alerts, 1)
	assert.Equal(t, "a1", body.Alerts[0].ID)

	rec = do(h, http.MethodGet, "/monitoring/alerts/pending?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
