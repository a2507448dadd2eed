package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"verity/internal/monitoring"
	dErrors "verity/pkg/domain-errors"
	"verity/pkg/platform/httputil"
	"verity/pkg/platform/sentinel"
	"verity/pkg/requestcontext"
)

const maxEntityIDLength = 128

// CycleRunner starts a monitoring cycle on demand.
type CycleRunner interface {
	StartMonitoringCycle(ctx context.Context) (monitoring.CycleSummary, error)
}

// EntityStore is the slice of the monitoring repository the API touches.
type EntityStore interface {
	GetEntity(ctx context.Context, id string) (*monitoring.Entity, error)
	UpsertEntity(ctx context.Context, entity monitoring.Entity) error
	ListPendingAlerts(ctx context.Context, limit int) ([]monitoring.Alert, error)
}

// Handler exposes the monitoring loop over HTTP.
type Handler struct {
	runner CycleRunner
	store  EntityStore
	logger *slog.Logger
	known  []string
}

type Option func(*Handler)

// WithKnownSources rejects enrollments naming sources outside names.
func WithKnownSources(names []string) Option {
	return func(h *Handler) {
		h.known = names
	}
}

func New(runner CycleRunner, store EntityStore, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{runner: runner, store: store, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts monitoring endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/monitoring", func(r chi.Router) {
		r.Post("/cycles", h.HandleStartCycle)
		r.Put("/entities/{id}", h.HandleEnroll)
		r.Get("/entities/{id}", h.HandleGetEntity)
		r.Get("/alerts/pending", h.HandlePendingAlerts)
	})
}

// HandleStartCycle runs a cycle and answers with its summary once it ends.
func (h *Handler) HandleStartCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	summary, err := h.runner.StartMonitoringCycle(ctx)
	if err != nil {
		if errors.Is(err, monitoring.ErrCycleInProgress) {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeConflict, "a monitoring cycle is already running"))
			return
		}
		h.logger.ErrorContext(ctx, "monitoring cycle failed",
			"request_id", requestID,
			"cycle_id", summary.CycleID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[EnrollRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if h.known != nil {
		for _, name := range req.Sources {
			if !slices.Contains(h.known, name) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown source: "+name))
				return
			}
		}
	}

	entity := monitoring.Entity{
		ID:               id,
		Subject:          req.subject(),
		Sources:          req.Sources,
		MonitoringActive: req.active(),
	}
	if err := h.store.UpsertEntity(ctx, entity); err != nil {
		h.logger.ErrorContext(ctx, "failed to enroll entity",
			"request_id", requestID,
			"entity_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "entity enrolled",
		"request_id", requestID,
		"entity_id", id,
		"monitoring_active", entity.MonitoringActive,
	)
	httputil.WriteJSON(w, http.StatusOK, entity)
}

func (h *Handler) HandleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entity, err := h.store.GetEntity(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Wrap(err, dErrors.CodeNotFound, "entity not found")
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

func (h *Handler) HandlePendingAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	alerts, err := h.store.ListPendingAlerts(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func entityID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" || len(id) > maxEntityIDLength {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid entity id")
	}
	return id, nil
}
