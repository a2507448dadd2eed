package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verity/internal/evidence/sources"
	"verity/internal/verification"
	"verity/pkg/platform/httputil"
	"verity/pkg/requestcontext"
)

// Service defines the interface for verification operations.
type Service interface {
	Verify(ctx context.Context, entityID string, subject sources.Subject, names []string) (*verification.AggregatedVerdict, error)
}

// Handler wires verification endpoints to the verification service.
type Handler struct {
	service Service
	logger  *slog.Logger
	verify  func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithVerifyMiddleware wraps the verify endpoint, e.g. with rate limiting.
func WithVerifyMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.verify = mw
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.verify != nil {
			r.Use(h.verify)
		}
		r.Post("/verify", h.HandleVerify)
	})
}

// HandleVerify handles POST /verify requests.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	verdict, err := h.service.Verify(ctx, req.EntityID, req.Subject(), req.Sources)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", requestID,
			"entity_id", req.EntityID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verification served",
		"request_id", requestID,
		"entity_id", req.EntityID,
		"status", verdict.OverallStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, verdict)
}
