package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"verity/internal/evidence/sources"
	"verity/internal/verification/metrics"
	dErrors "verity/pkg/domain-errors"
	"verity/pkg/platform/strings"
)

const DefaultSourceTimeout = 90 * time.Second

// SourceSet resolves configured source clients by name.
type SourceSet interface {
	Get(name string) (sources.Lookuper, bool)
	Names() []string
}

// VerdictStore persists verdicts of identified entities.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, verdict AggregatedVerdict) error
}

// Service runs interactive verifications and serves the collection step of
// monitoring cycles.
type Service struct {
	sources       SourceSet
	aggregator    *Aggregator
	verdicts      VerdictStore
	sourceTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithVerdictStore persists verdicts produced by Verify when an entity id is
// supplied.
func WithVerdictStore(store VerdictStore) Option {
	return func(s *Service) {
		s.verdicts = store
	}
}

// WithSourceTimeout bounds each source lookup as a whole, retries included.
func WithSourceTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sourceTimeout = d
		}
	}
}

func NewService(set SourceSet, aggregator *Aggregator, opts ...Option) (*Service, error) {
	if set == nil {
		return nil, errors.New("source set is required")
	}
	if aggregator == nil {
		return nil, errors.New("aggregator is required")
	}
	s := &Service{
		sources:       set,
		aggregator:    aggregator,
		sourceTimeout: DefaultSourceTimeout,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Verify collects results from the requested sources (all registered sources
// when names is empty) and aggregates them into a verdict.
func (s *Service) Verify(ctx context.Context, entityID string, subject sources.Subject, names []string) (*AggregatedVerdict, error) {
	start := s.now()

	results, err := s.Collect(ctx, subject, names)
	if err != nil {
		return nil, err
	}

	verdict := s.aggregator.Aggregate(results)
	verdict.EntityID = entityID

	if entityID != "" && s.verdicts != nil {
		if err := s.verdicts.SaveVerdict(ctx, verdict); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save verdict")
		}
	}

	s.metrics.IncrementOutcome(string(verdict.OverallStatus), string(verdict.Rule))
	s.metrics.ObserveVerifyLatency(s.now().Sub(start))
	s.logger.InfoContext(ctx, "verification completed",
		"entity_id", entityID,
		"verdict_id", verdict.ID,
		"status", verdict.OverallStatus,
		"confidence", verdict.Confidence,
		"rule", verdict.Rule,
		"sources", len(results),
	)
	return &verdict, nil
}

// Collect queries each named source concurrently, each bounded by its own
// timeout. A source that does not answer in time contributes an error
// placeholder. Invalid input fails the whole collection, as does ctx ending.
// Results are returned in the order of the resolved names.
func (s *Service) Collect(ctx context.Context, subject sources.Subject, names []string) ([]sources.Result, error) {
	clients, err := s.resolve(names)
	if err != nil {
		return nil, err
	}

	results := make([]sources.Result, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, client := range clients {
		g.Go(func() error {
			r, err := s.lookup(gctx, client, subject)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if sources.IsFormat(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, formatMessage(err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return results, nil
}

func (s *Service) lookup(ctx context.Context, client sources.Lookuper, subject sources.Subject) (sources.Result, error) {
	name := client.Name()
	sctx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
	defer cancel()

	start := s.now()
	r, err := client.Lookup(sctx, subject)
	elapsed := s.now().Sub(start)
	s.metrics.ObserveSourceLatency(name, elapsed)
	if err == nil {
		return r, nil
	}
	if sources.IsFormat(err) || ctx.Err() != nil {
		return sources.Result{}, err
	}

	s.logger.WarnContext(ctx, "source produced no answer", "source", name, "error", err)
	return sources.ErrorResult(name, fmt.Sprintf("%s did not answer: %v", name, err), elapsed, s.now()), nil
}

func (s *Service) resolve(names []string) ([]sources.Lookuper, error) {
	names = strings.DedupeAndTrimLower(names)
	if len(names) == 0 {
		names = s.sources.Names()
	}
	if len(names) == 0 {
		return nil, dErrors.Wrap(sources.ErrNoSources, dErrors.CodeUnavailable, "no sources configured")
	}
	clients := make([]sources.Lookuper, 0, len(names))
	for _, name := range names {
		c, ok := s.sources.Get(name)
		if !ok {
			return nil, dErrors.Wrap(sources.ErrSourceNotFound, dErrors.CodeBadRequest, "unknown source "+name)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func formatMessage(err error) string {
	var se *sources.SourceError
	if errors.As(err, &se) {
		return se.Source + ": " + se.Message
	}
	return "invalid subject"
}
