package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"verity/internal/monitoring/metrics"
	"verity/internal/verification"
)

const DefaultWorkers = 5

// errInterrupted marks an entity abandoned because the cycle was cancelled.
var errInterrupted = errors.New("entity processing interrupted")

// Orchestrator drives monitoring cycles: select active entities, re-verify
// them on a bounded pool, diff against the previous snapshot, persist and
// alert.
type Orchestrator struct {
	repo       Repository
	collector  Collector
	aggregator *verification.Aggregator
	detector   *Detector
	notifier   Notifier

	workers   int
	threshold Severity
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string

	running atomic.Bool
}

type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithAlertThreshold sets the minimum severity that produces an alert.
func WithAlertThreshold(s Severity) Option {
	return func(o *Orchestrator) {
		if _, ok := severityRank[s]; ok {
			o.threshold = s
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewOrchestrator(
	repo Repository,
	collector Collector,
	aggregator *verification.Aggregator,
	detector *Detector,
	notifier Notifier,
	opts ...Option,
) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if collector == nil {
		return nil, errors.New("collector is required")
	}
	if aggregator == nil {
		return nil, errors.New("aggregator is required")
	}
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	o := &Orchestrator{
		repo:       repo,
		collector:  collector,
		aggregator: aggregator,
		detector:   detector,
		notifier:   notifier,
		workers:    DefaultWorkers,
		threshold:  SeverityHigh,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

type entityOutcome struct {
	changes       []Change
	alertsCreated int
	alertsSent    int
}

// StartMonitoringCycle runs one cycle over every active entity. Per-entity
// failures are recorded in the summary and never abort the cycle. A cycle
// requested while another is running is rejected with ErrCycleInProgress.
// When ctx ends mid-cycle, no further entities are started and the partial
// summary is returned together with ctx's error.
func (o *Orchestrator) StartMonitoringCycle(ctx context.Context) (CycleSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return CycleSummary{}, ErrCycleInProgress
	}
	defer o.running.Store(false)

	summary := CycleSummary{
		CycleID:   o.newID(),
		StartedAt: o.now(),
		Errors:    []EntityError{},
	}
	logger := o.logger.With("cycle_id", summary.CycleID)

	entities, err := o.repo.ListActiveEntities(ctx)
	if err != nil {
		summary.FinishedAt = o.now()
		o.metrics.ObserveCycle("failed", summary.FinishedAt.Sub(summary.StartedAt))
		return summary, fmt.Errorf("list active entities: %w", err)
	}
	entities = dedupeEntities(entities)
	logger.InfoContext(ctx, "monitoring cycle started", "entities", len(entities), "workers", o.workers)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	for _, entity := range entities {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome, err := o.processEntity(ctx, entity)
			if errors.Is(err, errInterrupted) {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			summary.EntitiesChecked++
			o.metrics.IncEntityChecked(err != nil)
			if err != nil {
				logger.ErrorContext(ctx, "entity check failed", "entity_id", entity.ID, "error", err)
				summary.Errors = append(summary.Errors, EntityError{EntityID: entity.ID, Message: err.Error()})
				return nil
			}
			summary.ChangesDetected += len(outcome.changes)
			summary.AlertsCreated += outcome.alertsCreated
			summary.AlertsSent += outcome.alertsSent
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = o.now()
	outcome := "completed"
	if ctx.Err() != nil {
		outcome = "cancelled"
	}
	o.metrics.ObserveCycle(outcome, summary.FinishedAt.Sub(summary.StartedAt))
	logger.InfoContext(ctx, "monitoring cycle finished",
		"outcome", outcome,
		"entities_checked", summary.EntitiesChecked,
		"changes_detected", summary.ChangesDetected,
		"alerts_created", summary.AlertsCreated,
		"alerts_sent", summary.AlertsSent,
		"errors", len(summary.Errors),
	)
	return summary, ctx.Err()
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) processEntity(ctx context.Context, entity Entity) (entityOutcome, error) {
	results, err := o.collector.Collect(ctx, entity.Subject, entity.Sources)
	if err != nil {
		if ctx.Err() != nil {
			return entityOutcome{}, errInterrupted
		}
		return entityOutcome{}, fmt.Errorf("collect: %w", err)
	}

	previous, err := o.repo.GetLatestSnapshot(ctx, entity.ID)
	if err != nil {
		return entityOutcome{}, fmt.Errorf("load previous snapshot: %w", err)
	}

	now := o.now()
	current := Snapshot{EntityID: entity.ID, Results: results, TakenAt: now}
	changes := o.detector.Detect(previous, current)
	verdict := o.aggregator.Aggregate(results)
	verdict.EntityID = entity.ID

	var alerts []Alert
	for _, change := range changes {
		o.metrics.IncChange(string(change.Severity))
		if !change.Severity.AtLeast(o.threshold) {
			continue
		}
		alerts = append(alerts, Alert{
			ID:        o.newID(),
			EntityID:  entity.ID,
			Change:    change,
			Severity:  change.Severity,
			Message:   fmt.Sprintf("[%s] entity %s: %s", change.Severity, entity.ID, change.Description),
			CreatedAt: now,
		})
	}

	if ctx.Err() != nil {
		return entityOutcome{}, errInterrupted
	}
	err = o.repo.RunInTx(ctx, func(txCtx context.Context) error {
		if err := o.repo.SaveVerdict(txCtx, verdict); err != nil {
			return fmt.Errorf("save verdict: %w", err)
		}
		if err := o.repo.SaveSnapshot(txCtx, current); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		for _, alert := range alerts {
			if err := o.repo.SaveAlert(txCtx, alert); err != nil {
				return fmt.Errorf("save alert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return entityOutcome{}, err
	}

	outcome := entityOutcome{changes: changes, alertsCreated: len(alerts)}
	for _, alert := range alerts {
		o.metrics.IncAlertCreated(string(alert.Severity))
		if o.deliver(ctx, alert) {
			outcome.alertsSent++
		}
	}
	return outcome, nil
}

// deliver hands alert to the notifier once. A failed delivery leaves the
// alert pending for RedeliverPending.
func (o *Orchestrator) deliver(ctx context.Context, alert Alert) bool {
	if err := o.notifier.Notify(ctx, alert); err != nil {
		o.metrics.IncDeliveryFailure()
		o.logger.WarnContext(ctx, "alert delivery failed, left pending",
			"alert_id", alert.ID,
			"entity_id", alert.EntityID,
			"error", err,
		)
		return false
	}
	if err := o.repo.MarkAlertSent(ctx, alert.ID, o.now()); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark alert sent", "alert_id", alert.ID, "error", err)
	}
	o.metrics.IncAlertSent()
	return true
}

// RedeliverPending retries up to limit alerts whose delivery failed earlier
// and returns how many went out. It never overlaps a cycle, so an alert is
// handed to the notifier at most once while its cycle runs; it returns
// ErrCycleInProgress when one is running.
func (o *Orchestrator) RedeliverPending(ctx context.Context, limit int) (int, error) {
	if !o.running.CompareAndSwap(false, true) {
		return 0, ErrCycleInProgress
	}
	defer o.running.Store(false)

	pending, err := o.repo.ListPendingAlerts(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending alerts: %w", err)
	}
	sent := 0
	for _, alert := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if o.deliver(ctx, alert) {
			sent++
		}
	}
	return sent, nil
}

func dedupeEntities(entities []Entity) []Entity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
