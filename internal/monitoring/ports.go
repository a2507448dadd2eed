package monitoring

import (
	"context"
	"time"

	"verity/internal/evidence/sources"
	"verity/internal/verification"
)

// Repository is the persistence boundary of the monitoring loop.
// GetLatestSnapshot returns (nil, nil) when the entity has no snapshot yet.
// Writes made through the ctx handed to RunInTx's fn commit or roll back
// together.
type Repository interface {
	ListActiveEntities(ctx context.Context) ([]Entity, error)
	GetEntity(ctx context.Context, id string) (*Entity, error)
	UpsertEntity(ctx context.Context, entity Entity) error
	GetLatestSnapshot(ctx context.Context, entityID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	SaveVerdict(ctx context.Context, verdict verification.AggregatedVerdict) error
	SaveAlert(ctx context.Context, alert Alert) error
	MarkAlertSent(ctx context.Context, alertID string, sentAt time.Time) error
	ListPendingAlerts(ctx context.Context, limit int) ([]Alert, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier delivers an alert to the outside world.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Collector gathers fresh results for a subject; verification.Service
// satisfies it.
type Collector interface {
	Collect(ctx context.Context, subject sources.Subject, names []string) ([]sources.Result, error)
}
