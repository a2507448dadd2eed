// Package store holds Repository implementations for the monitoring loop.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"verity/internal/evidence/sources"
	"verity/internal/monitoring"
	"verity/internal/verification"
	"verity/pkg/platform/sentinel"
)

type stagedKey struct{}

// staged buffers writes made inside RunInTx until fn returns.
type staged struct {
	snapshots []monitoring.Snapshot
	verdicts  []verification.AggregatedVerdict
	alerts    []monitoring.Alert
}

// InMemoryStore is a Repository for tests and single-process deployments
// without a database.
type InMemoryStore struct {
	mu sync.RWMutex

	entities     map[string]monitoring.Entity
	entityOrder  []string
	snapshots    map[string][]monitoring.Snapshot
	verdicts     map[string][]verification.AggregatedVerdict
	alerts       map[string]monitoring.Alert
	alertOrder   []string
	failNextSave error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entities:  make(map[string]monitoring.Entity),
		snapshots: make(map[string][]monitoring.Snapshot),
		verdicts:  make(map[string][]verification.AggregatedVerdict),
		alerts:    make(map[string]monitoring.Alert),
	}
}

func (s *InMemoryStore) ListActiveEntities(_ context.Context) ([]monitoring.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitoring.Entity, 0, len(s.entityOrder))
	for _, id := range s.entityOrder {
		if e := s.entities[id]; e.MonitoringActive {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetEntity(_ context.Context, id string) (*monitoring.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, sentinel.ErrNotFound)
	}
	e = cloneEntity(e)
	return &e, nil
}

func (s *InMemoryStore) UpsertEntity(_ context.Context, entity monitoring.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entity.ID]; !ok {
		s.entityOrder = append(s.entityOrder, entity.ID)
	}
	s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

func (s *InMemoryStore) GetLatestSnapshot(_ context.Context, entityID string) (*monitoring.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[entityID]
	if len(history) == 0 {
		return nil, nil
	}
	latest := cloneSnapshot(history[len(history)-1])
	return &latest, nil
}

// Snapshots returns every snapshot stored for entityID, oldest first.
func (s *InMemoryStore) Snapshots(entityID string) []monitoring.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitoring.Snapshot, 0, len(s.snapshots[entityID]))
	for _, snap := range s.snapshots[entityID] {
		out = append(out, cloneSnapshot(snap))
	}
	return out
}

func (s *InMemoryStore) SaveSnapshot(ctx context.Context, snapshot monitoring.Snapshot) error {
	snapshot = cloneSnapshot(snapshot)
	if buf, ok := ctx.Value(stagedKey{}).(*staged); ok {
		buf.snapshots = append(buf.snapshots, snapshot)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.EntityID] = append(s.snapshots[snapshot.EntityID], snapshot)
	return nil
}

func (s *InMemoryStore) SaveVerdict(ctx context.Context, verdict verification.AggregatedVerdict) error {
	if buf, ok := ctx.Value(stagedKey{}).(*staged); ok {
		buf.verdicts = append(buf.verdicts, verdict)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[verdict.EntityID] = append(s.verdicts[verdict.EntityID], verdict)
	return nil
}

// Verdicts returns the verdict history of entityID, oldest first.
func (s *InMemoryStore) Verdicts(entityID string) []verification.AggregatedVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]verification.AggregatedVerdict(nil), s.verdicts[entityID]...)
}

func (s *InMemoryStore) SaveAlert(ctx context.Context, alert monitoring.Alert) error {
	if buf, ok := ctx.Value(stagedKey{}).(*staged); ok {
		buf.alerts = append(buf.alerts, alert)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.putAlert(alert)
	return nil
}

func (s *InMemoryStore) MarkAlertSent(_ context.Context, alertID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alertID, sentinel.ErrNotFound)
	}
	a.IsSent = true
	a.SentAt = &sentAt
	s.alerts[alertID] = a
	return nil
}

func (s *InMemoryStore) ListPendingAlerts(_ context.Context, limit int) ([]monitoring.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitoring.Alert
	for _, id := range s.alertOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		if a := s.alerts[id]; !a.IsSent {
			out = append(out, a)
		}
	}
	return out, nil
}

// Alerts returns every alert of entityID ordered by creation time.
func (s *InMemoryStore) Alerts(entityID string) []monitoring.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitoring.Alert
	for _, id := range s.alertOrder {
		if a := s.alerts[id]; a.EntityID == entityID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// FailNextCommit makes the next commit (or direct SaveAlert) fail with err.
func (s *InMemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextSave = err
}

// RunInTx stages writes made through the ctx passed to fn and applies them
// only when fn succeeds. Nested calls join the outer unit of work.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(stagedKey{}).(*staged); ok {
		return fn(ctx)
	}
	buf := &staged{}
	if err := fn(context.WithValue(ctx, stagedKey{}, buf)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for _, v := range buf.verdicts {
		s.verdicts[v.EntityID] = append(s.verdicts[v.EntityID], v)
	}
	for _, snap := range buf.snapshots {
		s.snapshots[snap.EntityID] = append(s.snapshots[snap.EntityID], snap)
	}
	for _, a := range buf.alerts {
		s.putAlert(a)
	}
	return nil
}

func (s *InMemoryStore) takeFailure() error {
	err := s.failNextSave
	s.failNextSave = nil
	return err
}

func (s *InMemoryStore) putAlert(a monitoring.Alert) {
	if _, ok := s.alerts[a.ID]; !ok {
		s.alertOrder = append(s.alertOrder, a.ID)
	}
	s.alerts[a.ID] = a
}

func cloneEntity(e monitoring.Entity) monitoring.Entity {
	e.Sources = append([]string(nil), e.Sources...)
	return e
}

func cloneSnapshot(snap monitoring.Snapshot) monitoring.Snapshot {
	results := snap.Results
	snap.Results = make([]sources.Result, len(results))
	for i, r := range results {
		snap.Results[i] = r.Clone()
	}
	return snap
}
