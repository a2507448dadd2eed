package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verity/internal/evidence/sources"
	"verity/internal/monitoring"
	"verity/internal/verification"
	"verity/pkg/platform/sentinel"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func entity(id string, active bool) monitoring.Entity {
	return monitoring.Entity{
		ID:               id,
		Subject:          sources.Subject{CountryCode: "DE", VATNumber: "123456789"},
		Sources:          []string{sources.NameVIES},
		MonitoringActive: active,
	}
}

func TestInMemoryStore_Entities(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.UpsertEntity(ctx, entity("e1", true)))
	require.NoError(t, s.UpsertEntity(ctx, entity("e2", false)))
	require.NoError(t, s.UpsertEntity(ctx, entity("e3", true)))

	active, err := s.ListActiveEntities(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "e1", active[0].ID)
	assert.Equal(t, "e3", active[1].ID)

	t.Run("upsert replaces in place", func(t *testing.T) {
		require.NoError(t, s.UpsertEntity(ctx, entity("e1", false)))
		active, err := s.ListActiveEntities(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "e3", active[0].ID)
	})

	t.Run("unknown entity is not found", func(t *testing.T) {
		_, err := s.GetEntity(ctx, "missing")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestInMemoryStore_LatestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	snap, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	first := monitoring.Snapshot{EntityID: "e1", TakenAt: t0, Results: []sources.Result{
		{ServiceName: sources.NameVIES, Status: sources.StatusValid, Confidence: 0.95},
	}}
	second := monitoring.Snapshot{EntityID: "e1", TakenAt: t0.Add(time.Hour), Results: []sources.Result{
		{ServiceName: sources.NameVIES, Status: sources.StatusError},
	}}
	require.NoError(t, s.SaveSnapshot(ctx, first))
	require.NoError(t, s.SaveSnapshot(ctx, second))

	snap, err = s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, second.TakenAt, snap.TakenAt)
	assert.Len(t, s.Snapshots("e1"), 2, "history is kept")
}

func TestInMemoryStore_RunInTx(t *testing.T) {
	ctx := context.Background()
	verdict := verification.AggregatedVerdict{ID: "v1", EntityID: "e1", OverallStatus: sources.StatusValid}
	alert := monitoring.Alert{ID: "a1", EntityID: "e1", Severity: monitoring.SeverityHigh, CreatedAt: t0}

	t.Run("commit applies every write", func(t *testing.T) {
		s := NewInMemoryStore()
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			require.NoError(t, s.SaveVerdict(ctx, verdict))
			require.NoError(t, s.SaveSnapshot(ctx, monitoring.Snapshot{EntityID: "e1", TakenAt: t0}))
			require.NoError(t, s.SaveAlert(ctx, alert))

			snap, err := s.GetLatestSnapshot(ctx, "e1")
			require.NoError(t, err)
			assert.Nil(t, snap, "staged writes are invisible before commit")
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, s.Verdicts("e1"), 1)
		assert.Len(t, s.Snapshots("e1"), 1)
		assert.Len(t, s.Alerts("e1"), 1)
	})

	t.Run("error discards every write", func(t *testing.T) {
		s := NewInMemoryStore()
		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			require.NoError(t, s.SaveVerdict(ctx, verdict))
			require.NoError(t, s.SaveSnapshot(ctx, monitoring.Snapshot{EntityID: "e1", TakenAt: t0}))
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Empty(t, s.Verdicts("e1"))
		assert.Empty(t, s.Snapshots("e1"))
	})

	t.Run("failed commit discards every write", func(t *testing.T) {
		s := NewInMemoryStore()
		boom := errors.New("disk full")
		s.FailNextCommit(boom)
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			return s.SaveAlert(ctx, alert)
		})
		require.ErrorIs(t, err, boom)
		assert.Empty(t, s.Alerts("e1"))
	})
}

func TestInMemoryStore_PendingAlerts(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, s.SaveAlert(ctx, monitoring.Alert{ID: id, EntityID: "e1", CreatedAt: t0.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, s.MarkAlertSent(ctx, "a2", t0.Add(time.Hour)))

	pending, err := s.ListPendingAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a1", pending[0].ID)
	assert.Equal(t, "a3", pending[1].ID)

	limited, err := s.ListPendingAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	sent := s.Alerts("e1")[1]
	assert.True(t, sent.IsSent)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, t0.Add(time.Hour), *sent.SentAt)

	err = s.MarkAlertSent(ctx, "missing", t0)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
