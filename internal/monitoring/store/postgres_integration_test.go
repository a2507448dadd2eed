//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verity/internal/evidence/sources"
	"verity/internal/monitoring"
	"verity/internal/monitoring/store"
	"verity/internal/verification"
	"verity/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "alerts", "verdicts", "entity_snapshots", "monitored_entities")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seedEntity(id string, active bool) {
	err := s.store.UpsertEntity(context.Background(), monitoring.Entity{
		ID:               id,
		Subject:          sources.Subject{CountryCode: "FR", VATNumber: "40303265045", CompanyName: "Example SA"},
		Sources:          []string{sources.NameVIES, sources.NameSanctions},
		MonitoringActive: active,
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestEntityRoundTrip() {
	ctx := context.Background()
	s.seedEntity("e1", true)
	s.seedEntity("e2", false)

	active, err := s.store.ListActiveEntities(ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("e1", active[0].ID)
	s.Equal([]string{sources.NameVIES, sources.NameSanctions}, active[0].Sources)

	got, err := s.store.GetEntity(ctx, "e2")
	s.Require().NoError(err)
	s.False(got.MonitoringActive)
}

func (s *PostgresStoreSuite) TestLatestSnapshotWins() {
	ctx := context.Background()
	s.seedEntity("e1", true)
	base := time.Now().UTC().Truncate(time.Millisecond)

	none, err := s.store.GetLatestSnapshot(ctx, "e1")
	s.Require().NoError(err)
	s.Nil(none)

	for i, status := range []sources.Status{sources.StatusValid, sources.StatusWarning} {
		err := s.store.SaveSnapshot(ctx, monitoring.Snapshot{
			EntityID: "e1",
			TakenAt:  base.Add(time.Duration(i) * time.Minute),
			Results: []sources.Result{{
				ServiceName: sources.NameSanctions,
				Status:      status,
				Payload:     map[string]any{"match_count": i},
			}},
		})
		s.Require().NoError(err)
	}

	latest, err := s.store.GetLatestSnapshot(ctx, "e1")
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(sources.StatusWarning, latest.Results[0].Status)
	s.EqualValues(1, latest.Results[0].Payload["match_count"])
}

func (s *PostgresStoreSuite) TestRunInTxRollsBack() {
	ctx := context.Background()
	s.seedEntity("e1", true)
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		s.Require().NoError(s.store.SaveVerdict(ctx, verification.AggregatedVerdict{
			ID: "v1", EntityID: "e1", OverallStatus: sources.StatusValid, Rule: verification.RuleWeighted, ComputedAt: time.Now(),
		}))
		s.Require().NoError(s.store.SaveSnapshot(ctx, monitoring.Snapshot{EntityID: "e1", TakenAt: time.Now()}))
		return boom
	})
	s.Require().ErrorIs(err, boom)

	latest, err := s.store.GetLatestSnapshot(ctx, "e1")
	s.Require().NoError(err)
	s.Nil(latest)
}

func (s *PostgresStoreSuite) TestPendingAlerts() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"a1", "a2"} {
		err := s.store.SaveAlert(ctx, monitoring.Alert{
			ID:        id,
			EntityID:  "e1",
			Severity:  monitoring.SeverityHigh,
			Message:   "status changed",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			Change: monitoring.Change{
				ServiceName: sources.NameVIES,
				Type:        monitoring.ChangeStatus,
				Severity:    monitoring.SeverityHigh,
			},
		})
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.MarkAlertSent(ctx, "a1", now))

	pending, err := s.store.ListPendingAlerts(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("a2", pending[0].ID)
	s.Equal(monitoring.ChangeStatus, pending[0].Change.Type)
}
