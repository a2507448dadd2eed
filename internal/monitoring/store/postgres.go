package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"verity/internal/evidence/sources"
	"verity/internal/monitoring"
	"verity/internal/verification"
	"verity/pkg/platform/sentinel"
	"verity/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists monitoring state in PostgreSQL. Writes join the
// transaction carried by ctx when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the monitoring tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply monitoring schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) conn(ctx context.Context) execer {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, fn)
}

func (s *PostgresStore) ListActiveEntities(ctx context.Context) ([]monitoring.Entity, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, country_code, vat_number, company_name, sources, monitoring_active
		FROM monitored_entities
		WHERE monitoring_active
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active entities: %w", err)
	}
	defer rows.Close()

	var out []monitoring.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active entities: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*monitoring.Entity, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, country_code, vat_number, company_name, sources, monitoring_active
		FROM monitored_entities
		WHERE id = $1
	`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("entity %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, entity monitoring.Entity) error {
	names, err := json.Marshal(nonNil(entity.Sources))
	if err != nil {
		return fmt.Errorf("marshal entity sources: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO monitored_entities (id, country_code, vat_number, company_name, sources, monitoring_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			country_code = EXCLUDED.country_code,
			vat_number = EXCLUDED.vat_number,
			company_name = EXCLUDED.company_name,
			sources = EXCLUDED.sources,
			monitoring_active = EXCLUDED.monitoring_active,
			updated_at = NOW()
	`, entity.ID, entity.Subject.CountryCode, entity.Subject.VATNumber, entity.Subject.CompanyName,
		names, entity.MonitoringActive)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestSnapshot(ctx context.Context, entityID string) (*monitoring.Snapshot, error) {
	var (
		raw   []byte
		taken time.Time
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT results, taken_at
		FROM entity_snapshots
		WHERE entity_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT 1
	`, entityID).Scan(&raw, &taken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	var results []sources.Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot results: %w", err)
	}
	return &monitoring.Snapshot{EntityID: entityID, Results: results, TakenAt: taken}, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snapshot monitoring.Snapshot) error {
	raw, err := json.Marshal(snapshot.Results)
	if err != nil {
		return fmt.Errorf("marshal snapshot results: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO entity_snapshots (entity_id, results, taken_at) VALUES ($1, $2, $3)
	`, snapshot.EntityID, raw, snapshot.TakenAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveVerdict(ctx context.Context, verdict verification.AggregatedVerdict) error {
	raw, err := json.Marshal(verdict.ContributingResults)
	if err != nil {
		return fmt.Errorf("marshal verdict results: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO verdicts (id, entity_id, overall_status, confidence, rule, contributing_results, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, verdict.ID, verdict.EntityID, string(verdict.OverallStatus), verdict.Confidence,
		string(verdict.Rule), raw, verdict.ComputedAt)
	if err != nil {
		return fmt.Errorf("save verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAlert(ctx context.Context, alert monitoring.Alert) error {
	change, err := json.Marshal(alert.Change)
	if err != nil {
		return fmt.Errorf("marshal alert change: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO alerts (id, entity_id, severity, change, message, is_sent, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, alert.ID, alert.EntityID, string(alert.Severity), change, alert.Message,
		alert.IsSent, alert.CreatedAt, alert.SentAt)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAlertSent(ctx context.Context, alertID string, sentAt time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE alerts SET is_sent = TRUE, sent_at = $2 WHERE id = $1
	`, alertID, sentAt)
	if err != nil {
		return fmt.Errorf("mark alert sent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s: %w", alertID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPendingAlerts(ctx context.Context, limit int) ([]monitoring.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, entity_id, severity, change, message, is_sent, created_at, sent_at
		FROM alerts
		WHERE NOT is_sent
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	defer rows.Close()

	var out []monitoring.Alert
	for rows.Next() {
		var (
			a        monitoring.Alert
			severity string
			change   []byte
			sentAt   sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.EntityID, &severity, &change, &a.Message, &a.IsSent, &a.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = monitoring.Severity(severity)
		if err := json.Unmarshal(change, &a.Change); err != nil {
			return nil, fmt.Errorf("unmarshal alert change: %w", err)
		}
		if sentAt.Valid {
			a.SentAt = &sentAt.Time
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending alerts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (monitoring.Entity, error) {
	var (
		e     monitoring.Entity
		names []byte
	)
	err := row.Scan(&e.ID, &e.Subject.CountryCode, &e.Subject.VATNumber, &e.Subject.CompanyName, &names, &e.MonitoringActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan entity: %w", err)
	}
	if len(names) > 0 {
		if err := json.Unmarshal(names, &e.Sources); err != nil {
			return e, fmt.Errorf("unmarshal entity sources: %w", err)
		}
	}
	return e, nil
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
