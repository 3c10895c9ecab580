// Package storage persists job.Record snapshots in PostgreSQL so the
// submission API's status and result endpoints keep answering across a
// process restart (§6 "Persistence"). Grounded on the teacher's
// pkg/database/client.go: database/sql opened through the pgx stdlib
// driver, with schema managed by golang-migrate against embedded SQL
// files, applied automatically on startup.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/dealbench/dealbench/pkg/job"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is a Postgres-backed job.Store.
type Store struct {
	db *sql.DB
}

var _ job.Store = (*Store)(nil)

// New opens a connection pool against dsn, verifies it, and applies any
// pending schema migrations before returning.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: pinging database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: applying migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrateSchema(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "jobs", driver)
	if err != nil {
		return fmt.Errorf("initializing migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return src.Close()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

const upsertJobSQL = `
INSERT INTO jobs (
	id, status, completed, total, current_agent,
	target, acquirer, deal_value, thesis,
	terminal_error_kind, terminal_error_agent, terminal_error_message, terminal_error_remediation,
	artifact_paths, synthesized_data, created_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	completed = EXCLUDED.completed,
	total = EXCLUDED.total,
	current_agent = EXCLUDED.current_agent,
	deal_value = EXCLUDED.deal_value,
	terminal_error_kind = EXCLUDED.terminal_error_kind,
	terminal_error_agent = EXCLUDED.terminal_error_agent,
	terminal_error_message = EXCLUDED.terminal_error_message,
	terminal_error_remediation = EXCLUDED.terminal_error_remediation,
	artifact_paths = EXCLUDED.artifact_paths,
	synthesized_data = EXCLUDED.synthesized_data,
	completed_at = EXCLUDED.completed_at
`

// SaveJob upserts rec, encoding its artifact list and synthesized
// document as JSON text (avoiding native array/jsonb parameter binding,
// which this package has no way to exercise against a live driver here).
func (s *Store) SaveJob(ctx context.Context, rec job.Record) error {
	artifactPaths, err := json.Marshal(rec.ArtifactPaths)
	if err != nil {
		return fmt.Errorf("storage: encoding artifact paths: %w", err)
	}
	var synthesized []byte
	if rec.SynthesizedData != nil {
		synthesized, err = json.Marshal(rec.SynthesizedData)
		if err != nil {
			return fmt.Errorf("storage: encoding synthesized data: %w", err)
		}
	}

	var dealValue sql.NullFloat64
	if rec.Params.DealValue != nil {
		dealValue = sql.NullFloat64{Float64: *rec.Params.DealValue, Valid: true}
	}
	var completedAt sql.NullTime
	if !rec.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: rec.CompletedAt, Valid: true}
	}

	var kind, agentName, message, remediation sql.NullString
	if rec.TerminalError != nil {
		kind = sql.NullString{String: rec.TerminalError.Kind, Valid: true}
		agentName = sql.NullString{String: rec.TerminalError.Agent, Valid: true}
		message = sql.NullString{String: rec.TerminalError.Message, Valid: true}
		remediation = sql.NullString{String: rec.TerminalError.Remediation, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, upsertJobSQL,
		rec.ID, string(rec.Status), rec.Completed, rec.Total, rec.CurrentAgent,
		rec.Params.Target, rec.Params.Acquirer, dealValue, rec.Params.Thesis,
		kind, agentName, message, remediation,
		string(artifactPaths), nullableString(synthesized), rec.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: saving job %s: %w", rec.ID, err)
	}
	return nil
}

func nullableString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

const selectJobsSQL = `
SELECT
	id, status, completed, total, current_agent,
	target, acquirer, deal_value, thesis,
	terminal_error_kind, terminal_error_agent, terminal_error_message, terminal_error_remediation,
	artifact_paths, synthesized_data, created_at, completed_at
FROM jobs
`

// scanner is satisfied by both *sql.Row and *sql.Rows, letting LoadJob and
// LoadAllJobs share one row-decoding helper.
type scanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(row scanner) (job.Record, error) {
	var (
		rec                                   job.Record
		status                                string
		dealValue                             sql.NullFloat64
		kind, agentName, message, remediation sql.NullString
		artifactPaths, synthesized            sql.NullString
		completedAt                           sql.NullTime
	)
	if err := row.Scan(
		&rec.ID, &status, &rec.Completed, &rec.Total, &rec.CurrentAgent,
		&rec.Params.Target, &rec.Params.Acquirer, &dealValue, &rec.Params.Thesis,
		&kind, &agentName, &message, &remediation,
		&artifactPaths, &synthesized, &rec.CreatedAt, &completedAt,
	); err != nil {
		return job.Record{}, err
	}

	rec.Status = job.Status(status)
	if dealValue.Valid {
		v := dealValue.Float64
		rec.Params.DealValue = &v
	}
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	if kind.Valid {
		rec.TerminalError = &job.TerminalError{
			Kind:        kind.String,
			Agent:       agentName.String,
			Message:     message.String,
			Remediation: remediation.String,
		}
	}
	if artifactPaths.Valid && artifactPaths.String != "" {
		if err := json.Unmarshal([]byte(artifactPaths.String), &rec.ArtifactPaths); err != nil {
			return job.Record{}, fmt.Errorf("storage: decoding artifact paths for job %s: %w", rec.ID, err)
		}
	}
	if synthesized.Valid && synthesized.String != "" {
		if err := json.Unmarshal([]byte(synthesized.String), &rec.SynthesizedData); err != nil {
			return job.Record{}, fmt.Errorf("storage: decoding synthesized data for job %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// LoadJob fetches one persisted job by id.
func (s *Store) LoadJob(ctx context.Context, id string) (job.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectJobsSQL+" WHERE id = $1", id)
	rec, err := scanJobRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Record{}, false, nil
	}
	if err != nil {
		return job.Record{}, false, fmt.Errorf("storage: loading job %s: %w", id, err)
	}
	return rec, true, nil
}

// LoadAllJobs fetches every persisted job, for rehydrating a Manager on
// startup (§6 "Persistence").
func (s *Store) LoadAllJobs(ctx context.Context) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectJobsSQL+" ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("storage: loading jobs: %w", err)
	}
	defer rows.Close()

	var records []job.Record
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: decoding job row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterating jobs: %w", err)
	}
	return records, nil
}
