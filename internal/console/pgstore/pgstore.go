// Package pgstore is the Postgres-backed console.Store, following the same
// database/sql+lib/pq schema bootstrap and jackc/pgx/v5 hot-path split as
// mapping/pgstore.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // schema bootstrap driver

	"github.com/jlmwin/spira5-jira-datasync-master/internal/console"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// Store is a Postgres-backed console.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dbURL, bootstraps the schema, and returns a
// Store.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	if err := runMigrations(dbURL); err != nil {
		return nil, fmt.Errorf("console store migration failed: %w", err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open console store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping console store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func runMigrations(dbURL string) error {
	conn, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open schema connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping schema connection: %w", err)
	}
	_, err = conn.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS console_operator (
    id SERIAL PRIMARY KEY,
    username VARCHAR(255) UNIQUE NOT NULL,
    password_hash VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS console_project_pair (
    id SERIAL PRIMARY KEY,
    hub_project_id INTEGER NOT NULL,
    tracker_project_key VARCHAR(64) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS console_run (
    id VARCHAR(64) PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    outcome VARCHAR(16) NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    phase_log JSONB NOT NULL DEFAULT '[]'
);
`

func (s *Store) CreateOperator(username, passwordHash string) (console.Operator, error) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO console_operator (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at`, username, passwordHash)

	var op console.Operator
	if err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt); err != nil {
		return console.Operator{}, fmt.Errorf("failed to create operator: %w", err)
	}
	return op, nil
}

func (s *Store) GetOperatorByUsername(username string) (console.Operator, bool, error) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM console_operator WHERE username = $1`, username)

	var op console.Operator
	err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if err == pgx.ErrNoRows {
		return console.Operator{}, false, nil
	}
	if err != nil {
		return console.Operator{}, false, err
	}
	return op, true, nil
}

func (s *Store) ListProjectPairs() ([]console.ProjectPairRecord, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT id, hub_project_id, tracker_project_key, created_at
		FROM console_project_pair ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []console.ProjectPairRecord
	for rows.Next() {
		var rec console.ProjectPairRecord
		if err := rows.Scan(&rec.ID, &rec.HubProjectID, &rec.TrackerProjectKey, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreateProjectPair(pair model.ProjectPair) (console.ProjectPairRecord, error) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO console_project_pair (hub_project_id, tracker_project_key)
		VALUES ($1, $2)
		RETURNING id, hub_project_id, tracker_project_key, created_at`,
		pair.HubProjectID, pair.TrackerProjectKey)

	var rec console.ProjectPairRecord
	if err := row.Scan(&rec.ID, &rec.HubProjectID, &rec.TrackerProjectKey, &rec.CreatedAt); err != nil {
		return console.ProjectPairRecord{}, fmt.Errorf("failed to create project pair: %w", err)
	}
	return rec, nil
}

func (s *Store) CreateRun(run console.RunRecord) error {
	ctx := context.Background()
	phaseLog, err := json.Marshal(run.PhaseLog)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO console_run (id, started_at, finished_at, outcome, error, phase_log)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.StartedAt, run.FinishedAt, string(run.Outcome), run.Error, phaseLog)
	return err
}

func (s *Store) UpdateRun(run console.RunRecord) error {
	ctx := context.Background()
	phaseLog, err := json.Marshal(run.PhaseLog)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE console_run
		SET finished_at = $2, outcome = $3, error = $4, phase_log = $5
		WHERE id = $1`,
		run.ID, run.FinishedAt, string(run.Outcome), run.Error, phaseLog)
	return err
}

func (s *Store) GetRun(id string) (console.RunRecord, bool, error) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, outcome, error, phase_log
		FROM console_run WHERE id = $1`, id)

	var run console.RunRecord
	var finishedAt *time.Time
	var outcome, phaseLogRaw string
	err := row.Scan(&run.ID, &run.StartedAt, &finishedAt, &outcome, &run.Error, &phaseLogRaw)
	if err == pgx.ErrNoRows {
		return console.RunRecord{}, false, nil
	}
	if err != nil {
		return console.RunRecord{}, false, err
	}
	run.FinishedAt = finishedAt
	run.Outcome = console.RunOutcome(outcome)
	if err := json.Unmarshal([]byte(phaseLogRaw), &run.PhaseLog); err != nil {
		return console.RunRecord{}, false, err
	}
	return run, true, nil
}
