// Package pgstore is the Postgres-backed mapping.Store (§4.1.1, §6.4):
// database/sql + lib/pq bootstraps the schema on connect, while the hot
// query path runs through a pgxpool.Pool (jackc/pgx/v5), splitting
// responsibilities between the two Postgres drivers.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // schema bootstrap driver

	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// Store is a Postgres-backed mapping.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dbURL, runs the bootstrap migration through
// database/sql + lib/pq, and returns a Store backed by a pgx connection
// pool for all subsequent queries.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	if err := runMigrations(dbURL); err != nil {
		return nil, fmt.Errorf("mapping store migration failed: %w", err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping mapping store: %w", err)
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
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_mapping (
    id SERIAL PRIMARY KEY,
    scope VARCHAR(64) NOT NULL,
    hub_project_id INTEGER NOT NULL DEFAULT 0,
    internal_id INTEGER NOT NULL,
    external_key VARCHAR(255) NOT NULL,
    is_primary BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_mapping_internal
    ON sync_mapping(scope, hub_project_id, internal_id);

CREATE INDEX IF NOT EXISTS idx_sync_mapping_external
    ON sync_mapping(scope, hub_project_id, external_key, id);
`

// FindByInternalID implements mapping.Store.
func (s *Store) FindByInternalID(scope model.Scope, hubProjectID, internalID int) (model.Mapping, bool) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `
		SELECT scope, hub_project_id, internal_id, external_key, is_primary
		FROM sync_mapping
		WHERE scope = $1 AND hub_project_id = $2 AND internal_id = $3
		ORDER BY id ASC
		LIMIT 1`, string(scope), projectDimension(scope, hubProjectID), internalID)

	return scanMapping(row)
}

// FindByExternalKey implements mapping.Store.
func (s *Store) FindByExternalKey(scope model.Scope, hubProjectID int, externalKey string, onlyPrimary bool) (model.Mapping, bool) {
	ctx := context.Background()

	query := `
		SELECT scope, hub_project_id, internal_id, external_key, is_primary
		FROM sync_mapping
		WHERE scope = $1 AND hub_project_id = $2 AND external_key = $3`
	if onlyPrimary {
		query += " AND is_primary = TRUE"
	}
	query += " ORDER BY id ASC LIMIT 1"

	row := s.pool.QueryRow(ctx, query, string(scope), projectDimension(scope, hubProjectID), externalKey)
	return scanMapping(row)
}

// Insert implements mapping.Store.
func (s *Store) Insert(mappings []model.Mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	ctx := context.Background()
	batch := make([][]interface{}, 0, len(mappings))
	for _, m := range mappings {
		batch = append(batch, []interface{}{
			string(m.Scope), projectDimension(m.Scope, m.HubProjectID), m.InternalID, m.ExternalKey, m.Primary,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin mapping insert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO sync_mapping (scope, hub_project_id, internal_id, external_key, is_primary)
			VALUES ($1, $2, $3, $4, $5)`, row...)
		if err != nil {
			return fmt.Errorf("failed to insert mapping: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func projectDimension(scope model.Scope, hubProjectID int) int {
	if scope == model.ScopeUser {
		return 0
	}
	return hubProjectID
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row rowScanner) (model.Mapping, bool) {
	var m model.Mapping
	var scope string
	if err := row.Scan(&scope, &m.HubProjectID, &m.InternalID, &m.ExternalKey, &m.Primary); err != nil {
		return model.Mapping{}, false
	}
	m.Scope = model.Scope(scope)
	return m, true
}
