// Package postgres provides a Postgres-backed snapshot cache that mirrors
// the in-memory semantics, for shared multi-workstation deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"scenariocore/internal/infra/persistence/memory"
	"scenariocore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.SnapshotStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/scenariocore?sslmode=disable"
)

// Store persists state to Postgres while reusing the in-memory
// implementation for reads and mutation semantics.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the state table exists, and hydrates the embedded
// memory store from any existing state.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS scenariocore_state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	bucketSnapshots = "snapshots"
	bucketRecent    = "recent"
)

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM scenariocore_state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []domain.SessionSnapshot
	var recent []domain.RecentScenario
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		switch bucket {
		case bucketSnapshots:
			if err := json.Unmarshal(payload, &snaps); err != nil {
				return fmt.Errorf("decode snapshots: %w", err)
			}
		case bucketRecent:
			if err := json.Unmarshal(payload, &recent); err != nil {
				return fmt.Errorf("decode recent: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snaps, recent)
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, recent := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	buckets := map[string]any{bucketSnapshots: snaps, bucketRecent: recent}
	for bucket, value := range buckets {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO scenariocore_state(bucket, payload) VALUES($1, $2)
			ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("write %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

// PutSnapshot stores a snapshot and persists the state.
func (s *Store) PutSnapshot(ctx context.Context, snapshot domain.SessionSnapshot) error {
	if err := s.Store.PutSnapshot(ctx, snapshot); err != nil {
		return err
	}
	return s.persist(ctx)
}

// DeleteSnapshot removes a snapshot and persists the state.
func (s *Store) DeleteSnapshot(ctx context.Context, key domain.SessionKey) (bool, error) {
	ok, err := s.Store.DeleteSnapshot(ctx, key)
	if err != nil {
		return ok, err
	}
	return ok, s.persist(ctx)
}

// TouchRecent records a scenario open and persists the state.
func (s *Store) TouchRecent(ctx context.Context, recent domain.RecentScenario) error {
	if err := s.Store.TouchRecent(ctx, recent); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
