// Package sqlite persists the snapshot cache to an embedded SQLite file,
// mirroring the in-memory semantics and writing the full state as JSON
// buckets after every mutation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"scenariocore/internal/infra/persistence/memory"
	"scenariocore/pkg/domain"
)

// Store is a snapshotting SQLite-backed snapshot cache.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ domain.SnapshotStore = (*Store)(nil)

// NewStore opens (or creates) the cache database at path and hydrates the
// embedded memory store from any existing state.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "scenariocore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	bucketSnapshots = "snapshots"
	bucketRecent    = "recent"
)

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
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

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, recent := s.ExportState()
	tx, err := s.db.Begin()
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
		if _, err := tx.Exec(`INSERT INTO state(bucket, payload) VALUES(?, ?)
			ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
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
	return s.persist()
}

// DeleteSnapshot removes a snapshot and persists the state.
func (s *Store) DeleteSnapshot(ctx context.Context, key domain.SessionKey) (bool, error) {
	ok, err := s.Store.DeleteSnapshot(ctx, key)
	if err != nil {
		return ok, err
	}
	return ok, s.persist()
}

// TouchRecent records a scenario open and persists the state.
func (s *Store) TouchRecent(ctx context.Context, recent domain.RecentScenario) error {
	if err := s.Store.TouchRecent(ctx, recent); err != nil {
		return err
	}
	return s.persist()
}

// Close flushes nothing further and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
