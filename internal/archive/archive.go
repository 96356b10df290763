// Package archive retains baseline snapshots before a full-replace save
// overwrites server state, so an accepted-but-wrong save can be recovered by
// hand. Drivers mirror the snapshot onto the local filesystem, an
// S3-compatible bucket, or process memory (tests).
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"scenariocore/pkg/domain"
)

// Driver identifies a concrete archive backend.
type Driver string

const (
	// DriverFilesystem archives to a local directory (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 archives to an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps archives in process memory (tests).
	DriverMemory Driver = "memory"
)

// Entry describes one archived snapshot payload.
type Entry struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size_bytes"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Store is the byte-level backend an Archive writes through.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) (Entry, error)
	Get(ctx context.Context, key string) ([]byte, Entry, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

// Archive serializes session snapshots into timestamped JSON objects keyed
// by their (kind, project, scenario) identity.
type Archive struct {
	store Store
	nowFn func() time.Time
}

// New wraps a Store into an Archive.
func New(store Store) *Archive {
	return &Archive{store: store, nowFn: func() time.Time { return time.Now().UTC() }}
}

// ArchiveSnapshot writes the snapshot under a fresh timestamped key.
func (a *Archive) ArchiveSnapshot(ctx context.Context, snapshot domain.SessionSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := snapshotKey(snapshot.Key, a.nowFn())
	if _, err := a.store.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("archive snapshot %s: %w", key, err)
	}
	return nil
}

// History lists the archived snapshots of one identity, as stored.
func (a *Archive) History(ctx context.Context, key domain.SessionKey) ([]Entry, error) {
	return a.store.List(ctx, identityPrefix(key))
}

// Recover decodes one archived snapshot by key.
func (a *Archive) Recover(ctx context.Context, key string) (domain.SessionSnapshot, error) {
	payload, _, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("decode archived snapshot %s: %w", key, err)
	}
	return snap, nil
}

func identityPrefix(key domain.SessionKey) string {
	return fmt.Sprintf("%s/%s/%s/", key.Kind, key.Project, key.Scenario)
}

func snapshotKey(key domain.SessionKey, now time.Time) string {
	return identityPrefix(key) + now.Format("20060102T150405.000000000Z") + ".json"
}

// Open selects an archive backend using environment variables.
//
//	SCENARIOCORE_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	SCENARIOCORE_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./archive)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (*Archive, error) {
	driver := os.Getenv("SCENARIOCORE_ARCHIVE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		store, err := NewFilesystem(os.Getenv("SCENARIOCORE_ARCHIVE_FS_ROOT"))
		if err != nil {
			return nil, err
		}
		return New(store), nil
	case DriverS3:
		store, err := OpenS3FromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return New(store), nil
	case DriverMemory:
		return New(NewMemory()), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
