package domain

import (
	"context"
	"time"
)

// DocumentKind distinguishes the cached document families.
type DocumentKind string

// Cached document kinds; part of the composite cache key.
const (
	KindInputs    DocumentKind = "inputs"
	KindDatabases DocumentKind = "databases"
)

// SessionKey is the composite identity a baseline snapshot is cached under.
type SessionKey struct {
	Kind     DocumentKind `json:"kind"`
	Project  string       `json:"project"`
	Scenario string       `json:"scenario"`
}

// SessionSnapshot is the durable form of an editing session: the baseline
// document plus the pending ledger and fetched-schedule set, so a session can
// be restored across process restarts.
type SessionSnapshot struct {
	Key              SessionKey       `json:"key"`
	Document         ScenarioDocument `json:"document"`
	Ledger           []ChangeRecord   `json:"ledger,omitempty"`
	FetchedSchedules []string         `json:"fetched_schedules,omitempty"`
	SavedAt          time.Time        `json:"saved_at"`
}

// RecentScenario records a recently opened (project, scenario) identity.
type RecentScenario struct {
	Project  string    `json:"project"`
	Scenario string    `json:"scenario"`
	OpenedAt time.Time `json:"opened_at"`
}

// SnapshotStore is the local cache of session baselines and recent-scenario
// records. Implementations mirror a subset of the in-memory semantics onto a
// durable backend.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snapshot SessionSnapshot) error
	GetSnapshot(ctx context.Context, key SessionKey) (SessionSnapshot, bool, error)
	DeleteSnapshot(ctx context.Context, key SessionKey) (bool, error)
	ListSnapshots(ctx context.Context) ([]SessionSnapshot, error)
	TouchRecent(ctx context.Context, recent RecentScenario) error
	ListRecent(ctx context.Context, limit int) ([]RecentScenario, error)
	Close() error
}
