// Package memory provides the in-memory snapshot store used directly in
// tests and embedded by the durable sqlite and postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"scenariocore/pkg/domain"
)

// Store keeps session snapshots and recent-scenario records in process
// memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snapshots map[domain.SessionKey]domain.SessionSnapshot
	recent    []domain.RecentScenario
}

// NewStore constructs an empty in-memory snapshot store.
func NewStore() *Store {
	return &Store{snapshots: make(map[domain.SessionKey]domain.SessionSnapshot)}
}

var _ domain.SnapshotStore = (*Store)(nil)

// PutSnapshot stores or replaces the snapshot for its key.
func (s *Store) PutSnapshot(_ context.Context, snapshot domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.Document = snapshot.Document.Clone()
	snapshot.Ledger = append([]domain.ChangeRecord(nil), snapshot.Ledger...)
	snapshot.FetchedSchedules = append([]string(nil), snapshot.FetchedSchedules...)
	s.snapshots[snapshot.Key] = snapshot
	return nil
}

// GetSnapshot returns the snapshot for a key, if present.
func (s *Store) GetSnapshot(_ context.Context, key domain.SessionKey) (domain.SessionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key]
	if !ok {
		return domain.SessionSnapshot{}, false, nil
	}
	snap.Document = snap.Document.Clone()
	snap.Ledger = append([]domain.ChangeRecord(nil), snap.Ledger...)
	snap.FetchedSchedules = append([]string(nil), snap.FetchedSchedules...)
	return snap, true, nil
}

// DeleteSnapshot removes a snapshot, reporting whether it existed.
func (s *Store) DeleteSnapshot(_ context.Context, key domain.SessionKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[key]
	delete(s.snapshots, key)
	return ok, nil
}

// ListSnapshots returns all stored snapshots ordered by key.
func (s *Store) ListSnapshots(_ context.Context) ([]domain.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SessionSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snap.Document = snap.Document.Clone()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.Scenario != b.Scenario {
			return a.Scenario < b.Scenario
		}
		return a.Kind < b.Kind
	})
	return out, nil
}

// TouchRecent records a scenario open, moving an existing identity to the
// front instead of duplicating it.
func (s *Store) TouchRecent(_ context.Context, recent domain.RecentScenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := make([]domain.RecentScenario, 0, len(s.recent)+1)
	filtered = append(filtered, recent)
	for _, r := range s.recent {
		if r.Project == recent.Project && r.Scenario == recent.Scenario {
			continue
		}
		filtered = append(filtered, r)
	}
	s.recent = filtered
	return nil
}

// ListRecent returns the most recently opened scenarios, newest first.
func (s *Store) ListRecent(_ context.Context, limit int) ([]domain.RecentScenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]domain.RecentScenario(nil), s.recent[:n]...), nil
}

// Close implements domain.SnapshotStore; nothing to release.
func (s *Store) Close() error { return nil }

// ExportState captures the full store contents for durable backends.
func (s *Store) ExportState() ([]domain.SessionSnapshot, []domain.RecentScenario) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := make([]domain.SessionSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap)
	}
	return snaps, append([]domain.RecentScenario(nil), s.recent...)
}

// ImportState replaces the store contents from a loaded snapshot.
func (s *Store) ImportState(snaps []domain.SessionSnapshot, recent []domain.RecentScenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[domain.SessionKey]domain.SessionSnapshot, len(snaps))
	for _, snap := range snaps {
		s.snapshots[snap.Key] = snap
	}
	s.recent = append([]domain.RecentScenario(nil), recent...)
}
