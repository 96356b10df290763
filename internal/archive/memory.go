package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory implements Store in process memory, for tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload    []byte
	archivedAt time.Time
}

// NewMemory returns an empty in-memory archive store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

// Put stores a payload under key; existing keys fail.
func (m *Memory) Put(_ context.Context, key string, payload []byte) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return Entry{}, fmt.Errorf("archive entry %s already exists", key)
	}
	e := memoryEntry{payload: append([]byte(nil), payload...), archivedAt: time.Now().UTC()}
	m.entries[key] = e
	return Entry{Key: key, Size: int64(len(e.payload)), ArchivedAt: e.archivedAt}, nil
}

// Get reads one payload by key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, Entry{}, fmt.Errorf("archive entry %s not found", key)
	}
	return append([]byte(nil), e.payload...), Entry{Key: key, Size: int64(len(e.payload)), ArchivedAt: e.archivedAt}, nil
}

// List returns entries under a prefix, sorted by key.
func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for key, e := range m.entries {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, Entry{Key: key, Size: int64(len(e.payload)), ArchivedAt: e.archivedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes one entry, reporting whether it existed.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}
