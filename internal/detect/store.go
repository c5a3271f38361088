package detect

import (
	"sort"
	"sync"

	"github.com/jpalmerr/stationwatch/snapshot"
)

// Store retains the last changed snapshot per station.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Get returns the retained snapshot for id.
	Get(id string) (snapshot.Snapshot, bool)

	// Put replaces the retained snapshot for snap.SourceID.
	Put(snap snapshot.Snapshot)

	// Delete drops the retained snapshot for id and reports whether one existed.
	Delete(id string) bool

	// Clear drops everything and returns how many entries were removed.
	Clear() int

	// IDs lists retained station ids in sorted order.
	IDs() []string
}

// MemoryStore is an in-memory [Store]. It grows with the number of
// stations ever observed and is never pruned on its own.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]snapshot.Snapshot
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]snapshot.Snapshot)}
}

func (m *MemoryStore) Get(id string) (snapshot.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[id]
	return s, ok
}

func (m *MemoryStore) Put(snap snapshot.Snapshot) {
	m.mu.Lock()
	m.snaps[snap.SourceID] = snap
	m.mu.Unlock()
}

func (m *MemoryStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snaps[id]
	delete(m.snaps, id)
	return ok
}

func (m *MemoryStore) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.snaps)
	m.snaps = make(map[string]snapshot.Snapshot)
	return n
}

func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
