package protocol

import (
	"sync"
	"sync/atomic"
)

// Remapper rewrites client-chosen request ids to gateway-unique numeric ids
// for the backend hop and restores them when the response arrives.
//
// Gateway ids are monotonically increasing, starting at 1. Each mapping is
// consumed by exactly one Restore; a second Restore for the same id reports
// absence. Safe for concurrent use.
type Remapper struct {
	counter atomic.Uint64

	mu      sync.Mutex
	entries map[uint64]remapEntry
}

type remapEntry struct {
	original ID
	backend  string
}

// NewRemapper returns an empty remapper.
func NewRemapper() *Remapper {
	return &Remapper{entries: make(map[uint64]remapEntry)}
}

// Remap stores the mapping gateway id -> (original id, backend name) and
// returns the freshly assigned gateway id.
func (m *Remapper) Remap(original ID, backend string) uint64 {
	gatewayID := m.counter.Add(1)
	m.mu.Lock()
	m.entries[gatewayID] = remapEntry{original: original, backend: backend}
	m.mu.Unlock()
	return gatewayID
}

// Restore atomically removes and returns the mapping for gatewayID.
// The third return is false when the mapping is absent (never created, or
// already consumed).
func (m *Remapper) Restore(gatewayID uint64) (ID, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[gatewayID]
	if !ok {
		return NullID(), "", false
	}
	delete(m.entries, gatewayID)
	return e.original, e.backend, true
}

// PendingCount returns the number of unconsumed mappings.
func (m *Remapper) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
