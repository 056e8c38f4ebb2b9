package circuit

import (
	"context"
	"sync"
)

// StateStore persists breaker snapshots keyed by provider name. The Redis
// implementation is shared across instances; MemoryStateStore is the
// in-process fallback used when the shared store is unreachable.
type StateStore interface {
	// Load returns the snapshot for the provider, or nil when absent.
	Load(ctx context.Context, provider string) (*Snapshot, error)
	// Save persists the snapshot for the provider.
	Save(ctx context.Context, provider string, snap Snapshot) error
}

// MemoryStateStore keeps breaker snapshots in process memory.
type MemoryStateStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

// NewMemoryStateStore constructs a MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{snaps: make(map[string]Snapshot)}
}

// Load implements StateStore.
func (s *MemoryStateStore) Load(_ context.Context, provider string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[provider]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Save implements StateStore.
func (s *MemoryStateStore) Save(_ context.Context, provider string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[provider] = snap
	return nil
}
