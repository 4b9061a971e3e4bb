package host

import (
	"context"
	"sync"

	"github.com/roach88/airvm/internal/store"
)

// ParticleStore keeps the data a peer holds per particle.
// Implemented by MemoryStore and by *store.Store.
type ParticleStore interface {
	LoadParticle(ctx context.Context, particleID, peerID string) ([]byte, error)
	SaveParticle(ctx context.Context, particleID, peerID string, data []byte) error
}

// Recorder receives every interpreter invocation a peer makes.
// Implemented by *store.Store.
type Recorder interface {
	LogExecution(ctx context.Context, e store.Execution) (int64, error)
}

var (
	_ ParticleStore = (*store.Store)(nil)
	_ Recorder      = (*store.Store)(nil)
)

// MemoryStore is an in-memory ParticleStore.
//
// Thread-safety: MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[[2]string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[[2]string][]byte)}
}

// LoadParticle implements ParticleStore. Unknown particles load as nil.
func (m *MemoryStore) LoadParticle(_ context.Context, particleID, peerID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[[2]string{particleID, peerID}], nil
}

// SaveParticle implements ParticleStore.
func (m *MemoryStore) SaveParticle(_ context.Context, particleID, peerID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[[2]string{particleID, peerID}] = append([]byte(nil), data...)
	return nil
}
