package testutil

import "sync"

// FixedParticleIDs returns predetermined particle ids.
//
// With one id every particle shares it; with several they are handed out
// in order and the last one repeats.
//
// Thread-safety: FixedParticleIDs is safe for concurrent use via internal mutex.
type FixedParticleIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedParticleIDs creates a generator over ids. Without ids it returns
// "test-particle-default".
func NewFixedParticleIDs(ids ...string) *FixedParticleIDs {
	if len(ids) == 0 {
		ids = []string{"test-particle-default"}
	}
	return &FixedParticleIDs{ids: ids}
}

// Generate returns the next id.
func (g *FixedParticleIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[g.idx]
	if g.idx < len(g.ids)-1 {
		g.idx++
	}
	return id
}
