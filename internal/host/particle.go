package host

import (
	"time"

	"github.com/google/uuid"
)

// Particle is a script travelling between peers together with the data the
// sender produced for it.
type Particle struct {
	ID          string `json:"id"`
	InitPeerID  string `json:"init_peer_id"`
	Script      string `json:"script"`
	TimestampMs uint64 `json:"timestamp_ms"`
	TTLMs       uint32 `json:"ttl_ms"`
	Data        []byte `json:"data,omitempty"`
}

// WithData returns a copy of the particle carrying data.
func (p Particle) WithData(data []byte) Particle {
	p.Data = data
	return p
}

// DefaultTTL is the particle time-to-live used when none is given.
const DefaultTTL = 2 * time.Minute

// ParticleIDGenerator generates particle ids.
// Implemented by UUIDv7Generator and by fixed generators in tests.
type ParticleIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 particle ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock supplies particle timestamps in milliseconds since the epoch.
type Clock interface {
	NowMs() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowMs implements Clock.
func (SystemClock) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
