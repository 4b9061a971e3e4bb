package host

import (
	"errors"
	"fmt"
)

// DefaultMaxRounds bounds the execute/call loop of one Receive.
const DefaultMaxRounds = 64

// DefaultMaxHops bounds the deliveries of one Network.Run.
const DefaultMaxHops = 1000

// QuotaExceededError is returned when a particle keeps a peer or the network
// busy past its limit.
type QuotaExceededError struct {
	ParticleID string
	What       string // "rounds" or "hops"
	Count      int
	Limit      int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("particle %s exceeded max %s: %d > %d", e.ParticleID, e.What, e.Count, e.Limit)
}

// IsQuotaExceededError reports whether err wraps a QuotaExceededError.
func IsQuotaExceededError(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// quota counts steps against a limit.
type quota struct {
	particleID string
	what       string
	limit      int
	current    int
}

func newQuota(particleID, what string, limit int) *quota {
	return &quota{particleID: particleID, what: what, limit: limit}
}

// check increments the counter and fails once it passes the limit.
func (q *quota) check() error {
	q.current++
	if q.current > q.limit {
		return &QuotaExceededError{ParticleID: q.particleID, What: q.what, Count: q.current, Limit: q.limit}
	}
	return nil
}
