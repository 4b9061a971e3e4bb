package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LoadParticle returns the envelope peerID holds for particleID, or nil when
// the peer has not seen the particle.
func (s *Store) LoadParticle(ctx context.Context, particleID, peerID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM particles
		WHERE particle_id = ? AND peer_id = ?
	`, particleID, peerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load particle %s on %s: %w", particleID, peerID, err)
	}
	return data, nil
}

// SaveParticle replaces the envelope peerID holds for particleID.
func (s *Store) SaveParticle(ctx context.Context, particleID, peerID string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO particles (particle_id, peer_id, data, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM particles))
		ON CONFLICT(particle_id, peer_id) DO UPDATE SET
			data = excluded.data,
			seq = excluded.seq
	`, particleID, peerID, data)
	if err != nil {
		return fmt.Errorf("save particle %s on %s: %w", particleID, peerID, err)
	}
	return nil
}

// ParticleHolders lists the peers holding data for particleID, most
// recently updated last.
func (s *Store) ParticleHolders(ctx context.Context, particleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT peer_id FROM particles
		WHERE particle_id = ?
		ORDER BY seq ASC, peer_id COLLATE BINARY ASC
	`, particleID)
	if err != nil {
		return nil, fmt.Errorf("query particle holders: %w", err)
	}
	defer rows.Close()

	peers := []string{}
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, fmt.Errorf("scan particle holder: %w", err)
		}
		peers = append(peers, peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate particle holders: %w", err)
	}
	return peers, nil
}
