package host

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
)

// Hop is one delivery made by Network.Run.
type Hop struct {
	From    string
	To      string
	Outcome Result
}

// Report summarizes a Network.Run.
type Report struct {
	Hops []Hop

	// Undelivered lists next-peer ids that are not part of the network, in
	// the order they were first named.
	Undelivered []string
}

// delivery is a particle on its way to a peer.
type delivery struct {
	from string
	to   string
	data []byte
}

// Network routes particles between in-process peers.
//
// Deliveries are processed one at a time in FIFO order, so a run is
// deterministic for deterministic services.
type Network struct {
	mu      sync.RWMutex
	peers   map[string]*Peer
	maxHops int
	logger  *slog.Logger
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithMaxHops bounds the deliveries of one Run.
//
// Default: DefaultMaxHops
func WithMaxHops(limit int) NetworkOption {
	return func(n *Network) { n.maxHops = limit }
}

// WithNetworkLogger sets the logger.
func WithNetworkLogger(l *slog.Logger) NetworkOption {
	return func(n *Network) { n.logger = l }
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		peers:   make(map[string]*Peer),
		maxHops: DefaultMaxHops,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Add joins peers to the network.
func (n *Network) Add(peers ...*Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range peers {
		n.peers[p.ID()] = p
	}
}

// Peer returns the peer with the given id.
func (n *Network) Peer(id string) (*Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

// Deliver hands particle to peer to as a single hop.
func (n *Network) Deliver(ctx context.Context, particle Particle, to string) (Result, error) {
	p, ok := n.Peer(to)
	if !ok {
		return Result{}, fmt.Errorf("deliver %s: unknown peer %s", particle.ID, to)
	}
	return p.Receive(ctx, particle)
}

// Run delivers particle to entry and then follows next peers until no
// peer has anything to send.
//
// A peer that is handed data identical to what it was handed before is
// skipped: merging the same data twice cannot change anything.
func (n *Network) Run(ctx context.Context, particle Particle, entry string) (Report, error) {
	var report Report
	hops := newQuota(particle.ID, "hops", n.maxHops)
	seen := make(map[[2]string]bool)
	undelivered := make(map[string]bool)

	queue := []delivery{{to: entry, data: particle.Data}}
	for len(queue) > 0 {
		d := queue[0]
		queue[0] = delivery{}
		queue = queue[1:]

		key := [2]string{d.to, fmt.Sprintf("%x", sha256.Sum256(d.data))}
		if seen[key] {
			continue
		}
		seen[key] = true

		peer, ok := n.Peer(d.to)
		if !ok {
			if !undelivered[d.to] {
				undelivered[d.to] = true
				report.Undelivered = append(report.Undelivered, d.to)
				n.logger.Warn("next peer not in network", "particle_id", particle.ID, "peer", d.to)
			}
			continue
		}
		if err := hops.check(); err != nil {
			return report, err
		}

		res, err := peer.Receive(ctx, particle.WithData(d.data))
		if err != nil {
			return report, fmt.Errorf("hop %d to %s: %w", len(report.Hops)+1, d.to, err)
		}
		report.Hops = append(report.Hops, Hop{From: d.from, To: d.to, Outcome: res})

		for _, next := range res.Outcome.NextPeerPKs {
			queue = append(queue, delivery{from: d.to, to: next, data: res.Outcome.Data})
		}
	}
	return report, nil
}
