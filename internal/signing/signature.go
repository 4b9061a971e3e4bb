package signing

import (
	"crypto/ed25519"
	"fmt"
	"slices"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/mr-tron/base58"

	"github.com/roach88/airvm/internal/ir"
	"github.com/roach88/airvm/internal/trace"
)

// Payload is the byte string a peer signs: the canonical JSON of its sorted,
// deduplicated CIDs salted with the particle id.
func Payload(cids []ir.CID, particleID string) ([]byte, error) {
	sorted := sortedUnique(cids)
	arr := make(ir.Array, len(sorted))
	for i, c := range sorted {
		arr[i] = ir.String(c)
	}
	return ir.MarshalCanonical(ir.NewObject(
		ir.O("cids", arr),
		ir.O("particle_id", ir.String(particleID)),
	))
}

// Sign signs cids for particleID and returns the base58 signature.
func (k *KeyPair) Sign(cids []ir.CID, particleID string) (string, error) {
	payload, err := Payload(cids, particleID)
	if err != nil {
		return "", fmt.Errorf("build signed payload: %w", err)
	}
	return base58.Encode(ed25519.Sign(k.private, payload)), nil
}

// MismatchError reports a signature that does not cover what the trace
// attributes to its peer.
type MismatchError struct {
	PeerID string
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("signature of %s: %s", e.PeerID, e.Reason)
}

// Verify checks that sig is peerID's signature over cids for particleID.
func Verify(peerID string, cids []ir.CID, particleID, sig string) error {
	pub, err := PublicKey(peerID)
	if err != nil {
		return &MismatchError{PeerID: peerID, Reason: err.Error()}
	}
	raw, err := base58.Decode(sig)
	if err != nil {
		return &MismatchError{PeerID: peerID, Reason: "signature is not base58"}
	}
	payload, err := Payload(cids, particleID)
	if err != nil {
		return &MismatchError{PeerID: peerID, Reason: err.Error()}
	}
	if !ed25519.Verify(pub, payload, raw) {
		return &MismatchError{PeerID: peerID, Reason: fmt.Sprintf("does not match %d attributed CIDs", len(sortedUnique(cids)))}
	}
	return nil
}

// Attribute groups the CIDs a trace references by the peer that produced
// them: call results and failure messages by the peer of the call's
// tetraplet, canons by the peer that took them.
func Attribute(tr trace.Trace, info *trace.CIDInfo) (map[string][]ir.CID, error) {
	byPeer := make(map[string][]ir.CID)
	add := func(tetCID, cid ir.CID) error {
		tet, err := info.Tetraplets.MustGet(tetCID)
		if err != nil {
			return err
		}
		byPeer[tet.PeerPK] = append(byPeer[tet.PeerPK], cid)
		return nil
	}

	for _, s := range tr {
		var err error
		switch st := s.(type) {
		case trace.Executed:
			err = add(st.Tetraplet, st.Value)
		case trace.Failed:
			err = add(st.Tetraplet, st.Message)
		case trace.Canon:
			res, getErr := info.Canons.MustGet(st.CID)
			if getErr != nil {
				return nil, getErr
			}
			err = add(res.Tetraplet, st.CID)
		}
		if err != nil {
			return nil, err
		}
	}
	for peer, cids := range byPeer {
		byPeer[peer] = sortedUnique(cids)
	}
	return byPeer, nil
}

// VerifyAll checks that every peer the trace attributes CIDs to signed
// them. All failures are reported together.
func VerifyAll(tr trace.Trace, info *trace.CIDInfo, signatures map[string]string, particleID string) error {
	byPeer, err := Attribute(tr, info)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, peer := range sortedKeys(byPeer) {
		sig, ok := signatures[peer]
		if !ok {
			result = multierror.Append(result, &MismatchError{PeerID: peer, Reason: "is missing"})
			continue
		}
		if err := Verify(peer, byPeer[peer], particleID, sig); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Collect builds the signatures of a result trace. The local peer signs
// everything attributed to it; every other peer keeps the first of its
// candidate signatures that still verifies. A peer none of whose candidates
// verify keeps its first candidate and is reported in the error.
func Collect(tr trace.Trace, info *trace.CIDInfo, local *KeyPair, particleID string, candidates ...map[string]string) (map[string]string, error) {
	byPeer, err := Attribute(tr, info)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(byPeer))
	var result *multierror.Error
	for _, peer := range sortedKeys(byPeer) {
		if local != nil && peer == local.PeerID() {
			sig, err := local.Sign(byPeer[peer], particleID)
			if err != nil {
				return nil, err
			}
			out[peer] = sig
			continue
		}

		var (
			lastErr  error = &MismatchError{PeerID: peer, Reason: "is missing"}
			fallback string
			verified bool
		)
		for _, sigs := range candidates {
			sig, ok := sigs[peer]
			if !ok {
				continue
			}
			if fallback == "" {
				fallback = sig
			}
			if lastErr = Verify(peer, byPeer[peer], particleID, sig); lastErr == nil {
				out[peer], verified = sig, true
				break
			}
		}
		if verified {
			continue
		}
		if fallback != "" {
			out[peer] = fallback
		}
		result = multierror.Append(result, lastErr)
	}
	return out, result.ErrorOrNil()
}

func sortedUnique(cids []ir.CID) []ir.CID {
	out := slices.Clone(cids)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedKeys(m map[string][]ir.CID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
