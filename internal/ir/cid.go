package ir

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CID is the string form of a content identifier: CIDv1, multicodec json,
// sha2-256 multihash, base32 multibase. Every value, tetraplet and canon
// result stored in an envelope is keyed by one.
type CID string

// jsonCodec is the multicodec code for plain JSON.
const jsonCodec uint64 = 0x0200

var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    jsonCodec,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// ComputeCID hashes the canonical serialization of v.
func ComputeCID(v Value) (CID, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("ComputeCID: failed to marshal: %w", err)
	}
	return CIDFromBytes(data)
}

// CIDFromBytes hashes already-canonical bytes.
func CIDFromBytes(data []byte) (CID, error) {
	c, err := cidPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("CIDFromBytes: %w", err)
	}
	return CID(c.String()), nil
}

// MustCID is like ComputeCID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCID(v Value) CID {
	c, err := ComputeCID(v)
	if err != nil {
		panic(err)
	}
	return c
}

// ValidateCID checks that s decodes as a CID with the expected prefix.
func ValidateCID(s CID) error {
	c, err := cid.Decode(string(s))
	if err != nil {
		return fmt.Errorf("malformed CID %q: %w", s, err)
	}
	p := c.Prefix()
	if p.Version != cidPrefix.Version || p.Codec != cidPrefix.Codec || p.MhType != cidPrefix.MhType {
		return fmt.Errorf("CID %q has unsupported prefix (version %d, codec %#x, hash %#x)",
			s, p.Version, p.Codec, p.MhType)
	}
	return nil
}
