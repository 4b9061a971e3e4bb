// Package signing derives peer ids from ed25519 keys and signs the CIDs a
// peer produced during one execution.
//
// A peer id is the base58 form of the peer's public key, so a signature can
// be verified from the peer id alone.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
)

// KeyFormat identifies a signature scheme.
type KeyFormat uint8

// Ed25519 is the only supported key format.
const Ed25519 KeyFormat = 0

func (f KeyFormat) String() string {
	if f == Ed25519 {
		return "ed25519"
	}
	return fmt.Sprintf("KeyFormat(%d)", uint8(f))
}

// KeyPair is a peer's signing key.
type KeyPair struct {
	private ed25519.PrivateKey
}

// NewKeyPair loads a secret key. The secret is either a 32-byte seed or a
// 64-byte ed25519 private key.
func NewKeyPair(format KeyFormat, secret []byte) (*KeyPair, error) {
	if format != Ed25519 {
		return nil, fmt.Errorf("unsupported key format %s", format)
	}
	switch len(secret) {
	case ed25519.SeedSize:
		return &KeyPair{private: ed25519.NewKeyFromSeed(secret)}, nil
	case ed25519.PrivateKeySize:
		return &KeyPair{private: ed25519.PrivateKey(append([]byte(nil), secret...))}, nil
	}
	return nil, fmt.Errorf("ed25519 secret key must be %d or %d bytes, got %d",
		ed25519.SeedSize, ed25519.PrivateKeySize, len(secret))
}

// GenerateKeyPair creates a fresh key pair from rand.
func GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// DeriveKeyPair builds a deterministic key pair from a name. It exists for
// tests and local scenarios, where peers are addressed by readable names.
func DeriveKeyPair(name string) *KeyPair {
	seed := sha256.Sum256([]byte("airvm peer " + name))
	return &KeyPair{private: ed25519.NewKeyFromSeed(seed[:])}
}

// PeerID returns the base58 encoded public key.
func (k *KeyPair) PeerID() string {
	return base58.Encode(k.Public())
}

// Public returns the public key.
func (k *KeyPair) Public() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// Seed returns the 32-byte seed the key was derived from.
func (k *KeyPair) Seed() []byte {
	return k.private.Seed()
}

// PublicKey decodes a peer id into an ed25519 public key.
func PublicKey(peerID string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("peer id %q is not base58: %w", peerID, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("peer id %q decodes to %d bytes, an ed25519 key has %d", peerID, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
