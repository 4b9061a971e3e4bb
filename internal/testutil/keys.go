package testutil

import (
	"sort"

	"github.com/roach88/airvm/internal/signing"
)

// Keyring maps readable peer names to derived key pairs so that tests and
// scenarios can name peers while signatures still verify.
type Keyring struct {
	byName map[string]*signing.KeyPair
	byID   map[string]string
}

// NewKeyring derives a key pair for every name.
func NewKeyring(names ...string) *Keyring {
	k := &Keyring{
		byName: make(map[string]*signing.KeyPair, len(names)),
		byID:   make(map[string]string, len(names)),
	}
	for _, name := range names {
		k.Add(name)
	}
	return k
}

// Add derives the key pair of name if it is not known yet and returns it.
func (k *Keyring) Add(name string) *signing.KeyPair {
	if kp, ok := k.byName[name]; ok {
		return kp
	}
	kp := signing.DeriveKeyPair(name)
	k.byName[name] = kp
	k.byID[kp.PeerID()] = name
	return kp
}

// Key returns the key pair of name, deriving it on first use.
func (k *Keyring) Key(name string) *signing.KeyPair {
	return k.Add(name)
}

// ID returns the peer id of name.
func (k *Keyring) ID(name string) string {
	return k.Add(name).PeerID()
}

// Name returns the name behind a peer id, or the id itself for peers the
// keyring does not know.
func (k *Keyring) Name(id string) string {
	if name, ok := k.byID[id]; ok {
		return name
	}
	return id
}

// Names lists the known names in sorted order.
func (k *Keyring) Names() []string {
	names := make([]string, 0, len(k.byName))
	for name := range k.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
