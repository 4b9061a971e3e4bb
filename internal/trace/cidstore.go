package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/airvm/internal/ir"
)

// Store names used in errors and in the envelope.
const (
	ValueStoreName     = "value_store"
	TetrapletStoreName = "tetraplet_store"
	CanonStoreName     = "canon_store"
)

// CIDNotFoundError reports a reference to a CID missing from a store.
type CIDNotFoundError struct {
	Store string
	CID   ir.CID
}

func (e *CIDNotFoundError) Error() string {
	return fmt.Sprintf("%s has no entry for %s", e.Store, e.CID)
}

// CIDMismatchError reports a stored entry whose content hashes to another CID.
type CIDMismatchError struct {
	Store   string
	Claimed ir.CID
	Actual  ir.CID
}

func (e *CIDMismatchError) Error() string {
	return fmt.Sprintf("%s entry %s hashes to %s", e.Store, e.Claimed, e.Actual)
}

// Store is a content-addressed map from CID to T.
// T is stored through its JSON value form, which is also what gets hashed.
type Store[T any] struct {
	name      string
	entries   map[ir.CID]T
	toValue   func(T) ir.Value
	fromValue func(ir.Value) (T, error)
}

// NewValueStore creates the store for call results and ap'd values.
func NewValueStore() *Store[ir.Value] {
	return &Store[ir.Value]{
		name:      ValueStoreName,
		entries:   make(map[ir.CID]ir.Value),
		toValue:   func(v ir.Value) ir.Value { return v },
		fromValue: func(v ir.Value) (ir.Value, error) { return v, nil },
	}
}

// NewTetrapletStore creates the store for tetraplets.
func NewTetrapletStore() *Store[Tetraplet] {
	return &Store[Tetraplet]{
		name:      TetrapletStoreName,
		entries:   make(map[ir.CID]Tetraplet),
		toValue:   Tetraplet.ToValue,
		fromValue: TetrapletFromValue,
	}
}

// NewCanonStore creates the store for canon results.
func NewCanonStore() *Store[CanonResult] {
	return &Store[CanonResult]{
		name:      CanonStoreName,
		entries:   make(map[ir.CID]CanonResult),
		toValue:   CanonResult.ToValue,
		fromValue: CanonResultFromValue,
	}
}

// Put stores v and returns its CID.
func (s *Store[T]) Put(v T) (ir.CID, error) {
	c, err := ir.ComputeCID(s.toValue(v))
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	s.entries[c] = v
	return c, nil
}

// PutWithCID stores v under a CID already known to match it.
func (s *Store[T]) PutWithCID(c ir.CID, v T) {
	s.entries[c] = v
}

// Get returns the entry for c.
func (s *Store[T]) Get(c ir.CID) (T, bool) {
	v, ok := s.entries[c]
	return v, ok
}

// MustGet returns the entry for c or a *CIDNotFoundError.
func (s *Store[T]) MustGet(c ir.CID) (T, error) {
	v, ok := s.entries[c]
	if !ok {
		var zero T
		return zero, &CIDNotFoundError{Store: s.name, CID: c}
	}
	return v, nil
}

// Has reports whether c is stored.
func (s *Store[T]) Has(c ir.CID) bool {
	_, ok := s.entries[c]
	return ok
}

// Len returns the number of entries.
func (s *Store[T]) Len() int {
	return len(s.entries)
}

// CIDs returns the stored CIDs in sorted order.
func (s *Store[T]) CIDs() []ir.CID {
	cids := make([]ir.CID, 0, len(s.entries))
	for c := range s.entries {
		cids = append(cids, c)
	}
	slices.Sort(cids)
	return cids
}

// Verify recomputes every CID and fails on the first entry that does not
// hash to its key.
func (s *Store[T]) Verify() error {
	for _, claimed := range s.CIDs() {
		actual, err := ir.ComputeCID(s.toValue(s.entries[claimed]))
		if err != nil {
			return fmt.Errorf("%s entry %s: %w", s.name, claimed, err)
		}
		if actual != claimed {
			return &CIDMismatchError{Store: s.name, Claimed: claimed, Actual: actual}
		}
	}
	return nil
}

// MarshalJSON writes the store as an object of CID to canonical JSON, keys sorted.
func (s *Store[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range s.CIDs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(c))
		if err != nil {
			return nil, err
		}
		val, err := ir.MarshalCanonical(s.toValue(s.entries[c]))
		if err != nil {
			return nil, fmt.Errorf("%s entry %s: %w", s.name, c, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads entries under their claimed CIDs. Call Verify to check them.
func (s *Store[T]) UnmarshalJSON(data []byte) error {
	if s.fromValue == nil {
		return fmt.Errorf("store %q was not created with a constructor", s.name)
	}
	raw, err := ir.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	if _, ok := raw.(ir.Null); ok {
		return nil
	}
	obj, ok := raw.(*ir.Object)
	if !ok {
		return fmt.Errorf("%s must be an object", s.name)
	}
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		entry, err := s.fromValue(v)
		if err != nil {
			return fmt.Errorf("%s entry %s: %w", s.name, k, err)
		}
		s.entries[ir.CID(k)] = entry
	}
	return nil
}

// CIDInfo groups the three stores carried by an envelope.
type CIDInfo struct {
	Values     *Store[ir.Value]
	Tetraplets *Store[Tetraplet]
	Canons     *Store[CanonResult]
}

// NewCIDInfo creates empty stores.
func NewCIDInfo() *CIDInfo {
	return &CIDInfo{
		Values:     NewValueStore(),
		Tetraplets: NewTetrapletStore(),
		Canons:     NewCanonStore(),
	}
}

type wireCIDInfo struct {
	ValueStore     json.RawMessage `json:"value_store"`
	TetrapletStore json.RawMessage `json:"tetraplet_store"`
	CanonStore     json.RawMessage `json:"canon_store"`
	Codec          string          `json:"codec"`
	Hash           string          `json:"hash"`
}

const (
	cidCodec = "json"
	cidHash  = "sha2-256"
)

// MarshalJSON implements json.Marshaler for CIDInfo.
func (c *CIDInfo) MarshalJSON() ([]byte, error) {
	values, err := c.Values.MarshalJSON()
	if err != nil {
		return nil, err
	}
	tetraplets, err := c.Tetraplets.MarshalJSON()
	if err != nil {
		return nil, err
	}
	canons, err := c.Canons.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return marshalNoEscape(wireCIDInfo{
		ValueStore:     values,
		TetrapletStore: tetraplets,
		CanonStore:     canons,
		Codec:          cidCodec,
		Hash:           cidHash,
	})
}

// UnmarshalJSON implements json.Unmarshaler for CIDInfo.
func (c *CIDInfo) UnmarshalJSON(data []byte) error {
	var w wireCIDInfo
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Codec != "" && w.Codec != cidCodec {
		return fmt.Errorf("unsupported cid codec %q", w.Codec)
	}
	if w.Hash != "" && w.Hash != cidHash {
		return fmt.Errorf("unsupported cid hash %q", w.Hash)
	}

	fresh := NewCIDInfo()
	if len(w.ValueStore) > 0 {
		if err := fresh.Values.UnmarshalJSON(w.ValueStore); err != nil {
			return err
		}
	}
	if len(w.TetrapletStore) > 0 {
		if err := fresh.Tetraplets.UnmarshalJSON(w.TetrapletStore); err != nil {
			return err
		}
	}
	if len(w.CanonStore) > 0 {
		if err := fresh.Canons.UnmarshalJSON(w.CanonStore); err != nil {
			return err
		}
	}
	*c = *fresh
	return nil
}

// Verify recomputes the CIDs of all three stores.
func (c *CIDInfo) Verify() error {
	if err := c.Values.Verify(); err != nil {
		return err
	}
	if err := c.Tetraplets.Verify(); err != nil {
		return err
	}
	return c.Canons.Verify()
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
