// Package ir provides the JSON value model shared by every airvm package.
//
// This package imports nothing internal. It owns three things:
//   - Value, a sealed JSON value type whose objects keep insertion order
//   - MarshalCanonical, the RFC 8785 serialization used for hashing
//   - CID, the content identifier every stored value is keyed by
//
// Key design constraints:
//   - Only canonical bytes feed a CID, so two peers that hold the same value
//     always compute the same identifier
//   - Values are immutable once shared; build objects with NewObject and Set,
//     then hand them out
package ir
