// Package entityid defines the opaque entity identifier shared by the
// server registry, the wire codec, and the client cache.
package entityid

import (
	"math"
	"strconv"
)

// ID is an opaque 64-bit handle identifying a row in the server's
// component store. Two IDs with equal Bits refer to the same entity for
// the lifetime of that entity. Clients must treat it as opaque — no
// arithmetic or ordering meaning is implied beyond equality.
type ID struct {
	Bits uint64
}

// Dangling is the reserved sentinel meaning "spawn a new entity". It has
// that meaning only in the Entity field of a Mutate request. No other
// context checks for it: a Subscribe naming it is accepted and matches
// no entity.
var Dangling = ID{Bits: math.MaxUint64}

// IsDangling reports whether id is the spawn-new-entity sentinel.
func (id ID) IsDangling() bool {
	return id.Bits == Dangling.Bits
}

// New wraps a raw bit pattern as an ID. Hosts are responsible for
// keeping Bits stable and unique for a live entity.
func New(bits uint64) ID {
	return ID{Bits: bits}
}

// String renders the id for logging. Dangling renders distinctly so log
// lines make the sentinel obvious rather than printing a confusing
// 18446744073709551615.
func (id ID) String() string {
	if id.IsDangling() {
		return "DANGLING"
	}
	return strconv.FormatUint(id.Bits, 10)
}
