// Package connid defines the per-connection identifier shared by the
// subscription manager, mutation authorizer, and operational event bus.
package connid

import (
	"math"
	"sync/atomic"
)

// ID is a 32-bit value identifying one accepted connection for the
// lifetime of that connection. IDs are scoped to a single running
// server — they are not stable across restarts and not comparable
// across different transports of the same server.
type ID uint32

// Server is the reserved id meaning "the server itself", used to
// authorize server-originated mutations (e.g. from a console or an
// internal job) under policies that would otherwise reject every
// client-issued mutation.
const Server ID = math.MaxUint32

// IsServer reports whether id is the reserved server identity.
func (id ID) IsServer() bool {
	return id == Server
}

// Allocator hands out monotonically increasing connection ids, skipping
// the reserved Server value should the counter ever wrap around to it.
type Allocator struct {
	next atomic.Uint32
}

// Next returns the next unused connection id.
func (a *Allocator) Next() ID {
	id := ID(a.next.Add(1))
	if id.IsServer() {
		id = ID(a.next.Add(1))
	}
	return id
}
