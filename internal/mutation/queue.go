// Package mutation implements the mutation queue, authorization hook,
// and apply stage (§4.6.mutate / §6.2): a Mutate envelope is enqueued as
// it arrives off the transport, and a per-frame stage drains the queue,
// checks each request against an Authorizer, applies the ones that pass
// through the type registry, and produces the MutationResponse routed
// back to the originating connection.
package mutation

import (
	"sync"

	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/entityid"
)

// Queued is a Mutate request captured off the wire, tagged with the
// connection it arrived on so the response can be routed back and the
// authorizer can judge who is asking.
type Queued struct {
	ConnectionID  connid.ID
	RequestID     *uint64
	Entity        entityid.ID
	ComponentType string
	Value         []byte
}

// Queue holds mutation requests awaiting the next stage pass.
type Queue struct {
	mu      sync.Mutex
	pending []Queued
}

// New creates an empty mutation queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a mutation request.
func (q *Queue) Enqueue(m Queued) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, m)
}

// Drain removes and returns every pending request, preserving arrival
// order — mutations within a frame apply in the order they were
// received (§4.6, no fairness guarantee is promised across frames).
func (q *Queue) Drain() []Queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	return drained
}
