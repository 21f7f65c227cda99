// Package snapshot implements the snapshot queue and stage (§4.4): a
// request is enqueued whenever a subscription is created, and a
// dedicated per-frame stage drains the queue, emitting one Snapshot
// SyncItem per (entity, type) the subscription matches.
package snapshot

import (
	"sync"

	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/entityid"
)

// Request is a pending snapshot delivery created on subscription
// creation and consumed exactly once by the snapshot stage.
type Request struct {
	ConnectionID   connid.ID
	SubscriptionID uint64
	ComponentType  string
	Entity         *entityid.ID
}

// Queue holds snapshot requests awaiting the next stage pass.
type Queue struct {
	mu      sync.Mutex
	pending []Request
}

// New creates an empty snapshot queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a snapshot request.
func (q *Queue) Enqueue(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
}

// Drain removes and returns every pending request.
func (q *Queue) Drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	return drained
}
