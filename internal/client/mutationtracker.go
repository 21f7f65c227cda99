package client

import (
	"sync"
	"sync/atomic"

	"github.com/nugget/entitysync/internal/entityid"
	"github.com/nugget/entitysync/internal/wire"
)

// MutationState is the client-visible lifecycle of one tracked mutation
// (§4.10): Pending until a MutationResponse arrives, then terminally Ok
// or Error.
type MutationState int

const (
	StatePending MutationState = iota
	StateOk
	StateError
)

func (s MutationState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOk:
		return "ok"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MutationResult is the terminal or in-flight status of a tracked
// mutation, exposed by MutationTracker.State.
type MutationResult struct {
	State   MutationState
	Status  wire.MutationStatus // only meaningful once State != StatePending
	Message *string
}

// MutationTracker assigns monotonic request ids to outbound Mutate
// messages and records their terminal status on receipt of the
// matching MutationResponse. A response for an id this tracker never
// issued (or already reaped) is ignored, not an error — the server may
// reply after the client already gave up waiting.
type MutationTracker struct {
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*MutationResult
}

// NewMutationTracker creates an empty tracker.
func NewMutationTracker() *MutationTracker {
	return &MutationTracker{pending: make(map[uint64]*MutationResult)}
}

// Track reserves the next request id and marks it Pending. Call this
// once per Mutate sent, before or immediately after writing the frame.
func (m *MutationTracker) Track() uint64 {
	id := m.nextID.Add(1)
	m.mu.Lock()
	m.pending[id] = &MutationResult{State: StatePending}
	m.mu.Unlock()
	return id
}

// BuildMutate constructs the wire.Mutate for entity/componentType/value
// and tracks its request id, returning both in one step.
func (m *MutationTracker) BuildMutate(entity entityid.ID, componentType string, value []byte) (wire.Mutate, uint64) {
	id := m.Track()
	return wire.Mutate{
		RequestID:     &id,
		Entity:        entity,
		ComponentType: componentType,
		Value:         value,
	}, id
}

// State returns the current result for requestID. Ok is false if the
// id is unknown (never tracked, or already forgotten via Forget).
func (m *MutationTracker) State(requestID uint64) (MutationResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.pending[requestID]
	if !ok {
		return MutationResult{}, false
	}
	return *result, true
}

// OnResponse applies a MutationResponse from the server. A response
// with no RequestID, or one that names a request this tracker does not
// know, is silently ignored.
func (m *MutationTracker) OnResponse(resp wire.MutationResponse) {
	if resp.RequestID == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.pending[*resp.RequestID]
	if !ok {
		return
	}
	result.Status = resp.Status
	result.Message = resp.Message
	if resp.Status == wire.StatusOk {
		result.State = StateOk
	} else {
		result.State = StateError
	}
}

// Forget drops a terminal result once the caller no longer needs it,
// bounding tracker memory for long-lived connections.
func (m *MutationTracker) Forget(requestID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, requestID)
}
