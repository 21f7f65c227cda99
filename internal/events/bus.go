// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from engine stages (transport, subscription
// manager, mutation queue, dispatcher) to subscribers (log sinks, future
// metrics collectors). The bus is nil-safe: calling Publish on a nil *Bus
// is a no-op, so components do not need guard checks. It carries engine
// lifecycle events only — it is not part of the sync wire protocol and
// never touches the component stream.
package events

import (
	"sync"
	"time"
)

// Source constants identify which engine component published an event.
const (
	// SourceTransport identifies events from the WebSocket transport
	// (connection accept/close, handshake failures).
	SourceTransport = "transport"
	// SourceSubscription identifies events from the subscription manager.
	SourceSubscription = "subscription"
	// SourceMutation identifies events from the mutation queue/authorizer.
	SourceMutation = "mutation"
	// SourceDispatch identifies events from the dispatcher stage.
	SourceDispatch = "dispatch"
	// SourceEngine identifies events from the frame loop itself.
	SourceEngine = "engine"
)

// Kind constants describe the type of event within a source.
const (
	// KindConnectionOpen signals a connection was accepted.
	// Data: connection_id.
	KindConnectionOpen = "connection_open"
	// KindConnectionClose signals a connection was closed or dropped.
	// Data: connection_id, subscriptions_torn.
	KindConnectionClose = "connection_close"

	// KindSubscribe signals a connection subscribed to a component type.
	// Data: connection_id, component_type.
	KindSubscribe = "subscribe"
	// KindUnsubscribe signals a connection removed one of its subscriptions.
	// Data: connection_id.
	KindUnsubscribe = "unsubscribe"

	// KindMutationAccepted signals a mutation passed authorization and was queued.
	// Data: connection_id, entity, component_type.
	KindMutationAccepted = "mutation_accepted"
	// KindMutationForbidden signals a mutation was rejected by the authorizer.
	// Data: connection_id, entity, component_type, reason.
	KindMutationForbidden = "mutation_forbidden"
	// KindMutationApplied signals a queued mutation was applied to the world.
	// Data: connection_id, entity, component_type, request_id.
	KindMutationApplied = "mutation_applied"

	// KindSnapshotSent signals a full snapshot batch was dispatched to a
	// newly-subscribed connection.
	// Data: connection_id, component_type, item_count.
	KindSnapshotSent = "snapshot_sent"
	// KindUpdatesDropped signals the dispatcher exceeded
	// max_updates_per_frame_per_client and dropped the oldest updates.
	// Data: connection_id, component_type, dropped_count.
	KindUpdatesDropped = "updates_dropped"

	// KindFrameTick signals one pass of the (ingress, detect, snapshot,
	// mutate, dispatch) stage loop completed.
	// Data: frame, duration_ms.
	KindFrameTick = "frame_tick"
)

// Event represents a single operational event published by an engine
// component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
