package client

import (
	"sync"
	"sync/atomic"
	"weak"
)

// TypedView is the projected, typed handle a caller binds to via
// Subscribe. A view with entity == nil is a wildcard view over every
// entity of componentType currently cached (use All); otherwise it
// tracks exactly one entity (use Get).
type TypedView[T any] struct {
	store         *DataStore
	componentType string
	entity        *uint64
}

// Get returns the current decoded value for a single-entity view. Ok
// is false if nothing has arrived yet, the view is a wildcard view, or
// decoding failed.
func (v *TypedView[T]) Get() (T, bool) {
	var zero T
	if v.entity == nil {
		return zero, false
	}
	raw, ok := v.store.Raw(RawKey{Entity: *v.entity, ComponentType: v.componentType})
	if !ok {
		return zero, false
	}
	var value T
	if decodeBytes(raw, &value) != nil {
		return zero, false
	}
	return value, true
}

// All returns the current decoded values for every entity cached under
// componentType, keyed by entity id. Only meaningful on wildcard views;
// a single-entity view returns an empty map.
func (v *TypedView[T]) All() map[uint64]T {
	out := make(map[uint64]T)
	if v.entity != nil {
		return out
	}
	for _, entity := range v.store.EntitiesOf(v.componentType) {
		raw, ok := v.store.Raw(RawKey{Entity: entity, ComponentType: v.componentType})
		if !ok {
			continue
		}
		var value T
		if decodeBytes(raw, &value) == nil {
			out[entity] = value
		}
	}
	return out
}

// cacheKey identifies a signal-cache slot: a component type, optionally
// narrowed to one entity. entity == nil ("all entities of this type")
// and entity pointing at a specific id are distinct subscriptions.
type cacheKey struct {
	ComponentType string
	HasEntity     bool
	Entity        uint64
}

func keyFor(componentType string, entity *uint64) cacheKey {
	k := cacheKey{ComponentType: componentType}
	if entity != nil {
		k.HasEntity = true
		k.Entity = *entity
	}
	return k
}

type cacheEntry struct {
	subscriptionID uint64
	refCount       int
	weakView       any // weak.Pointer[TypedView[T]], type-erased per entry
}

// Subscriptions is the client-side signal cache keyed by (type, entity):
// reference counts, a weak-pointer-backed view cache (§4.8, §9's
// weak-reference design note resolved via Go's weak.Pointer), and
// (un)subscribe wire traffic driven by ref-count transitions.
type Subscriptions struct {
	mu     sync.Mutex
	nextID atomic.Uint64

	entries map[cacheKey]*cacheEntry

	sendSubscribe   func(subscriptionID uint64, componentType string, entity *uint64)
	sendUnsubscribe func(subscriptionID uint64)
}

// NewSubscriptions creates an empty cache. sendSubscribe/sendUnsubscribe
// are invoked while the cache's lock is held, so they must not call back
// into the cache and should return quickly (the Client's callbacks write
// the frame straight to the socket through Conn.Send).
func NewSubscriptions(
	sendSubscribe func(subscriptionID uint64, componentType string, entity *uint64),
	sendUnsubscribe func(subscriptionID uint64),
) *Subscriptions {
	return &Subscriptions{
		entries:         make(map[cacheKey]*cacheEntry),
		sendSubscribe:   sendSubscribe,
		sendUnsubscribe: sendUnsubscribe,
	}
}

// Subscribe binds a TypedView[T] for (componentType, entity), reusing
// an existing cache entry when present. Ref-counting and the
// upgrade-or-recreate weak pointer dance implement §4.8's bind_type:
// first binding allocates a subscription_id and sends Subscribe; a
// dead weak pointer (the caller's prior view was collected) recreates
// the view without re-sending Subscribe, since the subscription_id
// itself is still live server-side.
func Subscribe[T any](subs *Subscriptions, store *DataStore, componentType string, entity *uint64) *TypedView[T] {
	key := keyFor(componentType, entity)

	subs.mu.Lock()
	defer subs.mu.Unlock()

	if existing, ok := subs.entries[key]; ok {
		existing.refCount++
		if wp, ok := existing.weakView.(weak.Pointer[TypedView[T]]); ok {
			if view := wp.Value(); view != nil {
				return view
			}
		}
		view := &TypedView[T]{store: store, componentType: componentType, entity: entity}
		existing.weakView = weak.Make(view)
		return view
	}

	view := &TypedView[T]{store: store, componentType: componentType, entity: entity}
	id := subs.nextID.Add(1)
	subs.entries[key] = &cacheEntry{
		subscriptionID: id,
		refCount:       1,
		weakView:       weak.Make(view),
	}
	subs.sendSubscribe(id, componentType, entity)
	return view
}

// Release drops one reference for (componentType, entity). When the
// ref-count reaches zero the entry is dropped and Unsubscribe is sent.
func Release(subs *Subscriptions, componentType string, entity *uint64) {
	key := keyFor(componentType, entity)

	subs.mu.Lock()
	defer subs.mu.Unlock()

	entry, ok := subs.entries[key]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(subs.entries, key)
		subs.sendUnsubscribe(entry.subscriptionID)
	}
}

// Resubscribe re-sends Subscribe for every live cache entry using its
// existing subscription_id, the reconnect behavior §9's open question
// resolves: the server treats reconnected ids as fresh subscriptions
// and re-delivers snapshots.
func (s *Subscriptions) Resubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		var entityPtr *uint64
		if key.HasEntity {
			e := key.Entity
			entityPtr = &e
		}
		s.sendSubscribe(entry.subscriptionID, key.ComponentType, entityPtr)
	}
}

// Count reports the number of live cache entries, for tests and
// diagnostics.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
