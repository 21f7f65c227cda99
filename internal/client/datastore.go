package client

import (
	"encoding/json"
	"fmt"
	"sync"
)

// RawKey identifies one (entity, component type) slot in the raw store
// (§4.9). The server's entity ids are opaque to the client beyond their
// wire representation, so Entity is carried as the same uint64 bits the
// wire protocol uses.
type RawKey struct {
	Entity        uint64
	ComponentType string
}

// DataStore is the client's two-stage cache: a raw (entity, type) →
// msgpack-bytes store fed directly by incoming SyncItems, plus typed
// JSON projections computed lazily from the raw bytes on read. Keeping
// raw bytes as the source of truth means a type registered after some
// data has already arrived can still project it correctly on first
// read, rather than losing updates that arrived before registration.
type DataStore struct {
	registry *Registry
	bus      *changeBus

	mu  sync.RWMutex
	raw map[RawKey][]byte
}

// NewDataStore creates an empty store bound to registry for
// bytes<->JSON projection.
func NewDataStore(registry *Registry) *DataStore {
	return &DataStore{
		registry: registry,
		bus:      newChangeBus(),
		raw:      make(map[RawKey][]byte),
	}
}

// ApplySnapshot and ApplyUpdate both write raw bytes; the distinction
// between Snapshot and Update (§3.3) only matters to the server's
// dispatcher (snapshot-before-update ordering), not to storage.
func (d *DataStore) ApplySnapshot(key RawKey, bytes []byte) { d.put(key, bytes) }
func (d *DataStore) ApplyUpdate(key RawKey, bytes []byte)   { d.put(key, bytes) }

func (d *DataStore) put(key RawKey, bytes []byte) {
	d.mu.Lock()
	d.raw[key] = bytes
	d.mu.Unlock()
	d.bus.publish(key)
}

// ApplyComponentRemoved deletes one component's raw bytes for entity.
func (d *DataStore) ApplyComponentRemoved(key RawKey) {
	d.mu.Lock()
	delete(d.raw, key)
	d.mu.Unlock()
	d.bus.publish(key)
}

// ApplyEntityRemoved deletes every raw entry for entity, across all
// component types currently cached.
func (d *DataStore) ApplyEntityRemoved(entity uint64) {
	d.mu.Lock()
	var touched []RawKey
	for key := range d.raw {
		if key.Entity == entity {
			delete(d.raw, key)
			touched = append(touched, key)
		}
	}
	d.mu.Unlock()
	for _, key := range touched {
		d.bus.publish(key)
	}
}

// Raw returns the cached bytes for key, if any.
func (d *DataStore) Raw(key RawKey) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bytes, ok := d.raw[key]
	return bytes, ok
}

// Project decodes the raw bytes at key into JSON using the registered
// type for key.ComponentType. Returns an error if nothing is cached, or
// if the type was never registered with client.Register.
func (d *DataStore) Project(key RawKey) (json.RawMessage, error) {
	bytes, ok := d.Raw(key)
	if !ok {
		return nil, fmt.Errorf("client: no data cached for entity %d type %s", key.Entity, key.ComponentType)
	}
	entry, ok := d.registry.Lookup(key.ComponentType)
	if !ok {
		return nil, fmt.Errorf("client: type %q not registered", key.ComponentType)
	}
	return entry.BytesToJSON(bytes)
}

// EntitiesOf returns every entity currently cached for componentType,
// the backing operation for a wildcard TypedView's All().
func (d *DataStore) EntitiesOf(componentType string) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var entities []uint64
	for key := range d.raw {
		if key.ComponentType == componentType {
			entities = append(entities, key.Entity)
		}
	}
	return entities
}

// Watch returns a channel that receives a key every time its raw bytes
// change, plus a function to stop watching. The channel is buffered and
// drop-if-full under backpressure — callers that need every change
// should re-Project on receipt rather than trust the payload to be
// current, since a later write can coalesce with an unread one.
func (d *DataStore) Watch(bufSize int) (<-chan RawKey, func()) {
	ch := d.bus.subscribe(bufSize)
	return ch, func() { d.bus.unsubscribe(ch) }
}
