// Package client implements the reactive client runtime (§4.8-§4.11):
// a type registry bridging wire bytes to JSON, a two-stage data store
// (raw bytes → typed projections), a mutation tracker, and the
// WebSocket transport glue tying them to the wire protocol.
package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// TypeEntry is the type-erased per-type conversion pair the registry
// stores. Registration happens once per concrete Go type T, capturing
// both directions as closures (§4.11: bytes ↔ T ↔ JSON).
type TypeEntry struct {
	ShortName string

	// BytesToJSON decodes msgpack bytes into T, then re-encodes as JSON
	// for UI consumption.
	BytesToJSON func(bytes []byte) (json.RawMessage, error)

	// JSONToBytes decodes a JSON value into T, then re-encodes as
	// msgpack bytes for the wire.
	JSONToBytes func(value json.RawMessage) ([]byte, error)
}

// Registry is the client-side table of registered component types,
// keyed by short_name — the same string the server uses in Subscribe
// and SyncItem.component_type.
type Registry struct {
	mu      sync.RWMutex
	byShort map[string]*TypeEntry
}

// NewRegistry creates an empty client type registry.
func NewRegistry() *Registry {
	return &Registry{byShort: make(map[string]*TypeEntry)}
}

// Register adds T under shortName. Re-registering the same name is a
// no-op after the first call, even with a different T; unlike
// synctype.Register, which keys on the Go type and panics on a name
// collision, it never panics.
func Register[T any](r *Registry, shortName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byShort[shortName]; ok {
		return
	}

	r.byShort[shortName] = &TypeEntry{
		ShortName: shortName,
		BytesToJSON: func(bytes []byte) (json.RawMessage, error) {
			var value T
			if err := msgpack.Unmarshal(bytes, &value); err != nil {
				return nil, fmt.Errorf("client: decode %s bytes: %w", shortName, err)
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("client: encode %s as json: %w", shortName, err)
			}
			return encoded, nil
		},
		JSONToBytes: func(value json.RawMessage) ([]byte, error) {
			var decoded T
			if err := json.Unmarshal(value, &decoded); err != nil {
				return nil, fmt.Errorf("client: decode %s json: %w", shortName, err)
			}
			bytes, err := msgpack.Marshal(decoded)
			if err != nil {
				return nil, fmt.Errorf("client: encode %s bytes: %w", shortName, err)
			}
			return bytes, nil
		},
	}
}

// Lookup returns the registration for shortName, if any. An unknown
// short name is not an error here — callers decide how to react (§4.11:
// it becomes a local error only at the point of use, never closes the
// connection).
func (r *Registry) Lookup(shortName string) (*TypeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byShort[shortName]
	return entry, ok
}
