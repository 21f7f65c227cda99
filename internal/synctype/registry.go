// Package synctype is the server-side registry mapping component type
// names to the typed snapshot and mutation-apply functions that operate
// on them. Registration happens once per type at startup; everything
// downstream (change detector, snapshot stage, mutation queue) dispatches
// through the registry by name rather than by compile-time type.
package synctype

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/entityid"
	"github.com/nugget/entitysync/internal/wire"
)

// Config controls per-type dispatcher behavior.
type Config struct {
	// MaxUpdatesPerFramePerClient caps how many Update items for this
	// type the dispatcher delivers to one client per frame. Zero means
	// unlimited.
	MaxUpdatesPerFramePerClient int
}

// SnapshotRow is one (entity, encoded value) pair produced by a type's
// snapshot function.
type SnapshotRow struct {
	Entity entityid.ID
	Bytes  []byte
}

// Registration is the type-erased descriptor the registry stores per
// component type. The typed pieces are captured once, at Register[T]
// call time, as closures over T.
type Registration struct {
	TypeName string
	Config   Config

	// SnapshotAll iterates every live (entity, T) pair and returns each
	// encoded as msgpack bytes.
	SnapshotAll func(world *ecsmock.World) []SnapshotRow

	// ApplyMutation decodes value, then inserts it on entity (spawning a
	// new entity first if entity is the DANGLING sentinel). It returns
	// the resulting status and, for a spawn, the newly allocated entity.
	ApplyMutation func(world *ecsmock.World, entity entityid.ID, value []byte) (wire.MutationStatus, entityid.ID)

	goType reflect.Type
}

// Registry is the process-wide table of registered component types.
// Safe for concurrent registration and lookup, though registration is
// expected to happen at startup before any connections are accepted.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Registration
	byType  map[reflect.Type]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*Registration),
		byType: make(map[reflect.Type]string),
	}
}

// Register adds T under typeName, building its snapshot/mutation
// functions from T. Registration is idempotent on the Go type: registering the
// same T twice (even under different configs) is a no-op after the
// first call. Registering two different types under the same typeName
// is a fatal configuration error — panics, matching §4.2's "panic at
// startup is acceptable" — because a silently-lost component type is
// much worse than a loud failure before any connection exists.
func Register[T any](r *Registry, typeName string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	goType := reflect.TypeOf(zero)

	if _, ok := r.byType[goType]; ok {
		return // already registered — idempotent on identity.
	}

	if existing, ok := r.byName[typeName]; ok && existing.goType != goType {
		panic(fmt.Sprintf("synctype: component short name %q already registered for a different type", typeName))
	}

	reg := &Registration{
		TypeName: typeName,
		Config:   cfg,
		goType:   goType,
		SnapshotAll: func(world *ecsmock.World) []SnapshotRow {
			all := world.AllEntities(typeName)
			rows := make([]SnapshotRow, 0, len(all))
			for entity, value := range all {
				bytes, err := msgpack.Marshal(value)
				if err != nil {
					continue // a single type's encode failure must not break the stage.
				}
				rows = append(rows, SnapshotRow{Entity: entity, Bytes: bytes})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Entity.Bits < rows[j].Entity.Bits })
			return rows
		},
		ApplyMutation: func(world *ecsmock.World, entity entityid.ID, value []byte) (wire.MutationStatus, entityid.ID) {
			var decoded T
			if err := msgpack.Unmarshal(value, &decoded); err != nil {
				return wire.StatusValidationError, entityid.ID{}
			}

			if entity.IsDangling() {
				spawned := world.Spawn()
				world.Insert(typeName, spawned, decoded)
				return wire.StatusOk, spawned
			}

			if !world.IsLive(entity) {
				return wire.StatusNotFound, entityid.ID{}
			}
			world.Insert(typeName, entity, decoded)
			return wire.StatusOk, entity
		},
	}

	r.byName[typeName] = reg
	r.byType[goType] = typeName
}

// Lookup returns the registration for typeName, if any.
func (r *Registry) Lookup(typeName string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[typeName]
	return reg, ok
}

// TypeNames returns every registered short name, sorted
// alphabetically, so the wildcard snapshot stage walks types in a
// deterministic order.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
