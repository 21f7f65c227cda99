// Package ecsmock is a minimal in-memory entity/component store used to
// drive the engine end-to-end without a real game engine. It implements
// just enough of the host ECS interface (§6.5 in the spec this engine
// follows: live-entity iteration, per-frame change observation, despawn
// observation, and insert/spawn) to exercise every engine stage in
// tests and the demo server — it is not a general-purpose ECS.
package ecsmock

import (
	"sync"

	"github.com/nugget/entitysync/internal/entityid"
)

// changeRecord pairs a component value with the frame it last changed on.
type changeRecord struct {
	value      any
	changedAt  uint64
}

// World stores component values keyed by (type name, entity), tracks a
// per-(type,entity) change tick, and tracks entity despawns, all tagged
// with the frame number they occurred on. The change detector and
// snapshot stage poll these records; nothing here is specific to any
// one component's Go type.
type World struct {
	mu sync.Mutex

	frame uint64

	live       map[uint64]struct{}
	components map[string]map[uint64]*changeRecord
	despawns   []despawnRecord

	nextEntity uint64
}

type despawnRecord struct {
	entity    entityid.ID
	despawnedAt uint64
}

// New creates an empty world at frame 1. Frame 0 is reserved as "before
// anything happened" so a Detector constructed with its zero value
// (lastFrame 0) reports state inserted before its first Run rather than
// missing it to the off-by-one in ChangedSince's strict comparison.
func New() *World {
	return &World{
		frame:      1,
		live:       make(map[uint64]struct{}),
		components: make(map[string]map[uint64]*changeRecord),
	}
}

// Advance moves the world to the next frame and returns it. The engine
// calls this once per stage-loop pass, right after the change detector
// runs.
func (w *World) Advance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame++
	return w.frame
}

// Frame returns the current frame number.
func (w *World) Frame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame
}

// Spawn allocates a new live entity and returns its id. Component
// values are attached afterward via Insert.
func (w *World) Spawn() entityid.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextEntity++
	id := entityid.New(w.nextEntity)
	w.live[id.Bits] = struct{}{}
	return id
}

// IsLive reports whether entity has been spawned and not yet despawned.
func (w *World) IsLive(entity entityid.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.live[entity.Bits]
	return ok
}

// Despawn removes an entity from the live set and every component map,
// recording the despawn at the current frame so the change detector can
// observe it exactly once.
func (w *World) Despawn(entity entityid.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.live, entity.Bits)
	for _, byEntity := range w.components {
		delete(byEntity, entity.Bits)
	}
	w.despawns = append(w.despawns, despawnRecord{entity: entity, despawnedAt: w.frame})
}

// Insert attaches or replaces the component named typeName on entity,
// bumping its change tick to the current frame. The entity must already
// be live (callers spawn first via Spawn for DANGLING mutations).
func (w *World) Insert(typeName string, entity entityid.ID, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	byEntity, ok := w.components[typeName]
	if !ok {
		byEntity = make(map[uint64]*changeRecord)
		w.components[typeName] = byEntity
	}
	byEntity[entity.Bits] = &changeRecord{value: value, changedAt: w.frame}
}

// Get returns the current value of typeName on entity, if present.
func (w *World) Get(typeName string, entity entityid.ID) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	byEntity, ok := w.components[typeName]
	if !ok {
		return nil, false
	}
	rec, ok := byEntity[entity.Bits]
	if !ok {
		return nil, false
	}
	return rec.value, true
}

// AllEntities returns every (entity, value) pair currently carrying
// typeName, for the snapshot stage.
func (w *World) AllEntities(typeName string) map[entityid.ID]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[entityid.ID]any)
	for bits, rec := range w.components[typeName] {
		out[entityid.New(bits)] = rec.value
	}
	return out
}

// ChangedSince returns every entity whose typeName component changed
// strictly after frame sinceFrame.
func (w *World) ChangedSince(typeName string, sinceFrame uint64) []entityid.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []entityid.ID
	for bits, rec := range w.components[typeName] {
		if rec.changedAt > sinceFrame {
			out = append(out, entityid.New(bits))
		}
	}
	return out
}

// DespawnedSince returns every entity despawned strictly after frame
// sinceFrame.
func (w *World) DespawnedSince(sinceFrame uint64) []entityid.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []entityid.ID
	for _, d := range w.despawns {
		if d.despawnedAt > sinceFrame {
			out = append(out, d.entity)
		}
	}
	return out
}

// AllTypeNames returns every component type name that has ever had a
// value inserted, in no particular order; a name stays listed after its
// last value is removed. The wildcard snapshot stage enumerates
// synctype.Registry.TypeNames instead.
func (w *World) AllTypeNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.components))
	for name := range w.components {
		names = append(names, name)
	}
	return names
}
