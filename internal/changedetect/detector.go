// Package changedetect implements the per-frame change detection stage
// (§4.5): for each registered component type, enumerate entities whose
// change tick advanced since the last pass and encode their current
// value; separately observe entity despawns. The detector does not
// filter by subscription — it produces one logical stream and the
// dispatcher fans it out to interested connections.
package changedetect

import (
	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/entityid"
	"github.com/nugget/entitysync/internal/synctype"
)

// Change is an internal ComponentChange event: entity's ComponentType
// value changed this frame, encoded as wire bytes.
type Change struct {
	Entity        entityid.ID
	ComponentType string
	Bytes         []byte
}

// Despawn is an internal EntityDespawn event.
type Despawn struct {
	Entity entityid.ID
}

// Detector remembers the frame it last observed, so each Run call only
// reports changes since that point.
type Detector struct {
	lastFrame uint64
}

// New creates a detector starting from frame 0 — its first Run call
// reports every change that happened before it, which is correct only
// if Run is called before any mutation lands; callers that start the
// detector mid-stream should seed it via Seed.
func New() *Detector {
	return &Detector{}
}

// Seed sets the frame the detector considers already observed, useful
// when wiring the detector into an engine that has already advanced the
// world before the detector is constructed.
func (d *Detector) Seed(frame uint64) {
	d.lastFrame = frame
}

// Run enumerates every change and despawn since the last call, across
// every type registered in registry, and advances the detector's
// watermark to world's current frame.
func (d *Detector) Run(registry *synctype.Registry, world *ecsmock.World) ([]Change, []Despawn) {
	since := d.lastFrame
	d.lastFrame = world.Frame()

	var changes []Change
	for _, typeName := range registry.TypeNames() {
		touched := world.ChangedSince(typeName, since)
		if len(touched) == 0 {
			continue
		}
		reg, ok := registry.Lookup(typeName)
		if !ok {
			continue
		}

		want := make(map[entityid.ID]bool, len(touched))
		for _, entity := range touched {
			want[entity] = true
		}

		for _, row := range reg.SnapshotAll(world) {
			if !want[row.Entity] {
				continue
			}
			changes = append(changes, Change{Entity: row.Entity, ComponentType: typeName, Bytes: row.Bytes})
		}
		// Entities in touched but absent from SnapshotAll's rows changed
		// then lost the component within the same window; DespawnedSince
		// (or a future ComponentRemoved event) covers them instead.
	}

	var despawns []Despawn
	for _, entity := range world.DespawnedSince(since) {
		despawns = append(despawns, Despawn{Entity: entity})
	}

	return changes, despawns
}
