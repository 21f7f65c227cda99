package snapshot

import (
	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/wire"
)

// Run drains every pending request from q and produces the Snapshot
// SyncItems it implies, grouped by the connection that should receive
// them. Per §4.4:
//
//  1. A wildcard ("*") request emits a Snapshot per (entity, type)
//     across every registered type.
//  2. A specific-type request with no entity filter emits a Snapshot
//     per live entity carrying that type.
//  3. A specific-type request with an entity filter emits one Snapshot
//     if that entity carries the component, otherwise nothing.
//
// The dispatcher is responsible for merging these into each
// connection's batch ahead of Update items (§4.6 step 5).
func Run(q *Queue, registry *synctype.Registry, world *ecsmock.World) map[connid.ID][]wire.SyncItem {
	out := make(map[connid.ID][]wire.SyncItem)

	for _, req := range q.Drain() {
		items := snapshotsFor(req, registry, world)
		if len(items) == 0 {
			continue
		}
		out[req.ConnectionID] = append(out[req.ConnectionID], items...)
	}

	return out
}

func snapshotsFor(req Request, registry *synctype.Registry, world *ecsmock.World) []wire.SyncItem {
	if req.ComponentType == "*" {
		var items []wire.SyncItem
		for _, typeName := range registry.TypeNames() {
			items = append(items, snapshotsForType(req, typeName, registry, world)...)
		}
		return items
	}

	return snapshotsForType(req, req.ComponentType, registry, world)
}

func snapshotsForType(req Request, typeName string, registry *synctype.Registry, world *ecsmock.World) []wire.SyncItem {
	reg, ok := registry.Lookup(typeName)
	if !ok {
		// Unknown component type: accept the subscription, emit nothing
		// (§7 — treated as absence, not an error).
		return nil
	}

	rows := reg.SnapshotAll(world)

	if req.Entity != nil {
		for _, row := range rows {
			if row.Entity == *req.Entity {
				return []wire.SyncItem{{
					Kind:           wire.ItemSnapshot,
					SubscriptionID: req.SubscriptionID,
					Entity:         row.Entity,
					ComponentType:  typeName,
					Bytes:          row.Bytes,
				}}
			}
		}
		return nil
	}

	items := make([]wire.SyncItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, wire.SyncItem{
			Kind:           wire.ItemSnapshot,
			SubscriptionID: req.SubscriptionID,
			Entity:         row.Entity,
			ComponentType:  typeName,
			Bytes:          row.Bytes,
		})
	}
	return items
}
