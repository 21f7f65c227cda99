// Package dispatch implements the per-frame batcher (§4.6): it fans
// out change-detector events to every matching subscription, enforces
// each type's max_updates_per_frame_per_client limit, and merges in
// pending snapshots ahead of updates, producing one SyncBatch per
// connection with a non-empty result.
package dispatch

import (
	"sort"

	"github.com/nugget/entitysync/internal/changedetect"
	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/subscription"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/wire"
)

// Run builds the per-connection SyncBatch for one frame.
//
// snapshots is the per-connection output of snapshot.Run for requests
// enqueued up through this frame; it is merged in ahead of updates for
// the same connection (§4.6 step 5). changes and despawns come from
// changedetect.Detector.Run. subs answers "who cares about this
// change". registry supplies each type's MaxUpdatesPerFramePerClient.
func Run(
	changes []changedetect.Change,
	despawns []changedetect.Despawn,
	subs *subscription.Manager,
	snapshots map[connid.ID][]wire.SyncItem,
	registry *synctype.Registry,
) map[connid.ID]wire.SyncBatch {
	entries := subs.Iter()

	updates := make(map[connid.ID][]wire.SyncItem)
	for _, c := range changes {
		for _, e := range entries {
			if !e.Matches(c.ComponentType, c.Entity) {
				continue
			}
			updates[e.ConnectionID] = append(updates[e.ConnectionID], wire.SyncItem{
				Kind:           wire.ItemUpdate,
				SubscriptionID: e.SubscriptionID,
				Entity:         c.Entity,
				ComponentType:  c.ComponentType,
				Bytes:          c.Bytes,
			})
		}
	}
	applyPerTypeLimit(updates, registry)

	removals := make(map[connid.ID][]wire.SyncItem)
	for _, d := range despawns {
		for _, e := range entries {
			if !e.MatchesEntity(d.Entity) {
				continue
			}
			removals[e.ConnectionID] = append(removals[e.ConnectionID], wire.SyncItem{
				Kind:           wire.ItemEntityRemoved,
				SubscriptionID: e.SubscriptionID,
				Entity:         d.Entity,
			})
		}
	}

	out := make(map[connid.ID]wire.SyncBatch)
	connections := make(map[connid.ID]struct{})
	for conn := range snapshots {
		connections[conn] = struct{}{}
	}
	for conn := range removals {
		connections[conn] = struct{}{}
	}
	for conn := range updates {
		connections[conn] = struct{}{}
	}

	for conn := range connections {
		var items []wire.SyncItem
		items = append(items, snapshots[conn]...)
		items = append(items, sortedItems(removals[conn])...)
		items = append(items, sortedItems(updates[conn])...)
		if len(items) > 0 {
			out[conn] = wire.SyncBatch{Items: items}
		}
	}

	return out
}

// sortedItems orders items by entity id then component type, the
// stable tie-break §4.6 requires within each class.
func sortedItems(items []wire.SyncItem) []wire.SyncItem {
	sorted := make([]wire.SyncItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Entity.Bits != sorted[j].Entity.Bits {
			return sorted[i].Entity.Bits < sorted[j].Entity.Bits
		}
		return sorted[i].ComponentType < sorted[j].ComponentType
	})
	return sorted
}

// applyPerTypeLimit drops excess Update items for the same
// (connection, type) beyond that type's configured limit, oldest
// first, leaving the newest MaxUpdatesPerFramePerClient in place.
func applyPerTypeLimit(updates map[connid.ID][]wire.SyncItem, registry *synctype.Registry) {
	for conn, items := range updates {
		byType := make(map[string][]int)
		for i, item := range items {
			byType[item.ComponentType] = append(byType[item.ComponentType], i)
		}

		drop := make(map[int]bool)
		for typeName, idxs := range byType {
			reg, ok := registry.Lookup(typeName)
			if !ok {
				continue
			}
			limit := reg.Config.MaxUpdatesPerFramePerClient
			if limit <= 0 || len(idxs) <= limit {
				continue
			}
			for _, i := range idxs[:len(idxs)-limit] {
				drop[i] = true
			}
		}

		if len(drop) == 0 {
			continue
		}
		kept := items[:0]
		for i, item := range items {
			if !drop[i] {
				kept = append(kept, item)
			}
		}
		updates[conn] = kept
	}
}
