package dispatch

import (
	"testing"

	"github.com/nugget/entitysync/internal/changedetect"
	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/entityid"
	"github.com/nugget/entitysync/internal/subscription"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/wire"
)

func TestRun_UpdateFansOutToMatchingSubscription(t *testing.T) {
	reg := synctype.New()
	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Counter"})

	changes := []changedetect.Change{{Entity: entityid.New(7), ComponentType: "Counter", Bytes: []byte("x")}}

	batches := Run(changes, nil, subs, nil, reg)
	batch, ok := batches[1]
	if !ok {
		t.Fatalf("expected a batch for connection 1")
	}
	if len(batch.Items) != 1 || batch.Items[0].Kind != wire.ItemUpdate {
		t.Fatalf("items = %v, want one Update", batch.Items)
	}
}

func TestRun_NoMatchingSubscriptionProducesNoBatch(t *testing.T) {
	reg := synctype.New()
	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Position"})

	changes := []changedetect.Change{{Entity: entityid.New(7), ComponentType: "Counter", Bytes: []byte("x")}}

	batches := Run(changes, nil, subs, nil, reg)
	if len(batches) != 0 {
		t.Errorf("batches = %v, want none", batches)
	}
}

func TestRun_WildcardMatchesAnyType(t *testing.T) {
	reg := synctype.New()
	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: subscription.Wildcard})

	changes := []changedetect.Change{{Entity: entityid.New(7), ComponentType: "Counter", Bytes: []byte("x")}}

	batches := Run(changes, nil, subs, nil, reg)
	if len(batches[1].Items) != 1 {
		t.Fatalf("expected wildcard subscription to receive the update")
	}
}

func TestRun_DespawnProducesEntityRemoved(t *testing.T) {
	reg := synctype.New()
	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Counter"})

	despawns := []changedetect.Despawn{{Entity: entityid.New(7)}}

	batches := Run(nil, despawns, subs, nil, reg)
	batch := batches[1]
	if len(batch.Items) != 1 || batch.Items[0].Kind != wire.ItemEntityRemoved {
		t.Fatalf("items = %v, want one EntityRemoved", batch.Items)
	}
}

func TestRun_EntityFilteredSubscriptionIgnoresOtherEntities(t *testing.T) {
	reg := synctype.New()
	target := entityid.New(7)
	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Counter", Entity: &target})

	changes := []changedetect.Change{{Entity: entityid.New(8), ComponentType: "Counter", Bytes: []byte("x")}}

	batches := Run(changes, nil, subs, nil, reg)
	if len(batches) != 0 {
		t.Errorf("batches = %v, want none (entity filter excludes entity 8)", batches)
	}
}

func TestRun_SnapshotsPrecedeUpdates(t *testing.T) {
	reg := synctype.New()
	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Counter"})

	snapshots := map[connid.ID][]wire.SyncItem{
		1: {{Kind: wire.ItemSnapshot, SubscriptionID: 10, Entity: entityid.New(7), ComponentType: "Counter"}},
	}
	changes := []changedetect.Change{{Entity: entityid.New(7), ComponentType: "Counter", Bytes: []byte("x")}}

	batch := Run(changes, nil, subs, snapshots, reg)[1]
	if len(batch.Items) != 2 {
		t.Fatalf("items = %v, want 2", batch.Items)
	}
	if batch.Items[0].Kind != wire.ItemSnapshot || batch.Items[1].Kind != wire.ItemUpdate {
		t.Errorf("expected [Snapshot, Update] order, got %v", batch.Items)
	}
}

func TestRun_MaxUpdatesPerFrameDropsOldestFirst(t *testing.T) {
	reg := synctype.New()
	synctype.Register[struct {
		Value int `msgpack:"value"`
	}](reg, "Counter", synctype.Config{MaxUpdatesPerFramePerClient: 2})

	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Counter"})

	var changes []changedetect.Change
	for _, bits := range []uint64{1, 2, 3} {
		changes = append(changes, changedetect.Change{
			Entity:        entityid.New(bits),
			ComponentType: "Counter",
			Bytes:         []byte{byte(bits)},
		})
	}

	batch := Run(changes, nil, subs, nil, reg)[1]
	if len(batch.Items) != 2 {
		t.Fatalf("items = %v, want 2 after limit applied", batch.Items)
	}
	for _, item := range batch.Items {
		if item.Entity.Bits == 1 {
			t.Errorf("expected the oldest update (entity 1) to be dropped, got %v", batch.Items)
		}
	}
}

func TestRun_SnapshotOrEntityRemovedNeverDropped(t *testing.T) {
	reg := synctype.New()
	synctype.Register[struct {
		Value int `msgpack:"value"`
	}](reg, "Counter", synctype.Config{MaxUpdatesPerFramePerClient: 1})

	subs := subscription.New()
	subs.Add(subscription.Entry{ConnectionID: 1, SubscriptionID: 10, ComponentType: "Counter"})

	snapshots := map[connid.ID][]wire.SyncItem{
		1: {
			{Kind: wire.ItemSnapshot, SubscriptionID: 10, Entity: entityid.New(1), ComponentType: "Counter"},
			{Kind: wire.ItemSnapshot, SubscriptionID: 10, Entity: entityid.New(2), ComponentType: "Counter"},
		},
	}
	despawns := []changedetect.Despawn{{Entity: entityid.New(3)}, {Entity: entityid.New(4)}}

	batch := Run(nil, despawns, subs, snapshots, reg)[1]
	if len(batch.Items) != 4 {
		t.Fatalf("items = %v, want 4 (2 snapshots + 2 removals, neither subject to the update cap)", batch.Items)
	}
}

func TestRun_NilInputsProduceNoBatches(t *testing.T) {
	reg := synctype.New()
	subs := subscription.New()
	batches := Run(nil, nil, subs, nil, reg)
	if len(batches) != 0 {
		t.Errorf("batches = %v, want none", batches)
	}
}
