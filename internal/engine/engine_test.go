package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/mutation"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/transport"
	"github.com/nugget/entitysync/internal/wire"
)

type counter struct {
	Value int `msgpack:"value"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func waitForSend(t *testing.T, tp *transport.Memory, connection connid.ID, timeout time.Duration) [][]byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sent := tp.Drain()
		if len(sent[connection]) > 0 {
			return sent[connection]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a send to connection %d", connection)
	return nil
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestEngine_SubscribeReceivesSnapshot(t *testing.T) {
	world := ecsmock.New()
	e7 := world.Spawn()
	world.Insert("Counter", e7, counter{Value: 5})

	registry := synctype.New()
	synctype.Register[counter](registry, "Counter", synctype.Config{})

	tp := transport.NewMemory(8)
	eng := New(testLogger(), world, registry, tp, mutation.AllowAll{}, nil, 10*time.Millisecond)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	sub := wire.Subscribe{SubscriptionID: 1, ComponentType: "Counter"}
	frame, err := wire.EncodeClientEnvelope(wire.AsClientEnvelope(sub))
	if err != nil {
		t.Fatalf("encode subscribe: %v", err)
	}
	tp.Deliver(1, frame)

	frames := waitForSend(t, tp, 1, time.Second)
	env, err := wire.DecodeServerEnvelope(frames[0])
	if err != nil {
		t.Fatalf("decode server envelope: %v", err)
	}
	if env.Tag != wire.ServerTagSyncBatch {
		t.Fatalf("tag = %v, want SyncBatch", env.Tag)
	}
	if len(env.SyncBatch.Items) != 1 || env.SyncBatch.Items[0].Kind != wire.ItemSnapshot {
		t.Fatalf("items = %v, want one Snapshot", env.SyncBatch.Items)
	}
	if env.SyncBatch.Items[0].Entity != e7 {
		t.Errorf("entity = %v, want %v", env.SyncBatch.Items[0].Entity, e7)
	}
}

func TestEngine_MutateAppliesAndResponds(t *testing.T) {
	world := ecsmock.New()
	e := world.Spawn()
	world.Insert("Counter", e, counter{Value: 1})

	registry := synctype.New()
	synctype.Register[counter](registry, "Counter", synctype.Config{})

	tp := transport.NewMemory(8)
	eng := New(testLogger(), world, registry, tp, mutation.AllowAll{}, nil, 10*time.Millisecond)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	reqID := uint64(99)
	m := wire.Mutate{RequestID: &reqID, Entity: e, ComponentType: "Counter", Value: mustEncode(t, counter{Value: 42})}
	frame, err := wire.EncodeClientEnvelope(wire.AsClientEnvelope(m))
	if err != nil {
		t.Fatalf("encode mutate: %v", err)
	}
	tp.Deliver(1, frame)

	frames := waitForSend(t, tp, 1, time.Second)
	env, err := wire.DecodeServerEnvelope(frames[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Tag != wire.ServerTagMutationResponse {
		t.Fatalf("tag = %v, want MutationResponse", env.Tag)
	}
	if env.MutationResponse.Status != wire.StatusOk {
		t.Fatalf("status = %v, want Ok", env.MutationResponse.Status)
	}

	got, _ := world.Get("Counter", e)
	if got.(counter).Value != 42 {
		t.Errorf("Counter value = %v, want 42", got)
	}
}

func TestEngine_MutationDispatchesUpdateToSubscriber(t *testing.T) {
	world := ecsmock.New()
	e := world.Spawn()
	world.Insert("Counter", e, counter{Value: 1})

	registry := synctype.New()
	synctype.Register[counter](registry, "Counter", synctype.Config{})

	tp := transport.NewMemory(16)
	eng := New(testLogger(), world, registry, tp, mutation.AllowAll{}, nil, 10*time.Millisecond)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	sub := wire.Subscribe{SubscriptionID: 1, ComponentType: "Counter"}
	subFrame, _ := wire.EncodeClientEnvelope(wire.AsClientEnvelope(sub))
	tp.Deliver(1, subFrame)
	waitForSend(t, tp, 1, time.Second) // initial snapshot batch

	reqID := uint64(7)
	m := wire.Mutate{RequestID: &reqID, Entity: e, ComponentType: "Counter", Value: mustEncode(t, counter{Value: 99})}
	mutFrame, _ := wire.EncodeClientEnvelope(wire.AsClientEnvelope(m))
	tp.Deliver(1, mutFrame)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, raw := range tp.Drain()[1] {
			env, err := wire.DecodeServerEnvelope(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Tag != wire.ServerTagSyncBatch {
				continue
			}
			for _, item := range env.SyncBatch.Items {
				if item.Kind == wire.ItemUpdate && item.Entity == e && item.ComponentType == "Counter" {
					return
				}
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for an Update item after the mutation applied")
}

func TestEngine_MalformedFrameClosesConnection(t *testing.T) {
	world := ecsmock.New()
	registry := synctype.New()
	tp := transport.NewMemory(8)
	eng := New(testLogger(), world, registry, tp, mutation.AllowAll{}, nil, 10*time.Millisecond)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	tp.Deliver(1, []byte{0x01, 0x02, 0x03})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(tp.ClosedConnections()) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the connection to be closed after a malformed frame")
}

func TestEngine_DisconnectDrainsSubscriptions(t *testing.T) {
	world := ecsmock.New()
	registry := synctype.New()
	synctype.Register[counter](registry, "Counter", synctype.Config{})
	tp := transport.NewMemory(8)
	eng := New(testLogger(), world, registry, tp, mutation.AllowAll{}, nil, 10*time.Millisecond)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	sub := wire.Subscribe{SubscriptionID: 1, ComponentType: "Counter"}
	frame, _ := wire.EncodeClientEnvelope(wire.AsClientEnvelope(sub))
	tp.Deliver(1, frame)
	waitForSend(t, tp, 1, time.Second)

	tp.Announce(1, false)
	time.Sleep(30 * time.Millisecond)

	if got := eng.subs.CountForType("Counter"); got != 0 {
		t.Errorf("CountForType after disconnect = %d, want 0", got)
	}
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	world := ecsmock.New()
	registry := synctype.New()
	tp := transport.NewMemory(1)
	eng := New(testLogger(), world, registry, tp, mutation.AllowAll{}, nil, 10*time.Millisecond)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	eng.Stop()
}
