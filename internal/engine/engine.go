// Package engine drives the per-frame stage loop (§5): ingress,
// change-detect, snapshot, mutate, dispatch, once per tick. The loop
// shape — Start/Stop, a running flag guarded by a mutex, a stopCh, and
// a WaitGroup for clean shutdown — follows the same lifecycle pattern
// the teacher's scheduler.Scheduler uses for its timer-driven tasks,
// adapted here to a fixed-interval ticker instead of per-task timers.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/entitysync/internal/changedetect"
	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/dispatch"
	"github.com/nugget/entitysync/internal/ecsmock"
	"github.com/nugget/entitysync/internal/events"
	"github.com/nugget/entitysync/internal/mutation"
	"github.com/nugget/entitysync/internal/snapshot"
	"github.com/nugget/entitysync/internal/subscription"
	"github.com/nugget/entitysync/internal/synctype"
	"github.com/nugget/entitysync/internal/transport"
	"github.com/nugget/entitysync/internal/wire"
)

// Engine wires together the registry, world, and transport into the
// running sync loop. The zero value is not usable; construct with New.
type Engine struct {
	logger    *slog.Logger
	world     *ecsmock.World
	registry  *synctype.Registry
	transport transport.Transport
	authz     mutation.Authorizer
	bus       *events.Bus
	interval  time.Duration

	subs      *subscription.Manager
	snapQueue *snapshot.Queue
	mutQueue  *mutation.Queue
	detector  *changedetect.Detector

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an engine. authz may be nil, in which case mutation.Run
// falls back to mutation.ServerOnly. bus may be nil; events.Bus is
// nil-safe.
func New(
	logger *slog.Logger,
	world *ecsmock.World,
	registry *synctype.Registry,
	tp transport.Transport,
	authz mutation.Authorizer,
	bus *events.Bus,
	interval time.Duration,
) *Engine {
	// No subscription exists yet, so state already in the world reaches
	// subscribers through their snapshots, not as updates.
	detector := changedetect.New()
	detector.Seed(world.Frame())
	return &Engine{
		logger:    logger,
		world:     world,
		registry:  registry,
		transport: tp,
		authz:     authz,
		bus:       bus,
		interval:  interval,
		subs:      subscription.New(),
		snapQueue: snapshot.New(),
		mutQueue:  mutation.New(),
		detector:  detector,
	}
}

// Start launches the ingress and frame-tick goroutines. It is a no-op
// if the engine is already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.logger.Debug("engine starting", "interval", e.interval)

	e.wg.Add(2)
	go e.ingressLoop(e.stopCh)
	go e.frameLoop(e.stopCh)

	return nil
}

// Stop halts both goroutines and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) ingressLoop(stopCh chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case in, ok := <-e.transport.Ingress():
			if !ok {
				return
			}
			e.handleInbound(in)
		case ev, ok := <-e.transport.Connections():
			if !ok {
				return
			}
			e.handleConnEvent(ev)
		}
	}
}

func (e *Engine) handleInbound(in transport.Inbound) {
	env, err := wire.DecodeClientEnvelope(in.Bytes)
	if err != nil {
		e.logger.Warn("malformed client frame, closing connection", "connection", in.Connection, "error", err)
		_ = e.transport.Close(in.Connection)
		return
	}

	switch env.Tag {
	case wire.ClientTagSubscribe:
		e.handleSubscribe(in.Connection, *env.Subscribe)
	case wire.ClientTagUnsubscribe:
		e.subs.Remove(in.Connection, env.Unsubscribe.SubscriptionID)
		e.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceSubscription,
			Kind:      events.KindUnsubscribe,
			Data: map[string]any{
				"connection_id": in.Connection,
			},
		})
	case wire.ClientTagMutate:
		e.mutQueue.Enqueue(mutation.Queued{
			ConnectionID:  in.Connection,
			RequestID:     env.Mutate.RequestID,
			Entity:        env.Mutate.Entity,
			ComponentType: env.Mutate.ComponentType,
			Value:         env.Mutate.Value,
		})
	default:
		e.logger.Warn("unrecognized client envelope tag, closing connection", "connection", in.Connection, "tag", env.Tag)
		_ = e.transport.Close(in.Connection)
	}
}

func (e *Engine) handleSubscribe(connection connid.ID, sub wire.Subscribe) {
	e.subs.Add(subscription.Entry{
		ConnectionID:   connection,
		SubscriptionID: sub.SubscriptionID,
		ComponentType:  sub.ComponentType,
		Entity:         sub.Entity,
	})
	e.snapQueue.Enqueue(snapshot.Request{
		ConnectionID:   connection,
		SubscriptionID: sub.SubscriptionID,
		ComponentType:  sub.ComponentType,
		Entity:         sub.Entity,
	})
	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSubscription,
		Kind:      events.KindSubscribe,
		Data: map[string]any{
			"connection_id":  connection,
			"component_type": sub.ComponentType,
		},
	})
}

func (e *Engine) handleConnEvent(ev transport.ConnEvent) {
	if ev.Open {
		e.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceTransport,
			Kind:      events.KindConnectionOpen,
			Data:      map[string]any{"connection_id": ev.Connection},
		})
		return
	}

	removed := e.subs.DrainConnection(ev.Connection)
	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTransport,
		Kind:      events.KindConnectionClose,
		Data: map[string]any{
			"connection_id":      ev.Connection,
			"subscriptions_torn": len(removed),
		},
	})
}

func (e *Engine) frameLoop(stopCh chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs one pass of (detect, snapshot, mutate, dispatch) — ingress
// runs continuously on its own goroutine, feeding the subscription
// manager and the snapshot/mutation queues this tick drains.
//
// The detector captures its watermark before the world advances and
// before the mutate stage writes anything, so this tick's mutations
// are always stamped strictly after that watermark — they show up as
// Update items in the *next* tick's batch, once detect runs again.
func (e *Engine) tick() {
	start := time.Now()

	changes, despawns := e.detector.Run(e.registry, e.world)
	e.world.Advance()

	snapshots := snapshot.Run(e.snapQueue, e.registry, e.world)
	mutResponses := mutation.Run(e.mutQueue, e.registry, e.world, e.authz)
	batches := dispatch.Run(changes, despawns, e.subs, snapshots, e.registry)

	for conn, batch := range batches {
		e.sendServer(conn, batch)
	}
	for conn, responses := range mutResponses {
		for _, resp := range responses {
			e.sendServer(conn, resp)
		}
	}

	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
		Kind:      events.KindFrameTick,
		Data: map[string]any{
			"frame":       e.world.Frame(),
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
}

func (e *Engine) sendServer(connection connid.ID, payload any) {
	bytes, err := wire.EncodeServerEnvelope(wire.AsServerEnvelope(payload))
	if err != nil {
		e.logger.Error("failed to encode server envelope", "connection", connection, "error", err)
		return
	}
	if err := e.transport.Send(connection, bytes); err != nil {
		e.logger.Debug("send failed, connection likely gone", "connection", connection, "error", err)
	}
}
