package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nugget/entitysync/internal/entityid"
	"github.com/nugget/entitysync/internal/wire"
)

// Client assembles the type registry, two-stage cache, subscription
// cache, mutation tracker, and WebSocket transport into the reactive
// runtime described by §4.8-4.11. A single dispatcher goroutine (§5)
// drains Conn's inbound channel and applies every server message to
// Store and Mutations. Mutate also records pending requests in
// Mutations from the caller's goroutine, so both rely on their own
// internal locking.
type Client struct {
	Registry  *Registry
	Store     *DataStore
	Subs      *Subscriptions
	Mutations *MutationTracker

	conn   *Conn
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Client bound to cfg. Call Connect to dial and start the
// dispatcher goroutine.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	c := &Client{
		Registry:  registry,
		Store:     NewDataStore(registry),
		Mutations: NewMutationTracker(),
		conn:      NewConn(cfg, logger),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	c.Subs = NewSubscriptions(c.sendSubscribe, c.sendUnsubscribe)
	return c
}

// Connect dials the server and starts the dispatcher goroutine. Safe to
// call once; reconnects are handled internally by Conn/connwatch.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx, c.Subs.Resubscribe); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.dispatchLoop()
	return nil
}

// Close stops the dispatcher goroutine and the underlying connection.
func (c *Client) Close() error {
	close(c.stopCh)
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// Mutate requests a component insert/replace (or spawn, via
// entityid.Dangling) and returns the request id to poll via
// Mutations.State.
func (c *Client) Mutate(entity entityid.ID, componentType string, value []byte) (uint64, error) {
	mutate, requestID := c.Mutations.BuildMutate(entity, componentType, value)
	if err := c.conn.Send(wire.AsClientEnvelope(mutate)); err != nil {
		return requestID, err
	}
	return requestID, nil
}

func (c *Client) sendSubscribe(subscriptionID uint64, componentType string, entity *uint64) {
	var eid *entityid.ID
	if entity != nil {
		id := entityid.New(*entity)
		eid = &id
	}
	err := c.conn.Send(wire.AsClientEnvelope(wire.Subscribe{
		SubscriptionID: subscriptionID,
		ComponentType:  componentType,
		Entity:         eid,
	}))
	if err != nil {
		c.logger.Debug("client: subscribe send failed, will resend on reconnect", "subscription_id", subscriptionID, "error", err)
	}
}

func (c *Client) sendUnsubscribe(subscriptionID uint64) {
	err := c.conn.Send(wire.AsClientEnvelope(wire.Unsubscribe{SubscriptionID: subscriptionID}))
	if err != nil {
		c.logger.Debug("client: unsubscribe send failed", "subscription_id", subscriptionID, "error", err)
	}
}

func (c *Client) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case env, ok := <-c.conn.Inbound():
			if !ok {
				return
			}
			c.applyEnvelope(env)
		}
	}
}

func (c *Client) applyEnvelope(env wire.ServerEnvelope) {
	switch env.Tag {
	case wire.ServerTagSyncBatch:
		if env.SyncBatch == nil {
			return
		}
		for _, item := range env.SyncBatch.Items {
			c.applyItem(item)
		}
	case wire.ServerTagMutationResponse:
		if env.MutationResponse != nil {
			c.Mutations.OnResponse(*env.MutationResponse)
		}
	default:
		c.logger.Debug("client: ignoring unrecognized server envelope tag", "tag", env.Tag)
	}
}

func (c *Client) applyItem(item wire.SyncItem) {
	key := RawKey{Entity: item.Entity.Bits, ComponentType: item.ComponentType}
	switch item.Kind {
	case wire.ItemSnapshot:
		c.Store.ApplySnapshot(key, item.Bytes)
	case wire.ItemUpdate:
		c.Store.ApplyUpdate(key, item.Bytes)
	case wire.ItemComponentRemoved:
		c.Store.ApplyComponentRemoved(key)
	case wire.ItemEntityRemoved:
		c.Store.ApplyEntityRemoved(item.Entity.Bits)
	}
}
