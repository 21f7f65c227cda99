package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nugget/entitysync/internal/buildinfo"
	"github.com/nugget/entitysync/internal/connwatch"
	"github.com/nugget/entitysync/internal/wire"
)

// Conn is the client-side half of §6.6's duplex byte channel: it dials
// the server's WebSocket endpoint, decodes incoming frames onto a
// channel for the single dispatcher goroutine (§5) to drain, and
// redials on failure through connwatch, the same exponential-backoff
// probe machinery used elsewhere for external-dependency health.
type Conn struct {
	dialURL string
	token   string
	logger  *slog.Logger
	dialer  websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	inbound chan wire.ServerEnvelope
	watcher *connwatch.Watcher
}

// Config describes where and how Conn dials the server.
type Config struct {
	// URL is the ws:// or wss:// endpoint, e.g. "ws://host:port/ws".
	URL string
	// Token, if non-empty, is sent as "Authorization: Bearer <token>"
	// on the upgrade request.
	Token string
}

// NewConn creates a Conn ready to Connect.
func NewConn(cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		dialURL: cfg.URL,
		token:   cfg.Token,
		logger:  logger,
		dialer: websocket.Dialer{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		inbound: make(chan wire.ServerEnvelope, 256),
	}
}

// Inbound is the decoded stream of ServerEnvelopes the dispatcher
// goroutine should drain.
func (c *Conn) Inbound() <-chan wire.ServerEnvelope {
	return c.inbound
}

// IsConnected reports whether a live socket is currently held.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Conn) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", buildinfo.UserAgent())
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Conn) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.dialURL, c.header())
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.dialURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readPump(conn)
	return nil
}

// Connect performs the initial dial and arms a connwatch.Watcher that
// redials whenever the read pump observes a dead socket. onReconnect
// fires after every successful (re)connection, including the first —
// the client uses it to drive Subscriptions.Resubscribe, matching §4.8's
// reconnect behavior (re-send Subscribe for every live cache entry).
func (c *Conn) Connect(ctx context.Context, onReconnect func()) error {
	mgr := connwatch.NewManager(c.logger)
	c.watcher = mgr.Watch(ctx, connwatch.WatcherConfig{
		Name: "entitysync-server",
		Probe: func(probeCtx context.Context) error {
			if c.IsConnected() {
				return nil
			}
			if err := c.dial(probeCtx); err != nil {
				return err
			}
			if onReconnect != nil {
				go onReconnect()
			}
			return nil
		},
	})
	return nil
}

// Send encodes and writes one client envelope. Returns an error if not
// currently connected; the caller (mutation tracker, subscription
// cache) is not expected to retry — the next reconnect resubscribes and
// in-flight mutations simply never get a response, which the mutation
// tracker already tolerates.
func (c *Conn) Send(env wire.ClientEnvelope) error {
	data, err := wire.EncodeClientEnvelope(env)
	if err != nil {
		return fmt.Errorf("client: encode envelope: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close stops the reconnect watcher and closes the live socket, if any.
func (c *Conn) Close() error {
	if c.watcher != nil {
		c.watcher.Stop()
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Conn) readPump(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("client: connection lost, will redial", "error", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		env, err := wire.DecodeServerEnvelope(data)
		if err != nil {
			c.logger.Warn("client: malformed server frame, dropping", "error", err)
			continue
		}

		select {
		case c.inbound <- env:
		default:
			c.logger.Warn("client: inbound channel full, dropping frame")
		}
	}
}
