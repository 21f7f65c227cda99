// Package transport defines the duplex byte-channel abstraction the
// engine consumes (§6.6), independent of any concrete wire carrier.
// internal/wstransport is the production gorilla/websocket
// implementation; Memory below is an in-process fake used by engine
// tests that need a transport without a real socket.
package transport

import (
	"sync"

	"github.com/nugget/entitysync/internal/connid"
)

// Inbound is one frame of bytes received from a connection, not yet
// decoded — decoding is the engine's job, not the transport's.
type Inbound struct {
	Connection connid.ID
	Bytes      []byte
}

// ConnEvent reports a connection's lifecycle transition.
type ConnEvent struct {
	Connection connid.ID
	Open       bool
}

// Transport is what the engine needs from a connection carrier: a way
// to push bytes to one connection, and two read-only streams reporting
// what came in and who connected or disconnected. Memory closes both
// channels on Shutdown; wstransport.Server leaves them open.
type Transport interface {
	Send(connection connid.ID, data []byte) error
	Close(connection connid.ID) error
	Ingress() <-chan Inbound
	Connections() <-chan ConnEvent
}

// Memory is an in-process Transport with no real network carrier,
// useful for driving the engine in tests. Sent frames are captured for
// Drain rather than delivered anywhere; tests inject Inbound/ConnEvent
// traffic directly via the Deliver/Announce helpers.
type Memory struct {
	ingress     chan Inbound
	connections chan ConnEvent
	sent        chan sentFrame
	closed      map[connid.ID]bool
	mu          sync.Mutex
}

type sentFrame struct {
	Connection connid.ID
	Bytes      []byte
}

// NewMemory creates a Memory transport with the given channel buffer
// depth (0 means unbuffered).
func NewMemory(buffer int) *Memory {
	return &Memory{
		ingress:     make(chan Inbound, buffer),
		connections: make(chan ConnEvent, buffer),
		sent:        make(chan sentFrame, buffer+1),
		closed:      make(map[connid.ID]bool),
	}
}

// Send implements Transport by recording the frame for later
// inspection via Drain.
func (m *Memory) Send(connection connid.ID, data []byte) error {
	m.sent <- sentFrame{Connection: connection, Bytes: data}
	return nil
}

// Close implements Transport by recording connection as closed,
// inspectable via ClosedConnections — a real carrier would tear down
// the socket here.
func (m *Memory) Close(connection connid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[connection] = true
	return nil
}

// ClosedConnections reports every connection Close has been called on.
func (m *Memory) ClosedConnections() []connid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]connid.ID, 0, len(m.closed))
	for c := range m.closed {
		out = append(out, c)
	}
	return out
}

// Ingress implements Transport.
func (m *Memory) Ingress() <-chan Inbound {
	return m.ingress
}

// Connections implements Transport.
func (m *Memory) Connections() <-chan ConnEvent {
	return m.connections
}

// Deliver injects an inbound frame as if it arrived from connection.
func (m *Memory) Deliver(connection connid.ID, data []byte) {
	m.ingress <- Inbound{Connection: connection, Bytes: data}
}

// Announce injects a connection open/close event.
func (m *Memory) Announce(connection connid.ID, open bool) {
	m.connections <- ConnEvent{Connection: connection, Open: open}
}

// Drain returns every frame sent so far without blocking.
func (m *Memory) Drain() map[connid.ID][][]byte {
	out := make(map[connid.ID][][]byte)
	for {
		select {
		case f := <-m.sent:
			out[f.Connection] = append(out[f.Connection], f.Bytes)
		default:
			return out
		}
	}
}

// Shutdown closes the transport's channels.
func (m *Memory) Shutdown() {
	close(m.ingress)
	close(m.connections)
}
