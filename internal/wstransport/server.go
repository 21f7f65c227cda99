// Package wstransport is the production transport.Transport
// implementation (§6.6), carrying framed envelopes over WebSocket
// connections accepted on a single HTTP listener. The accept/upgrade
// handler and Start/Shutdown lifecycle follow the teacher's
// internal/api.Server; the per-connection read pump and
// auth-before-upgrade pattern follow the teacher's
// internal/homeassistant WSClient, adapted from client-dials-out to
// server-accepts-in.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/transport"
)

var _ transport.Transport = (*Server)(nil)

// Server accepts WebSocket connections on one HTTP listener and
// implements transport.Transport over them.
type Server struct {
	address    string
	port       int
	bcryptHash string
	logger     *slog.Logger

	upgrader  websocket.Upgrader
	allocator connid.Allocator

	mu    sync.Mutex
	conns map[connid.ID]*websocket.Conn

	ingress     chan transport.Inbound
	connections chan transport.ConnEvent

	httpServer *http.Server
}

// Config controls how the server listens and authenticates upgrades.
type Config struct {
	Address string
	Port    int
	// BcryptHash, if non-empty, requires every upgrade request to carry
	// "Authorization: Bearer <token>" where token matches this hash.
	BcryptHash string
}

// New creates a Server ready to Start.
func New(cfg Config, logger *slog.Logger) *Server {
	return &Server{
		address:    cfg.Address,
		port:       cfg.Port,
		bcryptHash: cfg.BcryptHash,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:       make(map[connid.ID]*websocket.Conn),
		ingress:     make(chan transport.Inbound, 256),
		connections: make(chan transport.ConnEvent, 64),
	}
}

// Ingress implements transport.Transport.
func (s *Server) Ingress() <-chan transport.Inbound {
	return s.ingress
}

// Connections implements transport.Transport.
func (s *Server) Connections() <-chan transport.ConnEvent {
	return s.connections
}

// Send implements transport.Transport. Returns an error if connection
// is not currently live — the engine logs this at debug level rather
// than treating it as exceptional, since a connection can drop between
// the dispatcher computing a batch and the send attempt.
func (s *Server) Send(connection connid.ID, data []byte) error {
	s.mu.Lock()
	conn, ok := s.conns[connection]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("wstransport: connection %d not live", connection)
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close implements transport.Transport by closing the underlying
// socket; the read pump observes the resulting error and publishes the
// connection-close event, so Close itself does not publish one.
func (s *Server) Close(connection connid.ID) error {
	s.mu.Lock()
	conn, ok := s.conns[connection]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// Start begins serving WebSocket upgrades at /ws. Blocks until the
// listener stops (matching net/http.Server.ListenAndServe's contract).
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting websocket transport", "address", s.address, "port", s.port)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.bcryptHash != "" {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	id := s.allocator.Next()
	traceID := uuid.New()

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	s.logger.Info("connection accepted", "connection_id", id, "trace_id", traceID, "remote_addr", r.RemoteAddr)
	s.connections <- transport.ConnEvent{Connection: id, Open: true}

	go s.readPump(id, conn, traceID)
}

func (s *Server) authorize(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.bcryptHash), []byte(token)) == nil
}

func (s *Server) readPump(id connid.ID, conn *websocket.Conn, traceID uuid.UUID) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.connections <- transport.ConnEvent{Connection: id, Open: false}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection closed normally", "connection_id", id, "trace_id", traceID)
			} else {
				s.logger.Debug("connection read error", "connection_id", id, "trace_id", traceID, "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case s.ingress <- transport.Inbound{Connection: id, Bytes: data}:
		default:
			s.logger.Warn("ingress channel full, dropping frame", "connection_id", id, "trace_id", traceID)
		}
	}
}
