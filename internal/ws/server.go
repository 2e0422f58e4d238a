// Package ws handles WebSocket connection management for Relay: upgrading
// HTTP connections, tracking active clients, heartbeat monitoring, and
// dispatching incoming messages to the appropriate handlers. Each connection
// is served by a dedicated read goroutine; writes are serialized per
// connection.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/relay/chat-app/internal/metrics"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // deadline for outbound frames (0 = none)
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production
// defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 10000,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server accepts WebSocket connections and feeds complete text frames to the
// onMessage callback. It owns the connection registry and the heartbeat
// monitor; application behavior lives in the callbacks registered by the
// caller.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)

	startedAt time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from the connection's read
// goroutine whenever a complete WebSocket text frame arrives.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetOnDisconnect registers a callback invoked exactly once per connection
// after it has been removed from the registry. Used by the application to
// tear down the connection's broker subscriptions.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Connections returns the server's connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Start launches the heartbeat monitor. The HTTP endpoints are mounted by
// the caller via HandleUpgrade and HandleHealth.
func (s *Server) Start() {
	StartHeartbeat(s, s.config.Heartbeat)
	log.Printf("[ws] server started (max_conns=%d)", s.config.MaxConnections)
}

// Shutdown closes all active connections and stops the heartbeat monitor.
// Safe to call more than once.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		log.Printf("[ws] server shut down")
	})
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader, registers it, and starts its read loop.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.touch()

	s.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))
	log.Printf("[ws] new connection id=%s (total=%d)", c.ID, s.conns.Count())

	go s.readLoop(c)
}

// HandleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// RemoveConnection removes a connection from the registry, closes it, and
// fires the disconnect callback. Idempotent: later calls for the same
// connection are no-ops.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))
	log.Printf("[ws] connection closed id=%s user=%d (total=%d)", c.ID, c.UserID(), s.conns.Count())

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
}

// readLoop reads data frames until the connection dies. wsutil handles
// control frames (ping/pong/close) internally, so only text payloads reach
// the message callback. A dead peer is unblocked by the heartbeat monitor
// closing the connection, which fails the pending read.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		data, op, err := wsutil.ReadClientData(c.Conn)
		if err != nil {
			return
		}
		c.touch()

		if op != ws.OpText || len(data) == 0 {
			continue
		}
		s.onMessage(c, data)
	}
}
