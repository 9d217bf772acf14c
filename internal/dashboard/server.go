// Package dashboard serves a live sync status feed over WebSocket.
//
// Connected clients receive sync status transitions, user notices, read
// cache invalidations and queue statistics as they happen. A small JSON API
// exposes the current status and a manual "sync now" action.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncStatus carries a sync engine state transition
	MessageTypeSyncStatus MessageType = "sync_status"

	// MessageTypeNotice carries a user-visible notice
	MessageTypeNotice MessageType = "notice"

	// MessageTypeCacheInvalidate tells clients which read views are stale
	MessageTypeCacheInvalidate MessageType = "cache_invalidate"

	// MessageTypeQueueStats carries the pending count and connectivity
	MessageTypeQueueStats MessageType = "queue_stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into a message of type typ.
func NewMessage(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	router   *mux.Router

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// welcome builds the first message a new client receives.
	welcome func() (Message, bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logrus.FieldLogger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on (default: 7777, 0 picks a free port)
	Port int

	// Logger for server activity (default: logrus standard logger)
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   7777,
		Logger: logrus.StandardLogger(),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		router:    mux.NewRouter(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger.WithField("component", "dashboard"),
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return s
}

// HandleFunc registers an extra route. Call it before Start.
func (s *Server) HandleFunc(path string, fn http.HandlerFunc, methods ...string) {
	route := s.router.HandleFunc(path, fn)
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

// SetWelcome sets the function that builds the first message sent to each
// new client. Call it before Start.
func (s *Server) SetWelcome(fn func() (Message, bool)) {
	s.welcome = fn
}

// Router exposes the HTTP handler, mainly for httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		// Long enough for a manual sync over a slow link.
		WriteTimeout: 2 * time.Minute,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.WithField("addr", ln.Addr().String()).Info("Dashboard server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Dashboard server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Debug("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Debug("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients. It never blocks; if
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Warn("Broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.WithError(err).Warn("Failed to marshal message")
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.WithError(err).Debug("Failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.WithField("clients", clientCount).Debug("Client connected")

	if s.welcome != nil {
		if msg, ok := s.welcome(); ok {
			if data, err := json.Marshal(msg); err == nil {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection open until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.WithField("clients", clientCount).Debug("Client disconnected")
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
