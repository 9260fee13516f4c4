// Package gateway exposes the engine over HTTP: turn submission streamed as
// server-sent frames, session management endpoints, and a websocket feed of
// session lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/mira/internal/observability"
	"github.com/harun/mira/pkg/memory"
	"github.com/harun/mira/pkg/session"
)

const (
	ownerHeader  = "X-Mira-Owner"
	secretHeader = "X-Mira-Secret"
)

// Config holds server configuration
type Config struct {
	Port         int
	SharedSecret string
	// RequestsPerMinute and MaxConcurrentTurns bound one owner's turn
	// submissions.
	RequestsPerMinute  int
	MaxConcurrentTurns int
	Sessions           *session.Manager
	// Memory is optional; the note endpoints 404 without it.
	Memory *memory.Store
	Logger zerolog.Logger
}

// Server is the engine's HTTP and websocket front.
type Server struct {
	port         int
	sharedSecret string
	server       *http.Server
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	auth         *AuthHandler
	broadcaster  *EventBroadcaster
	limiters     *limiterPool
	sessions     *session.Manager
	memoryStore  *memory.Store
	logger       zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	clients := NewClientRegistry()

	s := &Server{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		clients:      clients,
		auth:         NewAuthHandler(cfg.SharedSecret),
		broadcaster:  NewEventBroadcaster(clients, cfg.Logger),
		limiters:     newLimiterPool(cfg.RequestsPerMinute, cfg.MaxConcurrentTurns),
		sessions:     cfg.Sessions,
		memoryStore:  cfg.Memory,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // auth happens over the challenge, not the origin
			},
		},
	}

	return s, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.withSecret(s.handleOpenSession))
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.withSecret(s.handleCloseSession))
	mux.HandleFunc("PUT /v1/sessions/{id}/model", s.withSecret(s.handleSetModel))
	mux.HandleFunc("POST /v1/turns", s.withSecret(s.handleSubmitTurn))
	mux.HandleFunc("POST /v1/memory/notes", s.withSecret(s.handleRemember))
	mux.HandleFunc("DELETE /v1/memory/notes", s.withSecret(s.handleForget))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start starts the server without blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop drains in-flight requests, closes feed connections, and shuts the
// listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// withSecret rejects requests that do not carry the shared secret.
func (s *Server) withSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
			return
		}
		s.shutdownMu.RUnlock()

		if r.Header.Get(secretHeader) != s.sharedSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing secret")
			return
		}

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()
		next(w, r)
	}
}

// handleWebSocket upgrades a lifecycle-feed connection and starts the
// challenge exchange.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Feed client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.readClient(client)
}

func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.auth.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// readClient pumps inbound messages. The feed is one-way after auth, so the
// only messages handled are auth responses; the read loop mainly notices
// disconnects.
func (s *Server) readClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Feed client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)

		var authResp AuthResponse
		if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
			s.handleAuthMessage(client, authResp)
		}
	}
}

func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	result := s.auth.HandleAuthResponse(client, authResp.Signature)

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Feed authentication failed")

		if client.AuthAttempts >= maxAuthAttempts {
			client.Conn.Close()
		}
		return
	}

	s.logger.Info().Str("clientId", client.ID).Msg("Feed client authenticated")
}

// Broadcast publishes an event onto the lifecycle feed.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// ConnectedClients returns information about all feed connections.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.Snapshot()
}
