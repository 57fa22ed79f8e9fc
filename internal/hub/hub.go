package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coreforge/agentd/internal/config"
	"github.com/coreforge/agentd/pkg/models"
)

// agentRunner is the subset of the Agent Registry (C9) the hub depends on:
// streaming runs for the WebSocket chat surface. A narrow interface keeps
// the hub testable without a full registry.
type agentRunner interface {
	RunStream(ctx context.Context, agentName, prompt, sessionID string) (<-chan models.ReasoningStep, error)
}

// Hub is the Session Hub (C13): it accepts WebSocket connections, fans a
// streaming agent run out to one client at a time per session, and applies
// bounded-queue backpressure so a slow reader cannot stall the server.
type Hub struct {
	registry agentRunner
	cfg      config.HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*clientSession
}

// New builds a Hub backed by registry (typically *registry.Registry).
func New(registry agentRunner, cfg config.HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*clientSession),
	}
}

// ServeWS upgrades r to a WebSocket and runs a clientSession until it
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	session := newClientSession(h, conn)
	h.register(session)
	session.run()
}

func (h *Hub) register(s *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

func (h *Hub) unregister(s *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.id)
}

// ActiveSessions reports the number of currently connected clients.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown cancels every connected session, causing each to close its
// WebSocket and stop its pumps. It does not wait for the underlying TCP
// connections to finish closing.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*clientSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
}
