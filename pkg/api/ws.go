package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
)

// writeTimeout bounds one WebSocket send.
const writeTimeout = 10 * time.Second

// ProgressPayload is the per-session progress message pushed to clients on
// every stage transition and on finalization.
type ProgressPayload struct {
	Type            string `json:"type"` // "session.progress"
	SessionID       string `json:"session_id"`
	ChainID         string `json:"chain_id"`
	CurrentStage    string `json:"current_stage,omitempty"`
	TotalStages     int    `json:"total_stages"`
	CompletedStages int    `json:"completed_stages"`
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
}

// clientMessage is a message from a WebSocket client.
type clientMessage struct {
	Action    string `json:"action"` // "subscribe", "unsubscribe", "ping"
	SessionID string `json:"session_id,omitempty"`
}

// connection is one WebSocket client.
type connection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// ProgressHub fans lifecycle events out to WebSocket clients subscribed per
// session. It subscribes to the hook bus; a slow or broken client only
// loses its own messages.
type ProgressHub struct {
	originPatterns []string

	mu          sync.RWMutex
	connections map[string]*connection
	sessions    map[string]map[string]bool // session_id → connection ids
}

// NewProgressHub creates a hub. originPatterns feed the WebSocket accept
// check (empty = same-origin only).
func NewProgressHub(originPatterns []string) *ProgressHub {
	return &ProgressHub{
		originPatterns: originPatterns,
		connections:    make(map[string]*connection),
		sessions:       make(map[string]map[string]bool),
	}
}

// Name identifies the subscriber in bus logs.
func (h *ProgressHub) Name() string { return "dashboard" }

// Handle upgrades the request and serves the client until it disconnects.
func (h *ProgressHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &connection{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.send(c, map[string]string{"type": "connection.established", "connection_id": c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

// OnSessionLifecycle implements hooks.Subscriber: every lifecycle event is
// translated to a progress payload for the session's subscribers.
func (h *ProgressHub) OnSessionLifecycle(event hooks.SessionLifecycleEvent) error {
	payload := ProgressPayload{
		Type:            "session.progress",
		SessionID:       event.SessionID,
		ChainID:         event.ChainID,
		CurrentStage:    event.CurrentStage,
		TotalStages:     event.TotalStages,
		CompletedStages: event.CompletedStages,
		Status:          event.Status,
		Timestamp:       event.Timestamp.Format(time.RFC3339Nano),
	}
	h.broadcast(event.SessionID, payload)
	return nil
}

// OnLLMInteraction implements hooks.Subscriber (not pushed to clients).
func (h *ProgressHub) OnLLMInteraction(hooks.LLMInteractionEvent) error { return nil }

// OnMCPInteraction implements hooks.Subscriber (not pushed to clients).
func (h *ProgressHub) OnMCPInteraction(hooks.MCPInteractionEvent) error { return nil }

// ActiveConnections returns the number of connected clients.
func (h *ProgressHub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *ProgressHub) handleClientMessage(c *connection, msg *clientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.SessionID == "" {
			h.send(c, map[string]string{"type": "error", "message": "session_id is required for subscribe"})
			return
		}
		h.subscribe(c, msg.SessionID)
		h.send(c, map[string]string{"type": "subscription.confirmed", "session_id": msg.SessionID})

	case "unsubscribe":
		h.unsubscribe(c.id, msg.SessionID)

	case "ping":
		h.send(c, map[string]string{"type": "pong"})
	}
}

func (h *ProgressHub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *ProgressHub) unregister(c *connection) {
	h.mu.Lock()
	delete(h.connections, c.id)
	for sessionID, subs := range h.sessions {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *ProgressHub) subscribe(c *connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(map[string]bool)
	}
	h.sessions[sessionID][c.id] = true
}

func (h *ProgressHub) unsubscribe(connID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.sessions[sessionID]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// broadcast sends the payload to every subscriber of the session.
func (h *ProgressHub) broadcast(sessionID string, payload ProgressPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal progress payload", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*connection, 0, len(h.sessions[sessionID]))
	for connID := range h.sessions[sessionID] {
		if c, ok := h.connections[connID]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			slog.Warn("Failed to push progress to client", "connection_id", c.id, "error", err)
		}
	}
}

func (h *ProgressHub) send(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.id, "error", err)
	}
}

func (h *ProgressHub) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
