// hub.go: session-scoped fan-out of dashboard and camera messages
package httpcontroller

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/classtrack/classtrack-go/internal/logging"
)

// client wraps one websocket connection with a write lock. gorilla allows a
// single concurrent writer per connection, and broadcasts come from many
// goroutines.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Hub tracks the live connections for each session: dashboard viewers that
// receive overlays and presence events, and camera feeds that supply frames.
// Delivery is best effort; a send failure removes that recipient only and
// never aborts the broadcast for the rest.
type Hub struct {
	mu         sync.RWMutex
	dashboards map[string]map[*client]struct{}
	cameras    map[string]map[*client]struct{}
	logger     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		dashboards: make(map[string]map[*client]struct{}),
		cameras:    make(map[string]map[*client]struct{}),
		logger:     logging.ForService("hub"),
	}
}

func (h *Hub) connectDashboard(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dashboards[sessionID] == nil {
		h.dashboards[sessionID] = make(map[*client]struct{})
	}
	h.dashboards[sessionID][c] = struct{}{}
}

func (h *Hub) disconnectDashboard(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.dashboards[sessionID], c)
	if len(h.dashboards[sessionID]) == 0 {
		delete(h.dashboards, sessionID)
	}
}

func (h *Hub) connectCamera(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cameras[sessionID] == nil {
		h.cameras[sessionID] = make(map[*client]struct{})
	}
	h.cameras[sessionID][c] = struct{}{}
}

func (h *Hub) disconnectCamera(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cameras[sessionID], c)
	if len(h.cameras[sessionID]) == 0 {
		delete(h.cameras, sessionID)
	}
}

// DashboardCount reports the number of viewers attached to a session.
func (h *Hub) DashboardCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dashboards[sessionID])
}

// BroadcastDashboard sends the message to every dashboard viewer of the
// session, pruning any connection whose send fails.
func (h *Hub) BroadcastDashboard(sessionID string, message any) {
	h.broadcast(h.snapshot(h.dashboards, sessionID), sessionID, message, h.disconnectDashboard)
}

// BroadcastCameras sends the message to every camera connection of the
// session. Used for control messages like session-finalized notices.
func (h *Hub) BroadcastCameras(sessionID string, message any) {
	h.broadcast(h.snapshot(h.cameras, sessionID), sessionID, message, h.disconnectCamera)
}

func (h *Hub) snapshot(set map[string]map[*client]struct{}, sessionID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*client, 0, len(set[sessionID]))
	for c := range set[sessionID] {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) broadcast(clients []*client, sessionID string, message any, prune func(string, *client)) {
	for _, c := range clients {
		if err := c.writeJSON(message); err != nil {
			h.logger.Debug("dropping broken connection",
				"session_id", sessionID,
				"error", err)
			prune(sessionID, c)
			if err := c.conn.Close(); err != nil {
				h.logger.Debug("close after failed send", "error", err)
			}
		}
	}
}
