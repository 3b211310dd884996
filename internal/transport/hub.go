package transport

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/backend/internal/live"
)

// Hub tracks locally connected clients per session and manages the Redis
// subscription that mirrors events from other instances into this one. The
// orchestration core delivers events through participant endpoints itself;
// the hub only exists for connection bookkeeping and cross-instance mirroring.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func()

	manager *live.Manager
	pubsub  *PubSub
	logger  *zap.Logger
}

// NewHub creates a hub. pubsub may be nil for single-instance deployments.
func NewHub(manager *live.Manager, pubsub *PubSub, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		manager:  manager,
		pubsub:   pubsub,
		logger:   logger,
	}
}

// Register adds a client; the first client for a session starts the Redis
// mirror subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.pubsub != nil {
			sessionID := c.SessionID
			cancel, err := h.pubsub.Subscribe(sessionID, func(raw []byte) {
				if s, err := h.manager.Get(sessionID); err == nil {
					s.DeliverMirrored(raw)
				}
			})
			if err == nil {
				h.subs[sessionID] = cancel
			} else {
				h.logger.Warn("mirror subscribe failed", zap.Error(err), zap.String("session_id", sessionID.String()))
			}
		}
	}
	h.sessions[c.SessionID][c.ConnID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected",
		zap.String("conn_id", c.ConnID),
		zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client; the last client for a session cancels the
// mirror subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ConnID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected",
		zap.String("conn_id", c.ConnID),
		zap.String("session_id", c.SessionID.String()))
}

// ClientCount returns the number of locally connected clients for a session.
func (h *Hub) ClientCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
