package bridge

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks connected application clients and fans daemon messages out to
// them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "bridge").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Int("clients", h.Count()).Msg("client connected")
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug().Int("clients", h.Count()).Msg("client disconnected")
}

// Broadcast sends the envelope to every connected client. Clients with a
// full send buffer miss the message.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(data)
	}
}

// Send delivers the envelope to one client.
func (h *Hub) Send(c *Client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal send")
		return
	}
	c.trySend(data)
}

// SendToAny delivers the envelope to a single arbitrary client and reports
// whether one was connected. Used for focus-style navigation, where exactly
// one window should react.
func (h *Hub) SendToAny(env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal send")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(data)
		return true
	}
	return false
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
