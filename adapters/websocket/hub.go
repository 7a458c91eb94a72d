package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/arkadyv/chatcast/domain"
	"github.com/arkadyv/chatcast/utils/log"
)

// Hub tracks connected peers and the broadcast groups they subscribed to.
// A group is keyed by conversation id; one peer may sit in several groups.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // peer id -> client
	groups  map[string]map[string]*Client // conversation id -> peer id -> client
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	h.mu.Unlock()
	log.WithCtx(client.ctx).Debug("New client registered")
}

// Unregister removes a client from the hub and from every group it joined.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID()]; ok {
		delete(h.clients, client.ID())
		for conversationID, members := range h.groups {
			delete(members, client.ID())
			if len(members) == 0 {
				delete(h.groups, conversationID)
			}
		}
	}
	h.mu.Unlock()

	client.Close()
	log.WithCtx(client.ctx).Debug("Client unregistered")
}

// Join subscribes a client to a conversation's broadcast group.
func (h *Hub) Join(client *Client, conversationID string) {
	h.mu.Lock()
	members, ok := h.groups[conversationID]
	if !ok {
		members = make(map[string]*Client)
		h.groups[conversationID] = members
	}
	members[client.ID()] = client
	h.mu.Unlock()

	log.WithCtx(client.ctx).Debug("Client joined conversation group",
		zap.String("conversation_id", conversationID))
}

// BroadcastEvent sends an event to every peer subscribed to the conversation.
func (h *Hub) BroadcastEvent(conversationID string, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithCtx(context.Background()).Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[conversationID]))
	for _, client := range h.groups[conversationID] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		if !client.IsClosed() {
			client.SendMessage(payload)
		}
	}
}

// SendEvent sends an event to a single peer.
func (h *Hub) SendEvent(peerID string, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithCtx(context.Background()).Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	client := h.clients[peerID]
	h.mu.RUnlock()

	if client != nil && !client.IsClosed() {
		client.SendMessage(payload)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ domain.Broadcaster = (*Hub)(nil)
