package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkadyv/chatcast/domain"
	"github.com/arkadyv/chatcast/usecase"
	"github.com/arkadyv/chatcast/utils/log"
)

// Peer-invocable actions.
const (
	ActionJoin   = "join"
	ActionSend   = "send"
	ActionCancel = "cancel"
)

// Command is one client-to-server request over the websocket.
type Command struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content,omitempty"`
	PersonaID      int64  `json:"persona_id,omitempty"`
}

// Server is the realtime gateway: it accepts peer commands, forwards them to
// the coordinator and fans coordinator events back out through the hub.
type Server struct {
	upgrader    websocket.Upgrader
	coordinator *usecase.Coordinator
	hub         *Hub
}

func NewServer(coordinator *usecase.Coordinator, hub *Hub) *Server {
	return &Server{
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		coordinator: coordinator,
		hub:         hub,
	}
}

func (s *Server) GetHub() *Hub {
	return s.hub
}

// dispatch routes one inbound peer message. Malformed input produces a
// peer-private error and nothing else.
func (s *Server) dispatch(client *Client, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.WithCtx(client.ctx).Warn("Malformed command", zap.Error(err))
		s.sendError(client, "Invalid command.")
		return
	}

	switch cmd.Action {
	case ActionJoin:
		s.handleJoin(client, cmd)
	case ActionSend:
		s.handleSend(client, cmd)
	case ActionCancel:
		s.handleCancel(client, cmd)
	default:
		s.sendError(client, "Unknown action.")
	}
}

func (s *Server) handleJoin(client *Client, cmd Command) {
	conversationID, err := uuid.Parse(cmd.ConversationID)
	if err != nil {
		s.sendError(client, "Invalid conversation ID.")
		return
	}

	s.hub.Join(client, conversationID.String())
	s.hub.SendEvent(client.ID(), domain.JoinedEvent(conversationID.String()))

	if err := s.coordinator.ReplayPending(client.Context(), conversationID, client.ID()); err != nil {
		log.WithCtx(client.ctx).Error("Failed to replay pending replies",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
	}
}

func (s *Server) handleSend(client *Client, cmd Command) {
	conversationID, err := uuid.Parse(cmd.ConversationID)
	if err != nil {
		s.sendError(client, "Invalid conversation ID.")
		return
	}

	// Whatever goes wrong starting a generation is reported to the
	// conversation group; the transport handler itself must survive.
	defer func() {
		if r := recover(); r != nil {
			log.WithCtx(client.ctx).Error("Panic while starting generation",
				zap.String("conversation_id", conversationID.String()),
				zap.Any("panic", r))
			s.hub.BroadcastEvent(conversationID.String(),
				domain.ErrorEvent("An error occurred while generating response."))
		}
	}()

	s.coordinator.StartGeneration(client.Context(), conversationID, cmd.Content, cmd.PersonaID)
}

func (s *Server) handleCancel(client *Client, cmd Command) {
	conversationID, err := uuid.Parse(cmd.ConversationID)
	if err != nil {
		s.sendError(client, "Invalid conversation ID.")
		return
	}

	s.coordinator.CancelGeneration(conversationID)
	// Broadcast even when nothing was running, mirroring the cancel
	// command's idempotence.
	s.hub.BroadcastEvent(conversationID.String(), domain.GenerationCancelledEvent())
}

func (s *Server) sendError(client *Client, message string) {
	payload, err := json.Marshal(domain.ErrorEvent(message))
	if err != nil {
		log.WithCtx(client.ctx).Error("Failed to marshal error event", zap.Error(err))
		return
	}
	client.SendMessage(payload)
}
