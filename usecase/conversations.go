package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/arkadyv/chatcast/domain"
)

// ConversationService covers the conventional request/response side of the
// system: conversation and message CRUD, persona listing and ratings.
type ConversationService struct {
	store domain.ConversationStore
}

func NewConversationService(store domain.ConversationStore) *ConversationService {
	return &ConversationService{store: store}
}

// Create opens a new conversation, recording the caller's user agent and
// address as metadata.
func (s *ConversationService) Create(ctx context.Context, userAgent, ip string) (domain.Conversation, error) {
	metadata := map[string]string{
		"UserAgent": userAgent,
		"IP":        ip,
	}
	return s.store.CreateConversation(ctx, metadata)
}

// Get returns a conversation with its messages in chronological order.
func (s *ConversationService) Get(ctx context.Context, id uuid.UUID) (domain.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

func (s *ConversationService) Messages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

// SendUserMessage stores a user-authored message. It does not start a
// generation; that happens over the realtime transport.
func (s *ConversationService) SendUserMessage(ctx context.Context, conversationID uuid.UUID, personaID int64, content string) (domain.Message, error) {
	return s.store.AddUserMessage(ctx, conversationID, personaID, content)
}

func (s *ConversationService) Message(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// Rate records a thumbs up/down for a message, replacing any earlier rating.
func (s *ConversationService) Rate(ctx context.Context, messageID uuid.UUID, positive bool) error {
	return s.store.RateMessage(ctx, messageID, positive)
}

func (s *ConversationService) Personas(ctx context.Context) ([]domain.Persona, error) {
	return s.store.ListPersonas(ctx)
}
