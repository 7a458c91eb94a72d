package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by store lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// ConversationStore is the persistence port for conversations, messages,
// personas and ratings.
//
// The reply-in-progress record created by CreateEmptyReply has a single
// designated writer: the generation task that created it. Nothing else may
// touch its content or partial flag while the generation is live.
type ConversationStore interface {
	CreateConversation(ctx context.Context, metadata map[string]string) (Conversation, error)
	ConversationExists(ctx context.Context, id uuid.UUID) (bool, error)
	// GetConversation returns the conversation with its messages ordered by
	// creation time, and refreshes its last-activity timestamp.
	GetConversation(ctx context.Context, id uuid.UUID) (Conversation, error)

	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	AddUserMessage(ctx context.Context, conversationID uuid.UUID, personaID int64, content string) (Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (Message, error)
	// RateMessage records a thumbs up/down for a message, replacing any
	// earlier rating.
	RateMessage(ctx context.Context, messageID uuid.UUID, positive bool) error

	// CreateEmptyReply persists an empty bot message flagged partial and
	// returns its id.
	CreateEmptyReply(ctx context.Context, conversationID uuid.UUID, personaID int64) (uuid.UUID, error)
	// UpdateReplyContent overwrites the reply's content with the full
	// accumulated text so far.
	UpdateReplyContent(ctx context.Context, replyID uuid.UUID, content string) error
	SetReplyPartial(ctx context.Context, replyID uuid.UUID, partial bool) error
	ListPartialReplies(ctx context.Context, conversationID uuid.UUID) ([]PartialReply, error)

	FindPersona(ctx context.Context, id int64) (Persona, error)
	ListPersonas(ctx context.Context) ([]Persona, error)
	// SeedPersonas inserts any personas not present yet, keyed by Key.
	SeedPersonas(ctx context.Context, personas []Persona) error

	Close() error
}
