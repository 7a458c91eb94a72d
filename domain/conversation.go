package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is one chat session between a user and the system.
// Metadata carries free-form client info such as user agent and IP.
type Conversation struct {
	ID           uuid.UUID         `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	Metadata     map[string]string `json:"metadata"`
	Messages     []Message         `json:"messages,omitempty"`
}

// Message is a single chat message, user-authored or bot-generated.
// A bot reply stays Partial while its content is still being streamed.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Content        string    `json:"content"`
	FromUser       bool      `json:"isFromUser"`
	Partial        bool      `json:"isPartial"`
	CreatedAt      time.Time `json:"createdAt"`
	PersonaID      int64     `json:"personaId"`
	Rating         *bool     `json:"rating,omitempty"`
}

// Persona is a selectable character the bot replies as.
type Persona struct {
	ID   int64  `json:"id" yaml:"id"`
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name" yaml:"name"`
}

// PartialReply is the slice of a reply-in-progress needed to resync a
// reconnecting peer: its id and everything accumulated so far.
type PartialReply struct {
	ID      uuid.UUID
	Content string
}
