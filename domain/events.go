package domain

// Event names sent to transport peers.
const (
	EventJoined              = "joined"
	EventGenerationStarted   = "generationStarted"
	EventGenerationProgress  = "generationProgress"
	EventGenerationCompleted = "generationCompleted"
	EventGenerationCancelled = "generationCancelled"
	EventError               = "error"
)

// Event is one server-to-peer notification. Fields other than Type are
// populated per event: Chunk on progress, ReplyID on progress (first chunk
// only) and completion, Message on errors.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Chunk          string `json:"chunk,omitempty"`
	ReplyID        string `json:"reply_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

func JoinedEvent(conversationID string) Event {
	return Event{Type: EventJoined, ConversationID: conversationID}
}

func GenerationStartedEvent() Event {
	return Event{Type: EventGenerationStarted}
}

// GenerationProgressEvent carries one text fragment. replyID is set only on
// the first fragment of a reply (and on replay snapshots) so peers can bind
// the id-less fragments that follow.
func GenerationProgressEvent(chunk, replyID string) Event {
	return Event{Type: EventGenerationProgress, Chunk: chunk, ReplyID: replyID}
}

func GenerationCompletedEvent(replyID string) Event {
	return Event{Type: EventGenerationCompleted, ReplyID: replyID}
}

func GenerationCancelledEvent() Event {
	return Event{Type: EventGenerationCancelled}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Broadcaster is the transport-facing port the coordinator publishes events
// through: conversation-scoped fan-out plus peer-private delivery.
type Broadcaster interface {
	BroadcastEvent(conversationID string, event Event)
	SendEvent(peerID string, event Event)
}
