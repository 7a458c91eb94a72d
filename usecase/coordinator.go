package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkadyv/chatcast/domain"
	"github.com/arkadyv/chatcast/utils/log"
)

const streamErrorMessage = "An error occurred during message streaming."

// Settings bundles the coordinator's tunables.
type Settings struct {
	ChunkSize            int
	ChunkDelay           time.Duration
	MaxUserMessageLength int
}

// generation is the in-memory cancellation handle for one active generation.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Coordinator owns the lifecycle of at most one active generation per
// conversation. It mediates between the text producer, the store and the
// broadcast transport, and enforces per-conversation single-flight with
// last-writer-wins cancellation.
type Coordinator struct {
	store       domain.ConversationStore
	producer    domain.TextProducer
	broadcaster domain.Broadcaster
	settings    Settings

	// conversation id (string) -> *generation
	active sync.Map
}

func NewCoordinator(store domain.ConversationStore, producer domain.TextProducer, broadcaster domain.Broadcaster, settings Settings) *Coordinator {
	return &Coordinator{
		store:       store,
		producer:    producer,
		broadcaster: broadcaster,
		settings:    settings,
	}
}

// ReplayPending resyncs a freshly joined peer with every reply still marked
// partial: one started event, then one progress event per pending reply
// carrying the reply's entire current content and its id. Snapshots, not the
// original chunk boundaries — the peer has no state to resume from.
func (c *Coordinator) ReplayPending(ctx context.Context, conversationID uuid.UUID, peerID string) error {
	replies, err := c.store.ListPartialReplies(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list partial replies: %w", err)
	}
	if len(replies) == 0 {
		return nil
	}

	c.broadcaster.SendEvent(peerID, domain.GenerationStartedEvent())
	for _, reply := range replies {
		c.broadcaster.SendEvent(peerID, domain.GenerationProgressEvent(reply.Content, reply.ID.String()))
	}
	return nil
}

// StartGeneration validates the user message, replaces any generation already
// running for the conversation, seeds an empty partial reply and streams the
// producer's output into it. The streaming itself runs detached from the
// caller; every outcome is reported through persistence and broadcast events
// only.
func (c *Coordinator) StartGeneration(ctx context.Context, conversationID uuid.UUID, userMessage string, personaID int64) {
	convID := conversationID.String()

	if strings.TrimSpace(userMessage) == "" {
		log.WithCtx(ctx).Warn("Empty user message", zap.String("conversation_id", convID))
		c.broadcaster.BroadcastEvent(convID, domain.ErrorEvent("Message cannot be empty."))
		return
	}
	if len(userMessage) > c.settings.MaxUserMessageLength {
		log.WithCtx(ctx).Warn("User message too long",
			zap.String("conversation_id", convID),
			zap.Int("length", len(userMessage)))
		c.broadcaster.BroadcastEvent(convID, domain.ErrorEvent(
			fmt.Sprintf("Message too long. Maximum length is %d characters.", c.settings.MaxUserMessageLength)))
		return
	}

	// Last writer wins: an already running generation is cancelled and
	// discarded before the new one is registered.
	if old, ok := c.active.LoadAndDelete(convID); ok {
		old.(*generation).cancel()
	}

	genCtx, cancel := context.WithCancel(context.Background())
	gen := &generation{ctx: genCtx, cancel: cancel}
	c.active.Store(convID, gen)

	c.broadcaster.BroadcastEvent(convID, domain.GenerationStartedEvent())

	go c.stream(gen, conversationID, userMessage, personaID)
}

// CancelGeneration signals the conversation's active generation, if any.
// Calling it with nothing running is a no-op.
func (c *Coordinator) CancelGeneration(conversationID uuid.UUID) {
	if gen, ok := c.active.LoadAndDelete(conversationID.String()); ok {
		log.With(zap.String("conversation_id", conversationID.String())).
			Info("Cancelling generation")
		gen.(*generation).cancel()
	}
}

// stream is the background generation task. It is the sole writer of the
// reply record it creates, for the record's whole lifetime.
func (c *Coordinator) stream(gen *generation, conversationID uuid.UUID, userMessage string, personaID int64) {
	convID := conversationID.String()
	logger := log.With(zap.String("conversation_id", convID))

	// Whatever happens, a finished task must not block a later start.
	defer c.active.CompareAndDelete(convID, gen)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during generation", zap.Any("panic", r))
			c.broadcaster.BroadcastEvent(convID, domain.ErrorEvent(streamErrorMessage))
		}
	}()

	persona, err := c.store.FindPersona(gen.ctx, personaID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.finishCancelled(convID, uuid.Nil, logger)
			return
		}
		// Unknown persona aborts silently to the conversation.
		logger.Error("Resolving persona", zap.Int64("persona_id", personaID), zap.Error(err))
		return
	}

	// Seed the partial reply before producing any text, so a crash between
	// here and the first chunk still leaves a recoverable record.
	replyID, err := c.store.CreateEmptyReply(gen.ctx, conversationID, persona.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.finishCancelled(convID, uuid.Nil, logger)
			return
		}
		logger.Error("Creating reply record", zap.Error(err))
		c.broadcaster.BroadcastEvent(convID, domain.ErrorEvent(streamErrorMessage))
		return
	}

	var accumulated strings.Builder
	firstChunk := true

	err = c.producer.Produce(gen.ctx, userMessage, persona.Key,
		c.settings.ChunkSize, c.settings.ChunkDelay,
		func(chunk string) error {
			if err := gen.ctx.Err(); err != nil {
				return err
			}

			accumulated.WriteString(chunk)
			if err := c.store.UpdateReplyContent(gen.ctx, replyID, accumulated.String()); err != nil {
				return fmt.Errorf("persist reply content: %w", err)
			}

			// Only the first fragment carries the reply id; peers bind
			// the id-less fragments that follow to it.
			if firstChunk {
				c.broadcaster.BroadcastEvent(convID, domain.GenerationProgressEvent(chunk, replyID.String()))
				firstChunk = false
			} else {
				c.broadcaster.BroadcastEvent(convID, domain.GenerationProgressEvent(chunk, ""))
			}
			return nil
		},
		func(string) error {
			if err := gen.ctx.Err(); err != nil {
				return err
			}
			// The accumulated chunks are the reply's content of record;
			// completion payloads are never persisted.
			if err := c.store.SetReplyPartial(gen.ctx, replyID, false); err != nil {
				return fmt.Errorf("clear partial flag: %w", err)
			}
			c.broadcaster.BroadcastEvent(convID, domain.GenerationCompletedEvent(replyID.String()))
			return nil
		})

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		c.finishCancelled(convID, replyID, logger)
	default:
		logger.Error("Streaming reply",
			zap.String("reply_id", replyID.String()),
			zap.Error(err))
		c.broadcaster.BroadcastEvent(convID, domain.ErrorEvent(streamErrorMessage))
	}
}

// finishCancelled finalizes a cancelled generation: the reply keeps whatever
// content accumulated and its partial flag is cleared, exactly as on normal
// completion. The distinct cancelled event is the only visible difference.
func (c *Coordinator) finishCancelled(convID string, replyID uuid.UUID, logger *zap.Logger) {
	if replyID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.SetReplyPartial(ctx, replyID, false); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Error("Finalizing cancelled reply",
				zap.String("reply_id", replyID.String()),
				zap.Error(err))
		}
	}

	logger.Info("Generation cancelled")
	c.broadcaster.BroadcastEvent(convID, domain.GenerationCancelledEvent())
}
