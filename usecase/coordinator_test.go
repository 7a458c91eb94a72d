package usecase

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkadyv/chatcast/adapters/producer"
	"github.com/arkadyv/chatcast/domain"
)

// producerFunc adapts a bare function to domain.TextProducer.
type producerFunc func(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk, onComplete func(string) error) error

func (f producerFunc) Produce(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk func(string) error, onComplete func(string) error) error {
	return f(ctx, prompt, personaKey, chunkSize, chunkDelay, onChunk, onComplete)
}

// memStore is an in-memory ConversationStore covering what the coordinator
// touches; the CRUD surface is stubbed out.
type memStore struct {
	mu       sync.Mutex
	personas map[int64]domain.Persona
	replies  map[uuid.UUID]*memReply
	order    []uuid.UUID
}

type memReply struct {
	conversationID uuid.UUID
	content        string
	partial        bool
}

func newMemStore(personas ...domain.Persona) *memStore {
	s := &memStore{
		personas: make(map[int64]domain.Persona),
		replies:  make(map[uuid.UUID]*memReply),
	}
	for _, p := range personas {
		s.personas[p.ID] = p
	}
	return s
}

func (s *memStore) CreateConversation(ctx context.Context, metadata map[string]string) (domain.Conversation, error) {
	return domain.Conversation{ID: uuid.New(), Metadata: metadata}, nil
}

func (s *memStore) ConversationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func (s *memStore) GetConversation(ctx context.Context, id uuid.UUID) (domain.Conversation, error) {
	return domain.Conversation{}, domain.ErrNotFound
}

func (s *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	return nil, nil
}

func (s *memStore) AddUserMessage(ctx context.Context, conversationID uuid.UUID, personaID int64, content string) (domain.Message, error) {
	return domain.Message{}, domain.ErrNotFound
}

func (s *memStore) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	return domain.Message{}, domain.ErrNotFound
}

func (s *memStore) RateMessage(ctx context.Context, messageID uuid.UUID, positive bool) error {
	return domain.ErrNotFound
}

func (s *memStore) CreateEmptyReply(ctx context.Context, conversationID uuid.UUID, personaID int64) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.replies[id] = &memReply{conversationID: conversationID, partial: true}
	s.order = append(s.order, id)
	return id, nil
}

func (s *memStore) UpdateReplyContent(ctx context.Context, replyID uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.replies[replyID]
	if !ok {
		return domain.ErrNotFound
	}
	reply.content = content
	return nil
}

func (s *memStore) SetReplyPartial(ctx context.Context, replyID uuid.UUID, partial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.replies[replyID]
	if !ok {
		return domain.ErrNotFound
	}
	reply.partial = partial
	return nil
}

func (s *memStore) ListPartialReplies(ctx context.Context, conversationID uuid.UUID) ([]domain.PartialReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replies := []domain.PartialReply{}
	for _, id := range s.order {
		reply := s.replies[id]
		if reply.conversationID == conversationID && reply.partial {
			replies = append(replies, domain.PartialReply{ID: id, Content: reply.content})
		}
	}
	return replies, nil
}

func (s *memStore) FindPersona(ctx context.Context, id int64) (domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	persona, ok := s.personas[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	return persona, nil
}

func (s *memStore) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	return nil, nil
}

func (s *memStore) SeedPersonas(ctx context.Context, personas []domain.Persona) error {
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) reply(t *testing.T, id uuid.UUID) memReply {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.replies[id]
	require.True(t, ok, "reply %s not found", id)
	return *reply
}

func (s *memStore) replyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// recordedEvent tags an event with the scope it was delivered to.
type recordedEvent struct {
	scope string
	event domain.Event
}

type captureBroadcaster struct {
	events chan recordedEvent
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{events: make(chan recordedEvent, 128)}
}

func (b *captureBroadcaster) BroadcastEvent(conversationID string, event domain.Event) {
	b.events <- recordedEvent{scope: "group:" + conversationID, event: event}
}

func (b *captureBroadcaster) SendEvent(peerID string, event domain.Event) {
	b.events <- recordedEvent{scope: "peer:" + peerID, event: event}
}

func (b *captureBroadcaster) next(t *testing.T) recordedEvent {
	t.Helper()
	select {
	case ev := <-b.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return recordedEvent{}
	}
}

func (b *captureBroadcaster) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-b.events:
		t.Fatalf("unexpected event %q to %s", ev.event.Type, ev.scope)
	case <-time.After(100 * time.Millisecond):
	}
}

var sherlock = domain.Persona{ID: 1, Key: "sherlock", Name: "Sherlock Holmes"}

func testSettings() Settings {
	return Settings{ChunkSize: 3, ChunkDelay: 0, MaxUserMessageLength: 1000}
}

func TestGenerationStreamsPersistsAndBroadcasts(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()
	coord := NewCoordinator(store, producer.NewFixedTextWith("abcdef"), bc, testSettings())

	convID := uuid.New()
	coord.StartGeneration(context.Background(), convID, "hello", sherlock.ID)

	started := bc.next(t)
	assert.Equal(t, "group:"+convID.String(), started.scope)
	assert.Equal(t, domain.EventGenerationStarted, started.event.Type)

	first := bc.next(t)
	require.Equal(t, domain.EventGenerationProgress, first.event.Type)
	assert.Equal(t, "abc", first.event.Chunk)
	require.NotEmpty(t, first.event.ReplyID, "first chunk must carry the reply id")

	second := bc.next(t)
	require.Equal(t, domain.EventGenerationProgress, second.event.Type)
	assert.Equal(t, "def", second.event.Chunk)
	assert.Empty(t, second.event.ReplyID, "later chunks omit the reply id")

	completed := bc.next(t)
	require.Equal(t, domain.EventGenerationCompleted, completed.event.Type)
	assert.Equal(t, first.event.ReplyID, completed.event.ReplyID)

	replyID := uuid.MustParse(first.event.ReplyID)
	reply := store.reply(t, replyID)
	assert.Equal(t, "abcdef", reply.content)
	assert.False(t, reply.partial)
}

func TestBlankMessageRejected(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()

	var produced atomic.Bool
	coord := NewCoordinator(store, producerFunc(func(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk, onComplete func(string) error) error {
		produced.Store(true)
		return nil
	}), bc, testSettings())

	coord.StartGeneration(context.Background(), uuid.New(), "   ", sherlock.ID)

	ev := bc.next(t)
	assert.Equal(t, domain.EventError, ev.event.Type)
	assert.Zero(t, store.replyCount(), "no reply record for a rejected message")
	assert.False(t, produced.Load(), "producer must not run for a rejected message")
}

func TestTooLongMessageRejected(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()

	var produced atomic.Bool
	settings := testSettings()
	settings.MaxUserMessageLength = 10
	coord := NewCoordinator(store, producerFunc(func(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk, onComplete func(string) error) error {
		produced.Store(true)
		return nil
	}), bc, settings)

	coord.StartGeneration(context.Background(), uuid.New(), strings.Repeat("a", 11), sherlock.ID)

	ev := bc.next(t)
	assert.Equal(t, domain.EventError, ev.event.Type)
	assert.Contains(t, ev.event.Message, "Maximum length is 10")
	assert.Zero(t, store.replyCount())
	assert.False(t, produced.Load())
}

func TestSecondStartCancelsFirst(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()

	release := make(chan struct{})
	prod := producerFunc(func(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk, onComplete func(string) error) error {
		if err := onChunk("x"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return onComplete("x")
		}
	})
	coord := NewCoordinator(store, prod, bc, testSettings())

	convID := uuid.New()
	coord.StartGeneration(context.Background(), convID, "first", sherlock.ID)

	require.Equal(t, domain.EventGenerationStarted, bc.next(t).event.Type)
	firstProgress := bc.next(t)
	require.Equal(t, domain.EventGenerationProgress, firstProgress.event.Type)
	firstReplyID := firstProgress.event.ReplyID
	require.NotEmpty(t, firstReplyID)

	coord.StartGeneration(context.Background(), convID, "second", sherlock.ID)

	// Let the second generation run to completion once its first chunk is
	// out; the first generation's context is already cancelled.
	var completions []domain.Event
	var cancellations int
	released := false
	deadline := time.After(2 * time.Second)
	for len(completions) == 0 || cancellations == 0 {
		select {
		case ev := <-bc.events:
			switch ev.event.Type {
			case domain.EventGenerationProgress:
				if !released && ev.event.ReplyID != "" && ev.event.ReplyID != firstReplyID {
					close(release)
					released = true
				}
			case domain.EventGenerationCompleted:
				completions = append(completions, ev.event)
			case domain.EventGenerationCancelled:
				cancellations++
			}
		case <-deadline:
			t.Fatal("timed out waiting for second generation to complete")
		}
	}

	require.Len(t, completions, 1, "only the second generation may complete")
	assert.NotEqual(t, firstReplyID, completions[0].ReplyID)
	assert.Equal(t, 1, cancellations, "the first generation must be cancelled")

	// The superseded reply keeps its content and is finalized.
	reply := store.reply(t, uuid.MustParse(firstReplyID))
	assert.Equal(t, "x", reply.content)
	assert.False(t, reply.partial)
}

func TestCancelGeneration(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()

	prod := producerFunc(func(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk, onComplete func(string) error) error {
		if err := onChunk("x"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
	coord := NewCoordinator(store, prod, bc, testSettings())

	convID := uuid.New()
	coord.StartGeneration(context.Background(), convID, "hello", sherlock.ID)

	require.Equal(t, domain.EventGenerationStarted, bc.next(t).event.Type)
	progress := bc.next(t)
	require.Equal(t, domain.EventGenerationProgress, progress.event.Type)

	coord.CancelGeneration(convID)

	cancelled := bc.next(t)
	assert.Equal(t, domain.EventGenerationCancelled, cancelled.event.Type)
	bc.expectNone(t)

	reply := store.reply(t, uuid.MustParse(progress.event.ReplyID))
	assert.Equal(t, "x", reply.content)
	assert.False(t, reply.partial, "cancellation finalizes the reply")
}

func TestCancelWithoutActiveGenerationIsNoop(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()
	coord := NewCoordinator(store, producer.NewFixedTextWith("abc"), bc, testSettings())

	coord.CancelGeneration(uuid.New())
	bc.expectNone(t)
}

func TestUnknownPersonaAbortsSilently(t *testing.T) {
	store := newMemStore()
	bc := newCaptureBroadcaster()
	coord := NewCoordinator(store, producer.NewFixedTextWith("abc"), bc, testSettings())

	coord.StartGeneration(context.Background(), uuid.New(), "hello", 42)

	require.Equal(t, domain.EventGenerationStarted, bc.next(t).event.Type)
	bc.expectNone(t)
	assert.Zero(t, store.replyCount())
}

func TestProducerPanicBecomesErrorEvent(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()

	coord := NewCoordinator(store, producerFunc(func(ctx context.Context, prompt, personaKey string, chunkSize int, chunkDelay time.Duration, onChunk, onComplete func(string) error) error {
		panic("backend exploded")
	}), bc, testSettings())

	convID := uuid.New()
	coord.StartGeneration(context.Background(), convID, "hello", sherlock.ID)

	require.Equal(t, domain.EventGenerationStarted, bc.next(t).event.Type)
	ev := bc.next(t)
	assert.Equal(t, domain.EventError, ev.event.Type)

	// The slot is free again afterwards.
	coord.StartGeneration(context.Background(), convID, "hello again", sherlock.ID)
	require.Equal(t, domain.EventGenerationStarted, bc.next(t).event.Type)
	ev = bc.next(t)
	assert.Equal(t, domain.EventError, ev.event.Type)
}

func TestReplayPending(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()
	coord := NewCoordinator(store, producer.NewFixedTextWith("abc"), bc, testSettings())

	convID := uuid.New()
	ctx := context.Background()

	firstID, err := store.CreateEmptyReply(ctx, convID, sherlock.ID)
	require.NoError(t, err)
	require.NoError(t, store.UpdateReplyContent(ctx, firstID, "once upon"))
	secondID, err := store.CreateEmptyReply(ctx, convID, sherlock.ID)
	require.NoError(t, err)
	require.NoError(t, store.UpdateReplyContent(ctx, secondID, "a time"))

	require.NoError(t, coord.ReplayPending(ctx, convID, "peer-1"))

	started := bc.next(t)
	assert.Equal(t, "peer:peer-1", started.scope)
	assert.Equal(t, domain.EventGenerationStarted, started.event.Type)

	first := bc.next(t)
	require.Equal(t, domain.EventGenerationProgress, first.event.Type)
	assert.Equal(t, "once upon", first.event.Chunk)
	assert.Equal(t, firstID.String(), first.event.ReplyID)

	second := bc.next(t)
	require.Equal(t, domain.EventGenerationProgress, second.event.Type)
	assert.Equal(t, "a time", second.event.Chunk)
	assert.Equal(t, secondID.String(), second.event.ReplyID)

	bc.expectNone(t)
}

func TestReplayPendingWithoutPartialReplies(t *testing.T) {
	store := newMemStore(sherlock)
	bc := newCaptureBroadcaster()
	coord := NewCoordinator(store, producer.NewFixedTextWith("abc"), bc, testSettings())

	require.NoError(t, coord.ReplayPending(context.Background(), uuid.New(), "peer-1"))
	bc.expectNone(t)
}
