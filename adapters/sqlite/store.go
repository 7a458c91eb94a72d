package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/arkadyv/chatcast/domain"
)

// Store implements domain.ConversationStore backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the conversation store at the supplied path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS personas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	persona_id INTEGER NOT NULL REFERENCES personas(id),
	content TEXT NOT NULL,
	is_from_user INTEGER NOT NULL DEFAULT 0,
	is_partial INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS message_ratings (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
	is_positive INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_partial ON messages(conversation_id, is_partial);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateConversation(ctx context.Context, metadata map[string]string) (domain.Conversation, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("marshal metadata: %w", err)
	}

	conv := domain.Conversation{
		ID:           uuid.New(),
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
		Metadata:     metadata,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, last_activity, metadata) VALUES (?, ?, ?, ?)`,
		conv.ID.String(), conv.CreatedAt, conv.LastActivity, string(metadataJSON))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ConversationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query conversation: %w", err)
	}
	return true, nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (domain.Conversation, error) {
	var conv domain.Conversation
	var metadataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_activity, metadata FROM conversations WHERE id = ?`,
		id.String()).Scan(&conv.ID, &conv.CreatedAt, &conv.LastActivity, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &conv.Metadata); err != nil {
		return domain.Conversation{}, fmt.Errorf("unmarshal metadata: %w", err)
	}

	// Fetching a conversation counts as activity.
	conv.LastActivity = time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity = ? WHERE id = ?`,
		conv.LastActivity, id.String()); err != nil {
		return domain.Conversation{}, fmt.Errorf("touch conversation: %w", err)
	}

	conv.Messages, err = s.queryMessages(ctx, `WHERE m.conversation_id = ?`, id.String())
	if err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	exists, err := s.ConversationExists(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return s.queryMessages(ctx, `WHERE m.conversation_id = ?`, conversationID.String())
}

func (s *Store) queryMessages(ctx context.Context, where string, args ...any) ([]domain.Message, error) {
	query := `
SELECT m.id, m.conversation_id, m.persona_id, m.content, m.is_from_user, m.is_partial, m.created_at, r.is_positive
FROM messages m
LEFT JOIN message_ratings r ON r.message_id = m.id
` + where + `
ORDER BY m.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var rating sql.NullBool
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.PersonaID, &msg.Content,
		&msg.FromUser, &msg.Partial, &msg.CreatedAt, &rating)
	if err != nil {
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	if rating.Valid {
		msg.Rating = &rating.Bool
	}
	return msg, nil
}

func (s *Store) AddUserMessage(ctx context.Context, conversationID uuid.UUID, personaID int64, content string) (domain.Message, error) {
	exists, err := s.ConversationExists(ctx, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if !exists {
		return domain.Message{}, domain.ErrNotFound
	}
	if _, err := s.FindPersona(ctx, personaID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Content:        content,
		FromUser:       true,
		Partial:        false,
		CreatedAt:      time.Now().UTC(),
		PersonaID:      personaID,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, persona_id, content, is_from_user, is_partial, created_at)
		 VALUES (?, ?, ?, ?, 1, 0, ?)`,
		msg.ID.String(), conversationID.String(), personaID, content, msg.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}

	// Sending a message counts as activity.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity = ? WHERE id = ?`,
		time.Now().UTC(), conversationID.String()); err != nil {
		return domain.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT m.id, m.conversation_id, m.persona_id, m.content, m.is_from_user, m.is_partial, m.created_at, r.is_positive
FROM messages m
LEFT JOIN message_ratings r ON r.message_id = m.id
WHERE m.id = ?`, id.String())

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, domain.ErrNotFound
		}
		return domain.Message{}, err
	}
	return msg, nil
}

func (s *Store) RateMessage(ctx context.Context, messageID uuid.UUID, positive bool) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, messageID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query message: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO message_ratings (id, message_id, is_positive, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(message_id) DO UPDATE SET is_positive = excluded.is_positive, updated_at = ?`,
		uuid.New().String(), messageID.String(), positive, now, now)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

func (s *Store) CreateEmptyReply(ctx context.Context, conversationID uuid.UUID, personaID int64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, persona_id, content, is_from_user, is_partial, created_at)
		 VALUES (?, ?, ?, '', 0, 1, ?)`,
		id.String(), conversationID.String(), personaID, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert reply: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateReplyContent(ctx context.Context, replyID uuid.UUID, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, content, replyID.String())
	if err != nil {
		return fmt.Errorf("update reply content: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetReplyPartial(ctx context.Context, replyID uuid.UUID, partial bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_partial = ? WHERE id = ?`, partial, replyID.String())
	if err != nil {
		return fmt.Errorf("update reply partial flag: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListPartialReplies(ctx context.Context, conversationID uuid.UUID) ([]domain.PartialReply, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM messages WHERE conversation_id = ? AND is_partial = 1 ORDER BY created_at ASC`,
		conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("query partial replies: %w", err)
	}
	defer rows.Close()

	replies := []domain.PartialReply{}
	for rows.Next() {
		var reply domain.PartialReply
		if err := rows.Scan(&reply.ID, &reply.Content); err != nil {
			return nil, fmt.Errorf("scan partial reply: %w", err)
		}
		replies = append(replies, reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partial replies: %w", err)
	}
	return replies, nil
}

func (s *Store) FindPersona(ctx context.Context, id int64) (domain.Persona, error) {
	var persona domain.Persona
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, name FROM personas WHERE id = ?`, id).
		Scan(&persona.ID, &persona.Key, &persona.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Persona{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Persona{}, fmt.Errorf("query persona: %w", err)
	}
	return persona, nil
}

func (s *Store) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, name FROM personas ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	personas := []domain.Persona{}
	for rows.Next() {
		var persona domain.Persona
		if err := rows.Scan(&persona.ID, &persona.Key, &persona.Name); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		personas = append(personas, persona)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return personas, nil
}

func (s *Store) SeedPersonas(ctx context.Context, personas []domain.Persona) error {
	for _, persona := range personas {
		var err error
		if persona.ID > 0 {
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO personas (id, key, name) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET name = excluded.name`,
				persona.ID, persona.Key, persona.Name)
		} else {
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO personas (key, name) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET name = excluded.name`,
				persona.Key, persona.Name)
		}
		if err != nil {
			return fmt.Errorf("seed persona %q: %w", persona.Key, err)
		}
	}
	return nil
}

var _ domain.ConversationStore = (*Store)(nil)
