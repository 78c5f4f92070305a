package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"council/internal/logging"
)

// sourceContinue tags every conversation this service owns; external
// rows in a shared chat table are never touched.
const sourceContinue = "continue"

// recentScanLimit bounds the near-match fallback in
// FindByFirstMessage.
const recentScanLimit = 100

// Message is one entry of a conversation's append-only log. Stage
// artifacts are stored opaquely so the log schema does not chase the
// engine's types.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Stage1    json.RawMessage `json:"stage1,omitempty"`
	Stage2    json.RawMessage `json:"stage2,omitempty"`
	Stage3    json.RawMessage `json:"stage3,omitempty"`
}

// Stages carries the per-stage artifacts attached to an assistant
// message. Values are marshaled as-is.
type Stages struct {
	Stage1 any
	Stage2 any
	Stage3 any
}

// Conversation is the full stored record with normalized ISO
// timestamps.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Source    string         `json:"source"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Messages  []Message      `json:"messages"`
	Meta      map[string]any `json:"meta"`
}

// Metadata is the list-view projection.
type Metadata struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
}

// Store persists conversations in Postgres. A nil *Store is a valid
// no-op handle so the gateway runs with storage disabled.
type Store struct {
	pool *pgxpool.Pool

	// archived-column probe result; monotonic, never unset once known.
	archivedKnown  bool
	archivedExists bool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enabled reports whether persistence is active.
func (s *Store) Enabled() bool { return s != nil && s.pool != nil }

// Init creates the chat table when it does not exist yet. Pre-existing
// tables (possibly with extra columns) are left alone.
func (s *Store) Init(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS chat (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT 'continue-user',
    title TEXT NOT NULL DEFAULT '',
    chat JSONB NOT NULL DEFAULT '{}',
    meta JSONB NOT NULL DEFAULT '{}',
    source TEXT NOT NULL DEFAULT 'continue',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    archived BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS chat_source_created_idx ON chat(source, created_at DESC);
`)
	return err
}

// hasArchivedColumn probes information_schema once and caches the
// answer for the process lifetime. Probe errors leave the flag
// undetermined so a later call may retry.
func (s *Store) hasArchivedColumn(ctx context.Context) bool {
	if s.archivedKnown {
		return s.archivedExists
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM information_schema.columns
    WHERE table_name = 'chat' AND column_name = 'archived'
)`).Scan(&exists)
	if err != nil {
		logging.Log.WithError(err).Warn("archived column probe failed")
		return false
	}
	s.archivedKnown = true
	s.archivedExists = exists
	return exists
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func newMessage(role, content string, stages *Stages) Message {
	m := Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if stages != nil && role == "assistant" {
		if stages.Stage1 != nil {
			m.Stage1, _ = json.Marshal(stages.Stage1)
		}
		if stages.Stage2 != nil {
			m.Stage2, _ = json.Marshal(stages.Stage2)
		}
		if stages.Stage3 != nil {
			m.Stage3, _ = json.Marshal(stages.Stage3)
		}
	}
	return m
}

// DefaultTitle derives the initial title from the first user message:
// first 50 characters, ellipsized when truncated.
func DefaultTitle(firstMessage string) string {
	runes := []rune(firstMessage)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return firstMessage
}

// Create inserts a new conversation seeded with the first user
// message. The INSERT is composed conditionally around the archived
// column so shared tables without it keep working.
func (s *Store) Create(ctx context.Context, id, firstMessage, title string) (*Conversation, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if title == "" {
		title = DefaultTitle(firstMessage)
	}

	chatData, err := json.Marshal(map[string]any{
		"messages": []Message{newMessage("user", firstMessage, nil)},
	})
	if err != nil {
		return nil, err
	}
	metaData, err := json.Marshal(map[string]any{
		"source":      sourceContinue,
		"created_via": "continue_plugin",
	})
	if err != nil {
		return nil, err
	}

	now := nowMillis()
	if s.hasArchivedColumn(ctx) {
		_, err = s.pool.Exec(ctx, `
INSERT INTO chat (id, user_id, title, chat, meta, source, created_at, updated_at, archived)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, "continue-user", title, chatData, metaData, sourceContinue, now, now, false)
	} else {
		_, err = s.pool.Exec(ctx, `
INSERT INTO chat (id, user_id, title, chat, meta, source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, "continue-user", title, chatData, metaData, sourceContinue, now, now)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Get returns the conversation or (nil, nil) when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	if !s.Enabled() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
SELECT id, title, chat, meta, source, created_at, updated_at
FROM chat
WHERE id = $1 AND source = $2`, id, sourceContinue)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv                 Conversation
		chatRaw, metaRaw     []byte
		createdAt, updatedAt any
	)
	if err := row.Scan(&conv.ID, &conv.Title, &chatRaw, &metaRaw, &conv.Source, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = normalizeTimestamp(createdAt)
	conv.UpdatedAt = normalizeTimestamp(updatedAt)

	var chatData struct {
		Messages []Message `json:"messages"`
	}
	if len(chatRaw) > 0 {
		if err := json.Unmarshal(chatRaw, &chatData); err != nil {
			return nil, fmt.Errorf("parse chat payload: %w", err)
		}
	}
	conv.Messages = chatData.Messages
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &conv.Meta)
	}
	return &conv, nil
}

// normalizeTimestamp accepts the stored millisecond integers as well
// as native timestamp columns and renders ISO-8601.
func normalizeTimestamp(v any) string {
	switch t := v.(type) {
	case int64:
		return time.UnixMilli(t).UTC().Format(time.RFC3339)
	case int32:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339)
	case float64:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		return t
	default:
		return ""
	}
}

// Append adds one message and bumps updated_at. Returns false when the
// conversation does not exist.
func (s *Store) Append(ctx context.Context, id, role, content string, stages *Stages) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	conv, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if conv == nil {
		logging.Log.WithField("conversation_id", id).Warn("append to missing conversation")
		return false, nil
	}

	messages := append(conv.Messages, newMessage(role, content, stages))
	chatData, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return false, err
	}

	_, err = s.pool.Exec(ctx, `
UPDATE chat
SET chat = $1, updated_at = $2
WHERE id = $3 AND source = $4`, chatData, nowMillis(), id, sourceContinue)
	if err != nil {
		return false, fmt.Errorf("append to conversation %s: %w", id, err)
	}
	return true, nil
}

// UpdateTitle replaces the conversation title.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE chat
SET title = $1, updated_at = $2
WHERE id = $3 AND source = $4`, title, nowMillis(), id, sourceContinue)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List returns conversation metadata newest-first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Metadata, error) {
	if !s.Enabled() {
		return []Metadata{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, title, chat, created_at
FROM chat
WHERE source = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, sourceContinue, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Metadata{}
	for rows.Next() {
		var (
			md        Metadata
			chatRaw   []byte
			createdAt any
		)
		if err := rows.Scan(&md.ID, &md.Title, &chatRaw, &createdAt); err != nil {
			return nil, err
		}
		md.CreatedAt = normalizeTimestamp(createdAt)
		var chatData struct {
			Messages []json.RawMessage `json:"messages"`
		}
		if len(chatRaw) > 0 {
			_ = json.Unmarshal(chatRaw, &chatData)
		}
		md.MessageCount = len(chatData.Messages)
		out = append(out, md)
	}
	return out, rows.Err()
}

// Delete removes the conversation, reporting whether a row existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
DELETE FROM chat WHERE id = $1 AND source = $2`, id, sourceContinue)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindByFirstMessage resolves the conversation for an incoming message
// history: exact deterministic-id lookup first, then a bounded recency
// scan matching the first 100 characters of the first user message.
func (s *Store) FindByFirstMessage(ctx context.Context, messages []RoleContent) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	id := DeterministicID(messages)
	conv, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return id, nil
	}

	first := FirstUserMessage(messages)
	if first == "" {
		return "", nil
	}
	prefix := first
	if r := []rune(prefix); len(r) > 100 {
		prefix = string(r[:100])
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, chat
FROM chat
WHERE source = $1
ORDER BY created_at DESC
LIMIT $2`, sourceContinue, recentScanLimit)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowID   string
			chatRaw []byte
		)
		if err := rows.Scan(&rowID, &chatRaw); err != nil {
			return "", err
		}
		var chatData struct {
			Messages []Message `json:"messages"`
		}
		if len(chatRaw) > 0 {
			_ = json.Unmarshal(chatRaw, &chatData)
		}
		for _, m := range chatData.Messages {
			if m.Role != "user" {
				continue
			}
			candidate := m.Content
			if r := []rune(candidate); len(r) > 100 {
				candidate = string(r[:100])
			}
			if candidate == prefix {
				return rowID, nil
			}
			break
		}
	}
	return "", rows.Err()
}
