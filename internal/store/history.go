package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/google/uuid"
)

// ErrChatNotFound is returned by Chat for unknown chat ids.
var ErrChatNotFound = errors.New("chat not found")

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Chat is one conversation seen by any channel.
type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Type         string    `json:"type"`
	Platform     string    `json:"platform"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ChatMessage is one recorded inbound or outbound message.
type ChatMessage struct {
	ID          string              `json:"id"`
	ChatID      string              `json:"chatId"`
	Direction   string              `json:"direction"`
	Sender      string              `json:"sender"`
	Content     string              `json:"content"`
	Type        string              `json:"type"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// HistoryStore records chat history in SQLite.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a history store using the given database.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// UpsertChat creates or updates a chat.
func (h *HistoryStore) UpsertChat(ctx context.Context, chat Chat) error {
	return upsertChat(ctx, h.db.sql, chat, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertChat inserts or touches a chat. Empty fields keep the stored values;
// a new chat without a type gets "default".
func upsertChat(ctx context.Context, ex execer, chat Chat, now time.Time) error {
	keepType := chat.Type == ""
	if keepType {
		chat.Type = string(domain.ChatTypeDefault)
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO chats (id, name, type, platform, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
		   type = CASE WHEN ? THEN chats.type ELSE excluded.type END,
		   platform = CASE WHEN excluded.platform != '' THEN excluded.platform ELSE chats.platform END,
		   updated_at = excluded.updated_at`,
		chat.ID, chat.Name, chat.Type, chat.Platform, now.UnixMilli(), now.UnixMilli(), keepType,
	)
	if err != nil {
		return fmt.Errorf("upsert chat %s: %w", chat.ID, err)
	}
	return nil
}

// Append records a message, creating its chat when needed.
func (h *HistoryStore) Append(ctx context.Context, chat Chat, msg ChatMessage) (*ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Type == "" {
		msg.Type = domain.ResponseText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.ChatID = chat.ID

	var attachments sql.NullString
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return nil, fmt.Errorf("encode attachments: %w", err)
		}
		attachments = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := h.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if err := upsertChat(ctx, tx, chat, msg.Timestamp); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, seq, chat_id, direction, sender, content, type, attachments, timestamp)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?
		 FROM chat_messages WHERE chat_id = ?`,
		msg.ID, chat.ID, msg.Direction, msg.Sender, msg.Content, msg.Type, attachments,
		msg.Timestamp.UnixMilli(), chat.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("append message to %s: %w", chat.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return &msg, nil
}

// RecordInbound stores a normalized inbound message.
func (h *HistoryStore) RecordInbound(ctx context.Context, msg domain.InboundMessage) error {
	_, err := h.Append(ctx, Chat{
		ID:       msg.ChatID,
		Name:     msg.ChatName,
		Type:     string(msg.Channel),
		Platform: msg.Platform,
	}, ChatMessage{
		Direction:   DirectionIn,
		Sender:      msg.Sender.Name,
		Content:     msg.Text,
		Type:        domain.ResponseText,
		Attachments: msg.Attachments,
		Timestamp:   msg.Timestamp,
	})
	return err
}

// RecordOutbound stores a reply sent to chat.
func (h *HistoryStore) RecordOutbound(ctx context.Context, chat Chat, sender string, resp domain.Response) error {
	content := resp.Text
	var attachments []domain.Attachment
	if resp.Type == domain.ResponseMedia {
		content = resp.Caption
		attachments = []domain.Attachment{{URL: resp.URL, MimeType: resp.MimeType, FileName: resp.FileName}}
	}
	ts := time.Now()
	if resp.Timestamp > 0 {
		ts = time.UnixMilli(resp.Timestamp)
	}
	_, err := h.Append(ctx, chat, ChatMessage{
		Direction:   DirectionOut,
		Sender:      sender,
		Content:     content,
		Type:        resp.Type,
		Attachments: attachments,
		Timestamp:   ts,
	})
	return err
}

// Messages returns the most recent limit messages of a chat, oldest first.
// A limit of 0 defaults to 50.
func (h *HistoryStore) Messages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.sql.QueryContext(ctx,
		`SELECT id, chat_id, direction, sender, content, type, attachments, timestamp
		 FROM (
		   SELECT * FROM chat_messages WHERE chat_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		var attachments sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Direction, &m.Sender, &m.Content, &m.Type, &attachments, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				h.db.log.Warn().Err(err).Str("id", m.ID).Msg("bad attachments column")
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Chats lists every chat, most recently active first.
func (h *HistoryStore) Chats(ctx context.Context) ([]Chat, error) {
	rows, err := h.db.sql.QueryContext(ctx,
		`SELECT c.id, c.name, c.type, c.platform, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.id)
		 FROM chats c
		 ORDER BY c.updated_at DESC, c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var c Chat
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Platform, &created, &updated, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Chat returns one chat with its message count.
func (h *HistoryStore) Chat(ctx context.Context, id string) (Chat, error) {
	var c Chat
	var created, updated int64
	err := h.db.sql.QueryRowContext(ctx,
		`SELECT c.id, c.name, c.type, c.platform, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.id)
		 FROM chats c WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Type, &c.Platform, &created, &updated, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if err != nil {
		return Chat{}, fmt.Errorf("query chat %s: %w", id, err)
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

// Clear deletes a chat's messages and returns how many were removed.
func (h *HistoryStore) Clear(ctx context.Context, chatID string) (int64, error) {
	res, err := h.db.sql.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", chatID, err)
	}
	return res.RowsAffected()
}
