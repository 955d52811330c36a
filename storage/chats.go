package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatloop/chat"
	"chatloop/message"
)

// ChatExtra is the denormalized JSON column on a chat row, holding the
// last-message preview shown in chat lists.
type ChatExtra struct {
	LastMessageRole message.Role `json:"last_message_role,omitempty"`
	LastMessageText string       `json:"last_message_text,omitempty"`
}

// Chat is one conversation record.
type Chat struct {
	ID              string
	Title           string
	CreateTime      time.Time
	UseDefaultTitle bool
	Extra           ChatExtra
}

// ChatStore persists chat records.
type ChatStore struct {
	db *sql.DB
}

// NewChatStore creates the store and its schema.
func NewChatStore(d *DB) (*ChatStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS chat (
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		create_time INTEGER NOT NULL,
		extra TEXT,
		use_default_title INTEGER NOT NULL,
		PRIMARY KEY (id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_create_time ON chat(create_time DESC);
	CREATE INDEX IF NOT EXISTS idx_chat_title ON chat(title ASC);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create chat schema: %w", err)
	}
	return &ChatStore{db: d.db}, nil
}

// CreateEmpty inserts a new untitled chat.
func (s *ChatStore) CreateEmpty(ctx context.Context) (Chat, error) {
	c := Chat{
		ID:              uuid.NewString(),
		CreateTime:      time.Now(),
		UseDefaultTitle: true,
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat (id, title, create_time, extra, use_default_title)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.CreateTime.UnixMilli(), "{}", boolToInt(c.UseDefaultTitle),
	); err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return c, nil
}

// GetByID returns one chat.
func (s *ChatStore) GetByID(ctx context.Context, id string) (Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, create_time, extra, use_default_title
		FROM chat WHERE id = ?`, id)
	return scanChat(row)
}

// ListLatest returns one page of chats, most recently created first.
func (s *ChatStore) ListLatest(ctx context.Context, offset, limit int) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, create_time, extra, use_default_title
		FROM chat ORDER BY create_time DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SetTitle renames a chat and pins the title against default regeneration.
func (s *ChatStore) SetTitle(ctx context.Context, id, title string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat SET title = ?, use_default_title = 0 WHERE id = ?`, title, id); err != nil {
		return fmt.Errorf("set chat title: %w", err)
	}
	return nil
}

// UpdateSummary implements chat.SummaryUpdater, refreshing the last-message
// preview on the chat row.
func (s *ChatStore) UpdateSummary(ctx context.Context, chatID string, summary chat.Summary) error {
	extra, err := json.Marshal(ChatExtra{
		LastMessageRole: summary.LastRole,
		LastMessageText: summary.LastText,
	})
	if err != nil {
		return fmt.Errorf("serialize chat extra: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat SET extra = ? WHERE id = ?`, string(extra), chatID); err != nil {
		return fmt.Errorf("update chat summary: %w", err)
	}
	return nil
}

// Delete removes a chat record.
func (s *ChatStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (Chat, error) {
	var (
		c      Chat
		millis int64
		extra  sql.NullString
		defTtl int
	)
	if err := row.Scan(&c.ID, &c.Title, &millis, &extra, &defTtl); err != nil {
		if err == sql.ErrNoRows {
			return Chat{}, err
		}
		return Chat{}, fmt.Errorf("scan chat: %w", err)
	}
	c.CreateTime = time.UnixMilli(millis)
	c.UseDefaultTitle = defTtl != 0
	if extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &c.Extra); err != nil {
			c.Extra = ChatExtra{}
		}
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
