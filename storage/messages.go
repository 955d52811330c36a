package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatloop/message"
)

// MessageStore persists chat messages.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates the store and its schema.
func NewMessageStore(d *DB) (*MessageStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_message (
		id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		type TEXT NOT NULL,
		search_term VARCHAR(8192),
		content TEXT,
		time INTEGER,
		extra TEXT,
		PRIMARY KEY (id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_message_chat_id ON chat_message(chat_id);
	CREATE INDEX IF NOT EXISTS idx_chat_message_role ON chat_message(role);
	CREATE INDEX IF NOT EXISTS idx_chat_message_search_term ON chat_message(search_term);
	CREATE INDEX IF NOT EXISTS idx_chat_message_type ON chat_message(type);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create chat_message schema: %w", err)
	}
	return &MessageStore{db: d.db}, nil
}

// messageContent is the JSON shape of the content column, keyed by message
// type.
type messageContent struct {
	Text   string   `json:"text,omitempty"`
	Buffer []string `json:"buffer,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// Insert writes a batch in one transaction.
func (s *MessageStore) Insert(ctx context.Context, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_message (id, chat_id, role, type, search_term, content, time, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		content, err := json.Marshal(messageContent{
			Text:   msg.Text,
			Buffer: msg.Buffer,
			Reason: msg.Reason,
		})
		if err != nil {
			return fmt.Errorf("serialize message %s: %w", msg.ID, err)
		}
		extra, err := json.Marshal(msg.Extra)
		if err != nil {
			return fmt.Errorf("serialize message extra %s: %w", msg.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			msg.ID, msg.ChatID, string(msg.Role), string(msg.Type),
			msg.SearchTerm, string(content), msg.Time.UnixMilli(), string(extra),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}

	return tx.Commit()
}

// GetByChatID returns one page ordered newest first. Later-inserted rows of
// the same millisecond sort first.
func (s *MessageStore) GetByChatID(ctx context.Context, chatID string, offset, limit int) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, type, search_term, content, time, extra
		FROM chat_message WHERE chat_id = ?
		ORDER BY time DESC, rowid DESC LIMIT ? OFFSET ?`,
		chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// GetByID returns one message.
func (s *MessageStore) GetByID(ctx context.Context, id string) (message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, type, search_term, content, time, extra
		FROM chat_message WHERE id = ?`, id)
	if err != nil {
		return message.Message{}, fmt.Errorf("query message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return message.Message{}, err
		}
		return message.Message{}, sql.ErrNoRows
	}
	return scanMessage(rows)
}

// CountByChatID returns the total number of recorded messages for a chat.
func (s *MessageStore) CountByChatID(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_message WHERE chat_id = ?`, chatID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Delete removes the identified messages.
func (s *MessageStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM chat_message WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// DeleteByChatID removes every message of a chat.
func (s *MessageStore) DeleteByChatID(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_message WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	return nil
}

// scanMessage decodes one row. A row whose content column fails to decode
// becomes an error message carrying the fault, so one bad record does not
// hide the rest of the page.
func scanMessage(rows *sql.Rows) (message.Message, error) {
	var (
		msg        message.Message
		role, typ  string
		searchTerm sql.NullString
		content    sql.NullString
		millis     int64
		extra      sql.NullString
	)
	if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &typ, &searchTerm, &content, &millis, &extra); err != nil {
		return message.Message{}, fmt.Errorf("scan message: %w", err)
	}
	msg.Role = message.Role(role)
	msg.Type = message.Type(typ)
	msg.SearchTerm = searchTerm.String
	msg.Time = time.UnixMilli(millis)

	var body messageContent
	if err := json.Unmarshal([]byte(content.String), &body); err != nil {
		msg.Type = message.TypeError
		msg.Reason = fmt.Sprintf("malformed message record: %v", err)
		return msg, nil
	}
	msg.Text = body.Text
	msg.Buffer = body.Buffer
	msg.Reason = body.Reason

	if extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &msg.Extra); err != nil {
			msg.Extra = message.Extra{}
		}
	}
	return msg, nil
}
