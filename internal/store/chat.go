package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertChatSQL = `
	INSERT INTO chats (id, counterpart_id, unread_count, last_message_id, last_message_at, last_message_preview, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		counterpart_id = CASE WHEN excluded.counterpart_id != '' THEN excluded.counterpart_id ELSE chats.counterpart_id END,
		unread_count = excluded.unread_count,
		last_message_id = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_id ELSE chats.last_message_id END,
		last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
		last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
		updated_at = excluded.updated_at`

// UpsertChat inserts or updates a chat record. An older last message never
// replaces a newer one.
func (db *DB) UpsertChat(c *Chat) error {
	_, err := db.Exec(upsertChatSQL,
		c.ID, c.CounterpartID, c.UnreadCount, c.LastMessageID, c.LastMessageAt, c.LastMessagePreview, time.Now().UnixMilli())
	return err
}

// UpsertChats writes a full chat list in one transaction.
func (db *DB) UpsertChats(chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range chats {
		if _, err := tx.Exec(upsertChatSQL,
			c.ID, c.CounterpartID, c.UnreadCount, c.LastMessageID, c.LastMessageAt, c.LastMessagePreview, now); err != nil {
			return fmt.Errorf("upsert chat %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListChats returns chats sorted by last message timestamp descending.
// The counterpart name falls back to the counterpart id.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, c.counterpart_id,
			COALESCE(NULLIF(p.name,''), c.counterpart_id) AS counterpart_name,
			c.unread_count, c.last_message_id, c.last_message_at, c.last_message_preview
		FROM chats c
		LEFT JOIN participants p ON p.chat_id = c.id AND p.user_id = c.counterpart_id
		ORDER BY c.last_message_at DESC, c.id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.CounterpartID, &c.CounterpartName, &c.UnreadCount,
			&c.LastMessageID, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if it is not cached.
func (db *DB) GetChat(id string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT c.id, c.counterpart_id,
			COALESCE(NULLIF(p.name,''), c.counterpart_id) AS counterpart_name,
			c.unread_count, c.last_message_id, c.last_message_at, c.last_message_preview
		FROM chats c
		LEFT JOIN participants p ON p.chat_id = c.id AND p.user_id = c.counterpart_id
		WHERE c.id = ?`, id).
		Scan(&c.ID, &c.CounterpartID, &c.CounterpartName, &c.UnreadCount,
			&c.LastMessageID, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
