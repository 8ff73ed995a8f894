package store

import (
	"fmt"
	"time"
)

// Status only moves forward, so a late "sent" never overwrites "seen" or
// "deleted".
const upsertMessageSQL = `
	INSERT INTO messages (msg_id, chat_id, sender_id, body, status, from_me, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(msg_id) DO UPDATE SET
		chat_id = CASE WHEN excluded.chat_id != '' THEN excluded.chat_id ELSE messages.chat_id END,
		body = CASE WHEN messages.status = 'deleted' THEN messages.body ELSE excluded.body END,
		status = CASE
			WHEN messages.status = 'deleted' THEN messages.status
			WHEN messages.status = 'seen' AND excluded.status = 'sent' THEN messages.status
			ELSE excluded.status END,
		timestamp = CASE WHEN excluded.timestamp > 0 THEN excluded.timestamp ELSE messages.timestamp END`

// UpsertMessage inserts or updates a message (idempotent on msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.MsgID, m.ChatID, m.SenderID, m.Body, m.Status, m.FromMe, m.Timestamp, time.Now().UnixMilli())
	return err
}

// UpsertMessages writes a batch of messages in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			m.MsgID, m.ChatID, m.SenderID, m.Body, m.Status, m.FromMe, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT m.id, m.msg_id, m.chat_id, m.sender_id, COALESCE(NULLIF(p.name,''), m.sender_id),
			m.body, m.status, m.from_me, m.timestamp
		FROM messages m
		LEFT JOIN participants p ON p.chat_id = m.chat_id AND p.user_id = m.sender_id
		WHERE m.chat_id = ? AND m.timestamp < ?
		ORDER BY m.timestamp DESC, m.msg_id DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.ChatID, &m.SenderID, &m.SenderName,
			&m.Body, &m.Status, &m.FromMe, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
