package store

import (
	"fmt"
	"time"
)

const upsertParticipantSQL = `
	INSERT INTO participants (chat_id, user_id, name, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(chat_id, user_id) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE participants.name END,
		updated_at = excluded.updated_at`

// UpsertParticipants inserts or updates participants in a single transaction.
// An empty name never clears a known one.
func (db *DB) UpsertParticipants(ps []Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, p := range ps {
		if p.ChatID == "" || p.UserID == "" {
			continue
		}
		if _, err := tx.Exec(upsertParticipantSQL, p.ChatID, p.UserID, p.Name, now); err != nil {
			return fmt.Errorf("upsert participant %q: %w", p.UserID, err)
		}
	}
	return tx.Commit()
}

// ListParticipants returns the participants of a chat ordered by user id.
func (db *DB) ListParticipants(chatID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT chat_id, user_id, name FROM participants
		WHERE chat_id = ?
		ORDER BY user_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ps []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.Name); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}
