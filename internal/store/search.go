package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages does a case-insensitive substring search on message bodies,
// newest first. Deleted messages are excluded.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.msg_id, m.chat_id, m.sender_id, COALESCE(NULLIF(p.name,''), m.sender_id),
		       m.body, m.status, m.from_me, m.timestamp
		FROM messages m
		LEFT JOIN participants p ON p.chat_id = m.chat_id AND p.user_id = m.sender_id
		WHERE m.body LIKE ? ESCAPE '\' AND m.status != 'deleted'`

	args := []any{"%" + escapeLike(query) + "%"}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.MsgID, &r.Message.ChatID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.Body,
			&r.Message.Status, &r.Message.FromMe, &r.Message.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Snippet = snippet(r.Message.Body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match with << >> and trims the body around it.
func snippet(body, query string) string {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 || query == "" || len(strings.ToLower(body)) != len(body) {
		return body
	}
	end := idx + len(query)
	start := max(0, idx-snippetRadius)
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	stop := min(len(body), end+snippetRadius)
	for stop < len(body) && !utf8.RuneStart(body[stop]) {
		stop++
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(body[start:idx])
	b.WriteString("<<")
	b.WriteString(body[idx:end])
	b.WriteString(">>")
	b.WriteString(body[end:stop])
	if stop < len(body) {
		b.WriteString("...")
	}
	return b.String()
}
