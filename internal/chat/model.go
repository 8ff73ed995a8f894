package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// PageSize is the number of messages per history page. Fixed, not negotiated.
const PageSize = 20

// DeletedPlaceholder replaces the content of a message once the server
// reports it deleted.
const DeletedPlaceholder = "This message was deleted"

// Status is the delivery state of a message. It only moves forward:
// sent → seen or sent → deleted.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSeen    Status = "seen"
	StatusDeleted Status = "deleted"
)

// Ref is a reference to a server entity (user or conversation). The server
// sends references either as a bare id string or as a populated object.
type Ref struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		var id flexID
		if err := id.UnmarshalJSON(b); err != nil {
			return err
		}
		*r = Ref{ID: string(id)}
		return nil
	}
	var obj struct {
		MongoID  flexID `json:"_id"`
		ID       flexID `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"fullName"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = Ref{ID: firstNonEmpty(string(obj.MongoID), string(obj.ID)), Name: firstNonEmpty(obj.Name, obj.FullName, obj.Username)}
	return nil
}

// flexID accepts an id sent as a JSON string or number. Anything else
// decodes as no id.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = ""
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			*f = flexID(n.String())
		}
	}
	return nil
}

// Timestamp decodes ISO-8601 strings (with or without zone, "T" or space
// separated) or epoch milliseconds as a number or numeric string. Values it
// cannot read decode as the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	t.Time = time.Time{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	text := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &text); err != nil {
			return nil
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, text); err == nil {
				t.Time = parsed
				return nil
			}
		}
	}
	if ms, err := strconv.ParseFloat(text, 64); err == nil {
		t.Time = time.UnixMilli(int64(ms))
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Message is one chat message as held in the Message Store.
type Message struct {
	ID        string    `json:"_id"`
	Chat      Ref       `json:"chat"`
	Sender    Ref       `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
	Status    Status    `json:"status"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var raw struct {
		plain
		// Shadows plain.ID so numeric ids decode.
		MongoID   flexID `json:"_id"`
		AltID     flexID `json:"id"`
		ChatID    flexID `json:"chatId"`
		SenderID  flexID `json:"senderId"`
		MessageID flexID `json:"messageId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	m.ID = firstNonEmpty(string(raw.MongoID), string(raw.AltID), string(raw.MessageID))
	if m.Chat.ID == "" {
		m.Chat.ID = string(raw.ChatID)
	}
	if m.Sender.ID == "" {
		m.Sender.ID = string(raw.SenderID)
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	return nil
}

// Conversation is one entry of the Chat List Store. LastMessage is a
// denormalized snapshot used for list rendering.
type Conversation struct {
	ID           string   `json:"_id"`
	Participants []Ref    `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
}

func (c *Conversation) UnmarshalJSON(b []byte) error {
	type plain Conversation
	var raw struct {
		plain
		MongoID flexID `json:"_id"`
		AltID   flexID `json:"id"`
		ChatID  flexID `json:"chatId"`
		Members []Ref  `json:"members"`
		Unread  *int   `json:"unread"`
		// Shadows plain.LastMessage: unpopulated servers send a bare id.
		LastMessage json.RawMessage `json:"lastMessage"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Conversation(raw.plain)
	c.LastMessage = decodeLastMessage(raw.LastMessage)
	c.ID = firstNonEmpty(string(raw.MongoID), string(raw.AltID), string(raw.ChatID))
	if len(c.Participants) == 0 {
		c.Participants = raw.Members
	}
	if c.UnreadCount == 0 && raw.Unread != nil {
		c.UnreadCount = *raw.Unread
	}
	return nil
}

func decodeLastMessage(raw json.RawMessage) *Message {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil || id == "" {
			return nil
		}
		return &Message{ID: id, Status: StatusSent}
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return &m
}

// Counterpart returns the first participant that is not self.
func (c Conversation) Counterpart(self string) string {
	for _, p := range c.Participants {
		if p.ID != "" && p.ID != self {
			return p.ID
		}
	}
	return ""
}

func (c Conversation) clone() Conversation {
	out := c
	out.Participants = append([]Ref(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
