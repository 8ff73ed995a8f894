package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Inbound payloads are coerced rather than rejected: the server is known to
// send the same logical payload under several shapes.

// historyPayload is a decoded history page or message batch.
type historyPayload struct {
	Messages  []Message
	Count     int // list length before dropping unusable entries
	Page      int
	ChatID    string
	RequestID int64
}

// parseHistory accepts a bare list of messages or an object carrying one
// under "messages". ok is false when no list could be found.
func parseHistory(raw json.RawMessage) (historyPayload, bool) {
	var p historyPayload
	if isJSONArray(raw) {
		msgs, n := decodeMessages(raw)
		p.Messages, p.Count = msgs, n
		p.ChatID = chatIDFromMessages(msgs)
		return p, true
	}

	var obj struct {
		Messages  json.RawMessage `json:"messages"`
		Page      flexInt         `json:"page"`
		ChatID    string          `json:"chatId"`
		ChatIDAlt string          `json:"chat_id"`
		Chat      Ref             `json:"chat"`
		RequestID flexInt         `json:"requestId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || !isJSONArray(obj.Messages) {
		return p, false
	}
	p.Messages, p.Count = decodeMessages(obj.Messages)
	p.Page = int(obj.Page)
	p.RequestID = int64(obj.RequestID)
	p.ChatID = firstNonEmpty(obj.ChatID, obj.ChatIDAlt, obj.Chat.ID, chatIDFromMessages(p.Messages))
	return p, true
}

// parseChatList accepts a bare list of conversations or {"chats": [...]}.
func parseChatList(raw json.RawMessage) ([]Conversation, bool) {
	list := raw
	if !isJSONArray(list) {
		var obj struct {
			Chats json.RawMessage `json:"chats"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || !isJSONArray(obj.Chats) {
			return nil, false
		}
		list = obj.Chats
	}
	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, false
	}
	out := make([]Conversation, 0, len(items))
	for _, item := range items {
		var c Conversation
		if err := json.Unmarshal(item, &c); err != nil || c.ID == "" {
			continue
		}
		out = append(out, c)
	}
	return out, true
}

// parseMessage decodes a single message object. Messages without an id are
// unusable because the store de-duplicates by id.
func parseMessage(raw json.RawMessage) (Message, bool) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
		return Message{}, false
	}
	return m, true
}

// conversationPayload is a conversation object that may embed its first page.
type conversationPayload struct {
	Conversation Conversation
	Messages     []Message
	Count        int
	HasMessages  bool
}

func parseConversation(raw json.RawMessage) (conversationPayload, bool) {
	var p conversationPayload
	if err := json.Unmarshal(raw, &p.Conversation); err != nil {
		return p, false
	}
	var obj struct {
		Messages json.RawMessage `json:"messages"`
		Chat     json.RawMessage `json:"chat"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return p, false
	}
	// Some server builds wrap the conversation: {chat: {...}, messages: [...]}.
	if p.Conversation.ID == "" && len(obj.Chat) > 0 && !bytes.Equal(obj.Chat, []byte("null")) {
		var inner Conversation
		if err := json.Unmarshal(obj.Chat, &inner); err == nil {
			p.Conversation = inner
		}
	}
	if p.Conversation.ID == "" {
		return p, false
	}
	if isJSONArray(obj.Messages) {
		p.Messages, p.Count = decodeMessages(obj.Messages)
		p.HasMessages = true
	}
	return p, true
}

// parseTyping extracts the typer and, when present, the conversation id.
func parseTyping(raw json.RawMessage) (senderID, chatID string) {
	var obj struct {
		SenderID string `json:"senderId"`
		Sender   Ref    `json:"sender"`
		ChatID   string `json:"chatId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", ""
	}
	return firstNonEmpty(obj.SenderID, obj.Sender.ID), obj.ChatID
}

func decodeMessages(raw json.RawMessage) ([]Message, int) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		if m, ok := parseMessage(item); ok {
			out = append(out, m)
		}
	}
	return out, len(items)
}

func chatIDFromMessages(msgs []Message) string {
	for _, m := range msgs {
		if m.Chat.ID != "" {
			return m.Chat.ID
		}
	}
	return ""
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}
