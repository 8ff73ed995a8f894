package bus

import "time"

// Event kinds published by the daemon.
const (
	KindConnStatusChanged  = "conn.status_changed"
	KindMessagesChanged    = "chat.messages_changed"
	KindChatListChanged    = "chat.list_changed"
	KindTypingChanged      = "chat.typing_changed"
	KindConversationOpened = "chat.conversation_opened"
	KindCacheUpdated       = "cache.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
