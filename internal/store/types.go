package store

// Chat is a cached conversation.
type Chat struct {
	ID                 string
	CounterpartID      string
	CounterpartName    string // resolved from participants
	UnreadCount        int
	LastMessageID      string
	LastMessageAt      int64 // unix millis
	LastMessagePreview string
}

// Participant is a user seen in a conversation.
type Participant struct {
	ChatID string
	UserID string
	Name   string
}

// Message is a cached message.
type Message struct {
	ID         int64
	MsgID      string
	ChatID     string
	SenderID   string
	SenderName string // resolved from participants
	Body       string
	Status     string
	FromMe     bool
	Timestamp  int64 // unix millis
}

// SearchResult holds a message with a highlighted snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
