package chat

// ChatList is the set of conversations visible to the user, most recently
// active first.
type ChatList struct {
	items []Conversation
}

// Replace swaps the list wholesale.
func (l *ChatList) Replace(cs []Conversation) {
	l.items = make([]Conversation, 0, len(cs))
	for _, c := range cs {
		l.items = append(l.items, c.clone())
	}
}

// ApplyMessage patches the conversation m belongs to with m as its last
// message and moves it to the front. When bumpUnread is set the unread
// counter is incremented. Returns false if the conversation is unknown.
func (l *ChatList) ApplyMessage(m Message, bumpUnread bool) bool {
	idx := l.index(m.Chat.ID)
	if idx < 0 {
		return false
	}
	c := l.items[idx]
	if c.LastMessage != nil && c.LastMessage.ID == m.ID {
		// Already reflected.
		return true
	}
	lm := m
	c.LastMessage = &lm
	if bumpUnread {
		c.UnreadCount++
	}
	copy(l.items[1:idx+1], l.items[:idx])
	l.items[0] = c
	return true
}

// ApplyDeleted rewrites the last-message snapshot if it is the deleted one.
func (l *ChatList) ApplyDeleted(messageID string) bool {
	for i := range l.items {
		lm := l.items[i].LastMessage
		if lm != nil && lm.ID == messageID {
			lm.Content = DeletedPlaceholder
			lm.Status = StatusDeleted
			return true
		}
	}
	return false
}

func (l *ChatList) Get(id string) (Conversation, bool) {
	idx := l.index(id)
	if idx < 0 {
		return Conversation{}, false
	}
	return l.items[idx].clone(), true
}

// Items returns a copy of the list.
func (l *ChatList) Items() []Conversation {
	out := make([]Conversation, 0, len(l.items))
	for _, c := range l.items {
		out = append(out, c.clone())
	}
	return out
}

func (l *ChatList) Len() int {
	return len(l.items)
}

func (l *ChatList) index(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range l.items {
		if c.ID == id {
			return i
		}
	}
	return -1
}
