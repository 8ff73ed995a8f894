package chat

import "sort"

// MessageStore holds the messages of the open conversation. Ids are unique;
// slice order is insertion order only. Render order comes from Sorted.
type MessageStore struct {
	items   []Message
	ids     map[string]struct{}
	page    int
	hasMore bool
	loading bool
}

func newMessageStore() *MessageStore {
	s := &MessageStore{}
	s.Reset()
	return s
}

// Reset empties the store and rewinds the cursor to (1, true).
func (s *MessageStore) Reset() {
	s.items = nil
	s.ids = make(map[string]struct{})
	s.page = 1
	s.hasMore = true
	s.loading = false
}

// Replace swaps the contents wholesale. Duplicate ids in msgs keep the first.
func (s *MessageStore) Replace(msgs []Message) {
	s.items = make([]Message, 0, len(msgs))
	s.ids = make(map[string]struct{}, len(msgs))
	s.AppendNew(msgs)
}

// AppendNew appends the messages whose id is not yet present and returns how
// many were added.
func (s *MessageStore) AppendNew(msgs []Message) int {
	added := 0
	for _, m := range msgs {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.items = append(s.items, m)
		added++
	}
	return added
}

// Prepend inserts m at the front unless its id is already present.
func (s *MessageStore) Prepend(m Message) bool {
	if _, ok := s.ids[m.ID]; ok {
		return false
	}
	s.ids[m.ID] = struct{}{}
	s.items = append([]Message{m}, s.items...)
	return true
}

// Update applies fn to the message with the given id.
func (s *MessageStore) Update(id string, fn func(*Message)) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	for i := range s.items {
		if s.items[i].ID == id {
			fn(&s.items[i])
			return true
		}
	}
	return false
}

func (s *MessageStore) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *MessageStore) Len() int {
	return len(s.items)
}

// Items returns a copy in insertion order.
func (s *MessageStore) Items() []Message {
	return append([]Message(nil), s.items...)
}

// Sorted returns a copy ordered oldest first. Equal timestamps fall back to id
// so the order is deterministic.
func (s *MessageStore) Sorted() []Message {
	out := s.Items()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt.Time, out[j].CreatedAt.Time
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
