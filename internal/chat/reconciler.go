package chat

import (
	"encoding/json"

	"github.com/matheus3301/fieldchat/internal/bus"
	"go.uber.org/zap"
)

// Bus payloads published by the session.

// MessagesChanged carries the messages that were added or modified. Reset
// means the store was cleared or replaced and Messages is its full content.
type MessagesChanged struct {
	ConversationID string
	Messages       []Message
	Reset          bool
}

type ChatListChanged struct {
	Chats []Conversation
}

type TypingChanged struct {
	UserID string // empty when cleared
}

type ConversationOpened struct {
	ConversationID string // empty while a fetch-or-create is outstanding
	Counterpart    string
}

// HandleEvent applies one inbound server event. Unknown names and malformed
// payloads are logged and ignored.
func (s *Session) HandleEvent(name string, raw json.RawMessage) {
	class := classify(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	log := s.logger.With(zap.String("event", name), zap.Stringer("class", class))

	switch class {
	case classChatList:
		s.onChatList(log, raw)
	case classHistoryPage:
		s.onHistoryPage(log, raw)
	case classMessageBatch:
		s.onMessageBatch(log, raw)
	case classNewMessage:
		s.onLiveMessage(log, raw, true)
	case classSentEcho:
		s.onLiveMessage(log, raw, false)
	case classSeen:
		s.onSeen(log, raw)
	case classDeleted:
		s.onDeleted(log, raw)
	case classTyping:
		s.onTyping(raw)
	case classStopTyping:
		s.setTyping("")
	case classChatCreated:
		s.onChatCreated(log, raw)
	case classChatFoundOrCreated:
		s.onChatFoundOrCreated(log, raw)
	case classLifecycle:
		log.Debug("transport lifecycle", zap.ByteString("payload", raw))
	default:
		log.Debug("unhandled event")
	}
}

func (s *Session) onChatList(log *zap.Logger, raw json.RawMessage) {
	chats, ok := parseChatList(raw)
	if !ok {
		log.Warn("chat list payload is not a list")
		return
	}
	s.chats.Replace(chats)
	if s.openID != "" && s.counterpart == "" {
		if c, found := s.chats.Get(s.openID); found {
			s.counterpart = c.Counterpart(s.userID)
		}
	}
	s.publishChats()
}

// onHistoryPage applies one page of the open conversation. A page is a load
// more when either the payload or the local cursor says page > 1; the two can
// disagree across aliases.
func (s *Session) onHistoryPage(log *zap.Logger, raw json.RawMessage) {
	p, ok := parseHistory(raw)
	if !ok {
		log.Warn("history payload has no message list")
		return
	}
	if s.isStale(log, p) {
		return
	}
	if p.Page > 1 || s.messages.page > 1 {
		added := s.messages.AppendNew(p.Messages)
		log.Debug("history page appended", zap.Int("page", p.Page), zap.Int("added", added))
		s.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: s.openID, Messages: p.Messages})
	} else {
		s.replaceFirstPage(p.Messages)
	}
	// Page length is the only signal: an exact final page of PageSize costs
	// one extra empty fetch.
	s.messages.hasMore = p.Count >= PageSize
	s.messages.loading = false
	s.answered = true
}

// onMessageBatch is the lower-priority fallback for the first page.
func (s *Session) onMessageBatch(log *zap.Logger, raw json.RawMessage) {
	p, ok := parseHistory(raw)
	if !ok {
		log.Debug("message batch is not a list")
		return
	}
	if s.answered || s.messages.page > 1 {
		log.Debug("message batch superseded by history page")
		return
	}
	if s.isStale(log, p) {
		return
	}
	s.replaceFirstPage(p.Messages)
	s.messages.hasMore = p.Count >= PageSize
	s.messages.loading = false
	s.answered = true
}

// replaceFirstPage replaces the store with a first page. Live messages that
// arrived after the fetch was issued are carried over, so a page answering an
// older request cannot hide them.
func (s *Session) replaceFirstPage(msgs []Message) {
	var keep []Message
	for _, m := range s.messages.Items() {
		if _, ok := s.liveIDs[m.ID]; ok {
			keep = append(keep, m)
		}
	}
	s.messages.Replace(msgs)
	s.messages.AppendNew(keep)
	s.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: s.openID, Messages: s.messages.Items(), Reset: true})
}

// isStale reports whether a history response does not belong to the latest
// fetch. The request token decides when present, else the conversation id.
func (s *Session) isStale(log *zap.Logger, p historyPayload) bool {
	if s.openID == "" {
		log.Debug("history response with no open conversation")
		return true
	}
	if p.RequestID != 0 {
		if p.RequestID != s.lastRequest.RequestID {
			log.Debug("dropping stale history response",
				zap.Int64("request_id", p.RequestID),
				zap.Int64("latest_request_id", s.lastRequest.RequestID),
			)
			return true
		}
		return false
	}
	if p.ChatID != "" && p.ChatID != s.openID {
		log.Debug("dropping history response for another conversation",
			zap.String("chat_id", p.ChatID),
			zap.String("open_chat_id", s.openID),
		)
		return true
	}
	return false
}

// onLiveMessage handles receive_message (incoming) and message_sent (echo).
func (s *Session) onLiveMessage(log *zap.Logger, raw json.RawMessage, incoming bool) {
	m, ok := parseMessage(raw)
	if !ok {
		log.Warn("message payload without id")
		return
	}
	inOpen := s.belongsToOpen(m)
	inserted := false
	if inOpen {
		inserted = s.messages.Prepend(m)
		if inserted {
			s.liveIDs[m.ID] = struct{}{}
			s.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: m.Chat.ID, Messages: []Message{m}})
		}
	}

	bumpUnread := incoming && !inOpen && m.Sender.ID != s.userID
	if s.chats.ApplyMessage(m, bumpUnread) {
		s.publishChats()
	} else if m.Chat.ID != "" {
		log.Debug("message for unknown conversation, refreshing chat list", zap.String("chat_id", m.Chat.ID))
		s.emit(EmitFetchAllChats, map[string]any{"userId": s.userID})
	}

	if incoming && inserted && m.Sender.ID != s.userID {
		s.emit(EmitMarkSeen, map[string]any{"messageId": m.ID})
	}
}

// belongsToOpen decides whether a live message goes into the Message Store.
// With no conversation open, only messages exchanged with the pending
// counterpart qualify.
func (s *Session) belongsToOpen(m Message) bool {
	if s.openID != "" {
		return m.Chat.ID == s.openID
	}
	if s.counterpart == "" {
		return true
	}
	return m.Sender.ID == s.userID || m.Sender.ID == s.counterpart
}

func (s *Session) onSeen(log *zap.Logger, raw json.RawMessage) {
	id := receiptID(raw)
	if id == "" {
		log.Debug("seen receipt without id")
		return
	}
	var changed Message
	ok := s.messages.Update(id, func(m *Message) {
		if m.Status == StatusSent {
			m.Status = StatusSeen
		}
		changed = *m
	})
	if ok {
		s.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: s.openID, Messages: []Message{changed}})
	}
}

func (s *Session) onDeleted(log *zap.Logger, raw json.RawMessage) {
	id := receiptID(raw)
	if id == "" {
		log.Debug("delete receipt without id")
		return
	}
	var changed Message
	ok := s.messages.Update(id, func(m *Message) {
		m.Content = DeletedPlaceholder
		m.Status = StatusDeleted
		changed = *m
	})
	if ok {
		s.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: s.openID, Messages: []Message{changed}})
	}
	if s.chats.ApplyDeleted(id) {
		s.publishChats()
	}
}

func (s *Session) onTyping(raw json.RawMessage) {
	sender, chatID := parseTyping(raw)
	if sender == "" || sender == s.userID {
		return
	}
	if chatID != "" && s.openID != "" && chatID != s.openID {
		return
	}
	s.setTyping(sender)
}

func (s *Session) setTyping(userID string) {
	if s.typing == userID {
		return
	}
	s.typing = userID
	s.bus.Emit(bus.KindTypingChanged, TypingChanged{UserID: userID})
}

// onChatCreated adopts the new conversation when none is open. The store is
// kept: it may already hold the echo of the message that created the chat.
func (s *Session) onChatCreated(log *zap.Logger, raw json.RawMessage) {
	p, ok := parseConversation(raw)
	if !ok {
		log.Warn("chat_created payload without id")
		return
	}
	if s.openID == "" {
		s.openID = p.Conversation.ID
		s.awaitingChat = false
		if s.counterpart == "" {
			s.counterpart = p.Conversation.Counterpart(s.userID)
		}
		log.Info("adopted new conversation", zap.String("chat_id", s.openID))
		s.bus.Emit(bus.KindConversationOpened, ConversationOpened{ConversationID: s.openID, Counterpart: s.counterpart})
	}
	s.emit(EmitFetchAllChats, map[string]any{"userId": s.userID})
}

func (s *Session) onChatFoundOrCreated(log *zap.Logger, raw json.RawMessage) {
	p, ok := parseConversation(raw)
	if !ok {
		log.Warn("chat_found_or_created payload without id")
		return
	}
	counterpart := p.Conversation.Counterpart(s.userID)
	if counterpart == "" {
		counterpart = s.counterpart
	}
	s.switchConversation(p.Conversation.ID, counterpart)
	s.awaitingChat = false
	if p.HasMessages {
		s.replaceFirstPage(p.Messages)
		s.messages.hasMore = p.Count >= PageSize
		s.answered = true
		return
	}
	s.requestPage(EmitFetchChat, 1)
}

func (s *Session) publishChats() {
	s.bus.Emit(bus.KindChatListChanged, ChatListChanged{Chats: s.chats.Items()})
}

// receiptID extracts the message id from a seen or deleted receipt.
func receiptID(raw json.RawMessage) string {
	if m, ok := parseMessage(raw); ok {
		return m.ID
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	return ""
}
