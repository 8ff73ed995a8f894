package chat

import (
	"errors"
	"sync"

	"github.com/matheus3301/fieldchat/internal/bus"
	"github.com/matheus3301/fieldchat/internal/logging"
	"github.com/matheus3301/fieldchat/internal/socketio"
	"go.uber.org/zap"
)

// Emitter sends one named event to the server. Implementations must not block
// on the network.
type Emitter interface {
	Emit(event string, payload any) error
}

var (
	ErrNoTarget  = errors.New("no conversation or counterpart given")
	ErrNoContent = errors.New("empty message content")
	ErrClosed    = errors.New("session closed")
)

// Session is the state of one signed-in user: connection readiness, the open
// conversation, the stores and the pending fetch. Inbound events, connection
// callbacks and commands are serialized by mu, so each runs to completion
// before the next starts.
type Session struct {
	userID string
	out    Emitter
	bus    *bus.Bus
	logger *zap.Logger

	mu          sync.Mutex
	connected   bool
	closed      bool
	openID      string
	counterpart string
	// awaitingChat is set while a fetch-or-create has not been answered.
	awaitingChat bool
	messages     *MessageStore
	chats        ChatList
	typing       string
	pending      pendingFetch

	nextRequestID int64
	// lastRequest is the most recent history fetch issued, sent or deferred.
	lastRequest fetchRequest
	// answered is set once a history page for lastRequest has been applied.
	answered bool
	// liveIDs are the live messages inserted since lastRequest was issued.
	liveIDs map[string]struct{}
}

// NewSession creates a disconnected session for userID.
func NewSession(userID string, out Emitter, b *bus.Bus, logger *zap.Logger) *Session {
	logger = logging.OrNop(logger)
	return &Session{
		userID:   userID,
		out:      out,
		bus:      b,
		logger:   logger.With(zap.String("user_id", userID)),
		messages: newMessageStore(),
		liveIDs:  make(map[string]struct{}),
	}
}

// UserID returns the identity this session is bound to.
func (s *Session) UserID() string {
	return s.userID
}

// Ready reports whether commands are sent immediately.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// HandleConnect runs the on-connect sequence: announce identity, refresh the
// chat list, recover the open conversation and replay the pending fetch.
func (s *Session) HandleConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.connected = true
	s.logger.Info("connected")

	s.emit(EmitSetup, s.userID)
	s.emit(EmitFetchAllChats, map[string]any{"userId": s.userID})

	pending, hasPending := s.pending.Take()
	if s.openID != "" {
		if !hasPending || pending.ConversationID != s.openID || pending.Page != 1 {
			s.messages.page, s.messages.hasMore = 1, true
			s.requestPage(EmitFetchChat, 1)
		}
	} else if s.awaitingChat && s.counterpart != "" {
		s.emit(EmitFetchOrCreate, map[string]any{"senderId": s.userID, "receiverId": s.counterpart})
	}
	if hasPending {
		s.logger.Debug("replaying pending fetch",
			zap.String("chat_id", pending.ConversationID),
			zap.Int("page", pending.Page),
			zap.Int64("request_id", pending.RequestID),
		)
		s.sendFetch(pending)
	}
}

// HandleDisconnect records the drop. Store contents are kept.
func (s *Session) HandleDisconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	s.logger.Warn("disconnected", zap.String("reason", reason))
}

// Close makes the session terminal. Later events and commands are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
}

// OpenConversation switches to conversationID and requests its first page.
// With no id but a counterpart it delegates to FetchOrCreateConversation.
func (s *Session) OpenConversation(conversationID, counterpartID string) error {
	if conversationID == "" {
		if counterpartID == "" {
			return ErrNoTarget
		}
		return s.FetchOrCreateConversation(counterpartID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.switchConversation(conversationID, counterpartID)
	s.awaitingChat = false
	s.requestPage(EmitFetchChat, 1)
	return nil
}

// FetchOrCreateConversation clears the open conversation and asks the server
// for the conversation with counterpartID. The id arrives later as
// chat_found_or_created.
func (s *Session) FetchOrCreateConversation(counterpartID string) error {
	if counterpartID == "" {
		return ErrNoTarget
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.switchConversation("", counterpartID)
	s.awaitingChat = true
	s.emit(EmitFetchOrCreate, map[string]any{"senderId": s.userID, "receiverId": counterpartID})
	return nil
}

// LoadMoreMessages requests the next page of the open conversation. It
// reports whether a request was issued.
func (s *Session) LoadMoreMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.openID == "" || !s.messages.hasMore || s.messages.loading {
		return false
	}
	s.messages.page++
	s.requestPage(EmitChatHistory, s.messages.page)
	return true
}

// SendMessage emits a send request. Nothing is added locally; the server echo
// populates the stores. While disconnected the message is dropped.
func (s *Session) SendMessage(counterpartID, content string, isNew bool) error {
	if content == "" {
		return ErrNoContent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if counterpartID == "" {
		counterpartID = s.counterpart
	}
	if counterpartID == "" {
		return ErrNoTarget
	}
	if s.openID == "" {
		s.counterpart = counterpartID
	}
	s.logger.Debug("send message", zap.String("receiver_id", counterpartID), zap.Bool("new_chat", isNew))
	s.emit(EmitSendMessage, map[string]any{
		"senderId":   s.userID,
		"receiverId": counterpartID,
		"content":    content,
	})
	return nil
}

func (s *Session) StartTyping(counterpartID string) {
	s.typingSignal(EmitTyping, counterpartID)
}

func (s *Session) StopTyping(counterpartID string) {
	s.typingSignal(EmitStopTyping, counterpartID)
}

func (s *Session) typingSignal(event, counterpartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counterpartID == "" {
		counterpartID = s.counterpart
	}
	if s.closed || counterpartID == "" {
		return
	}
	s.emit(event, map[string]any{"senderId": s.userID, "receiverId": counterpartID})
}

// MarkSeen acknowledges a message.
func (s *Session) MarkSeen(messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emit(EmitMarkSeen, map[string]any{"messageId": messageID})
}

// DeleteMessage asks the server to delete a message. The store changes only
// when the deletion receipt arrives.
func (s *Session) DeleteMessage(messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emit(EmitDeleteMessage, map[string]any{"messageId": messageID, "senderId": s.userID})
}

// RefreshChats asks for the full chat list.
func (s *Session) RefreshChats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emit(EmitFetchAllChats, map[string]any{"userId": s.userID})
}

// Snapshot is a copy of the session state for readers.
type Snapshot struct {
	UserID         string
	Connected      bool
	ConversationID string
	Counterpart    string
	Messages       []Message // oldest first
	Page           int
	HasMore        bool
	Loading        bool
	Chats          []Conversation
	Typing         string
	PendingFetch   bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.pending.Peek()
	return Snapshot{
		UserID:         s.userID,
		Connected:      s.connected,
		ConversationID: s.openID,
		Counterpart:    s.counterpart,
		Messages:       s.messages.Sorted(),
		Page:           s.messages.page,
		HasMore:        s.messages.hasMore,
		Loading:        s.messages.loading,
		Chats:          s.chats.Items(),
		Typing:         s.typing,
		PendingFetch:   pending,
	}
}

// switchConversation is the only path that clears the Message Store outside
// the reconciler.
func (s *Session) switchConversation(id, counterpartID string) {
	if counterpartID == "" && id != "" {
		if c, ok := s.chats.Get(id); ok {
			counterpartID = c.Counterpart(s.userID)
		}
	}
	s.openID = id
	s.counterpart = counterpartID
	s.messages.Reset()
	s.typing = ""
	s.answered = false
	s.lastRequest = fetchRequest{}
	s.liveIDs = make(map[string]struct{})
	s.bus.Emit(bus.KindConversationOpened, ConversationOpened{ConversationID: id, Counterpart: counterpartID})
	s.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: id, Reset: true})
}

// requestPage issues a history fetch for the open conversation, or parks it in
// the pending slot while disconnected.
func (s *Session) requestPage(event string, page int) {
	s.nextRequestID++
	req := fetchRequest{
		ConversationID: s.openID,
		Page:           page,
		Limit:          PageSize,
		RequestID:      s.nextRequestID,
		Event:          event,
	}
	s.lastRequest = req
	s.answered = false
	s.liveIDs = make(map[string]struct{})
	s.messages.loading = true
	if !s.connected {
		s.pending.Set(req)
		s.logger.Debug("fetch deferred until reconnect",
			zap.String("chat_id", req.ConversationID),
			zap.Int("page", page),
		)
		return
	}
	s.sendFetch(req)
}

// sendFetch emits a history fetch. A fetch the transport reports as offline
// goes back to the pending slot. Any other failure rolls the cursor back so
// the same page can be requested again.
func (s *Session) sendFetch(req fetchRequest) {
	err := s.out.Emit(req.Event, req.payload())
	if err == nil {
		return
	}
	if errors.Is(err, socketio.ErrNotConnected) {
		if cur, ok := s.pending.Peek(); !ok || cur.RequestID < req.RequestID {
			s.pending.Set(req)
		}
		s.logger.Debug("fetch deferred, transport offline",
			zap.String("chat_id", req.ConversationID),
			zap.Int("page", req.Page),
		)
		return
	}
	s.logger.Warn("fetch failed",
		zap.String("chat_id", req.ConversationID),
		zap.Int("page", req.Page),
		zap.Error(err),
	)
	if req.RequestID != s.lastRequest.RequestID || req.ConversationID != s.openID {
		return
	}
	s.messages.loading = false
	if req.Page > 1 && s.messages.page == req.Page {
		s.messages.page--
	}
}

// emit sends when connected and drops otherwise.
func (s *Session) emit(event string, payload any) {
	if !s.connected {
		s.logger.Debug("dropped while disconnected", zap.String("event", event))
		return
	}
	if err := s.out.Emit(event, payload); err != nil {
		s.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}
