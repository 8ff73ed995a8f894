package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/fieldchat/internal/bus"
	"github.com/matheus3301/fieldchat/internal/chat"
	"github.com/matheus3301/fieldchat/internal/logging"
	"github.com/matheus3301/fieldchat/internal/store"
	"go.uber.org/zap"
)

// CacheUpdate is the payload of cache.updated events.
type CacheUpdate struct {
	Chats    int
	Messages int
}

// Engine mirrors the live chat state into the local cache. It subscribes to
// "chat." events on the bus; every write is an idempotent upsert.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	recon  *Reconciler
	selfID string
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new cache engine for the user selfID.
func NewEngine(db *store.DB, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	logger = logging.OrNop(logger)
	return &Engine{
		db:     db,
		bus:    b,
		recon:  NewReconciler(db, logger),
		selfID: selfID,
		logger: logger,
	}
}

// Start subscribes to chat events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the in-flight event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessagesChanged:
		p, ok := evt.Payload.(chat.MessagesChanged)
		if !ok || len(p.Messages) == 0 {
			return
		}
		if err := e.IngestMessages(p.Messages); err != nil {
			e.logger.Error("failed to ingest messages", zap.Error(err), zap.Int("count", len(p.Messages)))
		}
	case bus.KindChatListChanged:
		p, ok := evt.Payload.(chat.ChatListChanged)
		if !ok {
			return
		}
		if err := e.IngestChats(p.Chats); err != nil {
			e.logger.Error("failed to ingest chat list", zap.Error(err), zap.Int("count", len(p.Chats)))
		}
	case bus.KindConversationOpened:
		p, ok := evt.Payload.(chat.ConversationOpened)
		if !ok || p.ConversationID == "" {
			return
		}
		if err := e.recon.UpdateCheckpoint(CheckpointOpenConversation, p.ConversationID); err != nil {
			e.logger.Error("failed to save open conversation", zap.Error(err))
		}
	}
}

// IngestMessages upserts messages and their senders.
func (e *Engine) IngestMessages(msgs []chat.Message) error {
	rows := make([]store.Message, 0, len(msgs))
	var people []store.Participant
	for _, m := range msgs {
		if m.ID == "" || m.Chat.ID == "" {
			continue
		}
		rows = append(rows, e.toStoreMessage(m))
		if m.Sender.ID != "" {
			people = append(people, store.Participant{ChatID: m.Chat.ID, UserID: m.Sender.ID, Name: m.Sender.Name})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := e.db.UpsertMessages(rows); err != nil {
		return fmt.Errorf("upsert messages: %w", err)
	}
	if err := e.db.UpsertParticipants(people); err != nil {
		return fmt.Errorf("upsert participants: %w", err)
	}
	e.bus.Emit(bus.KindCacheUpdated, CacheUpdate{Messages: len(rows)})
	return nil
}

// IngestChats upserts a chat list snapshot, its participants and the last
// message of each chat.
func (e *Engine) IngestChats(convs []chat.Conversation) error {
	chats := make([]store.Chat, 0, len(convs))
	var people []store.Participant
	var last []chat.Message
	for _, c := range convs {
		row := store.Chat{
			ID:            c.ID,
			CounterpartID: c.Counterpart(e.selfID),
			UnreadCount:   c.UnreadCount,
		}
		if lm := c.LastMessage; lm != nil {
			row.LastMessageID = lm.ID
			row.LastMessageAt = millis(lm.CreatedAt)
			row.LastMessagePreview = truncate(lm.Content, 100)
			if lm.Content != "" {
				m := *lm
				if m.Chat.ID == "" {
					m.Chat.ID = c.ID
				}
				last = append(last, m)
			}
		}
		chats = append(chats, row)
		for _, p := range c.Participants {
			people = append(people, store.Participant{ChatID: c.ID, UserID: p.ID, Name: p.Name})
		}
	}
	if err := e.db.UpsertChats(chats); err != nil {
		return fmt.Errorf("upsert chats: %w", err)
	}
	if err := e.db.UpsertParticipants(people); err != nil {
		return fmt.Errorf("upsert participants: %w", err)
	}
	if len(last) > 0 {
		if err := e.IngestMessages(last); err != nil {
			return err
		}
	}
	e.bus.Emit(bus.KindCacheUpdated, CacheUpdate{Chats: len(chats)})
	return nil
}

// LastOpenConversation returns the conversation open when the daemon last
// ran, or "" if none was recorded.
func (e *Engine) LastOpenConversation() (string, error) {
	return e.recon.GetCheckpoint(CheckpointOpenConversation)
}

func (e *Engine) toStoreMessage(m chat.Message) store.Message {
	return store.Message{
		MsgID:     m.ID,
		ChatID:    m.Chat.ID,
		SenderID:  m.Sender.ID,
		Body:      m.Content,
		Status:    string(m.Status),
		FromMe:    m.Sender.ID != "" && m.Sender.ID == e.selfID,
		Timestamp: millis(m.CreatedAt),
	}
}

func millis(ts chat.Timestamp) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
