package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/fieldchat/internal/bus"
	"github.com/matheus3301/fieldchat/internal/chat"
	"github.com/matheus3301/fieldchat/internal/status"
	"github.com/matheus3301/fieldchat/internal/store"
	intsync "github.com/matheus3301/fieldchat/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionService reports connection status and streams bus events.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	session     *chat.Session
	bus         *bus.Bus
	db          *store.DB
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, machine *status.Machine, sess *chat.Session, b *bus.Bus, db *store.DB) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		session:     sess,
		bus:         b,
		db:          db,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	current := s.machine.Current()
	resp := map[string]any{
		"session":   s.sessionName,
		"status":    string(current),
		"ready":     s.machine.Ready(),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}

	if s.session != nil {
		snap := s.session.Snapshot()
		resp["user_id"] = snap.UserID
		resp["open_conversation"] = snap.ConversationID
		resp["counterpart"] = snap.Counterpart
		resp["pending_fetch"] = snap.PendingFetch
		resp["typing"] = snap.Typing
	}

	if s.db != nil {
		if chatCount, err := s.db.ChatCount(); err == nil {
			resp["chat_count"] = chatCount
		}
		if msgCount, err := s.db.MessageCount(); err == nil {
			resp["message_count"] = msgCount
		}
	}

	return respond(resp)
}

// Watch streams bus events whose kind starts with the requested namespace
// (all events when empty) until the client goes away.
func (s *SessionService) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.bus.Subscribe(getString(req, "namespace"), 64)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := respond(map[string]any{
				"event_id":            uuid.New().String(),
				"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
				"kind":                evt.Kind,
				"payload":             eventPayload(evt),
			})
			if err != nil {
				return err
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// eventPayload summarizes a bus payload for the wire.
func eventPayload(evt bus.Event) map[string]any {
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}
	case chat.MessagesChanged:
		ids := make([]any, 0, len(p.Messages))
		for _, m := range p.Messages {
			ids = append(ids, m.ID)
		}
		return map[string]any{"conversation_id": p.ConversationID, "message_ids": ids, "reset": p.Reset}
	case chat.ChatListChanged:
		return map[string]any{"count": len(p.Chats)}
	case chat.TypingChanged:
		return map[string]any{"user_id": p.UserID}
	case chat.ConversationOpened:
		return map[string]any{"conversation_id": p.ConversationID, "counterpart": p.Counterpart}
	case intsync.CacheUpdate:
		return map[string]any{"chats": p.Chats, "messages": p.Messages}
	default:
		return map[string]any{}
	}
}
