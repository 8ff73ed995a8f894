package api

import (
	"context"

	"github.com/matheus3301/fieldchat/internal/chat"
	"github.com/matheus3301/fieldchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageService serves messages and the outbound message commands.
type MessageService struct {
	session *chat.Session
	db      *store.DB
}

// NewMessageService creates a new message service.
func NewMessageService(sess *chat.Session, db *store.DB) *MessageService {
	return &MessageService{session: sess, db: db}
}

// ListMessages returns the open conversation from the live store, oldest
// first. Any other chat_id is read from the cache, newest first.
func (s *MessageService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	snap := s.session.Snapshot()
	chatID := getString(req, "chat_id")

	if chatID == "" || chatID == snap.ConversationID {
		msgs := make([]any, 0, len(snap.Messages))
		for _, m := range snap.Messages {
			msgs = append(msgs, liveMessage(m, snap.UserID))
		}
		return respond(map[string]any{
			"source":   "live",
			"chat_id":  snap.ConversationID,
			"messages": msgs,
			"page":     snap.Page,
			"has_more": snap.HasMore,
			"loading":  snap.Loading,
			"typing":   snap.Typing,
		})
	}

	limit := limitOr(req, 50)
	cached, err := s.db.ListMessages(chatID, getInt(req, "before_ms"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	msgs := make([]any, 0, len(cached))
	for _, m := range cached {
		msgs = append(msgs, cachedMessage(m))
	}
	return respond(map[string]any{
		"source":   "cache",
		"chat_id":  chatID,
		"messages": msgs,
		"has_more": len(cached) == limit,
	})
}

func (s *MessageService) LoadMore(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(map[string]any{"requested": s.session.LoadMoreMessages()})
}

// SendMessage emits a send request. Sends are not queued, so it fails fast
// while disconnected.
func (s *MessageService) SendMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if !s.session.Ready() {
		return nil, grpcstatus.Error(codes.Unavailable, "not connected, message not sent")
	}
	if err := s.session.SendMessage(getString(req, "user_id"), getString(req, "text"), getBool(req, "new_chat")); err != nil {
		return nil, commandError(err)
	}
	return respond(map[string]any{"accepted": true})
}

func (s *MessageService) Typing(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user := getString(req, "user_id")
	switch getString(req, "state") {
	case "start", "":
		s.session.StartTyping(user)
	case "stop":
		s.session.StopTyping(user)
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "state must be start or stop")
	}
	return respond(map[string]any{"accepted": s.session.Ready()})
}

func (s *MessageService) DeleteMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := getString(req, "message_id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_id is required")
	}
	if !s.session.Ready() {
		return nil, grpcstatus.Error(codes.Unavailable, "not connected")
	}
	s.session.DeleteMessage(id)
	return respond(map[string]any{"accepted": true})
}

func (s *MessageService) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := getString(req, "query")
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := limitOr(req, 50)
	results, err := s.db.SearchMessages(query, getString(req, "chat_id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}

	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"message": cachedMessage(r.Message),
			"snippet": r.Snippet,
		})
	}
	return respond(map[string]any{"results": out, "has_more": len(results) == limit})
}
