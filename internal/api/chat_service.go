package api

import (
	"context"
	"errors"

	"github.com/matheus3301/fieldchat/internal/chat"
	"github.com/matheus3301/fieldchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService serves the chat list and switches the open conversation.
type ChatService struct {
	session *chat.Session
	db      *store.DB
}

// NewChatService creates a new chat service.
func NewChatService(sess *chat.Session, db *store.DB) *ChatService {
	return &ChatService{session: sess, db: db}
}

// ListChats returns the live chat list. When it is empty, or the request asks
// for source "cache", the cached list is returned instead.
func (s *ChatService) ListChats(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := limitOr(req, 50)

	if getString(req, "source") != "cache" {
		snap := s.session.Snapshot()
		if len(snap.Chats) > 0 {
			chats := make([]any, 0, min(limit, len(snap.Chats)))
			for _, c := range snap.Chats {
				if len(chats) == limit {
					break
				}
				chats = append(chats, liveChat(c, snap.UserID))
			}
			return respond(map[string]any{"source": "live", "chats": chats})
		}
	}

	cached, err := s.db.ListChats(limit, int(getInt(req, "offset")))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	chats := make([]any, 0, len(cached))
	for _, c := range cached {
		chats = append(chats, cachedChat(c))
	}
	return respond(map[string]any{"source": "cache", "chats": chats})
}

// OpenConversation switches to chat_id, or finds or creates the conversation
// with user_id when no chat_id is given.
func (s *ChatService) OpenConversation(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := s.session.OpenConversation(getString(req, "chat_id"), getString(req, "user_id"))
	if err != nil {
		return nil, commandError(err)
	}
	return respond(map[string]any{"accepted": true, "deferred": !s.session.Ready()})
}

func (s *ChatService) RefreshChats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if !s.session.Ready() {
		return nil, grpcstatus.Error(codes.Unavailable, "not connected")
	}
	s.session.RefreshChats()
	return respond(map[string]any{"accepted": true})
}

func commandError(err error) error {
	switch {
	case errors.Is(err, chat.ErrNoTarget), errors.Is(err, chat.ErrNoContent):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrClosed):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Errorf(codes.Internal, "%v", err)
	}
}
