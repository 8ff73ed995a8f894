package api

import (
	"github.com/matheus3301/fieldchat/internal/chat"
	"github.com/matheus3301/fieldchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func respond(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func getString(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func getInt(req *structpb.Struct, key string) int64 {
	return int64(req.GetFields()[key].GetNumberValue())
}

func getBool(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

// limitOr returns the request's positive "limit" or def.
func limitOr(req *structpb.Struct, def int) int {
	if n := getInt(req, "limit"); n > 0 {
		return int(n)
	}
	return def
}

func liveMessage(m chat.Message, self string) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"chat_id":       m.Chat.ID,
		"sender_id":     m.Sender.ID,
		"sender_name":   m.Sender.Name,
		"content":       m.Content,
		"status":        string(m.Status),
		"from_me":       m.Sender.ID != "" && m.Sender.ID == self,
		"created_at_ms": unixMillis(m.CreatedAt),
	}
}

func cachedMessage(m store.Message) map[string]any {
	return map[string]any{
		"id":            m.MsgID,
		"chat_id":       m.ChatID,
		"sender_id":     m.SenderID,
		"sender_name":   m.SenderName,
		"content":       m.Body,
		"status":        m.Status,
		"from_me":       m.FromMe,
		"created_at_ms": m.Timestamp,
	}
}

func liveChat(c chat.Conversation, self string) map[string]any {
	counterpart := c.Counterpart(self)
	name := counterpart
	for _, p := range c.Participants {
		if p.ID == counterpart && p.Name != "" {
			name = p.Name
		}
	}
	out := map[string]any{
		"id":               c.ID,
		"counterpart_id":   counterpart,
		"counterpart_name": name,
		"unread_count":     c.UnreadCount,
	}
	if c.LastMessage != nil {
		out["last_message"] = liveMessage(*c.LastMessage, self)
	}
	return out
}

func cachedChat(c store.Chat) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"counterpart_id":   c.CounterpartID,
		"counterpart_name": c.CounterpartName,
		"unread_count":     c.UnreadCount,
		"last_message": map[string]any{
			"id":            c.LastMessageID,
			"content":       c.LastMessagePreview,
			"created_at_ms": c.LastMessageAt,
		},
	}
}

func unixMillis(ts chat.Timestamp) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}
