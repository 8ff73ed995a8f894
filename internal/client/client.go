package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/fieldchat/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to a session daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, service, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(service, method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.SessionServiceName, "GetStatus", nil)
}

// ListChats lists chats from the live store, or from the cache when source
// is "cache".
func (c *Client) ListChats(ctx context.Context, source string, limit int) (*structpb.Struct, error) {
	return c.call(ctx, api.ChatServiceName, "ListChats", map[string]any{"source": source, "limit": limit})
}

// OpenConversation opens chatID, or the conversation with userID when chatID
// is empty.
func (c *Client) OpenConversation(ctx context.Context, chatID, userID string) (*structpb.Struct, error) {
	return c.call(ctx, api.ChatServiceName, "OpenConversation", map[string]any{"chat_id": chatID, "user_id": userID})
}

func (c *Client) RefreshChats(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.ChatServiceName, "RefreshChats", nil)
}

// ListMessages returns the open conversation when chatID is empty.
func (c *Client) ListMessages(ctx context.Context, chatID string, beforeMs int64, limit int) (*structpb.Struct, error) {
	return c.call(ctx, api.MessageServiceName, "ListMessages", map[string]any{
		"chat_id":   chatID,
		"before_ms": beforeMs,
		"limit":     limit,
	})
}

func (c *Client) LoadMore(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, api.MessageServiceName, "LoadMore", nil)
}

func (c *Client) SendMessage(ctx context.Context, userID, text string, newChat bool) (*structpb.Struct, error) {
	return c.call(ctx, api.MessageServiceName, "SendMessage", map[string]any{
		"user_id":  userID,
		"text":     text,
		"new_chat": newChat,
	})
}

// Typing sends a typing signal; state is "start" or "stop".
func (c *Client) Typing(ctx context.Context, userID, state string) (*structpb.Struct, error) {
	return c.call(ctx, api.MessageServiceName, "Typing", map[string]any{"user_id": userID, "state": state})
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) (*structpb.Struct, error) {
	return c.call(ctx, api.MessageServiceName, "DeleteMessage", map[string]any{"message_id": messageID})
}

func (c *Client) SearchMessages(ctx context.Context, query, chatID string, limit int) (*structpb.Struct, error) {
	return c.call(ctx, api.MessageServiceName, "SearchMessages", map[string]any{
		"query":   query,
		"chat_id": chatID,
		"limit":   limit,
	})
}

// Watch opens the daemon's event stream for kinds under namespace.
func (c *Client) Watch(ctx context.Context, namespace string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	in, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, err
	}
	desc := &api.SessionServiceDesc.Streams[0]
	s, err := c.conn.NewStream(ctx, desc, api.FullMethod(api.SessionServiceName, desc.StreamName))
	if err != nil {
		return nil, err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: s}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
