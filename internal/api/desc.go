package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Requests and responses are google.protobuf.Struct values, so the services
// are described here instead of generated from a .proto file.

const (
	SessionServiceName = "fieldchat.v1.SessionService"
	ChatServiceName    = "fieldchat.v1.ChatService"
	MessageServiceName = "fieldchat.v1.MessageService"
)

// SessionServer serves connection status and the event stream.
type SessionServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// ChatServer serves the chat list and conversation switching.
type ChatServer interface {
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// MessageServer serves the open conversation and outbound commands.
type MessageServer interface {
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unary[S any](service, method string, call func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := FullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod returns the gRPC method path for a service method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fieldchat/v1/control",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SessionServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListChats", ChatServer.ListChats),
		unary(ChatServiceName, "OpenConversation", ChatServer.OpenConversation),
		unary(ChatServiceName, "RefreshChats", ChatServer.RefreshChats),
	},
	Metadata: "fieldchat/v1/control",
}

var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "ListMessages", MessageServer.ListMessages),
		unary(MessageServiceName, "LoadMore", MessageServer.LoadMore),
		unary(MessageServiceName, "SendMessage", MessageServer.SendMessage),
		unary(MessageServiceName, "Typing", MessageServer.Typing),
		unary(MessageServiceName, "DeleteMessage", MessageServer.DeleteMessage),
		unary(MessageServiceName, "SearchMessages", MessageServer.SearchMessages),
	},
	Metadata: "fieldchat/v1/control",
}

// Register attaches all three services to s.
func Register(s grpc.ServiceRegistrar, sessionSvc SessionServer, chatSvc ChatServer, messageSvc MessageServer) {
	s.RegisterService(&SessionServiceDesc, sessionSvc)
	s.RegisterService(&ChatServiceDesc, chatSvc)
	s.RegisterService(&MessageServiceDesc, messageSvc)
}
