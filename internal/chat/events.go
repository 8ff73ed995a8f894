package chat

import "sort"

// Outbound event names.
const (
	EmitSetup         = "setup"
	EmitFetchAllChats = "fetch_all_chats"
	EmitFetchChat     = "fetch_chat"
	EmitChatHistory   = "chat_history"
	EmitFetchOrCreate = "fetch_or_create_chat_between_users"
	EmitSendMessage   = "send_message"
	EmitDeleteMessage = "delete_message"
	EmitTyping        = "typing"
	EmitStopTyping    = "stop_typing"
	EmitMarkSeen      = "mark_seen"
)

// eventClass groups inbound event names that the server uses
// interchangeably for the same logical event.
type eventClass int

const (
	classUnknown eventClass = iota
	classChatList
	classHistoryPage
	classMessageBatch
	classNewMessage
	classSentEcho
	classSeen
	classDeleted
	classTyping
	classStopTyping
	classChatCreated
	classChatFoundOrCreated
	classLifecycle
)

var classNames = map[eventClass]string{
	classUnknown:            "unknown",
	classChatList:           "chat_list",
	classHistoryPage:        "history_page",
	classMessageBatch:       "message_batch",
	classNewMessage:         "new_message",
	classSentEcho:           "sent_echo",
	classSeen:               "seen",
	classDeleted:            "deleted",
	classTyping:             "typing",
	classStopTyping:         "stop_typing",
	classChatCreated:        "chat_created",
	classChatFoundOrCreated: "chat_found_or_created",
	classLifecycle:          "lifecycle",
}

func (c eventClass) String() string {
	return classNames[c]
}

// eventClasses maps every inbound alias to its class. fetch_chat is both an
// outbound request and, on some server builds, the name of its reply.
var eventClasses = map[string]eventClass{
	"all_chats": classChatList,

	"chat_history":        classHistoryPage,
	"fetch_chat_response": classHistoryPage,

	"chat_messages": classMessageBatch,
	"messages":      classMessageBatch,
	"fetch_chat":    classMessageBatch,

	"receive_message": classNewMessage,
	"message_sent":    classSentEcho,
	"message_seen":    classSeen,
	"message_deleted": classDeleted,

	"user_typing":      classTyping,
	"user_stop_typing": classStopTyping,

	"chat_created":          classChatCreated,
	"chat_found_or_created": classChatFoundOrCreated,

	"connect":       classLifecycle,
	"disconnect":    classLifecycle,
	"connect_error": classLifecycle,
}

func classify(name string) eventClass {
	return eventClasses[name]
}

// inboundEvents returns every event name the reconciler handles, sorted.
func inboundEvents() []string {
	names := make([]string, 0, len(eventClasses))
	for name := range eventClasses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
