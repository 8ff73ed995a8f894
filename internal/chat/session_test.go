package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/fieldchat/internal/bus"
	"github.com/matheus3301/fieldchat/internal/socketio"
)

type emitted struct {
	Event   string
	Payload any
}

// recorder is an Emitter that keeps everything sent to it.
type recorder struct {
	mu   sync.Mutex
	sent []emitted
	// failNext makes the next emit of an event fail with the given error.
	failNext map[string]error
}

func (r *recorder) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failNext[event]; ok {
		delete(r.failNext, event)
		return err
	}
	r.sent = append(r.sent, emitted{Event: event, Payload: payload})
	return nil
}

func (r *recorder) failOnce(event string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext == nil {
		r.failNext = make(map[string]error)
	}
	r.failNext[event] = err
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, e := range r.sent {
		out[i] = e.Event
	}
	return out
}

func (r *recorder) named(event string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, e := range r.sent {
		if e.Event != event {
			continue
		}
		p, _ := e.Payload.(map[string]any)
		out = append(out, p)
	}
	return out
}

func (r *recorder) last(event string) map[string]any {
	all := r.named(event)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func newTestSession(t *testing.T) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewSession("me", rec, nil, nil), rec
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, chatID, sender string, at time.Time) map[string]any {
	return map[string]any{
		"_id":       id,
		"chat":      map[string]any{"_id": chatID},
		"sender":    map[string]any{"_id": sender},
		"content":   "text " + id,
		"createdAt": at.Format(time.RFC3339Nano),
	}
}

// history builds n messages m<from>..m<from+n-1>, one minute apart.
func history(chatID string, from, n int) []any {
	out := make([]any, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, msg(fmt.Sprintf("m%02d", i), chatID, "u2", t0.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func assertUniqueIDs(t *testing.T, msgs []Message) {
	t.Helper()
	seen := make(map[string]bool)
	for _, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate message id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestDeduplicationAcrossPagesAndLiveMessages(t *testing.T) {
	s, _ := newTestSession(t)
	s.HandleConnect()
	if err := s.OpenConversation("c1", "u2"); err != nil {
		t.Fatal(err)
	}

	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 1, 20), "page": 1}))
	s.HandleEvent("receive_message", rawJSON(t, msg("m21", "c1", "u2", t0.Add(21*time.Minute))))
	s.HandleEvent("receive_message", rawJSON(t, msg("m21", "c1", "u2", t0.Add(21*time.Minute))))
	s.HandleEvent("message_sent", rawJSON(t, msg("m05", "c1", "me", t0.Add(5*time.Minute))))

	if !s.LoadMoreMessages() {
		t.Fatal("LoadMoreMessages returned false with more pages available")
	}
	// Overlaps m15..m20 and m21.
	s.HandleEvent("fetch_chat_response", rawJSON(t, map[string]any{"messages": history("c1", 15, 20), "page": 2}))

	snap := s.Snapshot()
	assertUniqueIDs(t, snap.Messages)
	if len(snap.Messages) != 34 {
		t.Errorf("got %d messages, want 34", len(snap.Messages))
	}
}

func TestSortPlacesLiveMessageAfterHistory(t *testing.T) {
	orders := []struct {
		name     string
		liveLast bool
	}{
		{"history then live", true},
		{"live then history", false},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t)
			s.HandleConnect()
			_ = s.OpenConversation("c1", "u2")

			page := rawJSON(t, map[string]any{"messages": history("c1", 1, 5), "page": 1})
			live := rawJSON(t, msg("live", "c1", "u2", t0.Add(time.Hour)))
			if tt.liveLast {
				s.HandleEvent("chat_history", page)
				s.HandleEvent("receive_message", live)
			} else {
				s.HandleEvent("receive_message", live)
				s.HandleEvent("chat_history", page)
			}

			msgs := s.Snapshot().Messages
			if len(msgs) != 6 {
				t.Fatalf("got %d messages, want 6", len(msgs))
			}
			if msgs[len(msgs)-1].ID != "live" {
				t.Errorf("last message = %s, want live", msgs[len(msgs)-1].ID)
			}
		})
	}
}

func TestPaginationTerminatesOnShortPage(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")

	first := rec.last(EmitFetchChat)
	if first["page"] != 1 || first["limit"] != PageSize || first["chatId"] != "c1" {
		t.Fatalf("first fetch payload = %v", first)
	}

	// 45 messages: 20 + 20 + 5.
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 26, 20), "page": 1}))
	if !s.Snapshot().HasMore {
		t.Fatal("hasMore false after a full first page")
	}

	if !s.LoadMoreMessages() {
		t.Fatal("second page not requested")
	}
	if got := rec.last(EmitChatHistory)["page"]; got != 2 {
		t.Fatalf("second request page = %v, want 2", got)
	}
	if s.LoadMoreMessages() {
		t.Fatal("load more issued while a page is in flight")
	}
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 6, 20), "page": 2}))

	if !s.LoadMoreMessages() {
		t.Fatal("third page not requested")
	}
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 1, 5), "page": 3}))

	snap := s.Snapshot()
	if snap.HasMore {
		t.Error("hasMore true after a short page")
	}
	if snap.Loading {
		t.Error("still loading after the last page")
	}
	if len(snap.Messages) != 45 {
		t.Errorf("got %d messages, want 45", len(snap.Messages))
	}
	if s.LoadMoreMessages() {
		t.Error("load more issued with hasMore false")
	}
	if n := len(rec.named(EmitChatHistory)); n != 2 {
		t.Errorf("chat_history emitted %d times, want 2", n)
	}
}

func TestFailedLoadMoreCanBeRetried(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 21, 20), "page": 1}))

	rec.failOnce(EmitChatHistory, socketio.ErrQueueFull)
	if !s.LoadMoreMessages() {
		t.Fatal("first load more not attempted")
	}
	snap := s.Snapshot()
	if snap.Loading || snap.Page != 1 {
		t.Fatalf("after failed emit: loading=%v page=%d, want false 1", snap.Loading, snap.Page)
	}

	if !s.LoadMoreMessages() {
		t.Fatal("load more refused after a failed emit")
	}
	if got := rec.last(EmitChatHistory)["page"]; got != 2 {
		t.Errorf("retried page = %v, want 2", got)
	}
	if snap := s.Snapshot(); !snap.Loading || snap.Page != 2 {
		t.Errorf("after retry: loading=%v page=%d, want true 2", snap.Loading, snap.Page)
	}
}

func TestFetchDeferredWhenTransportOffline(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 21, 20), "page": 1}))

	// The link dropped but the disconnect callback has not run yet.
	rec.failOnce(EmitChatHistory, socketio.ErrNotConnected)
	if !s.LoadMoreMessages() {
		t.Fatal("load more not attempted")
	}
	if !s.Snapshot().PendingFetch {
		t.Fatal("offline fetch was not parked in the pending slot")
	}

	s.HandleDisconnect("transport close")
	rec.reset()
	s.HandleConnect()

	fetches := rec.named(EmitChatHistory)
	if len(fetches) != 1 || fetches[0]["page"] != 2 {
		t.Errorf("replayed chat_history = %v, want one page 2 fetch", fetches)
	}
	if s.Snapshot().PendingFetch {
		t.Error("pending slot not cleared after replay")
	}
}

func TestHistoryKeepsMessagesWithLooseTimestamps(t *testing.T) {
	s, _ := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{
		"page": 1,
		"messages": []any{
			map[string]any{"_id": "m1", "chat": "c1", "sender": "u2", "createdAt": "2026-03-01 12:00:00"},
			map[string]any{"_id": "m2", "chat": "c1", "sender": "u2", "createdAt": "2026-03-01T12:01:00Z"},
		},
	}))

	msgs := s.Snapshot().Messages
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Errorf("first message = %s, want m1", msgs[0].ID)
	}
}

func TestExactFinalPageCostsOneEmptyFetch(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 1, 20), "page": 1}))

	if !s.LoadMoreMessages() {
		t.Fatal("expected an extra fetch after an exact page")
	}
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": []any{}, "page": 2}))
	if s.Snapshot().HasMore {
		t.Error("hasMore true after an empty page")
	}
	if n := len(rec.named(EmitChatHistory)); n != 1 {
		t.Errorf("chat_history emitted %d times, want 1", n)
	}
}

func TestPendingFetchKeepsOnlyLatest(t *testing.T) {
	s, rec := newTestSession(t)

	_ = s.OpenConversation("c1", "u2")
	_ = s.OpenConversation("c2", "u3")
	if got := rec.events(); len(got) != 0 {
		t.Fatalf("emitted while disconnected: %v", got)
	}
	if !s.Snapshot().PendingFetch {
		t.Fatal("no pending fetch recorded")
	}

	s.HandleConnect()

	fetches := rec.named(EmitFetchChat)
	if len(fetches) != 1 {
		t.Fatalf("fetch_chat emitted %d times, want 1: %v", len(fetches), rec.events())
	}
	if fetches[0]["chatId"] != "c2" || fetches[0]["page"] != 1 {
		t.Errorf("replayed %v, want c2 page 1", fetches[0])
	}
	if s.Snapshot().PendingFetch {
		t.Error("pending fetch not cleared after replay")
	}

	// A second reconnect must not replay it again.
	s.HandleDisconnect("transport close")
	rec.reset()
	s.HandleConnect()
	if n := len(rec.named(EmitFetchChat)); n != 1 {
		t.Errorf("fetch_chat emitted %d times on second reconnect, want 1 (page 1 recovery only)", n)
	}
}

func TestReconnectRecoversOpenConversation(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 1, 20), "page": 1}))
	s.LoadMoreMessages()
	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 21, 20), "page": 2}))

	s.HandleDisconnect("ping timeout")
	if s.Ready() {
		t.Fatal("ready after disconnect")
	}
	rec.reset()
	s.HandleConnect()

	want := []string{EmitSetup, EmitFetchAllChats, EmitFetchChat}
	got := rec.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if p := rec.last(EmitFetchChat); p["chatId"] != "c1" || p["page"] != 1 {
		t.Errorf("recovery fetch = %v, want c1 page 1", p)
	}
	if p := rec.last(EmitFetchAllChats); p["userId"] != "me" {
		t.Errorf("fetch_all_chats payload = %v", p)
	}
	snap := s.Snapshot()
	if snap.Page != 1 || !snap.HasMore {
		t.Errorf("cursor = (%d, %v), want (1, true)", snap.Page, snap.HasMore)
	}
}

func TestSendThenEcho(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	s.HandleEvent("all_chats", rawJSON(t, []any{
		map[string]any{"_id": "c1", "participants": []any{"me", "u2"}},
		map[string]any{"_id": "c9", "participants": []any{"me", "u9"}},
	}))

	if err := s.SendMessage("u2", "hi", false); err != nil {
		t.Fatal(err)
	}
	p := rec.last(EmitSendMessage)
	if p["senderId"] != "me" || p["receiverId"] != "u2" || p["content"] != "hi" {
		t.Fatalf("send_message payload = %v", p)
	}
	if n := len(s.Snapshot().Messages); n != 0 {
		t.Fatalf("message echoed locally before the server: %d", n)
	}

	s.HandleEvent("message_sent", rawJSON(t, map[string]any{
		"_id":       "m1",
		"chat":      map[string]any{"_id": "c1"},
		"content":   "hi",
		"sender":    map[string]any{"_id": "me"},
		"createdAt": t0.Format(time.RFC3339),
	}))

	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v, want [m1]", snap.Messages)
	}
	if snap.Chats[0].ID != "c1" {
		t.Errorf("first chat = %s, want c1", snap.Chats[0].ID)
	}
	lm := snap.Chats[0].LastMessage
	if lm == nil || lm.Content != "hi" {
		t.Errorf("c1 last message = %+v, want content hi", lm)
	}
	if snap.Chats[0].UnreadCount != 0 {
		t.Errorf("echo bumped unread to %d", snap.Chats[0].UnreadCount)
	}
	if n := len(rec.named(EmitMarkSeen)); n != 0 {
		t.Errorf("mark_seen emitted %d times for an echo", n)
	}
}

func TestTypingClearsOnStop(t *testing.T) {
	s, _ := newTestSession(t)
	s.HandleConnect()

	s.HandleEvent("user_typing", rawJSON(t, map[string]any{"senderId": "u2"}))
	if got := s.Snapshot().Typing; got != "u2" {
		t.Fatalf("typing = %q, want u2", got)
	}
	s.HandleEvent("user_stop_typing", nil)
	if got := s.Snapshot().Typing; got != "" {
		t.Errorf("typing = %q after stop, want empty", got)
	}
}

func TestStaleHistoryResponseDropped(t *testing.T) {
	t.Run("by request id", func(t *testing.T) {
		s, rec := newTestSession(t)
		s.HandleConnect()
		_ = s.OpenConversation("c1", "u2")
		oldID := rec.last(EmitFetchChat)["requestId"]
		_ = s.OpenConversation("c2", "u3")

		s.HandleEvent("chat_history", rawJSON(t, map[string]any{
			"messages": history("c2", 1, 3), "page": 1, "requestId": oldID,
		}))
		if n := len(s.Snapshot().Messages); n != 0 {
			t.Errorf("stale page applied: %d messages", n)
		}

		s.HandleEvent("chat_history", rawJSON(t, map[string]any{
			"messages": history("c2", 1, 3), "page": 1, "requestId": rec.last(EmitFetchChat)["requestId"],
		}))
		if n := len(s.Snapshot().Messages); n != 3 {
			t.Errorf("current page not applied: %d messages", n)
		}
	})

	t.Run("by conversation id", func(t *testing.T) {
		s, _ := newTestSession(t)
		s.HandleConnect()
		_ = s.OpenConversation("c1", "u2")
		_ = s.OpenConversation("c2", "u3")

		s.HandleEvent("chat_history", rawJSON(t, history("c1", 1, 3)))
		s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": []any{}, "chat_id": "c1"}))
		snap := s.Snapshot()
		if len(snap.Messages) != 0 {
			t.Errorf("page for c1 applied to c2: %d messages", len(snap.Messages))
		}
		if !snap.Loading {
			t.Error("stale response cleared the loading flag")
		}
	})
}

func TestMessageBatchIsFallbackOnly(t *testing.T) {
	s, _ := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")

	s.HandleEvent("chat_messages", rawJSON(t, map[string]any{"messages": history("c1", 1, 3)}))
	if n := len(s.Snapshot().Messages); n != 3 {
		t.Fatalf("batch not applied: %d messages", n)
	}

	s.HandleEvent("chat_history", rawJSON(t, map[string]any{"messages": history("c1", 1, 20), "page": 1}))
	s.HandleEvent("messages", rawJSON(t, history("c1", 100, 2)))
	if n := len(s.Snapshot().Messages); n != 20 {
		t.Errorf("batch overrode history page: %d messages", n)
	}

	s.HandleEvent("fetch_chat", rawJSON(t, map[string]any{"error": "not a list"}))
	if n := len(s.Snapshot().Messages); n != 20 {
		t.Errorf("malformed batch changed the store: %d messages", n)
	}
}

func TestReceiptsUpdateStatus(t *testing.T) {
	s, _ := newTestSession(t)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, history("c1", 1, 3)))

	s.HandleEvent("message_seen", rawJSON(t, map[string]any{"_id": "m01"}))
	s.HandleEvent("message_deleted", rawJSON(t, map[string]any{"_id": "m02"}))
	s.HandleEvent("message_seen", rawJSON(t, map[string]any{"_id": "m02"}))
	s.HandleEvent("message_seen", rawJSON(t, map[string]any{"_id": "unknown"}))

	byID := make(map[string]Message)
	for _, m := range s.Snapshot().Messages {
		byID[m.ID] = m
	}
	tests := []struct {
		id      string
		status  Status
		content string
	}{
		{"m01", StatusSeen, "text m01"},
		{"m02", StatusDeleted, DeletedPlaceholder},
		{"m03", StatusSent, "text m03"},
	}
	for _, tt := range tests {
		m := byID[tt.id]
		if m.Status != tt.status || m.Content != tt.content {
			t.Errorf("%s = (%s, %q), want (%s, %q)", tt.id, m.Status, m.Content, tt.status, tt.content)
		}
	}
}

func TestIncomingMessageRouting(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	s.HandleEvent("all_chats", rawJSON(t, map[string]any{"chats": []any{
		map[string]any{"_id": "c1", "participants": []any{"me", "u2"}},
		map[string]any{"_id": "c2", "participants": []any{"me", "u3"}, "unreadCount": 1},
	}}))
	_ = s.OpenConversation("c1", "")
	if got := s.Snapshot().Counterpart; got != "u2" {
		t.Errorf("counterpart = %q, want u2 from the chat list", got)
	}
	rec.reset()

	s.HandleEvent("receive_message", rawJSON(t, msg("a", "c1", "u2", t0)))
	s.HandleEvent("receive_message", rawJSON(t, msg("b", "c2", "u3", t0)))
	s.HandleEvent("receive_message", rawJSON(t, msg("c", "c7", "u7", t0)))

	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "a" {
		t.Fatalf("messages = %+v, want only a", snap.Messages)
	}
	seen := rec.named(EmitMarkSeen)
	if len(seen) != 1 || seen[0]["messageId"] != "a" {
		t.Errorf("mark_seen = %v, want only a", seen)
	}
	if snap.Chats[0].ID != "c2" || snap.Chats[0].UnreadCount != 2 {
		t.Errorf("first chat = %s unread %d, want c2 unread 2", snap.Chats[0].ID, snap.Chats[0].UnreadCount)
	}
	if c1 := snap.Chats[1]; c1.ID != "c1" || c1.UnreadCount != 0 || c1.LastMessage.ID != "a" {
		t.Errorf("c1 = %+v", c1)
	}
	if n := len(rec.named(EmitFetchAllChats)); n != 1 {
		t.Errorf("unknown chat refreshed the list %d times, want 1", n)
	}
}

func TestFetchOrCreateFlow(t *testing.T) {
	t.Run("embedded messages", func(t *testing.T) {
		s, rec := newTestSession(t)
		s.HandleConnect()
		if err := s.OpenConversation("", "u2"); err != nil {
			t.Fatal(err)
		}
		p := rec.last(EmitFetchOrCreate)
		if p["senderId"] != "me" || p["receiverId"] != "u2" {
			t.Fatalf("fetch-or-create payload = %v", p)
		}

		s.HandleEvent("chat_found_or_created", rawJSON(t, map[string]any{
			"_id":          "c5",
			"participants": []any{map[string]any{"_id": "me"}, map[string]any{"_id": "u2", "name": "Ana"}},
			"messages":     history("c5", 1, 4),
		}))
		snap := s.Snapshot()
		if snap.ConversationID != "c5" || len(snap.Messages) != 4 || snap.HasMore {
			t.Errorf("snapshot = %s, %d messages, hasMore %v", snap.ConversationID, len(snap.Messages), snap.HasMore)
		}
		if n := len(rec.named(EmitFetchChat)); n != 0 {
			t.Errorf("fetch_chat emitted %d times despite embedded messages", n)
		}
	})

	t.Run("no messages while disconnected", func(t *testing.T) {
		s, rec := newTestSession(t)
		s.HandleConnect()
		_ = s.FetchOrCreateConversation("u2")
		s.HandleDisconnect("io server disconnect")
		s.HandleEvent("chat_found_or_created", rawJSON(t, map[string]any{"chat": map[string]any{"_id": "c5"}}))

		if n := len(rec.named(EmitFetchChat)); n != 0 {
			t.Fatalf("fetch sent while disconnected")
		}
		s.HandleConnect()
		if p := rec.last(EmitFetchChat); p["chatId"] != "c5" {
			t.Errorf("deferred fetch = %v, want c5", p)
		}
	})

	t.Run("reconnect before answer", func(t *testing.T) {
		s, rec := newTestSession(t)
		_ = s.FetchOrCreateConversation("u2")
		s.HandleConnect()
		if n := len(rec.named(EmitFetchOrCreate)); n != 1 {
			t.Errorf("fetch-or-create emitted %d times on connect, want 1", n)
		}
	})
}

func TestChatCreatedAdoptsWhenNoneOpen(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	_ = s.SendMessage("u2", "hello", true)
	s.HandleEvent("message_sent", rawJSON(t, msg("m1", "c3", "me", t0)))
	s.HandleEvent("chat_created", rawJSON(t, map[string]any{"_id": "c3", "participants": []any{"me", "u2"}}))

	snap := s.Snapshot()
	if snap.ConversationID != "c3" {
		t.Errorf("open conversation = %q, want c3", snap.ConversationID)
	}
	if len(snap.Messages) != 1 {
		t.Errorf("adoption cleared the store: %d messages", len(snap.Messages))
	}

	_ = s.OpenConversation("c4", "u4")
	s.HandleEvent("chat_created", rawJSON(t, map[string]any{"_id": "c8"}))
	if got := s.Snapshot().ConversationID; got != "c4" {
		t.Errorf("open conversation = %q, want c4 kept", got)
	}
	// Connect, the unknown c3 echo and both chat_created events.
	if n := len(rec.named(EmitFetchAllChats)); n != 4 {
		t.Errorf("fetch_all_chats emitted %d times, want 4", n)
	}
}

func TestCommandsWhileDisconnected(t *testing.T) {
	s, rec := newTestSession(t)
	_ = s.SendMessage("u2", "hi", false)
	s.StartTyping("u2")
	s.StopTyping("u2")
	s.DeleteMessage("m1")
	s.MarkSeen("m1")
	s.RefreshChats()
	if got := rec.events(); len(got) != 0 {
		t.Fatalf("emitted while disconnected: %v", got)
	}

	s.HandleConnect()
	for _, e := range rec.events() {
		if e != EmitSetup && e != EmitFetchAllChats {
			t.Errorf("dropped command %s replayed on connect", e)
		}
	}
}

func TestCommandPayloads(t *testing.T) {
	s, rec := newTestSession(t)
	s.HandleConnect()
	s.StartTyping("u2")
	s.StopTyping("u2")
	s.DeleteMessage("m9")
	s.MarkSeen("m8")

	tests := []struct {
		event string
		want  map[string]any
	}{
		{EmitTyping, map[string]any{"senderId": "me", "receiverId": "u2"}},
		{EmitStopTyping, map[string]any{"senderId": "me", "receiverId": "u2"}},
		{EmitDeleteMessage, map[string]any{"messageId": "m9", "senderId": "me"}},
		{EmitMarkSeen, map[string]any{"messageId": "m8"}},
	}
	for _, tt := range tests {
		got := rec.last(tt.event)
		if len(got) != len(tt.want) {
			t.Errorf("%s payload = %v, want %v", tt.event, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("%s[%s] = %v, want %v", tt.event, k, got[k], v)
			}
		}
	}

	if setup := rec.sent[0]; setup.Event != EmitSetup || setup.Payload != "me" {
		t.Errorf("setup = %+v, want userId payload", setup)
	}
}

func TestCommandArgumentErrors(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.OpenConversation("", ""); err != ErrNoTarget {
		t.Errorf("OpenConversation() error = %v, want ErrNoTarget", err)
	}
	if err := s.SendMessage("u2", "", false); err != ErrNoContent {
		t.Errorf("SendMessage() error = %v, want ErrNoContent", err)
	}
	if err := s.SendMessage("", "hi", false); err != ErrNoTarget {
		t.Errorf("SendMessage() error = %v, want ErrNoTarget", err)
	}
	s.Close()
	if err := s.OpenConversation("c1", ""); err != ErrClosed {
		t.Errorf("OpenConversation() after Close error = %v, want ErrClosed", err)
	}
}

func TestSessionPublishesToBus(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("chat.", 32)
	defer unsub()

	s := NewSession("me", &recorder{}, b, nil)
	s.HandleConnect()
	_ = s.OpenConversation("c1", "u2")
	s.HandleEvent("chat_history", rawJSON(t, history("c1", 1, 2)))
	s.HandleEvent("user_typing", rawJSON(t, map[string]any{"senderId": "u2"}))

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	want := []string{
		bus.KindConversationOpened,
		bus.KindMessagesChanged,
		bus.KindMessagesChanged,
		bus.KindTypingChanged,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kind[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}
