package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/pkg/retry"
	"github.com/akinalp/hearth/ws"
)

const convRoom = "conversation:c1"

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

type recordingNotifier struct {
	calls chan models.NotificationPayload
}

func (n *recordingNotifier) NotifyRoomMembers(_ context.Context, _ models.RoomID, _ string, payload models.NotificationPayload) error {
	n.calls <- payload
	return nil
}

type messageFixture struct {
	svc        MessageService
	messages   *fakeMessages
	reactions  *fakeReactions
	membership *fakeMembership
	hub        *fakePublisher
}

func newMessageFixture(t *testing.T, notifier RoomNotifier) *messageFixture {
	t.Helper()

	f := &messageFixture{
		messages:  newFakeMessages(),
		reactions: newFakeReactions(),
		membership: &fakeMembership{rooms: map[string]map[string]string{
			convRoom: {"u-a": "member", "u-b": "member", "u-admin": "admin"},
		}},
		hub: &fakePublisher{},
	}
	f.svc = NewMessageService(f.messages, f.reactions, f.membership, notifier, f.hub, fastPolicy(), nil, slogt.New(t))
	return f
}

func text(s string) *string { return &s }

func TestSendBroadcastsStoredMessage(t *testing.T) {
	f := newMessageFixture(t, nil)
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	msg, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{
		RoomID:           convRoom,
		Content:          text("  hi  "),
		IdempotencyToken: "t1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if *msg.Content != "hi" || msg.Type != models.MessageText || msg.ConversationID != "c1" || msg.SenderID != "u-a" {
		t.Errorf("unexpected message %+v", msg)
	}
	if diff := cmp.Diff(map[string]int{}, msg.ReactionCounts); diff != "" {
		t.Errorf("new messages carry an empty aggregate (-want +got):\n%s", diff)
	}

	got := f.hub.last()
	if got.Kind != "room" || got.Target != convRoom || got.Event.Op != ws.OpNewMessage {
		t.Fatalf("broadcast = %+v", got)
	}
	if got.Event.Data.(*models.Message).ID != msg.ID {
		t.Error("broadcast carries a different message")
	}
}

func TestBroadcastHidesIdempotencyToken(t *testing.T) {
	f := newMessageFixture(t, nil)
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	if _, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{
		RoomID:           convRoom,
		Content:          text("hi"),
		IdempotencyToken: "secret-token",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	raw, err := json.Marshal(f.hub.last().Event)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "secret-token") || strings.Contains(string(raw), "idempotencyToken") {
		t.Errorf("new-message leaks the sender's token: %s", raw)
	}
}

func TestSendRequiresRoomMembership(t *testing.T) {
	f := newMessageFixture(t, nil)
	sess := ws.NewSession("conn-x", "u-x")

	_, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t1"})
	if !errors.Is(err, pkg.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if f.messages.creates != 0 || len(f.hub.ops()) != 0 {
		t.Error("a refused send must not persist or broadcast")
	}
}

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name string
		req  ws.SendMessageData
	}{
		{name: "missing content", req: ws.SendMessageData{RoomID: convRoom, IdempotencyToken: "t"}},
		{name: "blank content", req: ws.SendMessageData{RoomID: convRoom, Content: text("   "), IdempotencyToken: "t"}},
		{name: "content too long", req: ws.SendMessageData{RoomID: convRoom, Content: text(strings.Repeat("é", MaxContentLength+1)), IdempotencyToken: "t"}},
		{name: "image without payload", req: ws.SendMessageData{RoomID: convRoom, Type: models.MessageImage, IdempotencyToken: "t"}},
		{name: "family room", req: ws.SendMessageData{RoomID: "family:f1", Content: text("hi"), IdempotencyToken: "t"}},
		{name: "missing token", req: ws.SendMessageData{RoomID: convRoom, Content: text("hi")}},
		{name: "reply to unknown", req: ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t", ReplyToID: text("nope")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMessageFixture(t, nil)
			sess := ws.NewSession("conn-a", "u-a", convRoom, "family:f1")

			_, err := f.svc.Send(context.Background(), sess, tt.req)
			if !errors.Is(err, pkg.ErrBadRequest) {
				t.Fatalf("err = %v, want ErrBadRequest", err)
			}
			if f.messages.count() != 0 {
				t.Error("invalid message was stored")
			}
		})
	}
}

func TestSendNonTextWithPayload(t *testing.T) {
	f := newMessageFixture(t, nil)
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	msg, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{
		RoomID:           convRoom,
		Type:             models.MessageImage,
		Metadata:         models.Metadata{"url": "https://cdn.example/1.png"},
		IdempotencyToken: "t1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Content != nil {
		t.Errorf("content = %q, want nil", *msg.Content)
	}
}

func TestSendReplyMustStayInConversation(t *testing.T) {
	f := newMessageFixture(t, nil)
	f.messages.put(models.Message{ID: "other", ConversationID: "c2", RoomID: "conversation:c2", SenderID: "u-b"})
	f.messages.put(models.Message{ID: "local", ConversationID: "c1", RoomID: convRoom, SenderID: "u-b"})
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	_, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t1", ReplyToID: text("other")})
	if !errors.Is(err, pkg.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}

	msg, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t2", ReplyToID: text("local")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ReplyToID == nil || *msg.ReplyToID != "local" {
		t.Errorf("replyToId = %v, want local", msg.ReplyToID)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	f := newMessageFixture(t, nil)
	transient := errors.New("database is locked")
	f.messages.createErrs = []error{transient, transient}
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	if _, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.messages.creates != 3 {
		t.Errorf("attempts = %d, want 3", f.messages.creates)
	}
	if f.messages.count() != 1 {
		t.Errorf("rows = %d, want 1", f.messages.count())
	}
}

func TestSendExhaustedRetriesAreRetryableAndIdempotent(t *testing.T) {
	f := newMessageFixture(t, nil)
	transient := errors.New("database is locked")
	f.messages.createErrs = []error{transient, transient, transient}
	sess := ws.NewSession("conn-a", "u-a", convRoom)
	req := ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t1"}

	_, err := f.svc.Send(context.Background(), sess, req)
	var re *pkg.RetryableError
	if !errors.As(err, &re) || re.Token != "t1" {
		t.Fatalf("err = %v, want RetryableError carrying t1", err)
	}
	if rej := pkg.Classify(err); rej.Code != pkg.CodeRetryableInternal || rej.IdempotencyToken != "t1" {
		t.Errorf("rejection = %+v", rej)
	}
	if f.messages.creates != 3 || len(f.hub.ops()) != 0 {
		t.Fatalf("attempts = %d, broadcasts = %d", f.messages.creates, len(f.hub.ops()))
	}

	first, err := f.svc.Send(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	second, err := f.svc.Send(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("second resubmit: %v", err)
	}

	if f.messages.count() != 1 {
		t.Errorf("rows = %d, want exactly 1", f.messages.count())
	}
	if first.ID != second.ID {
		t.Errorf("replay returned a new id: %s vs %s", first.ID, second.ID)
	}
}

func TestSendNotifiesOtherMembers(t *testing.T) {
	notifier := &recordingNotifier{calls: make(chan models.NotificationPayload, 1)}
	f := newMessageFixture(t, notifier)
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	msg, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case p := <-notifier.calls:
		if p.SenderID != "u-a" || p.Body != "hi" || p.Data["messageId"] != msg.ID {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification fan-out")
	}

	// A replay must not notify again.
	if _, err := f.svc.Send(context.Background(), sess, ws.SendMessageData{RoomID: convRoom, Content: text("hi"), IdempotencyToken: "t1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-notifier.calls:
		t.Fatalf("unexpected second notification %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func seedMessage(f *messageFixture) {
	f.messages.put(models.Message{
		ID:             "m1",
		ConversationID: "c1",
		RoomID:         convRoom,
		SenderID:       "u-a",
		Content:        text("hi"),
		Type:           models.MessageText,
		Metadata:       models.Metadata{"pinned": false, "lang": "en"},
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func TestUpdateMergesMetadataAndBroadcasts(t *testing.T) {
	f := newMessageFixture(t, nil)
	seedMessage(f)
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	msg, err := f.svc.Update(context.Background(), sess, ws.UpdateMessageData{
		MessageID: "m1",
		RoomID:    convRoom,
		Content:   text("hello"),
		Metadata:  models.Metadata{"pinned": true, "lang": nil},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if msg.ID != "m1" || *msg.Content != "hello" || msg.EditedAt == nil {
		t.Errorf("unexpected message %+v", msg)
	}
	if diff := cmp.Diff(models.Metadata{"pinned": true}, msg.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if got := f.hub.last(); got.Event.Op != ws.OpMessageUpdated || got.Target != convRoom {
		t.Errorf("broadcast = %+v", got)
	}
}

func TestUpdateRejections(t *testing.T) {
	tests := []struct {
		name string
		user string
		req  ws.UpdateMessageData
		want error
	}{
		{name: "not the sender", user: "u-b", req: ws.UpdateMessageData{MessageID: "m1", Content: text("x")}, want: pkg.ErrForbidden},
		{name: "unknown message", user: "u-a", req: ws.UpdateMessageData{MessageID: "nope", Content: text("x")}, want: pkg.ErrNotFound},
		{name: "different room", user: "u-a", req: ws.UpdateMessageData{MessageID: "m1", RoomID: "conversation:c2", Content: text("x")}, want: pkg.ErrNotFound},
		{name: "nothing to change", user: "u-a", req: ws.UpdateMessageData{MessageID: "m1"}, want: pkg.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMessageFixture(t, nil)
			seedMessage(f)

			_, err := f.svc.Update(context.Background(), ws.NewSession("conn", tt.user, convRoom), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.hub.ops()) != 0 {
				t.Error("a rejected edit must not broadcast")
			}
		})
	}
}

func TestDeleteBySenderOrAdmin(t *testing.T) {
	tests := []struct {
		name string
		user string
		want error
	}{
		{name: "sender", user: "u-a"},
		{name: "admin", user: "u-admin"},
		{name: "other member", user: "u-b", want: pkg.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMessageFixture(t, nil)
			seedMessage(f)

			err := f.svc.Delete(context.Background(), ws.NewSession("conn", tt.user, convRoom), ws.DeleteMessageData{MessageID: "m1"})
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("err = %v, want %v", err, tt.want)
				}
				if len(f.hub.ops()) != 0 {
					t.Error("a rejected delete must not broadcast")
				}
				return
			}
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}

			want := ws.MessageDeletedData{MessageID: "m1", ConversationID: "c1", RoomID: convRoom, DeletedBy: tt.user}
			if diff := cmp.Diff(want, f.hub.last().Event.Data); diff != "" {
				t.Errorf("broadcast mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeleteTwiceIsNotFound(t *testing.T) {
	f := newMessageFixture(t, nil)
	seedMessage(f)
	sess := ws.NewSession("conn-a", "u-a", convRoom)

	if err := f.svc.Delete(context.Background(), sess, ws.DeleteMessageData{MessageID: "m1"}); err != nil {
		t.Fatal(err)
	}
	err := f.svc.Delete(context.Background(), sess, ws.DeleteMessageData{MessageID: "m1"})
	if !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := len(f.hub.ops()); n != 1 {
		t.Errorf("broadcasts = %d, want 1", n)
	}
}
