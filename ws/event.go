// Package ws is the realtime connection gateway.
//
// Every frame is JSON in both directions:
//
//	{"op": "send-message", "d": {...}, "ref": "c-17"}      client → server
//	{"op": "new-message", "d": {...}, "seq": 42}          server → client
//
// op names the event, d carries its payload, seq is a per-process monotonic
// counter on outbound frames and ref is an optional client correlation id that
// acks and rejections echo back.
package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

// Client → server operations.
const (
	OpHeartbeat               = "heartbeat"
	OpJoinRoom                = "join-room"
	OpLeaveRoom               = "leave-room"
	OpSendMessage             = "send-message"
	OpUpdateMessage           = "update-message"
	OpDeleteMessage           = "delete-message"
	OpAddReaction             = "add-reaction"
	OpRemoveReaction          = "remove-reaction"
	OpTyping                  = "typing"
	OpMarkRead                = "mark-read"
	OpNotificationSubscribe   = "notification:subscribe"
	OpNotificationUnsubscribe = "notification:unsubscribe"
	OpNotificationRead        = "notification:read"
)

// Server → client operations.
const (
	OpHeartbeatAck        = "heartbeat-ack"
	OpReady               = "ready"
	OpJoinedRoom          = "joined-room"
	OpLeftRoom            = "left-room"
	OpNewMessage          = "new-message"
	OpMessageUpdated      = "message-updated"
	OpMessageDeleted      = "message-deleted"
	OpReactionUpdated     = "reaction-updated"
	OpUserTyping          = "user-typing"
	OpMessagesMarkedRead  = "messages-marked-read"
	OpUserReadMessages    = "user-read-messages"
	OpNotification        = "notification"
	OpNotificationReadAck = "notification-read"
	OpUserPresence        = "user-presence"
	OpError               = "error"
)

// Presence statuses carried by user-presence.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is an outbound frame.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
	Ref  string `json:"ref,omitempty"`
}

// rawEvent is a frame whose payload is kept undecoded: inbound frames before
// dispatch, and outbound frames received from the bus before their seq is set.
type rawEvent struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Ref  string          `json:"ref,omitempty"`
}

// Bind decodes an event payload into T. Failures wrap pkg.ErrBadRequest.
func Bind[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, fmt.Errorf("%w: missing payload", pkg.ErrBadRequest)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: malformed payload: %v", pkg.ErrBadRequest, err)
	}
	return v, nil
}

// ─── Inbound payloads ───

type RoomData struct {
	RoomID string `json:"roomId" validate:"required,roomid"`
}

// SendMessageData is the send-message payload. Text messages need Content;
// other types carry their payload in Metadata.
type SendMessageData struct {
	RoomID           string             `json:"roomId" validate:"required,roomid"`
	Content          *string            `json:"content" validate:"omitempty,max=4000"`
	Type             models.MessageType `json:"type" validate:"omitempty,oneof=text image video audio file system"`
	Metadata         models.Metadata    `json:"metadata" validate:"omitempty,max=32"`
	ReplyToID        *string            `json:"replyToId"`
	IdempotencyToken string             `json:"idempotencyToken" validate:"required,max=128"`
}

// UpdateMessageData is the update-message payload. RoomID, when given, must be
// the message's room.
type UpdateMessageData struct {
	MessageID string          `json:"messageId" validate:"required"`
	RoomID    string          `json:"roomId" validate:"omitempty,roomid"`
	Content   *string         `json:"content" validate:"omitempty,max=4000"`
	Metadata  models.Metadata `json:"metadata" validate:"omitempty,max=32"`
}

type DeleteMessageData struct {
	MessageID string `json:"messageId" validate:"required"`
	RoomID    string `json:"roomId" validate:"omitempty,roomid"`
}

type ReactionData struct {
	MessageID string `json:"messageId" validate:"required"`
	RoomID    string `json:"roomId" validate:"omitempty,roomid"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

type TypingData struct {
	RoomID   string `json:"roomId" validate:"required,roomid"`
	IsTyping bool   `json:"isTyping"`
}

type MarkReadData struct {
	RoomID        string `json:"roomId" validate:"required,roomid"`
	LastMessageID string `json:"lastMessageId" validate:"required"`
}

type NotificationReadData struct {
	NotificationID string `json:"notificationId" validate:"required"`
}

// ─── Outbound payloads ───

// ReadyData is sent once after the connection is attached.
type ReadyData struct {
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId"`
	Rooms        []string `json:"rooms"`
	OnlineUsers  []string `json:"onlineUsers"`
}

type PresenceData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// MessageDeletedData never carries the deleted content.
type MessageDeletedData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	RoomID         string `json:"roomId"`
	DeletedBy      string `json:"deletedBy"`
}

// ReactionUpdatedData is the full aggregate of a message after a change.
type ReactionUpdatedData struct {
	MessageID      string                 `json:"messageId"`
	ConversationID string                 `json:"conversationId"`
	RoomID         string                 `json:"roomId"`
	Reactions      []models.ReactionGroup `json:"reactions"`
	Counts         map[string]int         `json:"counts"`
	ActorID        string                 `json:"actorId"`
}

type UserTypingData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadReceiptData struct {
	RoomID        string    `json:"roomId"`
	UserID        string    `json:"userId"`
	LastMessageID string    `json:"lastMessageId"`
	ReadAt        time.Time `json:"readAt"`
}

type NotificationReadAckData struct {
	NotificationID string    `json:"notificationId"`
	ReadAt         time.Time `json:"readAt"`
}

// ErrorData is the payload of a rejection frame. Op is the rejected event.
type ErrorData struct {
	pkg.Rejection
	Op string `json:"op,omitempty"`
}
