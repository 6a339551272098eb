package models

import (
	"time"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// MessageState tracks a message through the send pipeline.
// pending → persisted → fanned-out, or pending → failed.
type MessageState string

const (
	MessagePending   MessageState = "pending"
	MessagePersisted MessageState = "persisted"
	MessageFannedOut MessageState = "fanned-out"
	MessageFailed    MessageState = "failed"
)

// Message is a chat message in a conversation.
//
// Content is nil for non-text messages whose payload lives in Metadata.
// IdempotencyToken stays server-side: only the sender knows it, and it gets
// it back in a retryable rejection, never in a room broadcast.
// A soft-deleted message keeps its row with DeletedAt set; it is never sent to
// clients with its content again.
type Message struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"conversationId"`
	RoomID           string          `json:"roomId"`
	SenderID         string          `json:"senderId"`
	Content          *string         `json:"content"`
	Type             MessageType     `json:"type"`
	Metadata         Metadata        `json:"metadata,omitempty"`
	ReplyToID        *string         `json:"replyToId,omitempty"`
	IdempotencyToken string          `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
	EditedAt         *time.Time      `json:"editedAt,omitempty"`
	DeletedAt        *time.Time      `json:"-"`
	Reactions        []ReactionGroup `json:"reactions"`
	ReactionCounts   map[string]int  `json:"reactionCounts"`
}

// IsDeleted reports whether the message was soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// SetReactions attaches a reaction aggregate and its emoji → count view.
func (m *Message) SetReactions(groups []ReactionGroup) {
	if groups == nil {
		groups = []ReactionGroup{}
	}
	m.Reactions = groups
	m.ReactionCounts = ReactionCounts(groups)
}
