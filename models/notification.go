package models

import "time"

type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// Notification is a durable per-recipient notice.
type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	Data      Metadata           `json:"data,omitempty"`
	Status    NotificationStatus `json:"status"`
	SenderID  *string            `json:"senderId,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	ReadAt    *time.Time         `json:"readAt,omitempty"`
}

// NotificationPayload is what a producer hands to the fan-out.
type NotificationPayload struct {
	Type     string
	Title    string
	Body     string
	Data     Metadata
	SenderID string
}
