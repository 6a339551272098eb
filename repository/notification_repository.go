package repository

import (
	"context"
	"time"

	"github.com/akinalp/hearth/models"
)

// NotificationRepository stores one row per (notification, recipient).
//
// MarkRead only succeeds for the recipient's own notification; anything else
// is pkg.ErrNotFound so ids of other users cannot be probed.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	MarkRead(ctx context.Context, id, userID string, readAt time.Time) error
}
