package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akinalp/hearth/database"
	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

type sqliteNotificationRepo struct {
	db database.TxQuerier
}

// NewSQLiteNotificationRepo returns the SQLite NotificationRepository.
func NewSQLiteNotificationRepo(db database.TxQuerier) NotificationRepository {
	return &sqliteNotificationRepo{db: db}
}

func (r *sqliteNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	if n.Status == "" {
		n.Status = models.NotificationUnread
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, data, status, sender_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.Data, string(n.Status), n.SenderID, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *sqliteNotificationRepo) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	var status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, title, body, data, status, sender_id, created_at, read_at
		FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Data, &status, &n.SenderID, &n.CreatedAt, &n.ReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification by id: %w", err)
	}

	n.Status = models.NotificationStatus(status)
	return &n, nil
}

// MarkRead is idempotent for the owner: marking a read notification again
// keeps the first read_at.
func (r *sqliteNotificationRepo) MarkRead(ctx context.Context, id, userID string, readAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, read_at = COALESCE(read_at, ?)
		WHERE id = ? AND user_id = ?`,
		string(models.NotificationRead), readAt.UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}

	return requireAffected(result, "notification")
}
