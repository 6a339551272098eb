package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
)

type pgNotification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID        string          `bun:"id,pk"`
	UserID    string          `bun:"user_id,notnull"`
	Type      string          `bun:"type,notnull"`
	Title     string          `bun:"title,notnull"`
	Body      string          `bun:"body,notnull"`
	Data      models.Metadata `bun:"data,type:jsonb,notnull"`
	Status    string          `bun:"status,notnull"`
	SenderID  *string         `bun:"sender_id"`
	CreatedAt time.Time       `bun:"created_at,notnull"`
	ReadAt    *time.Time      `bun:"read_at"`
}

type pgNotificationRepo struct {
	db bun.IDB
}

// NewPostgresNotificationRepo returns the Postgres NotificationRepository.
func NewPostgresNotificationRepo(db bun.IDB) NotificationRepository {
	return &pgNotificationRepo{db: db}
}

func (r *pgNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	if n.Status == "" {
		n.Status = models.NotificationUnread
	}
	data := n.Data
	if data == nil {
		data = models.Metadata{}
	}

	_, err := r.db.NewInsert().Model(&pgNotification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Data:      data,
		Status:    string(n.Status),
		SenderID:  n.SenderID,
		CreatedAt: n.CreatedAt.UTC(),
	}).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepo) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	row := new(pgNotification)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification by id: %w", err)
	}

	return &models.Notification{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		Title:     row.Title,
		Body:      row.Body,
		Data:      row.Data,
		Status:    models.NotificationStatus(row.Status),
		SenderID:  row.SenderID,
		CreatedAt: row.CreatedAt,
		ReadAt:    row.ReadAt,
	}, nil
}

func (r *pgNotificationRepo) MarkRead(ctx context.Context, id, userID string, readAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*pgNotification)(nil)).
		Set("status = ?", string(models.NotificationRead)).
		Set("read_at = COALESCE(read_at, ?)", readAt.UTC()).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireAffected(result, "notification")
}
