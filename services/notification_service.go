package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/pkg/metrics"
	"github.com/akinalp/hearth/pkg/retry"
	"github.com/akinalp/hearth/repository"
	"github.com/akinalp/hearth/ws"
)

// NotificationService persists one notification row per recipient and pushes
// it to every connection of that recipient on every process.
type NotificationService interface {
	NotifyIdentity(ctx context.Context, userID string, payload models.NotificationPayload) (*models.Notification, error)
	NotifyRoomMembers(ctx context.Context, room models.RoomID, exceptUserID string, payload models.NotificationPayload) error
	MarkRead(ctx context.Context, s *ws.Session, req ws.NotificationReadData) (*ws.NotificationReadAckData, error)
	Subscribe(s *ws.Session)
	Unsubscribe(s *ws.Session)
}

type notificationService struct {
	notifications repository.NotificationRepository
	membership    repository.MembershipRepository
	hub           ws.EventPublisher
	persist       retry.Policy
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	membership repository.MembershipRepository,
	hub ws.EventPublisher,
	persist retry.Policy,
	m *metrics.Metrics,
	logger *slog.Logger,
) NotificationService {
	return &notificationService{
		notifications: notifications,
		membership:    membership,
		hub:           hub,
		persist:       instrument(persist, m, logger),
		metrics:       m,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// NotifyIdentity stores the notification, then pushes it. The push reaches
// whoever is connected anywhere; an offline recipient finds the row later.
func (s *notificationService) NotifyIdentity(ctx context.Context, userID string, payload models.NotificationPayload) (*models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: recipient is required", pkg.ErrBadRequest)
	}
	if payload.Type == "" || payload.Title == "" {
		return nil, fmt.Errorf("%w: notification type and title are required", pkg.ErrBadRequest)
	}

	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      payload.Type,
		Title:     payload.Title,
		Body:      payload.Body,
		Data:      payload.Data,
		Status:    models.NotificationUnread,
		CreatedAt: s.now(),
	}
	if payload.SenderID != "" {
		sender := payload.SenderID
		n.SenderID = &sender
	}

	err := s.persist.Do(ctx, func(ctx context.Context, _ int) error {
		return permanent(s.notifications.Create(ctx, n))
	})
	if err != nil {
		s.metrics.PersistAttempt("failed")
		return nil, fmt.Errorf("failed to store notification for %s: %w", userID, err)
	}
	s.metrics.PersistAttempt("ok")

	s.hub.PushNotification(userID, ws.Event{Op: ws.OpNotification, Data: n})
	return n, nil
}

// NotifyRoomMembers notifies every durable member of room except exceptUserID.
// Recipients are independent: one failure does not stop the others, and the
// failures are returned joined.
func (s *notificationService) NotifyRoomMembers(ctx context.Context, room models.RoomID, exceptUserID string, payload models.NotificationPayload) error {
	members, err := s.membership.ListMembers(ctx, room)
	if err != nil {
		return fmt.Errorf("failed to list members of %s: %w", room, err)
	}

	var errs []error
	for _, userID := range members {
		if userID == exceptUserID {
			continue
		}
		if _, err := s.NotifyIdentity(ctx, userID, payload); err != nil {
			s.logger.Warn("notification not delivered", "user_id", userID, "room", room.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarkRead marks the caller's own notification read. Marking it again keeps
// the first read time.
func (s *notificationService) MarkRead(ctx context.Context, sess *ws.Session, req ws.NotificationReadData) (*ws.NotificationReadAckData, error) {
	readAt := s.now()
	if err := s.notifications.MarkRead(ctx, req.NotificationID, sess.UserID, readAt); err != nil {
		return nil, err
	}

	n, err := s.notifications.GetByID(ctx, req.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload notification: %w", err)
	}
	if n.ReadAt != nil {
		readAt = *n.ReadAt
	}
	return &ws.NotificationReadAckData{NotificationID: n.ID, ReadAt: readAt}, nil
}

func (s *notificationService) Subscribe(sess *ws.Session) {
	sess.SetNotifications(true)
}

// Unsubscribe stops pushes to this connection only. Rows are still stored.
func (s *notificationService) Unsubscribe(sess *ws.Session) {
	sess.SetNotifications(false)
}
