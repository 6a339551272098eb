package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/pkg/metrics"
	"github.com/akinalp/hearth/pkg/retry"
	"github.com/akinalp/hearth/repository"
	"github.com/akinalp/hearth/ws"
)

const (
	MaxContentLength  = 4000
	MaxMetadataKeys   = 32
	notifyTimeout     = 10 * time.Second
	notificationTitle = "New message"
	previewLength     = 120
)

// MessageService is the message pipeline: validate, persist with bounded
// retry, then fan out to the conversation room.
type MessageService interface {
	Send(ctx context.Context, s *ws.Session, req ws.SendMessageData) (*models.Message, error)
	Update(ctx context.Context, s *ws.Session, req ws.UpdateMessageData) (*models.Message, error)
	Delete(ctx context.Context, s *ws.Session, req ws.DeleteMessageData) error
}

// RoomNotifier fans a notification out to the durable members of a room.
type RoomNotifier interface {
	NotifyRoomMembers(ctx context.Context, room models.RoomID, exceptUserID string, payload models.NotificationPayload) error
}

type messageService struct {
	messages   repository.MessageRepository
	reactions  repository.ReactionRepository
	membership repository.MembershipRepository
	notifier   RoomNotifier
	hub        ws.EventPublisher
	persist    retry.Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewMessageService creates the pipeline. notifier and m may be nil.
func NewMessageService(
	messages repository.MessageRepository,
	reactions repository.ReactionRepository,
	membership repository.MembershipRepository,
	notifier RoomNotifier,
	hub ws.EventPublisher,
	persist retry.Policy,
	m *metrics.Metrics,
	logger *slog.Logger,
) MessageService {
	return &messageService{
		messages:   messages,
		reactions:  reactions,
		membership: membership,
		notifier:   notifier,
		hub:        hub,
		persist:    instrument(persist, m, logger),
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// instrument counts and logs every retried durable write.
func instrument(p retry.Policy, m *metrics.Metrics, logger *slog.Logger) retry.Policy {
	p.OnRetry = func(err error, attempt int, wait time.Duration) {
		m.PersistAttempt("retry")
		logger.Warn("durable write failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	return p
}

// permanent stops retrying errors that another attempt cannot fix.
func permanent(err error) error {
	if errors.Is(err, pkg.ErrNotFound) || errors.Is(err, pkg.ErrBadRequest) ||
		errors.Is(err, pkg.ErrForbidden) || errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	return err
}

func (s *messageService) Send(ctx context.Context, sess *ws.Session, req ws.SendMessageData) (*models.Message, error) {
	room, err := models.ParseRoomID(req.RoomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}
	if room.Kind != models.RoomConversation {
		return nil, fmt.Errorf("%w: messages can only be sent to conversation rooms", pkg.ErrBadRequest)
	}
	if !sess.InRoom(req.RoomID) {
		return nil, fmt.Errorf("%w: not a member of %s", pkg.ErrForbidden, req.RoomID)
	}

	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	content, err := validateBody(msgType, req.Content, req.Metadata)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.IdempotencyToken) == "" {
		return nil, fmt.Errorf("%w: idempotencyToken is required", pkg.ErrBadRequest)
	}

	if req.ReplyToID != nil {
		if err := s.validateReply(ctx, room, *req.ReplyToID); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		ID:               uuid.NewString(),
		ConversationID:   room.ID,
		RoomID:           req.RoomID,
		SenderID:         sess.UserID,
		Content:          content,
		Type:             msgType,
		Metadata:         req.Metadata,
		ReplyToID:        req.ReplyToID,
		IdempotencyToken: req.IdempotencyToken,
		CreatedAt:        s.now(),
	}
	log := s.logger.With("message_id", msg.ID, "room", req.RoomID, "user_id", sess.UserID)
	log.Debug("message accepted", "state", models.MessagePending)

	var created bool
	err = s.persist.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		created, err = s.messages.CreateIdempotent(ctx, msg)
		return permanent(err)
	})
	if err != nil {
		s.metrics.PersistAttempt("failed")
		log.Error("message persistence abandoned", "state", models.MessageFailed, "error", err)
		if errors.Is(err, pkg.ErrBadRequest) || errors.Is(err, pkg.ErrNotFound) {
			return nil, err
		}
		return nil, &pkg.RetryableError{Token: req.IdempotencyToken, Err: err}
	}
	s.metrics.PersistAttempt("ok")
	log.Debug("message stored", "state", models.MessagePersisted, "created", created)

	if msg.IsDeleted() {
		return msg, nil
	}

	// A replay re-broadcasts the stored row; clients dedupe by id.
	groups, err := s.reactions.GetByMessageID(ctx, msg.ID)
	if err != nil {
		log.Warn("failed to load reactions for new message", "error", err)
	}
	msg.SetReactions(groups)

	s.hub.BroadcastToRoom(msg.RoomID, ws.Event{Op: ws.OpNewMessage, Data: msg})
	log.Debug("message broadcast", "state", models.MessageFannedOut)

	if created && s.notifier != nil {
		go s.notify(context.WithoutCancel(ctx), room, msg)
	}
	return msg, nil
}

func (s *messageService) notify(ctx context.Context, room models.RoomID, msg *models.Message) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	payload := models.NotificationPayload{
		Type:     "message",
		Title:    notificationTitle,
		Body:     preview(msg),
		SenderID: msg.SenderID,
		Data: models.Metadata{
			"messageId":      msg.ID,
			"conversationId": msg.ConversationID,
			"roomId":         msg.RoomID,
		},
	}
	if err := s.notifier.NotifyRoomMembers(ctx, room, msg.SenderID, payload); err != nil {
		s.logger.Warn("message notification fan-out incomplete", "message_id", msg.ID, "error", err)
	}
}

func (s *messageService) Update(ctx context.Context, sess *ws.Session, req ws.UpdateMessageData) (*models.Message, error) {
	msg, err := s.lookup(ctx, req.MessageID, req.RoomID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != sess.UserID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", pkg.ErrForbidden)
	}
	if req.Content == nil && len(req.Metadata) == 0 {
		return nil, fmt.Errorf("%w: content or metadata is required", pkg.ErrBadRequest)
	}
	if len(req.Metadata) > MaxMetadataKeys {
		return nil, fmt.Errorf("%w: metadata has more than %d keys", pkg.ErrBadRequest, MaxMetadataKeys)
	}
	content := req.Content
	if content != nil {
		content, err = validateBody(msg.Type, content, msg.Metadata.Merge(req.Metadata))
		if err != nil {
			return nil, err
		}
	}

	editedAt := s.now()
	err = s.persist.Do(ctx, func(ctx context.Context, _ int) error {
		return permanent(s.messages.Update(ctx, msg.ID, content, req.Metadata, editedAt))
	})
	if err != nil {
		s.metrics.PersistAttempt("failed")
		if errors.Is(err, pkg.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	s.metrics.PersistAttempt("ok")

	updated, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload message: %w", err)
	}
	groups, err := s.reactions.GetByMessageID(ctx, msg.ID)
	if err != nil {
		s.logger.Warn("failed to load reactions for edited message", "message_id", msg.ID, "error", err)
	}
	updated.SetReactions(groups)

	s.hub.BroadcastToRoom(updated.RoomID, ws.Event{Op: ws.OpMessageUpdated, Data: updated})
	return updated, nil
}

func (s *messageService) Delete(ctx context.Context, sess *ws.Session, req ws.DeleteMessageData) error {
	msg, err := s.lookup(ctx, req.MessageID, req.RoomID)
	if err != nil {
		return err
	}

	if msg.SenderID != sess.UserID {
		room, err := models.ParseRoomID(msg.RoomID)
		if err != nil {
			return fmt.Errorf("stored message has invalid room %q: %w", msg.RoomID, err)
		}
		admin, err := s.membership.HasAdminRole(ctx, sess.UserID, room)
		if err != nil {
			return fmt.Errorf("failed to check admin role: %w", err)
		}
		if !admin {
			return fmt.Errorf("%w: only the sender or an admin can delete a message", pkg.ErrForbidden)
		}
	}

	deletedAt := s.now()
	err = s.persist.Do(ctx, func(ctx context.Context, _ int) error {
		return permanent(s.messages.SoftDelete(ctx, msg.ID, deletedAt))
	})
	if err != nil {
		s.metrics.PersistAttempt("failed")
		if errors.Is(err, pkg.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.metrics.PersistAttempt("ok")

	s.hub.BroadcastToRoom(msg.RoomID, ws.Event{
		Op: ws.OpMessageDeleted,
		Data: ws.MessageDeletedData{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			RoomID:         msg.RoomID,
			DeletedBy:      sess.UserID,
		},
	})
	return nil
}

// lookup loads a live message. A deleted message, or one outside the claimed
// room, is reported as not found.
func (s *messageService) lookup(ctx context.Context, messageID, roomID string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() || (roomID != "" && roomID != msg.RoomID) {
		return nil, fmt.Errorf("%w: message %s", pkg.ErrNotFound, messageID)
	}
	return msg, nil
}

func (s *messageService) validateReply(ctx context.Context, room models.RoomID, replyToID string) error {
	target, err := s.messages.GetByID(ctx, replyToID)
	if errors.Is(err, pkg.ErrNotFound) {
		return fmt.Errorf("%w: reply target %s does not exist", pkg.ErrBadRequest, replyToID)
	}
	if err != nil {
		return fmt.Errorf("failed to load reply target: %w", err)
	}
	if target.ConversationID != room.ID || target.IsDeleted() {
		return fmt.Errorf("%w: reply target %s is not in this conversation", pkg.ErrBadRequest, replyToID)
	}
	return nil
}

// validateBody checks that a message carries something to show. Text needs
// non-blank content; other types carry their payload in metadata. The
// returned content is trimmed, or nil when there is none.
func validateBody(msgType models.MessageType, content *string, metadata models.Metadata) (*string, error) {
	if len(metadata) > MaxMetadataKeys {
		return nil, fmt.Errorf("%w: metadata has more than %d keys", pkg.ErrBadRequest, MaxMetadataKeys)
	}

	var trimmed *string
	if content != nil {
		if utf8.RuneCountInString(*content) > MaxContentLength {
			return nil, fmt.Errorf("%w: content exceeds %d characters", pkg.ErrBadRequest, MaxContentLength)
		}
		if t := strings.TrimSpace(*content); t != "" {
			trimmed = &t
		}
	}

	switch msgType {
	case models.MessageText:
		if trimmed == nil {
			return nil, fmt.Errorf("%w: content is required", pkg.ErrBadRequest)
		}
	default:
		if trimmed == nil && len(metadata) == 0 {
			return nil, fmt.Errorf("%w: content or payload is required", pkg.ErrBadRequest)
		}
	}
	return trimmed, nil
}

func preview(msg *models.Message) string {
	if msg.Content == nil {
		return string(msg.Type)
	}
	runes := []rune(*msg.Content)
	if len(runes) <= previewLength {
		return *msg.Content
	}
	return string(runes[:previewLength]) + "…"
}
