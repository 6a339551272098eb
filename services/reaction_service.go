package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/repository"
	"github.com/akinalp/hearth/ws"
)

const MaxEmojiLength = 32

// ReactionService is the reaction ledger. Every change broadcasts the full
// aggregate of the message, never a delta.
type ReactionService interface {
	Add(ctx context.Context, s *ws.Session, req ws.ReactionData) (*ws.ReactionUpdatedData, error)
	Remove(ctx context.Context, s *ws.Session, req ws.ReactionData) (*ws.ReactionUpdatedData, error)
}

type reactionService struct {
	reactions repository.ReactionRepository
	messages  repository.MessageRepository
	hub       ws.EventPublisher
	logger    *slog.Logger
}

func NewReactionService(
	reactions repository.ReactionRepository,
	messages repository.MessageRepository,
	hub ws.EventPublisher,
	logger *slog.Logger,
) ReactionService {
	return &reactionService{
		reactions: reactions,
		messages:  messages,
		hub:       hub,
		logger:    logger,
	}
}

// Add writes or replaces the caller's reaction. Adding the same emoji twice
// leaves one reaction.
func (s *reactionService) Add(ctx context.Context, sess *ws.Session, req ws.ReactionData) (*ws.ReactionUpdatedData, error) {
	msg, emoji, err := s.target(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	if err := s.reactions.Upsert(ctx, msg.ID, sess.UserID, emoji); err != nil {
		return nil, fmt.Errorf("failed to add reaction: %w", err)
	}
	return s.broadcast(ctx, msg, sess.UserID)
}

// Remove deletes the caller's reaction if it is emoji. Removing a reaction
// that does not exist succeeds and broadcasts nothing.
func (s *reactionService) Remove(ctx context.Context, sess *ws.Session, req ws.ReactionData) (*ws.ReactionUpdatedData, error) {
	msg, emoji, err := s.target(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	removed, err := s.reactions.Remove(ctx, msg.ID, sess.UserID, emoji)
	if err != nil {
		return nil, fmt.Errorf("failed to remove reaction: %w", err)
	}
	if !removed {
		return nil, nil
	}
	return s.broadcast(ctx, msg, sess.UserID)
}

// target validates the request and loads the message it points at. The caller
// must be in the message's room.
func (s *reactionService) target(ctx context.Context, sess *ws.Session, req ws.ReactionData) (*models.Message, string, error) {
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return nil, "", fmt.Errorf("%w: emoji is required", pkg.ErrBadRequest)
	}
	if utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return nil, "", fmt.Errorf("%w: emoji too long", pkg.ErrBadRequest)
	}

	msg, err := s.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		return nil, "", err
	}
	if msg.IsDeleted() || (req.RoomID != "" && req.RoomID != msg.RoomID) {
		return nil, "", fmt.Errorf("%w: message %s", pkg.ErrNotFound, req.MessageID)
	}
	if !sess.InRoom(msg.RoomID) {
		return nil, "", fmt.Errorf("%w: not a member of %s", pkg.ErrForbidden, msg.RoomID)
	}
	return msg, emoji, nil
}

func (s *reactionService) broadcast(ctx context.Context, msg *models.Message, actorID string) (*ws.ReactionUpdatedData, error) {
	groups, err := s.reactions.GetByMessageID(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reactions: %w", err)
	}
	if groups == nil {
		groups = []models.ReactionGroup{}
	}

	data := &ws.ReactionUpdatedData{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		RoomID:         msg.RoomID,
		Reactions:      groups,
		Counts:         models.ReactionCounts(groups),
		ActorID:        actorID,
	}
	s.hub.BroadcastToRoom(msg.RoomID, ws.Event{Op: ws.OpReactionUpdated, Data: data})
	return data, nil
}
