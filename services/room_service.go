package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/pkg/cache"
	"github.com/akinalp/hearth/repository"
	"github.com/akinalp/hearth/ws"
)

// RoomService admits connections to rooms.
//
// Join checks the durable participant list before admitting; Leave is always
// allowed. Neither touches the durable list.
type RoomService interface {
	Join(ctx context.Context, s *ws.Session, roomID string) error
	Leave(ctx context.Context, s *ws.Session, roomID string) error
	DefaultRooms(ctx context.Context, userID string) ([]string, error)
	IsParticipant(ctx context.Context, userID string, room models.RoomID) (bool, error)
}

type roomService struct {
	membership   repository.MembershipRepository
	hub          ws.EventPublisher
	participants *cache.TTLCache[string, bool]
	logger       *slog.Logger
}

// NewRoomService creates the membership manager. participants caches positive
// membership answers; nil disables caching.
func NewRoomService(
	membership repository.MembershipRepository,
	hub ws.EventPublisher,
	participants *cache.TTLCache[string, bool],
	logger *slog.Logger,
) RoomService {
	return &roomService{
		membership:   membership,
		hub:          hub,
		participants: participants,
		logger:       logger,
	}
}

func (s *roomService) Join(ctx context.Context, sess *ws.Session, roomID string) error {
	room, err := models.ParseRoomID(roomID)
	if err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	ok, err := s.IsParticipant(ctx, sess.UserID, room)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		s.logger.Info("join refused", "user_id", sess.UserID, "room", roomID)
		return fmt.Errorf("%w: not a participant of %s", pkg.ErrForbidden, roomID)
	}

	return s.hub.JoinRoom(ctx, sess, roomID)
}

func (s *roomService) Leave(ctx context.Context, sess *ws.Session, roomID string) error {
	if _, err := models.ParseRoomID(roomID); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}
	return s.hub.LeaveRoom(ctx, sess, roomID)
}

// DefaultRooms is the identity's family room, if it has a family.
func (s *roomService) DefaultRooms(ctx context.Context, userID string) ([]string, error) {
	familyID, err := s.membership.FamilyOf(ctx, userID)
	if errors.Is(err, pkg.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve family: %w", err)
	}
	return []string{models.FamilyRoom(familyID)}, nil
}

// IsParticipant answers from the cache when it can. Only positive answers are
// cached so a newly added participant is admitted immediately.
func (s *roomService) IsParticipant(ctx context.Context, userID string, room models.RoomID) (bool, error) {
	load := func(ctx context.Context) (bool, error) {
		return s.membership.IsParticipant(ctx, userID, room)
	}
	if s.participants == nil {
		return load(ctx)
	}
	return s.participants.GetOrLoad(ctx, userID+"|"+room.String(), load, func(ok bool) bool { return ok })
}
