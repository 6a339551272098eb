package services

import (
	"context"
	"fmt"
	"time"

	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/ws"
)

// EphemeralService relays typing and read-receipt signals to the other members
// of a room. Nothing is stored and nothing is retried.
type EphemeralService interface {
	Typing(ctx context.Context, s *ws.Session, req ws.TypingData) error
	MarkRead(ctx context.Context, s *ws.Session, req ws.MarkReadData) (*ws.ReadReceiptData, error)
}

type ephemeralService struct {
	hub ws.EventPublisher
	now func() time.Time
}

func NewEphemeralService(hub ws.EventPublisher) EphemeralService {
	return &ephemeralService{
		hub: hub,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *ephemeralService) Typing(_ context.Context, sess *ws.Session, req ws.TypingData) error {
	if !sess.InRoom(req.RoomID) {
		return fmt.Errorf("%w: not a member of %s", pkg.ErrForbidden, req.RoomID)
	}

	s.hub.BroadcastToRoomExcept(req.RoomID, sess.UserID, ws.Event{
		Op: ws.OpUserTyping,
		Data: ws.UserTypingData{
			RoomID:   req.RoomID,
			UserID:   sess.UserID,
			IsTyping: req.IsTyping,
		},
	})
	return nil
}

func (s *ephemeralService) MarkRead(_ context.Context, sess *ws.Session, req ws.MarkReadData) (*ws.ReadReceiptData, error) {
	if !sess.InRoom(req.RoomID) {
		return nil, fmt.Errorf("%w: not a member of %s", pkg.ErrForbidden, req.RoomID)
	}

	receipt := &ws.ReadReceiptData{
		RoomID:        req.RoomID,
		UserID:        sess.UserID,
		LastMessageID: req.LastMessageID,
		ReadAt:        s.now(),
	}
	s.hub.BroadcastToRoomExcept(req.RoomID, sess.UserID, ws.Event{Op: ws.OpUserReadMessages, Data: receipt})
	return receipt, nil
}
