package main

import (
	"context"
	"encoding/json"

	"github.com/akinalp/hearth/pkg/validate"
	"github.com/akinalp/hearth/ws"
)

// handle decodes and validates a payload of type T before calling fn.
func handle[T any](v *validate.Validator, fn func(ctx context.Context, s *ws.Session, req T) (*ws.Event, error)) ws.EventHandler {
	return func(ctx context.Context, s *ws.Session, data json.RawMessage) (*ws.Event, error) {
		req, err := ws.Bind[T](data)
		if err != nil {
			return nil, err
		}
		if err := v.Struct(req); err != nil {
			return nil, err
		}
		return fn(ctx, s, req)
	}
}

// registerEventHandlers routes every client op to its service.
//
// Durable ops answer with their broadcast only; the sender is a member of the
// room and receives it like everyone else. Typing and mark-read are
// ephemeral: their failures are dropped instead of reported.
func registerEventHandlers(hub *ws.Hub, svc *Services, v *validate.Validator) {
	// ─── Rooms ───

	hub.On(ws.OpJoinRoom, handle(v, func(ctx context.Context, s *ws.Session, req ws.RoomData) (*ws.Event, error) {
		if err := svc.Room.Join(ctx, s, req.RoomID); err != nil {
			return nil, err
		}
		return &ws.Event{Op: ws.OpJoinedRoom, Data: req}, nil
	}))

	hub.On(ws.OpLeaveRoom, handle(v, func(ctx context.Context, s *ws.Session, req ws.RoomData) (*ws.Event, error) {
		if err := svc.Room.Leave(ctx, s, req.RoomID); err != nil {
			return nil, err
		}
		return &ws.Event{Op: ws.OpLeftRoom, Data: req}, nil
	}))

	// ─── Messages ───

	hub.On(ws.OpSendMessage, handle(v, func(ctx context.Context, s *ws.Session, req ws.SendMessageData) (*ws.Event, error) {
		_, err := svc.Message.Send(ctx, s, req)
		return nil, err
	}))

	hub.On(ws.OpUpdateMessage, handle(v, func(ctx context.Context, s *ws.Session, req ws.UpdateMessageData) (*ws.Event, error) {
		_, err := svc.Message.Update(ctx, s, req)
		return nil, err
	}))

	hub.On(ws.OpDeleteMessage, handle(v, func(ctx context.Context, s *ws.Session, req ws.DeleteMessageData) (*ws.Event, error) {
		return nil, svc.Message.Delete(ctx, s, req)
	}))

	// ─── Reactions ───

	hub.On(ws.OpAddReaction, handle(v, func(ctx context.Context, s *ws.Session, req ws.ReactionData) (*ws.Event, error) {
		_, err := svc.Reaction.Add(ctx, s, req)
		return nil, err
	}))

	hub.On(ws.OpRemoveReaction, handle(v, func(ctx context.Context, s *ws.Session, req ws.ReactionData) (*ws.Event, error) {
		_, err := svc.Reaction.Remove(ctx, s, req)
		return nil, err
	}))

	// ─── Ephemeral ───

	hub.OnEphemeral(ws.OpTyping, handle(v, func(ctx context.Context, s *ws.Session, req ws.TypingData) (*ws.Event, error) {
		return nil, svc.Ephemeral.Typing(ctx, s, req)
	}))

	hub.OnEphemeral(ws.OpMarkRead, handle(v, func(ctx context.Context, s *ws.Session, req ws.MarkReadData) (*ws.Event, error) {
		receipt, err := svc.Ephemeral.MarkRead(ctx, s, req)
		if err != nil {
			return nil, err
		}
		return &ws.Event{Op: ws.OpMessagesMarkedRead, Data: receipt}, nil
	}))

	// ─── Notifications ───

	hub.On(ws.OpNotificationSubscribe, func(_ context.Context, s *ws.Session, _ json.RawMessage) (*ws.Event, error) {
		svc.Notification.Subscribe(s)
		return nil, nil
	})

	hub.On(ws.OpNotificationUnsubscribe, func(_ context.Context, s *ws.Session, _ json.RawMessage) (*ws.Event, error) {
		svc.Notification.Unsubscribe(s)
		return nil, nil
	})

	hub.On(ws.OpNotificationRead, handle(v, func(ctx context.Context, s *ws.Session, req ws.NotificationReadData) (*ws.Event, error) {
		ack, err := svc.Notification.MarkRead(ctx, s, req)
		if err != nil {
			return nil, err
		}
		return &ws.Event{Op: ws.OpNotificationReadAck, Data: ack}, nil
	}))
}
