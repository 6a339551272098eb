// Package bus carries room and identity broadcasts between gateway processes.
//
// Every process publishes each broadcast once and re-emits whatever arrives on
// the topics it subscribed to, its own publishes included. Delivery is
// at-least-once with no ordering guarantee across publishers.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is one payload received on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is a topic-based pub/sub transport.
//
// Subscribe and Unsubscribe are idempotent. Subscribe returns once the topics
// are live: a publish made after it returns reaches this subscriber. Messages
// returns the single stream of received payloads; it is closed by Close.
//
// ConnectPresence and DisconnectPresence keep a count shared by every process
// on the bus. Each process adds one while it holds at least one connection of
// userID, so the identity is online exactly while the count is positive.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Messages() <-chan Message
	Close() error

	ConnectPresence(ctx context.Context, userID string) (int64, error)
	DisconnectPresence(ctx context.Context, userID string) (int64, error)
}

// RoomTopic is the topic of a room broadcast.
func RoomTopic(roomID string) string { return "room:" + roomID }

// PresenceKey is the key of userID's shared presence count.
func PresenceKey(userID string) string { return "presence:" + userID }

// UserTopic is the topic of everything addressed to one identity.
func UserTopic(userID string) string { return "user:" + userID }
