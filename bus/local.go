package bus

import (
	"context"
	"fmt"
	"sync"
)

// Local is the single-process Bus. A publish on a subscribed topic is queued
// to Messages; anything else is dropped.
type Local struct {
	mu       sync.RWMutex
	topics   map[string]bool
	presence map[string]int64
	out      chan Message
	closed   bool
}

// NewLocal creates a Local bus whose queue holds buffer messages.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Local{
		topics:   make(map[string]bool),
		presence: make(map[string]int64),
		out:      make(chan Message, buffer),
	}
}

func (l *Local) Publish(ctx context.Context, topic string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrClosed
	}
	if !l.topics[topic] {
		return nil
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	select {
	case l.out <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

func (l *Local) Subscribe(_ context.Context, topics ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	for _, t := range topics {
		l.topics[t] = true
	}
	return nil
}

func (l *Local) Unsubscribe(_ context.Context, topics ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range topics {
		delete(l.topics, t)
	}
	return nil
}

func (l *Local) ConnectPresence(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	l.presence[userID]++
	return l.presence[userID], nil
}

// DisconnectPresence never goes below zero.
func (l *Local) DisconnectPresence(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	n := l.presence[userID] - 1
	if n <= 0 {
		delete(l.presence, userID)
		return 0, nil
	}
	l.presence[userID] = n
	return n, nil
}

func (l *Local) Messages() <-chan Message {
	return l.out
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.out)
	return nil
}
