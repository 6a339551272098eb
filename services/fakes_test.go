package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/ws"
)

// published is one broadcast seen by fakePublisher.
type published struct {
	Kind   string // room, room-except, user, notification
	Target string
	Except string
	Event  ws.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	joins  []string
	leaves []string
}

func (p *fakePublisher) record(e published) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) BroadcastToRoom(room string, event ws.Event) {
	p.record(published{Kind: "room", Target: room, Event: event})
}

func (p *fakePublisher) BroadcastToRoomExcept(room, exceptUserID string, event ws.Event) {
	p.record(published{Kind: "room-except", Target: room, Except: exceptUserID, Event: event})
}

func (p *fakePublisher) BroadcastToUser(userID string, event ws.Event) {
	p.record(published{Kind: "user", Target: userID, Event: event})
}

func (p *fakePublisher) PushNotification(userID string, event ws.Event) {
	p.record(published{Kind: "notification", Target: userID, Event: event})
}

func (p *fakePublisher) JoinRoom(_ context.Context, s *ws.Session, room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins = append(p.joins, s.ConnID+"→"+room)
	return nil
}

func (p *fakePublisher) LeaveRoom(_ context.Context, s *ws.Session, room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaves = append(p.leaves, s.ConnID+"→"+room)
	return nil
}

func (p *fakePublisher) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ops := make([]string, len(p.events))
	for i, e := range p.events {
		ops[i] = e.Event.Op
	}
	return ops
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// fakeMessages is an in-memory MessageRepository. Errors queued in createErrs
// are returned by successive CreateIdempotent calls before any insert.
type fakeMessages struct {
	mu         sync.Mutex
	rows       map[string]*models.Message
	createErrs []error
	creates    int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: make(map[string]*models.Message)}
}

func (f *fakeMessages) CreateIdempotent(_ context.Context, msg *models.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return false, err
	}

	for _, row := range f.rows {
		if row.ConversationID == msg.ConversationID && row.SenderID == msg.SenderID &&
			row.IdempotencyToken == msg.IdempotencyToken {
			*msg = *row
			return false, nil
		}
	}
	stored := *msg
	f.rows[msg.ID] = &stored
	return true, nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	out := *row
	return &out, nil
}

func (f *fakeMessages) Update(_ context.Context, id string, content *string, patch models.Metadata, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok || row.IsDeleted() {
		return fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	if content != nil {
		c := *content
		row.Content = &c
	}
	row.Metadata = row.Metadata.Merge(patch)
	row.EditedAt = &editedAt
	return nil
}

func (f *fakeMessages) SoftDelete(_ context.Context, id string, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok || row.IsDeleted() {
		return fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	row.DeletedAt = &deletedAt
	return nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeMessages) put(msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[msg.ID] = &msg
}

// fakeReactions keeps one emoji per (message, user).
type fakeReactions struct {
	mu   sync.Mutex
	rows map[string]map[string]string // messageID → userID → emoji
}

func newFakeReactions() *fakeReactions {
	return &fakeReactions{rows: make(map[string]map[string]string)}
}

func (f *fakeReactions) Upsert(_ context.Context, messageID, userID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rows[messageID] == nil {
		f.rows[messageID] = make(map[string]string)
	}
	f.rows[messageID][userID] = emoji
	return nil
}

func (f *fakeReactions) Remove(_ context.Context, messageID, userID, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rows[messageID][userID] != emoji {
		return false, nil
	}
	delete(f.rows[messageID], userID)
	return true, nil
}

func (f *fakeReactions) GetByMessageID(_ context.Context, messageID string) ([]models.ReactionGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byEmoji := map[string][]string{}
	for user, emoji := range f.rows[messageID] {
		byEmoji[emoji] = append(byEmoji[emoji], user)
	}

	groups := []models.ReactionGroup{}
	for emoji, users := range byEmoji {
		slices.Sort(users)
		groups = append(groups, models.ReactionGroup{Emoji: emoji, Count: len(users), Users: users})
	}
	slices.SortFunc(groups, func(a, b models.ReactionGroup) int { return strings.Compare(a.Emoji, b.Emoji) })
	return groups, nil
}

type fakeNotifications struct {
	mu      sync.Mutex
	rows    map[string]*models.Notification
	failFor map[string]error
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{rows: make(map[string]*models.Notification), failFor: make(map[string]error)}
}

func (f *fakeNotifications) Create(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFor[n.UserID]; err != nil {
		return err
	}
	stored := *n
	f.rows[n.ID] = &stored
	return nil
}

func (f *fakeNotifications) GetByID(_ context.Context, id string) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification", pkg.ErrNotFound)
	}
	out := *n
	return &out, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, id, userID string, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.rows[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("%w: notification", pkg.ErrNotFound)
	}
	n.Status = models.NotificationRead
	if n.ReadAt == nil {
		n.ReadAt = &readAt
	}
	return nil
}

func (f *fakeNotifications) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for _, n := range f.rows {
		ids = append(ids, n.UserID)
	}
	slices.Sort(ids)
	return ids
}

// fakeMembership maps room → user → role.
type fakeMembership struct {
	rooms    map[string]map[string]string
	families map[string]string
	calls    int
}

func (f *fakeMembership) IsParticipant(_ context.Context, userID string, room models.RoomID) (bool, error) {
	f.calls++
	_, ok := f.rooms[room.String()][userID]
	return ok, nil
}

func (f *fakeMembership) ListMembers(_ context.Context, room models.RoomID) ([]string, error) {
	var ids []string
	for id := range f.rooms[room.String()] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeMembership) HasAdminRole(_ context.Context, userID string, room models.RoomID) (bool, error) {
	role := f.rooms[room.String()][userID]
	return role == "admin" || role == "owner", nil
}

func (f *fakeMembership) FamilyOf(_ context.Context, userID string) (string, error) {
	id, ok := f.families[userID]
	if !ok {
		return "", fmt.Errorf("%w: family", pkg.ErrNotFound)
	}
	return id, nil
}
