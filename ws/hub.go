package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/hearth/bus"
	"github.com/akinalp/hearth/models"
	"github.com/akinalp/hearth/pkg"
	"github.com/akinalp/hearth/pkg/metrics"
	"github.com/akinalp/hearth/pkg/ratelimit"
)

const (
	handlerTimeout = 10 * time.Second
	busTimeout     = 2 * time.Second
)

// EventPublisher is what the services see of the Hub.
//
// Broadcasts are fire-and-forget: they are published once on the bus and every
// gateway process, this one included, delivers them to its own connections.
// If the bus is unavailable the event still reaches the local connections.
type EventPublisher interface {
	BroadcastToRoom(room string, event Event)
	BroadcastToRoomExcept(room, exceptUserID string, event Event)
	BroadcastToUser(userID string, event Event)
	PushNotification(userID string, event Event)
	JoinRoom(ctx context.Context, s *Session, room string) error
	LeaveRoom(ctx context.Context, s *Session, room string) error
}

// EventHandler handles one inbound op for a session. A non-nil Event is sent
// back to the sender as the ack; an error becomes a rejection frame.
type EventHandler func(ctx context.Context, s *Session, data json.RawMessage) (*Event, error)

type route struct {
	handle    EventHandler
	ephemeral bool
}

// envelope is the frame carried on the bus. Exactly one of Room and User is set.
type envelope struct {
	Origin       string          `json:"origin"`
	Room         string          `json:"room,omitempty"`
	User         string          `json:"user,omitempty"`
	ExceptUser   string          `json:"exceptUser,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	Event        json.RawMessage `json:"event"`
}

// Hub owns the connections of this process: who is connected, which rooms
// each connection joined, and which bus topics the process listens to.
//
// A broadcast call delivers nothing by itself while the bus works. Every
// broadcast is published on the bus and comes back through Run, on this
// process as on every other one.
//
// Presence has two levels. presence counts the connections of each identity
// on this process; the bus counts the processes holding at least one of them.
// Only the shared count decides when online and offline are announced.
//
// Lock order is subMu before mu. subMu serialises every change that may
// subscribe or unsubscribe a bus topic or move a presence count; mu guards the
// indexes and is never held across a bus call.
type Hub struct {
	// origin identifies this process in bus envelopes. It is only used for
	// logging; every process delivers its own broadcasts like any other.
	origin string

	// bus carries broadcasts between processes and holds the shared
	// presence counts.
	bus bus.Bus

	// limiter admits inbound events per connection. nil disables it.
	limiter *ratelimit.EventRateLimiter

	// metrics is nil-safe; a nil value records nothing.
	metrics *metrics.Metrics

	// presence counts local connections per identity.
	presence *Presence

	logger *slog.Logger

	// subMu guards topics and orders presence transitions.
	subMu sync.Mutex
	// topics counts the local listeners of each bus topic. A topic is
	// subscribed on its first listener and unsubscribed after its last.
	topics map[string]int

	// mu guards the three indexes below. Broadcast delivery holds it for
	// reading, attach and detach hold it for writing.
	mu sync.RWMutex
	// clients maps a connection id to its client.
	clients map[string]*Client
	// users maps an identity to all of its local connections. BroadcastToUser
	// and PushNotification deliver through it.
	users map[string]map[*Client]struct{}
	// rooms maps a room id to the local connections that joined it.
	rooms map[string]map[*Client]struct{}

	// routes maps an inbound op to its handler. It is filled by On and
	// OnEphemeral before Run starts and only read afterwards.
	routes map[string]route

	// seq numbers outbound frames. It is per process, so a client sees a
	// strictly increasing seq for as long as its connection lives.
	seq atomic.Int64
}

// NewHub creates a Hub on b. limiter and m may be nil.
func NewHub(b bus.Bus, limiter *ratelimit.EventRateLimiter, m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		origin:   uuid.NewString(),
		bus:      b,
		limiter:  limiter,
		metrics:  m,
		presence: NewPresence(),
		logger:   logger,
		topics:   make(map[string]int),
		clients:  make(map[string]*Client),
		users:    make(map[string]map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		routes:   make(map[string]route),
	}
}

// On registers the handler of a durable op. Its failures are reported to the
// sender and rate-limit hits are rejected with the reset time.
func (h *Hub) On(op string, handle EventHandler) {
	h.routes[op] = route{handle: handle}
}

// OnEphemeral registers the handler of a best-effort op. Its failures and
// rate-limit hits are dropped without telling the sender.
func (h *Hub) OnEphemeral(op string, handle EventHandler) {
	h.routes[op] = route{handle: handle, ephemeral: true}
}

// OnlineCount is the number of identities with a connection on this process.
func (h *Hub) OnlineCount() int {
	return h.presence.Len()
}

// Run delivers bus traffic to local connections until ctx is done or the bus
// is closed.
func (h *Hub) Run(ctx context.Context) {
	msgs := h.bus.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				h.logger.Warn("dropping malformed bus frame", "topic", msg.Topic, "error", err)
				continue
			}
			h.deliver(env)
		}
	}
}

// Shutdown disconnects every local connection. Each one is detached normally,
// so the shared presence counts drop and other processes see the identities
// go offline.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.detach(c)
	}

	h.logger.Info("hub shut down", "connections", len(clients))
}

// ClientCount is the number of local connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ─── Connection lifecycle ───

// attach registers an authenticated connection, joins its default rooms,
// announces the identity if this is its first connection and sends ready.
func (h *Hub) attach(ctx context.Context, c *Client, rooms []string) error {
	s := c.session

	h.subMu.Lock()
	h.mu.Lock()
	h.clients[s.ConnID] = c
	addMember(h.users, s.UserID, c)
	for _, room := range rooms {
		if s.join(room) {
			addMember(h.rooms, room, c)
		}
	}
	h.mu.Unlock()

	topics := []string{bus.UserTopic(s.UserID)}
	for _, room := range s.Rooms() {
		topics = append(topics, bus.RoomTopic(room))
	}
	if err := h.subscribe(ctx, topics); err != nil {
		h.mu.Lock()
		h.unindex(c)
		h.mu.Unlock()
		h.subMu.Unlock()
		return err
	}
	first := h.presence.Connect(s.UserID) && h.sharedConnect(ctx, s.UserID)
	h.subMu.Unlock()

	h.metrics.ConnectionOpened()
	if first {
		h.announce(s, StatusOnline)
	}

	h.sendEvent(c, Event{Op: OpReady, Data: ReadyData{
		ConnectionID: s.ConnID,
		UserID:       s.UserID,
		Rooms:        s.Rooms(),
		OnlineUsers:  h.onlineFamily(s),
	}})

	h.logger.Info("client attached", "conn_id", s.ConnID, "user_id", s.UserID, "rooms", len(rooms))
	return nil
}

// detach removes a connection and releases its rooms. It is safe to call more
// than once; only the first call has any effect.
func (h *Hub) detach(c *Client) {
	s := c.session

	h.subMu.Lock()
	h.mu.Lock()
	rooms, ok := h.unindex(c)
	h.mu.Unlock()
	if !ok {
		h.subMu.Unlock()
		return
	}

	topics := []string{bus.UserTopic(s.UserID)}
	for _, room := range rooms {
		topics = append(topics, bus.RoomTopic(room))
	}
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	h.unsubscribe(ctx, topics)
	last := h.presence.Disconnect(s.UserID) && h.sharedDisconnect(ctx, s.UserID)
	cancel()
	h.subMu.Unlock()

	if h.limiter != nil {
		h.limiter.Forget(s.ConnID)
	}
	h.metrics.ConnectionClosed()

	if last {
		h.announce(s, StatusOffline)
	}

	h.logger.Info("client detached", "conn_id", s.ConnID, "user_id", s.UserID)
}

// unindex removes c from the indexes and closes its send buffer. ok is false
// when c was not registered. Callers hold mu.
func (h *Hub) unindex(c *Client) (rooms []string, ok bool) {
	s := c.session
	if h.clients[s.ConnID] != c {
		return nil, false
	}
	delete(h.clients, s.ConnID)
	removeMember(h.users, s.UserID, c)
	rooms = s.Rooms()
	for _, room := range rooms {
		removeMember(h.rooms, room, c)
	}
	close(c.send)
	return rooms, true
}

// sharedConnect counts this process in the shared presence of userID after
// its first local connection. It reports whether the identity was offline
// everywhere before. When the bus cannot count, the local transition decides.
// Callers hold subMu.
func (h *Hub) sharedConnect(ctx context.Context, userID string) bool {
	n, err := h.bus.ConnectPresence(ctx, userID)
	if err != nil {
		h.logger.Warn("shared presence unavailable, announcing local transition", "user_id", userID, "error", err)
		return true
	}
	return n == 1
}

// sharedDisconnect is the reverse of sharedConnect, called after the last
// local connection of userID is gone. Callers hold subMu.
func (h *Hub) sharedDisconnect(ctx context.Context, userID string) bool {
	n, err := h.bus.DisconnectPresence(ctx, userID)
	if err != nil {
		h.logger.Warn("shared presence unavailable, announcing local transition", "user_id", userID, "error", err)
		return true
	}
	return n == 0
}

// announce tells the identity's family rooms about a presence transition.
func (h *Hub) announce(s *Session, status string) {
	for _, room := range s.Rooms() {
		if !models.IsFamilyRoom(room) {
			continue
		}
		h.BroadcastToRoomExcept(room, s.UserID, Event{
			Op:   OpUserPresence,
			Data: PresenceData{UserID: s.UserID, Status: status},
		})
	}
}

// onlineFamily lists the online identities connected to this process that
// share a family room with s, s itself excluded.
func (h *Hub) onlineFamily(s *Session) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, room := range s.Rooms() {
		if !models.IsFamilyRoom(room) {
			continue
		}
		for c := range h.rooms[room] {
			id := c.session.UserID
			if id != s.UserID && h.presence.IsOnline(id) {
				seen[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ─── Rooms ───

// JoinRoom adds the session's connection to room. Joining twice is a no-op.
func (h *Hub) JoinRoom(ctx context.Context, s *Session, room string) error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	c, ok := h.clients[s.ConnID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: connection %s", pkg.ErrNotFound, s.ConnID)
	}
	if !s.join(room) {
		h.mu.Unlock()
		return nil
	}
	addMember(h.rooms, room, c)
	h.mu.Unlock()

	if err := h.subscribe(ctx, []string{bus.RoomTopic(room)}); err != nil {
		h.mu.Lock()
		s.leave(room)
		removeMember(h.rooms, room, c)
		h.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom removes the session's connection from room. Leaving a room the
// connection is not in is a no-op.
func (h *Hub) LeaveRoom(ctx context.Context, s *Session, room string) error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	c, ok := h.clients[s.ConnID]
	if !ok || !s.leave(room) {
		h.mu.Unlock()
		return nil
	}
	removeMember(h.rooms, room, c)
	h.mu.Unlock()

	h.unsubscribe(ctx, []string{bus.RoomTopic(room)})
	return nil
}

// subscribe takes a listener reference on each topic and subscribes the ones
// that had none. On failure the references are given back. Callers hold subMu.
func (h *Hub) subscribe(ctx context.Context, topics []string) error {
	var fresh []string
	for _, t := range topics {
		h.topics[t]++
		if h.topics[t] == 1 {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := h.bus.Subscribe(ctx, fresh...); err != nil {
		h.release(topics)
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// unsubscribe drops a listener reference on each topic and unsubscribes the
// ones left with none. Callers hold subMu.
func (h *Hub) unsubscribe(ctx context.Context, topics []string) {
	idle := h.release(topics)
	if len(idle) == 0 {
		return
	}
	if err := h.bus.Unsubscribe(ctx, idle...); err != nil && !errors.Is(err, bus.ErrClosed) {
		h.logger.Warn("bus unsubscribe failed", "topics", idle, "error", err)
	}
}

func (h *Hub) release(topics []string) (idle []string) {
	for _, t := range topics {
		n := h.topics[t] - 1
		if n > 0 {
			h.topics[t] = n
			continue
		}
		delete(h.topics, t)
		idle = append(idle, t)
	}
	return idle
}

func addMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

// ─── Broadcasting ───

func (h *Hub) BroadcastToRoom(room string, event Event) {
	h.publish(bus.RoomTopic(room), envelope{Room: room}, event)
}

// BroadcastToRoomExcept skips every connection of exceptUserID.
func (h *Hub) BroadcastToRoomExcept(room, exceptUserID string, event Event) {
	h.publish(bus.RoomTopic(room), envelope{Room: room, ExceptUser: exceptUserID}, event)
}

// BroadcastToUser reaches every connection of userID on every process.
func (h *Hub) BroadcastToUser(userID string, event Event) {
	h.publish(bus.UserTopic(userID), envelope{User: userID}, event)
}

// PushNotification is BroadcastToUser restricted to connections that did not
// unsubscribe from notifications.
func (h *Hub) PushNotification(userID string, event Event) {
	h.publish(bus.UserTopic(userID), envelope{User: userID, Notification: true}, event)
}

func (h *Hub) publish(topic string, env envelope, event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "op", event.Op, "error", err)
		return
	}
	env.Origin = h.origin
	env.Event = raw

	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal bus frame", "op", event.Op, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()

	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		h.metrics.BusPublishFailed()
		h.logger.Warn("bus publish failed, delivering locally", "topic", topic, "op", event.Op, "error", err)
		h.deliver(env)
	}
}

// deliver hands a bus frame to the matching local connections. The seq is
// assigned here so it is monotonic per process whatever the frame's origin.
func (h *Hub) deliver(env envelope) {
	var ev rawEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		h.logger.Warn("dropping malformed event", "origin", env.Origin, "error", err)
		return
	}
	ev.Seq = h.seq.Add(1)

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", "op", ev.Op, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets map[*Client]struct{}
	switch {
	case env.Room != "":
		targets = h.rooms[env.Room]
	case env.User != "":
		targets = h.users[env.User]
	}

	for c := range targets {
		if env.ExceptUser != "" && c.session.UserID == env.ExceptUser {
			continue
		}
		if env.Notification && !c.session.NotificationsEnabled() {
			continue
		}
		h.trySend(c, data)
	}
}

// sendEvent sends event to one connection only.
func (h *Hub) sendEvent(c *Client, event Event) {
	event.Seq = h.seq.Add(1)
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "op", event.Op, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[c.session.ConnID] != c {
		return
	}
	h.trySend(c, data)
}

// trySend queues data without blocking. A connection whose buffer is full is
// too slow to keep up and gets disconnected. Callers hold mu for reading,
// which keeps c.send open.
func (h *Hub) trySend(c *Client, data []byte) {
	select {
	case c.send <- data:
		h.metrics.FrameDelivered()
	default:
		h.metrics.SlowConsumerEvicted()
		h.logger.Warn("evicting slow consumer", "conn_id", c.session.ConnID, "user_id", c.session.UserID)
		go h.detach(c)
	}
}
