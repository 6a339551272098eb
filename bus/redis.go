package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis bus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every channel and key, e.g. "hearth:" → "hearth:room:conversation:7".
	Prefix string
}

// decrPresence decrements a presence count and deletes the key at zero. The
// count never goes below zero.
var decrPresence = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
return n
`)

// Redis is a Bus backed by Redis PUBLISH/SUBSCRIBE. One PubSub connection per
// process carries every subscription.
//
// SUBSCRIBE is acknowledged asynchronously. Subscribe registers a waiter per
// channel before sending the command and forward releases the waiters when the
// matching confirmation arrives.
type Redis struct {
	cli    *redis.Client
	ps     *redis.PubSub
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{} // channel → pending Subscribe calls

	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// ConnectRedis connects to Redis, pings it, and starts forwarding messages.
func ConnectRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cli := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	r := &Redis{
		cli:     cli,
		ps:      cli.Subscribe(ctx),
		prefix:  opts.Prefix,
		logger:  logger,
		waiters: make(map[string][]chan struct{}),
		out:     make(chan Message, 1024),
		done:    make(chan struct{}),
	}
	go r.forward()

	return r, nil
}

func (r *Redis) channel(topic string) string { return r.prefix + topic }

func (r *Redis) channels(topics []string) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = r.channel(t)
	}
	return out
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.cli.Publish(ctx, r.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe blocks until Redis has confirmed every channel, ctx is done or the
// bus is closed.
func (r *Redis) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	channels := r.channels(topics)

	waits := r.await(channels)
	if err := r.ps.Subscribe(ctx, channels...); err != nil {
		r.abandon(channels, waits)
		return fmt.Errorf("subscribe: %w", err)
	}

	for i, confirmed := range waits {
		select {
		case <-confirmed:
		case <-ctx.Done():
			r.abandon(channels, waits)
			return fmt.Errorf("subscribe %s: %w", topics[i], ctx.Err())
		case <-r.done:
			r.abandon(channels, waits)
			return ErrClosed
		}
	}
	return nil
}

func (r *Redis) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := r.ps.Unsubscribe(ctx, r.channels(topics)...); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

func (r *Redis) Messages() <-chan Message {
	return r.out
}

// ConnectPresence increments the shared count of userID and returns it.
func (r *Redis) ConnectPresence(ctx context.Context, userID string) (int64, error) {
	n, err := r.cli.Incr(ctx, r.prefix+PresenceKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr presence %s: %w", userID, err)
	}
	return n, nil
}

// DisconnectPresence decrements the shared count of userID and returns it,
// never below zero.
func (r *Redis) DisconnectPresence(ctx context.Context, userID string) (int64, error) {
	n, err := decrPresence.Run(ctx, r.cli, []string{r.prefix + PresenceKey(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decr presence %s: %w", userID, err)
	}
	return n, nil
}

// await registers one waiter per channel. Callers must either receive from
// every returned channel or hand them to abandon.
func (r *Redis) await(channels []string) []chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	waits := make([]chan struct{}, len(channels))
	for i, ch := range channels {
		waits[i] = make(chan struct{})
		r.waiters[ch] = append(r.waiters[ch], waits[i])
	}
	return waits
}

func (r *Redis) abandon(channels []string, waits []chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, ch := range channels {
		left := slices.DeleteFunc(r.waiters[ch], func(w chan struct{}) bool { return w == waits[i] })
		if len(left) == 0 {
			delete(r.waiters, ch)
			continue
		}
		r.waiters[ch] = left
	}
}

// confirm releases every Subscribe call waiting on channel.
func (r *Redis) confirm(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.waiters[channel] {
		close(w)
	}
	delete(r.waiters, channel)
}

// forward copies PubSub messages onto out and turns subscribe confirmations
// into waiter releases, until the PubSub is closed.
func (r *Redis) forward() {
	defer close(r.out)

	for raw := range r.ps.ChannelWithSubscriptions(redis.WithChannelSize(1024)) {
		switch msg := raw.(type) {
		case *redis.Subscription:
			if msg.Kind == "subscribe" {
				r.confirm(msg.Channel)
			}

		case *redis.Message:
			topic, ok := strings.CutPrefix(msg.Channel, r.prefix)
			if !ok {
				r.logger.Warn("message on foreign channel", "channel", msg.Channel)
				continue
			}

			select {
			case r.out <- Message{Topic: topic, Payload: []byte(msg.Payload)}:
			case <-r.done:
				return
			}
		}
	}
}

func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if psErr := r.ps.Close(); psErr != nil {
			err = fmt.Errorf("close pubsub: %w", psErr)
		}
		if cliErr := r.cli.Close(); cliErr != nil && err == nil {
			err = fmt.Errorf("close redis: %w", cliErr)
		}
	})
	return err
}
