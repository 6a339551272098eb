package main

import (
	"log/slog"

	"github.com/akinalp/hearth/config"
	"github.com/akinalp/hearth/pkg/cache"
	"github.com/akinalp/hearth/pkg/logger"
	"github.com/akinalp/hearth/pkg/metrics"
	"github.com/akinalp/hearth/pkg/ratelimit"
	"github.com/akinalp/hearth/pkg/retry"
	"github.com/akinalp/hearth/services"
	"github.com/akinalp/hearth/ws"
)

// Services holds every service instance.
type Services struct {
	Identity     *services.JWTVerifier
	Room         services.RoomService
	Message      services.MessageService
	Reaction     services.ReactionService
	Ephemeral    services.EphemeralService
	Notification services.NotificationService

	participants *cache.TTLCache[string, bool]
}

// Close stops the membership cache janitor.
func (s *Services) Close() {
	if s.participants != nil {
		s.participants.Close()
	}
}

// RateLimiters holds the two admission budgets: per-IP handshakes and
// per-connection events.
type RateLimiters struct {
	Event     *ratelimit.EventRateLimiter
	Handshake *ratelimit.HandshakeLimiter
}

func initRateLimiters(cfg *config.Config) *RateLimiters {
	return &RateLimiters{
		Event:     ratelimit.NewEventRateLimiter(cfg.RateLimits),
		Handshake: ratelimit.NewHandshakeLimiter(cfg.Handshake.RPS, cfg.Handshake.Burst),
	}
}

func (rl *RateLimiters) Close() {
	rl.Event.Close()
	rl.Handshake.Close()
}

// persistPolicy is the retry budget of durable writes.
func persistPolicy(cfg config.PersistConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	if cfg.InitialBackoff > 0 {
		p.InitialInterval = cfg.InitialBackoff
	}
	return p
}

// initServices builds the services. NotificationService comes first because
// MessageService notifies room members through it.
func initServices(repos *Repositories, hub ws.EventPublisher, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) *Services {
	persist := persistPolicy(cfg.Persist)
	var participants *cache.TTLCache[string, bool]
	if ttl := cfg.Membership.CacheTTL; ttl > 0 {
		participants = cache.New[string, bool](ttl, ttl)
	}

	notificationService := services.NewNotificationService(
		repos.Notification, repos.Membership, hub, persist, m,
		logger.Component(log, "notification"),
	)

	return &Services{
		Identity: services.NewJWTVerifier(cfg.JWT.Secret),
		Room: services.NewRoomService(
			repos.Membership, hub, participants,
			logger.Component(log, "room"),
		),
		Message: services.NewMessageService(
			repos.Message, repos.Reaction, repos.Membership,
			notificationService, hub, persist, m,
			logger.Component(log, "message"),
		),
		Reaction: services.NewReactionService(
			repos.Reaction, repos.Message, hub,
			logger.Component(log, "reaction"),
		),
		Ephemeral:    services.NewEphemeralService(hub),
		Notification: notificationService,

		participants: participants,
	}
}
