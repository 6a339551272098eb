// Package config loads the application configuration from the environment.
// A .env file is read first when present; a YAML file may override the
// per-event rate limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/akinalp/hearth/pkg/ratelimit"
)

// Config carries every configuration value.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Redis      RedisConfig
	Log        LogConfig
	Persist    PersistConfig
	Handshake  HandshakeConfig
	Membership MembershipConfig
	RateLimits map[string]ratelimit.Rule
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// DatabaseConfig selects the durable store.
type DatabaseConfig struct {
	Driver string // "sqlite" or "postgres"
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// JWTConfig holds the access token verification secret.
type JWTConfig struct {
	Secret string
}

// RedisConfig configures the cross-process bus. An empty Addr selects the
// in-process bus.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

type LogConfig struct {
	Level  string
	Format string
}

// PersistConfig bounds the retry of durable writes.
type PersistConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// HandshakeConfig is the per-IP admission budget of the websocket endpoint.
type HandshakeConfig struct {
	RPS   float64
	Burst int
}

// MembershipConfig controls caching of positive membership lookups.
type MembershipConfig struct {
	CacheTTL time.Duration
}

// DefaultRateLimits returns the built-in per-connection event budgets.
func DefaultRateLimits() map[string]ratelimit.Rule {
	return map[string]ratelimit.Rule{
		"send-message":    {Limit: 5, Window: 5 * time.Second, Cooldown: 15 * time.Second},
		"update-message":  {Limit: 10, Window: 10 * time.Second, Cooldown: 10 * time.Second},
		"delete-message":  {Limit: 10, Window: 10 * time.Second, Cooldown: 10 * time.Second},
		"add-reaction":    {Limit: 20, Window: 10 * time.Second, Cooldown: 5 * time.Second},
		"remove-reaction": {Limit: 20, Window: 10 * time.Second, Cooldown: 5 * time.Second},
		"typing":          {Limit: 10, Window: 5 * time.Second},
		"mark-read":       {Limit: 20, Window: 10 * time.Second},
		"join-room":       {Limit: 30, Window: 10 * time.Second, Cooldown: 10 * time.Second},
		"leave-room":      {Limit: 30, Window: 10 * time.Second, Cooldown: 10 * time.Second},
	}
}

// Load builds a Config from environment variables.
func Load() (*Config, error) {
	// Missing .env is fine; production uses real environment variables.
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "9090"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxAttempts, err := strconv.Atoi(getEnv("PERSIST_MAX_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid PERSIST_MAX_ATTEMPTS: %w", err)
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("invalid PERSIST_MAX_ATTEMPTS: must be at least 1")
	}

	backoffMS, err := strconv.Atoi(getEnv("PERSIST_BACKOFF_MS", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid PERSIST_BACKOFF_MS: %w", err)
	}

	handshakeRPS, err := strconv.ParseFloat(getEnv("HANDSHAKE_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid HANDSHAKE_RPS: %w", err)
	}

	handshakeBurst, err := strconv.Atoi(getEnv("HANDSHAKE_BURST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid HANDSHAKE_BURST: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("MEMBERSHIP_CACHE_TTL_SECONDS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid MEMBERSHIP_CACHE_TTL_SECONDS: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	driver := strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite"))
	dbURL := getEnv("DATABASE_URL", "")
	switch driver {
	case "sqlite":
	case "postgres":
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("invalid DATABASE_DRIVER %q", driver)
	}

	limits := DefaultRateLimits()
	if path := getEnv("RATE_LIMITS_FILE", ""); path != "" {
		overrides, err := LoadRateLimits(path)
		if err != nil {
			return nil, err
		}
		for op, rule := range overrides {
			limits[op] = rule
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			Driver: driver,
			Path:   getEnv("DATABASE_PATH", "./data/hearth.db"),
			URL:    dbURL,
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            redisDB,
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "hearth:"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Persist: PersistConfig{
			MaxAttempts:    maxAttempts,
			InitialBackoff: time.Duration(backoffMS) * time.Millisecond,
		},
		Handshake: HandshakeConfig{
			RPS:   handshakeRPS,
			Burst: handshakeBurst,
		},
		Membership: MembershipConfig{
			CacheTTL: time.Duration(cacheTTL) * time.Second,
		},
		RateLimits: limits,
	}

	return cfg, nil
}

// rateLimitFile is the YAML layout of RATE_LIMITS_FILE:
//
//	send-message:
//	  limit: 5
//	  window: 5s
//	  cooldown: 15s
type rateLimitFile map[string]struct {
	Limit    int    `yaml:"limit"`
	Window   string `yaml:"window"`
	Cooldown string `yaml:"cooldown"`
}

// LoadRateLimits reads per-event rule overrides from a YAML file.
func LoadRateLimits(path string) (map[string]ratelimit.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limits file: %w", err)
	}

	var raw rateLimitFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rate limits file: %w", err)
	}

	rules := make(map[string]ratelimit.Rule, len(raw))
	for op, r := range raw {
		if r.Limit <= 0 {
			return nil, fmt.Errorf("rate limit %q: limit must be positive", op)
		}
		window, err := time.ParseDuration(r.Window)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("rate limit %q: invalid window %q", op, r.Window)
		}
		var cooldown time.Duration
		if r.Cooldown != "" {
			if cooldown, err = time.ParseDuration(r.Cooldown); err != nil {
				return nil, fmt.Errorf("rate limit %q: invalid cooldown %q", op, r.Cooldown)
			}
		}
		rules[op] = ratelimit.Rule{Limit: r.Limit, Window: window, Cooldown: cooldown}
	}
	return rules, nil
}

// Addr returns the listen address, e.g. "0.0.0.0:9090".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
