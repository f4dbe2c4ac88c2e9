package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
)

// LimiterConfig bounds requests per client IP.
type LimiterConfig struct {
	Max        int
	Expiration time.Duration
}

// LimiterConfigFromEnv reads API_RATE_LIMIT and API_RATE_WINDOW.
func LimiterConfigFromEnv() LimiterConfig {
	return LimiterConfig{
		Max:        env.GetInt("API_RATE_LIMIT", 120),
		Expiration: env.GetDuration("API_RATE_WINDOW", time.Minute),
	}
}

// NewRedisStorage reuses the cache client's address so all replicas share
// one counter per client.
func NewRedisStorage(client *goredis.Client) *redis.Storage {
	opts := client.Options()
	host, port := opts.Addr, 6379
	if i := strings.LastIndex(opts.Addr, ":"); i > 0 {
		host = opts.Addr[:i]
		if p, err := strconv.Atoi(opts.Addr[i+1:]); err == nil {
			port = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: opts.DB,
		Reset:    false,
	})
}

// RateLimit builds the limiter. A nil storage keeps counters in memory.
func RateLimit(cfg LimiterConfig, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Expiration,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	})
}
