package apiv1

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthTimeout = 3 * time.Second

// APIServer implements the ServerInterface
type APIServer struct {
	db          *gorm.DB
	cache       *redis.Client
	explorerURL string
}

// NewAPIServer creates a new API server instance. Nil dependencies are
// reported as "disabled" by the health check.
func NewAPIServer(db *gorm.DB, cache *redis.Client, explorerURL string) *APIServer {
	return &APIServer{db: db, cache: cache, explorerURL: explorerURL}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetHealth pings the database and Redis. Any failure answers 503.
func (s *APIServer) GetHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	resp := Health{Status: "ok", Checks: map[string]string{}, Explorer: s.explorerURL}

	resp.Checks["database"] = check(s.db != nil, func() error {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	resp.Checks["redis"] = check(s.cache != nil, func() error {
		return s.cache.Ping(ctx).Err()
	})

	for _, v := range resp.Checks {
		if v != "ok" && v != "disabled" {
			resp.Status = "degraded"
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
	}
	return c.JSON(resp)
}

func check(enabled bool, fn func() error) string {
	if !enabled {
		return "disabled"
	}
	if err := fn(); err != nil {
		return err.Error()
	}
	return "ok"
}
