package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// RequireBearer rejects requests whose Authorization header does not carry
// secret as a bearer token. secret may be a bcrypt hash ($2a$/$2b$/$2y$), in
// which case the token is checked against it. An empty secret locks the route.
func RequireBearer(secret string) fiber.Handler {
	match := plainMatcher(secret)
	if isBcryptHash(secret) {
		match = func(token string) bool {
			return bcrypt.CompareHashAndPassword([]byte(secret), []byte(token)) == nil
		}
	}

	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if secret == "" || token == "" || !match(token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid or missing bearer token",
			})
		}
		return c.Next()
	}
}

func plainMatcher(secret string) func(string) bool {
	return func(token string) bool {
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
	}
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
