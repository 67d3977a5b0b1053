package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
)

// HeaderName is the header carrying the operator API key.
const HeaderName = "X-API-Key"

// Config configures the API key middleware.
type Config struct {
	// ApiKey is the expected key. An empty key disables the check.
	ApiKey string
	// Skip lists routes that bypass the check (device callbacks, docs). An entry
	// is either a path prefix ("/swagger") or an exact "METHOD /path" pair, so
	// devices can POST /events while GET /events stays protected.
	Skip []string
}

// New returns a keyauth middleware rejecting requests without a valid API key.
func New(cfg Config) fiber.Handler {
	expected := []byte(cfg.ApiKey)

	return keyauth.New(keyauth.Config{
		KeyLookup: "header:" + HeaderName,
		Next: func(c *fiber.Ctx) bool {
			return len(expected) == 0 || skipped(cfg.Skip, c.Method(), c.Path())
		},
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"ok":      false,
				"error":   "unauthorized",
				"message": "missing or invalid API key",
			})
		},
	})
}

func skipped(rules []string, method, path string) bool {
	for _, rule := range rules {
		if m, p, ok := strings.Cut(rule, " "); ok {
			if strings.EqualFold(m, method) && p == path {
				return true
			}
			continue
		}
		if strings.HasPrefix(path, rule) {
			return true
		}
	}
	return false
}
