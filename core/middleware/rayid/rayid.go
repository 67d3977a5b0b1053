package rayid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

// HeaderName is the response header carrying the ray id.
const HeaderName = "X-Ray-ID"

// LocalsKey is the fiber locals key the ray id is stored under.
const LocalsKey = "ray_id"

const maxIncomingLen = 64

// New returns a middleware assigning every request a ray id.
// An incoming X-Ray-ID is reused so callers can correlate retries; oversized
// ones are replaced.
func New() fiber.Handler {
	assign := requestid.New(requestid.Config{
		Header:     HeaderName,
		ContextKey: LocalsKey,
		Generator:  uuid.NewString,
	})
	return func(c *fiber.Ctx) error {
		if len(c.Get(HeaderName)) > maxIncomingLen {
			c.Request().Header.Del(HeaderName)
		}
		return assign(c)
	}
}
