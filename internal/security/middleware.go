package security

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// maxBodyBytes caps request bodies on the dispatch surface.
const maxBodyBytes = 10 * 1024 * 1024

// Middleware applies the rate limiter to fiber routes.
type Middleware struct {
	rateLimiter *RateLimiter
}

// NewMiddleware creates middleware around a rate limiter.
func NewMiddleware(rl *RateLimiter) *Middleware {
	return &Middleware{rateLimiter: rl}
}

// RateLimitMiddleware enforces the limiter per client and sets the
// X-RateLimit headers. The client id is taken from X-User-ID, then
// X-API-Key, then the remote IP.
func (m *Middleware) RateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Get("X-User-ID")
		if clientID == "" {
			clientID = c.Get("X-API-Key")
		}
		if clientID == "" {
			clientID = c.IP()
		}

		if !m.rateLimiter.Allow(clientID) {
			info := m.rateLimiter.Info(clientID)
			retryAfter := int64(time.Until(info.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			c.Set("X-RateLimit-Remaining", "0")
			c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error_kind":  "rate_limited",
				"detail":      "rate limit exceeded",
				"retry_after": retryAfter,
			})
		}

		info := m.rateLimiter.Info(clientID)
		c.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

		return c.Next()
	}
}

// SecurityHeadersMiddleware sets the standard security headers and a
// request id for response correlation.
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		c.Set("X-Request-ID", requestID)
		c.Locals("requestID", requestID)

		return c.Next()
	}
}

// RequestValidationMiddleware rejects bodies that are not JSON or are
// oversized before they reach the dispatcher. Rejections go through
// the central error handler.
func RequestValidationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut || c.Method() == fiber.MethodPatch {
			contentType := c.Get("Content-Type")
			if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
				return fiber.NewError(fiber.StatusUnsupportedMediaType, "Content-Type must be application/json")
			}
		}
		if len(c.Body()) > maxBodyBytes {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.Next()
	}
}
