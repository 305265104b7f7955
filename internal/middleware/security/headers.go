package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// ConnectOrigins are extra origins the browser may open connections to,
	// e.g. a websocket host.
	ConnectOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets the response hardening headers. The API serves JSON
// only, so the content policy forbids everything but same-origin fetches.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	connect := append([]string{"'self'"}, cfg.ConnectOrigins...)
	csp := strings.Join([]string{
		"default-src 'none'",
		"connect-src " + strings.Join(connect, " "),
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'none'",
	}, "; ")

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", csp)
		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		return c.Next()
	}
}
