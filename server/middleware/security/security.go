package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	// ConnectSources extends the CSP connect-src directive
	ConnectSources []string

	// HSTS sends Strict-Transport-Security; only useful behind TLS
	HSTS bool
}

var DefaultConfig = Config{
	ConnectSources: []string{"'self'", "ws:", "wss:"},
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		return DefaultConfig
	}

	cfg := config[0]
	if len(cfg.ConnectSources) == 0 {
		cfg.ConnectSources = DefaultConfig.ConnectSources
	}
	return cfg
}

// New sets response headers for a JSON and websocket only surface
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)
	csp := buildCSP(cfg)

	return func(c *fiber.Ctx) error {
		c.Set("Content-Security-Policy", csp)
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")

		if cfg.HSTS {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

func buildCSP(cfg Config) string {
	directives := []string{
		"default-src 'none'",
		"connect-src " + strings.Join(cfg.ConnectSources, " "),
		"frame-ancestors 'none'",
		"base-uri 'none'",
	}
	return strings.Join(directives, "; ")
}
