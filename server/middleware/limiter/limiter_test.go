package limiter

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(New(cfg))
	app.All("/*", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func status(t *testing.T, app *fiber.App, path, node string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if node != "" {
		req.Header.Set("X-Chat-Node", node)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestBucketsArePerPeer(t *testing.T) {
	app := newApp(Config{Capacity: 2, RefillRate: 1, RefillPeriod: time.Hour})

	assert.Equal(t, fiber.StatusOK, status(t, app, "/peer", "bob.os"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/peer", "bob.os"))
	assert.Equal(t, fiber.StatusTooManyRequests, status(t, app, "/peer", "bob.os"))

	assert.Equal(t, fiber.StatusOK, status(t, app, "/peer", "carol.os"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/messages", ""))
}

func TestNodeHeaderIgnoredOffPeerRoute(t *testing.T) {
	app := newApp(Config{Capacity: 2, RefillRate: 1, RefillPeriod: time.Hour})

	assert.Equal(t, fiber.StatusOK, status(t, app, "/messages", "a.os"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/messages", "b.os"))
	assert.Equal(t, fiber.StatusTooManyRequests, status(t, app, "/messages", "c.os"))
	assert.Equal(t, fiber.StatusTooManyRequests, status(t, app, "/groups", ""))
}

func TestNextSkipsLimiting(t *testing.T) {
	app := newApp(Config{
		Capacity:     1,
		RefillPeriod: time.Hour,
		Next:         func(c *fiber.Ctx) bool { return c.Path() == "/metrics" },
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, fiber.StatusOK, status(t, app, "/metrics", ""))
	}
	assert.Equal(t, fiber.StatusOK, status(t, app, "/messages", ""))
	assert.Equal(t, fiber.StatusTooManyRequests, status(t, app, "/messages", ""))
}

func TestRefillKeepsRemainder(t *testing.T) {
	start := time.Now()
	tb := &TokenBucket{Capacity: 10, Tokens: 0, RefillRate: 2, RefillPeriod: time.Second, LastRefill: start}

	tb.refill(start.Add(2500 * time.Millisecond))
	assert.Equal(t, int64(4), tb.Tokens)
	assert.Equal(t, start.Add(2*time.Second), tb.LastRefill)

	tb.refill(start.Add(time.Hour))
	assert.Equal(t, int64(10), tb.Tokens)
}
