package handlers

import (
	"context"
	"time"

	_websocket "peerchat/server/websocket"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// LiveConfig sizes each live session
type LiveConfig struct {
	BufferSize   int
	PingInterval time.Duration
}

// HandleWebSocketUpgrade lets only upgrade requests through to the live channel
func HandleWebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWebSocket attaches every connection as a live session until it
// closes or ctx ends
func HandleWebSocket(ctx context.Context, d _websocket.Dispatcher, cfg LiveConfig) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		session := _websocket.NewSession(conn, cfg.BufferSize, cfg.PingInterval)
		session.Serve(ctx, d)
	})
}
