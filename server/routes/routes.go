package routes

import (
	"context"

	"peerchat/server/handlers"
	_websocket "peerchat/server/websocket"
	"peerchat/services/relay"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatcher is everything the routes hand work to
type Dispatcher interface {
	handlers.Submitter
	_websocket.Dispatcher
}

type Deps struct {
	// Ctx ends every live session when cancelled
	Ctx        context.Context
	Dispatcher Dispatcher
	Health     *handlers.HealthCheckHandler
	Live       handlers.LiveConfig
}

// RegisterRoutes binds the local API, the peer wire, the live channel and
// the operational endpoints
func RegisterRoutes(app *fiber.App, deps Deps) {
	d := deps.Dispatcher

	app.Get("/messages", handlers.HandleGetMessages(d))
	app.Post("/messages", handlers.HandleSendMessage(d))

	app.Get("/groups", handlers.HandleGetGroups(d))
	app.Post("/groups", handlers.HandleCreateGroup(d))
	app.Put("/groups", handlers.HandleUpdateGroup(d))
	app.Delete("/groups", handlers.HandleDeleteGroup())

	app.Get("/contacts", handlers.HandleGetContacts(d))
	app.Post("/contacts", handlers.HandleAddContact(d))

	app.Post(relay.PeerPath, handlers.HandlePeer(d))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	if deps.Health != nil {
		app.Get("/health", deps.Health.HandleHealthCheck())
		app.Get("/health/live", deps.Health.HandleLivenessCheck())
	}

	app.Get("/", handlers.HandleWebSocketUpgrade(), handlers.HandleWebSocket(deps.Ctx, d, deps.Live))
}
