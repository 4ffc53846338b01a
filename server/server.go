package server

import (
	"context"
	"os"
	"time"

	"peerchat/apperrors"
	"peerchat/config"
	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"
	"peerchat/server/handlers"
	"peerchat/server/middleware/limiter"
	"peerchat/server/middleware/security"
	"peerchat/server/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Deps are the running services the HTTP surface is bound to
type Deps struct {
	Dispatcher routes.Dispatcher
	Peers      handlers.PeerView
	Breakers   handlers.BreakerView
	// Redis is optional; when set it backs the rate limiter and the health check
	Redis redis.UniversalClient
}

type Server struct {
	App    *fiber.App
	cfg    *config.Config
	log    *logger.Logger
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	errorConfig := apperrors.HandlerConfig{
		Logger:             log.WithComponent("http"),
		ShowInternalErrors: os.Getenv("APP_ENV") == "development",
		OnError: func(c *fiber.Ctx, err *apperrors.AppError) {
			metrics.RecordError(string(err.Code), c.Path())
		},
	}

	app := fiber.New(fiber.Config{
		AppName:               "peerchat",
		ServerHeader:          "peerchat/" + cfg.Node.Identity,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          apperrors.Handler(errorConfig),
		DisableStartupMessage: true,
	})

	app.Use(metrics.HTTPMetricsMiddleware())
	app.Use(security.New(security.Config{HSTS: os.Getenv("APP_ENV") == "production"}))
	setupLogging(app, log)

	var storage limiter.Storage = limiter.NewInMemoryStorage()
	if deps.Redis != nil {
		storage = limiter.NewRedisStorage(deps.Redis, cfg.Store.KeyPrefix, time.Hour)
	}
	app.Use(limiter.New(limiter.Config{
		Capacity:     cfg.RateLimit.Capacity,
		RefillRate:   cfg.RateLimit.RefillRate,
		RefillPeriod: cfg.RateLimit.RefillPeriod,
		Storage:      storage,
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return path == "/metrics" || path == "/health" || path == "/health/live"
		},
		LimitReachedHandler: func(c *fiber.Ctx) error {
			metrics.IncrementRateLimitExceeded(c.Path())
			return apperrors.NewRateLimitError()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())

	routes.RegisterRoutes(app, routes.Deps{
		Ctx:        ctx,
		Dispatcher: deps.Dispatcher,
		Health:     handlers.NewHealthCheckHandler(cfg.Node.Identity, cfg.Store.Backend, deps.Redis, deps.Peers, deps.Breakers),
		Live: handlers.LiveConfig{
			BufferSize:   cfg.Live.SessionBufferSize,
			PingInterval: cfg.Live.PingInterval,
		},
	})

	return &Server{
		App:    app,
		cfg:    cfg,
		log:    log.WithComponent("server"),
		cancel: cancel,
	}
}

func (s *Server) Start() error {
	addr := s.cfg.ServerAddress()
	s.log.WithField("addr", addr).Info("starting server")
	return s.App.Listen(addr)
}

// Shutdown ends live sessions, then drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.cancel()
	return s.App.ShutdownWithContext(ctx)
}
