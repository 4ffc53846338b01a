package apperrors

import (
	"peerchat/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// HandlerConfig configures the error handler
type HandlerConfig struct {
	// Logger for error logging
	Logger *logger.Logger

	// ShowInternalErrors shows internal error details in responses (dev only)
	ShowInternalErrors bool

	// OnError is called for each error (useful for metrics/monitoring)
	OnError func(c *fiber.Ctx, err *AppError)
}

// DefaultHandlerConfig returns sensible defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Logger:             logger.GetDefault(),
		ShowInternalErrors: false,
	}
}

// Handler creates a Fiber error handler that renders every failure as JSON
func Handler(config HandlerConfig) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr := FromError(err)

		if config.Logger != nil {
			logError(config.Logger, c, appErr)
		}

		if config.OnError != nil {
			config.OnError(c, appErr)
		}

		return c.Status(appErr.StatusCode).JSON(Body(appErr, config.ShowInternalErrors))
	}
}

// Body is the JSON envelope written for an error, also used by the peer wire
func Body(err *AppError, showInternal bool) fiber.Map {
	inner := fiber.Map{
		"code":    err.Code,
		"message": err.Message,
	}
	if len(err.Details) > 0 {
		inner["details"] = err.Details
	}
	if showInternal && err.Internal != nil {
		inner["internal"] = err.Internal.Error()
	}
	return fiber.Map{"error": inner}
}

func logError(log *logger.Logger, c *fiber.Ctx, err *AppError) {
	fields := err.LogFields()
	fields["method"] = c.Method()
	fields["path"] = c.Path()

	// Client mistakes are expected traffic
	if err.StatusCode < 500 {
		log.WithFields(fields).Warn("%s", err.Message)
		return
	}

	fields["ip"] = c.IP()
	log.WithFields(fields).Error("%s", err.Message)
}
