package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPMetricsMiddleware tracks HTTP request metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// The error handler has not written the response yet
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if sc, ok := err.(interface{ HTTPStatus() int }); ok {
				status = sc.HTTPStatus()
			}
		}

		labels := []string{c.Method(), sanitizePath(c.Path()), strconv.Itoa(status)}
		HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(labels...).Inc()

		return err
	}
}

// sanitizePath keeps label cardinality bounded
func sanitizePath(path string) string {
	switch path {
	case "/", "/messages", "/groups", "/contacts", "/peer", "/health", "/metrics":
		return path
	default:
		return "/other"
	}
}
