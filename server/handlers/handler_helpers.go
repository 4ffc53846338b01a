package handlers

import (
	"context"
	"encoding/json"
	"time"

	"peerchat/services/dispatcher"
	"peerchat/services/ops"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// requestTimeout bounds how long a request waits on the dispatcher queue
// plus one relay round trip
const requestTimeout = 15 * time.Second

// Submitter is the dispatcher as seen by request handlers
type Submitter interface {
	Submit(ctx context.Context, in ops.Inbound) (*dispatcher.Result, error)
}

// submit hands one local API request to the dispatcher and waits for it
func submit(c *fiber.Ctx, d Submitter, route ops.Kind, payload []byte) (*dispatcher.Result, error) {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	return d.Submit(ctx, ops.Inbound{
		Origin:  ops.OriginLocalAPI,
		Route:   route,
		Payload: payload,
	})
}

// body copies the request body; fasthttp reuses the buffer once the handler returns
func body(c *fiber.Ctx) []byte {
	return utils.CopyBytes(c.Body())
}

// queryPayload builds a typed payload from a single query parameter, or
// nil when the parameter is absent
func queryPayload(c *fiber.Ctx, param, field string) []byte {
	value := c.Query(param)
	if value == "" {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{field: value})
	return payload
}

// success writes the {success, data} envelope used by the group and contact routes
func success(c *fiber.Ctx, status int, data fiber.Map) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}
