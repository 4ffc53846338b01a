package handlers

import (
	"encoding/json"

	"peerchat/services/ops"

	"github.com/gofiber/fiber/v2"
)

// HandleGetMessages returns every conversation log, or one with ?counterparty=.
// Adding remote=true pulls the counterparty's own copy of the conversation.
func HandleGetMessages(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := queryPayload(c, "counterparty", "counterparty")
		if c.QueryBool("remote") {
			payload, _ = json.Marshal(fiber.Map{"counterparty": c.Query("counterparty"), "remote": true})
		}

		res, err := submit(c, d, ops.KindGetHistory, payload)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"History": fiber.Map{"messages": res.History},
		})
	}
}

// HandleSendMessage accepts a direct send in any of the accepted encodings
func HandleSendMessage(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := submit(c, d, ops.KindSendDirect, body(c))
		if err != nil {
			return err
		}

		return success(c, fiber.StatusCreated, fiber.Map{"message": res.Message})
	}
}
