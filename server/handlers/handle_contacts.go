package handlers

import (
	"peerchat/services/ops"

	"github.com/gofiber/fiber/v2"
)

func HandleGetContacts(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := submit(c, d, ops.KindListContacts, nil)
		if err != nil {
			return err
		}
		return success(c, fiber.StatusOK, fiber.Map{"contacts": res.Contacts})
	}
}

// HandleAddContact answers 201 for a new contact and 200 when it was already known
func HandleAddContact(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := submit(c, d, ops.KindAddContact, body(c))
		if err != nil {
			return err
		}

		status := fiber.StatusOK
		if res.Changed {
			status = fiber.StatusCreated
		}
		return success(c, status, fiber.Map{"contact": res.Contacts[0]})
	}
}
