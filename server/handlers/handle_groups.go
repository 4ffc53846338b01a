package handlers

import (
	"fmt"

	"peerchat/apperrors"
	"peerchat/services/ops"

	"github.com/gofiber/fiber/v2"
)

var groupActions = map[string]ops.Kind{
	"add_member":    ops.KindAddGroupMember,
	"remove_member": ops.KindRemoveGroupMember,
	"send_message":  ops.KindSendGroupMessage,
}

// HandleGetGroups lists every group, or returns one group with its
// messages when ?id= is given
func HandleGetGroups(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if payload := queryPayload(c, "id", "group_id"); payload != nil {
			res, err := submit(c, d, ops.KindGetGroupMessages, payload)
			if err != nil {
				return err
			}
			return success(c, fiber.StatusOK, fiber.Map{
				"group":    res.Group,
				"messages": res.Messages,
			})
		}

		res, err := submit(c, d, ops.KindListGroups, nil)
		if err != nil {
			return err
		}
		return success(c, fiber.StatusOK, fiber.Map{"groups": res.Groups})
	}
}

func HandleCreateGroup(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := submit(c, d, ops.KindCreateGroup, body(c))
		if err != nil {
			return err
		}
		return success(c, fiber.StatusCreated, fiber.Map{"group": res.Group})
	}
}

// HandleUpdateGroup runs the membership or messaging action named by ?action=
func HandleUpdateGroup(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		action := c.Query("action")
		kind, ok := groupActions[action]
		if !ok {
			return apperrors.NewDecodeFailure(fmt.Sprintf("unknown group action %q", action)).
				WithDetails("action", action)
		}

		res, err := submit(c, d, kind, body(c))
		if err != nil {
			return err
		}

		switch op := res.Op.(type) {
		case ops.AddGroupMember:
			if !res.Changed {
				return apperrors.NewMembershipNotChanged(op.GroupID, op.Member, "already in group")
			}
		case ops.RemoveGroupMember:
			if !res.Changed {
				return apperrors.NewMembershipNotChanged(op.GroupID, op.Member, "not in group")
			}
		case ops.SendGroupMessage:
			return success(c, fiber.StatusOK, fiber.Map{"message": res.Message})
		}

		return success(c, fiber.StatusOK, fiber.Map{"group": res.Group})
	}
}

func HandleDeleteGroup() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return apperrors.NewNotImplemented("Group deletion")
	}
}
