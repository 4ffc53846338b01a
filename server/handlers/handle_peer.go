package handlers

import (
	"context"

	"peerchat/apperrors"
	"peerchat/services/ops"
	"peerchat/services/relay"
	"peerchat/services/store"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// HandlePeer serves the node-to-node wire. The sender names itself in the
// X-Chat-Node header; only Send and History are accepted.
func HandlePeer(d Submitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		res, err := d.Submit(ctx, ops.Inbound{
			Origin:  ops.OriginRemotePeer,
			Source:  c.Get(relay.HeaderNode),
			Payload: body(c),
		})
		if err != nil {
			return err
		}

		switch res.Op.(type) {
		case ops.SendDirect:
			return c.JSON(relay.Response{Send: &relay.Ack{}})
		case ops.GetHistory:
			messages := lo.Map(res.Messages, func(m store.ChatMessage, _ int) relay.WireMessage {
				return relay.WireMessage{Author: m.Author, Content: m.Content}
			})
			return c.JSON(relay.Response{History: &relay.HistoryResponse{Messages: messages}})
		default:
			return apperrors.NewInternalError("unexpected peer operation")
		}
	}
}
