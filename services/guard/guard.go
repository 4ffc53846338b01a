package guard

import (
	"context"
	"errors"

	"peerchat/apperrors"
	"peerchat/services/ops"
	"peerchat/services/store"
)

// GroupReader resolves groups by id
type GroupReader interface {
	GetGroup(ctx context.Context, id string) (store.Group, error)
}

// Guard checks group-scoped operations before they touch the store
type Guard struct {
	groups GroupReader
}

func New(groups GroupReader) *Guard {
	return &Guard{groups: groups}
}

// Authorize resolves the group an operation targets and enforces membership
// for group sends. Membership changes are open to any caller. Operations that
// are not group-scoped return a nil group.
func (g *Guard) Authorize(ctx context.Context, actor string, op ops.Operation) (*store.Group, error) {
	var groupID string
	switch o := op.(type) {
	case ops.SendGroupMessage:
		groupID = o.GroupID
	case ops.AddGroupMember:
		groupID = o.GroupID
	case ops.RemoveGroupMember:
		groupID = o.GroupID
	case ops.GetGroupMessages:
		groupID = o.GroupID
	default:
		return nil, nil
	}

	group, err := g.groups.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewGroupNotFound(groupID)
	}
	if err != nil {
		return nil, err
	}

	if op.Kind() == ops.KindSendGroupMessage && !group.HasMember(actor) {
		return nil, apperrors.NewNotGroupMember(actor, groupID)
	}

	return &group, nil
}
