package dispatcher

import (
	"context"
	"fmt"

	"peerchat/apperrors"
	"peerchat/pkg/metrics"
	"peerchat/services/archive"
	"peerchat/services/broadcast"
	"peerchat/services/ops"
	"peerchat/services/relay"
	"peerchat/services/store"
	"peerchat/utils"

	"github.com/samber/lo"
)

// stage names the step an operation failed in
type stage string

const (
	stageClassifying  stage = "classifying"
	stageAuthorizing  stage = "authorizing"
	stageRelaying     stage = "relaying"
	stagePersisting   stage = "persisting"
	stageReading      stage = "reading"
	stageBroadcasting stage = "broadcasting"
)

// run tracks one operation through the state machine
type run struct {
	d       *Dispatcher
	ctx     context.Context
	in      ops.Inbound
	session string
	actor   string
	kind    ops.Kind
	stage   stage
}

func (r *run) fail(err error) error {
	appErr := apperrors.FromError(err)
	if appErr.StatusCode >= 500 {
		r.d.log.WithFields(appErr.LogFields()).WithField("stage", string(r.stage)).Error("operation failed")
	}
	return err
}

func (d *Dispatcher) process(ctx context.Context, it item) (*Result, ops.Kind, error) {
	r := &run{d: d, ctx: ctx, in: it.in, session: it.session, actor: d.cfg.Identity, stage: stageClassifying}

	op, err := d.classifier.Classify(it.in)
	if err != nil {
		metrics.IncrementDecodeFailures(string(it.in.Origin))
		return nil, "", err
	}

	if it.in.Origin == ops.OriginRemotePeer {
		if verr := utils.ValidateIdentity(it.in.Source); verr != nil {
			metrics.IncrementDecodeFailures(string(it.in.Origin))
			return nil, op.Kind(), verr.WithDetails("field", "source")
		}
		r.actor = it.in.Source
	}

	r.kind = op.Kind()
	res, err := r.execute(op)
	if err != nil {
		return nil, op.Kind(), r.fail(err)
	}
	res.Op = op
	return res, op.Kind(), nil
}

func (r *run) execute(op ops.Operation) (*Result, error) {
	switch o := op.(type) {
	case ops.SendDirect:
		return r.sendDirect(o)
	case ops.GetHistory:
		return r.getHistory(o)
	case ops.CreateGroup:
		return r.createGroup(o)
	case ops.SendGroupMessage:
		return r.sendGroupMessage(o)
	case ops.AddGroupMember:
		return r.changeMembership(o, o.GroupID, o.Member, broadcast.ActionMemberAdded)
	case ops.RemoveGroupMember:
		return r.changeMembership(o, o.GroupID, o.Member, broadcast.ActionMemberRemoved)
	case ops.ListGroups:
		return r.listGroups()
	case ops.GetGroupMessages:
		return r.getGroupMessages(o)
	case ops.AddContact:
		return r.addContact(o)
	case ops.ListContacts:
		return r.listContacts()
	default:
		return nil, apperrors.NewInternalError(fmt.Sprintf("unhandled operation %T", op))
	}
}

func (r *run) now() uint64 {
	return uint64(r.d.cfg.Now().Unix())
}

// emit answers a query to the live session that asked and pushes a
// committed change to every live session
func (r *run) emit(ev broadcast.Event) {
	if r.kind.IsQuery() {
		r.answer(ev)
		return
	}
	r.stage = stageBroadcasting
	if _, err := r.d.broadcaster.Broadcast(ev); err != nil {
		r.d.log.WithError(err).Error("broadcast failed")
	}
}

func (r *run) answer(ev broadcast.Event) {
	if r.session == "" {
		return
	}
	if err := r.d.broadcaster.SendTo(r.session, ev); err != nil {
		r.d.log.WithError(err).WithField("session", r.session).Warn("could not answer live session")
	}
}

func (r *run) sendDirect(o ops.SendDirect) (*Result, error) {
	local := r.d.cfg.Identity
	counterparty := o.Target
	author := local

	if r.in.Origin == ops.OriginRemotePeer {
		// Peers never trigger a second hop
		if o.Target != local {
			return nil, apperrors.NewMisroutedPeerRequest(o.Target, local)
		}
		counterparty = r.actor
		author = r.actor
	} else if o.Target != local {
		r.stage = stageRelaying
		if err := r.d.relay.Send(r.ctx, o.Target, o.Content); err != nil {
			return nil, err
		}
	}

	r.stage = stagePersisting
	msg := store.ChatMessage{Author: author, Content: o.Content, Timestamp: r.now()}
	if err := r.d.store.AppendMessage(r.ctx, counterparty, msg); err != nil {
		return nil, err
	}

	r.emit(broadcast.NewMessage{
		Counterparty: counterparty,
		Author:       msg.Author,
		Content:      msg.Content,
		Timestamp:    msg.Timestamp,
	})
	r.d.archive.Publish(archive.Record{Node: local, Kind: archive.KindDirect, Conversation: counterparty, Message: msg})

	return &Result{Message: &msg, Changed: true}, nil
}

func (r *run) getHistory(o ops.GetHistory) (*Result, error) {
	if o.Remote && o.Counterparty != r.d.cfg.Identity {
		return r.pullHistory(o.Counterparty)
	}
	r.stage = stageReading

	var history map[string][]store.ChatMessage
	if o.Counterparty == "" {
		all, err := r.d.store.AllMessages(r.ctx)
		if err != nil {
			return nil, err
		}
		history = all
	} else {
		msgs, err := r.d.store.GetMessages(r.ctx, o.Counterparty)
		if err != nil {
			return nil, err
		}
		history = map[string][]store.ChatMessage{o.Counterparty: msgs}
	}

	r.emit(broadcast.Messages(history))
	return &Result{History: history, Messages: history[o.Counterparty]}, nil
}

// pullHistory reads the peer's side of the conversation; nothing is written
func (r *run) pullHistory(peer string) (*Result, error) {
	if peer == "" || r.in.Origin == ops.OriginRemotePeer {
		return nil, apperrors.NewDecodeFailure("remote history needs a local caller and a counterparty").
			WithDetails("origin", string(r.in.Origin))
	}

	r.stage = stageRelaying
	wire, err := r.d.relay.FetchHistory(r.ctx, peer, r.d.cfg.Identity)
	if err != nil {
		return nil, err
	}

	msgs := lo.Map(wire, func(m relay.WireMessage, _ int) store.ChatMessage {
		return store.ChatMessage{Author: m.Author, Content: m.Content}
	})
	history := map[string][]store.ChatMessage{peer: msgs}

	r.emit(broadcast.Messages(history))
	return &Result{History: history, Messages: msgs}, nil
}

func (r *run) createGroup(o ops.CreateGroup) (*Result, error) {
	r.stage = stagePersisting
	group, err := r.d.store.CreateGroup(r.ctx, o.Name, o.Members, r.actor)
	if err != nil {
		return nil, err
	}

	r.emit(broadcast.NewGroup{Group: group})
	return &Result{Group: &group, Changed: true}, nil
}

func (r *run) sendGroupMessage(o ops.SendGroupMessage) (*Result, error) {
	r.stage = stageAuthorizing
	group, err := r.d.guard.Authorize(r.ctx, r.actor, o)
	if err != nil {
		return nil, err
	}

	r.stage = stagePersisting
	msg := store.ChatMessage{Author: r.actor, Content: o.Content, Timestamp: r.now()}
	if err := r.d.store.AppendGroupMessage(r.ctx, group.ID, msg); err != nil {
		return nil, err
	}

	r.emit(broadcast.NewGroupMessage{
		GroupID:   group.ID,
		Author:    msg.Author,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	r.d.archive.Publish(archive.Record{Node: r.d.cfg.Identity, Kind: archive.KindGroup, Conversation: group.ID, Message: msg})

	return &Result{Group: group, Message: &msg, Changed: true}, nil
}

func (r *run) changeMembership(op ops.Operation, groupID, member, action string) (*Result, error) {
	r.stage = stageAuthorizing
	group, err := r.d.guard.Authorize(r.ctx, r.actor, op)
	if err != nil {
		return nil, err
	}

	r.stage = stagePersisting
	var changed bool
	if action == broadcast.ActionMemberAdded {
		changed, err = r.d.store.AddMember(r.ctx, groupID, member)
	} else {
		changed, err = r.d.store.RemoveMember(r.ctx, groupID, member)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return &Result{Group: group, Changed: false}, nil
	}

	if action == broadcast.ActionMemberRemoved && member == group.CreatedBy {
		r.d.log.WithFields(map[string]any{"group_id": groupID, "member": member}).Warn("group creator removed from member set")
	}

	updated, err := r.d.store.GetGroup(r.ctx, groupID)
	if err != nil {
		return nil, err
	}

	r.emit(broadcast.GroupUpdated{Action: action, Member: member, Group: updated})
	return &Result{Group: &updated, Changed: true}, nil
}

func (r *run) listGroups() (*Result, error) {
	r.stage = stageReading
	groups, err := r.d.store.ListGroups(r.ctx)
	if err != nil {
		return nil, err
	}

	r.emit(broadcast.Groups(groups))
	return &Result{Groups: groups}, nil
}

func (r *run) getGroupMessages(o ops.GetGroupMessages) (*Result, error) {
	r.stage = stageAuthorizing
	group, err := r.d.guard.Authorize(r.ctx, r.actor, o)
	if err != nil {
		return nil, err
	}

	r.stage = stageReading
	msgs, err := r.d.store.GetGroupMessages(r.ctx, group.ID)
	if err != nil {
		return nil, err
	}

	r.emit(broadcast.GroupMessages{GroupID: group.ID, Messages: msgs})
	return &Result{Group: group, Messages: msgs}, nil
}

func (r *run) addContact(o ops.AddContact) (*Result, error) {
	r.stage = stagePersisting
	contact := store.Contact{Identity: o.Identity, Name: o.Name, Status: store.ContactStatusKnown}
	added, err := r.d.store.AddContact(r.ctx, contact)
	if err != nil {
		return nil, err
	}

	if added {
		r.emit(broadcast.ContactAdded{Contact: contact})
	}
	return &Result{Contacts: []store.Contact{contact}, Changed: added}, nil
}

func (r *run) listContacts() (*Result, error) {
	r.stage = stageReading
	contacts, err := r.d.store.ListContacts(r.ctx)
	if err != nil {
		return nil, err
	}

	r.emit(broadcast.Contacts(contacts))
	return &Result{Contacts: contacts}, nil
}
