// Package dispatcher runs every chat operation through one loop:
// classify, authorize, relay, persist, broadcast, reply.
package dispatcher

import (
	"context"
	"time"

	"peerchat/apperrors"
	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"
	"peerchat/services/archive"
	"peerchat/services/broadcast"
	"peerchat/services/ops"
	"peerchat/services/relay"
	"peerchat/services/store"
)

// Store is the durable state the dispatcher mutates
type Store interface {
	AppendMessage(ctx context.Context, counterparty string, msg store.ChatMessage) error
	GetMessages(ctx context.Context, counterparty string) ([]store.ChatMessage, error)
	AllMessages(ctx context.Context) (map[string][]store.ChatMessage, error)
	CreateGroup(ctx context.Context, name string, members []string, creator string) (store.Group, error)
	GetGroup(ctx context.Context, id string) (store.Group, error)
	ListGroups(ctx context.Context) ([]store.Group, error)
	AddMember(ctx context.Context, id, member string) (bool, error)
	RemoveMember(ctx context.Context, id, member string) (bool, error)
	AppendGroupMessage(ctx context.Context, id string, msg store.ChatMessage) error
	GetGroupMessages(ctx context.Context, id string) ([]store.ChatMessage, error)
	AddContact(ctx context.Context, c store.Contact) (bool, error)
	ListContacts(ctx context.Context) ([]store.Contact, error)
}

// Relay talks to remote peers. Send returns once the peer acknowledged the
// message; FetchHistory returns the peer's log of its conversation with node.
type Relay interface {
	Send(ctx context.Context, target, content string) error
	FetchHistory(ctx context.Context, peer, node string) ([]relay.WireMessage, error)
}

// Authorizer resolves and checks group-scoped operations
type Authorizer interface {
	Authorize(ctx context.Context, actor string, op ops.Operation) (*store.Group, error)
}

type Config struct {
	// Identity is this node's own identity
	Identity  string
	QueueSize int
	// Now overrides the message clock (tests)
	Now func() time.Time
}

// Result is what a successful operation hands back to a replying caller
type Result struct {
	Op       ops.Operation
	Message  *store.ChatMessage
	History  map[string][]store.ChatMessage
	Group    *store.Group
	Groups   []store.Group
	Messages []store.ChatMessage
	Contacts []store.Contact
	// Changed is false when a membership or contact operation was a no-op
	Changed bool
}

type reply struct {
	res *Result
	err error
}

type item struct {
	in ops.Inbound
	// caller is the submitter's context; an item whose caller is gone before
	// its turn is skipped
	caller  context.Context
	session string // live session that sent the payload
	attach  broadcast.Session
	detach  string
	reply   chan reply // nil when nobody waits
}

type Dispatcher struct {
	cfg         Config
	classifier  *ops.Classifier
	guard       Authorizer
	store       Store
	relay       Relay
	broadcaster *broadcast.Broadcaster
	archive     archive.Publisher
	queue       chan item
	done        chan struct{}
	log         *logger.Logger
}

func New(cfg Config, st Store, guard Authorizer, relay Relay, pub archive.Publisher) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if pub == nil {
		pub = archive.Noop{}
	}
	return &Dispatcher{
		cfg:         cfg,
		classifier:  ops.NewClassifier(),
		guard:       guard,
		store:       st,
		relay:       relay,
		broadcaster: broadcast.New(broadcast.NewRegistry()),
		archive:     pub,
		queue:       make(chan item, cfg.QueueSize),
		done:        make(chan struct{}),
		log:         logger.WithComponent("dispatcher").WithField("node", cfg.Identity),
	}
}

// Run processes queued items one at a time until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	d.log.Info("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.log.WithField("pending", len(d.queue)).Info("dispatcher stopped")
			return
		case it := <-d.queue:
			metrics.SetDispatchQueueDepth(len(d.queue))
			d.handle(ctx, it)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, it item) error {
	select {
	case d.queue <- it:
		metrics.SetDispatchQueueDepth(len(d.queue))
		return nil
	case <-d.done:
		return apperrors.NewServiceUnavailable("Dispatcher is not running")
	case <-ctx.Done():
		return apperrors.NewServiceUnavailable("Dispatcher queue is full").WithInternal(ctx.Err())
	}
}

// Submit queues one inbound payload and waits for its outcome
func (d *Dispatcher) Submit(ctx context.Context, in ops.Inbound) (*Result, error) {
	ch := make(chan reply, 1)
	if err := d.enqueue(ctx, item{in: in, caller: ctx, reply: ch}); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.res, r.err
	case <-d.done:
		return nil, apperrors.NewServiceUnavailable("Dispatcher is not running")
	case <-ctx.Done():
		return nil, apperrors.NewServiceUnavailable("Timed out waiting for the dispatcher").WithInternal(ctx.Err())
	}
}

// SubmitLive queues a frame from a live session. Query results go back to
// that session; failures are logged and dropped.
func (d *Dispatcher) SubmitLive(ctx context.Context, sessionID string, payload []byte) error {
	return d.enqueue(ctx, item{
		in:      ops.Inbound{Origin: ops.OriginLocalLive, Payload: payload},
		caller:  ctx,
		session: sessionID,
	})
}

// Attach registers a live session with the broadcaster
func (d *Dispatcher) Attach(ctx context.Context, s broadcast.Session) error {
	return d.enqueue(ctx, item{attach: s})
}

// Detach removes a live session; unknown ids are ignored
func (d *Dispatcher) Detach(ctx context.Context, sessionID string) error {
	return d.enqueue(ctx, item{detach: sessionID})
}

func (d *Dispatcher) handle(ctx context.Context, it item) {
	registry := d.broadcaster.Registry()

	switch {
	case it.attach != nil:
		registry.Attach(it.attach)
		metrics.SetLiveSessions(registry.Len())
		d.log.WithFields(map[string]any{"session": it.attach.ID(), "sessions": registry.Len()}).Info("live session attached")
		return
	case it.detach != "":
		if registry.Detach(it.detach) {
			metrics.SetLiveSessions(registry.Len())
			d.log.WithFields(map[string]any{"session": it.detach, "sessions": registry.Len()}).Info("live session detached")
		}
		return
	}

	if it.caller != nil && it.caller.Err() != nil {
		metrics.OperationsTotal.WithLabelValues("", string(it.in.Origin), "abandoned").Inc()
		d.log.WithFields(map[string]any{"origin": it.in.Origin, "session": it.session}).
			Warn("skipping operation abandoned by its caller")
		return
	}

	start := time.Now()
	res, kind, err := d.process(ctx, it)

	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.FromError(err).Code)
	}
	metrics.RecordOperation(string(kind), string(it.in.Origin), outcome, time.Since(start).Seconds())

	if it.reply != nil {
		it.reply <- reply{res: res, err: err}
		return
	}
	if err != nil {
		d.log.WithFields(apperrors.FromError(err).LogFields()).
			WithFields(map[string]any{"origin": it.in.Origin, "session": it.session}).
			Warn("dropping failed live operation")
	}
}
