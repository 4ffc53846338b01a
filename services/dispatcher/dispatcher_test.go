package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"peerchat/apperrors"
	"peerchat/services/archive"
	"peerchat/services/guard"
	"peerchat/services/ops"
	"peerchat/services/relay"
	"peerchat/services/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const local = "alice.os"

var fixedNow = time.Unix(1_700_000_000, 0)

type fakeRelay struct {
	mu      sync.Mutex
	calls   []ops.SendDirect
	err     error
	history []relay.WireMessage
}

func (f *fakeRelay) FetchHistory(_ context.Context, peer, _ string) ([]relay.WireMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ops.SendDirect{Target: peer})
	return f.history, f.err
}

func (f *fakeRelay) Send(_ context.Context, target, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ops.SendDirect{Target: target, Content: content})
	return f.err
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// gatedRelay holds every send until release is closed
type gatedRelay struct {
	fakeRelay
	started chan struct{}
	release chan struct{}
}

func (g *gatedRelay) Send(ctx context.Context, target, content string) error {
	_ = g.fakeRelay.Send(ctx, target, content)
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	return nil
}

type fakeSession struct {
	id     string
	frames chan []byte
}

func newSession(id string, size int) *fakeSession {
	return &fakeSession{id: id, frames: make(chan []byte, size)}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Enqueue(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

type fakeArchive struct {
	mu      sync.Mutex
	records []archive.Record
}

func (f *fakeArchive) Publish(rec archive.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeArchive) Close() error { return nil }

type DispatcherSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	store   *store.Store
	relay   *fakeRelay
	archive *fakeArchive
	d       *Dispatcher
}

func (s *DispatcherSuite) SetupTest() {
	kv, err := store.OpenBadger("")
	s.Require().NoError(err)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.store = store.New(kv, "t:")
	s.relay = &fakeRelay{}
	s.archive = &fakeArchive{}
	s.d = s.start(local)
}

func (s *DispatcherSuite) TearDownTest() {
	s.cancel()
	s.store.Close()
}

func (s *DispatcherSuite) start(identity string) *Dispatcher {
	d := New(Config{Identity: identity, QueueSize: 16, Now: func() time.Time { return fixedNow }},
		s.store, guard.New(s.store), s.relay, s.archive)
	go d.Run(s.ctx)
	return d
}

func (s *DispatcherSuite) api(route ops.Kind, payload string) (*Result, error) {
	return s.d.Submit(s.ctx, ops.Inbound{Origin: ops.OriginLocalAPI, Route: route, Payload: []byte(payload)})
}

func (s *DispatcherSuite) peer(source, payload string) (*Result, error) {
	return s.d.Submit(s.ctx, ops.Inbound{Origin: ops.OriginRemotePeer, Source: source, Payload: []byte(payload)})
}

func (s *DispatcherSuite) attach(id string) *fakeSession {
	sess := newSession(id, 16)
	s.Require().NoError(s.d.Attach(s.ctx, sess))
	return sess
}

// sync waits until everything queued so far has been handled
func (s *DispatcherSuite) sync() {
	_, err := s.api(ops.KindListContacts, "")
	s.Require().NoError(err)
}

func (s *DispatcherSuite) frame(sess *fakeSession) map[string]json.RawMessage {
	select {
	case raw := <-sess.frames:
		var top map[string]json.RawMessage
		s.Require().NoError(json.Unmarshal(raw, &top))
		s.Require().Len(top, 1)
		return top
	case <-time.After(time.Second):
		s.FailNow("no frame received")
		return nil
	}
}

func (s *DispatcherSuite) messages(counterparty string) []store.ChatMessage {
	msgs, err := s.store.GetMessages(s.ctx, counterparty)
	s.Require().NoError(err)
	return msgs
}

func (s *DispatcherSuite) TestRemoteSendToLocalIdentityIsLogged() {
	sess := s.attach("ui")

	res, err := s.peer("bob.os", `{"Send":{"target":"alice.os","message":"hi"}}`)
	s.Require().NoError(err)
	s.Equal("bob.os", res.Message.Author)

	msgs := s.messages("bob.os")
	s.Require().Len(msgs, 1)
	s.Equal(store.ChatMessage{Author: "bob.os", Content: "hi", Timestamp: uint64(fixedNow.Unix())}, msgs[0])
	s.Zero(s.relay.count())

	top := s.frame(sess)
	s.JSONEq(`{"counterparty":"bob.os","author":"bob.os","content":"hi","timestamp":1700000000}`, string(top["NewMessage"]))
}

func (s *DispatcherSuite) TestRemoteSendForAnotherNodeIsRejected() {
	_, err := s.peer("bob.os", `{"Send":{"target":"carol.os","message":"hi"}}`)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	s.Empty(s.messages("bob.os"))
	s.Empty(s.messages("carol.os"))
	s.Zero(s.relay.count())
}

func (s *DispatcherSuite) TestRemoteSendWithoutValidSourceIsDecodeFailure() {
	_, err := s.peer("", `{"Send":{"target":"alice.os","message":"hi"}}`)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeDecodeFailed))
	s.Empty(s.messages(""))
}

func (s *DispatcherSuite) TestRelayedSendIsLoggedAfterAck() {
	sess := s.attach("ui")

	_, err := s.api(ops.KindSendDirect, `{"target":"bob.os","message":"hi"}`)
	s.Require().NoError(err)

	s.Equal([]ops.SendDirect{{Target: "bob.os", Content: "hi"}}, s.relay.calls)
	msgs := s.messages("bob.os")
	s.Require().Len(msgs, 1)
	s.Equal(local, msgs[0].Author)
	s.Contains(s.frame(sess), "NewMessage")

	s.Require().Len(s.archive.records, 1)
	s.Equal(archive.Record{Node: local, Kind: archive.KindDirect, Conversation: "bob.os", Message: msgs[0]}, s.archive.records[0])
}

func (s *DispatcherSuite) TestRelayFailureWritesNothing() {
	sess := s.attach("ui")

	failures := []*apperrors.AppError{
		apperrors.NewRelayTimeout("bob.os", 5*time.Second),
		apperrors.NewRelayRejected("bob.os", 500, "disk full"),
		apperrors.NewRelayUnavailable("bob.os", "unreachable", assert.AnError),
	}
	for _, failure := range failures {
		s.relay.err = failure
		_, err := s.api(ops.KindSendDirect, `{"target":"bob.os","message":"hi"}`)
		s.Require().Error(err)
		s.Equal(failure.Code, apperrors.FromError(err).Code)
	}

	s.Empty(s.messages("bob.os"))
	s.Len(sess.frames, 0)
	s.Empty(s.archive.records)
}

func (s *DispatcherSuite) TestSendToSelfSkipsRelay() {
	_, err := s.api(ops.KindSendDirect, `{"target":"alice.os","message":"note"}`)
	s.Require().NoError(err)
	s.Zero(s.relay.count())
	s.Len(s.messages(local), 1)
}

func (s *DispatcherSuite) TestGroupRoundTripAndForbiddenSend() {
	res, err := s.api(ops.KindCreateGroup, `{"name":"g","members":["bob.os"]}`)
	s.Require().NoError(err)
	group := res.Group
	s.Equal([]string{"alice.os", "bob.os"}, group.Members)

	carol := s.start("carol.os")
	_, err = carol.Submit(s.ctx, ops.Inbound{
		Origin:  ops.OriginLocalAPI,
		Route:   ops.KindSendGroupMessage,
		Payload: []byte(`{"group_id":"` + group.ID + `","message":"let me in"}`),
	})
	s.True(apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	msgs, err := s.store.GetGroupMessages(s.ctx, group.ID)
	s.Require().NoError(err)
	s.Empty(msgs)

	_, err = s.api(ops.KindSendGroupMessage, `{"group_id":"`+group.ID+`","message":"welcome"}`)
	s.Require().NoError(err)
	msgs, err = s.store.GetGroupMessages(s.ctx, group.ID)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(local, msgs[0].Author)
}

func (s *DispatcherSuite) TestUnknownGroupIsNotFound() {
	_, err := s.api(ops.KindSendGroupMessage, `{"group_id":"group_nope","message":"hi"}`)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = s.api(ops.KindAddGroupMember, `{"group_id":"group_nope","member":"bob.os"}`)
	s.True(apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func (s *DispatcherSuite) TestAddMemberTwice() {
	sess := s.attach("ui")
	res, err := s.api(ops.KindCreateGroup, `{"name":"g","members":[]}`)
	s.Require().NoError(err)
	s.Contains(s.frame(sess), "NewGroup")
	payload := `{"group_id":"` + res.Group.ID + `","member":"bob.os"}`

	first, err := s.api(ops.KindAddGroupMember, payload)
	s.Require().NoError(err)
	s.True(first.Changed)
	s.Contains(s.frame(sess), "GroupUpdated")

	second, err := s.api(ops.KindAddGroupMember, payload)
	s.Require().NoError(err)
	s.False(second.Changed)
	s.Len(sess.frames, 0)

	group, err := s.store.GetGroup(s.ctx, res.Group.ID)
	s.Require().NoError(err)
	s.Equal([]string{"alice.os", "bob.os"}, group.Members)
}

func (s *DispatcherSuite) TestCreatorCanBeRemoved() {
	res, err := s.api(ops.KindCreateGroup, `{"name":"g","members":["bob.os"]}`)
	s.Require().NoError(err)

	out, err := s.api(ops.KindRemoveGroupMember, `{"group_id":"`+res.Group.ID+`","member":"alice.os"}`)
	s.Require().NoError(err)
	s.True(out.Changed)
	s.Equal([]string{"bob.os"}, out.Group.Members)
}

func (s *DispatcherSuite) TestSequentialSendsKeepOrder() {
	for _, content := range []string{"a", "b", "c"} {
		_, err := s.api(ops.KindSendDirect, `{"target":"bob.os","message":"`+content+`"}`)
		s.Require().NoError(err)
	}

	msgs := s.messages("bob.os")
	s.Require().Len(msgs, 3)
	s.Equal([]string{"a", "b", "c"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
}

func (s *DispatcherSuite) TestLiveQueriesAnswerOnlyTheAsker() {
	asker, other := s.attach("asker"), s.attach("other")
	_, err := s.api(ops.KindCreateGroup, `{"name":"g","members":[]}`)
	s.Require().NoError(err)
	s.frame(asker)
	s.frame(other)

	s.Require().NoError(s.d.SubmitLive(s.ctx, "asker", []byte(`{"GetGroups":null}`)))
	top := s.frame(asker)
	var groups []store.Group
	s.Require().NoError(json.Unmarshal(top["Groups"], &groups))
	s.Len(groups, 1)

	s.sync()
	s.Len(other.frames, 0)
}

func (s *DispatcherSuite) TestLiveSendBroadcastsToAll() {
	a, b := s.attach("a"), s.attach("b")

	s.Require().NoError(s.d.SubmitLive(s.ctx, "a", []byte(`{"data":"{\"target\":\"bob.os\",\"message\":\"legacy\"}"}`)))
	s.Contains(s.frame(a), "NewMessage")
	s.Contains(s.frame(b), "NewMessage")
	s.Equal("legacy", s.messages("bob.os")[0].Content)
}

func (s *DispatcherSuite) TestLiveErrorsAreDroppedAndLoopContinues() {
	sess := s.attach("ui")

	s.Require().NoError(s.d.SubmitLive(s.ctx, "ui", []byte(`{{{`)))
	s.Require().NoError(s.d.SubmitLive(s.ctx, "ui", []byte(`{"GroupMessage":{"group_id":"group_nope","message":"x"}}`)))
	s.sync()
	s.Len(sess.frames, 0)

	_, err := s.api(ops.KindSendDirect, `{"target":"bob.os","message":"still alive"}`)
	s.Require().NoError(err)
	s.Contains(s.frame(sess), "NewMessage")
}

func (s *DispatcherSuite) TestDetachedSessionGetsNothing() {
	sess := s.attach("ui")
	s.Require().NoError(s.d.Detach(s.ctx, "ui"))

	_, err := s.api(ops.KindSendDirect, `{"target":"bob.os","message":"hi"}`)
	s.Require().NoError(err)
	s.Len(sess.frames, 0)
}

func (s *DispatcherSuite) TestFullSessionDoesNotBlock() {
	stuck := newSession("stuck", 0)
	s.Require().NoError(s.d.Attach(s.ctx, stuck))
	fine := s.attach("fine")

	_, err := s.api(ops.KindSendDirect, `{"target":"bob.os","message":"hi"}`)
	s.Require().NoError(err)
	s.Contains(s.frame(fine), "NewMessage")
}

func (s *DispatcherSuite) TestMalformedPayloadsChangeNothing() {
	res, err := s.api(ops.KindCreateGroup, `{"name":"g","members":["bob.os"]}`)
	s.Require().NoError(err)
	_, err = s.api(ops.KindSendDirect, `{"target":"bob.os","message":"hi"}`)
	s.Require().NoError(err)

	snapshot := func() []byte {
		all, err := s.store.AllMessages(s.ctx)
		s.Require().NoError(err)
		groups, err := s.store.ListGroups(s.ctx)
		s.Require().NoError(err)
		gm, err := s.store.GetGroupMessages(s.ctx, res.Group.ID)
		s.Require().NoError(err)
		raw, err := json.Marshal([]any{all, groups, gm})
		s.Require().NoError(err)
		return raw
	}
	before := snapshot()
	sess := s.attach("ui")

	bad := []ops.Inbound{
		{Origin: ops.OriginLocalAPI, Route: ops.KindSendDirect, Payload: []byte(`not json`)},
		{Origin: ops.OriginLocalAPI, Route: ops.KindAddGroupMember, Payload: []byte(`{"group_id":"` + res.Group.ID + `"}`)},
		{Origin: ops.OriginLocalAPI, Route: ops.KindSendGroupMessage, Payload: []byte(`{"Send":{"target":"bob.os","message":"hi"}}`)},
		{Origin: ops.OriginRemotePeer, Source: "bob.os", Payload: []byte(`{"CreateGroup":{"name":"evil","members":[]}}`)},
		{Origin: ops.OriginRemotePeer, Source: "bob.os", Payload: []byte(`{"target":"alice.os","message":"hi"}`)},
		{Origin: ops.OriginUnknown, Payload: []byte(`{"Send":{"target":"bob.os","message":"hi"}}`)},
	}
	for _, in := range bad {
		_, err := s.d.Submit(s.ctx, in)
		s.True(apperrors.HasCode(err, apperrors.ErrCodeDecodeFailed), "payload %s", in.Payload)
	}

	s.Equal(before, snapshot())
	s.Len(sess.frames, 0)
	s.Equal(1, s.relay.count())
}

func (s *DispatcherSuite) TestContacts() {
	sess := s.attach("ui")

	res, err := s.api(ops.KindAddContact, `{"id":"bob.os","name":"Bob"}`)
	s.Require().NoError(err)
	s.True(res.Changed)
	s.JSONEq(`{"id":"bob.os","name":"Bob","status":"known"}`, string(s.frame(sess)["ContactAdded"]))

	res, err = s.api(ops.KindListContacts, "")
	s.Require().NoError(err)
	s.Equal([]store.Contact{{Identity: "bob.os", Name: "Bob", Status: store.ContactStatusKnown}}, res.Contacts)
}

func (s *DispatcherSuite) TestHistoryQueries() {
	_, err := s.peer("bob.os", `{"Send":{"target":"alice.os","message":"hi"}}`)
	s.Require().NoError(err)
	_, err = s.api(ops.KindSendDirect, `{"target":"carol.os","message":"yo"}`)
	s.Require().NoError(err)

	all, err := s.api(ops.KindGetHistory, "")
	s.Require().NoError(err)
	s.Len(all.History, 2)

	one, err := s.peer("bob.os", `{"History":{"node":"bob.os"}}`)
	s.Require().NoError(err)
	s.Len(one.Messages, 1)
	s.Equal("hi", one.Messages[0].Content)
}

func (s *DispatcherSuite) TestRemoteHistoryPullWritesNothing() {
	s.relay.history = []relay.WireMessage{{Author: "bob.os", Content: "from bob"}}
	sess := s.attach("asker")
	other := s.attach("other")

	s.Require().NoError(s.d.SubmitLive(s.ctx, "asker", []byte(`{"GetMessages":{"counterparty":"bob.os","remote":true}}`)))
	s.JSONEq(`{"bob.os":[{"author":"bob.os","content":"from bob","timestamp":0}]}`, string(s.frame(sess)["Messages"]))

	s.sync()
	s.Len(other.frames, 0)
	s.Empty(s.messages("bob.os"))
	s.Equal(1, s.relay.count())
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

// The typed and tagged encodings of one send must leave identical traces
func TestTypedAndTaggedSendsHaveIdenticalEffects(t *testing.T) {
	effects := func(payload string) ([]store.ChatMessage, []byte) {
		kv, err := store.OpenBadger("")
		require.NoError(t, err)
		st := store.New(kv, "t:")
		defer st.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		d := New(Config{Identity: local, Now: func() time.Time { return fixedNow }}, st, guard.New(st), &fakeRelay{}, nil)
		go d.Run(ctx)

		sess := newSession("ui", 4)
		require.NoError(t, d.Attach(ctx, sess))
		_, err = d.Submit(ctx, ops.Inbound{Origin: ops.OriginLocalAPI, Route: ops.KindSendDirect, Payload: []byte(payload)})
		require.NoError(t, err)

		msgs, err := st.GetMessages(ctx, "bob.os")
		require.NoError(t, err)
		return msgs, <-sess.frames
	}

	typedLog, typedFrame := effects(`{"target":"bob.os","message":"hi"}`)
	taggedLog, taggedFrame := effects(`{"Send":{"target":"bob.os","message":"hi"}}`)

	assert.Equal(t, typedLog, taggedLog)
	assert.Equal(t, typedFrame, taggedFrame)
}

func TestSubmitAfterStopIsUnavailable(t *testing.T) {
	kv, err := store.OpenBadger("")
	require.NoError(t, err)
	st := store.New(kv, "t:")
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := New(Config{Identity: local, QueueSize: 1}, st, guard.New(st), &fakeRelay{}, nil)
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	_, err = d.Submit(context.Background(), ops.Inbound{Origin: ops.OriginLocalAPI, Route: ops.KindListGroups})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnavailable))
}

func TestAbandonedSubmitIsNeverRelayedOrWritten(t *testing.T) {
	kv, err := store.OpenBadger("")
	require.NoError(t, err)
	st := store.New(kv, "t:")
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gate := &gatedRelay{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := New(Config{Identity: local, Now: func() time.Time { return fixedNow }}, st, guard.New(st), gate, nil)
	go d.Run(ctx)

	send := func(ctx context.Context, content string) error {
		_, err := d.Submit(ctx, ops.Inbound{Origin: ops.OriginLocalAPI, Route: ops.KindSendDirect,
			Payload: []byte(`{"target":"bob.os","message":"` + content + `"}`)})
		return err
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- send(ctx, "first") }()
	<-gate.started

	short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
	defer stop()
	err = send(short, "second")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnavailable), err.Error())

	close(gate.release)
	require.NoError(t, <-firstDone)
	_, err = d.Submit(ctx, ops.Inbound{Origin: ops.OriginLocalAPI, Route: ops.KindListContacts})
	require.NoError(t, err)

	msgs, err := st.GetMessages(ctx, "bob.os")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, 1, gate.count())
}
