package broadcast

import (
	"encoding/json"
	"testing"

	"peerchat/services/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id     string
	frames [][]byte
	full   bool
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Enqueue(frame []byte) bool {
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func TestBroadcastReachesEverySessionWithSameBytes(t *testing.T) {
	reg := NewRegistry()
	a, b := &fakeSession{id: "a"}, &fakeSession{id: "b"}
	reg.Attach(a)
	reg.Attach(b)

	n, err := New(reg).Broadcast(NewMessage{Counterparty: "bob.os", Author: "bob.os", Content: "hi", Timestamp: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, a.frames, 1)
	require.Len(t, b.frames, 1)
	assert.Equal(t, a.frames[0], b.frames[0])
	assert.JSONEq(t, `{"NewMessage":{"counterparty":"bob.os","author":"bob.os","content":"hi","timestamp":7}}`, string(a.frames[0]))
}

func TestBroadcastSkipsFullSessions(t *testing.T) {
	reg := NewRegistry()
	slow, fast := &fakeSession{id: "slow", full: true}, &fakeSession{id: "fast"}
	reg.Attach(slow)
	reg.Attach(fast)

	n, err := New(reg).Broadcast(Groups{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, fast.frames, 1)
	assert.Empty(t, slow.frames)
}

func TestSendToTargetsOneSession(t *testing.T) {
	reg := NewRegistry()
	a, b := &fakeSession{id: "a"}, &fakeSession{id: "b"}
	reg.Attach(a)
	reg.Attach(b)
	bc := New(reg)

	require.NoError(t, bc.SendTo("b", Contacts{{Identity: "carol.os", Name: "Carol", Status: "known"}}))
	assert.Empty(t, a.frames)
	require.Len(t, b.frames, 1)
	assert.JSONEq(t, `{"Contacts":[{"id":"carol.os","name":"Carol","status":"known"}]}`, string(b.frames[0]))

	assert.Error(t, bc.SendTo("gone", Contacts{}))
}

func TestRegistryDetach(t *testing.T) {
	reg := NewRegistry()
	reg.Attach(&fakeSession{id: "b"})
	reg.Attach(&fakeSession{id: "a"})

	assert.Equal(t, []string{"a", "b"}, reg.IDs())
	assert.True(t, reg.Detach("a"))
	assert.False(t, reg.Detach("a"))
	assert.Equal(t, 1, reg.Len())
}

func TestFrameShapes(t *testing.T) {
	group := store.Group{ID: "group_1", Name: "g", Members: []string{"alice.os"}, CreatedBy: "alice.os", CreatedAt: 1}

	tests := []struct {
		ev   Event
		want string
	}{
		{
			ev:   NewGroup{group},
			want: `{"NewGroup":{"id":"group_1","name":"g","members":["alice.os"],"created_by":"alice.os","created_at":1}}`,
		},
		{
			ev:   GroupUpdated{Action: ActionMemberAdded, Member: "bob.os", Group: group},
			want: `{"GroupUpdated":{"action":"member_added","member":"bob.os","group":{"id":"group_1","name":"g","members":["alice.os"],"created_by":"alice.os","created_at":1}}}`,
		},
		{
			ev:   Messages{"bob.os": {{Author: "bob.os", Content: "hi", Timestamp: 2}}},
			want: `{"Messages":{"bob.os":[{"author":"bob.os","content":"hi","timestamp":2}]}}`,
		},
		{
			ev:   NewGroupMessage{GroupID: "group_1", Author: "alice.os", Content: "yo", Timestamp: 3},
			want: `{"NewGroupMessage":{"group_id":"group_1","author":"alice.os","content":"yo","timestamp":3}}`,
		},
		{
			ev:   ContactAdded{store.Contact{Identity: "bob.os", Name: "Bob", Status: "known"}},
			want: `{"ContactAdded":{"id":"bob.os","name":"Bob","status":"known"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.ev.FrameName(), func(t *testing.T) {
			raw, err := Encode(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))

			var top map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &top))
			assert.Len(t, top, 1)
		})
	}
}
