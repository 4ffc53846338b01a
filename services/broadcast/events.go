package broadcast

import (
	"encoding/json"

	"peerchat/services/store"
)

// Event is one outbound live frame. It is rendered as an object whose
// single key is the frame name.
type Event interface {
	FrameName() string
}

// Encode renders ev in its wire form
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(map[string]Event{ev.FrameName(): ev})
}

// NewMessage announces a committed direct message
type NewMessage struct {
	Counterparty string `json:"counterparty"`
	Author       string `json:"author"`
	Content      string `json:"content"`
	Timestamp    uint64 `json:"timestamp"`
}

type NewGroupMessage struct {
	GroupID   string `json:"group_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp uint64 `json:"timestamp"`
}

type NewGroup struct {
	store.Group
}

// Membership change actions
const (
	ActionMemberAdded   = "member_added"
	ActionMemberRemoved = "member_removed"
)

type GroupUpdated struct {
	Action string      `json:"action"`
	Member string      `json:"member"`
	Group  store.Group `json:"group"`
}

// Messages answers a history query, keyed by counterparty
type Messages map[string][]store.ChatMessage

type Groups []store.Group

type GroupMessages struct {
	GroupID  string              `json:"group_id"`
	Messages []store.ChatMessage `json:"messages"`
}

type ContactAdded struct {
	store.Contact
}

type Contacts []store.Contact

func (NewMessage) FrameName() string      { return "NewMessage" }
func (NewGroupMessage) FrameName() string { return "NewGroupMessage" }
func (NewGroup) FrameName() string        { return "NewGroup" }
func (GroupUpdated) FrameName() string    { return "GroupUpdated" }
func (Messages) FrameName() string        { return "Messages" }
func (Groups) FrameName() string          { return "Groups" }
func (GroupMessages) FrameName() string   { return "GroupMessages" }
func (ContactAdded) FrameName() string    { return "ContactAdded" }
func (Contacts) FrameName() string        { return "Contacts" }
