// Package ops turns inbound payloads from every ingress channel into one
// closed set of canonical chat operations.
package ops

// Origin tags the ingress channel a payload arrived on
type Origin string

const (
	OriginLocalAPI   Origin = "local-api"
	OriginLocalLive  Origin = "local-live"
	OriginRemotePeer Origin = "remote-peer"
	OriginUnknown    Origin = "unknown"
)

func (o Origin) IsLocal() bool {
	return o == OriginLocalAPI || o == OriginLocalLive
}

// Kind names a canonical operation
type Kind string

const (
	KindSendDirect        Kind = "SendDirect"
	KindGetHistory        Kind = "GetHistory"
	KindCreateGroup       Kind = "CreateGroup"
	KindSendGroupMessage  Kind = "SendGroupMessage"
	KindAddGroupMember    Kind = "AddGroupMember"
	KindRemoveGroupMember Kind = "RemoveGroupMember"
	KindListGroups        Kind = "ListGroups"
	KindGetGroupMessages  Kind = "GetGroupMessages"
	KindAddContact        Kind = "AddContact"
	KindListContacts      Kind = "ListContacts"
)

// IsQuery reports whether the kind only reads state
func (k Kind) IsQuery() bool {
	switch k {
	case KindGetHistory, KindListGroups, KindGetGroupMessages, KindListContacts:
		return true
	}
	return false
}

// Operation is implemented only by the types below
type Operation interface {
	Kind() Kind
	operation()
}

type SendDirect struct {
	Target  string `validate:"required,identity"`
	Content string `validate:"required"`
}

// GetHistory with an empty Counterparty asks for every conversation.
// Remote pulls the counterparty's own log of the conversation instead.
type GetHistory struct {
	Counterparty string `validate:"omitempty,identity"`
	Remote       bool
}

type CreateGroup struct {
	Name    string   `validate:"required,max=128"`
	Members []string `validate:"dive,identity"`
}

type SendGroupMessage struct {
	GroupID string `validate:"required"`
	Content string `validate:"required"`
}

type AddGroupMember struct {
	GroupID string `validate:"required"`
	Member  string `validate:"required,identity"`
}

type RemoveGroupMember struct {
	GroupID string `validate:"required"`
	Member  string `validate:"required,identity"`
}

type ListGroups struct{}

type GetGroupMessages struct {
	GroupID string `validate:"required"`
}

type AddContact struct {
	Identity string `validate:"required,identity"`
	Name     string `validate:"max=128"`
}

type ListContacts struct{}

func (SendDirect) Kind() Kind        { return KindSendDirect }
func (GetHistory) Kind() Kind        { return KindGetHistory }
func (CreateGroup) Kind() Kind       { return KindCreateGroup }
func (SendGroupMessage) Kind() Kind  { return KindSendGroupMessage }
func (AddGroupMember) Kind() Kind    { return KindAddGroupMember }
func (RemoveGroupMember) Kind() Kind { return KindRemoveGroupMember }
func (ListGroups) Kind() Kind        { return KindListGroups }
func (GetGroupMessages) Kind() Kind  { return KindGetGroupMessages }
func (AddContact) Kind() Kind        { return KindAddContact }
func (ListContacts) Kind() Kind      { return KindListContacts }

func (SendDirect) operation()        {}
func (GetHistory) operation()        {}
func (CreateGroup) operation()       {}
func (SendGroupMessage) operation()  {}
func (AddGroupMember) operation()    {}
func (RemoveGroupMember) operation() {}
func (ListGroups) operation()        {}
func (GetGroupMessages) operation()  {}
func (AddContact) operation()        {}
func (ListContacts) operation()      {}

// Inbound is one raw item waiting to be classified
type Inbound struct {
	Origin Origin
	// Route is the operation kind an API route declares; empty elsewhere
	Route Kind
	// Source is the identity a remote peer announced
	Source  string
	Payload []byte
}
