package ops

import "encoding/json"

// Typed route schemas. Field names follow the JSON the web client posts.

type sendDirectSchema struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

func (s sendDirectSchema) op() Operation { return SendDirect{Target: s.Target, Content: s.Message} }

type historySchema struct {
	Counterparty string `json:"counterparty"`
	Remote       bool   `json:"remote"`
}

func (s historySchema) op() Operation {
	return GetHistory{Counterparty: s.Counterparty, Remote: s.Remote}
}

type createGroupSchema struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s createGroupSchema) op() Operation { return CreateGroup{Name: s.Name, Members: s.Members} }

type groupMessageSchema struct {
	GroupID string `json:"group_id"`
	Message string `json:"message"`
}

func (s groupMessageSchema) op() Operation {
	return SendGroupMessage{GroupID: s.GroupID, Content: s.Message}
}

type memberSchema struct {
	GroupID string `json:"group_id"`
	Member  string `json:"member"`
}

type groupRefSchema struct {
	GroupID string `json:"group_id"`
}

func (s groupRefSchema) op() Operation { return GetGroupMessages{GroupID: s.GroupID} }

type contactSchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s contactSchema) op() Operation { return AddContact{Identity: s.ID, Name: s.Name} }

// peerHistorySchema is the remote-peer History{node} body; counterparty is accepted as an alias
type peerHistorySchema struct {
	Node         string `json:"node"`
	Counterparty string `json:"counterparty"`
}

func (s peerHistorySchema) op() Operation {
	if s.Node != "" {
		return GetHistory{Counterparty: s.Node}
	}
	return GetHistory{Counterparty: s.Counterparty}
}

// decodeFunc turns one schema-shaped body into an operation
type decodeFunc func(body []byte, strict bool) (Operation, error)

func schema[T interface{ op() Operation }]() decodeFunc {
	return func(body []byte, strict bool) (Operation, error) {
		var s T
		if err := unmarshal(body, &s, strict); err != nil {
			return nil, err
		}
		return s.op(), nil
	}
}

func member(add bool) decodeFunc {
	return func(body []byte, strict bool) (Operation, error) {
		var s memberSchema
		if err := unmarshal(body, &s, strict); err != nil {
			return nil, err
		}
		if add {
			return AddGroupMember{GroupID: s.GroupID, Member: s.Member}, nil
		}
		return RemoveGroupMember{GroupID: s.GroupID, Member: s.Member}, nil
	}
}

func constant(op Operation) decodeFunc {
	return func(body []byte, strict bool) (Operation, error) {
		var empty struct{}
		if err := unmarshal(body, &empty, strict); err != nil {
			return nil, err
		}
		return op, nil
	}
}

// typedSchemas are the declared API route schemas
var typedSchemas = map[Kind]decodeFunc{
	KindSendDirect:        schema[sendDirectSchema](),
	KindGetHistory:        schema[historySchema](),
	KindCreateGroup:       schema[createGroupSchema](),
	KindSendGroupMessage:  schema[groupMessageSchema](),
	KindAddGroupMember:    member(true),
	KindRemoveGroupMember: member(false),
	KindListGroups:        constant(ListGroups{}),
	KindGetGroupMessages:  schema[groupRefSchema](),
	KindAddContact:        schema[contactSchema](),
	KindListContacts:      constant(ListContacts{}),
}

// envelopeTags maps the single top-level key of a tagged envelope to its body decoder
var envelopeTags = map[string]decodeFunc{
	"Send":              schema[sendDirectSchema](),
	"History":           schema[peerHistorySchema](),
	"GroupMessage":      schema[groupMessageSchema](),
	"SendGroupMessage":  schema[groupMessageSchema](),
	"CreateGroup":       schema[createGroupSchema](),
	"AddGroupMember":    member(true),
	"RemoveGroupMember": member(false),
	"GetMessages":       schema[historySchema](),
	"GetGroups":         constant(ListGroups{}),
	"GetGroupMessages":  schema[groupRefSchema](),
	"AddContact":        schema[contactSchema](),
	"GetContacts":       constant(ListContacts{}),
}

// peerTags are the only envelopes a remote peer may send
var peerTags = map[string]bool{"Send": true, "History": true}

var nullBody = json.RawMessage("null")
