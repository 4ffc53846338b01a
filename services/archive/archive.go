// Package archive streams committed messages to Kafka for downstream history consumers.
package archive

import (
	"peerchat/services/store"
)

// Conversation kinds carried on records
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// Record is one committed message as published on the history topic
type Record struct {
	Node         string            `json:"node"`
	Kind         string            `json:"kind"`
	Conversation string            `json:"conversation"`
	Message      store.ChatMessage `json:"message"`
}

func (r Record) key() string {
	return r.Node + ":" + r.Kind + ":" + r.Conversation
}

// Publisher accepts records after commit. Publish must not block.
type Publisher interface {
	Publish(rec Record)
	Close() error
}

// Noop is used when no Kafka address is configured
type Noop struct{}

func (Noop) Publish(Record) {}
func (Noop) Close() error   { return nil }
