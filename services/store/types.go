package store

import (
	"slices"
)

// ChatMessage is one immutable log entry
type ChatMessage struct {
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp uint64 `json:"timestamp"`
}

// Group is a named member set with its own message log
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"` // sorted, unique
	CreatedBy string   `json:"created_by"`
	CreatedAt uint64   `json:"created_at"`
}

func (g Group) HasMember(identity string) bool {
	_, ok := slices.BinarySearch(g.Members, identity)
	return ok
}

// Contact is secondary metadata about a known identity
type Contact struct {
	Identity string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

const ContactStatusKnown = "known"
