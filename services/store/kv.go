package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Txn.Get for absent keys and by the Store for absent groups
var ErrNotFound = errors.New("store: not found")

// maxConflictRetries bounds how often an optimistic transaction is replayed
const maxConflictRetries = 10

// Txn is the read-modify-write view handed to KV.Update callbacks
type Txn interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// KV is the storage engine behind the Store. Implementations must make every
// Update atomic over the keys it touches.
type KV interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	// Update runs fn in one transaction. keys lists everything fn may read or
	// write so optimistic backends can watch them.
	Update(ctx context.Context, keys []string, fn func(Txn) error) error
	Close() error
}
