package store

import (
	"context"
	"errors"
	"fmt"

	"peerchat/pkg/metrics"

	"github.com/dgraph-io/badger/v4"
)

// BadgerKV is the embedded backend, also used in-memory by tests
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens a badger database at dir; an empty dir opens an in-memory instance
func OpenBadger(dir string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Name() string { return "badger" }

func (b *BadgerKV) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		v, err := (&badgerTxn{txn: txn}).Get(key)
		out = v
		return err
	})
	return out, err
}

type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key string, value []byte) error {
	return t.txn.Set([]byte(key), value)
}

func (b *BadgerKV) Update(ctx context.Context, _ []string, fn func(Txn) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTxn{txn: txn})
		})
		if errors.Is(err, badger.ErrConflict) {
			metrics.IncrementStoreConflicts(b.Name())
			continue
		}
		return err
	}
	return fmt.Errorf("badger transaction: too many conflicts")
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}
