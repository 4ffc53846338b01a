package store

import (
	"context"
	"errors"
	"fmt"

	"peerchat/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// RedisKV runs transactions with WATCH/MULTI/EXEC
type RedisKV struct {
	rdb redis.UniversalClient
}

func NewRedisKV(rdb redis.UniversalClient) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) Name() string { return "redis" }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

type redisTxn struct {
	ctx    context.Context
	tx     *redis.Tx
	writes map[string][]byte
	order  []string
}

func (t *redisTxn) Get(key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	val, err := t.tx.Get(t.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (t *redisTxn) Set(key string, value []byte) error {
	if _, seen := t.writes[key]; !seen {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
	return nil
}

func (r *RedisKV) Update(ctx context.Context, keys []string, fn func(Txn) error) error {
	txf := func(tx *redis.Tx) error {
		txn := &redisTxn{ctx: ctx, tx: tx, writes: make(map[string][]byte)}
		if err := fn(txn); err != nil {
			return err
		}
		if len(txn.order) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range txn.order {
				pipe.Set(ctx, k, txn.writes[k], 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := r.rdb.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			metrics.IncrementStoreConflicts(r.Name())
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction on %v: too many conflicts", keys)
}

func (r *RedisKV) Close() error {
	// The client is shared with the peer registry and closed by its owner
	return nil
}
