package store

import (
	"context"
	"fmt"

	"peerchat/config"

	"github.com/redis/go-redis/v9"
)

// OpenKV builds the backend selected by cfg.Store.Backend. rdb is only
// consulted for the redis backend.
func OpenKV(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient) (KV, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis backend selected without a redis client")
		}
		return NewRedisKV(rdb), nil
	case config.StoreBadger:
		return OpenBadger(cfg.Badger.Dir)
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.Database.ConnectionString)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
