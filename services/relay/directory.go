package relay

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"peerchat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RegistryKey is the Redis hash shared by every node: identity -> base URL
const RegistryKey = "peerchat:peers"

var ErrUnknownPeer = errors.New("unknown peer")

// Directory maps identities to base URLs
type Directory interface {
	Resolve(ctx context.Context, identity string) (string, error)
	Peers(ctx context.Context) map[string]string
}

// StaticDirectory is the PEERS configuration on its own
type StaticDirectory map[string]string

func (d StaticDirectory) Resolve(_ context.Context, identity string) (string, error) {
	if url, ok := d[identity]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPeer, identity)
}

func (d StaticDirectory) Peers(context.Context) map[string]string {
	return maps.Clone(d)
}

// RedisDirectory overlays the shared registry on top of static entries
type RedisDirectory struct {
	rdb    redis.UniversalClient
	static StaticDirectory
	log    *logger.Logger
}

func NewRedisDirectory(rdb redis.UniversalClient, static map[string]string) *RedisDirectory {
	return &RedisDirectory{
		rdb:    rdb,
		static: StaticDirectory(static),
		log:    logger.WithComponent("directory"),
	}
}

// Register advertises this node's URL to the other nodes
func (d *RedisDirectory) Register(ctx context.Context, identity, url string) error {
	if err := d.rdb.HSet(ctx, RegistryKey, identity, url).Err(); err != nil {
		return fmt.Errorf("register %s: %w", identity, err)
	}
	d.log.WithFields(map[string]any{"identity": identity, "url": url}).Info("registered in peer directory")
	return nil
}

func (d *RedisDirectory) Deregister(ctx context.Context, identity string) error {
	return d.rdb.HDel(ctx, RegistryKey, identity).Err()
}

func (d *RedisDirectory) Resolve(ctx context.Context, identity string) (string, error) {
	url, err := d.rdb.HGet(ctx, RegistryKey, identity).Result()
	if err == nil && url != "" {
		return url, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		d.log.WithError(err).WithField("identity", identity).Warn("peer registry lookup failed, using static peers")
	}
	return d.static.Resolve(ctx, identity)
}

func (d *RedisDirectory) Peers(ctx context.Context) map[string]string {
	out := d.static.Peers(ctx)
	registered, err := d.rdb.HGetAll(ctx, RegistryKey).Result()
	if err != nil {
		d.log.WithError(err).Warn("peer registry listing failed")
		return out
	}
	maps.Copy(out, registered)
	return out
}
