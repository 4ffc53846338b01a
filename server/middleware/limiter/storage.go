package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage is an interface for storing and retrieving token buckets
type Storage interface {
	// Get retrieves a token bucket for the given key, nil when unknown
	Get(key string) (*TokenBucket, error)

	// Set stores a token bucket for the given key
	Set(key string, bucket *TokenBucket) error

	// Delete removes a token bucket for the given key
	Delete(key string) error
}

type InMemoryStorage struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		buckets: make(map[string]*TokenBucket),
	}
}

func (s *InMemoryStorage) Get(key string) (*TokenBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.buckets[key], nil
}

func (s *InMemoryStorage) Set(key string, bucket *TokenBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[key] = bucket
	return nil
}

func (s *InMemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buckets, key)
	return nil
}

// RedisStorage shares buckets between nodes behind the same Redis. Keys
// are namespaced by prefix so nodes sharing a database keep separate limits.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStorage(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		client: client,
		prefix: prefix + "ratelimit:",
		ttl:    ttl,
	}
}

func (s *RedisStorage) Get(key string) (*TokenBucket, error) {
	data, err := s.client.Get(context.Background(), s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var bucket TokenBucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return nil, err
	}
	return &bucket, nil
}

func (s *RedisStorage) Set(key string, bucket *TokenBucket) error {
	bucket.mu.Lock()
	data, err := json.Marshal(bucket)
	bucket.mu.Unlock()
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), s.prefix+key, data, s.ttl).Err()
}

func (s *RedisStorage) Delete(key string) error {
	return s.client.Del(context.Background(), s.prefix+key).Err()
}
