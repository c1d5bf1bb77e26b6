package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/menta2k/piece-locator/pkg/reference"
)

// RedisStore keeps encoded sets in Redis under "<namespace>:<fingerprint>"
type RedisStore struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewRedisStore creates a RedisStore. If namespace is empty it uses
// "refsets". A ttl of 0 keeps sets until deleted.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, namespace string) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	if namespace == "" {
		namespace = "refsets"
	}
	return &RedisStore{rdb: rdb, ttl: ttl, namespace: namespace}
}

// NewRedisClient connects to addr and checks the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection to %s failed: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) key(fingerprint string) string {
	return fmt.Sprintf("%s:%s", s.namespace, fingerprint)
}

// Save stores set, replacing any previous value
func (s *RedisStore) Save(ctx context.Context, set *reference.Set) error {
	if err := checkFingerprint(set.Fingerprint()); err != nil {
		return err
	}
	data, err := Marshal(set)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(set.Fingerprint()), data, s.ttl).Err()
}

// Load fetches the set for fingerprint. A stored value that fails to decode
// is deleted and its error returned, so the caller can rebuild.
func (s *RedisStore) Load(ctx context.Context, fingerprint string) (*reference.Set, error) {
	if err := checkFingerprint(fingerprint); err != nil {
		return nil, err
	}
	key := s.key(fingerprint)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	set, err := Unmarshal(data)
	if err != nil {
		_ = s.rdb.Del(ctx, key).Err()
		return nil, err
	}
	return set, nil
}

// Delete removes the set for fingerprint
func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := checkFingerprint(fingerprint); err != nil {
		return err
	}
	return s.rdb.Del(ctx, s.key(fingerprint)).Err()
}
