package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnceRegistry records intent keys so side effects are requested at most once.
// First returns true only for the first caller of a given key. Forget drops a
// key so a failed side effect can be retried.
type OnceRegistry interface {
	First(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type redisOnceRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisOnceRegistry creates a registry backed by SetNX keys with a TTL.
// Keys only need to outlive the window in which a duplicate request could
// plausibly be issued, so a bounded TTL keeps the keyspace from growing.
func NewRedisOnceRegistry(client *redis.Client, ttl time.Duration) OnceRegistry {
	return &redisOnceRegistry{client: client, ttl: ttl}
}

func (r *redisOnceRegistry) First(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, fmt.Sprintf("once:%s", key), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("register once key %s: %w", key, err)
	}
	return ok, nil
}

func (r *redisOnceRegistry) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, fmt.Sprintf("once:%s", key)).Err(); err != nil {
		return fmt.Errorf("forget once key %s: %w", key, err)
	}
	return nil
}

type localOnceRegistry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLocalOnceRegistry creates a process-local registry for tests and
// single-node deployments without Redis.
func NewLocalOnceRegistry() OnceRegistry {
	return &localOnceRegistry{seen: make(map[string]struct{})}
}

func (r *localOnceRegistry) First(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = struct{}{}
	return true, nil
}

func (r *localOnceRegistry) Forget(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, key)
	return nil
}
