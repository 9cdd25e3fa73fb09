package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis holds keys as SET NX PX entries so several replicas sharing one
// database serialise on the same sections.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retry   time.Duration
	release *redis.Script
}

func NewRedis(client redis.UniversalClient, prefix string, ttl, retry time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		retry:   retry,
		release: redis.NewScript(releaseScript),
	}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis locker not configured")
	}
	token := uuid.NewString()
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := r.lock(ctx, r.key(k), token); err != nil {
			r.unlockAll(held, token)
			return nil, err
		}
		held = append(held, r.key(k))
	}
	var once sync.Once
	return func() { once.Do(func() { r.unlockAll(held, token) }) }, nil
}

func (r *Redis) lock(ctx context.Context, key, token string) error {
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		jitter := time.Duration(rand.Int63n(int64(r.retry))) //nolint:gosec // jitter doesn't need crypto rand
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retry + jitter):
		}
	}
}

func (r *Redis) unlockAll(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		// expiry covers a failed release
		_ = r.release.Run(ctx, r.client, []string{keys[i]}, token).Err()
	}
}
