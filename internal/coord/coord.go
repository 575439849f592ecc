// Package coord provides the lease primitives used to elect a single worker leader
// across the fleet.
package coord

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants time-bounded, holder-owned leases on a key.
// Implementations must be safe for concurrent use.
type Locker interface {
	// TryAcquire sets the lease to holderID if no live lease exists.
	TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)
	// Renew extends the lease by ttl only if holderID still owns it.
	Renew(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)
	// Release deletes the lease only if holderID still owns it.
	Release(ctx context.Context, key, holderID string) error
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX plus compare-and-extend and
// compare-and-delete Lua scripts.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker creates a RedisLocker. client is usually a *redis.Client shared with the cache.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, holderID, ttl).Result()
}

func (l *RedisLocker) Renew(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{key}, holderID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, holderID string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, holderID).Err()
}
