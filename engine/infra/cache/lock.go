// Package cache provides the Redis-backed distributed lock used to
// de-duplicate scheduler ticks across orchestrator instances. The approval
// timeout sweep in cmd/orchestratord does not take this lock.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the lock key only if it still holds the token we
// set, so a process never releases a lock another holder has since acquired
// after this one's TTL expired.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// refreshLockScript extends a held lock's TTL without losing the token check.
var refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// LockManager acquires short-lived mutual-exclusion locks over a Redis key
// namespace, in the style of a single-node Redlock.
type LockManager struct {
	client *redis.Client
	prefix string
}

// NewLockManager wraps an existing Redis client.
func NewLockManager(client *redis.Client, keyPrefix string) *LockManager {
	return &LockManager{client: client, prefix: keyPrefix}
}

// Lock is a held distributed lock; call Release to give it up early.
type Lock struct {
	manager  *LockManager
	resource string
	token    string
}

// Acquire makes one non-blocking attempt to take resource's lock for ttl,
// returning the held Lock on success or (nil, false) if someone else holds it.
func (m *LockManager) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.NewString()
	key := m.prefix + resource
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{manager: m, resource: resource, token: token}, true, nil
}

// Release gives up the lock if this holder's token is still current.
func (l *Lock) Release(ctx context.Context) error {
	key := l.manager.prefix + l.resource
	return releaseLockScript.Run(ctx, l.manager.client, []string{key}, l.token).Err()
}

// Refresh extends the lock's TTL if this holder's token is still current.
func (l *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	key := l.manager.prefix + l.resource
	return refreshLockScript.Run(ctx, l.manager.client, []string{key}, l.token, ttl.Milliseconds()).Err()
}

// TryLock implements engine/schedule.Locker: it acquires resource's lock and
// returns an unlock closure bound to the held token, or ok=false if another
// instance currently holds it.
func (m *LockManager) TryLock(
	ctx context.Context,
	resource string,
	ttl time.Duration,
) (unlock func(context.Context), ok bool, err error) {
	lock, acquired, err := m.Acquire(ctx, resource, ttl)
	if err != nil || !acquired {
		return nil, false, err
	}
	return func(releaseCtx context.Context) { _ = lock.Release(releaseCtx) }, true, nil
}
