// Package redislock provides a minimal single-owner lock on Redis, used to
// keep a scheduled task such as the outbox sweeper from running on several
// service instances at once.
//
// The lock is best effort: it expires on its own after the TTL so a crashed
// owner cannot wedge the schedule, which also means ownership is not
// guaranteed past the TTL. Callers must tolerate the occasional duplicate
// run.
package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only when still held by this owner, so an
// expired lock reacquired by someone else is never released by accident.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lock is a TTL-guarded mutual exclusion key in Redis.
type Lock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

// New creates a Lock on the given key. The TTL should comfortably exceed the
// longest expected critical section.
func New(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryLock attempts to acquire the lock without blocking. It returns false
// when another owner holds the key.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Unlock releases the lock if this owner still holds it. Releasing an
// expired or foreign lock is a no-op.
func (l *Lock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
