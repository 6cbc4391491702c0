/**
 * @description
 * This file contains the Redis-backed run lock used to keep batch dunning runs
 * from overlapping across service instances. The lock is a single SET NX key
 * with a TTL; release compares the stored token in a Lua script so an expired
 * lock re-acquired by another run is never deleted by the original holder.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 * - github.com/google/uuid: Lock ownership tokens.
 */

package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock guards a batch run against concurrent execution. Acquire reports
// whether the lock was taken; the returned release func is a no-op when it was
// not.
type RunLock interface {
	Acquire(ctx context.Context) (acquired bool, release func(), err error)
}

// releaseScript deletes the lock key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock implements RunLock on a shared Redis instance.
type RedisRunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisRunLock creates a run lock under the given key. The TTL bounds how
// long a crashed holder can block the next run.
func NewRedisRunLock(client *redis.Client, key string, ttl time.Duration) *RedisRunLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisRunLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock with SET NX. The release func uses a token compare so
// it cannot free a lock that has expired and been re-taken elsewhere.
func (l *RedisRunLock) Acquire(ctx context.Context) (bool, func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, func() {}, err
	}
	if !ok {
		return false, func() {}, nil
	}
	release := func() {
		// Releasing must survive a cancelled run context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.client, []string{l.key}, token)
	}
	return true, release, nil
}
