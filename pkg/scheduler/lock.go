package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
)

// Lock guards a sweep. TryAcquire never blocks: ok is false when somebody
// else holds it.
type Lock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLock is a single-slot guard for sweeps inside this process.
type LocalLock struct {
	busy atomic.Bool
}

func (l *LocalLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.busy.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	return func() { l.busy.Store(false) }, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock keeps replicas watching the same folder from sweeping at the
// same time. The TTL bounds how long a crashed holder blocks the others.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
			logger.Log.WithError(err).WithField("key", l.key).Warn("could not release sweep lock, it expires with its ttl")
		}
	}
	return release, true, nil
}
