package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
)

const lockKey = "intake:sweep:Rappels_RDV_WhatsApp"

func newRedisLock(t *testing.T, ttl time.Duration) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	logger.Discard()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLock(client, lockKey, ttl), mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	lock, mr := newRedisLock(t, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(lockKey))
	assert.Equal(t, time.Minute, mr.TTL(lockKey))

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused while the lock is held")

	release()
	assert.False(t, mr.Exists(lockKey))

	release, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestRedisLockExpires(t *testing.T) {
	lock, mr := newRedisLock(t, time.Second)
	ctx := context.Background()

	_, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	release, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "an expired holder must not block the next sweep")
	release()
}

func TestRedisLockReleaseKeepsForeignHolder(t *testing.T) {
	lock, mr := newRedisLock(t, time.Second)
	ctx := context.Background()

	staleRelease, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(lockKey, "other-replica"))

	staleRelease()

	got, err := mr.Get(lockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-replica", got)

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockUnavailable(t *testing.T) {
	lock, mr := newRedisLock(t, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	hook := logtest.NewLocal(logger.Log)
	defer hook.Reset()
	mr.Close()

	release()
	entry := hook.LastEntry()
	require.NotNil(t, entry, "a failed release must be logged")
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, lockKey, entry.Data["key"])

	_, ok, err = lock.TryAcquire(ctx)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRunSkipsWhileRedisLockHeld(t *testing.T) {
	lock, mr := newRedisLock(t, time.Minute)
	require.NoError(t, mr.Set(lockKey, "other-replica"))

	s := New(time.Hour, func(context.Context) error {
		t.Error("sweep must not run while another replica holds the lock")
		return nil
	}, lock)

	stop := start(s)
	waitFor(t, time.Second, func() bool { return s.Skipped() == 1 })
	stop()
	assert.Zero(t, s.Runs())
}
