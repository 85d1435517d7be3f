package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryLocker().WithClock(func() time.Time { return now })
	key := Key("sepolia", "0xabc")

	lease, err := m.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, lease.Token())

	_, err = m.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = m.Acquire(ctx, Key("sepolia", "0xdef"), time.Minute)
	assert.NoError(t, err, "other diamonds are independent")

	require.NoError(t, lease.Release(ctx))
	_, err = m.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	// A stale lease must not release its successor.
	require.NoError(t, lease.Release(ctx))
	_, err = m.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	now = now.Add(2 * time.Minute)
	_, err = m.Acquire(ctx, key, time.Minute)
	assert.NoError(t, err, "expired leases are reclaimed")
}

// TestRedisLocker_Integration requires a running Redis and skips otherwise.
func TestRedisLocker_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()
	ctx := context.Background()
	l := NewRedisLocker(client)
	if err := l.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := Key("test", time.Now().Format(time.RFC3339Nano))
	lease, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestDialRedis_BadURL(t *testing.T) {
	_, err := DialRedis("http://nope")
	assert.Error(t, err)
}
