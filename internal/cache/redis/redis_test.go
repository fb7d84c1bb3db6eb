package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
)

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "polybet:lock:oracle:m1", (&Client{prefix: "polybet"}).key("lock", "oracle:m1"))
	assert.Equal(t, "market:m1", (&Client{}).key("market", "m1"))
}

// newTestClient connects to POLYBET_TEST_REDIS_ADDR under a throwaway prefix.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("POLYBET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYBET_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	release, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()
	again, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	again()
}

func TestMarketCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	mc := NewMarketCache(c, time.Minute)

	_, err := mc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.Market{ID: "m1", Question: "q", OutcomeCount: 2, TotalPool: 150}
	require.NoError(t, mc.Set(ctx, m))
	got, err := mc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), got.TotalPool)

	require.NoError(t, mc.Invalidate(ctx, "m1"))
	_, err = mc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 0, 0)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, "events", []byte(`{"n":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, "events", []byte(`{"n":2}`)))
	msgs, err = sb.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":2}`, string(msgs[1].Payload))
}
