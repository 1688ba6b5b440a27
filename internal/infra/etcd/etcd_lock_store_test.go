package etcd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set ACADEMY_LOCK_TEST_ETCD to a comma separated endpoint list to run these.
func newIntegrationStore(t *testing.T) *etcdLockStore {
	t.Helper()

	endpoints := os.Getenv("ACADEMY_LOCK_TEST_ETCD")
	if endpoints == "" {
		t.Skip("ACADEMY_LOCK_TEST_ETCD not set")
	}

	cli, err := NewClient(context.Background(), strings.Split(endpoints, ","), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	prefix := "/academy-test/" + uuid.NewString() + "/"
	store := NewEtcdLockStore(cli, prefix, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return store.(*etcdLockStore)
}

func TestEtcdLockStore_AcquireReleaseCycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "k", "token-a", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryAcquire(ctx, "k", "token-b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	owner, found, err := s.Owner(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "token-a", owner)

	ok, err = s.Release(ctx, "k", "token-b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Release(ctx, "k", "token-a")
	require.NoError(t, err)
	assert.True(t, ok)

	held, err := s.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestEtcdLockStore_ExtendAndExpire(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "k", "token-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Extend(ctx, "k", "token-b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Extend(ctx, "k", "token-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(2500 * time.Millisecond)
	held, err := s.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held, "extended lease should outlive the first one")
}

func TestEtcdLockStore_Counters(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := s.Incr(ctx, "k:acquisitions", time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}
	n, err := s.Counter(ctx, "k:acquisitions")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestEtcdLockStore_CounterKeepsOneLease(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.Incr(ctx, "k:acquisitions", time.Minute)
	require.NoError(t, err)
	first, err := s.readCounter(ctx, s.statsKey("k:acquisitions"))
	require.NoError(t, err)
	require.NotZero(t, first.lease)

	_, err = s.Incr(ctx, "k:acquisitions", time.Minute)
	require.NoError(t, err)
	second, err := s.readCounter(ctx, s.statsKey("k:acquisitions"))
	require.NoError(t, err)
	assert.NotEqual(t, first.lease, second.lease)

	ttl, err := s.client.TimeToLive(ctx, first.lease)
	require.NoError(t, err)
	assert.EqualValues(t, -1, ttl.TTL, "the replaced lease should be revoked")
}

func TestEtcdLockStore_CountersDoNotCollideWithLocks(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.Incr(ctx, "k:acquisitions", time.Minute)
	require.NoError(t, err)

	ok, err := s.TryAcquire(ctx, "stats/k:acquisitions", "token-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Counter(ctx, "k:acquisitions")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestKeyNamespaces(t *testing.T) {
	s := &etcdLockStore{prefix: DefaultKeyPrefix}

	assert.Equal(t, "/academy/locks/stats/k", s.lockKey("stats/k"))
	assert.Equal(t, "/academy/stats/k", s.statsKey("k"))
	assert.NotEqual(t, s.lockKey("stats/k:acquisitions"), s.statsKey("k:acquisitions"))
}

func TestSeconds(t *testing.T) {
	assert.EqualValues(t, 1, seconds(0))
	assert.EqualValues(t, 1, seconds(200*time.Millisecond))
	assert.EqualValues(t, 2, seconds(1500*time.Millisecond))
	assert.EqualValues(t, 30, seconds(30*time.Second))
}
