package infra

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"academy-lock/internal/config"
	"academy-lock/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, closeFn, err := NewStore(context.Background(), config.StoreConfig{
		Driver:    "redis",
		Redis:     config.RedisConfig{Addr: mr.Addr(), DialTimeout: time.Second},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	ok, err := store.TryAcquire(context.Background(), "k", "t", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("academy:lock:k"))
}

func TestNewStore_UnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, _, err := NewStore(context.Background(), config.StoreConfig{Driver: "zookeeper"}, logger)
	assert.ErrorIs(t, err, domain.ErrUnsupportedDriver)
}

func TestNewStore_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, closeFn, err := NewStore(context.Background(), config.StoreConfig{Driver: "memory"}, logger)
	require.NoError(t, err)
	require.NoError(t, closeFn())
	assert.NoError(t, store.Ping(context.Background()))
}
