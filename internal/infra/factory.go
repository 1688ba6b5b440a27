// Package infra selects and builds the configured lock store backend.
package infra

import (
	"context"
	"fmt"
	"log/slog"

	"academy-lock/internal/config"
	"academy-lock/internal/domain"
	"academy-lock/internal/infra/etcd"
	"academy-lock/internal/infra/memory"
	"academy-lock/internal/infra/redis"
)

// NewStore connects to the backend named by cfg.Driver. The returned close
// function releases the underlying client.
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (domain.Store, func() error, error) {
	switch cfg.Driver {
	case "", "redis":
		cli, err := redis.NewClient(ctx, redis.Options{
			Addrs:        []string{cfg.Redis.Addr},
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		return redis.NewLockStore(cli, cfg.KeyPrefix, logger), cli.Close, nil
	case "etcd":
		cli, err := etcd.NewClient(ctx, cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to etcd", "endpoints", cfg.Etcd.Endpoints)
		return etcd.NewEtcdLockStore(cli, cfg.KeyPrefix, logger), cli.Close, nil
	case "memory":
		logger.Warn("using in-process memory lock store, locks are not shared between instances")
		return memory.NewLockStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDriver, cfg.Driver)
	}
}
