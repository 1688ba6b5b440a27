package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"academy-lock/internal/config"
	"academy-lock/internal/domain"
	"academy-lock/internal/infra"
	"academy-lock/internal/usecase"
	"academy-lock/internal/withlock"

	"github.com/spf13/cobra"
)

var (
	manager    *usecase.LockManager
	cliLogger  *slog.Logger
	closeStore func() error

	driver        string
	redisAddr     string
	etcdEndpoints []string
	keyPrefix     string
	verbose       bool

	acquireLease   time.Duration
	acquireRetries int
	acquireWait    time.Duration
	extendTTL      time.Duration

	load loadOptions

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:               "lockctl",
		Short:             "Inspect and exercise distributed locks",
		SilenceUsage:      true,
		PersistentPreRunE: setupManager,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if closeStore != nil {
				return closeStore()
			}
			return nil
		},
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock and print its owner token",
		Long:  "Acquire a lock with retry and backoff. The lock is left to expire with its lease unless released with the printed token.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [key] [token]",
		Short: "Release a lock owned by token",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}

	extendCmd = &cobra.Command{
		Use:   "extend [key] [token]",
		Short: "Reset the remaining lease of a lock owned by token",
		Args:  cobra.ExactArgs(2),
		RunE:  runExtend,
	}

	statsCmd = &cobra.Command{
		Use:   "stats [key]",
		Short: "Print acquisition statistics and the current owner of a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the lock store answers",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}

	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Run an in-process contention test against one key",
		Args:  cobra.NoArgs,
		RunE:  runLoadCmd,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&driver, "driver", "", "lock store driver (redis, etcd, memory); overrides config")
	pf.StringVar(&redisAddr, "redis-addr", "", "redis address; overrides config")
	pf.StringSliceVar(&etcdEndpoints, "etcd-endpoints", nil, "etcd endpoints; overrides config")
	pf.StringVar(&keyPrefix, "prefix", "", "lock key prefix; overrides config")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log lock traffic to stderr")

	acquireCmd.Flags().DurationVar(&acquireLease, "lease", 30*time.Second, "lease duration")
	acquireCmd.Flags().IntVar(&acquireRetries, "retries", 3, "maximum retries")
	acquireCmd.Flags().DurationVar(&acquireWait, "wait", 10*time.Second, "maximum total wait")

	extendCmd.Flags().DurationVar(&extendTTL, "ttl", 30*time.Second, "new remaining lease")

	loadCmd.Flags().StringVar(&load.Key, "key", "lockctl:load", "contended lock key")
	loadCmd.Flags().IntVar(&load.Clients, "clients", 10, "number of concurrent clients")
	loadCmd.Flags().DurationVar(&load.Duration, "duration", 10*time.Second, "test duration")
	loadCmd.Flags().DurationVar(&load.Hold, "hold", 20*time.Millisecond, "time spent in the critical section")
	loadCmd.Flags().DurationVar(&load.Lease, "lease", 5*time.Second, "lease duration")

	rootCmd.AddCommand(acquireCmd, releaseCmd, extendCmd, statsCmd, healthCmd, loadCmd)
}

// setupManager loads config, applies flag overrides and connects the store.
func setupManager(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Store.Driver = driver
	}
	if flags.Changed("redis-addr") {
		cfg.Store.Redis.Addr = redisAddr
	}
	if flags.Changed("etcd-endpoints") {
		cfg.Store.Etcd.Endpoints = etcdEndpoints
	}
	if flags.Changed("prefix") {
		cfg.Store.KeyPrefix = keyPrefix
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	cliLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	store, closeFn, err := infra.NewStore(ctx, cfg.Store, cliLogger)
	if err != nil {
		return err
	}
	closeStore = closeFn
	manager = usecase.NewLockManager(store, usecase.OptionsFromConfig(cfg.Lock), cliLogger)
	return nil
}

func runAcquire(cmd *cobra.Command, args []string) error {
	lease, ok := manager.AcquireWithRetry(cmd.Context(), args[0], acquireLease, acquireRetries, acquireWait)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "acquired=false")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "acquired=true, token=%s, lease=%s\n", lease.OwnerToken, lease.LeaseDuration)
	return nil
}

// leaseFor rebuilds a lease from a printed token. Only Key and OwnerToken
// take part in release and extend, and the rebuilt lease is not tracked, so
// releasing it leaves this process's active count alone.
func leaseFor(key, token string) *domain.Lease {
	return domain.NewLease(key, token, 0, time.Now())
}

func runRelease(cmd *cobra.Command, args []string) error {
	released := manager.Release(cmd.Context(), leaseFor(args[0], args[1]))
	fmt.Fprintf(cmd.OutOrStdout(), "released=%t\n", released)
	return nil
}

func runExtend(cmd *cobra.Command, args []string) error {
	extended := manager.ExtendLock(cmd.Context(), leaseFor(args[0], args[1]), extendTTL)
	fmt.Fprintf(cmd.OutOrStdout(), "extended=%t\n", extended)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	stats := manager.LockStatistics(cmd.Context(), args[0])
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	if err := manager.Ping(cmd.Context()); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "store=down")
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "store=up")
	return nil
}

func runLoadCmd(cmd *cobra.Command, _ []string) error {
	i := withlock.NewInterceptor(manager, cliLogger)
	report := runLoad(cmd.Context(), i, loadPolicy(load, manager.Options()), load)
	fmt.Fprintln(cmd.OutOrStdout(), report)
	if report.MaxConcurrent > 1 {
		return fmt.Errorf("mutual exclusion violated: %d holders observed at once", report.MaxConcurrent)
	}
	return nil
}
