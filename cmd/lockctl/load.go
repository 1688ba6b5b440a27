package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"academy-lock/internal/usecase"
	"academy-lock/internal/withlock"
)

type loadOptions struct {
	Key      string
	Clients  int
	Duration time.Duration
	Hold     time.Duration
	Lease    time.Duration
}

type loadReport struct {
	Acquisitions  int64
	Failures      int64
	MaxConcurrent int64
	Elapsed       time.Duration
}

func (r loadReport) String() string {
	rate := 0.0
	if r.Elapsed > 0 {
		rate = float64(r.Acquisitions) / r.Elapsed.Seconds()
	}
	return fmt.Sprintf("acquisitions=%d failures=%d max_concurrent=%d elapsed=%s rate=%.1f/s",
		r.Acquisitions, r.Failures, r.MaxConcurrent, r.Elapsed.Round(time.Millisecond), rate)
}

// loadPolicy locks opts.Key with the manager's retry settings. The key is
// resolved from the call arguments so every client goes through the same
// template path as a declared operation.
func loadPolicy(opts loadOptions, defaults usecase.ManagerOptions) withlock.Policy {
	return withlock.NewPolicy("{key}",
		withlock.WithName("lockctl.load"),
		withlock.WithTimeUnit(time.Millisecond),
		withlock.WithTimeout(opts.Lease.Milliseconds()),
		withlock.WithWaitTimeout(defaults.MaxWait.Milliseconds()),
		withlock.WithMaxRetries(defaults.MaxRetries),
	)
}

// runLoad makes opts.Clients goroutines contend for one key until
// opts.Duration passes, tracking how many are inside the critical section.
func runLoad(ctx context.Context, i *withlock.Interceptor, policy withlock.Policy, opts loadOptions) loadReport {
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var (
		acquired, failed  atomic.Int64
		inside, maxInside atomic.Int64
		wg                sync.WaitGroup
	)
	start := time.Now()

	for c := 0; c < opts.Clients; c++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()
			args := withlock.Args{withlock.A("key", opts.Key), withlock.A("client", client)}
			for ctx.Err() == nil {
				err := i.Invoke(ctx, policy, args, func(context.Context) error {
					n := inside.Add(1)
					for {
						prev := maxInside.Load()
						if n <= prev || maxInside.CompareAndSwap(prev, n) {
							break
						}
					}
					time.Sleep(opts.Hold)
					inside.Add(-1)
					return nil
				})
				if err != nil {
					failed.Add(1)
					continue
				}
				acquired.Add(1)
			}
		}(c)
	}
	wg.Wait()

	return loadReport{
		Acquisitions:  acquired.Load(),
		Failures:      failed.Load(),
		MaxConcurrent: maxInside.Load(),
		Elapsed:       time.Since(start),
	}
}
