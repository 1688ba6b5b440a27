package withlock

import (
	"context"
	"log/slog"
	"time"

	"academy-lock/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Locker is the part of the lock manager the interceptor needs.
type Locker interface {
	AcquireWithRetry(ctx context.Context, key string, lease time.Duration, maxRetries int, maxWait time.Duration) (*domain.Lease, bool)
	Release(ctx context.Context, lease *domain.Lease) bool
}

// Interceptor runs operations under the lock described by their Policy.
type Interceptor struct {
	locker Locker
	logger *slog.Logger
	tracer trace.Tracer
}

func NewInterceptor(locker Locker, logger *slog.Logger) *Interceptor {
	return &Interceptor{
		locker: locker,
		logger: logger.With("component", "lock-interceptor"),
		tracer: otel.Tracer("academy-lock-withlock"),
	}
}

// Invoke runs op under policy. See Call.
func (i *Interceptor) Invoke(ctx context.Context, policy Policy, args Args, op func(ctx context.Context) error) error {
	_, err := Call(ctx, i, policy, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call resolves the policy key against args, acquires the lock and runs op.
//
// If the lock cannot be acquired, Call returns a *domain.LockAcquisitionError
// carrying policy.ErrorMessage, or the zero value and a nil error when the
// policy skips on failure. Once op has run its result, error or panic is
// passed through unchanged; the lock is released on every path.
func Call[T any](ctx context.Context, i *Interceptor, policy Policy, args Args, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	key := i.resolve(policy, args)
	ctx, span := i.tracer.Start(ctx, "withlock.Call", trace.WithAttributes(
		attribute.String("lock.key", key),
		attribute.String("lock.operation", policy.Name),
	))
	defer span.End()

	i.logger.Debug("acquiring lock", "key", key, "operation", policy.Name)
	lease, ok := i.locker.AcquireWithRetry(ctx, key, policy.LeaseDuration(), policy.MaxRetries, policy.MaxWait())
	if !ok {
		i.logger.Warn("could not acquire lock", "key", key, "operation", policy.Name)
		if policy.ThrowOnFailure {
			span.SetStatus(codes.Error, "lock not acquired")
			return zero, &domain.LockAcquisitionError{Key: key, Message: policy.errorMessage()}
		}
		i.logger.Info("skipping operation, lock unavailable", "key", key, "operation", policy.Name)
		span.SetAttributes(attribute.Bool("lock.skipped", true))
		return zero, nil
	}

	defer i.release(ctx, lease)
	return op(ctx)
}

// Wrap binds policy to op; the returned function locks on every call.
func Wrap[T any](i *Interceptor, policy Policy, op func(ctx context.Context, args Args) (T, error)) func(ctx context.Context, args Args) (T, error) {
	return func(ctx context.Context, args Args) (T, error) {
		return Call(ctx, i, policy, args, func(ctx context.Context) (T, error) {
			return op(ctx, args)
		})
	}
}

func (i *Interceptor) resolve(policy Policy, args Args) string {
	key, err := ResolveKey(policy.Key, args)
	if err != nil {
		i.logger.Warn("key template evaluation failed, using literal", "template", policy.Key, "error", err)
		return policy.Key
	}
	if key == "" {
		return policy.Key
	}
	return key
}

func (i *Interceptor) release(ctx context.Context, lease *domain.Lease) {
	if i.locker.Release(ctx, lease) {
		i.logger.Debug("lock released", "key", lease.Key)
		return
	}
	i.logger.Warn("lock could not be released", "key", lease.Key)
}
