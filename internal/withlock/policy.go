// Package withlock wraps an operation so that it runs only while holding a
// distributed lock whose key is derived from the operation's arguments.
package withlock

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultErrorMessage = "Could not acquire lock. Resource is currently being processed."

// Policy declares how an operation is locked. Durations are expressed as
// counts of TimeUnit.
type Policy struct {
	// Name identifies the wrapped operation in logs and spans.
	Name string
	// Key is a template such as "batch:update:{id}".
	Key            string        `validate:"required"`
	Timeout        int64         `validate:"gt=0"`
	MaxRetries     int           `validate:"gte=0"`
	WaitTimeout    int64         `validate:"gt=0"`
	TimeUnit       time.Duration `validate:"gt=0"`
	ThrowOnFailure bool
	ErrorMessage   string
}

type Option func(*Policy)

// NewPolicy returns a policy with a 30s lease, 3 retries, a 10s wait budget
// and ThrowOnFailure set.
func NewPolicy(key string, opts ...Option) Policy {
	p := Policy{
		Key:            key,
		Timeout:        30,
		MaxRetries:     3,
		WaitTimeout:    10,
		TimeUnit:       time.Second,
		ThrowOnFailure: true,
		ErrorMessage:   DefaultErrorMessage,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithName(name string) Option { return func(p *Policy) { p.Name = name } }

// WithTimeout sets the lease length in TimeUnit.
func WithTimeout(n int64) Option { return func(p *Policy) { p.Timeout = n } }

func WithMaxRetries(n int) Option { return func(p *Policy) { p.MaxRetries = n } }

// WithWaitTimeout sets the wait budget in TimeUnit.
func WithWaitTimeout(n int64) Option { return func(p *Policy) { p.WaitTimeout = n } }

func WithTimeUnit(u time.Duration) Option { return func(p *Policy) { p.TimeUnit = u } }

// SkipOnFailure makes a failed acquisition skip the operation instead of
// returning an error.
func SkipOnFailure() Option { return func(p *Policy) { p.ThrowOnFailure = false } }

func WithErrorMessage(msg string) Option { return func(p *Policy) { p.ErrorMessage = msg } }

// LeaseDuration is Timeout converted to a duration.
func (p Policy) LeaseDuration() time.Duration {
	return time.Duration(p.Timeout) * p.TimeUnit
}

// MaxWait is WaitTimeout converted to a duration.
func (p Policy) MaxWait() time.Duration {
	return time.Duration(p.WaitTimeout) * p.TimeUnit
}

var validate = validator.New()

func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid lock policy %q: %w", p.Key, err)
	}
	return nil
}

func (p Policy) errorMessage() string {
	if p.ErrorMessage == "" {
		return DefaultErrorMessage
	}
	return p.ErrorMessage
}
