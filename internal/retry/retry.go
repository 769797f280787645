// Package retry runs an operation again when it fails with a transient error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied to every delay, between 0 and 1.
	Jitter float64
}

// DefaultPolicy allows three attempts starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay * 8
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = def.Jitter
	}
	return p
}

// NotifyFunc observes a failed attempt before the next one is scheduled.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, fails with an error retryable rejects, the context ends,
// or MaxAttempts is reached.
func Do(ctx context.Context, policy Policy, retryable func(error) bool, op func(context.Context) error, notify NotifyFunc) error {
	policy = policy.withDefaults()
	b := backoff.WithMaxRetries(policy.exponential(), uint64(policy.MaxAttempts-1))

	attempt, last, err := run(ctx, b, retryable, op, notify)
	if err == nil {
		return nil
	}
	if last != nil && retryable != nil && retryable(last) && ctx.Err() == nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, last)
	}
	return err
}

// Until runs op until it succeeds, fails with an error retryable rejects, or the context
// ends. MaxAttempts is ignored. When the context ends first its error is returned.
func Until(ctx context.Context, policy Policy, retryable func(error) bool, op func(context.Context) error, notify NotifyFunc) error {
	policy = policy.withDefaults()
	_, _, err := run(ctx, policy.exponential(), retryable, op, notify)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.MaxInterval = p.MaxDelay
	expo.RandomizationFactor = p.Jitter
	expo.Multiplier = 2
	expo.MaxElapsedTime = 0
	return expo
}

func run(ctx context.Context, b backoff.BackOff, retryable func(error) bool, op func(context.Context) error, notify NotifyFunc) (int, error, error) {
	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err
		if retryable == nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	return attempt, last, err
}
