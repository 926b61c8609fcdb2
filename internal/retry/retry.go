// Package retry runs network-bound operations under a per-attempt timeout
// with a bounded number of exponential-backoff retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy bounds one operation. Attempts counts the first try.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultPolicy is used for zero fields.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	Timeout:        60 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultPolicy.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultPolicy.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy.Timeout
	}
	return p
}

// ErrExhausted wraps the last error once all attempts failed.
var ErrExhausted = errors.New("retries exhausted")

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

var errAttemptTimeout = errors.New("attempt timed out")

// Do calls fn until it succeeds, returns a permanent error, the parent
// context ends, or the attempts run out. Each attempt gets its own timeout.
// A permanent error is returned unwrapped; exhaustion is reported as
// ErrExhausted wrapping the last error.
func Do(ctx context.Context, p Policy, op string, log *zap.Logger, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)

	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil {
			err = fmt.Errorf("%w after %s: %w", errAttemptTimeout, p.Timeout, err)
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		last = err
		return err
	}, b, func(err error, wait time.Duration) {
		log.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.Attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if last != nil && errors.Is(err, last) {
		return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempt, last)
	}
	return err
}
