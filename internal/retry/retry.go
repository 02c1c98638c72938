// Package retry runs boundary calls under bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

const maxBackoff = 5 * time.Minute

// Policy describes how a failing operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Zero or negative means retry until
	// success, a permanent error, or context cancellation.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter randomises each delay by up to this fraction in either direction.
	Jitter float64

	// Name labels log lines.
	Name string
}

// DefaultPolicy mirrors the stock retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
	}
}

// FromConfig builds a policy from the retry configuration section.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
	}
}

// Named returns a copy of p that logs under name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Unbounded returns a copy of p that never gives up on transient errors.
func (p Policy) Unbounded() Policy {
	p.MaxAttempts = 0
	return p
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked permanent or carries a
// permanent application error code.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || utils.IsPermanent(err)
}

// Do calls fn until it succeeds, returns a permanent error, the context ends,
// or attempts run out. Exhaustion is reported as ErrCodeRetryExhausted
// wrapping the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	logger := utils.GetLogger()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return utils.WrapError(utils.ErrCodeRetryExhausted,
				fmt.Sprintf("%s failed after %d attempts", p.label(), attempt), err)
		}

		delay := p.Backoff(attempt)
		logger.WithFields(logrus.Fields{
			"operation": p.label(),
			"attempt":   attempt,
			"delay":     delay,
			"error":     err.Error(),
		}).Debug("Retrying after failure")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	limit := p.MaxDelay
	if limit <= 0 {
		limit = maxBackoff
	}
	d := float64(base) * math.Pow(mult, float64(attempt-1))
	if math.IsInf(d, 0) || d > float64(limit) {
		d = float64(limit)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p Policy) label() string {
	if p.Name == "" {
		return "operation"
	}
	return p.Name
}
