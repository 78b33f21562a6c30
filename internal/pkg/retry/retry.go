package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds every external call: a fixed number of attempts, each with
// its own timeout, spaced by exponential backoff.
type Policy struct {
	Attempts          int           `yaml:"attempts"`
	PerAttemptTimeout time.Duration `yaml:"per_attempt_timeout"`
	InitialInterval   time.Duration `yaml:"initial_interval"`
	MaxInterval       time.Duration `yaml:"max_interval"`
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:          3,
		PerAttemptTimeout: 10 * time.Second,
		InitialInterval:   250 * time.Millisecond,
		MaxInterval:       2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.PerAttemptTimeout <= 0 {
		p.PerAttemptTimeout = d.PerAttemptTimeout
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs fn up to p.Attempts times. It stops early on success, on a
// Permanent error, or when ctx is done, and returns the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.PerAttemptTimeout)
		defer cancel()
		return fn(attemptCtx)
	}
	err := backoff.Retry(op, policy)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
