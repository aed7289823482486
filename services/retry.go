package services

import (
	"context"
	"errors"
	"time"

	"github.com/lestrrat-go/backoff/v2"
)

// RetryPolicy bounds exponential backoff for storage operations. Attempts counts
// the retries after the first call.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// permanent marks an error that retrying cannot fix.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retry runs fn until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done. The returned error is unwrapped from permanent.
func (p RetryPolicy) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	policy := backoff.Exponential(
		backoff.WithMinInterval(base),
		backoff.WithMaxInterval(base*32),
		backoff.WithMultiplier(2),
		backoff.WithJitterFactor(0.1),
		backoff.WithMaxRetries(attempts),
	)

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b := policy.Start(bctx)
	var err error
	for backoff.Continue(b) {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = errors.New("retry gave up before the first attempt")
	}
	return err
}
