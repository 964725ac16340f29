package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded, fixed-delay retry budget. Retries counts the
// attempts after the first one, so a Policy{Retries: 3} allows four
// attempts in total.
type Policy struct {
	Retries int
	Delay   time.Duration
}

// DefaultPolicy mirrors the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{Retries: 3, Delay: 5 * time.Second}
}

// Permanent marks err as not retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is
// cancelled. The delay between attempts is constant; business logic
// supplies only the operation, never its own retry loop.
func Do(ctx context.Context, pol Policy, fn func() error) error {
	retries := pol.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(pol.Delay), uint64(retries))
	return backoff.Retry(fn, backoff.WithContext(b, ctx))
}
