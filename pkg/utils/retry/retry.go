// Package retry runs an operation again on retryable errors with exponential
// backoff.
package retry

import (
	"context"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// Policy controls the attempt budget and the backoff schedule
type Policy struct {
	MaxAttempts int           // Total attempts including the first one
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Upper bound for a single delay

	// Retryable decides whether an error is worth another attempt.
	// Defaults to types.IsRetryable.
	Retryable func(error) bool

	// Sleep waits between attempts; tests replace it
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries up to four attempts starting at one second
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// OnlyRateLimited restricts a policy to rate limit errors
func (p Policy) OnlyRateLimited() Policy {
	p.Retryable = func(err error) bool {
		return types.KindOf(err) == types.KindRateLimited
	}
	return p
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context, attempt int) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = types.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	logger := ctxlog.From(ctx)
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt == p.MaxAttempts {
			return attempt, err
		}

		logger.Warn("Retrying after retryable error",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"kind", types.KindOf(err),
			"error", err,
		)

		if serr := sleep(ctx, delay); serr != nil {
			return attempt, goerr.Wrap(serr, "retry aborted",
				goerr.T(types.ErrTagCanceled),
				goerr.V("op", op),
				goerr.V("last_error", err.Error()))
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return p.MaxAttempts, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
