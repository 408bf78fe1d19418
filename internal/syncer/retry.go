package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// RetryOptions bounds how long a remote call may be retried.
type RetryOptions struct {
	// RateLimitRounds is how many throttled responses are waited out
	// before giving up with ErrRateLimitExceeded.
	RateLimitRounds int
	// RateLimitMaxWait caps a single wait, whatever the remote asks for.
	RateLimitMaxWait time.Duration
	// TransientRetries is the number of attempts for timeouts and 5xx answers.
	TransientRetries int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// Retrier retries remote calls: transient failures with exponential backoff,
// throttling by waiting for the advertised delay.
type Retrier struct {
	opts   RetryOptions
	logger *zap.Logger

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error

	// OnThrottle is called before every rate limit wait.
	OnThrottle func(wait time.Duration)
}

// NewRetrier creates a retrier
func NewRetrier(opts RetryOptions, logger *zap.Logger) *Retrier {
	if opts.TransientRetries < 1 {
		opts.TransientRetries = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Retrier{opts: opts, logger: logger, sleep: sleepCtx}
}

// Run calls op until it succeeds, fails permanently, or the retry budgets
// are spent. Throttling rounds are counted separately from transient tries.
func Run[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	rounds := 0
	for {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = r.opts.InitialBackoff
		eb.MaxInterval = r.opts.MaxBackoff

		v, err := backoff.Retry(ctx, func() (T, error) {
			v, err := op(ctx)
			if err != nil && !isTransient(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
			backoff.WithBackOff(eb),
			backoff.WithMaxTries(uint(r.opts.TransientRetries)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				r.logger.Warn("retrying after transient error",
					zap.Error(err),
					zap.Duration("backoff", next),
				)
			}),
		)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if err == nil {
			return v, nil
		}

		var rl *types.RateLimitedError
		if !errors.As(err, &rl) {
			return zero, err
		}
		rounds++
		if rounds > r.opts.RateLimitRounds {
			return zero, fmt.Errorf("%w after %d rounds: %v", types.ErrRateLimitExceeded, rounds-1, err)
		}

		wait := rl.RetryAfter
		if r.opts.RateLimitMaxWait > 0 && wait > r.opts.RateLimitMaxWait {
			wait = r.opts.RateLimitMaxWait
		}
		r.logger.Info("rate limited, waiting",
			zap.Duration("wait", wait),
			zap.Int("round", rounds),
		)
		if r.OnThrottle != nil {
			r.OnThrottle(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

// isTransient reports whether repeating the call may help.
func isTransient(err error) bool {
	var rl *types.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, types.ErrCancelled):
		return false
	case errors.Is(err, types.ErrUnauthorized), errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidArgument), errors.Is(err, types.ErrStorageUnavailable):
		return false
	default:
		return true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
