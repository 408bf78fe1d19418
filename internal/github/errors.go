package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// defaultRetryAfter applies when a throttled response carries no hint.
const defaultRetryAfter = time.Minute

// classify maps go-github errors onto the shared error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		wait := time.Until(rle.Rate.Reset.Time)
		if wait <= 0 {
			wait = time.Second
		}
		return &types.RateLimitedError{RetryAfter: wait}
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		wait := abuse.GetRetryAfter()
		if wait <= 0 {
			wait = defaultRetryAfter
		}
		return &types.RateLimitedError{RetryAfter: wait}
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", types.ErrUnauthorized, er.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", types.ErrNotFound, er.Message)
		case http.StatusTooManyRequests:
			return &types.RateLimitedError{RetryAfter: retryAfterHeader(er.Response)}
		}
	}

	var tfa *github.TwoFactorAuthError
	if errors.As(err, &tfa) {
		return fmt.Errorf("%w: two factor authentication required", types.ErrUnauthorized)
	}
	return err
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
