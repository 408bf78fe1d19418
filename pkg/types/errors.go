package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by the orchestrator and its collaborators
var (
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrRateLimitExceeded  = errors.New("rate limit backoff budget exhausted")
	ErrUnauthorized       = errors.New("credential rejected by remote")
	ErrPartialFailure     = errors.New("partial failure")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidTransition  = errors.New("invalid task transition")
	ErrCancelled          = errors.New("cancelled")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrQueueFull          = errors.New("work queue is full")
	ErrNothingSelected    = errors.New("no repositories selected")
)

// RateLimitedError is returned by fetchers when the remote throttles a request
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ErrorKind maps err to the stable kind string recorded in task result details
func ErrorKind(err error) string {
	var rl *RateLimitedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimitExceeded), errors.As(err, &rl):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
