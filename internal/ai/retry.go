package ai

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultRetries = 3
	maxRetryDelay  = 30 * time.Second
)

// IsTransient reports whether a model call is worth repeating.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		if apiErr.Status == "Service Unavailable" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate limit")
}

// RetryDelay grows with every spent attempt and is capped at 30s.
func RetryDelay(attemptsLeft int) time.Duration {
	d := time.Duration(math.Pow(2, float64(6-attemptsLeft))) * time.Second
	return min(d, maxRetryDelay)
}

// retrier repeats transient failures. sleep is swapped in tests.
type retrier struct {
	attempts int
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func (r retrier) do(ctx context.Context, opn string, fn func(ctx context.Context) error) error {
	left := r.attempts
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || left <= 0 {
			return err
		}
		delay := RetryDelay(left)
		r.log.Warn("transient model error, retrying",
			slog.String("op", opn),
			slog.Duration("delay", delay),
			slog.Int("attempts_left", left),
			slog.Any("error", err),
		)
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		left--
	}
}

// WithRetry calls fn and repeats transient failures up to attempts times.
func WithRetry(ctx context.Context, log *slog.Logger, attempts int, fn func(ctx context.Context) error) error {
	return retrier{attempts: attempts, log: log, sleep: sleepCtx}.do(ctx, "ai.WithRetry", fn)
}
