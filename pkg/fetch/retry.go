package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// RetryConfig configures Retrying.
type RetryConfig struct {
	MaxAttempts     uint          // total attempts, including the first
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff ceiling
	AttemptTimeout  time.Duration // each attempt, body included, must finish within this
	RateLimitDelay  time.Duration // added before retrying a rate-limited attempt
}

// DefaultRetryConfig returns three attempts with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  30 * time.Second,
		RateLimitDelay:  5 * time.Second,
	}
}

// Retrying wraps a Fetcher with time-boxed attempts and exponential
// backoff. The body is read fully inside the attempt, so a slow download
// counts against the attempt timeout.
type Retrying struct {
	next    Fetcher
	cfg     RetryConfig
	logger  *zap.Logger
	OnRetry func(attempt int, err error)
}

// NewRetrying decorates next. A nil logger disables logging.
func NewRetrying(next Fetcher, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Fetch returns the body of the first successful attempt or a
// *DataFetchError holding the last failure.
func (r *Retrying) Fetch(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error) {
	attempts := 0
	var lastErr error

	op := func() ([]byte, error) {
		if attempts > 0 && errors.Is(lastErr, ErrRateLimited) {
			if err := sleep(ctx, r.cfg.RateLimitDelay); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		attempts++

		data, err := r.attempt(ctx, bbox)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("fetch attempt failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err))
			if r.OnRetry != nil {
				r.OnRetry(attempts, err)
			}
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, &DataFetchError{Attempts: attempts, Err: lastErr}
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *Retrying) attempt(ctx context.Context, bbox orb.Bound) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	body, err := r.next.Fetch(actx, bbox)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// retryable reports whether another attempt could succeed. Client errors
// other than throttling will not change on retry.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
