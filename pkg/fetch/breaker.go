package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/paulmach/orb"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned while the upstream is considered down.
var ErrBreakerOpen = errors.New("upstream circuit open")

// BreakerConfig configures Breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // probes allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open-state duration before probing
	ConsecutiveFails uint32        // failures that trip the breaker
}

// DefaultBreakerConfig trips after five consecutive failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "overpass",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		ConsecutiveFails: 5,
	}
}

// Breaker wraps a Fetcher with a circuit breaker so a dead upstream fails
// fast instead of burning every retry on timeouts.
type Breaker struct {
	next Fetcher
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker decorates next.
func NewBreaker(next Fetcher, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	fails := cfg.ConsecutiveFails
	if fails == 0 {
		fails = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Throttling says nothing about upstream health.
			return err == nil || errors.Is(err, ErrRateLimited)
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State returns the breaker state name.
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Fetch(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Fetch(ctx, bbox)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrBreakerOpen, err)
		}
		return nil, err
	}
	return out.(io.ReadCloser), nil
}
