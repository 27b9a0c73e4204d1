// Package fetch retrieves raw map features for a bounding box.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
)

var (
	// ErrDataFetch matches every DataFetchError.
	ErrDataFetch = errors.New("data fetch failed")
	// ErrRateLimited marks a failure the upstream reported as throttling.
	ErrRateLimited = errors.New("rate limited")
)

// Fetcher returns the raw feature collection covering bbox. The caller
// closes the body.
type Fetcher interface {
	Fetch(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error)

func (f FetcherFunc) Fetch(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error) {
	return f(ctx, bbox)
}

// DataFetchError is returned once every attempt has failed. Err is the
// last failure.
type DataFetchError struct {
	Attempts int
	Err      error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrDataFetch, e.Attempts, e.Err)
}

func (e *DataFetchError) Unwrap() []error {
	return []error{ErrDataFetch, e.Err}
}

// StatusError is a non-success HTTP response from the upstream.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Result labels an attempt outcome for metrics.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Observe reports the outcome of every call to next.
func Observe(next Fetcher, observe func(result string)) Fetcher {
	return FetcherFunc(func(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error) {
		body, err := next.Fetch(ctx, bbox)
		observe(Result(err))
		return body, err
	})
}
