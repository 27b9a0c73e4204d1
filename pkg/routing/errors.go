package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery matches every InvalidQueryError.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrBusy is returned when a graph load overlaps another load or a search.
	ErrBusy = errors.New("router busy")
	// ErrNotReady is returned when no graph has been built yet.
	ErrNotReady = errors.New("graph not ready")
	// ErrBBoxTooLarge is returned when a load request exceeds the maximum span.
	ErrBBoxTooLarge = errors.New("bounding box too large")
	// ErrInvalidBBox is returned for an inverted or out-of-range bounding box.
	ErrInvalidBBox = errors.New("invalid bounding box")
	// ErrCancelled is returned when a run is cancelled before it finishes.
	ErrCancelled = errors.New("search cancelled")
)

// InvalidQueryError reports an endpoint with no graph node within the
// search radius.
type InvalidQueryError struct {
	Endpoint string // "start" or "end"
	Lat, Lng float64
	Radius   float64
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("%s: no road node within %.0fm of %s (%.6f, %.6f)",
		ErrInvalidQuery, e.Radius, e.Endpoint, e.Lat, e.Lng)
}

func (e *InvalidQueryError) Unwrap() error { return ErrInvalidQuery }

func cancelErr(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
