package routing

import (
	"context"
	"fmt"
	"time"
)

const (
	MinSpeed     = 1
	MaxSpeed     = 10
	DefaultSpeed = 5

	// speedStep is the delay removed per speed level: speed 1 waits
	// 500ms between progress events, speed 10 waits 50ms.
	speedStep = 50 * time.Millisecond
)

// Pacing throttles progress events.
type Pacing struct {
	Delay     time.Duration // wait after each event
	EmitEvery int           // expansions per event; <= 0 means every expansion
}

// PacingForSpeed maps a speed of 1..10 onto a delay of 500ms..50ms.
// Out-of-range speeds are clamped.
func PacingForSpeed(speed int) Pacing {
	speed = min(max(speed, MinSpeed), MaxSpeed)
	return Pacing{Delay: time.Duration(MaxSpeed+1-speed) * speedStep, EmitEvery: 1}
}

// ProgressFunc receives a snapshot and must return before the search moves
// on. Returning an error aborts the run.
type ProgressFunc func(ctx context.Context, ev StepEvent) error

// RunOptions configures Run.
type RunOptions struct {
	Pacing   Pacing
	Control  *Control
	Progress ProgressFunc
}

// Run drives s to completion. Its only suspension points are the pause
// check before each expansion and the awaited progress call with its
// pacing delay. The final snapshot, with Done set, is always reported.
func Run(ctx context.Context, s *Search, opts RunOptions) (*PathResult, error) {
	every := opts.Pacing.EmitEvery
	if every <= 0 {
		every = 1
	}

	for !s.Done() {
		if err := opts.Control.wait(ctx); err != nil {
			return nil, err
		}

		expanded := s.Step()
		if s.Done() || !expanded || opts.Progress == nil || s.NodesExplored()%every != 0 {
			continue
		}

		if err := opts.Progress(ctx, s.Event()); err != nil {
			return nil, progressErr(ctx, err)
		}
		if err := opts.Control.sleep(ctx, opts.Pacing.Delay); err != nil {
			return nil, err
		}
	}

	if opts.Progress != nil {
		if err := opts.Progress(ctx, s.Event()); err != nil {
			return nil, progressErr(ctx, err)
		}
	}
	return s.Result(), nil
}

func progressErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelErr(ctx.Err())
	}
	return fmt.Errorf("progress: %w", err)
}

// Outcome is the final value of a streamed run.
type Outcome struct {
	Result *PathResult
	Err    error
}

// Stream runs s on its own goroutine and delivers every snapshot on the
// returned channel. The channel is unbuffered, so the search waits for the
// consumer before moving on. Both channels are closed when the run ends;
// the outcome channel carries exactly one value.
func Stream(ctx context.Context, s *Search, opts RunOptions) (<-chan StepEvent, <-chan Outcome) {
	events := make(chan StepEvent)
	outcome := make(chan Outcome, 1)

	opts.Progress = func(ctx context.Context, ev StepEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(outcome)
		defer close(events)
		res, err := Run(ctx, s, opts)
		outcome <- Outcome{Result: res, Err: err}
	}()

	return events, outcome
}
