package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPauseResumeMatchesUninterruptedRun(t *testing.T) {
	g := buildGraph(t, gridFeatures(6, nil))
	start, goal := mustNode(t, g, gridID(6, 0, 0)), mustNode(t, g, gridID(6, 5, 5))

	want, err := Run(context.Background(), NewSearch(g, start, goal), RunOptions{})
	require.NoError(t, err)

	ctrl := NewControl()
	var pausedAt, resumedAt time.Time
	var explored []int
	progress := func(_ context.Context, ev StepEvent) error {
		explored = append(explored, ev.NodesExplored)
		if ev.NodesExplored == 3 {
			ctrl.Pause()
			pausedAt = time.Now()
			go func() {
				time.Sleep(40 * time.Millisecond)
				resumedAt = time.Now()
				ctrl.Resume()
			}()
		}
		return nil
	}

	got, err := Run(context.Background(), NewSearch(g, start, goal), RunOptions{Control: ctrl, Progress: progress})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, ctrl.Paused())
	assert.False(t, resumedAt.IsZero())
	assert.GreaterOrEqual(t, resumedAt.Sub(pausedAt), 40*time.Millisecond)

	// Every expansion is reported once, in order, across the pause.
	for i := 1; i < len(explored); i++ {
		assert.Equal(t, explored[i-1]+1, explored[i])
	}
}

func TestPausedRunHoldsPosition(t *testing.T) {
	g := buildGraph(t, gridFeatures(5, nil))
	s := NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 25))

	ctrl := NewControl()
	ctrl.Pause()
	assert.True(t, ctrl.Paused())

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), s, RunOptions{Control: ctrl})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("paused run finished")
	case <-time.After(30 * time.Millisecond):
	}

	ctrl.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("resumed run did not finish")
	}
	assert.True(t, s.Done())
}

func TestControlCancel(t *testing.T) {
	g := buildGraph(t, gridFeatures(6, nil))
	ctrl := NewControl()

	res, err := Run(context.Background(), NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 36)), RunOptions{
		Control: ctrl,
		Progress: func(_ context.Context, ev StepEvent) error {
			if ev.NodesExplored == 2 {
				ctrl.Cancel()
				ctrl.Cancel()
			}
			return nil
		},
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, ctrl.Cancelled())
}

func TestCancelReleasesPausedRun(t *testing.T) {
	g := buildGraph(t, gridFeatures(4, nil))
	ctrl := NewControl()
	ctrl.Pause()

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 16)), RunOptions{Control: ctrl})
		done <- err
	}()
	ctrl.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not release the paused run")
	}
}

func TestContextCancel(t *testing.T) {
	g := buildGraph(t, gridFeatures(6, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := Run(ctx, NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 36)), RunOptions{
		Progress: func(_ context.Context, ev StepEvent) error {
			if ev.NodesExplored == 1 {
				cancel()
			}
			return nil
		},
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelInterruptsPacingDelay(t *testing.T) {
	g := buildGraph(t, gridFeatures(4, nil))
	ctrl := NewControl()

	begin := time.Now()
	_, err := Run(context.Background(), NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 16)), RunOptions{
		Pacing:  Pacing{Delay: time.Hour},
		Control: ctrl,
		Progress: func(context.Context, StepEvent) error {
			time.AfterFunc(10*time.Millisecond, ctrl.Cancel)
			return nil
		},
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(begin), time.Minute)
}

func TestStream(t *testing.T) {
	g := buildGraph(t, gridFeatures(5, nil))
	events, outcome := Stream(context.Background(), NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 25)), RunOptions{})

	var got []StepEvent
	for ev := range events {
		got = append(got, ev)
	}
	out, ok := <-outcome
	require.True(t, ok)
	require.NoError(t, out.Err)
	require.True(t, out.Result.Found)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.True(t, last.Done)
	assert.True(t, last.Found)
	assert.Equal(t, out.Result.NodesExplored, last.NodesExplored)

	_, ok = <-outcome
	assert.False(t, ok, "outcome carries exactly one value")
}

func TestStreamBackpressure(t *testing.T) {
	g := buildGraph(t, gridFeatures(5, nil))
	s := NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 25))
	events, outcome := Stream(context.Background(), s, RunOptions{})

	first := <-events
	time.Sleep(20 * time.Millisecond)
	// The search cannot run ahead of an unread event by more than one step.
	second := <-events
	assert.Equal(t, first.NodesExplored+1, second.NodesExplored)

	for range events {
	}
	out := <-outcome
	require.NoError(t, out.Err)
}

func TestStreamContextCancel(t *testing.T) {
	g := buildGraph(t, gridFeatures(5, nil))
	ctx, cancel := context.WithCancel(context.Background())
	events, outcome := Stream(ctx, NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 25)), RunOptions{})

	<-events
	cancel()

	out := <-outcome
	assert.ErrorIs(t, out.Err, ErrCancelled)
	assert.Nil(t, out.Result)
	for range events {
	}
}

func TestNilControl(t *testing.T) {
	var c *Control
	assert.NotPanics(t, func() {
		c.Pause()
		c.Resume()
		c.Cancel()
	})
	assert.False(t, c.Paused())
	assert.False(t, c.Cancelled())
	assert.NoError(t, c.wait(context.Background()))
}
