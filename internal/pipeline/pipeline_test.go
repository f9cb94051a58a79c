package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRunner_PrefixesAndOrder verifies lines are prefixed with the step position.
func TestRunner_PrefixesAndOrder(t *testing.T) {
	t.Parallel()

	var lines []string

	runner := NewRunner(func(line string) { lines = append(lines, line) })

	err := runner.Run(context.Background(),
		StepFunc{StepName: "first", Fn: func(_ context.Context, sink Sink) error { sink("a"); return nil }},
		StepFunc{StepName: "second", Fn: func(_ context.Context, sink Sink) error { sink("b"); return nil }},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"[1/2] first", "[1/2] first: a", "[2/2] second", "[2/2] second: b"}, lines)
}

// TestRunner_StopsAtFirstFailure verifies later steps are skipped and the error is wrapped.
func TestRunner_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ran := false

	err := NewRunner(nil).Run(context.Background(),
		StepFunc{StepName: "bad", Fn: func(context.Context, Sink) error { return boom }},
		StepFunc{StepName: "never", Fn: func(context.Context, Sink) error { ran = true; return nil }},
	)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "bad", stepErr.Step)
	require.ErrorIs(t, err, boom)
	require.False(t, ran)
}

// TestRunner_Cancelled verifies a cancelled context stops before the next step.
func TestRunner_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(nil).Run(ctx, StepFunc{StepName: "s", Fn: func(context.Context, Sink) error { return nil }})
	require.ErrorIs(t, err, context.Canceled)
}
