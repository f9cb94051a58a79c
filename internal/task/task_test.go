package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHandle_Wait verifies the value and error of a finished task are returned.
func TestHandle_Wait(t *testing.T) {
	t.Parallel()

	h := Go(context.Background(), "answer", func(context.Context) (int, error) { return 42, nil })

	v, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, "answer", h.Name())

	boom := errors.New("boom")
	failing := Go(context.Background(), "fail", func(context.Context) (struct{}, error) { return struct{}{}, boom })
	_, err = failing.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	require.False(t, failing.WaitLogged(context.Background()))
}

// TestHandle_Panic verifies a panic is turned into an error.
func TestHandle_Panic(t *testing.T) {
	t.Parallel()

	h := Go(context.Background(), "panics", func(context.Context) (int, error) { panic("oops") })

	_, err := h.Wait(context.Background())
	require.ErrorContains(t, err, "oops")
}

// TestHandle_WaitCancelled verifies Wait returns when the waiting context ends.
func TestHandle_WaitCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	h := Go(context.Background(), "slow", func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-h.Done():
		t.Fatal("task must still be running")
	default:
	}
}

// TestHandle_Detach verifies a detached task still runs to completion.
func TestHandle_Detach(t *testing.T) {
	t.Parallel()

	ran := make(chan struct{})
	h := Go(context.Background(), "detached", func(context.Context) (int, error) {
		close(ran)
		return 0, errors.New("ignored")
	})
	h.Detach(context.Background())

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("detached task did not run")
	}

	<-h.Done()
}
