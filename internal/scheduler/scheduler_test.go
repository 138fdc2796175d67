package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartRejectsBadCron(t *testing.T) {
	s := New(testLogger(), "every day please", false, func(context.Context) {})
	assert.Error(t, s.Start())
	s.Stop()
}

func TestRunOnStartAndStopCancels(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan error, 1)
	s := New(testLogger(), "0 0 1 1 *", true, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	})
	require.NoError(t, s.Start())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run on start")
	}
	s.Stop()

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestNoRunBeforeSchedule(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(testLogger(), "0 0 1 1 *", false, func(context.Context) { ran <- struct{}{} })
	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case <-ran:
		t.Fatal("job ran before its schedule")
	case <-time.After(100 * time.Millisecond):
	}
}
