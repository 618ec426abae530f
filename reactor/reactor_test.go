//go:build linux

package reactor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tgtbs/internal/logging"
)

func startReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New(Config{Logger: logging.Nop()})
	require.NoError(t, err)

	go r.Run(context.Background())
	t.Cleanup(func() {
		r.Close()
	})

	// Wait for the loop goroutine to be up.
	require.NoError(t, r.Do(context.Background(), func() error { return nil }))
	return r
}

func TestIOEventsString(t *testing.T) {
	tests := []struct {
		ev   IOEvents
		want string
	}{
		{0, "none"},
		{EventRead, "read"},
		{EventRead | EventHangup, "read|hangup"},
		{EventWrite | EventError, "write|error"},
	}
	for _, tt := range tests {
		if got := tt.ev.String(); got != tt.want {
			t.Errorf("IOEvents(%d).String() = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestSubmitRunsOnLoop(t *testing.T) {
	r := startReactor(t)

	done := make(chan bool, 1)
	require.NoError(t, r.Submit(func() {
		done <- r.InLoop()
	}))

	select {
	case inLoop := <-done:
		assert.True(t, inLoop, "task should run on the loop goroutine")
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
	assert.False(t, r.InLoop())
}

func TestSubmitPreservesOrder(t *testing.T) {
	r := startReactor(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, r.Submit(func() { got = append(got, i) }))
	}
	require.NoError(t, r.Do(context.Background(), func() error { return nil }))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDoReturnsError(t *testing.T) {
	r := startReactor(t)

	want := errors.New("boom")
	err := r.Do(context.Background(), func() error { return want })
	assert.ErrorIs(t, err, want)

	// Nested Do runs inline instead of deadlocking.
	err = r.Do(context.Background(), func() error {
		return r.Do(context.Background(), func() error { return want })
	})
	assert.ErrorIs(t, err, want)
}

func TestDoContextCancelled(t *testing.T) {
	r, err := New(Config{Logger: logging.Nop()})
	require.NoError(t, err)
	defer r.Close()

	// Loop never runs, so Do can only return through ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = r.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegisterFDReadable(t *testing.T) {
	r := startReactor(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	got := make(chan IOEvents, 4)
	require.NoError(t, r.RegisterFD(fds[0], EventRead, func(ev IOEvents) {
		var buf [1]byte
		unix.Read(fds[0], buf[:])
		got <- ev
	}))

	_, err := unix.Write(fds[1], []byte{'x'})
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.NotZero(t, ev&EventRead)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}

	assert.ErrorIs(t, r.RegisterFD(fds[0], EventRead, func(IOEvents) {}), ErrFDAlreadyRegistered)
	require.NoError(t, r.Do(context.Background(), func() error { return r.UnregisterFD(fds[0]) }))
	assert.ErrorIs(t, r.UnregisterFD(fds[0]), ErrFDNotRegistered)
	assert.ErrorIs(t, r.RegisterFD(-1, EventRead, nil), ErrFDOutOfRange)
}

func TestPanicInTaskIsRecovered(t *testing.T) {
	r := startReactor(t)

	require.NoError(t, r.Submit(func() { panic("task panic") }))

	var ran atomic.Bool
	require.NoError(t, r.Do(context.Background(), func() error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load(), "loop should survive a panicking task")
}

func TestRunStopsOnContext(t *testing.T) {
	r, err := New(Config{Logger: logging.Nop()})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.ErrorIs(t, r.Submit(func() {}), ErrLoopClosed)
	assert.ErrorIs(t, r.Run(context.Background()), ErrLoopRunning)
}

func TestStopRunsQueuedTasks(t *testing.T) {
	r, err := New(Config{Logger: logging.Nop()})
	require.NoError(t, err)
	defer r.Close()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Submit(func() { ran.Add(1) }))
	}
	r.Stop()

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, int32(10), ran.Load())
	<-r.Done()
}
