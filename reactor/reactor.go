// Package reactor is a single-goroutine event loop that multiplexes file
// descriptor readiness and submitted tasks. Everything registered with a
// Reactor runs on its loop goroutine, which makes it the natural owner of
// state that is not safe for concurrent use.
package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-tgtbs/internal/logging"
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end.
	EventHangup
)

func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if e&EventRead != 0 {
		add("read")
	}
	if e&EventWrite != 0 {
		add("write")
	}
	if e&EventError != 0 {
		add("error")
	}
	if e&EventHangup != 0 {
		add("hangup")
	}
	return s
}

// IOCallback is invoked on the loop goroutine when a registered descriptor is ready.
type IOCallback func(IOEvents)

var (
	// ErrLoopClosed is returned once the loop has stopped or been closed.
	// Work submitted before that either ran or never will.
	ErrLoopClosed = errors.New("reactor: loop closed")
	// ErrLoopRunning is returned by a second Run.
	ErrLoopRunning = errors.New("reactor: loop already running")
	// ErrFDOutOfRange is returned for negative descriptors.
	ErrFDOutOfRange = errors.New("reactor: fd out of range")
	// ErrFDAlreadyRegistered is returned when a descriptor is registered twice.
	ErrFDAlreadyRegistered = errors.New("reactor: fd already registered")
	// ErrFDNotRegistered is returned by UnregisterFD for unknown descriptors.
	ErrFDNotRegistered = errors.New("reactor: fd not registered")
	// ErrUnsupported is returned by New on platforms without epoll.
	ErrUnsupported = errors.New("reactor: not supported on this platform")
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
	stateClosed
)

// Config configures a Reactor.
type Config struct {
	// Logger receives loop diagnostics. Defaults to logging.Default().
	Logger *logging.Logger
	// MaxEvents bounds the events handled per poll. Defaults to 128.
	MaxEvents int
}

// Reactor is an epoll based event loop.
type Reactor struct {
	poller poller
	logger *logging.Logger

	mu    sync.Mutex
	fds   map[int]IOCallback
	tasks []func()

	state  atomic.Int32
	stop   atomic.Bool
	loopID atomic.Uint64
	done   chan struct{}
}

// New creates a reactor. It does not start polling until Run is called.
func New(cfg Config) (*Reactor, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 128
	}

	r := &Reactor{
		logger: cfg.Logger.WithComponent("reactor"),
		fds:    make(map[int]IOCallback),
		done:   make(chan struct{}),
	}
	if err := r.poller.init(cfg.MaxEvents); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterFD starts monitoring fd for events. cb runs on the loop goroutine.
// Safe to call from any goroutine.
func (r *Reactor) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	if r.state.Load() == stateClosed {
		return ErrLoopClosed
	}

	r.mu.Lock()
	if _, ok := r.fds[fd]; ok {
		r.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	r.fds[fd] = cb
	r.mu.Unlock()

	if err := r.poller.add(fd, events); err != nil {
		r.mu.Lock()
		delete(r.fds, fd)
		r.mu.Unlock()
		return err
	}
	return nil
}

// UnregisterFD stops monitoring fd. Once it returns on the loop goroutine no
// further callback for fd is invoked, including events already polled in
// the current batch.
func (r *Reactor) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	r.mu.Lock()
	if _, ok := r.fds[fd]; !ok {
		r.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(r.fds, fd)
	r.mu.Unlock()

	if r.state.Load() == stateClosed {
		return nil
	}
	return r.poller.del(fd)
}

// Submit queues task to run on the loop goroutine.
func (r *Reactor) Submit(task func()) error {
	if st := r.state.Load(); st == stateClosed || st == stateStopped {
		return ErrLoopClosed
	}

	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()

	return r.poller.wake()
}

// Do runs fn on the loop goroutine and waits for its result. When called
// from the loop goroutine itself fn runs inline.
func (r *Reactor) Do(ctx context.Context, fn func() error) error {
	if r.InLoop() {
		return fn()
	}

	errc := make(chan error, 1)
	err := r.Submit(func() {
		errc <- fn()
	})
	if err != nil {
		return err
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		// The loop may have run fn just before exiting.
		select {
		case err := <-errc:
			return err
		default:
			return ErrLoopClosed
		}
	}
}

// InLoop reports whether the caller is running on the loop goroutine.
func (r *Reactor) InLoop() bool {
	id := r.loopID.Load()
	return id != 0 && id == goroutineID()
}

// Run processes events on the calling goroutine, which is locked to its OS
// thread, until Stop is called or ctx is cancelled. Tasks still queued when
// the loop stops are run before Run returns.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateIdle, stateRunning) {
		if r.state.Load() == stateClosed {
			return ErrLoopClosed
		}
		return ErrLoopRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.loopID.Store(goroutineID())
	defer func() {
		r.runTasks()
		r.loopID.Store(0)
		r.state.CompareAndSwap(stateRunning, stateStopped)
		close(r.done)
	}()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-stopWatch:
		}
	}()

	r.logger.Debug("reactor loop started")
	for {
		r.runTasks()
		if r.stop.Load() {
			break
		}

		err := r.poller.wait(r.dispatch)
		if err != nil {
			r.logger.Error("poll failed", "error", err)
			return err
		}
	}
	r.logger.Debug("reactor loop stopped")

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Stop asks the loop to exit after the current iteration. Safe to call from
// any goroutine, including the loop itself.
func (r *Reactor) Stop() {
	if r.stop.Swap(true) {
		return
	}
	if err := r.poller.wake(); err != nil {
		r.logger.Warn("wakeup on stop failed", "error", err)
	}
}

// Done is closed once Run has returned.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Close stops the loop, waits for Run to return if it is running and
// releases the poller.
func (r *Reactor) Close() error {
	r.Stop()
	switch r.state.Load() {
	case stateRunning:
		if !r.InLoop() {
			<-r.done
		}
	case stateClosed:
		return nil
	}
	r.state.Store(stateClosed)
	return r.poller.close()
}

func (r *Reactor) runTasks() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()

	for _, task := range tasks {
		r.safeCall(func() { task() })
	}
}

func (r *Reactor) dispatch(fd int, events IOEvents) {
	r.mu.Lock()
	cb, ok := r.fds[fd]
	r.mu.Unlock()
	if !ok || cb == nil {
		return
	}
	r.safeCall(func() { cb(events) })
}

func (r *Reactor) safeCall(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recovered panic on reactor", "panic", p)
		}
	}()
	fn()
}

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
