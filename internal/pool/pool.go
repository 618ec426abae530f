// Package pool implements the backing-store worker pool: a fixed set of
// workers executing blocking backend requests, and a completion relay that
// hands finished commands back to the reactor goroutine one batch at a time.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
	"github.com/ehrlich-b/go-tgtbs/reactor"
)

var (
	// ErrPoolNotRunning is returned by Submit before Start and after Stop.
	ErrPoolNotRunning = errors.New("pool not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pool already started")
	// ErrRequestPanic is the result error of a request function that panicked.
	ErrRequestPanic = errors.New("request panicked")
)

// Reactor is the event loop the pool reports completions to. Completion
// callbacks run from the IOCallback registered here.
type Reactor interface {
	RegisterFD(fd int, events reactor.IOEvents, cb reactor.IOCallback) error
	UnregisterFD(fd int) error
}

// Config configures a Pool.
type Config struct {
	Name     string // device name used in logs
	Workers  int    // defaults to constants.DefaultWorkers
	Request  interfaces.RequestFunc
	Reactor  Reactor
	Logger   *logging.Logger
	Observer interfaces.Observer
}

// Pool runs backend requests on worker goroutines and delivers completions
// on the reactor goroutine.
//
// A command is always in exactly one of pending, finished or ack-ready while
// the pool owns it. The pending and finished locks are never held together.
type Pool struct {
	name     string
	workers  int
	request  interfaces.RequestFunc
	reactor  Reactor
	logger   *logging.Logger
	observer interfaces.Observer

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     fifo
	accepting   bool
	workerStop  bool

	finishedMu    sync.Mutex
	finishedCond  *sync.Cond
	finished      fifo
	relayStopping bool

	ackMu    sync.Mutex
	ackReady fifo

	credit     chan struct{}
	notify     *notifyPipe
	registered bool // notify fd is registered; reactor goroutine only after Start
	relayStop  chan struct{}
	relayDone  chan struct{}
	workerWG   sync.WaitGroup

	stateMu sync.Mutex
	started bool
	stopped bool

	errMu sync.Mutex
	err   error

	submitted      atomic.Uint64
	delivered      atomic.Uint64
	batches        atomic.Uint64
	executing      atomic.Int64
	maxExecuting   atomic.Int64
	outstanding    atomic.Int32
	maxOutstanding atomic.Int32
}

// New validates cfg and returns a pool ready to Start.
func New(cfg Config) (*Pool, error) {
	if cfg.Request == nil {
		return nil, fmt.Errorf("pool: request function is required")
	}
	if cfg.Reactor == nil {
		return nil, fmt.Errorf("pool: reactor is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("pool: invalid worker count %d", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = constants.DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Name != "" {
		cfg.Logger = cfg.Logger.WithDevice(cfg.Name)
	}
	if cfg.Observer == nil {
		cfg.Observer = interfaces.NoOpObserver{}
	}

	p := &Pool{
		name:     cfg.Name,
		workers:  cfg.Workers,
		request:  cfg.Request,
		reactor:  cfg.Reactor,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		credit:   make(chan struct{}, 1),
	}
	p.pendingCond = sync.NewCond(&p.pendingMu)
	p.finishedCond = sync.NewCond(&p.finishedMu)
	return p, nil
}

// Start creates the notify pipe, registers it with the reactor, launches the
// relay and the workers and primes the relay with its single credit. On
// failure nothing is left running.
func (p *Pool) Start() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}

	np, err := newNotifyPipe()
	if err != nil {
		return fmt.Errorf("create notify pipe: %w", err)
	}
	// Published before registration so onNotify sees them through the
	// reactor's registration lock.
	p.notify = np
	p.registered = true
	if err := p.reactor.RegisterFD(np.r, reactor.EventRead, p.onNotify); err != nil {
		p.notify = nil
		p.registered = false
		np.close()
		return fmt.Errorf("register notify fd: %w", err)
	}

	p.relayStop = make(chan struct{})
	p.relayDone = make(chan struct{})
	go p.relay()

	p.workerWG.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(i)
	}

	p.credit <- primeCredit

	p.pendingMu.Lock()
	p.accepting = true
	p.pendingMu.Unlock()

	p.started = true
	p.logger.Info("pool started", "workers", p.workers)
	return nil
}

// Submit queues cmd for execution and returns immediately. cmd.Done is
// invoked exactly once, on the reactor goroutine, after the request ran.
func (p *Pool) Submit(cmd *interfaces.Command) error {
	p.pendingMu.Lock()
	if !p.accepting {
		p.pendingMu.Unlock()
		return ErrPoolNotRunning
	}
	cmd.MarkAsync()
	cmd.MarkSubmitted(time.Now())
	cmd.SetStage(interfaces.StagePending)
	p.pending.push(cmd)
	depth := p.pending.len()
	p.pendingMu.Unlock()
	p.pendingCond.Signal()

	p.submitted.Add(1)
	p.observer.ObserveQueueDepth(uint32(depth))
	return nil
}

// Stop shuts the pool down and blocks until every goroutine has exited.
// Workers finish what is pending first. Completions that never reached the
// reactor are delivered on the calling goroutine before Stop returns, so
// Stop must be called on the reactor goroutine. Stop is idempotent.
func (p *Pool) Stop() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true

	p.pendingMu.Lock()
	p.accepting = false
	p.pendingMu.Unlock()

	close(p.relayStop)
	p.finishedMu.Lock()
	p.relayStopping = true
	p.finishedMu.Unlock()
	p.finishedCond.Broadcast()
	<-p.relayDone

	p.pendingMu.Lock()
	p.workerStop = true
	p.pendingMu.Unlock()
	p.pendingCond.Broadcast()
	p.workerWG.Wait()

	var errs []error
	if err := p.unregisterNotify(); err != nil {
		errs = append(errs, fmt.Errorf("unregister notify fd: %w", err))
	}
	if err := p.notify.close(); err != nil {
		errs = append(errs, fmt.Errorf("close notify pipe: %w", err))
	}
	p.outstanding.Store(0)

	n := p.deliverAckReady()
	p.finishedMu.Lock()
	rest := p.finished.take()
	p.finishedMu.Unlock()
	for _, cmd := range rest {
		p.complete(cmd)
	}
	n += len(rest)

	p.logger.Info("pool stopped", "drained", n, "delivered", p.delivered.Load())
	return errors.Join(errs...)
}

// Err returns the error that stopped the relay, if any. A pool with a
// non-nil Err no longer delivers completions and must be stopped.
func (p *Pool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pool) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers              int
	Pending              int
	Finished             int
	AckReady             int
	Executing            int64
	MaxExecuting         int64
	Submitted            uint64
	Delivered            uint64
	Batches              uint64
	OutstandingNotify    int32
	MaxOutstandingNotify int32
}

// Stats returns current queue depths and counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Workers:              p.workers,
		Executing:            p.executing.Load(),
		MaxExecuting:         p.maxExecuting.Load(),
		Submitted:            p.submitted.Load(),
		Delivered:            p.delivered.Load(),
		Batches:              p.batches.Load(),
		OutstandingNotify:    p.outstanding.Load(),
		MaxOutstandingNotify: p.maxOutstanding.Load(),
	}
	p.pendingMu.Lock()
	s.Pending = p.pending.len()
	p.pendingMu.Unlock()
	p.finishedMu.Lock()
	s.Finished = p.finished.len()
	p.finishedMu.Unlock()
	p.ackMu.Lock()
	s.AckReady = p.ackReady.len()
	p.ackMu.Unlock()
	return s
}

func storeMax(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}
