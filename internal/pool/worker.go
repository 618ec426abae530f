package pool

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
)

// worker pops pending commands in arrival order and runs them. It exits only
// once the stop flag is set and pending is empty.
func (p *Pool) worker(id int) {
	defer p.workerWG.Done()

	// Backends may rely on per-thread state (io_uring rings, O_DIRECT fds).
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := p.logger.WithWorker(id)
	log.Debug("worker started")

	for {
		p.pendingMu.Lock()
		for p.pending.len() == 0 && !p.workerStop {
			p.pendingCond.Wait()
		}
		cmd := p.pending.pop()
		if cmd == nil {
			p.pendingMu.Unlock()
			log.Debug("worker stopped")
			return
		}
		cmd.SetStage(interfaces.StageExecuting)
		p.pendingMu.Unlock()

		p.execute(log, cmd)

		p.finishedMu.Lock()
		cmd.SetStage(interfaces.StageFinished)
		p.finished.push(cmd)
		p.finishedMu.Unlock()
		p.finishedCond.Signal()
	}
}

func (p *Pool) execute(log *logging.Logger, cmd *interfaces.Command) {
	storeMax(&p.maxExecuting, p.executing.Add(1))
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithCommand(cmd.Tag, cmd.Op.String()).Error("request panicked", "panic", r)
				cmd.SetResult(0, fmt.Errorf("%w: %v", ErrRequestPanic, r))
			}
		}()
		p.request(cmd)
	}()

	p.executing.Add(-1)
	latency := uint64(time.Since(start).Nanoseconds())
	res := cmd.Result()
	switch cmd.Op {
	case interfaces.OpRead:
		p.observer.ObserveRead(uint64(cmd.Len()), latency, res.OK())
	case interfaces.OpWrite:
		p.observer.ObserveWrite(uint64(cmd.Len()), latency, res.OK())
	case interfaces.OpUnmap:
		p.observer.ObserveUnmap(uint64(cmd.Len()), latency, res.OK())
	case interfaces.OpSync:
		p.observer.ObserveSync(latency, res.OK())
	}
	if !res.OK() {
		log.WithCommand(cmd.Tag, cmd.Op.String()).Debug("request failed", "status", res.Status.String(), "error", res.Err)
	}
}
