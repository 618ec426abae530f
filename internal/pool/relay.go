package pool

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/reactor"
)

// primeCredit is the credit Start hands the relay so its first cycle can run.
var primeCredit = struct{}{}

// relay moves finished commands to ack-ready one batch per credit and
// notifies the reactor. It never holds more than one credit, so at most one
// notify token is in flight.
func (p *Pool) relay() {
	defer close(p.relayDone)
	log := p.logger.WithComponent("relay")
	log.Debug("relay started")

	for {
		select {
		case <-p.relayStop:
			log.Debug("relay stopped")
			return
		default:
		}

		select {
		case <-p.credit:
		case <-p.relayStop:
			log.Debug("relay stopped")
			return
		}

		batch, ok := p.collect()
		if !ok {
			log.Debug("relay stopped")
			return
		}

		p.ackMu.Lock()
		for _, cmd := range batch {
			cmd.SetStage(interfaces.StageAckReady)
		}
		p.ackReady.pushAll(batch)
		p.ackMu.Unlock()

		p.batches.Add(1)
		p.observer.ObserveBatch(uint32(len(batch)))

		n := p.outstanding.Add(1)
		for {
			cur := p.maxOutstanding.Load()
			if n <= cur || p.maxOutstanding.CompareAndSwap(cur, n) {
				break
			}
		}
		if err := p.notify.post(); err != nil {
			p.outstanding.Add(-1)
			log.Error("relay exiting on notify failure", "error", err)
			p.setErr(fmt.Errorf("relay: %w", err))
			return
		}
	}
}

// collect waits for finished commands and takes all of them. It reports
// false if the relay is asked to stop first; anything left in finished is
// delivered by Stop.
func (p *Pool) collect() ([]*interfaces.Command, bool) {
	p.finishedMu.Lock()
	defer p.finishedMu.Unlock()
	for p.finished.len() == 0 && !p.relayStopping {
		p.finishedCond.Wait()
	}
	if p.relayStopping {
		return nil, false
	}
	return p.finished.take(), true
}

// onNotify runs on the reactor goroutine when the notify pipe is readable.
func (p *Pool) onNotify(reactor.IOEvents) {
	ok, err := p.notify.consume()
	if err != nil {
		p.logger.Error("notify read failed", "error", err)
		if !ok {
			// The pipe is broken; stop polling it so the reactor does not spin.
			p.setErr(fmt.Errorf("reactor: %w", err))
			p.unregisterNotify()
		}
	}
	if !ok {
		return
	}
	p.outstanding.Add(-1)

	p.deliverAckReady()

	select {
	case p.credit <- struct{}{}:
	default:
		p.logger.Warn("relay credit already outstanding")
	}
}

func (p *Pool) unregisterNotify() error {
	if !p.registered {
		return nil
	}
	p.registered = false
	return p.reactor.UnregisterFD(p.notify.r)
}

// deliverAckReady completes everything in ack-ready in order and returns
// the number delivered. Must run on the reactor goroutine.
func (p *Pool) deliverAckReady() int {
	p.ackMu.Lock()
	batch := p.ackReady.take()
	p.ackMu.Unlock()

	for _, cmd := range batch {
		p.complete(cmd)
	}
	return len(batch)
}

func (p *Pool) complete(cmd *interfaces.Command) {
	cmd.SetStage(interfaces.StageDone)
	p.delivered.Add(1)
	if t := cmd.Submitted(); !t.IsZero() {
		p.observer.ObserveCompletion(uint64(time.Since(t).Nanoseconds()))
	}
	if cmd.Done == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithCommand(cmd.Tag, cmd.Op.String()).Error("completion callback panicked", "panic", r)
		}
	}()
	cmd.Done(cmd, cmd.Result())
}
