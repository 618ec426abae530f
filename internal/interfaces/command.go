package interfaces

import (
	"fmt"
	"time"
)

// Op identifies the backend operation a command asks for.
type Op uint8

const (
	OpRead  Op = iota + 1 // READ(6/10/16)
	OpWrite               // WRITE(6/10/16)
	OpSync                // SYNCHRONIZE CACHE
	OpUnmap               // UNMAP / WRITE SAME with unmap
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpSync:
		return "SYNC"
	case OpUnmap:
		return "UNMAP"
	default:
		return fmt.Sprintf("OP_%d", uint8(o))
	}
}

// Status is the SAM status byte reported back to the initiator.
type Status uint8

const (
	StatusGood           Status = 0x00
	StatusCheckCondition Status = 0x02
	StatusBusy           Status = 0x08
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "GOOD"
	case StatusCheckCondition:
		return "CHECK_CONDITION"
	case StatusBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("STATUS_0x%02x", uint8(s))
	}
}

// Result is the outcome of a command as seen by its completion callback.
type Result struct {
	Status Status
	N      int   // bytes transferred
	Err    error // backend error, nil when Status is StatusGood
}

// OK reports whether the command completed with GOOD status.
func (r Result) OK() bool {
	return r.Status == StatusGood
}

// Stage tracks which pool container currently owns a command.
type Stage uint8

const (
	StageIdle Stage = iota // owned by the caller
	StagePending
	StageExecuting
	StageFinished
	StageAckReady
	StageDone // completion delivered, owned by the caller again
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePending:
		return "pending"
	case StageExecuting:
		return "executing"
	case StageFinished:
		return "finished"
	case StageAckReady:
		return "ack-ready"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// DoneFunc is invoked exactly once per submitted command, on the reactor goroutine.
type DoneFunc func(cmd *Command, res Result)

// RequestFunc performs the backend I/O for cmd synchronously. It may block.
type RequestFunc func(cmd *Command)

// Command is one unit of backing-store work.
//
// The caller owns a Command until it is submitted. From then on the pool owns
// it until Done runs, after which the caller may reuse or drop it.
type Command struct {
	Tag    uint64
	Op     Op
	Offset int64
	Length int64 // extent for OpUnmap and OpSync; reads and writes use len(Buf)
	Buf    []byte

	// Private is carried untouched for the caller.
	Private any

	Done DoneFunc

	result    Result
	async     bool
	stage     Stage
	submitted time.Time
}

// NewCommand creates a command for op at offset over buf.
func NewCommand(tag uint64, op Op, offset int64, buf []byte, done DoneFunc) *Command {
	return &Command{
		Tag:    tag,
		Op:     op,
		Offset: offset,
		Length: int64(len(buf)),
		Buf:    buf,
		Done:   done,
	}
}

// Len returns the number of bytes the command covers.
func (c *Command) Len() int64 {
	if c.Op == OpRead || c.Op == OpWrite {
		return int64(len(c.Buf))
	}
	return c.Length
}

// SetResult records the outcome of the backend call. A non-nil err turns the
// status into CHECK CONDITION.
func (c *Command) SetResult(n int, err error) {
	c.result = Result{Status: StatusGood, N: n}
	if err != nil {
		c.result.Status = StatusCheckCondition
		c.result.Err = err
	}
}

// SetStatus records an explicit status, for backends that report BUSY.
func (c *Command) SetStatus(status Status, err error) {
	c.result = Result{Status: status, Err: err}
}

// Result returns the recorded outcome.
func (c *Command) Result() Result {
	return c.result
}

// MarkAsync flags the command as completing later through Done.
func (c *Command) MarkAsync() {
	c.async = true
}

// IsAsync reports whether the command was handed to a pool.
func (c *Command) IsAsync() bool {
	return c.async
}

// Stage returns the container that currently owns the command.
func (c *Command) Stage() Stage {
	return c.stage
}

// SetStage is used by the pool when moving the command between containers.
func (c *Command) SetStage(s Stage) {
	c.stage = s
}

// Submitted returns the time the command entered the pool.
func (c *Command) Submitted() time.Time {
	return c.submitted
}

// Reset prepares a delivered command for reuse.
func (c *Command) Reset() {
	c.result = Result{}
	c.async = false
	c.stage = StageIdle
	c.submitted = time.Time{}
}

// MarkSubmitted stamps the command on entry to the pool.
func (c *Command) MarkSubmitted(t time.Time) {
	c.submitted = t
}
