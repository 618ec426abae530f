package tgtbs

import (
	"context"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
	"github.com/ehrlich-b/go-tgtbs/internal/pool"
)

// Command and backend types are defined in internal/interfaces so the pool
// and the backends can share them without importing this package.
type (
	Command     = interfaces.Command
	Result      = interfaces.Result
	Op          = interfaces.Op
	Status      = interfaces.Status
	Stage       = interfaces.Stage
	DoneFunc    = interfaces.DoneFunc
	RequestFunc = interfaces.RequestFunc

	Backend        = interfaces.Backend
	DiscardBackend = interfaces.DiscardBackend
	StatBackend    = interfaces.StatBackend
	Store          = interfaces.Store
	Template       = interfaces.Template
	OpenParams     = interfaces.OpenParams
	OpenFunc       = interfaces.OpenFunc
)

const (
	OpRead  = interfaces.OpRead
	OpWrite = interfaces.OpWrite
	OpSync  = interfaces.OpSync
	OpUnmap = interfaces.OpUnmap

	StatusGood           = interfaces.StatusGood
	StatusCheckCondition = interfaces.StatusCheckCondition
	StatusBusy           = interfaces.StatusBusy

	StageIdle      = interfaces.StageIdle
	StagePending   = interfaces.StagePending
	StageExecuting = interfaces.StageExecuting
	StageFinished  = interfaces.StageFinished
	StageAckReady  = interfaces.StageAckReady
	StageDone      = interfaces.StageDone
)

// ErrUnsupportedOp is the result error for operations a store cannot perform.
var ErrUnsupportedOp = interfaces.ErrUnsupportedOp

// NewCommand creates a command for op at offset over buf.
func NewCommand(tag uint64, op Op, offset int64, buf []byte, done DoneFunc) *Command {
	return interfaces.NewCommand(tag, op, offset, buf, done)
}

// NewTemplate builds a Template from a name and an open function.
func NewTemplate(name string, open OpenFunc) Template {
	return interfaces.NewTemplate(name, open)
}

// AsStore adapts a Backend into a Store.
func AsStore(b Backend) Store {
	return interfaces.AsStore(b)
}

// Reactor is the event loop a Device delivers completions on. The reactor
// package provides the standard implementation.
type Reactor interface {
	pool.Reactor

	// Do runs fn on the reactor goroutine and waits for it.
	Do(ctx context.Context, fn func() error) error
}

// PoolStats is a point-in-time view of a device's worker pool.
type PoolStats = pool.Stats

// Logger is the structured logger used throughout the module.
type Logger = logging.Logger

// LogConfig configures NewLogger.
type LogConfig = logging.Config

// NewLogger creates a structured logger.
func NewLogger(cfg *LogConfig) *Logger {
	return logging.NewLogger(cfg)
}
