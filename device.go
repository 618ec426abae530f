// Package tgtbs provides the backing-store layer of a SCSI target daemon:
// a registry of backing-store templates and, per device, a pool of worker
// goroutines that run blocking backend requests and hand completions back to
// a single-threaded reactor.
package tgtbs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
	"github.com/ehrlich-b/go-tgtbs/internal/pool"
	"github.com/ehrlich-b/go-tgtbs/reactor"
)

// Device is a logical unit bound to one backing store and its worker pool.
type Device struct {
	name      string
	template  string
	path      string
	readOnly  bool
	blockSize int

	reactor Reactor
	store   Store
	pool    *pool.Pool
	logger  *logging.Logger

	metrics  *Metrics
	observer Observer

	mu     sync.Mutex
	closed bool
}

// DeviceParams contains parameters for opening a device
type DeviceParams struct {
	Name     string // used in logs and errors
	Template string // registered template name
	Path     string // backing path handed to the template

	Size      int64 // requested size, 0 lets the template decide
	Workers   int   // worker goroutines (default: DefaultWorkers)
	BlockSize int   // logical block size (default: DefaultBlockSize)
	ReadOnly  bool  // reject writes and unmaps
}

// DefaultParams returns default device parameters for template
func DefaultParams(template string) DeviceParams {
	return DeviceParams{
		Name:      template,
		Template:  template,
		Workers:   constants.DefaultWorkers,
		BlockSize: constants.DefaultBlockSize,
	}
}

func (p DeviceParams) validate() error {
	if p.Template == "" {
		return NewError("OPEN", ErrCodeInvalidParameters, "template name is required")
	}
	if p.Workers < 0 {
		return NewDeviceError("OPEN", p.Name, ErrCodeInvalidParameters,
			fmt.Sprintf("invalid worker count %d", p.Workers))
	}
	if p.Size < 0 {
		return NewDeviceError("OPEN", p.Name, ErrCodeInvalidParameters,
			fmt.Sprintf("invalid size %d", p.Size))
	}
	if p.BlockSize < 0 || p.BlockSize&(p.BlockSize-1) != 0 {
		return NewDeviceError("OPEN", p.Name, ErrCodeInvalidParameters,
			fmt.Sprintf("block size %d is not a power of two", p.BlockSize))
	}
	return nil
}

// Options contains additional options for opening a device
type Options struct {
	// Logger for device and pool messages (if nil, uses the default logger)
	Logger *Logger

	// Observer receives pool events in addition to the device's own metrics
	Observer Observer
}

// Open looks up params.Template in reg, opens a store for the device and
// starts its worker pool. Completions are delivered on r's goroutine, which
// must be running before commands are submitted.
//
// Example:
//
//	reg := tgtbs.NewRegistry()
//	backend.RegisterAll(reg, backend.Options{})
//	dev, err := tgtbs.Open(loop, reg, tgtbs.DefaultParams("mem"), nil)
func Open(r Reactor, reg *Registry, params DeviceParams, options *Options) (*Device, error) {
	if r == nil || reg == nil {
		return nil, NewError("OPEN", ErrCodeInvalidParameters, "reactor and registry are required")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if options == nil {
		options = &Options{}
	}
	if params.Name == "" {
		params.Name = params.Template
	}
	if params.Workers == 0 {
		params.Workers = constants.DefaultWorkers
	}
	if params.BlockSize == 0 {
		params.BlockSize = constants.DefaultBlockSize
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithDevice(params.Name).WithTemplate(params.Template)

	tmpl, ok := reg.Lookup(params.Template)
	if !ok {
		return nil, NewDeviceError("OPEN", params.Name, ErrCodeTemplateNotFound,
			fmt.Sprintf("no backing store template %q", params.Template))
	}

	store, err := tmpl.Open(interfaces.OpenParams{
		Path:     params.Path,
		Size:     params.Size,
		Workers:  params.Workers,
		ReadOnly: params.ReadOnly,
	})
	if err != nil {
		se := WrapError("OPEN", err)
		se.Device = params.Name
		return nil, se
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = multiObserver{observer, options.Observer}
	}

	p, err := pool.New(pool.Config{
		Name:     params.Name,
		Workers:  params.Workers,
		Request:  store.Request,
		Reactor:  r,
		Logger:   logger,
		Observer: observer,
	})
	if err == nil {
		err = p.Start()
	}
	if err != nil {
		store.Close()
		return nil, &Error{
			Op:     "OPEN",
			Device: params.Name,
			Worker: -1,
			Code:   ErrCodeSetupFailed,
			Msg:    err.Error(),
			Inner:  err,
		}
	}

	logger.Info("device opened", "path", params.Path, "size", store.Size(), "workers", params.Workers)

	return &Device{
		name:      params.Name,
		template:  params.Template,
		path:      params.Path,
		readOnly:  params.ReadOnly,
		blockSize: params.BlockSize,
		reactor:   r,
		store:     store,
		pool:      p,
		logger:    logger,
		metrics:   metrics,
		observer:  observer,
	}, nil
}

// Submit hands cmd to the device's worker pool. On success cmd is async and
// cmd.Done runs later on the reactor goroutine.
//
// Commands the device can reject without touching the backend (writes to a
// read-only device, out-of-range extents) complete synchronously: the result
// is recorded with CHECK CONDITION status, Done is not called and the error
// is returned.
func (d *Device) Submit(cmd *Command) error {
	if err := d.check(cmd); err != nil {
		cmd.SetResult(0, err)
		return err
	}
	if err := d.pool.Submit(cmd); err != nil {
		se := WrapError("SUBMIT", err)
		se.Device = d.name
		return se
	}
	return nil
}

func (d *Device) check(cmd *Command) error {
	switch cmd.Op {
	case OpWrite, OpUnmap:
		if d.readOnly {
			return NewDeviceError("SUBMIT", d.name, ErrCodePermissionDenied,
				fmt.Sprintf("%s on read-only device", cmd.Op))
		}
	case OpRead, OpSync:
	default:
		return NewDeviceError("SUBMIT", d.name, ErrCodeNotImplemented,
			fmt.Sprintf("unsupported operation %s", cmd.Op))
	}
	if cmd.Op == OpSync {
		return nil
	}
	size, n := d.store.Size(), cmd.Len()
	if cmd.Offset < 0 || n < 0 || cmd.Offset > size || n > size-cmd.Offset {
		return NewDeviceError("SUBMIT", d.name, ErrCodeInvalidParameters,
			fmt.Sprintf("extent [%d, +%d) beyond device size %d", cmd.Offset, n, size))
	}
	return nil
}

// Close stops the worker pool on the reactor goroutine, delivering every
// outstanding completion, then closes the backing store. Close is safe to
// call from any goroutine, including the reactor's, and is idempotent.
func (d *Device) Close(ctx context.Context) error {
	if d == nil {
		return ErrInvalidParameters
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.ReactorDoTimeout)
		defer cancel()
	}

	err := d.reactor.Do(ctx, d.pool.Stop)
	if errors.Is(err, reactor.ErrLoopClosed) {
		// No loop goroutine is left to race with, so completions are
		// delivered here.
		d.logger.Warn("reactor gone, stopping pool inline")
		err = d.pool.Stop()
	}
	if err != nil {
		se := WrapError("CLOSE", err)
		se.Device = d.name
		return se
	}
	d.closed = true
	d.metrics.Stop()

	if err := d.store.Close(); err != nil {
		se := WrapError("CLOSE", err)
		se.Device = d.name
		return se
	}
	d.logger.Info("device closed", "delivered", d.pool.Stats().Delivered)
	return nil
}

// DeviceState represents the current state of a device
type DeviceState string

const (
	// DeviceStateRunning indicates the device is accepting commands
	DeviceStateRunning DeviceState = "running"
	// DeviceStateDegraded indicates the completion relay failed; the device
	// must be closed
	DeviceStateDegraded DeviceState = "degraded"
	// DeviceStateStopped indicates the device has been closed
	DeviceStateStopped DeviceState = "stopped"
)

// State returns the current state of the device
func (d *Device) State() DeviceState {
	if d == nil {
		return DeviceStateStopped
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	switch {
	case closed:
		return DeviceStateStopped
	case d.pool.Err() != nil:
		return DeviceStateDegraded
	default:
		return DeviceStateRunning
	}
}

// Err returns the error that degraded the device, if any.
func (d *Device) Err() error {
	return d.pool.Err()
}

// Name returns the device name
func (d *Device) Name() string {
	return d.name
}

// Size returns the size of the backing store in bytes
func (d *Device) Size() int64 {
	return d.store.Size()
}

// BlockSize returns the logical block size of this device
func (d *Device) BlockSize() int {
	return d.blockSize
}

// DeviceInfo contains comprehensive information about a device
type DeviceInfo struct {
	Name      string                 `json:"name"`
	Template  string                 `json:"template"`
	Path      string                 `json:"path,omitempty"`
	State     DeviceState            `json:"state"`
	Workers   int                    `json:"workers"`
	BlockSize int                    `json:"block_size"`
	Size      int64                  `json:"size"`
	ReadOnly  bool                   `json:"read_only"`
	Store     map[string]interface{} `json:"store,omitempty"`
}

// Info returns comprehensive information about the device
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{}
	}
	info := DeviceInfo{
		Name:      d.name,
		Template:  d.template,
		Path:      d.path,
		State:     d.State(),
		Workers:   d.pool.Workers(),
		BlockSize: d.blockSize,
		Size:      d.store.Size(),
		ReadOnly:  d.readOnly,
	}
	if sb, ok := d.store.(StatBackend); ok {
		info.Store = sb.Stats()
	}
	return info
}

// Stats returns the worker pool's queue depths and counters
func (d *Device) Stats() PoolStats {
	return d.pool.Stats()
}

// Metrics returns the current metrics for the device
func (d *Device) Metrics() *Metrics {
	if d == nil {
		return nil
	}
	return d.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of device metrics
func (d *Device) MetricsSnapshot() MetricsSnapshot {
	if d == nil || d.metrics == nil {
		return MetricsSnapshot{}
	}
	return d.metrics.Snapshot()
}
