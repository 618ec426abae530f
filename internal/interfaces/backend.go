package interfaces

import (
	"errors"
	"fmt"
)

// Backend is the block-addressed storage most templates are built on.
// This interface is intentionally similar to standard Go interfaces like
// io.ReaderAt and io.WriterAt for familiarity and composability.
type Backend interface {
	// ReadAt reads len(p) bytes into p starting at offset off.
	// It returns the number of bytes read (0 <= n <= len(p)) and any error encountered.
	//
	// Implementations must not retain p.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes from p at offset off.
	// WriteAt must return a non-nil error if it returns n < len(p).
	//
	// Implementations must not retain p.
	WriteAt(p []byte, off int64) (n int, err error)

	// Size returns the size of the backend in bytes.
	Size() int64

	// Close releases the backend. No other method is called afterwards.
	Close() error

	// Flush flushes cached writes to stable storage (SYNCHRONIZE CACHE).
	Flush() error
}

// DiscardBackend is an optional interface for backends that can release
// ranges on UNMAP.
type DiscardBackend interface {
	Backend

	// Discard releases [offset, offset+length). Later reads return zeros.
	Discard(offset, length int64) error
}

// StatBackend is an optional interface that provides backend statistics.
type StatBackend interface {
	// Stats returns backend-specific statistics.
	Stats() map[string]interface{}
}

// Store is an opened backing store bound to one device. Request is the
// execution function the worker pool invokes; it runs on a worker goroutine,
// may block, and reports its outcome through cmd.SetResult.
type Store interface {
	Request(cmd *Command)
	Size() int64
	Close() error
}

// OpenParams describes the device a template is asked to serve.
type OpenParams struct {
	Path     string // backing path; meaning is template specific
	Size     int64  // requested size, 0 to derive it from Path
	Workers  int    // number of workers that will call Request concurrently
	ReadOnly bool
}

// OpenFunc opens a per-device store.
type OpenFunc func(p OpenParams) (Store, error)

// Template is a named, registered backing-store implementation.
type Template interface {
	Name() string
	Open(p OpenParams) (Store, error)
}

type template struct {
	name string
	open OpenFunc
}

func (t *template) Name() string { return t.name }

func (t *template) Open(p OpenParams) (Store, error) {
	return t.open(p)
}

// NewTemplate builds a Template from a name and an open function.
func NewTemplate(name string, open OpenFunc) Template {
	return &template{name: name, open: open}
}

// ErrUnsupportedOp is the result error for operations a store cannot perform.
var ErrUnsupportedOp = errors.New("unsupported operation")

// backendStore executes commands against a Backend.
type backendStore struct {
	b Backend
}

// AsStore adapts a Backend into a Store whose Request dispatches on cmd.Op.
func AsStore(b Backend) Store {
	return &backendStore{b: b}
}

func (s *backendStore) Request(cmd *Command) {
	Execute(s.b, cmd)
}

func (s *backendStore) Size() int64  { return s.b.Size() }
func (s *backendStore) Close() error { return s.b.Close() }

// Stats forwards to the backend when it keeps statistics.
func (s *backendStore) Stats() map[string]interface{} {
	if sb, ok := s.b.(StatBackend); ok {
		return sb.Stats()
	}
	return nil
}

// Execute runs cmd against b and records the result in cmd.
func Execute(b Backend, cmd *Command) {
	var (
		n   int
		err error
	)
	switch cmd.Op {
	case OpRead:
		n, err = b.ReadAt(cmd.Buf, cmd.Offset)
		if err == nil && n < len(cmd.Buf) {
			err = fmt.Errorf("short read: %d of %d bytes at %d", n, len(cmd.Buf), cmd.Offset)
		}
	case OpWrite:
		n, err = b.WriteAt(cmd.Buf, cmd.Offset)
	case OpSync:
		err = b.Flush()
	case OpUnmap:
		if db, ok := b.(DiscardBackend); ok {
			err = db.Discard(cmd.Offset, cmd.Length)
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedOp, cmd.Op)
	}
	cmd.SetResult(n, err)
}
