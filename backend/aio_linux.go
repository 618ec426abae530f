package backend

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/uring"
)

// AIOOptions configures the "aio" template.
type AIOOptions struct {
	RingEntries uint32 // per-ring submission queue size
	Fallback    bool   // use pread/pwrite when io_uring is unavailable
}

// AIO is a file backend that issues its I/O through io_uring. It keeps one
// ring per worker; a request borrows a ring for its duration.
type AIO struct {
	file  *File
	rings chan uring.Ring
	kind  string
}

// OpenAIO opens path like OpenFile and creates workers rings over it.
func OpenAIO(path string, size int64, readOnly bool, workers int, opts AIOOptions) (*AIO, error) {
	if workers <= 0 {
		workers = 1
	}
	fb, err := OpenFile(path, size, readOnly)
	if err != nil {
		return nil, err
	}

	a := &AIO{file: fb, rings: make(chan uring.Ring, workers)}
	for i := 0; i < workers; i++ {
		r, err := uring.NewRing(uring.Config{Entries: opts.RingEntries, Fallback: opts.Fallback})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ring %d: %w", i, err)
		}
		a.kind = r.Kind()
		a.rings <- r
	}
	return a, nil
}

// AIOTemplate returns the "aio" template.
func AIOTemplate(opts AIOOptions) interfaces.Template {
	return interfaces.NewTemplate("aio", func(p interfaces.OpenParams) (interfaces.Store, error) {
		a, err := OpenAIO(p.Path, p.Size, p.ReadOnly, p.Workers, opts)
		if err != nil {
			return nil, err
		}
		return interfaces.AsStore(a), nil
	})
}

func (a *AIO) fd() int {
	return int(a.file.f.Fd())
}

// ReadAt implements the Backend interface
func (a *AIO) ReadAt(p []byte, off int64) (int, error) {
	r := <-a.rings
	defer func() { a.rings <- r }()

	n, err := r.ReadAt(a.fd(), p, off)
	if errors.Is(err, io.EOF) && off+int64(n) >= a.file.size {
		clear(p[n:])
		return len(p), nil
	}
	return n, err
}

// WriteAt implements the Backend interface
func (a *AIO) WriteAt(p []byte, off int64) (int, error) {
	if a.file.readOnly {
		return 0, errReadOnlyFS
	}
	r := <-a.rings
	defer func() { a.rings <- r }()

	return r.WriteAt(a.fd(), p, off)
}

// Flush implements the Backend interface
func (a *AIO) Flush() error {
	r := <-a.rings
	defer func() { a.rings <- r }()

	a.file.flushes.Add(1)
	return r.Fsync(a.fd())
}

// Discard implements the DiscardBackend interface
func (a *AIO) Discard(offset, length int64) error {
	return a.file.Discard(offset, length)
}

// Size implements the Backend interface
func (a *AIO) Size() int64 {
	return a.file.size
}

// Close releases the rings and the file. No request may be in flight.
func (a *AIO) Close() error {
	var errs []error
	for len(a.rings) > 0 {
		if err := (<-a.rings).Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats implements the StatBackend interface
func (a *AIO) Stats() map[string]interface{} {
	stats := a.file.Stats()
	stats["type"] = "aio"
	stats["ring"] = a.kind
	stats["rings"] = cap(a.rings)
	return stats
}

var (
	_ interfaces.DiscardBackend = (*AIO)(nil)
	_ interfaces.StatBackend    = (*AIO)(nil)
)
