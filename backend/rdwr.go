package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
)

// File is a backend over a regular file or block device using positioned
// reads and writes, the classic "rdwr" backing store.
type File struct {
	f        *os.File
	path     string
	size     int64
	readOnly bool

	flushes   atomic.Uint64
	discards  atomic.Uint64
	punchHole atomic.Bool
}

// OpenFile opens path as a backing store. When size is non-zero and the file
// is smaller, a writable file is extended to size. A missing file is created
// only when size is given.
func OpenFile(path string, size int64, readOnly bool) (*File, error) {
	if path == "" {
		return nil, errNoPath
	}

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	} else if size > 0 {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	// Seek works for block devices, where Stat reports zero.
	cur, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size %s: %w", path, err)
	}
	if size > cur {
		if readOnly {
			f.Close()
			return nil, fmt.Errorf("%s is %d bytes, want %d: %w", path, cur, size, errReadOnlyFS)
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("extend %s: %w", path, err)
		}
		cur = size
	}
	if size == 0 {
		size = cur
	}
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, errZeroSize)
	}

	fb := &File{f: f, path: path, size: size, readOnly: readOnly}
	fb.punchHole.Store(true)
	return fb, nil
}

// FileTemplate returns the "rdwr" template.
func FileTemplate() interfaces.Template {
	return interfaces.NewTemplate("rdwr", func(p interfaces.OpenParams) (interfaces.Store, error) {
		fb, err := OpenFile(p.Path, p.Size, p.ReadOnly)
		if err != nil {
			return nil, err
		}
		return interfaces.AsStore(fb), nil
	})
}

// ReadAt implements the Backend interface
func (fb *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := fb.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) && off+int64(n) >= fb.size {
		// Reads past the end of a file extended lazily return zeros.
		clear(p[n:])
		return len(p), nil
	}
	return n, err
}

// WriteAt implements the Backend interface
func (fb *File) WriteAt(p []byte, off int64) (int, error) {
	if fb.readOnly {
		return 0, errReadOnlyFS
	}
	return fb.f.WriteAt(p, off)
}

// Size implements the Backend interface
func (fb *File) Size() int64 {
	return fb.size
}

// Close implements the Backend interface
func (fb *File) Close() error {
	return fb.f.Close()
}

// Flush implements the Backend interface with fdatasync.
func (fb *File) Flush() error {
	fb.flushes.Add(1)
	return datasync(fb.f)
}

// Discard implements the DiscardBackend interface. It punches a hole where
// the filesystem supports it and writes zeros otherwise.
func (fb *File) Discard(offset, length int64) error {
	if fb.readOnly {
		return errReadOnlyFS
	}
	if offset >= fb.size || length <= 0 {
		return nil
	}
	if offset+length > fb.size {
		length = fb.size - offset
	}
	fb.discards.Add(1)

	if fb.punchHole.Load() {
		err := punchHole(fb.f, offset, length)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errNoPunchHole) {
			return err
		}
		fb.punchHole.Store(false)
	}
	return zeroRange(fb.f, offset, length)
}

// zeroRange overwrites [offset, offset+length) with zeros.
func zeroRange(f *os.File, offset, length int64) error {
	zeros := make([]byte, min(length, 1<<20))
	for length > 0 {
		chunk := min(length, int64(len(zeros)))
		if _, err := f.WriteAt(zeros[:chunk], offset); err != nil {
			return err
		}
		offset += chunk
		length -= chunk
	}
	return nil
}

// Stats implements the StatBackend interface
func (fb *File) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":       "rdwr",
		"path":       fb.path,
		"size":       fb.size,
		"read_only":  fb.readOnly,
		"flushes":    fb.flushes.Load(),
		"discards":   fb.discards.Load(),
		"punch_hole": fb.punchHole.Load(),
	}
}

var (
	_ interfaces.DiscardBackend = (*File)(nil)
	_ interfaces.StatBackend    = (*File)(nil)
)
