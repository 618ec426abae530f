// Package backend provides the standard backing-store templates
package backend

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
)

// memStripe is the span of bytes guarded by one lock.
const memStripe = 64 << 10

// Memory provides a RAM-based backend. Locks are striped so that workers
// touching different regions do not serialize.
type Memory struct {
	data  []byte
	size  int64
	locks []sync.RWMutex

	closeMu sync.RWMutex
	closed  bool
}

// NewMemory creates a new memory backend of the specified size
func NewMemory(size int64) *Memory {
	stripes := (size + memStripe - 1) / memStripe
	if stripes == 0 {
		stripes = 1
	}
	return &Memory{
		data:  make([]byte, size),
		size:  size,
		locks: make([]sync.RWMutex, stripes),
	}
}

// MemoryTemplate returns the "mem" template. Each Open allocates a fresh RAM
// disk of the requested size; Path is ignored.
func MemoryTemplate() interfaces.Template {
	return interfaces.NewTemplate("mem", func(p interfaces.OpenParams) (interfaces.Store, error) {
		size := p.Size
		if size == 0 {
			size = constants.DefaultDeviceSize
		}
		return interfaces.AsStore(NewMemory(size)), nil
	})
}

// lockRange locks the stripes covering [off, end) in ascending order.
func (m *Memory) lockRange(off, end int64, write bool) func() {
	first, last := off/memStripe, (end-1)/memStripe
	for i := first; i <= last; i++ {
		if write {
			m.locks[i].Lock()
		} else {
			m.locks[i].RLock()
		}
	}
	return func() {
		for i := first; i <= last; i++ {
			if write {
				m.locks[i].Unlock()
			} else {
				m.locks[i].RUnlock()
			}
		}
	}
}

// ReadAt implements the Backend interface
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return 0, errClosed
	}

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= m.size || len(p) == 0 {
		return 0, nil
	}

	// Calculate how much we can actually read
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	unlock := m.lockRange(off, off+int64(len(p)), false)
	n := copy(p, m.data[off:off+int64(len(p))])
	unlock()
	return n, nil
}

// WriteAt implements the Backend interface
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return 0, errClosed
	}

	if off < 0 || off >= m.size {
		return 0, fmt.Errorf("write beyond end of device")
	}
	if len(p) == 0 {
		return 0, nil
	}

	available := m.size - off
	short := int64(len(p)) > available
	if short {
		p = p[:available]
	}

	unlock := m.lockRange(off, off+int64(len(p)), true)
	n := copy(m.data[off:off+int64(len(p))], p)
	unlock()
	if short {
		return n, fmt.Errorf("write beyond end of device")
	}
	return n, nil
}

// Size implements the Backend interface
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *Memory) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Flush implements the Backend interface. Memory has nothing to flush.
func (m *Memory) Flush() error {
	return nil
}

// Discard implements the DiscardBackend interface
func (m *Memory) Discard(offset, length int64) error {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return errClosed
	}

	if offset < 0 || offset >= m.size || length <= 0 {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}

	unlock := m.lockRange(offset, end, true)
	clear(m.data[offset:end])
	unlock()
	return nil
}

// Stats implements the StatBackend interface
func (m *Memory) Stats() map[string]interface{} {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()

	return map[string]interface{}{
		"type":      "memory",
		"size":      m.size,
		"allocated": len(m.data),
		"stripes":   len(m.locks),
	}
}

// Compile-time interface checks
var (
	_ interfaces.Backend        = (*Memory)(nil)
	_ interfaces.DiscardBackend = (*Memory)(nil)
	_ interfaces.StatBackend    = (*Memory)(nil)
)
