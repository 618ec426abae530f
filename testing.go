package tgtbs

import (
	"sync"
	"sync/atomic"
	"time"
)

// MockBackend provides an in-memory Backend for testing. It tracks method
// calls, can inject delays and errors, and records how many calls were in
// flight at once.
type MockBackend struct {
	data    []byte
	size    int64
	closed  bool
	flushed bool
	stats   map[string]interface{}

	// Method call tracking
	mu           sync.RWMutex
	readCalls    int
	writeCalls   int
	flushCalls   int
	discardCalls int

	delay    time.Duration
	readErr  error
	writeErr error
	flushErr error

	inflight atomic.Int32
	peak     atomic.Int32
}

// NewMockBackend creates a new mock backend with the specified size.
func NewMockBackend(size int64) *MockBackend {
	return &MockBackend{
		data:  make([]byte, size),
		size:  size,
		stats: make(map[string]interface{}),
	}
}

// SetDelay makes every data call sleep for d before touching data.
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetErrors injects errors returned by ReadAt, WriteAt and Flush. Nil clears.
func (m *MockBackend) SetErrors(readErr, writeErr, flushErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = readErr
	m.writeErr = writeErr
	m.flushErr = flushErr
}

// enter tracks concurrency and applies the configured delay outside the lock.
func (m *MockBackend) enter() func() {
	n := m.inflight.Add(1)
	for {
		cur := m.peak.Load()
		if n <= cur || m.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	m.mu.RLock()
	d := m.delay
	m.mu.RUnlock()
	if d > 0 {
		time.Sleep(d)
	}
	return func() { m.inflight.Add(-1) }
}

// ReadAt implements the Backend interface
func (m *MockBackend) ReadAt(p []byte, off int64) (int, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++

	if m.closed {
		return 0, ErrNotRunning
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

// WriteAt implements the Backend interface
func (m *MockBackend) WriteAt(p []byte, off int64) (int, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++

	if m.closed {
		return 0, ErrNotRunning
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if off >= m.size {
		return 0, ErrInvalidParameters
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// Size implements the Backend interface
func (m *MockBackend) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Flush implements the Backend interface
func (m *MockBackend) Flush() error {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushCalls++
	if m.flushErr != nil {
		return m.flushErr
	}
	m.flushed = true
	return nil
}

// Discard implements the DiscardBackend interface
func (m *MockBackend) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discardCalls++
	if offset >= m.size {
		return nil
	}
	end := offset + length
	if end > m.size {
		end = m.size
	}
	clear(m.data[offset:end])
	return nil
}

// Stats implements the StatBackend interface
func (m *MockBackend) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})
	for k, v := range m.stats {
		stats[k] = v
	}
	stats["read_calls"] = m.readCalls
	stats["write_calls"] = m.writeCalls
	stats["flush_calls"] = m.flushCalls
	stats["discard_calls"] = m.discardCalls
	return stats
}

// Testing utility methods

// IsClosed returns true if the backend has been closed
func (m *MockBackend) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// IsFlushed returns true if Flush has succeeded
func (m *MockBackend) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

// PeakConcurrency returns the largest number of calls seen in flight at once.
func (m *MockBackend) PeakConcurrency() int {
	return int(m.peak.Load())
}

// CallCounts returns the number of times each method has been called
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"read":    m.readCalls,
		"write":   m.writeCalls,
		"flush":   m.flushCalls,
		"discard": m.discardCalls,
	}
}

// Reset resets all call counters and state flags
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.discardCalls = 0
	m.flushed = false
	m.peak.Store(0)
}

// SetCustomStats allows setting custom statistics for testing
func (m *MockBackend) SetCustomStats(stats map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = make(map[string]interface{})
	for k, v := range stats {
		m.stats[k] = v
	}
}

// MockTemplate returns a template whose every Open hands out b.
func MockTemplate(name string, b *MockBackend) Template {
	return NewTemplate(name, func(OpenParams) (Store, error) {
		return AsStore(b), nil
	})
}

// Compile-time interface checks
var (
	_ Backend        = (*MockBackend)(nil)
	_ DiscardBackend = (*MockBackend)(nil)
	_ StatBackend    = (*MockBackend)(nil)
)
