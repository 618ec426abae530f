package backend

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
)

// Null is a backend that stores nothing: reads return zeros and writes are
// dropped. It is useful for measuring the pool without backend cost.
type Null struct {
	size   int64
	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewNull creates a null backend reporting size bytes.
func NewNull(size int64) *Null {
	return &Null{size: size}
}

// NullTemplate returns the "null" template.
func NullTemplate() interfaces.Template {
	return interfaces.NewTemplate("null", func(p interfaces.OpenParams) (interfaces.Store, error) {
		size := p.Size
		if size == 0 {
			size = constants.DefaultDeviceSize
		}
		return interfaces.AsStore(NewNull(size)), nil
	})
}

func (n *Null) ReadAt(p []byte, off int64) (int, error) {
	n.reads.Add(1)
	clear(p)
	return len(p), nil
}

func (n *Null) WriteAt(p []byte, off int64) (int, error) {
	n.writes.Add(1)
	return len(p), nil
}

func (n *Null) Size() int64  { return n.size }
func (n *Null) Close() error { return nil }
func (n *Null) Flush() error { return nil }

func (n *Null) Discard(offset, length int64) error { return nil }

func (n *Null) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":   "null",
		"size":   n.size,
		"reads":  n.reads.Load(),
		"writes": n.writes.Load(),
	}
}

var (
	_ interfaces.DiscardBackend = (*Null)(nil)
	_ interfaces.StatBackend    = (*Null)(nil)
)
