// Package buffer provides pooled data buffers for commands.
package buffer

import "sync"

// Buffers come from size-bucketed pools (4KB, 64KB, 256KB, 1MB). Requests
// above 1MB are allocated directly and never pooled.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

const (
	size4k   = 4 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

var buckets = struct {
	pool4k   sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Get returns a buffer of length size. Contents are not zeroed.
// Callers return it with Put once the command carrying it has completed.
func Get(size int) []byte {
	switch {
	case size <= size4k:
		return (*buckets.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*buckets.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*buckets.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*buckets.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer to its bucket, chosen by capacity.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		buckets.pool4k.Put(&buf)
	case size64k:
		buckets.pool64k.Put(&buf)
	case size256k:
		buckets.pool256k.Put(&buf)
	case size1m:
		buckets.pool1m.Put(&buf)
		// Buffers with non-standard capacity are dropped
	}
}
