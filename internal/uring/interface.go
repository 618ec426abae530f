// Package uring provides positioned file I/O on io_uring for the aio backing store
package uring

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
)

// Ring performs blocking positioned I/O on file descriptors. A Ring is not
// safe for concurrent use; give each worker its own.
type Ring interface {
	// ReadAt reads len(p) bytes from fd at off. It returns fewer bytes only
	// at end of file.
	ReadAt(fd int, p []byte, off int64) (int, error)

	// WriteAt writes all of p to fd at off.
	WriteAt(fd int, p []byte, off int64) (int, error)

	// Fsync flushes fd's data to stable storage.
	Fsync(fd int) error

	// Close releases the ring.
	Close() error

	// Kind reports the implementation ("io_uring" or "sync").
	Kind() string
}

// Config contains configuration for creating a ring
type Config struct {
	Entries uint32 // submission queue entries, defaults to constants.DefaultRingEntries
	// Fallback returns a pread/pwrite ring when io_uring is unavailable
	// instead of failing.
	Fallback bool
}

// ErrUnavailable is returned when the kernel or platform has no io_uring.
var ErrUnavailable = errors.New("io_uring unavailable")

// NewRing creates a Ring backed by io_uring.
func NewRing(config Config) (Ring, error) {
	if config.Entries == 0 {
		config.Entries = constants.DefaultRingEntries
	}
	logger := logging.Default()

	ring, err := newURing(config.Entries)
	if err == nil {
		logger.Debug("created io_uring", "entries", config.Entries)
		return ring, nil
	}
	if !config.Fallback {
		return nil, fmt.Errorf("create io_uring: %w", err)
	}

	logger.Warn("io_uring unavailable, using pread/pwrite", "error", err)
	return NewSyncRing(), nil
}

func resultErr(res int32) error {
	if res < 0 {
		return errnoErr(-res)
	}
	return nil
}
