//go:build linux

package uring

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// IORING_FSYNC_DATASYNC
const fsyncDatasync uint32 = 1 << 0

// uRing runs one operation at a time through a giouring ring.
type uRing struct {
	ring *giouring.Ring
}

func newURing(entries uint32) (*uRing, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &uRing{ring: ring}, nil
}

func (r *uRing) Kind() string { return "io_uring" }

func (r *uRing) ReadAt(fd int, p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		chunk := p[done:]
		res, err := r.do(func(sqe *giouring.SubmissionQueueEntry) {
			sqe.PrepareRead(fd, uintptr(unsafe.Pointer(&chunk[0])), uint32(len(chunk)), uint64(off)+uint64(done))
		})
		runtime.KeepAlive(chunk)
		if err != nil {
			return done, err
		}
		if res == 0 {
			return done, io.EOF
		}
		done += int(res)
	}
	return done, nil
}

func (r *uRing) WriteAt(fd int, p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		chunk := p[done:]
		res, err := r.do(func(sqe *giouring.SubmissionQueueEntry) {
			sqe.PrepareWrite(fd, uintptr(unsafe.Pointer(&chunk[0])), uint32(len(chunk)), uint64(off)+uint64(done))
		})
		runtime.KeepAlive(chunk)
		if err != nil {
			return done, err
		}
		if res == 0 {
			return done, io.ErrShortWrite
		}
		done += int(res)
	}
	return done, nil
}

func (r *uRing) Fsync(fd int) error {
	_, err := r.do(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareFsync(fd, fsyncDatasync)
	})
	return err
}

// do submits a single SQE and waits for its completion.
func (r *uRing) do(prep func(sqe *giouring.SubmissionQueueEntry)) (int32, error) {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("submission queue full")
	}
	prep(sqe)
	sqe.UserData = 1

	for {
		_, err := r.ring.SubmitAndWait(1)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EINTR) {
			return 0, fmt.Errorf("io_uring submit: %w", err)
		}
	}

	for {
		cqe, err := r.ring.WaitCQE()
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return 0, fmt.Errorf("io_uring wait: %w", err)
		}
		res := cqe.Res
		r.ring.CQESeen(cqe)
		return res, resultErr(res)
	}
}

func (r *uRing) Close() error {
	if r.ring != nil {
		r.ring.QueueExit()
		r.ring = nil
	}
	return nil
}

func errnoErr(e int32) error {
	return syscall.Errno(e)
}
