package uring

import (
	"io"

	"golang.org/x/sys/unix"
)

// syncRing implements Ring with plain pread/pwrite/fsync.
type syncRing struct{}

// NewSyncRing returns a Ring that issues ordinary blocking system calls.
func NewSyncRing() Ring { return syncRing{} }

func (syncRing) Kind() string { return "sync" }

func (syncRing) ReadAt(fd int, p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pread(fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n == 0 {
			return done, io.EOF
		}
		done += n
	}
	return done, nil
}

func (syncRing) WriteAt(fd int, p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pwrite(fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n == 0 {
			return done, io.ErrShortWrite
		}
		done += n
	}
	return done, nil
}

func (syncRing) Fsync(fd int) error {
	return unix.Fsync(fd)
}

func (syncRing) Close() error { return nil }
