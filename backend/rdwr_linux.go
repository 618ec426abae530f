package backend

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errNoPunchHole = errors.New("punch hole not supported")

func datasync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}

func punchHole(f *os.File, offset, length int64) error {
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS || err == unix.ENODEV {
		return errNoPunchHole
	}
	return err
}
