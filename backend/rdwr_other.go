//go:build !linux

package backend

import (
	"errors"
	"os"
)

var errNoPunchHole = errors.New("punch hole not supported")

func datasync(f *os.File) error {
	return f.Sync()
}

func punchHole(*os.File, int64, int64) error {
	return errNoPunchHole
}
