//go:build !linux

package uring

import "syscall"

func newURing(uint32) (Ring, error) {
	return nil, ErrUnavailable
}

func errnoErr(e int32) error {
	return syscall.Errno(e)
}
