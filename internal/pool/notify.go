package pool

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
)

// notifyPipe carries one token per batch from the relay to the reactor.
// Both ends are nonblocking; the read end is what the reactor polls.
type notifyPipe struct {
	r, w int
}

func newNotifyPipe() (*notifyPipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("set nonblock: %w", err)
		}
	}
	return &notifyPipe{r: fds[0], w: fds[1]}, nil
}

// post writes one token. Interrupted and would-block writes are retried;
// anything else is returned and is fatal to the caller.
func (p *notifyPipe) post() error {
	buf := []byte{constants.NotifyToken}
	for {
		n, err := unix.Write(p.w, buf)
		switch {
		case err == nil && n == 1:
			return nil
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := p.waitWritable(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("write notify token: %w", err)
		}
	}
}

func (p *notifyPipe) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(p.w), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil || errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll notify pipe: %w", err)
	}
}

// consume reads one token. It reports false when nothing was there, which
// happens on spurious readiness.
func (p *notifyPipe) consume() (bool, error) {
	var buf [1]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		switch {
		case err == nil && n == 1:
			if buf[0] != constants.NotifyToken {
				return true, fmt.Errorf("unexpected notify byte 0x%02x", buf[0])
			}
			return true, nil
		case err == nil:
			return false, fmt.Errorf("notify pipe closed")
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return false, nil
		default:
			return false, fmt.Errorf("read notify token: %w", err)
		}
	}
}

func (p *notifyPipe) close() error {
	errR := unix.Close(p.r)
	errW := unix.Close(p.w)
	if errR != nil {
		return errR
	}
	return errW
}
