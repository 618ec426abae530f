//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// poller wraps an epoll instance and an eventfd used to interrupt epoll_wait.
type poller struct {
	epfd   int
	wakeFd int
	events []unix.EpollEvent
}

func (p *poller) init(maxEvents int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return fmt.Errorf("eventfd: %w", err)
	}

	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return fmt.Errorf("register wakeup fd: %w", err)
	}

	p.epfd = epfd
	p.wakeFd = wakeFd
	p.events = make([]unix.EpollEvent, maxEvents)
	return nil
}

func (p *poller) add(fd int, events IOEvents) error {
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	return nil
}

func (p *poller) del(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// wake makes a blocked or upcoming wait return.
func (p *poller) wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(p.wakeFd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated and a wakeup is already pending
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

func (p *poller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeFd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

// wait blocks until at least one descriptor is ready and dispatches them.
func (p *poller) wait(dispatch func(fd int, events IOEvents)) error {
	n, err := unix.EpollWait(p.epfd, p.events, -1)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}
		dispatch(fd, epollToEvents(p.events[i].Events))
	}
	return nil
}

func (p *poller) close() error {
	var first error
	if p.wakeFd > 0 {
		if err := unix.Close(p.wakeFd); err != nil {
			first = err
		}
		p.wakeFd = -1
	}
	if p.epfd > 0 {
		if err := unix.Close(p.epfd); err != nil && first == nil {
			first = err
		}
		p.epfd = -1
	}
	return first
}

func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
