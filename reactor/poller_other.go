//go:build !linux

package reactor

type poller struct{}

func (p *poller) init(int) error                       { return ErrUnsupported }
func (p *poller) add(int, IOEvents) error              { return ErrUnsupported }
func (p *poller) del(int) error                        { return ErrUnsupported }
func (p *poller) wake() error                          { return ErrUnsupported }
func (p *poller) wait(func(fd int, ev IOEvents)) error { return ErrUnsupported }
func (p *poller) close() error                         { return nil }
