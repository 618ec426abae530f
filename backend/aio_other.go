//go:build !linux

package backend

import (
	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/uring"
)

// AIOOptions configures the "aio" template.
type AIOOptions struct {
	RingEntries uint32
	Fallback    bool
}

// AIOTemplate returns the "aio" template, which needs io_uring.
func AIOTemplate(AIOOptions) interfaces.Template {
	return interfaces.NewTemplate("aio", func(interfaces.OpenParams) (interfaces.Store, error) {
		return nil, uring.ErrUnavailable
	})
}
