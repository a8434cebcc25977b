package controller

import (
	"github.com/kornnellio/godbg/arch"
	"github.com/kornnellio/godbg/arch/amd64"
	"github.com/kornnellio/godbg/arch/arm64"
	"github.com/kornnellio/godbg/config"
	"github.com/kornnellio/godbg/kernel"
)

// NewAdapter selects the arch.Adapter implementation matching the binary's
// build architecture. This is the one place outside the arch/* packages
// themselves that imports both, so amd64 and arm64 never need to know about
// each other.
func NewAdapter(req kernel.Requester) (arch.Adapter, error) {
	switch config.Current {
	case config.ArchAMD64:
		return amd64.New(req), nil
	case config.ArchARM64:
		return arm64.New(req), nil
	default:
		return nil, &arch.ErrUnsupportedArch{GOARCH: config.Current.String()}
	}
}
