//go:build avx512

package amd64

import (
	"unsafe"

	"github.com/kornnellio/godbg/config"
)

// xstateSize adds the AVX-512 opmask, ZMM-hi, and Hi16-ZMM extended state
// areas (CPUID leaf 0Dh, components 5-7) on top of the AVX layout.
const xstateSize = 2704

// XStateFP wraps the raw XSTATE regset payload (NT_X86_XSTATE) for hosts
// built with AVX-512 support enabled.
type XStateFP struct {
	raw [xstateSize]byte
}

var _ [unsafe.Sizeof(XStateFP{}) - xstateSize]byte

func newXStateFP() *XStateFP { return &XStateFP{} }

func (x *XStateFP) bytes() []byte { return x.raw[:] }

func init() {
	config.FPRegsAVX = 2
	config.XSAVE = true
}
