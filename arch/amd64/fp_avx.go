//go:build avx && !avx512

package amd64

import (
	"unsafe"

	"github.com/kornnellio/godbg/config"
)

// xstateSize covers the 512-byte legacy FXSAVE area, the 64-byte
// xstate_header and the 256-byte YMM-hi extended state area (CPUID leaf 0Dh,
// component 2), 832 bytes in all, followed by 72 further bytes.
const xstateSize = 904

// XStateFP wraps the raw XSTATE regset payload (NT_X86_XSTATE) for hosts
// built with AVX support enabled.
type XStateFP struct {
	raw [xstateSize]byte
}

var _ [unsafe.Sizeof(XStateFP{}) - xstateSize]byte

func newXStateFP() *XStateFP { return &XStateFP{} }

func (x *XStateFP) bytes() []byte { return x.raw[:] }

func init() {
	config.FPRegsAVX = 1
	config.XSAVE = true
}
