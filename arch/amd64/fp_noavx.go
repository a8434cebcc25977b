//go:build !avx && !avx512

package amd64

import (
	"unsafe"

	"github.com/kornnellio/godbg/config"
)

// xstateSize is the byte length of the XSTATE payload for this build: the
// 512-byte legacy FXSAVE area plus 8 further bytes, with no xstate_header
// and no extended feature state (no YMM-hi, no AVX-512 ZMM/opmask areas).
// This build sets XSAVE to false, so GetFPRegs transports LegacyFP instead.
const xstateSize = 520

// XStateFP wraps the raw XSTATE regset payload (NT_X86_XSTATE) for hosts
// this build treats as having no usable AVX state, either because the CPU
// lacks it or because this binary was built without the avx tag.
type XStateFP struct {
	raw [xstateSize]byte
}

// compile-time assert that XStateFP has exactly the size this build expects.
var _ [unsafe.Sizeof(XStateFP{}) - xstateSize]byte
var _ [xstateSize - unsafe.Sizeof(XStateFP{})]byte

func newXStateFP() *XStateFP { return &XStateFP{} }

func (x *XStateFP) bytes() []byte { return x.raw[:] }

func init() {
	config.FPRegsAVX = 0
	config.XSAVE = false
}
