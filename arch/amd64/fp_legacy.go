package amd64

// LegacyFP mirrors the kernel's struct user_fpregs_struct (the classic
// FXSAVE-area layout returned by PTRACE_GETFPREGS). Used whenever the host
// does not support XSAVE, or a build opts out of the XSTATE regset.
type LegacyFP struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32 // 8 x 16 bytes, ST0-ST7/MM0-MM7
	XmmSpace [64]uint32 // 16 x 16 bytes, XMM0-XMM15
	Padding  [24]uint32
}
