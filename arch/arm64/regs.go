// Package arm64 implements the arch.Adapter for AArch64 hosts: the kernel's
// user_pt_regs GPR layout, NT_ARM_FPSIMD floating-point transport,
// NT_ARM_HW_BREAK/NT_ARM_HW_WATCH debug-register programming, and BRK-based
// software breakpoint patching.
package arm64

import (
	"encoding/binary"

	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/kernel"
)

// Regs mirrors the kernel's struct user_pt_regs for AArch64.
type Regs struct {
	Regs   [31]uint64 // X0-X30
	Sp     uint64
	Pc     uint64
	Pstate uint64
}

// FP mirrors the kernel's struct user_fpsimd_state (NT_ARM_FPSIMD / NT_PRFPREG).
type FP struct {
	Vregs   [32][16]byte // Q0-Q31
	Fpsr    uint32
	Fpcr    uint32
	_       [2]uint32 // reserved padding, mirrors the kernel struct exactly
}

// breakpointWord is the A64 BRK #0 encoding, a full 4-byte instruction — on
// AArch64 a software breakpoint replaces the entire instruction word, not a
// single byte as on x86-64.
const breakpointWord = 0xD4200000

// Adapter implements arch.Adapter for AArch64.
type Adapter struct {
	req kernel.Requester
}

// New returns an AArch64 Adapter backed by req.
func New(req kernel.Requester) *Adapter {
	return &Adapter{req: req}
}

// GetRegs implements arch.Adapter.
func (a *Adapter) GetRegs(tid int32) (any, error) {
	var regs Regs
	buf := make([]byte, 34*8)
	if err := a.req.GetRegSet(tid, kernel.NotePRStatus, buf); err != nil {
		return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "get_regs", tid)
	}
	decodeRegs(buf, &regs)
	return &regs, nil
}

// SetRegs implements arch.Adapter.
func (a *Adapter) SetRegs(tid int32, regs any) error {
	r, ok := regs.(*Regs)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "set_regs", "regs is not *arm64.Regs")
	}
	buf := make([]byte, 34*8)
	encodeRegs(buf, r)
	if err := a.req.SetRegSet(tid, kernel.NotePRStatus, buf); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "set_regs", tid)
	}
	return nil
}

// GetFPRegs implements arch.Adapter.
func (a *Adapter) GetFPRegs(tid int32) (any, error) {
	var fp FP
	buf := make([]byte, 32*16+8)
	if err := a.req.GetRegSet(tid, kernel.NoteFPRegset, buf); err != nil {
		return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "get_fp_regs", tid)
	}
	decodeFP(buf, &fp)
	return &fp, nil
}

// SetFPRegs implements arch.Adapter.
func (a *Adapter) SetFPRegs(tid int32, fp any) error {
	f, ok := fp.(*FP)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "set_fp_regs", "fp is not *arm64.FP")
	}
	buf := make([]byte, 32*16+8)
	encodeFP(buf, f)
	if err := a.req.SetRegSet(tid, kernel.NoteFPRegset, buf); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "set_fp_regs", tid)
	}
	return nil
}

// InstallBreakpoint implements arch.Adapter: AArch64 has no sub-word
// encoding, so the whole low word of the instruction is replaced with BRK.
func (a *Adapter) InstallBreakpoint(word uint64) uint64 {
	return (word &^ 0xffffffff) | breakpointWord
}

// BreakpointSize implements arch.Adapter: one full 4-byte A64 instruction.
func (a *Adapter) BreakpointSize() int { return 4 }

// IsSWBP implements arch.Adapter. AArch64 breakpoints are recognized by the
// instruction word (see InstallBreakpoint), not a single opcode byte, so this
// always reports false; callers compare the full word instead.
func (a *Adapter) IsSWBP(b byte) bool { return false }

// IsCall implements arch.Adapter: BL (100101xx) and BLR (1101011000111111000000xxxxx00000).
func (a *Adapter) IsCall(window [8]byte) bool {
	insn := le.Uint32(window[:4])
	if insn>>26 == 0b100101 {
		return true // BL
	}
	if insn&0xfffffc1f == 0xd63f0000 {
		return true // BLR Xn
	}
	return false
}

// IsRet implements arch.Adapter: RET (1101011001011111000000xxxxx00000), the
// common Xn=X30 encoding checked via the low byte the caller passes in.
func (a *Adapter) IsRet(b byte) bool {
	return b == 0xc0 // low byte of the canonical `ret` (RET X30) encoding
}

// InstructionPointer implements arch.Adapter.
func (a *Adapter) InstructionPointer(regs any) uint64 {
	return regs.(*Regs).Pc
}

// SetInstructionPointer implements arch.Adapter.
func (a *Adapter) SetInstructionPointer(regs any, pc uint64) any {
	r := *regs.(*Regs)
	r.Pc = pc
	return &r
}

// SetSyscallNumberOverride implements arch.Adapter via the sticky
// NT_ARM_SYSTEM_CALL regset: the kernel applies it to the in-flight syscall
// and clears it automatically afterward.
func (a *Adapter) SetSyscallNumberOverride(tid int32, sysno uint64) {
	buf := make([]byte, 8)
	le.PutUint64(buf, sysno)
	_ = a.req.SetRegSet(tid, kernel.NoteArmSystemCall, buf)
}

var le = binary.LittleEndian

func decodeRegs(buf []byte, regs *Regs) {
	for i := 0; i < 31; i++ {
		regs.Regs[i] = le.Uint64(buf[i*8:])
	}
	regs.Sp = le.Uint64(buf[31*8:])
	regs.Pc = le.Uint64(buf[32*8:])
	regs.Pstate = le.Uint64(buf[33*8:])
}

func encodeRegs(buf []byte, regs *Regs) {
	for i := 0; i < 31; i++ {
		le.PutUint64(buf[i*8:], regs.Regs[i])
	}
	le.PutUint64(buf[31*8:], regs.Sp)
	le.PutUint64(buf[32*8:], regs.Pc)
	le.PutUint64(buf[33*8:], regs.Pstate)
}

func decodeFP(buf []byte, fp *FP) {
	for i := 0; i < 32; i++ {
		copy(fp.Vregs[i][:], buf[i*16:i*16+16])
	}
	fp.Fpsr = binary.LittleEndian.Uint32(buf[32*16:])
	fp.Fpcr = binary.LittleEndian.Uint32(buf[32*16+4:])
}

func encodeFP(buf []byte, fp *FP) {
	for i := 0; i < 32; i++ {
		copy(buf[i*16:i*16+16], fp.Vregs[i][:])
	}
	binary.LittleEndian.PutUint32(buf[32*16:], fp.Fpsr)
	binary.LittleEndian.PutUint32(buf[32*16+4:], fp.Fpcr)
}
