// Package amd64 implements the arch.Adapter for x86-64 hosts: the kernel's
// user_regs_struct GPR layout, legacy/XSTATE floating-point transport, DR0-DR7
// debug register programming, and INT3-based software breakpoint patching.
package amd64

import (
	"encoding/binary"

	"github.com/kornnellio/godbg/config"
	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/kernel"
)

// Regs mirrors the kernel's struct user_regs_struct for x86-64 exactly
// (field order matters: it is laid out identically to what PTRACE_GETREGS
// returns, field for field).
type Regs struct {
	R15, R14, R13, R12 uint64
	Rbp, Rbx           uint64
	R11, R10, R9, R8   uint64
	Rax, Rcx, Rdx      uint64
	Rsi, Rdi           uint64
	OrigRax            uint64
	Rip                uint64
	Cs                 uint64
	Eflags             uint64
	Rsp                uint64
	Ss                 uint64
	FsBase, GsBase     uint64
	Ds, Es, Fs, Gs     uint64
}

// breakpointOpcode is the INT3 instruction, the x86-64 software breakpoint.
const breakpointOpcode = 0xCC

// Adapter implements arch.Adapter for x86-64.
type Adapter struct {
	req kernel.Requester
}

// New returns an x86-64 Adapter backed by req.
func New(req kernel.Requester) *Adapter {
	return &Adapter{req: req}
}

// GetRegs implements arch.Adapter.
func (a *Adapter) GetRegs(tid int32) (any, error) {
	var regs Regs
	if err := a.req.GetRegs(tid, &regs); err != nil {
		return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "get_regs", tid)
	}
	return &regs, nil
}

// SetRegs implements arch.Adapter.
func (a *Adapter) SetRegs(tid int32, regs any) error {
	r, ok := regs.(*Regs)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "set_regs", "regs is not *amd64.Regs")
	}
	if err := a.req.SetRegs(tid, r); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "set_regs", tid)
	}
	return nil
}

// GetFPRegs implements arch.Adapter.
func (a *Adapter) GetFPRegs(tid int32) (any, error) {
	if config.XSAVE {
		fp := newXStateFP()
		if err := a.req.GetRegSet(tid, kernel.NoteX86XState, fp.bytes()); err != nil {
			return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "get_fp_regs", tid)
		}
		return fp, nil
	}
	var fp LegacyFP
	if err := a.req.GetFPRegs(tid, &fp); err != nil {
		return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "get_fp_regs", tid)
	}
	return &fp, nil
}

// SetFPRegs implements arch.Adapter.
func (a *Adapter) SetFPRegs(tid int32, fp any) error {
	if config.XSAVE {
		x, ok := fp.(*XStateFP)
		if !ok {
			return dbgerr.New(dbgerr.Internal, "set_fp_regs", "fp is not *amd64.XStateFP")
		}
		if err := a.req.SetRegSet(tid, kernel.NoteX86XState, x.bytes()); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "set_fp_regs", tid)
		}
		return nil
	}
	l, ok := fp.(*LegacyFP)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "set_fp_regs", "fp is not *amd64.LegacyFP")
	}
	if err := a.req.SetFPRegs(tid, l); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "set_fp_regs", tid)
	}
	return nil
}

// InstallBreakpoint implements arch.Adapter: splice INT3 into the low byte.
func (a *Adapter) InstallBreakpoint(word uint64) uint64 {
	return (word &^ 0xff) | breakpointOpcode
}

// BreakpointSize implements arch.Adapter.
func (a *Adapter) BreakpointSize() int { return 1 }

// IsSWBP implements arch.Adapter.
func (a *Adapter) IsSWBP(b byte) bool { return b == breakpointOpcode }

// IsCall implements arch.Adapter. Recognizes E8 (CALL rel32) and the FF
// group's /2 (near CALL r/m) and /3 (far CALL m16:64) ModRM forms. Per §9,
// this inspects only the first opcode byte and a little window; a call
// behind a prefix byte is not recognized — best-effort, as the spec
// allows.
func (a *Adapter) IsCall(window [8]byte) bool {
	switch window[0] {
	case 0xe8:
		return true
	case 0xff:
		reg := (window[1] >> 3) & 0x7
		return reg == 2 || reg == 3
	default:
		return false
	}
}

// IsRet implements arch.Adapter: C3 (near ret), C2 (near ret imm16),
// CB (far ret), CA (far ret imm16).
func (a *Adapter) IsRet(b byte) bool {
	switch b {
	case 0xc3, 0xc2, 0xcb, 0xca:
		return true
	default:
		return false
	}
}

// InstructionPointer implements arch.Adapter.
func (a *Adapter) InstructionPointer(regs any) uint64 {
	return regs.(*Regs).Rip
}

// SetInstructionPointer implements arch.Adapter.
func (a *Adapter) SetInstructionPointer(regs any, pc uint64) any {
	r := *regs.(*Regs)
	r.Rip = pc
	return &r
}

// SetSyscallNumberOverride implements arch.Adapter. No-op on x86-64: the
// kernel exposes no separate syscall-number regset there (the override is
// an AArch64-only sticky field per §4.1).
func (a *Adapter) SetSyscallNumberOverride(tid int32, sysno uint64) {}

// little-endian helpers shared by the XSTATE transport.
var le = binary.LittleEndian
