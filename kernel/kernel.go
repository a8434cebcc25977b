// Package kernel is the Kernel Request Layer: the sole boundary through
// which every other package issues ptrace/wait/signal syscalls. Nothing
// above this package calls golang.org/x/sys/unix directly, which is what
// lets thread, swbp, hwbp, and controller be unit tested with a fake
// Requester instead of a real tracee.
package kernel

import "github.com/kornnellio/godbg/arch"

// Regset names the NT_* note type passed to PTRACE_GETREGSET/SETREGSET.
type Regset int

const (
	// NoteX86XState is NT_X86_XSTATE, the AVX/AVX-512 XSAVE area.
	NoteX86XState Regset = iota
	// NoteArmHWBreak is NT_ARM_HW_BREAK, the AArch64 hardware breakpoint regset.
	NoteArmHWBreak
	// NoteArmHWWatch is NT_ARM_HW_WATCH, the AArch64 hardware watchpoint regset.
	NoteArmHWWatch
	// NoteArmSystemCall is NT_ARM_SYSTEM_CALL, the sticky syscall-number override.
	NoteArmSystemCall
	// NotePRStatus is NT_PRSTATUS, the AArch64 GPR regset.
	NotePRStatus
	// NoteFPRegset is NT_FPREGSET / NT_ARM_FPSIMD, FP/vector regset.
	NoteFPRegset
)

// WaitStatus is the architecture-independent summary of a waitpid(2) result
// for one tid, lifted out of the raw unix.WaitStatus encoding.
type WaitStatus struct {
	Tid       int32
	Exited    bool
	ExitCode  int
	Signaled  bool
	Signal    int
	Stopped   bool
	StopSig   int
	// TrapCause distinguishes a plain SIGTRAP from a PTRACE_EVENT_* stop;
	// 0 when the stop carries no ptrace-event payload.
	TrapCause int
}

// Requester is every kernel-facing operation the debugger core needs. A
// single implementation (Unix, in this package) backs it in production;
// tests substitute a fake that replays scripted responses.
type Requester interface {
	// Attach and lifecycle.
	Attach(tid int32) error
	Detach(tid int32, signal int) error
	Kill(tid int32) error
	SetOptions(tid int32, options int) error

	// Resume.
	Cont(tid int32, signal int) error
	Syscall(tid int32, signal int) error
	SingleStep(tid int32, signal int) error

	// Waiting.
	Wait4(tid int32) (WaitStatus, error)
	WaitAny() (WaitStatus, error)
	// TryWaitAny is WaitAny with WNOHANG: it reports ok=false instead of
	// blocking when no child currently has a status ready to reap.
	TryWaitAny() (ws WaitStatus, ok bool, err error)

	// Register transport.
	GetRegs(tid int32, regs arch.GPR) error
	SetRegs(tid int32, regs arch.GPR) error
	GetFPRegs(tid int32, fp arch.FP) error
	SetFPRegs(tid int32, fp arch.FP) error
	GetRegSet(tid int32, set Regset, buf []byte) error
	SetRegSet(tid int32, set Regset, buf []byte) error

	// Memory and user-area access.
	PeekData(tid int32, addr uintptr) (uint64, error)
	PokeData(tid int32, addr uintptr, word uint64) error
	PeekUser(tid int32, offset int64) (uint64, error)
	PokeUser(tid int32, offset int64, value uint64) error

	// Signal delivery outside of resume (e.g. waking a stuck thread).
	Tgkill(pid, tid int32, signal int) error

	// GetSigInfo/GetEventMsg surface the extra detail a SIGTRAP stop or a
	// PTRACE_EVENT_* stop carries beyond WaitStatus.
	GetSigInfo(tid int32) (SigInfo, error)
	GetEventMsg(tid int32) (uint64, error)
}

// SigInfo is the fields of siginfo_t the controller needs to tell a
// breakpoint trap (si_code == SI_KERNEL / TRAP_BRKPT) apart from a
// single-step trap (TRAP_TRACE) or a delivered signal.
type SigInfo struct {
	Signal int
	Code   int
	Addr   uint64
}

// Trap si_code values (siginfo.h); used to classify a SIGTRAP stop.
const (
	TrapBrkpt = 1 // TRAP_BRKPT: a software breakpoint instruction fired.
	TrapTrace = 2 // TRAP_TRACE: single-step or hardware execute watchpoint.
	TrapBranch = 3
	TrapHwbkpt = 4 // TRAP_HWBKPT: hardware breakpoint/watchpoint (AArch64).
)
