// Package arch defines the runtime-sealed interface boundary between the
// architecture-independent debugger core (thread, swbp, hwbp, controller,
// memory) and the per-architecture register layout, breakpoint encoding,
// and debug-register programming implemented in arch/amd64 and arch/arm64.
//
// The specification's source split these by conditional compilation; here
// the split is a plain Go interface (Adapter) implemented once per
// supported GOARCH, selected by controller.NewAdapter from config.Current.
package arch

import "fmt"

// BPKind is the trigger condition of a hardware breakpoint/watchpoint.
type BPKind int

const (
	// Execute fires when the CPU fetches an instruction at the address.
	Execute BPKind = iota
	// Write fires on a store to the address range.
	Write
	// ReadWrite fires on either a load or a store to the address range.
	ReadWrite
)

func (k BPKind) String() string {
	switch k {
	case Execute:
		return "x"
	case Write:
		return "w"
	case ReadWrite:
		return "rw"
	default:
		return "?"
	}
}

// SlotKind distinguishes the breakpoint and watchpoint slot pools queried by
// RemainingHWSlots. On x86-64 the two pools are the same four DR0-DR3
// registers; on AArch64 they are independent (see §9's rough-edge note).
type SlotKind int

const (
	// SlotBreak counts execute-type debug slots.
	SlotBreak SlotKind = iota
	// SlotWatch counts data (write/read-write) debug slots.
	SlotWatch
)

// GPR is an opaque handle to a general-purpose register snapshot. Its
// concrete type is architecture-specific (*amd64.Regs or *arm64.Regs); only
// the Adapter implementation for the active architecture type-asserts it.
type GPR = any

// FP is an opaque handle to a floating-point/vector register snapshot.
// Concrete type is architecture- (and on amd64, feature-) specific.
type FP = any

// Adapter is implemented once per supported architecture. All of its
// methods operate on a single already-stopped thread identified by tid;
// none of them block on a wait() — that is the Kernel Request Layer's and
// Execution Controller's job.
type Adapter interface {
	// GetRegs fetches the general-purpose register snapshot for tid.
	GetRegs(tid int32) (GPR, error)
	// SetRegs writes a general-purpose register snapshot to tid.
	SetRegs(tid int32, regs GPR) error
	// GetFPRegs fetches the floating-point/vector register snapshot for tid.
	GetFPRegs(tid int32) (FP, error)
	// SetFPRegs writes a floating-point/vector register snapshot to tid.
	SetFPRegs(tid int32, fp FP) error

	// InstallHW programs a free debug slot on tid to trigger on addr for the
	// given kind and length. Returns ErrNoFreeSlot (via errors.ResourceExhausted)
	// if every slot is occupied.
	InstallHW(tid int32, addr uint64, kind BPKind, length int) error
	// RemoveHW clears whichever debug slot on tid currently holds addr.
	RemoveHW(tid int32, addr uint64) error
	// HWWasHit reports whether the debug slot holding addr on tid fired at
	// the most recent stop.
	HWWasHit(tid int32, addr uint64) (bool, error)
	// RemainingHWSlots reports how many slots of the given kind are free on
	// tid.
	RemainingHWSlots(tid int32, kind SlotKind) (int, error)

	// InstallBreakpoint returns word with the architecture's breakpoint
	// opcode spliced in (low byte on x86-64, full word replacement on
	// AArch64 BRK).
	InstallBreakpoint(word uint64) uint64
	// BreakpointSize is the number of low-order bytes of a word that
	// InstallBreakpoint patches (1 on x86-64, 4 on AArch64 — a full 4-byte
	// instruction word).
	BreakpointSize() int

	// IsCall reports whether window (read starting at an instruction
	// boundary) is a call instruction. Best-effort; see §9.
	IsCall(window [8]byte) bool
	// IsRet reports whether b is a return opcode.
	IsRet(b byte) bool
	// IsSWBP reports whether b is the architecture's breakpoint opcode byte
	// (meaningful on x86-64 only; on AArch64 it always reports false and
	// callers compare the full instruction word against InstallBreakpoint's
	// output instead).
	IsSWBP(b byte) bool

	// InstructionPointer extracts PC from a GPR snapshot.
	InstructionPointer(regs GPR) uint64
	// SetInstructionPointer returns a copy of regs with PC set to pc.
	SetInstructionPointer(regs GPR, pc uint64) GPR

	// SetSyscallNumberOverride requests that the next resume of tid rewrite
	// the in-flight syscall number to sysno. Sticky: cleared automatically
	// after being applied. No-op on x86-64, where the kernel does not
	// expose this as a separate regset.
	SetSyscallNumberOverride(tid int32, sysno uint64)
}

// ErrUnsupportedArch is returned by controller.NewAdapter when config.Current does not match
// a compiled-in Adapter.
type ErrUnsupportedArch struct {
	GOARCH string
}

func (e *ErrUnsupportedArch) Error() string {
	return fmt.Sprintf("arch: unsupported GOARCH %q", e.GOARCH)
}
