package kernel

import (
	"encoding/binary"
	"reflect"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
)

var le = binary.LittleEndian

// Unix is the production Requester, a thin wrapper over golang.org/x/sys/unix
// ptrace/wait4 syscalls. Every call here must run on the OS thread that owns
// the tracee under ptrace's one-tracer-thread rule; callers are expected to
// have already pinned that goroutine with runtime.LockOSThread.
type Unix struct{}

// NewUnix returns the production Requester.
func NewUnix() *Unix { return &Unix{} }

func (Unix) Attach(tid int32) error {
	if err := unix.PtraceAttach(int(tid)); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "ptrace_attach", tid)
	}
	return nil
}

// Detach issues PTRACE_DETACH directly (rather than unix.PtraceDetach, which
// hardcodes a zero signal) so a pending signal can be redelivered as the
// tracee resumes running free.
func (Unix) Detach(tid int32, signal int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH, uintptr(tid), 0, uintptr(signal), 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_detach", tid)
	}
	return nil
}

func (Unix) Kill(tid int32) error {
	if err := unix.Kill(int(tid), unix.SIGKILL); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "kill", tid)
	}
	return nil
}

func (Unix) SetOptions(tid int32, options int) error {
	if err := unix.PtraceSetOptions(int(tid), options); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "ptrace_setoptions", tid)
	}
	return nil
}

func (Unix) Cont(tid int32, signal int) error {
	if err := unix.PtraceCont(int(tid), signal); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "ptrace_cont", tid)
	}
	return nil
}

func (Unix) Syscall(tid int32, signal int) error {
	if err := unix.PtraceSyscall(int(tid), signal); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "ptrace_syscall", tid)
	}
	return nil
}

func (Unix) SingleStep(tid int32, signal int) error {
	if err := unix.PtraceSingleStep(int(tid)); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "ptrace_singlestep", tid)
	}
	return nil
}

func (Unix) Wait4(tid int32) (WaitStatus, error) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(int(tid), &ws, 0, nil)
	if err != nil {
		return WaitStatus{}, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "wait4", tid)
	}
	return toWaitStatus(tid, ws), nil
}

func (Unix) WaitAny() (WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, 0, nil)
	if err != nil {
		return WaitStatus{}, dbgerr.Wrap(err, dbgerr.KernelRefused, "wait4_any")
	}
	return toWaitStatus(int32(pid), ws), nil
}

// TryWaitAny drains one already-ready status, if any, without blocking —
// used by wait-all to pick up siblings that stopped on their own (e.g. a
// group-stop) between the head wait and the force-stop pass.
func (Unix) TryWaitAny() (WaitStatus, bool, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	if err != nil {
		return WaitStatus{}, false, dbgerr.Wrap(err, dbgerr.KernelRefused, "wait4_any_nohang")
	}
	if pid <= 0 {
		return WaitStatus{}, false, nil
	}
	return toWaitStatus(int32(pid), ws), true, nil
}

func toWaitStatus(tid int32, ws unix.WaitStatus) WaitStatus {
	out := WaitStatus{Tid: tid}
	switch {
	case ws.Exited():
		out.Exited = true
		out.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		out.Signaled = true
		out.Signal = int(ws.Signal())
	case ws.Stopped():
		out.Stopped = true
		out.StopSig = int(ws.StopSignal())
		out.TrapCause = ws.TrapCause()
	}
	return out
}

func (Unix) GetRegs(tid int32, regs arch.GPR) error {
	ptr, ok := regsPointer(regs)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "ptrace_getregs", "regs is not a pointer")
	}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGS, uintptr(tid), 0, ptr, 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_getregs", tid)
	}
	return nil
}

func (Unix) SetRegs(tid int32, regs arch.GPR) error {
	ptr, ok := regsPointer(regs)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "ptrace_setregs", "regs is not a pointer")
	}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGS, uintptr(tid), 0, ptr, 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_setregs", tid)
	}
	return nil
}

func (Unix) GetFPRegs(tid int32, fp arch.FP) error {
	ptr, ok := regsPointer(fp)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "ptrace_getfpregs", "fp is not a pointer")
	}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETFPREGS, uintptr(tid), 0, ptr, 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_getfpregs", tid)
	}
	return nil
}

func (Unix) SetFPRegs(tid int32, fp arch.FP) error {
	ptr, ok := regsPointer(fp)
	if !ok {
		return dbgerr.New(dbgerr.Internal, "ptrace_setfpregs", "fp is not a pointer")
	}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETFPREGS, uintptr(tid), 0, ptr, 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_setfpregs", tid)
	}
	return nil
}

// ELF core-note types from linux/elf.h. Defined locally rather than sourced
// from golang.org/x/sys/unix because the ARM- and x86-specific note types
// are only generated into that package's per-GOARCH files, and this package
// has no build tags of its own — it must see every Regset value regardless
// of which arch package is linked in.
const (
	ntPRStatus      = 1
	ntFPRegset      = 2
	ntX86XState     = 0x202
	ntArmHWBreak    = 0x402
	ntArmHWWatch    = 0x403
	ntArmSystemCall = 0x404
)

// regsetNote maps our Regset enum to the kernel's NT_* constant.
func regsetNote(set Regset) uint32 {
	switch set {
	case NoteX86XState:
		return ntX86XState
	case NoteArmHWBreak:
		return ntArmHWBreak
	case NoteArmHWWatch:
		return ntArmHWWatch
	case NoteArmSystemCall:
		return ntArmSystemCall
	case NotePRStatus:
		return ntPRStatus
	case NoteFPRegset:
		return ntFPRegset
	default:
		return 0
	}
}

type iovec struct {
	base uintptr
	len  uint64
}

func (u Unix) GetRegSet(tid int32, set Regset, buf []byte) error {
	iov := iovec{base: uintptr(unsafe.Pointer(&buf[0])), len: uint64(len(buf))}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET, uintptr(tid),
		uintptr(regsetNote(set)), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_getregset", tid)
	}
	return nil
}

func (u Unix) SetRegSet(tid int32, set Regset, buf []byte) error {
	iov := iovec{base: uintptr(unsafe.Pointer(&buf[0])), len: uint64(len(buf))}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGSET, uintptr(tid),
		uintptr(regsetNote(set)), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_setregset", tid)
	}
	return nil
}

// PeekData reads one word at addr. At the raw syscall level PTRACE_PEEKDATA
// stores the word at the address passed as its data argument and returns 0,
// so the word is read back from a local variable and errno alone reports
// failure — a negative-looking word cannot be mistaken for an error.
func (Unix) PeekData(tid int32, addr uintptr) (uint64, error) {
	var word uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKDATA, uintptr(tid), addr, uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_peekdata", tid)
	}
	return word, nil
}

func (Unix) PokeData(tid int32, addr uintptr, value uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEDATA, uintptr(tid), addr, uintptr(value), 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_pokedata", tid)
	}
	return nil
}

func (Unix) PeekUser(tid int32, offset int64) (uint64, error) {
	var word uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSR, uintptr(tid), uintptr(offset), uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_peekuser", tid)
	}
	return word, nil
}

func (Unix) PokeUser(tid int32, offset int64, value uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSR, uintptr(tid), uintptr(offset), uintptr(value), 0, 0)
	if errno != 0 {
		return dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_pokeuser", tid)
	}
	return nil
}

func (Unix) Tgkill(pid, tid int32, signal int) error {
	if err := unix.Tgkill(int(pid), int(tid), syscall.Signal(signal)); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "tgkill", tid)
	}
	return nil
}

// siginfoSize is sizeof(siginfo_t) on 64-bit Linux (both amd64 and arm64).
const siginfoSize = 128

// GetSigInfo decodes the leading fields of siginfo_t by hand: si_signo and
// si_code are always at offsets 0 and 8 on 64-bit Linux, and for the
// SIGTRAP/SIGSEGV/SIGBUS family si_addr sits at offset 16 in the kernel's
// layout (the union member used by those signals starts there).
func (Unix) GetSigInfo(tid int32) (SigInfo, error) {
	var raw [siginfoSize]byte
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO, uintptr(tid), 0,
		uintptr(unsafe.Pointer(&raw[0])), 0, 0)
	if errno != 0 {
		return SigInfo{}, dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_getsiginfo", tid)
	}
	return SigInfo{
		Signal: int(le.Uint32(raw[0:4])),
		Code:   int(int32(le.Uint32(raw[8:12]))),
		Addr:   le.Uint64(raw[16:24]),
	}, nil
}

func (Unix) GetEventMsg(tid int32) (uint64, error) {
	var msg uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETEVENTMSG, uintptr(tid), 0,
		uintptr(unsafe.Pointer(&msg)), 0, 0)
	if errno != 0 {
		return 0, dbgerr.WrapWithTid(errno, dbgerr.KernelRefused, "ptrace_geteventmsg", tid)
	}
	return msg, nil
}

// regsPointer recovers the raw address backing an arch.GPR/arch.FP (always a
// pointer to a fixed-layout struct or byte array boxed behind the any
// aliases) so the raw ptrace syscall can read or write through it directly.
func regsPointer(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return 0, false
	}
	return rv.Pointer(), true
}
