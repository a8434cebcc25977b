package controller

import (
	"testing"

	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/hwbp"
	"github.com/kornnellio/godbg/kernel"
	"github.com/kornnellio/godbg/memory"
	"github.com/kornnellio/godbg/swbp"
	"github.com/kornnellio/godbg/thread"
)

// fakeRegs is the opaque arch.GPR concrete type for these tests: a single pc
// field is all the controller's logic ever touches.
type fakeRegs struct{ pc uint64 }

// fakeAdapter is a minimal arch.Adapter stand-in. pcs lets a test script the
// sequence of program counters returned by GetRegs, one per call across all
// tids, with the last entry repeated once the sequence is used up;
// failRegsFor makes GetRegs return an error for a tid (simulating "tid still
// running") for a set number of calls.
type fakeAdapter struct {
	pcs []uint64
	idx int

	// failRegsFor maps a tid to the number of remaining GetRegs calls that
	// should fail for it (simulating "still running"); once exhausted,
	// GetRegs succeeds, modeling the thread having been stopped meanwhile.
	failRegsFor map[int32]int
	setRegsLog  []int32
}

func (a *fakeAdapter) GetRegs(tid int32) (arch.GPR, error) {
	if a.failRegsFor != nil && a.failRegsFor[tid] > 0 {
		a.failRegsFor[tid]--
		return nil, dbgerr.WrapWithTid(dbgerr.ErrThreadNotFound, dbgerr.KernelRefused, "getregs", tid)
	}
	pc := a.pcs[a.idx]
	if a.idx < len(a.pcs)-1 {
		a.idx++
	}
	return &fakeRegs{pc: pc}, nil
}
func (a *fakeAdapter) SetRegs(tid int32, _ arch.GPR) error {
	a.setRegsLog = append(a.setRegsLog, tid)
	return nil
}
func (a *fakeAdapter) GetFPRegs(int32) (arch.FP, error)                  { return nil, nil }
func (a *fakeAdapter) SetFPRegs(int32, arch.FP) error                    { return nil }
func (a *fakeAdapter) InstallHW(int32, uint64, arch.BPKind, int) error   { return nil }
func (a *fakeAdapter) RemoveHW(int32, uint64) error                      { return nil }
func (a *fakeAdapter) HWWasHit(int32, uint64) (bool, error)              { return false, nil }
func (a *fakeAdapter) RemainingHWSlots(int32, arch.SlotKind) (int, error) { return 4, nil }
func (a *fakeAdapter) InstallBreakpoint(word uint64) uint64              { return (word &^ 0xff) | 0xcc }
func (a *fakeAdapter) BreakpointSize() int                               { return 1 }
func (a *fakeAdapter) IsCall(window [8]byte) bool                        { return window[0] == 0xe8 }
func (a *fakeAdapter) IsRet(b byte) bool                                 { return b == 0xc3 }
func (a *fakeAdapter) IsSWBP(b byte) bool                                { return b == 0xcc }
func (a *fakeAdapter) InstructionPointer(regs arch.GPR) uint64 {
	return regs.(*fakeRegs).pc
}
func (a *fakeAdapter) SetInstructionPointer(regs arch.GPR, pc uint64) arch.GPR {
	cp := *regs.(*fakeRegs)
	cp.pc = pc
	return &cp
}
func (a *fakeAdapter) SetSyscallNumberOverride(int32, uint64) {}

// fakeRequester scripts WaitAny/Wait4/GetSigInfo responses and records
// resume calls so the controller's logic can be driven deterministically.
type fakeRequester struct {
	mem map[uint64]byte

	waitAnyQueue    []kernel.WaitStatus
	wait4Queue      []kernel.WaitStatus
	tryWaitAnyQueue []kernel.WaitStatus
	sigInfoQueue    []kernel.SigInfo

	contCalls    []int // signal args passed to Cont
	syscallCalls []int
	killed       []int32
	detached     []int32
	attached     []int32
	optionsSet   []int32
	tgkilled     []int32
}

func newFakeRequester() *fakeRequester { return &fakeRequester{mem: make(map[uint64]byte)} }

func (f *fakeRequester) Attach(tid int32) error { f.attached = append(f.attached, tid); return nil }
func (f *fakeRequester) Detach(tid int32, signal int) error {
	f.detached = append(f.detached, tid)
	return nil
}
func (f *fakeRequester) Kill(tid int32) error { f.killed = append(f.killed, tid); return nil }
func (f *fakeRequester) SetOptions(tid int32, options int) error {
	f.optionsSet = append(f.optionsSet, tid)
	return nil
}

func (f *fakeRequester) Cont(tid int32, signal int) error {
	f.contCalls = append(f.contCalls, signal)
	return nil
}
func (f *fakeRequester) Syscall(tid int32, signal int) error {
	f.syscallCalls = append(f.syscallCalls, signal)
	return nil
}
func (f *fakeRequester) SingleStep(int32, int) error { return nil }

func (f *fakeRequester) Wait4(int32) (kernel.WaitStatus, error) {
	if len(f.wait4Queue) == 0 {
		return kernel.WaitStatus{}, nil
	}
	ws := f.wait4Queue[0]
	f.wait4Queue = f.wait4Queue[1:]
	return ws, nil
}
func (f *fakeRequester) WaitAny() (kernel.WaitStatus, error) {
	if len(f.waitAnyQueue) == 0 {
		return kernel.WaitStatus{}, nil
	}
	ws := f.waitAnyQueue[0]
	f.waitAnyQueue = f.waitAnyQueue[1:]
	return ws, nil
}
func (f *fakeRequester) TryWaitAny() (kernel.WaitStatus, bool, error) {
	if len(f.tryWaitAnyQueue) == 0 {
		return kernel.WaitStatus{}, false, nil
	}
	ws := f.tryWaitAnyQueue[0]
	f.tryWaitAnyQueue = f.tryWaitAnyQueue[1:]
	return ws, true, nil
}

func (f *fakeRequester) GetRegs(int32, arch.GPR) error                { return nil }
func (f *fakeRequester) SetRegs(int32, arch.GPR) error                { return nil }
func (f *fakeRequester) GetFPRegs(int32, arch.FP) error                { return nil }
func (f *fakeRequester) SetFPRegs(int32, arch.FP) error                { return nil }
func (f *fakeRequester) GetRegSet(int32, kernel.Regset, []byte) error  { return nil }
func (f *fakeRequester) SetRegSet(int32, kernel.Regset, []byte) error  { return nil }

func (f *fakeRequester) PeekData(tid int32, addr uintptr) (uint64, error) {
	var word uint64
	for i := 0; i < 8; i++ {
		word |= uint64(f.mem[uint64(addr)+uint64(i)]) << (8 * uint(i))
	}
	return word, nil
}
func (f *fakeRequester) PokeData(tid int32, addr uintptr, word uint64) error {
	for i := 0; i < 8; i++ {
		f.mem[uint64(addr)+uint64(i)] = byte(word >> (8 * uint(i)))
	}
	return nil
}
func (f *fakeRequester) PeekUser(int32, int64) (uint64, error) { return 0, nil }
func (f *fakeRequester) PokeUser(int32, int64, uint64) error   { return nil }

func (f *fakeRequester) Tgkill(_, tid int32, _ int) error {
	f.tgkilled = append(f.tgkilled, tid)
	return nil
}

func (f *fakeRequester) GetSigInfo(int32) (kernel.SigInfo, error) {
	if len(f.sigInfoQueue) == 0 {
		return kernel.SigInfo{}, nil
	}
	info := f.sigInfoQueue[0]
	f.sigInfoQueue = f.sigInfoQueue[1:]
	return info, nil
}
func (f *fakeRequester) GetEventMsg(int32) (uint64, error) { return 0, nil }

func (f *fakeRequester) setByte(addr uint64, b byte) { f.mem[addr] = b }

func newController(a *fakeAdapter, req *fakeRequester) *Controller {
	mem := memory.New(req)
	reg := thread.New()
	sw := swbp.New(a, mem)
	hw := hwbp.New(a)
	return New(req, a, mem, reg, sw, hw)
}

func TestAttachRegistersPid(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)

	if err := c.Attach(42); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !c.Registry().IsLive(42) {
		t.Fatal("expected pid registered live after Attach")
	}
	if len(req.attached) != 1 || req.attached[0] != 42 {
		t.Fatalf("expected Attach(42) recorded, got %v", req.attached)
	}
	if len(req.optionsSet) != 1 {
		t.Fatal("expected SetOptions called once")
	}
}

func TestContinueAllRedeliversPendingSignal(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.Registry().Register(7)
	th, _ := c.Registry().MustLookup(7)
	th.PendingSignal = 11

	if err := c.ContinueAll(); err != nil {
		t.Fatalf("ContinueAll: %v", err)
	}
	if len(req.contCalls) != 1 || req.contCalls[0] != 11 {
		t.Fatalf("expected Cont called with signal 11, got %v", req.contCalls)
	}
	if th.PendingSignal != 0 {
		t.Fatal("expected PendingSignal cleared after redelivery")
	}
}

func TestContinueAllUsesSyscallWhenTracingSyscalls(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.Registry().Register(7)
	c.SetSyscallTrace(true)

	if err := c.ContinueAll(); err != nil {
		t.Fatalf("ContinueAll: %v", err)
	}
	if len(req.syscallCalls) != 1 {
		t.Fatalf("expected Syscall resume used, got contCalls=%v syscallCalls=%v", req.contCalls, req.syscallCalls)
	}
}

// single returns the lone entry of a one-thread wait chain, failing the test
// if the chain doesn't have exactly one entry.
func single(t *testing.T, chain []ThreadStop) ThreadStop {
	t.Helper()
	if len(chain) != 1 {
		t.Fatalf("expected chain of 1, got %d: %+v", len(chain), chain)
	}
	return chain[0]
}

func TestWaitAllAndUpdateRegsClassifiesBreakpoint(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x2000}}
	c := newController(a, req)
	c.Registry().Register(7)
	c.pid = 7

	req.waitAnyQueue = []kernel.WaitStatus{{Tid: 7, Stopped: true, StopSig: sigtrap}}
	req.sigInfoQueue = []kernel.SigInfo{{Code: kernel.TrapBrkpt}}

	chain, err := c.WaitAllAndUpdateRegs()
	if err != nil {
		t.Fatalf("WaitAllAndUpdateRegs: %v", err)
	}
	ts := single(t, chain)
	if ts.Reason != StopBreakpoint {
		t.Fatalf("got reason %v, want StopBreakpoint", ts.Reason)
	}
}

func TestWaitAllAndUpdateRegsSignalIsStashedPending(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x2000}}
	c := newController(a, req)
	c.Registry().Register(7)
	c.pid = 7

	req.waitAnyQueue = []kernel.WaitStatus{{Tid: 7, Stopped: true, StopSig: 2}} // SIGINT, not SIGTRAP

	chain, err := c.WaitAllAndUpdateRegs()
	if err != nil {
		t.Fatalf("WaitAllAndUpdateRegs: %v", err)
	}
	ts := single(t, chain)
	if ts.Reason != StopSignal || ts.Signal != 2 {
		t.Fatalf("got %+v, want StopSignal/2", ts)
	}
	th, _ := c.Registry().MustLookup(7)
	if th.PendingSignal != 2 {
		t.Fatalf("expected PendingSignal stashed, got %d", th.PendingSignal)
	}
}

func TestWaitAllAndUpdateRegsExited(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x2000}}
	c := newController(a, req)
	c.Registry().Register(7)
	c.pid = 7

	req.waitAnyQueue = []kernel.WaitStatus{{Tid: 7, Exited: true, ExitCode: 3}}

	chain, err := c.WaitAllAndUpdateRegs()
	if err != nil {
		t.Fatalf("WaitAllAndUpdateRegs: %v", err)
	}
	ts := single(t, chain)
	if ts.Reason != StopExited || ts.ExitCode != 3 {
		t.Fatalf("got %+v, want StopExited/3", ts)
	}
	if c.Registry().IsLive(7) {
		t.Fatal("expected thread unregistered after exit")
	}
}

// TestWaitAllAndUpdateRegsChainsSiblings exercises a three-thread scenario:
// the head thread's stop wakes the wait, one sibling is already stopped on
// its own (GetRegs succeeds), and one sibling is still running and must be
// force-stopped via Tgkill before it can be reported.
func TestWaitAllAndUpdateRegsChainsSiblings(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x2000}, failRegsFor: map[int32]int{9: 1}}
	c := newController(a, req)
	c.pid = 7
	for _, tid := range []int32{7, 8, 9} {
		c.Registry().Register(tid)
	}

	req.waitAnyQueue = []kernel.WaitStatus{{Tid: 7, Stopped: true, StopSig: sigtrap}}
	// tid 8 is probed as already-stopped (GetRegs succeeds) and its pending
	// status is reaped directly; tid 9 fails the probe, gets force-stopped
	// via Tgkill, then its status is reaped the same way. orderedLiveLocked
	// visits siblings in ascending order (8, then 9) with the head (7)
	// skipped, so the queue below is consumed in that order.
	req.wait4Queue = []kernel.WaitStatus{
		{Tid: 8, Stopped: true, StopSig: sigtrap},
		{Tid: 9, Stopped: true, StopSig: sigtrap},
	}
	req.sigInfoQueue = []kernel.SigInfo{
		{Code: kernel.TrapBrkpt}, // tid 7 (head)
		{Code: kernel.TrapBrkpt}, // tid 8 (already stopped)
		{Code: kernel.TrapBrkpt}, // tid 9 (force-stopped)
	}

	chain, err := c.WaitAllAndUpdateRegs()
	if err != nil {
		t.Fatalf("WaitAllAndUpdateRegs: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected a chain of 3 stops, got %d: %+v", len(chain), chain)
	}
	if len(req.tgkilled) != 1 || req.tgkilled[0] != 9 {
		t.Fatalf("expected tid 9 force-stopped via Tgkill, got %v", req.tgkilled)
	}
	for _, tid := range []int32{7, 8, 9} {
		if !c.Registry().IsLive(tid) {
			t.Fatalf("expected tid %d still live", tid)
		}
		th, _ := c.Registry().MustLookup(tid)
		if th.Regs == nil {
			t.Fatalf("expected tid %d's GPR cache refreshed", tid)
		}
	}
}

func TestSingleStepClassifiesTrace(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000, 0x1001}}
	c := newController(a, req)
	c.Registry().Register(7)

	req.wait4Queue = []kernel.WaitStatus{{Tid: 7, Stopped: true, StopSig: sigtrap}}
	req.sigInfoQueue = []kernel.SigInfo{{Code: kernel.TrapTrace}}

	ts, err := c.SingleStep(7)
	if err != nil {
		t.Fatalf("SingleStep: %v", err)
	}
	if ts.Reason != StopSingleStep {
		t.Fatalf("got reason %v, want StopSingleStep", ts.Reason)
	}
}

// TestStepOutTakesFinalStepAfterZeroDepthRet verifies the stepping finishes
// with one extra step past the outer ret, landing on the instruction right
// after the call site rather than on the ret opcode itself.
func TestStepOutTakesFinalStepAfterZeroDepthRet(t *testing.T) {
	req := newFakeRequester()
	// pc trace: a call, a nested ret (absorbed), the outer ret (counter
	// reaches zero here), then the landing pc after the final extra step.
	a := &fakeAdapter{pcs: []uint64{0x100, 0x200, 0x300, 0x42}}
	c := newController(a, req)
	c.Registry().Register(7)
	c.pid = 7

	req.setByte(0x100, 0xe8) // call
	req.setByte(0x200, 0xc3) // ret (nested, absorbed)
	req.setByte(0x300, 0xc3) // ret (outer, counter reaches 0 here)

	req.wait4Queue = []kernel.WaitStatus{
		{Tid: 7, Stopped: true, StopSig: sigtrap},
		{Tid: 7, Stopped: true, StopSig: sigtrap},
		{Tid: 7, Stopped: true, StopSig: sigtrap},
		{Tid: 7, Stopped: true, StopSig: sigtrap}, // the mandatory final step
	}
	req.sigInfoQueue = []kernel.SigInfo{
		{Code: kernel.TrapTrace},
		{Code: kernel.TrapTrace},
		{Code: kernel.TrapTrace},
		{Code: kernel.TrapTrace},
	}

	ts, err := c.StepOut(7, 10)
	if err != nil {
		t.Fatalf("StepOut: %v", err)
	}
	if ts.Reason != StopSingleStep {
		t.Fatalf("got reason %v", ts.Reason)
	}
	th, _ := c.Registry().MustLookup(7)
	if c.a.(*fakeAdapter).InstructionPointer(th.Regs) != 0x42 {
		t.Fatalf("expected final pc 0x42 (one step past the outer ret), got 0x%x",
			c.a.(*fakeAdapter).InstructionPointer(th.Regs))
	}
}

func TestStepUntilBudgetExhausted(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x100, 0x200}}
	c := newController(a, req)
	c.Registry().Register(7)

	req.wait4Queue = []kernel.WaitStatus{
		{Tid: 7, Stopped: true, StopSig: sigtrap},
		{Tid: 7, Stopped: true, StopSig: sigtrap},
	}
	req.sigInfoQueue = []kernel.SigInfo{{Code: kernel.TrapTrace}, {Code: kernel.TrapTrace}}

	_, err := c.StepUntil(7, 2, func(pc uint64) bool { return false })
	if !dbgerr.IsKind(err, dbgerr.Internal) {
		t.Fatalf("expected Internal-kind budget-exhausted error, got %v", err)
	}
}

func TestDetachKillProbesThenKillsMainLast(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.pid = 7
	c.Registry().Register(8)
	c.Registry().Register(7)

	if err := c.Detach(DetachKill); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(req.killed) != 2 {
		t.Fatalf("expected two Kill calls, got %v", req.killed)
	}
	if req.killed[len(req.killed)-1] != 7 {
		t.Fatalf("expected main thread (7) killed last, got order %v", req.killed)
	}
	if c.Registry().LiveCount() != 0 {
		t.Fatal("expected registry cleared after DetachKill")
	}
}

func TestDetachKillStopsStillRunningThreadFirst(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}, failRegsFor: map[int32]int{7: 1}}
	c := newController(a, req)
	c.pid = 7
	c.Registry().Register(7)
	req.wait4Queue = []kernel.WaitStatus{{Tid: 7, Stopped: true, StopSig: sigstop}}

	if err := c.Detach(DetachKill); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(req.tgkilled) != 1 || req.tgkilled[0] != 7 {
		t.Fatalf("expected tid 7 SIGSTOPped before kill, got %v", req.tgkilled)
	}
}

func TestDetachMigrationDetachesWithoutReattach(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.pid = 7
	c.Registry().Register(7)

	if err := c.Detach(DetachMigration); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(req.detached) != 1 {
		t.Fatalf("expected one Detach call, got %v", req.detached)
	}
	if len(req.attached) != 0 {
		t.Fatal("migration should not re-attach")
	}
	if len(req.tgkilled) != 1 || req.tgkilled[0] != 7 {
		t.Fatalf("expected the thread frozen with SIGSTOP before detaching, got %v", req.tgkilled)
	}
}

func TestDetachReattachReattaches(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.pid = 7
	c.Registry().Register(7)
	req.wait4Queue = []kernel.WaitStatus{{Tid: 7, Stopped: true, StopSig: sigtrap}}

	if err := c.Detach(DetachReattach); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(req.detached) != 0 {
		t.Fatalf("expected reattach not to issue its own detach, got %v", req.detached)
	}
	if len(req.attached) != 1 {
		t.Fatalf("expected one re-attach, got attached=%v", req.attached)
	}
	if !c.Registry().IsLive(7) {
		t.Fatal("expected thread still live after reattach")
	}
}

func TestDetachOrdersMainThreadLast(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.pid = 3
	for _, tid := range []int32{9, 3, 5, 1} {
		c.Registry().Register(tid)
	}

	if err := c.Detach(DetachKill); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(req.killed) != 4 {
		t.Fatalf("expected 4 kills, got %v", req.killed)
	}
	if req.killed[len(req.killed)-1] != 3 {
		t.Fatalf("expected main thread 3 last, got order %v", req.killed)
	}
}

func TestDetachAndContinueSendsSignalAfterMigration(t *testing.T) {
	req := newFakeRequester()
	a := &fakeAdapter{pcs: []uint64{0x1000}}
	c := newController(a, req)
	c.pid = 7
	c.Registry().Register(7)

	if err := c.DetachAndContinue(18); err != nil { // SIGCONT
		t.Fatalf("DetachAndContinue: %v", err)
	}
	if len(req.detached) != 1 {
		t.Fatalf("expected one detach call, got %v", req.detached)
	}
	if c.Registry().LiveCount() != 0 {
		t.Fatal("expected registry cleared")
	}
	if len(req.tgkilled) == 0 || req.tgkilled[len(req.tgkilled)-1] != 7 {
		t.Fatalf("expected final signal delivered to pid via Tgkill, got %v", req.tgkilled)
	}
}
