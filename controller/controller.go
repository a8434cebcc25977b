// Package controller implements the Execution Controller: the component
// that orchestrates attach, resume, wait, single-step, step-out, and detach
// across every thread of a traced process, keeping the Thread Registry's
// cached register state consistent with what the kernel reports at each
// stop.
package controller

import (
	"log/slog"
	"sync"
	"syscall"

	"github.com/kornnellio/godbg/arch"
	"github.com/kornnellio/godbg/config"
	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/hwbp"
	"github.com/kornnellio/godbg/kernel"
	"github.com/kornnellio/godbg/logging"
	"github.com/kornnellio/godbg/memory"
	"github.com/kornnellio/godbg/swbp"
	"github.com/kornnellio/godbg/thread"
)

// ptrace options requested at attach: kill the tracee if the tracer exits,
// report exec events, and mark syscall stops with SIGTRAP|0x80. Fork, vfork,
// clone and exit events are not traced, so a thread the tracee creates after
// attach is not attached automatically.
const traceOptions = 0x00100000 | 0x00000010 | 0x00000001 // PTRACE_O_EXITKILL | PTRACE_O_TRACEEXEC | PTRACE_O_TRACESYSGOOD

// sigtrap is SIGTRAP (5), the signal ptrace uses for every breakpoint and
// single-step stop.
const sigtrap = 5

// sigstop is SIGSTOP (19). Its raw wait-status encoding, W_STOPCODE(SIGSTOP)
// = (19<<8)|0x7f = 4991, is the sentinel prepare-for-run watches for: a
// group-stop racing the single step it issued to clear a landed breakpoint.
const sigstop = 19

// DetachMode selects how Detach leaves the tracee.
type DetachMode int

const (
	// DetachKill probes each thread, stops it if still running, detaches,
	// then sends SIGKILL — main thread last — and reaps the process.
	DetachKill DetachMode = iota
	// DetachMigration flushes each thread's GPRs to the kernel, freezes it
	// with SIGSTOP, and detaches, leaving it stopped for another tracer
	// (e.g. a forked continuation of this process) to PTRACE_ATTACH next.
	DetachMigration
	// DetachReattach is migration's inverse: attach to each thread and
	// refresh its cached GPRs — main thread last.
	DetachReattach
)

// StopReason classifies why a wait or step returned for one tid.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopBreakpoint
	StopHardwareBreakpoint
	StopSingleStep
	StopSignal
	StopSyscall
	StopExited
	StopSignaled
)

// ThreadStop is the outcome of a wait for a single tid. WaitAllAndUpdateRegs
// returns a chain of these, one per thread that had a status to report in
// that cycle.
type ThreadStop struct {
	Tid      int32
	Reason   StopReason
	ExitCode int
	Signal   int
	// Addr is the address that fired, populated for StopBreakpoint (the
	// rewound PC) and StopHardwareBreakpoint (the watchpoint's address).
	Addr uint64
}

// Controller is the Execution Controller.
type Controller struct {
	mu sync.Mutex

	req kernel.Requester
	a   arch.Adapter
	mem *memory.Access
	reg *thread.Registry
	sw  *swbp.Table
	hw  *hwbp.Table

	pid          int32
	syscallTrace bool
	log          *slog.Logger
}

// New returns a Controller wired to the given components.
func New(req kernel.Requester, a arch.Adapter, mem *memory.Access, reg *thread.Registry, sw *swbp.Table, hw *hwbp.Table) *Controller {
	return &Controller{req: req, a: a, mem: mem, reg: reg, sw: sw, hw: hw, log: logging.Default()}
}

// Attach attaches to pid (the thread group leader) and registers it as the
// first live thread.
func (c *Controller) Attach(pid int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid = pid
	if err := c.req.Attach(pid); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "attach", pid)
	}
	if _, err := c.req.Wait4(pid); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "attach", pid)
	}
	if err := c.req.SetOptions(pid, traceOptions); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "attach", pid)
	}
	c.reg.Register(pid)
	logging.WithTid(c.log, pid).Info("attached")
	return nil
}

// Launch is the trace_me() attach path: it forks and execs path with
// PTRACE_TRACEME set on the child, rather than attaching to an already
// running pid. The kernel stops the child with SIGTRAP the moment exec
// succeeds, before any of the target's own code runs, so the caller sees
// the same first stop as Attach does.
func (c *Controller) Launch(path string, args []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	argv := append([]string{path}, args...)
	pid, err := syscall.ForkExec(path, argv, &syscall.ProcAttr{
		Files: []uintptr{0, 1, 2},
		Sys:   &syscall.SysProcAttr{Ptrace: true},
	})
	if err != nil {
		return dbgerr.Wrap(err, dbgerr.KernelRefused, "launch")
	}
	tid := int32(pid)
	c.pid = tid

	if _, err := c.req.Wait4(tid); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "launch", tid)
	}
	if err := c.req.SetOptions(tid, traceOptions); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "launch", tid)
	}
	c.reg.Register(tid)
	logging.WithTid(c.log, tid).Info("launched")
	return nil
}

// SetSyscallTrace toggles whether ContinueAll resumes threads with
// PTRACE_SYSCALL (stopping at every syscall entry/exit) instead of
// PTRACE_CONT.
func (c *Controller) SetSyscallTrace(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syscallTrace = enabled
}

// orderedLiveLocked returns every live tid with the thread-group leader
// moved to the tail, the ordering spec'd for detach loops: the main thread
// is processed last so its siblings are gone before it is.
func (c *Controller) orderedLiveLocked() []int32 {
	live := c.reg.Live()
	out := make([]int32, 0, len(live))
	haveMain := false
	for _, tid := range live {
		if tid == c.pid {
			haveMain = true
			continue
		}
		out = append(out, tid)
	}
	if haveMain {
		out = append(out, c.pid)
	}
	return out
}

// PrepareForRun runs the four steps a resume requires: flush every live
// thread's cached GPRs back to the kernel; step any thread currently sitting
// on a software breakpoint off it; on AArch64, step any thread currently
// stopped on a hardware breakpoint off it; then re-apply every enabled
// software breakpoint's patch.
func (c *Controller) PrepareForRun() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepareForRunLocked()
}

func (c *Controller) prepareForRunLocked() error {
	order := c.orderedLiveLocked()

	for _, tid := range order {
		if err := c.flushRegs(tid); err != nil {
			return err
		}
	}

	for _, tid := range order {
		if err := c.stepOverSWBPLocked(tid); err != nil {
			return err
		}
	}

	if config.Current == config.ArchARM64 {
		for _, tid := range order {
			if err := c.stepOverHWBPLocked(tid); err != nil {
				return err
			}
		}
	}

	if len(order) > 0 {
		if err := c.sw.ApplyAll(order[0]); err != nil {
			return err
		}
	}
	return nil
}

// flushRegs writes a thread's cached register snapshot back to the kernel.
// A thread that has never been stopped long enough to populate the cache
// (Regs still nil) has nothing to flush.
func (c *Controller) flushRegs(tid int32) error {
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return err
	}
	if t.Regs == nil {
		return nil
	}
	if err := c.a.SetRegs(tid, t.Regs); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "prepare_for_run_flush", tid)
	}
	if t.FPRegs != nil {
		if err := c.a.SetFPRegs(tid, t.FPRegs); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "prepare_for_run_flush", tid)
		}
	}
	return nil
}

func (c *Controller) refreshRegs(tid int32) error {
	regs, err := c.a.GetRegs(tid)
	if err != nil {
		return err
	}
	fp, err := c.a.GetFPRegs(tid)
	if err != nil {
		return err
	}
	return c.reg.UpdateRegs(tid, regs, fp)
}

// stepOverSWBPLocked single-steps tid off a software breakpoint it's
// currently sitting on, retrying once if the step races a pending
// group-stop (the raw 4991/SIGSTOP sentinel).
func (c *Controller) stepOverSWBPLocked(tid int32) error {
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return err
	}
	if t.Regs == nil {
		return nil
	}
	pc := c.a.InstructionPointer(t.Regs)
	bp, ok := c.sw.Lookup(pc)
	if !ok || !bp.Enabled {
		return nil
	}

	ws, err := c.stepRawAndWaitLocked(tid)
	if err != nil {
		return err
	}
	if ws.Stopped && ws.StopSig == sigstop {
		if _, err := c.stepRawAndWaitLocked(tid); err != nil {
			return err
		}
	}
	return c.refreshRegs(tid)
}

// stepOverHWBPLocked single-steps tid off a hardware breakpoint/watchpoint
// whose address matches its current PC: disable the slot, step, re-enable.
// AArch64-only; on x86-64 the step-over is handled identically to a
// software breakpoint by the kernel's own resume semantics.
func (c *Controller) stepOverHWBPLocked(tid int32) error {
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return err
	}
	if t.Regs == nil {
		return nil
	}
	pc := c.a.InstructionPointer(t.Regs)
	wp := c.hwAtPC(tid, pc)
	if wp == nil {
		return nil
	}
	if err := c.hw.Disable(tid, wp.Addr); err != nil {
		return err
	}
	if _, err := c.stepRawAndWaitLocked(tid); err != nil {
		return err
	}
	if err := c.hw.Enable(tid, wp.Addr); err != nil {
		return err
	}
	return c.refreshRegs(tid)
}

func (c *Controller) hwAtPC(tid int32, pc uint64) *hwbp.Watchpoint {
	for _, wp := range c.hw.ForThread(tid) {
		if wp.Enabled && wp.Addr == pc {
			return wp
		}
	}
	return nil
}

// stepRawAndWaitLocked issues PTRACE_SINGLESTEP and blocks for tid's own
// stop. Internal helper shared by the prepare-for-run step-overs and the
// public SingleStep; does not classify or refresh registers.
func (c *Controller) stepRawAndWaitLocked(tid int32) (kernel.WaitStatus, error) {
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return kernel.WaitStatus{}, err
	}
	sig := t.PendingSignal
	t.PendingSignal = 0
	if err := c.req.SingleStep(tid, sig); err != nil {
		return kernel.WaitStatus{}, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "single_step", tid)
	}
	ws, err := c.req.Wait4(tid)
	if err != nil {
		return kernel.WaitStatus{}, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "single_step", tid)
	}
	return ws, nil
}

// ContinueAll resumes every live thread with any pending signal redelivered.
func (c *Controller) ContinueAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tid := range c.reg.Live() {
		t, err := c.reg.MustLookup(tid)
		if err != nil {
			return err
		}
		sig := t.PendingSignal
		t.PendingSignal = 0
		if c.syscallTrace {
			if err := c.req.Syscall(tid, sig); err != nil {
				return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "continue_all", tid)
			}
			continue
		}
		if err := c.req.Cont(tid, sig); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "continue_all", tid)
		}
	}
	return nil
}

// WaitAllAndUpdateRegs blocks for the next stop of any live thread, then
// brings every other live thread to a matching stop: one still running
// (detected by a failed GPR read) is force-stopped with Tgkill first, one
// already stopped on its own has its pending status reaped directly. Any
// further statuses already ready are drained non-blockingly. Every live
// thread's register cache is refreshed and the original bytes of every
// enabled software breakpoint are restored before the chain of per-thread
// stops is returned.
func (c *Controller) WaitAllAndUpdateRegs() ([]ThreadStop, error) {
	headWS, err := c.req.WaitAny()
	if err != nil {
		return nil, dbgerr.Wrap(err, dbgerr.KernelRefused, "wait_all")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	order := []int32{headWS.Tid}
	statuses := map[int32]kernel.WaitStatus{headWS.Tid: headWS}

	if !headWS.Exited && !headWS.Signaled {
		for _, tid := range c.orderedLiveLocked() {
			if tid == headWS.Tid {
				continue
			}
			if _, err := c.a.GetRegs(tid); err != nil {
				// still running: force it to stop before collecting its status.
				if err := c.req.Tgkill(c.pid, tid, sigstop); err != nil {
					return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "wait_all_stop_sibling", tid)
				}
			}
			// Already stopped or just force-stopped, either way the kernel
			// has a wait status pending for it that hasn't been reaped yet.
			ws, err := c.req.Wait4(tid)
			if err != nil {
				return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "wait_all_stop_sibling", tid)
			}
			order = append(order, tid)
			statuses[tid] = ws
		}

		for {
			ws, ok, err := c.req.TryWaitAny()
			if err != nil {
				return nil, dbgerr.Wrap(err, dbgerr.KernelRefused, "wait_all_drain")
			}
			if !ok {
				break
			}
			if _, seen := statuses[ws.Tid]; !seen {
				order = append(order, ws.Tid)
			}
			statuses[ws.Tid] = ws
		}
	}

	chain := make([]ThreadStop, 0, len(order))
	for _, tid := range order {
		ws := statuses[tid]
		if ws.Exited || ws.Signaled {
			c.reg.Unregister(tid)
			c.hw.DropThread(tid)
			chain = append(chain, c.classifyWaitStatus(tid, ws))
			continue
		}
		if !c.reg.IsLive(tid) {
			c.reg.Register(tid)
		}
		if err := c.refreshRegs(tid); err != nil {
			return nil, err
		}
		chain = append(chain, c.classifyWaitStatus(tid, ws))
	}

	if live := c.reg.Live(); len(live) > 0 {
		if err := c.sw.RestoreAll(live[0]); err != nil {
			return nil, err
		}
	}

	return chain, nil
}

func (c *Controller) classifyWaitStatus(tid int32, ws kernel.WaitStatus) ThreadStop {
	switch {
	case ws.Exited:
		return ThreadStop{Tid: tid, Reason: StopExited, ExitCode: ws.ExitCode}
	case ws.Signaled:
		return ThreadStop{Tid: tid, Reason: StopSignaled, Signal: ws.Signal}
	case !ws.Stopped:
		return ThreadStop{Tid: tid, Reason: StopUnknown}
	}

	reason, sig := c.classify(tid, ws.StopSig)
	ts := ThreadStop{Tid: tid, Reason: reason, Signal: sig}

	switch reason {
	case StopSignal:
		if t, err := c.reg.MustLookup(tid); err == nil {
			t.PendingSignal = sig
		}
	case StopBreakpoint:
		ts.Addr = c.rewindSWBP(tid)
	case StopHardwareBreakpoint:
		if addr, hit, err := c.hw.GetHit(tid); err == nil && hit {
			ts.Addr = addr
		}
	}
	return ts
}

// rewindSWBP corrects a landed software breakpoint's cached and kernel PC:
// x86-64's trap instruction leaves PC one byte past the breakpoint address,
// so the controller must rewind it back before reporting or resuming from
// this stop. A no-op on architectures whose trap already lands on the
// breakpoint address (the breakpoint size equals the architecture's
// instruction width there, so InstructionPointer already reads the right
// value and the rewind below is idempotent).
func (c *Controller) rewindSWBP(tid int32) uint64 {
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return 0
	}
	pc := c.a.InstructionPointer(t.Regs)
	bp, ok := c.sw.Lookup(pc - uint64(c.a.BreakpointSize()))
	if !ok {
		return pc
	}
	t.Regs = c.a.SetInstructionPointer(t.Regs, bp.Addr)
	if err := c.a.SetRegs(tid, t.Regs); err != nil {
		return bp.Addr
	}
	return bp.Addr
}

func (c *Controller) classify(tid int32, stopSig int) (StopReason, int) {
	// PTRACE_O_TRACESYSGOOD reports syscall stops as SIGTRAP|0x80.
	if stopSig == sigtrap|0x80 {
		return StopSyscall, 0
	}
	if stopSig != sigtrap {
		return StopSignal, stopSig
	}
	info, err := c.req.GetSigInfo(tid)
	if err != nil {
		return StopSignal, sigtrap
	}
	switch info.Code {
	case kernel.TrapBrkpt:
		return StopBreakpoint, 0
	case kernel.TrapHwbkpt:
		return StopHardwareBreakpoint, 0
	case kernel.TrapTrace:
		return StopSingleStep, 0
	default:
		if c.syscallTrace {
			return StopSyscall, 0
		}
		return StopBreakpoint, 0
	}
}

// SingleStep steps exactly one instruction on tid and waits for its stop.
// Flushes every live thread's cached GPRs first; on AArch64, if tid is
// currently stopped on an enabled hardware breakpoint, that breakpoint is
// disabled for the duration of the step and re-enabled afterward so the
// step itself isn't immediately retriggered.
func (c *Controller) SingleStep(tid int32) (ThreadStop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.orderedLiveLocked() {
		if err := c.flushRegs(t); err != nil {
			return ThreadStop{}, err
		}
	}

	ws, err := c.stepTargetLocked(tid)
	if err != nil {
		return ThreadStop{}, err
	}
	if ws.Exited {
		c.reg.Unregister(tid)
		c.hw.DropThread(tid)
		return ThreadStop{Tid: tid, Reason: StopExited, ExitCode: ws.ExitCode}, nil
	}
	if err := c.refreshRegs(tid); err != nil {
		return ThreadStop{}, err
	}
	return c.classifyWaitStatus(tid, ws), nil
}

func (c *Controller) stepTargetLocked(tid int32) (kernel.WaitStatus, error) {
	if config.Current != config.ArchARM64 {
		return c.stepRawAndWaitLocked(tid)
	}
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return kernel.WaitStatus{}, err
	}
	if t.Regs == nil {
		return c.stepRawAndWaitLocked(tid)
	}
	pc := c.a.InstructionPointer(t.Regs)
	wp := c.hwAtPC(tid, pc)
	if wp == nil || !wp.Enabled {
		return c.stepRawAndWaitLocked(tid)
	}
	if err := c.hw.Disable(tid, wp.Addr); err != nil {
		return kernel.WaitStatus{}, err
	}
	ws, err := c.stepRawAndWaitLocked(tid)
	if err != nil {
		return kernel.WaitStatus{}, err
	}
	if err := c.hw.Enable(tid, wp.Addr); err != nil {
		return kernel.WaitStatus{}, err
	}
	return ws, nil
}

// StepUntil repeatedly single-steps tid until stop returns true for the
// current instruction pointer, or budget steps have elapsed.
func (c *Controller) StepUntil(tid int32, budget int, stop func(pc uint64) bool) (ThreadStop, error) {
	for i := 0; i < budget; i++ {
		ts, err := c.SingleStep(tid)
		if err != nil {
			return ThreadStop{}, err
		}
		if ts.Reason == StopExited || ts.Reason == StopSignaled {
			return ts, nil
		}
		c.mu.Lock()
		t, err := c.reg.MustLookup(tid)
		c.mu.Unlock()
		if err != nil {
			return ts, nil
		}
		if stop(c.a.InstructionPointer(t.Regs)) {
			return ts, nil
		}
	}
	return ThreadStop{}, dbgerr.WrapWithTid(dbgerr.ErrStepBudgetExhausted, dbgerr.Internal, "step_until", tid)
}

// StepOut single-steps tid until it returns from its current function.
// nested_call_counter starts at 1 (the frame about to return); a call seen
// along the way increments it, a ret decrements it, and reaching zero on a
// ret means the target frame itself has returned — one further step is then
// taken so the reported stop lands on the instruction after the call site,
// not on the ret instruction itself. The step terminates early, counter
// frozen, if the PC does not change between steps (a hardware-breakpoint
// retry) or the instruction at PC is the software-breakpoint opcode; either way
// the caller is left to handle that stop. Original software-breakpoint
// bytes are restored on every exit path.
func (c *Controller) StepOut(tid int32, budget int) (ThreadStop, error) {
	c.mu.Lock()
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		c.mu.Unlock()
		return ThreadStop{}, err
	}
	t.NestedCallCounter = 1
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		_ = c.sw.RestoreAll(tid)
		c.mu.Unlock()
	}()

	if err := c.PrepareForRun(); err != nil {
		return ThreadStop{}, err
	}

	var prevPC uint64
	havePrevPC := false

	for i := 0; i < budget; i++ {
		ts, err := c.SingleStep(tid)
		if err != nil {
			return ThreadStop{}, err
		}
		if ts.Reason == StopExited || ts.Reason == StopSignaled {
			return ts, nil
		}

		c.mu.Lock()
		th, lerr := c.reg.MustLookup(tid)
		if lerr != nil {
			c.mu.Unlock()
			return ts, nil
		}
		pc := c.a.InstructionPointer(th.Regs)

		if havePrevPC && pc == prevPC {
			c.mu.Unlock()
			return ts, nil
		}
		prevPC = pc
		havePrevPC = true

		window, rerr := c.mem.ReadBytes(tid, pc, 8)
		if rerr != nil {
			c.mu.Unlock()
			return ts, nil
		}
		var w [8]byte
		copy(w[:], window)
		var word uint64
		for i := 7; i >= 0; i-- {
			word = word<<8 | uint64(w[i])
		}
		if c.a.IsSWBP(w[0]) || c.a.InstallBreakpoint(word) == word {
			c.mu.Unlock()
			return ts, nil
		}
		switch {
		case c.a.IsCall(w):
			th.NestedCallCounter++
		case c.a.IsRet(w[0]):
			th.NestedCallCounter--
		}
		done := th.NestedCallCounter == 0
		c.mu.Unlock()

		if done {
			return c.SingleStep(tid)
		}
	}
	return ThreadStop{}, dbgerr.WrapWithTid(dbgerr.ErrStepBudgetExhausted, dbgerr.Internal, "step_out", tid)
}

// Detach ends tracing of every live thread according to mode, processing
// the main thread last in every protocol.
func (c *Controller) Detach(mode DetachMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order := c.orderedLiveLocked()

	switch mode {
	case DetachKill:
		for _, tid := range order {
			if err := c.detachKillOneLocked(tid); err != nil {
				return err
			}
		}
		if _, err := c.req.Wait4(c.pid); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_kill", c.pid)
		}
		c.reg.FreeAll()

	case DetachMigration:
		for _, tid := range order {
			if err := c.detachMigrateOneLocked(tid); err != nil {
				return err
			}
		}
		c.reg.FreeAll()

	case DetachReattach:
		for _, tid := range order {
			if err := c.detachReattachOneLocked(tid); err != nil {
				return err
			}
		}
	}
	return nil
}

// detachKillOneLocked: attempt a GPR read to detect whether tid is still
// running; if the read fails, stop it with SIGSTOP and wait before
// proceeding. Detach, then send SIGKILL.
func (c *Controller) detachKillOneLocked(tid int32) error {
	if _, err := c.a.GetRegs(tid); err != nil {
		if err := c.req.Tgkill(c.pid, tid, sigstop); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_kill", tid)
		}
		if _, err := c.req.Wait4(tid); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_kill", tid)
		}
	}
	if err := c.req.Detach(tid, 0); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_kill", tid)
	}
	if err := c.req.Kill(tid); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_kill", tid)
	}
	c.reg.Unregister(tid)
	c.hw.DropThread(tid)
	return nil
}

// detachMigrateOneLocked: attempt to write tid's cached GPRs back; if that
// fails, SIGSTOP and wait, then retry the write. Freeze the thread with a
// second SIGSTOP so it stays stopped across the handoff, then detach.
func (c *Controller) detachMigrateOneLocked(tid int32) error {
	t, err := c.reg.MustLookup(tid)
	if err != nil {
		return err
	}
	if t.Regs != nil {
		if werr := c.a.SetRegs(tid, t.Regs); werr != nil {
			if err := c.req.Tgkill(c.pid, tid, sigstop); err != nil {
				return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_migration", tid)
			}
			if _, err := c.req.Wait4(tid); err != nil {
				return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_migration", tid)
			}
			if err := c.a.SetRegs(tid, t.Regs); err != nil {
				return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_migration", tid)
			}
		}
	}
	if err := c.req.Tgkill(c.pid, tid, sigstop); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_migration", tid)
	}
	if err := c.req.Detach(tid, 0); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_migration", tid)
	}
	c.reg.Unregister(tid)
	c.hw.DropThread(tid)
	return nil
}

// detachReattachOneLocked is migration's inverse: attach, wait for the
// resulting stop, reapply ptrace options, and refresh cached GPRs.
func (c *Controller) detachReattachOneLocked(tid int32) error {
	if err := c.req.Attach(tid); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_reattach", tid)
	}
	if _, err := c.req.Wait4(tid); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_reattach", tid)
	}
	if err := c.req.SetOptions(tid, traceOptions); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_reattach", tid)
	}
	if !c.reg.IsLive(tid) {
		c.reg.Register(tid)
	}
	return c.refreshRegs(tid)
}

// DetachAndContinue performs the migration protocol, then delivers signal
// to the thread group leader so the tracee runs free immediately instead of
// sitting stopped waiting for a new tracer.
func (c *Controller) DetachAndContinue(signal int) error {
	if err := c.Detach(DetachMigration); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.req.Tgkill(c.pid, c.pid, signal); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "detach_and_continue", c.pid)
	}
	return nil
}

// Registry exposes the underlying Thread Registry for callers (e.g. the
// CLI) that need to inspect live threads directly.
func (c *Controller) Registry() *thread.Registry { return c.reg }
