// Package cmd implements godbg's demo CLI: a thin cobra front end over the
// controller package, built to exercise every operation the debugger core
// exposes. It is not the scripting surface a real debugging tool would
// offer its users — just enough to attach, plant breakpoints, and step a
// process from a terminal.
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kornnellio/godbg/arch"
	"github.com/kornnellio/godbg/controller"
	"github.com/kornnellio/godbg/hwbp"
	"github.com/kornnellio/godbg/kernel"
	"github.com/kornnellio/godbg/memory"
	"github.com/kornnellio/godbg/swbp"
	"github.com/kornnellio/godbg/thread"
)

// session bundles one attached process's components together for the
// lifetime of a single godbg invocation.
type session struct {
	pid  int32
	ctl  *controller.Controller
	sw   *swbp.Table
	hw   *hwbp.Table
	regs *thread.Registry
}

func newSession(pid int32) (*session, error) {
	ctl, sw, hw, reg, err := newWiredController()
	if err != nil {
		return nil, err
	}
	if err := ctl.Attach(pid); err != nil {
		return nil, fmt.Errorf("attach %d: %w", pid, err)
	}
	return &session{pid: pid, ctl: ctl, sw: sw, hw: hw, regs: reg}, nil
}

// newSessionLaunch is the trace_me() counterpart to newSession: it starts
// path itself under PTRACE_TRACEME instead of attaching to an existing pid.
func newSessionLaunch(path string, args []string) (*session, error) {
	ctl, sw, hw, reg, err := newWiredController()
	if err != nil {
		return nil, err
	}
	if err := ctl.Launch(path, args); err != nil {
		return nil, fmt.Errorf("launch %s: %w", path, err)
	}
	pid := int32(0)
	if live := reg.Live(); len(live) == 1 {
		pid = live[0]
	}
	return &session{pid: pid, ctl: ctl, sw: sw, hw: hw, regs: reg}, nil
}

func newWiredController() (*controller.Controller, *swbp.Table, *hwbp.Table, *thread.Registry, error) {
	req := kernel.NewUnix()
	a, err := controller.NewAdapter(req)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("select arch adapter: %w", err)
	}
	mem := memory.New(req)
	reg := thread.New()
	sw := swbp.New(a, mem)
	hw := hwbp.New(a)
	ctl := controller.New(req, a, mem, reg, sw, hw)
	return ctl, sw, hw, reg, nil
}

// dispatch runs one REPL verb and returns a line of output to print, or an
// error. It is shared between the interactive REPL and the scripted
// one-shot `godbg exec` subcommand so both paths exercise identical logic.
func (s *session) dispatch(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case "break", "b":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: break <addr>")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return "", err
		}
		if _, err := s.sw.Register(s.pid, addr); err != nil {
			return "", err
		}
		return fmt.Sprintf("breakpoint set at 0x%x", addr), nil

	case "unbreak":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: unbreak <addr>")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return "", err
		}
		if err := s.sw.Unregister(s.pid, addr); err != nil {
			return "", err
		}
		return fmt.Sprintf("breakpoint cleared at 0x%x", addr), nil

	case "hwbreak", "hb":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: hwbreak <addr> <x|w|rw> [length]")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return "", err
		}
		kind, err := parseKind(args[1])
		if err != nil {
			return "", err
		}
		length := 1
		if len(args) > 2 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return "", fmt.Errorf("bad length %q: %w", args[2], err)
			}
			length = n
		}
		if _, err := s.hw.Register(s.pid, addr, kind, length); err != nil {
			return "", err
		}
		return fmt.Sprintf("hardware breakpoint set at 0x%x (%s, %d)", addr, args[1], length), nil

	case "unhwbreak":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: unhwbreak <addr>")
		}
		addr, err := parseAddr(args[0])
		if err != nil {
			return "", err
		}
		if err := s.hw.Unregister(s.pid, addr); err != nil {
			return "", err
		}
		return fmt.Sprintf("hardware breakpoint cleared at 0x%x", addr), nil

	case "step", "s":
		if err := s.ctl.PrepareForRun(); err != nil {
			return "", err
		}
		ts, err := s.ctl.SingleStep(s.pid)
		if err != nil {
			return "", err
		}
		return describeStop(ts), nil

	case "stepout", "so":
		if err := s.ctl.PrepareForRun(); err != nil {
			return "", err
		}
		ts, err := s.ctl.StepOut(s.pid, 1_000_000)
		if err != nil {
			return "", err
		}
		return describeStop(ts), nil

	case "cont", "c":
		if err := s.ctl.PrepareForRun(); err != nil {
			return "", err
		}
		if err := s.ctl.ContinueAll(); err != nil {
			return "", err
		}
		chain, err := s.ctl.WaitAllAndUpdateRegs()
		if err != nil {
			return "", err
		}
		lines := make([]string, len(chain))
		for i, ts := range chain {
			lines[i] = describeStop(ts)
		}
		return strings.Join(lines, "\n"), nil

	case "syscalltrace":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: syscalltrace <on|off>")
		}
		s.ctl.SetSyscallTrace(args[0] == "on")
		return "syscall trace " + args[0], nil

	case "detach":
		mode := controller.DetachMigration
		if len(args) > 0 {
			switch args[0] {
			case "kill":
				mode = controller.DetachKill
			case "migrate":
				mode = controller.DetachMigration
			case "reattach":
				mode = controller.DetachReattach
			default:
				return "", fmt.Errorf("unknown detach mode %q", args[0])
			}
		}
		if err := s.ctl.Detach(mode); err != nil {
			return "", err
		}
		return "detached", nil

	case "threads":
		var b strings.Builder
		for _, tid := range s.regs.Live() {
			fmt.Fprintf(&b, "%d\n", tid)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	default:
		return "", fmt.Errorf("unknown command %q", verb)
	}
}

func describeStop(ts controller.ThreadStop) string {
	switch ts.Reason {
	case controller.StopBreakpoint:
		return fmt.Sprintf("tid %d hit software breakpoint at 0x%x", ts.Tid, ts.Addr)
	case controller.StopHardwareBreakpoint:
		return fmt.Sprintf("tid %d hit hardware breakpoint at 0x%x", ts.Tid, ts.Addr)
	case controller.StopSingleStep:
		return fmt.Sprintf("tid %d single-step stop", ts.Tid)
	case controller.StopSyscall:
		return fmt.Sprintf("tid %d syscall stop", ts.Tid)
	case controller.StopSignal:
		return fmt.Sprintf("tid %d stopped with signal %d", ts.Tid, ts.Signal)
	case controller.StopExited:
		return fmt.Sprintf("tid %d exited with code %d", ts.Tid, ts.ExitCode)
	case controller.StopSignaled:
		return fmt.Sprintf("tid %d killed by signal %d", ts.Tid, ts.Signal)
	default:
		return fmt.Sprintf("tid %d stopped (unknown reason)", ts.Tid)
	}
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return v, nil
}

func parseKind(s string) (arch.BPKind, error) {
	switch s {
	case "x":
		return arch.Execute, nil
	case "w":
		return arch.Write, nil
	case "rw":
		return arch.ReadWrite, nil
	default:
		return 0, fmt.Errorf("bad breakpoint kind %q (want x, w, or rw)", s)
	}
}
