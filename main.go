// godbg is a native ptrace-based debugger control core for Linux: attach to
// a tracee, manage its threads, install software and hardware breakpoints,
// step or continue execution, and read/write its register state.
//
// Commands:
//
//	repl <pid>              - Attach to pid and open an interactive session
//	exec <pid> <command>    - Attach to pid, run one session command, then detach
//	launch <path> [args...] - Start path under PTRACE_TRACEME and open a session
//
// Session commands: break (b), unbreak, hwbreak (hb), unhwbreak, step (s),
// stepout (so), cont (c), syscalltrace, detach [kill|migrate|reattach],
// threads.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/kornnellio/godbg/cmd"
)

func main() {
	// ptrace requests must all come from the OS thread that attached.
	runtime.LockOSThread()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
