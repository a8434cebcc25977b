// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Thread lifecycle errors.
var (
	// ErrThreadNotFound indicates the tid has no live registry entry.
	ErrThreadNotFound = &DebugError{
		Kind:   NotFound,
		Detail: "thread not registered",
	}

	// ErrThreadAlreadyDead indicates the tid is already in the graveyard.
	ErrThreadAlreadyDead = &DebugError{
		Kind:   NotFound,
		Detail: "thread already unregistered",
	}
)

// Software breakpoint errors.
var (
	// ErrBreakpointNotFound indicates no software breakpoint at that address.
	ErrBreakpointNotFound = &DebugError{
		Kind:   NotFound,
		Detail: "software breakpoint not registered",
	}
)

// Hardware breakpoint/watchpoint errors.
var (
	// ErrHWBreakpointDuplicate indicates a (tid, addr) pair is already registered.
	ErrHWBreakpointDuplicate = &DebugError{
		Kind:   Duplicate,
		Detail: "hardware breakpoint already registered for this thread and address",
	}

	// ErrHWBreakpointNotFound indicates no hardware breakpoint at (tid, addr).
	ErrHWBreakpointNotFound = &DebugError{
		Kind:   NotFound,
		Detail: "hardware breakpoint not registered",
	}

	// ErrNoFreeSlot indicates every hardware debug slot on the thread is in use.
	ErrNoFreeSlot = &DebugError{
		Kind:   ResourceExhausted,
		Detail: "no free hardware debug slot",
	}
)

// Kernel request errors.
var (
	// ErrPtraceFailed indicates a tracing syscall returned -1.
	ErrPtraceFailed = &DebugError{
		Kind:   KernelRefused,
		Detail: "ptrace request failed",
	}

	// ErrWaitFailed indicates waitpid on the process group failed.
	ErrWaitFailed = &DebugError{
		Kind:   KernelRefused,
		Detail: "wait failed",
	}
)

// Controller errors.
var (
	// ErrNoLiveThreads indicates an operation was attempted with no tracee
	// threads registered.
	ErrNoLiveThreads = &DebugError{
		Kind:   Internal,
		Detail: "no live threads",
	}

	// ErrStepBudgetExhausted indicates step_until ran out of steps before
	// reaching the target address.
	ErrStepBudgetExhausted = &DebugError{
		Kind:   Internal,
		Detail: "step budget exhausted",
	}
)
