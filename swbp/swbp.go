// Package swbp implements the Software Breakpoint Table: breakpoints
// installed by patching the tracee's code with the architecture's trap
// instruction, and removed by restoring the original bytes.
package swbp

import (
	"sort"
	"sync"

	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/memory"
)

// Breakpoint is one installed software breakpoint.
type Breakpoint struct {
	Addr     uint64
	Original []byte // the bytes InstallBreakpoint overwrote
	Enabled  bool
}

// Table is the process-wide (not per-thread — code is shared across threads)
// set of installed software breakpoints, kept sorted by address.
type Table struct {
	mu   sync.Mutex
	a    arch.Adapter
	mem  *memory.Access
	bps  []*Breakpoint
}

// New returns an empty Table.
func New(a arch.Adapter, mem *memory.Access) *Table {
	return &Table{a: a, mem: mem}
}

func (t *Table) find(addr uint64) (int, bool) {
	i := sort.Search(len(t.bps), func(i int) bool { return t.bps[i].Addr >= addr })
	if i < len(t.bps) && t.bps[i].Addr == addr {
		return i, true
	}
	return i, false
}

// Register patches tid's code at addr with the breakpoint opcode and records
// the original bytes so Unregister/Disable can restore them. Any live
// thread sharing the address space sees the patch; a tid is only needed to
// issue the peek/poke.
func (t *Table) Register(tid int32, addr uint64) (*Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.find(addr); ok {
		return t.bps[i], nil
	}

	size := t.a.BreakpointSize()
	orig, err := t.mem.ReadBytes(tid, addr, size)
	if err != nil {
		return nil, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "swbp_register", tid)
	}

	bp := &Breakpoint{Addr: addr, Original: orig}
	if err := t.patch(tid, bp); err != nil {
		return nil, err
	}
	bp.Enabled = true

	i, _ := t.find(addr)
	t.bps = append(t.bps, nil)
	copy(t.bps[i+1:], t.bps[i:])
	t.bps[i] = bp
	return bp, nil
}

// Unregister restores the original bytes at addr and drops the record.
func (t *Table) Unregister(tid int32, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.find(addr)
	if !ok {
		return dbgerr.WrapWithTid(dbgerr.ErrBreakpointNotFound, dbgerr.NotFound, "swbp_unregister", tid)
	}
	bp := t.bps[i]
	if bp.Enabled {
		if err := t.mem.WriteBytes(tid, bp.Addr, bp.Original); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "swbp_unregister", tid)
		}
	}
	t.bps = append(t.bps[:i], t.bps[i+1:]...)
	return nil
}

// Enable re-patches a previously disabled breakpoint.
func (t *Table) Enable(tid int32, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.find(addr)
	if !ok {
		return dbgerr.WrapWithTid(dbgerr.ErrBreakpointNotFound, dbgerr.NotFound, "swbp_enable", tid)
	}
	bp := t.bps[i]
	if bp.Enabled {
		return nil
	}
	if err := t.patch(tid, bp); err != nil {
		return err
	}
	bp.Enabled = true
	return nil
}

// Disable restores the original bytes without forgetting the breakpoint.
func (t *Table) Disable(tid int32, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.find(addr)
	if !ok {
		return dbgerr.WrapWithTid(dbgerr.ErrBreakpointNotFound, dbgerr.NotFound, "swbp_disable", tid)
	}
	bp := t.bps[i]
	if !bp.Enabled {
		return nil
	}
	if err := t.mem.WriteBytes(tid, bp.Addr, bp.Original); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "swbp_disable", tid)
	}
	bp.Enabled = false
	return nil
}

func (t *Table) patch(tid int32, bp *Breakpoint) error {
	var word [8]byte
	copy(word[:], bp.Original)
	patched := t.a.InstallBreakpoint(leUint64(word))
	var buf [8]byte
	putLeUint64(buf[:], patched)
	return t.mem.WriteBytes(tid, bp.Addr, buf[:t.a.BreakpointSize()])
}

// ApplyAll re-patches every enabled breakpoint's code, the last step of
// prepare-for-run before a thread resumes.
func (t *Table) ApplyAll(tid int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, bp := range t.bps {
		if !bp.Enabled {
			continue
		}
		if err := t.patch(tid, bp); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll writes back the original bytes of every enabled breakpoint.
// Called once the tracee is stopped so a caller inspecting memory — or
// reading the instruction at the current PC — sees the pristine image
// rather than the trap opcode.
func (t *Table) RestoreAll(tid int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, bp := range t.bps {
		if !bp.Enabled {
			continue
		}
		if err := t.mem.WriteBytes(tid, bp.Addr, bp.Original); err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "swbp_restore_all", tid)
		}
	}
	return nil
}

// Lookup returns the breakpoint at addr, if any.
func (t *Table) Lookup(addr uint64) (*Breakpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.find(addr)
	if !ok {
		return nil, false
	}
	return t.bps[i], true
}

// All returns every registered breakpoint, sorted by address.
func (t *Table) All() []*Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Breakpoint, len(t.bps))
	copy(out, t.bps)
	return out
}

func leUint64(b [8]byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < len(b) && i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
