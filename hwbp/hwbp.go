// Package hwbp implements the Hardware Breakpoint/Watchpoint Table: entries
// backed by per-thread debug-register slots programmed through arch.Adapter,
// as opposed to swbp's code-patching breakpoints.
package hwbp

import (
	"sort"
	"sync"

	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
)

// Watchpoint is one installed hardware breakpoint or watchpoint.
type Watchpoint struct {
	Tid     int32
	Addr    uint64
	Kind    arch.BPKind
	Length  int
	Enabled bool
}

// Table is the per-process set of hardware breakpoints/watchpoints, indexed
// by (tid, addr) since debug registers are per-thread state.
type Table struct {
	mu  sync.Mutex
	a   arch.Adapter
	all map[int32]map[uint64]*Watchpoint
}

// New returns an empty Table.
func New(a arch.Adapter) *Table {
	return &Table{a: a, all: make(map[int32]map[uint64]*Watchpoint)}
}

// Register programs a free debug slot on tid to trigger on addr.
func (t *Table) Register(tid int32, addr uint64, kind arch.BPKind, length int) (*Watchpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if byAddr, ok := t.all[tid]; ok {
		if wp, ok := byAddr[addr]; ok {
			return wp, nil
		}
	}

	if err := t.a.InstallHW(tid, addr, kind, length); err != nil {
		return nil, err
	}

	wp := &Watchpoint{Tid: tid, Addr: addr, Kind: kind, Length: length, Enabled: true}
	if t.all[tid] == nil {
		t.all[tid] = make(map[uint64]*Watchpoint)
	}
	t.all[tid][addr] = wp
	return wp, nil
}

// Unregister clears the debug slot holding addr on tid.
func (t *Table) Unregister(tid int32, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byAddr, ok := t.all[tid]
	if !ok {
		return dbgerr.WrapWithTid(dbgerr.ErrHWBreakpointNotFound, dbgerr.NotFound, "hwbp_unregister", tid)
	}
	wp, ok := byAddr[addr]
	if !ok {
		return dbgerr.WrapWithTid(dbgerr.ErrHWBreakpointNotFound, dbgerr.NotFound, "hwbp_unregister", tid)
	}
	if wp.Enabled {
		if err := t.a.RemoveHW(tid, addr); err != nil {
			return err
		}
	}
	delete(byAddr, addr)
	return nil
}

// Enable re-programs a previously disabled watchpoint.
func (t *Table) Enable(tid int32, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wp, err := t.lookupLocked(tid, addr)
	if err != nil {
		return err
	}
	if wp.Enabled {
		return nil
	}
	if err := t.a.InstallHW(tid, addr, wp.Kind, wp.Length); err != nil {
		return err
	}
	wp.Enabled = true
	return nil
}

// Disable clears the slot without forgetting the watchpoint's configuration.
func (t *Table) Disable(tid int32, addr uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wp, err := t.lookupLocked(tid, addr)
	if err != nil {
		return err
	}
	if !wp.Enabled {
		return nil
	}
	if err := t.a.RemoveHW(tid, addr); err != nil {
		return err
	}
	wp.Enabled = false
	return nil
}

func (t *Table) lookupLocked(tid int32, addr uint64) (*Watchpoint, error) {
	byAddr, ok := t.all[tid]
	if !ok {
		return nil, dbgerr.WrapWithTid(dbgerr.ErrHWBreakpointNotFound, dbgerr.NotFound, "hwbp_lookup", tid)
	}
	wp, ok := byAddr[addr]
	if !ok {
		return nil, dbgerr.WrapWithTid(dbgerr.ErrHWBreakpointNotFound, dbgerr.NotFound, "hwbp_lookup", tid)
	}
	return wp, nil
}

// GetHit scans every watchpoint owned by tid, in ascending address order,
// for the first whose debug slot fired at the most recent stop, and reports
// its address. Returns ok=false if none hit.
func (t *Table) GetHit(tid int32) (uint64, bool, error) {
	t.mu.Lock()
	byAddr := t.all[tid]
	addrs := make([]uint64, 0, len(byAddr))
	for addr := range byAddr {
		addrs = append(addrs, addr)
	}
	t.mu.Unlock()
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, addr := range addrs {
		hit, err := t.a.HWWasHit(tid, addr)
		if err != nil {
			return 0, false, err
		}
		if hit {
			return addr, true, nil
		}
	}
	return 0, false, nil
}

// RemainingSlots reports how many debug slots of kind are free on tid.
func (t *Table) RemainingSlots(tid int32, kind arch.SlotKind) (int, error) {
	return t.a.RemainingHWSlots(tid, kind)
}

// ForThread returns every watchpoint registered for tid.
func (t *Table) ForThread(tid int32) []*Watchpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	byAddr := t.all[tid]
	out := make([]*Watchpoint, 0, len(byAddr))
	for _, wp := range byAddr {
		out = append(out, wp)
	}
	return out
}

// DropThread removes every entry registered for tid without touching the
// hardware (used after a thread has already exited and its registers are
// gone).
func (t *Table) DropThread(tid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.all, tid)
}
