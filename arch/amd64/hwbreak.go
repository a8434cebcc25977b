package amd64

import (
	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
)

// debugRegOffset is the byte offset of u_debugreg[0] inside the kernel's
// struct user on x86-64 (offsetof(struct user, u_debugreg)); a long-stable
// part of the ptrace ABI that every x86-64 debugger hardcodes the same way.
// Each of the 8 debug registers follows at 8-byte strides.
const debugRegOffset = 848

const numDebugSlots = 4

func drOffset(slot int) int64 { return debugRegOffset + int64(slot)*8 }

// dr7Offset is the offset of DR7, the debug control register.
func dr7Offset() int64 { return debugRegOffset + 7*8 }

// dr6Offset is the offset of DR6, the debug status register.
func dr6Offset() int64 { return debugRegOffset + 6*8 }

// conditionBits encodes the DR7 "condition" field: 00 execute, 01 write, 11 r/w.
func conditionBits(kind arch.BPKind) uint64 {
	switch kind {
	case arch.Execute:
		return 0b00
	case arch.Write:
		return 0b01
	case arch.ReadWrite:
		return 0b11
	default:
		return 0b00
	}
}

// lengthBits encodes the DR7 "length" field: 00=1,01=2,10=8,11=4.
func lengthBits(length int) uint64 {
	switch length {
	case 1:
		return 0b00
	case 2:
		return 0b01
	case 8:
		return 0b10
	case 4:
		return 0b11
	default:
		return 0b00
	}
}

func (a *Adapter) readDR(tid int32, slot int) (uint64, error) {
	return a.req.PeekUser(tid, drOffset(slot))
}

func (a *Adapter) writeDR(tid int32, slot int, value uint64) error {
	return a.req.PokeUser(tid, drOffset(slot), value)
}

// findFreeSlot scans DR0-DR3 for a zero address.
func (a *Adapter) findFreeSlot(tid int32) (int, error) {
	for slot := 0; slot < numDebugSlots; slot++ {
		v, err := a.readDR(tid, slot)
		if err != nil {
			return -1, err
		}
		if v == 0 {
			return slot, nil
		}
	}
	return -1, nil
}

// findSlotFor returns the DR0-DR3 index currently holding addr, or -1.
func (a *Adapter) findSlotFor(tid int32, addr uint64) (int, error) {
	for slot := 0; slot < numDebugSlots; slot++ {
		v, err := a.readDR(tid, slot)
		if err != nil {
			return -1, err
		}
		if v == addr {
			return slot, nil
		}
	}
	return -1, nil
}

// InstallHW implements arch.Adapter.
func (a *Adapter) InstallHW(tid int32, addr uint64, kind arch.BPKind, length int) error {
	slot, err := a.findFreeSlot(tid)
	if err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "install_hw", tid)
	}
	if slot < 0 {
		return dbgerr.WrapWithTid(dbgerr.ErrNoFreeSlot, dbgerr.ResourceExhausted, "install_hw", tid)
	}
	if err := a.writeDR(tid, slot, addr); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "install_hw", tid)
	}
	dr7, err := a.readDR(tid, 7)
	if err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "install_hw", tid)
	}
	localEnable := uint64(1) << (uint(slot) * 2)
	condShift := uint(16 + slot*4)
	lenShift := uint(18 + slot*4)
	clearMask := (uint64(0x3) << condShift) | (uint64(0x3) << lenShift) | localEnable
	dr7 &^= clearMask
	dr7 |= localEnable
	dr7 |= conditionBits(kind) << condShift
	dr7 |= lengthBits(length) << lenShift
	if err := a.writeDR(tid, 7, dr7); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "install_hw", tid)
	}
	return nil
}

// RemoveHW implements arch.Adapter.
func (a *Adapter) RemoveHW(tid int32, addr uint64) error {
	slot, err := a.findSlotFor(tid, addr)
	if err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remove_hw", tid)
	}
	if slot < 0 {
		return dbgerr.WrapWithTid(dbgerr.ErrHWBreakpointNotFound, dbgerr.NotFound, "remove_hw", tid)
	}
	if err := a.writeDR(tid, slot, 0); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remove_hw", tid)
	}
	dr7, err := a.readDR(tid, 7)
	if err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remove_hw", tid)
	}
	dr7 &^= uint64(1) << (uint(slot) * 2)
	return a.writeDR(tid, 7, dr7)
}

// HWWasHit implements arch.Adapter: reads DR6 and maps its low four bits to
// the slot index that currently holds addr. DR6 is sticky in hardware — the
// CPU never clears a hit bit on its own — so a hit found here is cleared
// back out before returning, otherwise every later stop would keep reporting
// the same slot as freshly hit.
func (a *Adapter) HWWasHit(tid int32, addr uint64) (bool, error) {
	slot, err := a.findSlotFor(tid, addr)
	if err != nil {
		return false, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "hw_was_hit", tid)
	}
	if slot < 0 {
		return false, nil
	}
	dr6, err := a.readDR(tid, 6)
	if err != nil {
		return false, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "hw_was_hit", tid)
	}
	bit := uint64(1) << uint(slot)
	hit := dr6&bit != 0
	if hit {
		if err := a.writeDR(tid, 6, dr6&^bit); err != nil {
			return false, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "hw_was_hit", tid)
		}
	}
	return hit, nil
}

// RemainingHWSlots implements arch.Adapter. On x86-64 the breakpoint and
// watchpoint pools are the same four DR0-DR3 registers, so SlotBreak and
// SlotWatch report the same count — see the §9 rough-edge note: callers
// must not assume independence on x86-64.
func (a *Adapter) RemainingHWSlots(tid int32, _ arch.SlotKind) (int, error) {
	free := 0
	for slot := 0; slot < numDebugSlots; slot++ {
		v, err := a.readDR(tid, slot)
		if err != nil {
			return 0, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remaining_hw_slots", tid)
		}
		if v == 0 {
			free++
		}
	}
	return free, nil
}
