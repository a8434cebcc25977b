package arm64

import (
	"github.com/kornnellio/godbg/arch"
	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/kernel"
)

// maxHWSlots is the largest number of debug_info_t structures ARMv8
// implementations expose (kernel caps both dbg_bp and dbg_wp pools here);
// actual hardware may report fewer via the regset's header count field.
const maxHWSlots = 16

// struct user_hwdebug_state header: dbg_info (4 bytes) + pad (4 bytes),
// followed by up to maxHWSlots struct hw_bp { addr uint64; ctrl uint32; pad uint32 }.
const hwStateHeaderSize = 8
const hwBpEntrySize = 16

func hwStateSize() int { return hwStateHeaderSize + maxHWSlots*hwBpEntrySize }

// readHWState reads the NT_ARM_HW_BREAK or NT_ARM_HW_WATCH regset for tid
// and returns the slot count reported by the kernel plus the raw buffer.
func (a *Adapter) readHWState(tid int32, note kernel.Regset) (int, []byte, error) {
	buf := make([]byte, hwStateSize())
	if err := a.req.GetRegSet(tid, note, buf); err != nil {
		return 0, nil, err
	}
	count := int(buf[0])
	return count, buf, nil
}

func (a *Adapter) writeHWState(tid int32, note kernel.Regset, buf []byte) error {
	return a.req.SetRegSet(tid, note, buf)
}

func slotOffset(slot int) int { return hwStateHeaderSize + slot*hwBpEntrySize }

func noteFor(kind arch.BPKind) kernel.Regset {
	if kind == arch.Execute {
		return kernel.NoteArmHWBreak
	}
	return kernel.NoteArmHWWatch
}

// byteLengthBits encodes the BAS/LSC length field for a watchpoint of the
// given byte length (1, 2, 4, or 8), a contiguous-bits mask starting at bit 5.
func byteLengthBits(length int) uint32 {
	if length <= 0 || length > 8 {
		length = 8
	}
	mask := uint32(0)
	for i := 0; i < length; i++ {
		mask |= 1 << uint(i)
	}
	return mask << 5
}

func conditionBits(kind arch.BPKind) uint32 {
	switch kind {
	case arch.Write:
		return 0b10 << 3
	case arch.ReadWrite:
		return 0b11 << 3
	default:
		return 0b11 << 3 // execute breakpoints ignore LSC; harmless default
	}
}

// InstallHW implements arch.Adapter: finds a free slot in the break or watch
// regset (as selected by kind) and programs its address/control word.
func (a *Adapter) InstallHW(tid int32, addr uint64, kind arch.BPKind, length int) error {
	note := noteFor(kind)
	count, buf, err := a.readHWState(tid, note)
	if err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "install_hw", tid)
	}
	slot := -1
	for i := 0; i < count && i < maxHWSlots; i++ {
		off := slotOffset(i)
		a64 := le.Uint64(buf[off:])
		if a64 == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return dbgerr.WrapWithTid(dbgerr.ErrNoFreeSlot, dbgerr.ResourceExhausted, "install_hw", tid)
	}

	off := slotOffset(slot)
	le.PutUint64(buf[off:], addr)
	ctrl := uint32(0b10<<1 | 1) // EL0 privilege, enable bit
	if note == kernel.NoteArmHWWatch {
		ctrl |= byteLengthBits(length)
		ctrl |= conditionBits(kind)
	} else {
		ctrl |= byteLengthBits(4) // BAS covering the full 4-byte instruction word for an exec bp
	}
	le.PutUint32(buf[off+8:], ctrl)

	if err := a.writeHWState(tid, note, buf); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "install_hw", tid)
	}
	return nil
}

// RemoveHW implements arch.Adapter. Since breakpoints and watchpoints live in
// separate regsets here, both are checked.
func (a *Adapter) RemoveHW(tid int32, addr uint64) error {
	for _, note := range []kernel.Regset{kernel.NoteArmHWBreak, kernel.NoteArmHWWatch} {
		count, buf, err := a.readHWState(tid, note)
		if err != nil {
			return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remove_hw", tid)
		}
		for i := 0; i < count && i < maxHWSlots; i++ {
			off := slotOffset(i)
			if le.Uint64(buf[off:]) == addr {
				le.PutUint64(buf[off:], 0)
				le.PutUint32(buf[off+8:], 0)
				if err := a.writeHWState(tid, note, buf); err != nil {
					return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remove_hw", tid)
				}
				return nil
			}
		}
	}
	return dbgerr.WrapWithTid(dbgerr.ErrHWBreakpointNotFound, dbgerr.NotFound, "remove_hw", tid)
}

// HWWasHit implements arch.Adapter. AArch64 reports a hit via the SIGTRAP
// si_code (TRAP_HWBKPT) the controller already inspects, not a status
// register readable per-slot the way x86-64's DR6 works; since the address
// is supplied by the caller and matched against the programmed slot, a
// stop classified as a hardware trap that reaches here for this addr is
// itself the hit signal.
func (a *Adapter) HWWasHit(tid int32, addr uint64) (bool, error) {
	for _, note := range []kernel.Regset{kernel.NoteArmHWBreak, kernel.NoteArmHWWatch} {
		count, buf, err := a.readHWState(tid, note)
		if err != nil {
			return false, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "hw_was_hit", tid)
		}
		for i := 0; i < count && i < maxHWSlots; i++ {
			off := slotOffset(i)
			if le.Uint64(buf[off:]) == addr {
				return true, nil
			}
		}
	}
	return false, nil
}

// RemainingHWSlots implements arch.Adapter. Unlike x86-64, break and watch
// pools are independent regsets here.
func (a *Adapter) RemainingHWSlots(tid int32, kind arch.SlotKind) (int, error) {
	note := kernel.NoteArmHWBreak
	if kind == arch.SlotWatch {
		note = kernel.NoteArmHWWatch
	}
	count, buf, err := a.readHWState(tid, note)
	if err != nil {
		return 0, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "remaining_hw_slots", tid)
	}
	free := 0
	for i := 0; i < count && i < maxHWSlots; i++ {
		off := slotOffset(i)
		if le.Uint64(buf[off:]) == 0 {
			free++
		}
	}
	return free, nil
}
