// Package memory implements the Memory Access component: word-granularity
// reads and writes of a tracee's address space via PTRACE_PEEKDATA/POKEDATA,
// built up into byte-range helpers for the software breakpoint patcher and
// the instruction-window classifier the Execution Controller uses for
// step-out/call detection.
package memory

import (
	"encoding/binary"

	dbgerr "github.com/kornnellio/godbg/errors"
	"github.com/kornnellio/godbg/kernel"
)

const wordSize = 8

// Access reads and writes a tracee's memory through a kernel.Requester.
type Access struct {
	req kernel.Requester
}

// New returns an Access backed by req.
func New(req kernel.Requester) *Access {
	return &Access{req: req}
}

// ReadWord reads a single aligned or unaligned 8-byte word at addr.
func (a *Access) ReadWord(tid int32, addr uint64) (uint64, error) {
	w, err := a.req.PeekData(tid, uintptr(addr))
	if err != nil {
		return 0, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "read_word", tid)
	}
	return w, nil
}

// WriteWord writes a single 8-byte word at addr.
func (a *Access) WriteWord(tid int32, addr uint64, word uint64) error {
	if err := a.req.PokeData(tid, uintptr(addr), word); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "write_word", tid)
	}
	return nil
}

// ReadBytes reads n bytes starting at addr, a word at a time, trimming the
// last word down to the requested length.
func (a *Access) ReadBytes(tid int32, addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		w, err := a.ReadWord(tid, addr+uint64(len(out)))
		if err != nil {
			return nil, err
		}
		var buf [wordSize]byte
		binary.LittleEndian.PutUint64(buf[:], w)
		remain := n - len(out)
		if remain > wordSize {
			remain = wordSize
		}
		out = append(out, buf[:remain]...)
	}
	return out, nil
}

// WriteBytes writes data at addr using a read-modify-write for any partial
// word at the tail, so bytes past len(data) within the last word are
// preserved rather than zeroed.
func (a *Access) WriteBytes(tid int32, addr uint64, data []byte) error {
	written := 0
	for written < len(data) {
		wordAddr := addr + uint64(written)
		remain := len(data) - written
		if remain >= wordSize {
			var buf [wordSize]byte
			copy(buf[:], data[written:written+wordSize])
			if err := a.WriteWord(tid, wordAddr, binary.LittleEndian.Uint64(buf[:])); err != nil {
				return err
			}
			written += wordSize
			continue
		}
		existing, err := a.ReadWord(tid, wordAddr)
		if err != nil {
			return err
		}
		var buf [wordSize]byte
		binary.LittleEndian.PutUint64(buf[:], existing)
		copy(buf[:remain], data[written:])
		if err := a.WriteWord(tid, wordAddr, binary.LittleEndian.Uint64(buf[:])); err != nil {
			return err
		}
		written += remain
	}
	return nil
}

// userAreaWatchBit marks an offset as belonging to the AArch64 user-area
// watch (set) rather than break (clear) slot namespace. Only
// IsWatchSlotOffset reads it; PeekUser and PokeUser do not.
const userAreaWatchBit = 0x1000

// PeekUser reads a PTRACE_PEEKUSER-style offset. On x86-64 this addresses the
// kernel's struct user directly. The offset is passed to the kernel as is on
// every architecture: there is no AArch64 emulation through the
// NT_ARM_HW_* regsets, and the arm64 adapter does not call PeekUser or
// PokeUser.
func (a *Access) PeekUser(tid int32, offset int64) (uint64, error) {
	v, err := a.req.PeekUser(tid, offset)
	if err != nil {
		return 0, dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "peek_user", tid)
	}
	return v, nil
}

// PokeUser writes a PTRACE_POKEUSER-style offset. See PeekUser.
func (a *Access) PokeUser(tid int32, offset int64, value uint64) error {
	if err := a.req.PokeUser(tid, offset, value); err != nil {
		return dbgerr.WrapWithTid(err, dbgerr.KernelRefused, "poke_user", tid)
	}
	return nil
}

// IsWatchSlotOffset reports whether offset addresses the watch (as opposed
// to break) emulated user-area namespace.
func IsWatchSlotOffset(offset int64) bool {
	return offset&userAreaWatchBit != 0
}
