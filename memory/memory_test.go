package memory

import (
	"testing"

	"github.com/kornnellio/godbg/arch"
	"github.com/kornnellio/godbg/kernel"
)

type fakeRequester struct {
	mem map[uint64]byte
}

func newFakeRequester() *fakeRequester { return &fakeRequester{mem: make(map[uint64]byte)} }

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
func (f *fakeRequester) Attach(int32) error                    { return nil }
func (f *fakeRequester) Detach(int32, int) error                { return nil }
func (f *fakeRequester) Kill(int32) error                       { return nil }
func (f *fakeRequester) SetOptions(int32, int) error             { return nil }
func (f *fakeRequester) Cont(int32, int) error                   { return nil }
func (f *fakeRequester) Syscall(int32, int) error                { return nil }
func (f *fakeRequester) SingleStep(int32, int) error             { return nil }
func (f *fakeRequester) Wait4(int32) (kernel.WaitStatus, error)  { return kernel.WaitStatus{}, nil }
func (f *fakeRequester) WaitAny() (kernel.WaitStatus, error)     { return kernel.WaitStatus{}, nil }
func (f *fakeRequester) TryWaitAny() (kernel.WaitStatus, bool, error) {
	return kernel.WaitStatus{}, false, nil
}
func (f *fakeRequester) GetRegs(int32, arch.GPR) error           { return nil }
func (f *fakeRequester) SetRegs(int32, arch.GPR) error           { return nil }
func (f *fakeRequester) GetFPRegs(int32, arch.FP) error          { return nil }
func (f *fakeRequester) SetFPRegs(int32, arch.FP) error          { return nil }
func (f *fakeRequester) GetRegSet(int32, kernel.Regset, []byte) error { return nil }
func (f *fakeRequester) SetRegSet(int32, kernel.Regset, []byte) error { return nil }
func (f *fakeRequester) Tgkill(int32, int32, int) error          { return nil }
func (f *fakeRequester) GetSigInfo(int32) (kernel.SigInfo, error) { return kernel.SigInfo{}, nil }
func (f *fakeRequester) GetEventMsg(int32) (uint64, error)       { return 0, nil }

func TestReadWriteWord(t *testing.T) {
	req := newFakeRequester()
	a := New(req)

	if err := a.WriteWord(1, 0x1000, 0x1122334455667788); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, err := a.ReadWord(1, 0x1000)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0x1122334455667788 {
		t.Fatalf("got %#x, want %#x", got, uint64(0x1122334455667788))
	}
}

func TestReadBytesSpansMultipleWords(t *testing.T) {
	req := newFakeRequester()
	a := New(req)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if err := a.WriteBytes(1, 0x2000, data); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := a.ReadBytes(1, 0x2000, len(data))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}

func TestWriteBytesPreservesTrailingBytes(t *testing.T) {
	req := newFakeRequester()
	a := New(req)
	// Seed a full word, then overwrite only its first 3 bytes.
	if err := a.WriteWord(1, 0x3000, 0xffffffffffffffff); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := a.WriteBytes(1, 0x3000, []byte{0xaa, 0xbb, 0xcc}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := a.ReadBytes(1, 0x3000, 8)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	want := []byte{0xaa, 0xbb, 0xcc, 0xff, 0xff, 0xff, 0xff, 0xff}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestIsWatchSlotOffset(t *testing.T) {
	if IsWatchSlotOffset(0x10) {
		t.Fatal("offset without the watch bit should not be a watch slot")
	}
	if !IsWatchSlotOffset(0x1010) {
		t.Fatal("offset with the watch bit set should be a watch slot")
	}
}
