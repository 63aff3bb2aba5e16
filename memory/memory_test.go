package memory

import (
	"testing"

	"rvmach/riscv"
	"rvmach/riscv/decode"
)

func newTestMemory() *Memory[uint64] {
	return New[uint64](Options{})
}

func TestMapRangeAndReadWrite(t *testing.T) {
	m := newTestMemory()
	data := []byte{0x11, 0x22, 0x33, 0x44}
	if err := m.MapRange(0x1000, data, PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	v, err := m.ReadWord(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x44332211 {
		t.Fatalf("read back %#x, want 0x44332211", v)
	}
}

func TestWriteWithoutPermissionFaults(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x2000, make([]byte, 16), PermRead|PermExec); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteByte(0x2000, 0xFF); err == nil {
		t.Fatal("expected protection fault writing to a read-only page")
	}
}

func TestReadMissingPageFaults(t *testing.T) {
	m := newTestMemory()
	if _, err := m.ReadByte(0x9999000); err == nil {
		t.Fatal("expected a fault reading an unmapped page")
	}
}

func TestOutOfMemoryCeiling(t *testing.T) {
	m := New[uint64](Options{MaxMemory: riscv.PageSize})
	if err := m.MapRange(0x1000, make([]byte, riscv.PageSize), PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if err := m.MapRange(0x2000, make([]byte, riscv.PageSize), PermRead|PermWrite); err == nil {
		t.Fatal("expected an out-of-memory fault exceeding MaxMemory")
	}
}

func TestDecodeCacheRoundTrip(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x4000, make([]byte, riscv.PageSize), PermRead|PermWrite|PermExec); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.DecodedAt(0x4000); ok {
		t.Fatal("fresh page should have no cached decode")
	}
	d := decode.Decoded{Op: riscv.OpADDI, Rd: 1, Length: 4}
	m.SetDecodedAt(0x4000, d)
	got, ok := m.DecodedAt(0x4000)
	if !ok || got.Op != riscv.OpADDI || got.Rd != 1 {
		t.Fatalf("decode cache round trip failed: %+v, ok=%v", got, ok)
	}
}

func TestSelfModifyingCodeInvalidatesCache(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x5000, make([]byte, riscv.PageSize), PermRead|PermWrite|PermExec); err != nil {
		t.Fatal(err)
	}
	m.SetDecodedAt(0x5000, decode.Decoded{Op: riscv.OpADDI, Length: 4})
	if err := m.WriteByte(0x5000, 0x13); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.DecodedAt(0x5000); ok {
		t.Fatal("writing to an executable page should invalidate its decode cache")
	}
}

func TestMemstringStopsAtNUL(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x6000, []byte("hello\x00world"), PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	s, err := m.Memstring(0x6000, 64)
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Fatalf("Memstring = %q, want %q", s, "hello")
	}
}

func TestMemstringMissingNULErrors(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x7000, []byte("nonuls"), PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Memstring(0x7000, 4); err == nil {
		t.Fatal("expected an error when no NUL appears within maxLen")
	}
}

func TestResetRestoresSnapshotImage(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x3000, []byte{0xAA, 0xBB}, PermRead|PermWrite|PermExec); err != nil {
		t.Fatal(err)
	}
	m.Snapshot()
	if err := m.WriteByte(0x3000, 0xFF); err != nil {
		t.Fatal(err)
	}
	m.SetDecodedAt(0x3000, decode.Decoded{Op: riscv.OpADDI, Length: 4})
	if err := m.MapRange(0x9000, make([]byte, riscv.PageSize), PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	m.Reset()
	v, err := m.ReadByte(0x3000)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xAA {
		t.Fatalf("byte at 0x3000 after Reset = %#x, want 0xAA (restored from snapshot)", v)
	}
	if _, ok := m.DecodedAt(0x3000); ok {
		t.Fatal("decode cache should not survive Reset")
	}
	if _, err := m.ReadByte(0x9000); err == nil {
		t.Fatal("page mapped after Snapshot should not survive Reset")
	}
}

func TestExecSegmentConstantFetchAndBoundsCheck(t *testing.T) {
	m := New[uint64](Options{ExecSegmentConstant: true})
	if err := m.MapRange(0xA000, []byte{0x13, 0x05, 0x00, 0x00}, PermRead|PermExec); err != nil {
		t.Fatal(err)
	}
	m.FinalizeExecSegment()

	lo, err := m.FetchHalfConstant(0xA000)
	if err != nil {
		t.Fatal(err)
	}
	if lo != 0x0513 {
		t.Fatalf("FetchHalfConstant = %#x, want 0x0513", lo)
	}
	if _, err := m.FetchHalfConstant(0xA000 + riscv.PageSize); err == nil {
		t.Fatal("expected a fault fetching outside the exec-segment-constant range")
	}
}

func TestExecSegmentConstantRejectsWrites(t *testing.T) {
	m := New[uint64](Options{ExecSegmentConstant: true})
	if err := m.MapRange(0xB000, make([]byte, 16), PermRead|PermWrite|PermExec); err != nil {
		t.Fatal(err)
	}
	m.FinalizeExecSegment()
	if err := m.WriteByte(0xB000, 0xFF); err == nil {
		t.Fatal("expected writes into the exec-segment-constant range to be rejected")
	}
}

func TestPageAtCrossesBoundaryCorrectly(t *testing.T) {
	m := newTestMemory()
	if err := m.MapRange(0x8000, make([]byte, riscv.PageSize*2), PermRead|PermWrite|PermExec); err != nil {
		t.Fatal(err)
	}
	_, pn1, ok1 := m.PageAt(0x8000)
	_, pn2, ok2 := m.PageAt(0x8000 + riscv.PageSize)
	if !ok1 || !ok2 || pn1 == pn2 {
		t.Fatalf("expected distinct resident pages, got %d/%v %d/%v", pn1, ok1, pn2, ok2)
	}
}
