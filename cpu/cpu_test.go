package cpu

import (
	"testing"

	"rvmach/memory"
	"rvmach/riscv"
)

func newTestCPU(t *testing.T, compressed bool) (*CPU[uint64], *memory.Memory[uint64]) {
	t.Helper()
	mem := memory.New[uint64](memory.Options{CompressedEnabled: compressed})
	if err := mem.MapRange(0x1000, make([]byte, riscv.PageSize), memory.PermRead|memory.PermWrite|memory.PermExec); err != nil {
		t.Fatal(err)
	}
	c := New[uint64](mem, Options{XLen: 64, CompressedEnabled: compressed})
	c.Reset(0x1000)
	return c, mem
}

func encodeI(opcode, funct3, rd, rs1 uint8, imm int64) uint32 {
	return uint32(imm&0xFFF)<<20 | uint32(rs1)<<15 | uint32(funct3)<<12 | uint32(rd)<<7 | uint32(opcode)
}

func encodeR(opcode, funct3, funct7, rd, rs1, rs2 uint8) uint32 {
	return uint32(funct7)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | uint32(funct3)<<12 | uint32(rd)<<7 | uint32(opcode)
}

func encodeS(opcode, funct3, rs1, rs2 uint8, imm int64) uint32 {
	u := uint32(imm)
	imm11_5 := (u >> 5) & 0x7F
	imm4_0 := u & 0x1F
	return imm11_5<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | uint32(funct3)<<12 | imm4_0<<7 | uint32(opcode)
}

func encodeB(opcode, funct3, rs1, rs2 uint8, imm int64) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bits10_5 := (u >> 5) & 0x3F
	bits4_1 := (u >> 1) & 0xF
	return bit12<<31 | bits10_5<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		uint32(funct3)<<12 | bits4_1<<8 | bit11<<7 | uint32(opcode)
}

func writeWord(t *testing.T, mem *memory.Memory[uint64], addr uint64, w uint32) {
	t.Helper()
	if err := mem.WriteWord(addr, w); err != nil {
		t.Fatal(err)
	}
}

func TestStepADDI(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, encodeI(riscv.OpcodeOpImm, 0x0, 5, 0, 42))
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if got := c.Regs.Get(5); got != 42 {
		t.Fatalf("x5 = %d, want 42", got)
	}
	if c.Regs.PC != 0x1004 {
		t.Fatalf("PC = %#x, want 0x1004", c.Regs.PC)
	}
}

func TestWriteToX0IsDiscarded(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, encodeI(riscv.OpcodeOpImm, 0x0, 0, 0, 99))
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if got := c.Regs.Get(riscv.RegZero); got != 0 {
		t.Fatalf("x0 = %d, want 0 (writes to x0 must be discarded)", got)
	}
}

func TestBranchForwardTakesBranch(t *testing.T) {
	c, mem := newTestCPU(t, false)
	// At 0x1000: BEQ x0, x0, +8 — branch always taken, skipping 0x1004.
	writeWord(t, mem, 0x1000, encodeB(riscv.OpcodeBranch, 0x0, 0, 0, 8))
	writeWord(t, mem, 0x1004, encodeI(riscv.OpcodeOpImm, 0x0, 1, 0, 0xFF)) // skipped
	writeWord(t, mem, 0x1008, encodeI(riscv.OpcodeOpImm, 0x0, 2, 0, 7))
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if c.Regs.PC != 0x1008 {
		t.Fatalf("PC after taken branch = %#x, want 0x1008", c.Regs.PC)
	}
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if c.Regs.Get(1) != 0 {
		t.Fatalf("x1 should remain 0 (instruction at 0x1004 was skipped)")
	}
	if c.Regs.Get(2) != 7 {
		t.Fatalf("x2 = %d, want 7", c.Regs.Get(2))
	}
}

// TestSelfJumpDoesNotAdvancePC covers spec scenario 5: JAL x0, 0 is an
// infinite self-loop (used to test budget exhaustion). Step must not
// confuse "PC equals pcBefore because the jump target is the jump's
// own address" with "the handler never touched PC".
func TestSelfJumpDoesNotAdvancePC(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, encodeJAL(riscv.RegZero, 0))
	for i := 0; i < 3; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
		if c.Regs.PC != 0x1000 {
			t.Fatalf("iteration %d: PC = %#x, want 0x1000 (self-jump must not advance PC)", i, c.Regs.PC)
		}
	}
}

// TestBackwardBranchReExecutesLoop covers a genuine backward branch: a
// two-instruction loop that decrements x1 until it hits zero. The BNE
// at 0x1004 has imm == -4, so each taken branch goes back to the ADDI
// at 0x1000; with x1 starting at 3 the loop runs three times and falls
// through to 0x1008 after six steps.
func TestBackwardBranchReExecutesLoop(t *testing.T) {
	c, mem := newTestCPU(t, false)
	// 0x1000: ADDI x1, x1, -1
	// 0x1004: BNE x1, x0, -4   (back to 0x1000, taken while x1 != 0)
	writeWord(t, mem, 0x1000, encodeI(riscv.OpcodeOpImm, 0x0, 1, 1, -1))
	writeWord(t, mem, 0x1004, encodeB(riscv.OpcodeBranch, 0x1, 1, 0, -4))
	c.Regs.Set(1, 3)
	for i := 0; i < 6; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if c.Regs.Get(1) != 0 {
		t.Fatalf("x1 = %d after looping, want 0", c.Regs.Get(1))
	}
	if c.Regs.PC != 0x1008 {
		t.Fatalf("PC after loop exit = %#x, want 0x1008", c.Regs.PC)
	}
}

func encodeJAL(rd uint8, imm int64) uint32 {
	u := uint32(imm)
	bit20 := (u >> 20) & 1
	bits10_1 := (u >> 1) & 0x3FF
	bit11 := (u >> 11) & 1
	bits19_12 := (u >> 12) & 0xFF
	return bit20<<31 | bits10_1<<21 | bit11<<20 | bits19_12<<12 | uint32(rd)<<7 | uint32(riscv.OpcodeJAL)
}

func TestIllegalOpcodeFaults(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, 0x7B) // reserved opcode, all other fields zero
	err := c.Step()
	if err == nil {
		t.Fatal("expected an illegal opcode fault")
	}
	if e, ok := err.(*riscv.MachineException); !ok || e.Kind != riscv.IllegalOpcode {
		t.Fatalf("err = %v, want IllegalOpcode", err)
	}
}

func TestECALLDispatch(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, encodeI(riscv.OpcodeSystem, 0x0, 0, 0, 0)) // ECALL
	c.Regs.Set(riscv.RegA7, 42)
	c.Regs.Set(riscv.RegA0, 5)
	var seenN int64 = -999
	c.InstallSyscallHandler(func(_ *CPU[uint64], n int64) (uint64, error) {
		seenN = n
		return 123, nil
	})
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if seenN != 42 {
		t.Fatalf("syscall handler saw n=%d, want 42", seenN)
	}
	if c.Regs.Get(riscv.RegA0) != 123 {
		t.Fatalf("A0 after ECALL = %d, want 123", c.Regs.Get(riscv.RegA0))
	}
}

func TestUnhandledSyscallFaults(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, encodeI(riscv.OpcodeSystem, 0x0, 0, 0, 0))
	c.Regs.Set(riscv.RegA7, 1)
	if err := c.Step(); err == nil {
		t.Fatal("expected an unhandled-syscall fault with no handler installed")
	}
}

func TestCompressedPageCrossingFetch(t *testing.T) {
	c, mem := newTestCPU(t, true)
	// Place a 4-byte ADD at the very end of the first page so its upper
	// half lands on the next page; verify fetchHalf resolves both halves
	// correctly rather than misreading across the boundary.
	addr := uint64(0x1000 + riscv.PageSize - 2)
	if err := mem.MapRange(0x1000+riscv.PageSize, make([]byte, riscv.PageSize), memory.PermRead|memory.PermWrite|memory.PermExec); err != nil {
		t.Fatal(err)
	}
	writeWord(t, mem, addr, encodeR(riscv.OpcodeOp, 0x0, 0x00, 3, 1, 2))
	c.Regs.PC = addr
	c.Regs.Set(1, 10)
	c.Regs.Set(2, 32)
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if c.Regs.Get(3) != 42 {
		t.Fatalf("x3 = %d, want 42", c.Regs.Get(3))
	}
}

// TestStoreInvalidatesReservation covers the A-extension invariant that
// an ordinary store to the reserved address must fail a subsequent SC,
// not just a different LR/SC pair.
func TestStoreInvalidatesReservation(t *testing.T) {
	c, mem := newTestCPU(t, false)
	// LR.W x1, (x10)
	writeWord(t, mem, 0x1000, encodeR(riscv.OpcodeAMO, 0x2, 0x08, 1, 10, 0))
	// SW x0, 0(x10) — an ordinary store to the reserved address
	writeWord(t, mem, 0x1004, encodeS(riscv.OpcodeStore, 0x2, 10, 0, 0))
	// SC.W x2, x3, (x10)
	writeWord(t, mem, 0x1008, encodeR(riscv.OpcodeAMO, 0x2, 0x0C, 2, 10, 3))

	c.Regs.Set(10, 0x1100) // scratch data address, distinct from the code at 0x1000
	if err := mem.WriteWord(0x1100, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(); err != nil { // LR.W
		t.Fatal(err)
	}
	if err := c.Step(); err != nil { // SW, intervening write
		t.Fatal(err)
	}
	if err := c.Step(); err != nil { // SC.W
		t.Fatal(err)
	}
	if c.Regs.Get(2) == 0 {
		t.Fatal("SC should fail (return nonzero) after an intervening store to the reserved address")
	}
}

func TestExecSegmentConstantFetchPath(t *testing.T) {
	mem := memory.New[uint64](memory.Options{ExecSegmentConstant: true})
	if err := mem.MapRange(0x2000, make([]byte, riscv.PageSize), memory.PermRead|memory.PermWrite|memory.PermExec); err != nil {
		t.Fatal(err)
	}
	writeWord(t, mem, 0x2000, encodeI(riscv.OpcodeOpImm, 0x0, 1, 0, 11))
	mem.FinalizeExecSegment()

	c := New[uint64](mem, Options{XLen: 64, ExecSegmentConstant: true})
	c.Reset(0x2000)
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if c.Regs.Get(1) != 11 {
		t.Fatalf("x1 = %d, want 11 (fetch via exec-segment-constant path)", c.Regs.Get(1))
	}
	if _, ok := mem.DecodedAtConstant(0x2000); !ok {
		t.Fatal("expected the flat decode cache to be populated after Step")
	}
}

func TestDecodeCacheIsConsultedOnSecondFetch(t *testing.T) {
	c, mem := newTestCPU(t, false)
	writeWord(t, mem, 0x1000, encodeI(riscv.OpcodeOpImm, 0x0, 1, 1, 1)) // ADDI x1, x1, 1
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if _, ok := mem.DecodedAt(0x1000); !ok {
		t.Fatal("expected a decode cache entry to be installed after Step")
	}
	c.Regs.PC = 0x1000
	if err := c.Step(); err != nil {
		t.Fatal(err)
	}
	if c.Regs.Get(1) != 2 {
		t.Fatalf("x1 = %d after stepping the cached instruction twice, want 2", c.Regs.Get(1))
	}
}
