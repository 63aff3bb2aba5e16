package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rvmach/riscv"
)

func encodeI(opcode, funct3, rd, rs1 uint8, imm int64) uint32 {
	return uint32(imm&0xFFF)<<20 | uint32(rs1)<<15 | uint32(funct3)<<12 | uint32(rd)<<7 | uint32(opcode)
}

func le32(w uint32) []byte {
	return []byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)}
}

func TestNewLoadsAtDefaultAddress(t *testing.T) {
	binary := le32(encodeI(riscv.OpcodeOpImm, 0x0, 1, 0, 5))
	m, err := New[uint64](binary, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.CPU.Regs.PC != 0x100000 {
		t.Fatalf("entry PC = %#x, want default load address", m.CPU.Regs.PC)
	}
}

func TestSimulateRunsToExit(t *testing.T) {
	var binary []byte
	binary = append(binary, le32(encodeI(riscv.OpcodeOpImm, 0x0, riscv.RegA0, 0, 7))...)
	binary = append(binary, le32(encodeI(riscv.OpcodeSystem, 0x0, 0, 0, 0))...) // ECALL
	m, err := New[uint64](binary, Options{})
	if err != nil {
		t.Fatal(err)
	}
	exitCode := uint64(0)
	m.InstallSyscallHandler(SyscallExit, func(m *Machine[uint64]) (uint64, error) {
		exitCode = m.Sysarg(0)
		m.Stop(true)
		return 0, nil
	})
	m.CPU.Regs.Set(riscv.RegA7, SyscallExit)
	if _, err := m.Simulate(0, false); err != nil {
		t.Fatal(err)
	}
	if exitCode != 7 {
		t.Fatalf("exit code = %d, want 7", exitCode)
	}
}

func TestSimulateBudgetExhaustionThrows(t *testing.T) {
	var binary []byte
	for i := 0; i < 8; i++ {
		binary = append(binary, le32(encodeI(riscv.OpcodeOpImm, 0x0, 1, 1, 1))...)
	}
	m, err := New[uint64](binary, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Simulate(3, true)
	if err == nil {
		t.Fatal("expected a timeout exception at the instruction budget")
	}
	if _, ok := err.(*riscv.MachineTimeoutException); !ok {
		t.Fatalf("err = %#v, want *riscv.MachineTimeoutException", err)
	}
}

func TestSimulateBudgetExhaustionSilent(t *testing.T) {
	var binary []byte
	for i := 0; i < 8; i++ {
		binary = append(binary, le32(encodeI(riscv.OpcodeOpImm, 0x0, 1, 1, 1))...)
	}
	m, err := New[uint64](binary, Options{})
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.Simulate(3, false)
	if err != nil {
		t.Fatalf("expected no error with throwOnBudget=false, got %v", err)
	}
	if n != 3 {
		t.Fatalf("instructions run = %d, want 3", n)
	}
}

func TestDestructorsRunInLIFOOrder(t *testing.T) {
	m, err := New[uint64](le32(encodeI(riscv.OpcodeOpImm, 0x0, 0, 0, 0)), Options{})
	if err != nil {
		t.Fatal(err)
	}
	var order []int
	m.AddDestructorCallback(func() { order = append(order, 1) })
	m.AddDestructorCallback(func() { order = append(order, 2) })
	m.AddDestructorCallback(func() { order = append(order, 3) })
	m.Close()
	want := []int{3, 2, 1}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("destructor order = %v, want %v", order, want)
	}
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	var binary []byte
	for i := 0; i < 1000; i++ {
		binary = append(binary, le32(encodeI(riscv.OpcodeOpImm, 0x0, 1, 1, 1))...)
	}
	m, err := New[uint64](binary, Options{})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		m.Stop(true)
		close(done)
	}()
	<-done
	if !m.Stopped() {
		t.Fatal("Stopped() should report true after Stop(true)")
	}
}

// TestResetRewindsCPUAndMemory exercises the end-to-end reset scenario
// from spec.md §4.6: the host patches a byte of the loaded image, the
// guest runs and sets a register, then the host resets it to run fresh
// against the same loaded image without reconstructing the Machine.
func TestResetRewindsCPUAndMemory(t *testing.T) {
	var binary []byte
	binary = append(binary, le32(encodeI(riscv.OpcodeOpImm, 0x0, 1, 0, 5))...)
	binary = append(binary, le32(encodeI(riscv.OpcodeOpImm, 0x0, 0, 0, 0))...) // NOP
	m, err := New[uint64](binary, Options{WritableText: true})
	assert.NoError(t, err)

	entry := m.CPU.Regs.PC
	assert.NoError(t, m.Mem.WriteByte(uint64(entry)+16, 0xEE))
	assert.NoError(t, m.CPU.Step())
	assert.Equal(t, uint64(5), m.CPU.Regs.Get(1))

	m.Reset(entry)

	assert.Equal(t, entry, m.CPU.Regs.PC)
	assert.Zero(t, m.CPU.Regs.Get(1), "x1 should be cleared by Reset")
	b, err := m.Mem.ReadByte(uint64(entry) + 16)
	assert.NoError(t, err)
	assert.Zero(t, b, "write before Reset should not survive it")
	assert.False(t, m.Stopped())
}

func TestRV32Machine(t *testing.T) {
	binary := le32(encodeI(riscv.OpcodeOpImm, 0x0, 1, 0, 9))
	m, err := New[uint32](binary, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CPU.Step(); err != nil {
		t.Fatal(err)
	}
	if m.CPU.Regs.Get(1) != 9 {
		t.Fatalf("x1 = %d, want 9", m.CPU.Regs.Get(1))
	}
}
