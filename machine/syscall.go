package machine

import (
	"rvmach/cpu"
	"rvmach/memory"
	"rvmach/riscv"
)

// SyscallNumbers a minimal demo ABI exposes. Concrete syscall bodies
// are explicitly out of scope for the core; these constants and the
// HandlerFunc contract are the surface cmd/rvrun wires up for its own
// demo handlers.
const (
	SyscallExit  = 93
	SyscallWrite = 64
)

// HandlerFunc answers one ECALL dispatch number (or
// riscv.SyscallEBreak for EBREAK). It runs with full access to the
// Machine so it can read arguments, touch guest memory, and call Stop.
type HandlerFunc[W riscv.XLen] func(m *Machine[W]) (W, error)

// InstallSyscallHandler registers f to answer dispatch number n
// (normally A7's value; use riscv.SyscallEBreak to answer EBREAK).
func (m *Machine[W]) InstallSyscallHandler(n int64, f HandlerFunc[W]) {
	m.syscallHandlers[n] = f
}

// dispatchSyscall is wired into cpu.CPU as its SyscallHandler. It
// looks up n in the handler table installed via
// InstallSyscallHandler, and raises UnhandledSyscall if nothing
// answers it — unless opts.ThrowOnUnhandledSyscall is false, in which
// case it returns 0 silently (for guests that probe unsupported
// syscalls and check the return value themselves). With
// opts.EBreakMeansStop set, an EBREAK stops the machine instead of
// being looked up, and A0 is left as it was.
func (m *Machine[W]) dispatchSyscall(_ *cpu.CPU[W], n int64) (W, error) {
	if n == riscv.SyscallEBreak && m.opts.EBreakMeansStop {
		m.Stop(true)
		return m.CPU.Regs.Get(riscv.RegA0), nil
	}
	return m.SystemCall(n)
}

// SystemCall invokes the handler registered for n directly, without
// going through a trapped ECALL — useful for a host driving syscalls
// programmatically (tests, a REPL) rather than via guest code.
func (m *Machine[W]) SystemCall(n int64) (W, error) {
	h, ok := m.syscallHandlers[n]
	if !ok {
		if m.opts.ThrowOnUnhandledSyscall {
			return 0, riscv.NewException(riscv.UnhandledSyscall, uint64(n))
		}
		return 0, nil
	}
	return h(m)
}

// Sysarg reads integer syscall argument index (0-based: 0 is A0, 1 is
// A1, ...) as W.
func (m *Machine[W]) Sysarg(index int) W {
	return m.CPU.Regs.Get(uint8(riscv.RegArg0 + index))
}

// Sysargs reads the first n integer syscall arguments (A0..A0+n-1).
func (m *Machine[W]) Sysargs(n int) []W {
	args := make([]W, n)
	for i := range args {
		args[i] = m.Sysarg(i)
	}
	return args
}

// CopyToGuest copies data into the guest's address space at addr,
// allocating backing pages on demand (read/write, non-executable).
func (m *Machine[W]) CopyToGuest(addr uint64, data []byte) error {
	return m.Mem.Memcpy(addr, data, memory.PermRead|memory.PermWrite)
}

// CopyFromGuest reads n bytes out of guest memory starting at addr.
func (m *Machine[W]) CopyFromGuest(addr uint64, n int) ([]byte, error) {
	return m.Mem.MemcpyOut(addr, n)
}

// GuestString reads a NUL-terminated string from the guest, capped at
// maxLen bytes.
func (m *Machine[W]) GuestString(addr uint64, maxLen int) (string, error) {
	return m.Mem.Memstring(addr, maxLen)
}

// StackPush pushes raw bytes onto the guest stack (growing down) and
// returns the new stack pointer value, leaving SP updated.
func (m *Machine[W]) StackPush(data []byte) (W, error) {
	sp := uint64(m.CPU.Regs.Get(riscv.RegSP))
	sp -= uint64(len(data))
	if err := m.Mem.Memcpy(sp, data, memory.PermRead|memory.PermWrite); err != nil {
		return 0, err
	}
	m.CPU.Regs.Set(riscv.RegSP, W(sp))
	return W(sp), nil
}

// StackPushString pushes s plus a NUL terminator.
func (m *Machine[W]) StackPushString(s string) (W, error) {
	return m.StackPush(append([]byte(s), 0))
}

// RealignStack aligns SP down to a 16-byte boundary, per the standard
// RISC-V calling convention's stack alignment requirement at a call
// site.
func (m *Machine[W]) RealignStack() {
	sp := uint64(m.CPU.Regs.Get(riscv.RegSP))
	sp &^= 0xF
	m.CPU.Regs.Set(riscv.RegSP, W(sp))
}
