// Package machine ties together a CPU and its guest memory into a
// runnable unit: it owns the instruction budget, the flat-binary
// loader, the syscall ABI plumbing (argument marshalling, stack
// pushes, destructor callbacks), and the Stop/Simulate lifecycle a
// host embedding the engine drives.
package machine

import (
	"sync/atomic"
	"unsafe"

	"rvmach/cpu"
	"rvmach/memory"
	"rvmach/riscv"
)

// Options configures a new Machine. Mirrors the reference engine's
// MachineOptions struct: everything that in the C++ original was a
// template-time compile flag (RISCV_EXT_C, RISCV_EXEC_SEGMENT_IS_CONSTANT,
// ...) is a runtime field here instead, since Go generics only cover
// the XLEN axis.
type Options struct {
	MemoryMax               uint64
	StackSize               uint64
	StackAddress            uint64 // 0 places the stack directly below the load address
	LoadAddress             uint64
	WritableText            bool
	CompressedEnabled       bool
	ExecSegmentConstant     bool
	PageCache               bool
	EBreakMeansStop         bool
	ThrowOnUnhandledSyscall bool
}

func (o Options) withDefaults() Options {
	if o.StackSize == 0 {
		o.StackSize = 1 << 20 // 1 MiB
	}
	if o.LoadAddress == 0 {
		o.LoadAddress = 0x100000
	}
	if o.StackAddress == 0 && o.LoadAddress >= o.StackSize {
		o.StackAddress = o.LoadAddress - o.StackSize
	}
	return o
}

// Machine is a single RV32 or RV64 guest: one CPU, one address space.
// Multiple Machine[uint32] and Machine[uint64] instances may coexist
// in the same process; none of their state is shared.
type Machine[W riscv.XLen] struct {
	CPU *cpu.CPU[W]
	Mem *memory.Memory[W]

	opts Options

	stopped atomic.Bool

	destructors []func()

	syscallHandlers map[int64]func(*Machine[W]) (W, error)
}

// New constructs a Machine and loads binary as a flat executable image
// at opts.LoadAddress. ELF parsing is out of scope: binary is raw
// guest code/data, exactly as it will appear in guest memory.
func New[W riscv.XLen](binary []byte, opts Options) (*Machine[W], error) {
	opts = opts.withDefaults()
	perm := memory.PermRead | memory.PermExec
	if opts.WritableText {
		perm |= memory.PermWrite
	}
	return NewFromSegments[W]([]Segment{{
		Address: opts.LoadAddress,
		Data:    binary,
		Perm:    perm,
	}}, opts.LoadAddress, opts)
}

// Segment is one piece of a guest image: a contiguous range of bytes
// at a fixed guest address with its own permission bits. NewFromSegments
// is the seam an external ELF loader (out of scope here) would call
// into after it has parsed program headers itself.
type Segment struct {
	Address uint64
	Data    []byte
	Perm    memory.Perm
}

func NewFromSegments[W riscv.XLen](segments []Segment, entry uint64, opts Options) (*Machine[W], error) {
	opts = opts.withDefaults()
	mem := memory.New[W](memory.Options{
		MaxMemory:           opts.MemoryMax,
		CompressedEnabled:   opts.CompressedEnabled,
		ExecSegmentConstant: opts.ExecSegmentConstant,
	})
	for _, seg := range segments {
		if err := mem.MapRange(seg.Address, seg.Data, seg.Perm); err != nil {
			return nil, err
		}
	}
	if err := mem.MapRange(opts.StackAddress, make([]byte, opts.StackSize), memory.PermRead|memory.PermWrite); err != nil {
		return nil, err
	}
	mem.FinalizeExecSegment()

	c := cpu.New[W](mem, cpu.Options{
		XLen:                bitSize[W](),
		CompressedEnabled:   opts.CompressedEnabled,
		PageCache:           opts.PageCache,
		ExecSegmentConstant: opts.ExecSegmentConstant,
	})
	c.Reset(W(entry))
	c.Regs.Set(riscv.RegSP, W(opts.StackAddress+opts.StackSize))
	mem.Snapshot()

	m := &Machine[W]{
		CPU:             c,
		Mem:             mem,
		opts:            opts,
		syscallHandlers: make(map[int64]func(*Machine[W]) (W, error)),
	}
	c.InstallSyscallHandler(m.dispatchSyscall)
	return m, nil
}

func bitSize[W riscv.XLen]() int {
	var z W
	return int(unsafe.Sizeof(z)) * 8
}

// Reset rewinds both the CPU and guest memory to their state at load
// time: registers back to entry with a fresh stack pointer, and every
// page back to the image captured when the binary was loaded,
// discarding any writes the guest made since (mirrors the reference
// engine's Machine::reset(), which is exactly cpu.reset() followed by
// memory.reset()).
func (m *Machine[W]) Reset(entry W) {
	m.CPU.Reset(entry)
	m.CPU.Regs.Set(riscv.RegSP, W(m.opts.StackAddress+m.opts.StackSize))
	m.Mem.Reset()
	m.stopped.Store(false)
}

// Stop requests Simulate return after the current instruction. It is
// safe to call from another goroutine while Simulate is running on
// the owning one — the reference engine's documented cross-thread
// stop(true) use case.
func (m *Machine[W]) Stop(v bool) { m.stopped.Store(v) }

func (m *Machine[W]) Stopped() bool { return m.stopped.Load() }

// Simulate runs until Stop is called, the instruction budget is
// exhausted, or a fault occurs. maxInstructions == 0 means unbounded.
// When the budget is exhausted, Simulate returns a
// *riscv.MachineTimeoutException if throwOnBudget is true, or nil
// (silent stop) otherwise — mirroring Machine::simulate<Throw>'s
// compile-time toggle as a runtime argument.
func (m *Machine[W]) Simulate(maxInstructions uint64, throwOnBudget bool) (uint64, error) {
	m.stopped.Store(false)
	start := m.CPU.InstructionCount()
	for !m.stopped.Load() {
		if maxInstructions != 0 && m.CPU.InstructionCount()-start >= maxInstructions {
			if throwOnBudget {
				return m.CPU.InstructionCount() - start, riscv.NewTimeoutException(maxInstructions)
			}
			return m.CPU.InstructionCount() - start, nil
		}
		if err := m.CPU.Step(); err != nil {
			return m.CPU.InstructionCount() - start, err
		}
	}
	return m.CPU.InstructionCount() - start, nil
}

// runDestructors runs every registered destructor callback in LIFO
// order — last registered, first run — resolving the ordering the
// reference engine left unspecified the way typical C++ RAII teardown
// would (most-recently-acquired resource released first).
func (m *Machine[W]) runDestructors() {
	for i := len(m.destructors) - 1; i >= 0; i-- {
		m.destructors[i]()
	}
	m.destructors = nil
}

// AddDestructorCallback registers f to run when Close is called.
func (m *Machine[W]) AddDestructorCallback(f func()) {
	m.destructors = append(m.destructors, f)
}

// Close runs every destructor callback LIFO. A Machine may be
// discarded without calling Close if it registered none.
func (m *Machine[W]) Close() {
	m.runDestructors()
}
