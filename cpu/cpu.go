package cpu

import (
	"rvmach/memory"
	"rvmach/riscv"
	"rvmach/riscv/decode"
)

// SyscallHandler answers an ECALL or EBREAK trap. n is the dispatch
// number: A7 for ECALL, riscv.SyscallEBreak for EBREAK. It returns the
// value to place in A0, or an error to unwind Step/Simulate.
type SyscallHandler[W riscv.XLen] func(c *CPU[W], n int64) (W, error)

// Options configures a CPU instance. Zero value picks the safest,
// slowest combination (no compressed, no MRU page cache).
type Options struct {
	XLen                int // 32 or 64
	CompressedEnabled   bool
	PageCache           bool // enable the 2-entry MRU fetch-page cache
	ExecSegmentConstant bool
}

// CPU is the fetch-decode-execute engine for one hart. It owns a
// register file and a reference to guest memory; it holds no state the
// reference engine's createTable() dispatch table didn't also need.
type CPU[W riscv.XLen] struct {
	Regs Registers[W]
	mem  *memory.Memory[W]

	xlen       int
	compressed bool

	// execSegmentConstant routes fetch and the decode cache through
	// Memory's flat execute-segment array instead of pageFor/DecodedAt.
	execSegmentConstant bool

	table [riscv.NumOpKinds]func(*CPU[W], decode.Decoded) error

	syscall SyscallHandler[W]

	// 2-entry MRU fetch-page cache. Purely an optimization: Step's
	// correctness never depends on it being populated or accurate: on a
	// miss it falls back to mem.PageAt like every other access.
	pageCacheOn  bool
	cachedPageNo [2]uint64
	cachedPage   [2]*memory.Page

	instrCounter uint64

	// branched is set by jump() whenever a handler redirects control
	// flow, including a jump/branch back to its own address (JAL x0, 0).
	// Step must not infer "did the handler branch" from PC equality:
	// a self-jump leaves PC unchanged, which is indistinguishable from
	// "handler didn't touch PC" unless the redirect is recorded
	// explicitly.
	branched bool

	reserved reservation
	csrs     csrFile
}

// New builds a CPU bound to mem. The dispatch table is built once,
// here, mirroring the reference engine's CPU::CPU calling
// create_simd_table()/create_instruction_table() up front.
func New[W riscv.XLen](mem *memory.Memory[W], opts Options) *CPU[W] {
	c := &CPU[W]{
		mem:                 mem,
		xlen:                opts.XLen,
		compressed:          opts.CompressedEnabled,
		pageCacheOn:         opts.PageCache,
		execSegmentConstant: opts.ExecSegmentConstant,
	}
	c.buildTable()
	return c
}

// InstallSyscallHandler wires the ECALL/EBREAK dispatch hook. Machine
// calls this; CPU never constructs or owns the syscall ABI itself.
func (c *CPU[W]) InstallSyscallHandler(h SyscallHandler[W]) { c.syscall = h }

func (c *CPU[W]) InstructionCount() uint64 { return c.instrCounter }

// Reset clears registers and the fetch-page cache, and sets PC.
func (c *CPU[W]) Reset(pc W) {
	c.Regs = Registers[W]{}
	c.Regs.PC = pc
	c.cachedPageNo = [2]uint64{}
	c.cachedPage = [2]*memory.Page{}
	c.reserved = reservation{}
}

func (c *CPU[W]) jump(addr W) {
	c.Regs.PC = addr
	c.branched = true
}

// pageFor returns the resident page backing addr, consulting the
// 2-entry MRU cache first when enabled.
func (c *CPU[W]) pageFor(addr uint64) (*memory.Page, uint64, bool) {
	pn := addr >> riscv.PageShift
	if c.pageCacheOn {
		if c.cachedPage[0] != nil && c.cachedPageNo[0] == pn {
			return c.cachedPage[0], pn, true
		}
		if c.cachedPage[1] != nil && c.cachedPageNo[1] == pn {
			// promote to MRU slot by swapping, not overwriting slot 1
			// with its own contents (which would drop whatever slot 0
			// held).
			c.cachedPageNo[0], c.cachedPageNo[1] = c.cachedPageNo[1], c.cachedPageNo[0]
			c.cachedPage[0], c.cachedPage[1] = c.cachedPage[1], c.cachedPage[0]
			return c.cachedPage[0], pn, true
		}
	}
	p, _, ok := c.mem.PageAt(addr)
	if ok && c.pageCacheOn {
		c.cachedPageNo[1], c.cachedPage[1] = c.cachedPageNo[0], c.cachedPage[0]
		c.cachedPageNo[0], c.cachedPage[0] = pn, p
	}
	return p, pn, ok
}

// fetchHalf reads the halfword at addr via the CPU's own MRU page
// cache rather than going through Memory.FetchHalf, so the common case
// (repeated fetch from the same hot page) skips the map lookup.
func (c *CPU[W]) fetchHalf(addr uint64) (uint16, error) {
	if c.execSegmentConstant {
		return c.mem.FetchHalfConstant(addr)
	}
	p, _, ok := c.pageFor(addr)
	if !ok || !p.Perm.Executable() {
		return 0, riscv.NewException(riscv.ExecutionSpaceProtectionFault, addr)
	}
	off := addr & (riscv.PageSize - 1)
	return uint16(p.Data[off]) | uint16(p.Data[off+1])<<8, nil
}

// setDecodedAt installs a decode-cache entry via the flat execute-
// segment array when that fast path is active, otherwise per-page.
func (c *CPU[W]) setDecodedAt(addr uint64, d decode.Decoded) {
	if c.execSegmentConstant {
		c.mem.SetDecodedAtConstant(addr, d)
		return
	}
	c.mem.SetDecodedAt(addr, d)
}

// readNextInstruction fetches and decodes the instruction at PC,
// consulting the per-page decode cache and handling the compressed
// page-straddling case a halfword at a time (the reference engine's
// read_upper_half/read_next_instruction pair).
func (c *CPU[W]) readNextInstruction() (decode.Decoded, error) {
	pc := uint64(c.Regs.PC)

	if c.execSegmentConstant {
		if d, ok := c.mem.DecodedAtConstant(pc); ok {
			return d, nil
		}
	} else if d, ok := c.mem.DecodedAt(pc); ok {
		return d, nil
	}

	lo, err := c.fetchHalf(pc)
	if err != nil {
		return decode.Decoded{}, err
	}

	if c.compressed && lo&0x3 != 0x3 {
		d := decode.Decode(uint32(lo), c.xlen, true)
		c.setDecodedAt(pc, d)
		return d, nil
	}

	// Full 32-bit instruction: the upper half may straddle onto the
	// next page (only possible when compressed instructions are
	// enabled, since otherwise every instruction is 4-byte aligned).
	hi, err := c.fetchHalf(pc + 2)
	if err != nil {
		return decode.Decoded{}, err
	}
	word := uint32(lo) | uint32(hi)<<16
	d := decode.Decode(word, c.xlen, false)
	c.setDecodedAt(pc, d)
	return d, nil
}

// Step fetches, decodes and executes one instruction, advancing PC by
// d.Length unless the handler itself redirected PC (branch/jump).
func (c *CPU[W]) Step() error {
	d, err := c.readNextInstruction()
	if err != nil {
		return err
	}
	if d.Illegal() {
		return riscv.NewException(riscv.IllegalOpcode, uint64(d.Raw))
	}
	handler := c.table[d.Op]
	if handler == nil {
		return riscv.NewException(riscv.UnimplementedInstruction, uint64(d.Raw))
	}

	pcBefore := c.Regs.PC
	c.branched = false
	if err := handler(c, d); err != nil {
		return err
	}
	if !c.branched {
		// Handler didn't redirect control flow (branch/jump handlers
		// call jump(), which sets c.branched); advance past the
		// instruction normally. A jump/branch back to its own address
		// (e.g. JAL x0, 0) sets c.branched and must NOT be advanced,
		// even though PC ends up equal to pcBefore.
		c.Regs.PC = pcBefore + W(d.Length)
	}
	c.instrCounter++
	return nil
}
