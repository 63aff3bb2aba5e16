package cpu

import (
	"rvmach/riscv"
	"rvmach/riscv/decode"
)

// csrFile is a tiny flat CSR file. Only the handful of registers a
// userspace-only emulator needs to expose are modeled: fflags/frm/fcsr
// live in Registers.FCSR directly, everything else is a scratch slot a
// guest can read back what it wrote (no privileged-mode semantics, per
// the spec's no-MMU/no-privileged-mode scope).
type csrFile map[uint16]uint64

func (c *CPU[W]) csrRead(addr uint16) uint64 {
	const (
		csrFFlags = 0x001
		csrFRM    = 0x002
		csrFCSR   = 0x003
	)
	switch addr {
	case csrFFlags:
		return uint64(c.Regs.FCSR & 0x1F)
	case csrFRM:
		return uint64((c.Regs.FCSR >> 5) & 0x7)
	case csrFCSR:
		return uint64(c.Regs.FCSR & 0xFF)
	}
	if c.csrs == nil {
		return 0
	}
	return c.csrs[addr]
}

func (c *CPU[W]) csrWrite(addr uint16, v uint64) {
	const (
		csrFFlags = 0x001
		csrFRM    = 0x002
		csrFCSR   = 0x003
	)
	switch addr {
	case csrFFlags:
		c.Regs.FCSR = (c.Regs.FCSR &^ 0x1F) | uint32(v&0x1F)
		return
	case csrFRM:
		c.Regs.FCSR = (c.Regs.FCSR &^ (0x7 << 5)) | (uint32(v&0x7) << 5)
		return
	case csrFCSR:
		c.Regs.FCSR = uint32(v & 0xFF)
		return
	}
	if c.csrs == nil {
		c.csrs = make(csrFile)
	}
	c.csrs[addr] = v
}

func (c *CPU[W]) buildSystemTable() {
	t := &c.table

	t[riscv.OpECALL] = func(c *CPU[W], d decode.Decoded) error {
		if c.syscall == nil {
			return riscv.NewException(riscv.UnhandledSyscall, uint64(c.Regs.Get(riscv.RegA7)))
		}
		n := int64(signed(c.Regs.Get(riscv.RegA7)))
		ret, err := c.syscall(c, n)
		if err != nil {
			return err
		}
		c.Regs.Set(riscv.RegA0, ret)
		return nil
	}

	t[riscv.OpEBREAK] = func(c *CPU[W], d decode.Decoded) error {
		if c.syscall == nil {
			n := int64(riscv.SyscallEBreak)
			return riscv.NewException(riscv.UnhandledSyscall, uint64(n))
		}
		ret, err := c.syscall(c, riscv.SyscallEBreak)
		if err != nil {
			return err
		}
		c.Regs.Set(riscv.RegA0, ret)
		return nil
	}

	t[riscv.OpCSRRW] = func(c *CPU[W], d decode.Decoded) error {
		old := c.csrRead(d.CSR)
		c.csrWrite(d.CSR, uint64(c.Regs.Get(d.Rs1)))
		c.Regs.Set(d.Rd, W(old))
		return nil
	}
	t[riscv.OpCSRRS] = csrSetClear[W](func(old, mask uint64) uint64 { return old | mask })
	t[riscv.OpCSRRC] = csrSetClear[W](func(old, mask uint64) uint64 { return old &^ mask })
	t[riscv.OpCSRRWI] = func(c *CPU[W], d decode.Decoded) error {
		old := c.csrRead(d.CSR)
		c.csrWrite(d.CSR, uint64(d.Imm))
		c.Regs.Set(d.Rd, W(old))
		return nil
	}
	t[riscv.OpCSRRSI] = csrSetClearImm[W](func(old, mask uint64) uint64 { return old | mask })
	t[riscv.OpCSRRCI] = csrSetClearImm[W](func(old, mask uint64) uint64 { return old &^ mask })
}

func csrSetClear[W riscv.XLen](f func(old, mask uint64) uint64) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		old := c.csrRead(d.CSR)
		if d.Rs1 != riscv.RegZero {
			c.csrWrite(d.CSR, f(old, uint64(c.Regs.Get(d.Rs1))))
		}
		c.Regs.Set(d.Rd, W(old))
		return nil
	}
}

func csrSetClearImm[W riscv.XLen](f func(old, mask uint64) uint64) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		old := c.csrRead(d.CSR)
		if d.Imm != 0 {
			c.csrWrite(d.CSR, f(old, uint64(d.Imm)))
		}
		c.Regs.Set(d.Rd, W(old))
		return nil
	}
}
