package cpu

import (
	"rvmach/riscv"
	"rvmach/riscv/decode"
)

// reservation models the single LR/SC reservation a serialized-to-one-
// hart A extension needs: SC succeeds only if it targets the address
// last reserved by LR and nothing has written that address since,
// including an ordinary store or another AMO from the guest's own code
// (opStore/amoOp both clear a matching reservation). With exactly one
// hart there is no other writer to worry about, so this reduces to a
// simple address latch cleared on any intervening write to it.
type reservation struct {
	valid bool
	addr  uint64
}

func (c *CPU[W]) buildAtomicTable() {
	t := &c.table
	t[riscv.OpLRW] = opLR[W](4)
	t[riscv.OpLRD] = opLR[W](8)
	t[riscv.OpSCW] = opSC[W](4)
	t[riscv.OpSCD] = opSC[W](8)

	t[riscv.OpAMOSWAPW] = amoOp[W](4, func(old, v uint64) uint64 { return v })
	t[riscv.OpAMOADDW] = amoOp[W](4, func(old, v uint64) uint64 { return old + v })
	t[riscv.OpAMOXORW] = amoOp[W](4, func(old, v uint64) uint64 { return old ^ v })
	t[riscv.OpAMOANDW] = amoOp[W](4, func(old, v uint64) uint64 { return old & v })
	t[riscv.OpAMOORW] = amoOp[W](4, func(old, v uint64) uint64 { return old | v })
	t[riscv.OpAMOMINW] = amoOp[W](4, func(old, v uint64) uint64 { return amoMinS32(old, v) })
	t[riscv.OpAMOMAXW] = amoOp[W](4, func(old, v uint64) uint64 { return amoMaxS32(old, v) })
	t[riscv.OpAMOMINUW] = amoOp[W](4, func(old, v uint64) uint64 { return amoMinU(uint64(uint32(old)), uint64(uint32(v))) })
	t[riscv.OpAMOMAXUW] = amoOp[W](4, func(old, v uint64) uint64 { return amoMaxU(uint64(uint32(old)), uint64(uint32(v))) })

	if bitSize[W]() == 64 {
		t[riscv.OpAMOSWAPD] = amoOp[W](8, func(old, v uint64) uint64 { return v })
		t[riscv.OpAMOADDD] = amoOp[W](8, func(old, v uint64) uint64 { return old + v })
		t[riscv.OpAMOXORD] = amoOp[W](8, func(old, v uint64) uint64 { return old ^ v })
		t[riscv.OpAMOANDD] = amoOp[W](8, func(old, v uint64) uint64 { return old & v })
		t[riscv.OpAMOORD] = amoOp[W](8, func(old, v uint64) uint64 { return old | v })
		t[riscv.OpAMOMIND] = amoOp[W](8, func(old, v uint64) uint64 { return amoMinS64(old, v) })
		t[riscv.OpAMOMAXD] = amoOp[W](8, func(old, v uint64) uint64 { return amoMaxS64(old, v) })
		t[riscv.OpAMOMINUD] = amoOp[W](8, amoMinU)
		t[riscv.OpAMOMAXUD] = amoOp[W](8, amoMaxU)
	}
}

func amoMinS32(a, b uint64) uint64 {
	if int32(a) < int32(b) {
		return a
	}
	return b
}
func amoMaxS32(a, b uint64) uint64 {
	if int32(a) > int32(b) {
		return a
	}
	return b
}
func amoMinS64(a, b uint64) uint64 {
	if int64(a) < int64(b) {
		return a
	}
	return b
}
func amoMaxS64(a, b uint64) uint64 {
	if int64(a) > int64(b) {
		return a
	}
	return b
}
func amoMinU(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
func amoMaxU(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func opLR[W riscv.XLen](size int) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1))
		var v uint64
		var err error
		if size == 4 {
			var w uint32
			w, err = c.mem.ReadWord(addr)
			v = uint64(int64(int32(w)))
		} else {
			v, err = c.mem.ReadDWord(addr)
		}
		if err != nil {
			return err
		}
		c.reserved = reservation{valid: true, addr: addr}
		c.Regs.Set(d.Rd, W(v))
		return nil
	}
}

func opSC[W riscv.XLen](size int) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1))
		if !c.reserved.valid || c.reserved.addr != addr {
			c.Regs.Set(d.Rd, 1) // failure
			return nil
		}
		c.reserved = reservation{}
		v := c.Regs.Get(d.Rs2)
		var err error
		if size == 4 {
			err = c.mem.WriteWord(addr, uint32(v))
		} else {
			err = c.mem.WriteDWord(addr, uint64(v))
		}
		if err != nil {
			return err
		}
		c.Regs.Set(d.Rd, 0) // success
		return nil
	}
}

func amoOp[W riscv.XLen](size int, f func(old, v uint64) uint64) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1))
		if c.reserved.valid && c.reserved.addr == addr {
			c.reserved = reservation{}
		}
		rhs := uint64(c.Regs.Get(d.Rs2))
		var old uint64
		var err error
		if size == 4 {
			var w uint32
			w, err = c.mem.ReadWord(addr)
			old = uint64(int64(int32(w)))
		} else {
			old, err = c.mem.ReadDWord(addr)
		}
		if err != nil {
			return err
		}
		result := f(old, rhs)
		if size == 4 {
			err = c.mem.WriteWord(addr, uint32(result))
		} else {
			err = c.mem.WriteDWord(addr, result)
		}
		if err != nil {
			return err
		}
		c.Regs.Set(d.Rd, W(old))
		return nil
	}
}
