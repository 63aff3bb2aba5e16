package cpu

import (
	"unsafe"

	"rvmach/riscv"
	"rvmach/riscv/decode"
)

// bitSize reports XLEN in bits: 32 for a uint32-instantiated machine,
// 64 for uint64.
func bitSize[W riscv.XLen]() int {
	var z W
	return int(unsafe.Sizeof(z)) * 8
}

// buildTable installs every base-ISA, M, A, Zicsr and F/D handler into
// the dispatch table. Called once from New, mirroring the reference
// engine's create_instruction_table().
func (c *CPU[W]) buildTable() {
	t := &c.table

	t[riscv.OpLUI] = opLUI[W]
	t[riscv.OpAUIPC] = opAUIPC[W]
	t[riscv.OpJAL] = opJAL[W]
	t[riscv.OpJALR] = opJALR[W]

	t[riscv.OpBEQ] = branchOp[W](func(a, b W) bool { return a == b })
	t[riscv.OpBNE] = branchOp[W](func(a, b W) bool { return a != b })
	t[riscv.OpBLT] = branchOpSigned[W](func(a, b int64) bool { return a < b })
	t[riscv.OpBGE] = branchOpSigned[W](func(a, b int64) bool { return a >= b })
	t[riscv.OpBLTU] = branchOp[W](func(a, b W) bool { return a < b })
	t[riscv.OpBGEU] = branchOp[W](func(a, b W) bool { return a >= b })

	t[riscv.OpLB] = opLoad[W](1, true)
	t[riscv.OpLH] = opLoad[W](2, true)
	t[riscv.OpLW] = opLoad[W](4, true)
	t[riscv.OpLBU] = opLoad[W](1, false)
	t[riscv.OpLHU] = opLoad[W](2, false)
	t[riscv.OpLWU] = opLoad[W](4, false)
	t[riscv.OpLD] = opLoad[W](8, false)

	t[riscv.OpSB] = opStore[W](1)
	t[riscv.OpSH] = opStore[W](2)
	t[riscv.OpSW] = opStore[W](4)
	t[riscv.OpSD] = opStore[W](8)

	t[riscv.OpADDI] = aluImm[W](func(a W, imm int64) W { return a + W(imm) })
	t[riscv.OpSLTI] = aluImmSigned[W](func(a int64, imm int64) bool { return a < imm })
	t[riscv.OpSLTIU] = aluImmU[W](func(a W, imm W) bool { return a < imm })
	t[riscv.OpXORI] = aluImm[W](func(a W, imm int64) W { return a ^ W(imm) })
	t[riscv.OpORI] = aluImm[W](func(a W, imm int64) W { return a | W(imm) })
	t[riscv.OpANDI] = aluImm[W](func(a W, imm int64) W { return a & W(imm) })
	t[riscv.OpSLLI] = aluImm[W](func(a W, imm int64) W { return a << uint(imm) })
	t[riscv.OpSRLI] = aluImm[W](func(a W, imm int64) W { return a >> uint(imm) })
	t[riscv.OpSRAI] = aluImmArith[W]

	t[riscv.OpADD] = aluReg[W](func(a, b W) W { return a + b })
	t[riscv.OpSUB] = aluReg[W](func(a, b W) W { return a - b })
	t[riscv.OpSLL] = aluReg[W](func(a, b W) W { return a << (uint(b) & shiftMask[W]()) })
	t[riscv.OpSLT] = aluRegSigned[W](func(a, b int64) bool { return a < b })
	t[riscv.OpSLTU] = aluRegU[W](func(a, b W) bool { return a < b })
	t[riscv.OpXOR] = aluReg[W](func(a, b W) W { return a ^ b })
	t[riscv.OpSRL] = aluReg[W](func(a, b W) W { return a >> (uint(b) & shiftMask[W]()) })
	t[riscv.OpSRA] = aluRegArith[W]
	t[riscv.OpOR] = aluReg[W](func(a, b W) W { return a | b })
	t[riscv.OpAND] = aluReg[W](func(a, b W) W { return a & b })

	t[riscv.OpFENCE] = func(c *CPU[W], d decode.Decoded) error { return nil }

	t[riscv.OpMUL] = aluReg[W](func(a, b W) W { return a * b })
	t[riscv.OpMULH] = opMULH[W]
	t[riscv.OpMULHSU] = opMULHSU[W]
	t[riscv.OpMULHU] = opMULHU[W]
	t[riscv.OpDIV] = opDIV[W]
	t[riscv.OpDIVU] = opDIVU[W]
	t[riscv.OpREM] = opREM[W]
	t[riscv.OpREMU] = opREMU[W]

	if c.xlen == 64 {
		t[riscv.OpADDIW] = aluImm32[W](func(a int32, imm int64) int32 { return a + int32(imm) })
		t[riscv.OpSLLIW] = aluImm32[W](func(a int32, imm int64) int32 { return a << uint(imm) })
		t[riscv.OpSRLIW] = aluImm32[W](func(a int32, imm int64) int32 { return int32(uint32(a) >> uint(imm)) })
		t[riscv.OpSRAIW] = aluImm32[W](func(a int32, imm int64) int32 { return a >> uint(imm) })
		t[riscv.OpADDW] = aluReg32[W](func(a, b int32) int32 { return a + b })
		t[riscv.OpSUBW] = aluReg32[W](func(a, b int32) int32 { return a - b })
		t[riscv.OpSLLW] = aluReg32[W](func(a, b int32) int32 { return a << (uint(b) & 31) })
		t[riscv.OpSRLW] = aluReg32[W](func(a, b int32) int32 { return int32(uint32(a) >> (uint(b) & 31)) })
		t[riscv.OpSRAW] = aluReg32[W](func(a, b int32) int32 { return a >> (uint(b) & 31) })
		t[riscv.OpMULW] = aluReg32[W](func(a, b int32) int32 { return a * b })
		t[riscv.OpDIVW] = opDIVW[W]
		t[riscv.OpDIVUW] = opDIVUW[W]
		t[riscv.OpREMW] = opREMW[W]
		t[riscv.OpREMUW] = opREMUW[W]
	}

	c.buildAtomicTable()
	c.buildSystemTable()
	c.buildFloatTable()
}

func shiftMask[W riscv.XLen]() uint {
	return uint(bitSize[W]() - 1)
}

func opLUI[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	c.Regs.Set(d.Rd, W(d.Imm))
	return nil
}

func opAUIPC[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	c.Regs.Set(d.Rd, c.Regs.PC+W(d.Imm))
	return nil
}

func opJAL[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	ret := c.Regs.PC + W(d.Length)
	c.jump(c.Regs.PC + W(d.Imm))
	c.Regs.Set(d.Rd, ret)
	return nil
}

func opJALR[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	ret := c.Regs.PC + W(d.Length)
	target := (c.Regs.Get(d.Rs1) + W(d.Imm)) &^ 1
	c.jump(target)
	c.Regs.Set(d.Rd, ret)
	return nil
}

func branchOp[W riscv.XLen](cmp func(a, b W) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		if cmp(c.Regs.Get(d.Rs1), c.Regs.Get(d.Rs2)) {
			c.jump(c.Regs.PC + W(d.Imm))
		}
		return nil
	}
}

func branchOpSigned[W riscv.XLen](cmp func(a, b int64) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		if cmp(signed(c.Regs.Get(d.Rs1)), signed(c.Regs.Get(d.Rs2))) {
			c.jump(c.Regs.PC + W(d.Imm))
		}
		return nil
	}
}

// signed sign-interprets a register value under its native width.
func signed[W riscv.XLen](v W) int64 {
	if bitSize[W]() == 64 {
		return int64(v)
	}
	return int64(int32(v))
}

func opLoad[W riscv.XLen](size int, signExtend bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1) + W(d.Imm))
		var v uint64
		var err error
		switch size {
		case 1:
			var b byte
			b, err = c.mem.ReadByte(addr)
			v = uint64(b)
			if err == nil && signExtend {
				c.Regs.Set(d.Rd, W(int64(int8(b))))
				return nil
			}
		case 2:
			var h uint16
			h, err = c.mem.ReadHalf(addr)
			v = uint64(h)
			if err == nil && signExtend {
				c.Regs.Set(d.Rd, W(int64(int16(h))))
				return nil
			}
		case 4:
			var w uint32
			w, err = c.mem.ReadWord(addr)
			v = uint64(w)
			if err == nil && signExtend {
				c.Regs.Set(d.Rd, W(int64(int32(w))))
				return nil
			}
		case 8:
			v, err = c.mem.ReadDWord(addr)
		}
		if err != nil {
			return err
		}
		c.Regs.Set(d.Rd, W(v))
		return nil
	}
}

func opStore[W riscv.XLen](size int) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1) + W(d.Imm))
		if c.reserved.valid && c.reserved.addr == addr {
			c.reserved = reservation{}
		}
		v := c.Regs.Get(d.Rs2)
		switch size {
		case 1:
			return c.mem.WriteByte(addr, byte(v))
		case 2:
			return c.mem.WriteHalf(addr, uint16(v))
		case 4:
			return c.mem.WriteWord(addr, uint32(v))
		case 8:
			return c.mem.WriteDWord(addr, uint64(v))
		}
		return nil
	}
}

func aluImm[W riscv.XLen](f func(a W, imm int64) W) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, f(c.Regs.Get(d.Rs1), d.Imm))
		return nil
	}
}

func aluImmSigned[W riscv.XLen](f func(a, imm int64) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		var r W
		if f(signed(c.Regs.Get(d.Rs1)), d.Imm) {
			r = 1
		}
		c.Regs.Set(d.Rd, r)
		return nil
	}
}

func aluImmU[W riscv.XLen](f func(a, imm W) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		var r W
		if f(c.Regs.Get(d.Rs1), W(d.Imm)) {
			r = 1
		}
		c.Regs.Set(d.Rd, r)
		return nil
	}
}

func aluImmArith[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	c.Regs.Set(d.Rd, W(signed(c.Regs.Get(d.Rs1))>>uint(d.Imm)))
	return nil
}

func aluReg[W riscv.XLen](f func(a, b W) W) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, f(c.Regs.Get(d.Rs1), c.Regs.Get(d.Rs2)))
		return nil
	}
}

func aluRegSigned[W riscv.XLen](f func(a, b int64) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		var r W
		if f(signed(c.Regs.Get(d.Rs1)), signed(c.Regs.Get(d.Rs2))) {
			r = 1
		}
		c.Regs.Set(d.Rd, r)
		return nil
	}
}

func aluRegU[W riscv.XLen](f func(a, b W) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		var r W
		if f(c.Regs.Get(d.Rs1), c.Regs.Get(d.Rs2)) {
			r = 1
		}
		c.Regs.Set(d.Rd, r)
		return nil
	}
}

func aluRegArith[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	shift := uint(c.Regs.Get(d.Rs2)) & shiftMask[W]()
	c.Regs.Set(d.Rd, W(signed(c.Regs.Get(d.Rs1))>>shift))
	return nil
}

func aluImm32[W riscv.XLen](f func(a int32, imm int64) int32) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		r := f(int32(c.Regs.Get(d.Rs1)), d.Imm)
		c.Regs.Set(d.Rd, W(int64(r)))
		return nil
	}
}

func aluReg32[W riscv.XLen](f func(a, b int32) int32) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		r := f(int32(c.Regs.Get(d.Rs1)), int32(c.Regs.Get(d.Rs2)))
		c.Regs.Set(d.Rd, W(int64(r)))
		return nil
	}
}

func opMULH[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := signed(c.Regs.Get(d.Rs1)), signed(c.Regs.Get(d.Rs2))
	hi, _ := mul128(a, b)
	c.Regs.Set(d.Rd, W(hi))
	return nil
}

func opMULHU[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := uint64(c.Regs.Get(d.Rs1)), uint64(c.Regs.Get(d.Rs2))
	hi, _ := mulU128(a, b)
	c.Regs.Set(d.Rd, W(hi))
	return nil
}

func opMULHSU[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a := signed(c.Regs.Get(d.Rs1))
	b := uint64(c.Regs.Get(d.Rs2))
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, lo := mulU128(ua, b)
	if neg {
		hi, lo = negate128(hi, lo)
	}
	_ = lo
	c.Regs.Set(d.Rd, W(hi))
	return nil
}

func mul128(a, b int64) (hi, lo uint64) {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	hi, lo = mulU128(ua, ub)
	if neg {
		hi, lo = negate128(hi, lo)
	}
	return
}

func mulU128(a, b uint64) (hi, lo uint64) {
	aLo, aHi := a&0xFFFFFFFF, a>>32
	bLo, bHi := b&0xFFFFFFFF, b>>32

	t1 := aLo * bLo
	t2 := aHi*bLo + t1>>32
	t3 := aLo*bHi + t2&0xFFFFFFFF
	lo = t1&0xFFFFFFFF | t3<<32
	hi = aHi*bHi + t2>>32 + t3>>32
	return
}

func negate128(hi, lo uint64) (uint64, uint64) {
	lo = ^lo + 1
	hi = ^hi
	if lo == 0 {
		hi++
	}
	return hi, lo
}

func opDIV[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := signed(c.Regs.Get(d.Rs1)), signed(c.Regs.Get(d.Rs2))
	c.Regs.Set(d.Rd, W(divSigned(a, b)))
	return nil
}

func opDIVU[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := c.Regs.Get(d.Rs1), c.Regs.Get(d.Rs2)
	if b == 0 {
		c.Regs.Set(d.Rd, ^W(0))
		return nil
	}
	c.Regs.Set(d.Rd, a/b)
	return nil
}

func opREM[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := signed(c.Regs.Get(d.Rs1)), signed(c.Regs.Get(d.Rs2))
	c.Regs.Set(d.Rd, W(remSigned(a, b)))
	return nil
}

func opREMU[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := c.Regs.Get(d.Rs1), c.Regs.Get(d.Rs2)
	if b == 0 {
		c.Regs.Set(d.Rd, a)
		return nil
	}
	c.Regs.Set(d.Rd, a%b)
	return nil
}

// divSigned and remSigned implement the RISC-V division-by-zero and
// overflow conventions: div-by-zero yields -1 (quotient) or the
// dividend (remainder); INT_MIN / -1 yields INT_MIN, not a trap.
func divSigned(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == -1<<63 && b == -1 {
		return a
	}
	return a / b
}

func remSigned(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == -1<<63 && b == -1 {
		return 0
	}
	return a % b
}

func opDIVW[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := int32(c.Regs.Get(d.Rs1)), int32(c.Regs.Get(d.Rs2))
	var r int32
	switch {
	case b == 0:
		r = -1
	case a == -1<<31 && b == -1:
		r = a
	default:
		r = a / b
	}
	c.Regs.Set(d.Rd, W(int64(r)))
	return nil
}

func opDIVUW[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := uint32(c.Regs.Get(d.Rs1)), uint32(c.Regs.Get(d.Rs2))
	var r int32
	if b == 0 {
		r = -1
	} else {
		r = int32(a / b)
	}
	c.Regs.Set(d.Rd, W(int64(r)))
	return nil
}

func opREMW[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := int32(c.Regs.Get(d.Rs1)), int32(c.Regs.Get(d.Rs2))
	var r int32
	switch {
	case b == 0:
		r = a
	case a == -1<<31 && b == -1:
		r = 0
	default:
		r = a % b
	}
	c.Regs.Set(d.Rd, W(int64(r)))
	return nil
}

func opREMUW[W riscv.XLen](c *CPU[W], d decode.Decoded) error {
	a, b := uint32(c.Regs.Get(d.Rs1)), uint32(c.Regs.Get(d.Rs2))
	var r int32
	if b == 0 {
		r = int32(a)
	} else {
		r = int32(a % b)
	}
	c.Regs.Set(d.Rd, W(int64(r)))
	return nil
}
