package cpu

import (
	"math"

	"rvmach/riscv"
	"rvmach/riscv/decode"
)

// buildFloatTable installs the F and D extension handlers. FMADD,
// FMSUB, FNMSUB and FNMADD decode to riscv.OpUnimplemented and are
// deliberately left unregistered here: Step's nil-handler path raises
// UnimplementedInstruction for them rather than silently no-opping.
func (c *CPU[W]) buildFloatTable() {
	t := &c.table

	t[riscv.OpFLW] = func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1) + W(d.Imm))
		v, err := c.mem.ReadWord(addr)
		if err != nil {
			return err
		}
		c.Regs.StoreU32(d.Rd, v)
		return nil
	}
	t[riscv.OpFSW] = func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1) + W(d.Imm))
		return c.mem.WriteWord(addr, c.Regs.LoadU32(d.Rs2))
	}
	t[riscv.OpFLD] = func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1) + W(d.Imm))
		v, err := c.mem.ReadDWord(addr)
		if err != nil {
			return err
		}
		c.Regs.StoreU64(d.Rd, v)
		return nil
	}
	t[riscv.OpFSD] = func(c *CPU[W], d decode.Decoded) error {
		addr := uint64(c.Regs.Get(d.Rs1) + W(d.Imm))
		return c.mem.WriteDWord(addr, c.Regs.LoadU64(d.Rs2))
	}

	t[riscv.OpFADD_S] = fBinS[W](func(a, b float32) float32 { return a + b })
	t[riscv.OpFSUB_S] = fBinS[W](func(a, b float32) float32 { return a - b })
	t[riscv.OpFMUL_S] = fBinS[W](func(a, b float32) float32 { return a * b })
	t[riscv.OpFDIV_S] = fBinS[W](func(a, b float32) float32 { return a / b })
	t[riscv.OpFSQRT_S] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat32(d.Rd, float32(math.Sqrt(float64(c.Regs.GetFloat32Checked(d.Rs1)))))
		return nil
	}
	t[riscv.OpFMIN_S] = fBinS[W](func(a, b float32) float32 { return fminS(a, b) })
	t[riscv.OpFMAX_S] = fBinS[W](func(a, b float32) float32 { return fmaxS(a, b) })
	t[riscv.OpFSGNJ_S] = fSgnjS[W](func(a, bSign float32) float32 { return copysignS(a, bSign) })
	t[riscv.OpFSGNJN_S] = fSgnjS[W](func(a, bSign float32) float32 { return copysignS(a, -bSign) })
	t[riscv.OpFSGNJX_S] = fSgnjS[W](func(a, bSign float32) float32 {
		return math.Float32frombits(math.Float32bits(a) ^ (math.Float32bits(bSign) & 0x80000000))
	})

	t[riscv.OpFEQ_S] = fCmpS[W](func(a, b float32) bool { return a == b })
	t[riscv.OpFLT_S] = fCmpS[W](func(a, b float32) bool { return a < b })
	t[riscv.OpFLE_S] = fCmpS[W](func(a, b float32) bool { return a <= b })
	t[riscv.OpFCLASS_S] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(fclassS(c.Regs.GetFloat32Checked(d.Rs1))))
		return nil
	}

	t[riscv.OpFCVT_W_S] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(int64(int32(c.Regs.GetFloat32Checked(d.Rs1)))))
		return nil
	}
	t[riscv.OpFCVT_WU_S] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(int64(int32(uint32(c.Regs.GetFloat32Checked(d.Rs1))))))
		return nil
	}
	t[riscv.OpFCVT_S_W] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat32(d.Rd, float32(int32(c.Regs.Get(d.Rs1))))
		return nil
	}
	t[riscv.OpFCVT_S_WU] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat32(d.Rd, float32(uint32(c.Regs.Get(d.Rs1))))
		return nil
	}
	t[riscv.OpFMV_X_W] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(int64(int32(c.Regs.LoadU32(d.Rs1)))))
		return nil
	}
	t[riscv.OpFMV_W_X] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.StoreU32(d.Rd, uint32(c.Regs.Get(d.Rs1)))
		return nil
	}

	// D extension
	t[riscv.OpFADD_D] = fBinD[W](func(a, b float64) float64 { return a + b })
	t[riscv.OpFSUB_D] = fBinD[W](func(a, b float64) float64 { return a - b })
	t[riscv.OpFMUL_D] = fBinD[W](func(a, b float64) float64 { return a * b })
	t[riscv.OpFDIV_D] = fBinD[W](func(a, b float64) float64 { return a / b })
	t[riscv.OpFSQRT_D] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat64(d.Rd, math.Sqrt(c.Regs.GetFloat64(d.Rs1)))
		return nil
	}
	t[riscv.OpFMIN_D] = fBinD[W](func(a, b float64) float64 { return math.Min(a, b) })
	t[riscv.OpFMAX_D] = fBinD[W](func(a, b float64) float64 { return math.Max(a, b) })
	t[riscv.OpFSGNJ_D] = fSgnjD[W](func(a, bSign float64) float64 { return math.Copysign(a, bSign) })
	t[riscv.OpFSGNJN_D] = fSgnjD[W](func(a, bSign float64) float64 { return math.Copysign(a, -bSign) })
	t[riscv.OpFSGNJX_D] = fSgnjD[W](func(a, bSign float64) float64 {
		return math.Float64frombits(math.Float64bits(a) ^ (math.Float64bits(bSign) & (1 << 63)))
	})

	t[riscv.OpFEQ_D] = fCmpD[W](func(a, b float64) bool { return a == b })
	t[riscv.OpFLT_D] = fCmpD[W](func(a, b float64) bool { return a < b })
	t[riscv.OpFLE_D] = fCmpD[W](func(a, b float64) bool { return a <= b })
	t[riscv.OpFCLASS_D] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(fclassD(c.Regs.GetFloat64(d.Rs1))))
		return nil
	}

	t[riscv.OpFCVT_S_D] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat32(d.Rd, float32(c.Regs.GetFloat64(d.Rs1)))
		return nil
	}
	t[riscv.OpFCVT_D_S] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat64(d.Rd, float64(c.Regs.GetFloat32Checked(d.Rs1)))
		return nil
	}
	t[riscv.OpFCVT_W_D] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(int64(int32(c.Regs.GetFloat64(d.Rs1)))))
		return nil
	}
	t[riscv.OpFCVT_WU_D] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.Set(d.Rd, W(int64(int32(uint32(c.Regs.GetFloat64(d.Rs1))))))
		return nil
	}
	t[riscv.OpFCVT_D_W] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat64(d.Rd, float64(int32(c.Regs.Get(d.Rs1))))
		return nil
	}
	t[riscv.OpFCVT_D_WU] = func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat64(d.Rd, float64(uint32(c.Regs.Get(d.Rs1))))
		return nil
	}

	if bitSize[W]() == 64 {
		t[riscv.OpFCVT_L_S] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.Set(d.Rd, W(int64(c.Regs.GetFloat32Checked(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_LU_S] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.Set(d.Rd, W(uint64(c.Regs.GetFloat32Checked(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_S_L] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.SetFloat32(d.Rd, float32(int64(c.Regs.Get(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_S_LU] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.SetFloat32(d.Rd, float32(uint64(c.Regs.Get(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_L_D] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.Set(d.Rd, W(int64(c.Regs.GetFloat64(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_LU_D] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.Set(d.Rd, W(uint64(c.Regs.GetFloat64(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_D_L] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.SetFloat64(d.Rd, float64(int64(c.Regs.Get(d.Rs1))))
			return nil
		}
		t[riscv.OpFCVT_D_LU] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.SetFloat64(d.Rd, float64(uint64(c.Regs.Get(d.Rs1))))
			return nil
		}
		t[riscv.OpFMV_X_D] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.Set(d.Rd, W(c.Regs.LoadU64(d.Rs1)))
			return nil
		}
		t[riscv.OpFMV_D_X] = func(c *CPU[W], d decode.Decoded) error {
			c.Regs.StoreU64(d.Rd, uint64(c.Regs.Get(d.Rs1)))
			return nil
		}
	}
}

func fBinS[W riscv.XLen](f func(a, b float32) float32) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat32(d.Rd, f(c.Regs.GetFloat32Checked(d.Rs1), c.Regs.GetFloat32Checked(d.Rs2)))
		return nil
	}
}

func fBinD[W riscv.XLen](f func(a, b float64) float64) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat64(d.Rd, f(c.Regs.GetFloat64(d.Rs1), c.Regs.GetFloat64(d.Rs2)))
		return nil
	}
}

func fSgnjS[W riscv.XLen](f func(a, bSign float32) float32) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat32(d.Rd, f(c.Regs.GetFloat32Checked(d.Rs1), c.Regs.GetFloat32Checked(d.Rs2)))
		return nil
	}
}

func fSgnjD[W riscv.XLen](f func(a, bSign float64) float64) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		c.Regs.SetFloat64(d.Rd, f(c.Regs.GetFloat64(d.Rs1), c.Regs.GetFloat64(d.Rs2)))
		return nil
	}
}

func fCmpS[W riscv.XLen](f func(a, b float32) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		var r W
		if f(c.Regs.GetFloat32Checked(d.Rs1), c.Regs.GetFloat32Checked(d.Rs2)) {
			r = 1
		}
		c.Regs.Set(d.Rd, r)
		return nil
	}
}

func fCmpD[W riscv.XLen](f func(a, b float64) bool) func(*CPU[W], decode.Decoded) error {
	return func(c *CPU[W], d decode.Decoded) error {
		var r W
		if f(c.Regs.GetFloat64(d.Rs1), c.Regs.GetFloat64(d.Rs2)) {
			r = 1
		}
		c.Regs.Set(d.Rd, r)
		return nil
	}
}

func copysignS(a, sign float32) float32 {
	return float32(math.Copysign(float64(a), float64(sign)))
}

func fminS(a, b float32) float32 {
	return float32(math.Min(float64(a), float64(b)))
}

func fmaxS(a, b float32) float32 {
	return float32(math.Max(float64(a), float64(b)))
}

// fclassS and fclassD implement FCLASS.S/D's ten-way classification,
// one bit set per category, per the F/D extension's defined encoding.
func fclassS(v float32) uint64 {
	bits := math.Float32bits(v)
	neg := bits>>31 == 1
	switch {
	case math.IsInf(float64(v), -1):
		return 1 << 0
	case math.IsInf(float64(v), 1):
		return 1 << 7
	case math.IsNaN(float64(v)):
		if bits&(1<<22) != 0 {
			return 1 << 9 // quiet NaN
		}
		return 1 << 8 // signaling NaN
	case v == 0:
		if neg {
			return 1 << 3
		}
		return 1 << 4
	case bits&0x7F800000 == 0: // subnormal
		if neg {
			return 1 << 2
		}
		return 1 << 5
	default:
		if neg {
			return 1 << 1
		}
		return 1 << 6
	}
}

func fclassD(v float64) uint64 {
	bits := math.Float64bits(v)
	neg := bits>>63 == 1
	switch {
	case math.IsInf(v, -1):
		return 1 << 0
	case math.IsInf(v, 1):
		return 1 << 7
	case math.IsNaN(v):
		if bits&(1<<51) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case v == 0:
		if neg {
			return 1 << 3
		}
		return 1 << 4
	case bits&0x7FF0000000000000 == 0:
		if neg {
			return 1 << 2
		}
		return 1 << 5
	default:
		if neg {
			return 1 << 1
		}
		return 1 << 6
	}
}
