// Package decode implements the pure RISC-V instruction decoder: bit
// field extraction, sign extension, and compressed-instruction expansion.
// It has no hidden state and mutates nothing; its output is what the
// per-page decode cache in package memory stores.
package decode

import "rvmach/riscv"

// Decoded is a fully decoded instruction: the OpKind tag plus every
// operand field a handler needs. This is the decode-cache entry — it is
// cheaper to cache than to recompute, and it is a plain comparable
// value, so two decodes of the same word compare equal with ==.
type Decoded struct {
	Op     riscv.OpKind
	Rd     uint8
	Rs1    uint8
	Rs2    uint8
	Rs3    uint8
	Funct3 uint8
	CSR    uint16
	RM     uint8 // rounding mode field (funct3 on OP-FP instructions)
	Aq     bool
	Rl     bool
	Imm    int64
	Length uint8 // 2 (compressed) or 4
	Raw    uint32
}

// Illegal reports whether decoding produced a non-executable result.
func (d Decoded) Illegal() bool {
	return d.Op == riscv.OpInvalid || d.Op == riscv.OpIllegal
}

func illegal(raw uint32, length uint8) Decoded {
	return Decoded{Op: riscv.OpIllegal, Raw: raw, Length: length}
}

func signExtend(v uint32, bits int) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift) >> shift)
}

// bits extracts [hi:lo] inclusive from a 32-bit word.
func bits(word uint32, hi, lo int) uint32 {
	return (word >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func immI(word uint32) int64 { return signExtend(bits(word, 31, 20), 12) }

func immS(word uint32) int64 {
	v := (bits(word, 31, 25) << 5) | bits(word, 11, 7)
	return signExtend(v, 12)
}

func immB(word uint32) int64 {
	v := (bits(word, 31, 31) << 12) | (bits(word, 7, 7) << 11) |
		(bits(word, 30, 25) << 5) | (bits(word, 11, 8) << 1)
	return signExtend(v, 13)
}

func immU(word uint32) int64 {
	return int64(int32(word & 0xFFFFF000))
}

func immJ(word uint32) int64 {
	v := (bits(word, 31, 31) << 20) | (bits(word, 19, 12) << 12) |
		(bits(word, 20, 20) << 11) | (bits(word, 30, 21) << 1)
	return signExtend(v, 21)
}

// Decode decodes a 16- or 32-bit instruction word. xlen must be 32 or
// 64. If compressedEnabled is false, word is always interpreted as a
// full 32-bit instruction (callers in that configuration guarantee the
// guest never emits a C-extension encoding).
func Decode(word uint32, xlen int, compressedEnabled bool) Decoded {
	if compressedEnabled && (word&0x3) != 0x3 {
		return decodeCompressed(uint16(word), xlen)
	}
	return decode32(word, xlen)
}

func decode32(word uint32, xlen int) Decoded {
	opcode := bits(word, 6, 0)
	funct3 := uint8(bits(word, 14, 12))
	funct7 := uint8(bits(word, 31, 25))
	rd := uint8(bits(word, 11, 7))
	rs1 := uint8(bits(word, 19, 15))
	rs2 := uint8(bits(word, 24, 20))

	base := Decoded{Rd: rd, Rs1: rs1, Rs2: rs2, Funct3: funct3, Length: 4, Raw: word}

	switch opcode {
	case riscv.OpcodeLUI:
		base.Op, base.Imm = riscv.OpLUI, immU(word)
		return base
	case riscv.OpcodeAUIPC:
		base.Op, base.Imm = riscv.OpAUIPC, immU(word)
		return base
	case riscv.OpcodeJAL:
		base.Op, base.Imm = riscv.OpJAL, immJ(word)
		return base
	case riscv.OpcodeJALR:
		if funct3 != 0 {
			return illegal(word, 4)
		}
		base.Op, base.Imm = riscv.OpJALR, immI(word)
		return base
	case riscv.OpcodeBranch:
		base.Imm = immB(word)
		switch funct3 {
		case 0x0:
			base.Op = riscv.OpBEQ
		case 0x1:
			base.Op = riscv.OpBNE
		case 0x4:
			base.Op = riscv.OpBLT
		case 0x5:
			base.Op = riscv.OpBGE
		case 0x6:
			base.Op = riscv.OpBLTU
		case 0x7:
			base.Op = riscv.OpBGEU
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeLoad:
		base.Imm = immI(word)
		switch funct3 {
		case 0x0:
			base.Op = riscv.OpLB
		case 0x1:
			base.Op = riscv.OpLH
		case 0x2:
			base.Op = riscv.OpLW
		case 0x3:
			if xlen != 64 {
				return illegal(word, 4)
			}
			base.Op = riscv.OpLD
		case 0x4:
			base.Op = riscv.OpLBU
		case 0x5:
			base.Op = riscv.OpLHU
		case 0x6:
			if xlen != 64 {
				return illegal(word, 4)
			}
			base.Op = riscv.OpLWU
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeStore:
		base.Imm = immS(word)
		switch funct3 {
		case 0x0:
			base.Op = riscv.OpSB
		case 0x1:
			base.Op = riscv.OpSH
		case 0x2:
			base.Op = riscv.OpSW
		case 0x3:
			if xlen != 64 {
				return illegal(word, 4)
			}
			base.Op = riscv.OpSD
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeOpImm:
		base.Imm = immI(word)
		switch funct3 {
		case 0x0:
			base.Op = riscv.OpADDI
		case 0x2:
			base.Op = riscv.OpSLTI
		case 0x3:
			base.Op = riscv.OpSLTIU
		case 0x4:
			base.Op = riscv.OpXORI
		case 0x6:
			base.Op = riscv.OpORI
		case 0x7:
			base.Op = riscv.OpANDI
		case 0x1:
			if !validShift(funct7, xlen) {
				return illegal(word, 4)
			}
			base.Op, base.Imm = riscv.OpSLLI, int64(shamt(word, xlen))
		case 0x5:
			shiftType := bits(word, 31, 26)
			if xlen == 32 {
				shiftType = bits(word, 31, 25)
			}
			if !validShift(funct7, xlen) {
				return illegal(word, 4)
			}
			if shiftType&0x20 != 0 && xlen == 32 || (xlen == 64 && bits(word, 30, 30) == 1) {
				base.Op = riscv.OpSRAI
			} else {
				base.Op = riscv.OpSRLI
			}
			base.Imm = int64(shamt(word, xlen))
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeOp:
		base.Op = aluRegOp(funct3, funct7)
		if base.Op == riscv.OpInvalid {
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeOpImm32:
		if xlen != 64 {
			return illegal(word, 4)
		}
		base.Imm = immI(word)
		switch funct3 {
		case 0x0:
			base.Op = riscv.OpADDIW
		case 0x1:
			if funct7 != 0 {
				return illegal(word, 4)
			}
			base.Op, base.Imm = riscv.OpSLLIW, int64(rs2)
		case 0x5:
			switch funct7 {
			case 0x00:
				base.Op = riscv.OpSRLIW
			case 0x20:
				base.Op = riscv.OpSRAIW
			default:
				return illegal(word, 4)
			}
			base.Imm = int64(rs2)
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeOp32:
		if xlen != 64 {
			return illegal(word, 4)
		}
		base.Op = alu32RegOp(funct3, funct7)
		if base.Op == riscv.OpInvalid {
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeMiscMem:
		base.Op = riscv.OpFENCE
		return base
	case riscv.OpcodeSystem:
		return decodeSystem(word, base, funct3, funct7, rs2)
	case riscv.OpcodeAMO:
		return decodeAtomic(word, base, funct3, funct7)
	case riscv.OpcodeLoadFP, riscv.OpcodeStoreFP, riscv.OpcodeOpFP,
		riscv.OpcodeMAdd, riscv.OpcodeMSub, riscv.OpcodeNMSub, riscv.OpcodeNMAdd:
		return decodeFloat(word, base, uint8(opcode), funct3, funct7, rs2, xlen)
	default:
		return illegal(word, 4)
	}
}

func validShift(funct7 uint8, xlen int) bool {
	if xlen == 32 {
		return funct7 == 0x00 || funct7 == 0x20
	}
	// RV64: top bit of shamt must be zero unless it's a valid SRAI/SLLI
	// funct7 high bit pattern; funct6 selects SRAI/SLLI, bit 25 is shamt[5].
	top6 := funct7 >> 1
	return top6 == 0x00 || top6 == 0x10
}

func shamt(word uint32, xlen int) uint32 {
	if xlen == 64 {
		return bits(word, 25, 20)
	}
	return bits(word, 24, 20)
}

func aluRegOp(funct3, funct7 uint8) riscv.OpKind {
	switch {
	case funct7 == 0x01:
		switch funct3 {
		case 0x0:
			return riscv.OpMUL
		case 0x1:
			return riscv.OpMULH
		case 0x2:
			return riscv.OpMULHSU
		case 0x3:
			return riscv.OpMULHU
		case 0x4:
			return riscv.OpDIV
		case 0x5:
			return riscv.OpDIVU
		case 0x6:
			return riscv.OpREM
		case 0x7:
			return riscv.OpREMU
		}
	case funct7 == 0x00:
		switch funct3 {
		case 0x0:
			return riscv.OpADD
		case 0x1:
			return riscv.OpSLL
		case 0x2:
			return riscv.OpSLT
		case 0x3:
			return riscv.OpSLTU
		case 0x4:
			return riscv.OpXOR
		case 0x5:
			return riscv.OpSRL
		case 0x6:
			return riscv.OpOR
		case 0x7:
			return riscv.OpAND
		}
	case funct7 == 0x20:
		switch funct3 {
		case 0x0:
			return riscv.OpSUB
		case 0x5:
			return riscv.OpSRA
		}
	}
	return riscv.OpInvalid
}

func alu32RegOp(funct3, funct7 uint8) riscv.OpKind {
	switch {
	case funct7 == 0x01:
		switch funct3 {
		case 0x0:
			return riscv.OpMULW
		case 0x4:
			return riscv.OpDIVW
		case 0x5:
			return riscv.OpDIVUW
		case 0x6:
			return riscv.OpREMW
		case 0x7:
			return riscv.OpREMUW
		}
	case funct7 == 0x00:
		switch funct3 {
		case 0x0:
			return riscv.OpADDW
		case 0x1:
			return riscv.OpSLLW
		case 0x5:
			return riscv.OpSRLW
		}
	case funct7 == 0x20:
		switch funct3 {
		case 0x0:
			return riscv.OpSUBW
		case 0x5:
			return riscv.OpSRAW
		}
	}
	return riscv.OpInvalid
}

func decodeSystem(word uint32, base Decoded, funct3, funct7, rs2 uint8) Decoded {
	base.Length = 4
	if funct3 == 0 {
		switch {
		case word>>7 == 0 && funct7 == 0:
			base.Op = riscv.OpECALL
		case rs2 == 1 && funct7 == 0:
			base.Op = riscv.OpEBREAK
		default:
			return illegal(word, 4)
		}
		return base
	}
	csr := uint16(bits(word, 31, 20))
	base.CSR = csr
	switch funct3 {
	case 0x1:
		base.Op = riscv.OpCSRRW
	case 0x2:
		base.Op = riscv.OpCSRRS
	case 0x3:
		base.Op = riscv.OpCSRRC
	case 0x5:
		base.Op = riscv.OpCSRRWI
		base.Imm = int64(base.Rs1)
	case 0x6:
		base.Op = riscv.OpCSRRSI
		base.Imm = int64(base.Rs1)
	case 0x7:
		base.Op = riscv.OpCSRRCI
		base.Imm = int64(base.Rs1)
	default:
		return illegal(word, 4)
	}
	return base
}

func decodeAtomic(word uint32, base Decoded, funct3, funct7 uint8) Decoded {
	base.Aq = funct7&0x02 != 0
	base.Rl = funct7&0x01 != 0
	op5 := funct7 >> 2
	var table map[uint8]riscv.OpKind
	switch funct3 {
	case 0x2:
		table = map[uint8]riscv.OpKind{
			0x00: riscv.OpAMOADDW, 0x01: riscv.OpAMOSWAPW, 0x02: riscv.OpLRW, 0x03: riscv.OpSCW,
			0x04: riscv.OpAMOXORW, 0x0C: riscv.OpAMOANDW, 0x08: riscv.OpAMOORW,
			0x10: riscv.OpAMOMINW, 0x14: riscv.OpAMOMAXW, 0x18: riscv.OpAMOMINUW, 0x1C: riscv.OpAMOMAXUW,
		}
	case 0x3:
		table = map[uint8]riscv.OpKind{
			0x00: riscv.OpAMOADDD, 0x01: riscv.OpAMOSWAPD, 0x02: riscv.OpLRD, 0x03: riscv.OpSCD,
			0x04: riscv.OpAMOXORD, 0x0C: riscv.OpAMOANDD, 0x08: riscv.OpAMOORD,
			0x10: riscv.OpAMOMIND, 0x14: riscv.OpAMOMAXD, 0x18: riscv.OpAMOMINUD, 0x1C: riscv.OpAMOMAXUD,
		}
	default:
		return illegal(word, 4)
	}
	op, ok := table[op5]
	if !ok {
		return illegal(word, 4)
	}
	base.Op = op
	return base
}
