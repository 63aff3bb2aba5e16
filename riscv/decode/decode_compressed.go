package decode

import "rvmach/riscv"

// Compressed (RVC) register fields are 3 bits, naming x8..x15.
func cReg(v uint16) uint8 { return uint8(v) + 8 }

func cBits(instr uint16, hi, lo int) uint16 {
	mask := uint16(1)<<(hi-lo+1) - 1
	return (instr >> lo) & mask
}

func cSignExtend(v uint16, bits int) int64 {
	shift := 16 - bits
	return int64(int16(v<<shift)) >> shift
}

// decodeCompressed expands a 16-bit RVC instruction into the same
// Decoded shape as a 32-bit one, with Length forced to 2. Unsupported
// or reserved encodings return illegal(word, 2).
func decodeCompressed(instr uint16, xlen int) Decoded {
	word := uint32(instr)
	quadrant := instr & 0x3
	funct3 := uint8(cBits(instr, 15, 13))
	base := Decoded{Raw: word, Length: 2}

	switch quadrant {
	case 0x0:
		switch funct3 {
		case 0x0: // C.ADDI4SPN
			nzuimm := (cBits(instr, 10, 7) << 6) | (cBits(instr, 12, 11) << 4) |
				(cBits(instr, 5, 5) << 3) | (cBits(instr, 6, 6) << 2)
			if nzuimm == 0 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpADDI
			base.Rd = cReg(cBits(instr, 4, 2))
			base.Rs1 = riscv.RegSP
			base.Imm = int64(nzuimm)
			return base
		case 0x1: // C.FLD
			base.Op = riscv.OpFLD
			base.Rd = cReg(cBits(instr, 4, 2))
			base.Rs1 = cReg(cBits(instr, 9, 7))
			base.Imm = int64((cBits(instr, 6, 5) << 6) | (cBits(instr, 12, 10) << 3))
			return base
		case 0x2: // C.LW
			base.Op = riscv.OpLW
			base.Rd = cReg(cBits(instr, 4, 2))
			base.Rs1 = cReg(cBits(instr, 9, 7))
			base.Imm = int64((cBits(instr, 5, 5) << 6) | (cBits(instr, 12, 10) << 3) | (cBits(instr, 6, 6) << 2))
			return base
		case 0x3: // C.LD (RV64) / C.FLW (RV32, unimplemented here)
			if xlen == 64 {
				base.Op = riscv.OpLD
				base.Rd = cReg(cBits(instr, 4, 2))
				base.Rs1 = cReg(cBits(instr, 9, 7))
				base.Imm = int64((cBits(instr, 6, 5) << 6) | (cBits(instr, 12, 10) << 3))
				return base
			}
			return illegal(word, 2)
		case 0x5: // C.FSD
			base.Op = riscv.OpFSD
			base.Rs2 = cReg(cBits(instr, 4, 2))
			base.Rs1 = cReg(cBits(instr, 9, 7))
			base.Imm = int64((cBits(instr, 6, 5) << 6) | (cBits(instr, 12, 10) << 3))
			return base
		case 0x6: // C.SW
			base.Op = riscv.OpSW
			base.Rs2 = cReg(cBits(instr, 4, 2))
			base.Rs1 = cReg(cBits(instr, 9, 7))
			base.Imm = int64((cBits(instr, 5, 5) << 6) | (cBits(instr, 12, 10) << 3) | (cBits(instr, 6, 6) << 2))
			return base
		case 0x7: // C.SD (RV64)
			if xlen == 64 {
				base.Op = riscv.OpSD
				base.Rs2 = cReg(cBits(instr, 4, 2))
				base.Rs1 = cReg(cBits(instr, 9, 7))
				base.Imm = int64((cBits(instr, 6, 5) << 6) | (cBits(instr, 12, 10) << 3))
				return base
			}
			return illegal(word, 2)
		}
		return illegal(word, 2)

	case 0x1:
		switch funct3 {
		case 0x0: // C.NOP / C.ADDI
			rd := uint8(cBits(instr, 11, 7))
			imm := cSignExtend(cBits(instr, 12, 12)<<5|cBits(instr, 6, 2), 6)
			base.Op = riscv.OpADDI
			base.Rd = rd
			base.Rs1 = rd
			base.Imm = imm
			return base
		case 0x1: // C.ADDIW (RV64 only)
			if xlen != 64 {
				return illegal(word, 2)
			}
			rd := uint8(cBits(instr, 11, 7))
			if rd == 0 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpADDIW
			base.Rd = rd
			base.Rs1 = rd
			base.Imm = cSignExtend(cBits(instr, 12, 12)<<5|cBits(instr, 6, 2), 6)
			return base
		case 0x2: // C.LI
			base.Op = riscv.OpADDI
			base.Rd = uint8(cBits(instr, 11, 7))
			base.Rs1 = riscv.RegZero
			base.Imm = cSignExtend(cBits(instr, 12, 12)<<5|cBits(instr, 6, 2), 6)
			return base
		case 0x3:
			rd := uint8(cBits(instr, 11, 7))
			if rd == riscv.RegSP { // C.ADDI16SP
				imm := cSignExtend(
					cBits(instr, 12, 12)<<9|cBits(instr, 4, 3)<<7|cBits(instr, 5, 5)<<6|
						cBits(instr, 2, 2)<<5|cBits(instr, 6, 6)<<4, 10)
				if imm == 0 {
					return illegal(word, 2)
				}
				base.Op = riscv.OpADDI
				base.Rd = riscv.RegSP
				base.Rs1 = riscv.RegSP
				base.Imm = imm
				return base
			}
			// C.LUI
			if rd == 0 {
				return illegal(word, 2)
			}
			raw := uint32(cBits(instr, 12, 12))<<17 | uint32(cBits(instr, 6, 2))<<12
			imm := int64(int32(raw<<14) >> 14) // sign-extend from bit 17
			if imm == 0 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpLUI
			base.Rd = rd
			base.Imm = imm
			return base
		case 0x4:
			rd := cReg(cBits(instr, 9, 7))
			top := cBits(instr, 11, 10)
			switch top {
			case 0x0, 0x1: // C.SRLI / C.SRAI
				shamt := cBits(instr, 12, 12)<<5 | cBits(instr, 6, 2)
				base.Rd, base.Rs1 = rd, rd
				base.Imm = int64(shamt)
				if top == 0x0 {
					base.Op = riscv.OpSRLI
				} else {
					base.Op = riscv.OpSRAI
				}
				return base
			case 0x2: // C.ANDI
				base.Op = riscv.OpANDI
				base.Rd, base.Rs1 = rd, rd
				base.Imm = cSignExtend(cBits(instr, 12, 12)<<5|cBits(instr, 6, 2), 6)
				return base
			case 0x3:
				rs2 := cReg(cBits(instr, 4, 2))
				wide := cBits(instr, 12, 12) == 1
				sel := cBits(instr, 6, 5)
				base.Rd, base.Rs1, base.Rs2 = rd, rd, rs2
				switch {
				case !wide && sel == 0x0:
					base.Op = riscv.OpSUB
				case !wide && sel == 0x1:
					base.Op = riscv.OpXOR
				case !wide && sel == 0x2:
					base.Op = riscv.OpOR
				case !wide && sel == 0x3:
					base.Op = riscv.OpAND
				case wide && sel == 0x0 && xlen == 64:
					base.Op = riscv.OpSUBW
				case wide && sel == 0x1 && xlen == 64:
					base.Op = riscv.OpADDW
				default:
					return illegal(word, 2)
				}
				return base
			}
		case 0x5: // C.J
			base.Op = riscv.OpJAL
			base.Rd = riscv.RegZero
			base.Imm = cjImm(instr)
			return base
		case 0x6: // C.BEQZ
			base.Op = riscv.OpBEQ
			base.Rs1 = cReg(cBits(instr, 9, 7))
			base.Rs2 = riscv.RegZero
			base.Imm = cbImm(instr)
			return base
		case 0x7: // C.BNEZ
			base.Op = riscv.OpBNE
			base.Rs1 = cReg(cBits(instr, 9, 7))
			base.Rs2 = riscv.RegZero
			base.Imm = cbImm(instr)
			return base
		}
		return illegal(word, 2)

	case 0x2:
		switch funct3 {
		case 0x0: // C.SLLI
			rd := uint8(cBits(instr, 11, 7))
			if rd == 0 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpSLLI
			base.Rd, base.Rs1 = rd, rd
			base.Imm = int64(cBits(instr, 12, 12)<<5 | cBits(instr, 6, 2))
			return base
		case 0x1: // C.FLDSP
			base.Op = riscv.OpFLD
			base.Rd = uint8(cBits(instr, 11, 7))
			base.Rs1 = riscv.RegSP
			base.Imm = int64(cBits(instr, 4, 2)<<6 | cBits(instr, 12, 12)<<5 | cBits(instr, 6, 5)<<3)
			return base
		case 0x2: // C.LWSP
			rd := uint8(cBits(instr, 11, 7))
			if rd == 0 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpLW
			base.Rd = rd
			base.Rs1 = riscv.RegSP
			base.Imm = int64(cBits(instr, 3, 2)<<6 | cBits(instr, 12, 12)<<5 | cBits(instr, 6, 4)<<2)
			return base
		case 0x3: // C.LDSP (RV64)
			if xlen != 64 {
				return illegal(word, 2)
			}
			rd := uint8(cBits(instr, 11, 7))
			if rd == 0 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpLD
			base.Rd = rd
			base.Rs1 = riscv.RegSP
			base.Imm = int64(cBits(instr, 4, 2)<<6 | cBits(instr, 12, 12)<<5 | cBits(instr, 6, 5)<<3)
			return base
		case 0x4:
			top := cBits(instr, 12, 12)
			rd := uint8(cBits(instr, 11, 7))
			rs2 := uint8(cBits(instr, 6, 2))
			switch {
			case top == 0 && rs2 == 0: // C.JR
				if rd == 0 {
					return illegal(word, 2)
				}
				base.Op = riscv.OpJALR
				base.Rd = riscv.RegZero
				base.Rs1 = rd
				base.Imm = 0
				return base
			case top == 0: // C.MV
				base.Op = riscv.OpADD
				base.Rd = rd
				base.Rs1 = riscv.RegZero
				base.Rs2 = rs2
				return base
			case top == 1 && rd == 0 && rs2 == 0: // C.EBREAK
				base.Op = riscv.OpEBREAK
				return base
			case top == 1 && rs2 == 0: // C.JALR
				base.Op = riscv.OpJALR
				base.Rd = riscv.RegRA
				base.Rs1 = rd
				base.Imm = 0
				return base
			default: // C.ADD
				base.Op = riscv.OpADD
				base.Rd = rd
				base.Rs1 = rd
				base.Rs2 = rs2
				return base
			}
		case 0x5: // C.FSDSP
			base.Op = riscv.OpFSD
			base.Rs2 = uint8(cBits(instr, 6, 2))
			base.Rs1 = riscv.RegSP
			base.Imm = int64(cBits(instr, 9, 7)<<6 | cBits(instr, 12, 10)<<3)
			return base
		case 0x6: // C.SWSP
			base.Op = riscv.OpSW
			base.Rs2 = uint8(cBits(instr, 6, 2))
			base.Rs1 = riscv.RegSP
			base.Imm = int64(cBits(instr, 8, 7)<<6 | cBits(instr, 12, 9)<<2)
			return base
		case 0x7: // C.SDSP (RV64)
			if xlen != 64 {
				return illegal(word, 2)
			}
			base.Op = riscv.OpSD
			base.Rs2 = uint8(cBits(instr, 6, 2))
			base.Rs1 = riscv.RegSP
			base.Imm = int64(cBits(instr, 9, 7)<<6 | cBits(instr, 12, 10)<<3)
			return base
		}
		return illegal(word, 2)
	}
	return illegal(word, 2)
}

// cjImm reassembles the 11-bit scrambled jump-target immediate of C.J.
// C.JAL, which shares this layout on RV32, is not decoded.
func cjImm(instr uint16) int64 {
	v := cBits(instr, 12, 12)<<11 | cBits(instr, 8, 8)<<10 | cBits(instr, 10, 9)<<8 |
		cBits(instr, 6, 6)<<7 | cBits(instr, 7, 7)<<6 | cBits(instr, 2, 2)<<5 |
		cBits(instr, 11, 11)<<4 | cBits(instr, 5, 3)<<1
	return cSignExtend(v, 12)
}

// cbImm reassembles the 8-bit scrambled branch-target immediate used by
// C.BEQZ and C.BNEZ.
func cbImm(instr uint16) int64 {
	v := cBits(instr, 12, 12)<<8 | cBits(instr, 6, 5)<<6 | cBits(instr, 2, 2)<<5 |
		cBits(instr, 11, 10)<<3 | cBits(instr, 4, 3)<<1
	return cSignExtend(v, 9)
}
