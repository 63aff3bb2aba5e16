package decode

import "rvmach/riscv"

// decodeFloat handles the F and D extension opcodes: loads/stores,
// four-operand fused multiply-add forms (decoded but left
// OpUnimplemented — see DESIGN.md), and the OP-FP arithmetic/compare/
// convert space keyed by funct7.
func decodeFloat(word uint32, base Decoded, opcode, funct3, funct7, rs2 uint8, xlen int) Decoded {
	base.Length = 4
	switch opcode {
	case riscv.OpcodeLoadFP:
		base.Imm = immI(word)
		switch funct3 {
		case 0x2:
			base.Op = riscv.OpFLW
		case 0x3:
			base.Op = riscv.OpFLD
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeStoreFP:
		base.Imm = immS(word)
		switch funct3 {
		case 0x2:
			base.Op = riscv.OpFSW
		case 0x3:
			base.Op = riscv.OpFSD
		default:
			return illegal(word, 4)
		}
		return base
	case riscv.OpcodeMAdd, riscv.OpcodeMSub, riscv.OpcodeNMSub, riscv.OpcodeNMAdd:
		base.Rs3 = uint8(bits(word, 31, 27))
		base.RM = funct3
		base.Op = riscv.OpUnimplemented
		return base
	case riscv.OpcodeOpFP:
		base.RM = funct3
		return decodeOpFP(word, base, funct7, rs2, xlen)
	}
	return illegal(word, 4)
}

func decodeOpFP(word uint32, base Decoded, funct7, rs2 uint8, xlen int) Decoded {
	switch funct7 {
	case 0x00:
		base.Op = riscv.OpFADD_S
	case 0x01:
		base.Op = riscv.OpFADD_D
	case 0x04:
		base.Op = riscv.OpFSUB_S
	case 0x05:
		base.Op = riscv.OpFSUB_D
	case 0x08:
		base.Op = riscv.OpFMUL_S
	case 0x09:
		base.Op = riscv.OpFMUL_D
	case 0x0C:
		base.Op = riscv.OpFDIV_S
	case 0x0D:
		base.Op = riscv.OpFDIV_D
	case 0x2C:
		if rs2 != 0 {
			return illegal(word, 4)
		}
		base.Op = riscv.OpFSQRT_S
	case 0x2D:
		if rs2 != 0 {
			return illegal(word, 4)
		}
		base.Op = riscv.OpFSQRT_D
	case 0x10:
		base.Op = pickSgnj(base.RM, riscv.OpFSGNJ_S, riscv.OpFSGNJN_S, riscv.OpFSGNJX_S)
	case 0x11:
		base.Op = pickSgnj(base.RM, riscv.OpFSGNJ_D, riscv.OpFSGNJN_D, riscv.OpFSGNJX_D)
	case 0x14:
		base.Op = pickMinMax(base.RM, riscv.OpFMIN_S, riscv.OpFMAX_S)
	case 0x15:
		base.Op = pickMinMax(base.RM, riscv.OpFMIN_D, riscv.OpFMAX_D)
	case 0x20:
		base.Op = riscv.OpFCVT_S_D
	case 0x21:
		base.Op = riscv.OpFCVT_D_S
	case 0x50:
		base.Op = pickCmp(base.RM, riscv.OpFLE_S, riscv.OpFLT_S, riscv.OpFEQ_S)
	case 0x51:
		base.Op = pickCmp(base.RM, riscv.OpFLE_D, riscv.OpFLT_D, riscv.OpFEQ_D)
	case 0x60:
		base.Op = cvtFromS(rs2, xlen)
	case 0x61:
		base.Op = cvtFromD(rs2, xlen)
	case 0x68:
		base.Op = cvtToS(rs2, xlen)
	case 0x69:
		base.Op = cvtToD(rs2, xlen)
	case 0x70:
		if base.RM == 0 {
			base.Op = riscv.OpFMV_X_W
		} else {
			base.Op = riscv.OpFCLASS_S
		}
	case 0x71:
		if base.RM == 0 {
			base.Op = riscv.OpFMV_X_D
		} else {
			base.Op = riscv.OpFCLASS_D
		}
	case 0x78:
		base.Op = riscv.OpFMV_W_X
	case 0x79:
		base.Op = riscv.OpFMV_D_X
	default:
		return illegal(word, 4)
	}
	return base
}

func pickSgnj(rm uint8, j, jn, jx riscv.OpKind) riscv.OpKind {
	switch rm {
	case 0:
		return j
	case 1:
		return jn
	default:
		return jx
	}
}

func pickMinMax(rm uint8, min, max riscv.OpKind) riscv.OpKind {
	if rm == 0 {
		return min
	}
	return max
}

func pickCmp(rm uint8, le, lt, eq riscv.OpKind) riscv.OpKind {
	switch rm {
	case 0:
		return le
	case 1:
		return lt
	default:
		return eq
	}
}

func cvtFromS(rs2 uint8, xlen int) riscv.OpKind {
	switch rs2 {
	case 0:
		return riscv.OpFCVT_W_S
	case 1:
		return riscv.OpFCVT_WU_S
	case 2:
		if xlen == 64 {
			return riscv.OpFCVT_L_S
		}
	case 3:
		if xlen == 64 {
			return riscv.OpFCVT_LU_S
		}
	}
	return riscv.OpInvalid
}

func cvtFromD(rs2 uint8, xlen int) riscv.OpKind {
	switch rs2 {
	case 0:
		return riscv.OpFCVT_W_D
	case 1:
		return riscv.OpFCVT_WU_D
	case 2:
		if xlen == 64 {
			return riscv.OpFCVT_L_D
		}
	case 3:
		if xlen == 64 {
			return riscv.OpFCVT_LU_D
		}
	}
	return riscv.OpInvalid
}

func cvtToS(rs2 uint8, xlen int) riscv.OpKind {
	switch rs2 {
	case 0:
		return riscv.OpFCVT_S_W
	case 1:
		return riscv.OpFCVT_S_WU
	case 2:
		if xlen == 64 {
			return riscv.OpFCVT_S_L
		}
	case 3:
		if xlen == 64 {
			return riscv.OpFCVT_S_LU
		}
	}
	return riscv.OpInvalid
}

func cvtToD(rs2 uint8, xlen int) riscv.OpKind {
	switch rs2 {
	case 0:
		return riscv.OpFCVT_D_W
	case 1:
		return riscv.OpFCVT_D_WU
	case 2:
		if xlen == 64 {
			return riscv.OpFCVT_D_L
		}
	case 3:
		if xlen == 64 {
			return riscv.OpFCVT_D_LU
		}
	}
	return riscv.OpInvalid
}
