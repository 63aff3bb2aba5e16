package decode

import (
	"fmt"
	"strings"

	"rvmach/riscv"
)

var mnemonics = map[riscv.OpKind]string{
	riscv.OpLUI: "lui", riscv.OpAUIPC: "auipc", riscv.OpJAL: "jal", riscv.OpJALR: "jalr",
	riscv.OpBEQ: "beq", riscv.OpBNE: "bne", riscv.OpBLT: "blt", riscv.OpBGE: "bge",
	riscv.OpBLTU: "bltu", riscv.OpBGEU: "bgeu",
	riscv.OpLB: "lb", riscv.OpLH: "lh", riscv.OpLW: "lw", riscv.OpLBU: "lbu", riscv.OpLHU: "lhu",
	riscv.OpSB: "sb", riscv.OpSH: "sh", riscv.OpSW: "sw",
	riscv.OpADDI: "addi", riscv.OpSLTI: "slti", riscv.OpSLTIU: "sltiu", riscv.OpXORI: "xori",
	riscv.OpORI: "ori", riscv.OpANDI: "andi", riscv.OpSLLI: "slli", riscv.OpSRLI: "srli", riscv.OpSRAI: "srai",
	riscv.OpADD: "add", riscv.OpSUB: "sub", riscv.OpSLL: "sll", riscv.OpSLT: "slt", riscv.OpSLTU: "sltu",
	riscv.OpXOR: "xor", riscv.OpSRL: "srl", riscv.OpSRA: "sra", riscv.OpOR: "or", riscv.OpAND: "and",
	riscv.OpFENCE: "fence", riscv.OpECALL: "ecall", riscv.OpEBREAK: "ebreak",
	riscv.OpLWU: "lwu", riscv.OpLD: "ld", riscv.OpSD: "sd",
	riscv.OpADDIW: "addiw", riscv.OpSLLIW: "slliw", riscv.OpSRLIW: "srliw", riscv.OpSRAIW: "sraiw",
	riscv.OpADDW: "addw", riscv.OpSUBW: "subw", riscv.OpSLLW: "sllw", riscv.OpSRLW: "srlw", riscv.OpSRAW: "sraw",
	riscv.OpMUL: "mul", riscv.OpMULH: "mulh", riscv.OpMULHSU: "mulhsu", riscv.OpMULHU: "mulhu",
	riscv.OpDIV: "div", riscv.OpDIVU: "divu", riscv.OpREM: "rem", riscv.OpREMU: "remu",
	riscv.OpMULW: "mulw", riscv.OpDIVW: "divw", riscv.OpDIVUW: "divuw", riscv.OpREMW: "remw", riscv.OpREMUW: "remuw",
	riscv.OpLRW: "lr.w", riscv.OpSCW: "sc.w",
	riscv.OpAMOSWAPW: "amoswap.w", riscv.OpAMOADDW: "amoadd.w", riscv.OpAMOXORW: "amoxor.w",
	riscv.OpAMOANDW: "amoand.w", riscv.OpAMOORW: "amoor.w", riscv.OpAMOMINW: "amomin.w",
	riscv.OpAMOMAXW: "amomax.w", riscv.OpAMOMINUW: "amominu.w", riscv.OpAMOMAXUW: "amomaxu.w",
	riscv.OpLRD: "lr.d", riscv.OpSCD: "sc.d",
	riscv.OpAMOSWAPD: "amoswap.d", riscv.OpAMOADDD: "amoadd.d", riscv.OpAMOXORD: "amoxor.d",
	riscv.OpAMOANDD: "amoand.d", riscv.OpAMOORD: "amoor.d", riscv.OpAMOMIND: "amomin.d",
	riscv.OpAMOMAXD: "amomax.d", riscv.OpAMOMINUD: "amominu.d", riscv.OpAMOMAXUD: "amomaxu.d",
	riscv.OpCSRRW: "csrrw", riscv.OpCSRRS: "csrrs", riscv.OpCSRRC: "csrrc",
	riscv.OpCSRRWI: "csrrwi", riscv.OpCSRRSI: "csrrsi", riscv.OpCSRRCI: "csrrci",
	riscv.OpFLW: "flw", riscv.OpFSW: "fsw", riscv.OpFLD: "fld", riscv.OpFSD: "fsd",
	riscv.OpFADD_S: "fadd.s", riscv.OpFSUB_S: "fsub.s", riscv.OpFMUL_S: "fmul.s", riscv.OpFDIV_S: "fdiv.s",
	riscv.OpFSQRT_S: "fsqrt.s", riscv.OpFSGNJ_S: "fsgnj.s", riscv.OpFSGNJN_S: "fsgnjn.s", riscv.OpFSGNJX_S: "fsgnjx.s",
	riscv.OpFMIN_S: "fmin.s", riscv.OpFMAX_S: "fmax.s",
	riscv.OpFCVT_W_S: "fcvt.w.s", riscv.OpFCVT_WU_S: "fcvt.wu.s", riscv.OpFMV_X_W: "fmv.x.w",
	riscv.OpFEQ_S: "feq.s", riscv.OpFLT_S: "flt.s", riscv.OpFLE_S: "fle.s", riscv.OpFCLASS_S: "fclass.s",
	riscv.OpFCVT_S_W: "fcvt.s.w", riscv.OpFCVT_S_WU: "fcvt.s.wu", riscv.OpFMV_W_X: "fmv.w.x",
	riscv.OpFCVT_L_S: "fcvt.l.s", riscv.OpFCVT_LU_S: "fcvt.lu.s", riscv.OpFCVT_S_L: "fcvt.s.l", riscv.OpFCVT_S_LU: "fcvt.s.lu",
	riscv.OpFADD_D: "fadd.d", riscv.OpFSUB_D: "fsub.d", riscv.OpFMUL_D: "fmul.d", riscv.OpFDIV_D: "fdiv.d",
	riscv.OpFSQRT_D: "fsqrt.d", riscv.OpFSGNJ_D: "fsgnj.d", riscv.OpFSGNJN_D: "fsgnjn.d", riscv.OpFSGNJX_D: "fsgnjx.d",
	riscv.OpFMIN_D: "fmin.d", riscv.OpFMAX_D: "fmax.d",
	riscv.OpFCVT_S_D: "fcvt.s.d", riscv.OpFCVT_D_S: "fcvt.d.s",
	riscv.OpFEQ_D: "feq.d", riscv.OpFLT_D: "flt.d", riscv.OpFLE_D: "fle.d", riscv.OpFCLASS_D: "fclass.d",
	riscv.OpFCVT_W_D: "fcvt.w.d", riscv.OpFCVT_WU_D: "fcvt.wu.d", riscv.OpFCVT_D_W: "fcvt.d.w", riscv.OpFCVT_D_WU: "fcvt.d.wu",
	riscv.OpFCVT_L_D: "fcvt.l.d", riscv.OpFCVT_LU_D: "fcvt.lu.d", riscv.OpFCVT_D_L: "fcvt.d.l", riscv.OpFCVT_D_LU: "fcvt.d.lu",
	riscv.OpFMV_X_D: "fmv.x.d", riscv.OpFMV_D_X: "fmv.d.x",
	riscv.OpUnimplemented: "unimp",
}

// String renders a one-line mnemonic-and-operand disassembly, good
// enough for a debug trace but not meant to be a faithful
// disassembler (register ABI names, pseudo-instruction folding, etc.
// are out of scope).
func (d Decoded) String() string {
	if d.Illegal() {
		return fmt.Sprintf("illegal(%#08x)", d.Raw)
	}
	name, ok := mnemonics[d.Op]
	if !ok {
		name = "unknown"
	}
	var b strings.Builder
	b.WriteString(name)
	switch {
	case d.Op == riscv.OpFENCE:
		// no operands
	case d.Op == riscv.OpECALL || d.Op == riscv.OpEBREAK:
		// no operands
	default:
		fmt.Fprintf(&b, " x%d, x%d, x%d, imm=%d", d.Rd, d.Rs1, d.Rs2, d.Imm)
	}
	return b.String()
}
