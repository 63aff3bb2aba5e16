// Package cpu implements the RISC-V register file and the
// fetch-decode-execute loop. It is generic over riscv.XLen so a single
// source tree serves both RV32 and RV64 (W is uint32 or uint64).
package cpu

import (
	"math"

	"rvmach/riscv"
)

// nanBoxUpper marks the upper 32 bits of a 64-bit float register so a
// single-precision value stored there reads back as a properly
// NaN-boxed value per the F extension.
const nanBoxUpper = 0xFFFFFFFF00000000

// Registers holds the integer and floating-point register files, the
// program counter, and FCSR. Floating-point registers are always
// stored as 64 bits regardless of XLEN: with only F (no D), values are
// NaN-boxed single-precision; with D they hold a full double.
type Registers[W riscv.XLen] struct {
	Int [32]W
	PC  W

	FP   [32]uint64
	FCSR uint32
}

// Get reads integer register r. x0 always reads as zero.
func (r *Registers[W]) Get(reg uint8) W {
	if reg == riscv.RegZero {
		return 0
	}
	return r.Int[reg]
}

// Set writes integer register r. Writes to x0 are silently discarded,
// mirroring the reference engine's "dummy sink" register rather than
// branching on every write: the value is stored unconditionally and
// x0's slot is cleared again afterwards.
func (r *Registers[W]) Set(reg uint8, v W) {
	r.Int[reg] = v
	r.Int[riscv.RegZero] = 0
}

// GetFloat32 unboxes a single-precision value from FP register r.
func (r *Registers[W]) GetFloat32(reg uint8) float32 {
	return math.Float32frombits(uint32(r.FP[reg]))
}

// SetFloat32 NaN-boxes v into FP register r.
func (r *Registers[W]) SetFloat32(reg uint8, v float32) {
	r.FP[reg] = nanBoxUpper | uint64(math.Float32bits(v))
}

// GetFloat64 reads a double-precision value from FP register r.
func (r *Registers[W]) GetFloat64(reg uint8) float64 {
	return math.Float64frombits(r.FP[reg])
}

// SetFloat64 writes a double-precision value into FP register r.
func (r *Registers[W]) SetFloat64(reg uint8, v float64) {
	r.FP[reg] = math.Float64bits(v)
}

// LoadU32 loads the raw 32-bit pattern of FP register r (FMV.X.W),
// without interpreting it as a float.
func (r *Registers[W]) LoadU32(reg uint8) uint32 { return uint32(r.FP[reg]) }

// LoadU64 loads the raw 64-bit pattern of FP register r (FMV.X.D).
func (r *Registers[W]) LoadU64(reg uint8) uint64 { return r.FP[reg] }

// StoreU32 NaN-boxes a raw 32-bit pattern into FP register r (FMV.W.X).
func (r *Registers[W]) StoreU32(reg uint8, v uint32) { r.FP[reg] = nanBoxUpper | uint64(v) }

// StoreU64 writes a raw 64-bit pattern into FP register r (FMV.D.X).
func (r *Registers[W]) StoreU64(reg uint8, v uint64) { r.FP[reg] = v }

// isBoxed reports whether FP register r currently holds a properly
// NaN-boxed 32-bit value. An un-boxed register reads back as
// quiet-NaN per the F/D extension's canonical-NaN substitution rule.
func (r *Registers[W]) isBoxed(reg uint8) bool {
	return r.FP[reg]&nanBoxUpper == nanBoxUpper
}

// GetFloat32Checked is GetFloat32 but substitutes the canonical
// quiet-NaN when the register isn't boxed, per spec.
func (r *Registers[W]) GetFloat32Checked(reg uint8) float32 {
	if !r.isBoxed(reg) {
		return float32(math.NaN())
	}
	return r.GetFloat32(reg)
}
