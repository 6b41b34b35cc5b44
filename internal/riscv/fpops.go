package riscv

import (
	"math"
	"math/big"
)

func (h *Hart) execLoadFP(rd, rs1, funct3 uint32, imm int64) error {
	addr := h.ReadReg(rs1) + uint64(imm)
	switch funct3 {
	case 2: // FLW
		v, err := h.ReadMem(addr, 2)
		if err != nil {
			return err
		}
		h.F[rd] = boxF32(uint32(v))
		h.markFPUDirty()
	case 3: // FLD
		v, err := h.ReadMem(addr, 3)
		if err != nil {
			return err
		}
		h.F[rd] = v
		h.markFPUDirty()
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func (h *Hart) execStoreFP(rs1, rs2, funct3 uint32, imm int64) error {
	addr := h.ReadReg(rs1) + uint64(imm)
	switch funct3 {
	case 2: // FSW
		return h.WriteMem(addr, uint64(unboxF32(h.F[rs2])), 2)
	case 3: // FSD
		return h.WriteMem(addr, h.F[rs2], 3)
	}
	return Exception(CauseIllegalInsn, 0)
}

// execOpFP dispatches the OP-FP major opcode, distinguishing single vs.
// double precision by funct7's low bit pattern (fmt field, bits [26:25]).
func (h *Hart) execOpFP(insn uint32) error {
	rd := insnRd(insn)
	rs1 := insnRs1(insn)
	rs2 := insnRs2(insn)
	funct3 := insnFunct3(insn)
	funct7 := insnFunct7(insn)
	fmt := funct7 & 0x3
	op := funct7 >> 2

	double := fmt == 1

	switch op {
	case 0x00: // FADD
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.fpBinOp(rd, rs1, rs2, double, rm, fpBinAdd)
	case 0x01: // FSUB
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.fpBinOp(rd, rs1, rs2, double, rm, fpBinSub)
	case 0x02: // FMUL
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.fpBinOp(rd, rs1, rs2, double, rm, fpBinMul)
	case 0x03: // FDIV
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.fpBinOp(rd, rs1, rs2, double, rm, fpBinDiv)
	case 0x0b: // FSQRT
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.execFsqrt(rd, rs1, double, rm)
	case 0x04: // FSGNJ/FSGNJN/FSGNJX
		if double {
			a, b := h.readF64(rs1), h.readF64(rs2)
			var r float64
			switch funct3 {
			case 0:
				r = fsgnj64(a, b, false, false)
			case 1:
				r = fsgnj64(a, b, true, false)
			case 2:
				r = fsgnj64(a, b, false, true)
			default:
				return Exception(CauseIllegalInsn, 0)
			}
			h.writeF64(rd, r)
		} else {
			a, b := h.readF32(rs1), h.readF32(rs2)
			var r float32
			switch funct3 {
			case 0:
				r = fsgnj32(a, b, false, false)
			case 1:
				r = fsgnj32(a, b, true, false)
			case 2:
				r = fsgnj32(a, b, false, true)
			default:
				return Exception(CauseIllegalInsn, 0)
			}
			h.writeF32(rd, r)
		}
	case 0x05: // FMIN/FMAX
		if double {
			a, b := h.readF64(rs1), h.readF64(rs2)
			if funct3 == 0 {
				h.writeF64(rd, h.fmin64(a, b))
			} else {
				h.writeF64(rd, h.fmax64(a, b))
			}
		} else {
			a, b := h.readF32(rs1), h.readF32(rs2)
			if funct3 == 0 {
				h.writeF32(rd, h.fmin32(a, b))
			} else {
				h.writeF32(rd, h.fmax32(a, b))
			}
		}
	case 0x14: // FLE/FLT/FEQ
		var result bool
		var unordered, signaling bool
		if double {
			a, b := h.readF64(rs1), h.readF64(rs2)
			unordered = fcmpUnordered64(a, b)
			signaling = fclass64(a) == 1<<8 || fclass64(b) == 1<<8
			switch funct3 {
			case 0:
				result = a <= b
			case 1:
				result = a < b
			case 2:
				result = a == b
			default:
				return Exception(CauseIllegalInsn, 0)
			}
		} else {
			a, b := h.readF32(rs1), h.readF32(rs2)
			unordered = fcmpUnordered32(a, b)
			signaling = fclass32(a) == 1<<8 || fclass32(b) == 1<<8
			switch funct3 {
			case 0:
				result = a <= b
			case 1:
				result = a < b
			case 2:
				result = a == b
			default:
				return Exception(CauseIllegalInsn, 0)
			}
		}
		if unordered && (funct3 != 2 || signaling) {
			h.setFlags(fflagNV)
			result = false
		}
		h.WriteReg(rd, boolU64(result))
	case 0x18: // FCVT.W/WU/L/LU <- F
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.execFcvtToInt(rd, rs1, rs2, double, rm)
	case 0x1a: // FCVT.F <- W/WU/L/LU
		rm, err := h.resolveRM(funct3)
		if err != nil {
			return err
		}
		return h.execFcvtFromInt(rd, rs1, rs2, double, rm)
	case 0x08: // FCVT.S.D / FCVT.D.S
		if double {
			// Widening single to double is always exact: no rounding mode
			// to apply.
			h.writeF64(rd, float64(h.readF32(rs1)))
		} else {
			rm, err := h.resolveRM(funct3)
			if err != nil {
				return err
			}
			h.writeF32(rd, h.roundBig32(bigFromF64(h.readF64(rs1)), rm))
		}
	case 0x1c: // FMV.X.W/D, FCLASS
		if funct3 == 1 {
			if double {
				h.WriteReg(rd, fclass64(h.readF64(rs1)))
			} else {
				h.WriteReg(rd, fclass32(h.readF32(rs1)))
			}
		} else {
			if double {
				h.WriteReg(rd, h.F[rs1])
			} else {
				h.WriteReg(rd, uint64(int64(int32(unboxF32(h.F[rs1])))))
			}
		}
	case 0x1e: // FMV.W.X/D.X
		if double {
			h.F[rd] = h.ReadReg(rs1)
		} else {
			h.F[rd] = boxF32(uint32(h.ReadReg(rs1)))
		}
		h.markFPUDirty()
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

// newBigFP returns a fresh accumulator at bigFPPrec, wide enough to hold any
// intermediate binary32/64 arithmetic result exactly before the final
// rounding step narrows it under the instruction's actual rounding mode.
func newBigFP() *big.Float { return new(big.Float).SetPrec(bigFPPrec) }

// fpBinKind selects which of the four binary arithmetic ops fpBinOp performs.
// big.Float.Add/Sub/Mul/Quo panic on certain operand combinations that are
// perfectly legal IEEE-754 inputs (opposite-signed infinities for Add, 0*Inf
// for Mul, 0/0 or Inf/Inf for Quo), so those combinations are detected and
// turned into a canonical qNaN + NV before big.Float ever sees them.
type fpBinKind int

const (
	fpBinAdd fpBinKind = iota
	fpBinSub
	fpBinMul
	fpBinDiv
)

// fpBinInvalid reports the IEEE-754 "invalid operation" input combinations
// for each op that would otherwise panic inside math/big.
func fpBinInvalid(kind fpBinKind, a, b float64) bool {
	switch kind {
	case fpBinAdd:
		return math.IsInf(a, 0) && math.IsInf(b, 0) && math.Signbit(a) != math.Signbit(b)
	case fpBinSub:
		return math.IsInf(a, 0) && math.IsInf(b, 0) && math.Signbit(a) == math.Signbit(b)
	case fpBinMul:
		return (math.IsInf(a, 0) && b == 0) || (math.IsInf(b, 0) && a == 0)
	case fpBinDiv:
		return (a == 0 && b == 0) || (math.IsInf(a, 0) && math.IsInf(b, 0))
	}
	return false
}

func (h *Hart) fpBinOp(rd, rs1, rs2 uint32, double bool, rm uint8, kind fpBinKind) error {
	var af, bf float64
	if double {
		af, bf = h.readF64(rs1), h.readF64(rs2)
	} else {
		af, bf = float64(h.readF32(rs1)), float64(h.readF32(rs2))
	}

	if fpBinInvalid(kind, af, bf) {
		h.setFlags(fflagNV)
		if double {
			h.writeF64(rd, math.Float64frombits(0x7ff8_0000_0000_0000))
		} else {
			h.writeF32(rd, math.Float32frombits(0x7fc0_0000))
		}
		return nil
	}
	if kind == fpBinDiv && bf == 0 && af != 0 {
		h.setFlags(fflagDZ)
	}

	a, b := bigFromF64(af), bigFromF64(bf)
	var r *big.Float
	switch kind {
	case fpBinAdd:
		r = newBigFP().Add(a, b)
	case fpBinSub:
		r = newBigFP().Sub(a, b)
	case fpBinMul:
		r = newBigFP().Mul(a, b)
	case fpBinDiv:
		r = newBigFP().Quo(a, b)
	}

	if double {
		h.writeF64(rd, h.roundBig64(r, rm))
	} else {
		h.writeF32(rd, h.roundBig32(r, rm))
	}
	return nil
}

// execFsqrt implements FSQRT.S/D. big.Float.Sqrt panics on a negative
// argument, so the NV/qNaN case is handled before ever reaching it.
func (h *Hart) execFsqrt(rd, rs1 uint32, double bool, rm uint8) error {
	if double {
		a := h.readF64(rs1)
		if a < 0 {
			h.setFlags(fflagNV)
			h.writeF64(rd, math.Float64frombits(0x7ff8_0000_0000_0000))
			return nil
		}
		h.writeF64(rd, h.roundBig64(newBigFP().Sqrt(bigFromF64(a)), rm))
	} else {
		a := h.readF32(rs1)
		if a < 0 {
			h.setFlags(fflagNV)
			h.writeF32(rd, math.Float32frombits(0x7fc0_0000))
			return nil
		}
		h.writeF32(rd, h.roundBig32(newBigFP().Sqrt(bigFromF64(float64(a))), rm))
	}
	return nil
}

func (h *Hart) execFcvtToInt(rd, rs1, rs2 uint32, double bool, rm uint8) error {
	var src float64
	if double {
		src = h.readF64(rs1)
	} else {
		src = float64(h.readF32(rs1))
	}
	switch rs2 {
	case 0: // FCVT.W
		h.WriteReg(rd, uint64(int64(int32(h.fcvtToInt(src, 32, true, rm)))))
	case 1: // FCVT.WU
		h.WriteReg(rd, uint64(int64(int32(h.fcvtToInt(src, 32, false, rm)))))
	case 2: // FCVT.L
		h.WriteReg(rd, h.fcvtToInt(src, 64, true, rm))
	case 3: // FCVT.LU
		h.WriteReg(rd, h.fcvtToInt(src, 64, false, rm))
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func (h *Hart) execFcvtFromInt(rd, rs1, rs2 uint32, double bool, rm uint8) error {
	val := h.ReadReg(rs1)
	var src *big.Float
	switch rs2 {
	case 0: // FCVT._.W
		src = bigFromF64(float64(int32(val)))
	case 1: // FCVT._.WU
		src = bigFromF64(float64(uint32(val)))
	case 2: // FCVT._.L
		// int64 can carry more precision than a float64 significand, so
		// route it through big.Float instead of a lossy float64(int64(...)).
		src = new(big.Float).SetPrec(bigFPPrec).SetInt64(int64(val))
	case 3: // FCVT._.LU
		src = new(big.Float).SetPrec(bigFPPrec).SetUint64(val)
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	if double {
		h.writeF64(rd, h.roundBig64(src, rm))
	} else {
		h.writeF32(rd, h.roundBig32(src, rm))
	}
	return nil
}

// execFMA implements the four fused multiply-add opcodes
// (FMADD/FMSUB/FNMSUB/FNMADD), computing the product and accumulation
// exactly at bigFPPrec before applying the instruction's rounding mode
// once at the end, matching real FMA semantics (a single rounding, not two).
func (h *Hart) execFMA(opcode uint32, insn uint32) error {
	rd := insnRd(insn)
	rs1 := insnRs1(insn)
	rs2 := insnRs2(insn)
	rs3 := insnRs3(insn)
	funct3 := insnFunct3(insn)
	double := (insn>>25)&0x3 == 1

	rm, err := h.resolveRM(funct3)
	if err != nil {
		return err
	}

	var af, bf, cf float64
	if double {
		af, bf, cf = h.readF64(rs1), h.readF64(rs2), h.readF64(rs3)
	} else {
		af, bf, cf = float64(h.readF32(rs1)), float64(h.readF32(rs2)), float64(h.readF32(rs3))
	}

	// The product a*b is itself panic-prone in math/big (0*Inf), and once
	// formed its sum/difference with c can be too (opposite-signed
	// infinities); both are real IEEE-754 invalid-operation cases for FMA.
	writeNaN := func() error {
		h.setFlags(fflagNV)
		if double {
			h.writeF64(rd, math.Float64frombits(0x7ff8_0000_0000_0000))
		} else {
			h.writeF32(rd, math.Float32frombits(0x7fc0_0000))
		}
		return nil
	}
	if fpBinInvalid(fpBinMul, af, bf) {
		return writeNaN()
	}

	a, b, c := bigFromF64(af), bigFromF64(bf), bigFromF64(cf)
	product := newBigFP().Mul(a, b)
	productF, _ := product.Float64()

	addSub := fpBinSub
	if opcode == opMadd || opcode == opNmadd {
		addSub = fpBinAdd
	}
	if fpBinInvalid(addSub, productF, cf) {
		return writeNaN()
	}

	var r *big.Float
	switch opcode {
	case opMadd:
		r = newBigFP().Add(product, c)
	case opMsub:
		r = newBigFP().Sub(product, c)
	case opNmsub:
		r = newBigFP().Neg(newBigFP().Sub(product, c))
	case opNmadd:
		r = newBigFP().Neg(newBigFP().Add(product, c))
	}

	if double {
		h.writeF64(rd, h.roundBig64(r, rm))
	} else {
		h.writeF32(rd, h.roundBig32(r, rm))
	}
	return nil
}
