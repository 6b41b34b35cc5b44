package riscv

import "testing"

// fpR builds an OP-FP R-type word: funct7 = (op<<2)|fmt, matching execOpFP's
// own decomposition of funct7 into an opcode field and a format bit.
func fpR(op, fmt, rd, funct3, rs1, rs2 uint32) uint32 {
	return encRType(opOpFP, rd, funct3, (op<<2)|fmt, rs1, rs2)
}

func TestExecOpFPAdd(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF32(1, 1.5)
	h.writeF32(2, 2.25)

	if err := h.execOpFP(fpR(0x00, 0, 3, 0, 1, 2)); err != nil {
		t.Fatalf("FADD.S: %v", err)
	}
	if got := h.readF32(3); got != 3.75 {
		t.Fatalf("f3 = %v, want 3.75", got)
	}
}

func TestExecOpFPAddDouble(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF64(1, 1.5)
	h.writeF64(2, 2.25)

	if err := h.execOpFP(fpR(0x00, 1, 3, 0, 1, 2)); err != nil {
		t.Fatalf("FADD.D: %v", err)
	}
	if got := h.readF64(3); got != 3.75 {
		t.Fatalf("f3 = %v, want 3.75", got)
	}
}

func TestExecOpFPFclass(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF32(1, 1.5)

	// funct3=1 selects FCLASS over FMV.X.W at op=0x1c.
	if err := h.execOpFP(fpR(0x1c, 0, 5, 1, 1, 0)); err != nil {
		t.Fatalf("FCLASS.S: %v", err)
	}
	if got := h.ReadReg(5); got != 1<<6 {
		t.Fatalf("fclass result = %#x, want +normal (1<<6)", got)
	}
}

func TestExecOpFPFmvXW(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF32(1, -1.0)

	if err := h.execOpFP(fpR(0x1c, 0, 5, 0, 1, 0)); err != nil {
		t.Fatalf("FMV.X.W: %v", err)
	}
	want := uint64(0xffffffff_bf800000) // IEEE-754 bits of -1.0f, sign-extended
	if got := h.ReadReg(5); got != want {
		t.Fatalf("FMV.X.W result = %#x, want %#x", got, want)
	}
}

func TestExecOpFPFeqUnorderedSetsNoFlagForEQ(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF32(1, 1.0)
	h.F[2] = boxF32(0x7fc00000) // qNaN

	if err := h.execOpFP(fpR(0x14, 0, 5, 2, 1, 2)); err != nil { // funct3=2: FEQ
		t.Fatalf("FEQ.S: %v", err)
	}
	if h.ReadReg(5) != 0 {
		t.Fatalf("FEQ.S against a NaN operand should be false")
	}
	if h.Fflags&fflagNV != 0 {
		t.Fatalf("FEQ.S against a quiet NaN must not set NV")
	}
}

func TestExecOpFPFltUnorderedSetsNV(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF32(1, 1.0)
	h.F[2] = boxF32(0x7fc00000) // qNaN

	if err := h.execOpFP(fpR(0x14, 0, 5, 1, 1, 2)); err != nil { // funct3=1: FLT
		t.Fatalf("FLT.S: %v", err)
	}
	if h.ReadReg(5) != 0 {
		t.Fatalf("FLT.S against a NaN operand should be false")
	}
	if h.Fflags&fflagNV == 0 {
		t.Fatalf("FLT.S against a NaN must set NV")
	}
}

func TestExecOpFPSqrtNegativeSetsNV(t *testing.T) {
	h := newTestHart(t, 64)
	h.writeF32(1, -4.0)

	if err := h.execOpFP(fpR(0x0b, 0, 3, 0, 1, 0)); err != nil {
		t.Fatalf("FSQRT.S: %v", err)
	}
	if h.Fflags&fflagNV == 0 {
		t.Fatalf("FSQRT.S of a negative operand must set NV")
	}
}
