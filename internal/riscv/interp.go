package riscv

import "math"

// StepResult distinguishes why Run returned control to its caller.
type StepResult int

const (
	StepBudgetExhausted StepResult = iota
	StepPowerDown
	StepHalted
)

// Run executes up to budget instructions (fewer if the hart powers down via
// WFI), servicing pending interrupts between blocks rather than between
// individual instructions. It returns StepPowerDown or StepBudgetExhausted;
// StepHalted is not returned by Run. It mirrors the teacher's VirtualMachine.Step outer loop,
// generalized to the spec's block_run batching (spec.md §4.7).
func (h *Hart) Run(budget int64) StepResult {
	for budget > 0 {
		if cause, ok := h.PendingInterrupt(); ok {
			h.DeliverTrap(cause, 0)
		}

		if h.PowerDown {
			return StepPowerDown
		}

		n := h.blockRun(budget)
		budget -= n
		if n == 0 {
			// Fetch fault or single-instruction trap; charge one unit so a
			// persistently faulting PC can't spin the budget away for free.
			budget--
		}
	}
	return StepBudgetExhausted
}

// blockRun executes instructions from the current PC's page as long as they
// stay within that page and the budget allows, using FastFetchWindow to
// avoid a TLB lookup per instruction (spec.md §4.7 step 1). It returns the
// number of instructions retired.
func (h *Hart) blockRun(budget int64) int64 {
	ram, off, end, ok := h.FastFetchWindow(h.PC)
	if !ok {
		h.raiseFetchFault(h.PC)
		return 0
	}

	var retired int64
	for retired < budget {
		if off+2 > end {
			return retired
		}
		lo := uint16(ram[off]) | uint16(ram[off+1])<<8

		var insn uint32
		var size uint64
		straddle := false
		if isCompressed(lo) {
			expanded, good := expandCompressed(lo, h.CurXLen)
			if !good {
				h.raiseTrap(CauseIllegalInsn, uint64(lo))
				return retired
			}
			insn = expanded
			size = 2
		} else if off+4 > end {
			// The low half-word is the page's last two bytes and decodes as
			// a 32-bit instruction: its high half lives on the next page, so
			// fetch it through the slow (translating) path rather than
			// aborting the block (spec.md §4.7 step 2).
			hi, err := h.FetchInsn(h.PC + 2)
			if err != nil {
				h.handleExecError(err)
				return retired
			}
			insn = uint32(lo) | uint32(hi)<<16
			size = 4
			straddle = true
		} else {
			hi := uint16(ram[off+2]) | uint16(ram[off+3])<<8
			insn = uint32(lo) | uint32(hi)<<16
			size = 4
		}

		nextPC := h.PC + size
		if err := h.execute(insn); err != nil {
			h.handleExecError(err)
			return retired + 1
		}
		if size == 2 && (insn&0x7f == opJal || insn&0x7f == opJalr) {
			// An expanded C.JAL/C.JALR links to the address after its own
			// two bytes, not PC+4 as the 32-bit form it expands to would.
			h.WriteReg(insnRd(insn), nextPC)
		}
		retired++
		h.InsnCounter++

		if h.lastWasBranch || h.PowerDown {
			// PC already points at the branch/jump/trap target (or a trap
			// was delivered); WFI instead leaves PC past itself before the
			// hart powers down. Re-fetch the window next round rather than
			// assuming linear succession.
			if !h.lastWasBranch {
				h.PC = nextPC
			}
			return retired
		}
		h.PC = nextPC
		if straddle {
			// The retired instruction's bytes spanned two pages: off no
			// longer indexes into this page's ram slice, so refetch the
			// window for the new page rather than continuing the loop.
			return retired
		}
		off += size
	}
	return retired
}

func (h *Hart) raiseFetchFault(vaddr uint64) {
	if _, err := h.translate(vaddr, accessFetch); err != nil {
		if ee, ok := err.(ExceptionError); ok {
			h.DeliverTrap(ee.Cause, ee.Tval)
			return
		}
	}
	h.DeliverTrap(CauseInsnAccessFault, vaddr)
}

func (h *Hart) raiseTrap(cause, tval uint64) {
	h.DeliverTrap(cause, tval)
}

func (h *Hart) handleExecError(err error) {
	if ee, ok := err.(ExceptionError); ok {
		h.DeliverTrap(ee.Cause, ee.Tval)
		return
	}
	h.DeliverTrap(CauseIllegalInsn, 0)
}

// execute decodes and runs one 32-bit-form instruction (natively encoded or
// expanded from RVC). PC-changing instructions (branch/jump/trap/mret/sret)
// set h.lastWasBranch so blockRun knows to stop and refetch rather than
// advance linearly.
func (h *Hart) execute(insn uint32) error {
	h.lastWasBranch = false
	opcode := insnOpcode(insn)
	rd := insnRd(insn)
	rs1 := insnRs1(insn)
	rs2 := insnRs2(insn)
	funct3 := insnFunct3(insn)
	funct7 := insnFunct7(insn)

	switch opcode {
	case opLui:
		h.WriteReg(rd, uint64(immU(insn)))
	case opAuipc:
		h.WriteReg(rd, h.PC+uint64(immU(insn)))

	case opJal:
		target := h.PC + uint64(immJ(insn))
		if target&1 != 0 {
			return Exception(CauseInsnMisaligned, target)
		}
		h.WriteReg(rd, h.PC+4)
		h.PC = target
		h.lastWasBranch = true

	case opJalr:
		base := h.ReadReg(rs1)
		target := (base + uint64(immI(insn))) &^ 1
		if target&1 != 0 {
			return Exception(CauseInsnMisaligned, target)
		}
		link := h.PC + 4
		h.PC = target
		h.WriteReg(rd, link)
		h.lastWasBranch = true

	case opBranch:
		taken, err := h.evalBranch(funct3, h.ReadReg(rs1), h.ReadReg(rs2))
		if err != nil {
			return err
		}
		if taken {
			target := h.PC + uint64(immB(insn))
			if target&1 != 0 {
				return Exception(CauseInsnMisaligned, target)
			}
			h.PC = target
			h.lastWasBranch = true
		}

	case opLoad:
		return h.execLoad(rd, rs1, funct3, immI(insn))
	case opStore:
		return h.execStore(rs1, rs2, funct3, immS(insn))

	case opOpImm:
		return h.execOpImm(rd, rs1, funct3, funct7, insn)
	case opOp:
		return h.execOp(rd, rs1, rs2, funct3, funct7)
	case opOpImm32:
		return h.execOpImm32(rd, rs1, funct3, funct7, insn)
	case opOp32:
		return h.execOp32(rd, rs1, rs2, funct3, funct7)

	case opMiscMem:
		// FENCE / FENCE.TSO / FENCE.I: ordering is a no-op on this
		// single-hart interpreter; nothing else to do.

	case opAmo:
		return h.execAtomicInsn(insn)

	case opLoadFP:
		return h.execLoadFP(rd, rs1, funct3, immI(insn))
	case opStoreFP:
		return h.execStoreFP(rs1, rs2, funct3, immS(insn))
	case opOpFP:
		return h.execOpFP(insn)
	case opMadd, opMsub, opNmsub, opNmadd:
		return h.execFMA(opcode, insn)

	case opSystem:
		return h.execSystem(insn)

	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func (h *Hart) evalBranch(funct3 uint32, a, b uint64) (bool, error) {
	switch funct3 {
	case 0: // BEQ
		return a == b, nil
	case 1: // BNE
		return a != b, nil
	case 4: // BLT
		return int64(a) < int64(b), nil
	case 5: // BGE
		return int64(a) >= int64(b), nil
	case 6: // BLTU
		return a < b, nil
	case 7: // BGEU
		return a >= b, nil
	}
	return false, Exception(CauseIllegalInsn, 0)
}

func (h *Hart) execLoad(rd, rs1, funct3 uint32, imm int64) error {
	addr := h.ReadReg(rs1) + uint64(imm)
	var sizeLog2 uint
	var signed bool
	switch funct3 {
	case 0:
		sizeLog2, signed = 0, true // LB
	case 1:
		sizeLog2, signed = 1, true // LH
	case 2:
		sizeLog2, signed = 2, true // LW
	case 3:
		sizeLog2, signed = 3, true // LD
	case 4:
		sizeLog2, signed = 0, false // LBU
	case 5:
		sizeLog2, signed = 1, false // LHU
	case 6:
		sizeLog2, signed = 2, false // LWU
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	if sizeLog2 == 3 && h.CurXLen == 32 {
		return Exception(CauseIllegalInsn, 0)
	}
	val, err := h.ReadMem(addr, sizeLog2)
	if err != nil {
		return err
	}
	if signed {
		val = signExtendLoad(val, sizeLog2)
		if sizeLog2 < 2 {
			bits := 8 << sizeLog2
			val = uint64(signExtend(val, bits))
		}
	}
	h.WriteReg(rd, val)
	return nil
}

func (h *Hart) execStore(rs1, rs2, funct3 uint32, imm int64) error {
	addr := h.ReadReg(rs1) + uint64(imm)
	var sizeLog2 uint
	switch funct3 {
	case 0:
		sizeLog2 = 0 // SB
	case 1:
		sizeLog2 = 1 // SH
	case 2:
		sizeLog2 = 2 // SW
	case 3:
		if h.CurXLen == 32 {
			return Exception(CauseIllegalInsn, 0)
		}
		sizeLog2 = 3 // SD
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return h.WriteMem(addr, h.ReadReg(rs2), sizeLog2)
}

func (h *Hart) execOpImm(rd, rs1, funct3, funct7 uint32, insn uint32) error {
	a := int64(h.ReadReg(rs1))
	ua := h.ReadReg(rs1)
	imm := immI(insn)
	switch funct3 {
	case 0: // ADDI
		h.WriteReg(rd, uint64(a+imm))
	case 1: // SLLI
		shamt := uint64(imm) & shamtMask(h.CurXLen)
		h.WriteReg(rd, ua<<shamt)
	case 2: // SLTI
		h.WriteReg(rd, boolU64(a < imm))
	case 3: // SLTIU
		h.WriteReg(rd, boolU64(ua < uint64(imm)))
	case 4: // XORI
		h.WriteReg(rd, ua^uint64(imm))
	case 5: // SRLI/SRAI
		shamt := uint64(imm) & shamtMask(h.CurXLen)
		if (imm>>10)&1 != 0 { // SRAI (imm[10] set, i.e. funct7 bit 5)
			h.WriteReg(rd, uint64(a>>shamt))
		} else {
			h.WriteReg(rd, maskXlen(ua, h.CurXLen)>>shamt)
		}
	case 6: // ORI
		h.WriteReg(rd, ua|uint64(imm))
	case 7: // ANDI
		h.WriteReg(rd, ua&uint64(imm))
	}
	return nil
}

func (h *Hart) execOpImm32(rd, rs1, funct3, funct7 uint32, insn uint32) error {
	a := int32(h.ReadReg(rs1))
	imm := int32(immI(insn))
	switch funct3 {
	case 0: // ADDIW
		h.WriteReg(rd, uint64(int64(a+imm)))
	case 1: // SLLIW
		shamt := uint32(imm) & 0x1f
		h.WriteReg(rd, uint64(int64(a<<shamt)))
	case 5: // SRLIW/SRAIW
		shamt := uint32(imm) & 0x1f
		if (imm>>10)&1 != 0 {
			h.WriteReg(rd, uint64(int64(a>>shamt)))
		} else {
			h.WriteReg(rd, uint64(int64(int32(uint32(a)>>shamt))))
		}
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func (h *Hart) execOp(rd, rs1, rs2, funct3, funct7 uint32) error {
	a := h.ReadReg(rs1)
	b := h.ReadReg(rs2)
	if funct7 == 0x01 {
		return h.execMulDiv(rd, a, b, funct3, h.CurXLen)
	}
	switch funct3 {
	case 0:
		if funct7 == 0x20 {
			h.WriteReg(rd, a-b)
		} else {
			h.WriteReg(rd, a+b)
		}
	case 1:
		h.WriteReg(rd, a<<(b&shamtMask(h.CurXLen)))
	case 2:
		h.WriteReg(rd, boolU64(int64(a) < int64(b)))
	case 3:
		h.WriteReg(rd, boolU64(a < b))
	case 4:
		h.WriteReg(rd, a^b)
	case 5:
		shamt := b & shamtMask(h.CurXLen)
		if funct7 == 0x20 {
			h.WriteReg(rd, uint64(int64(a)>>shamt))
		} else {
			h.WriteReg(rd, maskXlen(a, h.CurXLen)>>shamt)
		}
	case 6:
		h.WriteReg(rd, a|b)
	case 7:
		h.WriteReg(rd, a&b)
	}
	return nil
}

func (h *Hart) execOp32(rd, rs1, rs2, funct3, funct7 uint32) error {
	a := int32(h.ReadReg(rs1))
	b := int32(h.ReadReg(rs2))
	if funct7 == 0x01 {
		return h.execMulDiv32(rd, a, b, funct3)
	}
	switch funct3 {
	case 0:
		if funct7 == 0x20 {
			h.WriteReg(rd, uint64(int64(a-b)))
		} else {
			h.WriteReg(rd, uint64(int64(a+b)))
		}
	case 1:
		shamt := uint32(b) & 0x1f
		h.WriteReg(rd, uint64(int64(a<<shamt)))
	case 5:
		shamt := uint32(b) & 0x1f
		if funct7 == 0x20 {
			h.WriteReg(rd, uint64(int64(a>>shamt)))
		} else {
			h.WriteReg(rd, uint64(int64(int32(uint32(a)>>shamt))))
		}
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func (h *Hart) execMulDiv(rd uint32, a, b uint64, funct3 uint32, xlen int) error {
	switch funct3 {
	case 0: // MUL
		h.WriteReg(rd, a*b)
	case 1: // MULH
		h.WriteReg(rd, uint64(mulh(int64(a), int64(b))))
	case 2: // MULHSU
		h.WriteReg(rd, uint64(mulhsu(int64(a), b)))
	case 3: // MULHU
		h.WriteReg(rd, mulhu(a, b))
	case 4: // DIV
		h.WriteReg(rd, uint64(divSigned(int64(a), int64(b))))
	case 5: // DIVU
		h.WriteReg(rd, divUnsigned(a, b))
	case 6: // REM
		h.WriteReg(rd, uint64(remSigned(int64(a), int64(b))))
	case 7: // REMU
		h.WriteReg(rd, remUnsigned(a, b))
	}
	return nil
}

func (h *Hart) execMulDiv32(rd uint32, a, b int32, funct3 uint32) error {
	switch funct3 {
	case 0: // MULW
		h.WriteReg(rd, uint64(int64(a*b)))
	case 4: // DIVW
		h.WriteReg(rd, uint64(int64(divSigned(int64(a), int64(b)))))
	case 5: // DIVUW
		h.WriteReg(rd, uint64(int64(int32(divUnsigned(uint64(uint32(a)), uint64(uint32(b)))))))
	case 6: // REMW
		h.WriteReg(rd, uint64(int64(remSigned(int64(a), int64(b)))))
	case 7: // REMUW
		h.WriteReg(rd, uint64(int64(int32(remUnsigned(uint64(uint32(a)), uint64(uint32(b)))))))
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func mulh(a, b int64) int64 {
	hi, _ := bits64Mul(a, b)
	return hi
}
func mulhsu(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = -ua
	}
	hi, lo := mul64(ua, b)
	if neg {
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi)
}
func mulhu(a, b uint64) uint64 {
	hi, _ := mul64(a, b)
	return hi
}
func bits64Mul(a, b int64) (hi, lo int64) {
	negA, negB := a < 0, b < 0
	ua, ub := uint64(a), uint64(b)
	if negA {
		ua = -ua
	}
	if negB {
		ub = -ub
	}
	h, l := mul64(ua, ub)
	if negA != negB {
		h = ^h
		if l == 0 {
			h++
		}
		l = -l
	}
	return int64(h), int64(l)
}
func mul64(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32
	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32
	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32
	t = aLo*bHi + w1
	k = t >> 32
	lo = (t << 32) | w0
	hi = aHi*bHi + w2 + k
	return
}

func divSigned(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == math.MinInt64 && b == -1 {
		return a
	}
	return a / b
}
func divUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}
func remSigned(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return a % b
}
func remUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func shamtMask(xlen int) uint64 {
	if xlen == 32 {
		return 0x1f
	}
	return 0x3f
}
func maskXlen(v uint64, xlen int) uint64 {
	if xlen == 32 {
		return uint64(uint32(v))
	}
	return v
}
func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (h *Hart) execAtomicInsn(insn uint32) error {
	funct5 := (insn >> 27) & 0x1f
	funct3 := insnFunct3(insn)
	rd := insnRd(insn)
	rs1 := insnRs1(insn)
	rs2 := insnRs2(insn)
	var sizeLog2 uint
	switch funct3 {
	case 2:
		sizeLog2 = 2
	case 3:
		if h.CurXLen == 32 {
			return Exception(CauseIllegalInsn, 0)
		}
		sizeLog2 = 3
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	result, err := h.execAMO(funct5, h.ReadReg(rs1), h.ReadReg(rs2), sizeLog2)
	if err != nil {
		return err
	}
	h.WriteReg(rd, result)
	return nil
}
