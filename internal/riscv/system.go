package riscv

// execSystem dispatches the SYSTEM major opcode: ECALL/EBREAK/WFI/
// SFENCE.VMA/MRET/SRET and the six CSR instructions (spec.md §4.7, §4.5).
func (h *Hart) execSystem(insn uint32) error {
	funct3 := insnFunct3(insn)
	rd := insnRd(insn)
	rs1 := insnRs1(insn)

	if funct3 != 0 {
		return h.execCSRInsn(insn, funct3, rd, rs1)
	}

	switch csrNum(insn) {
	case 0x000: // ECALL
		var cause uint64
		switch h.Priv {
		case PrivUser:
			cause = CauseEcallU
		case PrivSupervisor:
			cause = CauseEcallS
		default:
			cause = CauseEcallM
		}
		return Exception(cause, 0)
	case 0x001: // EBREAK
		return Exception(CauseBreakpoint, h.PC)
	case 0x102: // SRET
		return h.SRET()
	case 0x302: // MRET
		return h.MRET()
	case 0x105: // WFI
		if h.Priv == PrivSupervisor && h.Mstatus&MstatusTW != 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		h.PowerDown = true
		return nil
	}

	if (insn>>25)&0x7f == 0x09 { // SFENCE.VMA
		if h.Priv == PrivSupervisor && h.Mstatus&MstatusTVM != 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		if h.Priv < PrivSupervisor {
			return Exception(CauseIllegalInsn, 0)
		}
		if rs1 == 0 {
			h.FlushTLBForCSR()
		} else {
			h.TLB.FlushVA(h.ReadReg(rs1))
			h.LoadResValid = false
		}
		return nil
	}

	return Exception(CauseIllegalInsn, 0)
}

// execCSRInsn implements CSRRW/CSRRS/CSRRC and their immediate forms.
// funct3 bit 2 selects immediate (zimm) vs. register source; the low two
// bits select write/set/clear.
func (h *Hart) execCSRInsn(insn uint32, funct3, rd, rs1 uint32) error {
	csr := csrNum(insn)
	var src uint64
	if funct3&0x4 != 0 {
		src = zimm(insn)
	} else {
		src = h.ReadReg(rs1)
	}

	op := funct3 & 0x3
	isWrite := op == 1 || src != 0

	old, err := h.ReadCSR(csr)
	if err != nil {
		return err
	}

	var newVal uint64
	switch op {
	case 1: // CSRRW/CSRRWI
		newVal = src
	case 2: // CSRRS/CSRRSI
		newVal = old | src
	case 3: // CSRRC/CSRRCI
		newVal = old &^ src
	default:
		return Exception(CauseIllegalInsn, 0)
	}

	restart, err := h.WriteCSR(csr, newVal, isWrite)
	if err != nil {
		return err
	}
	h.WriteReg(rd, old)
	if restart != RestartNone {
		// RestartXLen/RestartTLBFlushed: a later instruction in this same
		// cached fetch window could otherwise decode or translate against
		// the pre-write XLEN/satp. CSR instructions are always 4 bytes
		// (never compressed), so advance PC ourselves before reusing the
		// same stop-and-refetch signal as a branch, ending the block here
		// (spec.md §4.5, §9).
		h.PC += 4
		h.lastWasBranch = true
	}
	return nil
}
