package riscv

// PendingInterrupt selects the lowest-numbered enabled-at-priv pending
// interrupt, per spec.md §4.6. ok is false if none is both pending and
// enabled right now.
func (h *Hart) PendingInterrupt() (cause uint64, ok bool) {
	pending := h.Mip & h.Mie
	if pending == 0 {
		return 0, false
	}

	var enabled uint64
	switch h.Priv {
	case PrivMachine:
		if h.Mstatus&MstatusMIE != 0 {
			enabled = ^h.Mideleg
		}
	case PrivSupervisor:
		enabled = ^h.Mideleg
		if h.Mstatus&MstatusSIE != 0 {
			enabled |= h.Mideleg
		}
	default: // User
		enabled = ^uint64(0)
	}

	sel := pending & enabled
	if sel == 0 {
		return 0, false
	}
	for bit := uint64(0); bit < 64; bit++ {
		if sel&(1<<bit) != 0 {
			return bit | InterruptBit, true
		}
	}
	return 0, false
}

// DeliverTrap performs trap delivery for the given cause/tval: delegation,
// xepc/xcause/xtval save, xPP/xPIE stacking, and the jump to xtvec
// (spec.md §4.6). It is used for both exceptions and interrupts.
func (h *Hart) DeliverTrap(cause, tval uint64) {
	isInterrupt := cause&InterruptBit != 0
	code := cause &^ InterruptBit
	if isInterrupt && h.CurXLen == 32 {
		cause = code | 1<<31 // interrupt bit is the MSB of the live XLEN
	}

	delegate := false
	if h.Priv <= PrivSupervisor && code < 64 {
		if isInterrupt {
			delegate = h.Mideleg&(1<<code) != 0
		} else {
			delegate = h.Medeleg&(1<<code) != 0
		}
	}

	if delegate {
		h.Sepc = h.PC
		h.Scause = cause
		h.Stval = tval

		if h.Mstatus&MstatusSIE != 0 {
			h.Mstatus |= MstatusSPIE
		} else {
			h.Mstatus &^= MstatusSPIE
		}
		h.Mstatus &^= MstatusSIE

		if h.Priv == PrivSupervisor {
			h.Mstatus |= MstatusSPP
		} else {
			h.Mstatus &^= MstatusSPP
		}

		h.Priv = PrivSupervisor
		h.PC = h.Stvec &^ 3
		h.lastWasBranch = true
	} else {
		h.Mepc = h.PC
		h.Mcause = cause
		h.Mtval = tval

		if h.Mstatus&MstatusMIE != 0 {
			h.Mstatus |= MstatusMPIE
		} else {
			h.Mstatus &^= MstatusMPIE
		}
		h.Mstatus &^= MstatusMIE

		h.Mstatus &^= MstatusMPP
		h.Mstatus |= uint64(h.Priv) << MstatusMPPShift

		h.Priv = PrivMachine
		h.PC = h.Mtvec &^ 3
		h.lastWasBranch = true
	}

	h.LoadResValid = false
}

// MRET restores privilege/IE state from the machine-mode trap stack
// (spec.md §4.6).
func (h *Hart) MRET() error {
	if h.Priv < PrivMachine {
		return Exception(CauseIllegalInsn, 0)
	}
	mpp := uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	if h.Mstatus&MstatusMPIE != 0 {
		h.Mstatus |= MstatusMIE
	} else {
		h.Mstatus &^= MstatusMIE
	}
	h.Mstatus |= MstatusMPIE
	h.Mstatus &^= MstatusMPP
	h.Priv = mpp
	h.PC = h.Mepc
	h.lastWasBranch = true
	if mpp != PrivMachine && h.Mstatus&MstatusMPRV != 0 {
		h.Mstatus &^= MstatusMPRV
	}
	return nil
}

// SRET restores privilege/IE state from the supervisor-mode trap stack.
func (h *Hart) SRET() error {
	if h.Priv < PrivSupervisor {
		return Exception(CauseIllegalInsn, 0)
	}
	if h.Priv == PrivSupervisor && h.Mstatus&MstatusTSR != 0 {
		return Exception(CauseIllegalInsn, 0)
	}
	var spp uint8
	if h.Mstatus&MstatusSPP != 0 {
		spp = PrivSupervisor
	} else {
		spp = PrivUser
	}
	if h.Mstatus&MstatusSPIE != 0 {
		h.Mstatus |= MstatusSIE
	} else {
		h.Mstatus &^= MstatusSIE
	}
	h.Mstatus |= MstatusSPIE
	h.Mstatus &^= MstatusSPP
	h.Priv = spp
	h.PC = h.Sepc
	h.lastWasBranch = true
	if spp != PrivMachine && h.Mstatus&MstatusMPRV != 0 {
		h.Mstatus &^= MstatusMPRV
	}
	return nil
}
