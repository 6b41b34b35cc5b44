package riscv

// CSR addresses used by this implementation (spec.md §4.5).
const (
	csrFflags uint16 = 0x001
	csrFrm    uint16 = 0x002
	csrFcsr   uint16 = 0x003

	csrCycle   uint16 = 0xC00
	csrTime    uint16 = 0xC01
	csrInstret uint16 = 0xC02
	csrCycleH  uint16 = 0xC80
	csrTimeH   uint16 = 0xC81
	csrInstretH uint16 = 0xC82

	csrSstatus   uint16 = 0x100
	csrSie       uint16 = 0x104
	csrStvec     uint16 = 0x105
	csrScounteren uint16 = 0x106
	csrSscratch  uint16 = 0x140
	csrSepc      uint16 = 0x141
	csrScause    uint16 = 0x142
	csrStval     uint16 = 0x143
	csrSip       uint16 = 0x144
	csrSatp      uint16 = 0x180

	csrMstatus    uint16 = 0x300
	csrMisa       uint16 = 0x301
	csrMedeleg    uint16 = 0x302
	csrMideleg    uint16 = 0x303
	csrMie        uint16 = 0x304
	csrMtvec      uint16 = 0x305
	csrMcounteren uint16 = 0x306
	csrMscratch   uint16 = 0x340
	csrMepc       uint16 = 0x341
	csrMcause     uint16 = 0x342
	csrMtval      uint16 = 0x343
	csrMip        uint16 = 0x344
	csrMhartid    uint16 = 0xF14

	csrCycleM   uint16 = 0xB00
	csrInstretM uint16 = 0xB02
	csrCycleMH   uint16 = 0xB80
	csrInstretMH uint16 = 0xB82
)

// implementedInterrupts bounds the writable bits of mie/mip (spec.md §4.5).
const implementedInterrupts = MipMSIP | MipMTIP | MipMEIP | MipSSIP | MipSTIP | MipSEIP

// medelegWritableMask is the set of cause codes <= STORE_PAGE_FAULT (15).
const medelegWritableMask uint64 = (1 << (CauseStorePageFault + 1)) - 1

// mstatusWritableMask excludes read-only/derived bits (FS is written
// through the side channel below; SD is always derived).
const mstatusWritableMask = MstatusSIE | MstatusMIE | MstatusSPIE | MstatusMPIE |
	MstatusSPP | MstatusMPP | MstatusFS | MstatusMPRV | MstatusSUM |
	MstatusMXR | MstatusTVM | MstatusTW | MstatusTSR

const sstatusView = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS |
	MstatusSUM | MstatusMXR

// csrPriv returns the minimum privilege required by a CSR number:
// (csr >> 8) & 3, per spec.md §4.5.
func csrPriv(csr uint16) uint8 { return uint8((csr >> 8) & 3) }

// csrReadOnly reports whether the CSR number's top two bits are both set.
func csrReadOnly(csr uint16) bool { return (csr >> 10) == 3 }

// ReadCSR implements the CSR read half of C5.
func (h *Hart) ReadCSR(csr uint16) (uint64, error) {
	if h.Priv < csrPriv(csr) {
		return 0, Exception(CauseIllegalInsn, 0)
	}
	switch csr {
	case csrFflags:
		return uint64(h.Fflags), nil
	case csrFrm:
		return uint64(h.effectiveFrm()), nil
	case csrFcsr:
		return uint64(h.Fflags) | uint64(h.effectiveFrm())<<5, nil

	case csrCycle, csrInstret, csrCycleM, csrInstretM:
		return h.InsnCounter, nil
	case csrCycleH, csrInstretH, csrCycleMH, csrInstretMH:
		if h.CurXLen != 32 {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return h.InsnCounter >> 32, nil
	case csrTime, csrTimeH:
		// Left unimplemented per spec.md §4.5: quietly reject, no logging.
		return 0, Exception(CauseIllegalInsn, 0)

	case csrSstatus:
		return h.readSstatus(), nil
	case csrSie:
		return h.Mie & h.Mideleg, nil
	case csrStvec:
		return h.Stvec, nil
	case csrScounteren:
		return h.Scounteren, nil
	case csrSscratch:
		return h.Sscratch, nil
	case csrSepc:
		return h.Sepc, nil
	case csrScause:
		return h.Scause, nil
	case csrStval:
		return h.Stval, nil
	case csrSip:
		return h.Mip & h.Mideleg, nil
	case csrSatp:
		return h.Satp, nil

	case csrMstatus:
		return h.readMstatus(), nil
	case csrMisa:
		return h.Misa, nil
	case csrMedeleg:
		return h.Medeleg, nil
	case csrMideleg:
		return h.Mideleg, nil
	case csrMie:
		return h.Mie, nil
	case csrMtvec:
		return h.Mtvec, nil
	case csrMcounteren:
		return h.Mcounteren, nil
	case csrMscratch:
		return h.Mscratch, nil
	case csrMepc:
		return h.Mepc, nil
	case csrMcause:
		return h.Mcause, nil
	case csrMtval:
		return h.Mtval, nil
	case csrMip:
		return h.Mip, nil
	case csrMhartid:
		return h.Mhartid, nil
	}
	return 0, Exception(CauseIllegalInsn, 0)
}

// WriteCSR implements the CSR write half of C5. isWrite distinguishes a
// true CSRRW (or CSRRS/CSRRC with a non-zero source) from a read-modify
// with no actual source bits, which must still pass the read-only check
// per spec.md §4.5 ("when the instruction is a write").
func (h *Hart) WriteCSR(csr uint16, val uint64, isWrite bool) (RestartCode, error) {
	if h.Priv < csrPriv(csr) {
		return RestartNone, Exception(CauseIllegalInsn, 0)
	}
	if isWrite && csrReadOnly(csr) {
		return RestartNone, Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case csrFflags:
		h.Fflags = uint8(val & 0x1f)
		h.markFPUDirty()
	case csrFrm:
		h.Frm = uint8(val & 0x7)
		h.markFPUDirty()
	case csrFcsr:
		h.Fflags = uint8(val & 0x1f)
		h.Frm = uint8((val >> 5) & 0x7)
		h.markFPUDirty()

	case csrCycle, csrInstret, csrCycleM, csrInstretM, csrCycleH, csrInstretH, csrCycleMH, csrInstretMH, csrTime, csrTimeH:
		// Read-only: a true write traps, but a CSRRS/CSRRC with no source
		// bits (isWrite==false, e.g. the "csrr" pseudo-op) must still be
		// allowed through as a pure read (spec.md §4.5).
		if isWrite {
			return RestartNone, Exception(CauseIllegalInsn, 0)
		}

	case csrSstatus:
		h.writeMstatus((h.Mstatus &^ sstatusView) | (val & sstatusView))
		return h.afterMstatusWrite(), nil
	case csrSie:
		h.Mie = (h.Mie &^ h.Mideleg) | (val & h.Mideleg & implementedInterrupts)
	case csrStvec:
		h.Stvec = val
	case csrScounteren:
		h.Scounteren = val
	case csrSscratch:
		h.Sscratch = val
	case csrSepc:
		h.Sepc = val &^ 1
	case csrScause:
		h.Scause = val
	case csrStval:
		h.Stval = val
	case csrSip:
		mask := h.Mideleg & MipSSIP
		h.Mip = (h.Mip &^ mask) | (val & mask)
	case csrSatp:
		return h.writeSatp(val), nil

	case csrMstatus:
		h.writeMstatus((h.Mstatus &^ mstatusWritableMask) | (val & mstatusWritableMask))
		return h.afterMstatusWrite(), nil
	case csrMisa:
		return h.writeMisa(val), nil
	case csrMedeleg:
		h.Medeleg = val & medelegWritableMask
	case csrMideleg:
		h.Mideleg = val & (MipSSIP | MipSTIP | MipSEIP)
	case csrMie:
		h.Mie = val & implementedInterrupts
	case csrMtvec:
		h.Mtvec = val
	case csrMcounteren:
		h.Mcounteren = val
	case csrMscratch:
		h.Mscratch = val
	case csrMepc:
		h.Mepc = val &^ 1
	case csrMcause:
		h.Mcause = val
	case csrMtval:
		h.Mtval = val
	case csrMip:
		mask := uint64(MipSSIP | MipSTIP | MipSEIP)
		h.Mip = (h.Mip &^ mask) | (val & mask)
	case csrMhartid:
		// Read-only, same isWrite exemption as the counter CSRs above.
		if isWrite {
			return RestartNone, Exception(CauseIllegalInsn, 0)
		}
	default:
		return RestartNone, Exception(CauseIllegalInsn, 0)
	}
	return RestartNone, nil
}

// effectiveFrm treats reserved rounding modes 5/6 as 0 on read-back
// (spec.md §4.5); illegal modes are otherwise rejected at decode time.
func (h *Hart) effectiveFrm() uint8 {
	if h.Frm >= 5 {
		return 0
	}
	return h.Frm
}

func (h *Hart) markFPUDirty() {
	h.FS = FSDirty
}

// readMstatus reconstructs SD from the cached FS field and ORs it back in,
// per spec.md §4.5.
func (h *Hart) readMstatus() uint64 {
	m := (h.Mstatus &^ MstatusFS) | (h.FS << MstatusFSShift)
	sd := h.mstatusSDBit()
	if h.FS == FSDirty {
		m |= sd
	} else {
		m &^= sd
	}
	return m
}

func (h *Hart) readSstatus() uint64 {
	return h.readMstatus() & (sstatusView | h.mstatusSDBit())
}

func (h *Hart) writeMstatus(val uint64) {
	h.Mstatus = val &^ h.mstatusSDBit() // SD is derived, never stored
	h.FS = (val & MstatusFS) >> MstatusFSShift
}

// afterMstatusWrite flushes all TLBs after every mstatus/sstatus write, a
// superset of the MPRV/SUM/MXR/MPP changes that need a flush (spec.md §4.5).
func (h *Hart) afterMstatusWrite() RestartCode {
	// Conservative but correct: mstatus writes are infrequent enough that
	// always flushing on any MPRV/SUM/MXR/MPP-bearing write is cheap and
	// avoids having to diff against the pre-write value at each call site.
	h.FlushTLBForCSR()
	return RestartTLBFlushed
}

// writeMisa adjusts CurXLen from MXL and signals a restart (spec.md §4.5).
func (h *Hart) writeMisa(val uint64) RestartCode {
	var mxlShift uint
	if h.MaxXLen == 32 {
		mxlShift = 30
	} else {
		mxlShift = 62
	}
	mxl := (val >> mxlShift) & 3
	if mxl == 0 {
		return RestartNone // leave misa/XLEN unchanged
	}
	newXLen := 1 << (mxl + 4)
	if newXLen > h.MaxXLen {
		return RestartNone // wider than the hart's configured maximum
	}
	if newXLen != h.CurXLen {
		h.CurXLen = newXLen
		return RestartXLen
	}
	return RestartNone
}

// writeSatp accepts only the published modes (Bare/Sv32/Sv39/Sv48); any
// other write is silently ignored (spec.md §4.5).
func (h *Hart) writeSatp(val uint64) RestartCode {
	var mode uint64
	if h.CurXLen == 32 {
		mode = (val >> 31) & 1
		if mode != 0 {
			mode = SatpSv32
		}
	} else {
		mode = (val >> 60) & 0xf
	}
	switch mode {
	case SatpBare, SatpSv32, SatpSv39, SatpSv48:
	default:
		return RestartNone // unsupported mode: satp unchanged
	}
	h.Satp = val
	h.FlushTLBForCSR()
	return RestartTLBFlushed
}
