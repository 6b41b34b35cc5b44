package riscv

// AMO/LR/SC funct5 codes (bits [31:27] of the instruction), shared between
// the 32-bit and 64-bit word forms (spec.md §4.7, RV32A/RV64A).
const (
	amoLR      uint32 = 0x02
	amoSC      uint32 = 0x03
	amoSwap    uint32 = 0x01
	amoAdd     uint32 = 0x00
	amoXor     uint32 = 0x04
	amoAnd     uint32 = 0x0c
	amoOr      uint32 = 0x08
	amoMin     uint32 = 0x10
	amoMax     uint32 = 0x14
	amoMinu    uint32 = 0x18
	amoMaxu    uint32 = 0x1c
)

// execAMO performs an RV32A/RV64A atomic memory operation. sizeLog2 is 2 for
// .W or 3 for .D. addr must already be the (sign-extended) guest virtual
// address in rs1; the result written to rd is the value memory held before
// the operation, per the ISA's AMO semantics.
func (h *Hart) execAMO(funct5 uint32, addr uint64, rs2val uint64, sizeLog2 uint) (uint64, error) {
	if addr&(sizeBytes(sizeLog2)-1) != 0 {
		return 0, Exception(CauseStoreMisaligned, addr)
	}

	switch funct5 {
	case amoLR:
		val, err := h.ReadMem(addr, sizeLog2)
		if err != nil {
			return 0, err
		}
		h.LoadResValid = true
		if paddr, perr := h.translate(addr, accessRead); perr == nil {
			h.LoadResAddr = paddr
		}
		return signExtendLoad(val, sizeLog2), nil

	case amoSC:
		if !h.LoadResValid {
			h.LoadResValid = false
			return 1, nil // failure
		}
		paddr, err := h.translate(addr, accessWrite)
		if err != nil {
			h.LoadResValid = false
			return 0, err
		}
		if paddr != h.LoadResAddr {
			h.LoadResValid = false
			return 1, nil
		}
		if err := h.WriteMem(addr, rs2val, sizeLog2); err != nil {
			h.LoadResValid = false
			return 0, err
		}
		h.LoadResValid = false
		return 0, nil // success
	}

	old, err := h.ReadMem(addr, sizeLog2)
	if err != nil {
		return 0, err
	}
	oldSigned := signExtendLoad(old, sizeLog2)

	var result uint64
	switch funct5 {
	case amoSwap:
		result = rs2val
	case amoAdd:
		result = old + rs2val
	case amoXor:
		result = old ^ rs2val
	case amoAnd:
		result = old & rs2val
	case amoOr:
		result = old | rs2val
	case amoMin:
		if int64(oldSigned) < int64(signExtendLoad(rs2val, sizeLog2)) {
			result = old
		} else {
			result = rs2val
		}
	case amoMax:
		if int64(oldSigned) > int64(signExtendLoad(rs2val, sizeLog2)) {
			result = old
		} else {
			result = rs2val
		}
	case amoMinu:
		if maskTo(old, sizeLog2) < maskTo(rs2val, sizeLog2) {
			result = old
		} else {
			result = rs2val
		}
	case amoMaxu:
		if maskTo(old, sizeLog2) > maskTo(rs2val, sizeLog2) {
			result = old
		} else {
			result = rs2val
		}
	default:
		return 0, Exception(CauseIllegalInsn, 0)
	}

	if err := h.WriteMem(addr, result, sizeLog2); err != nil {
		return 0, err
	}
	return oldSigned, nil
}

func signExtendLoad(val uint64, sizeLog2 uint) uint64 {
	if sizeLog2 == 2 {
		return uint64(int64(int32(val)))
	}
	return val
}

func maskTo(val uint64, sizeLog2 uint) uint64 {
	if sizeLog2 == 2 {
		return uint64(uint32(val))
	}
	return val
}
