package riscv

// accessClass distinguishes the three kinds of memory access the MMU and
// TLB must track independently (spec.md §4.3).
type accessClass uint8

const (
	accessRead accessClass = iota
	accessWrite
	accessFetch
)

// satp mode encodings (top 4 bits of satp in Sv39/Sv48; top bit in Sv32).
const (
	SatpBare uint64 = 0
	SatpSv32 uint64 = 1
	SatpSv39 uint64 = 8
	SatpSv48 uint64 = 9
)

// Page table entry flag bits.
const (
	PteV uint64 = 1 << 0
	PteR uint64 = 1 << 1
	PteW uint64 = 1 << 2
	PteX uint64 = 1 << 3
	PteU uint64 = 1 << 4
	PteG uint64 = 1 << 5
	PteA uint64 = 1 << 6
	PteD uint64 = 1 << 7
)

// satpMode returns the active paging mode given CurXLen, per the table in
// spec.md §4.3.
func (h *Hart) satpMode() uint64 {
	if h.CurXLen == 32 {
		if h.Satp&(1<<31) != 0 {
			return SatpSv32
		}
		return SatpBare
	}
	return (h.Satp >> 60) & 0xf
}

type walkParams struct {
	levels   int
	vaBits   int
	vpnBits  int
	pteSize  uint64
	rootMask uint64
}

func (h *Hart) walkParamsFor(mode uint64) (walkParams, bool) {
	switch mode {
	case SatpSv32:
		return walkParams{levels: 2, vaBits: 32, vpnBits: 10, pteSize: 4, rootMask: (1 << 22) - 1}, true
	case SatpSv39:
		return walkParams{levels: 3, vaBits: 39, vpnBits: 9, pteSize: 8, rootMask: (1 << 44) - 1}, true
	case SatpSv48:
		return walkParams{levels: 4, vaBits: 48, vpnBits: 9, pteSize: 8, rootMask: (1 << 44) - 1}, true
	}
	return walkParams{}, false
}

// effectivePriv substitutes MPP for the current privilege when mstatus.MPRV
// is set and the access is not a FETCH (spec.md §4.3).
func (h *Hart) effectivePriv(ac accessClass) uint8 {
	priv := h.Priv
	if ac != accessFetch && h.Mstatus&MstatusMPRV != 0 {
		priv = uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	}
	return priv
}

// translate walks satp-driven Sv32/Sv39/Sv48 page tables (or returns the VA
// unchanged in bare mode / M-mode) and returns the full physical address,
// refilling the TLB after a successful walk (C3). Bare-mode and M-mode
// results are returned without a TLB refill.
func (h *Hart) translate(vaddr uint64, ac accessClass) (paddr uint64, err error) {
	mode := h.satpMode()
	if mode == SatpBare {
		return vaddr, nil
	}

	priv := h.effectivePriv(ac)
	if priv == PrivMachine {
		return vaddr, nil
	}

	params, ok := h.walkParamsFor(mode)
	if !ok {
		return vaddr, nil
	}

	if mode != SatpSv32 {
		// VA must be sign-extended from bit vaBits-1.
		top := signExtend(vaddr, params.vaBits)
		if uint64(top) != vaddr {
			return 0, h.pageFault(ac, vaddr)
		}
	}

	base := (h.Satp & params.rootMask) << pageLog2
	var pte uint64
	var pteAddr uint64
	level := params.levels - 1
	pageBits := pageLog2 + level*params.vpnBits

	for {
		vpnShift := pageLog2 + level*params.vpnBits
		vpnMask := uint64(1)<<params.vpnBits - 1
		vpn := (vaddr >> vpnShift) & vpnMask
		pteAddr = base + vpn*params.pteSize

		if params.pteSize == 4 {
			pte = uint64(h.Bus.PhysReadU32(pteAddr))
		} else {
			pte = h.Bus.PhysReadU64(pteAddr)
		}

		if pte&PteV == 0 || (pte&PteR == 0 && pte&PteW != 0) {
			return 0, h.pageFault(ac, vaddr)
		}

		xwr := (pte >> 1) & 7
		if xwr == 0b010 || xwr == 0b110 {
			return 0, h.pageFault(ac, vaddr)
		}

		if xwr != 0 {
			// Leaf entry.
			if level > 0 {
				lowMask := uint64(1)<<(level*params.vpnBits) - 1
				ppnField := (pte >> 10)
				if ppnField&lowMask != 0 {
					return 0, h.pageFault(ac, vaddr) // misaligned superpage
				}
			}
			pageBits = pageLog2 + level*params.vpnBits
			break
		}

		if level == 0 {
			return 0, h.pageFault(ac, vaddr) // non-leaf at last level
		}
		ppnMask := uint64(1)<<44 - 1
		if params.pteSize == 4 {
			ppnMask = uint64(1)<<22 - 1
		}
		base = ((pte >> 10) & ppnMask) << pageLog2
		level--
	}

	if err := h.checkPermissions(pte, ac, priv, vaddr); err != nil {
		return 0, err
	}

	newPte := pte
	if pte&PteA == 0 {
		newPte |= PteA
	}
	if ac == accessWrite && pte&PteD == 0 {
		newPte |= PteD
	}
	if newPte != pte {
		if params.pteSize == 4 {
			h.Bus.PhysWriteU32(pteAddr, uint32(newPte))
		} else {
			h.Bus.PhysWriteU64(pteAddr, newPte)
		}
		pte = newPte
	}

	ppnMask := uint64(1)<<44 - 1
	if params.pteSize == 4 {
		ppnMask = uint64(1)<<22 - 1
	}
	ppn := (pte >> 10) & ppnMask
	pageMask := uint64(1)<<pageBits - 1
	// Superpage: low VPN bits come from the VA, not the PTE's own PPN.
	vaLowBits := (vaddr >> pageLog2) & (pageMask >> pageLog2)
	ppnBase := ppn &^ (pageMask >> pageLog2)
	ppn = ppnBase | vaLowBits

	paddr = (ppn << pageLog2) | (vaddr & (uint64(1)<<pageLog2 - 1))

	pageBase := vaddr &^ uint64(pageSize-1)
	physPageBase := (ppn << pageLog2)
	if rng := h.Bus.Lookup(physPageBase); rng != nil && rng.IsRAM {
		h.TLB.Install(ac, pageBase, rng, physPageBase-rng.Addr)
	}

	return paddr, nil
}

// checkPermissions enforces U/S/M access rules and MXR/SUM folding
// (spec.md §4.3).
func (h *Hart) checkPermissions(pte uint64, ac accessClass, priv uint8, vaddr uint64) error {
	u := pte&PteU != 0
	if priv == PrivUser {
		if !u {
			return h.pageFault(ac, vaddr)
		}
	} else if priv == PrivSupervisor {
		if u && h.Mstatus&MstatusSUM == 0 {
			return h.pageFault(ac, vaddr)
		}
	}

	r := pte&PteR != 0
	w := pte&PteW != 0
	x := pte&PteX != 0
	if h.Mstatus&MstatusMXR != 0 {
		r = r || x
	}

	switch ac {
	case accessRead:
		if !r {
			return h.pageFault(ac, vaddr)
		}
	case accessWrite:
		if !w {
			return h.pageFault(ac, vaddr)
		}
	case accessFetch:
		if !x {
			return h.pageFault(ac, vaddr)
		}
	}
	return nil
}

func (h *Hart) pageFault(ac accessClass, vaddr uint64) error {
	switch ac {
	case accessWrite:
		return Exception(CauseStorePageFault, vaddr)
	case accessFetch:
		return Exception(CauseInsnPageFault, vaddr)
	default:
		return Exception(CauseLoadPageFault, vaddr)
	}
}

// FlushTLBForCSR is called by the CSR unit on a satp write and on every
// mstatus/sstatus write, and by SFENCE.VMA (spec.md invariant:
// "any change to satp or any SFENCE.VMA must globally flush C2").
func (h *Hart) FlushTLBForCSR() {
	h.TLB.FlushAll()
	h.LoadResValid = false
}
