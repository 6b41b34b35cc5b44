package riscv

// This file implements C2's fast path and C4's slow path together: the TLB
// hit check, the MMU walk on miss, misaligned decomposition, and device
// dispatch honoring devio_flags (spec.md §4.2, §4.4).

func sizeBytes(sizeLog2 uint) uint64 { return uint64(1) << sizeLog2 }

// translateForAccess resolves vaddr to a physical address, consulting the
// TLB first and falling back to a full MMU walk (which refills the TLB) on
// miss.
func (h *Hart) translateForAccess(vaddr uint64, ac accessClass, sizeLog2 uint) (paddr uint64, rng *Range, hostOff uint64, err error) {
	if rng, hostOff, ok := h.TLB.Lookup(ac, vaddr, sizeLog2); ok {
		return rng.Addr + hostOff, rng, hostOff, nil
	}
	paddr, err = h.translate(vaddr, ac)
	if err != nil {
		return 0, nil, 0, err
	}
	if rng, hostOff, ok := h.TLB.Lookup(ac, vaddr, sizeLog2); ok {
		return paddr, rng, hostOff, nil
	}
	return paddr, nil, 0, nil
}

// ReadMem reads a value of 1/2/4/8 bytes from a virtual address, performing
// misaligned decomposition, MMU translation and device dispatch as needed.
func (h *Hart) ReadMem(vaddr uint64, sizeLog2 uint) (uint64, error) {
	size := sizeBytes(sizeLog2)
	if vaddr&(size-1) != 0 {
		return h.readMisaligned(vaddr, sizeLog2)
	}

	if rng, hostOff, ok := h.TLB.Lookup(accessRead, vaddr, sizeLog2); ok {
		return readRangeNative(rng, hostOff, sizeLog2), nil
	}

	paddr, err := h.translate(vaddr, accessRead)
	if err != nil {
		return 0, err
	}
	return h.readPhys(paddr, sizeLog2, vaddr)
}

// WriteMem writes a value of 1/2/4/8 bytes to a virtual address.
func (h *Hart) WriteMem(vaddr uint64, val uint64, sizeLog2 uint) error {
	size := sizeBytes(sizeLog2)
	if vaddr&(size-1) != 0 {
		return h.writeMisaligned(vaddr, val, sizeLog2)
	}

	if rng, hostOff, ok := h.TLB.Lookup(accessWrite, vaddr, sizeLog2); ok {
		writeRangeNative(rng, hostOff, sizeLog2, val)
		h.clearReservationIfOverlap(rng.Addr + hostOff)
		return nil
	}

	paddr, err := h.translate(vaddr, accessWrite)
	if err != nil {
		return err
	}
	h.clearReservationIfOverlap(paddr)
	return h.writePhys(paddr, val, sizeLog2, vaddr)
}

func (h *Hart) clearReservationIfOverlap(paddr uint64) {
	if h.LoadResValid && h.LoadResAddr == paddr {
		h.LoadResValid = false
	}
}

// readPhys dispatches a translated physical address to RAM or a device,
// per §4.4 step 3/4. An unmapped address reads as zero (matches source).
func (h *Hart) readPhys(paddr uint64, sizeLog2 uint, faultVA uint64) (uint64, error) {
	r := h.Bus.Lookup(paddr)
	if r == nil {
		return 0, nil
	}
	off := paddr - r.Addr
	if r.IsRAM {
		return readRangeNative(r, off, sizeLog2), nil
	}
	return uint64(h.deviceRead(r, off, sizeLog2)), nil
}

func (h *Hart) writePhys(paddr uint64, val uint64, sizeLog2 uint, faultVA uint64) error {
	r := h.Bus.Lookup(paddr)
	if r == nil {
		return nil
	}
	off := paddr - r.Addr
	if r.IsRAM {
		writeRangeNative(r, off, sizeLog2, val)
		if r.Flags&FlagDirtyBits != 0 {
			r.MarkDirty(off)
		}
		return nil
	}
	h.deviceWrite(r, off, sizeLog2, val)
	return nil
}

// deviceRead honors devio_flags, splitting an unsupported 64-bit access
// into two little-endian 32-bit halves when the device only claims
// SIZE32, and reading zero for widths that aren't supported at all.
func (h *Hart) deviceRead(r *Range, off uint64, sizeLog2 uint) uint64 {
	if r.supports(sizeLog2) {
		return uint64(r.ReadFn(r.Opaque, off, sizeLog2))
	}
	if sizeLog2 == 3 && r.supports(2) {
		lo := r.ReadFn(r.Opaque, off, 2)
		hi := r.ReadFn(r.Opaque, off+4, 2)
		return uint64(lo) | uint64(hi)<<32
	}
	return 0
}

func (h *Hart) deviceWrite(r *Range, off uint64, sizeLog2 uint, val uint64) {
	if r.supports(sizeLog2) {
		r.WriteFn(r.Opaque, off, sizeLog2, uint32(val))
		return
	}
	if sizeLog2 == 3 && r.supports(2) {
		r.WriteFn(r.Opaque, off, 2, uint32(val))
		r.WriteFn(r.Opaque, off+4, 2, uint32(val>>32))
		return
	}
	// Unsupported width and not decomposable: silently dropped (§4.1).
}

func readRangeNative(r *Range, off uint64, sizeLog2 uint) uint64 {
	if sizeLog2 == 3 {
		return ramRead64(r.RAM, off)
	}
	return uint64(ramRead(r.RAM, off, sizeLog2))
}

func writeRangeNative(r *Range, off uint64, sizeLog2 uint, val uint64) {
	if sizeLog2 == 3 {
		ramWrite64(r.RAM, off, val)
		return
	}
	ramWrite(r.RAM, off, sizeLog2, uint32(val))
}

// readMisaligned emulates a misaligned read as a sequence of aligned byte
// accesses, OR'd together low-to-high (spec.md §4.4 step 1).
func (h *Hart) readMisaligned(vaddr uint64, sizeLog2 uint) (uint64, error) {
	n := sizeBytes(sizeLog2)
	var val uint64
	for i := uint64(0); i < n; i++ {
		b, err := h.readByteTranslated(vaddr+i, accessRead)
		if err != nil {
			return 0, err
		}
		val |= uint64(b) << (8 * i)
	}
	return val, nil
}

// writeMisaligned buffers translation of every byte before performing any
// write, so a faulting sub-access leaves memory as if nothing happened
// (spec.md invariant on misaligned writes), then writes low byte to high.
func (h *Hart) writeMisaligned(vaddr uint64, val uint64, sizeLog2 uint) error {
	n := sizeBytes(sizeLog2)
	paddrs := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		paddr, err := h.translate(vaddr+i, accessWrite)
		if err != nil {
			return err
		}
		paddrs[i] = paddr
	}
	for i := uint64(0); i < n; i++ {
		h.clearReservationIfOverlap(paddrs[i])
		if err := h.writePhys(paddrs[i], (val>>(8*i))&0xff, 0, vaddr+i); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hart) readByteTranslated(vaddr uint64, ac accessClass) (uint8, error) {
	paddr, err := h.translate(vaddr, ac)
	if err != nil {
		return 0, err
	}
	v, err := h.readPhys(paddr, 0, vaddr)
	return uint8(v), err
}

// FetchInsn fetches one 16-bit half-word for instruction decode. Only RAM
// is fetchable; a device range faults with FETCH_ACCESS_FAULT (spec.md
// §4.4, "dedicated slow path... only RAM is fetchable").
func (h *Hart) FetchInsn(vaddr uint64) (uint16, error) {
	if vaddr&1 != 0 {
		return 0, Exception(CauseInsnMisaligned, vaddr)
	}
	if rng, hostOff, ok := h.TLB.Lookup(accessFetch, vaddr, 1); ok {
		return uint16(ramRead(rng.RAM, hostOff, 1)), nil
	}
	paddr, err := h.translate(vaddr, accessFetch)
	if err != nil {
		return 0, err
	}
	r := h.Bus.Lookup(paddr)
	if r == nil || !r.IsRAM {
		return 0, Exception(CauseInsnAccessFault, vaddr)
	}
	return uint16(ramRead(r.RAM, paddr-r.Addr, 1)), nil
}

// FastFetchWindow returns the backing RAM slice and the end-of-page host
// offset for the page containing vaddr, used by the interpreter's
// block_run to batch decode without per-instruction TLB lookups
// (spec.md §4.7 step 1). ok is false if the page isn't fetchable RAM.
func (h *Hart) FastFetchWindow(vaddr uint64) (ram []byte, off uint64, end uint64, ok bool) {
	rng, hostOff, hit := h.TLB.Lookup(accessFetch, vaddr, 1)
	if !hit {
		paddr, err := h.translate(vaddr, accessFetch)
		if err != nil {
			return nil, 0, 0, false
		}
		rng, hostOff, hit = h.TLB.Lookup(accessFetch, vaddr, 1)
		if !hit {
			// Bare-mode and M-mode translations leave no TLB entry.
			if rng = h.Bus.Lookup(paddr); rng == nil {
				return nil, 0, 0, false
			}
			hostOff = paddr - rng.Addr
		}
	}
	if !rng.IsRAM {
		return nil, 0, 0, false
	}
	pageEnd := (hostOff &^ uint64(pageSize-1)) + pageSize
	return rng.RAM, hostOff, pageEnd, true
}
