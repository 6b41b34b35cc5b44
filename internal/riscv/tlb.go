package riscv

// TLBSize is the number of entries in each direct-mapped TLB (matches the
// TinyEMU original's TLB_SIZE).
const TLBSize = 256

const tlbEmptyTag uint64 = ^uint64(0)

// tlbEntry holds a host-buffer addend: the host slice offset minus the
// guest virtual address that produced it, expressed with a base range
// pointer plus an offset delta. Go's memory-safety rules rule out raw
// pointer-arithmetic addends (the teacher's C/TinyEMU trick); instead each
// entry stores (range, delta) so the fast path becomes a slice index into a
// statically-known RAM buffer, per the handle-TLB pattern in spec.md §9.
type tlbEntry struct {
	tag   uint64 // masked virtual address this entry was installed for
	rng   *Range // backing RAM range
	delta uint64 // rng-relative offset of the page start: hostOffset = delta + (vaddr - tag)
}

// TLB is three parallel direct-mapped caches (read, write, fetch), each
// TLBSize entries, keyed by guest VA page (C2).
type TLB struct {
	read  [TLBSize]tlbEntry
	write [TLBSize]tlbEntry
	fetch [TLBSize]tlbEntry
}

func tlbIndex(vaddr uint64) uint64 {
	return (vaddr >> pageLog2) & (TLBSize - 1)
}

// tlbTag computes the tag for an access of the given size: the containing
// page address, additionally masked so that a misaligned access (one that
// would straddle a page boundary) can never tag-match, forcing it onto the
// slow path by construction (spec.md §4.2).
func tlbTag(vaddr uint64, sizeLog2 uint) uint64 {
	sizeMask := uint64(1)<<sizeLog2 - 1
	return vaddr &^ (uint64(pageSize-1) &^ sizeMask)
}

func (t *TLB) arr(dir accessClass) *[TLBSize]tlbEntry {
	switch dir {
	case accessWrite:
		return &t.write
	case accessFetch:
		return &t.fetch
	default:
		return &t.read
	}
}

// Lookup returns the backing range and host offset for a TLB hit, or ok=false.
func (t *TLB) Lookup(dir accessClass, vaddr uint64, sizeLog2 uint) (rng *Range, hostOff uint64, ok bool) {
	arr := t.arr(dir)
	idx := tlbIndex(vaddr)
	e := &arr[idx]
	tag := tlbTag(vaddr, sizeLog2)
	if e.tag != tag {
		return nil, 0, false
	}
	return e.rng, e.delta + (vaddr - tag), true
}

// Install refills the TLB entry for a page following a successful slow-path
// translation. pageBase is the page-aligned VA; rng/rangeOff is the backing
// RAM range and the offset within it of pageBase.
func (t *TLB) Install(dir accessClass, pageBase uint64, rng *Range, rangeOff uint64) {
	arr := t.arr(dir)
	idx := tlbIndex(pageBase)
	arr[idx] = tlbEntry{tag: pageBase, rng: rng, delta: rangeOff}
}

// FlushAll resets all three TLBs to the empty sentinel (spec.md §4.2).
func (t *TLB) FlushAll() {
	for i := range t.read {
		t.read[i] = tlbEntry{tag: tlbEmptyTag}
		t.write[i] = tlbEntry{tag: tlbEmptyTag}
		t.fetch[i] = tlbEntry{tag: tlbEmptyTag}
	}
}

// FlushVA invalidates the entries that could hold a translation of vaddr in
// all three directions. Per-VA flush is permitted to degrade to FlushAll
// (spec.md §4.2); we do the precise thing since it's cheap here.
func (t *TLB) FlushVA(vaddr uint64) {
	idx := tlbIndex(vaddr)
	page := vaddr &^ uint64(pageSize-1)
	for _, arr := range []*[TLBSize]tlbEntry{&t.read, &t.write, &t.fetch} {
		e := &arr[idx]
		if e.tag&^uint64(pageSize-1) == page {
			e.tag = tlbEmptyTag
		}
	}
}

// FlushWriteRangeRAM invalidates any write-TLB entry whose host target lies
// within [rng]; used when an external device writes to RAM out from under
// the hart (Hart API, §6: flush_tlb_write_range_ram).
func (t *TLB) FlushWriteRangeRAM(rng *Range) {
	for i := range t.write {
		if t.write[i].rng == rng {
			t.write[i].tag = tlbEmptyTag
		}
	}
}
