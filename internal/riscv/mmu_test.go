package riscv

import "testing"

// sv39Root returns the satp value for a root page table at the given
// physical address. Each test installs its leaf PTE at vpn2=0 (the root's
// first entry, covering VA 0..0x3FFFFFFF as a single gigapage).
func sv39Root(rootPhys uint64) uint64 {
	return (SatpSv39 << 60) | (rootPhys >> pageLog2)
}

func newTestHartWithMMU(t *testing.T) (*Hart, uint64 /* rootPhys */) {
	t.Helper()
	h := newTestHart(t, 64)
	rootPhys := RAMBase + 0x10000
	h.Priv = PrivSupervisor
	return h, rootPhys
}

// TestSv39GigapageTranslation exercises C3: a single level-2 (gigapage) leaf
// PTE maps a whole VA range with the VA's low bits passed through unchanged.
func TestSv39GigapageTranslation(t *testing.T) {
	h, rootPhys := newTestHartWithMMU(t)

	leaf := PteV | PteR | PteW | PteX | PteA | PteD | ((RAMBase >> pageLog2) << 10)
	h.Bus.PhysWriteU64(rootPhys, leaf)
	h.Satp = sv39Root(rootPhys)

	vaddr := uint64(0x1000)
	paddr, err := h.translate(vaddr, accessRead)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if want := RAMBase + vaddr; paddr != want {
		t.Fatalf("paddr = %#x, want %#x", paddr, want)
	}
}

// TestSv39PermissionDenied exercises the W-bit check in checkPermissions: a
// read-only leaf PTE must fault a store access.
func TestSv39PermissionDenied(t *testing.T) {
	h, rootPhys := newTestHartWithMMU(t)

	leaf := PteV | PteR | PteA | ((RAMBase >> pageLog2) << 10) // no W
	h.Bus.PhysWriteU64(rootPhys, leaf)
	h.Satp = sv39Root(rootPhys)

	_, err := h.translate(0x1000, accessWrite)
	if err == nil {
		t.Fatalf("expected a page fault on write to a read-only page")
	}
	ee, ok := err.(ExceptionError)
	if !ok || ee.Cause != CauseStorePageFault {
		t.Fatalf("err = %v, want STORE_PAGE_FAULT", err)
	}
}

// TestSv39MisalignedSuperpageFaults exercises the non-zero low-PPN-bits
// rejection for a level-2 leaf whose PPN isn't gigapage-aligned.
func TestSv39MisalignedSuperpageFaults(t *testing.T) {
	h, rootPhys := newTestHartWithMMU(t)

	// ppn=1 has a non-zero low 18 bits, violating gigapage alignment.
	leaf := PteV | PteR | PteW | PteX | PteA | PteD | (1 << 10)
	h.Bus.PhysWriteU64(rootPhys, leaf)
	h.Satp = sv39Root(rootPhys)

	_, err := h.translate(0x1000, accessRead)
	if err == nil {
		t.Fatalf("expected a page fault on a misaligned superpage")
	}
	if ee, ok := err.(ExceptionError); !ok || ee.Cause != CauseLoadPageFault {
		t.Fatalf("err = %v, want LOAD_PAGE_FAULT", err)
	}
}

// TestSv39UserPageDeniedWithoutSUM exercises the U-bit/SUM interaction: an
// S-mode access to a U=1 page faults unless mstatus.SUM is set.
func TestSv39UserPageDeniedWithoutSUM(t *testing.T) {
	h, rootPhys := newTestHartWithMMU(t)

	leaf := PteV | PteR | PteW | PteX | PteA | PteD | PteU | ((RAMBase >> pageLog2) << 10)
	h.Bus.PhysWriteU64(rootPhys, leaf)
	h.Satp = sv39Root(rootPhys)

	if _, err := h.translate(0x1000, accessRead); err == nil {
		t.Fatalf("expected a page fault without SUM set")
	}

	h.Mstatus |= MstatusSUM
	if _, err := h.translate(0x1000, accessRead); err != nil {
		t.Fatalf("unexpected fault with SUM set: %v", err)
	}
}

// TestMachineModeBypassesTranslation exercises the M-mode bypass: translate
// must return the VA unchanged when the effective privilege is Machine,
// even with a paging mode configured in satp.
func TestMachineModeBypassesTranslation(t *testing.T) {
	h, rootPhys := newTestHartWithMMU(t)
	h.Priv = PrivMachine
	h.Satp = sv39Root(rootPhys) // root table deliberately left empty/invalid

	paddr, err := h.translate(0x1234, accessRead)
	if err != nil {
		t.Fatalf("M-mode access should bypass translation, got: %v", err)
	}
	if paddr != 0x1234 {
		t.Fatalf("paddr = %#x, want 0x1234 (VA unchanged)", paddr)
	}
}
