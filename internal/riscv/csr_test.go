package riscv

import "testing"

func TestCSRPrivilegeCheckRejectsLowerPrivilege(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivSupervisor

	if _, err := h.ReadCSR(csrMstatus); err == nil {
		t.Fatalf("expected S-mode read of an M-mode CSR to trap")
	}
	if _, err := h.WriteCSR(csrMstatus, 0, true); err == nil {
		t.Fatalf("expected S-mode write of an M-mode CSR to trap")
	}
}

func TestCSRReadOnlyRejectsWrite(t *testing.T) {
	h := newTestHart(t, 64)
	if _, err := h.WriteCSR(csrMhartid, 1, true); err == nil {
		t.Fatalf("expected a write to the read-only mhartid CSR to trap")
	}
	// A CSRRS/CSRRC with an all-zero source still counts as isWrite=false
	// and must be allowed through even against a read-only CSR.
	if _, err := h.WriteCSR(csrMhartid, 0, false); err != nil {
		t.Fatalf("expected a no-op CSRRS against mhartid to succeed, got: %v", err)
	}
}

func TestSieSipMaskedByMideleg(t *testing.T) {
	h := newTestHart(t, 64)
	h.Mideleg = MipSSIP // only software interrupts delegated

	if _, err := h.WriteCSR(csrSie, uint64(MipSSIP|MipSTIP), true); err != nil {
		t.Fatalf("WriteCSR(sie): %v", err)
	}
	if h.Mie&MipSTIP != 0 {
		t.Fatalf("sie write should not be able to set mie.STIP (not delegated)")
	}
	if h.Mie&MipSSIP == 0 {
		t.Fatalf("sie write should set mie.SSIP (delegated)")
	}

	h.Mip = MipSSIP | MipSTIP
	sip, err := h.ReadCSR(csrSip)
	if err != nil {
		t.Fatalf("ReadCSR(sip): %v", err)
	}
	if sip != MipSSIP {
		t.Fatalf("sip = %#x, want only the delegated SSIP bit (%#x)", sip, uint64(MipSSIP))
	}
}

func TestWriteSatpRejectsUnsupportedMode(t *testing.T) {
	h := newTestHart(t, 64)
	h.Satp = 0

	restart := h.writeSatp(uint64(0x3) << 60) // mode 3 is reserved, not Bare/Sv39/Sv48/Sv32
	if restart != RestartNone {
		t.Fatalf("restart = %v, want RestartNone for an unsupported satp mode", restart)
	}
	if h.Satp != 0 {
		t.Fatalf("satp should be left unchanged by an unsupported-mode write")
	}

	restart = h.writeSatp(SatpSv39 << 60)
	if restart != RestartTLBFlushed {
		t.Fatalf("restart = %v, want RestartTLBFlushed for an accepted satp write", restart)
	}
	if h.satpMode() != SatpSv39 {
		t.Fatalf("satp mode = %d, want Sv39", h.satpMode())
	}
}

func TestMedelegWritableMaskExcludesInterruptCauses(t *testing.T) {
	h := newTestHart(t, 64)
	// Bit 16 is beyond STORE_PAGE_FAULT (15); it must be masked off.
	if _, err := h.WriteCSR(csrMedeleg, uint64(1)<<16|1, true); err != nil {
		t.Fatalf("WriteCSR(medeleg): %v", err)
	}
	if h.Medeleg != 1 {
		t.Fatalf("medeleg = %#x, want only bit 0 retained", h.Medeleg)
	}
}

func TestMstatusWriteDerivesSDFromFS(t *testing.T) {
	h := newTestHart(t, 64)
	h.FS = FSClean

	if _, err := h.WriteCSR(csrMstatus, FSClean<<MstatusFSShift, true); err != nil {
		t.Fatalf("WriteCSR(mstatus): %v", err)
	}
	v, _ := h.ReadCSR(csrMstatus)
	if v&h.mstatusSDBit() != 0 {
		t.Fatalf("SD should be clear when FS is Clean, mstatus=%#x", v)
	}

	h.FS = FSDirty
	v, _ = h.ReadCSR(csrMstatus)
	if v&h.mstatusSDBit() == 0 {
		t.Fatalf("SD should be set when FS is Dirty, mstatus=%#x", v)
	}
}
