package riscv

import "testing"

func TestPendingInterruptPicksLowestEnabled(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivMachine
	h.Mstatus |= MstatusMIE
	h.Mie = MipMSIP | MipMTIP
	h.Mip = MipMSIP | MipMTIP

	cause, ok := h.PendingInterrupt()
	if !ok {
		t.Fatalf("expected a pending interrupt")
	}
	if want := InterruptBit | uint64(3); cause != want { // MSIP is bit 3, lower than MTIP's bit 7
		t.Fatalf("cause = %#x, want %#x (MSIP)", cause, want)
	}
}

func TestPendingInterruptNoneWhenMIEClear(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivMachine
	h.Mie = MipMTIP
	h.Mip = MipMTIP
	// MSTATUS.MIE left clear: M-mode interrupts are globally masked.

	if _, ok := h.PendingInterrupt(); ok {
		t.Fatalf("expected no pending interrupt with mstatus.MIE clear")
	}
}

func TestPendingInterruptSupervisorDelegatedNeedsSIE(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivSupervisor
	h.Mideleg = MipSTIP
	h.Mie = MipSTIP
	h.Mip = MipSTIP
	// Non-delegated-to-S interrupts are always enabled from S-mode's view
	// (the hart is running below M, so M-mode interrupts are never masked);
	// a delegated one additionally requires sstatus.SIE.

	if _, ok := h.PendingInterrupt(); ok {
		t.Fatalf("expected the delegated STIP to require sstatus.SIE")
	}
	h.Mstatus |= MstatusSIE
	if _, ok := h.PendingInterrupt(); !ok {
		t.Fatalf("expected STIP to become pending once sstatus.SIE is set")
	}
}

func TestDeliverTrapDelegatesWhenMedelegSet(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivUser
	h.Medeleg = 1 << CauseBreakpoint
	h.Stvec = 0x4000
	h.Mtvec = 0x8000
	h.Mstatus |= MstatusSIE

	h.DeliverTrap(CauseBreakpoint, 0x42)

	if h.Priv != PrivSupervisor {
		t.Fatalf("priv = %d, want Supervisor", h.Priv)
	}
	if h.PC != h.Stvec {
		t.Fatalf("PC = %#x, want stvec %#x", h.PC, h.Stvec)
	}
	if h.Scause != CauseBreakpoint || h.Stval != 0x42 {
		t.Fatalf("scause/stval = %#x/%#x, want %#x/0x42", h.Scause, h.Stval, CauseBreakpoint)
	}
	if h.Mstatus&MstatusSIE != 0 {
		t.Fatalf("sstatus.SIE should be cleared on trap entry")
	}
	if h.Mstatus&MstatusSPIE == 0 {
		t.Fatalf("sstatus.SPIE should carry the old SIE value (1)")
	}
	if h.Mstatus&MstatusSPP != 0 {
		t.Fatalf("sstatus.SPP should record the pre-trap privilege (User=0)")
	}
}

func TestDeliverTrapToMachineWhenNotDelegated(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivSupervisor
	h.Medeleg = 0 // nothing delegated
	h.Mtvec = 0x8000
	h.Mstatus |= MstatusMIE

	h.DeliverTrap(CauseIllegalInsn, 0)

	if h.Priv != PrivMachine {
		t.Fatalf("priv = %d, want Machine", h.Priv)
	}
	if h.PC != h.Mtvec {
		t.Fatalf("PC = %#x, want mtvec %#x", h.PC, h.Mtvec)
	}
	mpp := uint8((h.Mstatus & MstatusMPP) >> MstatusMPPShift)
	if mpp != PrivSupervisor {
		t.Fatalf("mstatus.MPP = %d, want the pre-trap Supervisor privilege", mpp)
	}
}

func TestMRETRestoresPrivilegeAndClearsMPRV(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivMachine
	h.Mepc = 0x1234
	h.Mstatus |= MstatusMPIE
	h.Mstatus |= uint64(PrivSupervisor) << MstatusMPPShift
	h.Mstatus |= MstatusMPRV

	if err := h.MRET(); err != nil {
		t.Fatalf("MRET: %v", err)
	}
	if h.Priv != PrivSupervisor {
		t.Fatalf("priv after MRET = %d, want Supervisor", h.Priv)
	}
	if h.PC != 0x1234 {
		t.Fatalf("PC after MRET = %#x, want 0x1234", h.PC)
	}
	if h.Mstatus&MstatusMPRV != 0 {
		t.Fatalf("MPRV should be cleared when MRET drops below Machine")
	}
	if h.Mstatus&MstatusMIE == 0 {
		t.Fatalf("MIE should be restored from MPIE")
	}
}

func TestMRETFromNonMachineTraps(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivSupervisor
	if err := h.MRET(); err == nil {
		t.Fatalf("expected MRET from S-mode to trap")
	}
}

func TestSRETRespectsTSR(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivSupervisor
	h.Mstatus |= MstatusTSR
	if err := h.SRET(); err == nil {
		t.Fatalf("expected SRET to trap when mstatus.TSR is set")
	}
}
