package riscv

import (
	"testing"
	"time"
)

func newTestHart(t *testing.T, xlen int) *Hart {
	t.Helper()
	bus := NewBus()
	bus.RegisterRAM(RAMBase, 4*1024*1024, 0)
	h := NewHart(bus, xlen)
	h.PC = RAMBase
	h.Priv = PrivMachine
	return h
}

func (h *Hart) storeInsns(insns []uint32) {
	for i, insn := range insns {
		h.Bus.PhysWriteU32(h.PC+uint64(i*4), insn)
	}
}

// encRType builds a standard R-type encoding for tests that don't go
// through the assembler-style machine.go helpers.
func encRType(opcode, rd, funct3, funct7, rs1, rs2 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encIType(opcode, rd, funct3, rs1 uint32, imm int64) uint32 {
	return (uint32(imm)&0xfff)<<20 | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

// TestAddImmediate exercises E1 from spec.md §8: a minimal program that adds
// two immediates and halts via WFI, and checks the register file.
func TestAddImmediate(t *testing.T) {
	h := newTestHart(t, 64)
	h.storeInsns([]uint32{
		encIType(opOpImm, 1, 0, 0, 5),  // addi x1, x0, 5
		encIType(opOpImm, 2, 0, 0, 37), // addi x2, x0, 37
		encRType(opOp, 3, 0, 0, 1, 2),  // add x3, x1, x2
		encIType(opSystem, 0, 0, 0, 0x105), // wfi
	})

	h.Run(10)

	if got := h.ReadReg(3); got != 42 {
		t.Fatalf("x3 = %d, want 42", got)
	}
	if !h.PowerDown {
		t.Fatalf("expected hart to be powered down after WFI")
	}
}

// TestBranchStopsBlockRun checks that a taken branch ends the current
// fetch-window block (lastWasBranch) rather than assuming linear PC advance.
func TestBranchStopsBlockRun(t *testing.T) {
	h := newTestHart(t, 64)
	// beq x0, x0, +8 ; addi x1,x0,1 (skipped) ; addi x2,x0,2 (target)
	beq := (uint32(0) << 31) | (uint32(0) << 7) | (uint32(4) << 8) | (0 << 25) | (0 << 20) | (0 << 15) | (0 << 12) | opBranch
	h.storeInsns([]uint32{
		beq,
		encIType(opOpImm, 1, 0, 0, 1),
		encIType(opOpImm, 2, 0, 0, 2),
	})

	h.Run(1)
	if h.PC != RAMBase+8 {
		t.Fatalf("PC after branch = %#x, want %#x", h.PC, RAMBase+8)
	}
	if h.ReadReg(1) != 0 {
		t.Fatalf("x1 should not have been written by the skipped instruction, got %d", h.ReadReg(1))
	}
}

// TestIllegalInstructionTraps checks that decoding an unassigned opcode
// delivers a trap to mtvec rather than panicking.
func TestIllegalInstructionTraps(t *testing.T) {
	h := newTestHart(t, 64)
	h.Mtvec = RAMBase + 0x1000
	h.storeInsns([]uint32{0x00000000}) // opcode 0: illegal

	h.Run(1)

	if h.Mcause != CauseIllegalInsn {
		t.Fatalf("mcause = %#x, want illegal-instruction", h.Mcause)
	}
	if h.PC != h.Mtvec {
		t.Fatalf("PC = %#x, want mtvec %#x", h.PC, h.Mtvec)
	}
}

// TestMisalignedAccessIsEmulated checks that an unaligned load succeeds by
// decomposing into byte accesses instead of faulting (spec.md §4.4).
func TestMisalignedAccessIsEmulated(t *testing.T) {
	h := newTestHart(t, 64)
	h.Bus.PhysWriteU32(RAMBase+0x2000, 0xdeadbeef)
	val, err := h.ReadMem(RAMBase+0x2001, 2)
	if err != nil {
		t.Fatalf("misaligned read faulted: %v", err)
	}
	want := uint64(0xdeadbeef) >> 8 // shifted by one byte
	if val != want {
		t.Fatalf("misaligned read = %#x, want %#x", val, want)
	}
}

// TestLRSCSequence exercises E4: a successful LR/SC pair followed by a
// second SC that must fail because the reservation was already consumed.
func TestLRSCSequence(t *testing.T) {
	h := newTestHart(t, 64)
	addr := RAMBase + 0x3000
	h.Bus.PhysWriteU32(uint64(addr), 0)

	h.WriteReg(10, addr) // a0 = addr
	h.WriteReg(11, 99)   // a1 = value to store

	if _, err := h.execAMO(amoLR, addr, 0, 2); err != nil {
		t.Fatalf("LR failed: %v", err)
	}
	if !h.LoadResValid {
		t.Fatalf("expected reservation to be set after LR")
	}

	result, err := h.execAMO(amoSC, addr, 99, 2)
	if err != nil {
		t.Fatalf("first SC failed: %v", err)
	}
	if result != 0 {
		t.Fatalf("first SC result = %d, want 0 (success)", result)
	}

	result, err = h.execAMO(amoSC, addr, 123, 2)
	if err != nil {
		t.Fatalf("second SC errored: %v", err)
	}
	if result != 1 {
		t.Fatalf("second SC result = %d, want 1 (failure, reservation already consumed)", result)
	}
}

// TestCSRXLenSwitch exercises E6: writing misa.MXL changes CurXLen and
// reports RestartXLen.
func TestCSRXLenSwitch(t *testing.T) {
	h := newTestHart(t, 64)
	if h.CurXLen != 64 {
		t.Fatalf("initial CurXLen = %d, want 64", h.CurXLen)
	}

	mxl32 := uint64(1) << 62
	restart, err := h.WriteCSR(csrMisa, mxl32, true)
	if err != nil {
		t.Fatalf("WriteCSR(misa): %v", err)
	}
	if restart != RestartXLen {
		t.Fatalf("restart code = %v, want RestartXLen", restart)
	}
	if h.CurXLen != 32 { // MXL=1 maps to xlen=32
		t.Fatalf("CurXLen after MXL=1 write = %d, want 32", h.CurXLen)
	}
}

// TestPageFaultDelegation exercises E2: an S-mode load against an
// un-mapped page with medeleg set delegates the page fault to S-mode.
func TestPageFaultDelegation(t *testing.T) {
	h := newTestHart(t, 64)
	h.Priv = PrivSupervisor
	h.Medeleg = 1 << CauseLoadPageFault
	h.Stvec = RAMBase + 0x500

	// Sv39 mode with a root page table at physical address 0 (unmapped:
	// reads as all-zero, so the root PTE's V bit is clear for every vaddr).
	h.Satp = SatpSv39 << 60

	_, err := h.ReadMem(0, 2)
	if err == nil {
		t.Fatalf("expected a page fault")
	}
	ee, ok := err.(ExceptionError)
	if !ok || ee.Cause != CauseLoadPageFault {
		t.Fatalf("err = %v, want LOAD_PAGE_FAULT", err)
	}

	h.DeliverTrap(ee.Cause, ee.Tval)
	if h.Priv != PrivSupervisor {
		t.Fatalf("priv after delegated trap = %d, want Supervisor", h.Priv)
	}
	if h.PC != h.Stvec {
		t.Fatalf("PC after delegated trap = %#x, want stvec %#x", h.PC, h.Stvec)
	}
	if h.Scause != CauseLoadPageFault {
		t.Fatalf("scause = %#x, want LOAD_PAGE_FAULT", h.Scause)
	}
}

// TestTimerInterrupt exercises E3: CLINT.Tick raising MTIP once mtimecmp
// has passed, and the hart taking the resulting interrupt.
func TestTimerInterrupt(t *testing.T) {
	h := newTestHart(t, 64)
	h.Mstatus |= MstatusMIE
	h.Mie |= MipMTIP
	h.Mtvec = RAMBase + 0x800

	clint := NewCLINT(h)
	clint.now = func() time.Duration { return 0 }
	clint.mtimecmp = 0 // already due

	clint.Tick()
	if h.Mip&MipMTIP == 0 {
		t.Fatalf("expected MTIP to be set after Tick with an expired mtimecmp")
	}

	cause, ok := h.PendingInterrupt()
	if !ok {
		t.Fatalf("expected a pending interrupt")
	}
	h.DeliverTrap(cause, 0)
	if h.PC != h.Mtvec {
		t.Fatalf("PC after timer trap = %#x, want mtvec %#x", h.PC, h.Mtvec)
	}
	wantCause := InterruptBit | uint64(7) // bit index of MTIP
	if h.Mcause != wantCause {
		t.Fatalf("mcause = %#x, want %#x", h.Mcause, wantCause)
	}
}
