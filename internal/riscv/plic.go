package riscv

// PLIC claim-register offset within its window (spec.md §4.10).
const plicClaimOffset uint64 = 0x200004

// PLIC is the deliberately simplified controller spec.md §4.10 calls for:
// a single context, no priority levels, 31 external sources. This departs
// from the teacher's elaborate multi-context, prioritized PLIC (rv64/plic.go)
// by design — see DESIGN.md.
type PLIC struct {
	hart    *Hart
	pending uint32 // bit i set: source i (1..31) has an unserved signal
	served  uint32 // bit i set: source i has been claimed and not yet completed
}

// NewPLIC creates a PLIC wired to raise MEIP/SEIP on hart.
func NewPLIC(hart *Hart) *PLIC {
	return &PLIC{hart: hart}
}

// RegisterOn installs the PLIC device window on bus at base.
func (p *PLIC) RegisterOn(bus *Bus, base uint64) {
	bus.RegisterDevice(base, PLICSize, p, plicRead, plicWrite, DevIOSize32)
}

// SetIRQ raises or lowers external source irq (1..31), matching an
// edge/level source's IRQSignal callback (spec.md §6).
func (p *PLIC) SetIRQ(irq uint32, level bool) {
	if irq == 0 || irq > 31 {
		return
	}
	bit := uint32(1) << irq
	if level {
		p.pending |= bit
	} else {
		p.pending &^= bit
	}
	p.updateMEIP()
}

func (p *PLIC) updateMEIP() {
	if p.pending&^p.served != 0 {
		p.hart.SetMip(MipMEIP | MipSEIP)
	} else {
		p.hart.ResetMip(MipMEIP | MipSEIP)
	}
}

func plicRead(opaque any, offset uint64, sizeLog2 uint) uint32 {
	p := opaque.(*PLIC)
	if offset != plicClaimOffset {
		return 0
	}
	unserved := p.pending &^ p.served
	if unserved == 0 {
		return 0
	}
	for irq := uint32(1); irq <= 31; irq++ {
		if unserved&(1<<irq) != 0 {
			p.served |= 1 << irq
			p.updateMEIP()
			return irq
		}
	}
	return 0
}

func plicWrite(opaque any, offset uint64, sizeLog2 uint, val uint32) {
	p := opaque.(*PLIC)
	if offset != plicClaimOffset {
		return
	}
	irq := val
	if irq == 0 || irq > 31 {
		return
	}
	p.served &^= 1 << irq
	p.updateMEIP()
}
