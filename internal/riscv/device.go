package riscv

// IRQSignal is the handle a controller (CLINT/PLIC) hands to a device so it
// can raise or lower one interrupt line without knowing which controller,
// or which source index, owns it (spec.md §6's "Interrupt signal ABI").
type IRQSignal struct {
	SetFn func(ctx any, irq uint32, level bool)
	Ctx   any
	IRQ   uint32
}

// SetIRQ delivers a 0/1 edge or level signal on s. PLIC sources are
// level-sensitive, matching the original semantics this is distilled from.
func SetIRQ(s IRQSignal, level bool) {
	if s.SetFn == nil {
		return
	}
	s.SetFn(s.Ctx, s.IRQ, level)
}

// NewPLICIRQSignal builds an IRQSignal bound to a specific PLIC source.
func NewPLICIRQSignal(p *PLIC, irq uint32) IRQSignal {
	return IRQSignal{
		SetFn: func(ctx any, irq uint32, level bool) { ctx.(*PLIC).SetIRQ(irq, level) },
		Ctx:   p,
		IRQ:   irq,
	}
}

// BlockDevice is the contract a storage back-end (raw image file, HTTP range
// cache, ...) must satisfy to be attached to a virtio-blk-style front end.
// Implementations of this interface are explicitly out of this module's
// scope (spec.md Non-goals: "block device back-ends... expose the
// BlockDevice contract"); only the contract itself lives here, and nothing
// in this module calls it.
type BlockDevice interface {
	// ReadSectors reads len(buf)/SectorSize sectors starting at lba into buf.
	ReadSectors(lba uint64, buf []byte) error
	// WriteSectors writes len(buf)/SectorSize sectors starting at lba.
	WriteSectors(lba uint64, buf []byte) error
	// SectorCount reports the device's capacity in SectorSize units.
	SectorCount() uint64
	// ReadOnly reports whether WriteSectors must be rejected.
	ReadOnly() bool
}

// SectorSize is the fixed block size BlockDevice implementations operate in.
const SectorSize = 512
