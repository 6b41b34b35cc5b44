package riscv

import "time"

// CLINT register offsets within its window (spec.md §6).
const (
	clintMsip     uint64 = 0x0000
	clintMtimecmp uint64 = 0x4000
	clintMtime    uint64 = 0xbff8
)

// CLINT is the core-local interruptor: a per-hart software-interrupt
// register plus the shared mtime/mtimecmp timer pair, adapted from the
// teacher's CLINT (rv64/clint.go) to this package's device ABI.
type CLINT struct {
	hart *Hart

	msip     uint32
	mtimecmp uint64

	startTime time.Time
	nsPerTick uint64 // 100ns/tick == 10MHz virtual clock (spec.md §6)

	// now, when non-nil, overrides time.Since(startTime) for deterministic
	// tests; production code leaves this nil.
	now func() time.Duration
}

// NewCLINT creates a CLINT wired to hart, with mtimecmp initialized to the
// maximum value so no timer interrupt fires until software programs it.
func NewCLINT(hart *Hart) *CLINT {
	return &CLINT{
		hart:      hart,
		startTime: time.Now(),
		nsPerTick: 100,
		mtimecmp:  ^uint64(0),
	}
}

func (c *CLINT) elapsed() time.Duration {
	if c.now != nil {
		return c.now()
	}
	return time.Since(c.startTime)
}

// Mtime returns the current virtual mtime value.
func (c *CLINT) Mtime() uint64 {
	return uint64(c.elapsed().Nanoseconds()) / c.nsPerTick
}

// Tick recomputes MTIP from the current time; called by the machine's
// scheduler loop once per run budget slice (spec.md §6).
func (c *CLINT) Tick() {
	if c.Mtime() >= c.mtimecmp {
		c.hart.SetMip(MipMTIP)
	}
}

// RegisterOn installs the CLINT device window on bus at base. The device
// only claims native 32-bit accesses; an 8-byte load/store is decomposed
// into two 32-bit halves by the bus dispatch layer (spec.md §4.1), which is
// why Read/WriteFn below only ever see a 32-bit-aligned offset.
func (c *CLINT) RegisterOn(bus *Bus, base uint64) {
	bus.RegisterDevice(base, CLINTSize, c, clintRead, clintWrite, DevIOSize32)
}

func clintRead(opaque any, offset uint64, sizeLog2 uint) uint32 {
	c := opaque.(*CLINT)
	switch {
	case offset >= clintMsip && offset < clintMsip+4:
		return c.msip
	case offset >= clintMtimecmp && offset < clintMtimecmp+8:
		return readLoHi(c.mtimecmp, offset-clintMtimecmp)
	case offset >= clintMtime && offset < clintMtime+8:
		return readLoHi(c.Mtime(), offset-clintMtime)
	}
	return 0
}

func clintWrite(opaque any, offset uint64, sizeLog2 uint, val uint32) {
	c := opaque.(*CLINT)
	switch {
	case offset >= clintMsip && offset < clintMsip+4:
		if val&1 != 0 {
			c.msip = 1
			c.hart.SetMip(MipMSIP)
		} else {
			c.msip = 0
			c.hart.ResetMip(MipMSIP)
		}
	case offset >= clintMtimecmp && offset < clintMtimecmp+8:
		c.mtimecmp = writeLoHi(c.mtimecmp, offset-clintMtimecmp, val)
		if c.mtimecmp > c.Mtime() {
			c.hart.ResetMip(MipMTIP)
		}
	}
}

// readLoHi/writeLoHi expose a 64-bit register as two little-endian 32-bit
// halves at a base offset and base+4, the device-side half of the §4.1
// decomposition rule.
func readLoHi(reg uint64, off uint64) uint32 {
	if off == 0 {
		return uint32(reg)
	}
	return uint32(reg >> 32)
}

func writeLoHi(reg uint64, off uint64, val uint32) uint64 {
	if off == 0 {
		return (reg &^ 0xffffffff) | uint64(val)
	}
	return (reg &^ (0xffffffff << 32)) | (uint64(val) << 32)
}
