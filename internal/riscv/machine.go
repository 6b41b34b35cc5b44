package riscv

import (
	"fmt"
	"io"
	"os"
)

// Boot shim: five instructions placed at ResetVector that load a1 with the
// FDT address and a0 with mhartid before jumping to the firmware/kernel
// entry point, matching the reference reset vector (spec.md §4.11):
//
//	auipc t0, (RAMBase - ResetVector) >> 12     ; t0 = RAMBase (kernel entry)
//	auipc a1, 0                                 ; a1 = ResetVector + 4
//	addi  a1, a1, fdtAddr - (ResetVector + 4)   ; a1 = FDT address
//	csrrs a0, mhartid, zero
//	jalr  zero, t0, 0
//
// RAMBase and ResetVector are both page-aligned, so the first auipc alone
// reaches the kernel entry point with no trailing addi needed.
const (
	regT0 = 5
	regA0 = 10
	regA1 = 11
)

func buildResetShim(entry, fdtAddr uint64) [5]uint32 {
	hi20 := func(delta uint64) uint32 { return uint32(delta >> 12) }
	lo12 := func(delta uint64) uint32 { return uint32(int32(delta<<20) >> 20) }

	auipc := func(rd uint32, imm uint32) uint32 {
		return (imm << 12) | (rd << 7) | opAuipc
	}
	addi := func(rd, rs1 uint32, imm uint32) uint32 {
		return (imm << 20) | (rs1 << 15) | (0 << 12) | (rd << 7) | opOpImm
	}
	csrrs := func(rd, csr, rs1 uint32) uint32 {
		return (csr << 20) | (rs1 << 15) | (2 << 12) | (rd << 7) | opSystem
	}
	jalr := func(rd, rs1 uint32, imm uint32) uint32 {
		return (imm << 20) | (rs1 << 15) | (0 << 12) | (rd << 7) | opJalr
	}

	entryDelta := entry - ResetVector
	fdtDelta := fdtAddr - (ResetVector + 4)

	return [5]uint32{
		auipc(regT0, hi20(entryDelta)),
		auipc(regA1, 0),
		addi(regA1, regA1, lo12(fdtDelta)),
		csrrs(regA0, 0xf14 /* mhartid */, 0),
		jalr(0, regT0, 0),
	}
}

// Machine wires a Hart, its Bus and every C1-C10 component together into a
// bootable system, mirroring the teacher's ccvm.Machine/VirtualMachine
// (internal/hv/riscv/ccvm/emu.go).
type Machine struct {
	Config MachineConfig

	Hart  *Hart
	Bus   *Bus
	CLINT *CLINT
	PLIC  *PLIC
	HTIF  *HTIF

	ram *Range

	tickInsns int64 // instructions retired between CLINT.Tick calls
}

// NewMachine allocates RAM and every device, registers them on a fresh bus,
// and resets the hart to power-on state. Loading firmware/kernel/initrd
// images and building the FDT is the caller's job via LoadImages/BuildAndPlaceFDT.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := NewBus()
	m := &Machine{Config: cfg, Bus: bus, tickInsns: 10000}

	m.ram = bus.RegisterRAM(RAMBase, cfg.RAMSize, 0)

	m.Hart = NewHart(bus, cfg.XLen)
	m.CLINT = NewCLINT(m.Hart)
	m.CLINT.RegisterOn(bus, CLINTBase)
	m.PLIC = NewPLIC(m.Hart)
	m.PLIC.RegisterOn(bus, PLICBase)
	m.HTIF = NewHTIF(os.Stdout)
	m.HTIF.RegisterOn(bus, HTIFBase)

	return m, nil
}

// LoadImages reads firmware (mandatory), kernel and initrd (both optional)
// from disk into RAM at their fixed offsets (spec.md §4.11): firmware at
// RAMBase, kernel 8MiB in (RV64/128) or 4MiB in (RV32), initrd at
// RAMSize-initrdLen rounded down to a page, leaving room below for the
// kernel's own bss growth.
//
// progress, if non-nil, is called once per image with its label and size in
// bytes and returns an io.Writer that mirrors each chunk read (the teacher's
// pattern of io.MultiWriter(dest, bar) in internal/oci/client.go); callers
// that don't want progress reporting may pass nil.
func (m *Machine) LoadImages(progress func(label string, size int64) io.Writer) (kernelStart, kernelEnd, initrdStart, initrdEnd uint64, err error) {
	fw, err := m.readImage(m.Config.Firmware, "firmware", progress)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if uint64(len(fw)) > m.Config.RAMSize {
		return 0, 0, 0, 0, fmt.Errorf("riscv: firmware image (%d bytes) exceeds RAM size (%d bytes)", len(fw), m.Config.RAMSize)
	}
	copy(m.ram.RAM, fw)

	kernelOffset := uint64(4 * 1024 * 1024)
	if m.Config.XLen >= 64 {
		kernelOffset = 8 * 1024 * 1024
	}

	if m.Config.Kernel != "" {
		data, rerr := m.readImage(m.Config.Kernel, "kernel", progress)
		if rerr != nil {
			return 0, 0, 0, 0, rerr
		}
		if kernelOffset+uint64(len(data)) > m.Config.RAMSize {
			return 0, 0, 0, 0, fmt.Errorf("riscv: kernel image does not fit in RAM")
		}
		copy(m.ram.RAM[kernelOffset:], data)
		kernelStart = RAMBase + kernelOffset
		kernelEnd = kernelStart + uint64(len(data))
	}

	if m.Config.Initrd != "" {
		data, rerr := m.readImage(m.Config.Initrd, "initrd", progress)
		if rerr != nil {
			return 0, 0, 0, 0, rerr
		}
		initrdEnd = RAMBase + m.Config.RAMSize
		initrdStart = (initrdEnd - uint64(len(data))) &^ uint64(pageSize-1)
		if initrdStart < kernelEnd {
			return 0, 0, 0, 0, fmt.Errorf("riscv: initrd overlaps kernel image")
		}
		copy(m.ram.RAM[initrdStart-RAMBase:], data)
	}

	return kernelStart, kernelEnd, initrdStart, initrdEnd, nil
}

func (m *Machine) readImage(path, label string, progress func(string, int64) io.Writer) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("riscv: reading %s: %w", label, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("riscv: stat %s: %w", label, err)
	}

	data := make([]byte, info.Size())
	var dst io.Writer = &sliceWriter{buf: data}
	if progress != nil {
		if bar := progress(label, info.Size()); bar != nil {
			dst = io.MultiWriter(dst, bar)
		}
	}
	if _, err := io.Copy(dst, f); err != nil {
		return nil, fmt.Errorf("riscv: reading %s: %w", label, err)
	}
	return data, nil
}

// sliceWriter fills a pre-sized buffer sequentially; used so readImage can
// tee the copy through a progress bar without a second full-size allocation.
type sliceWriter struct {
	buf []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	return n, nil
}

// BuildAndPlaceFDT assembles the device tree for the current configuration
// and copies it into low memory at FDTAddr, then writes the five-instruction
// reset shim at ResetVector so the hart's very first fetch lands on it.
func (m *Machine) BuildAndPlaceFDT(kernelStart, kernelEnd, initrdStart, initrdEnd uint64) error {
	fdt := BuildFDT(FDTConfig{
		Misa:        m.Hart.Misa,
		XLen:        m.Config.XLen,
		RAMSize:     m.Config.RAMSize,
		NumVirtio:   m.Config.NumVirtio,
		Cmdline:     m.Config.Cmdline,
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
		InitrdStart: initrdStart,
		InitrdEnd:   initrdEnd,
		Framebuffer: m.Config.Framebuffer != nil,
		FBWidth:     fbWidth(m.Config.Framebuffer),
		FBHeight:    fbHeight(m.Config.Framebuffer),
	})

	low := m.Bus.Lookup(FDTAddr)
	if low == nil {
		low = m.Bus.RegisterRAM(0, LowMemSize, 0)
	}
	if FDTAddr-low.Addr+uint64(len(fdt)) > low.Size {
		return fmt.Errorf("riscv: flattened device tree does not fit in low memory")
	}
	copy(low.RAM[FDTAddr-low.Addr:], fdt)

	entry := RAMBase
	shim := buildResetShim(entry, FDTAddr)
	for i, insn := range shim {
		m.Bus.PhysWriteU32(ResetVector+uint64(i*4), insn)
	}

	m.Hart.Reset()
	return nil
}

func fbWidth(fb *FramebufferConfig) uint32 {
	if fb == nil {
		return 0
	}
	return fb.Width
}

func fbHeight(fb *FramebufferConfig) uint32 {
	if fb == nil {
		return 0
	}
	return fb.Height
}

// Run drives the hart in CLINT-tick-sized slices until it exits via HTIF or
// the caller's budget runs out. A powered-down hart does not end the loop:
// its slices return at once, CLINT.Tick still runs, and a timer interrupt
// can wake it. This is the outer scheduler loop from the teacher's VirtualMachine.Step,
// generalized to call CLINT.Tick between slices instead of a fixed-rate
// host timer (spec.md §6).
func (m *Machine) Run(totalBudget int64) (exited bool, exitCode uint32) {
	for totalBudget > 0 {
		slice := m.tickInsns
		if slice > totalBudget {
			slice = totalBudget
		}

		m.Hart.Run(slice)
		totalBudget -= slice
		m.CLINT.Tick()

		if m.HTIF.Exited {
			return true, m.HTIF.ExitCode
		}
	}
	return false, 0
}

// Console returns the writer HTIF appends console bytes to, so a CLI front
// end can redirect it (e.g. to a raw terminal).
func (m *Machine) Console() io.Writer { return m.HTIF.Output }

// SetConsole rebinds the HTIF console writer.
func (m *Machine) SetConsole(w io.Writer) { m.HTIF.Output = w }
