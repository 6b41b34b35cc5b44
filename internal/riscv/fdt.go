package riscv

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FDT blob structure constants (devicetree-spec "flattened format"), adapted
// from the teacher's FDTBuilder (rv64/fdt.go).
const (
	fdtMagic       = 0xd00dfeed
	fdtBeginNode   = 0x00000001
	fdtEndNode     = 0x00000002
	fdtProp        = 0x00000003
	fdtEnd         = 0x00000009
	fdtVersion     = 17
	fdtLastCompVer = 16
)

// FDTBuilder assembles a flattened device tree blob a node/property at a
// time, keeping a shared deduplicated string table.
type FDTBuilder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	stringMap map[string]uint32
}

func NewFDTBuilder() *FDTBuilder {
	return &FDTBuilder{stringMap: make(map[string]uint32)}
}

func (f *FDTBuilder) putU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	f.structure.Write(buf[:])
}

func (f *FDTBuilder) addString(s string) uint32 {
	if off, ok := f.stringMap[s]; ok {
		return off
	}
	off := uint32(f.strings.Len())
	f.strings.WriteString(s)
	f.strings.WriteByte(0)
	f.stringMap[s] = off
	return off
}

func (f *FDTBuilder) align4() {
	for f.structure.Len()%4 != 0 {
		f.structure.WriteByte(0)
	}
}

func (f *FDTBuilder) BeginNode(name string) {
	f.putU32(fdtBeginNode)
	f.structure.WriteString(name)
	f.structure.WriteByte(0)
	f.align4()
}

func (f *FDTBuilder) EndNode() { f.putU32(fdtEndNode) }

func (f *FDTBuilder) AddPropertyString(name, value string) {
	f.putU32(fdtProp)
	f.putU32(uint32(len(value) + 1))
	f.putU32(f.addString(name))
	f.structure.WriteString(value)
	f.structure.WriteByte(0)
	f.align4()
}

func (f *FDTBuilder) AddPropertyStringList(name string, values []string) {
	var buf bytes.Buffer
	for _, v := range values {
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	f.putU32(fdtProp)
	f.putU32(uint32(buf.Len()))
	f.putU32(f.addString(name))
	f.structure.Write(buf.Bytes())
	f.align4()
}

func (f *FDTBuilder) AddPropertyU32(name string, value uint32) {
	f.putU32(fdtProp)
	f.putU32(4)
	f.putU32(f.addString(name))
	f.putU32(value)
}

func (f *FDTBuilder) AddPropertyU64(name string, value uint64) {
	f.putU32(fdtProp)
	f.putU32(8)
	f.putU32(f.addString(name))
	f.putU32(uint32(value >> 32))
	f.putU32(uint32(value))
}

func (f *FDTBuilder) AddPropertyU32Array(name string, values []uint32) {
	f.putU32(fdtProp)
	f.putU32(uint32(len(values) * 4))
	f.putU32(f.addString(name))
	for _, v := range values {
		f.putU32(v)
	}
}

func (f *FDTBuilder) AddPropertyEmpty(name string) {
	f.putU32(fdtProp)
	f.putU32(0)
	f.putU32(f.addString(name))
}

func (f *FDTBuilder) Build() []byte {
	f.putU32(fdtEnd)
	for f.strings.Len()%4 != 0 {
		f.strings.WriteByte(0)
	}

	headerSize := uint32(40)
	memRsvmapOff := headerSize
	memRsvmapSize := uint32(16)
	structOff := memRsvmapOff + memRsvmapSize
	structSize := uint32(f.structure.Len())
	stringsOff := structOff + structSize
	stringsSize := uint32(f.strings.Len())
	totalSize := stringsOff + stringsSize

	var header bytes.Buffer
	hdr := func(v uint32) {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], v)
		header.Write(buf[:])
	}
	hdr(fdtMagic)
	hdr(totalSize)
	hdr(structOff)
	hdr(stringsOff)
	hdr(memRsvmapOff)
	hdr(fdtVersion)
	hdr(fdtLastCompVer)
	hdr(0) // boot_cpuid_phys
	hdr(stringsSize)
	hdr(structSize)

	var memRsvmap [16]byte
	result := make([]byte, totalSize)
	copy(result[0:], header.Bytes())
	copy(result[memRsvmapOff:], memRsvmap[:])
	copy(result[structOff:], f.structure.Bytes())
	copy(result[stringsOff:], f.strings.Bytes())
	return result
}

// isaString computes the riscv,isa property from a live misa value
// (spec.md §4.11: "ISA string computed from misa").
func isaString(misa uint64, xlen int) string {
	s := fmt.Sprintf("rv%d", xlen)
	for c := byte('a'); c <= 'z'; c++ {
		if misa&(1<<(c-'a')) != 0 {
			s += string(c)
		}
	}
	return s + "_zicsr_zifencei"
}

// FDTConfig describes everything the boot-time FDT needs to know beyond
// fixed memory-map constants.
type FDTConfig struct {
	Misa        uint64
	XLen        int
	RAMSize     uint64
	NumVirtio   int
	Cmdline     string
	KernelStart uint64
	KernelEnd   uint64
	InitrdStart uint64
	InitrdEnd   uint64
	Framebuffer bool
	FBWidth     uint32
	FBHeight    uint32
}

// BuildFDT assembles the machine's flattened device tree per spec.md §4.11:
// one cpu node, one memory node, CLINT, PLIC (interrupts-extended =
// [intc,9; intc,11]), each virtio-mmio window, chosen, and an optional
// framebuffer node.
func BuildFDT(cfg FDTConfig) []byte {
	f := NewFDTBuilder()

	f.BeginNode("")
	f.AddPropertyU32("#address-cells", 2)
	f.AddPropertyU32("#size-cells", 2)
	f.AddPropertyString("compatible", "ucbbar,riscvemu-bar_dev")
	f.AddPropertyString("model", "ucbbar,riscvemu-bar")

	f.BeginNode("chosen")
	f.AddPropertyString("bootargs", cfg.Cmdline)
	if cfg.KernelEnd > cfg.KernelStart {
		f.AddPropertyU64("riscv,kernel-start", cfg.KernelStart)
		f.AddPropertyU64("riscv,kernel-end", cfg.KernelEnd)
	}
	if cfg.InitrdEnd > cfg.InitrdStart {
		f.AddPropertyU64("linux,initrd-start", cfg.InitrdStart)
		f.AddPropertyU64("linux,initrd-end", cfg.InitrdEnd)
	}
	f.EndNode()

	f.BeginNode("cpus")
	f.AddPropertyU32("#address-cells", 1)
	f.AddPropertyU32("#size-cells", 0)
	f.AddPropertyU32("timebase-frequency", 10_000_000)

	f.BeginNode("cpu@0")
	f.AddPropertyString("device_type", "cpu")
	f.AddPropertyU32("reg", 0)
	f.AddPropertyString("status", "okay")
	f.AddPropertyString("compatible", "riscv")
	f.AddPropertyString("riscv,isa", isaString(cfg.Misa, cfg.XLen))
	f.AddPropertyString("mmu-type", mmuTypeForXLen(cfg.XLen))

	f.BeginNode("interrupt-controller")
	f.AddPropertyU32("#interrupt-cells", 1)
	f.AddPropertyEmpty("interrupt-controller")
	f.AddPropertyString("compatible", "riscv,cpu-intc")
	f.AddPropertyU32("phandle", 1)
	f.EndNode()

	f.EndNode() // cpu@0
	f.EndNode() // cpus

	f.BeginNode(fmt.Sprintf("memory@%x", RAMBase))
	f.AddPropertyString("device_type", "memory")
	f.AddPropertyU32Array("reg", u64Pair(RAMBase, cfg.RAMSize))
	f.EndNode()

	f.BeginNode("soc")
	f.AddPropertyU32("#address-cells", 2)
	f.AddPropertyU32("#size-cells", 2)
	f.AddPropertyStringList("compatible", []string{"simple-bus"})
	f.AddPropertyEmpty("ranges")

	f.BeginNode(fmt.Sprintf("clint@%x", CLINTBase))
	f.AddPropertyStringList("compatible", []string{"riscv,clint0"})
	f.AddPropertyU32Array("reg", u64Pair(CLINTBase, CLINTSize))
	f.AddPropertyU32Array("interrupts-extended", []uint32{1, 3, 1, 7})
	f.EndNode()

	f.BeginNode(fmt.Sprintf("plic@%x", PLICBase))
	f.AddPropertyString("compatible", "riscv,plic0")
	f.AddPropertyU32("#interrupt-cells", 1)
	f.AddPropertyEmpty("interrupt-controller")
	f.AddPropertyU32Array("reg", u64Pair(PLICBase, PLICSize))
	f.AddPropertyU32Array("interrupts-extended", []uint32{1, 9, 1, 11})
	f.AddPropertyU32("riscv,ndev", 31)
	f.AddPropertyU32("phandle", 2)
	f.EndNode()

	const virtioIRQBase = 1
	for i := 0; i < cfg.NumVirtio; i++ {
		base := VirtIOBase + uint64(i)*VirtIOWinSz
		f.BeginNode(fmt.Sprintf("virtio_mmio@%x", base))
		f.AddPropertyString("compatible", "virtio,mmio")
		f.AddPropertyU32Array("reg", u64Pair(base, VirtIOWinSz))
		f.AddPropertyU32("interrupt-parent", 2)
		f.AddPropertyU32("interrupts", uint32(virtioIRQBase+i))
		f.EndNode()
	}

	if cfg.Framebuffer {
		f.BeginNode(fmt.Sprintf("framebuffer@%x", FramebufferBase))
		f.AddPropertyString("compatible", "simple-framebuffer")
		f.AddPropertyU32Array("reg", u64Pair(FramebufferBase, uint64(cfg.FBWidth)*uint64(cfg.FBHeight)*4))
		f.AddPropertyU32("width", cfg.FBWidth)
		f.AddPropertyU32("height", cfg.FBHeight)
		f.AddPropertyU32("stride", cfg.FBWidth*4)
		f.AddPropertyString("format", "a8r8g8b8")
		f.EndNode()
	}

	f.EndNode() // soc
	f.EndNode() // root

	return f.Build()
}

func u64Pair(addr, size uint64) []uint32 {
	return []uint32{uint32(addr >> 32), uint32(addr), uint32(size >> 32), uint32(size)}
}

func mmuTypeForXLen(xlen int) string {
	switch xlen {
	case 32:
		return "riscv,sv32"
	case 128:
		return "riscv,sv57" // RV128 has no standardized mode; closest published scheme
	default:
		return "riscv,sv48"
	}
}
