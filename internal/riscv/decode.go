package riscv

// Instruction field extraction for the 32-bit RVI encoding (spec.md §4.7).
// Compressed (C) instructions are expanded into one of these forms before
// reaching the dispatcher; see compressed.go.

func insnOpcode(insn uint32) uint32 { return insn & 0x7f }
func insnRd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func insnFunct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func insnRs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func insnRs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func insnRs3(insn uint32) uint32    { return (insn >> 27) & 0x1f }
func insnFunct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func insnFunct2(insn uint32) uint32 { return (insn >> 25) & 0x3 }

// immI decodes the 12-bit I-type immediate (loads, ALU-immediate, JALR).
func immI(insn uint32) int64 {
	return signExtend(uint64(insn)>>20, 12)
}

// immS decodes the S-type immediate (stores).
func immS(insn uint32) int64 {
	raw := ((insn >> 25) << 5) | ((insn >> 7) & 0x1f)
	return signExtend(uint64(raw), 12)
}

// immB decodes the B-type immediate (branches); bit 0 is always 0.
func immB(insn uint32) int64 {
	b12 := (insn >> 31) & 1
	b11 := (insn >> 7) & 1
	b10_5 := (insn >> 25) & 0x3f
	b4_1 := (insn >> 8) & 0xf
	raw := (b12 << 12) | (b11 << 11) | (b10_5 << 5) | (b4_1 << 1)
	return signExtend(uint64(raw), 13)
}

// immU decodes the U-type immediate (LUI, AUIPC): top 20 bits, low 12 zero.
func immU(insn uint32) int64 {
	return int64(int32(insn & 0xfffff000))
}

// immJ decodes the J-type immediate (JAL); bit 0 is always 0.
func immJ(insn uint32) int64 {
	b20 := (insn >> 31) & 1
	b19_12 := (insn >> 12) & 0xff
	b11 := (insn >> 20) & 1
	b10_1 := (insn >> 21) & 0x3ff
	raw := (b20 << 20) | (b19_12 << 12) | (b11 << 11) | (b10_1 << 1)
	return signExtend(uint64(raw), 21)
}

// csrNum decodes the CSR number; zimm decodes the 5-bit immediate used by
// CSRRWI/CSRRSI/CSRRCI.
func csrNum(insn uint32) uint16 { return uint16(insn >> 20) }
func zimm(insn uint32) uint64   { return uint64(insnRs1(insn)) }

// RVC opcodes live in the low 2 bits; 0b11 marks a full 32-bit instruction.
func isCompressed(lo uint16) bool { return lo&0x3 != 3 }

// Standard opcodes (bits [6:2], full 7-bit opcode has bits[1:0]==11).
const (
	opLoad     uint32 = 0x03
	opLoadFP   uint32 = 0x07
	opMiscMem  uint32 = 0x0f
	opOpImm    uint32 = 0x13
	opAuipc    uint32 = 0x17
	opOpImm32  uint32 = 0x1b
	opStore    uint32 = 0x23
	opStoreFP  uint32 = 0x27
	opAmo      uint32 = 0x2f
	opOp       uint32 = 0x33
	opLui      uint32 = 0x37
	opOp32     uint32 = 0x3b
	opMadd     uint32 = 0x43
	opMsub     uint32 = 0x47
	opNmsub    uint32 = 0x4b
	opNmadd    uint32 = 0x4f
	opOpFP     uint32 = 0x53
	opBranch   uint32 = 0x63
	opJalr     uint32 = 0x67
	opJal      uint32 = 0x6f
	opSystem   uint32 = 0x73
)
