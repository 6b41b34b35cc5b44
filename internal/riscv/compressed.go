package riscv

// expandCompressed translates a 16-bit RVC instruction into the 32-bit
// instruction word it is defined to be equivalent to (spec.md §4.7, "C
// extension decode"), so the rest of the interpreter only ever dispatches
// on the full RVI encoding. ok is false for a reserved/illegal encoding,
// which the caller turns into an illegal-instruction trap.
func expandCompressed(c uint16, xlen int) (insn32 uint32, ok bool) {
	quadrant := uint32(c & 0x3)
	funct3 := uint32((c >> 13) & 0x7)

	rdRs1p := uint32((c>>7)&0x7) + 8
	rs2p := uint32((c>>2)&0x7) + 8
	rdRs1 := uint32((c >> 7) & 0x1f)
	rs2 := uint32((c >> 2) & 0x1f)

	switch quadrant {
	case 0:
		switch funct3 {
		case 0: // C.ADDI4SPN: rd' = x2 + nzuimm
			nzuimm := cAddi4spnImm(c)
			if nzuimm == 0 {
				return 0, false
			}
			return encodeI(opOpImm, 2, 0, rs2p, nzuimm), true
		case 1: // C.FLD
			imm := cLDImm(c)
			return encodeI(opLoadFP, rdRs1p, 3, rs2p, imm), true
		case 2: // C.LW
			imm := cLWImm(c)
			return encodeI(opLoad, rdRs1p, 2, rs2p, imm), true
		case 3: // RV32: C.FLW ; RV64/128: C.LD
			if xlen == 32 {
				imm := cLWImm(c)
				return encodeI(opLoadFP, rdRs1p, 2, rs2p, imm), true
			}
			imm := cLDImm(c)
			return encodeI(opLoad, rdRs1p, 3, rs2p, imm), true
		case 5: // C.FSD
			imm := cSDImm(c)
			return encodeS(opStoreFP, rs2p, 3, rdRs1p, imm), true
		case 6: // C.SW
			imm := cSWImm(c)
			return encodeS(opStore, rs2p, 2, rdRs1p, imm), true
		case 7: // RV32: C.FSW ; RV64: C.SD
			if xlen == 32 {
				imm := cSWImm(c)
				return encodeS(opStoreFP, rs2p, 2, rdRs1p, imm), true
			}
			imm := cSDImm(c)
			return encodeS(opStore, rs2p, 3, rdRs1p, imm), true
		}
		return 0, false

	case 1:
		switch funct3 {
		case 0: // C.NOP / C.ADDI: rd = rd + imm
			imm := cImm6(c)
			return encodeI(opOpImm, rdRs1, 0, rdRs1, uint32(imm)), true
		case 1: // RV32: C.JAL ; RV64/128: C.ADDIW
			if xlen == 32 {
				imm := cJImm(c)
				return encodeJ(opJal, 1, uint32(imm)), true
			}
			if rdRs1 == 0 {
				return 0, false
			}
			imm := cImm6(c)
			return encodeI(opOpImm32, rdRs1, 0, rdRs1, uint32(imm)), true
		case 2: // C.LI: rd = imm
			imm := cImm6(c)
			return encodeI(opOpImm, 0, 0, rdRs1, uint32(imm)), true
		case 3:
			if rdRs1 == 2 { // C.ADDI16SP: x2 = x2 + imm
				imm := cAddi16spImm(c)
				if imm == 0 {
					return 0, false
				}
				return encodeI(opOpImm, 2, 0, 2, uint32(imm)), true
			}
			// C.LUI: rd = imm (reserved if rd==0 or imm==0)
			imm := cLuiImm(c)
			if imm == 0 || rdRs1 == 0 {
				return 0, false
			}
			return imm | (rdRs1 << 7) | opLui, true
		case 4:
			funct2 := (c >> 10) & 0x3
			switch funct2 {
			case 0: // C.SRLI
				shamt := cShamt(c)
				return encodeI(opOpImm, rdRs1p, 5, rdRs1p, shamt), true
			case 1: // C.SRAI
				shamt := cShamt(c)
				return encodeI(opOpImm, rdRs1p, 5, rdRs1p, shamt|(0x20<<5)), true
			case 2: // C.ANDI
				imm := cImm6(c)
				return encodeI(opOpImm, rdRs1p, 7, rdRs1p, uint32(imm)), true
			case 3:
				funct6b := (c >> 5) & 0x3
				wide := c&0x1000 != 0
				switch {
				case !wide && funct6b == 0: // C.SUB
					return encodeR(opOp, rdRs1p, 0, 0x20, rdRs1p, rs2p), true
				case !wide && funct6b == 1: // C.XOR
					return encodeR(opOp, rdRs1p, 4, 0, rdRs1p, rs2p), true
				case !wide && funct6b == 2: // C.OR
					return encodeR(opOp, rdRs1p, 6, 0, rdRs1p, rs2p), true
				case !wide && funct6b == 3: // C.AND
					return encodeR(opOp, rdRs1p, 7, 0, rdRs1p, rs2p), true
				case wide && funct6b == 0: // C.SUBW
					return encodeR(opOp32, rdRs1p, 0, 0x20, rdRs1p, rs2p), true
				case wide && funct6b == 1: // C.ADDW
					return encodeR(opOp32, rdRs1p, 0, 0, rdRs1p, rs2p), true
				}
			}
			return 0, false
		case 5: // C.J
			imm := cJImm(c)
			return encodeJ(opJal, 0, uint32(imm)), true
		case 6: // C.BEQZ
			imm := cBImm(c)
			return encodeB(opBranch, rdRs1p, 0, 0, uint32(imm)), true
		case 7: // C.BNEZ
			imm := cBImm(c)
			return encodeB(opBranch, rdRs1p, 0, 1, uint32(imm)), true
		}
		return 0, false

	case 2:
		switch funct3 {
		case 0: // C.SLLI
			shamt := cShamt(c)
			return encodeI(opOpImm, rdRs1, 1, rdRs1, shamt), true
		case 1: // C.FLDSP
			imm := cLdspImm(c)
			return encodeI(opLoadFP, 2, 3, rdRs1, imm), true
		case 2: // C.LWSP
			if rdRs1 == 0 {
				return 0, false
			}
			imm := cLwspImm(c)
			return encodeI(opLoad, 2, 2, rdRs1, imm), true
		case 3: // RV32: C.FLWSP ; RV64: C.LDSP
			if xlen == 32 {
				imm := cLwspImm(c)
				return encodeI(opLoadFP, 2, 2, rdRs1, imm), true
			}
			if rdRs1 == 0 {
				return 0, false
			}
			imm := cLdspImm(c)
			return encodeI(opLoad, 2, 3, rdRs1, imm), true
		case 4:
			bit12 := c&0x1000 != 0
			switch {
			case !bit12 && rs2 == 0: // C.JR
				if rdRs1 == 0 {
					return 0, false
				}
				return encodeI(opJalr, rdRs1, 0, 0, 0), true
			case !bit12: // C.MV: rd = rs2
				return encodeR(opOp, rdRs1, 0, 0, 0, rs2), true
			case bit12 && rdRs1 == 0 && rs2 == 0: // C.EBREAK
				return 0x00100073, true
			case bit12 && rs2 == 0: // C.JALR
				return encodeI(opJalr, rdRs1, 0, 1, 0), true
			default: // C.ADD: rd = rd + rs2
				return encodeR(opOp, rdRs1, 0, 0, rdRs1, rs2), true
			}
		case 5: // C.FSDSP
			imm := cSdspImm(c)
			return encodeS(opStoreFP, rs2, 3, 2, imm), true
		case 6: // C.SWSP
			imm := cSwspImm(c)
			return encodeS(opStore, rs2, 2, 2, imm), true
		case 7: // RV32: C.FSWSP ; RV64: C.SDSP
			if xlen == 32 {
				imm := cSwspImm(c)
				return encodeS(opStoreFP, rs2, 2, 2, imm), true
			}
			imm := cSdspImm(c)
			return encodeS(opStore, rs2, 3, 2, imm), true
		}
		return 0, false
	}
	return 0, false
}

// The encode* helpers rebuild a standard 32-bit RVI instruction word from
// its fields (argument order mirrors the field's position in the word, low
// to high), so the rest of the interpreter handles both native and
// RVC-expanded instructions uniformly.

// encodeR: opcode | rd | funct3 | rs1 | rs2 | funct7
func encodeR(opcode, rd, funct3, funct7, rs1, rs2 uint32) uint32 {
	return opcode | (rd << 7) | (funct3 << 12) | (rs1 << 15) | (rs2 << 20) | (funct7 << 25)
}

// encodeI: opcode | rd | funct3 | rs1 | imm[11:0]
func encodeI(opcode, rs1, funct3, rd, imm uint32) uint32 {
	return opcode | (rd << 7) | (funct3 << 12) | (rs1 << 15) | ((imm & 0xfff) << 20)
}

// encodeS: opcode | imm[4:0] | funct3 | rs1 | rs2 | imm[11:5]
func encodeS(opcode, rs2, funct3, rs1, imm uint32) uint32 {
	lo := imm & 0x1f
	hi := (imm >> 5) & 0x7f
	return opcode | (lo << 7) | (funct3 << 12) | (rs1 << 15) | (rs2 << 20) | (hi << 25)
}

// encodeB: opcode | imm[11]+imm[4:1] | funct3 | rs1 | rs2 | imm[10:5]+imm[12]
func encodeB(opcode, rs1, rs2, funct3, imm uint32) uint32 {
	b11 := (imm >> 11) & 1
	b4_1 := (imm >> 1) & 0xf
	b10_5 := (imm >> 5) & 0x3f
	b12 := (imm >> 12) & 1
	return opcode | (b11 << 7) | (b4_1 << 8) | (funct3 << 12) | (rs1 << 15) | (rs2 << 20) | (b10_5 << 25) | (b12 << 31)
}

// encodeJ: opcode | rd | imm[19:12]+imm[11]+imm[10:1]+imm[20]
func encodeJ(opcode, rd, imm uint32) uint32 {
	b19_12 := (imm >> 12) & 0xff
	b11 := (imm >> 11) & 1
	b10_1 := (imm >> 1) & 0x3ff
	b20 := (imm >> 20) & 1
	return opcode | (rd << 7) | (b19_12 << 12) | (b11 << 20) | (b10_1 << 21) | (b20 << 31)
}

func cImm6(c uint16) int64 {
	raw := ((c >> 7) & 0x20) | ((c >> 2) & 0x1f)
	return signExtend(uint64(raw), 6)
}

// cAddi4spnImm decodes C.ADDI4SPN's zero-extended offset:
// nzuimm[5:4]=c[12:11], nzuimm[9:6]=c[10:7], nzuimm[2]=c[6], nzuimm[3]=c[5].
func cAddi4spnImm(c uint16) uint32 {
	b5_4 := (c >> 11) & 0x3
	b9_6 := (c >> 7) & 0xf
	b2 := (c >> 6) & 0x1
	b3 := (c >> 5) & 0x1
	return (uint32(b9_6) << 6) | (uint32(b5_4) << 4) | (uint32(b3) << 3) | (uint32(b2) << 2)
}

// cLWImm decodes the C.LW/C.SW/C.FLW/C.FSW offset: imm[5:3]=c[12:10],
// imm[2]=c[6], imm[6]=c[5].
func cLWImm(c uint16) uint32 {
	return (uint32((c>>10)&0x7) << 3) | (uint32((c>>6)&0x1) << 2) | (uint32((c>>5)&0x1) << 6)
}

// cLDImm decodes the C.LD/C.SD/C.FLD/C.FSD offset: imm[5:3]=c[12:10],
// imm[7:6]=c[6:5].
func cLDImm(c uint16) uint32 {
	return (uint32((c>>10)&0x7) << 3) | (uint32((c>>5)&0x3) << 6)
}

func cSWImm(c uint16) uint32 { return cLWImm(c) }
func cSDImm(c uint16) uint32 { return cLDImm(c) }

func cJImm(c uint16) int64 {
	b11 := (c >> 12) & 1
	b4 := (c >> 11) & 1
	b9_8 := (c >> 9) & 0x3
	b10 := (c >> 8) & 1
	b6 := (c >> 7) & 1
	b7 := (c >> 6) & 1
	b3_1 := (c >> 3) & 0x7
	b5 := (c >> 2) & 1
	raw := (uint32(b11) << 11) | (uint32(b4) << 4) | (uint32(b9_8) << 8) |
		(uint32(b10) << 10) | (uint32(b6) << 6) | (uint32(b7) << 7) |
		(uint32(b3_1) << 1) | (uint32(b5) << 5)
	return signExtend(uint64(raw), 12)
}

func cBImm(c uint16) int64 {
	b8 := (c >> 12) & 1
	b4_3 := (c >> 10) & 0x3
	b7_6 := (c >> 5) & 0x3
	b2_1 := (c >> 3) & 0x3
	b5 := (c >> 2) & 1
	raw := (uint32(b8) << 8) | (uint32(b4_3) << 3) | (uint32(b7_6) << 6) |
		(uint32(b2_1) << 1) | (uint32(b5) << 5)
	return signExtend(uint64(raw), 9)
}

func cLuiImm(c uint16) uint32 {
	b17 := (c >> 12) & 1
	b16_12 := (c >> 2) & 0x1f
	raw := (uint32(b17) << 17) | (uint32(b16_12) << 12)
	return uint32(signExtend(uint64(raw), 18)) & 0xfffff000
}

func cAddi16spImm(c uint16) int64 {
	b9 := (c >> 12) & 1
	b4 := (c >> 6) & 1
	b6 := (c >> 5) & 1
	b8_7 := (c >> 3) & 0x3
	b5 := (c >> 2) & 1
	raw := (uint32(b9) << 9) | (uint32(b4) << 4) | (uint32(b6) << 6) |
		(uint32(b8_7) << 7) | (uint32(b5) << 5)
	return signExtend(uint64(raw), 10)
}

func cShamt(c uint16) uint32 {
	return (uint32((c>>12)&0x1) << 5) | uint32((c>>2)&0x1f)
}

func cLwspImm(c uint16) uint32 {
	b5 := (c >> 12) & 1
	b4_2 := (c >> 4) & 0x7
	b7_6 := (c >> 2) & 0x3
	return (uint32(b5) << 5) | (uint32(b4_2) << 2) | (uint32(b7_6) << 6)
}

func cLdspImm(c uint16) uint32 {
	b5 := (c >> 12) & 1
	b4_3 := (c >> 5) & 0x3
	b8_6 := (c >> 2) & 0x7
	return (uint32(b5) << 5) | (uint32(b4_3) << 3) | (uint32(b8_6) << 6)
}

func cSwspImm(c uint16) uint32 {
	b5_2 := (c >> 9) & 0xf
	b7_6 := (c >> 7) & 0x3
	return (uint32(b5_2) << 2) | (uint32(b7_6) << 6)
}

func cSdspImm(c uint16) uint32 {
	b5_3 := (c >> 10) & 0x7
	b8_6 := (c >> 7) & 0x7
	return (uint32(b5_3) << 3) | (uint32(b8_6) << 6)
}
