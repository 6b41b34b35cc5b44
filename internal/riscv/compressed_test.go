package riscv

import "testing"

// Each case hand-encodes a 16-bit RVC word (by inverting the field layout
// expandCompressed decodes) and checks the 32-bit RVI word it expands to,
// per spec.md §4.7's "C extension decode" requirement that RVC instructions
// are equivalent to a specific full-width encoding.
func TestExpandCompressed(t *testing.T) {
	cases := []struct {
		name  string
		c     uint16
		xlen  int
		want  uint32
		wantOK bool
	}{
		{
			name:   "C.ADDI x5,x5,3",
			c:      0x28D,
			xlen:   64,
			want:   encodeI(opOpImm, 5, 0, 5, 3),
			wantOK: true,
		},
		{
			name:   "C.LI x6,5",
			c:      0x4315,
			xlen:   64,
			want:   encodeI(opOpImm, 0, 0, 6, 5),
			wantOK: true,
		},
		{
			name:   "C.J +2",
			c:      0xA009,
			xlen:   64,
			want:   encodeJ(opJal, 0, 2),
			wantOK: true,
		},
		{
			name:   "C.LW x10,4(x9)",
			c:      0x40C8,
			xlen:   64,
			want:   encodeI(opLoad, 9, 2, 10, 4),
			wantOK: true,
		},
		{
			name:   "C.BEQZ x8,+0",
			c:      0xC001,
			xlen:   64,
			want:   encodeB(opBranch, 8, 0, 0, 0),
			wantOK: true,
		},
		{
			name:   "C.MV x11,x12",
			c:      0x85B2,
			xlen:   64,
			want:   encodeR(opOp, 11, 0, 0, 0, 12),
			wantOK: true,
		},
		{
			name:   "reserved all-zero word (C.ADDI4SPN, nzuimm=0)",
			c:      0x0000,
			xlen:   64,
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := expandCompressed(tc.c, tc.xlen)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if got != tc.want {
				t.Fatalf("expandCompressed(%#04x) = %#010x, want %#010x", tc.c, got, tc.want)
			}
		})
	}
}

// TestCJALRvsCJR checks the bit-12 disambiguation between C.JR (rd=x0, no
// link) and C.JALR (rd=x1, links ra) sharing the same quadrant/funct3.
func TestCJALRvsCJR(t *testing.T) {
	// C.JR x9: quadrant2, funct3=4, bit12=0, rs2=0, rdRs1=9.
	cjr := uint16(2) | (uint16(9) << 7) | (4 << 13)
	insn, ok := expandCompressed(cjr, 64)
	if !ok {
		t.Fatalf("C.JR decoded as reserved")
	}
	if want := encodeI(opJalr, 9, 0, 0, 0); insn != want {
		t.Fatalf("C.JR -> %#010x, want %#010x", insn, want)
	}

	// C.JALR x9: same fields plus bit12 set.
	cjalr := cjr | 0x1000
	insn, ok = expandCompressed(cjalr, 64)
	if !ok {
		t.Fatalf("C.JALR decoded as reserved")
	}
	if want := encodeI(opJalr, 9, 0, 1, 0); insn != want {
		t.Fatalf("C.JALR -> %#010x, want %#010x", insn, want)
	}
}

// TestCLDvsCFLW checks the RV32/RV64 quadrant-0 funct3=3 split: C.FLW on
// RV32 vs C.LD on RV64.
func TestCLDvsCFLW(t *testing.T) {
	// rs1'=x9 (field 1), rd'=x10 (field 2), imm=4 via cLWImm-style bit6.
	c := uint16(0) | (uint16(2) << 2) | (1 << 6) | (uint16(1) << 7) | (3 << 13)

	insn64, ok := expandCompressed(c, 64)
	if !ok {
		t.Fatalf("decode failed on rv64")
	}
	if want := encodeI(opLoad, 9, 3, 10, cLDImm(c)); insn64 != want {
		t.Fatalf("rv64 C.LD -> %#010x, want %#010x", insn64, want)
	}

	insn32, ok := expandCompressed(c, 32)
	if !ok {
		t.Fatalf("decode failed on rv32")
	}
	if want := encodeI(opLoadFP, 9, 2, 10, cLWImm(c)); insn32 != want {
		t.Fatalf("rv32 C.FLW -> %#010x, want %#010x", insn32, want)
	}
}
