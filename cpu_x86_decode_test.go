// cpu_x86_decode_test.go - x86 decoder tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"testing"
)

func decodeBytes(t *testing.T, big bool, code ...byte) (*X86Instruction, error) {
	t.Helper()
	fetch := func(off uint32) byte {
		if int(off) < len(code) {
			return code[off]
		}
		return 0x90
	}
	return DecodeX86(fetch, 0, big)
}

func mustDecode(t *testing.T, big bool, code ...byte) *X86Instruction {
	t.Helper()
	in, err := decodeBytes(t, big, code...)
	if err != nil {
		t.Fatalf("DecodeX86(% X): %v", code, err)
	}
	return in
}

// =============================================================================
// Operand and Address Sizes
// =============================================================================

func TestX86Decode_MovImmediate(t *testing.T) {
	in := mustDecode(t, false, 0xB8, 0x34, 0x12)
	if in.Length != 3 || in.OperandSize != 2 || in.Mnemonic() != "MOV" {
		t.Fatalf("got length %d size %d %s, want 3/2/MOV", in.Length, in.OperandSize, in.Mnemonic())
	}
	if in.Ops[0].Kind != x86OperandReg || in.Ops[0].Reg != x86RegEAX {
		t.Errorf("dst: got kind %d reg %d, want AX", in.Ops[0].Kind, in.Ops[0].Reg)
	}
	if in.Ops[1].Imm != 0x1234 {
		t.Errorf("imm: got 0x%X, want 0x1234", in.Ops[1].Imm)
	}
}

func TestX86Decode_OperandSizePrefix(t *testing.T) {
	in := mustDecode(t, false, 0x66, 0xB8, 0x78, 0x56, 0x34, 0x12)
	if in.Length != 6 || in.OperandSize != 4 || in.Ops[1].Imm != 0x12345678 {
		t.Errorf("got length %d size %d imm 0x%X", in.Length, in.OperandSize, in.Ops[1].Imm)
	}

	// the same prefix shrinks a 32-bit segment's default
	in = mustDecode(t, true, 0x66, 0xB8, 0x34, 0x12)
	if in.Length != 4 || in.OperandSize != 2 {
		t.Errorf("32-bit default: got length %d size %d, want 4/2", in.Length, in.OperandSize)
	}
}

func TestX86Decode_SizedMnemonic(t *testing.T) {
	if m := mustDecode(t, false, 0x98).Mnemonic(); m != "CBW" {
		t.Errorf("16-bit 98: got %s, want CBW", m)
	}
	if m := mustDecode(t, true, 0x98).Mnemonic(); m != "CWDE" {
		t.Errorf("32-bit 98: got %s, want CWDE", m)
	}
}

// =============================================================================
// ModR/M and SIB
// =============================================================================

func TestX86Decode_SegmentOverride(t *testing.T) {
	in := mustDecode(t, false, 0x26, 0x8B, 0x07) // MOV AX, ES:[BX]
	if in.Segment != x86SegES {
		t.Errorf("Segment: got %d, want ES", in.Segment)
	}
	m := in.Ops[1]
	if !m.IsMemory() || m.Seg != x86SegES || m.Base != x86RegEBX || m.Index != -1 {
		t.Errorf("mem: got seg %d base %d index %d", m.Seg, m.Base, m.Index)
	}
}

func TestX86Decode_BPDefaultsToStack(t *testing.T) {
	in := mustDecode(t, false, 0x8B, 0x4E, 0xFE) // MOV CX, [BP-2]
	m := in.Ops[1]
	if m.Seg != x86SegSS || m.Base != x86RegEBP || m.Disp != 0xFFFFFFFE {
		t.Errorf("mem: got seg %d base %d disp 0x%X", m.Seg, m.Base, m.Disp)
	}
}

func TestX86Decode_SIB(t *testing.T) {
	in := mustDecode(t, true, 0x8B, 0x44, 0x24, 0x08) // MOV EAX, [ESP+8]
	m := in.Ops[1]
	if in.Length != 4 {
		t.Errorf("Length: got %d, want 4", in.Length)
	}
	if m.Base != x86RegESP || m.Index != -1 || m.Seg != x86SegSS || m.Disp != 8 {
		t.Errorf("mem: got base %d index %d seg %d disp 0x%X", m.Base, m.Index, m.Seg, m.Disp)
	}

	in = mustDecode(t, true, 0x8B, 0x04, 0x8D, 0x00, 0x10, 0x00, 0x00) // MOV EAX, [ECX*4+0x1000]
	m = in.Ops[1]
	if m.Base != -1 || m.Index != x86RegECX || m.Scale != 2 || m.Disp != 0x1000 {
		t.Errorf("scaled: got base %d index %d scale %d disp 0x%X", m.Base, m.Index, m.Scale, m.Disp)
	}
}

func TestX86Decode_TwoByteOpcode(t *testing.T) {
	in := mustDecode(t, false, 0x0F, 0xA2)
	if in.Opcode != 0x0FA2 || in.Mnemonic() != "CPUID" {
		t.Errorf("got opcode 0x%04X %s, want 0x0FA2 CPUID", in.Opcode, in.Mnemonic())
	}
	if string(in.Raw()) != "\x0F\xA2" {
		t.Errorf("Raw: got % X", in.Raw())
	}
}

func TestX86Decode_RelativeTarget(t *testing.T) {
	in := mustDecode(t, false, 0x74, 0xFE) // JE $
	if in.Ops[0].Kind != x86OperandRel || in.Ops[0].Imm != 0xFFFFFFFE {
		t.Errorf("rel: got kind %d imm 0x%X", in.Ops[0].Kind, in.Ops[0].Imm)
	}
}

// =============================================================================
// Invalid Encodings
// =============================================================================

func TestX86Decode_Undefined(t *testing.T) {
	for _, tc := range []struct {
		name string
		code []byte
	}{
		{"unassigned two-byte", []byte{0x0F, 0xFF}},
		{"empty group slot", []byte{0xFF, 0xF8}},
		{"LEA with register operand", []byte{0x8D, 0xC0}},
		{"MOV to CR1", []byte{0x0F, 0x22, 0xC8}},
		{"MOV to segment 7", []byte{0x8E, 0xF8}},
	} {
		_, err := decodeBytes(t, false, tc.code...)
		if !errors.Is(err, ErrX86UndefinedOpcode) {
			t.Errorf("%s: got %v, want ErrX86UndefinedOpcode", tc.name, err)
		}
	}
}

func TestX86Decode_TooLong(t *testing.T) {
	code := make([]byte, 16)
	for i := range code {
		code[i] = 0x2E
	}
	_, err := decodeBytes(t, false, code...)
	if !errors.Is(err, ErrX86InstructionTooLong) {
		t.Errorf("got %v, want ErrX86InstructionTooLong", err)
	}

	// 14 prefixes plus a one-byte opcode is exactly the limit
	code = append(code[:14], 0x90)
	in, err := decodeBytes(t, false, code...)
	if err != nil || in.Length != x86MaxInstructionLength {
		t.Errorf("15-byte NOP: got %v, length %v", err, in)
	}
}

func TestX86Decode_DescribeBytes(t *testing.T) {
	if got := describeX86Bytes([]byte{0x0F, 0x01, 0x16}); got != "0F 01 16" {
		t.Errorf("describeX86Bytes: got %q", got)
	}
}
