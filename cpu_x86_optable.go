// cpu_x86_optable.go - x86 opcode maps
//
// One-byte and 0F two-byte maps indexed by opcode. Entries with a Group are
// resolved through the ModR/M reg field. An entry without a handler is an
// undefined opcode.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// x86OperandTemplate describes how an operand is encoded
type x86OperandTemplate uint8

const (
	x86OpNone x86OperandTemplate = iota

	x86OpEb  // r/m8
	x86OpEw  // r/m16
	x86OpEd  // r/m32
	x86OpEv  // r/m16/32
	x86OpEwv // register of operand size, or m16
	x86OpGb  // reg8
	x86OpGw  // reg16
	x86OpGv  // reg16/32
	x86OpM   // memory only
	x86OpMp  // memory far pointer (offset, selector)
	x86OpMs  // memory pseudo-descriptor (limit, base)
	x86OpMa  // memory pair of bounds
	x86OpFPU // x87 operand, never accessed

	x86OpIb  // imm8
	x86OpIbs // imm8 sign-extended to operand size
	x86OpIw  // imm16
	x86OpIv  // imm16/32
	x86OpOne // constant 1
	x86OpJb  // rel8
	x86OpJv  // rel16/32
	x86OpAp  // immediate far pointer
	x86OpOb  // moffs8
	x86OpOv  // moffs16/32

	x86OpSw // segment register from reg
	x86OpCd // control register from reg
	x86OpDd // debug register from reg
	x86OpRd // 32-bit register from r/m regardless of mod

	x86OpAL
	x86OpCL
	x86OpDX
	x86OpeAX
	x86OpZb // reg8 from the low opcode bits
	x86OpZv // reg16/32 from the low opcode bits
	x86OpZd // reg32 from the low opcode bits

	x86OpES
	x86OpCS
	x86OpSS
	x86OpDS
	x86OpFS
	x86OpGS
)

// x86Handler executes a decoded instruction. EIP already points past it.
type x86Handler func(c *CPU_X86, in *X86Instruction)

type x86OpcodeInfo struct {
	Mnemonic string
	Operands [3]x86OperandTemplate
	Exec     x86Handler
	Group    *[8]x86OpcodeInfo

	sized *[2]string // 16/32-bit spellings, for mnemonics that change with size
	modrm bool
}

var (
	x86OneByte [256]x86OpcodeInfo
	x86TwoByte [256]x86OpcodeInfo
)

func x86Op(mnemonic string, exec x86Handler, ops ...x86OperandTemplate) x86OpcodeInfo {
	info := x86OpcodeInfo{Mnemonic: mnemonic, Exec: exec}
	copy(info.Operands[:], ops)
	return info
}

func x86SizedOp(m16, m32 string, exec x86Handler, ops ...x86OperandTemplate) x86OpcodeInfo {
	info := x86Op(m16, exec, ops...)
	info.sized = &[2]string{m16, m32}
	return info
}

func x86Group(g *[8]x86OpcodeInfo) x86OpcodeInfo {
	return x86OpcodeInfo{Group: g, modrm: true}
}

func (info *x86OpcodeInfo) needsModRM() bool {
	for _, t := range info.Operands {
		switch t {
		case x86OpEb, x86OpEw, x86OpEd, x86OpEv, x86OpEwv, x86OpGb, x86OpGw, x86OpGv,
			x86OpM, x86OpMp, x86OpMs, x86OpMa, x86OpFPU, x86OpSw, x86OpCd, x86OpDd, x86OpRd:
			return true
		}
	}
	return false
}

// x86ALUGroup builds Grp1 (ADD..CMP) for one operand shape
func x86ALUGroup(dst, src x86OperandTemplate) *[8]x86OpcodeInfo {
	return &[8]x86OpcodeInfo{
		x86Op("ADD", (*CPU_X86).opADD, dst, src),
		x86Op("OR", (*CPU_X86).opOR, dst, src),
		x86Op("ADC", (*CPU_X86).opADC, dst, src),
		x86Op("SBB", (*CPU_X86).opSBB, dst, src),
		x86Op("AND", (*CPU_X86).opAND, dst, src),
		x86Op("SUB", (*CPU_X86).opSUB, dst, src),
		x86Op("XOR", (*CPU_X86).opXOR, dst, src),
		x86Op("CMP", (*CPU_X86).opCMP, dst, src),
	}
}

// x86ShiftGroup builds Grp2 (ROL..SAR) for one operand shape
func x86ShiftGroup(dst, count x86OperandTemplate) *[8]x86OpcodeInfo {
	return &[8]x86OpcodeInfo{
		x86Op("ROL", (*CPU_X86).opROL, dst, count),
		x86Op("ROR", (*CPU_X86).opROR, dst, count),
		x86Op("RCL", (*CPU_X86).opRCL, dst, count),
		x86Op("RCR", (*CPU_X86).opRCR, dst, count),
		x86Op("SHL", (*CPU_X86).opSHL, dst, count),
		x86Op("SHR", (*CPU_X86).opSHR, dst, count),
		x86Op("SAL", (*CPU_X86).opSHL, dst, count),
		x86Op("SAR", (*CPU_X86).opSAR, dst, count),
	}
}

// x86Grp3 builds TEST/NOT/NEG/MUL/IMUL/DIV/IDIV for byte or full-size operands
func x86Grp3(e, imm x86OperandTemplate) *[8]x86OpcodeInfo {
	return &[8]x86OpcodeInfo{
		x86Op("TEST", (*CPU_X86).opTEST, e, imm),
		x86Op("TEST", (*CPU_X86).opTEST, e, imm),
		x86Op("NOT", (*CPU_X86).opNOT, e),
		x86Op("NEG", (*CPU_X86).opNEG, e),
		x86Op("MUL", (*CPU_X86).opMUL, e),
		x86Op("IMUL", (*CPU_X86).opIMUL1, e),
		x86Op("DIV", (*CPU_X86).opDIV, e),
		x86Op("IDIV", (*CPU_X86).opIDIV, e),
	}
}

func init() {
	initX86OneByte()
	initX86TwoByte()
	for _, table := range []*[256]x86OpcodeInfo{&x86OneByte, &x86TwoByte} {
		for i := range table {
			info := &table[i]
			if info.Group == nil {
				info.modrm = info.needsModRM()
			}
		}
	}
}

func initX86OneByte() {
	t := &x86OneByte

	// ALU rows 00-3F: op Eb,Gb / Ev,Gv / Gb,Eb / Gv,Ev / AL,Ib / eAX,Iv
	alu := []struct {
		m    string
		exec x86Handler
	}{
		{"ADD", (*CPU_X86).opADD}, {"OR", (*CPU_X86).opOR},
		{"ADC", (*CPU_X86).opADC}, {"SBB", (*CPU_X86).opSBB},
		{"AND", (*CPU_X86).opAND}, {"SUB", (*CPU_X86).opSUB},
		{"XOR", (*CPU_X86).opXOR}, {"CMP", (*CPU_X86).opCMP},
	}
	for i, a := range alu {
		base := i * 8
		t[base+0] = x86Op(a.m, a.exec, x86OpEb, x86OpGb)
		t[base+1] = x86Op(a.m, a.exec, x86OpEv, x86OpGv)
		t[base+2] = x86Op(a.m, a.exec, x86OpGb, x86OpEb)
		t[base+3] = x86Op(a.m, a.exec, x86OpGv, x86OpEv)
		t[base+4] = x86Op(a.m, a.exec, x86OpAL, x86OpIb)
		t[base+5] = x86Op(a.m, a.exec, x86OpeAX, x86OpIv)
	}

	t[0x06] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpES)
	t[0x07] = x86Op("POP", (*CPU_X86).opPOP, x86OpES)
	t[0x0E] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpCS)
	t[0x16] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpSS)
	t[0x17] = x86Op("POP", (*CPU_X86).opPOP, x86OpSS)
	t[0x1E] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpDS)
	t[0x1F] = x86Op("POP", (*CPU_X86).opPOP, x86OpDS)
	t[0x27] = x86Op("DAA", (*CPU_X86).opDAA)
	t[0x2F] = x86Op("DAS", (*CPU_X86).opDAS)
	t[0x37] = x86Op("AAA", (*CPU_X86).opAAA)
	t[0x3F] = x86Op("AAS", (*CPU_X86).opAAS)

	for r := 0; r < 8; r++ {
		t[0x40+r] = x86Op("INC", (*CPU_X86).opINC, x86OpZv)
		t[0x48+r] = x86Op("DEC", (*CPU_X86).opDEC, x86OpZv)
		t[0x50+r] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpZv)
		t[0x58+r] = x86Op("POP", (*CPU_X86).opPOP, x86OpZv)
		t[0x70+r*2] = x86Op("J"+x86CondNames[r*2], (*CPU_X86).opJcc, x86OpJb)
		t[0x71+r*2] = x86Op("J"+x86CondNames[r*2+1], (*CPU_X86).opJcc, x86OpJb)
		t[0xB0+r] = x86Op("MOV", (*CPU_X86).opMOV, x86OpZb, x86OpIb)
		t[0xB8+r] = x86Op("MOV", (*CPU_X86).opMOV, x86OpZv, x86OpIv)
		// x87 escapes: decoded, then refused with #NM
		t[0xD8+r] = x86Op("ESC", (*CPU_X86).opFPU, x86OpFPU)
	}
	for r := 1; r < 8; r++ {
		t[0x90+r] = x86Op("XCHG", (*CPU_X86).opXCHG, x86OpZv, x86OpeAX)
	}

	t[0x60] = x86SizedOp("PUSHA", "PUSHAD", (*CPU_X86).opPUSHA)
	t[0x61] = x86SizedOp("POPA", "POPAD", (*CPU_X86).opPOPA)
	t[0x62] = x86Op("BOUND", (*CPU_X86).opBOUND, x86OpGv, x86OpMa)
	t[0x63] = x86Op("ARPL", (*CPU_X86).opARPL, x86OpEw, x86OpGw)
	t[0x68] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpIv)
	t[0x69] = x86Op("IMUL", (*CPU_X86).opIMUL, x86OpGv, x86OpEv, x86OpIv)
	t[0x6A] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpIbs)
	t[0x6B] = x86Op("IMUL", (*CPU_X86).opIMUL, x86OpGv, x86OpEv, x86OpIbs)
	t[0x6C] = x86Op("INSB", (*CPU_X86).opINS)
	t[0x6D] = x86SizedOp("INSW", "INSD", (*CPU_X86).opINS)
	t[0x6E] = x86Op("OUTSB", (*CPU_X86).opOUTS)
	t[0x6F] = x86SizedOp("OUTSW", "OUTSD", (*CPU_X86).opOUTS)

	t[0x80] = x86Group(x86ALUGroup(x86OpEb, x86OpIb))
	t[0x81] = x86Group(x86ALUGroup(x86OpEv, x86OpIv))
	t[0x82] = x86Group(x86ALUGroup(x86OpEb, x86OpIb))
	t[0x83] = x86Group(x86ALUGroup(x86OpEv, x86OpIbs))
	t[0x84] = x86Op("TEST", (*CPU_X86).opTEST, x86OpEb, x86OpGb)
	t[0x85] = x86Op("TEST", (*CPU_X86).opTEST, x86OpEv, x86OpGv)
	t[0x86] = x86Op("XCHG", (*CPU_X86).opXCHG, x86OpEb, x86OpGb)
	t[0x87] = x86Op("XCHG", (*CPU_X86).opXCHG, x86OpEv, x86OpGv)
	t[0x88] = x86Op("MOV", (*CPU_X86).opMOV, x86OpEb, x86OpGb)
	t[0x89] = x86Op("MOV", (*CPU_X86).opMOV, x86OpEv, x86OpGv)
	t[0x8A] = x86Op("MOV", (*CPU_X86).opMOV, x86OpGb, x86OpEb)
	t[0x8B] = x86Op("MOV", (*CPU_X86).opMOV, x86OpGv, x86OpEv)
	t[0x8C] = x86Op("MOV", (*CPU_X86).opMOV, x86OpEwv, x86OpSw)
	t[0x8D] = x86Op("LEA", (*CPU_X86).opLEA, x86OpGv, x86OpM)
	t[0x8E] = x86Op("MOV", (*CPU_X86).opMOVToSeg, x86OpSw, x86OpEw)
	t[0x8F] = x86Group(&[8]x86OpcodeInfo{0: x86Op("POP", (*CPU_X86).opPOP, x86OpEv)})

	t[0x90] = x86Op("NOP", (*CPU_X86).opNOP)
	t[0x98] = x86SizedOp("CBW", "CWDE", (*CPU_X86).opCBW)
	t[0x99] = x86SizedOp("CWD", "CDQ", (*CPU_X86).opCWD)
	t[0x9A] = x86Op("CALL", (*CPU_X86).opCALLFar, x86OpAp)
	t[0x9B] = x86Op("WAIT", (*CPU_X86).opWAIT)
	t[0x9C] = x86SizedOp("PUSHF", "PUSHFD", (*CPU_X86).opPUSHF)
	t[0x9D] = x86SizedOp("POPF", "POPFD", (*CPU_X86).opPOPF)
	t[0x9E] = x86Op("SAHF", (*CPU_X86).opSAHF)
	t[0x9F] = x86Op("LAHF", (*CPU_X86).opLAHF)

	t[0xA0] = x86Op("MOV", (*CPU_X86).opMOV, x86OpAL, x86OpOb)
	t[0xA1] = x86Op("MOV", (*CPU_X86).opMOV, x86OpeAX, x86OpOv)
	t[0xA2] = x86Op("MOV", (*CPU_X86).opMOV, x86OpOb, x86OpAL)
	t[0xA3] = x86Op("MOV", (*CPU_X86).opMOV, x86OpOv, x86OpeAX)
	t[0xA4] = x86Op("MOVSB", (*CPU_X86).opMOVS)
	t[0xA5] = x86SizedOp("MOVSW", "MOVSD", (*CPU_X86).opMOVS)
	t[0xA6] = x86Op("CMPSB", (*CPU_X86).opCMPS)
	t[0xA7] = x86SizedOp("CMPSW", "CMPSD", (*CPU_X86).opCMPS)
	t[0xA8] = x86Op("TEST", (*CPU_X86).opTEST, x86OpAL, x86OpIb)
	t[0xA9] = x86Op("TEST", (*CPU_X86).opTEST, x86OpeAX, x86OpIv)
	t[0xAA] = x86Op("STOSB", (*CPU_X86).opSTOS)
	t[0xAB] = x86SizedOp("STOSW", "STOSD", (*CPU_X86).opSTOS)
	t[0xAC] = x86Op("LODSB", (*CPU_X86).opLODS)
	t[0xAD] = x86SizedOp("LODSW", "LODSD", (*CPU_X86).opLODS)
	t[0xAE] = x86Op("SCASB", (*CPU_X86).opSCAS)
	t[0xAF] = x86SizedOp("SCASW", "SCASD", (*CPU_X86).opSCAS)

	t[0xC0] = x86Group(x86ShiftGroup(x86OpEb, x86OpIb))
	t[0xC1] = x86Group(x86ShiftGroup(x86OpEv, x86OpIb))
	t[0xC2] = x86Op("RET", (*CPU_X86).opRET, x86OpIw)
	t[0xC3] = x86Op("RET", (*CPU_X86).opRET)
	t[0xC4] = x86Op("LES", (*CPU_X86).opLES, x86OpGv, x86OpMp)
	t[0xC5] = x86Op("LDS", (*CPU_X86).opLDS, x86OpGv, x86OpMp)
	t[0xC6] = x86Group(&[8]x86OpcodeInfo{0: x86Op("MOV", (*CPU_X86).opMOV, x86OpEb, x86OpIb)})
	t[0xC7] = x86Group(&[8]x86OpcodeInfo{0: x86Op("MOV", (*CPU_X86).opMOV, x86OpEv, x86OpIv)})
	t[0xC8] = x86Op("ENTER", (*CPU_X86).opENTER, x86OpIw, x86OpIb)
	t[0xC9] = x86Op("LEAVE", (*CPU_X86).opLEAVE)
	t[0xCA] = x86Op("RETF", (*CPU_X86).opRETF, x86OpIw)
	t[0xCB] = x86Op("RETF", (*CPU_X86).opRETF)
	t[0xCC] = x86Op("INT3", (*CPU_X86).opINT3)
	t[0xCD] = x86Op("INT", (*CPU_X86).opINT, x86OpIb)
	t[0xCE] = x86Op("INTO", (*CPU_X86).opINTO)
	t[0xCF] = x86SizedOp("IRET", "IRETD", (*CPU_X86).opIRET)

	t[0xD0] = x86Group(x86ShiftGroup(x86OpEb, x86OpOne))
	t[0xD1] = x86Group(x86ShiftGroup(x86OpEv, x86OpOne))
	t[0xD2] = x86Group(x86ShiftGroup(x86OpEb, x86OpCL))
	t[0xD3] = x86Group(x86ShiftGroup(x86OpEv, x86OpCL))
	t[0xD4] = x86Op("AAM", (*CPU_X86).opAAM, x86OpIb)
	t[0xD5] = x86Op("AAD", (*CPU_X86).opAAD, x86OpIb)
	t[0xD6] = x86Op("SALC", (*CPU_X86).opSALC)
	t[0xD7] = x86Op("XLAT", (*CPU_X86).opXLAT)

	t[0xE0] = x86Op("LOOPNE", (*CPU_X86).opLOOPNE, x86OpJb)
	t[0xE1] = x86Op("LOOPE", (*CPU_X86).opLOOPE, x86OpJb)
	t[0xE2] = x86Op("LOOP", (*CPU_X86).opLOOP, x86OpJb)
	t[0xE3] = x86Op("JCXZ", (*CPU_X86).opJCXZ, x86OpJb)
	t[0xE4] = x86Op("IN", (*CPU_X86).opIN, x86OpAL, x86OpIb)
	t[0xE5] = x86Op("IN", (*CPU_X86).opIN, x86OpeAX, x86OpIb)
	t[0xE6] = x86Op("OUT", (*CPU_X86).opOUT, x86OpIb, x86OpAL)
	t[0xE7] = x86Op("OUT", (*CPU_X86).opOUT, x86OpIb, x86OpeAX)
	t[0xE8] = x86Op("CALL", (*CPU_X86).opCALL, x86OpJv)
	t[0xE9] = x86Op("JMP", (*CPU_X86).opJMP, x86OpJv)
	t[0xEA] = x86Op("JMP", (*CPU_X86).opJMPFar, x86OpAp)
	t[0xEB] = x86Op("JMP", (*CPU_X86).opJMP, x86OpJb)
	t[0xEC] = x86Op("IN", (*CPU_X86).opIN, x86OpAL, x86OpDX)
	t[0xED] = x86Op("IN", (*CPU_X86).opIN, x86OpeAX, x86OpDX)
	t[0xEE] = x86Op("OUT", (*CPU_X86).opOUT, x86OpDX, x86OpAL)
	t[0xEF] = x86Op("OUT", (*CPU_X86).opOUT, x86OpDX, x86OpeAX)

	t[0xF1] = x86Op("INT1", (*CPU_X86).opINT1)
	t[0xF4] = x86Op("HLT", (*CPU_X86).opHLT)
	t[0xF5] = x86Op("CMC", (*CPU_X86).opCMC)
	t[0xF6] = x86Group(x86Grp3(x86OpEb, x86OpIb))
	t[0xF7] = x86Group(x86Grp3(x86OpEv, x86OpIv))
	t[0xF8] = x86Op("CLC", (*CPU_X86).opCLC)
	t[0xF9] = x86Op("STC", (*CPU_X86).opSTC)
	t[0xFA] = x86Op("CLI", (*CPU_X86).opCLI)
	t[0xFB] = x86Op("STI", (*CPU_X86).opSTI)
	t[0xFC] = x86Op("CLD", (*CPU_X86).opCLD)
	t[0xFD] = x86Op("STD", (*CPU_X86).opSTD)
	t[0xFE] = x86Group(&[8]x86OpcodeInfo{
		0: x86Op("INC", (*CPU_X86).opINC, x86OpEb),
		1: x86Op("DEC", (*CPU_X86).opDEC, x86OpEb),
	})
	t[0xFF] = x86Group(&[8]x86OpcodeInfo{
		0: x86Op("INC", (*CPU_X86).opINC, x86OpEv),
		1: x86Op("DEC", (*CPU_X86).opDEC, x86OpEv),
		2: x86Op("CALL", (*CPU_X86).opCALLIndirect, x86OpEv),
		3: x86Op("CALL", (*CPU_X86).opCALLFarIndirect, x86OpMp),
		4: x86Op("JMP", (*CPU_X86).opJMPIndirect, x86OpEv),
		5: x86Op("JMP", (*CPU_X86).opJMPFarIndirect, x86OpMp),
		6: x86Op("PUSH", (*CPU_X86).opPUSH, x86OpEv),
	})
}

func initX86TwoByte() {
	t := &x86TwoByte

	t[0x00] = x86Group(&[8]x86OpcodeInfo{
		0: x86Op("SLDT", (*CPU_X86).opSLDT, x86OpEwv),
		1: x86Op("STR", (*CPU_X86).opSTR, x86OpEwv),
		2: x86Op("LLDT", (*CPU_X86).opLLDT, x86OpEw),
		3: x86Op("LTR", (*CPU_X86).opLTR, x86OpEw),
		4: x86Op("VERR", (*CPU_X86).opVERR, x86OpEw),
		5: x86Op("VERW", (*CPU_X86).opVERW, x86OpEw),
	})
	t[0x01] = x86Group(&[8]x86OpcodeInfo{
		0: x86Op("SGDT", (*CPU_X86).opSGDT, x86OpMs),
		1: x86Op("SIDT", (*CPU_X86).opSIDT, x86OpMs),
		2: x86Op("LGDT", (*CPU_X86).opLGDT, x86OpMs),
		3: x86Op("LIDT", (*CPU_X86).opLIDT, x86OpMs),
		4: x86Op("SMSW", (*CPU_X86).opSMSW, x86OpEwv),
		6: x86Op("LMSW", (*CPU_X86).opLMSW, x86OpEw),
		7: x86Op("INVLPG", (*CPU_X86).opINVLPG, x86OpM),
	})
	t[0x02] = x86Op("LAR", (*CPU_X86).opLAR, x86OpGv, x86OpEw)
	t[0x03] = x86Op("LSL", (*CPU_X86).opLSL, x86OpGv, x86OpEw)
	t[0x06] = x86Op("CLTS", (*CPU_X86).opCLTS)
	t[0x08] = x86Op("INVD", (*CPU_X86).opCacheControl)
	t[0x09] = x86Op("WBINVD", (*CPU_X86).opCacheControl)
	t[0x0B] = x86Op("UD2", (*CPU_X86).opUD)
	t[0x1F] = x86Op("NOP", (*CPU_X86).opNOP, x86OpEv)
	t[0x20] = x86Op("MOV", (*CPU_X86).opMOVControl, x86OpRd, x86OpCd)
	t[0x21] = x86Op("MOV", (*CPU_X86).opMOVControl, x86OpRd, x86OpDd)
	t[0x22] = x86Op("MOV", (*CPU_X86).opMOVControl, x86OpCd, x86OpRd)
	t[0x23] = x86Op("MOV", (*CPU_X86).opMOVControl, x86OpDd, x86OpRd)
	t[0x31] = x86Op("RDTSC", (*CPU_X86).opRDTSC)

	for cc := 0; cc < 16; cc++ {
		t[0x80+cc] = x86Op("J"+x86CondNames[cc], (*CPU_X86).opJcc, x86OpJv)
		t[0x90+cc] = x86Op("SET"+x86CondNames[cc], (*CPU_X86).opSETcc, x86OpEb)
	}

	t[0xA0] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpFS)
	t[0xA1] = x86Op("POP", (*CPU_X86).opPOP, x86OpFS)
	t[0xA2] = x86Op("CPUID", (*CPU_X86).opCPUID)
	t[0xA3] = x86Op("BT", (*CPU_X86).opBT, x86OpEv, x86OpGv)
	t[0xA4] = x86Op("SHLD", (*CPU_X86).opSHLD, x86OpEv, x86OpGv, x86OpIb)
	t[0xA5] = x86Op("SHLD", (*CPU_X86).opSHLD, x86OpEv, x86OpGv, x86OpCL)
	t[0xA8] = x86Op("PUSH", (*CPU_X86).opPUSH, x86OpGS)
	t[0xA9] = x86Op("POP", (*CPU_X86).opPOP, x86OpGS)
	t[0xAB] = x86Op("BTS", (*CPU_X86).opBTS, x86OpEv, x86OpGv)
	t[0xAC] = x86Op("SHRD", (*CPU_X86).opSHRD, x86OpEv, x86OpGv, x86OpIb)
	t[0xAD] = x86Op("SHRD", (*CPU_X86).opSHRD, x86OpEv, x86OpGv, x86OpCL)
	t[0xAF] = x86Op("IMUL", (*CPU_X86).opIMUL, x86OpGv, x86OpEv)
	t[0xB0] = x86Op("CMPXCHG", (*CPU_X86).opCMPXCHG, x86OpEb, x86OpGb)
	t[0xB1] = x86Op("CMPXCHG", (*CPU_X86).opCMPXCHG, x86OpEv, x86OpGv)
	t[0xB2] = x86Op("LSS", (*CPU_X86).opLSS, x86OpGv, x86OpMp)
	t[0xB3] = x86Op("BTR", (*CPU_X86).opBTR, x86OpEv, x86OpGv)
	t[0xB4] = x86Op("LFS", (*CPU_X86).opLFS, x86OpGv, x86OpMp)
	t[0xB5] = x86Op("LGS", (*CPU_X86).opLGS, x86OpGv, x86OpMp)
	t[0xB6] = x86Op("MOVZX", (*CPU_X86).opMOVZX, x86OpGv, x86OpEb)
	t[0xB7] = x86Op("MOVZX", (*CPU_X86).opMOVZX, x86OpGv, x86OpEw)
	t[0xBA] = x86Group(&[8]x86OpcodeInfo{
		4: x86Op("BT", (*CPU_X86).opBT, x86OpEv, x86OpIb),
		5: x86Op("BTS", (*CPU_X86).opBTS, x86OpEv, x86OpIb),
		6: x86Op("BTR", (*CPU_X86).opBTR, x86OpEv, x86OpIb),
		7: x86Op("BTC", (*CPU_X86).opBTC, x86OpEv, x86OpIb),
	})
	t[0xBB] = x86Op("BTC", (*CPU_X86).opBTC, x86OpEv, x86OpGv)
	t[0xBC] = x86Op("BSF", (*CPU_X86).opBSF, x86OpGv, x86OpEv)
	t[0xBD] = x86Op("BSR", (*CPU_X86).opBSR, x86OpGv, x86OpEv)
	t[0xBE] = x86Op("MOVSX", (*CPU_X86).opMOVSX, x86OpGv, x86OpEb)
	t[0xBF] = x86Op("MOVSX", (*CPU_X86).opMOVSX, x86OpGv, x86OpEw)
	t[0xC0] = x86Op("XADD", (*CPU_X86).opXADD, x86OpEb, x86OpGb)
	t[0xC1] = x86Op("XADD", (*CPU_X86).opXADD, x86OpEv, x86OpGv)
	for r := 0; r < 8; r++ {
		t[0xC8+r] = x86Op("BSWAP", (*CPU_X86).opBSWAP, x86OpZd)
	}
}

// Condition code suffixes in encoding order
var x86CondNames = [16]string{"O", "NO", "B", "AE", "E", "NE", "BE", "A", "S", "NS", "P", "NP", "L", "GE", "LE", "G"}
