// cpu_x86_decode.go - x86 instruction decoder
//
// Decoding is pure: bytes come from a fetch callback and the result depends
// only on those bytes and the code segment's default operand size. Operand
// accessors are bound at decode time, so executing a cached instruction never
// re-inspects its encoding.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strings"
)

// x86OperandKind classifies a decoded operand
type x86OperandKind uint8

const (
	x86OperandNone x86OperandKind = iota
	x86OperandReg
	x86OperandMem
	x86OperandImm
	x86OperandSeg
	x86OperandCtrl
	x86OperandDebug
	x86OperandRel
	x86OperandFar
)

// X86Operand is one decoded operand. Register, segment and control operands
// use Reg; memory operands describe an effective address that is evaluated
// against the live registers when the instruction executes.
type X86Operand struct {
	Kind x86OperandKind
	Size int

	Reg int
	Imm uint32 // immediate, relative displacement or far offset
	Sel uint16 // far pointer selector

	Seg      int
	Base     int8
	Index    int8
	Scale    uint8
	Disp     uint32
	AddrSize int

	read  func(c *CPU_X86, op *X86Operand) uint32
	write func(c *CPU_X86, op *X86Operand, v uint32)
}

// Read evaluates the operand
func (op *X86Operand) Read(c *CPU_X86) uint32 { return op.read(c, op) }

// Write stores v to the operand
func (op *X86Operand) Write(c *CPU_X86, v uint32) { op.write(c, op, v) }

func (op *X86Operand) IsMemory() bool { return op.Kind == x86OperandMem }

// X86Instruction is a fully decoded instruction
type X86Instruction struct {
	EIP         uint32 // offset of the first byte when decoded
	Length      int
	Bytes       [x86MaxInstructionLength]byte
	OperandSize int
	AddressSize int
	DefaultBig  bool
	Segment     int // override prefix, x86SegNone if absent
	Rep         byte
	Lock        bool
	Opcode      uint16 // 0x0Fxx for two-byte opcodes
	ModRM       byte
	HasModRM    bool
	Info        *x86OpcodeInfo
	Ops         [3]X86Operand
	NumOps      int
}

// Mnemonic returns the instruction name, adjusted for operand size
func (in *X86Instruction) Mnemonic() string {
	m := in.Info.Mnemonic
	if in.Info.sized == nil {
		return m
	}
	return in.Info.sized[in.OperandSize/4]
}

// Raw returns the encoded bytes
func (in *X86Instruction) Raw() []byte {
	return in.Bytes[:in.Length]
}

// -----------------------------------------------------------------------------
// Decoder
// -----------------------------------------------------------------------------

type x86Decoder struct {
	fetch   func(off uint32) byte
	eip     uint32
	pos     uint32
	in      *X86Instruction
	mem     X86Operand
	tooLong bool
}

// DecodeX86 decodes one instruction at eip. fetch returns the code byte at a
// code segment offset. big is the code segment's default size (D bit).
func DecodeX86(fetch func(off uint32) byte, eip uint32, big bool) (*X86Instruction, error) {
	d := x86Decoder{
		fetch: fetch,
		eip:   eip,
		in:    &X86Instruction{EIP: eip, DefaultBig: big, Segment: x86SegNone},
	}
	return d.decode(big)
}

func (d *x86Decoder) next() byte {
	if d.pos >= x86MaxInstructionLength {
		d.tooLong = true
		return 0
	}
	b := d.fetch(d.eip + d.pos)
	d.in.Bytes[d.pos] = b
	d.pos++
	return b
}

func (d *x86Decoder) imm(size int) uint32 {
	switch size {
	case 1:
		return uint32(d.next())
	case 2:
		lo := uint32(d.next())
		return lo | uint32(d.next())<<8
	}
	v := uint32(d.next())
	v |= uint32(d.next()) << 8
	v |= uint32(d.next()) << 16
	return v | uint32(d.next())<<24
}

func (d *x86Decoder) undefined() error {
	return fmt.Errorf("%w: % X at offset 0x%08X", ErrX86UndefinedOpcode, d.in.Bytes[:d.pos], d.eip)
}

func (d *x86Decoder) decode(big bool) (*X86Instruction, error) {
	in := d.in
	opsize32, addrsize32 := big, big

	var opcode byte
prefixes:
	for {
		b := d.next()
		if d.tooLong {
			return nil, fmt.Errorf("%w at offset 0x%08X", ErrX86InstructionTooLong, d.eip)
		}
		switch b {
		case 0x26:
			in.Segment = x86SegES
		case 0x2E:
			in.Segment = x86SegCS
		case 0x36:
			in.Segment = x86SegSS
		case 0x3E:
			in.Segment = x86SegDS
		case 0x64:
			in.Segment = x86SegFS
		case 0x65:
			in.Segment = x86SegGS
		case 0x66:
			opsize32 = !big
		case 0x67:
			addrsize32 = !big
		case 0xF0:
			in.Lock = true
		case 0xF2, 0xF3:
			in.Rep = b
		default:
			opcode = b
			break prefixes
		}
	}

	in.OperandSize, in.AddressSize = 2, 2
	if opsize32 {
		in.OperandSize = 4
	}
	if addrsize32 {
		in.AddressSize = 4
	}

	info := &x86OneByte[opcode]
	in.Opcode = uint16(opcode)
	if opcode == 0x0F {
		op2 := d.next()
		info = &x86TwoByte[op2]
		in.Opcode = 0x0F00 | uint16(op2)
	}

	if info.modrm {
		d.decodeModRM()
	}
	if info.Group != nil {
		info = &info.Group[(in.ModRM>>3)&7]
	}
	if info.Exec == nil {
		return nil, d.undefined()
	}
	in.Info = info

	for i, t := range info.Operands {
		if t == x86OpNone {
			break
		}
		if !d.operand(t, &in.Ops[i]) {
			return nil, d.undefined()
		}
		in.NumOps = i + 1
	}
	if d.tooLong {
		return nil, fmt.Errorf("%w at offset 0x%08X", ErrX86InstructionTooLong, d.eip)
	}
	in.Length = int(d.pos)
	return in, nil
}

// decodeModRM consumes ModR/M and, for memory forms, SIB and displacement
func (d *x86Decoder) decodeModRM() {
	in := d.in
	m := d.next()
	in.ModRM = m
	in.HasModRM = true
	mod, rm := m>>6, m&7
	if mod == 3 {
		return
	}

	op := &d.mem
	*op = X86Operand{Kind: x86OperandMem, Base: -1, Index: -1, Seg: x86SegDS, AddrSize: in.AddressSize}

	if in.AddressSize == 2 {
		switch rm {
		case 0:
			op.Base, op.Index = x86RegEBX, x86RegESI
		case 1:
			op.Base, op.Index = x86RegEBX, x86RegEDI
		case 2:
			op.Base, op.Index, op.Seg = x86RegEBP, x86RegESI, x86SegSS
		case 3:
			op.Base, op.Index, op.Seg = x86RegEBP, x86RegEDI, x86SegSS
		case 4:
			op.Base = x86RegESI
		case 5:
			op.Base = x86RegEDI
		case 6:
			if mod == 0 {
				op.Disp = d.imm(2)
			} else {
				op.Base, op.Seg = x86RegEBP, x86SegSS
			}
		case 7:
			op.Base = x86RegEBX
		}
		switch mod {
		case 1:
			op.Disp = x86SignExtend(d.imm(1), 1)
		case 2:
			op.Disp = d.imm(2)
		}
	} else {
		switch {
		case rm == 4:
			sib := d.next()
			base, index := sib&7, (sib>>3)&7
			if index != x86RegESP {
				op.Index = int8(index)
				op.Scale = sib >> 6
			}
			if base == x86RegEBP && mod == 0 {
				op.Disp = d.imm(4)
			} else {
				op.Base = int8(base)
				if base == x86RegESP || base == x86RegEBP {
					op.Seg = x86SegSS
				}
			}
		case rm == 5 && mod == 0:
			op.Disp = d.imm(4)
		default:
			op.Base = int8(rm)
			if rm == x86RegEBP {
				op.Seg = x86SegSS
			}
		}
		switch mod {
		case 1:
			op.Disp += x86SignExtend(d.imm(1), 1)
		case 2:
			op.Disp += d.imm(4)
		}
	}

	if in.Segment != x86SegNone {
		op.Seg = in.Segment
	}
}

func (d *x86Decoder) modIsRegister() bool { return d.in.ModRM>>6 == 3 }
func (d *x86Decoder) modReg() int         { return int(d.in.ModRM>>3) & 7 }
func (d *x86Decoder) modRM() int          { return int(d.in.ModRM) & 7 }

func (d *x86Decoder) setReg(op *X86Operand, idx int, size int) {
	*op = X86Operand{Kind: x86OperandReg, Reg: idx, Size: size}
	switch size {
	case 1:
		op.read, op.write = x86ReadReg8, x86WriteReg8
	case 2:
		op.read, op.write = x86ReadReg16, x86WriteReg16
	default:
		op.read, op.write = x86ReadReg32, x86WriteReg32
	}
}

func (d *x86Decoder) setMem(op *X86Operand, size int) {
	*op = d.mem
	op.Size = size
	op.read, op.write = x86ReadMem, x86WriteMem
}

func (d *x86Decoder) setImm(op *X86Operand, kind x86OperandKind, v uint32, size int) {
	*op = X86Operand{Kind: kind, Imm: v, Size: size, read: x86ReadImm, write: x86WriteReadOnly}
}

// rm binds the r/m half of ModR/M
func (d *x86Decoder) rm(op *X86Operand, size int) {
	if d.modIsRegister() {
		d.setReg(op, d.modRM(), size)
		return
	}
	d.setMem(op, size)
}

// operand binds one operand template; false means the encoding is invalid
func (d *x86Decoder) operand(t x86OperandTemplate, op *X86Operand) bool {
	in := d.in
	v := in.OperandSize

	switch t {
	case x86OpEb:
		d.rm(op, 1)
	case x86OpEw:
		d.rm(op, 2)
	case x86OpEd:
		d.rm(op, 4)
	case x86OpEv, x86OpFPU:
		d.rm(op, v)
	case x86OpEwv:
		if d.modIsRegister() {
			d.setReg(op, d.modRM(), v)
		} else {
			d.setMem(op, 2)
		}

	case x86OpM, x86OpMp, x86OpMa:
		if d.modIsRegister() {
			return false
		}
		d.setMem(op, v)
	case x86OpMs:
		if d.modIsRegister() {
			return false
		}
		d.setMem(op, 2)

	case x86OpGb:
		d.setReg(op, d.modReg(), 1)
	case x86OpGw:
		d.setReg(op, d.modReg(), 2)
	case x86OpGv:
		d.setReg(op, d.modReg(), v)

	case x86OpSw:
		if d.modReg() > x86SegGS {
			return false
		}
		*op = X86Operand{Kind: x86OperandSeg, Reg: d.modReg(), Size: 2, read: x86ReadSeg, write: x86WriteSeg}
	case x86OpCd:
		switch d.modReg() {
		case 0, 2, 3, 4:
		default:
			return false
		}
		*op = X86Operand{Kind: x86OperandCtrl, Reg: d.modReg(), Size: 4, read: x86ReadCtrl, write: x86WriteCtrl}
	case x86OpDd:
		*op = X86Operand{Kind: x86OperandDebug, Reg: d.modReg(), Size: 4, read: x86ReadDebug, write: x86WriteDebug}
	case x86OpRd:
		d.setReg(op, d.modRM(), 4)

	case x86OpIb:
		d.setImm(op, x86OperandImm, d.imm(1), 1)
	case x86OpIbs:
		d.setImm(op, x86OperandImm, x86SignExtend(d.imm(1), 1)&x86SizeMask(v), v)
	case x86OpIw:
		d.setImm(op, x86OperandImm, d.imm(2), 2)
	case x86OpIv:
		d.setImm(op, x86OperandImm, d.imm(v), v)
	case x86OpOne:
		d.setImm(op, x86OperandImm, 1, 1)

	case x86OpJb:
		d.setImm(op, x86OperandRel, x86SignExtend(d.imm(1), 1), v)
	case x86OpJv:
		d.setImm(op, x86OperandRel, x86SignExtend(d.imm(v), v), v)
	case x86OpAp:
		off := d.imm(v)
		sel := uint16(d.imm(2))
		d.setImm(op, x86OperandFar, off, v)
		op.Sel = sel

	case x86OpOb, x86OpOv:
		size := 1
		if t == x86OpOv {
			size = v
		}
		*op = X86Operand{
			Kind: x86OperandMem, Size: size, Base: -1, Index: -1,
			Seg: x86SegDS, Disp: d.imm(in.AddressSize), AddrSize: in.AddressSize,
			read: x86ReadMem, write: x86WriteMem,
		}
		if in.Segment != x86SegNone {
			op.Seg = in.Segment
		}

	case x86OpAL:
		d.setReg(op, x86RegEAX, 1)
	case x86OpCL:
		d.setReg(op, x86RegECX, 1)
	case x86OpDX:
		d.setReg(op, x86RegEDX, 2)
	case x86OpeAX:
		d.setReg(op, x86RegEAX, v)

	case x86OpZb:
		d.setReg(op, int(in.Opcode)&7, 1)
	case x86OpZv:
		d.setReg(op, int(in.Opcode)&7, v)
	case x86OpZd:
		d.setReg(op, int(in.Opcode)&7, 4)

	case x86OpES, x86OpCS, x86OpSS, x86OpDS, x86OpFS, x86OpGS:
		*op = X86Operand{Kind: x86OperandSeg, Reg: int(t - x86OpES), Size: 2, read: x86ReadSeg, write: x86WriteSeg}

	default:
		panic(x86Violation("decode", "unknown operand template %d", t))
	}
	return true
}

// -----------------------------------------------------------------------------
// Operand accessors
// -----------------------------------------------------------------------------

func x86ReadReg8(c *CPU_X86, op *X86Operand) uint32     { return c.regs.r8[op.Reg].Get() }
func x86ReadReg16(c *CPU_X86, op *X86Operand) uint32    { return c.regs.r16[op.Reg].Get() }
func x86ReadReg32(c *CPU_X86, op *X86Operand) uint32    { return c.regs.r32[op.Reg].value }
func x86WriteReg8(c *CPU_X86, op *X86Operand, v uint32)  { c.regs.r8[op.Reg].Set(v) }
func x86WriteReg16(c *CPU_X86, op *X86Operand, v uint32) { c.regs.r16[op.Reg].Set(v) }
func x86WriteReg32(c *CPU_X86, op *X86Operand, v uint32) { c.regs.r32[op.Reg].Set(v) }

func x86ReadMem(c *CPU_X86, op *X86Operand) uint32 {
	return c.readMem(op.Seg, c.effectiveAddress(op), op.Size)
}

func x86WriteMem(c *CPU_X86, op *X86Operand, v uint32) {
	c.writeMem(op.Seg, c.effectiveAddress(op), v, op.Size)
}

func x86ReadImm(c *CPU_X86, op *X86Operand) uint32 { return op.Imm }

func x86WriteReadOnly(c *CPU_X86, op *X86Operand, v uint32) {
	panic(x86Violation("operand", "write to read-only operand kind %d", op.Kind))
}

func x86ReadSeg(c *CPU_X86, op *X86Operand) uint32 { return uint32(c.sregs[op.Reg].Selector()) }
func x86WriteSeg(c *CPU_X86, op *X86Operand, v uint32) {
	c.loadSegment(op.Reg, uint16(v))
}

func x86ReadCtrl(c *CPU_X86, op *X86Operand) uint32     { return c.cr[op.Reg] }
func x86WriteCtrl(c *CPU_X86, op *X86Operand, v uint32) { c.writeCR(op.Reg, v) }

func x86ReadDebug(c *CPU_X86, op *X86Operand) uint32     { return c.dr[op.Reg] }
func x86WriteDebug(c *CPU_X86, op *X86Operand, v uint32) { c.dr[op.Reg] = v }

// effectiveAddress evaluates a memory operand's offset within its segment
func (c *CPU_X86) effectiveAddress(op *X86Operand) uint32 {
	ea := op.Disp
	if op.AddrSize == 2 {
		if op.Base >= 0 {
			ea += c.regs.r32[op.Base].value & 0xFFFF
		}
		if op.Index >= 0 {
			ea += c.regs.r32[op.Index].value & 0xFFFF
		}
		return ea & 0xFFFF
	}
	if op.Base >= 0 {
		ea += c.regs.r32[op.Base].value
	}
	if op.Index >= 0 {
		ea += c.regs.r32[op.Index].value << op.Scale
	}
	return ea
}

// describeX86Bytes renders raw bytes for diagnostics
func describeX86Bytes(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
