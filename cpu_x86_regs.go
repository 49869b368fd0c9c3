// cpu_x86_regs.go - x86 register file (registers and aliased sub-registers)
//
// Registers own their storage. Sub-registers (AX, AL, AH, IP, ...) own none:
// they are a shift+mask window onto a master register, so every view of the
// same storage always agrees.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strings"
)

// X86Reg is the common view of a register or a sub-register alias
type X86Reg interface {
	Name() string
	Size() int
	Get() uint32
	Set(v uint32)
}

// General register ordinals, in ModR/M encoding order
const (
	x86RegEAX = iota
	x86RegECX
	x86RegEDX
	x86RegEBX
	x86RegESP
	x86RegEBP
	x86RegESI
	x86RegEDI
)

var x86Reg32Names = [8]string{"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI"}
var x86Reg16Names = [8]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
var x86Reg8Names = [8]string{"AL", "CL", "DL", "BL", "AH", "CH", "DH", "BH"}

// x86SizeMask returns the value mask for a register/operand width in bytes
func x86SizeMask(size int) uint32 {
	switch size {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	case 4:
		return 0xFFFFFFFF
	}
	panic(x86Violation("register", "unsupported width %d", size))
}

// x86SignBit returns the sign bit for a width in bytes
func x86SignBit(size int) uint32 {
	return (x86SizeMask(size) >> 1) + 1
}

// x86SignExtend sign-extends the low size bytes of v to 32 bits
func x86SignExtend(v uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	}
	return v
}

// -----------------------------------------------------------------------------
// Register
// -----------------------------------------------------------------------------

// X86Register is a named storage cell masked to its byte width
type X86Register struct {
	name  string
	size  int
	mask  uint32
	value uint32
}

// NewX86Register creates a zeroed register of the given width (1, 2 or 4 bytes)
func NewX86Register(name string, size int) *X86Register {
	return &X86Register{name: name, size: size, mask: x86SizeMask(size)}
}

func (r *X86Register) Name() string { return r.name }
func (r *X86Register) Size() int    { return r.size }
func (r *X86Register) Get() uint32  { return r.value }

// Set stores v masked to the register width
func (r *X86Register) Set(v uint32) {
	r.value = v & r.mask
}

// String formats the register as NAME=0x.... with a fixed number of hex digits
func (r *X86Register) String() string {
	return fmt.Sprintf("%s=0x%0*X", r.name, r.size*2, r.value)
}

// -----------------------------------------------------------------------------
// SubRegister
// -----------------------------------------------------------------------------

// X86SubRegister aliases a byte range of a master register
type X86SubRegister struct {
	name   string
	master *X86Register
	size   int
	shift  uint
	mask   uint32
}

// NewX86SubRegister creates an alias of size bytes starting shift bits into master
func NewX86SubRegister(name string, master *X86Register, size int, shift uint) *X86SubRegister {
	if int(shift)/8+size > master.size {
		panic(x86Violation("register", "%s does not fit inside %s", name, master.name))
	}
	return &X86SubRegister{
		name:   name,
		master: master,
		size:   size,
		shift:  shift,
		mask:   x86SizeMask(size),
	}
}

func (s *X86SubRegister) Name() string           { return s.name }
func (s *X86SubRegister) Size() int              { return s.size }
func (s *X86SubRegister) Master() *X86Register   { return s.master }
func (s *X86SubRegister) Get() uint32            { return (s.master.value >> s.shift) & s.mask }
func (s *X86SubRegister) String() string         { return fmt.Sprintf("%s=0x%0*X", s.name, s.size*2, s.Get()) }
func (s *X86SubRegister) window() (uint32, uint) { return s.mask << s.shift, s.shift }

// Set replaces only this alias' bits of the master register
func (s *X86SubRegister) Set(v uint32) {
	window, shift := s.window()
	s.master.Set(s.master.value&^window | (v<<shift)&window)
}

// -----------------------------------------------------------------------------
// Register File
// -----------------------------------------------------------------------------

// x86RegisterFile holds the general registers, EIP and every alias onto them
type x86RegisterFile struct {
	r32 [8]*X86Register
	r16 [8]*X86SubRegister
	r8  [8]*X86SubRegister
	eip *X86Register
	ip  *X86SubRegister

	byName map[string]X86Reg
}

func newX86RegisterFile() *x86RegisterFile {
	f := &x86RegisterFile{byName: make(map[string]X86Reg)}
	for i := 0; i < 8; i++ {
		f.r32[i] = NewX86Register(x86Reg32Names[i], 4)
		f.r16[i] = NewX86SubRegister(x86Reg16Names[i], f.r32[i], 2, 0)
	}
	// AL..BL alias bits 0-7 of EAX..EBX, AH..BH bits 8-15
	for i := 0; i < 4; i++ {
		f.r8[i] = NewX86SubRegister(x86Reg8Names[i], f.r32[i], 1, 0)
		f.r8[i+4] = NewX86SubRegister(x86Reg8Names[i+4], f.r32[i], 1, 8)
	}
	f.eip = NewX86Register("EIP", 4)
	f.ip = NewX86SubRegister("IP", f.eip, 2, 0)

	for i := 0; i < 8; i++ {
		f.byName[f.r32[i].name] = f.r32[i]
		f.byName[f.r16[i].name] = f.r16[i]
		f.byName[f.r8[i].name] = f.r8[i]
	}
	f.byName["EIP"] = f.eip
	f.byName["IP"] = f.ip
	return f
}

// byOrdinal returns the general register selected by a ModR/M ordinal at a width
func (f *x86RegisterFile) byOrdinal(size int, idx int) X86Reg {
	switch size {
	case 1:
		return f.r8[idx&7]
	case 2:
		return f.r16[idx&7]
	case 4:
		return f.r32[idx&7]
	}
	panic(x86Violation("register", "no %d-byte register file", size))
}

// Lookup finds a register or alias by (case-insensitive) name
func (f *x86RegisterFile) Lookup(name string) (X86Reg, bool) {
	r, ok := f.byName[strings.ToUpper(name)]
	return r, ok
}

func (f *x86RegisterFile) reset() {
	for _, r := range f.r32 {
		r.Set(0)
	}
	f.eip.Set(0)
}
