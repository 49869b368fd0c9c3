// cpu_x86_flags.go - EFLAGS with lazily evaluated arithmetic flags
//
// ALU instructions record their operands and result instead of computing
// CF/PF/AF/ZF/SF/OF. A flag is derived from the record only when it is read,
// so long runs of arithmetic that nobody tests never pay for flag math.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/bits"

// EFLAGS bits
const (
	x86FlagCF   = 1 << 0
	x86FlagRes1 = 1 << 1
	x86FlagPF   = 1 << 2
	x86FlagAF   = 1 << 4
	x86FlagZF   = 1 << 6
	x86FlagSF   = 1 << 7
	x86FlagTF   = 1 << 8
	x86FlagIF   = 1 << 9
	x86FlagDF   = 1 << 10
	x86FlagOF   = 1 << 11
	x86FlagIOPL = 3 << 12
	x86FlagNT   = 1 << 14
	x86FlagRF   = 1 << 16
	x86FlagVM   = 1 << 17
	x86FlagAC   = 1 << 18
	x86FlagVIF  = 1 << 19
	x86FlagVIP  = 1 << 20
	x86FlagID   = 1 << 21

	x86ArithFlags = x86FlagCF | x86FlagPF | x86FlagAF | x86FlagZF | x86FlagSF | x86FlagOF

	// bits software can change through POPF/IRET, before IF/IOPL/VM filtering
	x86FlagsWritable = x86ArithFlags | x86FlagTF | x86FlagIF | x86FlagDF | x86FlagIOPL |
		x86FlagNT | x86FlagRF | x86FlagAC | x86FlagID
)

type x86LazyKind uint8

const (
	x86LazyAdd   x86LazyKind = iota // ADD/ADC/INC
	x86LazySub                      // SUB/SBB/CMP/NEG/DEC
	x86LazyLogic                    // AND/OR/XOR/TEST: CF=OF=AF=0
)

// x86LazyRecord is the last flag-setting operation
type x86LazyRecord struct {
	kind    x86LazyKind
	size    int
	op1     uint32
	op2     uint32
	carryIn uint32
	result  uint32
}

// x86Flags is EFLAGS. Bits in pending are answered from rec; everything else
// from word.
type x86Flags struct {
	word    uint32
	pending uint32
	rec     x86LazyRecord
}

func (f *x86Flags) reset() {
	f.word = x86FlagRes1
	f.pending = 0
}

// Get returns one flag bit
func (f *x86Flags) Get(bit uint32) bool {
	if f.pending&bit != 0 {
		return x86DeriveFlag(&f.rec, bit)
	}
	return f.word&bit != 0
}

// Set forces one flag bit, dropping any lazy derivation of it
func (f *x86Flags) Set(bit uint32, v bool) {
	f.pending &^= bit
	if v {
		f.word |= bit
	} else {
		f.word &^= bit
	}
}

// Word materialises every pending flag and returns EFLAGS
func (f *x86Flags) Word() uint32 {
	f.materialize()
	return f.word | x86FlagRes1
}

// SetWord replaces the bits selected by writable
func (f *x86Flags) SetWord(v uint32, writable uint32) {
	f.materialize()
	f.word = (f.word&^writable | v&writable) | x86FlagRes1
}

func (f *x86Flags) materialize() {
	if f.pending == 0 {
		return
	}
	for p := f.pending; p != 0; p &= p - 1 {
		bit := p & -p
		if x86DeriveFlag(&f.rec, bit) {
			f.word |= bit
		} else {
			f.word &^= bit
		}
	}
	f.pending = 0
}

// record stores an operation and marks the flags in which as lazily derived
func (f *x86Flags) record(kind x86LazyKind, size int, op1, op2, carryIn, result uint32, which uint32) {
	if which != x86ArithFlags {
		// INC/DEC keep CF: pin the outgoing value before the record changes
		f.materialize()
	}
	f.rec = x86LazyRecord{kind: kind, size: size, op1: op1, op2: op2, carryIn: carryIn, result: result}
	f.pending = which
}

// iopl is never lazily derived
func (f *x86Flags) iopl() byte { return byte(f.word>>12) & 3 }

// x86DeriveFlag computes one arithmetic flag from a lazy record
func x86DeriveFlag(r *x86LazyRecord, bit uint32) bool {
	mask := x86SizeMask(r.size)
	sign := x86SignBit(r.size)
	res := r.result & mask
	op1 := r.op1 & mask
	op2 := r.op2 & mask

	switch bit {
	case x86FlagZF:
		return res == 0
	case x86FlagSF:
		return res&sign != 0
	case x86FlagPF:
		return x86Parity(byte(res))
	case x86FlagAF:
		if r.kind == x86LazyLogic {
			return false
		}
		return (op1^op2^res)&0x10 != 0
	case x86FlagCF:
		switch r.kind {
		case x86LazyAdd:
			return uint64(op1)+uint64(op2)+uint64(r.carryIn) > uint64(mask)
		case x86LazySub:
			return uint64(op1) < uint64(op2)+uint64(r.carryIn)
		}
		return false
	case x86FlagOF:
		switch r.kind {
		case x86LazyAdd:
			return (op1^res)&(op2^res)&sign != 0
		case x86LazySub:
			return (op1^op2)&(op1^res)&sign != 0
		}
		return false
	}
	panic(x86Violation("flags", "bit 0x%X is not lazily derived", bit))
}

// x86Parity reports even parity of the low result byte
func x86Parity(v byte) bool {
	return bits.OnesCount8(v)&1 == 0
}
