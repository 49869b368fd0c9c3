// cpu_x86_grp.go - x86 shift/rotate, multiply/divide and 386 bit instructions
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/bits"

// =============================================================================
// Shifts and Rotates (Grp2)
// =============================================================================

// shiftOperands returns the destination, masked count, value and width. A
// zero count leaves flags and operand alone.
func (c *CPU_X86) shiftOperands(in *X86Instruction) (*X86Operand, uint, uint32, uint) {
	op := &in.Ops[0]
	count := uint(in.Ops[1].Read(c) & 0x1F)
	return op, count, op.Read(c), uint(op.Size * 8)
}

func (c *CPU_X86) msb(v uint32, size int) bool { return v&x86SignBit(size) != 0 }

func (c *CPU_X86) opROL(in *X86Instruction) {
	op, count, v, width := c.shiftOperands(in)
	if count == 0 {
		return
	}
	n := count % width
	r := (v<<n | v>>(width-n)) & x86SizeMask(op.Size)
	op.Write(c, r)
	cf := r&1 != 0
	c.flags.Set(x86FlagCF, cf)
	c.flags.Set(x86FlagOF, c.msb(r, op.Size) != cf)
}

func (c *CPU_X86) opROR(in *X86Instruction) {
	op, count, v, width := c.shiftOperands(in)
	if count == 0 {
		return
	}
	n := count % width
	r := (v>>n | v<<(width-n)) & x86SizeMask(op.Size)
	op.Write(c, r)
	c.flags.Set(x86FlagCF, c.msb(r, op.Size))
	c.flags.Set(x86FlagOF, c.msb(r, op.Size) != c.msb(r<<1, op.Size))
}

func (c *CPU_X86) opRCL(in *X86Instruction) {
	op, count, v, width := c.shiftOperands(in)
	n := count % (width + 1)
	if n == 0 {
		return
	}
	// rotate the width+1 bit quantity CF:operand
	wide := uint64(c.carry())<<width | uint64(v)
	all := uint64(1)<<(width+1) - 1
	wide = (wide<<n | wide>>(width+1-n)) & all
	r := uint32(wide) & x86SizeMask(op.Size)
	cf := wide>>width&1 != 0
	op.Write(c, r)
	c.flags.Set(x86FlagCF, cf)
	c.flags.Set(x86FlagOF, c.msb(r, op.Size) != cf)
}

func (c *CPU_X86) opRCR(in *X86Instruction) {
	op, count, v, width := c.shiftOperands(in)
	n := count % (width + 1)
	if n == 0 {
		return
	}
	wide := uint64(c.carry())<<width | uint64(v)
	all := uint64(1)<<(width+1) - 1
	wide = (wide>>n | wide<<(width+1-n)) & all
	r := uint32(wide) & x86SizeMask(op.Size)
	op.Write(c, r)
	c.flags.Set(x86FlagCF, wide>>width&1 != 0)
	c.flags.Set(x86FlagOF, c.msb(r, op.Size) != c.msb(r<<1, op.Size))
}

func (c *CPU_X86) opSHL(in *X86Instruction) {
	op, count, v, width := c.shiftOperands(in)
	if count == 0 {
		return
	}
	wide := uint64(v) << count
	r := c.logic(op.Size, uint32(wide))
	op.Write(c, r)
	cf := wide>>width&1 != 0
	c.flags.Set(x86FlagCF, cf)
	c.flags.Set(x86FlagOF, c.msb(r, op.Size) != cf)
}

func (c *CPU_X86) opSHR(in *X86Instruction) {
	op, count, v, _ := c.shiftOperands(in)
	if count == 0 {
		return
	}
	r := c.logic(op.Size, uint32(uint64(v)>>count))
	op.Write(c, r)
	c.flags.Set(x86FlagCF, uint64(v)>>(count-1)&1 != 0)
	c.flags.Set(x86FlagOF, c.msb(v, op.Size))
}

func (c *CPU_X86) opSAR(in *X86Instruction) {
	op, count, v, _ := c.shiftOperands(in)
	if count == 0 {
		return
	}
	sv := int64(int32(x86SignExtend(v, op.Size)))
	r := c.logic(op.Size, uint32(sv>>count))
	op.Write(c, r)
	c.flags.Set(x86FlagCF, sv>>(count-1)&1 != 0)
	c.flags.Set(x86FlagOF, false)
}

// =============================================================================
// Multiply and Divide (Grp3)
// =============================================================================

// accumulator returns the double-width implicit operand AX, DX:AX or EDX:EAX
func (c *CPU_X86) accumulator(size int) uint64 {
	switch size {
	case 1:
		return uint64(c.regs.r16[x86RegEAX].Get())
	case 2:
		return uint64(c.regs.r16[x86RegEDX].Get())<<16 | uint64(c.regs.r16[x86RegEAX].Get())
	}
	return uint64(c.regs.r32[x86RegEDX].Get())<<32 | uint64(c.regs.r32[x86RegEAX].Get())
}

// setAccumulator writes a double-width product back to AX, DX:AX or EDX:EAX
func (c *CPU_X86) setAccumulator(size int, v uint64) {
	switch size {
	case 1:
		c.regs.r16[x86RegEAX].Set(uint32(v))
	case 2:
		c.regs.r16[x86RegEAX].Set(uint32(v))
		c.regs.r16[x86RegEDX].Set(uint32(v >> 16))
	default:
		c.regs.r32[x86RegEAX].Set(uint32(v))
		c.regs.r32[x86RegEDX].Set(uint32(v >> 32))
	}
}

// mulFlags sets CF and OF to overflow and derives SF/ZF/PF from the low half
func (c *CPU_X86) mulFlags(size int, low uint32, overflow bool) {
	c.logic(size, low)
	c.flags.Set(x86FlagCF, overflow)
	c.flags.Set(x86FlagOF, overflow)
}

func (c *CPU_X86) opMUL(in *X86Instruction) {
	size := in.Ops[0].Size
	src := uint64(in.Ops[0].Read(c))
	a := uint64(c.reg(size, x86RegEAX))
	p := a * src
	c.setAccumulator(size, p)
	c.mulFlags(size, uint32(p), p>>(uint(size)*8) != 0)
}

func (c *CPU_X86) opIMUL1(in *X86Instruction) {
	size := in.Ops[0].Size
	src := int64(int32(x86SignExtend(in.Ops[0].Read(c), size)))
	a := int64(int32(x86SignExtend(c.reg(size, x86RegEAX), size)))
	p := a * src
	c.setAccumulator(size, uint64(p))
	low := uint32(p) & x86SizeMask(size)
	c.mulFlags(size, low, int64(int32(x86SignExtend(low, size))) != p)
}

// opIMUL is the two and three operand form: dst = src1 * src2, truncated
func (c *CPU_X86) opIMUL(in *X86Instruction) {
	dst := &in.Ops[0]
	size := dst.Size
	a := in.Ops[1].Read(c)
	b := dst.Read(c)
	if in.NumOps == 3 {
		b = in.Ops[2].Read(c)
	}
	p := int64(int32(x86SignExtend(a, size))) * int64(int32(x86SignExtend(b, size)))
	low := uint32(p) & x86SizeMask(size)
	dst.Write(c, low)
	c.mulFlags(size, low, int64(int32(x86SignExtend(low, size))) != p)
}

func (c *CPU_X86) divideError() {
	c.raise(x86FaultNoCode(x86VecDivideError))
}

func (c *CPU_X86) opDIV(in *X86Instruction) {
	size := in.Ops[0].Size
	d := uint64(in.Ops[0].Read(c))
	if d == 0 {
		c.divideError()
	}
	n := c.accumulator(size)
	q, r := n/d, n%d
	if q > uint64(x86SizeMask(size)) {
		c.divideError()
	}
	c.storeQuotient(size, uint32(q), uint32(r))
}

func (c *CPU_X86) opIDIV(in *X86Instruction) {
	size := in.Ops[0].Size
	d := int64(int32(x86SignExtend(in.Ops[0].Read(c), size)))
	if d == 0 {
		c.divideError()
	}
	var n int64
	switch size {
	case 1:
		n = int64(int16(c.accumulator(1)))
	case 2:
		n = int64(int32(c.accumulator(2)))
	default:
		n = int64(c.accumulator(4))
	}
	if n == -1<<63 && d == -1 {
		c.divideError()
	}
	q, r := n/d, n%d
	limit := int64(1) << (uint(size)*8 - 1)
	if q >= limit || q < -limit {
		c.divideError()
	}
	c.storeQuotient(size, uint32(q), uint32(r))
}

func (c *CPU_X86) storeQuotient(size int, q, r uint32) {
	if size == 1 {
		c.regs.r8[x86RegEAX].Set(q)
		c.regs.r8[4].Set(r)
		return
	}
	c.setReg(size, x86RegEAX, q)
	c.setReg(size, x86RegEDX, r)
}

// =============================================================================
// Bit Test and Scan
// =============================================================================

// bitTarget resolves the operand and bit index of BT/BTS/BTR/BTC. A register
// bit offset addressing memory selects a signed word/dword displacement.
func (c *CPU_X86) bitTarget(in *X86Instruction) (read func() uint32, write func(uint32), bit uint) {
	dst, src := &in.Ops[0], &in.Ops[1]
	size := dst.Size
	offset := src.Read(c)
	width := uint32(size * 8)

	if dst.Kind != x86OperandMem || src.Kind == x86OperandImm {
		bit = uint(offset % width)
		return func() uint32 { return dst.Read(c) }, func(v uint32) { dst.Write(c, v) }, bit
	}

	signed := int32(x86SignExtend(offset, src.Size))
	delta := uint32((signed >> bits.TrailingZeros32(width)) * int32(size))
	addr := (c.effectiveAddress(dst) + delta) & x86SizeMask(dst.AddrSize)
	bit = uint(uint32(signed) & (width - 1))
	return func() uint32 { return c.readMem(dst.Seg, addr, size) },
		func(v uint32) { c.writeMem(dst.Seg, addr, v, size) },
		bit
}

func (c *CPU_X86) opBT(in *X86Instruction) {
	read, _, bit := c.bitTarget(in)
	c.flags.Set(x86FlagCF, read()>>bit&1 != 0)
}

func (c *CPU_X86) opBTS(in *X86Instruction) {
	read, write, bit := c.bitTarget(in)
	v := read()
	c.flags.Set(x86FlagCF, v>>bit&1 != 0)
	write(v | 1<<bit)
}

func (c *CPU_X86) opBTR(in *X86Instruction) {
	read, write, bit := c.bitTarget(in)
	v := read()
	c.flags.Set(x86FlagCF, v>>bit&1 != 0)
	write(v &^ (1 << bit))
}

func (c *CPU_X86) opBTC(in *X86Instruction) {
	read, write, bit := c.bitTarget(in)
	v := read()
	c.flags.Set(x86FlagCF, v>>bit&1 != 0)
	write(v ^ 1<<bit)
}

func (c *CPU_X86) opBSF(in *X86Instruction) {
	v := in.Ops[1].Read(c)
	if v == 0 {
		c.flags.Set(x86FlagZF, true)
		return
	}
	c.flags.Set(x86FlagZF, false)
	in.Ops[0].Write(c, uint32(bits.TrailingZeros32(v)))
}

func (c *CPU_X86) opBSR(in *X86Instruction) {
	v := in.Ops[1].Read(c)
	if v == 0 {
		c.flags.Set(x86FlagZF, true)
		return
	}
	c.flags.Set(x86FlagZF, false)
	in.Ops[0].Write(c, uint32(31-bits.LeadingZeros32(v)))
}

// =============================================================================
// Double Shifts
// =============================================================================

func (c *CPU_X86) opSHLD(in *X86Instruction) {
	dst := &in.Ops[0]
	count := uint(in.Ops[2].Read(c) & 0x1F)
	if count == 0 {
		return
	}
	size := dst.Size
	width := uint(size * 8)
	v := dst.Read(c)
	wide := uint64(v)<<width | uint64(in.Ops[1].Read(c))
	r := c.logic(size, uint32((wide<<count)>>width))
	dst.Write(c, r)
	c.flags.Set(x86FlagCF, (wide<<(count-1))>>(2*width-1)&1 != 0)
	c.flags.Set(x86FlagOF, c.msb(r, size) != c.msb(v, size))
}

func (c *CPU_X86) opSHRD(in *X86Instruction) {
	dst := &in.Ops[0]
	count := uint(in.Ops[2].Read(c) & 0x1F)
	if count == 0 {
		return
	}
	size := dst.Size
	width := uint(size * 8)
	v := dst.Read(c)
	wide := uint64(in.Ops[1].Read(c))<<width | uint64(v)
	r := c.logic(size, uint32(wide>>count))
	dst.Write(c, r)
	c.flags.Set(x86FlagCF, wide>>(count-1)&1 != 0)
	c.flags.Set(x86FlagOF, c.msb(r, size) != c.msb(v, size))
}

// =============================================================================
// 486 Exchange and Byte Order
// =============================================================================

func (c *CPU_X86) opXADD(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	a, b := dst.Read(c), src.Read(c)
	sum := c.add(dst.Size, a, b, 0)
	src.Write(c, a)
	dst.Write(c, sum)
}

func (c *CPU_X86) opCMPXCHG(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	size := dst.Size
	acc := c.reg(size, x86RegEAX)
	v := dst.Read(c)
	c.sub(size, acc, v, 0)
	if acc == v {
		dst.Write(c, src.Read(c))
		return
	}
	// the destination write cycle happens either way
	dst.Write(c, v)
	c.setReg(size, x86RegEAX, v)
}

func (c *CPU_X86) opBSWAP(in *X86Instruction) {
	op := &in.Ops[0]
	op.Write(c, bits.ReverseBytes32(op.Read(c)))
}

// opARPL raises the destination selector RPL to the source's
func (c *CPU_X86) opARPL(in *X86Instruction) {
	if !c.protected() || c.v86() {
		c.raise(x86UD())
	}
	dst := &in.Ops[0]
	d, s := dst.Read(c), in.Ops[1].Read(c)
	if d&3 < s&3 {
		dst.Write(c, d&^3|s&3)
		c.flags.Set(x86FlagZF, true)
		return
	}
	c.flags.Set(x86FlagZF, false)
}
