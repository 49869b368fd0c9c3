// cpu_x86_ops.go - x86 CPU Instruction Implementations
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// =============================================================================
// Flag-recording ALU primitives
// =============================================================================

func (c *CPU_X86) add(size int, a, b, carry uint32) uint32 {
	r := (a + b + carry) & x86SizeMask(size)
	c.flags.record(x86LazyAdd, size, a, b, carry, r, x86ArithFlags)
	return r
}

func (c *CPU_X86) sub(size int, a, b, borrow uint32) uint32 {
	r := (a - b - borrow) & x86SizeMask(size)
	c.flags.record(x86LazySub, size, a, b, borrow, r, x86ArithFlags)
	return r
}

func (c *CPU_X86) logic(size int, r uint32) uint32 {
	r &= x86SizeMask(size)
	c.flags.record(x86LazyLogic, size, 0, 0, 0, r, x86ArithFlags)
	return r
}

func (c *CPU_X86) inc(size int, a uint32) uint32 {
	r := (a + 1) & x86SizeMask(size)
	c.flags.record(x86LazyAdd, size, a, 1, 0, r, x86ArithFlags&^x86FlagCF)
	return r
}

func (c *CPU_X86) dec(size int, a uint32) uint32 {
	r := (a - 1) & x86SizeMask(size)
	c.flags.record(x86LazySub, size, a, 1, 0, r, x86ArithFlags&^x86FlagCF)
	return r
}

func (c *CPU_X86) carry() uint32 {
	if c.flags.Get(x86FlagCF) {
		return 1
	}
	return 0
}

// condition evaluates a Jcc/SETcc condition code
func (c *CPU_X86) condition(cc byte) bool {
	var r bool
	switch (cc >> 1) & 7 {
	case 0:
		r = c.flags.Get(x86FlagOF)
	case 1:
		r = c.flags.Get(x86FlagCF)
	case 2:
		r = c.flags.Get(x86FlagZF)
	case 3:
		r = c.flags.Get(x86FlagCF) || c.flags.Get(x86FlagZF)
	case 4:
		r = c.flags.Get(x86FlagSF)
	case 5:
		r = c.flags.Get(x86FlagPF)
	case 6:
		r = c.flags.Get(x86FlagSF) != c.flags.Get(x86FlagOF)
	case 7:
		r = c.flags.Get(x86FlagZF) || c.flags.Get(x86FlagSF) != c.flags.Get(x86FlagOF)
	}
	if cc&1 != 0 {
		return !r
	}
	return r
}

// =============================================================================
// Arithmetic and Logic
// =============================================================================

func (c *CPU_X86) opADD(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.add(dst.Size, dst.Read(c), src.Read(c), 0))
}

func (c *CPU_X86) opADC(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.add(dst.Size, dst.Read(c), src.Read(c), c.carry()))
}

func (c *CPU_X86) opSUB(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.sub(dst.Size, dst.Read(c), src.Read(c), 0))
}

func (c *CPU_X86) opSBB(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.sub(dst.Size, dst.Read(c), src.Read(c), c.carry()))
}

func (c *CPU_X86) opCMP(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	c.sub(dst.Size, dst.Read(c), src.Read(c), 0)
}

func (c *CPU_X86) opAND(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.logic(dst.Size, dst.Read(c)&src.Read(c)))
}

func (c *CPU_X86) opOR(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.logic(dst.Size, dst.Read(c)|src.Read(c)))
}

func (c *CPU_X86) opXOR(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	dst.Write(c, c.logic(dst.Size, dst.Read(c)^src.Read(c)))
}

func (c *CPU_X86) opTEST(in *X86Instruction) {
	dst, src := &in.Ops[0], &in.Ops[1]
	c.logic(dst.Size, dst.Read(c)&src.Read(c))
}

func (c *CPU_X86) opINC(in *X86Instruction) {
	op := &in.Ops[0]
	op.Write(c, c.inc(op.Size, op.Read(c)))
}

func (c *CPU_X86) opDEC(in *X86Instruction) {
	op := &in.Ops[0]
	op.Write(c, c.dec(op.Size, op.Read(c)))
}

func (c *CPU_X86) opNOT(in *X86Instruction) {
	op := &in.Ops[0]
	op.Write(c, ^op.Read(c))
}

func (c *CPU_X86) opNEG(in *X86Instruction) {
	op := &in.Ops[0]
	op.Write(c, c.sub(op.Size, 0, op.Read(c), 0))
}

// =============================================================================
// Data Movement
// =============================================================================

func (c *CPU_X86) opMOV(in *X86Instruction) {
	in.Ops[0].Write(c, in.Ops[1].Read(c))
}

func (c *CPU_X86) opMOVToSeg(in *X86Instruction) {
	if in.Ops[0].Reg == x86SegCS {
		c.raise(x86UD())
	}
	in.Ops[0].Write(c, in.Ops[1].Read(c))
}

func (c *CPU_X86) opMOVZX(in *X86Instruction) {
	in.Ops[0].Write(c, in.Ops[1].Read(c))
}

func (c *CPU_X86) opMOVSX(in *X86Instruction) {
	src := &in.Ops[1]
	in.Ops[0].Write(c, x86SignExtend(src.Read(c), src.Size))
}

func (c *CPU_X86) opLEA(in *X86Instruction) {
	in.Ops[0].Write(c, c.effectiveAddress(&in.Ops[1]))
}

func (c *CPU_X86) opXCHG(in *X86Instruction) {
	a, b := &in.Ops[0], &in.Ops[1]
	va, vb := a.Read(c), b.Read(c)
	a.Write(c, vb)
	b.Write(c, va)
}

func (c *CPU_X86) opNOP(in *X86Instruction) {}

func (c *CPU_X86) opCBW(in *X86Instruction) {
	if in.OperandSize == 2 {
		c.regs.r16[x86RegEAX].Set(x86SignExtend(c.regs.r8[x86RegEAX].Get(), 1))
		return
	}
	c.regs.r32[x86RegEAX].Set(x86SignExtend(c.regs.r16[x86RegEAX].Get(), 2))
}

func (c *CPU_X86) opCWD(in *X86Instruction) {
	size := in.OperandSize
	var hi uint32
	if c.reg(size, x86RegEAX)&x86SignBit(size) != 0 {
		hi = 0xFFFFFFFF
	}
	c.setReg(size, x86RegEDX, hi)
}

func (c *CPU_X86) opXLAT(in *X86Instruction) {
	seg := x86SegDS
	if in.Segment != x86SegNone {
		seg = in.Segment
	}
	off := c.regs.r32[x86RegEBX].value + c.regs.r8[x86RegEAX].Get()
	if in.AddressSize == 2 {
		off &= 0xFFFF
	}
	c.regs.r8[x86RegEAX].Set(c.readMem(seg, off, 1))
}

func (c *CPU_X86) loadFarPointer(in *X86Instruction, seg int) {
	m := &in.Ops[1]
	ea := c.effectiveAddress(m)
	off := c.readMem(m.Seg, ea, in.OperandSize)
	sel := c.readMem(m.Seg, (ea+uint32(in.OperandSize))&x86SizeMask(m.AddrSize), 2)
	c.loadSegment(seg, uint16(sel))
	in.Ops[0].Write(c, off)
}

func (c *CPU_X86) opLES(in *X86Instruction) { c.loadFarPointer(in, x86SegES) }
func (c *CPU_X86) opLDS(in *X86Instruction) { c.loadFarPointer(in, x86SegDS) }
func (c *CPU_X86) opLSS(in *X86Instruction) { c.loadFarPointer(in, x86SegSS) }
func (c *CPU_X86) opLFS(in *X86Instruction) { c.loadFarPointer(in, x86SegFS) }
func (c *CPU_X86) opLGS(in *X86Instruction) { c.loadFarPointer(in, x86SegGS) }

// =============================================================================
// Stack
// =============================================================================

func (c *CPU_X86) opPUSH(in *X86Instruction) {
	c.push(in.Ops[0].Read(c), in.OperandSize)
}

func (c *CPU_X86) opPOP(in *X86Instruction) {
	v := c.pop(in.OperandSize)
	in.Ops[0].Write(c, v)
}

func (c *CPU_X86) opPUSHA(in *X86Instruction) {
	size := in.OperandSize
	sp := c.reg(size, x86RegESP)
	for r := x86RegEAX; r <= x86RegEDI; r++ {
		if r == x86RegESP {
			c.push(sp, size)
			continue
		}
		c.push(c.reg(size, r), size)
	}
}

func (c *CPU_X86) opPOPA(in *X86Instruction) {
	size := in.OperandSize
	for r := x86RegEDI; r >= x86RegEAX; r-- {
		v := c.pop(size)
		if r != x86RegESP {
			c.setReg(size, r, v)
		}
	}
}

// popfMask is the set of EFLAGS bits POPF/IRET may change at the current
// privilege level
func (c *CPU_X86) popfMask(size int) uint32 {
	mask := uint32(x86FlagsWritable)
	if c.protected() {
		mask &^= x86FlagIF | x86FlagIOPL
		cpl := c.cpl()
		if cpl == 0 {
			mask |= x86FlagIOPL
		}
		if cpl <= c.flags.iopl() {
			mask |= x86FlagIF
		}
	}
	if size == 2 {
		mask &= 0xFFFF
	}
	return mask
}

func (c *CPU_X86) opPUSHF(in *X86Instruction) {
	c.push(c.flags.Word()&^(x86FlagVM|x86FlagRF), in.OperandSize)
}

func (c *CPU_X86) opPOPF(in *X86Instruction) {
	v := c.pop(in.OperandSize)
	c.flags.SetWord(v, c.popfMask(in.OperandSize))
}

func (c *CPU_X86) opLAHF(in *X86Instruction) {
	c.regs.r8[4].Set(c.flags.Word()&(x86FlagSF|x86FlagZF|x86FlagAF|x86FlagPF|x86FlagCF) | x86FlagRes1)
}

func (c *CPU_X86) opSAHF(in *X86Instruction) {
	c.flags.SetWord(c.regs.r8[4].Get(), x86FlagSF|x86FlagZF|x86FlagAF|x86FlagPF|x86FlagCF)
}

func (c *CPU_X86) opENTER(in *X86Instruction) {
	size := in.OperandSize
	alloc := in.Ops[0].Imm
	level := in.Ops[1].Imm & 0x1F

	c.push(c.reg(size, x86RegEBP), size)
	frame := c.sp()
	if level > 0 {
		bp := c.regs.r32[x86RegEBP].value & c.stackMask()
		for i := uint32(1); i < level; i++ {
			bp = (bp - uint32(size)) & c.stackMask()
			c.push(c.readMem(x86SegSS, bp, size), size)
		}
		c.push(frame, size)
	}
	c.setReg(size, x86RegEBP, frame)
	c.setSP(c.sp() - alloc)
}

func (c *CPU_X86) opLEAVE(in *X86Instruction) {
	c.setSP(c.regs.r32[x86RegEBP].value)
	c.setReg(in.OperandSize, x86RegEBP, c.pop(in.OperandSize))
}

// =============================================================================
// Control Transfer
// =============================================================================

func (c *CPU_X86) jumpRel(in *X86Instruction) {
	c.jump(c.eip()+in.Ops[0].Imm, in.OperandSize)
}

func (c *CPU_X86) opJcc(in *X86Instruction) {
	if c.condition(byte(in.Opcode) & 0x0F) {
		c.jumpRel(in)
	}
}

func (c *CPU_X86) opSETcc(in *X86Instruction) {
	var v uint32
	if c.condition(byte(in.Opcode) & 0x0F) {
		v = 1
	}
	in.Ops[0].Write(c, v)
}

func (c *CPU_X86) opJMP(in *X86Instruction) {
	c.jumpRel(in)
}

func (c *CPU_X86) opJMPIndirect(in *X86Instruction) {
	c.jump(in.Ops[0].Read(c), in.OperandSize)
}

func (c *CPU_X86) opCALL(in *X86Instruction) {
	c.push(c.eip(), in.OperandSize)
	c.jumpRel(in)
}

func (c *CPU_X86) opCALLIndirect(in *X86Instruction) {
	target := in.Ops[0].Read(c)
	c.push(c.eip(), in.OperandSize)
	c.jump(target, in.OperandSize)
}

func (c *CPU_X86) opRET(in *X86Instruction) {
	target := c.pop(in.OperandSize)
	if in.NumOps > 0 {
		c.setSP(c.sp() + in.Ops[0].Imm)
	}
	c.jump(target, in.OperandSize)
}

// farOperand reads a selector:offset pair from an Ap or Mp operand
func (c *CPU_X86) farOperand(in *X86Instruction) (uint16, uint32) {
	op := &in.Ops[0]
	if op.Kind == x86OperandFar {
		return op.Sel, op.Imm
	}
	ea := c.effectiveAddress(op)
	off := c.readMem(op.Seg, ea, in.OperandSize)
	sel := c.readMem(op.Seg, (ea+uint32(in.OperandSize))&x86SizeMask(op.AddrSize), 2)
	return uint16(sel), off
}

func (c *CPU_X86) farJump(sel uint16, off uint32, size int) {
	c.loadSegment(x86SegCS, sel)
	c.jump(off, size)
}

func (c *CPU_X86) farCall(sel uint16, off uint32, size int) {
	cs := c.sregs[x86SegCS]
	target, err := cs.resolve(sel, c)
	if err != nil {
		c.raiseError(err)
	}
	c.push(uint32(cs.Selector()), size)
	c.push(c.eip(), size)
	// CS changes only once both pushes have landed
	cs.loadCache(sel, target)
	c.jump(off, size)
}

func (c *CPU_X86) opJMPFar(in *X86Instruction) {
	sel, off := c.farOperand(in)
	c.farJump(sel, off, in.OperandSize)
}

func (c *CPU_X86) opJMPFarIndirect(in *X86Instruction) {
	sel, off := c.farOperand(in)
	c.farJump(sel, off, in.OperandSize)
}

func (c *CPU_X86) opCALLFar(in *X86Instruction) {
	sel, off := c.farOperand(in)
	c.farCall(sel, off, in.OperandSize)
}

func (c *CPU_X86) opCALLFarIndirect(in *X86Instruction) {
	sel, off := c.farOperand(in)
	c.farCall(sel, off, in.OperandSize)
}

func (c *CPU_X86) opRETF(in *X86Instruction) {
	size := in.OperandSize
	off := c.pop(size)
	sel := uint16(c.pop(size))
	var release uint32
	if in.NumOps > 0 {
		release = in.Ops[0].Imm
	}
	outer := c.protected() && !c.v86() && X86Selector(sel).RPL() > c.cpl()
	c.loadSegment(x86SegCS, sel)
	c.setSP(c.sp() + release)
	if outer {
		esp := c.pop(size)
		ss := uint16(c.pop(size))
		c.loadSegment(x86SegSS, ss)
		c.setSP(esp + release)
	}
	c.jump(off, size)
}

func (c *CPU_X86) counter(asize int) uint32 {
	return c.reg(asize, x86RegECX)
}

func (c *CPU_X86) opLOOP(in *X86Instruction) {
	n := (c.counter(in.AddressSize) - 1) & x86SizeMask(in.AddressSize)
	c.setReg(in.AddressSize, x86RegECX, n)
	if n != 0 {
		c.jumpRel(in)
	}
}

func (c *CPU_X86) opLOOPE(in *X86Instruction) {
	n := (c.counter(in.AddressSize) - 1) & x86SizeMask(in.AddressSize)
	c.setReg(in.AddressSize, x86RegECX, n)
	if n != 0 && c.flags.Get(x86FlagZF) {
		c.jumpRel(in)
	}
}

func (c *CPU_X86) opLOOPNE(in *X86Instruction) {
	n := (c.counter(in.AddressSize) - 1) & x86SizeMask(in.AddressSize)
	c.setReg(in.AddressSize, x86RegECX, n)
	if n != 0 && !c.flags.Get(x86FlagZF) {
		c.jumpRel(in)
	}
}

func (c *CPU_X86) opJCXZ(in *X86Instruction) {
	if c.counter(in.AddressSize) == 0 {
		c.jumpRel(in)
	}
}

// =============================================================================
// Interrupts
// =============================================================================

func (c *CPU_X86) opINT(in *X86Instruction) {
	c.interrupt(byte(in.Ops[0].Imm), nil)
}

func (c *CPU_X86) opINT3(in *X86Instruction) {
	c.interrupt(x86VecBreakpoint, nil)
}

func (c *CPU_X86) opINT1(in *X86Instruction) {
	c.interrupt(x86VecDebug, nil)
}

func (c *CPU_X86) opINTO(in *X86Instruction) {
	if c.flags.Get(x86FlagOF) {
		c.interrupt(x86VecOverflow, nil)
	}
}

func (c *CPU_X86) opBOUND(in *X86Instruction) {
	size := in.OperandSize
	m := &in.Ops[1]
	ea := c.effectiveAddress(m)
	idx := int32(x86SignExtend(in.Ops[0].Read(c), size))
	lo := int32(x86SignExtend(c.readMem(m.Seg, ea, size), size))
	hi := int32(x86SignExtend(c.readMem(m.Seg, (ea+uint32(size))&x86SizeMask(m.AddrSize), size), size))
	if idx < lo || idx > hi {
		c.raise(x86FaultNoCode(x86VecBoundRange))
	}
}

func (c *CPU_X86) opHLT(in *X86Instruction) {
	c.requirePrivileged()
	c.halted = true
}

func (c *CPU_X86) opUD(in *X86Instruction) {
	c.raise(x86UD())
}

// opFPU handles x87 escapes; there is no coprocessor
func (c *CPU_X86) opFPU(in *X86Instruction) {
	c.raise(x86FaultNoCode(x86VecDeviceNotAvailable))
}

func (c *CPU_X86) opWAIT(in *X86Instruction) {
	if c.cr[0]&(x86CR0TS|x86CR0MP) == x86CR0TS|x86CR0MP {
		c.raise(x86FaultNoCode(x86VecDeviceNotAvailable))
	}
}

// =============================================================================
// Flag Control
// =============================================================================

func (c *CPU_X86) opCLC(in *X86Instruction) { c.flags.Set(x86FlagCF, false) }
func (c *CPU_X86) opSTC(in *X86Instruction) { c.flags.Set(x86FlagCF, true) }
func (c *CPU_X86) opCMC(in *X86Instruction) { c.flags.Set(x86FlagCF, !c.flags.Get(x86FlagCF)) }
func (c *CPU_X86) opCLD(in *X86Instruction) { c.flags.Set(x86FlagDF, false) }
func (c *CPU_X86) opSTD(in *X86Instruction) { c.flags.Set(x86FlagDF, true) }

// IF changes are IOPL-sensitive in protected mode
func (c *CPU_X86) checkIOPL() {
	if c.protected() && c.cpl() > c.flags.iopl() {
		c.raise(x86GP(0))
	}
}

func (c *CPU_X86) opCLI(in *X86Instruction) {
	c.checkIOPL()
	c.flags.Set(x86FlagIF, false)
}

func (c *CPU_X86) opSTI(in *X86Instruction) {
	c.checkIOPL()
	if !c.flags.Get(x86FlagIF) {
		c.shadow = true
	}
	c.flags.Set(x86FlagIF, true)
}

// =============================================================================
// Port I/O
// =============================================================================

func (c *CPU_X86) opIN(in *X86Instruction) {
	c.checkIOPL()
	dst := &in.Ops[0]
	port := uint16(in.Ops[1].Read(c))
	dst.Write(c, c.io.IORead(port, dst.Size))
}

func (c *CPU_X86) opOUT(in *X86Instruction) {
	c.checkIOPL()
	src := &in.Ops[1]
	port := uint16(in.Ops[0].Read(c))
	c.io.IOWrite(port, src.Read(c), src.Size)
}

// =============================================================================
// String Operations
// =============================================================================

// x86StringBatch bounds how many REP iterations run before the instruction
// yields to interrupts and timers; it then restarts itself
const x86StringBatch = 4096

func (c *CPU_X86) stringSize(in *X86Instruction) int {
	if in.Opcode&1 == 0 {
		return 1
	}
	return in.OperandSize
}

func (c *CPU_X86) stringSource(in *X86Instruction) int {
	if in.Segment != x86SegNone {
		return in.Segment
	}
	return x86SegDS
}

// advance steps an index register by the element size in the DF direction
func (c *CPU_X86) advance(reg int, in *X86Instruction, size int) {
	delta := uint32(size)
	if c.flags.Get(x86FlagDF) {
		delta = -delta
	}
	c.setReg(in.AddressSize, reg, c.reg(in.AddressSize, reg)+delta)
}

func (c *CPU_X86) runString(in *X86Instruction, once func(c *CPU_X86, in *X86Instruction, size int), compares bool) {
	size := c.stringSize(in)
	if in.Rep == 0 {
		once(c, in, size)
		return
	}
	asize := in.AddressSize
	for n := 0; n < x86StringBatch; n++ {
		count := c.counter(asize)
		if count == 0 {
			return
		}
		once(c, in, size)
		count--
		c.setReg(asize, x86RegECX, count)
		if compares {
			zf := c.flags.Get(x86FlagZF)
			if (in.Rep == 0xF3 && !zf) || (in.Rep == 0xF2 && zf) {
				return
			}
		}
		if count == 0 {
			return
		}
	}
	c.regs.eip.Set(c.instrEIP)
}

func x86MOVSOnce(c *CPU_X86, in *X86Instruction, size int) {
	v := c.readMem(c.stringSource(in), c.reg(in.AddressSize, x86RegESI), size)
	c.writeMem(x86SegES, c.reg(in.AddressSize, x86RegEDI), v, size)
	c.advance(x86RegESI, in, size)
	c.advance(x86RegEDI, in, size)
}

func x86CMPSOnce(c *CPU_X86, in *X86Instruction, size int) {
	a := c.readMem(c.stringSource(in), c.reg(in.AddressSize, x86RegESI), size)
	b := c.readMem(x86SegES, c.reg(in.AddressSize, x86RegEDI), size)
	c.sub(size, a, b, 0)
	c.advance(x86RegESI, in, size)
	c.advance(x86RegEDI, in, size)
}

func x86STOSOnce(c *CPU_X86, in *X86Instruction, size int) {
	c.writeMem(x86SegES, c.reg(in.AddressSize, x86RegEDI), c.reg(size, x86RegEAX), size)
	c.advance(x86RegEDI, in, size)
}

func x86LODSOnce(c *CPU_X86, in *X86Instruction, size int) {
	c.setReg(size, x86RegEAX, c.readMem(c.stringSource(in), c.reg(in.AddressSize, x86RegESI), size))
	c.advance(x86RegESI, in, size)
}

func x86SCASOnce(c *CPU_X86, in *X86Instruction, size int) {
	b := c.readMem(x86SegES, c.reg(in.AddressSize, x86RegEDI), size)
	c.sub(size, c.reg(size, x86RegEAX), b, 0)
	c.advance(x86RegEDI, in, size)
}

func x86INSOnce(c *CPU_X86, in *X86Instruction, size int) {
	v := c.io.IORead(uint16(c.regs.r16[x86RegEDX].Get()), size)
	c.writeMem(x86SegES, c.reg(in.AddressSize, x86RegEDI), v, size)
	c.advance(x86RegEDI, in, size)
}

func x86OUTSOnce(c *CPU_X86, in *X86Instruction, size int) {
	v := c.readMem(c.stringSource(in), c.reg(in.AddressSize, x86RegESI), size)
	c.io.IOWrite(uint16(c.regs.r16[x86RegEDX].Get()), v, size)
	c.advance(x86RegESI, in, size)
}

func (c *CPU_X86) opMOVS(in *X86Instruction) { c.runString(in, x86MOVSOnce, false) }
func (c *CPU_X86) opCMPS(in *X86Instruction) { c.runString(in, x86CMPSOnce, true) }
func (c *CPU_X86) opSTOS(in *X86Instruction) { c.runString(in, x86STOSOnce, false) }
func (c *CPU_X86) opLODS(in *X86Instruction) { c.runString(in, x86LODSOnce, false) }
func (c *CPU_X86) opSCAS(in *X86Instruction) { c.runString(in, x86SCASOnce, true) }

func (c *CPU_X86) opINS(in *X86Instruction) {
	c.checkIOPL()
	c.runString(in, x86INSOnce, false)
}

func (c *CPU_X86) opOUTS(in *X86Instruction) {
	c.checkIOPL()
	c.runString(in, x86OUTSOnce, false)
}

// =============================================================================
// BCD Adjust
// =============================================================================

func (c *CPU_X86) opDAA(in *X86Instruction) {
	al := c.regs.r8[x86RegEAX].Get()
	oldAL, oldCF := al, c.flags.Get(x86FlagCF)
	cf, af := false, false
	if al&0x0F > 9 || c.flags.Get(x86FlagAF) {
		al += 6
		cf = oldCF || oldAL > 0xF9
		af = true
	}
	if oldAL > 0x99 || oldCF {
		al += 0x60
		cf = true
	}
	c.regs.r8[x86RegEAX].Set(c.logic(1, al))
	c.flags.Set(x86FlagCF, cf)
	c.flags.Set(x86FlagAF, af)
}

func (c *CPU_X86) opDAS(in *X86Instruction) {
	al := c.regs.r8[x86RegEAX].Get()
	oldAL, oldCF := al, c.flags.Get(x86FlagCF)
	cf, af := false, false
	if al&0x0F > 9 || c.flags.Get(x86FlagAF) {
		al -= 6
		cf = oldCF || oldAL < 6
		af = true
	}
	if oldAL > 0x99 || oldCF {
		al -= 0x60
		cf = true
	}
	c.regs.r8[x86RegEAX].Set(c.logic(1, al))
	c.flags.Set(x86FlagCF, cf)
	c.flags.Set(x86FlagAF, af)
}

func (c *CPU_X86) opAAA(in *X86Instruction) {
	ax := c.regs.r16[x86RegEAX]
	adjust := ax.Get()&0x0F > 9 || c.flags.Get(x86FlagAF)
	if adjust {
		ax.Set(ax.Get() + 0x106)
	}
	c.regs.r8[x86RegEAX].Set(c.regs.r8[x86RegEAX].Get() & 0x0F)
	c.logic(1, c.regs.r8[x86RegEAX].Get())
	c.flags.Set(x86FlagCF, adjust)
	c.flags.Set(x86FlagAF, adjust)
}

func (c *CPU_X86) opAAS(in *X86Instruction) {
	ax := c.regs.r16[x86RegEAX]
	adjust := ax.Get()&0x0F > 9 || c.flags.Get(x86FlagAF)
	if adjust {
		ax.Set(ax.Get() - 6)
		c.regs.r8[4].Set(c.regs.r8[4].Get() - 1)
	}
	c.regs.r8[x86RegEAX].Set(c.regs.r8[x86RegEAX].Get() & 0x0F)
	c.logic(1, c.regs.r8[x86RegEAX].Get())
	c.flags.Set(x86FlagCF, adjust)
	c.flags.Set(x86FlagAF, adjust)
}

func (c *CPU_X86) opAAM(in *X86Instruction) {
	base := in.Ops[0].Imm & 0xFF
	if base == 0 {
		c.raise(x86FaultNoCode(x86VecDivideError))
	}
	al := c.regs.r8[x86RegEAX].Get()
	c.regs.r8[4].Set(al / base)
	c.regs.r8[x86RegEAX].Set(c.logic(1, al%base))
}

func (c *CPU_X86) opAAD(in *X86Instruction) {
	base := in.Ops[0].Imm & 0xFF
	al := c.regs.r8[x86RegEAX].Get()
	ah := c.regs.r8[4].Get()
	c.regs.r16[x86RegEAX].Set(c.logic(1, al+ah*base))
}

func (c *CPU_X86) opSALC(in *X86Instruction) {
	var v uint32
	if c.flags.Get(x86FlagCF) {
		v = 0xFF
	}
	c.regs.r8[x86RegEAX].Set(v)
}
