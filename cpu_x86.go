// cpu_x86.go - Intel x86 CPU core (8086 base + 386 32-bit and protected mode)
//
// This implements the execution engine:
// - Register file with aliased sub-registers and lazily evaluated flags
// - Segmentation with descriptor caches, Real and Protected mode
// - Decode-once instruction cache keyed by physical address
// - Interrupt and exception dispatch through the IVT/IDT
// - Port I/O through an external I/O bus
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// X86IOBus is the port address space seen by IN/OUT
type X86IOBus interface {
	IORead(port uint16, size int) uint32
	IOWrite(port uint16, value uint32, size int)
}

// X86InterruptController is the maskable interrupt source (an 8259 in a
// full machine). AcknowledgeInterrupt is called only after InterruptPending
// returned true and returns the vector to dispatch.
type X86InterruptController interface {
	InterruptPending() bool
	AcknowledgeInterrupt() byte
}

// Control register bits
const (
	x86CR0PE = 1 << 0
	x86CR0MP = 1 << 1
	x86CR0EM = 1 << 2
	x86CR0TS = 1 << 3
	x86CR0ET = 1 << 4
	x86CR0NE = 1 << 5
	x86CR0WP = 1 << 16
	x86CR0AM = 1 << 18
	x86CR0NW = 1 << 29
	x86CR0CD = 1 << 30
	x86CR0PG = 1 << 31
)

// Reset values
const (
	x86ResetCS  = 0xF000
	x86ResetEIP = 0xFFF0
	x86ResetDX  = 0x0400 // family 4 signature
)

// CPU_X86 represents the x86 CPU state
type CPU_X86 struct {
	regs  *x86RegisterFile
	sregs [6]*X86SegRegister
	flags x86Flags

	cr   [5]uint32
	dr   [8]uint32
	gdtr X86TableRegister
	idtr X86TableRegister
	ldtr X86SystemSegment
	tr   X86SystemSegment

	mem *MachineBus
	io  X86IOBus
	irq X86InterruptController

	// Current instruction state
	instrEIP  uint32
	codeBase  uint32
	codeBig   bool
	fetchByte func(off uint32) byte
	shadow    bool // STI / MOV SS: hold off interrupts for one instruction
	vectored  bool // the current instruction transferred through the IVT/IDT

	// Execution state
	halted           bool
	fatal            error
	InstructionCount uint64

	decodeCache bool

	log logrus.FieldLogger
}

// NewCPU_X86 creates a CPU attached to physical memory and an I/O bus, in
// its power-on state
func NewCPU_X86(mem *MachineBus, io X86IOBus, log logrus.FieldLogger) *CPU_X86 {
	c := &CPU_X86{
		regs:        newX86RegisterFile(),
		mem:         mem,
		io:          io,
		decodeCache: true,
		log:         componentLog(log, "x86"),
	}
	for i := range c.sregs {
		c.sregs[i] = newX86SegRegister(i)
	}
	c.fetchByte = c.codeByte
	c.Reset()
	return c
}

// Reset initializes the CPU to its power-on state: Real mode, CS:IP F000:FFF0
func (c *CPU_X86) Reset() {
	c.regs.reset()
	c.flags.reset()
	c.cr = [5]uint32{}
	c.dr = [8]uint32{}
	c.gdtr.reset()
	c.idtr.reset()
	c.ldtr = X86SystemSegment{}
	c.tr = X86SystemSegment{}
	for i, s := range c.sregs {
		if i == x86SegCS {
			s.synthesize(x86ResetCS)
		} else {
			s.synthesize(0)
		}
	}
	c.regs.eip.Set(x86ResetEIP)
	c.regs.r32[x86RegEDX].Set(x86ResetDX)
	c.halted = false
	c.fatal = nil
	c.shadow = false
	c.InstructionCount = 0
}

// SetInterruptController attaches the maskable interrupt source
func (c *CPU_X86) SetInterruptController(irq X86InterruptController) {
	c.irq = irq
}

// SetDecodeCache enables or disables reuse of decoded instructions
func (c *CPU_X86) SetDecodeCache(enabled bool) {
	c.decodeCache = enabled
	if !enabled {
		c.mem.FlushDecodeCache()
	}
}

// -----------------------------------------------------------------------------
// Mode
// -----------------------------------------------------------------------------

func (c *CPU_X86) protected() bool { return c.cr[0]&x86CR0PE != 0 }
func (c *CPU_X86) v86() bool       { return c.protected() && c.flags.word&x86FlagVM != 0 }

// cpl is the current privilege level: CS.RPL in protected mode
func (c *CPU_X86) cpl() byte {
	switch {
	case !c.protected():
		return 0
	case c.v86():
		return 3
	}
	return c.sregs[x86SegCS].Selector().RPL()
}

// synthesizedSegments implements x86DescriptorSource
func (c *CPU_X86) synthesizedSegments() bool {
	return !c.protected() || c.v86()
}

// ProtectedMode reports whether CR0.PE is set
func (c *CPU_X86) ProtectedMode() bool { return c.protected() }

// CPL returns the current privilege level
func (c *CPU_X86) CPL() byte { return c.cpl() }

// InterruptPending reports whether the attached controller has a line raised
func (c *CPU_X86) InterruptPending() bool {
	return c.irq != nil && c.irq.InterruptPending()
}

// Halted reports whether the CPU is waiting in HLT (or stopped by a fatal error)
func (c *CPU_X86) Halted() bool { return c.halted }

// Fatal returns the error that stopped the CPU, if any
func (c *CPU_X86) Fatal() error { return c.fatal }

// die records a fatal engine condition; the CPU executes nothing further
func (c *CPU_X86) die(err error) {
	if c.fatal != nil {
		return
	}
	c.fatal = err
	c.halted = true
	c.log.WithFields(logrus.Fields{
		"cs":  fmt.Sprintf("0x%04X", uint16(c.sregs[x86SegCS].Selector())),
		"eip": fmt.Sprintf("0x%08X", c.instrEIP),
	}).WithError(err).Error("CPU stopped")
}

// raise aborts the executing instruction with an architectural fault
func (c *CPU_X86) raise(f *X86Fault) {
	panic(f)
}

// raiseError raises err as a fault when it is one, else stops the CPU
func (c *CPU_X86) raiseError(err error) {
	var f *X86Fault
	if errors.As(err, &f) {
		c.raise(f)
	}
	c.die(err)
	panic(errX86Abort)
}

// errX86Abort unwinds an instruction after die
var errX86Abort = &X86Fault{Vector: 0xFF}

// -----------------------------------------------------------------------------
// Register access
// -----------------------------------------------------------------------------

func (c *CPU_X86) reg(size, idx int) uint32 {
	return c.regs.byOrdinal(size, idx).Get()
}

func (c *CPU_X86) setReg(size, idx int, v uint32) {
	c.regs.byOrdinal(size, idx).Set(v)
}

func (c *CPU_X86) eip() uint32 { return c.regs.eip.value }

// jump sets EIP to target truncated to the operand size
func (c *CPU_X86) jump(target uint32, size int) {
	c.regs.eip.Set(target & x86SizeMask(size))
}

// Register returns a general register, alias, EIP or EFLAGS by name
func (c *CPU_X86) Register(name string) (uint32, bool) {
	switch strings.ToUpper(name) {
	case "EFLAGS", "FLAGS":
		return c.flags.Word(), true
	}
	if r, ok := c.regs.Lookup(name); ok {
		return r.Get(), true
	}
	for i, n := range x86SegNames {
		if strings.EqualFold(n, name) {
			return uint32(c.sregs[i].Selector()), true
		}
	}
	return 0, false
}

// SetRegister writes a general register, alias, EIP or EFLAGS by name.
// Segment registers go through LoadSegment.
func (c *CPU_X86) SetRegister(name string, v uint32) bool {
	switch strings.ToUpper(name) {
	case "EFLAGS", "FLAGS":
		c.flags.SetWord(v, x86FlagsWritable|x86FlagVM)
		return true
	}
	if r, ok := c.regs.Lookup(name); ok {
		r.Set(v)
		return true
	}
	return false
}

// Segment returns segment register idx (x86SegES..x86SegGS)
func (c *CPU_X86) Segment(idx int) *X86SegRegister { return c.sregs[idx] }

// LoadSegment loads a segment register as a MOV would
func (c *CPU_X86) LoadSegment(idx int, sel uint16) error {
	return c.sregs[idx].Load(sel, c)
}

// EIP returns the instruction pointer
func (c *CPU_X86) EIP() uint32 { return c.eip() }

// SetEIP moves the instruction pointer
func (c *CPU_X86) SetEIP(v uint32) { c.regs.eip.Set(v) }

// Flags returns EFLAGS with every lazy flag materialized
func (c *CPU_X86) Flags() uint32 { return c.flags.Word() }

// Flag returns one EFLAGS bit
func (c *CPU_X86) Flag(bit uint32) bool { return c.flags.Get(bit) }

// SetFlag forces one EFLAGS bit
func (c *CPU_X86) SetFlag(bit uint32, v bool) { c.flags.Set(bit, v) }

// CR returns control register n
func (c *CPU_X86) CR(n int) uint32 { return c.cr[n] }

// GDTR returns the global descriptor table register
func (c *CPU_X86) GDTR() X86TableRegister { return c.gdtr }

// IDTR returns the interrupt descriptor table register
func (c *CPU_X86) IDTR() X86TableRegister { return c.idtr }

// -----------------------------------------------------------------------------
// Memory access
// -----------------------------------------------------------------------------

// checkSegment validates a data access through seg: presence and limit in
// every mode, read/write permission in protected mode. Violations raise #SS
// for the stack segment and #GP otherwise.
func (c *CPU_X86) checkSegment(seg int, off uint32, size int, write bool) {
	d := c.sregs[seg].Descriptor()
	ok := d.Present && d.InLimit(off, size)
	if ok && c.protected() && !c.v86() {
		ok = d.Readable() && !write || d.Writable() && write
	}
	if ok {
		return
	}
	if seg == x86SegSS {
		c.raise(x86SS(0))
	}
	c.raise(x86GP(0))
}

func (c *CPU_X86) readMem(seg int, off uint32, size int) uint32 {
	c.checkSegment(seg, off, size, false)
	return c.mem.ReadLinear(c.sregs[seg].Base()+off, size)
}

func (c *CPU_X86) writeMem(seg int, off uint32, v uint32, size int) {
	c.checkSegment(seg, off, size, true)
	c.mem.WriteLinear(c.sregs[seg].Base()+off, v, size)
}

// codeByte fetches one byte at a CS offset for the decoder
func (c *CPU_X86) codeByte(off uint32) byte {
	if !c.codeBig {
		off &= 0xFFFF
	}
	return byte(c.mem.ReadLinear(c.codeBase+off, 1))
}

// loadSegment loads a segment register, faulting the instruction on failure
func (c *CPU_X86) loadSegment(idx int, sel uint16) {
	if err := c.sregs[idx].Load(sel, c); err != nil {
		c.raiseError(err)
	}
	if idx == x86SegSS {
		c.shadow = true
	}
}

// -----------------------------------------------------------------------------
// Stack
// -----------------------------------------------------------------------------

func (c *CPU_X86) stackMask() uint32 {
	if c.sregs[x86SegSS].Big() {
		return 0xFFFFFFFF
	}
	return 0xFFFF
}

func (c *CPU_X86) sp() uint32 {
	return c.regs.r32[x86RegESP].value & c.stackMask()
}

func (c *CPU_X86) setSP(v uint32) {
	if c.sregs[x86SegSS].Big() {
		c.regs.r32[x86RegESP].Set(v)
		return
	}
	c.regs.r16[x86RegESP].Set(v)
}

// x86StackOperand rounds a push/pop width up to 2 or 4 bytes, sign-extending
// the value when it grows
func x86StackOperand(v uint32, size int) (uint32, int) {
	switch size {
	case 1:
		return x86SignExtend(v, 1) & 0xFFFF, 2
	case 2:
		return v & 0xFFFF, 2
	case 3:
		return uint32(int32(v<<8) >> 8), 4
	case 4:
		return v, 4
	}
	panic(x86Violation("stack", "unsupported width %d", size))
}

// push decrements (E)SP by the rounded width and stores v at SS:(E)SP
func (c *CPU_X86) push(v uint32, size int) {
	v, size = x86StackOperand(v, size)
	sp := (c.sp() - uint32(size)) & c.stackMask()
	c.writeMem(x86SegSS, sp, v, size)
	c.setSP(sp)
}

// pop loads from SS:(E)SP and increments (E)SP by the rounded width. A 1 or
// 3 byte pop reads the rounded width and sign-extends the requested bytes.
func (c *CPU_X86) pop(size int) uint32 {
	_, width := x86StackOperand(0, size)
	sp := c.sp()
	v := c.readMem(x86SegSS, sp, width)
	c.setSP(sp + uint32(width))
	switch size {
	case 1:
		return x86SignExtend(v, 1) & 0xFFFF
	case 3:
		return uint32(int32(v<<8) >> 8)
	}
	return v
}

// Push is push for host tools and tests
func (c *CPU_X86) Push(v uint32, size int) { c.push(v, size) }

// Pop is pop for host tools and tests
func (c *CPU_X86) Pop(size int) uint32 { return c.pop(size) }

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

// fetchInstruction decodes (or reuses) the instruction at CS:instrEIP
func (c *CPU_X86) fetchInstruction() (*X86Instruction, error) {
	cs := c.sregs[x86SegCS]
	c.codeBase, c.codeBig = cs.Base(), cs.Big()
	phys := c.mem.Translate(c.codeBase + c.instrEIP)

	if c.decodeCache {
		if in := c.mem.cachedInstruction(phys); in != nil && in.DefaultBig == c.codeBig {
			return in, nil
		}
	}
	in, err := DecodeX86(c.fetchByte, c.instrEIP, c.codeBig)
	if err != nil {
		return nil, err
	}
	if c.decodeCache {
		last := uint32(in.Length) - 1
		contiguous := c.mem.Translate(c.codeBase+c.instrEIP+last) == phys+last
		if contiguous && (c.codeBig || c.instrEIP+last <= 0xFFFF) {
			c.mem.cacheInstruction(phys, in)
		}
	}
	return in, nil
}

// PeekInstruction decodes the instruction at CS:EIP without executing it
func (c *CPU_X86) PeekInstruction() (*X86Instruction, error) {
	cs := c.sregs[x86SegCS]
	c.codeBase, c.codeBig = cs.Base(), cs.Big()
	return DecodeX86(c.fetchByte, c.eip(), c.codeBig)
}

// execute runs a handler, catching a raised fault
func (c *CPU_X86) execute(in *X86Instruction) (fault *X86Fault) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*X86Fault)
			if !ok {
				panic(r)
			}
			fault = f
		}
	}()
	in.Info.Exec(c, in)
	return nil
}

// Step executes one instruction and then, at the instruction boundary,
// services the single-step trap and any pending maskable interrupt. It
// returns a non-nil error once the CPU has hit a fatal condition. A guest
// access that reaches past installed memory is one: the bus violation stops
// the CPU instead of unwinding into the host.
func (c *CPU_X86) Step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok := r.(*X86ContractViolation)
			if !ok {
				panic(r)
			}
			c.die(v)
			err = c.fatal
		}
	}()
	if c.fatal != nil {
		return c.fatal
	}
	if c.halted {
		c.serviceInterrupts()
		return c.fatal
	}

	c.instrEIP = c.eip()
	savedESP := c.regs.r32[x86RegESP].value
	trap := c.flags.Get(x86FlagTF)
	c.vectored = false

	var fault *X86Fault
	in, err := c.fetchInstruction()
	if err != nil {
		fault = c.decodeFault(err)
	} else {
		next := c.instrEIP + uint32(in.Length)
		if !c.codeBig {
			next &= 0xFFFF
		}
		c.regs.eip.Set(next)
		fault = c.execute(in)
	}
	c.InstructionCount++

	inhibit := c.shadow
	c.shadow = false

	if fault != nil {
		if fault == errX86Abort {
			return c.fatal
		}
		// faults restart the instruction with the stack it started with
		c.regs.r32[x86RegESP].Set(savedESP)
		c.regs.eip.Set(c.instrEIP)
		c.deliverFault(fault)
		return c.fatal
	}
	if trap && !c.vectored && c.fatal == nil {
		c.dispatch(x86VecDebug, nil)
		return c.fatal
	}
	if !inhibit {
		c.serviceInterrupts()
	}
	return c.fatal
}

func (c *CPU_X86) decodeFault(err error) *X86Fault {
	c.log.WithField("eip", fmt.Sprintf("0x%08X", c.instrEIP)).WithError(err).Debug("decode failed")
	// an over-long instruction is reported like any other undecodable one
	return x86UD()
}

// serviceInterrupts dispatches a pending maskable interrupt when IF allows
func (c *CPU_X86) serviceInterrupts() {
	if c.fatal != nil || c.irq == nil || !c.flags.Get(x86FlagIF) || !c.irq.InterruptPending() {
		return
	}
	vector := c.irq.AcknowledgeInterrupt()
	c.halted = false
	c.dispatch(vector, nil)
}

func (c *CPU_X86) deliverFault(f *X86Fault) {
	c.log.WithFields(logrus.Fields{
		"vector": f.Vector,
		"cs":     fmt.Sprintf("0x%04X", uint16(c.sregs[x86SegCS].Selector())),
		"eip":    fmt.Sprintf("0x%08X", c.instrEIP),
	}).Debug(f.Error())
	if f.HasErrorCode && c.protected() {
		code := f.ErrorCode
		c.dispatch(f.Vector, &code)
		return
	}
	c.dispatch(f.Vector, nil)
}

// dispatch delivers an interrupt between instructions. A fault raised while
// delivering cannot be reported to the guest and stops the CPU.
func (c *CPU_X86) dispatch(vector byte, errCode *uint32) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*X86Fault)
			if !ok {
				panic(r)
			}
			if f != errX86Abort {
				c.die(fmt.Errorf("%w: %v while delivering vector 0x%02X", ErrX86DoubleFault, f, vector))
			}
		}
	}()
	c.interrupt(vector, errCode)
}

// interrupt transfers control through the IVT or IDT. Pushed return address
// is the current EIP: the next instruction for traps and software interrupts,
// the faulting instruction for faults.
func (c *CPU_X86) interrupt(vector byte, errCode *uint32) {
	c.vectored = true
	if c.protected() {
		c.interruptProtected(vector, errCode)
		return
	}
	c.interruptReal(vector)
}

func (c *CPU_X86) interruptReal(vector byte) {
	entry := uint32(vector) * 4
	if entry+3 > uint32(c.idtr.Limit) {
		c.die(fmt.Errorf("%w: vector 0x%02X, IVT limit 0x%04X", ErrX86DoubleFault, vector, c.idtr.Limit))
		return
	}
	ip := c.mem.ReadLinear(c.idtr.Base+entry, 2)
	cs := c.mem.ReadLinear(c.idtr.Base+entry+2, 2)

	c.push(c.flags.Word(), 2)
	c.push(uint32(c.sregs[x86SegCS].Selector()), 2)
	c.push(c.eip(), 2)
	c.flags.Set(x86FlagIF, false)
	c.flags.Set(x86FlagTF, false)
	c.flags.Set(x86FlagAC, false)

	c.sregs[x86SegCS].synthesize(uint16(cs))
	c.regs.eip.Set(ip)
}
