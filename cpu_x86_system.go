// cpu_x86_system.go - x86 system instructions, descriptor tables and protected mode control
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	x86CR4TSD = 1 << 2

	x86IDTExternal = 2 // error code bit: the selector indexes the IDT
	x86CPUIDFamily = 0x0400
	x86CPUIDTSC    = 1 << 4
)

// abort stops the CPU with err and unwinds the current instruction
func (c *CPU_X86) abort(err error) {
	c.die(err)
	panic(errX86Abort)
}

func (c *CPU_X86) unsupported(format string, args ...any) {
	c.abort(fmt.Errorf("%w: %s", ErrX86Unsupported, fmt.Sprintf(format, args...)))
}

// requirePrivileged faults instructions reserved to CPL 0
func (c *CPU_X86) requirePrivileged() {
	if c.protected() && c.cpl() != 0 {
		c.raise(x86GP(0))
	}
}

// requireProtected makes protected-mode-only instructions undefined in real
// and virtual-8086 mode
func (c *CPU_X86) requireProtected() {
	if !c.protected() || c.v86() {
		c.raise(x86UD())
	}
}

// =============================================================================
// Descriptor Tables
// =============================================================================

// descriptorAddress returns the linear address of the entry sel names, or a
// #GP when it lies outside the GDT or LDT
func (c *CPU_X86) descriptorAddress(sel X86Selector) (uint32, *X86Fault) {
	base, limit := c.gdtr.Base, uint32(c.gdtr.Limit)
	if sel.LDT() {
		if c.ldtr.Selector.IsNull() {
			return 0, x86GP(sel.ErrorCode())
		}
		base, limit = c.ldtr.Desc.Base, c.ldtr.Desc.Limit
	}
	off := uint32(sel.Index()) * 8
	if off+7 > limit {
		return 0, x86GP(sel.ErrorCode())
	}
	return base + off, nil
}

// readDescriptor implements x86DescriptorSource
func (c *CPU_X86) readDescriptor(sel X86Selector) ([8]byte, *X86Fault) {
	var raw [8]byte
	addr, fault := c.descriptorAddress(sel)
	if fault != nil {
		return raw, fault
	}
	for i := range raw {
		raw[i] = byte(c.mem.ReadLinear(addr+uint32(i), 1))
	}
	return raw, nil
}

// descriptor reads and decodes sel, faulting the instruction on failure
func (c *CPU_X86) descriptor(sel X86Selector) X86SegmentDescriptor {
	raw, fault := c.readDescriptor(sel)
	if fault != nil {
		c.raise(fault)
	}
	return DecodeX86Descriptor(raw)
}

// =============================================================================
// Protected Mode Interrupts
// =============================================================================

// x86Gate is a decoded IDT entry
type x86Gate struct {
	Offset   uint32
	Selector X86Selector
	Type     byte
	DPL      byte
	Present  bool
}

func decodeX86Gate(raw [8]byte) x86Gate {
	return x86Gate{
		Offset:   uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24,
		Selector: X86Selector(uint16(raw[2]) | uint16(raw[3])<<8),
		Type:     raw[5] & 0x1F,
		DPL:      (raw[5] >> 5) & 3,
		Present:  raw[5]&0x80 != 0,
	}
}

// interruptProtected delivers vector through an IDT interrupt or trap gate.
// Only transfers that stay at the current privilege level are supported.
func (c *CPU_X86) interruptProtected(vector byte, errCode *uint32) {
	idtCode := uint32(vector)*8 | x86IDTExternal
	entry := uint32(vector) * 8
	if entry+7 > uint32(c.idtr.Limit) {
		c.abort(fmt.Errorf("%w: vector 0x%02X, IDT limit 0x%04X", ErrX86DoubleFault, vector, c.idtr.Limit))
	}
	var raw [8]byte
	for i := range raw {
		raw[i] = byte(c.mem.ReadLinear(c.idtr.Base+entry+uint32(i), 1))
	}
	gate := decodeX86Gate(raw)

	size := 2
	switch gate.Type {
	case x86SysIntGate32, x86SysTrapGate32:
		size = 4
		fallthrough
	case x86SysIntGate16, x86SysTrapGate16:
		gate.Offset &= x86SizeMask(size)
	case x86SysTaskGate:
		c.unsupported("task gate for vector 0x%02X", vector)
	default:
		c.raise(x86GP(idtCode))
	}
	if !gate.Present {
		c.raise(x86NP(idtCode))
	}
	if gate.Selector.IsNull() {
		c.raise(x86GP(0))
	}

	target := c.descriptor(gate.Selector)
	if !target.IsCode() {
		c.raise(x86GP(gate.Selector.ErrorCode()))
	}
	if !target.Present {
		c.raise(x86NP(gate.Selector.ErrorCode()))
	}
	cpl := c.cpl()
	conforming := target.Type&x86DescDC != 0
	if !conforming && target.DPL < cpl {
		c.unsupported("inter-privilege interrupt from CPL %d to DPL %d, vector 0x%02X", cpl, target.DPL, vector)
	}
	if !conforming && target.DPL > cpl {
		c.raise(x86GP(gate.Selector.ErrorCode()))
	}

	c.push(c.flags.Word(), size)
	c.push(uint32(c.sregs[x86SegCS].Selector()), size)
	c.push(c.eip(), size)
	if errCode != nil {
		c.push(*errCode, size)
	}

	c.flags.Set(x86FlagTF, false)
	c.flags.Set(x86FlagNT, false)
	c.flags.Set(x86FlagRF, false)
	if gate.Type == x86SysIntGate16 || gate.Type == x86SysIntGate32 {
		c.flags.Set(x86FlagIF, false)
	}
	c.sregs[x86SegCS].loadCache(uint16(gate.Selector)&^3|uint16(cpl), target)
	c.regs.eip.Set(gate.Offset)
}

// opIRET returns from an interrupt. In protected mode it may return to an
// outer privilege level; nested task returns and virtual-8086 entry stop
// the CPU.
func (c *CPU_X86) opIRET(in *X86Instruction) {
	size := in.OperandSize
	if !c.protected() {
		ip := c.pop(size)
		cs := uint16(c.pop(size))
		fl := c.pop(size)
		c.loadSegment(x86SegCS, cs)
		c.jump(ip, size)
		c.flags.SetWord(fl, c.popfMask(size))
		return
	}
	if c.v86() {
		c.unsupported("IRET in virtual-8086 mode")
	}
	if c.flags.Get(x86FlagNT) {
		c.unsupported("IRET with NT set (task return)")
	}

	ip := c.pop(size)
	sel := X86Selector(c.pop(size))
	fl := c.pop(size)
	if size == 4 && fl&x86FlagVM != 0 && c.cpl() == 0 {
		c.unsupported("IRET to virtual-8086 mode")
	}
	mask := c.popfMask(size)
	outer := sel.RPL() > c.cpl()
	var esp uint32
	var ss uint16
	if outer {
		esp = c.pop(size)
		ss = uint16(c.pop(size))
	}

	c.loadSegment(x86SegCS, uint16(sel))
	c.jump(ip, size)
	c.flags.SetWord(fl, mask)
	if outer {
		c.loadSegment(x86SegSS, ss)
		c.setSP(esp)
		c.dropPrivilegedSegments()
	}
}

// dropPrivilegedSegments nulls data segment registers the new, less
// privileged CPL may not use
func (c *CPU_X86) dropPrivilegedSegments() {
	cpl := c.cpl()
	for _, idx := range []int{x86SegES, x86SegDS, x86SegFS, x86SegGS} {
		d := c.sregs[idx].Descriptor()
		if !d.Present {
			continue
		}
		conformingCode := d.IsCode() && d.Type&x86DescDC != 0
		if !conformingCode && d.DPL < cpl {
			c.sregs[idx].loadCache(0, X86SegmentDescriptor{})
		}
	}
}

// =============================================================================
// Control Registers
// =============================================================================

func (c *CPU_X86) writeCR(n int, v uint32) {
	switch n {
	case 0:
		if v&x86CR0PG != 0 {
			c.unsupported("paging (CR0.PG)")
		}
		old := c.cr[0]
		c.cr[0] = v | x86CR0ET
		if (old^v)&x86CR0PE != 0 {
			msg := "returned to real mode"
			if v&x86CR0PE != 0 {
				msg = "entered protected mode"
			}
			c.log.WithFields(logrus.Fields{
				"cr0": fmt.Sprintf("0x%08X", c.cr[0]),
				"eip": fmt.Sprintf("0x%08X", c.instrEIP),
			}).Info(msg)
		}
	case 2, 3, 4:
		c.cr[n] = v
	default:
		c.raise(x86UD())
	}
}

func (c *CPU_X86) opMOVControl(in *X86Instruction) {
	c.requirePrivileged()
	in.Ops[0].Write(c, in.Ops[1].Read(c))
}

func (c *CPU_X86) opCLTS(in *X86Instruction) {
	c.requirePrivileged()
	c.cr[0] &^= x86CR0TS
}

func (c *CPU_X86) opSMSW(in *X86Instruction) {
	in.Ops[0].Write(c, c.cr[0])
}

// opLMSW loads the low four CR0 bits; it can set PE but never clear it
func (c *CPU_X86) opLMSW(in *X86Instruction) {
	c.requirePrivileged()
	src := in.Ops[0].Read(c)
	c.writeCR(0, c.cr[0]&^0xE|src&0xF)
}

// =============================================================================
// GDT, IDT, LDT and TR
// =============================================================================

func (c *CPU_X86) loadTable(in *X86Instruction, t *X86TableRegister) {
	c.requirePrivileged()
	m := &in.Ops[0]
	ea := c.effectiveAddress(m)
	limit := c.readMem(m.Seg, ea, 2)
	base := c.readMem(m.Seg, (ea+2)&x86SizeMask(m.AddrSize), 4)
	if in.OperandSize == 2 {
		base &= 0xFFFFFF
	}
	t.Base, t.Limit = base, uint16(limit)
}

func (c *CPU_X86) storeTable(in *X86Instruction, t X86TableRegister) {
	m := &in.Ops[0]
	ea := c.effectiveAddress(m)
	base := t.Base
	if in.OperandSize == 2 {
		base &= 0xFFFFFF
	}
	c.writeMem(m.Seg, ea, uint32(t.Limit), 2)
	c.writeMem(m.Seg, (ea+2)&x86SizeMask(m.AddrSize), base, 4)
}

func (c *CPU_X86) opLGDT(in *X86Instruction) { c.loadTable(in, &c.gdtr) }
func (c *CPU_X86) opLIDT(in *X86Instruction) { c.loadTable(in, &c.idtr) }
func (c *CPU_X86) opSGDT(in *X86Instruction) { c.storeTable(in, c.gdtr) }
func (c *CPU_X86) opSIDT(in *X86Instruction) { c.storeTable(in, c.idtr) }

// systemDescriptor fetches a GDT-resident system descriptor for LLDT/LTR
func (c *CPU_X86) systemDescriptor(sel X86Selector, types ...byte) X86SegmentDescriptor {
	if sel.LDT() {
		c.raise(x86GP(sel.ErrorCode()))
	}
	d := c.descriptor(sel)
	valid := false
	for _, t := range types {
		valid = valid || (d.System && d.Type == t)
	}
	if !valid {
		c.raise(x86GP(sel.ErrorCode()))
	}
	if !d.Present {
		c.raise(x86NP(sel.ErrorCode()))
	}
	return d
}

func (c *CPU_X86) opLLDT(in *X86Instruction) {
	c.requireProtected()
	c.requirePrivileged()
	sel := X86Selector(in.Ops[0].Read(c))
	if sel.IsNull() {
		c.ldtr = X86SystemSegment{Selector: sel}
		return
	}
	c.ldtr = X86SystemSegment{Selector: sel, Desc: c.systemDescriptor(sel, x86SysLDT)}
}

// opLTR loads the task register and marks the TSS busy in the GDT
func (c *CPU_X86) opLTR(in *X86Instruction) {
	c.requireProtected()
	c.requirePrivileged()
	sel := X86Selector(in.Ops[0].Read(c))
	if sel.IsNull() {
		c.raise(x86GP(0))
	}
	d := c.systemDescriptor(sel, x86SysTSS16Avail, x86SysTSS32Avail)
	addr, _ := c.descriptorAddress(sel)
	access := c.mem.ReadLinear(addr+5, 1)
	c.mem.WriteLinear(addr+5, access|x86SysTSSBusyFlag, 1)
	d.Type |= x86SysTSSBusyFlag
	c.tr = X86SystemSegment{Selector: sel, Desc: d}
}

func (c *CPU_X86) opSLDT(in *X86Instruction) {
	c.requireProtected()
	in.Ops[0].Write(c, uint32(c.ldtr.Selector))
}

func (c *CPU_X86) opSTR(in *X86Instruction) {
	c.requireProtected()
	in.Ops[0].Write(c, uint32(c.tr.Selector))
}

// =============================================================================
// Descriptor Queries
// =============================================================================

// accessible reports whether a non-conforming descriptor may be used at
// max(CPL, RPL)
func (c *CPU_X86) accessible(sel X86Selector, d X86SegmentDescriptor) bool {
	if d.IsCode() && d.Type&x86DescDC != 0 {
		return true
	}
	return d.DPL >= max(c.cpl(), sel.RPL())
}

// queryDescriptor reads sel for VERR/VERW/LAR/LSL, which report problems in
// ZF instead of faulting
func (c *CPU_X86) queryDescriptor(sel X86Selector) ([8]byte, X86SegmentDescriptor, bool) {
	if sel.IsNull() {
		return [8]byte{}, X86SegmentDescriptor{}, false
	}
	raw, fault := c.readDescriptor(sel)
	if fault != nil {
		return raw, X86SegmentDescriptor{}, false
	}
	return raw, DecodeX86Descriptor(raw), true
}

func (c *CPU_X86) opVERR(in *X86Instruction) {
	c.requireProtected()
	sel := X86Selector(in.Ops[0].Read(c))
	_, d, ok := c.queryDescriptor(sel)
	c.flags.Set(x86FlagZF, ok && d.Readable() && c.accessible(sel, d))
}

func (c *CPU_X86) opVERW(in *X86Instruction) {
	c.requireProtected()
	sel := X86Selector(in.Ops[0].Read(c))
	_, d, ok := c.queryDescriptor(sel)
	c.flags.Set(x86FlagZF, ok && d.Writable() && c.accessible(sel, d))
}

func (c *CPU_X86) opLAR(in *X86Instruction) {
	c.requireProtected()
	sel := X86Selector(in.Ops[1].Read(c))
	raw, d, ok := c.queryDescriptor(sel)
	if ok && d.System {
		switch d.Type {
		case x86SysTSS16Avail, x86SysLDT, x86SysTSS16Busy, x86SysCallGate16,
			x86SysTaskGate, x86SysTSS32Avail, x86SysTSS32Busy, x86SysCallGate32:
		default:
			ok = false
		}
	}
	if !ok || !c.accessible(sel, d) {
		c.flags.Set(x86FlagZF, false)
		return
	}
	rights := uint32(raw[5])<<8 | uint32(raw[6]&0xF0)<<16
	in.Ops[0].Write(c, rights)
	c.flags.Set(x86FlagZF, true)
}

func (c *CPU_X86) opLSL(in *X86Instruction) {
	c.requireProtected()
	sel := X86Selector(in.Ops[1].Read(c))
	_, d, ok := c.queryDescriptor(sel)
	if ok && d.System {
		switch d.Type {
		case x86SysTSS16Avail, x86SysLDT, x86SysTSS16Busy, x86SysTSS32Avail, x86SysTSS32Busy:
		default:
			ok = false
		}
	}
	if !ok || !c.accessible(sel, d) {
		c.flags.Set(x86FlagZF, false)
		return
	}
	in.Ops[0].Write(c, d.Limit)
	c.flags.Set(x86FlagZF, true)
}

// =============================================================================
// Cache, TLB and Identification
// =============================================================================

// opINVLPG has no TLB to flush without paging
func (c *CPU_X86) opINVLPG(in *X86Instruction) {
	c.requirePrivileged()
}

func (c *CPU_X86) opCacheControl(in *X86Instruction) {
	c.requirePrivileged()
}

func (c *CPU_X86) opCPUID(in *X86Instruction) {
	eax, ebx, ecx, edx := uint32(0), uint32(0), uint32(0), uint32(0)
	switch c.regs.r32[x86RegEAX].Get() {
	case 0:
		eax = 1
		ebx = 0x756E6547 // "Genu"
		edx = 0x49656E69 // "ineI"
		ecx = 0x6C65746E // "ntel"
	case 1:
		eax = x86CPUIDFamily
		edx = x86CPUIDTSC
	}
	c.regs.r32[x86RegEAX].Set(eax)
	c.regs.r32[x86RegEBX].Set(ebx)
	c.regs.r32[x86RegECX].Set(ecx)
	c.regs.r32[x86RegEDX].Set(edx)
}

// opRDTSC reports retired instructions as the time-stamp counter
func (c *CPU_X86) opRDTSC(in *X86Instruction) {
	if c.cr[4]&x86CR4TSD != 0 && c.protected() && c.cpl() != 0 {
		c.raise(x86GP(0))
	}
	c.regs.r32[x86RegEAX].Set(uint32(c.InstructionCount))
	c.regs.r32[x86RegEDX].Set(uint32(c.InstructionCount >> 32))
}
