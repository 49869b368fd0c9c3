// debug_cpu_x86.go - X86 debug adapter: registers, memory, breakpoints and state dumps

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/k0kubun/pp/v3"
)

// DebugX86 exposes a PCSystem's CPU to breakpoint conditions and the CLI.
// Addresses are linear; translation goes through the A20 gate only.
type DebugX86 struct {
	sys *PCSystem

	bpMu        sync.RWMutex
	breakpoints map[uint64]*ConditionalBreakpoint
}

func NewDebugX86(sys *PCSystem) *DebugX86 {
	return &DebugX86{
		sys:         sys,
		breakpoints: make(map[uint64]*ConditionalBreakpoint),
	}
}

func (d *DebugX86) CPUName() string   { return "x86" }
func (d *DebugX86) AddressWidth() int { return 32 }

func (d *DebugX86) GetRegisters() []RegisterInfo {
	c := d.sys.CPU
	regs := make([]RegisterInfo, 0, 24)
	for _, name := range x86Reg32Names {
		v, _ := c.Register(name)
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 32, Value: uint64(v), Group: "general"})
	}
	regs = append(regs,
		RegisterInfo{Name: "EIP", BitWidth: 32, Value: uint64(c.EIP()), Group: "general"},
		RegisterInfo{Name: "EFLAGS", BitWidth: 32, Value: uint64(c.Flags()), Group: "flags"},
	)
	for i, name := range x86SegNames {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 16, Value: uint64(c.Segment(i).Selector()), Group: "segment"})
	}
	for _, n := range []int{0, 2, 3, 4} {
		regs = append(regs, RegisterInfo{Name: fmt.Sprintf("CR%d", n), BitWidth: 32, Value: uint64(c.CR(n)), Group: "control"})
	}
	return regs
}

func (d *DebugX86) GetRegister(name string) (uint64, bool) {
	c := d.sys.CPU
	if n, ok := strings.CutPrefix(strings.ToUpper(name), "CR"); ok {
		switch n {
		case "0", "2", "3", "4":
			return uint64(c.CR(int(n[0] - '0'))), true
		}
		return 0, false
	}
	v, ok := c.Register(name)
	return uint64(v), ok
}

// SetRegister writes a general register, EIP or EFLAGS; segment registers
// are reloaded as a MOV would.
func (d *DebugX86) SetRegister(name string, value uint64) bool {
	if idx := segmentIndex(name); idx >= 0 {
		return d.sys.CPU.LoadSegment(idx, uint16(value)) == nil
	}
	return d.sys.CPU.SetRegister(name, uint32(value))
}

// GetPC is the linear address of CS:EIP
func (d *DebugX86) GetPC() uint64 {
	c := d.sys.CPU
	return uint64(c.Segment(x86SegCS).Base() + c.EIP())
}

func (d *DebugX86) Disassemble(addr uint64, count int) []DisassembledLine {
	fetch := func(off uint32) byte {
		data := d.ReadMemory(uint64(off), 1)
		if len(data) == 0 {
			return 0xFF
		}
		return data[0]
	}
	return DisassembleX86(fetch, uint32(addr), count, d.sys.CPU.Segment(x86SegCS).Big())
}

func (d *DebugX86) SetBreakpoint(addr uint64) bool {
	return d.SetConditionalBreakpoint(addr, nil)
}

func (d *DebugX86) SetConditionalBreakpoint(addr uint64, cond *BreakpointCondition) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints[addr] = &ConditionalBreakpoint{Address: addr, Condition: cond}
	return true
}

func (d *DebugX86) ClearBreakpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.breakpoints[addr]; !ok {
		return false
	}
	delete(d.breakpoints, addr)
	return true
}

func (d *DebugX86) ClearAllBreakpoints() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	clear(d.breakpoints)
}

func (d *DebugX86) ListBreakpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	addrs := make([]uint64, 0, len(d.breakpoints))
	for addr := range d.breakpoints {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

func (d *DebugX86) HasBreakpoint(addr uint64) bool {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	_, ok := d.breakpoints[addr]
	return ok
}

// CheckBreakpoint is called before each instruction. It counts a hit on the
// breakpoint at CS:EIP, if any, and reports whether its condition holds.
func (d *DebugX86) CheckBreakpoint() (BreakpointEvent, bool) {
	pc := d.GetPC()
	d.bpMu.RLock()
	bp := d.breakpoints[pc]
	d.bpMu.RUnlock()
	if bp == nil {
		return BreakpointEvent{}, false
	}
	bp.HitCount++
	if !evaluateConditionWithHitCount(bp.Condition, d, bp.HitCount) {
		return BreakpointEvent{}, false
	}
	return BreakpointEvent{Address: pc, HitCount: bp.HitCount}, true
}

// ReadMemory returns up to size bytes at a linear address; bytes beyond
// installed RAM are not returned.
func (d *DebugX86) ReadMemory(addr uint64, size int) []byte {
	bus := d.sys.Bus
	out := make([]byte, 0, size)
	for i := range size {
		phys := bus.Translate(uint32(addr) + uint32(i))
		if phys >= bus.Size() {
			break
		}
		out = append(out, byte(bus.Read(phys, 1)))
	}
	return out
}

// WriteMemory bypasses ROM protection, like a monitor poke
func (d *DebugX86) WriteMemory(addr uint64, data []byte) {
	bus := d.sys.Bus
	for i, b := range data {
		phys := bus.Translate(uint32(addr) + uint32(i))
		if err := bus.WriteBytes(phys, []byte{b}); err != nil {
			return
		}
	}
}

// -----------------------------------------------------------------------------
// State snapshot
// -----------------------------------------------------------------------------

// X86SegmentState is one segment register with its hidden cache
type X86SegmentState struct {
	Name     string
	Selector string
	Base     string
	Limit    string
	Type     byte
	DPL      byte
	Big      bool
	Present  bool
}

// X86StateSnapshot is a read-only view of the machine for --dump-state
type X86StateSnapshot struct {
	Mode         string
	CPL          byte
	Halted       bool
	Fatal        string
	Instructions uint64
	Registers    map[string]string
	Flags        string
	Segments     []X86SegmentState
	GDTR         string
	IDTR         string
	LDTR         string
	TR           string
	A20          bool
	DecodeCache  int
	POST         string
	Ports        []string
}

var x86FlagNames = []struct {
	bit  uint32
	name string
}{
	{x86FlagCF, "CF"}, {x86FlagPF, "PF"}, {x86FlagAF, "AF"}, {x86FlagZF, "ZF"},
	{x86FlagSF, "SF"}, {x86FlagTF, "TF"}, {x86FlagIF, "IF"}, {x86FlagDF, "DF"},
	{x86FlagOF, "OF"}, {x86FlagNT, "NT"}, {x86FlagRF, "RF"}, {x86FlagVM, "VM"},
}

// formatX86Flags lists the set flags plus IOPL
func formatX86Flags(word uint32) string {
	var set []string
	for _, f := range x86FlagNames {
		if word&f.bit != 0 {
			set = append(set, f.name)
		}
	}
	set = append(set, fmt.Sprintf("IOPL=%d", (word>>12)&3))
	return strings.Join(set, " ")
}

// SnapshotX86 captures the state of sys
func SnapshotX86(sys *PCSystem) X86StateSnapshot {
	c := sys.CPU
	mode := "real"
	switch {
	case c.v86():
		mode = "virtual-8086"
	case c.protected():
		mode = "protected"
	}
	snap := X86StateSnapshot{
		Mode:         mode,
		CPL:          c.CPL(),
		Halted:       c.Halted(),
		Instructions: c.InstructionCount,
		Registers:    make(map[string]string),
		Flags:        formatX86Flags(c.Flags()),
		GDTR:         fmt.Sprintf("base=0x%08X limit=0x%04X", c.gdtr.Base, c.gdtr.Limit),
		IDTR:         fmt.Sprintf("base=0x%08X limit=0x%04X", c.idtr.Base, c.idtr.Limit),
		LDTR:         c.ldtr.Selector.String(),
		TR:           c.tr.Selector.String(),
		A20:          sys.Bus.A20Enabled(),
		DecodeCache:  sys.Bus.DecodeCacheSize(),
		POST:         fmt.Sprintf("0x%02X", sys.POSTCode()),
		Ports:        sys.IO.Claimed(),
	}
	if err := c.Fatal(); err != nil {
		snap.Fatal = err.Error()
	}
	dbg := NewDebugX86(sys)
	for _, r := range dbg.GetRegisters() {
		if r.Group == "segment" {
			continue
		}
		snap.Registers[r.Name] = fmt.Sprintf("0x%0*X", r.BitWidth/4, r.Value)
	}
	for i := range x86SegNames {
		seg := c.Segment(i)
		desc := seg.Descriptor()
		snap.Segments = append(snap.Segments, X86SegmentState{
			Name:     seg.Name(),
			Selector: seg.Selector().String(),
			Base:     fmt.Sprintf("0x%08X", desc.Base),
			Limit:    fmt.Sprintf("0x%08X", desc.Limit),
			Type:     desc.Type,
			DPL:      desc.DPL,
			Big:      desc.DefaultBig,
			Present:  desc.Present,
		})
	}
	return snap
}

// DumpX86State pretty-prints a snapshot of sys to w
func DumpX86State(w io.Writer, sys *PCSystem, colored bool) error {
	printer := pp.New()
	printer.SetColoringEnabled(colored)
	printer.SetExportedOnly(true)
	_, err := printer.Fprintln(w, SnapshotX86(sys))
	return err
}
