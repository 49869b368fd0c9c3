// cpu_x86_segments.go - Segment selectors, descriptors and descriptor caches
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "fmt"

// Segment register indices (ModR/M Sreg encoding order)
const (
	x86SegES = 0
	x86SegCS = 1
	x86SegSS = 2
	x86SegDS = 3
	x86SegFS = 4
	x86SegGS = 5

	x86SegNone = -1
)

var x86SegNames = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

// Descriptor access byte, non-system segments
const (
	x86DescAccessed   = 1 << 0
	x86DescRW         = 1 << 1 // readable code / writable data
	x86DescDC         = 1 << 2 // conforming code / expand-down data
	x86DescExecutable = 1 << 3
)

// System descriptor types
const (
	x86SysTSS16Avail  = 0x1
	x86SysLDT         = 0x2
	x86SysTSS16Busy   = 0x3
	x86SysCallGate16  = 0x4
	x86SysTaskGate    = 0x5
	x86SysIntGate16   = 0x6
	x86SysTrapGate16  = 0x7
	x86SysTSS32Avail  = 0x9
	x86SysTSS32Busy   = 0xB
	x86SysCallGate32  = 0xC
	x86SysIntGate32   = 0xE
	x86SysTrapGate32  = 0xF
	x86SysTSSBusyFlag = 0x2
)

// -----------------------------------------------------------------------------
// Selector
// -----------------------------------------------------------------------------

// X86Selector is a 16-bit segment selector: index<<3 | TI<<2 | RPL
type X86Selector uint16

func (s X86Selector) Index() uint16 { return uint16(s) >> 3 }
func (s X86Selector) LDT() bool     { return s&4 != 0 }
func (s X86Selector) RPL() byte     { return byte(s & 3) }
func (s X86Selector) IsNull() bool  { return s&^3 == 0 }

// ErrorCode is the selector as pushed with #GP/#NP/#SS
func (s X86Selector) ErrorCode() uint32 { return uint32(s) & 0xFFFC }

func (s X86Selector) String() string {
	table := "GDT"
	if s.LDT() {
		table = "LDT"
	}
	return fmt.Sprintf("0x%04X(%s[%d] RPL%d)", uint16(s), table, s.Index(), s.RPL())
}

// -----------------------------------------------------------------------------
// Descriptor
// -----------------------------------------------------------------------------

// X86SegmentDescriptor is a decoded 8-byte GDT/LDT entry. Limit is already
// scaled by the granularity bit.
type X86SegmentDescriptor struct {
	Base        uint32
	Limit       uint32
	Type        byte // low 4 bits of the access byte
	System      bool // S bit clear
	DPL         byte
	Present     bool
	Available   bool
	DefaultBig  bool // D/B
	Granularity bool
}

// DecodeX86Descriptor unpacks the architectural descriptor layout
func DecodeX86Descriptor(raw [8]byte) X86SegmentDescriptor {
	access := raw[5]
	flags := raw[6] >> 4
	d := X86SegmentDescriptor{
		Base:        uint32(raw[2]) | uint32(raw[3])<<8 | uint32(raw[4])<<16 | uint32(raw[7])<<24,
		Limit:       uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[6]&0x0F)<<16,
		Type:        access & 0x0F,
		System:      access&0x10 == 0,
		DPL:         (access >> 5) & 3,
		Present:     access&0x80 != 0,
		Available:   flags&0x1 != 0,
		DefaultBig:  flags&0x4 != 0,
		Granularity: flags&0x8 != 0,
	}
	if d.Granularity {
		d.Limit = d.Limit<<12 | 0xFFF
	}
	return d
}

// Encode packs the descriptor back into its 8-byte form
func (d X86SegmentDescriptor) Encode() [8]byte {
	limit := d.Limit
	if d.Granularity {
		limit >>= 12
	}
	access := d.Type&0x0F | (d.DPL&3)<<5
	if !d.System {
		access |= 0x10
	}
	if d.Present {
		access |= 0x80
	}
	var flags byte
	if d.Available {
		flags |= 0x1
	}
	if d.DefaultBig {
		flags |= 0x4
	}
	if d.Granularity {
		flags |= 0x8
	}
	return [8]byte{
		byte(limit), byte(limit >> 8),
		byte(d.Base), byte(d.Base >> 8), byte(d.Base >> 16),
		access,
		flags<<4 | byte(limit>>16)&0x0F,
		byte(d.Base >> 24),
	}
}

func (d X86SegmentDescriptor) IsCode() bool { return !d.System && d.Type&x86DescExecutable != 0 }
func (d X86SegmentDescriptor) IsData() bool { return !d.System && d.Type&x86DescExecutable == 0 }

// Readable is true for all data segments and for readable code segments
func (d X86SegmentDescriptor) Readable() bool {
	return d.IsData() || (d.IsCode() && d.Type&x86DescRW != 0)
}

func (d X86SegmentDescriptor) Writable() bool { return d.IsData() && d.Type&x86DescRW != 0 }

// InLimit reports whether size bytes at off lie inside the segment. Expand-down
// data segments cover (Limit, 0xFFFF] or (Limit, 0xFFFFFFFF] with D/B set.
func (d X86SegmentDescriptor) InLimit(off uint32, size int) bool {
	last := uint64(off) + uint64(size) - 1
	if d.IsData() && d.Type&x86DescDC != 0 {
		upper := uint64(0xFFFF)
		if d.DefaultBig {
			upper = 0xFFFFFFFF
		}
		return off > d.Limit && last <= upper
	}
	return last <= uint64(d.Limit)
}

// -----------------------------------------------------------------------------
// Segment register
// -----------------------------------------------------------------------------

// x86DescriptorSource resolves selectors for segment loads. The CPU implements
// it; in real and virtual-8086 mode caches are synthesized instead.
type x86DescriptorSource interface {
	synthesizedSegments() bool
	readDescriptor(sel X86Selector) ([8]byte, *X86Fault)
}

// X86SegRegister is a visible selector plus its hidden descriptor cache
type X86SegRegister struct {
	index  int
	sel    *X86Register
	cache  X86SegmentDescriptor
	loaded bool
}

func newX86SegRegister(index int) *X86SegRegister {
	return &X86SegRegister{index: index, sel: NewX86Register(x86SegNames[index], 2)}
}

func (s *X86SegRegister) Name() string          { return s.sel.Name() }
func (s *X86SegRegister) Selector() X86Selector { return X86Selector(s.sel.Get()) }

// Descriptor returns the cached descriptor. Reading a cache that no load has
// ever filled is an engine bug.
func (s *X86SegRegister) Descriptor() X86SegmentDescriptor {
	if !s.loaded {
		panic(x86Violation("segment", "%s descriptor cache read before any load", s.Name()))
	}
	return s.cache
}

func (s *X86SegRegister) Base() uint32  { return s.Descriptor().Base }
func (s *X86SegRegister) Limit() uint32 { return s.Descriptor().Limit }
func (s *X86SegRegister) Big() bool     { return s.Descriptor().DefaultBig }

// Load sets the selector. In real and V86 mode the cache is synthesized
// (base = selector<<4, limit 0xFFFF). In protected mode the descriptor is
// fetched and validated; on a fault the register keeps its previous state.
func (s *X86SegRegister) Load(value uint16, src x86DescriptorSource) error {
	d, err := s.resolve(value, src)
	if err != nil {
		return err
	}
	s.loadCache(value, d)
	return nil
}

// resolve returns the cache a load of value would install, without touching
// the register
func (s *X86SegRegister) resolve(value uint16, src x86DescriptorSource) (X86SegmentDescriptor, error) {
	sel := X86Selector(value)
	if src.synthesizedSegments() {
		return s.synthesized(value), nil
	}
	if sel.IsNull() {
		if s.index == x86SegCS || s.index == x86SegSS {
			return X86SegmentDescriptor{}, x86GP(0)
		}
		// a null data selector loads fine; it faults only when used
		return X86SegmentDescriptor{}, nil
	}
	raw, fault := src.readDescriptor(sel)
	if fault != nil {
		return X86SegmentDescriptor{}, fault
	}
	d := DecodeX86Descriptor(raw)
	if fault := s.validate(sel, d); fault != nil {
		return X86SegmentDescriptor{}, fault
	}
	return d, nil
}

func (s *X86SegRegister) validate(sel X86Selector, d X86SegmentDescriptor) *X86Fault {
	switch s.index {
	case x86SegCS:
		if !d.IsCode() {
			return x86GP(sel.ErrorCode())
		}
	case x86SegSS:
		if !d.Writable() {
			return x86GP(sel.ErrorCode())
		}
		if !d.Present {
			return x86SS(sel.ErrorCode())
		}
	default:
		if !d.Readable() {
			return x86GP(sel.ErrorCode())
		}
	}
	if !d.Present {
		return x86NP(sel.ErrorCode())
	}
	return nil
}

// synthesize installs the real-mode style cache for value
func (s *X86SegRegister) synthesize(value uint16) {
	s.loadCache(value, s.synthesized(value))
}

func (s *X86SegRegister) synthesized(value uint16) X86SegmentDescriptor {
	typ := byte(x86DescRW | x86DescAccessed)
	if s.index == x86SegCS {
		typ |= x86DescExecutable
	}
	return X86SegmentDescriptor{
		Base:    uint32(value) << 4,
		Limit:   0xFFFF,
		Type:    typ,
		Present: true,
	}
}

// loadCache installs a descriptor as given; callers have validated it or build
// it themselves (gates, V86 transitions)
func (s *X86SegRegister) loadCache(value uint16, d X86SegmentDescriptor) {
	s.sel.Set(uint32(value))
	s.cache = d
	s.loaded = true
}

// -----------------------------------------------------------------------------
// Descriptor table registers
// -----------------------------------------------------------------------------

// X86TableRegister is GDTR or IDTR
type X86TableRegister struct {
	Base  uint32
	Limit uint16
}

// reset matches the processor power-on state: base 0, limit 0xFFFF
func (t *X86TableRegister) reset() {
	t.Base = 0
	t.Limit = 0xFFFF
}

// X86SystemSegment is LDTR or TR: a selector and the system descriptor it named
type X86SystemSegment struct {
	Selector X86Selector
	Desc     X86SegmentDescriptor
}
