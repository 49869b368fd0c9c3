// machine_bus.go - Physical memory bus for IntuitionPC

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
Buy me a coffee: https://ko-fi.com/intuition/tip

License: GPLv3 or later
*/

/*
machine_bus.go - Physical Memory Bus for IntuitionPC

This module implements the PC's physical address space: a contiguous block of
little-endian RAM, memory-mapped I/O regions that claim address ranges ahead
of RAM, the A20 address line gate, write protection for loaded ROM images and
the physical-address keyed cache of decoded instructions.

Core Features:

    RAM allocated as one contiguous block, at least 1MB.
    MMIO regions kept in an interval search tree, with a per-page bitmap in
    front of it so plain RAM accesses never touch the tree.
    A20 gating applied to linear addresses: with the gate closed, bit 20 is
    forced to zero and addresses wrap at 1MB as on an 8086.
    Decoded instructions cached by physical address; any write overlapping a
    cached instruction's bytes evicts it, so self-modifying code stays correct.

Access widths are 1, 2 or 4 bytes. Any other width, or an address past the
end of RAM that no region claims, is an engine contract violation.

The bus is owned by the CPU goroutine and is not safe for concurrent use,
with one exception: the A20 gate may be toggled from any goroutine.
*/

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rdleal/intervalst/interval"
	"github.com/sirupsen/logrus"
)

const (
	PC_MIN_MEMORY     = 1 << 20
	PC_MAX_MEMORY     = 0xC0000000
	PC_DEFAULT_MEMORY = 16 << 20
	MEM_PAGE_SHIFT    = 12
	MEM_PAGE_SIZE     = 1 << MEM_PAGE_SHIFT

	x86A20Bit               = 1 << 20
	x86MaxInstructionLength = 15
)

var (
	ErrMemoryExhausted = errors.New("membus: physical memory exhausted")
	ErrRegionOverlap   = errors.New("membus: MMIO region overlaps an existing region")
)

// MemoryRegionHandler services accesses inside a mapped MMIO range. addr is
// the physical address; size is 1, 2 or 4.
type MemoryRegionHandler interface {
	Read(addr uint32, size int) uint32
	Write(addr uint32, value uint32, size int)
}

// MMIORegion is one claimed physical range, inclusive at both ends
type MMIORegion struct {
	Name    string
	Begin   uint32
	End     uint32
	handler MemoryRegionHandler
}

func (r *MMIORegion) contains(addr uint32) bool {
	return addr >= r.Begin && addr <= r.End
}

type romRange struct {
	begin, end uint32
}

type MachineBus struct {
	/*
		MachineBus is the physical address space of the PC.

		Regions are stored in the search tree as [Begin, End+1] in 64-bit
		space so the top of the 4GB range never overflows.
	*/

	memory []byte

	// the A20 gate may be flipped from a host goroutine while the CPU runs;
	// the decode cache is then flushed by the CPU side on its next lookup
	a20Mask    atomic.Uint32
	a20Flushed atomic.Bool

	regions     *interval.SearchTree[*MMIORegion, uint64]
	regionCount int
	mmioPages   []bool

	rom []romRange

	decodeCache map[uint32]*X86Instruction
	codePages   []uint16

	// Sealed state to prevent MMIO mapping after execution has started
	sealed atomic.Bool

	log logrus.FieldLogger
}

// NewMachineBus allocates size bytes of RAM. The A20 gate starts closed.
func NewMachineBus(size uint32, log logrus.FieldLogger) (*MachineBus, error) {
	if size < PC_MIN_MEMORY || size > PC_MAX_MEMORY {
		return nil, fmt.Errorf("%w: %d bytes requested, want %d..%d", ErrMemoryExhausted, size, PC_MIN_MEMORY, PC_MAX_MEMORY)
	}
	if size%MEM_PAGE_SIZE != 0 {
		return nil, fmt.Errorf("membus: memory size 0x%X is not a multiple of the %d byte page", size, MEM_PAGE_SIZE)
	}
	pages := size >> MEM_PAGE_SHIFT
	bus := &MachineBus{
		memory: make([]byte, size),
		regions: interval.NewSearchTree[*MMIORegion, uint64](func(x, y uint64) int {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}),
		mmioPages:   make([]bool, pages),
		decodeCache: make(map[uint32]*X86Instruction),
		codePages:   make([]uint16, pages),
		log:         componentLog(log, "membus"),
	}
	bus.a20Mask.Store(^uint32(x86A20Bit))
	return bus, nil
}

// Size returns the number of bytes of RAM
func (bus *MachineBus) Size() uint32 {
	return uint32(len(bus.memory))
}

// SealMappings prevents further MapRegion calls once execution starts
func (bus *MachineBus) SealMappings() {
	bus.sealed.CompareAndSwap(false, true)
}

// MapRegion claims [begin, end] for handler. Overlapping an existing region
// is rejected.
func (bus *MachineBus) MapRegion(name string, begin, end uint32, handler MemoryRegionHandler) error {
	if bus.sealed.Load() {
		panic(fmt.Sprintf("MapRegion called after execution started (mapping %s $%08X-$%08X)", name, begin, end))
	}
	if end < begin {
		return fmt.Errorf("membus: region %s has end $%08X below begin $%08X", name, end, begin)
	}
	if hits := bus.intersecting(begin, end); len(hits) > 0 {
		r := hits[0]
		return fmt.Errorf("%w: %s $%08X-$%08X collides with %s $%08X-$%08X", ErrRegionOverlap, name, begin, end, r.Name, r.Begin, r.End)
	}
	region := &MMIORegion{Name: name, Begin: begin, End: end, handler: handler}
	if err := bus.regions.Insert(uint64(begin), uint64(end)+1, region); err != nil {
		return fmt.Errorf("membus: map %s: %w", name, err)
	}
	bus.regionCount++

	for page := begin >> MEM_PAGE_SHIFT; page <= end>>MEM_PAGE_SHIFT && page < uint32(len(bus.mmioPages)); page++ {
		bus.mmioPages[page] = true
	}
	bus.FlushDecodeCache()
	bus.log.WithFields(logrus.Fields{"region": name, "begin": fmt.Sprintf("0x%08X", begin), "end": fmt.Sprintf("0x%08X", end)}).Debug("mapped MMIO region")
	return nil
}

// intersecting returns regions whose inclusive range overlaps [begin, end]
func (bus *MachineBus) intersecting(begin, end uint32) []*MMIORegion {
	if bus.regionCount == 0 {
		return nil
	}
	candidates, ok := bus.regions.AllIntersections(uint64(begin), uint64(end)+1)
	if !ok {
		return nil
	}
	var hits []*MMIORegion
	for _, r := range candidates {
		if r.Begin <= end && begin <= r.End {
			hits = append(hits, r)
		}
	}
	return hits
}

// region returns the MMIO region claiming addr, if any
func (bus *MachineBus) region(addr uint32) *MMIORegion {
	if bus.regionCount == 0 {
		return nil
	}
	if page := addr >> MEM_PAGE_SHIFT; page < uint32(len(bus.mmioPages)) && !bus.mmioPages[page] {
		return nil
	}
	for _, r := range bus.intersecting(addr, addr) {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func (bus *MachineBus) checkRAM(op string, addr uint32, size int) {
	switch size {
	case 1, 2, 4:
	default:
		panic(x86Violation(op, "unsupported access width %d at 0x%08X", size, addr))
	}
	if uint64(addr)+uint64(size) > uint64(len(bus.memory)) {
		panic(x86Violation(op, "physical address 0x%08X+%d beyond %d bytes of RAM", addr, size, len(bus.memory)))
	}
}

// Read performs a little-endian physical read
func (bus *MachineBus) Read(addr uint32, size int) uint32 {
	if r := bus.region(addr); r != nil {
		return r.handler.Read(addr, size) & x86SizeMask(size)
	}
	bus.checkRAM("read", addr, size)
	switch size {
	case 1:
		return uint32(bus.memory[addr])
	case 2:
		return uint32(binary.LittleEndian.Uint16(bus.memory[addr:]))
	}
	return binary.LittleEndian.Uint32(bus.memory[addr:])
}

// Write performs a little-endian physical write. Writes into loaded ROM
// images are dropped.
func (bus *MachineBus) Write(addr uint32, value uint32, size int) {
	if r := bus.region(addr); r != nil {
		r.handler.Write(addr, value&x86SizeMask(size), size)
		return
	}
	bus.checkRAM("write", addr, size)
	if bus.inROM(addr, size) {
		bus.log.WithField("addr", fmt.Sprintf("0x%08X", addr)).Debug("write to ROM ignored")
		return
	}
	switch size {
	case 1:
		bus.memory[addr] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(bus.memory[addr:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(bus.memory[addr:], value)
	}
	bus.invalidateCode(addr, size)
}

func (bus *MachineBus) inROM(addr uint32, size int) bool {
	for _, r := range bus.rom {
		if addr <= r.end && addr+uint32(size)-1 >= r.begin {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Linear access and the A20 gate
// -----------------------------------------------------------------------------

// SetA20 opens or closes the A20 gate
func (bus *MachineBus) SetA20(enabled bool) {
	if enabled == bus.A20Enabled() {
		return
	}
	if enabled {
		bus.a20Mask.Store(0xFFFFFFFF)
	} else {
		bus.a20Mask.Store(^uint32(x86A20Bit))
	}
	// cached instructions may have been fetched across the old wrap point
	bus.a20Flushed.Store(true)
	bus.log.WithField("enabled", enabled).Debug("A20 gate changed")
}

func (bus *MachineBus) A20Enabled() bool {
	return bus.a20Mask.Load()&x86A20Bit != 0
}

// Translate maps a linear address to a physical one through the A20 gate
func (bus *MachineBus) Translate(linear uint32) uint32 {
	return linear & bus.a20Mask.Load()
}

// ReadLinear reads through the A20 gate. A multi-byte access straddling the
// wrap point is assembled byte by byte.
func (bus *MachineBus) ReadLinear(linear uint32, size int) uint32 {
	mask := x86SizeMask(size)
	a20 := bus.a20Mask.Load()
	phys := linear & a20
	last := uint32(size) - 1
	if (linear+last)&a20 == phys+last {
		return bus.Read(phys, size)
	}
	var v uint32
	for i := uint32(0); i <= last; i++ {
		v |= bus.Read((linear+i)&a20, 1) << (8 * i)
	}
	return v & mask
}

// WriteLinear writes through the A20 gate
func (bus *MachineBus) WriteLinear(linear uint32, value uint32, size int) {
	x86SizeMask(size)
	a20 := bus.a20Mask.Load()
	phys := linear & a20
	last := uint32(size) - 1
	if (linear+last)&a20 == phys+last {
		bus.Write(phys, value, size)
		return
	}
	for i := uint32(0); i <= last; i++ {
		bus.Write((linear+i)&a20, value>>(8*i), 1)
	}
}

// -----------------------------------------------------------------------------
// Bulk host access
// -----------------------------------------------------------------------------

// WriteBytes copies data into RAM at a physical address, ignoring ROM
// protection. Used by image loaders and the debugger.
func (bus *MachineBus) WriteBytes(phys uint32, data []byte) error {
	if uint64(phys)+uint64(len(data)) > uint64(len(bus.memory)) {
		return fmt.Errorf("%w: %d bytes at 0x%08X", ErrMemoryExhausted, len(data), phys)
	}
	copy(bus.memory[phys:], data)
	if len(data) > 0 && len(bus.decodeCache) > 0 {
		bus.FlushDecodeCache()
	}
	return nil
}

// ReadBytes returns a copy of n bytes of RAM at a physical address
func (bus *MachineBus) ReadBytes(phys uint32, n int) ([]byte, error) {
	if uint64(phys)+uint64(n) > uint64(len(bus.memory)) {
		return nil, fmt.Errorf("%w: %d bytes at 0x%08X", ErrMemoryExhausted, n, phys)
	}
	out := make([]byte, n)
	copy(out, bus.memory[phys:])
	return out, nil
}

// -----------------------------------------------------------------------------
// Decode cache
// -----------------------------------------------------------------------------

// syncA20 applies a decode cache flush requested by SetA20
func (bus *MachineBus) syncA20() {
	if bus.a20Flushed.Swap(false) {
		bus.FlushDecodeCache()
	}
}

func (bus *MachineBus) cachedInstruction(phys uint32) *X86Instruction {
	bus.syncA20()
	return bus.decodeCache[phys]
}

// cacheInstruction remembers a decoded instruction whose bytes all sit in
// plain RAM. It reports whether the instruction was cached.
func (bus *MachineBus) cacheInstruction(phys uint32, in *X86Instruction) bool {
	last := uint64(phys) + uint64(in.Length) - 1
	if last >= uint64(len(bus.memory)) {
		return false
	}
	for page := phys >> MEM_PAGE_SHIFT; page <= uint32(last)>>MEM_PAGE_SHIFT; page++ {
		if bus.mmioPages[page] {
			return false
		}
	}
	if _, exists := bus.decodeCache[phys]; !exists {
		bus.codePages[phys>>MEM_PAGE_SHIFT]++
	}
	bus.decodeCache[phys] = in
	return true
}

// invalidateCode evicts every cached instruction overlapping [addr, addr+size)
func (bus *MachineBus) invalidateCode(addr uint32, size int) {
	if len(bus.decodeCache) == 0 {
		return
	}
	lo := uint32(0)
	if addr >= x86MaxInstructionLength-1 {
		lo = addr - (x86MaxInstructionLength - 1)
	}
	hi := addr + uint32(size) - 1
	if bus.codePages[lo>>MEM_PAGE_SHIFT] == 0 && bus.codePages[hi>>MEM_PAGE_SHIFT] == 0 {
		return
	}
	for start := lo; start <= hi; start++ {
		if in, ok := bus.decodeCache[start]; ok && start+uint32(in.Length) > addr {
			delete(bus.decodeCache, start)
			bus.codePages[start>>MEM_PAGE_SHIFT]--
		}
	}
}

// FlushDecodeCache drops every cached instruction
func (bus *MachineBus) FlushDecodeCache() {
	clear(bus.decodeCache)
	clear(bus.codePages)
}

// DecodeCacheSize returns the number of cached instructions
func (bus *MachineBus) DecodeCacheSize() int {
	bus.syncA20()
	return len(bus.decodeCache)
}
