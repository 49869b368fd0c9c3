// pc_system.go - IntuitionPC composition root
//
// Builds memory, the port bus, the CPU, the clock and the minimal system
// board devices (A20 gate, debug console, POST latch, IRQ latch, DMA
// arbiter) from a PCConfig. Peripheral models attach through the same
// interfaces.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	PORT_SYSTEM_CONTROL_A = 0x92 // PS/2 fast A20 and reset
	PORT_POST             = 0x80
	PORT_DEBUG_CONSOLE    = 0xE9 // Bochs/QEMU style

	sysCtlFastReset = 1 << 0
	sysCtlA20       = 1 << 1

	DEFAULT_IRQ_BASE     = 0x08
	DEFAULT_LOAD_SEGMENT = 0x0000
	DEFAULT_LOAD_OFFSET  = 0x7C00

	// every vector points at this IRET when no BIOS is loaded
	stubIRETSegment = 0xF000
	stubIRETOffset  = 0xFF53
)

var (
	ErrInvalidConfig = errors.New("pc: invalid configuration")
	ErrNoIRQLines    = errors.New("pc: interrupt controller has no device lines")
)

// PCConfig holds configuration for an IntuitionPC system
type PCConfig struct {
	MemorySize  uint32
	A20Enabled  bool
	DecodeCache bool

	BIOSPath    string
	VGABIOSPath string
	ImagePath   string

	// Raw image placement and entry when no BIOS is loaded
	LoadSegment uint16
	LoadOffset  uint16
	EntryCS     uint16
	EntryIP     uint16

	IRQBase         byte
	Trace           bool
	MaxInstructions uint64
	LogLevel        string
}

func DefaultPCConfig() PCConfig {
	return PCConfig{
		MemorySize:  PC_DEFAULT_MEMORY,
		DecodeCache: true,
		LoadSegment: DEFAULT_LOAD_SEGMENT,
		LoadOffset:  DEFAULT_LOAD_OFFSET,
		EntryCS:     DEFAULT_LOAD_SEGMENT,
		EntryIP:     DEFAULT_LOAD_OFFSET,
		IRQBase:     DEFAULT_IRQ_BASE,
		LogLevel:    "info",
	}
}

func (c PCConfig) Validate() error {
	if c.MemorySize < PC_MIN_MEMORY || c.MemorySize > PC_MAX_MEMORY {
		return fmt.Errorf("%w: memory size 0x%X outside 0x%X-0x%X", ErrInvalidConfig, c.MemorySize, PC_MIN_MEMORY, PC_MAX_MEMORY)
	}
	if c.MemorySize%MEM_PAGE_SIZE != 0 {
		return fmt.Errorf("%w: memory size 0x%X is not a multiple of %d", ErrInvalidConfig, c.MemorySize, MEM_PAGE_SIZE)
	}
	if c.IRQBase&7 != 0 {
		return fmt.Errorf("%w: IRQ base 0x%02X is not 8-aligned", ErrInvalidConfig, c.IRQBase)
	}
	if c.BIOSPath == "" && c.ImagePath == "" {
		return fmt.Errorf("%w: nothing to run, give a BIOS or an image", ErrInvalidConfig)
	}
	return nil
}

// PCDeps are the host collaborators; nil fields get defaults
type PCDeps struct {
	Clock    HostClock
	Loader   ImageLoader
	Log      logrus.FieldLogger
	DebugOut io.Writer
	IRQ      X86InterruptController // replaces the built-in latch; device lines route to it when it implements IRQLines
}

// PCSystem is a wired machine
type PCSystem struct {
	Config PCConfig
	Bus    *MachineBus
	IO     *IOBus
	CPU    *CPU_X86
	Clock  *PCClock
	IRQ    *IRQLatch
	DMA    *PCDMA

	loader   ImageLoader
	debugOut io.Writer
	lines    IRQLines // nil when the attached controller takes no device lines
	post     byte
	reset    bool
	log      logrus.FieldLogger
}

// NewPCSystem validates cfg and wires a machine. Images are not loaded yet.
func NewPCSystem(cfg PCConfig, deps PCDeps) (*PCSystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := componentLog(deps.Log, "system")

	bus, err := NewMachineBus(cfg.MemorySize, deps.Log)
	if err != nil {
		return nil, err
	}
	bus.SetA20(cfg.A20Enabled)

	s := &PCSystem{
		Config:   cfg,
		Bus:      bus,
		IO:       NewIOBus(deps.Log),
		Clock:    NewPCClock(deps.Clock, deps.Log),
		IRQ:      NewIRQLatch(cfg.IRQBase),
		loader:   deps.Loader,
		debugOut: deps.DebugOut,
		log:      log,
	}
	if s.loader == nil {
		s.loader = FileImageLoader{}
	}
	if s.debugOut == nil {
		s.debugOut = os.Stdout
	}
	s.DMA = NewPCDMA(bus)

	s.CPU = NewCPU_X86(bus, s.IO, deps.Log)
	s.CPU.SetDecodeCache(cfg.DecodeCache)
	if deps.IRQ != nil {
		s.CPU.SetInterruptController(deps.IRQ)
		s.lines, _ = deps.IRQ.(IRQLines)
	} else {
		s.CPU.SetInterruptController(s.IRQ)
		s.lines = s.IRQ
	}

	if err := s.registerBoardPorts(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"memory": fmt.Sprintf("0x%X", cfg.MemorySize),
		"a20":    cfg.A20Enabled,
	}).Info("system wired")
	return s, nil
}

func (s *PCSystem) registerBoardPorts() error {
	sysCtl := IOPortFuncs{
		Read: func(port uint16, size int) uint32 {
			if s.Bus.A20Enabled() {
				return sysCtlA20
			}
			return 0
		},
		Write: func(port uint16, value uint32, size int) {
			s.Bus.SetA20(value&sysCtlA20 != 0)
			if value&sysCtlFastReset != 0 {
				s.reset = true
			}
		},
	}
	post := IOPortFuncs{
		Read: func(port uint16, size int) uint32 { return uint32(s.post) },
		Write: func(port uint16, value uint32, size int) {
			s.post = byte(value)
			s.log.WithField("code", fmt.Sprintf("0x%02X", s.post)).Debug("POST")
		},
	}
	debug := IOPortFuncs{
		Read: func(port uint16, size int) uint32 { return PORT_DEBUG_CONSOLE },
		Write: func(port uint16, value uint32, size int) {
			if _, err := s.debugOut.Write([]byte{byte(value)}); err != nil {
				s.log.WithError(err).Warn("debug console write failed")
			}
		},
	}
	if err := s.IO.Register("system-control-a", PORT_SYSTEM_CONTROL_A, sysCtl, 1); err != nil {
		return err
	}
	if err := s.IO.Register("post", PORT_POST, post, 1); err != nil {
		return err
	}
	return s.IO.Register("debug-console", PORT_DEBUG_CONSOLE, debug, 1)
}

// POSTCode is the last byte written to port 0x80
func (s *PCSystem) POSTCode() byte { return s.post }

// Boot loads every configured image, installs them and points the CPU at
// the reset vector (with a BIOS) or the configured entry (raw image).
func (s *PCSystem) Boot(ctx context.Context) error {
	images, err := LoadPCImages(ctx, s.loader, s.Config)
	if err != nil {
		return err
	}
	if images.BIOS != nil {
		if err := s.Bus.LoadROM(images.BIOS, SystemBIOSBase(len(images.BIOS)), ROMSystemBIOS); err != nil {
			return err
		}
	} else {
		s.installIRETStubs()
	}
	if images.VGABIOS != nil {
		if err := s.Bus.LoadROM(images.VGABIOS, ROM_EXPANSION_AREA_START, ROMExpansion); err != nil {
			return err
		}
	}
	if images.Image != nil {
		base := uint32(s.Config.LoadSegment)<<4 + uint32(s.Config.LoadOffset)
		if err := s.Bus.WriteBytes(base, images.Image); err != nil {
			return fmt.Errorf("pc: image: %w", err)
		}
		s.log.WithFields(logrus.Fields{
			"base": fmt.Sprintf("0x%05X", base),
			"size": len(images.Image),
		}).Info("image loaded")
	}
	s.Bus.SealMappings()
	s.resetCPU()
	return nil
}

// installIRETStubs points all 256 IVT entries at a single IRET so a guest
// running without a BIOS survives stray interrupts
func (s *PCSystem) installIRETStubs() {
	stub := uint32(stubIRETSegment)<<4 + stubIRETOffset
	s.Bus.Write(stub, 0xCF, 1)
	for v := uint32(0); v < 256; v++ {
		s.Bus.Write(v*4, stubIRETOffset, 2)
		s.Bus.Write(v*4+2, stubIRETSegment, 2)
	}
}

func (s *PCSystem) resetCPU() {
	s.CPU.Reset()
	if s.Config.BIOSPath != "" {
		return
	}
	if err := s.CPU.LoadSegment(x86SegCS, s.Config.EntryCS); err != nil {
		panic(x86Violation("system", "real-mode CS load failed: %v", err))
	}
	for _, seg := range []int{x86SegDS, x86SegES, x86SegSS} {
		if err := s.CPU.LoadSegment(seg, s.Config.EntryCS); err != nil {
			panic(x86Violation("system", "real-mode segment load failed: %v", err))
		}
	}
	s.CPU.SetEIP(uint32(s.Config.EntryIP))
	s.CPU.SetRegister("SP", uint32(s.Config.LoadOffset))
}

// Step runs one instruction and then the board's safe-point work: a fast
// reset requested through port 0x92 and pending DMA.
func (s *PCSystem) Step() error {
	err := s.CPU.Step()
	if s.reset {
		s.reset = false
		s.log.Info("fast reset")
		s.Bus.SetA20(s.Config.A20Enabled)
		s.resetCPU()
	}
	s.DMA.Service()
	return err
}

// -----------------------------------------------------------------------------
// Interrupt lines
// -----------------------------------------------------------------------------

// IRQLines is the device side of an interrupt controller
type IRQLines interface {
	RaiseIRQ(line int)
	LowerIRQ(line int)
}

// RaiseIRQ asserts line on the controller the CPU acknowledges from
func (s *PCSystem) RaiseIRQ(line int) error {
	if s.lines == nil {
		return ErrNoIRQLines
	}
	s.lines.RaiseIRQ(line)
	return nil
}

func (s *PCSystem) LowerIRQ(line int) error {
	if s.lines == nil {
		return ErrNoIRQLines
	}
	s.lines.LowerIRQ(line)
	return nil
}

// IRQLatch is the interrupt source used when no PIC model is attached: 16
// edge-latched lines at consecutive vectors from base, lowest line first.
// Devices may raise lines from host goroutines.
type IRQLatch struct {
	mu    sync.Mutex
	lines uint16
	base  byte
}

func NewIRQLatch(base byte) *IRQLatch {
	return &IRQLatch{base: base}
}

func (l *IRQLatch) RaiseIRQ(line int) {
	if line < 0 || line > 15 {
		panic(x86Violation("irq", "line %d out of range", line))
	}
	l.mu.Lock()
	l.lines |= 1 << line
	l.mu.Unlock()
}

func (l *IRQLatch) LowerIRQ(line int) {
	if line < 0 || line > 15 {
		panic(x86Violation("irq", "line %d out of range", line))
	}
	l.mu.Lock()
	l.lines &^= 1 << line
	l.mu.Unlock()
}

func (l *IRQLatch) InterruptPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines != 0
}

// AcknowledgeInterrupt clears and returns the lowest pending line's vector
func (l *IRQLatch) AcknowledgeInterrupt() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	for line := 0; line < 16; line++ {
		if l.lines&(1<<line) != 0 {
			l.lines &^= 1 << line
			return l.base + byte(line)
		}
	}
	panic(x86Violation("irq", "acknowledge with no pending line"))
}

// -----------------------------------------------------------------------------
// DMA
// -----------------------------------------------------------------------------

// DMAChannel is the device end of a DMA channel
type DMAChannel interface {
	DMARead(b byte)   // memory to device
	DMAWrite() byte   // device to memory
	DMARequest() bool // DREQ
}

// DMAController is the arbiter devices register with
type DMAController interface {
	RegisterChannel(ch int, dev DMAChannel) error
	TerminalCount(ch int) bool
}

const PC_DMA_CHANNELS = 8

var ErrDMAChannel = errors.New("dma: bad channel")

type dmaState struct {
	dev      DMAChannel
	addr     uint32
	count    uint32
	toMemory bool
	armed    bool
	tc       bool
}

// PCDMA moves one byte per requesting channel at each safe point
type PCDMA struct {
	bus      *MachineBus
	channels [PC_DMA_CHANNELS]dmaState
}

func NewPCDMA(bus *MachineBus) *PCDMA {
	return &PCDMA{bus: bus}
}

func (d *PCDMA) RegisterChannel(ch int, dev DMAChannel) error {
	if ch < 0 || ch >= PC_DMA_CHANNELS {
		return fmt.Errorf("%w: %d", ErrDMAChannel, ch)
	}
	if d.channels[ch].dev != nil {
		return fmt.Errorf("%w: %d already registered", ErrDMAChannel, ch)
	}
	d.channels[ch].dev = dev
	return nil
}

// Program arms ch for count bytes at physical addr
func (d *PCDMA) Program(ch int, addr, count uint32, toMemory bool) error {
	if ch < 0 || ch >= PC_DMA_CHANNELS || d.channels[ch].dev == nil {
		return fmt.Errorf("%w: %d", ErrDMAChannel, ch)
	}
	if count == 0 {
		return fmt.Errorf("%w: %d zero-length transfer", ErrDMAChannel, ch)
	}
	st := &d.channels[ch]
	st.addr, st.count, st.toMemory = addr, count, toMemory
	st.armed, st.tc = true, false
	return nil
}

func (d *PCDMA) TerminalCount(ch int) bool {
	if ch < 0 || ch >= PC_DMA_CHANNELS {
		return false
	}
	return d.channels[ch].tc
}

// Service performs at most one transfer per armed, requesting channel
func (d *PCDMA) Service() {
	for i := range d.channels {
		st := &d.channels[i]
		if !st.armed || !st.dev.DMARequest() {
			continue
		}
		if st.toMemory {
			d.bus.Write(st.addr, uint32(st.dev.DMAWrite()), 1)
		} else {
			st.dev.DMARead(byte(d.bus.Read(st.addr, 1)))
		}
		st.addr++
		st.count--
		if st.count == 0 {
			st.armed, st.tc = false, true
		}
	}
}
