// pc_system_test.go - System board wiring tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
)

const testImagePath = "boot.img"

// newTestPC boots a raw image at 0000:7C00 on a ManualClock, with the debug
// console captured
func newTestPC(t *testing.T, program []byte, tweak ...func(*PCConfig)) (*PCSystem, *bytes.Buffer) {
	t.Helper()
	cfg := DefaultPCConfig()
	cfg.MemorySize = x86TestBusMemory
	cfg.ImagePath = testImagePath
	for _, fn := range tweak {
		fn(&cfg)
	}
	var console bytes.Buffer
	sys, err := NewPCSystem(cfg, PCDeps{
		Clock:    &ManualClock{},
		Loader:   MapImageLoader{testImagePath: program},
		Log:      newQuietLogger(),
		DebugOut: &console,
	})
	if err != nil {
		t.Fatalf("NewPCSystem: %v", err)
	}
	if err := sys.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return sys, &console
}

func stepPC(t *testing.T, sys *PCSystem, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := sys.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

// =============================================================================
// Configuration
// =============================================================================

func TestPCConfig_Validate(t *testing.T) {
	good := DefaultPCConfig()
	good.ImagePath = testImagePath
	if err := good.Validate(); err != nil {
		t.Fatalf("default plus image: %v", err)
	}

	for _, tc := range []struct {
		name  string
		tweak func(*PCConfig)
	}{
		{"nothing to run", func(c *PCConfig) { c.ImagePath = "" }},
		{"small memory", func(c *PCConfig) { c.MemorySize = 512 << 10 }},
		{"unaligned memory", func(c *PCConfig) { c.MemorySize = PC_DEFAULT_MEMORY + 1 }},
		{"IRQ base", func(c *PCConfig) { c.IRQBase = 0x09 }},
	} {
		cfg := good
		tc.tweak(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: got %v, want ErrInvalidConfig", tc.name, err)
		}
		if _, err := NewPCSystem(cfg, PCDeps{Log: newQuietLogger()}); err == nil {
			t.Errorf("%s: NewPCSystem accepted the config", tc.name)
		}
	}
}

// =============================================================================
// Boot
// =============================================================================

func TestPCSystem_BootRawImage(t *testing.T) {
	sys, _ := newTestPC(t, []byte{0xF4})
	c := sys.CPU
	if c.EIP() != DEFAULT_LOAD_OFFSET || c.Segment(x86SegCS).Selector() != 0 {
		t.Errorf("entry: got %04X:%08X, want 0000:7C00", uint16(c.Segment(x86SegCS).Selector()), c.EIP())
	}
	if sp, _ := c.Register("SP"); sp != DEFAULT_LOAD_OFFSET {
		t.Errorf("SP: got 0x%X, want 0x7C00", sp)
	}
	if got := sys.Bus.Read(0x7C00, 1); got != 0xF4 {
		t.Errorf("image byte: got 0x%X, want 0xF4", got)
	}
	expectPanic(t, func() { _ = sys.Bus.MapRegion("late", 0xA0000, 0xAFFFF, &recordingRegion{}) })
}

func TestPCSystem_BootMissingImage(t *testing.T) {
	cfg := DefaultPCConfig()
	cfg.MemorySize = x86TestBusMemory
	cfg.ImagePath = "missing.img"
	sys, err := NewPCSystem(cfg, PCDeps{Loader: MapImageLoader{}, Log: newQuietLogger()})
	if err != nil {
		t.Fatalf("NewPCSystem: %v", err)
	}
	if err := sys.Boot(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Boot: got %v, want os.ErrNotExist", err)
	}
}

func TestPCSystem_IRETStubsWithoutBIOS(t *testing.T) {
	sys, _ := newTestPC(t, []byte{0xCD, 0x21, 0xF4}) // INT 21h; HLT
	if got := sys.Bus.Read(0x21*4, 4); got != stubIRETSegment<<16|stubIRETOffset {
		t.Errorf("IVT[21h]: got 0x%08X", got)
	}
	if got := sys.Bus.Read(stubIRETSegment<<4+stubIRETOffset, 1); got != 0xCF {
		t.Errorf("stub: got 0x%X, want IRET", got)
	}
	stepPC(t, sys, 2) // INT, IRET
	if sys.CPU.EIP() != DEFAULT_LOAD_OFFSET+2 {
		t.Errorf("after IRET: EIP 0x%X, want 0x7C02", sys.CPU.EIP())
	}
}

func TestPCSystem_BootWithBIOS(t *testing.T) {
	bios := make([]byte, 64*1024)
	copy(bios[0xFFF0:], []byte{0xEA, 0x00, 0xE0, 0x00, 0xF0}) // JMP F000:E000
	bios[0xE000] = 0xF4

	cfg := DefaultPCConfig()
	cfg.MemorySize = x86TestBusMemory
	cfg.BIOSPath = "bios.bin"
	sys, err := NewPCSystem(cfg, PCDeps{
		Clock:  &ManualClock{},
		Loader: MapImageLoader{"bios.bin": bios},
		Log:    newQuietLogger(),
	})
	if err != nil {
		t.Fatalf("NewPCSystem: %v", err)
	}
	if err := sys.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if sys.CPU.EIP() != 0xFFF0 || sys.CPU.Segment(x86SegCS).Base() != 0xF0000 {
		t.Fatalf("reset vector: EIP 0x%X CS base 0x%X", sys.CPU.EIP(), sys.CPU.Segment(x86SegCS).Base())
	}
	stepPC(t, sys, 2)
	if !sys.CPU.Halted() || sys.CPU.EIP() != 0xE001 {
		t.Errorf("BIOS entry: halted %v EIP 0x%X, want HLT at F000:E000", sys.CPU.Halted(), sys.CPU.EIP())
	}
}

// =============================================================================
// Board Ports
// =============================================================================

func TestPCSystem_BoardPorts(t *testing.T) {
	sys, console := newTestPC(t, []byte{
		0xB0, 0x41, // MOV AL, 'A'
		0xE6, 0xE9, // OUT 0E9h, AL
		0xB0, 0x55, // MOV AL, 55h
		0xE6, 0x80, // OUT 80h, AL
		0xE4, 0x92, // IN AL, 92h
		0x0C, 0x02, // OR AL, 2
		0xE6, 0x92, // OUT 92h, AL
		0xE4, 0xE9, // IN AL, 0E9h
		0xF4,
	})
	stepPC(t, sys, 8)

	if console.String() != "A" {
		t.Errorf("debug console: got %q, want \"A\"", console.String())
	}
	if sys.POSTCode() != 0x55 {
		t.Errorf("POST: got 0x%X, want 0x55", sys.POSTCode())
	}
	if !sys.Bus.A20Enabled() {
		t.Error("A20: port 92h bit 1 did not open the gate")
	}
	if al, _ := sys.CPU.Register("AL"); al != PORT_DEBUG_CONSOLE {
		t.Errorf("IN 0E9h: got 0x%X, want 0xE9", al)
	}
}

func TestPCSystem_FastReset(t *testing.T) {
	sys, _ := newTestPC(t, []byte{
		0xBB, 0x34, 0x12, // MOV BX, 1234h
		0xB0, 0x01, // MOV AL, 1
		0xE6, 0x92, // OUT 92h, AL
	}, func(c *PCConfig) { c.A20Enabled = true })

	stepPC(t, sys, 2)
	if !sys.Bus.A20Enabled() {
		t.Fatal("A20: config asked for an open gate")
	}
	stepPC(t, sys, 1)
	if sys.CPU.EIP() != DEFAULT_LOAD_OFFSET {
		t.Errorf("after reset: EIP 0x%X, want 0x7C00", sys.CPU.EIP())
	}
	if bx, _ := sys.CPU.Register("BX"); bx != 0 {
		t.Errorf("after reset: BX 0x%X, want 0", bx)
	}
	if !sys.Bus.A20Enabled() {
		t.Error("after reset: A20 must return to the configured state")
	}
}

// =============================================================================
// IRQ Latch
// =============================================================================

func TestIRQLatch_LowestLineFirst(t *testing.T) {
	l := NewIRQLatch(0x08)
	if l.InterruptPending() {
		t.Fatal("new latch: pending")
	}
	l.RaiseIRQ(3)
	l.RaiseIRQ(1)
	if v := l.AcknowledgeInterrupt(); v != 0x09 {
		t.Errorf("first: got 0x%X, want 0x09", v)
	}
	if v := l.AcknowledgeInterrupt(); v != 0x0B {
		t.Errorf("second: got 0x%X, want 0x0B", v)
	}
	if l.InterruptPending() {
		t.Error("after acknowledging both: still pending")
	}

	l.RaiseIRQ(5)
	l.LowerIRQ(5)
	if l.InterruptPending() {
		t.Error("LowerIRQ: line still pending")
	}
	expectPanic(t, func() { l.AcknowledgeInterrupt() })
	expectPanic(t, func() { l.RaiseIRQ(16) })
}

func TestPCSystem_IRQWakesHalt(t *testing.T) {
	sys, _ := newTestPC(t, []byte{0xFB, 0xF4, 0xF4}) // STI; HLT; HLT
	stepPC(t, sys, 2)
	if !sys.CPU.Halted() {
		t.Fatal("HLT: CPU not halted")
	}
	sys.IRQ.RaiseIRQ(0)
	stepPC(t, sys, 2) // deliver vector 08h, then the stub IRET
	if sys.CPU.Halted() || sys.CPU.EIP() != DEFAULT_LOAD_OFFSET+2 {
		t.Errorf("after IRQ: halted %v EIP 0x%X, want running at 0x7C02", sys.CPU.Halted(), sys.CPU.EIP())
	}
}

// =============================================================================
// DMA
// =============================================================================

type fakeDMADevice struct {
	request bool
	next    byte
	got     []byte
}

func (d *fakeDMADevice) DMARead(b byte)   { d.got = append(d.got, b) }
func (d *fakeDMADevice) DMARequest() bool { return d.request }
func (d *fakeDMADevice) DMAWrite() byte {
	d.next++
	return d.next
}

func TestPCDMA_Transfers(t *testing.T) {
	bus := newTestBus(t)
	dma := NewPCDMA(bus)
	dev := &fakeDMADevice{request: true}

	if err := dma.Program(2, 0x2000, 3, true); !errors.Is(err, ErrDMAChannel) {
		t.Errorf("unregistered: got %v", err)
	}
	if err := dma.RegisterChannel(2, dev); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}
	if err := dma.RegisterChannel(2, dev); !errors.Is(err, ErrDMAChannel) {
		t.Errorf("double register: got %v", err)
	}
	if err := dma.RegisterChannel(8, dev); !errors.Is(err, ErrDMAChannel) {
		t.Errorf("channel 8: got %v", err)
	}
	if err := dma.Program(2, 0x2000, 0, true); !errors.Is(err, ErrDMAChannel) {
		t.Errorf("zero count: got %v", err)
	}

	if err := dma.Program(2, 0x2000, 3, true); err != nil {
		t.Fatalf("Program: %v", err)
	}
	for i := 0; i < 5; i++ {
		dma.Service()
	}
	if got := bus.Read(0x2000, 4); got != 0x00030201 {
		t.Errorf("memory: got 0x%08X, want 0x00030201", got)
	}
	if !dma.TerminalCount(2) {
		t.Error("TerminalCount: not reached")
	}

	if err := dma.Program(2, 0x2000, 2, false); err != nil {
		t.Fatalf("Program read: %v", err)
	}
	dev.request = false
	dma.Service()
	if len(dev.got) != 0 || dma.TerminalCount(2) {
		t.Error("no DREQ: transfer happened anyway")
	}
	dev.request = true
	dma.Service()
	dma.Service()
	if !bytes.Equal(dev.got, []byte{1, 2}) {
		t.Errorf("memory to device: got % X", dev.got)
	}
}
