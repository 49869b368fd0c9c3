package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

const (
	x86TestCodeBase  = 0x0100
	x86TestStackTop  = 0x8000
	x86TestBusMemory = 2 << 20
)

func newQuietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

type cpuX86TestRig struct {
	bus *MachineBus
	io  *IOBus
	irq *IRQLatch
	cpu *CPU_X86
}

// newCPUX86TestRig builds a real-mode CPU with every segment at 0, code at
// 0x100 and the stack just below 0x8000
func newCPUX86TestRig(t *testing.T, program ...byte) *cpuX86TestRig {
	t.Helper()
	log := newQuietLogger()
	bus, err := NewMachineBus(x86TestBusMemory, log)
	if err != nil {
		t.Fatalf("NewMachineBus: %v", err)
	}
	r := &cpuX86TestRig{
		bus: bus,
		io:  NewIOBus(log),
		irq: NewIRQLatch(DEFAULT_IRQ_BASE),
	}
	r.cpu = NewCPU_X86(bus, r.io, log)
	r.cpu.SetInterruptController(r.irq)
	for i := range x86SegNames {
		if err := r.cpu.LoadSegment(i, 0); err != nil {
			t.Fatalf("LoadSegment %s: %v", x86SegNames[i], err)
		}
	}
	r.cpu.SetEIP(x86TestCodeBase)
	r.cpu.SetRegister("ESP", x86TestStackTop)
	r.load(t, x86TestCodeBase, program...)
	return r
}

func (r *cpuX86TestRig) load(t *testing.T, addr uint32, data ...byte) {
	t.Helper()
	if err := r.bus.WriteBytes(addr, data); err != nil {
		t.Fatalf("WriteBytes 0x%X: %v", addr, err)
	}
}

// setVector points a real-mode IVT entry at seg:off
func (r *cpuX86TestRig) setVector(vector byte, seg, off uint16) {
	r.bus.Write(uint32(vector)*4, uint32(off), 2)
	r.bus.Write(uint32(vector)*4+2, uint32(seg), 2)
}

func (r *cpuX86TestRig) step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := r.cpu.Step(); err != nil {
			t.Fatalf("step %d at EIP=0x%08X: %v", i, r.cpu.EIP(), err)
		}
	}
}

func (r *cpuX86TestRig) reg(t *testing.T, name string) uint32 {
	t.Helper()
	v, ok := r.cpu.Register(name)
	if !ok {
		t.Fatalf("unknown register %s", name)
	}
	return v
}

// stackWord reads the 16-bit value n words above SS:SP
func (r *cpuX86TestRig) stackWord(t *testing.T, n int) uint32 {
	t.Helper()
	sp := r.reg(t, "SP")
	return r.bus.ReadLinear(r.cpu.Segment(x86SegSS).Base()+sp+uint32(2*n), 2)
}

func requireX86Reg(t *testing.T, r *cpuX86TestRig, name string, want uint32) {
	t.Helper()
	if got := r.reg(t, name); got != want {
		t.Fatalf("%s = 0x%X, want 0x%X", name, got, want)
	}
}

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic, got none")
		}
	}()
	fn()
}
