// cpu_x86_test.go - x86 CPU Unit Tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"testing"
)

// =============================================================================
// Reset State Tests
// =============================================================================

func TestX86_ResetState(t *testing.T) {
	log := newQuietLogger()
	bus, err := NewMachineBus(PC_MIN_MEMORY, log)
	if err != nil {
		t.Fatalf("NewMachineBus: %v", err)
	}
	cpu := NewCPU_X86(bus, NewIOBus(log), log)

	cs := cpu.Segment(x86SegCS)
	if cs.Selector() != x86ResetCS {
		t.Errorf("CS: got 0x%04X, want 0x%04X", uint16(cs.Selector()), x86ResetCS)
	}
	if cs.Base() != 0xF0000 {
		t.Errorf("CS base: got 0x%X, want 0xF0000", cs.Base())
	}
	if cpu.EIP() != x86ResetEIP {
		t.Errorf("EIP: got 0x%X, want 0x%X", cpu.EIP(), x86ResetEIP)
	}
	if dx, _ := cpu.Register("EDX"); dx != x86ResetDX {
		t.Errorf("EDX: got 0x%X, want 0x%X", dx, x86ResetDX)
	}
	if cpu.Flags() != x86FlagRes1 {
		t.Errorf("EFLAGS: got 0x%X, want 0x%X", cpu.Flags(), x86FlagRes1)
	}
	if idtr := cpu.IDTR(); idtr.Base != 0 || idtr.Limit != 0xFFFF {
		t.Errorf("IDTR: got base 0x%X limit 0x%X, want 0/0xFFFF", idtr.Base, idtr.Limit)
	}
	if cpu.ProtectedMode() || cpu.CPL() != 0 {
		t.Errorf("mode: protected=%v CPL=%d, want real mode CPL 0", cpu.ProtectedMode(), cpu.CPL())
	}
	for _, idx := range []int{x86SegDS, x86SegES, x86SegSS, x86SegFS, x86SegGS} {
		seg := cpu.Segment(idx)
		if seg.Selector() != 0 || seg.Base() != 0 || seg.Limit() != 0xFFFF {
			t.Errorf("%s: got sel 0x%X base 0x%X limit 0x%X", seg.Name(), uint16(seg.Selector()), seg.Base(), seg.Limit())
		}
	}
}

func TestX86_ResetAfterExecution(t *testing.T) {
	r := newCPUX86TestRig(t, 0xB8, 0x34, 0x12) // MOV AX, 0x1234
	r.step(t, 1)
	r.cpu.Reset()

	requireX86Reg(t, r, "EAX", 0)
	requireX86Reg(t, r, "EIP", x86ResetEIP)
	if r.cpu.InstructionCount != 0 {
		t.Errorf("InstructionCount: got %d, want 0", r.cpu.InstructionCount)
	}
}

// =============================================================================
// Data Movement and Arithmetic
// =============================================================================

func TestX86_MovAddImmediate(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB8, 0x34, 0x12, // MOV AX, 0x1234
		0x05, 0x01, 0x00, // ADD AX, 1
	)
	r.step(t, 2)

	requireX86Reg(t, r, "AX", 0x1235)
	requireX86Reg(t, r, "EIP", 0x106)
	if r.cpu.Flag(x86FlagZF) || r.cpu.Flag(x86FlagCF) {
		t.Errorf("flags: got 0x%X, want ZF and CF clear", r.cpu.Flags())
	}
}

func TestX86_AddByteCarry(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB4, 0x77, // MOV AH, 0x77
		0xB0, 0xFF, // MOV AL, 0xFF
		0x04, 0x01, // ADD AL, 1
	)
	r.step(t, 3)

	requireX86Reg(t, r, "AL", 0)
	requireX86Reg(t, r, "AH", 0x77)
	for _, f := range []struct {
		name string
		bit  uint32
	}{{"CF", x86FlagCF}, {"ZF", x86FlagZF}, {"AF", x86FlagAF}, {"PF", x86FlagPF}} {
		if !r.cpu.Flag(f.bit) {
			t.Errorf("%s: got clear, want set", f.name)
		}
	}
	if r.cpu.Flag(x86FlagOF) || r.cpu.Flag(x86FlagSF) {
		t.Errorf("OF/SF: got 0x%X, want both clear", r.cpu.Flags())
	}
}

func TestX86_IncPreservesCarry(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB8, 0xFF, 0xFF, // MOV AX, 0xFFFF
		0xF9, // STC
		0x40, // INC AX
	)
	r.step(t, 3)

	requireX86Reg(t, r, "AX", 0)
	if !r.cpu.Flag(x86FlagCF) {
		t.Error("CF: INC cleared the carry")
	}
	if !r.cpu.Flag(x86FlagZF) {
		t.Error("ZF: got clear, want set")
	}
}

func TestX86_LEA16(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xBB, 0x00, 0x10, // MOV BX, 0x1000
		0xBE, 0x20, 0x00, // MOV SI, 0x20
		0x8D, 0x40, 0x02, // LEA AX, [BX+SI+2]
	)
	r.step(t, 3)
	requireX86Reg(t, r, "AX", 0x1022)
}

func TestX86_MemoryThroughSegment(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB8, 0xEF, 0xBE, // MOV AX, 0xBEEF
		0xA3, 0x00, 0x20, // MOV [0x2000], AX
	)
	if err := r.cpu.LoadSegment(x86SegDS, 0x0100); err != nil {
		t.Fatalf("LoadSegment DS: %v", err)
	}
	r.step(t, 2)

	if got := r.bus.Read(0x3000, 2); got != 0xBEEF {
		t.Errorf("mem[0x3000]: got 0x%04X, want 0xBEEF", got)
	}
}

func TestX86_PushPop(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB8, 0x78, 0x56, // MOV AX, 0x5678
		0x50, // PUSH AX
		0x5B, // POP BX
	)
	r.step(t, 2)
	requireX86Reg(t, r, "SP", x86TestStackTop-2)
	if got := r.stackWord(t, 0); got != 0x5678 {
		t.Errorf("stack top: got 0x%04X, want 0x5678", got)
	}

	r.step(t, 1)
	requireX86Reg(t, r, "BX", 0x5678)
	requireX86Reg(t, r, "SP", x86TestStackTop)
}

func TestX86_HostPushPop(t *testing.T) {
	r := newCPUX86TestRig(t)
	r.cpu.Push(0x80, 1)
	requireX86Reg(t, r, "SP", x86TestStackTop-2)
	if got := r.cpu.Pop(2); got != 0xFF80 {
		t.Errorf("Pop: got 0x%04X, want sign-extended 0xFF80", got)
	}
}

// =============================================================================
// Control Transfer
// =============================================================================

func TestX86_CallRet(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xE8, 0x04, 0x00, // CALL 0x107
		0x90, 0x90, 0x90, 0x90,
		0xB0, 0x42, // MOV AL, 0x42
		0xC3, // RET
	)
	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x107)
	if got := r.stackWord(t, 0); got != 0x103 {
		t.Errorf("return address: got 0x%X, want 0x103", got)
	}

	r.step(t, 2)
	requireX86Reg(t, r, "AL", 0x42)
	requireX86Reg(t, r, "EIP", 0x103)
	requireX86Reg(t, r, "SP", x86TestStackTop)
}

func TestX86_JccLoop(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB9, 0x05, 0x00, // MOV CX, 5
		0x31, 0xC0, // XOR AX, AX
		0x40,       // INC AX
		0xE2, 0xFD, // LOOP -3
		0xF4, // HLT
	)
	r.step(t, 2+5*2+1)

	requireX86Reg(t, r, "AX", 5)
	requireX86Reg(t, r, "CX", 0)
	if !r.cpu.Halted() {
		t.Error("Halted: got false, want true after HLT")
	}
}

func TestX86_SoftwareInterruptAndIRET(t *testing.T) {
	r := newCPUX86TestRig(t, 0xCD, 0x21) // INT 0x21
	r.setVector(0x21, 0x0000, 0x0500)
	r.load(t, 0x500,
		0xB3, 0x07, // MOV BL, 7
		0xCF, // IRET
	)
	r.cpu.SetFlag(x86FlagIF, true)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x500)
	if r.cpu.Flag(x86FlagIF) {
		t.Error("IF: still set inside the handler")
	}
	if got := r.stackWord(t, 0); got != 0x102 {
		t.Errorf("pushed IP: got 0x%X, want 0x102", got)
	}
	if got := r.stackWord(t, 1); got != 0 {
		t.Errorf("pushed CS: got 0x%X, want 0", got)
	}
	if got := r.stackWord(t, 2); got&x86FlagIF == 0 {
		t.Errorf("pushed FLAGS: got 0x%X, want IF set", got)
	}

	r.step(t, 2)
	requireX86Reg(t, r, "BL", 7)
	requireX86Reg(t, r, "EIP", 0x102)
	requireX86Reg(t, r, "SP", x86TestStackTop)
	if !r.cpu.Flag(x86FlagIF) {
		t.Error("IF: IRET did not restore it")
	}
}

// =============================================================================
// Exceptions
// =============================================================================

func TestX86_DivideErrorRestartsInstruction(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xB3, 0x00, // MOV BL, 0
		0xF6, 0xF3, // DIV BL
	)
	r.setVector(x86VecDivideError, 0, 0x600)
	r.load(t, 0x600, 0xF4)

	r.step(t, 2)
	requireX86Reg(t, r, "EIP", 0x600)
	if got := r.stackWord(t, 0); got != 0x102 {
		t.Errorf("pushed IP: got 0x%X, want the DIV at 0x102", got)
	}
}

func TestX86_UndefinedOpcode(t *testing.T) {
	r := newCPUX86TestRig(t, 0x0F, 0x0B) // UD2
	r.setVector(x86VecInvalidOpcode, 0, 0x700)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x700)
	if got := r.stackWord(t, 0); got != 0x100 {
		t.Errorf("pushed IP: got 0x%X, want 0x100", got)
	}
	if r.cpu.Fatal() != nil {
		t.Errorf("Fatal: got %v, want nil", r.cpu.Fatal())
	}
}

func TestX86_EscapeWithoutCoprocessor(t *testing.T) {
	r := newCPUX86TestRig(t, 0xD8, 0xC0) // FADD ST0, ST0
	r.setVector(x86VecDeviceNotAvailable, 0, 0x700)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x700)
}

func TestX86_OverlongInstruction(t *testing.T) {
	prog := make([]byte, 16)
	for i := range prog {
		prog[i] = 0x66
	}
	r := newCPUX86TestRig(t, prog...)
	r.setVector(x86VecInvalidOpcode, 0, 0x700)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x700)
}

func TestX86_TrapFlag(t *testing.T) {
	r := newCPUX86TestRig(t, 0x90) // NOP
	r.setVector(x86VecDebug, 0, 0x500)
	r.cpu.SetFlag(x86FlagTF, true)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x500)
	if got := r.stackWord(t, 0); got != 0x101 {
		t.Errorf("pushed IP: got 0x%X, want 0x101", got)
	}
	if r.cpu.Flag(x86FlagTF) {
		t.Error("TF: still set inside the handler")
	}
}

func TestX86_VectorOutsideIVTIsFatal(t *testing.T) {
	r := newCPUX86TestRig(t,
		0x0F, 0x01, 0x1E, 0x00, 0x09, // LIDT [0x900]
		0xCD, 0x21, // INT 0x21
	)
	r.load(t, 0x900, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00)

	r.step(t, 1)
	if idtr := r.cpu.IDTR(); idtr.Limit != 3 || idtr.Base != 0 {
		t.Fatalf("IDTR: got base 0x%X limit 0x%X, want 0/3", idtr.Base, idtr.Limit)
	}
	err := r.cpu.Step()
	if !errors.Is(err, ErrX86DoubleFault) {
		t.Fatalf("Step: got %v, want ErrX86DoubleFault", err)
	}
	if !r.cpu.Halted() {
		t.Error("Halted: got false after a fatal error")
	}
	if err := r.cpu.Step(); !errors.Is(err, ErrX86DoubleFault) {
		t.Errorf("Step after fatal: got %v, want the same error", err)
	}
}

// =============================================================================
// HLT and Maskable Interrupts
// =============================================================================

func TestX86_HaltWakesOnIRQ(t *testing.T) {
	r := newCPUX86TestRig(t, 0xF4) // HLT
	r.setVector(DEFAULT_IRQ_BASE, 0, 0x800)
	r.cpu.SetFlag(x86FlagIF, true)

	r.step(t, 2)
	if !r.cpu.Halted() {
		t.Fatal("Halted: got false, want true")
	}
	requireX86Reg(t, r, "EIP", 0x101)

	r.irq.RaiseIRQ(0)
	r.step(t, 1)
	if r.cpu.Halted() {
		t.Error("Halted: IRQ did not wake the CPU")
	}
	requireX86Reg(t, r, "EIP", 0x800)
	if got := r.stackWord(t, 0); got != 0x101 {
		t.Errorf("pushed IP: got 0x%X, want 0x101", got)
	}
}

func TestX86_IRQMaskedByIF(t *testing.T) {
	r := newCPUX86TestRig(t, 0x90, 0x90)
	r.setVector(DEFAULT_IRQ_BASE+1, 0, 0x800)
	r.irq.RaiseIRQ(1)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x101)
	if !r.cpu.InterruptPending() {
		t.Error("InterruptPending: line was consumed while IF was clear")
	}
}

func TestX86_STIShadow(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xFB, // STI
		0x90, // NOP
	)
	r.setVector(DEFAULT_IRQ_BASE, 0, 0x800)
	r.irq.RaiseIRQ(0)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x101)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x800)
	if got := r.stackWord(t, 0); got != 0x102 {
		t.Errorf("pushed IP: got 0x%X, want 0x102", got)
	}
}

// =============================================================================
// String Instructions
// =============================================================================

func TestX86_RepMovsb(t *testing.T) {
	r := newCPUX86TestRig(t, 0xF3, 0xA4) // REP MOVSB
	r.load(t, 0x1000, []byte("HELLO")...)
	r.cpu.SetRegister("SI", 0x1000)
	r.cpu.SetRegister("DI", 0x2000)
	r.cpu.SetRegister("CX", 5)

	r.step(t, 1)
	got, err := r.bus.ReadBytes(0x2000, 5)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "HELLO" {
		t.Errorf("copied: got %q, want %q", got, "HELLO")
	}
	requireX86Reg(t, r, "CX", 0)
	requireX86Reg(t, r, "SI", 0x1005)
	requireX86Reg(t, r, "DI", 0x2005)
	requireX86Reg(t, r, "EIP", 0x102)
}

func TestX86_RepStosbYieldsBetweenBatches(t *testing.T) {
	r := newCPUX86TestRig(t, 0xF3, 0xAA) // REP STOSB
	r.cpu.SetRegister("AL", 0x55)
	r.cpu.SetRegister("DI", 0x3000)
	r.cpu.SetRegister("CX", 5000)

	r.step(t, 1)
	requireX86Reg(t, r, "CX", 5000-x86StringBatch)
	requireX86Reg(t, r, "EIP", 0x100)

	r.step(t, 1)
	requireX86Reg(t, r, "CX", 0)
	requireX86Reg(t, r, "EIP", 0x102)
	if got := r.bus.Read(0x3000+4999, 1); got != 0x55 {
		t.Errorf("last byte: got 0x%02X, want 0x55", got)
	}
	if got := r.bus.Read(0x3000+5000, 1); got != 0 {
		t.Errorf("byte past the count: got 0x%02X, want 0", got)
	}
}

func TestX86_RepeCmpsbStopsOnMismatch(t *testing.T) {
	r := newCPUX86TestRig(t, 0xF3, 0xA6) // REPE CMPSB
	r.load(t, 0x1000, []byte("ABCX")...)
	r.load(t, 0x2000, []byte("ABCD")...)
	r.cpu.SetRegister("SI", 0x1000)
	r.cpu.SetRegister("DI", 0x2000)
	r.cpu.SetRegister("CX", 4)

	r.step(t, 1)
	requireX86Reg(t, r, "CX", 0)
	requireX86Reg(t, r, "SI", 0x1004)
	if r.cpu.Flag(x86FlagZF) {
		t.Error("ZF: got set, want clear after the mismatch")
	}
}

// =============================================================================
// A20, Port I/O and the Decode Cache
// =============================================================================

func TestX86_A20Wrap(t *testing.T) {
	r := newCPUX86TestRig(t, 0xA0, 0x10, 0x00) // MOV AL, [0x0010]
	if err := r.cpu.LoadSegment(x86SegDS, 0xFFFF); err != nil {
		t.Fatalf("LoadSegment DS: %v", err)
	}
	r.bus.Write(0x000000, 0xAB, 1)
	r.bus.Write(0x100000, 0xCD, 1)

	r.step(t, 1)
	requireX86Reg(t, r, "AL", 0xAB)

	r.bus.SetA20(true)
	r.cpu.SetEIP(0x100)
	r.step(t, 1)
	requireX86Reg(t, r, "AL", 0xCD)
}

func TestX86_PortIO(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xE4, 0x60, // IN AL, 0x60
		0xE6, 0x61, // OUT 0x61, AL
		0xBA, 0x70, 0x00, // MOV DX, 0x70
		0xED, // IN AX, DX
	)
	var written uint32
	if err := r.io.Register("kbd", 0x60, IOPortFuncs{
		Read: func(port uint16, size int) uint32 { return 0x5A },
	}, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.io.Register("ctl", 0x61, IOPortFuncs{
		Write: func(port uint16, value uint32, size int) { written = value },
	}, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.step(t, 2)
	requireX86Reg(t, r, "AL", 0x5A)
	if written != 0x5A {
		t.Errorf("OUT 0x61: got 0x%02X, want 0x5A", written)
	}

	r.step(t, 2)
	requireX86Reg(t, r, "AX", 0xFFFF)
}

func TestX86_SelfModifyingCode(t *testing.T) {
	r := newCPUX86TestRig(t, 0xB0, 0x01) // MOV AL, 1
	r.step(t, 1)
	requireX86Reg(t, r, "AL", 1)
	if n := r.bus.DecodeCacheSize(); n != 1 {
		t.Fatalf("DecodeCacheSize: got %d, want 1", n)
	}

	r.bus.Write(0x101, 0x02, 1)
	if n := r.bus.DecodeCacheSize(); n != 0 {
		t.Errorf("DecodeCacheSize after overwrite: got %d, want 0", n)
	}
	r.cpu.SetEIP(0x100)
	r.step(t, 1)
	requireX86Reg(t, r, "AL", 2)
}

func TestX86_DecodeCacheDisabled(t *testing.T) {
	r := newCPUX86TestRig(t, 0x90, 0x90)
	r.cpu.SetDecodeCache(false)
	r.step(t, 2)
	if n := r.bus.DecodeCacheSize(); n != 0 {
		t.Errorf("DecodeCacheSize: got %d, want 0", n)
	}
}

// =============================================================================
// CPUID and RDTSC
// =============================================================================

func TestX86_CPUID(t *testing.T) {
	r := newCPUX86TestRig(t,
		0x66, 0x31, 0xC0, // XOR EAX, EAX
		0x0F, 0xA2, // CPUID
		0x66, 0xB8, 0x01, 0x00, 0x00, 0x00, // MOV EAX, 1
		0x0F, 0xA2, // CPUID
	)
	r.step(t, 2)
	requireX86Reg(t, r, "EAX", 1)
	requireX86Reg(t, r, "EBX", 0x756E6547)
	requireX86Reg(t, r, "EDX", 0x49656E69)
	requireX86Reg(t, r, "ECX", 0x6C65746E)

	r.step(t, 2)
	requireX86Reg(t, r, "EAX", x86CPUIDFamily)
	requireX86Reg(t, r, "EDX", x86CPUIDTSC)
}

func TestX86_RDTSCCountsInstructions(t *testing.T) {
	r := newCPUX86TestRig(t, 0x90, 0x90, 0x0F, 0x31)
	r.step(t, 3)
	requireX86Reg(t, r, "EAX", 2)
	requireX86Reg(t, r, "EDX", 0)
}

// =============================================================================
// Protected Mode
// =============================================================================

func TestX86_EnterProtectedMode(t *testing.T) {
	r := newCPUX86TestRig(t,
		0x0F, 0x01, 0x16, 0x00, 0x09, // LGDT [0x900]
		0x0F, 0x20, 0xC0, // MOV EAX, CR0
		0x0C, 0x01, // OR AL, 1
		0x0F, 0x22, 0xC0, // MOV CR0, EAX
		0xEA, 0x20, 0x01, 0x08, 0x00, // JMP 0x0008:0x0120
	)
	r.load(t, 0x120,
		0x66, 0xB8, 0x10, 0x00, // MOV AX, 0x10
		0x8E, 0xD8, // MOV DS, AX
		0xB8, 0x78, 0x56, 0x34, 0x12, // MOV EAX, 0x12345678
	)
	code := X86SegmentDescriptor{Limit: 0xFFFFFFFF, Type: x86DescExecutable | x86DescRW, Present: true, DefaultBig: true, Granularity: true}.Encode()
	data := X86SegmentDescriptor{Limit: 0xFFFFFFFF, Type: x86DescRW, Present: true, DefaultBig: true, Granularity: true}.Encode()
	r.load(t, 0x808, code[:]...)
	r.load(t, 0x810, data[:]...)
	r.load(t, 0x900, 0x17, 0x00, 0x00, 0x08, 0x00, 0x00)

	r.step(t, 5)
	if !r.cpu.ProtectedMode() {
		t.Fatal("ProtectedMode: got false after setting CR0.PE")
	}
	if r.cpu.CR(0)&x86CR0ET == 0 {
		t.Errorf("CR0: got 0x%X, want ET forced on", r.cpu.CR(0))
	}
	if gdtr := r.cpu.GDTR(); gdtr.Base != 0x800 || gdtr.Limit != 0x17 {
		t.Errorf("GDTR: got base 0x%X limit 0x%X, want 0x800/0x17", gdtr.Base, gdtr.Limit)
	}
	cs := r.cpu.Segment(x86SegCS)
	if cs.Selector() != 0x08 || !cs.Big() || cs.Limit() != 0xFFFFFFFF {
		t.Errorf("CS: got sel 0x%X big=%v limit 0x%X", uint16(cs.Selector()), cs.Big(), cs.Limit())
	}
	if d := cs.Descriptor(); d.Base != 0 || d.Type&x86DescExecutable == 0 || d.System || d.DPL != 0 || !d.Present {
		t.Errorf("CS cache: got base 0x%X type 0x%X system %v DPL %d present %v", d.Base, d.Type, d.System, d.DPL, d.Present)
	}
	requireX86Reg(t, r, "EIP", 0x120)

	r.step(t, 3)
	requireX86Reg(t, r, "EAX", 0x12345678)
	requireX86Reg(t, r, "EIP", 0x12B)
	if ds := r.cpu.Segment(x86SegDS); ds.Selector() != 0x10 || ds.Limit() != 0xFFFFFFFF {
		t.Errorf("DS: got sel 0x%X limit 0x%X", uint16(ds.Selector()), ds.Limit())
	}

	es := r.cpu.Segment(x86SegES)
	esBefore := es.Descriptor()
	err := r.cpu.LoadSegment(x86SegES, 0x18)
	var fault *X86Fault
	if !errors.As(err, &fault) {
		t.Fatalf("LoadSegment past GDT limit: got %v, want *X86Fault", err)
	}
	if fault.Vector != x86VecGeneralProtection || fault.ErrorCode != 0x18 {
		t.Errorf("fault: got vector %d code 0x%X, want #GP(0x18)", fault.Vector, fault.ErrorCode)
	}
	if es.Selector() != 0 || es.Descriptor() != esBefore {
		t.Errorf("ES: got sel 0x%X cache %+v, want it unchanged after the failed load", uint16(es.Selector()), es.Descriptor())
	}
}

func TestX86_HostPushPopWidths(t *testing.T) {
	for _, tc := range []struct {
		size   int
		value  uint32
		width  int
		stored uint32
		popped uint32
	}{
		{1, 0x80, 2, 0xFF80, 0xFF80},
		{1, 0x7F, 2, 0x007F, 0x007F},
		{2, 0xBEEF, 2, 0xBEEF, 0xBEEF},
		{3, 0x800000, 4, 0xFF800000, 0xFF800000},
		{3, 0x123456, 4, 0x00123456, 0x00123456},
		{4, 0xDEADBEEF, 4, 0xDEADBEEF, 0xDEADBEEF},
	} {
		r := newCPUX86TestRig(t)
		r.cpu.Push(tc.value, tc.size)
		sp := r.reg(t, "SP")
		if sp != x86TestStackTop-uint32(tc.width) {
			t.Errorf("size %d: SP 0x%X after push, want 0x%X", tc.size, sp, x86TestStackTop-uint32(tc.width))
		}
		if got := r.bus.ReadLinear(sp, tc.width); got != tc.stored {
			t.Errorf("size %d: stored 0x%X, want 0x%X", tc.size, got, tc.stored)
		}
		if got := r.cpu.Pop(tc.size); got != tc.popped {
			t.Errorf("size %d: popped 0x%X, want 0x%X", tc.size, got, tc.popped)
		}
		requireX86Reg(t, r, "SP", x86TestStackTop)
	}
}

// =============================================================================
// Segment Limits and Physical Memory Bounds
// =============================================================================

// faultVector runs fn and returns the vector of the fault it raises
func faultVector(t *testing.T, fn func()) (vector byte, faulted bool) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*X86Fault)
			if !ok {
				panic(r)
			}
			vector, faulted = f.Vector, true
		}
	}()
	fn()
	return 0, false
}

func TestX86_GuestAccessPastMemoryIsFatal(t *testing.T) {
	r := newCPUX86TestRig(t, 0x8B, 0x05, 0x00, 0x00, 0x00, 0x10) // MOV EAX, [0x10000000]
	enterFlatProtectedMode(t, r)
	if err := r.cpu.LoadSegment(x86SegCS, 0x08); err != nil {
		t.Fatalf("LoadSegment CS: %v", err)
	}
	if err := r.cpu.LoadSegment(x86SegDS, 0x10); err != nil {
		t.Fatalf("LoadSegment DS: %v", err)
	}

	err := r.cpu.Step()
	var v *X86ContractViolation
	if !errors.As(err, &v) {
		t.Fatalf("Step: got %v, want a contract violation", err)
	}
	if r.cpu.Fatal() == nil || !r.cpu.Halted() {
		t.Errorf("after violation: fatal %v halted %v, want the CPU stopped", r.cpu.Fatal(), r.cpu.Halted())
	}
	if err := r.cpu.Step(); !errors.As(err, &v) {
		t.Errorf("Step after fatal: got %v, want the same violation", err)
	}
	requireX86Reg(t, r, "EAX", 0)
}

func TestX86_RealModeOffsetPastLimitFaults(t *testing.T) {
	r := newCPUX86TestRig(t,
		0xA0, 0xFF, 0xFF, // MOV AL, [0xFFFF]
		0x8B, 0x06, 0xFF, 0xFF, // MOV AX, [0xFFFF]
	)
	r.setVector(x86VecGeneralProtection, 0, 0x800)
	r.load(t, 0x800, 0xF4)
	r.bus.Write(0xFFFF, 0x5A, 1)

	r.step(t, 1)
	requireX86Reg(t, r, "AL", 0x5A)

	r.step(t, 1)
	requireX86Reg(t, r, "EIP", 0x800)
	if got := r.stackWord(t, 0); got != 0x103 {
		t.Errorf("#GP return address: got 0x%X, want the faulting 0x103", got)
	}
	requireX86Reg(t, r, "AX", 0x5A)
}

func TestX86_ProtectedModeSegmentChecks(t *testing.T) {
	r := newCPUX86TestRig(t)
	enterFlatProtectedMode(t, r)
	readOnly := X86SegmentDescriptor{Limit: 0xFFFF, Present: true}.Encode()
	expandDown := X86SegmentDescriptor{Limit: 0x0FFF, Type: x86DescRW | x86DescDC, Present: true}.Encode()
	r.load(t, 0x828, readOnly[:]...)
	r.load(t, 0x830, expandDown[:]...)
	r.cpu.gdtr.Limit = 0x37
	for _, s := range []struct {
		idx int
		sel uint16
	}{{x86SegDS, 0x28}, {x86SegES, 0x30}, {x86SegSS, 0x30}} {
		if err := r.cpu.LoadSegment(s.idx, s.sel); err != nil {
			t.Fatalf("LoadSegment %s: %v", x86SegNames[s.idx], err)
		}
	}

	for _, tc := range []struct {
		name   string
		access func()
		vector byte
		faults bool
	}{
		{"read-only read", func() { r.cpu.readMem(x86SegDS, 0, 2) }, 0, false},
		{"read-only write", func() { r.cpu.writeMem(x86SegDS, 0, 1, 2) }, x86VecGeneralProtection, true},
		{"read at limit", func() { r.cpu.readMem(x86SegDS, 0xFFFF, 1) }, 0, false},
		{"word straddling limit", func() { r.cpu.readMem(x86SegDS, 0xFFFF, 2) }, x86VecGeneralProtection, true},
		{"expand-down at limit", func() { r.cpu.readMem(x86SegES, 0x0FFF, 1) }, x86VecGeneralProtection, true},
		{"expand-down above limit", func() { r.cpu.writeMem(x86SegES, 0x1000, 1, 4) }, 0, false},
		{"expand-down top word", func() { r.cpu.readMem(x86SegES, 0xFFFE, 2) }, 0, false},
		{"expand-down past top", func() { r.cpu.readMem(x86SegES, 0xFFFF, 2) }, x86VecGeneralProtection, true},
		{"stack below limit", func() { r.cpu.readMem(x86SegSS, 0x0800, 2) }, x86VecStackFault, true},
	} {
		vector, faulted := faultVector(t, tc.access)
		if faulted != tc.faults || vector != tc.vector {
			t.Errorf("%s: got fault %v vector %d, want fault %v vector %d", tc.name, faulted, vector, tc.faults, tc.vector)
		}
	}
}

// =============================================================================
// Far Calls and CMPXCHG
// =============================================================================

func TestX86_FarCallStackFaultKeepsCS(t *testing.T) {
	r := newCPUX86TestRig(t)
	r.cpu.SetRegister("ESP", 1)

	vector, faulted := faultVector(t, func() { r.cpu.farCall(0x1234, 0x0010, 2) })
	if !faulted || vector != x86VecStackFault {
		t.Fatalf("farCall: got fault %v vector %d, want #SS", faulted, vector)
	}
	cs := r.cpu.Segment(x86SegCS)
	if cs.Selector() != 0 || cs.Base() != 0 {
		t.Errorf("CS: got sel 0x%X base 0x%X, want it unchanged", uint16(cs.Selector()), cs.Base())
	}
	requireX86Reg(t, r, "EIP", x86TestCodeBase)
}

func TestX86_CmpxchgAlwaysWritesDestination(t *testing.T) {
	for _, tc := range []struct {
		name    string
		current uint32
		written uint32
		al      uint32
		zf      bool
	}{
		{"match", 0x10, 0x99, 0x10, true},
		{"mismatch", 0x42, 0x42, 0x42, false},
	} {
		r := newCPUX86TestRig(t, 0x0F, 0xB0, 0x1E, 0x00, 0x00) // CMPXCHG [0], BL
		dev := &recordingRegion{readValue: tc.current, lastSize: -1}
		if err := r.bus.MapRegion("dev", 0xA0000, 0xA0FFF, dev); err != nil {
			t.Fatalf("MapRegion: %v", err)
		}
		if err := r.cpu.LoadSegment(x86SegDS, 0xA000); err != nil {
			t.Fatalf("LoadSegment DS: %v", err)
		}
		r.cpu.SetRegister("AL", 0x10)
		r.cpu.SetRegister("BL", 0x99)

		r.step(t, 1)
		if dev.lastSize != 1 || dev.lastValue != tc.written {
			t.Errorf("%s: write cycle size %d value 0x%X, want a byte of 0x%X", tc.name, dev.lastSize, dev.lastValue, tc.written)
		}
		requireX86Reg(t, r, "AL", tc.al)
		if r.cpu.Flag(x86FlagZF) != tc.zf {
			t.Errorf("%s: ZF %v, want %v", tc.name, r.cpu.Flag(x86FlagZF), tc.zf)
		}
	}
}
