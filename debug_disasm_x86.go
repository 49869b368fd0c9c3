// debug_disasm_x86.go - x86 disassembler for trace output and the disasm command
//
// Built on the execution decoder, so the listing always shows exactly what
// the CPU would run.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// DisassembledLine represents one disassembled instruction.
type DisassembledLine struct {
	Address      uint32
	HexBytes     string
	Mnemonic     string
	Size         int
	IsBranch     bool
	BranchTarget uint32
}

var x86SizePtr = map[int]string{1: "BYTE", 2: "WORD", 4: "DWORD", 6: "FWORD"}

func x86RegName(idx, size int) string {
	switch size {
	case 1:
		return x86Reg8Names[idx]
	case 2:
		return x86Reg16Names[idx]
	}
	return x86Reg32Names[idx]
}

func formatX86Memory(in *X86Instruction, i int) string {
	op := &in.Ops[i]
	var sb strings.Builder
	if ptr, ok := x86SizePtr[op.Size]; ok && in.Info.Operands[i] != x86OpM {
		sb.WriteString(ptr)
		sb.WriteString(" PTR ")
	}
	if in.Segment != x86SegNone {
		sb.WriteString(x86SegNames[in.Segment])
		sb.WriteByte(':')
	}
	sb.WriteByte('[')
	terms := 0
	if op.Base >= 0 {
		sb.WriteString(x86RegName(int(op.Base), op.AddrSize))
		terms++
	}
	if op.Index >= 0 {
		if terms > 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(x86RegName(int(op.Index), op.AddrSize))
		if op.Scale > 0 {
			fmt.Fprintf(&sb, "*%d", 1<<op.Scale)
		}
		terms++
	}
	disp := op.Disp & x86SizeMask(op.AddrSize)
	switch {
	case terms == 0:
		fmt.Fprintf(&sb, "0x%X", disp)
	case disp == 0:
	case x86SignExtend(disp, op.AddrSize)&0x80000000 != 0:
		fmt.Fprintf(&sb, "-0x%X", (-x86SignExtend(disp, op.AddrSize))&x86SizeMask(op.AddrSize))
	default:
		fmt.Fprintf(&sb, "+0x%X", disp)
	}
	sb.WriteByte(']')
	return sb.String()
}

func formatX86Operand(in *X86Instruction, i int) string {
	op := &in.Ops[i]
	switch op.Kind {
	case x86OperandReg:
		return x86RegName(op.Reg, op.Size)
	case x86OperandMem:
		return formatX86Memory(in, i)
	case x86OperandImm:
		return fmt.Sprintf("0x%X", op.Imm)
	case x86OperandSeg:
		return x86SegNames[op.Reg]
	case x86OperandCtrl:
		return fmt.Sprintf("CR%d", op.Reg)
	case x86OperandDebug:
		return fmt.Sprintf("DR%d", op.Reg)
	case x86OperandRel:
		return fmt.Sprintf("0x%X", x86BranchTarget(in, op))
	case x86OperandFar:
		return fmt.Sprintf("0x%04X:0x%X", op.Sel, op.Imm)
	}
	return "?"
}

// x86BranchTarget resolves a relative operand against the next instruction
func x86BranchTarget(in *X86Instruction, op *X86Operand) uint32 {
	return (in.EIP + uint32(in.Length) + op.Imm) & x86SizeMask(in.OperandSize)
}

// FormatX86Instruction renders in in Intel syntax
func FormatX86Instruction(in *X86Instruction) string {
	var sb strings.Builder
	if in.Lock {
		sb.WriteString("LOCK ")
	}
	switch in.Rep {
	case 0xF3:
		if isX86CompareString(in) {
			sb.WriteString("REPE ")
		} else {
			sb.WriteString("REP ")
		}
	case 0xF2:
		sb.WriteString("REPNE ")
	}
	sb.WriteString(in.Mnemonic())
	for i := 0; i < in.NumOps; i++ {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(formatX86Operand(in, i))
	}
	return sb.String()
}

func isX86CompareString(in *X86Instruction) bool {
	switch in.Opcode {
	case 0xA6, 0xA7, 0xAE, 0xAF:
		return true
	}
	return false
}

// DisassembleX86 decodes count instructions starting at a code segment
// offset. fetch returns the byte at an offset. Undecodable bytes are shown
// as DB and skipped one at a time.
func DisassembleX86(fetch func(off uint32) byte, start uint32, count int, big bool) []DisassembledLine {
	lines := make([]DisassembledLine, 0, count)
	addr := start
	for range count {
		in, err := DecodeX86(fetch, addr, big)
		if err != nil {
			b := fetch(addr)
			lines = append(lines, DisassembledLine{
				Address:  addr,
				HexBytes: fmt.Sprintf("%02X", b),
				Mnemonic: fmt.Sprintf("DB 0x%02X", b),
				Size:     1,
			})
			addr++
			continue
		}
		line := DisassembledLine{
			Address:  addr,
			HexBytes: describeX86Bytes(in.Raw()),
			Mnemonic: FormatX86Instruction(in),
			Size:     in.Length,
		}
		if in.NumOps > 0 && in.Ops[0].Kind == x86OperandRel {
			line.IsBranch = true
			line.BranchTarget = x86BranchTarget(in, &in.Ops[0])
		}
		lines = append(lines, line)
		addr += uint32(in.Length)
		if !big {
			addr &= 0xFFFF
		}
	}
	return lines
}

// x86Tracer writes one line per executed instruction
type x86Tracer struct {
	out   io.Writer
	addr  *color.Color
	bytes *color.Color
	mnem  *color.Color
}

func newX86Tracer(out io.Writer, colored bool) *x86Tracer {
	t := &x86Tracer{
		out:   out,
		addr:  color.New(color.FgCyan),
		bytes: color.New(color.FgHiBlack),
		mnem:  color.New(color.FgYellow, color.Bold),
	}
	for _, c := range []*color.Color{t.addr, t.bytes, t.mnem} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return t
}

// Trace prints the instruction at CS:EIP without executing it
func (t *x86Tracer) Trace(cpu *CPU_X86) {
	cs := uint16(cpu.Segment(x86SegCS).Selector())
	in, err := cpu.PeekInstruction()
	if err != nil {
		fmt.Fprintf(t.out, "%s  %s\n", t.addr.Sprintf("%04X:%08X", cs, cpu.EIP()), t.mnem.Sprint("(bad)"))
		return
	}
	fmt.Fprintf(t.out, "%s  %s %s\n",
		t.addr.Sprintf("%04X:%08X", cs, cpu.EIP()),
		t.bytes.Sprintf("%-30s", describeX86Bytes(in.Raw())),
		t.mnem.Sprint(FormatX86Instruction(in)))
}
