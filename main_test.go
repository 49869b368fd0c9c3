package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseMemorySize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint32
	}{
		{"16M", 16 << 20},
		{"640k", 640 << 10},
		{"1G", 1 << 30},
		{"0x200000", 0x200000},
		{"1048576", 1 << 20},
	} {
		got, err := parseMemorySize(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("parseMemorySize(%q): got 0x%X %v, want 0x%X", tc.in, got, err, tc.want)
		}
	}
	for _, bad := range []string{"", "M", "lots", "8G"} {
		if _, err := parseMemorySize(bad); err == nil {
			t.Errorf("parseMemorySize(%q): expected an error", bad)
		}
	}
}

func TestMemorySizeValue_String(t *testing.T) {
	v := memorySizeValue(32 << 20)
	if v.String() != "32M" {
		t.Errorf("String: got %q, want 32M", v.String())
	}
	v = memorySizeValue(0x123000)
	if v.String() != "0x123000" {
		t.Errorf("String: got %q, want 0x123000", v.String())
	}
}

func TestUint16Value(t *testing.T) {
	var v uint16Value
	if err := v.Set("0x7C0"); err != nil || v != 0x7C0 {
		t.Errorf("Set hex: got 0x%X %v", uint16(v), err)
	}
	if err := v.Set("100"); err != nil || v != 100 {
		t.Errorf("Set decimal: got %d %v", uint16(v), err)
	}
	if err := v.Set("0x10000"); err == nil {
		t.Error("Set: accepted a value wider than 16 bits")
	}
	if v.String() != "0x0064" {
		t.Errorf("String: got %q, want 0x0064", v.String())
	}
}

func TestFarPointerValue(t *testing.T) {
	var seg, off uint16
	v := farPointerValue{&seg, &off}
	if err := v.Set("07C0:0010"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if seg != 0x07C0 || off != 0x0010 {
		t.Errorf("Set: got %04X:%04X, want 07C0:0010", seg, off)
	}
	if v.String() != "07C0:0010" {
		t.Errorf("String: got %q", v.String())
	}
	for _, bad := range []string{"7C00", "XYZ:0", "0:10000"} {
		if err := v.Set(bad); err == nil {
			t.Errorf("Set(%q): expected an error", bad)
		}
	}
	if (farPointerValue{}).String() != "" {
		t.Error("String: unbound value must print empty")
	}
}

func TestWriteDisassembly(t *testing.T) {
	var out bytes.Buffer
	writeDisassembly(&out, []byte{0xB8, 0x34, 0x12, 0x90}, 0x100, 32, false)
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "00000100  B8 34 12") || !strings.HasSuffix(lines[0], "MOV AX, 0x1234") {
		t.Errorf("line 0: got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "00000103  90") || !strings.HasSuffix(lines[1], "NOP") {
		t.Errorf("line 1: got %q", lines[1])
	}
}

// =============================================================================
// Commands
// =============================================================================

func runRootCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCmd(t, "version")
	if err != nil || out != "intuition_pc "+pcVersion+"\n" {
		t.Errorf("version: got %q %v", out, err)
	}
}

func TestDisasmCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.bin")
	if err := os.WriteFile(path, []byte{0x90, 0xCD, 0x21}, 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runRootCmd(t, "disasm", "--offset", "1", "--origin", "0x7C00", path)
	if err != nil {
		t.Fatalf("disasm: %v", err)
	}
	if !strings.Contains(out, "00007C00") || !strings.Contains(out, "INT 0x21") {
		t.Errorf("disasm: got %q", out)
	}

	if _, err := runRootCmd(t, "disasm", "--bits", "64", path); err == nil {
		t.Error("disasm --bits 64: expected an error")
	}
}

func TestRunCommand_RawImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.img")
	image := []byte{
		0xB0, 0x4F, 0xE6, 0xE9, // MOV AL, 'O'; OUT 0E9h, AL
		0xB0, 0x4B, 0xE6, 0xE9, // MOV AL, 'K'; OUT 0E9h, AL
		0xF4,
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runRootCmd(t, "--log-level", "error", "run", "-q", "--memory", "2M", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("debug console: got %q, want OK", out)
	}
}

func TestRunCommand_NothingToRun(t *testing.T) {
	if _, err := runRootCmd(t, "--log-level", "error", "run", "-q"); err == nil {
		t.Error("run without BIOS or image: expected an error")
	}
}
