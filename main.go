// main.go - Main entry point for the IntuitionPC x86 machine

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
https://github.com/IntuitionAmiga/IntuitionPC
License: GPLv3 or later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const pcVersion = "0.3.0"

func boilerPlate(out io.Writer) {
	fmt.Fprintln(out, "\n\033[38;2;255;20;147m ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████\033[0m\n\033[38;2;255;50;147m▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀\033[0m\n\033[38;2;255;80;147m▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███\033[0m\n\033[38;2;255;110;147m░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄\033[0m\n\033[38;2;255;140;147m░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒\033[0m\n\033[38;2;255;170;147m░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░\033[0m\n\033[38;2;255;200;147m ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░\033[0m\n\033[38;2;255;230;147m ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░\033[0m\n\033[38;2;255;255;147m ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░\033[0m")
	fmt.Fprintln(out, "\nIntuitionPC: an x86 PC core for the Intuition family of machines.")
	fmt.Fprintln(out, "(c) 2024 - 2026 Zayn Otley")
	fmt.Fprintln(out, "https://github.com/IntuitionAmiga/IntuitionPC")
	fmt.Fprintln(out, "License: GPLv3 or later")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// -----------------------------------------------------------------------------
// Flag values
// -----------------------------------------------------------------------------

func parseUint16Flag(value string) (uint16, error) {
	parsed, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(parsed), nil
}

// uint16Value is a pflag.Value accepting hex (0x), octal or decimal
type uint16Value uint16

func (v *uint16Value) String() string { return fmt.Sprintf("0x%04X", uint16(*v)) }
func (v *uint16Value) Type() string   { return "uint16" }

func (v *uint16Value) Set(s string) error {
	parsed, err := parseUint16Flag(s)
	if err != nil {
		return err
	}
	*v = uint16Value(parsed)
	return nil
}

// parseMemorySize accepts a byte count with an optional K, M or G suffix
func parseMemorySize(s string) (uint32, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	shift := 0
	switch {
	case strings.HasSuffix(s, "K"):
		shift = 10
	case strings.HasSuffix(s, "M"):
		shift = 20
	case strings.HasSuffix(s, "G"):
		shift = 30
	}
	if shift != 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	n <<= shift
	if n > 0xFFFFFFFF {
		return 0, fmt.Errorf("memory size %q exceeds 4G", s)
	}
	return uint32(n), nil
}

// memorySizeValue is a pflag.Value for --memory
type memorySizeValue uint32

func (v *memorySizeValue) String() string {
	n := uint32(*v)
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dM", n>>20)
	}
	return fmt.Sprintf("0x%X", n)
}
func (v *memorySizeValue) Type() string { return "size" }

func (v *memorySizeValue) Set(s string) error {
	n, err := parseMemorySize(s)
	if err != nil {
		return err
	}
	*v = memorySizeValue(n)
	return nil
}

// farPointerValue is a pflag.Value for SEG:OFF
type farPointerValue struct {
	seg, off *uint16
}

func (v farPointerValue) String() string {
	if v.seg == nil {
		return ""
	}
	return fmt.Sprintf("%04X:%04X", *v.seg, *v.off)
}
func (v farPointerValue) Type() string { return "seg:off" }

func (v farPointerValue) Set(s string) error {
	segText, offText, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("want SEG:OFF, got %q", s)
	}
	seg, err := strconv.ParseUint(segText, 16, 16)
	if err != nil {
		return fmt.Errorf("segment %q: %w", segText, err)
	}
	off, err := strconv.ParseUint(offText, 16, 16)
	if err != nil {
		return fmt.Errorf("offset %q: %w", offText, err)
	}
	*v.seg, *v.off = uint16(seg), uint16(off)
	return nil
}

var (
	_ pflag.Value = (*uint16Value)(nil)
	_ pflag.Value = (*memorySizeValue)(nil)
	_ pflag.Value = farPointerValue{}
)

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

type runOptions struct {
	cfg         PCConfig
	script      string
	breakpoints []string
	dumpState   bool
	perf        bool
	manualClock bool
	quiet       bool
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "intuition_pc",
		Short:         "IntuitionPC x86 machine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.AddCommand(newRunCmd(&logLevel), newDisasmCmd(), newVersionCmd())
	return root
}

func newRunCmd(logLevel *string) *cobra.Command {
	opts := runOptions{cfg: DefaultPCConfig()}

	cmd := &cobra.Command{
		Use:   "run [image]",
		Short: "Boot a BIOS or run a raw real-mode image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.cfg.ImagePath = args[0]
			}
			if !cmd.Flags().Changed("entry") {
				opts.cfg.EntryCS, opts.cfg.EntryIP = opts.cfg.LoadSegment, opts.cfg.LoadOffset
			}
			opts.cfg.LogLevel = *logLevel
			return runPC(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.cfg.BIOSPath, "bios", "", "System BIOS image, mapped to end at the 1M boundary")
	f.StringVar(&opts.cfg.VGABIOSPath, "vga-bios", "", "Expansion ROM image mapped at C000:0000")
	f.Var((*memorySizeValue)(&opts.cfg.MemorySize), "memory", "Physical memory size, 1M to 3G (e.g. 16M)")
	f.BoolVar(&opts.cfg.A20Enabled, "a20", false, "Start with the A20 gate open")
	f.BoolVar(&opts.cfg.DecodeCache, "decode-cache", true, "Cache decoded instructions by physical address")
	f.Var((*uint16Value)(&opts.cfg.LoadSegment), "load-segment", "Raw image load segment")
	f.Var((*uint16Value)(&opts.cfg.LoadOffset), "load-offset", "Raw image load offset")
	f.Var(farPointerValue{&opts.cfg.EntryCS, &opts.cfg.EntryIP}, "entry", "Raw image entry point SEG:OFF (default: load address)")
	f.Uint8Var(&opts.cfg.IRQBase, "irq-base", DEFAULT_IRQ_BASE, "Vector of IRQ 0 on the interrupt latch")
	f.BoolVar(&opts.cfg.Trace, "trace", false, "Trace every instruction to stderr")
	f.Uint64Var(&opts.cfg.MaxInstructions, "max-instructions", 0, "Stop after this many instructions (0 = unlimited)")
	f.StringVar(&opts.script, "script", "", "Lua script driving the machine instead of a free run")
	f.StringArrayVar(&opts.breakpoints, "break", nil, "Breakpoint ADDR or SEG:OFF, optionally \"ADDR if COND\" (repeatable)")
	f.BoolVar(&opts.dumpState, "dump-state", false, "Print CPU and machine state on exit")
	f.BoolVar(&opts.perf, "perf", false, "Report MIPS while running")
	f.BoolVar(&opts.manualClock, "manual-clock", false, "Use a virtual clock that only advances while halted")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print the banner")
	return cmd
}

// runPC wires, boots and runs one machine
func runPC(ctx context.Context, stdout, stderr io.Writer, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	colored := isTerminal(os.Stderr)
	log, err := NewPCLogger(stderr, opts.cfg.LogLevel, colored)
	if err != nil {
		return err
	}
	if !opts.quiet && isTerminal(os.Stdout) {
		boilerPlate(stdout)
	}

	deps := PCDeps{Log: log, DebugOut: stdout}
	if opts.manualClock {
		deps.Clock = &ManualClock{}
	}
	sys, err := NewPCSystem(opts.cfg, deps)
	if err != nil {
		return err
	}
	if err := sys.Boot(ctx); err != nil {
		return err
	}

	runErr := drivePC(ctx, sys, opts, stderr, colored, log)
	if opts.dumpState {
		if err := DumpX86State(stdout, sys, isTerminal(os.Stdout)); err != nil {
			log.WithError(err).Warn("state dump failed")
		}
	}
	switch {
	case errors.Is(runErr, ErrBreakpoint):
		return nil
	case errors.Is(runErr, context.Canceled):
		log.Info("interrupted")
		return nil
	}
	return runErr
}

func drivePC(ctx context.Context, sys *PCSystem, opts runOptions, stderr io.Writer, colored bool, log logrus.FieldLogger) error {
	if opts.script != "" {
		script := NewPCScript(sys, log)
		defer script.Close()
		return script.DoFile(ctx, opts.script)
	}

	runCfg := PCRunnerConfig{
		MaxInstructions: opts.cfg.MaxInstructions,
		PerfEnabled:     opts.perf,
	}
	if opts.cfg.Trace {
		runCfg.Trace = stderr
		runCfg.TraceColor = colored
	}
	if len(opts.breakpoints) > 0 {
		dbg := NewDebugX86(sys)
		for _, text := range opts.breakpoints {
			bp, err := ParseBreakpoint(text)
			if err != nil {
				return err
			}
			dbg.SetConditionalBreakpoint(bp.Address, bp.Condition)
		}
		runCfg.Debugger = dbg
	}
	return NewPCRunner(sys, runCfg).Run(ctx)
}

func newDisasmCmd() *cobra.Command {
	var (
		offset uint32
		origin uint32
		count  int
		bits   int
	)
	cmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "Disassemble x86 code from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bits != 16 && bits != 32 {
				return fmt.Errorf("--bits must be 16 or 32")
			}
			data, err := FileImageLoader{}.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if uint64(offset) >= uint64(len(data)) {
				return fmt.Errorf("offset 0x%X beyond %d byte file", offset, len(data))
			}
			writeDisassembly(cmd.OutOrStdout(), data[offset:], origin, count, bits == 32)
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint32Var(&offset, "offset", 0, "File offset of the first byte")
	f.Uint32Var(&origin, "origin", 0, "Address shown for the first byte")
	f.IntVarP(&count, "count", "n", 32, "Instructions to decode")
	f.IntVar(&bits, "bits", 16, "Default operand and address size (16 or 32)")
	return cmd
}

// writeDisassembly lists count instructions of code placed at origin. Bytes
// past the end of code read as 0xFF.
func writeDisassembly(out io.Writer, code []byte, origin uint32, count int, big bool) {
	fetch := func(addr uint32) byte {
		i := uint64(addr - origin)
		if !big {
			i = uint64(uint16(addr - origin))
		}
		if i >= uint64(len(code)) {
			return 0xFF
		}
		return code[i]
	}
	decoded := 0
	for _, line := range DisassembleX86(fetch, origin, count, big) {
		if decoded >= len(code) {
			break
		}
		decoded += line.Size
		fmt.Fprintf(out, "%08X  %-30s %s\n", line.Address, line.HexBytes, line.Mnemonic)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "intuition_pc %s\n", pcVersion)
		},
	}
}
