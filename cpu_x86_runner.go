// cpu_x86_runner.go - x86 PC Program Runner
//
// Drives a PCSystem: steps the CPU, fires due timers between instructions,
// idles through HLT while an interrupt can still arrive, and reports MIPS
// when asked to.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrRunnerBusy = errors.New("runner: already executing")
	ErrBreakpoint = errors.New("runner: breakpoint")
)

const (
	runnerCtxCheckMask = 0x3FF    // poll ctx every 1024 instructions
	runnerPerfMask     = 0xFFFFFF // perf check every ~16M instructions
	runnerIdleSleep    = time.Millisecond
)

// PCRunnerConfig holds configuration for the runner
type PCRunnerConfig struct {
	MaxInstructions uint64    // 0 runs until halt, fault or cancel
	Trace           io.Writer // nil disables tracing
	TraceColor      bool
	PerfEnabled     bool
	Debugger        *DebugX86 // breakpoints are checked only when set
}

// PCRunner manages execution of a PCSystem
type PCRunner struct {
	sys    *PCSystem
	cfg    PCRunnerConfig
	tracer *x86Tracer

	// Performance monitoring
	InstructionCount uint64
	LastBreak        BreakpointEvent
	resumeAt         uint64 // breakpoint just reported; skipped once on resume
	resuming         bool
	perfStartTime    time.Time
	lastPerfReport   time.Time

	execMu     sync.Mutex
	execDone   chan struct{}
	execCancel context.CancelFunc
	execErr    error
	execActive bool

	log logrus.FieldLogger
}

func NewPCRunner(sys *PCSystem, cfg PCRunnerConfig) *PCRunner {
	r := &PCRunner{sys: sys, cfg: cfg, log: componentLog(sys.log, "runner")}
	if cfg.Trace != nil {
		r.tracer = newX86Tracer(cfg.Trace, cfg.TraceColor)
	}
	return r
}

// Run executes until the CPU halts with no way to wake, a fatal condition,
// the instruction limit, or ctx is done. A clean halt returns nil.
func (r *PCRunner) Run(ctx context.Context) error {
	cpu := r.sys.CPU
	if r.cfg.PerfEnabled {
		r.perfStartTime = time.Now()
		r.lastPerfReport = r.perfStartTime
	}

	for n := uint64(0); ; n++ {
		if n&runnerCtxCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := cpu.Fatal(); err != nil {
			return err
		}
		if r.cfg.MaxInstructions != 0 && r.InstructionCount >= r.cfg.MaxInstructions {
			r.log.WithField("instructions", r.InstructionCount).Info("instruction limit reached")
			return nil
		}

		if cpu.Halted() {
			if !r.idle(ctx) {
				r.log.WithFields(logrus.Fields{
					"cs":  fmt.Sprintf("0x%04X", uint16(cpu.Segment(x86SegCS).Selector())),
					"eip": fmt.Sprintf("0x%08X", cpu.EIP()),
				}).Info("CPU halted")
				return nil
			}
			continue
		}

		if err := r.checkBreakpoint(); err != nil {
			return err
		}
		if r.tracer != nil {
			r.tracer.Trace(cpu)
		}
		if err := r.sys.Step(); err != nil {
			return err
		}
		r.InstructionCount++
		r.sys.Clock.Poll()

		if r.cfg.PerfEnabled && r.InstructionCount&runnerPerfMask == 0 {
			r.reportPerf()
		}
	}
}

// idle services a halted CPU. It returns false when nothing can ever wake
// it: interrupts are masked, or no line is raised and no timer is armed.
func (r *PCRunner) idle(ctx context.Context) bool {
	cpu := r.sys.CPU
	if !cpu.Flag(x86FlagIF) {
		return false
	}
	if cpu.InterruptPending() {
		return r.sys.Step() == nil
	}
	deadline, ok := r.sys.Clock.NextDeadline()
	if !ok {
		return false
	}
	now := r.sys.Clock.Now()
	if deadline > now {
		if _, manual := r.sys.Clock.host.(*ManualClock); manual {
			r.sys.Clock.Advance(deadline - now)
		} else {
			select {
			case <-ctx.Done():
			case <-time.After(min(time.Duration(deadline-now)*time.Microsecond, runnerIdleSleep)):
			}
			r.sys.Clock.Poll()
		}
	} else {
		r.sys.Clock.Poll()
	}
	return r.sys.Step() == nil
}

// checkBreakpoint stops the run at a breakpoint whose condition holds. A
// following Run resumes past the address it stopped at.
func (r *PCRunner) checkBreakpoint() error {
	dbg := r.cfg.Debugger
	if dbg == nil {
		return nil
	}
	if r.resuming {
		r.resuming = false
		if dbg.GetPC() == r.resumeAt {
			return nil
		}
	}
	ev, hit := dbg.CheckBreakpoint()
	if !hit {
		return nil
	}
	r.LastBreak = ev
	r.resumeAt, r.resuming = ev.Address, true
	r.log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("0x%08X", ev.Address),
		"hits": ev.HitCount,
	}).Info("breakpoint")
	return fmt.Errorf("%w at 0x%08X", ErrBreakpoint, ev.Address)
}

func (r *PCRunner) reportPerf() {
	now := time.Now()
	if now.Sub(r.lastPerfReport) < time.Second {
		return
	}
	elapsed := now.Sub(r.perfStartTime).Seconds()
	mips := float64(r.InstructionCount) / elapsed / 1_000_000
	r.log.WithFields(logrus.Fields{
		"mips":         fmt.Sprintf("%.2f", mips),
		"instructions": r.InstructionCount,
		"elapsed":      fmt.Sprintf("%.1fs", elapsed),
	}).Info("performance")
	r.lastPerfReport = now
}

// Step executes a single instruction and fires due timers
func (r *PCRunner) Step() error {
	err := r.sys.Step()
	r.InstructionCount++
	r.sys.Clock.Poll()
	return err
}

// IsRunning reports whether a background execution is active
func (r *PCRunner) IsRunning() bool {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.execActive
}

// StartExecution runs in a goroutine until Stop or the run ends
func (r *PCRunner) StartExecution(ctx context.Context) error {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if r.execActive {
		return ErrRunnerBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	r.execActive = true
	r.execCancel = cancel
	r.execErr = nil
	r.execDone = make(chan struct{})
	go func() {
		err := r.Run(ctx)
		r.execMu.Lock()
		r.execActive = false
		r.execErr = err
		close(r.execDone)
		r.execMu.Unlock()
	}()
	return nil
}

// Stop cancels a background execution and waits for it. The result of the
// run is returned; cancellation itself is not an error.
func (r *PCRunner) Stop() error {
	r.execMu.Lock()
	if r.execDone == nil {
		r.execMu.Unlock()
		return nil
	}
	cancel, done := r.execCancel, r.execDone
	r.execMu.Unlock()

	cancel()
	<-done

	r.execMu.Lock()
	defer r.execMu.Unlock()
	if errors.Is(r.execErr, context.Canceled) {
		return nil
	}
	return r.execErr
}
