// pc_script.go - Lua automation for scripted boots and tests
//
// Globals exposed to scripts:
//
//	peek(addr [, size])        physical read
//	poke(addr, value [, size]) physical write
//	reg(name [, value])        read or write a CPU register
//	step([n])                  execute n instructions, returns retired count
//	run(max)                   run until halt or max instructions
//	a20([on])                  query or set the A20 gate
//	advance(us)                move the clock forward and fire timers
//	irq(line)                  raise an interrupt line
//	post()                     last POST code
//	log(msg)                   write to the system log
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// PCScript is a Lua state bound to one system
type PCScript struct {
	sys *PCSystem
	L   *lua.LState
	log logrus.FieldLogger
}

func NewPCScript(sys *PCSystem, log logrus.FieldLogger) *PCScript {
	s := &PCScript{sys: sys, L: lua.NewState(), log: componentLog(log, "script")}
	for name, fn := range map[string]lua.LGFunction{
		"peek":    s.luaPeek,
		"poke":    s.luaPoke,
		"reg":     s.luaReg,
		"step":    s.luaStep,
		"run":     s.luaRun,
		"a20":     s.luaA20,
		"advance": s.luaAdvance,
		"irq":     s.luaIRQ,
		"post":    s.luaPOST,
		"log":     s.luaLog,
	} {
		s.L.SetGlobal(name, s.L.NewFunction(fn))
	}
	return s
}

func (s *PCScript) Close() { s.L.Close() }

// DoString runs a chunk; ctx cancels long-running scripts
func (s *PCScript) DoString(ctx context.Context, src string) error {
	s.L.SetContext(ctx)
	if err := s.L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

func (s *PCScript) DoFile(ctx context.Context, path string) error {
	s.L.SetContext(ctx)
	if err := s.L.DoFile(path); err != nil {
		return fmt.Errorf("script: %s: %w", path, err)
	}
	return nil
}

// checkAddr validates that size bytes at argument n lie in RAM
func (s *PCScript) checkAddr(L *lua.LState, n int, size int) uint32 {
	num := L.CheckNumber(n)
	addr := uint64(num)
	if num < 0 || addr+uint64(size) > uint64(s.sys.Bus.Size()) {
		L.ArgError(n, fmt.Sprintf("%d bytes at %v run past memory", size, num))
	}
	return uint32(addr)
}

func checkSize(L *lua.LState, n int) int {
	size := L.OptInt(n, 1)
	switch size {
	case 1, 2, 4:
		return size
	}
	L.ArgError(n, "size must be 1, 2 or 4")
	return 0
}

func (s *PCScript) luaPeek(L *lua.LState) int {
	size := checkSize(L, 2)
	addr := s.checkAddr(L, 1, size)
	L.Push(lua.LNumber(s.sys.Bus.Read(addr, size)))
	return 1
}

func (s *PCScript) luaPoke(L *lua.LState) int {
	size := checkSize(L, 3)
	addr := s.checkAddr(L, 1, size)
	value := uint32(L.CheckNumber(2))
	s.sys.Bus.Write(addr, value, size)
	return 0
}

func (s *PCScript) luaReg(L *lua.LState) int {
	name := L.CheckString(1)
	if L.GetTop() >= 2 {
		v := uint32(L.CheckNumber(2))
		if idx := segmentIndex(name); idx >= 0 {
			if err := s.sys.CPU.LoadSegment(idx, uint16(v)); err != nil {
				L.RaiseError("reg %s: %v", name, err)
			}
			return 0
		}
		if !s.sys.CPU.SetRegister(name, v) {
			L.ArgError(1, "unknown register "+name)
		}
		return 0
	}
	v, ok := s.sys.CPU.Register(name)
	if !ok {
		L.ArgError(1, "unknown register "+name)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func segmentIndex(name string) int {
	for i, n := range x86SegNames {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

func (s *PCScript) luaStep(L *lua.LState) int {
	n := L.OptInt(1, 1)
	retired := 0
	for ; retired < n; retired++ {
		if err := s.sys.Step(); err != nil {
			L.RaiseError("step: %v", err)
		}
		s.sys.Clock.Poll()
	}
	L.Push(lua.LNumber(retired))
	return 1
}

func (s *PCScript) luaRun(L *lua.LState) int {
	limit := uint64(L.CheckNumber(1))
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	r := NewPCRunner(s.sys, PCRunnerConfig{MaxInstructions: limit})
	if err := r.Run(ctx); err != nil {
		L.RaiseError("run: %v", err)
	}
	L.Push(lua.LNumber(r.InstructionCount))
	return 1
}

func (s *PCScript) luaA20(L *lua.LState) int {
	if L.GetTop() >= 1 {
		s.sys.Bus.SetA20(L.CheckBool(1))
	}
	L.Push(lua.LBool(s.sys.Bus.A20Enabled()))
	return 1
}

func (s *PCScript) luaAdvance(L *lua.LState) int {
	fired := s.sys.Clock.Advance(uint64(L.CheckNumber(1)))
	L.Push(lua.LNumber(fired))
	return 1
}

func (s *PCScript) luaIRQ(L *lua.LState) int {
	line := L.CheckInt(1)
	if line < 0 || line > 15 {
		L.ArgError(1, "line must be 0-15")
	}
	if err := s.sys.RaiseIRQ(line); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *PCScript) luaPOST(L *lua.LState) int {
	L.Push(lua.LNumber(s.sys.POSTCode()))
	return 1
}

func (s *PCScript) luaLog(L *lua.LState) int {
	s.log.Info(L.CheckString(1))
	return 0
}
