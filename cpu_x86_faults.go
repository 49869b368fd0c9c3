// cpu_x86_faults.go - x86 exception vectors, architectural faults and engine errors
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
)

// Exception vectors
const (
	x86VecDivideError        = 0
	x86VecDebug              = 1
	x86VecNMI                = 2
	x86VecBreakpoint         = 3
	x86VecOverflow           = 4
	x86VecBoundRange         = 5
	x86VecInvalidOpcode      = 6
	x86VecDeviceNotAvailable = 7
	x86VecDoubleFault        = 8
	x86VecInvalidTSS         = 10
	x86VecSegmentNotPresent  = 11
	x86VecStackFault         = 12
	x86VecGeneralProtection  = 13
)

// Fatal engine conditions. Step returns these wrapped with detail; the CPU
// refuses to execute further once one has been raised.
var (
	ErrX86UndefinedOpcode    = errors.New("x86: undefined opcode")
	ErrX86InstructionTooLong = errors.New("x86: instruction exceeds 15 bytes")
	ErrX86DoubleFault        = errors.New("x86: interrupt vector outside descriptor table")
	ErrX86Unsupported        = errors.New("x86: unsupported processor feature")
)

// X86Fault is an architectural exception raised by an instruction. It is
// delivered to the guest through the interrupt table, not to the host.
type X86Fault struct {
	Vector       byte
	ErrorCode    uint32
	HasErrorCode bool
}

func (f *X86Fault) Error() string {
	if f.HasErrorCode {
		return fmt.Sprintf("x86 fault: vector %d (%s), error code 0x%04X", f.Vector, x86VectorName(f.Vector), f.ErrorCode)
	}
	return fmt.Sprintf("x86 fault: vector %d (%s)", f.Vector, x86VectorName(f.Vector))
}

func x86FaultNoCode(vector byte) *X86Fault {
	return &X86Fault{Vector: vector}
}

func x86FaultCode(vector byte, code uint32) *X86Fault {
	return &X86Fault{Vector: vector, ErrorCode: code, HasErrorCode: true}
}

func x86GP(code uint32) *X86Fault { return x86FaultCode(x86VecGeneralProtection, code) }
func x86NP(code uint32) *X86Fault { return x86FaultCode(x86VecSegmentNotPresent, code) }
func x86SS(code uint32) *X86Fault { return x86FaultCode(x86VecStackFault, code) }
func x86UD() *X86Fault            { return x86FaultNoCode(x86VecInvalidOpcode) }

func x86VectorName(v byte) string {
	switch v {
	case x86VecDivideError:
		return "#DE"
	case x86VecDebug:
		return "#DB"
	case x86VecNMI:
		return "NMI"
	case x86VecBreakpoint:
		return "#BP"
	case x86VecOverflow:
		return "#OF"
	case x86VecBoundRange:
		return "#BR"
	case x86VecInvalidOpcode:
		return "#UD"
	case x86VecDeviceNotAvailable:
		return "#NM"
	case x86VecDoubleFault:
		return "#DF"
	case x86VecInvalidTSS:
		return "#TS"
	case x86VecSegmentNotPresent:
		return "#NP"
	case x86VecStackFault:
		return "#SS"
	case x86VecGeneralProtection:
		return "#GP"
	}
	return "INT"
}

// X86ContractViolation reports an internal misuse of the engine (bad access
// width, address past physical memory, uninitialised descriptor cache). It is
// raised with panic and is never a guest-visible condition.
type X86ContractViolation struct {
	Op     string
	Detail string
}

func (v *X86ContractViolation) Error() string {
	return fmt.Sprintf("x86 contract violation in %s: %s", v.Op, v.Detail)
}

func x86Violation(op string, format string, args ...any) *X86ContractViolation {
	return &X86ContractViolation{Op: op, Detail: fmt.Sprintf(format, args...)}
}
