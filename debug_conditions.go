// debug_conditions.go - Breakpoint address and condition parser/evaluator

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAddress parses a number in the formats the CLI accepts:
// $hex, 0xhex, bare hex, #decimal
func ParseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	switch {
	case strings.HasPrefix(s, "#"):
		v, err := strconv.ParseUint(s[1:], 10, 64)
		return v, err == nil
	case strings.HasPrefix(s, "$"):
		v, err := strconv.ParseUint(s[1:], 16, 64)
		return v, err == nil
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

// ParseLinearAddress accepts a flat address or a real-mode SEG:OFF pair
func ParseLinearAddress(s string) (uint32, error) {
	if seg, off, ok := strings.Cut(s, ":"); ok {
		sv, ok1 := ParseAddress(seg)
		ov, ok2 := ParseAddress(off)
		if !ok1 || !ok2 || sv > 0xFFFF || ov > 0xFFFF {
			return 0, fmt.Errorf("invalid segment:offset %q", s)
		}
		return uint32(sv)<<4 + uint32(ov), nil
	}
	v, ok := ParseAddress(s)
	if !ok || v > 0xFFFFFFFF {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(v), nil
}

// ParseBreakpoint parses "ADDR" or "ADDR if COND", e.g.
//
//	0000:7C10
//	0x7C10 if EAX==5
//	F000:FFF0 if hitcount>2
func ParseBreakpoint(text string) (*ConditionalBreakpoint, error) {
	addrText, condText, hasCond := strings.Cut(strings.TrimSpace(text), " if ")
	addr, err := ParseLinearAddress(strings.TrimSpace(addrText))
	if err != nil {
		return nil, err
	}
	bp := &ConditionalBreakpoint{Address: uint64(addr)}
	if hasCond {
		if bp.Condition, err = ParseCondition(condText); err != nil {
			return nil, fmt.Errorf("breakpoint %s: %w", addrText, err)
		}
	}
	return bp, nil
}

var conditionOps = []struct {
	text string
	op   ConditionOp
}{
	// two-character operators first so "<=" is not read as "<"
	{"==", CondOpEqual},
	{"!=", CondOpNotEqual},
	{"<=", CondOpLessEqual},
	{">=", CondOpGreaterEqual},
	{"<", CondOpLess},
	{">", CondOpGreater},
}

// ParseCondition parses a condition string into a BreakpointCondition.
// Formats:
//
//	EAX==$FF       - register EAX, op ==, value 0xFF
//	[$1000]==$42   - byte at linear 0x1000, op ==, value 0x42
//	hitcount>10    - hit count, op >, value 10
func ParseCondition(text string) (*BreakpointCondition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty condition")
	}

	opIdx := -1
	var opText string
	var op ConditionOp
	for _, c := range conditionOps {
		if idx := strings.Index(text, c.text); idx >= 0 {
			opIdx, opText, op = idx, c.text, c.op
			break
		}
	}
	if opIdx < 0 {
		return nil, fmt.Errorf("no operator found (use ==, !=, <, >, <=, >=)")
	}

	lhs := strings.TrimSpace(text[:opIdx])
	rhs := strings.TrimSpace(text[opIdx+len(opText):])
	value, ok := ParseAddress(rhs)
	if !ok {
		return nil, fmt.Errorf("invalid value: %s", rhs)
	}

	switch {
	case strings.HasPrefix(lhs, "[") && strings.HasSuffix(lhs, "]"):
		addr, ok := ParseAddress(lhs[1 : len(lhs)-1])
		if !ok {
			return nil, fmt.Errorf("invalid memory address: %s", lhs)
		}
		return &BreakpointCondition{Source: CondSourceMemory, MemAddr: addr, Op: op, Value: value}, nil
	case strings.EqualFold(lhs, "hitcount"):
		return &BreakpointCondition{Source: CondSourceHitCount, Op: op, Value: value}, nil
	case lhs == "":
		return nil, fmt.Errorf("missing left-hand side")
	}
	return &BreakpointCondition{Source: CondSourceRegister, RegName: strings.ToUpper(lhs), Op: op, Value: value}, nil
}

// evaluateConditionWithHitCount evaluates a condition, using hitCount for
// CondSourceHitCount. A nil condition always holds; an unknown register
// never does.
func evaluateConditionWithHitCount(cond *BreakpointCondition, cpu DebuggableCPU, hitCount uint64) bool {
	if cond == nil {
		return true
	}

	var actual uint64
	switch cond.Source {
	case CondSourceRegister:
		val, ok := cpu.GetRegister(cond.RegName)
		if !ok {
			return false
		}
		actual = val
	case CondSourceMemory:
		data := cpu.ReadMemory(cond.MemAddr, 1)
		if len(data) == 0 {
			return false
		}
		actual = uint64(data[0])
	case CondSourceHitCount:
		actual = hitCount
	}
	return compareValues(actual, cond.Op, cond.Value)
}

func compareValues(actual uint64, op ConditionOp, expected uint64) bool {
	switch op {
	case CondOpEqual:
		return actual == expected
	case CondOpNotEqual:
		return actual != expected
	case CondOpLess:
		return actual < expected
	case CondOpGreater:
		return actual > expected
	case CondOpLessEqual:
		return actual <= expected
	case CondOpGreaterEqual:
		return actual >= expected
	}
	return false
}

// FormatCondition returns a human-readable string for a condition.
func FormatCondition(cond *BreakpointCondition) string {
	if cond == nil {
		return ""
	}

	var lhs string
	switch cond.Source {
	case CondSourceRegister:
		lhs = cond.RegName
	case CondSourceMemory:
		lhs = fmt.Sprintf("[$%X]", cond.MemAddr)
	case CondSourceHitCount:
		lhs = "hitcount"
	}

	opText := "?"
	for _, c := range conditionOps {
		if c.op == cond.Op {
			opText = c.text
			break
		}
	}
	return fmt.Sprintf("%s%s$%X", lhs, opText, cond.Value)
}
