// pc_clock_test.go - Timer scheduling tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "testing"

func TestPCClock_PeriodicTimer(t *testing.T) {
	clk := NewPCClock(&ManualClock{}, newQuietLogger())
	var at []uint64
	tm := clk.NewTimer("pit", 100, false, func(now uint64) { at = append(at, now) })
	clk.Activate(tm)

	if n := clk.Advance(99); n != 0 {
		t.Errorf("before deadline: fired %d", n)
	}
	if n := clk.Advance(1); n != 1 {
		t.Errorf("at deadline: fired %d, want 1", n)
	}
	if next, ok := clk.NextDeadline(); !ok || next != 200 {
		t.Errorf("NextDeadline: got %d %v, want 200", next, ok)
	}

	// falling far behind fires once and resynchronises
	if n := clk.Advance(1000); n != 1 {
		t.Errorf("catch-up: fired %d, want 1", n)
	}
	if next, _ := clk.NextDeadline(); next != 1200 {
		t.Errorf("resync: got %d, want 1200", next)
	}
	if tm.Fired() != 2 || len(at) != 2 || at[1] != 1100 {
		t.Errorf("history: fired %d at %v", tm.Fired(), at)
	}
}

func TestPCClock_OneShot(t *testing.T) {
	clk := NewPCClock(&ManualClock{}, newQuietLogger())
	tm := clk.NewTimer("rtc alarm", 50, true, func(uint64) {})
	if tm.Active() {
		t.Fatal("NewTimer: timer must start inactive")
	}
	clk.Activate(tm)
	clk.Advance(60)
	if tm.Active() || tm.Fired() != 1 {
		t.Errorf("after firing: active %v fired %d", tm.Active(), tm.Fired())
	}
	if _, ok := clk.NextDeadline(); ok {
		t.Error("NextDeadline: no active timers should remain")
	}
	clk.Advance(1000)
	if tm.Fired() != 1 {
		t.Errorf("one-shot refired: %d", tm.Fired())
	}
}

func TestPCClock_CancelAndEarliest(t *testing.T) {
	clk := NewPCClock(&ManualClock{}, newQuietLogger())
	slow := clk.NewTimer("slow", 500, false, func(uint64) {})
	fast := clk.NewTimer("fast", 30, false, func(uint64) {})
	clk.Activate(slow)
	clk.Activate(fast)

	if next, _ := clk.NextDeadline(); next != 30 {
		t.Errorf("earliest: got %d, want 30", next)
	}
	clk.Cancel(fast)
	if next, _ := clk.NextDeadline(); next != 500 {
		t.Errorf("after cancel: got %d, want 500", next)
	}
}

func TestPCClock_ZeroPeriodPanics(t *testing.T) {
	clk := NewPCClock(&ManualClock{}, newQuietLogger())
	expectPanic(t, func() { clk.NewTimer("bad", 0, false, func(uint64) {}) })
}

func TestSystemClock_Monotonic(t *testing.T) {
	clk := NewPCClock(nil, newQuietLogger())
	a := clk.Now()
	if b := clk.Now(); b < a {
		t.Errorf("Now went backwards: %d then %d", a, b)
	}
}
