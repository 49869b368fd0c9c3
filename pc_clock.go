// pc_clock.go - Microsecond time base and device timers
//
// Timers fire between instructions only: the runner polls once per loop
// iteration, and hosts or scripts may push time forward with Advance.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HostClock is the monotonic time source
type HostClock interface {
	MicrosecondsNow() uint64
}

// SystemClock reads the host monotonic clock relative to its creation
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) MicrosecondsNow() uint64 {
	return uint64(time.Since(c.start).Microseconds())
}

// ManualClock only moves when told to; used for deterministic runs and tests
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *ManualClock) MicrosecondsNow() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(us uint64) {
	c.mu.Lock()
	c.now += us
	c.mu.Unlock()
}

// PCTimer is a periodic or one-shot callback in microseconds
type PCTimer struct {
	Name     string
	Period   uint64
	OneShot  bool
	callback func(now uint64)
	next     uint64
	active   bool
	fired    uint64
}

func (t *PCTimer) Active() bool  { return t.active }
func (t *PCTimer) Fired() uint64 { return t.fired }

// PCClock owns the timer list and the time source
type PCClock struct {
	host   HostClock
	timers []*PCTimer
	log    logrus.FieldLogger
}

func NewPCClock(host HostClock, log logrus.FieldLogger) *PCClock {
	if host == nil {
		host = NewSystemClock()
	}
	return &PCClock{host: host, log: componentLog(log, "clock")}
}

func (c *PCClock) Now() uint64 { return c.host.MicrosecondsNow() }

// NewTimer creates an inactive timer
func (c *PCClock) NewTimer(name string, period uint64, oneShot bool, fn func(now uint64)) *PCTimer {
	if period == 0 {
		panic(x86Violation("clock", "timer %q has zero period", name))
	}
	t := &PCTimer{Name: name, Period: period, OneShot: oneShot, callback: fn}
	c.timers = append(c.timers, t)
	return t
}

// Activate (re)arms t; the next deadline is computed from now
func (c *PCClock) Activate(t *PCTimer) {
	t.next = c.Now() + t.Period
	t.active = true
}

func (c *PCClock) Cancel(t *PCTimer) {
	t.active = false
}

// NextDeadline is the earliest deadline among active timers
func (c *PCClock) NextDeadline() (uint64, bool) {
	var next uint64
	found := false
	for _, t := range c.timers {
		if t.active && (!found || t.next < next) {
			next, found = t.next, true
		}
	}
	return next, found
}

// Poll fires every timer whose deadline has passed. A periodic timer that
// fell several periods behind fires once and resynchronises to now.
func (c *PCClock) Poll() int {
	now := c.Now()
	fired := 0
	for _, t := range c.timers {
		if !t.active || now < t.next {
			continue
		}
		if t.OneShot {
			t.active = false
		} else {
			t.next += t.Period
			if t.next <= now {
				t.next = now + t.Period
			}
		}
		t.fired++
		fired++
		t.callback(now)
	}
	return fired
}

// Advance moves a ManualClock forward by us and polls. On a host clock it
// only polls.
func (c *PCClock) Advance(us uint64) int {
	if m, ok := c.host.(*ManualClock); ok {
		m.Advance(us)
	} else if us > 0 {
		c.log.WithField("us", us).Debug("advance ignored on host clock")
	}
	return c.Poll()
}
