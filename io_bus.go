// io_bus.go - x86 port I/O address space
//
// Devices claim individual ports for the access widths they implement. A wide
// access nobody claimed at that width is split into byte accesses when any
// of its bytes has a byte handler; otherwise unclaimed reads float high and
// unclaimed writes are dropped.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// IOPortHandler services accesses to the ports it is registered for
type IOPortHandler interface {
	IORead(port uint16, size int) uint32
	IOWrite(port uint16, value uint32, size int)
}

// IOPortFuncs adapts a pair of functions to IOPortHandler. A nil Read floats
// high, a nil Write discards.
type IOPortFuncs struct {
	Read  func(port uint16, size int) uint32
	Write func(port uint16, value uint32, size int)
}

func (f IOPortFuncs) IORead(port uint16, size int) uint32 {
	if f.Read == nil {
		return x86SizeMask(size)
	}
	return f.Read(port, size)
}

func (f IOPortFuncs) IOWrite(port uint16, value uint32, size int) {
	if f.Write != nil {
		f.Write(port, value, size)
	}
}

var ErrPortClaimed = errors.New("iobus: port already claimed")

type ioPort struct {
	name    string
	handler IOPortHandler
}

// IOBus routes IN/OUT by port and access width
type IOBus struct {
	ports [3]map[uint16]ioPort // indexed by width 1, 2, 4
	log   logrus.FieldLogger
}

func NewIOBus(log logrus.FieldLogger) *IOBus {
	b := &IOBus{log: componentLog(log, "iobus")}
	for i := range b.ports {
		b.ports[i] = make(map[uint16]ioPort)
	}
	return b
}

func ioWidthIndex(size int) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	panic(x86Violation("iobus", "unsupported access width %d", size))
}

// Register claims port for each of sizes
func (b *IOBus) Register(name string, port uint16, h IOPortHandler, sizes ...int) error {
	for _, size := range sizes {
		if prev, ok := b.ports[ioWidthIndex(size)][port]; ok {
			return fmt.Errorf("%w: %s wants 0x%04X/%d, held by %s", ErrPortClaimed, name, port, size, prev.name)
		}
	}
	for _, size := range sizes {
		b.ports[ioWidthIndex(size)][port] = ioPort{name: name, handler: h}
	}
	b.log.WithFields(logrus.Fields{
		"device": name,
		"port":   fmt.Sprintf("0x%04X", port),
		"sizes":  sizes,
	}).Debug("port registered")
	return nil
}

// RegisterRange claims every port in [first, last] for each of sizes
func (b *IOBus) RegisterRange(name string, first, last uint16, h IOPortHandler, sizes ...int) error {
	for p := uint32(first); p <= uint32(last); p++ {
		if err := b.Register(name, uint16(p), h, sizes...); err != nil {
			return err
		}
	}
	return nil
}

// Unregister releases port at every width
func (b *IOBus) Unregister(port uint16) {
	for i := range b.ports {
		delete(b.ports[i], port)
	}
}

func (b *IOBus) lookup(port uint16, size int) (ioPort, bool) {
	p, ok := b.ports[ioWidthIndex(size)][port]
	return p, ok
}

// splittable reports whether any byte of a wide access has a byte handler
func (b *IOBus) splittable(port uint16, size int) bool {
	for i := 0; i < size; i++ {
		if _, ok := b.ports[0][port+uint16(i)]; ok {
			return true
		}
	}
	return false
}

func (b *IOBus) IORead(port uint16, size int) uint32 {
	if p, ok := b.lookup(port, size); ok {
		return p.handler.IORead(port, size) & x86SizeMask(size)
	}
	if size > 1 && b.splittable(port, size) {
		var v uint32
		for i := 0; i < size; i++ {
			v |= b.IORead(port+uint16(i), 1) << (8 * i)
		}
		return v
	}
	b.log.WithFields(logrus.Fields{"port": fmt.Sprintf("0x%04X", port), "size": size}).Trace("unclaimed read")
	return x86SizeMask(size)
}

func (b *IOBus) IOWrite(port uint16, value uint32, size int) {
	if p, ok := b.lookup(port, size); ok {
		p.handler.IOWrite(port, value&x86SizeMask(size), size)
		return
	}
	if size > 1 && b.splittable(port, size) {
		for i := 0; i < size; i++ {
			b.IOWrite(port+uint16(i), value>>(8*i), 1)
		}
		return
	}
	b.log.WithFields(logrus.Fields{
		"port":  fmt.Sprintf("0x%04X", port),
		"value": fmt.Sprintf("0x%X", value),
		"size":  size,
	}).Trace("unclaimed write")
}

// Claimed lists registered ports in ascending order with their owners, for
// the state dump
func (b *IOBus) Claimed() []string {
	seen := make(map[uint16]string)
	for _, m := range b.ports {
		for port, p := range m {
			seen[port] = p.name
		}
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, int(p))
	}
	sort.Ints(ports)
	out := make([]string, len(ports))
	for i, p := range ports {
		out[i] = fmt.Sprintf("0x%04X %s", p, seen[uint16(p)])
	}
	return out
}
