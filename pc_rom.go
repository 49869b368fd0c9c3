// pc_rom.go - System BIOS and option ROM installation
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ROMClass selects the placement rules applied to an image
type ROMClass int

const (
	// ROMSystemBIOS is the motherboard BIOS, mapped to end at 1MB
	ROMSystemBIOS ROMClass = iota
	// ROMExpansion is an adapter option ROM (VGA BIOS and friends) in C0000-DFFFF
	ROMExpansion
)

func (c ROMClass) String() string {
	switch c {
	case ROMSystemBIOS:
		return "system BIOS"
	case ROMExpansion:
		return "expansion ROM"
	}
	return fmt.Sprintf("ROMClass(%d)", int(c))
}

const (
	ROM_SYSTEM_AREA_START    = 0xE0000
	ROM_SYSTEM_AREA_END      = 0x100000
	ROM_EXPANSION_AREA_START = 0xC0000
	ROM_EXPANSION_AREA_END   = 0xE0000
	ROM_MAX_SIZE             = 128 * 1024
	ROM_EXPANSION_ALIGN      = 2048
	ROM_EXPANSION_SIGNATURE  = 0xAA55
	ROM_EXPANSION_BLOCK      = 512
)

var (
	ErrROMSize      = errors.New("rom: image size out of range")
	ErrROMAlignment = errors.New("rom: image misplaced")
	ErrROMSignature = errors.New("rom: missing 0x55 0xAA signature")
	ErrROMChecksum  = errors.New("rom: checksum is not zero")
)

// romChecksum is the 8-bit additive sum of the image; valid images sum to 0
func romChecksum(image []byte) byte {
	var sum byte
	for _, b := range image {
		sum += b
	}
	return sum
}

// SystemBIOSBase is where a system BIOS image of size bytes is mapped
func SystemBIOSBase(size int) uint32 {
	return ROM_SYSTEM_AREA_END - uint32(size)
}

// LoadROM validates image against the placement rules of class, copies it to
// physical address offset and write-protects it. A system BIOS with a bad
// checksum loads with a warning, since many real images are not zero-summed.
// An expansion ROM must carry the signature and a valid checksum over its
// declared length (byte 2, in 512-byte blocks).
func (bus *MachineBus) LoadROM(image []byte, offset uint32, class ROMClass) error {
	log := bus.log.WithFields(logrus.Fields{
		"class":  class.String(),
		"offset": fmt.Sprintf("0x%05X", offset),
		"size":   len(image),
	})

	if len(image) == 0 || len(image) > ROM_MAX_SIZE {
		return fmt.Errorf("%w: %s is %d bytes, want 1..%d", ErrROMSize, class, len(image), ROM_MAX_SIZE)
	}
	if uint64(offset)+uint64(len(image)) > uint64(len(bus.memory)) {
		return fmt.Errorf("%w: %s at 0x%05X", ErrMemoryExhausted, class, offset)
	}

	switch class {
	case ROMSystemBIOS:
		if offset < ROM_SYSTEM_AREA_START || uint64(offset)+uint64(len(image)) > ROM_SYSTEM_AREA_END {
			return fmt.Errorf("%w: %s must lie within 0x%05X-0x%05X, got 0x%05X+%d",
				ErrROMAlignment, class, ROM_SYSTEM_AREA_START, ROM_SYSTEM_AREA_END-1, offset, len(image))
		}
		if sum := romChecksum(image); sum != 0 {
			log.WithField("checksum", fmt.Sprintf("0x%02X", sum)).Warn("system BIOS checksum mismatch")
		}

	case ROMExpansion:
		if offset < ROM_EXPANSION_AREA_START || offset >= ROM_EXPANSION_AREA_END {
			return fmt.Errorf("%w: %s must start within 0x%05X-0x%05X, got 0x%05X",
				ErrROMAlignment, class, ROM_EXPANSION_AREA_START, ROM_EXPANSION_AREA_END-1, offset)
		}
		if offset%ROM_EXPANSION_ALIGN != 0 {
			return fmt.Errorf("%w: %s at 0x%05X is not %d-byte aligned", ErrROMAlignment, class, offset, ROM_EXPANSION_ALIGN)
		}
		if len(image) < 3 || uint16(image[0])|uint16(image[1])<<8 != ROM_EXPANSION_SIGNATURE {
			return fmt.Errorf("%w: %s at 0x%05X", ErrROMSignature, class, offset)
		}
		declared := int(image[2]) * ROM_EXPANSION_BLOCK
		if declared == 0 || declared > len(image) {
			return fmt.Errorf("%w: %s declares %d bytes, image has %d", ErrROMSize, class, declared, len(image))
		}
		if uint64(offset)+uint64(declared) > ROM_EXPANSION_AREA_END {
			return fmt.Errorf("%w: %s at 0x%05X+%d runs past 0x%05X", ErrROMAlignment, class, offset, declared, ROM_EXPANSION_AREA_END)
		}
		if sum := romChecksum(image[:declared]); sum != 0 {
			return fmt.Errorf("%w: %s sums to 0x%02X", ErrROMChecksum, class, sum)
		}
		image = image[:declared]

	default:
		return fmt.Errorf("rom: unknown class %d", int(class))
	}

	end := offset + uint32(len(image)) - 1
	for _, r := range bus.rom {
		if offset <= r.end && end >= r.begin {
			return fmt.Errorf("%w: %s at 0x%05X overlaps ROM at 0x%05X-0x%05X", ErrROMAlignment, class, offset, r.begin, r.end)
		}
	}
	if err := bus.WriteBytes(offset, image); err != nil {
		return err
	}
	bus.rom = append(bus.rom, romRange{begin: offset, end: end})
	log.Info("ROM installed")
	return nil
}
