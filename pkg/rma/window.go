package rma

import (
	"errors"
	"fmt"
)

// RAM window exposed by the controller to the memory-access protocol.
const (
	RAMStart uint32 = 0x40000000
	RAMEnd   uint32 = 0x4000FFFF

	// RAMSize is the number of addressable bytes in the window.
	RAMSize = int(RAMEnd-RAMStart) + 1
)

var (
	// ErrOutOfRange is returned when a request touches memory outside the RAM window.
	ErrOutOfRange = errors.New("address outside RAM window")

	// ErrLength is returned for read or write lengths the protocol cannot carry.
	ErrLength = errors.New("invalid length")
)

// ValidateRange checks that [addr, addr+size-1] lies inside the RAM window.
func ValidateRange(addr uint32, size int) error {
	if size < 1 {
		return fmt.Errorf("%w: %d", ErrLength, size)
	}
	if addr < RAMStart || addr > RAMEnd {
		return fmt.Errorf("%w: 0x%08X not in [0x%08X, 0x%08X]", ErrOutOfRange, addr, RAMStart, RAMEnd)
	}
	last := uint64(addr) + uint64(size) - 1
	if last > uint64(RAMEnd) {
		return fmt.Errorf("%w: 0x%08X+%d ends at 0x%X past 0x%08X", ErrOutOfRange, addr, size, last, RAMEnd)
	}
	return nil
}

// InWindow reports whether addr is a RAM window address.
func InWindow(addr uint32) bool {
	return addr >= RAMStart && addr <= RAMEnd
}
