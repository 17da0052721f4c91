package monitor

import (
	"encoding/binary"
	"fmt"
)

// WordSize is the granularity of change detection.
const WordSize = 4

// WordChange is one 4-byte word that differs between two loads of the file.
type WordChange struct {
	ByteOffset uint32
	OldValue   uint32
	NewValue   uint32
}

// WordIndex returns the index of the word in the image.
func (c WordChange) WordIndex() uint32 {
	return c.ByteOffset / WordSize
}

func (c WordChange) String() string {
	return fmt.Sprintf("+0x%04X: 0x%08X -> 0x%08X", c.ByteOffset, c.OldValue, c.NewValue)
}

// ReloadSummary describes one scan that found differences or a size change.
type ReloadSummary struct {
	ChangedWords uint32
	SizeChanged  bool
}

// Diff compares old and new word by word over their common, word-aligned
// prefix and returns the differing words in ascending offset order.
// Trailing bytes that do not fill a word are ignored.
func Diff(old, new []byte) []WordChange {
	var changes []WordChange
	eachChange(old, new, func(c WordChange) {
		changes = append(changes, c)
	})
	return changes
}

func eachChange(old, new []byte, fn func(WordChange)) {
	n := min(len(old), len(new)) / WordSize * WordSize
	for off := 0; off < n; off += WordSize {
		o := binary.BigEndian.Uint32(old[off:])
		v := binary.BigEndian.Uint32(new[off:])
		if o != v {
			fn(WordChange{ByteOffset: uint32(off), OldValue: o, NewValue: v})
		}
	}
}
