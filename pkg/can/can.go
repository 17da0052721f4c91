// Package can defines the frame transport the memory-access protocol runs on.
package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// MaxData is the per-frame payload capacity of a classic CAN frame.
const MaxData = 8

var (
	// ErrClosed is returned by operations on a channel after Close.
	ErrClosed = errors.New("channel closed")

	// ErrShortFrame is returned when a raw frame is too small to carry an identifier.
	ErrShortFrame = errors.New("frame shorter than identifier field")
)

// Frame is one message on the bus. The protocol carries its own identifier
// in the first 4 bytes of every raw frame, followed by the payload.
type Frame struct {
	ID   uint32
	Data []byte
}

// NewFrame builds a frame, copying data.
func NewFrame(id uint32, data []byte) Frame {
	d := make([]byte, len(data))
	copy(d, data)
	return Frame{ID: id, Data: d}
}

// Bytes returns the raw form: ID (big-endian) followed by Data.
func (f Frame) Bytes() []byte {
	raw := make([]byte, 4+len(f.Data))
	binary.BigEndian.PutUint32(raw[:4], f.ID)
	copy(raw[4:], f.Data)
	return raw
}

func (f Frame) String() string {
	return fmt.Sprintf("%08X [% X]", f.ID, f.Data)
}

// FrameFromBytes parses the raw form produced by Bytes.
func FrameFromBytes(raw []byte) (Frame, error) {
	if len(raw) < 4 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	return NewFrame(binary.BigEndian.Uint32(raw[:4]), raw[4:]), nil
}

// Channel is a duplex, opened connection to the bus.
//
// Send must be safe to call from several goroutines. Receive returns at most
// max frames, waiting no longer than wait; an empty result with a nil error
// means nothing arrived in time.
type Channel interface {
	Send(f Frame) error
	Receive(max int, wait time.Duration) ([]Frame, error)
	Close() error
}

// OpenFunc yields an opened, ready-to-use channel.
type OpenFunc func() (Channel, error)
