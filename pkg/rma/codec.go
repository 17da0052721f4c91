package rma

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tosih/m21-livetune/pkg/can"
)

// Opcode is carried in the identifier field of every request frame.
type Opcode uint32

const (
	OpReadByte  Opcode = 0x00000600
	OpReadHalf  Opcode = 0x00000601
	OpReadWord  Opcode = 0x00000602
	OpReadVar   Opcode = 0x00000603
	OpWriteByte Opcode = 0x00000604
	OpWriteHalf Opcode = 0x00000605
	OpWriteWord Opcode = 0x00000606
	OpWriteVar  Opcode = 0x00000607

	// OpWriteData tags the continuation frames of a variable write.
	OpWriteData Opcode = 0x00000608
)

// ResponseID tags every frame the controller sends back for a read.
const ResponseID uint32 = 0x00000680

// MaxVarLength is the largest length a variable read or write can request.
const MaxVarLength = 255

var (
	// ErrUnknownOpcode is returned when decoding a frame whose identifier is not a request.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrMalformed is returned when a request frame has the wrong size for its opcode.
	ErrMalformed = errors.New("malformed request")
)

func (op Opcode) String() string {
	switch op {
	case OpReadByte:
		return "read8"
	case OpReadHalf:
		return "read16"
	case OpReadWord:
		return "read32"
	case OpReadVar:
		return "readvar"
	case OpWriteByte:
		return "write8"
	case OpWriteHalf:
		return "write16"
	case OpWriteWord:
		return "write32"
	case OpWriteVar:
		return "writevar"
	case OpWriteData:
		return "writedata"
	}
	return fmt.Sprintf("op(0x%08X)", uint32(op))
}

// Request is a decoded request frame.
type Request struct {
	Op      Opcode
	Address uint32
	// Length is the byte count for reads and variable writes.
	Length int
	// Value holds the operand of fixed writes.
	Value uint32
	// Data holds the payload of a continuation frame.
	Data []byte
}

func fixedSize(op Opcode) int {
	switch op {
	case OpReadByte, OpWriteByte:
		return 1
	case OpReadHalf, OpWriteHalf:
		return 2
	case OpReadWord, OpWriteWord:
		return 4
	}
	return 0
}

func addrPayload(addr uint32, extra int) []byte {
	p := make([]byte, 4, 4+extra)
	binary.BigEndian.PutUint32(p, addr)
	return p
}

// EncodeReadFixed builds a 1, 2 or 4 byte read request.
func EncodeReadFixed(addr uint32, size int) (can.Frame, error) {
	var op Opcode
	switch size {
	case 1:
		op = OpReadByte
	case 2:
		op = OpReadHalf
	case 4:
		op = OpReadWord
	default:
		return can.Frame{}, fmt.Errorf("%w: fixed read of %d bytes", ErrLength, size)
	}
	return can.Frame{ID: uint32(op), Data: addrPayload(addr, 0)}, nil
}

// EncodeReadVar builds the 9-byte variable read request.
func EncodeReadVar(addr uint32, length int) (can.Frame, error) {
	if length < 1 || length > MaxVarLength {
		return can.Frame{}, fmt.Errorf("%w: variable read of %d bytes", ErrLength, length)
	}
	p := addrPayload(addr, 1)
	p = append(p, byte(length))
	return can.Frame{ID: uint32(OpReadVar), Data: p}, nil
}

// EncodeWriteFixed builds a 1, 2 or 4 byte write request. value is truncated to size.
func EncodeWriteFixed(addr uint32, size int, value uint32) (can.Frame, error) {
	p := addrPayload(addr, size)
	var op Opcode
	switch size {
	case 1:
		op = OpWriteByte
		p = append(p, byte(value))
	case 2:
		op = OpWriteHalf
		p = binary.BigEndian.AppendUint16(p, uint16(value))
	case 4:
		op = OpWriteWord
		p = binary.BigEndian.AppendUint32(p, value)
	default:
		return can.Frame{}, fmt.Errorf("%w: fixed write of %d bytes", ErrLength, size)
	}
	return can.Frame{ID: uint32(op), Data: p}, nil
}

// EncodeWriteWord builds the 12-byte word write request.
func EncodeWriteWord(addr, value uint32) can.Frame {
	f, _ := EncodeWriteFixed(addr, 4, value)
	return f
}

// EncodeWriteVar builds a variable write: a header frame with address and
// length followed by continuation frames of up to 8 bytes each.
func EncodeWriteVar(addr uint32, data []byte) ([]can.Frame, error) {
	if len(data) < 1 || len(data) > MaxVarLength {
		return nil, fmt.Errorf("%w: variable write of %d bytes", ErrLength, len(data))
	}
	p := addrPayload(addr, 1)
	p = append(p, byte(len(data)))
	frames := []can.Frame{{ID: uint32(OpWriteVar), Data: p}}
	for off := 0; off < len(data); off += can.MaxData {
		end := min(off+can.MaxData, len(data))
		frames = append(frames, can.NewFrame(uint32(OpWriteData), data[off:end]))
	}
	return frames, nil
}

// DecodeRequest parses a request frame.
func DecodeRequest(f can.Frame) (Request, error) {
	op := Opcode(f.ID)
	req := Request{Op: op}
	switch op {
	case OpWriteData:
		if len(f.Data) == 0 || len(f.Data) > can.MaxData {
			return req, fmt.Errorf("%w: %s with %d bytes", ErrMalformed, op, len(f.Data))
		}
		req.Data = append([]byte(nil), f.Data...)
		return req, nil
	case OpReadByte, OpReadHalf, OpReadWord:
		if len(f.Data) != 4 {
			return req, fmt.Errorf("%w: %s with %d bytes", ErrMalformed, op, len(f.Data))
		}
		req.Length = fixedSize(op)
	case OpReadVar, OpWriteVar:
		if len(f.Data) != 5 || f.Data[4] == 0 {
			return req, fmt.Errorf("%w: %s with %d bytes", ErrMalformed, op, len(f.Data))
		}
		req.Length = int(f.Data[4])
	case OpWriteByte, OpWriteHalf, OpWriteWord:
		size := fixedSize(op)
		if len(f.Data) != 4+size {
			return req, fmt.Errorf("%w: %s with %d bytes", ErrMalformed, op, len(f.Data))
		}
		req.Length = size
		var v uint32
		for _, b := range f.Data[4:] {
			v = v<<8 | uint32(b)
		}
		req.Value = v
	default:
		return req, fmt.Errorf("%w: 0x%08X", ErrUnknownOpcode, f.ID)
	}
	req.Address = binary.BigEndian.Uint32(f.Data[:4])
	return req, nil
}
