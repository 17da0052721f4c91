package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// GatewayFrameSize is the size of one frame on a CAN-to-ethernet gateway link.
const GatewayFrameSize = 13

const (
	gwValid    = 0x80
	gwExtended = 0x20
	gwRemote   = 0x10
	gwDLCMask  = 0x0F

	maxStandardID = 0x7FF
	rxQueue       = 256
)

// SerializeFrame encodes f in the 13-byte gateway form: a header byte
// (valid, extended, remote flags and DLC), the big-endian id and 8 data bytes.
func SerializeFrame(f Frame) ([]byte, error) {
	if len(f.Data) > MaxData {
		return nil, fmt.Errorf("invalid DLC %d", len(f.Data))
	}
	buf := make([]byte, GatewayFrameSize)
	header := byte(gwValid | len(f.Data)&gwDLCMask)
	if f.ID > maxStandardID {
		header |= gwExtended
	}
	buf[0] = header
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	copy(buf[5:], f.Data)
	return buf, nil
}

// ParseFrame decodes a 13-byte gateway frame. Remote frames carry no data.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) != GatewayFrameSize {
		return Frame{}, fmt.Errorf("invalid frame size %d", len(raw))
	}
	header := raw[0]
	if header&gwValid == 0 {
		return Frame{}, fmt.Errorf("invalid frame header 0x%02x", header)
	}
	dlc := int(header & gwDLCMask)
	if dlc > MaxData {
		return Frame{}, fmt.Errorf("invalid DLC %d", dlc)
	}
	if header&gwRemote != 0 {
		dlc = 0
	}
	return NewFrame(binary.BigEndian.Uint32(raw[1:5]), raw[5:5+dlc]), nil
}

// GatewayChannel talks to a CAN-over-TCP gateway.
type GatewayChannel struct {
	conn net.Conn

	wmu sync.Mutex
	rx  *Queue

	mu     sync.Mutex
	err    error
	closed bool
	done   chan struct{}
}

// DialGateway returns an OpenFunc connecting to the gateway at addr.
func DialGateway(addr string, timeout time.Duration) OpenFunc {
	return func() (Channel, error) {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("dial gateway %s: %w", addr, err)
		}
		return NewGatewayChannel(conn), nil
	}
}

// NewGatewayChannel wraps an established connection and starts its reader.
func NewGatewayChannel(conn net.Conn) *GatewayChannel {
	g := &GatewayChannel{
		conn: conn,
		rx:   NewQueue(rxQueue),
		done: make(chan struct{}),
	}
	go g.readLoop()
	return g
}

func (g *GatewayChannel) readLoop() {
	defer close(g.done)
	buf := make([]byte, GatewayFrameSize)
	for {
		if _, err := io.ReadFull(g.conn, buf); err != nil {
			g.fail(err)
			return
		}
		f, err := ParseFrame(buf)
		if err != nil {
			// resynchronising a byte stream is not possible without framing
			g.fail(err)
			return
		}
		g.rx.Push(f)
	}
}

func (g *GatewayChannel) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err == nil {
		if g.closed || errors.Is(err, net.ErrClosed) {
			err = ErrClosed
		}
		g.err = err
	}
}

func (g *GatewayChannel) state() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return g.err
}

func (g *GatewayChannel) Send(f Frame) error {
	if err := g.state(); err != nil {
		return err
	}
	raw, err := SerializeFrame(f)
	if err != nil {
		return err
	}
	g.wmu.Lock()
	defer g.wmu.Unlock()
	if _, err := g.conn.Write(raw); err != nil {
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

func (g *GatewayChannel) Receive(max int, wait time.Duration) ([]Frame, error) {
	frames := g.rx.Receive(max, wait)
	if len(frames) == 0 {
		return nil, g.state()
	}
	return frames, nil
}

func (g *GatewayChannel) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()
	err := g.conn.Close()
	<-g.done
	return err
}
