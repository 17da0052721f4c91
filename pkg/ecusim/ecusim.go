// Package ecusim simulates a controller answering the memory-access protocol.
// It backs the -sim transport of the command line tool and the end-to-end tests.
package ecusim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/can"
	"github.com/tosih/m21-livetune/pkg/rma"
)

// Write records one write request applied to RAM.
type Write struct {
	Address uint32
	Data    []byte
}

// Value returns the written bytes as a big-endian integer.
func (w Write) Value() uint32 {
	var v uint32
	for _, b := range w.Data {
		v = v<<8 | uint32(b)
	}
	return v
}

// ECU holds the RAM window and the request log shared by every channel
// opened on it.
type ECU struct {
	log *pterm.Logger

	mu        sync.Mutex
	ram       []byte
	writes    []Write
	requests  []can.Frame
	limit     int
	silent    bool
	openErr   error
	responseN int
}

// Option configures an ECU.
type Option func(*ECU)

// WithLogger sets the logger for request traces.
func WithLogger(l *pterm.Logger) Option {
	return func(e *ECU) { e.log = l }
}

// New returns a controller with zeroed RAM.
func New(opts ...Option) *ECU {
	e := &ECU{
		log:   pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn),
		ram:   make([]byte, rma.RAMSize),
		limit: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open implements can.OpenFunc.
func (e *ECU) Open() (can.Channel, error) {
	e.mu.Lock()
	err := e.openErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &channel{ecu: e, rx: can.NewQueue(1024)}, nil
}

// FailOpen makes subsequent Open calls fail with err; nil restores them.
func (e *ECU) FailOpen(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// Poke stores data at addr.
func (e *ECU) Poke(addr uint32, data []byte) error {
	if err := rma.ValidateRange(addr, len(data)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.ram[addr-rma.RAMStart:], data)
	return nil
}

// Peek returns a copy of n bytes at addr.
func (e *ECU) Peek(addr uint32, n int) ([]byte, error) {
	if err := rma.ValidateRange(addr, n); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	off := addr - rma.RAMStart
	return append([]byte(nil), e.ram[off:off+uint32(n)]...), nil
}

// PeekWord returns the big-endian word at addr.
func (e *ECU) PeekWord(addr uint32) (uint32, error) {
	b, err := e.Peek(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// LimitResponses truncates every read response to at most n payload bytes.
// A negative n removes the limit.
func (e *ECU) LimitResponses(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limit = n
}

// Silence stops the controller from answering reads.
func (e *ECU) Silence(silent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silent = silent
}

// Writes returns the writes applied so far, in arrival order.
func (e *ECU) Writes() []Write {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Write(nil), e.writes...)
}

// Requests returns every frame received so far.
func (e *ECU) Requests() []can.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]can.Frame(nil), e.requests...)
}

// Responses returns how many response frames the controller has sent.
func (e *ECU) Responses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responseN
}

// handle applies one request and returns the response frames it produces.
func (e *ECU) handle(ch *channel, f can.Frame) ([]can.Frame, error) {
	req, err := rma.DecodeRequest(f)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, can.NewFrame(f.ID, f.Data))
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case rma.OpReadByte, rma.OpReadHalf, rma.OpReadWord, rma.OpReadVar:
		if err := rma.ValidateRange(req.Address, req.Length); err != nil {
			return nil, err
		}
		if e.silent {
			return nil, nil
		}
		n := req.Length
		if e.limit >= 0 {
			n = min(n, e.limit)
		}
		off := req.Address - rma.RAMStart
		data := e.ram[off : off+uint32(n)]
		var out []can.Frame
		for i := 0; i < len(data); i += can.MaxData {
			out = append(out, can.NewFrame(rma.ResponseID, data[i:min(i+can.MaxData, len(data))]))
		}
		e.responseN += len(out)
		return out, nil

	case rma.OpWriteByte, rma.OpWriteHalf, rma.OpWriteWord:
		if err := rma.ValidateRange(req.Address, req.Length); err != nil {
			return nil, err
		}
		data := f.Data[4:]
		e.apply(req.Address, data)
		return nil, nil

	case rma.OpWriteVar:
		if err := rma.ValidateRange(req.Address, req.Length); err != nil {
			return nil, err
		}
		ch.pending = &pendingWrite{addr: req.Address, want: req.Length}
		return nil, nil

	case rma.OpWriteData:
		p := ch.pending
		if p == nil {
			return nil, errors.New("continuation frame without variable write")
		}
		p.data = append(p.data, req.Data...)
		if len(p.data) >= p.want {
			e.apply(p.addr, p.data[:p.want])
			ch.pending = nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unhandled %s", req.Op)
}

// apply must be called with e.mu held.
func (e *ECU) apply(addr uint32, data []byte) {
	copy(e.ram[addr-rma.RAMStart:], data)
	e.writes = append(e.writes, Write{Address: addr, Data: append([]byte(nil), data...)})
}

type pendingWrite struct {
	addr uint32
	want int
	data []byte
}

type channel struct {
	ecu *ECU
	rx  *can.Queue

	mu      sync.Mutex
	closed  bool
	pending *pendingWrite
}

func (c *channel) Send(f can.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return can.ErrClosed
	}
	out, err := c.ecu.handle(c, f)
	if err != nil {
		// a real controller drops requests it cannot serve
		c.ecu.log.Debug("ecusim ignored request", c.ecu.log.Args("frame", f.String(), "error", err))
		return nil
	}
	for _, r := range out {
		c.rx.Push(r)
	}
	return nil
}

func (c *channel) Receive(max int, wait time.Duration) ([]can.Frame, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, can.ErrClosed
	}
	return c.rx.Receive(max, wait), nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
