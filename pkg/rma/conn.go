package rma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/can"
)

const (
	// DefaultReadTimeout bounds one whole read transaction.
	DefaultReadTimeout = 2 * time.Second

	// DefaultBatchWait bounds a single wait for incoming frames.
	DefaultBatchWait = 100 * time.Millisecond

	flushWait   = time.Millisecond
	flushRounds = 8
)

// ErrNoData is returned when a read times out without a single payload byte.
var ErrNoData = errors.New("no data received")

// Option configures a Conn or a Client.
type Option func(*options)

type options struct {
	timeout   time.Duration
	batchWait time.Duration
	log       *pterm.Logger
}

func defaultOptions() options {
	return options{
		timeout:   DefaultReadTimeout,
		batchWait: DefaultBatchWait,
		log:       pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn),
	}
}

// WithReadTimeout overrides the total timeout of a read.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBatchWait overrides how long a single frame batch is awaited.
func WithBatchWait(d time.Duration) Option {
	return func(o *options) { o.batchWait = d }
}

// WithLogger sets the logger used for protocol traces.
func WithLogger(l *pterm.Logger) Option {
	return func(o *options) { o.log = l }
}

// ReadResult is the outcome of a read. A read that timed out after some but
// not all bytes arrived is returned as a partial result rather than an error.
type ReadResult struct {
	Address   uint32
	Data      []byte
	Requested int
}

// Partial reports whether fewer bytes than requested were received.
func (r ReadResult) Partial() bool {
	return len(r.Data) < r.Requested
}

// Complete reports whether every requested byte was received.
func (r ReadResult) Complete() bool {
	return !r.Partial()
}

func (r ReadResult) String() string {
	if r.Partial() {
		return fmt.Sprintf("0x%08X partial %d/%d bytes", r.Address, len(r.Data), r.Requested)
	}
	return fmt.Sprintf("0x%08X %d bytes", r.Address, len(r.Data))
}

// Conn runs the protocol over one opened channel.
type Conn struct {
	ch  can.Channel
	opt options

	// one read transaction at a time; responses carry no request tag
	rmu sync.Mutex
}

// NewConn wraps ch. The caller keeps ownership of ch.
func NewConn(ch can.Channel, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Conn{ch: ch, opt: o}
}

// Read performs a variable-length read of length bytes at addr. A read
// cancelled through ctx before all bytes arrived returns ctx.Err() with the
// bytes received so far.
func (c *Conn) Read(ctx context.Context, addr uint32, length int) (ReadResult, error) {
	res := ReadResult{Address: addr, Requested: length}
	req, err := EncodeReadVar(addr, length)
	if err != nil {
		return res, err
	}
	if err := ValidateRange(addr, length); err != nil {
		return res, err
	}

	c.rmu.Lock()
	defer c.rmu.Unlock()

	if err := c.flush(); err != nil {
		return res, err
	}
	if err := c.ch.Send(req); err != nil {
		return res, fmt.Errorf("send read request: %w", err)
	}
	c.opt.log.Trace("rma read", c.opt.log.Args("address", fmt.Sprintf("0x%08X", addr), "length", length))

	data := make([]byte, 0, length)
	deadline := time.Now().Add(c.opt.timeout)
	for len(data) < length {
		if ctx.Err() != nil {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		need := length - len(data)
		frames, err := c.ch.Receive((need+can.MaxData-1)/can.MaxData, min(c.opt.batchWait, remaining))
		if err != nil {
			return res, fmt.Errorf("receive read response: %w", err)
		}
		for _, f := range frames {
			if f.ID != ResponseID {
				continue
			}
			need = length - len(data)
			if need == 0 {
				break
			}
			p := f.Data
			if len(p) > need {
				p = p[:need]
			}
			data = append(data, p...)
		}
	}

	if len(data) < length {
		if err := ctx.Err(); err != nil {
			res.Data = data
			return res, err
		}
	}
	if len(data) == 0 {
		return res, fmt.Errorf("%w: read 0x%08X+%d", ErrNoData, addr, length)
	}
	res.Data = data
	if res.Partial() {
		c.opt.log.Warn("rma short read", c.opt.log.Args(
			"address", fmt.Sprintf("0x%08X", addr), "received", len(data), "requested", length))
	}
	return res, nil
}

// flush discards frames left over from an earlier read that timed out.
func (c *Conn) flush() error {
	for range flushRounds {
		frames, err := c.ch.Receive(64, flushWait)
		if err != nil {
			return fmt.Errorf("flush channel: %w", err)
		}
		if len(frames) == 0 {
			return nil
		}
		c.opt.log.Debug("rma discarded stale frames", c.opt.log.Args("count", len(frames)))
	}
	return nil
}

// WriteWord sends a 4-byte write. The controller does not acknowledge writes.
func (c *Conn) WriteWord(addr, value uint32) error {
	if err := ValidateRange(addr, 4); err != nil {
		return err
	}
	if err := c.ch.Send(EncodeWriteWord(addr, value)); err != nil {
		return fmt.Errorf("send write 0x%08X: %w", addr, err)
	}
	c.opt.log.Trace("rma write", c.opt.log.Args(
		"address", fmt.Sprintf("0x%08X", addr), "value", fmt.Sprintf("0x%08X", value)))
	return nil
}
