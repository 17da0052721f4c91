package rma

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tosih/m21-livetune/pkg/can"
)

// Client is the engine front-end. It runs requests over the persistent
// channel of an active sampling session, or over a channel opened for the
// duration of a single call.
type Client struct {
	open can.OpenFunc
	opts []Option
	opt  options

	mu      sync.Mutex
	session *Conn
	sampler *sampler
}

// NewClient returns a client that acquires channels from open.
func NewClient(open can.OpenFunc, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{open: open, opts: opts, opt: o}
}

func (c *Client) withConn(fn func(*Conn) error) error {
	c.mu.Lock()
	conn := c.session
	c.mu.Unlock()
	if conn != nil {
		return fn(conn)
	}

	ch, err := c.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	return fn(NewConn(ch, c.opts...))
}

// Read reads length bytes (1..255) at addr. See Conn.Read for the partial
// read contract.
func (c *Client) Read(ctx context.Context, addr uint32, length int) (ReadResult, error) {
	res := ReadResult{Address: addr, Requested: length}
	if length < 1 || length > MaxVarLength {
		return res, fmt.Errorf("%w: variable read of %d bytes", ErrLength, length)
	}
	if err := ValidateRange(addr, length); err != nil {
		return res, err
	}
	err := c.withConn(func(conn *Conn) error {
		var err error
		res, err = conn.Read(ctx, addr, length)
		return err
	})
	return res, err
}

// WriteWord writes a 4-byte value at addr without waiting for acknowledgement.
func (c *Client) WriteWord(addr, value uint32) error {
	if err := ValidateRange(addr, 4); err != nil {
		return err
	}
	return c.withConn(func(conn *Conn) error {
		return conn.WriteWord(addr, value)
	})
}

// Dump reads total bytes starting at addr in chunks of at most 255 bytes,
// writing each chunk to w as it arrives. progress, if set, is called after
// every chunk. A chunk that yields no data aborts the dump.
func (c *Client) Dump(ctx context.Context, addr uint32, total int, w io.Writer, progress func(done, total int)) error {
	if err := ValidateRange(addr, total); err != nil {
		return err
	}
	return c.withConn(func(conn *Conn) error {
		done := 0
		for done < total {
			chunk := min(MaxVarLength, total-done)
			res, err := conn.Read(ctx, addr, chunk)
			if err != nil {
				return fmt.Errorf("dump chunk at 0x%08X: %w", addr, err)
			}
			if _, err := w.Write(res.Data); err != nil {
				return fmt.Errorf("dump write: %w", err)
			}
			done += len(res.Data)
			addr += uint32(len(res.Data))
			if progress != nil {
				progress(done, total)
			}
		}
		return nil
	})
}
