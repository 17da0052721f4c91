package rma

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MinSampleInterval is the shortest polling interval a sampling session accepts.
const MinSampleInterval = 20 * time.Millisecond

var (
	// ErrConfig is returned for sampling sessions that cannot be started as configured.
	ErrConfig = errors.New("invalid sampling configuration")

	// ErrSamplerActive is returned when a sampling session is already running.
	ErrSamplerActive = errors.New("sampling session already active")
)

// SamplingSession describes a polling logger of one address range.
type SamplingSession struct {
	Address    uint32
	Length     int
	Interval   time.Duration
	OutputPath string
}

// Validate checks the session before any resource is acquired.
func (s SamplingSession) Validate() error {
	if s.OutputPath == "" {
		return fmt.Errorf("%w: empty output path", ErrConfig)
	}
	if s.Interval < MinSampleInterval {
		return fmt.Errorf("%w: interval %s below %s", ErrConfig, s.Interval, MinSampleInterval)
	}
	if s.Length < 1 || s.Length > MaxVarLength {
		return fmt.Errorf("%w: %w: length %d not in 1..%d", ErrConfig, ErrLength, s.Length, MaxVarLength)
	}
	if err := ValidateRange(s.Address, s.Length); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// Sample is one successful read of a sampling session.
type Sample struct {
	Time    time.Time
	Elapsed time.Duration
	Result  ReadResult
}

// SampleListener receives sampling notifications. Callbacks run on the
// sampling goroutine; nil callbacks are skipped.
type SampleListener struct {
	Data  func(Sample)
	Error func(error)
}

func (l SampleListener) data(s Sample) {
	if l.Data != nil {
		l.Data(s)
	}
}

func (l SampleListener) fail(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

type sampler struct {
	session  SamplingSession
	conn     *Conn
	close    func() error
	out      *sampleLog
	listener SampleListener
	start    time.Time

	cancel context.CancelFunc
	done   chan struct{}
	// set by the polling goroutine before done is closed
	logErr error
}

// StartSampling opens a persistent channel and the output log, then polls
// s.Address every s.Interval until StopSampling. Read and write failures are
// reported to l.Error and never stop the session.
func (c *Client) StartSampling(s SamplingSession, l SampleListener) error {
	if err := s.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sampler != nil {
		return ErrSamplerActive
	}

	ch, err := c.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	start := time.Now()
	out, err := createSampleLog(s.OutputPath, s, start)
	if err != nil {
		ch.Close()
		return fmt.Errorf("create sample log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sp := &sampler{
		session:  s,
		conn:     NewConn(ch, c.opts...),
		close:    ch.Close,
		out:      out,
		listener: l,
		start:    start,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.sampler = sp
	c.session = sp.conn

	c.opt.log.Info("sampling started", c.opt.log.Args(
		"address", fmt.Sprintf("0x%08X", s.Address),
		"length", s.Length,
		"interval", s.Interval,
		"output", s.OutputPath))

	go c.sampleLoop(ctx, sp)
	return nil
}

func (c *Client) sampleLoop(ctx context.Context, sp *sampler) {
	defer close(sp.done)
	defer func() { sp.logErr = sp.out.Close() }()
	ticker := time.NewTicker(sp.session.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		res, err := sp.conn.Read(ctx, sp.session.Address, sp.session.Length)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sp.listener.fail(err)
			continue
		}
		now := time.Now()
		smp := Sample{Time: now, Elapsed: now.Sub(sp.start), Result: res}
		sp.listener.data(smp)
		if err := sp.out.append(smp); err != nil {
			sp.listener.fail(fmt.Errorf("write sample: %w", err))
		}
	}
}

// Sampling reports whether a sampling session is active.
func (c *Client) Sampling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampler != nil
}

// StopSampling ends the active session, waiting a bounded time for the
// polling goroutine, then closes the channel. The polling goroutine closes
// the log on exit. It is a no-op
// when no session is active.
func (c *Client) StopSampling() error {
	c.mu.Lock()
	sp := c.sampler
	c.sampler = nil
	c.session = nil
	c.mu.Unlock()
	if sp == nil {
		return nil
	}

	sp.cancel()
	var err error
	join := c.opt.timeout + sp.session.Interval + time.Second
	select {
	case <-sp.done:
		err = sp.logErr
	case <-time.After(join):
		// the log is closed by the polling goroutine when it returns
		c.opt.log.Warn("sampling goroutine did not exit in time", c.opt.log.Args("wait", join))
	}

	if cerr := sp.close(); err == nil {
		err = cerr
	}
	c.opt.log.Info("sampling stopped", c.opt.log.Args("output", sp.session.OutputPath))
	return err
}
