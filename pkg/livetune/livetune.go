// Package livetune mirrors edits of a calibration image into controller RAM.
//
// A Bridge watches the image with a monitor.Detector and turns every changed
// word into a memory-access write at baseAddress+offset, sent over one
// channel that stays open for the whole session.
package livetune

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/can"
	"github.com/tosih/m21-livetune/pkg/monitor"
	"github.com/tosih/m21-livetune/pkg/rma"
)

// MinScanInterval is the shortest scan interval a session accepts.
const MinScanInterval = 50 * time.Millisecond

var (
	// ErrConfig is returned by Start for a session that cannot be configured.
	ErrConfig = errors.New("invalid live-tuning configuration")

	// ErrAlreadyMonitoring is returned by Start while a session is active.
	ErrAlreadyMonitoring = errors.New("live tuning already active")

	// ErrNotMonitoring is reported for writes dispatched after the session ended.
	ErrNotMonitoring = errors.New("live tuning not active")
)

// State is the bridge lifecycle state.
type State int

const (
	Idle State = iota
	Monitoring
)

func (s State) String() string {
	if s == Monitoring {
		return "monitoring"
	}
	return "idle"
}

// WriteCompleted describes a word that was sent to the controller.
type WriteCompleted struct {
	DeviceAddress uint32
	FileOffset    uint32
	OldValue      uint32
	NewValue      uint32
	Time          time.Time
}

// WriteError is reported when forwarding a change fails.
type WriteError struct {
	DeviceAddress uint32
	FileOffset    uint32
	Err           error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write 0x%08X (image +0x%04X): %v", e.DeviceAddress, e.FileOffset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Listener receives bridge notifications. WriteCompleted and write errors
// arrive on per-write goroutines, the rest on the scan goroutine; nil
// callbacks are skipped.
type Listener struct {
	WordChanged    func(monitor.WordChange)
	Reloaded       func(monitor.ReloadSummary)
	WriteCompleted func(WriteCompleted)
	Error          func(error)
}

func (l Listener) fail(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// Session is the configuration of an active bridge.
type Session struct {
	FilePath     string
	BaseAddress  uint32
	ScanInterval time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for session and write traces.
func WithLogger(l *pterm.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithConnOptions passes options to the protocol connection of each session.
func WithConnOptions(opts ...rma.Option) Option {
	return func(b *Bridge) { b.connOpts = append(b.connOpts, opts...) }
}

// Bridge forwards detected image changes to the controller.
type Bridge struct {
	open     can.OpenFunc
	listener Listener
	log      *pterm.Logger
	connOpts []rma.Option

	// stopMu serializes Stop so one caller tears a session down
	stopMu sync.Mutex

	// mu guards the session fields; never held across a send
	mu       sync.Mutex
	state    State
	session  Session
	ch       can.Channel
	conn     *rma.Conn
	detector *monitor.Detector
	inflight sync.WaitGroup
}

// New returns an idle bridge acquiring its channel from open.
func New(open can.OpenFunc, l Listener, opts ...Option) *Bridge {
	b := &Bridge{
		open:     open,
		listener: l,
		log:      pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Session returns the active session and whether one is active.
func (b *Bridge) Session() (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session, b.state == Monitoring
}

// Snapshot returns a copy of the image as last seen by the detector, or nil
// when idle.
func (b *Bridge) Snapshot() []byte {
	b.mu.Lock()
	d := b.detector
	b.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Snapshot()
}

// Start begins mirroring filePath to RAM at baseAddress. Resources acquired
// before a failure are released before the error is returned.
func (b *Bridge) Start(filePath string, baseAddress uint32, scanInterval time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Monitoring {
		return ErrAlreadyMonitoring
	}
	if scanInterval < MinScanInterval {
		return fmt.Errorf("%w: scan interval %s below %s", ErrConfig, scanInterval, MinScanInterval)
	}
	if !rma.InWindow(baseAddress) {
		return fmt.Errorf("%w: base address: %w", ErrConfig, rma.ValidateRange(baseAddress, 1))
	}
	fi, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrConfig, filePath)
	}
	if end := uint64(baseAddress) + uint64(fi.Size()); end > uint64(rma.RAMEnd)+1 {
		b.log.Warn("image extends past RAM window, writes beyond it will be rejected", b.log.Args(
			"file", filePath, "bytes", fi.Size(), "base", fmt.Sprintf("0x%08X", baseAddress)))
	}

	ch, err := b.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	d := monitor.New(filePath, scanInterval, monitor.Listener{
		WordChanged: b.dispatch,
		Reloaded:    b.listener.Reloaded,
		Error:       b.listener.Error,
	}, monitor.WithLogger(b.log))

	b.session = Session{FilePath: filePath, BaseAddress: baseAddress, ScanInterval: scanInterval}
	b.ch = ch
	b.conn = rma.NewConn(ch, append([]rma.Option{rma.WithLogger(b.log)}, b.connOpts...)...)
	b.detector = d

	if err := d.Start(); err != nil {
		ch.Close()
		b.reset()
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	b.state = Monitoring
	b.log.Info("live tuning started", b.log.Args(
		"file", filePath, "base", fmt.Sprintf("0x%08X", baseAddress), "interval", scanInterval))
	return nil
}

// Stop ends the session: the detector is stopped, in-flight writes are
// awaited and the channel is closed. It is a no-op when idle. Concurrent
// calls wait for the teardown in progress.
func (b *Bridge) Stop() error {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()

	b.mu.Lock()
	if b.state != Monitoring {
		b.mu.Unlock()
		return nil
	}
	d := b.detector
	b.mu.Unlock()

	// the scan loop may be dispatching, so it is stopped without holding mu
	d.Stop()

	b.mu.Lock()
	ch := b.ch
	b.reset()
	b.mu.Unlock()

	b.inflight.Wait()
	err := ch.Close()
	b.log.Info("live tuning stopped", b.log.Args("file", d.Path()))
	return err
}

// reset must be called with b.mu held.
func (b *Bridge) reset() {
	b.state = Idle
	b.session = Session{}
	b.ch = nil
	b.conn = nil
	b.detector = nil
}

// dispatch runs on the scan goroutine and must not block on I/O.
func (b *Bridge) dispatch(c monitor.WordChange) {
	if b.listener.WordChanged != nil {
		b.listener.WordChanged(c)
	}

	b.mu.Lock()
	conn := b.conn
	base := b.session.BaseAddress
	if conn != nil {
		b.inflight.Add(1)
	}
	b.mu.Unlock()

	addr := base + c.ByteOffset
	if conn == nil {
		b.listener.fail(&WriteError{DeviceAddress: addr, FileOffset: c.ByteOffset, Err: ErrNotMonitoring})
		return
	}

	go func() {
		defer b.inflight.Done()
		if err := conn.WriteWord(addr, c.NewValue); err != nil {
			b.log.Warn("live write failed", b.log.Args("address", fmt.Sprintf("0x%08X", addr), "error", err))
			b.listener.fail(&WriteError{DeviceAddress: addr, FileOffset: c.ByteOffset, Err: err})
			return
		}
		if b.listener.WriteCompleted != nil {
			b.listener.WriteCompleted(WriteCompleted{
				DeviceAddress: addr,
				FileOffset:    c.ByteOffset,
				OldValue:      c.OldValue,
				NewValue:      c.NewValue,
				Time:          time.Now(),
			})
		}
	}()
}
