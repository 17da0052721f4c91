// Package monitor watches a calibration image on disk and reports which
// 4-byte words changed since the last time it was read.
package monitor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

var (
	// ErrConfig is returned by Start for an unusable path or interval.
	ErrConfig = errors.New("invalid monitor configuration")

	// ErrRunning is returned by Start when the detector is already running.
	ErrRunning = errors.New("monitor already running")

	// ErrRange is returned by accessors for unaligned or out-of-bounds offsets.
	ErrRange = errors.New("offset out of range")

	// ErrPanic wraps a panic recovered inside a scan.
	ErrPanic = errors.New("panic during scan")
)

// Listener receives detector notifications. Callbacks run on the scan
// goroutine after the snapshot lock has been released; nil callbacks are
// skipped.
type Listener struct {
	WordChanged func(WordChange)
	Reloaded    func(ReloadSummary)
	Error       func(error)
}

func (l Listener) changed(c WordChange) {
	if l.WordChanged != nil {
		l.WordChanged(c)
	}
}

func (l Listener) reloaded(s ReloadSummary) {
	if l.Reloaded != nil {
		l.Reloaded(s)
	}
}

func (l Listener) fail(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for scan traces.
func WithLogger(l *pterm.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// Detector keeps a snapshot of a file and rescans it on a fixed interval.
type Detector struct {
	path     string
	interval time.Duration
	listener Listener
	log      *pterm.Logger

	// mu guards snapshot; a whole reload-and-compare runs under it
	mu       sync.Mutex
	snapshot []byte

	life    sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns a detector for path. Nothing is read until Start.
func New(path string, interval time.Duration, l Listener, opts ...Option) *Detector {
	d := &Detector{
		path:     path,
		interval: interval,
		listener: l,
		log:      pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the monitored file.
func (d *Detector) Path() string {
	return d.path
}

// Start loads the file into the snapshot and launches the scan loop.
func (d *Detector) Start() error {
	if d.path == "" {
		return fmt.Errorf("%w: empty path", ErrConfig)
	}
	if d.interval <= 0 {
		return fmt.Errorf("%w: scan interval %s", ErrConfig, d.interval)
	}

	d.life.Lock()
	defer d.life.Unlock()
	if d.running {
		return ErrRunning
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	d.mu.Lock()
	d.snapshot = data
	d.mu.Unlock()

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.loop(d.stop, d.done)

	d.log.Info("monitoring started", d.log.Args("file", d.path, "bytes", len(data), "interval", d.interval))
	return nil
}

// Stop halts the scan loop and waits for it to exit. It is safe to call
// more than once.
func (d *Detector) Stop() {
	d.life.Lock()
	defer d.life.Unlock()
	if !d.running {
		return
	}
	close(d.stop)
	<-d.done
	d.running = false
	d.log.Info("monitoring stopped", d.log.Args("file", d.path))
}

// Running reports whether the scan loop is active.
func (d *Detector) Running() bool {
	d.life.Lock()
	defer d.life.Unlock()
	return d.running
}

func (d *Detector) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		d.Scan()
	}
}

type scanResult struct {
	changes []WordChange
	summary *ReloadSummary
}

// Scan reloads the file once and emits the notifications for what changed.
// Errors are reported to the listener, never returned.
func (d *Detector) Scan() {
	defer func() {
		if r := recover(); r != nil {
			d.listener.fail(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	res, err := d.reload()
	if err != nil {
		d.log.Warn("reload failed", d.log.Args("file", d.path, "error", err))
		d.listener.fail(err)
		return
	}
	for _, c := range res.changes {
		d.listener.changed(c)
	}
	if res.summary != nil {
		d.log.Debug("image reloaded", d.log.Args(
			"file", d.path, "changed", res.summary.ChangedWords, "size_changed", res.summary.SizeChanged))
		d.listener.reloaded(*res.summary)
	}
}

func (d *Detector) reload() (scanResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		return scanResult{}, fmt.Errorf("reload %s: %w", d.path, err)
	}

	var res scanResult
	if len(data) != len(d.snapshot) {
		res.changes = Diff(d.snapshot, data)
		d.snapshot = data
		res.summary = &ReloadSummary{ChangedWords: uint32(len(res.changes)), SizeChanged: true}
		return res, nil
	}

	eachChange(d.snapshot, data, func(c WordChange) {
		binary.BigEndian.PutUint32(d.snapshot[c.ByteOffset:], c.NewValue)
		res.changes = append(res.changes, c)
	})
	if len(res.changes) > 0 {
		res.summary = &ReloadSummary{ChangedWords: uint32(len(res.changes))}
	}
	return res, nil
}

// Snapshot returns a copy of the last observed file contents.
func (d *Detector) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.snapshot...)
}

// Size returns the length of the snapshot.
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.snapshot)
}

// Range returns a copy of length bytes at offset.
func (d *Detector) Range(offset, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || length < 0 || offset+length > len(d.snapshot) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrRange, offset, offset+length, len(d.snapshot))
	}
	return append([]byte(nil), d.snapshot[offset:offset+length]...), nil
}

// Word returns the big-endian word at byteOffset, which must be 4-aligned.
func (d *Detector) Word(byteOffset uint32) (uint32, error) {
	if byteOffset%WordSize != 0 {
		return 0, fmt.Errorf("%w: 0x%X not word aligned", ErrRange, byteOffset)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(byteOffset)+WordSize > uint64(len(d.snapshot)) {
		return 0, fmt.Errorf("%w: 0x%X past %d bytes", ErrRange, byteOffset, len(d.snapshot))
	}
	return binary.BigEndian.Uint32(d.snapshot[byteOffset:]), nil
}
