package livetune_test

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/can"
	"github.com/tosih/m21-livetune/pkg/ecusim"
	"github.com/tosih/m21-livetune/pkg/livetune"
	"github.com/tosih/m21-livetune/pkg/monitor"
	"github.com/tosih/m21-livetune/pkg/rma"
)

var quiet = pterm.DefaultLogger.WithWriter(io.Discard)

// trackedChannel records whether the bridge released its channel.
type trackedChannel struct {
	can.Channel
	mu     sync.Mutex
	closed bool
}

func (c *trackedChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Channel.Close()
}

func (c *trackedChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type opener struct {
	ecu *ecusim.ECU

	mu       sync.Mutex
	channels []*trackedChannel
}

func (o *opener) open() (can.Channel, error) {
	ch, err := o.ecu.Open()
	if err != nil {
		return nil, err
	}
	tc := &trackedChannel{Channel: ch}
	o.mu.Lock()
	o.channels = append(o.channels, tc)
	o.mu.Unlock()
	return tc, nil
}

func (o *opener) opened() []*trackedChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*trackedChannel(nil), o.channels...)
}

type recorder struct {
	mu      sync.Mutex
	changes []monitor.WordChange
	reloads []monitor.ReloadSummary
	writes  []livetune.WriteCompleted
	errs    []error
}

func (r *recorder) listener() livetune.Listener {
	return livetune.Listener{
		WordChanged: func(c monitor.WordChange) {
			r.mu.Lock()
			r.changes = append(r.changes, c)
			r.mu.Unlock()
		},
		Reloaded: func(s monitor.ReloadSummary) {
			r.mu.Lock()
			r.reloads = append(r.reloads, s)
			r.mu.Unlock()
		},
		WriteCompleted: func(w livetune.WriteCompleted) {
			r.mu.Lock()
			r.writes = append(r.writes, w)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]monitor.WordChange, []livetune.WriteCompleted, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]monitor.WordChange(nil), r.changes...),
		append([]livetune.WriteCompleted(nil), r.writes...),
		append([]error(nil), r.errs...)
}

func writeImage(t *testing.T, path string, data []byte) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newBridge(ecu *ecusim.ECU, r *recorder) (*livetune.Bridge, *opener) {
	o := &opener{ecu: ecu}
	b := livetune.New(o.open, r.listener(),
		livetune.WithLogger(quiet),
		livetune.WithConnOptions(rma.WithReadTimeout(100*time.Millisecond), rma.WithBatchWait(10*time.Millisecond)))
	return b, o
}

func TestBridgeMirrorsEdit(t *testing.T) {
	ecu := ecusim.New(ecusim.WithLogger(quiet))
	r := &recorder{}
	b, o := newBridge(ecu, r)

	path := filepath.Join(t.TempDir(), "cal.bin")
	image := make([]byte, 16)
	writeImage(t, path, image)

	if err := b.Start(path, 0x40002000, 50*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := b.State(); got != livetune.Monitoring {
		t.Fatalf("State() = %v, want monitoring", got)
	}
	s, ok := b.Session()
	if !ok || s.BaseAddress != 0x40002000 || s.FilePath != path {
		t.Errorf("Session() = %+v, %v", s, ok)
	}

	binary.BigEndian.PutUint32(image[4:], 0xDEADBEEF)
	writeImage(t, path, image)

	waitFor(t, 2*time.Second, func() bool {
		_, writes, _ := r.snapshot()
		return len(writes) > 0
	})
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	changes, writes, errs := r.snapshot()
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	wantChanges := []monitor.WordChange{{ByteOffset: 4, OldValue: 0, NewValue: 0xDEADBEEF}}
	if diff := cmp.Diff(wantChanges, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
	wantWrites := []livetune.WriteCompleted{{DeviceAddress: 0x40002004, FileOffset: 4, OldValue: 0, NewValue: 0xDEADBEEF}}
	if diff := cmp.Diff(wantWrites, writes, cmpopts.IgnoreFields(livetune.WriteCompleted{}, "Time")); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}

	sent := ecu.Writes()
	if len(sent) != 1 || sent[0].Address != 0x40002004 || sent[0].Value() != 0xDEADBEEF {
		t.Errorf("controller writes = %+v, want one word 0xDEADBEEF at 0x40002004", sent)
	}
	if v, err := ecu.PeekWord(0x40002004); err != nil || v != 0xDEADBEEF {
		t.Errorf("PeekWord() = 0x%08X, %v", v, err)
	}

	chs := o.opened()
	if len(chs) != 1 || !chs[0].isClosed() {
		t.Errorf("expected one channel, closed after Stop")
	}
	if got := b.State(); got != livetune.Idle {
		t.Errorf("State() after Stop = %v, want idle", got)
	}
	if b.Snapshot() != nil {
		t.Error("Snapshot() after Stop should be nil")
	}
}

func TestBridgeStartErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cal.bin")
	writeImage(t, path, make([]byte, 8))

	tests := []struct {
		name     string
		path     string
		base     uint32
		interval time.Duration
		failOpen error
		want     error
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.bin"), base: rma.RAMStart, interval: time.Second, want: livetune.ErrConfig},
		{name: "directory", path: dir, base: rma.RAMStart, interval: time.Second, want: livetune.ErrConfig},
		{name: "interval below floor", path: path, base: rma.RAMStart, interval: 10 * time.Millisecond, want: livetune.ErrConfig},
		{name: "base below window", path: path, base: 0x3FFFFFFC, interval: time.Second, want: rma.ErrOutOfRange},
		{name: "base above window", path: path, base: 0x40010000, interval: time.Second, want: livetune.ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecu := ecusim.New(ecusim.WithLogger(quiet))
			b, o := newBridge(ecu, &recorder{})
			err := b.Start(tt.path, tt.base, tt.interval)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Start() error = %v, want %v", err, tt.want)
			}
			if b.State() != livetune.Idle {
				t.Error("bridge left monitoring after failed Start")
			}
			if n := len(o.opened()); n != 0 {
				t.Errorf("opened %d channels on a rejected session", n)
			}
		})
	}
}

func TestBridgeOpenFailure(t *testing.T) {
	ecu := ecusim.New(ecusim.WithLogger(quiet))
	errDown := errors.New("gateway down")
	ecu.FailOpen(errDown)
	b, _ := newBridge(ecu, &recorder{})

	path := filepath.Join(t.TempDir(), "cal.bin")
	writeImage(t, path, make([]byte, 8))
	if err := b.Start(path, rma.RAMStart, time.Second); !errors.Is(err, errDown) {
		t.Fatalf("Start() error = %v, want %v", err, errDown)
	}
	if b.State() != livetune.Idle {
		t.Error("bridge left monitoring after open failure")
	}

	ecu.FailOpen(nil)
	if err := b.Start(path, rma.RAMStart, time.Second); err != nil {
		t.Fatalf("Start() after recovery error = %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestBridgeLifecycle(t *testing.T) {
	ecu := ecusim.New(ecusim.WithLogger(quiet))
	b, o := newBridge(ecu, &recorder{})

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() while idle error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "cal.bin")
	writeImage(t, path, []byte{1, 2, 3, 4})
	if err := b.Start(path, rma.RAMStart, time.Second); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.Start(path, rma.RAMStart, time.Second); !errors.Is(err, livetune.ErrAlreadyMonitoring) {
		t.Errorf("second Start() error = %v, want ErrAlreadyMonitoring", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, b.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	// a new session opens a fresh channel
	if err := b.Start(path, rma.RAMStart, time.Second); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
	chs := o.opened()
	if len(chs) != 2 {
		t.Fatalf("opened %d channels, want 2", len(chs))
	}
	for i, ch := range chs {
		if !ch.isClosed() {
			t.Errorf("channel %d not closed", i)
		}
	}
}

func TestBridgeConcurrentStop(t *testing.T) {
	ecu := ecusim.New(ecusim.WithLogger(quiet))
	b, o := newBridge(ecu, &recorder{})
	path := filepath.Join(t.TempDir(), "cal.bin")
	writeImage(t, path, []byte{1, 2, 3, 4})

	for i := 0; i < 200; i++ {
		if err := b.Start(path, rma.RAMStart, livetune.MinScanInterval); err != nil {
			t.Fatalf("iteration %d: Start() error = %v", i, err)
		}
		gate := make(chan struct{})
		errs := make(chan error, 2)
		var wg sync.WaitGroup
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				errs <- b.Stop()
			}()
		}
		close(gate)
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("iteration %d: Stop() error = %v", i, err)
			}
		}
		if b.State() != livetune.Idle {
			t.Fatalf("iteration %d: State() = %s, want idle", i, b.State())
		}
	}
	for i, ch := range o.opened() {
		if !ch.isClosed() {
			t.Errorf("channel %d not closed", i)
		}
	}
}

func TestBridgeReportsRejectedWrites(t *testing.T) {
	ecu := ecusim.New(ecusim.WithLogger(quiet))
	r := &recorder{}
	b, _ := newBridge(ecu, r)

	// the second word lands past the end of the RAM window
	path := filepath.Join(t.TempDir(), "cal.bin")
	image := make([]byte, 8)
	writeImage(t, path, image)
	base := rma.RAMEnd - 3
	if err := b.Start(path, base, 50*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	binary.BigEndian.PutUint32(image[0:], 0x11111111)
	binary.BigEndian.PutUint32(image[4:], 0x22222222)
	writeImage(t, path, image)

	waitFor(t, 2*time.Second, func() bool {
		_, writes, errs := r.snapshot()
		return len(writes) == 1 && len(errs) == 1
	})
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	_, writes, errs := r.snapshot()
	if writes[0].DeviceAddress != base || writes[0].NewValue != 0x11111111 {
		t.Errorf("write = %+v", writes[0])
	}
	var werr *livetune.WriteError
	if !errors.As(errs[0], &werr) {
		t.Fatalf("error %v is not a *WriteError", errs[0])
	}
	if werr.DeviceAddress != base+4 || werr.FileOffset != 4 || !errors.Is(werr, rma.ErrOutOfRange) {
		t.Errorf("WriteError = %+v", werr)
	}
	if n := len(ecu.Writes()); n != 1 {
		t.Errorf("controller saw %d writes, want 1", n)
	}
}

func TestBridgeSizeChangeForwardsCommonPrefix(t *testing.T) {
	ecu := ecusim.New(ecusim.WithLogger(quiet))
	r := &recorder{}
	b, _ := newBridge(ecu, r)

	path := filepath.Join(t.TempDir(), "cal.bin")
	writeImage(t, path, make([]byte, 8))
	if err := b.Start(path, rma.RAMStart, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	grown := make([]byte, 16)
	grown[3] = 0x7F
	grown[12] = 0xFF
	writeImage(t, path, grown)

	waitFor(t, 2*time.Second, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.reloads) > 0 && len(r.writes) > 0
	})
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if diff := cmp.Diff([]monitor.ReloadSummary{{ChangedWords: 1, SizeChanged: true}}, r.reloads); diff != "" {
		t.Errorf("reloads mismatch (-want +got):\n%s", diff)
	}
	if len(r.writes) != 1 || r.writes[0].DeviceAddress != rma.RAMStart || r.writes[0].NewValue != 0x7F {
		t.Errorf("writes = %+v", r.writes)
	}
}
