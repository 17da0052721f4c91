package can

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFrameBytesRoundTrip(t *testing.T) {
	f := NewFrame(0x00000603, []byte{0x40, 0x00, 0x10, 0x00, 0x08})
	raw := f.Bytes()
	want := []byte{0x00, 0x00, 0x06, 0x03, 0x40, 0x00, 0x10, 0x00, 0x08}
	if diff := cmp.Diff(want, raw); diff != "" {
		t.Fatalf("Bytes() mismatch (-want +got):\n%s", diff)
	}
	got, err := FrameFromBytes(raw)
	if err != nil {
		t.Fatalf("FrameFromBytes() error = %v", err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("FrameFromBytes() mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameFromBytesShort(t *testing.T) {
	_, err := FrameFromBytes([]byte{0x01, 0x02})
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("FrameFromBytes() error = %v, want ErrShortFrame", err)
	}
}

func TestSerializeParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		header  byte
		wantErr bool
	}{
		{
			name:   "standard id",
			frame:  NewFrame(0x7E0, []byte{0x01, 0x02}),
			header: 0x82,
		},
		{
			name:   "extended id full payload",
			frame:  NewFrame(0x18DA10F1, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
			header: 0xA8,
		},
		{
			name:    "payload too long",
			frame:   NewFrame(0x100, make([]byte, 9)),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := SerializeFrame(tt.frame)
			if tt.wantErr {
				if err == nil {
					t.Fatal("SerializeFrame() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SerializeFrame() error = %v", err)
			}
			if len(raw) != GatewayFrameSize {
				t.Fatalf("len = %d, want %d", len(raw), GatewayFrameSize)
			}
			if raw[0] != tt.header {
				t.Errorf("header = 0x%02X, want 0x%02X", raw[0], tt.header)
			}
			got, err := ParseFrame(raw)
			if err != nil {
				t.Fatalf("ParseFrame() error = %v", err)
			}
			if diff := cmp.Diff(tt.frame, got); diff != "" {
				t.Errorf("ParseFrame() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFrameRejectsInvalidHeader(t *testing.T) {
	raw := make([]byte, GatewayFrameSize)
	if _, err := ParseFrame(raw); err == nil {
		t.Fatal("ParseFrame() expected error for missing valid bit")
	}
	if _, err := ParseFrame(raw[:5]); err == nil {
		t.Fatal("ParseFrame() expected error for short frame")
	}
}

func TestGatewayChannel(t *testing.T) {
	client, server := net.Pipe()
	ch := NewGatewayChannel(client)
	defer ch.Close()

	// echo every frame back with a different id
	go func() {
		buf := make([]byte, GatewayFrameSize)
		for {
			n, err := server.Read(buf)
			if err != nil || n != GatewayFrameSize {
				return
			}
			f, err := ParseFrame(buf)
			if err != nil {
				return
			}
			f.ID++
			raw, _ := SerializeFrame(f)
			if _, err := server.Write(raw); err != nil {
				return
			}
		}
	}()

	if err := ch.Send(NewFrame(0x600, []byte{0xAA, 0xBB})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	frames, err := ch.Receive(4, time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	want := []Frame{NewFrame(0x601, []byte{0xAA, 0xBB})}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("Receive() mismatch (-want +got):\n%s", diff)
	}

	frames, err = ch.Receive(1, 20*time.Millisecond)
	if err != nil || len(frames) != 0 {
		t.Errorf("Receive() on idle link = %v, %v; want no frames, nil", frames, err)
	}

	server.Close()
	if err := ch.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Logf("Close() = %v", err)
	}
	if err := ch.Send(NewFrame(0x600, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v, want ErrClosed", err)
	}
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(2)
	q.Push(NewFrame(1, nil))
	q.Push(NewFrame(2, nil))
	q.Push(NewFrame(3, nil))

	got := q.Receive(8, 10*time.Millisecond)
	var ids []uint32
	for _, f := range got {
		ids = append(ids, f.ID)
	}
	if diff := cmp.Diff([]uint32{2, 3}, ids); diff != "" {
		t.Errorf("Receive() ids mismatch (-want +got):\n%s", diff)
	}
	if got := q.Receive(1, 5*time.Millisecond); got != nil {
		t.Errorf("Receive() on empty queue = %v, want nil", got)
	}
}
