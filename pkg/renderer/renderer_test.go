package renderer

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/livetune"
	"github.com/tosih/m21-livetune/pkg/models"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func TestBuildDumpString(t *testing.T) {
	data := []byte("ECU\x00RAM-dump-0123456789")
	got := strings.Split(BuildDumpString(0x40000100, data, len(data)), "\n")
	if len(got) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(got), strings.Join(got, "\n"))
	}
	want := " 0x40000100| 45 43 55 00 52 41 4D 2D 64 75 6D 70 2D 30 31 32 | ECU.RAM-dump-012"
	if diff := cmp.Diff(want, got[2]); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(got[3], " 0x40000110| 33 34 35 36 37 38 39   ") {
		t.Errorf("second row = %q", got[3])
	}
}

func TestBuildDumpStringMarksMissingBytes(t *testing.T) {
	out := BuildDumpString(0x40000000, []byte{1, 2, 3, 4}, 8)
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[2], " 0x40000000| 01 02 03 04 -- -- -- --") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.HasSuffix(out, "4 of 8 bytes missing") {
		t.Errorf("missing trailer in:\n%s", out)
	}
}

func TestChangeRow(t *testing.T) {
	w := livetune.WriteCompleted{
		DeviceAddress: 0x40006704,
		FileOffset:    0x6704,
		OldValue:      0x01020304,
		NewValue:      0x0A0B0C0D,
		Time:          time.Date(2024, 1, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC),
	}
	want := []string{
		"12:30:15.250",
		"0x40006704",
		"+0x6704",
		"0x01020304",
		"0x0A0B0C0D",
		"Main Fuel Map[0,4], Main Fuel Map[0,5], Main Fuel Map[0,6], Main Fuel Map[0,7]",
	}
	if diff := cmp.Diff(want, ChangeRow(w)); diff != "" {
		t.Errorf("ChangeRow() mismatch (-want +got):\n%s", diff)
	}
	if got := Cells(0x10, 4); got != "-" {
		t.Errorf("Cells() outside catalog = %q, want -", got)
	}
	if len(ChangeHeader) != len(want) {
		t.Errorf("header has %d columns, rows have %d", len(ChangeHeader), len(want))
	}
}

func TestMapValues(t *testing.T) {
	m := models.CalMap{Name: "t", Offset: 2, Rows: 2, Cols: 3, Scale: 0.5, Bias: 1}
	image := []byte{9, 9, 0, 2, 4, 6, 8, 10}
	got, err := MapValues(m, image)
	if err != nil {
		t.Fatalf("MapValues() error = %v", err)
	}
	want := [][]float64{{1, 2, 3}, {4, 5, 6}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MapValues() mismatch (-want +got):\n%s", diff)
	}
	if _, err := MapValues(m, image[:7]); err == nil {
		t.Error("MapValues() expected error for short image")
	}

	out := BuildMapString(got, ModeValues, 1, 6)
	lines := strings.Split(out, "\n")
	if len(lines) != 4 {
		t.Fatalf("BuildMapString() = %d lines:\n%s", len(lines), out)
	}
	if diff := cmp.Diff("     1 ↓ |   4.00   5.00   6.00", lines[3]); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
}

func TestBand(t *testing.T) {
	tests := []struct {
		value, lo, hi float64
		want          int
	}{
		{0, 0, 10, 0},
		{1.9, 0, 10, 0},
		{2, 0, 10, 1},
		{10, 0, 10, 4},
		{12, 0, 10, 4},
		{-1, 0, 10, 0},
		{5, 5, 5, -1},
	}
	for _, tt := range tests {
		if got := band(tt.value, tt.lo, tt.hi, 5); got != tt.want {
			t.Errorf("band(%v, %v, %v, 5) = %d, want %d", tt.value, tt.lo, tt.hi, got, tt.want)
		}
	}

	out := BuildMapString([][]float64{{0, 10}}, ModeSymbols, 0, 10)
	lines := strings.Split(out, "\n")
	if diff := cmp.Diff("     0 ↓ |░░░░████", lines[2]); diff != "" {
		t.Errorf("symbol row mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Legend: ░ Low  ▒ Med  ▓ High  █ Max", lines[len(lines)-1]); diff != "" {
		t.Errorf("legend mismatch (-want +got):\n%s", diff)
	}
}

func TestMapTable(t *testing.T) {
	data := MapTable(0x40000000)
	if len(data) != len(models.All())+1 {
		t.Fatalf("table has %d rows", len(data))
	}
	for _, row := range data[1:] {
		if row[0] == "Rev Limiter" {
			if diff := cmp.Diff([]string{"Rev Limiter", "0x7000", "0x40007000", "1x1", "RPM"}, row[:5]); diff != "" {
				t.Errorf("row mismatch (-want +got):\n%s", diff)
			}
			return
		}
	}
	t.Error("Rev Limiter missing from table")
}
