package renderer

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/livetune"
	"github.com/tosih/m21-livetune/pkg/models"
	"github.com/tosih/m21-livetune/pkg/rma"
)

// BytesPerRow is the width of a hex dump row.
const BytesPerRow = 16

// RenderDump prints a read result as a hex dump inside a box.
func RenderDump(res rma.ReadResult) {
	title := fmt.Sprintf("0x%08X | %d bytes", res.Address, len(res.Data))
	if res.Partial() {
		title += fmt.Sprintf(" of %d (partial)", res.Requested)
	}
	pterm.DefaultBox.WithTitle(title).WithTitleTopLeft().Println(BuildDumpString(res.Address, res.Data, res.Requested))
}

// BuildDumpString formats data read from addr, 16 bytes per row. Zero bytes
// are greyed and bytes that were requested but never arrived print as "--".
func BuildDumpString(addr uint32, data []byte, requested int) string {
	var result strings.Builder
	total := max(len(data), requested)

	result.WriteString("  Address  |")
	for j := 0; j < BytesPerRow; j++ {
		result.WriteString(fmt.Sprintf(" %X ", j))
	}
	result.WriteString("| ASCII\n")
	result.WriteString("-----------+" + strings.Repeat("-", BytesPerRow*3) + "+" + strings.Repeat("-", BytesPerRow+1) + "\n")

	for row := 0; row < total; row += BytesPerRow {
		result.WriteString(fmt.Sprintf(" 0x%08X|", addr+uint32(row)))
		var ascii strings.Builder
		for j := row; j < row+BytesPerRow; j++ {
			switch {
			case j < len(data):
				b := data[j]
				if b == 0 {
					result.WriteString(pterm.FgGray.Sprintf(" %02X", b))
				} else {
					result.WriteString(toneStyle(float64(b), 0, 255).Sprintf(" %02X", b))
				}
				ascii.WriteByte(printable(b))
			case j < total:
				result.WriteString(pterm.FgRed.Sprint(" --"))
				ascii.WriteByte(' ')
			default:
				result.WriteString("   ")
			}
		}
		result.WriteString(" | " + ascii.String() + "\n")
	}
	if len(data) < requested {
		result.WriteString(pterm.FgRed.Sprintf("\n%d of %d bytes missing", requested-len(data), requested))
	}
	return strings.TrimRight(result.String(), "\n")
}

func printable(b byte) byte {
	if b < 0x20 || b > 0x7E {
		return '.'
	}
	return b
}

// ChangeHeader is the header row for ChangeRow tables.
var ChangeHeader = []string{"Time", "Device", "Offset", "Old", "New", "Cells"}

// ChangeRow formats a forwarded write, naming the calibration cells the
// word covers.
func ChangeRow(w livetune.WriteCompleted) []string {
	return []string{
		w.Time.Format("15:04:05.000"),
		fmt.Sprintf("0x%08X", w.DeviceAddress),
		fmt.Sprintf("+0x%04X", w.FileOffset),
		fmt.Sprintf("0x%08X", w.OldValue),
		fmt.Sprintf("0x%08X", w.NewValue),
		Cells(w.FileOffset, 4),
	}
}

// Cells describes the catalog cells in [offset, offset+n).
func Cells(offset uint32, n int) string {
	locs := models.LocateRange(offset, n)
	if len(locs) == 0 {
		return "-"
	}
	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.String()
	}
	return strings.Join(names, ", ")
}

// RenderChange prints a single forwarded write.
func RenderChange(w livetune.WriteCompleted) {
	r := ChangeRow(w)
	pterm.Success.Printf("%s %s %s -> %s  %s\n", r[1], r[2], r[3], r[4], r[5])
}
