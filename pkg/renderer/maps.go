// Package renderer draws dumps, maps and live-tuning events with pterm.
package renderer

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/models"
)

// Display modes for BuildMapString.
const (
	ModeValues  = "values"
	ModeHeatmap = "heatmap"
	ModeSymbols = "symbols"
)

// MapValues converts the cells of m in image to engineering units.
func MapValues(m models.CalMap, image []byte) ([][]float64, error) {
	if int(m.End()) > len(image) {
		return nil, fmt.Errorf("%s ends at 0x%04X past %d byte image", m.Name, m.End(), len(image))
	}
	data := make([][]float64, m.Rows)
	for i := range data {
		data[i] = make([]float64, m.Cols)
		for j := range data[i] {
			data[i][j] = m.Physical(image[int(m.Offset)+i*m.Cols+j])
		}
	}
	return data, nil
}

// RenderMap displays the cells of m read from image.
func RenderMap(m models.CalMap, image []byte, displayMode string) error {
	data, err := MapValues(m, image)
	if err != nil {
		return err
	}
	lo, hi := findMinMax(data)
	title := fmt.Sprintf("%s | Offset: 0x%04X | %dx%d | Range: %.2f-%.2f %s",
		m.Name, m.Offset, m.Rows, m.Cols, lo, hi, m.Unit)

	pterm.Info.Println(m.Description)
	pterm.DefaultBox.WithTitle(title).WithTitleTopLeft().Println(BuildMapString(data, displayMode, lo, hi))
	return nil
}

// BuildMapString formats map values by row with column indices.
func BuildMapString(data [][]float64, displayMode string, lo, hi float64) string {
	var result strings.Builder
	if len(data) == 0 {
		return ""
	}
	cols := len(data[0])

	width := 4
	if displayMode == ModeValues {
		width = 7
	}
	result.WriteString("   Col → |")
	for j := 0; j < cols; j++ {
		result.WriteString(fmt.Sprintf("%*d", width, j))
	}
	result.WriteString("\n")
	result.WriteString("   Row   |" + strings.Repeat("-", cols*width) + "\n")

	for i, row := range data {
		result.WriteString(fmt.Sprintf("   %3d ↓ |", i))
		for _, value := range row {
			switch displayMode {
			case ModeValues:
				result.WriteString(toneStyle(value, lo, hi).Sprintf("%7.2f", value))
			case ModeHeatmap:
				result.WriteString("  " + heatBlock(value, lo, hi))
			default:
				result.WriteString(strings.Repeat(toneSymbol(value, lo, hi), 4))
			}
		}
		result.WriteString("\n")
	}

	switch displayMode {
	case ModeHeatmap:
		result.WriteString("\n" + heatLegend())
	case ModeSymbols:
		result.WriteString("\n" + symbolLegend())
	}
	return strings.TrimRight(result.String(), "\n")
}

// heat are the heatmap bands, coolest first.
var heat = []struct {
	style *pterm.Style
	label string
}{
	{pterm.NewStyle(pterm.BgBlue, pterm.FgWhite), "Very Low"},
	{pterm.NewStyle(pterm.BgCyan, pterm.FgBlack), "Low"},
	{pterm.NewStyle(pterm.BgGreen, pterm.FgBlack), "Medium"},
	{pterm.NewStyle(pterm.BgYellow, pterm.FgBlack), "High"},
	{pterm.NewStyle(pterm.BgRed, pterm.FgWhite), "Very High"},
}

// tones colour values and symbols, coolest first.
var tones = []struct {
	color  pterm.Color
	symbol string
	label  string
}{
	{pterm.FgCyan, "░", "Low"},
	{pterm.FgGreen, "▒", "Med"},
	{pterm.FgYellow, "▓", "High"},
	{pterm.FgRed, "█", "Max"},
}

// band places value in one of n equal slices of [lo, hi]. A flat range
// yields -1.
func band(value, lo, hi float64, n int) int {
	if hi == lo {
		return -1
	}
	i := int((value - lo) / (hi - lo) * float64(n))
	return min(max(i, 0), n-1)
}

func heatBlock(value, lo, hi float64) string {
	i := band(value, lo, hi, len(heat))
	if i < 0 {
		return pterm.BgGray.Sprint("  ")
	}
	return heat[i].style.Sprint("▄▄")
}

func heatLegend() string {
	parts := make([]string, len(heat))
	for i, h := range heat {
		parts[i] = h.style.Sprint("▄▄") + " " + h.label
	}
	return "Heatmap: " + strings.Join(parts, "  ")
}

func symbolLegend() string {
	parts := make([]string, len(tones))
	for i, t := range tones {
		parts[i] = t.color.Sprint(t.symbol) + " " + t.label
	}
	return "Legend: " + strings.Join(parts, "  ")
}

func toneSymbol(value, lo, hi float64) string {
	i := band(value, lo, hi, len(tones))
	if i < 0 {
		return pterm.FgGray.Sprint("·")
	}
	return tones[i].color.Sprint(tones[i].symbol)
}

func toneStyle(value, lo, hi float64) *pterm.Style {
	i := band(value, lo, hi, len(tones))
	if i < 0 {
		return pterm.NewStyle(pterm.FgGray)
	}
	return pterm.NewStyle(tones[i].color)
}

func findMinMax(data [][]float64) (float64, float64) {
	lo, hi := data[0][0], data[0][0]
	for _, row := range data {
		for _, val := range row {
			lo = min(lo, val)
			hi = max(hi, val)
		}
	}
	return lo, hi
}

// MapTable returns the catalog as table rows, with RAM addresses for an
// image mirrored at base.
func MapTable(base uint32) pterm.TableData {
	data := pterm.TableData{
		{"Name", "Offset", "Device", "Size", "Unit", "Description"},
	}
	for _, m := range models.All() {
		data = append(data, []string{
			m.Name,
			fmt.Sprintf("0x%04X", m.Offset),
			fmt.Sprintf("0x%08X", m.Device(base)),
			fmt.Sprintf("%dx%d", m.Rows, m.Cols),
			m.Unit,
			m.Description,
		})
	}
	return data
}

// ListAvailableMaps displays the calibration catalog in a table.
func ListAvailableMaps(base uint32) error {
	pterm.DefaultHeader.WithFullWidth().Println("Calibration Maps")
	return pterm.DefaultTable.WithHasHeader().WithData(MapTable(base)).Render()
}
