// Package compare summarizes the differences between two calibration images
// per catalog map.
package compare

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/tosih/m21-livetune/pkg/models"
	"github.com/tosih/m21-livetune/pkg/monitor"
)

// MapDiff holds the cell statistics of one map, in engineering units.
type MapDiff struct {
	Map          models.CalMap
	ChangedCells int
	MinDelta     float64
	MaxDelta     float64
	AvgDelta     float64
}

// Report is the comparison of two images.
type Report struct {
	Words       []monitor.WordChange
	Maps        []MapDiff
	SizeChanged bool
	Unmapped    int
}

// Images compares a against b word by word and attributes every changed
// byte to its catalog cell.
func Images(a, b []byte) Report {
	r := Report{
		Words:       monitor.Diff(a, b),
		SizeChanged: len(a) != len(b),
	}
	byMap := map[string]*MapDiff{}
	var order []string
	for _, w := range r.Words {
		for i := uint32(0); i < monitor.WordSize; i++ {
			off := w.ByteOffset + i
			if a[off] == b[off] {
				continue
			}
			loc, ok := models.Locate(off)
			if !ok {
				r.Unmapped++
				continue
			}
			d := loc.Map.Physical(b[off]) - loc.Map.Physical(a[off])
			md, ok := byMap[loc.Map.Name]
			if !ok {
				md = &MapDiff{Map: loc.Map, MinDelta: d, MaxDelta: d}
				byMap[loc.Map.Name] = md
				order = append(order, loc.Map.Name)
			}
			md.ChangedCells++
			md.MinDelta = min(md.MinDelta, d)
			md.MaxDelta = max(md.MaxDelta, d)
			md.AvgDelta += d
		}
	}
	for _, name := range order {
		md := byMap[name]
		md.AvgDelta /= float64(md.ChangedCells)
		r.Maps = append(r.Maps, *md)
	}
	return r
}

// Table returns the per-map statistics as table rows.
func (r Report) Table() pterm.TableData {
	data := pterm.TableData{{"Map", "Changed", "Min Δ", "Max Δ", "Avg Δ", "Unit"}}
	for _, md := range r.Maps {
		data = append(data, []string{
			md.Map.Name,
			fmt.Sprintf("%d/%d", md.ChangedCells, md.Map.Size()),
			fmt.Sprintf("%+.2f", md.MinDelta),
			fmt.Sprintf("%+.2f", md.MaxDelta),
			fmt.Sprintf("%+.2f", md.AvgDelta),
			md.Map.Unit,
		})
	}
	return data
}

// Render prints the report.
func (r Report) Render(file1, file2 string) error {
	pterm.DefaultHeader.WithFullWidth().Println("Image Comparison")
	pterm.Info.Printf("%s -> %s: %d words differ\n", file1, file2, len(r.Words))
	if r.SizeChanged {
		pterm.Warning.Println("Images differ in size, only the common prefix was compared")
	}
	if len(r.Words) == 0 {
		pterm.Success.Println("Images are identical")
		return nil
	}
	if len(r.Maps) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithData(r.Table()).Render(); err != nil {
			return err
		}
	}
	if r.Unmapped > 0 {
		pterm.Warning.Printf("%d changed bytes lie outside known maps\n", r.Unmapped)
	}
	return nil
}
