// Package models catalogs the calibration maps and scalar parameters of
// the Motronic M2.1 image, so that offsets touched by live tuning can be
// named.
package models

import (
	"fmt"
	"sort"
)

// CalMap describes a table in the calibration image. Cells are one byte,
// stored row-major from Offset.
type CalMap struct {
	Name        string
	Offset      uint32
	Rows        int
	Cols        int
	Scale       float64
	Bias        float64
	Unit        string
	Description string
}

// Size returns the number of bytes the map occupies.
func (m CalMap) Size() int {
	return m.Rows * m.Cols
}

// End returns the first offset past the map.
func (m CalMap) End() uint32 {
	return m.Offset + uint32(m.Size())
}

// Contains reports whether offset lies inside the map.
func (m CalMap) Contains(offset uint32) bool {
	return offset >= m.Offset && offset < m.End()
}

// Physical converts a raw cell value to engineering units.
func (m CalMap) Physical(raw byte) float64 {
	return float64(raw)*m.Scale + m.Bias
}

// Raw converts an engineering value back to a cell value, clamped to a byte.
func (m CalMap) Raw(value float64) byte {
	r := (value - m.Bias) / m.Scale
	switch {
	case r < 0:
		return 0
	case r > 255:
		return 255
	}
	return byte(r + 0.5)
}

// Device returns the RAM address of the map for an image mirrored at base.
func (m CalMap) Device(base uint32) uint32 {
	return base + m.Offset
}

// Location is a single cell of a map.
type Location struct {
	Map CalMap
	Row int
	Col int
}

// Offset returns the image offset of the cell.
func (l Location) Offset() uint32 {
	return l.Map.Offset + uint32(l.Row*l.Map.Cols+l.Col)
}

func (l Location) String() string {
	if l.Map.Size() == 1 {
		return l.Map.Name
	}
	return fmt.Sprintf("%s[%d,%d]", l.Map.Name, l.Row, l.Col)
}

// Maps are the confirmed and high-confidence tables of the M2.1 image.
var Maps = []CalMap{
	{Name: "Main Fuel Map", Offset: 0x6700, Rows: 8, Cols: 16, Scale: 0.04, Unit: "ms", Description: "Primary fuel injection duration map"},
	{Name: "Ignition Timing Map", Offset: 0x6780, Rows: 8, Cols: 16, Scale: 0.75, Bias: -24.0, Unit: "deg", Description: "Spark advance timing map"},
	{Name: "Lambda Target Map", Offset: 0x6800, Rows: 8, Cols: 16, Scale: 0.01, Bias: 0.5, Unit: "λ", Description: "Target air-fuel ratio map"},
	{Name: "Correction Table 1", Offset: 0x60C0, Rows: 8, Cols: 8, Scale: 0.01, Unit: "%", Description: "Limits/correction table"},
	{Name: "Fuel/Timing Trim 1", Offset: 0x6CC0, Rows: 8, Cols: 8, Scale: 0.01, Unit: "%", Description: "Fuel or timing trim table"},
	{Name: "Correction Table 2", Offset: 0x6D00, Rows: 8, Cols: 8, Scale: 0.01, Unit: "%", Description: "Correction table"},
	{Name: "Fuel/Timing Trim 2", Offset: 0x6EC0, Rows: 8, Cols: 16, Scale: 0.01, Unit: "%", Description: "Fuel or timing trim table"},
	{Name: "Correction Table 3", Offset: 0x6F80, Rows: 8, Cols: 8, Scale: 0.01, Unit: "%", Description: "Correction table"},
	{Name: "Trim Table 1", Offset: 0x7140, Rows: 8, Cols: 16, Scale: 0.01, Unit: "%", Description: "Trim table"},
	{Name: "Trim Table 2", Offset: 0x7200, Rows: 8, Cols: 16, Scale: 0.01, Unit: "%", Description: "Trim table"},
}

// All returns maps and parameters sorted by offset.
func All() []CalMap {
	all := make([]CalMap, 0, len(Maps)+len(Params))
	all = append(all, Maps...)
	all = append(all, Params...)
	sort.Slice(all, func(i, j int) bool { return all[i].Offset < all[j].Offset })
	return all
}

// Find returns the catalog entry with the given name.
func Find(name string) (CalMap, bool) {
	for _, m := range All() {
		if m.Name == name {
			return m, true
		}
	}
	return CalMap{}, false
}

// Locate returns the cell containing offset.
func Locate(offset uint32) (Location, bool) {
	for _, m := range All() {
		if !m.Contains(offset) {
			continue
		}
		i := int(offset - m.Offset)
		return Location{Map: m, Row: i / m.Cols, Col: i % m.Cols}, true
	}
	return Location{}, false
}

// LocateRange returns the cells covered by [offset, offset+n), in offset order.
func LocateRange(offset uint32, n int) []Location {
	var locs []Location
	for i := 0; i < n; i++ {
		if l, ok := Locate(offset + uint32(i)); ok {
			locs = append(locs, l)
		}
	}
	return locs
}
