// Package partition computes the N×N grid an oversized extract is cut into.
package partition

import (
	"math"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/units"
)

// Grid sizing defaults.
const (
	// DefaultMultiplier biases the grid toward more, smaller cells since
	// feature density is rarely uniform across a region.
	DefaultMultiplier = 2

	// DefaultOverlap is the margin in degrees added around every cell so that
	// features on a seam are not dropped by the cropping tool.
	DefaultOverlap = 0.00001

	// DefaultUnit is the size unit, in bytes, that grids are sized in.
	DefaultUnit = units.GB
)

// Planner turns a source extent and size into a grid.
type Planner struct {
	Multiplier int
	Overlap    float64
	// Unit is the number of bytes in one size unit. It is independent of the
	// split threshold, which only decides whether a file is split at all.
	Unit uint64
}

// NewPlanner returns a planner with default parameters.
func NewPlanner() Planner {
	return Planner{Multiplier: DefaultMultiplier, Overlap: DefaultOverlap, Unit: DefaultUnit}
}

// Grid is a splitSize × splitSize partition of Parent.
type Grid struct {
	Parent     geo.BoundingBox
	SplitSize  int
	CellWidth  float64
	CellHeight float64
	Overlap    float64
}

// Cell is one grid cell. Raw is the seam-exact rectangle; Box is Raw padded
// by the overlap margin and clamped to global bounds.
type Cell struct {
	X, Y int
	Raw  geo.BoundingBox
	Box  geo.BoundingBox
}

// SplitSize returns max(1, ceil(sqrt(sizeUnits)) * multiplier).
func SplitSize(sizeUnits float64, multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}

	if sizeUnits <= 0 || math.IsNaN(sizeUnits) {
		return 1
	}

	return max(1, int(math.Ceil(math.Sqrt(sizeUnits)))*multiplier)
}

// Plan sizes the grid for a file of sizeBytes covering box.
func (p Planner) Plan(box geo.BoundingBox, sizeBytes int64) Grid {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	unit := p.Unit
	if unit == 0 {
		unit = DefaultUnit
	}

	overlap := max(p.Overlap, 0)

	n := SplitSize(units.Normalize(sizeBytes, unit), multiplier)

	return Grid{
		Parent:     box,
		SplitSize:  n,
		CellWidth:  box.Width() / float64(n),
		CellHeight: box.Height() / float64(n),
		Overlap:    overlap,
	}
}

// Len returns the number of grid positions, SplitSize squared.
func (g Grid) Len() int {
	return g.SplitSize * g.SplitSize
}

// Cells enumerates the distinct cells, x-major. A parent with zero width or
// height yields coinciding cells along that axis; only the first is kept, so
// no two cells ever crop the same rectangle.
func (g Grid) Cells() []Cell {
	cells := make([]Cell, 0, g.Len())
	seen := make(map[geo.BoundingBox]struct{}, g.Len())

	for x := range g.SplitSize {
		for y := range g.SplitSize {
			cell := g.Cell(x, y)

			if _, dup := seen[cell.Raw]; dup {
				continue
			}

			seen[cell.Raw] = struct{}{}
			cells = append(cells, cell)
		}
	}

	return cells
}

// Cell returns the cell at (x, y).
func (g Grid) Cell(x, y int) Cell {
	lonMin, lonMax := g.seam(g.Parent.LonMin(), g.Parent.LonMax(), g.CellWidth, x)
	latMin, latMax := g.seam(g.Parent.LatMin(), g.Parent.LatMax(), g.CellHeight, y)

	raw := geo.ClampedBoundingBox(lonMin, lonMax, latMin, latMax)

	return Cell{X: x, Y: y, Raw: raw, Box: raw.Pad(g.Overlap)}
}

// seam returns the segment bounds for index i. Neighboring cells compute the
// shared seam with the same expression so it matches exactly, and the last
// segment ends on the parent's max regardless of rounding.
func (g Grid) seam(lo, hi, step float64, i int) (float64, float64) {
	start := lo + float64(i)*step
	if i == 0 {
		start = lo
	}

	end := lo + float64(i+1)*step
	if i == g.SplitSize-1 {
		end = hi
	}

	return start, end
}
