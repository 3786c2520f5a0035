// Package osmtooltest provides an in-process stand-in for osmconvert.
//
// The fake models a planet as a set of weighted points. An extract file is a
// one-line header naming the region it covers, padded with one block of bytes
// per point inside that region, so file sizes and extents behave like real
// extracts without any binary geodata.
package osmtooltest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/osmtool"
)

const headerPrefix = "FAKEPBF "

// ErrNotFakeExtract is returned for files not written by the fake.
var ErrNotFakeExtract = errors.New("not a fake extract")

// Point is a feature with a payload size in bytes.
type Point struct {
	Lon, Lat float64
	Bytes    int
}

// Tool implements osmtool.Tool over a synthetic point set.
type Tool struct {
	Points []Point

	// CropErr, when set, is returned by every Crop call.
	CropErr error
	// StatsErr, when set, is returned by every Statistics call.
	StatsErr error

	mu      sync.Mutex
	cropped []geo.BoundingBox

	crops atomic.Int64
	stats atomic.Int64
}

var _ osmtool.Tool = (*Tool)(nil)

// New returns a fake over points.
func New(points ...Point) *Tool {
	return &Tool{Points: points}
}

// Uniform returns n×n points of the given weight spread evenly over box.
func Uniform(box geo.BoundingBox, n, weight int) []Point {
	points := make([]Point, 0, n*n)

	for i := range n {
		for j := range n {
			points = append(points, Point{
				Lon:   box.LonMin() + (float64(i)+0.5)*box.Width()/float64(n),
				Lat:   box.LatMin() + (float64(j)+0.5)*box.Height()/float64(n),
				Bytes: weight,
			})
		}
	}

	return points
}

// WriteExtract writes an extract of region to path and returns its size.
func (t *Tool) WriteExtract(path string, region geo.BoundingBox) (int64, error) {
	payload := 0

	for _, p := range t.inside(region) {
		payload += p.Bytes
	}

	var sb strings.Builder

	sb.WriteString(headerPrefix)
	sb.WriteString(region.String())
	sb.WriteByte('\n')
	sb.WriteString(strings.Repeat("x", payload))

	err := os.WriteFile(path, []byte(sb.String()), 0o644)
	if err != nil {
		return 0, fmt.Errorf("write fake extract: %w", err)
	}

	return int64(sb.Len()), nil
}

// Statistics implements osmtool.Tool.
func (t *Tool) Statistics(_ context.Context, path string) (osmtool.Statistics, error) {
	t.stats.Add(1)

	if t.StatsErr != nil {
		return nil, t.StatsErr
	}

	region, err := readRegion(path)
	if err != nil {
		return nil, err
	}

	var report strings.Builder

	inside := t.inside(region)
	if len(inside) > 0 {
		lonMin, lonMax := inside[0].Lon, inside[0].Lon
		latMin, latMax := inside[0].Lat, inside[0].Lat

		for _, p := range inside[1:] {
			lonMin, lonMax = min(lonMin, p.Lon), max(lonMax, p.Lon)
			latMin, latMax = min(latMin, p.Lat), max(latMax, p.Lat)
		}

		fmt.Fprintf(&report, "lon min: %s\nlon max: %s\nlat min: %s\nlat max: %s\n",
			geo.FormatCoord(lonMin), geo.FormatCoord(lonMax), geo.FormatCoord(latMin), geo.FormatCoord(latMax))
	}

	fmt.Fprintf(&report, "nodes: %d\nways: 0\nrelations: 0\n", len(inside))

	return osmtool.ParseStatistics(report.String()), nil
}

// Crop implements osmtool.Tool.
func (t *Tool) Crop(_ context.Context, input string, box geo.BoundingBox, output string) error {
	t.crops.Add(1)

	if t.CropErr != nil {
		return t.CropErr
	}

	region, err := readRegion(input)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.cropped = append(t.cropped, box)
	t.mu.Unlock()

	lonMin, lonMax := max(region.LonMin(), box.LonMin()), min(region.LonMax(), box.LonMax())
	latMin, latMax := max(region.LatMin(), box.LatMin()), min(region.LatMax(), box.LatMax())

	// Disjoint crops still produce a (data-less) file, as osmconvert does.
	if lonMin > lonMax || latMin > latMax {
		lonMin, lonMax, latMin, latMax = box.LonMin(), box.LonMin(), box.LatMin(), box.LatMin()
	}

	_, err = t.WriteExtract(output, geo.ClampedBoundingBox(lonMin, lonMax, latMin, latMax))

	return err
}

// CropCalls returns the number of Crop invocations.
func (t *Tool) CropCalls() int { return int(t.crops.Load()) }

// StatisticsCalls returns the number of Statistics invocations.
func (t *Tool) StatisticsCalls() int { return int(t.stats.Load()) }

// CroppedBoxes returns the boxes passed to Crop so far.
func (t *Tool) CroppedBoxes() []geo.BoundingBox {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]geo.BoundingBox(nil), t.cropped...)
}

func (t *Tool) inside(region geo.BoundingBox) []Point {
	var out []Point

	for _, p := range t.Points {
		if p.Lon >= region.LonMin() && p.Lon <= region.LonMax() &&
			p.Lat >= region.LatMin() && p.Lat <= region.LatMax() {
			out = append(out, p)
		}
	}

	return out
}

func readRegion(path string) (geo.BoundingBox, error) {
	file, err := os.Open(path)
	if err != nil {
		return geo.BoundingBox{}, fmt.Errorf("open fake extract: %w", err)
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, headerPrefix) {
		return geo.BoundingBox{}, fmt.Errorf("%w: %s", ErrNotFakeExtract, path)
	}

	parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, headerPrefix)), ",")
	if len(parts) != 4 {
		return geo.BoundingBox{}, fmt.Errorf("%w: %s", ErrNotFakeExtract, path)
	}

	var v [4]float64

	for i, part := range parts {
		v[i], err = strconv.ParseFloat(part, 64)
		if err != nil {
			return geo.BoundingBox{}, fmt.Errorf("%w: %s", ErrNotFakeExtract, path)
		}
	}

	// Header order is lonMin,latMin,lonMax,latMax.
	return geo.NewBoundingBox(v[0], v[2], v[1], v[3])
}
