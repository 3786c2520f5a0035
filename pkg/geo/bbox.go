// Package geo provides the immutable longitude/latitude rectangle shared by
// the partitioner, the cache index and the tile selector.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

// ErrInvalidBoundingBox is returned when extents violate the global bounds or
// have min greater than max.
var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// Global coordinate bounds.
const (
	LonMinBound = -180.0
	LonMaxBound = 180.0
	LatMinBound = -90.0
	LatMaxBound = 90.0
)

// Approximate ground distance covered by one degree of latitude.
const metersPerDegreeLat = 111320.0

// minAroundDistance is the smallest radius accepted by Around, in meters.
const minAroundDistance = 1.0

// BoundingBox is a rectangle in WGS84 degrees. The zero value is the
// degenerate box at (0, 0). Values are immutable; every operation returns a
// new box.
type BoundingBox struct {
	bound orb.Bound
}

// NewBoundingBox validates the extents and returns the box. Out-of-range or
// inverted extents fail with ErrInvalidBoundingBox; nothing is clamped.
func NewBoundingBox(lonMin, lonMax, latMin, latMax float64) (BoundingBox, error) {
	err := validate(lonMin, lonMax, latMin, latMax)
	if err != nil {
		return BoundingBox{}, err
	}

	return newBox(lonMin, lonMax, latMin, latMax), nil
}

// MustBoundingBox is NewBoundingBox for literals known to be valid.
func MustBoundingBox(lonMin, lonMax, latMin, latMax float64) BoundingBox {
	box, err := NewBoundingBox(lonMin, lonMax, latMin, latMax)
	if err != nil {
		panic(err)
	}

	return box
}

// ClampedBoundingBox orders each min/max pair and clamps the result to the
// global bounds. Used for arithmetic results that may overshoot.
func ClampedBoundingBox(lonMin, lonMax, latMin, latMax float64) BoundingBox {
	if lonMin > lonMax {
		lonMin, lonMax = lonMax, lonMin
	}

	if latMin > latMax {
		latMin, latMax = latMax, latMin
	}

	return newBox(
		clamp(lonMin, LonMinBound, LonMaxBound),
		clamp(lonMax, LonMinBound, LonMaxBound),
		clamp(latMin, LatMinBound, LatMaxBound),
		clamp(latMax, LatMinBound, LatMaxBound),
	)
}

// Around returns the box extending distance meters from the point in every
// direction, clamped to the global bounds.
func Around(lat, lon, distance float64) (BoundingBox, error) {
	if lat < LatMinBound || lat > LatMaxBound {
		return BoundingBox{}, fmt.Errorf("%w: latitude %v outside [%v, %v]", ErrInvalidBoundingBox, lat, LatMinBound, LatMaxBound)
	}

	if lon < LonMinBound || lon > LonMaxBound {
		return BoundingBox{}, fmt.Errorf("%w: longitude %v outside [%v, %v]", ErrInvalidBoundingBox, lon, LonMinBound, LonMaxBound)
	}

	if distance < minAroundDistance {
		return BoundingBox{}, fmt.Errorf("%w: distance %v below %v", ErrInvalidBoundingBox, distance, minAroundDistance)
	}

	deltaLat := distance / metersPerDegreeLat

	// Longitude degrees shrink towards the poles; at the pole itself the
	// whole longitude range is within reach.
	deltaLon := LonMaxBound - LonMinBound

	metersPerDegreeLon := metersPerDegreeLat * math.Cos(lat*math.Pi/180)
	if metersPerDegreeLon > 0 {
		deltaLon = distance / metersPerDegreeLon
	}

	return ClampedBoundingBox(lon-deltaLon, lon+deltaLon, lat-deltaLat, lat+deltaLat), nil
}

func newBox(lonMin, lonMax, latMin, latMax float64) BoundingBox {
	return BoundingBox{bound: orb.Bound{
		Min: orb.Point{lonMin, latMin},
		Max: orb.Point{lonMax, latMax},
	}}
}

func validate(lonMin, lonMax, latMin, latMax float64) error {
	for _, v := range []float64{lonMin, lonMax, latMin, latMax} {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: NaN extent", ErrInvalidBoundingBox)
		}
	}

	if lonMin < LonMinBound || lonMax > LonMaxBound {
		return fmt.Errorf("%w: longitude [%v, %v] outside [%v, %v]",
			ErrInvalidBoundingBox, lonMin, lonMax, LonMinBound, LonMaxBound)
	}

	if latMin < LatMinBound || latMax > LatMaxBound {
		return fmt.Errorf("%w: latitude [%v, %v] outside [%v, %v]",
			ErrInvalidBoundingBox, latMin, latMax, LatMinBound, LatMaxBound)
	}

	if lonMin > lonMax {
		return fmt.Errorf("%w: lon min %v > lon max %v", ErrInvalidBoundingBox, lonMin, lonMax)
	}

	if latMin > latMax {
		return fmt.Errorf("%w: lat min %v > lat max %v", ErrInvalidBoundingBox, latMin, latMax)
	}

	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// LonMin returns the western extent.
func (b BoundingBox) LonMin() float64 { return b.bound.Min.Lon() }

// LonMax returns the eastern extent.
func (b BoundingBox) LonMax() float64 { return b.bound.Max.Lon() }

// LatMin returns the southern extent.
func (b BoundingBox) LatMin() float64 { return b.bound.Min.Lat() }

// LatMax returns the northern extent.
func (b BoundingBox) LatMax() float64 { return b.bound.Max.Lat() }

// Width returns the longitudinal span in degrees.
func (b BoundingBox) Width() float64 { return b.LonMax() - b.LonMin() }

// Height returns the latitudinal span in degrees.
func (b BoundingBox) Height() float64 { return b.LatMax() - b.LatMin() }

// Bound returns the box as an orb.Bound.
func (b BoundingBox) Bound() orb.Bound { return b.bound }

// Contains reports whether other lies inside b on all four sides. Edges are
// inclusive, so every box contains itself.
func (b BoundingBox) Contains(other BoundingBox) bool {
	return b.bound.Contains(other.bound.Min) && b.bound.Contains(other.bound.Max)
}

// Pad grows the box by margin degrees on every side and clamps the result.
func (b BoundingBox) Pad(margin float64) BoundingBox {
	padded := b.bound.Pad(margin)

	return ClampedBoundingBox(padded.Min.Lon(), padded.Max.Lon(), padded.Min.Lat(), padded.Max.Lat())
}

// Equal reports whether both boxes have identical extents.
func (b BoundingBox) Equal(other BoundingBox) bool {
	return b.bound.Equal(other.bound)
}

// String renders the box in the lonMin,latMin,lonMax,latMax order used on the
// cropping tool's command line.
func (b BoundingBox) String() string {
	return FormatCoord(b.LonMin()) + "," + FormatCoord(b.LatMin()) + "," +
		FormatCoord(b.LonMax()) + "," + FormatCoord(b.LatMax())
}

// FormatCoord renders a coordinate with the shortest exact representation.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
