package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Extent keys as emitted by osmconvert --out-statistics and stored in the
// cache index document.
const (
	KeyLonMin = "lon min"
	KeyLonMax = "lon max"
	KeyLatMin = "lat min"
	KeyLatMax = "lat max"
)

// ExtentKeys lists the four extent keys in document order.
var ExtentKeys = []string{KeyLonMin, KeyLonMax, KeyLatMin, KeyLatMax}

// ErrMissingExtent is returned when one of the four extent keys is absent.
var ErrMissingExtent = errors.New("missing extent")

// ParseExtents builds a box from string-encoded extents. Values may carry
// surrounding whitespace.
func ParseExtents(values map[string]string) (BoundingBox, error) {
	var parsed [4]float64

	for i, key := range ExtentKeys {
		raw, ok := values[key]
		if !ok {
			return BoundingBox{}, fmt.Errorf("%w: %q", ErrMissingExtent, key)
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("parse %q: %w", key, err)
		}

		parsed[i] = v
	}

	return NewBoundingBox(parsed[0], parsed[1], parsed[2], parsed[3])
}

// HasExtents reports whether any extent key is present.
func HasExtents(values map[string]string) bool {
	for _, key := range ExtentKeys {
		if _, ok := values[key]; ok {
			return true
		}
	}

	return false
}

// Extents encodes the box as string-valued extents.
func (b BoundingBox) Extents() map[string]string {
	return map[string]string{
		KeyLonMin: FormatCoord(b.LonMin()),
		KeyLonMax: FormatCoord(b.LonMax()),
		KeyLatMin: FormatCoord(b.LatMin()),
		KeyLatMax: FormatCoord(b.LatMax()),
	}
}
