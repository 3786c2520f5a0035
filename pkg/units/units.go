// Package units provides size multipliers, parsing of human-readable sizes,
// and normalization of byte counts into the size unit that sizes split grids.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Binary size multipliers.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Decimal size multipliers. The split threshold and the grid size unit both
// default to one GB.
const (
	KB = 1000
	MB = 1000 * KB
	GB = 1000 * MB
)

// ErrInvalidSize is returned for empty, malformed or zero sizes.
var ErrInvalidSize = errors.New("invalid size")

// ParseSize parses a positive human-readable size such as "1GB" or "512MiB".
func ParseSize(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSize)
	}

	size, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSize, err)
	}

	if size == 0 {
		return 0, fmt.Errorf("%w: %q is zero", ErrInvalidSize, raw)
	}

	return size, nil
}

// Normalize expresses size as a multiple of unit. A zero unit yields 0.
func Normalize(size int64, unit uint64) float64 {
	if unit == 0 {
		return 0
	}

	return float64(size) / float64(unit)
}

// Format renders a byte count for logs and summaries.
func Format(size int64) string {
	if size < 0 {
		return "-" + humanize.Bytes(uint64(-size))
	}

	return humanize.Bytes(uint64(size))
}
