package osmtool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

// ErrMalformedStatistics is returned when extent keys are present in a
// statistics report but cannot be decoded into a valid bounding box.
var ErrMalformedStatistics = errors.New("malformed statistics")

// Statistics is the key/value report printed by osmconvert --out-statistics.
type Statistics map[string]string

// ParseStatistics splits each line of report on its first colon. Keys and
// values are trimmed. Blank lines and lines without a colon are skipped;
// unknown keys are kept as-is.
func ParseStatistics(report string) Statistics {
	stats := make(Statistics)

	for line := range strings.Lines(report) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		stats[key] = strings.TrimSpace(value)
	}

	return stats
}

// BoundingBox decodes the extents. The second return value is false when the
// report has no extent keys at all, which is what osmconvert prints for a
// file without data (e.g. a crop that only covers ocean).
func (s Statistics) BoundingBox() (geo.BoundingBox, bool, error) {
	if !geo.HasExtents(s) {
		return geo.BoundingBox{}, false, nil
	}

	box, err := geo.ParseExtents(s)
	if err != nil {
		return geo.BoundingBox{}, false, fmt.Errorf("%w: %w", ErrMalformedStatistics, err)
	}

	return box, true, nil
}
