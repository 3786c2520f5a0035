// Package selector picks the produced extract that covers a query rectangle.
//
// Entries are tried in the order they were stored in the index and the first
// one that contains the query on all four sides wins. Overlapping entries are
// therefore resolved by position, never by size.
package selector

import (
	"fmt"

	"github.com/Sumatoshi-tech/geosplit/pkg/cacheindex"
	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

// Query is a caller-supplied rectangle. It is validated, never clamped.
type Query struct {
	LonMin, LonMax float64
	LatMin, LatMax float64
}

// QueryOf converts a box into a query.
func QueryOf(box geo.BoundingBox) Query {
	return Query{LonMin: box.LonMin(), LonMax: box.LonMax(), LatMin: box.LatMin(), LatMax: box.LatMax()}
}

// Box validates the query.
func (q Query) Box() (geo.BoundingBox, error) {
	box, err := geo.NewBoundingBox(q.LonMin, q.LonMax, q.LatMin, q.LatMax)
	if err != nil {
		return geo.BoundingBox{}, fmt.Errorf("query: %w", err)
	}

	return box, nil
}

// Select scans doc in stored order and returns the first file whose box
// contains q.
func Select(q Query, doc *cacheindex.Document) (string, bool, error) {
	box, err := q.Box()
	if err != nil {
		return "", false, err
	}

	for _, entry := range doc.Entries() {
		if entry.Box.Contains(box) {
			return entry.FileID, true, nil
		}
	}

	return "", false, nil
}
