package selector

import (
	"fmt"

	"github.com/dhconnelly/rtreego"

	"github.com/Sumatoshi-tech/geosplit/pkg/cacheindex"
	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

const (
	treeDim      = 2
	treeMinChild = 25
	treeMaxChild = 50

	// entryPad grows every stored rectangle so an entry always strictly
	// intersects any query it contains, including degenerate ones on its edge.
	entryPad = 1e-9

	// queryExtent is the minimum side of a query rectangle; rtreego rejects
	// zero-length sides.
	queryExtent = 1e-12
)

type indexed struct {
	pos  int
	rect *rtreego.Rect
}

func (i *indexed) Bounds() *rtreego.Rect { return i.rect }

// Index is an R-tree over a document's entries. Lookups return the same file
// as Select would.
type Index struct {
	tree    *rtreego.Rtree
	entries []cacheindex.Entry
}

// NewIndex builds an index over doc.
func NewIndex(doc *cacheindex.Document) (*Index, error) {
	entries := doc.Entries()
	tree := rtreego.NewTree(treeDim, treeMinChild, treeMaxChild)

	for pos, entry := range entries {
		rect, err := rtreego.NewRect(
			rtreego.Point{entry.Box.LonMin() - entryPad, entry.Box.LatMin() - entryPad},
			[]float64{entry.Box.Width() + 2*entryPad, entry.Box.Height() + 2*entryPad},
		)
		if err != nil {
			return nil, fmt.Errorf("index entry %q: %w", entry.FileID, err)
		}

		tree.Insert(&indexed{pos: pos, rect: rect})
	}

	return &Index{tree: tree, entries: entries}, nil
}

// Len returns the number of indexed entries.
func (x *Index) Len() int { return len(x.entries) }

// Lookup validates q and returns the first stored file containing it.
func (x *Index) Lookup(q Query) (string, bool, error) {
	box, err := q.Box()
	if err != nil {
		return "", false, err
	}

	fileID, ok := x.lookup(box)

	return fileID, ok, nil
}

func (x *Index) lookup(box geo.BoundingBox) (string, bool) {
	rect, err := rtreego.NewRect(
		rtreego.Point{box.LonMin(), box.LatMin()},
		[]float64{max(box.Width(), queryExtent), max(box.Height(), queryExtent)},
	)
	if err != nil {
		return "", false
	}

	best := -1

	for _, candidate := range x.tree.SearchIntersect(rect) {
		pos := candidate.(*indexed).pos

		if best >= 0 && pos > best {
			continue
		}

		if x.entries[pos].Box.Contains(box) {
			best = pos
		}
	}

	if best < 0 {
		return "", false
	}

	return x.entries[best].FileID, true
}
