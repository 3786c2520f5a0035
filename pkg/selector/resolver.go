package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Sumatoshi-tech/geosplit/pkg/cacheindex"
	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

// Resolver answers resolveFile queries against the live index, substituting
// the full-dataset fallback when no produced file covers the query.
type Resolver struct {
	store    *cacheindex.Store
	fallback string
	logger   *slog.Logger

	mu    sync.Mutex
	path  string
	info  os.FileInfo
	index *Index
}

// NewResolver creates a resolver. A nil logger falls back to slog.Default.
func NewResolver(store *cacheindex.Store, fallback string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: store, fallback: fallback, logger: logger}
}

// Fallback returns the configured full-dataset path.
func (r *Resolver) Fallback() string { return r.fallback }

// ResolveFile returns the first indexed file containing q, or the fallback.
// A missing index resolves to the fallback; more than one live index is an
// error.
func (r *Resolver) ResolveFile(ctx context.Context, q Query) (string, error) {
	box, err := q.Box()
	if err != nil {
		return "", err
	}

	return r.resolve(ctx, box)
}

// ResolvePoint resolves the box spanning distance meters around a point.
func (r *Resolver) ResolvePoint(ctx context.Context, lat, lon, distance float64) (string, error) {
	box, err := geo.Around(lat, lon, distance)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}

	return r.resolve(ctx, box)
}

func (r *Resolver) resolve(ctx context.Context, box geo.BoundingBox) (string, error) {
	index, err := r.currentIndex()
	if errors.Is(err, cacheindex.ErrIndexNotFound) {
		r.logger.WarnContext(ctx, "no index document, using fallback", "fallback", r.fallback)

		return r.fallback, nil
	}

	if err != nil {
		return "", err
	}

	fileID, ok := index.lookup(box)
	if !ok {
		r.logger.DebugContext(ctx, "no covering file, using fallback", "query", box.String(), "fallback", r.fallback)

		return r.fallback, nil
	}

	return fileID, nil
}

// currentIndex returns the index for the live document, rebuilding it when
// the document was replaced or modified since the last call. Index writes
// rename a new file into place, so a replaced document is never the same
// file even when its mtime and size are unchanged.
func (r *Resolver) currentIndex() (*Index, error) {
	path, err := r.store.Live()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat index: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index != nil && r.path == path && sameVersion(r.info, info) {
		return r.index, nil
	}

	doc, err := r.store.Load(path)
	if err != nil {
		return nil, err
	}

	index, err := NewIndex(doc)
	if err != nil {
		return nil, err
	}

	r.path, r.info, r.index = path, info, index

	return index, nil
}

func sameVersion(cached, current os.FileInfo) bool {
	return os.SameFile(cached, current) &&
		cached.ModTime().Equal(current.ModTime()) &&
		cached.Size() == current.Size()
}
