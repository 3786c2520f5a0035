package cacheindex

import (
	"context"
	"errors"
	"sync"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

// ErrWriterClosed is returned by Append after Close.
var ErrWriterClosed = errors.New("index writer closed")

type appendRequest struct {
	fileID string
	box    geo.BoundingBox
	reply  chan error
}

// Writer owns one live document and serializes every append through a single
// goroutine. Each append rewrites the whole document atomically.
type Writer struct {
	store *Store
	path  string
	doc   *Document

	requests chan appendRequest
	quit     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
}

// NewWriter loads the document at path and starts the writer goroutine.
func (s *Store) NewWriter(path string) (*Writer, error) {
	doc, err := s.Load(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		store:    s,
		path:     path,
		doc:      doc,
		requests: make(chan appendRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

// Path returns the document being written.
func (w *Writer) Path() string { return w.path }

// Append inserts or overwrites fileID and returns once the document on disk
// includes it. If ctx ends while the write is queued the write may still
// land.
func (w *Writer) Append(ctx context.Context, fileID string, box geo.BoundingBox) error {
	req := appendRequest{fileID: fileID, box: box, reply: make(chan error, 1)}

	select {
	case w.requests <- req:
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer goroutine. It is safe to call more than once.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.quit)
	})

	<-w.done

	return nil
}

func (w *Writer) loop() {
	defer close(w.done)

	for {
		select {
		case req := <-w.requests:
			req.reply <- w.apply(req.fileID, req.box)
		case <-w.quit:
			return
		}
	}
}

// apply updates the in-memory document and persists it, rolling the memory
// state back when the write fails.
func (w *Writer) apply(fileID string, box geo.BoundingBox) error {
	prev, existed := w.doc.Get(fileID)

	w.doc.Set(fileID, box)

	err := w.store.save(w.path, w.doc)
	if err == nil {
		return nil
	}

	if existed {
		w.doc.Set(fileID, prev)
	} else {
		w.doc.remove(fileID)
	}

	return err
}
