package cacheindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
)

// Entry maps a produced file to the rectangle it covers.
type Entry struct {
	FileID string
	Box    geo.BoundingBox
}

// Document is the in-memory index. Entries keep the order in which their keys
// were first stored; overwriting a key keeps its position.
type Document struct {
	keys  []string
	boxes map[string]geo.BoundingBox
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{boxes: make(map[string]geo.BoundingBox)}
}

// Set inserts or overwrites fileID.
func (d *Document) Set(fileID string, box geo.BoundingBox) {
	if d.boxes == nil {
		d.boxes = make(map[string]geo.BoundingBox)
	}

	if _, exists := d.boxes[fileID]; !exists {
		d.keys = append(d.keys, fileID)
	}

	d.boxes[fileID] = box
}

func (d *Document) remove(fileID string) {
	if _, exists := d.boxes[fileID]; !exists {
		return
	}

	delete(d.boxes, fileID)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == fileID })
}

// Get returns the box stored for fileID.
func (d *Document) Get(fileID string) (geo.BoundingBox, bool) {
	box, ok := d.boxes[fileID]

	return box, ok
}

// Len returns the number of entries.
func (d *Document) Len() int { return len(d.keys) }

// Entries returns every entry in stored order.
func (d *Document) Entries() []Entry {
	entries := make([]Entry, len(d.keys))

	for i, key := range d.keys {
		entries[i] = Entry{FileID: key, Box: d.boxes[key]}
	}

	return entries
}

// extentsJSON fixes the key order of a serialized entry.
type extentsJSON struct {
	LonMin string `json:"lon min"`
	LonMax string `json:"lon max"`
	LatMin string `json:"lat min"`
	LatMax string `json:"lat max"`
}

// MarshalJSON writes entries in stored order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", key, err)
		}

		box := d.boxes[key]

		valueJSON, err := json.Marshal(extentsJSON{
			LonMin: geo.FormatCoord(box.LonMin()),
			LonMax: geo.FormatCoord(box.LonMax()),
			LatMin: geo.FormatCoord(box.LatMin()),
			LatMax: geo.FormatCoord(box.LatMax()),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal entry %q: %w", key, err)
		}

		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valueJSON)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a document keeping key order. A repeated key keeps the
// position of its first occurrence and the value of its last.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: expected object, got %v", ErrInvalidDocument, tok)
	}

	*d = *NewDocument()

	for dec.More() {
		keyTok, tokErr := dec.Token()
		if tokErr != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDocument, tokErr)
		}

		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected token %v", ErrInvalidDocument, keyTok)
		}

		var extents map[string]string

		decodeErr := dec.Decode(&extents)
		if decodeErr != nil {
			return fmt.Errorf("%w: entry %q: %w", ErrInvalidDocument, key, decodeErr)
		}

		box, parseErr := geo.ParseExtents(extents)
		if parseErr != nil {
			return fmt.Errorf("%w: entry %q: %w", ErrInvalidDocument, key, parseErr)
		}

		d.Set(key, box)
	}

	_, err = dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return nil
}
