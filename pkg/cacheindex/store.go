// Package cacheindex persists the mapping from produced extracts to the
// rectangles they cover.
//
// Exactly one live document exists per processing pass. It is created empty
// when a pass starts, grows one entry at a time while tiles complete, and is
// moved to the archive directory when the next pass starts.
package cacheindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/geosplit/pkg/cacheindex/schema"
	"github.com/Sumatoshi-tech/geosplit/pkg/geo"
	"github.com/Sumatoshi-tech/geosplit/pkg/persist"
)

// Sentinel errors for index operations.
var (
	ErrAmbiguousIndexState = errors.New("ambiguous index state")
	ErrIndexNotFound       = errors.New("index not found")
	ErrInvalidDocument     = errors.New("invalid index document")
)

const (
	// DefaultPrefix is the file-name prefix of index documents.
	DefaultPrefix = "cache_file"

	// StampLayout formats the pass start time in document names.
	StampLayout = "20060102150405"

	// ArchiveDirName is the default archive directory inside the index
	// directory.
	ArchiveDirName = "archive"

	docExt  = ".json"
	dirPerm = 0o755
)

// Options configures a Store.
type Options struct {
	// Dir holds the live document.
	Dir string

	// ArchiveDir receives superseded documents. Defaults to Dir/archive.
	ArchiveDir string

	// Prefix names documents <Prefix>_<stamp>.json. Defaults to cache_file.
	Prefix string

	// CompressArchive writes archives as LZ4-framed JSON.
	CompressArchive bool

	Logger *slog.Logger
}

// Store manages index documents on disk.
type Store struct {
	dir        string
	archiveDir string
	prefix     string
	compress   bool
	logger     *slog.Logger
	jsonCodec  persist.Codec
	lz4Codec   persist.Codec

	// appendMu serializes Append calls on this store.
	appendMu sync.Mutex
}

// NewStore creates a store. It does not touch the file system.
func NewStore(opts Options) *Store {
	archiveDir := opts.ArchiveDir
	if archiveDir == "" {
		archiveDir = filepath.Join(opts.Dir, ArchiveDirName)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jsonCodec := persist.NewJSONCodec()

	return &Store{
		dir:        opts.Dir,
		archiveDir: archiveDir,
		prefix:     prefix,
		compress:   opts.CompressArchive,
		logger:     logger,
		jsonCodec:  jsonCodec,
		lz4Codec:   persist.NewLZ4Codec(jsonCodec),
	}
}

// Dir returns the directory holding the live document.
func (s *Store) Dir() string { return s.dir }

// ArchiveDir returns the archive directory.
func (s *Store) ArchiveDir() string { return s.archiveDir }

// Name returns the document name for a pass started at now.
func (s *Store) Name(now time.Time) string {
	return s.prefix + "_" + now.UTC().Format(StampLayout) + docExt
}

// Live returns the path of the single live document.
func (s *Store) Live() (string, error) {
	docs, err := s.liveDocuments()
	if err != nil {
		return "", err
	}

	switch len(docs) {
	case 0:
		return "", fmt.Errorf("%w in %s", ErrIndexNotFound, s.dir)
	case 1:
		return docs[0], nil
	default:
		return "", fmt.Errorf("%w: %d live documents in %s", ErrAmbiguousIndexState, len(docs), s.dir)
	}
}

// ArchiveExisting moves the live document, if any, into the archive
// directory and returns the archived paths. Nothing is moved when more than
// one live document exists.
func (s *Store) ArchiveExisting() ([]string, error) {
	docs, err := s.liveDocuments()
	if err != nil {
		return nil, err
	}

	if len(docs) > 1 {
		return nil, fmt.Errorf("%w: %d live documents in %s", ErrAmbiguousIndexState, len(docs), s.dir)
	}

	if len(docs) == 0 {
		return nil, nil
	}

	mkErr := os.MkdirAll(s.archiveDir, dirPerm)
	if mkErr != nil {
		return nil, fmt.Errorf("create archive dir: %w", mkErr)
	}

	archived, err := s.archive(docs[0])
	if err != nil {
		return nil, err
	}

	s.logger.Info("archived index document", "from", docs[0], "to", archived)

	return []string{archived}, nil
}

func (s *Store) archive(doc string) (string, error) {
	base := filepath.Base(doc)

	if !s.compress {
		target := filepath.Join(s.archiveDir, base)

		renameErr := os.Rename(doc, target)
		if renameErr != nil {
			return "", fmt.Errorf("archive %s: %w", doc, renameErr)
		}

		return target, nil
	}

	target := filepath.Join(s.archiveDir, strings.TrimSuffix(base, docExt)+s.lz4Codec.Extension())

	var raw json.RawMessage

	readErr := persist.ReadFile(doc, s.jsonCodec, &raw)
	if readErr != nil {
		return "", fmt.Errorf("archive %s: %w", doc, readErr)
	}

	writeErr := persist.WriteFile(target, s.lz4Codec, raw)
	if writeErr != nil {
		return "", fmt.Errorf("archive %s: %w", doc, writeErr)
	}

	removeErr := os.Remove(doc)
	if removeErr != nil {
		return "", fmt.Errorf("archive %s: %w", doc, removeErr)
	}

	return target, nil
}

// CreateFresh writes an empty document stamped with now.
func (s *Store) CreateFresh(now time.Time) (string, error) {
	mkErr := os.MkdirAll(s.dir, dirPerm)
	if mkErr != nil {
		return "", fmt.Errorf("create index dir: %w", mkErr)
	}

	path := filepath.Join(s.dir, s.Name(now))

	_, statErr := os.Stat(path)
	if statErr == nil {
		return "", fmt.Errorf("create index %s: %w", path, fs.ErrExist)
	}

	writeErr := persist.WriteFile(path, s.jsonCodec, NewDocument())
	if writeErr != nil {
		return "", fmt.Errorf("create index %s: %w", path, writeErr)
	}

	s.logger.Info("created index document", "path", path)

	return path, nil
}

// Load reads and validates a document. LZ4 archives are read transparently.
func (s *Store) Load(path string) (*Document, error) {
	codec := s.jsonCodec
	if strings.HasSuffix(path, s.lz4Codec.Extension()) {
		codec = s.lz4Codec
	}

	var raw json.RawMessage

	readErr := persist.ReadFile(path, codec, &raw)
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, readErr)
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, path, readErr)
	}

	validateErr := Validate(raw)
	if validateErr != nil {
		return nil, fmt.Errorf("%s: %w", path, validateErr)
	}

	doc := NewDocument()

	unmarshalErr := json.Unmarshal(raw, doc)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%s: %w", path, unmarshalErr)
	}

	return doc, nil
}

// Append adds or overwrites one entry with a full read-modify-write of the
// document. Calls on the same Store are serialized. Appends from other
// stores or processes, or from a Writer on the same document, are not.
func (s *Store) Append(path, fileID string, box geo.BoundingBox) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	doc, err := s.Load(path)
	if err != nil {
		return err
	}

	doc.Set(fileID, box)

	return s.save(path, doc)
}

func (s *Store) save(path string, doc *Document) error {
	writeErr := persist.WriteFile(path, s.jsonCodec, doc)
	if writeErr != nil {
		return fmt.Errorf("write index %s: %w", path, writeErr)
	}

	return nil
}

func (s *Store) liveDocuments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list index dir: %w", err)
	}

	var docs []string

	for _, entry := range entries {
		if entry.IsDir() || !s.isDocumentName(entry.Name()) {
			continue
		}

		docs = append(docs, filepath.Join(s.dir, entry.Name()))
	}

	slices.Sort(docs)

	return docs, nil
}

func (s *Store) isDocumentName(name string) bool {
	stamp, ok := strings.CutPrefix(name, s.prefix+"_")
	if !ok {
		return false
	}

	stamp, ok = strings.CutSuffix(stamp, docExt)
	if !ok {
		return false
	}

	_, err := time.Parse(StampLayout, stamp)

	return err == nil
}

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	schemaBytes, err := schema.FS.ReadFile(schema.IndexFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}

	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
})

// Validate checks a serialized document against the embedded schema.
func Validate(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile index schema: %w", err)
	}

	result, err := sch.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		msgs = append(msgs, verr.Field()+": "+verr.Description())
	}

	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
}
