package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testState is a struct for round-trip codec testing.
type testState struct {
	Name   string         `json:"name"`
	Count  int            `json:"count"`
	Values map[string]int `json:"values"`
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	original := testState{
		Name:   "test",
		Count:  42,
		Values: map[string]int{"a": 1, "b": 2},
	}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, original))

	var decoded testState

	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original, decoded)
}

func TestJSONCodec_Extension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".json", NewJSONCodec().Extension())
}

func TestJSONCodec_CompactNoIndent(t *testing.T) {
	t.Parallel()

	codec := &JSONCodec{Indent: ""}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, testState{Name: "compact", Count: 1}))

	// Compact JSON has at most one trailing newline (from json.Encoder).
	assert.LessOrEqual(t, strings.Count(buf.String(), "\n"), 1)
}

func TestJSONCodec_PrettyPrint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, NewJSONCodec().Encode(&buf, testState{Name: "pretty", Count: 1}))

	assert.Contains(t, buf.String(), defaultIndent)
}

func TestJSONCodec_DecodeError(t *testing.T) {
	t.Parallel()

	var decoded testState

	err := NewJSONCodec().Decode(strings.NewReader("not valid json{{{"), &decoded)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "json decode")
}

func TestJSONCodec_EncodeError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	// Channels cannot be JSON-encoded.
	err := NewJSONCodec().Encode(&buf, make(chan int))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "json encode")
}

func TestLZ4Codec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewLZ4Codec(NewJSONCodec())

	original := testState{
		Name:   strings.Repeat("tile", 256),
		Count:  123,
		Values: map[string]int{"x": 10, "y": 20},
	}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, original))
	assert.Less(t, buf.Len(), len(original.Name))

	var decoded testState

	require.NoError(t, codec.Decode(&buf, &decoded))
	assert.Equal(t, original, decoded)
}

func TestLZ4Codec_Extension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".json.lz4", NewLZ4Codec(NewJSONCodec()).Extension())
}

func TestLZ4Codec_DecodeError(t *testing.T) {
	t.Parallel()

	var decoded testState

	err := NewLZ4Codec(NewJSONCodec()).Decode(strings.NewReader("not an lz4 frame"), &decoded)

	require.Error(t, err)
}

func TestWriteFile_ReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	codec := NewJSONCodec()

	require.NoError(t, WriteFile(path, codec, testState{Name: "first"}))
	require.NoError(t, WriteFile(path, codec, testState{Name: "second"}))

	var loaded testState

	require.NoError(t, ReadFile(path, codec, &loaded))
	assert.Equal(t, "second", loaded.Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteFile_EncodeErrorLeavesNoFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	err := WriteFile(path, NewJSONCodec(), make(chan int))
	require.Error(t, err)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestReadFile_Missing(t *testing.T) {
	t.Parallel()

	var loaded testState

	err := ReadFile(filepath.Join(t.TempDir(), "missing.json"), NewJSONCodec(), &loaded)

	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFile_InvalidDir(t *testing.T) {
	t.Parallel()

	err := WriteFile("/nonexistent/path/doc.json", NewJSONCodec(), testState{Name: "x"})

	require.Error(t, err)
}
