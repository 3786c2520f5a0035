package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geosplit/pkg/lifecycle"
)

func TestRenderText(t *testing.T) {
	t.Parallel()

	report := runReport{
		RunID: "5d1e6c1a",
		Summary: lifecycle.Summary{
			IndexPath:     "/data/completed/cache_file_20250505080001.json",
			Archived:      []string{"/data/completed/archive/cache_file_20250401080001.json"},
			Rounds:        2,
			Sources:       3,
			CopiedSources: 1,
			SplitSources:  2,
			Tiles:         lifecycle.TileCounts{Final: 30, Oversized: 1, Empty: 5},
			IndexEntries:  31,
			Duration:      1500 * time.Millisecond,
		},
	}

	var buf bytes.Buffer

	require.NoError(t, renderSummary(&buf, FormatText, report, true))

	out := buf.String()
	assert.Contains(t, out, "Pass complete: 3 sources, 31 tiles indexed")
	assert.Contains(t, out, "5d1e6c1a")
	assert.Contains(t, out, "cache_file_20250505080001.json")
	assert.Contains(t, out, "36 (final 30, oversized 1, empty 5)")
	assert.Contains(t, out, "3 (copied 1, split 2, empty 0)")
	assert.Contains(t, out, "1.5s")
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderSummary_UnknownFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := renderSummary(&buf, "csv", runReport{}, true)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "geosplit ")
	assert.Contains(t, buf.String(), "commit:")
}
