package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/geosplit/pkg/lifecycle"
)

// Summary output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

// runReport is the rendered result of one pass.
type runReport struct {
	RunID             string `json:"run_id" yaml:"run_id"`
	lifecycle.Summary `yaml:",inline"`
}

func validateFormat(format string) error {
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q (want text, json or yaml)", ErrUnknownFormat, format)
	}
}

func renderSummary(w io.Writer, format string, report runReport, noColor bool) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(report)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}

		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		err := enc.Encode(report)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}

		return enc.Close()
	case FormatText:
		return renderText(w, report, noColor)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func renderText(w io.Writer, report runReport, noColor bool) error {
	s := report.Summary

	status := color.New(color.FgGreen, color.Bold)
	headline := fmt.Sprintf("Pass complete: %d sources, %d tiles indexed", s.Sources, s.IndexEntries)

	if s.NoOp {
		status = color.New(color.FgYellow)
		headline = "Nothing pending: index and completed directory left untouched"
	}

	if noColor {
		status.DisableColor()
	}

	_, err := status.Fprintln(w, headline)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if s.NoOp {
		return nil
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false

	tbl.AppendRows([]table.Row{
		{"Run", report.RunID},
		{"Index", s.IndexPath},
		{"Archived", orNone(s.Archived)},
		{"Rounds", s.Rounds},
		{"Sources", fmt.Sprintf("%d (copied %d, split %d, empty %d)",
			s.Sources, s.CopiedSources, s.SplitSources, s.EmptySources)},
		{"Tiles", fmt.Sprintf("%d (final %d, oversized %d, empty %d)",
			s.Tiles.Total(), s.Tiles.Final, s.Tiles.Oversized, s.Tiles.Empty)},
		{"Index entries", s.IndexEntries},
		{"Purged buffer", s.PurgedBuffer},
		{"Duration", s.Duration.Round(time.Millisecond)},
	})

	_, err = fmt.Fprintln(w, tbl.Render())
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}

func orNone(paths []string) string {
	if len(paths) == 0 {
		return "-"
	}

	return strings.Join(paths, "\n")
}
