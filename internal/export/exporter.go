// Package export serializes analysis reports for downstream consumers. All
// exporters are pure transformations: they never mutate the report and
// write no partial output on failure.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"tokenlens/internal/analysis"
)

// Format names a supported export encoding.
type Format string

const (
	// FormatJSON is the structured-record format: nested per-category and
	// per-term detail.
	FormatJSON Format = "json"
	// FormatCSV is the tabular format: one flat row per term.
	FormatCSV Format = "csv"
	// FormatTable renders a human-readable text table.
	FormatTable Format = "table"
)

// ErrUnsupportedFormat reports an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Formats lists the supported format names.
func Formats() []string {
	return []string{string(FormatJSON), string(FormatCSV), string(FormatTable)}
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnsupportedFormat, s, strings.Join(Formats(), ", "))
	}
}

// Export serializes the report in the requested format.
func Export(report *analysis.Report, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(report)
	case FormatCSV:
		return exportCSV(report)
	case FormatTable:
		return exportTable(report)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func exportJSON(report *analysis.Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// exportCSV emits the declared tabular columns:
// category, term, present, occurrence_count, matched_forms.
func exportCSV(report *analysis.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"category", "term", "present", "occurrence_count", "matched_forms"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, tr := range report.Terms {
		row := []string{
			tr.Category,
			tr.Term,
			strconv.FormatBool(tr.Present),
			strconv.Itoa(tr.OccurrenceCount),
			strings.Join(tr.MatchedForms, "|"),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func exportTable(report *analysis.Report) ([]byte, error) {
	var buf bytes.Buffer

	summary := table.NewWriter()
	summary.SetOutputMirror(&buf)
	summary.SetTitle("Category summary (%s)", report.ModelName)
	summary.AppendHeader(table.Row{"Category", "Present", "Missing", "Total"})
	for _, name := range sortedCategoryNames(report) {
		cs := report.Categories[name]
		summary.AppendRow(table.Row{name, cs.PresentCount, cs.MissingCount, cs.TotalTerms})
	}
	summary.Render()

	buf.WriteByte('\n')

	detail := table.NewWriter()
	detail.SetOutputMirror(&buf)
	detail.AppendHeader(table.Row{"Category", "Term", "Present", "Count", "Matched forms"})
	for _, tr := range report.Terms {
		detail.AppendRow(table.Row{
			tr.Category, tr.Term, tr.Present, tr.OccurrenceCount,
			strings.Join(tr.MatchedForms, ", "),
		})
	}
	detail.Render()

	return buf.Bytes(), nil
}

func sortedCategoryNames(report *analysis.Report) []string {
	names := make([]string, 0, len(report.Categories))
	for name := range report.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
