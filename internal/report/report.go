// Package report exports run statistics as JSON, CSV or Parquet.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/parquet-go"

	"github.com/raaihank/pdf-redactor/internal/patterns"
	"github.com/raaihank/pdf-redactor/internal/redactor"
)

// Format of an exported report
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// DetectFormat detects the report format from the file extension
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	default:
		return FormatJSON
	}
}

// Summary describes one run for export
type Summary struct {
	Source      string              `json:"source"`
	Output      string              `json:"output"`
	GeneratedAt time.Time           `json:"generated_at"`
	Statistics  redactor.Statistics `json:"statistics"`
	// Patterns, when set, adds rows for patterns that found nothing.
	Patterns []patterns.Info `json:"patterns,omitempty"`
}

// Row is one pattern of a run, flattened with the run totals
type Row struct {
	Source         string `csv:"source" parquet:"source" json:"source"`
	Output         string `csv:"output" parquet:"output" json:"output"`
	GeneratedAt    string `csv:"generated_at" parquet:"generated_at" json:"generated_at"`
	Pattern        string `csv:"pattern" parquet:"pattern" json:"pattern"`
	Name           string `csv:"name" parquet:"name" json:"name"`
	Type           string `csv:"type" parquet:"type" json:"type"`
	Matches        int64  `csv:"matches" parquet:"matches" json:"matches"`
	TotalMatches   int64  `csv:"total_matches" parquet:"total_matches" json:"total_matches"`
	PagesProcessed int64  `csv:"pages_processed" parquet:"pages_processed" json:"pages_processed"`
	PagesModified  int64  `csv:"pages_modified" parquet:"pages_modified" json:"pages_modified"`
	PatternsUsed   int64  `csv:"patterns_used" parquet:"patterns_used" json:"patterns_used"`
}

var csvHeader = []string{
	"source", "output", "generated_at", "pattern", "name", "type",
	"matches", "total_matches", "pages_processed", "pages_modified", "patterns_used",
}

// Rows flattens s into one row per pattern. Described patterns come first in
// their given order, then any remaining counted patterns sorted by text.
func Rows(s Summary) []Row {
	stats := s.Statistics
	base := Row{
		Source:         s.Source,
		Output:         s.Output,
		GeneratedAt:    s.GeneratedAt.UTC().Format(time.RFC3339),
		TotalMatches:   int64(stats.TotalMatches),
		PagesProcessed: int64(stats.PagesProcessed),
		PagesModified:  int64(stats.PagesModified),
		PatternsUsed:   int64(stats.PatternsUsed),
	}

	var rows []Row
	seen := make(map[string]bool)
	for _, info := range s.Patterns {
		if seen[info.Pattern] {
			continue
		}
		seen[info.Pattern] = true
		row := base
		row.Pattern, row.Name, row.Type = info.Pattern, info.Name, info.Type
		row.Matches = int64(stats.MatchesByPattern[info.Pattern])
		rows = append(rows, row)
	}

	var rest []string
	for pattern := range stats.MatchesByPattern {
		if !seen[pattern] {
			rest = append(rest, pattern)
		}
	}
	sort.Strings(rest)
	for _, pattern := range rest {
		row := base
		row.Pattern = pattern
		row.Matches = int64(stats.MatchesByPattern[pattern])
		rows = append(rows, row)
	}
	return rows
}

// Export writes s to path in the format implied by its extension
func Export(path string, s Summary) error {
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = time.Now()
	}

	var err error
	switch DetectFormat(path) {
	case FormatCSV:
		err = writeCSV(path, Rows(s))
	case FormatParquet:
		err = writeParquet(path, Rows(s))
	default:
		err = writeJSON(path, s)
	}
	if err != nil {
		return fmt.Errorf("failed to export statistics to %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Source, r.Output, r.GeneratedAt, r.Pattern, r.Name, r.Type,
			strconv.FormatInt(r.Matches, 10),
			strconv.FormatInt(r.TotalMatches, 10),
			strconv.FormatInt(r.PagesProcessed, 10),
			strconv.FormatInt(r.PagesModified, 10),
			strconv.FormatInt(r.PatternsUsed, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := parquet.NewGenericWriter[Row](file)
	if _, err := w.Write(rows); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return file.Close()
}
