package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/parquet-go"

	"github.com/raaihank/pdf-redactor/internal/patterns"
	"github.com/raaihank/pdf-redactor/internal/redactor"
)

func sampleSummary() Summary {
	return Summary{
		Source:      "in.pdf",
		Output:      "out.pdf",
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Statistics: redactor.Statistics{
			TotalMatches:     4,
			PagesProcessed:   3,
			PagesModified:    2,
			PatternsUsed:     3,
			MatchesByPattern: map[string]int{"zeta": 1, "secret": 3},
		},
		Patterns: []patterns.Info{
			{Pattern: "secret", Name: "Custom Pattern", Type: patterns.InfoTypeCustom},
			{Pattern: "unused", Name: "Custom Pattern", Type: patterns.InfoTypeCustom},
		},
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"stats.csv":     FormatCSV,
		"STATS.CSV":     FormatCSV,
		"run.parquet":   FormatParquet,
		"run.json":      FormatJSON,
		"no-extension":  FormatJSON,
		"weird.parq.gz": FormatJSON,
	}
	for path, want := range tests {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestRows(t *testing.T) {
	rows := Rows(sampleSummary())
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %+v", rows)
	}
	order := []string{"secret", "unused", "zeta"}
	counts := []int64{3, 0, 1}
	for i, r := range rows {
		if r.Pattern != order[i] || r.Matches != counts[i] {
			t.Errorf("Row %d = %s/%d, want %s/%d", i, r.Pattern, r.Matches, order[i], counts[i])
		}
		if r.TotalMatches != 4 || r.PagesProcessed != 3 || r.GeneratedAt != "2026-01-02T03:04:05Z" {
			t.Errorf("Row %d missing run totals: %+v", i, r)
		}
	}
}

func TestExport(t *testing.T) {
	dir := t.TempDir()

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "stats.json")
		if err := Export(path, sampleSummary()); err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		data, _ := os.ReadFile(path)
		var got Summary
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if got.Statistics.MatchesByPattern["secret"] != 3 || got.Source != "in.pdf" {
			t.Errorf("Unexpected summary: %+v", got)
		}
	})

	t.Run("CSV", func(t *testing.T) {
		path := filepath.Join(dir, "stats.csv")
		if err := Export(path, sampleSummary()); err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		file, _ := os.Open(path)
		defer file.Close()
		records, err := csv.NewReader(file).ReadAll()
		if err != nil {
			t.Fatalf("Invalid CSV: %v", err)
		}
		if len(records) != 4 || records[0][3] != "pattern" || records[1][3] != "secret" || records[1][6] != "3" {
			t.Errorf("Unexpected CSV: %v", records)
		}
	})

	t.Run("Parquet", func(t *testing.T) {
		path := filepath.Join(dir, "stats.parquet")
		if err := Export(path, sampleSummary()); err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		file, _ := os.Open(path)
		defer file.Close()

		reader := parquet.NewReader(file)
		defer reader.Close()

		var rows []Row
		for {
			var row Row
			err := reader.Read(&row)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Failed to read row: %v", err)
			}
			rows = append(rows, row)
		}
		if len(rows) != 3 || rows[2].Pattern != "zeta" || rows[0].Matches != 3 {
			t.Errorf("Unexpected rows: %+v", rows)
		}
	})

	t.Run("UnwritablePath", func(t *testing.T) {
		if err := Export(filepath.Join(dir, "missing", "stats.csv"), sampleSummary()); err == nil {
			t.Error("Expected error for missing directory")
		}
	})
}
