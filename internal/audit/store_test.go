package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/config"
	"github.com/raaihank/pdf-redactor/internal/redactor"
)

func TestNewRun(t *testing.T) {
	stats := redactor.Statistics{TotalMatches: 2, PagesProcessed: 1, PagesModified: 1, PatternsUsed: 1, MatchesByPattern: map[string]int{"x": 2}}

	t.Run("Completed", func(t *testing.T) {
		run := NewRun("req", "a.pdf", "abc", []string{"x"}, stats, nil, 1500*time.Microsecond)
		if run.Status != StatusCompleted || run.TotalMatches != 2 || run.MatchesByPattern["x"] != 2 {
			t.Errorf("Unexpected run: %+v", run)
		}
		if run.DurationMS != 1.5 {
			t.Errorf("DurationMS = %v", run.DurationMS)
		}
	})

	t.Run("Failed", func(t *testing.T) {
		err := fmt.Errorf("%w: page 2: bad stream", redactor.ErrEngineFailure)
		run := NewRun("req", "a.pdf", "abc", nil, redactor.Statistics{}, err, 0)
		if run.Status != StatusFailed || run.Reason != redactor.ReasonEngineFailure || run.Error == "" {
			t.Errorf("Unexpected run: %+v", run)
		}
		if run.Patterns == nil || run.MatchesByPattern == nil {
			t.Error("Nil collections would violate NOT NULL columns")
		}
	})
}

func TestPatternCounts(t *testing.T) {
	value, err := PatternCounts{"a": 1}.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var p PatternCounts
	if err := p.Scan(value); err != nil || p["a"] != 1 {
		t.Errorf("Scan(%s) = %v, %v", value, p, err)
	}
	if err := p.Scan(`{"b": 3}`); err != nil || p["b"] != 3 {
		t.Errorf("Scan(string) = %v, %v", p, err)
	}
	if err := p.Scan(nil); err != nil || len(p) != 0 {
		t.Errorf("Scan(nil) = %v, %v", p, err)
	}
	if err := p.Scan(42); err == nil {
		t.Error("Expected error for unsupported type")
	}

	if v, _ := PatternCounts(nil).Value(); string(v.([]byte)) != "{}" {
		t.Errorf("nil Value = %s", v)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := map[string]string{
		"postgres://redactor:secret@db:5432/redactor": "postgres://redactor:***@db:5432/redactor",
		"postgres://db:5432/redactor":                 "postgres://db:5432/redactor",
		"postgres://user@db/redactor":                 "postgres://user@db/redactor",
	}
	for in, want := range tests {
		if got := maskDatabaseURL(in); got != want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStorePostgres(t *testing.T) {
	url := os.Getenv("REDACTOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("REDACTOR_TEST_DATABASE_URL not set")
	}

	cfg := config.GetDefaults().Audit
	cfg.DatabaseURL = url
	store, err := NewStore(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	requestID := fmt.Sprintf("test-%d", time.Now().UnixNano())

	ok := NewRun(requestID, "a.pdf", "digest", []string{"x"}, redactor.Statistics{TotalMatches: 3, MatchesByPattern: map[string]int{"x": 3}}, nil, time.Millisecond)
	if err := store.Record(ctx, ok); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ok.ID == 0 || ok.CreatedAt.IsZero() {
		t.Errorf("ID and CreatedAt not filled: %+v", ok)
	}

	failed := NewRun(requestID, "b.pdf", "digest", nil, redactor.Statistics{}, errors.New("boom"), 0)
	if err := store.Record(ctx, failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	runs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != failed.ID || runs[1].MatchesByPattern["x"] != 3 {
		t.Errorf("Unexpected runs: %+v", runs)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalRuns < 2 || stats.FailedRuns < 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
