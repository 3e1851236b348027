package redactor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/engine"
	"github.com/raaihank/pdf-redactor/internal/patterns"
)

func writeDoc(t *testing.T, dir string, pages ...string) string {
	t.Helper()
	path := filepath.Join(dir, "input.pdf")
	if err := engine.WriteMemoryDocument(path, pages...); err != nil {
		t.Fatalf("Failed to write document: %v", err)
	}
	return path
}

func newRedactor(t *testing.T, eng *engine.MemoryEngine, src, dst string, overwrite bool) *Redactor {
	t.Helper()
	r, err := New(src, dst, overwrite, eng, eng, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	src := writeDoc(t, dir, "page")
	eng := engine.NewMemoryEngine()

	t.Run("SourceNotFound", func(t *testing.T) {
		_, err := New(filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "out.pdf"), false, eng, eng, zap.NewNop())
		if !errors.Is(err, ErrSourceNotFound) {
			t.Errorf("Expected ErrSourceNotFound, got %v", err)
		}
		_, err = New(dir, filepath.Join(dir, "out.pdf"), false, eng, eng, zap.NewNop())
		if !errors.Is(err, ErrSourceNotFound) {
			t.Errorf("Expected ErrSourceNotFound for directory, got %v", err)
		}
	})

	t.Run("InvalidDestination", func(t *testing.T) {
		for _, dst := range []string{"", "   ", dir} {
			if _, err := New(src, dst, true, eng, eng, nil); !errors.Is(err, ErrInvalidDestination) {
				t.Errorf("dst %q: expected ErrInvalidDestination, got %v", dst, err)
			}
		}
	})

	t.Run("DestinationExists", func(t *testing.T) {
		dst := filepath.Join(dir, "exists.pdf")
		_ = os.WriteFile(dst, []byte("old"), 0o600)

		if _, err := New(src, dst, false, eng, eng, nil); !errors.Is(err, ErrDestinationExists) {
			t.Errorf("Expected ErrDestinationExists, got %v", err)
		}
		if eng.Opens() != 0 {
			t.Errorf("Source opened %d times before preflight failed", eng.Opens())
		}
		if _, err := New(src, dst, true, eng, eng, nil); err != nil {
			t.Errorf("Overwrite should be allowed: %v", err)
		}
	})
}

func TestRun(t *testing.T) {
	t.Run("EmailEndToEnd", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "Contact test@example.com today.")
		dst := filepath.Join(dir, "out.pdf")
		eng := engine.NewMemoryEngine()

		stats, err := newRedactor(t, eng, src, dst, false).Run(RunOptions{
			Replacement: "[REDACTED]",
			Kinds:       []patterns.Kind{patterns.KindEmail},
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if stats.TotalMatches != 1 || stats.PagesProcessed != 1 || stats.PagesModified != 1 || stats.PatternsUsed != 1 {
			t.Errorf("Unexpected statistics: %+v", stats)
		}

		pages, err := engine.ReadMemoryDocument(dst)
		if err != nil {
			t.Fatalf("Failed to read output: %v", err)
		}
		if strings.Contains(pages[0], "test@example.com") {
			t.Errorf("Output still contains the address: %q", pages[0])
		}
		if pages[0] != "Contact [REDACTED] today." {
			t.Errorf("Output = %q", pages[0])
		}
	})

	t.Run("NoPatternsSpecified", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "text")
		dst := filepath.Join(dir, "out.pdf")
		eng := engine.NewMemoryEngine()

		_, err := newRedactor(t, eng, src, dst, false).Run(RunOptions{ValidatePatterns: true})
		if !errors.Is(err, ErrNoPatternsSpecified) || !IsSoft(err) {
			t.Errorf("Expected ErrNoPatternsSpecified, got %v", err)
		}
		if eng.Opens() != 0 {
			t.Error("Engine should not be called")
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Error("Output should not be written")
		}
	})

	t.Run("ValidationCollectsAllErrors", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "text")
		dst := filepath.Join(dir, "out.pdf")
		eng := engine.NewMemoryEngine()

		_, err := newRedactor(t, eng, src, dst, false).Run(RunOptions{
			Needles:          []string{"[a-", "ok", "(unclosed"},
			ValidatePatterns: true,
		})
		if !errors.Is(err, ErrPatternValidation) {
			t.Fatalf("Expected ErrPatternValidation, got %v", err)
		}
		if !strings.Contains(err.Error(), "[a-") || !strings.Contains(err.Error(), "(unclosed") {
			t.Errorf("Error should name both expressions: %v", err)
		}
		if Reason(err) != ReasonInvalidExpression {
			t.Errorf("Reason = %s", Reason(err))
		}
		if eng.Opens() != 0 {
			t.Error("Engine should not be called")
		}
	})

	t.Run("InvalidExpressionWithoutValidation", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "text")
		eng := engine.NewMemoryEngine()

		_, err := newRedactor(t, eng, src, filepath.Join(dir, "out.pdf"), false).Run(RunOptions{Needles: []string{"("}})
		var invalid *patterns.InvalidExpressionError
		if !errors.As(err, &invalid) || invalid.Expression != "(" {
			t.Errorf("Expected InvalidExpressionError, got %v", err)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "text")
		eng := engine.NewMemoryEngine()

		_, err := newRedactor(t, eng, src, filepath.Join(dir, "out.pdf"), false).Run(RunOptions{
			Kinds: []patterns.Kind{patterns.KindEmail, "passport"},
		})
		if !errors.Is(err, patterns.ErrUnknownPatternKind) {
			t.Errorf("Expected ErrUnknownPatternKind, got %v", err)
		}
		if Reason(err) != ReasonUnknownPatternKind {
			t.Errorf("Reason = %s", Reason(err))
		}
	})

	t.Run("MultiPageStatistics", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir,
			"SSN 123-45-6789 and mail a@b.io",
			"nothing to see",
			"Secret secret SECRET",
		)
		dst := filepath.Join(dir, "out.pdf")
		eng := engine.NewMemoryEngine()

		var progress []PageProgress
		stats, err := newRedactor(t, eng, src, dst, false).Run(RunOptions{
			Needles:          []string{"secret"},
			IgnoreCase:       true,
			Kinds:            []patterns.Kind{patterns.KindSSN, patterns.KindEmail},
			ValidatePatterns: true,
			Progress:         func(p PageProgress) { progress = append(progress, p) },
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if stats.TotalMatches != 5 || stats.PagesProcessed != 3 || stats.PagesModified != 2 || stats.PatternsUsed != 3 {
			t.Errorf("Unexpected statistics: %+v", stats)
		}
		if stats.MatchesByPattern["secret"] != 3 {
			t.Errorf("secret count = %d", stats.MatchesByPattern["secret"])
		}
		if len(progress) != 3 || progress[2].Matches != 3 || progress[1].TotalPages != 3 {
			t.Errorf("Unexpected progress: %+v", progress)
		}

		pages, _ := engine.ReadMemoryDocument(dst)
		if pages[0] != "SSN ***REDACTED*** and mail ***REDACTED***" {
			t.Errorf("Page 1 = %q", pages[0])
		}
		if pages[1] != "nothing to see" {
			t.Errorf("Page 2 = %q", pages[1])
		}
	})

	t.Run("DuplicateRegistrationCountsTwice", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "token")
		eng := engine.NewMemoryEngine()

		stats, err := newRedactor(t, eng, src, filepath.Join(dir, "out.pdf"), false).Run(RunOptions{
			Needles: []string{"token", "token"},
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if stats.TotalMatches != 2 || stats.PatternsUsed != 1 || stats.MatchesByPattern["token"] != 2 {
			t.Errorf("Unexpected statistics: %+v", stats)
		}
	})

	t.Run("EngineFailuresLeaveNoOutput", func(t *testing.T) {
		cases := map[string]func(*engine.MemoryEngine){
			"open":     func(e *engine.MemoryEngine) { e.FailOpen = errors.New("corrupt xref") },
			"save":     func(e *engine.MemoryEngine) { e.FailSave = errors.New("disk full") },
			"compress": func(e *engine.MemoryEngine) { e.FailCompress = errors.New("bad stream") },
		}
		for name, inject := range cases {
			t.Run(name, func(t *testing.T) {
				dir := t.TempDir()
				src := writeDoc(t, dir, "mail a@b.io")
				dst := filepath.Join(dir, "out.pdf")
				eng := engine.NewMemoryEngine()
				inject(eng)

				_, err := newRedactor(t, eng, src, dst, false).Run(RunOptions{Kinds: []patterns.Kind{patterns.KindEmail}})
				if !errors.Is(err, ErrEngineFailure) {
					t.Fatalf("Expected ErrEngineFailure, got %v", err)
				}
				if Reason(err) != ReasonEngineFailure {
					t.Errorf("Reason = %s", Reason(err))
				}

				entries, _ := os.ReadDir(dir)
				for _, e := range entries {
					if e.Name() != "input.pdf" {
						t.Errorf("Unexpected file left behind: %s", e.Name())
					}
				}
			})
		}
	})

	t.Run("OverwriteReplacesDestination", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "id 123456789")
		dst := filepath.Join(dir, "out.pdf")
		_ = os.WriteFile(dst, []byte("stale"), 0o600)
		eng := engine.NewMemoryEngine()

		if _, err := newRedactor(t, eng, src, dst, true).Run(RunOptions{Kinds: []patterns.Kind{patterns.KindSSN}, Replacement: "X"}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		pages, err := engine.ReadMemoryDocument(dst)
		if err != nil || pages[0] != "id X" {
			t.Errorf("Output = %v, %v", pages, err)
		}
	})
}

func TestOutputPermissions(t *testing.T) {
	t.Run("NewFile", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "id 123456789")
		dst := filepath.Join(dir, "out.pdf")
		eng := engine.NewMemoryEngine()

		if _, err := newRedactor(t, eng, src, dst, false).Run(RunOptions{Kinds: []patterns.Kind{patterns.KindSSN}}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if got := info.Mode().Perm(); got != 0o644 {
			t.Errorf("Mode = %v, want 0644", got)
		}
	})

	t.Run("OverwriteKeepsMode", func(t *testing.T) {
		dir := t.TempDir()
		src := writeDoc(t, dir, "id 123456789")
		dst := filepath.Join(dir, "out.pdf")
		if err := os.WriteFile(dst, []byte("stale"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(dst, 0o640); err != nil {
			t.Fatal(err)
		}
		eng := engine.NewMemoryEngine()

		if _, err := newRedactor(t, eng, src, dst, true).Run(RunOptions{Kinds: []patterns.Kind{patterns.KindSSN}}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if got := info.Mode().Perm(); got != 0o640 {
			t.Errorf("Mode = %v, want 0640", got)
		}
	})
}

func TestPatternsAfterRun(t *testing.T) {
	dir := t.TempDir()
	src := writeDoc(t, dir, "a@b.io 123-45-6789")
	eng := engine.NewMemoryEngine()
	r := newRedactor(t, eng, src, filepath.Join(dir, "out.pdf"), false)
	opts := RunOptions{Needles: []string{"b.io"}, Kinds: []patterns.Kind{patterns.KindEmail}}

	if r.Patterns() != nil {
		t.Error("Patterns should be nil before any run")
	}
	if _, err := r.Run(opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	info := r.Patterns()
	if len(info) != 2 || info[0].Type != patterns.InfoTypePredefined || info[1].Type != patterns.InfoTypeCustom {
		t.Errorf("Unexpected patterns: %+v", info)
	}

	eng.FailOpen = errors.New("boom")
	failing := newRedactor(t, eng, src, filepath.Join(dir, "other.pdf"), false)
	if _, err := failing.Run(opts); err == nil {
		t.Fatal("Expected failure")
	}
	if failing.Patterns() != nil {
		t.Errorf("Failed run recorded patterns: %+v", failing.Patterns())
	}
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	src := writeDoc(t, dir, "text")
	dst := filepath.Join(dir, "out.pdf")
	eng := engine.NewMemoryEngine()
	r := newRedactor(t, eng, src, dst, false)

	info, err := r.Plan(RunOptions{Needles: []string{"foo"}, Kinds: []patterns.Kind{patterns.KindPhone}, ValidatePatterns: true})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(info) != 2 || info[0].Type != patterns.InfoTypePredefined || info[1].Type != patterns.InfoTypeCustom {
		t.Errorf("Unexpected plan: %+v", info)
	}
	if eng.Opens() != 0 {
		t.Error("Plan must not open the document")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("Plan must not write output")
	}

	if _, err := r.Plan(RunOptions{}); !errors.Is(err, ErrNoPatternsSpecified) {
		t.Errorf("Expected ErrNoPatternsSpecified, got %v", err)
	}
}

func TestStatisticsSnapshot(t *testing.T) {
	b := newStatsBuilder(1)
	b.match("x")
	b.page(true)
	snap := b.build()
	b.match("x")

	if snap.MatchesByPattern["x"] != 1 || snap.TotalMatches != 1 {
		t.Errorf("Snapshot changed after build: %+v", snap)
	}
}

func TestReason(t *testing.T) {
	tests := map[error]string{
		nil:                    "",
		ErrSourceNotFound:      ReasonSourceNotFound,
		ErrDestinationExists:   ReasonDestinationExists,
		ErrNoPatternsSpecified: ReasonNoPatternsSpecified,
		errors.New("boom"):     ReasonInternal,
	}
	for err, want := range tests {
		if got := Reason(err); got != want {
			t.Errorf("Reason(%v) = %q, want %q", err, got, want)
		}
	}
}
