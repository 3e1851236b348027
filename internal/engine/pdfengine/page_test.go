package pdfengine

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raaihank/pdf-redactor/internal/engine"
)

func fixedFonts(string) *fontInfo { return fallbackFont }

// layoutPage lays out content with every font advancing half an em.
func layoutPage(t *testing.T, content string) *page {
	t.Helper()
	instrs, err := parseContent([]byte(content))
	if err != nil {
		t.Fatalf("parseContent failed: %v", err)
	}
	p := &page{loaded: true}
	p.setLayout([]byte(content), instrs, layoutText(instrs, fixedFonts))
	return p
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestParseContent(t *testing.T) {
	content := "q 1 0 0 1 0 0 cm BT /F1 12 Tf (a\\(b\\)\\101) Tj <48 49> Tj [(x) -20 (y)] TJ ET % note\n" +
		"BI /W 1 /H 1 ID \x00\xff EI Q /Name#20X <</K [1 2]>> BDC EMC"
	instrs, err := parseContent([]byte(content))
	if err != nil {
		t.Fatalf("parseContent failed: %v", err)
	}

	var ops []string
	for _, in := range instrs {
		ops = append(ops, in.op)
	}
	want := "q cm BT Tf Tj Tj TJ ET BI ID Q BDC EMC"
	if got := strings.Join(ops, " "); got != want {
		t.Fatalf("ops = %q, want %q", got, want)
	}

	if got := string(instrs[4].operands[0].str); got != "a(b)A" {
		t.Errorf("literal string = %q", got)
	}
	if got := string(instrs[5].operands[0].str); got != "HI" {
		t.Errorf("hex string = %q", got)
	}
	if tj := instrs[6].operands[0]; tj.kind != objArray || len(tj.items) != 3 || tj.items[1].num != -20 {
		t.Errorf("TJ operand = %+v", tj)
	}
	if got := content[instrs[3].start:instrs[3].end]; got != "/F1 12 Tf" {
		t.Errorf("Tf span = %q", got)
	}
	if got := string(instrs[11].operands[0].str); got != "Name X" {
		t.Errorf("decoded name = %q", got)
	}

	t.Run("Errors", func(t *testing.T) {
		for _, bad := range []string{"(open", "[1 2", "<4142", "BI ID data", ") Tj"} {
			if _, err := parseContent([]byte(bad)); err == nil {
				t.Errorf("Expected error for %q", bad)
			}
		}
	})
}

func TestLayoutText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		glyph   int
		x0, x1  float64
		base    float64
	}{
		{"Origin", "BT /F1 10 Tf 100 200 Td (AB) Tj ET", 0, 100, 105, 200},
		{"Advance", "BT /F1 10 Tf 100 200 Td (AB) Tj ET", 1, 105, 110, 200},
		{"Kerning", "BT /F1 10 Tf 100 200 Td [(A) -1000 (B)] TJ ET", 1, 115, 120, 200},
		{"CharSpacing", "BT /F1 10 Tf 2 Tc 100 200 Td (AB) Tj ET", 1, 107, 112, 200},
		{"WordSpacing", "BT /F1 10 Tf 3 Tw 100 200 Td (A B) Tj ET", 2, 113, 118, 200},
		{"HorizontalScale", "BT /F1 10 Tf 50 Tz 100 200 Td (AB) Tj ET", 1, 102.5, 105, 200},
		{"NextLine", "BT /F1 10 Tf 12 TL 100 200 Td (A) Tj (B) ' ET", 1, 100, 105, 188},
		{"TextMatrix", "BT /F1 1 Tf 10 0 0 10 50 60 Tm (A) Tj ET", 0, 50, 55, 60},
		{"CurrentMatrix", "2 0 0 2 0 0 cm BT /F1 10 Tf 10 20 Td (A) Tj ET", 0, 20, 30, 40},
		{"SavedState", "q 2 0 0 2 0 0 cm Q BT /F1 10 Tf 10 20 Td (A) Tj ET", 0, 10, 15, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := layoutPage(t, tt.content)
			if tt.glyph >= len(p.layout.glyphs) {
				t.Fatalf("Only %d glyphs laid out", len(p.layout.glyphs))
			}
			g := p.layout.glyphs[tt.glyph]
			if !near(g.box.X0, tt.x0) || !near(g.box.X1, tt.x1) || !near(g.baseline, tt.base) {
				t.Errorf("glyph %q: x=[%v,%v] baseline=%v, want x=[%v,%v] baseline=%v",
					g.text, g.box.X0, g.box.X1, g.baseline, tt.x0, tt.x1, tt.base)
			}
		})
	}
}

func TestSearchFor(t *testing.T) {
	t.Run("SingleLine", func(t *testing.T) {
		p := layoutPage(t, "BT /F1 10 Tf 50 700 Td (Contact test@example.com today) Tj ET")
		regions, err := p.SearchFor("test@example.com")
		if err != nil {
			t.Fatalf("SearchFor failed: %v", err)
		}
		if len(regions) != 1 {
			t.Fatalf("Expected 1 region, got %+v", regions)
		}
		r := regions[0]
		// "Contact " is 8 cells of 5pt
		if !near(r.X0, 90) || !near(r.X1, 170) {
			t.Errorf("X range = [%v,%v], want [90,170]", r.X0, r.X1)
		}
		if !near(r.Y0, 697.5) || !near(r.Y1, 708.5) {
			t.Errorf("Y range = [%v,%v], want [697.5,708.5]", r.Y0, r.Y1)
		}
	})

	t.Run("RepeatedAndWhitespaceInsensitive", func(t *testing.T) {
		p := layoutPage(t, "BT /F1 12 Tf 0 100 Td (SSN 123 45 6789 and SSN 123 45 6789) Tj ET")
		regions, _ := p.SearchFor("123 45 6789")
		if len(regions) != 2 {
			t.Fatalf("Expected 2 regions, got %+v", regions)
		}
	})

	t.Run("SplitAcrossOperators", func(t *testing.T) {
		p := layoutPage(t, "BT /F1 10 Tf 0 0 Td (sec) Tj [(r) 0 (et)] TJ ET")
		regions, _ := p.SearchFor("secret")
		if len(regions) != 1 || !near(regions[0].X1, 30) {
			t.Fatalf("Expected one 30pt region, got %+v", regions)
		}
	})

	t.Run("SpansLines", func(t *testing.T) {
		p := layoutPage(t, "BT /F1 10 Tf 10 500 Td (secret) Tj 0 -20 Td (word) Tj ET")
		regions, _ := p.SearchFor("secretword")
		if len(regions) != 2 {
			t.Fatalf("Expected one region per line, got %+v", regions)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		p := layoutPage(t, "BT /F1 10 Tf (nothing here) Tj ET")
		if regions, _ := p.SearchFor("absent"); len(regions) != 0 {
			t.Errorf("Expected no regions, got %+v", regions)
		}
		if regions, _ := p.SearchFor("   "); len(regions) != 0 {
			t.Errorf("Expected no regions for blank literal, got %+v", regions)
		}
	})
}

func TestRewriteContent(t *testing.T) {
	removeText := func(s string) func(*placedGlyph) bool {
		return func(g *placedGlyph) bool { return strings.Contains(s, g.text) }
	}

	tests := []struct {
		name    string
		content string
		remove  string
		want    string
	}{
		{"Tj", "BT /F1 10 Tf 0 0 Td (AB) Tj ET", "B", "BT /F1 10 Tf 0 0 Td [<41> -500 ] TJ ET"},
		{"TJKeepsKerning", "BT /F1 10 Tf [(AB) -200 (C)] TJ ET", "A", "BT /F1 10 Tf [ -500 <42> -200 <43>] TJ ET"},
		{"Quote", "BT /F1 10 Tf 12 TL (AB) ' ET", "A", "BT /F1 10 Tf 12 TL T* [ -500 <42>] TJ ET"},
		{"DoubleQuote", "BT /F1 10 Tf 12 TL 1 2 (AB) \" ET", "A", "BT /F1 10 Tf 12 TL 1 Tw 2 Tc T* [ -700 <42>] TJ ET"},
		{"Untouched", "BT /F1 10 Tf (AB) Tj ET", "Z", "BT /F1 10 Tf (AB) Tj ET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := layoutPage(t, tt.content)
			out, removed := rewriteContent(p.content, p.instrs, p.layout, removeText(tt.remove))
			if string(out) != tt.want {
				t.Errorf("rewrite = %q, want %q", out, tt.want)
			}
			if tt.remove == "Z" && removed != 0 {
				t.Errorf("removed = %d, want 0", removed)
			}
		})
	}

	t.Run("RemainingGlyphsKeepPosition", func(t *testing.T) {
		content := "BT /F1 10 Tf 2 Tc 3 Tw 100 200 Td (A B C) Tj ET"
		before := layoutPage(t, content)
		out, removed := rewriteContent(before.content, before.instrs, before.layout, removeText("B"))
		if removed != 1 {
			t.Fatalf("removed = %d, want 1", removed)
		}
		after := layoutPage(t, string(out))
		if len(after.layout.glyphs) != 4 {
			t.Fatalf("Expected 4 glyphs after rewrite, got %d", len(after.layout.glyphs))
		}
		last := after.layout.glyphs[3]
		if last.text != "C" || !near(last.box.X0, before.layout.glyphs[4].box.X0) {
			t.Errorf("C moved from %v to %v", before.layout.glyphs[4].box.X0, last.box.X0)
		}
	})
}

func TestRedactedContent(t *testing.T) {
	p := layoutPage(t, "BT /F1 10 Tf 100 200 Td (AB) Tj ET")
	regions, _ := p.SearchFor("B")
	if len(regions) != 1 {
		t.Fatalf("Expected 1 region, got %+v", regions)
	}
	if err := p.AddRedactAnnot(regions[0], "[X]", engine.White); err != nil {
		t.Fatal(err)
	}
	_ = p.ApplyRedactions()

	out, removed := p.redactedContent()
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	got := string(out)
	for _, want := range []string{"q\nBT /F1 10 Tf 100 200 Td [<41> -500 ] TJ ET\nQ\n", "q 1 1 1 rg 105 197.5 5 11 re f Q\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("content %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "(AB)") {
		t.Errorf("original text still present: %q", got)
	}
}

func TestAnnotations(t *testing.T) {
	p := &page{loaded: true}
	if err := p.AddRedactAnnot(engine.Region{}, "x", engine.White); err == nil {
		t.Error("Expected error for empty region")
	}

	region := engine.Region{X0: 10, Y0: 20, X1: 50, Y1: 30}
	if err := p.AddRedactAnnot(region, "[REDACTED]", engine.White); err != nil {
		t.Fatalf("AddRedactAnnot failed: %v", err)
	}
	if len(p.applied) != 0 {
		t.Error("Annotation applied before ApplyRedactions")
	}
	_ = p.ApplyRedactions()
	if len(p.applied) != 1 || len(p.pending) != 0 {
		t.Errorf("applied=%d pending=%d", len(p.applied), len(p.pending))
	}

	desc := stampDescription(p.applied[0])
	for _, want := range []string{"points:7", "offset:10.00 20.00", "backgroundcolor:#FFFFFF", "position:bl"} {
		if !strings.Contains(desc, want) {
			t.Errorf("Description %q missing %q", desc, want)
		}
	}
	if !hasStamp(p.applied[0]) || hasStamp(annotation{replacement: "  "}) {
		t.Error("hasStamp mismatch")
	}
}

func TestHelpers(t *testing.T) {
	if got := hexColor(engine.Color{R: 1, G: 0.5, B: 0}); got != "#FF8000" {
		t.Errorf("hexColor = %s", got)
	}
	if got := hexColor(engine.Black); got != "#000000" {
		t.Errorf("hexColor(black) = %s", got)
	}
	if got := coreFontName("ABCDEF+Helvetica-Bold"); got != "Helvetica-Bold" {
		t.Errorf("coreFontName(subset) = %q", got)
	}
	if got := coreFontName("Arial"); got != "" {
		t.Errorf("coreFontName(Arial) = %q", got)
	}
	if got := formatNumber(-499.99999999); got != "-500" {
		t.Errorf("formatNumber = %q", got)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	dst := filepath.Join(dir, "b.pdf")
	_ = os.WriteFile(src, []byte("%PDF-1.4 test"), 0o600)
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile failed: %v", err)
	}
	if data, _ := os.ReadFile(dst); string(data) != "%PDF-1.4 test" {
		t.Errorf("Copied content = %q", data)
	}
}
