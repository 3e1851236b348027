package pdfengine

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/raaihank/pdf-redactor/internal/engine"
)

const (
	// glyphs whose baselines differ by less than this fraction of the font size share a line
	lineTolerance = 0.5
	// slack when testing whether a glyph center lies inside a region
	coverTolerance = 0.01
)

type annotation struct {
	region      engine.Region
	replacement string
	fill        engine.Color
}

type page struct {
	src     pdf.Page
	loaded  bool
	loadErr error
	content []byte
	instrs  []instruction
	layout  *layout
	runes   []glyphRune
	pending []annotation
	applied []annotation
}

// glyphRune is one non-space character of the page text and the glyph it came from
type glyphRune struct {
	r     rune
	glyph int
}

func (p *page) Text() (string, error) {
	if p.src.V.IsNull() {
		return "", nil
	}
	text, err := p.src.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract page text: %w", err)
	}
	return text, nil
}

// SearchFor finds literal in the page's glyph stream ignoring whitespace and
// returns one region per text line of each occurrence.
func (p *page) SearchFor(literal string) ([]engine.Region, error) {
	needle := compact(literal)
	if len(needle) == 0 {
		return nil, nil
	}
	if err := p.load(); err != nil {
		return nil, err
	}

	var regions []engine.Region
	for i := 0; i+len(needle) <= len(p.runes); {
		if !p.matchesAt(i, needle) {
			i++
			continue
		}
		var glyphs []placedGlyph
		last := -1
		for _, gr := range p.runes[i : i+len(needle)] {
			if gr.glyph != last {
				glyphs = append(glyphs, p.layout.glyphs[gr.glyph])
				last = gr.glyph
			}
		}
		regions = append(regions, lineRegions(glyphs)...)
		i += len(needle)
	}
	return regions, nil
}

func (p *page) AddRedactAnnot(region engine.Region, replacement string, fill engine.Color) error {
	if region.Width() <= 0 || region.Height() <= 0 {
		return fmt.Errorf("empty redaction region %+v", region)
	}
	p.pending = append(p.pending, annotation{region: region, replacement: replacement, fill: fill})
	return nil
}

func (p *page) ApplyRedactions() error {
	p.applied = append(p.applied, p.pending...)
	p.pending = nil
	return nil
}

// load reads and lays out the page content once.
func (p *page) load() error {
	if p.loaded {
		return p.loadErr
	}
	p.loaded = true
	p.layout = &layout{}
	if p.src.V.IsNull() {
		return nil
	}

	content, err := pageContent(p.src.V.Key("Contents"))
	if err != nil {
		p.loadErr = fmt.Errorf("failed to read page content: %w", err)
		return p.loadErr
	}
	instrs, err := parseContent(content)
	if err != nil {
		p.loadErr = fmt.Errorf("failed to parse page content: %w", err)
		return p.loadErr
	}

	fonts := make(map[string]*fontInfo)
	p.setLayout(content, instrs, layoutText(instrs, func(name string) *fontInfo {
		if f, ok := fonts[name]; ok {
			return f
		}
		f := newFontInfo(p.src.Font(name))
		fonts[name] = f
		return f
	}))
	return nil
}

func (p *page) setLayout(content []byte, instrs []instruction, lay *layout) {
	p.content, p.instrs, p.layout = content, instrs, lay
	p.runes = p.runes[:0]
	for i, g := range lay.glyphs {
		for _, r := range g.text {
			if !unicode.IsSpace(r) {
				p.runes = append(p.runes, glyphRune{r: r, glyph: i})
			}
		}
	}
}

// pageContent concatenates the decoded streams of a page's /Contents.
func pageContent(v pdf.Value) (data []byte, err error) {
	defer func() {
		// ledongthuc panics on filters it does not implement
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	var streams []pdf.Value
	switch v.Kind() {
	case pdf.Stream:
		streams = append(streams, v)
	case pdf.Array:
		for i := 0; i < v.Len(); i++ {
			streams = append(streams, v.Index(i))
		}
	}

	var buf bytes.Buffer
	for _, s := range streams {
		rc := s.Reader()
		_, err := io.Copy(&buf, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// covered reports whether the center of g lies inside an applied region.
func (p *page) covered(g *placedGlyph) bool {
	cx := (g.box.X0 + g.box.X1) / 2
	cy := (g.box.Y0 + g.box.Y1) / 2
	for _, a := range p.applied {
		r := a.region
		if cx >= r.X0-coverTolerance && cx <= r.X1+coverTolerance &&
			cy >= r.Y0-coverTolerance && cy <= r.Y1+coverTolerance {
			return true
		}
	}
	return false
}

// redactedContent returns the page content with covered glyphs removed and
// each applied region painted with its fill color. The original operators
// run inside q/Q so the rectangles are drawn in default user space.
func (p *page) redactedContent() ([]byte, int) {
	rewritten, removed := rewriteContent(p.content, p.instrs, p.layout, p.covered)

	var b bytes.Buffer
	b.WriteString("q\n")
	b.Write(rewritten)
	b.WriteString("\nQ\n")
	for _, a := range p.applied {
		r := a.region
		fmt.Fprintf(&b, "q %s %s %s rg %s %s %s %s re f Q\n",
			formatNumber(a.fill.R), formatNumber(a.fill.G), formatNumber(a.fill.B),
			formatNumber(r.X0), formatNumber(r.Y0), formatNumber(r.Width()), formatNumber(r.Height()))
	}
	return b.Bytes(), removed
}

func (p *page) matchesAt(i int, needle []rune) bool {
	for j, r := range needle {
		if p.runes[i+j].r != r {
			return false
		}
	}
	return true
}

func compact(s string) []rune {
	var out []rune
	for _, r := range s {
		if !unicode.IsSpace(r) {
			out = append(out, r)
		}
	}
	return out
}

// lineRegions unions consecutive glyphs on the same baseline into boxes.
func lineRegions(glyphs []placedGlyph) []engine.Region {
	var regions []engine.Region
	var cur engine.Region
	var baseline, size float64
	open := false

	for _, g := range glyphs {
		if open && math.Abs(g.baseline-baseline) < lineTolerance*math.Max(size, g.size) {
			cur = union(cur, g.box)
			continue
		}
		if open {
			regions = append(regions, cur)
		}
		cur, baseline, size, open = g.box, g.baseline, g.size, true
	}
	if open {
		regions = append(regions, cur)
	}
	return regions
}

func union(a, b engine.Region) engine.Region {
	return engine.Region{
		X0: math.Min(a.X0, b.X0),
		Y0: math.Min(a.Y0, b.Y0),
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
	}
}

// stampDescription renders a pdfcpu watermark description that places the
// replacement text at the region's lower left corner.
func stampDescription(a annotation) string {
	points := int(math.Max(1, math.Round(a.region.Height()*0.7)))
	return fmt.Sprintf(
		"fontname:Helvetica, points:%d, position:bl, offset:%.2f %.2f, scalefactor:1 abs, rotation:0, fillcolor:#000000, backgroundcolor:%s, margins:1, opacity:1",
		points, a.region.X0, a.region.Y0, hexColor(a.fill),
	)
}

func hexColor(c engine.Color) string {
	channel := func(v float64) int {
		return int(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return fmt.Sprintf("#%02X%02X%02X", channel(c.R), channel(c.G), channel(c.B))
}

func hasStamp(a annotation) bool {
	return strings.TrimSpace(a.replacement) != ""
}
