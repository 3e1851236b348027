package pdfengine

import (
	"math"
	"strings"

	"github.com/raaihank/pdf-redactor/internal/engine"
)

const (
	// glyph boxes extend this far below the baseline and above it, in font size units
	descent = 0.25
	ascent  = 0.85
)

// matrix is a PDF transformation [a b c d e f]
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

func translate(tx, ty float64) matrix { return matrix{1, 0, 0, 1, tx, ty} }

// mul returns m×n, applying m first.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// placedGlyph is one shown character code and where it lands on the page.
type placedGlyph struct {
	code     []byte
	text     string
	box      engine.Region
	baseline float64
	size     float64
	// adjust is the TJ number that advances exactly as far as this glyph
	adjust float64
}

// showItem is a glyph index into layout.glyphs, or -1 with a TJ adjustment.
type showItem struct {
	glyph  int
	adjust float64
}

// textShow is one text showing instruction with its items in stream order.
type textShow struct {
	instr int
	items []showItem
}

type layout struct {
	glyphs []placedGlyph
	shows  []textShow
}

type graphicsState struct {
	ctm       matrix
	font      *fontInfo
	size      float64
	charSpace float64
	wordSpace float64
	scale     float64
	leading   float64
	rise      float64
}

type interpreter struct {
	fonts   func(name string) *fontInfo
	gs      graphicsState
	stack   []graphicsState
	tm, tlm matrix
	layout  layout
}

// layoutText runs the text and graphics state operators of instrs and
// places every shown glyph in default user space.
func layoutText(instrs []instruction, fonts func(name string) *fontInfo) *layout {
	in := &interpreter{
		fonts: fonts,
		gs:    graphicsState{ctm: identity, font: fallbackFont, scale: 1},
		tm:    identity,
		tlm:   identity,
	}
	for i, ins := range instrs {
		in.exec(i, ins)
	}
	return &in.layout
}

func (in *interpreter) exec(index int, ins instruction) {
	ops := ins.operands
	switch ins.op {
	case "q":
		in.stack = append(in.stack, in.gs)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.gs = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if v, ok := numbers(ops, 6); ok {
			in.gs.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(in.gs.ctm)
		}
	case "BT":
		in.tm, in.tlm = identity, identity
	case "Tf":
		if len(ops) >= 2 && ops[len(ops)-2].kind == objName {
			in.gs.font = in.fonts(string(ops[len(ops)-2].str))
			in.gs.size = ops[len(ops)-1].num
		}
	case "Tc":
		if v, ok := numbers(ops, 1); ok {
			in.gs.charSpace = v[0]
		}
	case "Tw":
		if v, ok := numbers(ops, 1); ok {
			in.gs.wordSpace = v[0]
		}
	case "Tz":
		if v, ok := numbers(ops, 1); ok {
			in.gs.scale = v[0] / 100
		}
	case "TL":
		if v, ok := numbers(ops, 1); ok {
			in.gs.leading = v[0]
		}
	case "Ts":
		if v, ok := numbers(ops, 1); ok {
			in.gs.rise = v[0]
		}
	case "Td":
		if v, ok := numbers(ops, 2); ok {
			in.moveLine(v[0], v[1])
		}
	case "TD":
		if v, ok := numbers(ops, 2); ok {
			in.gs.leading = -v[1]
			in.moveLine(v[0], v[1])
		}
	case "Tm":
		if v, ok := numbers(ops, 6); ok {
			in.tlm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			in.tm = in.tlm
		}
	case "T*":
		in.moveLine(0, -in.gs.leading)
	case "Tj", "TJ":
		if len(ops) > 0 {
			in.show(index, ops[len(ops)-1])
		}
	case "'":
		in.moveLine(0, -in.gs.leading)
		if len(ops) > 0 {
			in.show(index, ops[len(ops)-1])
		}
	case "\"":
		if v, ok := numbers(ops[:max(len(ops)-1, 0)], 2); ok {
			in.gs.wordSpace, in.gs.charSpace = v[0], v[1]
		}
		in.moveLine(0, -in.gs.leading)
		if len(ops) > 0 {
			in.show(index, ops[len(ops)-1])
		}
	}
}

func (in *interpreter) moveLine(tx, ty float64) {
	in.tlm = translate(tx, ty).mul(in.tlm)
	in.tm = in.tlm
}

func (in *interpreter) show(index int, operand object) {
	s := textShow{instr: index}
	var elems []object
	switch operand.kind {
	case objString:
		elems = []object{operand}
	case objArray:
		elems = operand.items
	default:
		return
	}

	gs := &in.gs
	for _, e := range elems {
		switch e.kind {
		case objNumber:
			in.advance(-e.num / 1000 * gs.size * gs.scale)
			s.items = append(s.items, showItem{glyph: -1, adjust: e.num})
		case objString:
			n := gs.font.codeLen
			for i := 0; i+n <= len(e.str); i += n {
				code := e.str[i : i+n]
				s.items = append(s.items, showItem{glyph: len(in.layout.glyphs)})
				in.layout.glyphs = append(in.layout.glyphs, in.place(code))
			}
		}
	}
	in.layout.shows = append(in.layout.shows, s)
}

// place positions code at the current text matrix and advances past it.
func (in *interpreter) place(code []byte) placedGlyph {
	gs := &in.gs
	text := gs.font.decode(code)
	w := gs.font.width(code, text)

	trm := matrix{gs.size * gs.scale, 0, 0, gs.size, 0, gs.rise}.mul(in.tm).mul(gs.ctm)
	g := placedGlyph{code: code, text: text}
	g.box.X0, g.box.Y0 = math.Inf(1), math.Inf(1)
	g.box.X1, g.box.Y1 = math.Inf(-1), math.Inf(-1)
	for _, corner := range [][2]float64{{0, -descent}, {w, -descent}, {0, ascent}, {w, ascent}} {
		x, y := trm.apply(corner[0], corner[1])
		g.box.X0, g.box.X1 = math.Min(g.box.X0, x), math.Max(g.box.X1, x)
		g.box.Y0, g.box.Y1 = math.Min(g.box.Y0, y), math.Max(g.box.Y1, y)
	}
	_, g.baseline = trm.apply(0, 0)
	g.size = math.Hypot(trm[2], trm[3])

	tx := w*gs.size + gs.charSpace
	if len(code) == 1 && code[0] == ' ' {
		tx += gs.wordSpace
	}
	tx *= gs.scale
	if gs.size*gs.scale != 0 {
		g.adjust = -tx * 1000 / (gs.size * gs.scale)
	}
	in.advance(tx)
	return g
}

func (in *interpreter) advance(tx float64) {
	in.tm = translate(tx, 0).mul(in.tm)
}

// numbers returns the last n operands when all of them are numbers.
func numbers(ops []object, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, o := range ops[len(ops)-n:] {
		if o.kind != objNumber {
			return nil, false
		}
		out[i] = o.num
	}
	return out, true
}

// rewriteContent drops every glyph for which remove reports true. Each
// affected instruction becomes a TJ whose numbers keep the remaining glyphs
// where they were. It returns the new stream and the number of glyphs removed.
func rewriteContent(data []byte, instrs []instruction, lay *layout, remove func(*placedGlyph) bool) ([]byte, int) {
	replaced := make(map[int]string)
	removed := 0
	for _, s := range lay.shows {
		hit := false
		for _, it := range s.items {
			if it.glyph >= 0 && remove(&lay.glyphs[it.glyph]) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}

		var b strings.Builder
		ins := instrs[s.instr]
		switch ins.op {
		case "'":
			b.WriteString("T* ")
		case "\"":
			if v, ok := numbers(ins.operands[:max(len(ins.operands)-1, 0)], 2); ok {
				b.WriteString(formatNumber(v[0]) + " Tw " + formatNumber(v[1]) + " Tc ")
			}
			b.WriteString("T* ")
		}
		b.WriteString("[")
		var run []byte
		flush := func() {
			if len(run) > 0 {
				b.WriteString(hexString(run))
				run = nil
			}
		}
		for _, it := range s.items {
			if it.glyph < 0 {
				flush()
				b.WriteString(" " + formatNumber(it.adjust) + " ")
				continue
			}
			g := &lay.glyphs[it.glyph]
			if remove(g) {
				flush()
				b.WriteString(" " + formatNumber(g.adjust) + " ")
				removed++
				continue
			}
			run = append(run, g.code...)
		}
		flush()
		b.WriteString("] TJ")
		replaced[s.instr] = b.String()
	}

	if len(replaced) == 0 {
		return data, 0
	}
	var out []byte
	cursor := 0
	for i, ins := range instrs {
		text, ok := replaced[i]
		if !ok {
			continue
		}
		out = append(out, data[cursor:ins.start]...)
		out = append(out, text...)
		cursor = ins.end
	}
	out = append(out, data[cursor:]...)
	return out, removed
}
