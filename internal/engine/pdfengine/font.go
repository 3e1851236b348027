package pdfengine

import (
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/font"
)

// defaultWidth is the advance, in text space units per unit font size, used
// when neither the font dictionary nor the standard 14 metrics know a glyph.
const defaultWidth = 0.5

// fontInfo holds what the layout needs from a font dictionary: how codes are
// split, how they decode to text and how far each one advances.
type fontInfo struct {
	codeLen int
	decode  func(code []byte) string
	width   func(code []byte, text string) float64
}

var fallbackFont = &fontInfo{
	codeLen: 1,
	decode:  func(code []byte) string { return string(rune(code[0])) },
	width:   func([]byte, string) float64 { return defaultWidth },
}

func newFontInfo(f pdf.Font) *fontInfo {
	if f.V.IsNull() {
		return fallbackFont
	}
	enc := f.Encoder()
	info := &fontInfo{
		codeLen: 1,
		decode:  func(code []byte) string { return enc.Decode(string(code)) },
	}
	if f.V.Key("Subtype").Name() == "Type0" {
		info.codeLen = 2
		info.width = cidWidths(f.V.Key("DescendantFonts").Index(0))
		return info
	}

	base := coreFontName(f.BaseFont())
	info.width = func(code []byte, text string) float64 {
		if w := f.Width(int(code[0])); w > 0 {
			return w / 1000
		}
		if base != "" && text != "" {
			w := 0
			for _, r := range text {
				w += font.CharWidth(base, r)
			}
			if w > 0 {
				return float64(w) / 1000
			}
		}
		return defaultWidth
	}
	return info
}

// coreFontName strips a subset tag and returns the name if it is one of the
// standard 14 fonts, or "" otherwise.
func coreFontName(name string) string {
	if len(name) > 7 && name[6] == '+' {
		name = name[7:]
	}
	if font.IsCoreFont(name) {
		return name
	}
	return ""
}

// cidWidths reads the /W and /DW entries of a descendant CID font.
func cidWidths(desc pdf.Value) func([]byte, string) float64 {
	dw := 1000.0
	if v := desc.Key("DW"); v.Kind() == pdf.Integer || v.Kind() == pdf.Real {
		dw = v.Float64()
	}
	widths := make(map[int]float64)
	w := desc.Key("W")
	for i := 0; i < w.Len(); {
		first := int(w.Index(i).Int64())
		if i+1 >= w.Len() {
			break
		}
		if next := w.Index(i + 1); next.Kind() == pdf.Array {
			for j := 0; j < next.Len(); j++ {
				widths[first+j] = next.Index(j).Float64()
			}
			i += 2
			continue
		}
		if i+2 >= w.Len() {
			break
		}
		last := int(w.Index(i + 1).Int64())
		width := w.Index(i + 2).Float64()
		for c := first; c <= last && c-first < 0xFFFF; c++ {
			widths[c] = width
		}
		i += 3
	}

	return func(code []byte, _ string) float64 {
		cid := 0
		for _, b := range code {
			cid = cid<<8 | int(b)
		}
		if v, ok := widths[cid]; ok {
			return v / 1000
		}
		return dw / 1000
	}
}
