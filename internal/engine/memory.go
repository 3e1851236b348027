package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// MemoryEngine is a text-only engine backed by small JSON documents
// ({"pages": ["...", ...]}). Regions are expressed in code point offsets
// (X0..X1) on a single line (Y0=0, Y1=1). Applying redactions really removes
// the covered text, which makes it useful to check end-to-end behaviour.
type MemoryEngine struct {
	// Fail* inject errors into the matching operation when set.
	FailOpen     error
	FailSave     error
	FailCompress error

	mu    sync.Mutex
	opens int
}

// NewMemoryEngine returns an engine with no injected failures
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{}
}

type memoryFile struct {
	Pages []string `json:"pages"`
}

// WriteMemoryDocument writes a document readable by MemoryEngine.
func WriteMemoryDocument(path string, pages ...string) error {
	data, err := json.MarshalIndent(memoryFile{Pages: pages}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadMemoryDocument returns the page texts of a document written by MemoryEngine.
func ReadMemoryDocument(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f memoryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}
	return f.Pages, nil
}

// Opens reports how many times Open has been called.
func (e *MemoryEngine) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

// Open implements Engine
func (e *MemoryEngine) Open(path string) (Document, error) {
	e.mu.Lock()
	e.opens++
	e.mu.Unlock()

	if e.FailOpen != nil {
		return nil, e.FailOpen
	}
	pages, err := ReadMemoryDocument(path)
	if err != nil {
		return nil, err
	}

	doc := &memoryDocument{engine: e}
	for _, text := range pages {
		doc.pages = append(doc.pages, &memoryPage{text: []rune(text)})
	}
	return doc, nil
}

// OpenForCompression implements Compressor
func (e *MemoryEngine) OpenForCompression(path string) (Compressible, error) {
	if e.FailCompress != nil {
		return nil, e.FailCompress
	}
	pages, err := ReadMemoryDocument(path)
	if err != nil {
		return nil, err
	}
	return &memoryCompressible{pages: pages}, nil
}

type memoryDocument struct {
	engine *MemoryEngine
	pages  []*memoryPage
}

func (d *memoryDocument) PageCount() int { return len(d.pages) }

func (d *memoryDocument) Page(index int) (Page, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, index)
	}
	return d.pages[index], nil
}

func (d *memoryDocument) Save(path string) error {
	if d.engine.FailSave != nil {
		return d.engine.FailSave
	}
	pages := make([]string, len(d.pages))
	for i, p := range d.pages {
		pages[i] = string(p.text)
	}
	return WriteMemoryDocument(path, pages...)
}

func (d *memoryDocument) Close() error { return nil }

type memoryAnnot struct {
	start, end  int
	replacement string
}

type memoryPage struct {
	text    []rune
	pending []memoryAnnot
}

func (p *memoryPage) Text() (string, error) { return string(p.text), nil }

func (p *memoryPage) SearchFor(literal string) ([]Region, error) {
	if literal == "" {
		return nil, nil
	}
	needle := []rune(literal)
	var regions []Region
	text := string(p.text)
	offset := 0
	for {
		idx := strings.Index(text, literal)
		if idx < 0 {
			break
		}
		start := offset + len([]rune(text[:idx]))
		regions = append(regions, Region{X0: float64(start), Y0: 0, X1: float64(start + len(needle)), Y1: 1})
		text = text[idx+len(literal):]
		offset = start + len(needle)
	}
	return regions, nil
}

func (p *memoryPage) AddRedactAnnot(region Region, replacement string, _ Color) error {
	start, end := int(region.X0), int(region.X1)
	if start < 0 || end > len(p.text) || start >= end {
		return fmt.Errorf("region %+v outside page text", region)
	}
	p.pending = append(p.pending, memoryAnnot{start: start, end: end, replacement: replacement})
	return nil
}

// ApplyRedactions merges overlapping annotations and swaps each covered span
// for the replacement text of the first annotation in it.
func (p *memoryPage) ApplyRedactions() error {
	if len(p.pending) == 0 {
		return nil
	}
	annots := p.pending
	p.pending = nil
	sort.SliceStable(annots, func(i, j int) bool { return annots[i].start < annots[j].start })

	var merged []memoryAnnot
	for _, a := range annots {
		if n := len(merged); n > 0 && a.start < merged[n-1].end {
			if a.end > merged[n-1].end {
				merged[n-1].end = a.end
			}
			continue
		}
		merged = append(merged, a)
	}

	var out []rune
	cursor := 0
	for _, a := range merged {
		out = append(out, p.text[cursor:a.start]...)
		out = append(out, []rune(a.replacement)...)
		cursor = a.end
	}
	out = append(out, p.text[cursor:]...)
	p.text = out
	return nil
}

type memoryCompressible struct {
	pages []string
}

func (c *memoryCompressible) SaveCompressed(path string) error {
	data, err := json.Marshal(memoryFile{Pages: c.pages})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *memoryCompressible) Close() error { return nil }
