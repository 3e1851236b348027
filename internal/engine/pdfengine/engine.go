// Package pdfengine implements the engine interfaces for real PDF files.
// Pages are read with ledongthuc/pdf and laid out by a small content stream
// interpreter, so search regions and text removal share one geometry.
// Redacted pages get a rewritten content stream without the covered glyphs,
// a fill rectangle over each region and a pdfcpu stamp with the replacement.
package pdfengine

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/engine"
)

// Engine opens PDF documents from disk.
type Engine struct {
	logger *zap.Logger
}

// New creates a PDF engine
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Open implements engine.Engine
func (e *Engine) Open(path string) (engine.Document, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}

	doc := &document{
		path:   path,
		file:   file,
		reader: reader,
		pages:  make(map[int]*page),
		logger: e.logger,
	}

	e.logger.Debug("PDF opened",
		zap.String("path", path),
		zap.Int("pages", reader.NumPage()))

	return doc, nil
}

// OpenForCompression implements engine.Compressor
func (e *Engine) OpenForCompression(path string) (engine.Compressible, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	return &compressible{ctx: ctx, logger: e.logger}, nil
}

type document struct {
	path   string
	file   *os.File
	reader *pdf.Reader
	pages  map[int]*page
	logger *zap.Logger
}

func (d *document) PageCount() int { return d.reader.NumPage() }

func (d *document) Page(index int) (engine.Page, error) {
	if index < 0 || index >= d.reader.NumPage() {
		return nil, fmt.Errorf("%w: %d", engine.ErrPageOutOfRange, index)
	}
	if p, ok := d.pages[index]; ok {
		return p, nil
	}
	p := &page{src: d.reader.Page(index + 1)}
	d.pages[index] = p
	return p, nil
}

// Save removes the glyphs under every applied redaction, paints the regions
// and stamps the replacement text, then writes the result to path.
func (d *document) Save(path string) error {
	redacted := make(map[int]*page)
	for index, p := range d.pages {
		if len(p.applied) > 0 {
			redacted[index] = p
		}
	}
	if len(redacted) == 0 {
		return copyFile(d.path, path)
	}

	ctx, err := api.ReadContextFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read PDF context: %w", err)
	}

	stamps := make(map[int][]*model.Watermark)
	for index, p := range redacted {
		if err := p.load(); err != nil {
			return err
		}
		content, removed := p.redactedContent()
		if err := replacePageContent(ctx, index+1, content); err != nil {
			return fmt.Errorf("failed to rewrite page %d: %w", index+1, err)
		}
		for _, a := range p.applied {
			if !hasStamp(a) {
				continue
			}
			wm, err := api.TextWatermark(a.replacement, stampDescription(a), true, false, types.POINTS)
			if err != nil {
				return fmt.Errorf("failed to build redaction stamp for page %d: %w", index+1, err)
			}
			stamps[index+1] = append(stamps[index+1], wm)
		}
		d.logger.Debug("Page content rewritten",
			zap.Int("page", index+1),
			zap.Int("redactions", len(p.applied)),
			zap.Int("glyphs_removed", removed))
	}

	if len(stamps) == 0 {
		if err := api.WriteContextFile(ctx, path); err != nil {
			return fmt.Errorf("failed to write redacted PDF: %w", err)
		}
	} else {
		var buf bytes.Buffer
		if err := api.WriteContext(ctx, &buf); err != nil {
			return fmt.Errorf("failed to write redacted PDF: %w", err)
		}
		if err := stampFile(bytes.NewReader(buf.Bytes()), path, stamps); err != nil {
			return err
		}
	}

	d.logger.Debug("PDF saved",
		zap.String("path", path),
		zap.Int("pages_redacted", len(redacted)),
		zap.Int("pages_stamped", len(stamps)))
	return nil
}

// replacePageContent points the page's /Contents at a single new stream.
func replacePageContent(ctx *model.Context, pageNr int, content []byte) error {
	pageDict, _, _, err := ctx.PageDict(pageNr, false)
	if err != nil {
		return err
	}
	sd, err := ctx.NewStreamDictForBuf(content)
	if err != nil {
		return err
	}
	if err := sd.Encode(); err != nil {
		return err
	}
	ref, err := ctx.IndRefForNewObject(*sd)
	if err != nil {
		return err
	}
	pageDict.Update("Contents", *ref)
	return nil
}

// stampFile applies the stamps with a configuration of its own; pdfcpu
// mutates the configuration it is given.
func stampFile(src io.ReadSeeker, path string, stamps map[int][]*model.Watermark) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	if err := api.AddWatermarksSliceMap(src, out, stamps, model.NewDefaultConfiguration()); err != nil {
		out.Close()
		return fmt.Errorf("failed to write redaction stamps: %w", err)
	}
	return out.Close()
}

func (d *document) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

type compressible struct {
	ctx    *model.Context
	logger *zap.Logger
}

// SaveCompressed optimizes the document and writes it with object and xref streams.
func (c *compressible) SaveCompressed(path string) error {
	c.ctx.Configuration.WriteObjectStream = true
	c.ctx.Configuration.WriteXRefStream = true

	if err := api.OptimizeContext(c.ctx); err != nil {
		return fmt.Errorf("failed to optimize PDF: %w", err)
	}
	if err := api.WriteContextFile(c.ctx, path); err != nil {
		return fmt.Errorf("failed to write compressed PDF: %w", err)
	}

	c.logger.Debug("PDF compressed", zap.String("path", path))
	return nil
}

func (c *compressible) Close() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy PDF: %w", err)
	}
	return out.Close()
}
