// Package redactor drives a redaction run: it prepares a pattern matcher,
// walks the pages of a document, annotates every match and writes a
// compressed copy of the result.
package redactor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/engine"
	"github.com/raaihank/pdf-redactor/internal/patterns"
)

// DefaultReplacement is drawn over redacted text when no replacement is given.
const DefaultReplacement = "***REDACTED***"

// outputMode is the permission of a newly created destination file.
const outputMode os.FileMode = 0o644

// RunOptions selects what a run redacts and how.
type RunOptions struct {
	Needles          []string
	Replacement      string
	IgnoreCase       bool
	Kinds            []patterns.Kind
	ValidatePatterns bool
	// Progress, when set, is called synchronously after each page.
	Progress func(PageProgress)
}

// Redactor redacts one source document into one destination.
type Redactor struct {
	src        string
	dst        string
	engine     engine.Engine
	compressor engine.Compressor
	logger     *zap.Logger
	// patterns used by the last successful Run
	used []patterns.Info
}

// New checks the source and destination paths and returns a Redactor.
// No document is opened here.
func New(src, dst string, overwrite bool, eng engine.Engine, comp engine.Compressor, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, src, err)
	}
	f.Close()

	if strings.TrimSpace(dst) == "" {
		return nil, ErrInvalidDestination
	}
	if info, err := os.Stat(dst); err == nil {
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidDestination, dst)
		}
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
	}

	return &Redactor{
		src:        src,
		dst:        dst,
		engine:     eng,
		compressor: comp,
		logger:     logger.With(zap.String("src", src), zap.String("dst", dst)),
	}, nil
}

// Plan validates and registers the requested patterns without touching the
// document and returns the descriptors of the patterns a run would use.
func (r *Redactor) Plan(opts RunOptions) ([]patterns.Info, error) {
	m, err := r.prepare(opts)
	if err != nil {
		return nil, err
	}
	return m.PatternInfo(), nil
}

// Run redacts the source into the destination and returns the run statistics.
// On failure nothing is left at the destination path.
func (r *Redactor) Run(opts RunOptions) (Statistics, error) {
	if opts.Replacement == "" {
		opts.Replacement = DefaultReplacement
	}

	m, err := r.prepare(opts)
	if err != nil {
		if IsSoft(err) {
			r.logger.Warn("No patterns specified, nothing to redact")
		} else {
			r.logger.Error("Failed to prepare patterns", zap.Error(err))
		}
		return Statistics{}, err
	}

	r.used = nil
	info := m.PatternInfo()
	for _, pi := range info {
		r.logger.Debug("Using pattern",
			zap.String("name", pi.Name),
			zap.String("type", pi.Type),
			zap.String("pattern", pi.Pattern))
	}

	stats, err := r.redact(m, distinctPatterns(info), opts)
	if err != nil {
		r.logger.Error("Redaction failed", zap.Error(err))
		return Statistics{}, err
	}
	r.used = info

	r.logger.Info("Redaction completed",
		zap.Int("total_matches", stats.TotalMatches),
		zap.Int("pages_processed", stats.PagesProcessed),
		zap.Int("pages_modified", stats.PagesModified),
		zap.Int("patterns_used", stats.PatternsUsed))
	return stats, nil
}

// Patterns returns the descriptors of the patterns used by the last
// successful Run, or nil if no run has succeeded.
func (r *Redactor) Patterns() []patterns.Info {
	return r.used
}

// prepare builds the matcher for a run. Every failure here happens before
// any document I/O.
func (r *Redactor) prepare(opts RunOptions) (*patterns.Matcher, error) {
	m := patterns.NewMatcher(r.logger)

	if len(opts.Needles) > 0 && opts.ValidatePatterns {
		if problems := m.Validate(opts.Needles); len(problems) > 0 {
			var errs error
			for _, p := range problems {
				r.logger.Error("Invalid pattern", zap.String("error", p))
				errs = multierr.Append(errs, errors.New(p))
			}
			return nil, fmt.Errorf("%w: %w", ErrPatternValidation, errs)
		}
	}

	for _, kind := range opts.Kinds {
		if err := m.AddPredefinedPattern(kind, opts.IgnoreCase); err != nil {
			return nil, err
		}
	}

	for _, needle := range opts.Needles {
		if err := m.AddPattern(needle, opts.IgnoreCase); err != nil {
			return nil, err
		}
	}

	if m.Len() == 0 {
		return nil, ErrNoPatternsSpecified
	}
	return m, nil
}

func (r *Redactor) redact(m *patterns.Matcher, patternsUsed int, opts RunOptions) (Statistics, error) {
	doc, err := r.engine.Open(r.src)
	if err != nil {
		return Statistics{}, fmt.Errorf("%w: open %s: %w", ErrEngineFailure, r.src, err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			r.logger.Warn("Failed to close document", zap.Error(err))
		}
	}()

	total := doc.PageCount()
	r.logger.Debug("Document opened", zap.Int("pages", total))

	stats := newStatsBuilder(patternsUsed)
	for i := 0; i < total; i++ {
		matches, err := r.redactPage(doc, i, m, opts.Replacement, stats)
		if err != nil {
			return Statistics{}, fmt.Errorf("%w: page %d: %w", ErrEngineFailure, i+1, err)
		}
		if opts.Progress != nil {
			opts.Progress(PageProgress{Page: i + 1, TotalPages: total, Matches: matches})
		}
	}

	if err := r.persist(doc); err != nil {
		return Statistics{}, err
	}
	return stats.build(), nil
}

// redactPage annotates every match on one page and applies the redactions
// once. It returns the number of matches found.
func (r *Redactor) redactPage(doc engine.Document, index int, m *patterns.Matcher, replacement string, stats *statsBuilder) (int, error) {
	page, err := doc.Page(index)
	if err != nil {
		return 0, err
	}
	text, err := page.Text()
	if err != nil {
		return 0, err
	}

	matches := m.FindMatches(text)
	for _, match := range matches {
		regions, err := page.SearchFor(match.Text)
		if err != nil {
			return 0, fmt.Errorf("search %q: %w", match.Text, err)
		}
		for _, region := range regions {
			if err := page.AddRedactAnnot(region, replacement, engine.White); err != nil {
				return 0, fmt.Errorf("annotate %q: %w", match.Text, err)
			}
		}
		stats.match(match.Pattern)
	}

	modified := len(matches) > 0
	if modified {
		if err := page.ApplyRedactions(); err != nil {
			return 0, fmt.Errorf("apply redactions: %w", err)
		}
	}
	stats.page(modified)

	r.logger.Debug("Page processed",
		zap.Int("page", index+1),
		zap.Int("matches", len(matches)))
	return len(matches), nil
}

// persist saves the document to a scratch file, compresses it into a
// temporary file beside the destination and renames that into place.
func (r *Redactor) persist(doc engine.Document) (err error) {
	scratch, err := tempPath("", "pdf-redactor-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(scratch); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, fmt.Errorf("failed to remove temporary file: %w", rmErr))
		}
	}()

	if err := doc.Save(scratch); err != nil {
		return fmt.Errorf("%w: save: %w", ErrEngineFailure, err)
	}
	r.logger.Debug("Redacted document saved", zap.String("path", scratch))

	out, err := tempPath(filepath.Dir(r.dst), "."+filepath.Base(r.dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(out)
		}
	}()

	if err := r.compress(scratch, out); err != nil {
		return err
	}
	// temp files are created 0600; keep the mode of a replaced output
	mode := outputMode
	if info, statErr := os.Stat(r.dst); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(out, mode); err != nil {
		return fmt.Errorf("failed to set output permissions: %w", err)
	}
	if err := os.Rename(out, r.dst); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func (r *Redactor) compress(src, dst string) (err error) {
	c, err := r.compressor.OpenForCompression(src)
	if err != nil {
		return fmt.Errorf("%w: open for compression: %w", ErrEngineFailure, err)
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	if err := c.SaveCompressed(dst); err != nil {
		return fmt.Errorf("%w: compress: %w", ErrEngineFailure, err)
	}
	r.logger.Debug("Compressed output written", zap.String("path", dst))
	return nil
}

// tempPath reserves a unique file name in dir and returns its path.
func tempPath(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func distinctPatterns(info []patterns.Info) int {
	seen := make(map[string]struct{}, len(info))
	for _, pi := range info {
		seen[pi.Pattern] = struct{}{}
	}
	return len(seen)
}
