// Package engine defines the document and compression collaborators the
// redactor drives. PDF parsing, glyph geometry and stream compression live
// behind these interfaces.
package engine

import "errors"

// ErrPageOutOfRange is returned for a page index outside [0, PageCount).
var ErrPageOutOfRange = errors.New("page index out of range")

// Region is a rectangle in page space (PDF points, origin bottom-left).
type Region struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width of the region
func (r Region) Width() float64 { return r.X1 - r.X0 }

// Height of the region
func (r Region) Height() float64 { return r.Y1 - r.Y0 }

// Color is an RGB triple with components in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

var (
	White = Color{R: 1, G: 1, B: 1}
	Black = Color{}
)

// Engine opens documents for redaction.
type Engine interface {
	Open(path string) (Document, error)
}

// Document is an opened document. Page indices are zero based.
type Document interface {
	PageCount() int
	Page(index int) (Page, error)
	Save(path string) error
	Close() error
}

// Page is one page of an open document. Annotations queued with
// AddRedactAnnot take effect only once ApplyRedactions is called.
type Page interface {
	Text() (string, error)
	// SearchFor returns every region where literal occurs on the page.
	SearchFor(literal string) ([]Region, error)
	AddRedactAnnot(region Region, replacement string, fill Color) error
	ApplyRedactions() error
}

// Compressor reopens a saved document and rewrites it with compressed streams.
type Compressor interface {
	OpenForCompression(path string) (Compressible, error)
}

// Compressible is a document opened by a Compressor.
type Compressible interface {
	SaveCompressed(path string) error
	Close() error
}
