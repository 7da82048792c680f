// Package extract defines the document text extraction boundary. The
// retrieval core consumes extracted text only; format-specific parsers (PDF,
// OCR) bind to the Extractor interface from outside.
package extract

import (
	"context"
	"errors"
	"io"
)

// ErrNoText is returned when a document yields no extractable text. Callers
// treat it as rejected input, never retried.
var ErrNoText = errors.New("no extractable text")

// DocumentInfo is document metadata surfaced alongside upload summaries.
type DocumentInfo struct {
	Pages  int    `json:"pages"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// Extractor turns a document stream into plain text and metadata.
type Extractor interface {
	// Extract returns the document's text content, or ErrNoText when the
	// document contains none.
	Extract(ctx context.Context, r io.Reader) (string, error)

	// Metadata returns document metadata. Fields the format cannot supply
	// stay zero.
	Metadata(ctx context.Context, r io.Reader) (DocumentInfo, error)
}
