// Package chunker splits extracted document text into overlapping segments
// suitable for embedding and retrieval.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

const (
	// DefaultChunkSize is the target segment length in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the repeated context between consecutive segments.
	DefaultChunkOverlap = 200

	// MinChunkLength is the minimum meaningful segment length. Segments at or
	// below this are discarded post-split.
	MinChunkLength = 100
)

var (
	// pageArtifactPattern matches lines that are only "Page N" or a bare number,
	// typical page-footer noise in extracted PDF text.
	pageArtifactPattern = regexp.MustCompile(`(?im)^\s*(?:page\s+\d+|\d+)\s*$`)

	// whitespaceRuns collapses any whitespace run to a single space.
	whitespaceRuns = regexp.MustCompile(`\s+`)

	// lowContentPattern matches segments made up entirely of digits,
	// whitespace, hyphens, and periods.
	lowContentPattern = regexp.MustCompile(`^[0-9\s\-.]+$`)
)

// Chunk is one bounded substring of a document's extracted text.
type Chunk struct {
	// Index is the zero-based position within the document, stable across runs.
	Index int

	// Text is the segment content.
	Text string

	// Length is len(Text), carried into vector-record metadata.
	Length int
}

// Key returns the zero-padded stable identifier used for the stored vector.
func (c Chunk) Key() string {
	return fmt.Sprintf("%06d", c.Index)
}

// Chunker produces Chunks from raw extracted text. It is a pure function of
// its input and safe for concurrent use.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger
}

// New creates a Chunker with the given segment size and overlap in characters.
// Non-positive values fall back to the defaults.
func New(chunkSize, chunkOverlap int, logger *zap.Logger) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 5
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       logger.Named("chunker"),
	}
}

// Chunk splits text into filtered, overlapping segments in document order.
//
// It never fails: malformed input yields an empty result and a logged cause,
// leaving the ingestion path to reject the document as having no usable chunks.
func (c *Chunker) Chunk(text string) []Chunk {
	cleaned := Preprocess(text)
	if cleaned == "" {
		return nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(c.chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
	)

	segments, err := splitter.SplitText(cleaned)
	if err != nil {
		c.logger.Error("text split failed", zap.Error(err), zap.Int("input_len", len(text)))
		return nil
	}

	chunks := make([]Chunk, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if len(seg) <= MinChunkLength || LowContent(seg) {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   seg,
			Length: len(seg),
		})
	}
	return chunks
}

// Preprocess strips page-number artifact lines and collapses whitespace runs.
func Preprocess(text string) string {
	text = pageArtifactPattern.ReplaceAllString(text, "")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// LowContent reports whether text consists solely of digits, whitespace,
// hyphens, and periods, i.e. carries no answerable content.
func LowContent(text string) bool {
	return text != "" && lowContentPattern.MatchString(text)
}
