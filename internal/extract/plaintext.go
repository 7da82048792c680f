package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// PlainText extracts UTF-8 text documents as-is. It ships as the development
// and test extractor; form feeds are treated as page breaks so page counts
// behave sensibly for pre-paginated text dumps.
type PlainText struct{}

// NewPlainText creates a PlainText extractor.
func NewPlainText() *PlainText {
	return &PlainText{}
}

// Extract reads the full stream and returns it verbatim.
func (p *PlainText) Extract(_ context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Metadata reports a page count from form feeds and takes the first
// non-empty line as the title.
func (p *PlainText) Metadata(_ context.Context, r io.Reader) (DocumentInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("reading document: %w", err)
	}
	text := string(data)

	info := DocumentInfo{
		Pages: strings.Count(text, "\f") + 1,
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			info.Title = line
			break
		}
	}
	return info, nil
}

var _ Extractor = (*PlainText)(nil)
