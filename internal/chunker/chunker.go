// Package chunker splits normalized text into overlapping windows that
// prefer to end on a sentence boundary.
package chunker

import (
	"regexp"
	"strings"
)

const (
	DefaultSize    = 800
	DefaultOverlap = 100
)

var blankRun = regexp.MustCompile(`\n{3,}`)

// Chunker holds a size/overlap pair. The zero value is not usable, use New.
type Chunker struct {
	size    int
	overlap int
}

type Option func(*Chunker)

func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

func (c *Chunker) Split(text string) []string {
	return Split(text, c.size, c.overlap)
}

// Normalize unifies line endings and collapses runs of three or more
// newlines into a single blank line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return blankRun.ReplaceAllString(text, "\n\n")
}

// Split returns the chunks of text in source order. Lengths are counted in
// runes on the normalized text.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	normalized := Normalize(text)
	runes := []rune(normalized)
	if len(runes) <= size {
		if trimmed := strings.TrimSpace(normalized); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	chunks := make([]string, 0, len(runes)/(size-overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := runes[start:end]
		if end < len(runes) {
			// a boundary inside the overlap is ignored and the full window
			// is kept, so every window is longer than overlap.
			if cut := lastBoundary(window); cut > overlap {
				window = window[:cut]
			}
		}
		if trimmed := strings.TrimSpace(string(window)); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		if end == len(runes) {
			break
		}
		start += len(window) - overlap
	}
	return chunks
}

// lastBoundary returns the window length that ends right after the last
// sentence terminator, or 0 when the window has none.
func lastBoundary(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}
