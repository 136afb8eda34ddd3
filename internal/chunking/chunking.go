// Package chunking splits extracted text into overlapping windows sized for
// the embedding service.
package chunking

import "strings"

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Splitter turns text into ordered chunks. Index i of the result is chunk i.
type Splitter interface {
	Split(text string) []string
}

// Fixed splits on character (rune) count with a fixed overlap.
type Fixed struct {
	chunkSize int
	overlap   int
}

// Option configures a Fixed splitter.
type Option func(*Fixed)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(f *Fixed) {
		if size > 0 {
			f.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(f *Fixed) {
		if overlap >= 0 {
			f.overlap = overlap
		}
	}
}

// New creates a Fixed splitter.
func New(opts ...Option) *Fixed {
	f := &Fixed{chunkSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(f)
	}
	if f.overlap >= f.chunkSize {
		f.overlap = f.chunkSize / 4
	}
	return f
}

// Split returns windows of chunkSize runes, each starting chunkSize-overlap
// after the previous one. The last window ends at the end of the text.
func (f *Fixed) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	step := f.chunkSize - f.overlap

	chunks := make([]string, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := min(start+f.chunkSize, n)
		chunks = append(chunks, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return chunks
}

var _ Splitter = (*Fixed)(nil)
