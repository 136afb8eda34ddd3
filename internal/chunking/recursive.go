package chunking

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Recursive splits on paragraph, line and word boundaries before falling
// back to characters, so chunks rarely cut a sentence in half.
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
	fallback *Fixed
}

// NewRecursive creates a boundary-aware splitter with the same options as New.
func NewRecursive(opts ...Option) *Recursive {
	f := New(opts...)
	return &Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(f.chunkSize),
			textsplitter.WithChunkOverlap(f.overlap),
		),
		fallback: f,
	}
}

// Split returns the chunks in document order.
func (r *Recursive) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks, err := r.splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return r.fallback.Split(text)
	}
	return chunks
}

// ForStrategy returns the splitter named by strategy ("fixed" or "recursive").
func ForStrategy(strategy string, opts ...Option) Splitter {
	if strings.EqualFold(strings.TrimSpace(strategy), "fixed") {
		return New(opts...)
	}
	return NewRecursive(opts...)
}

var _ Splitter = (*Recursive)(nil)
