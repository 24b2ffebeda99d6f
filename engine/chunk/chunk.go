// Package chunk splits extracted document text into overlapping word windows.
package chunk

import (
	"fmt"
	"strings"

	"github.com/satyawork/nlp-ui/engine/domain"
)

const (
	// DefaultSize is the number of words per chunk.
	DefaultSize = 100
	// DefaultOverlap is the number of words shared by consecutive chunks.
	DefaultOverlap = 30
)

// Text splits text on whitespace and emits windows of up to maxWords words,
// starting every maxWords-overlap words. Words inside a chunk are joined by a
// single space. Empty or whitespace-only text yields an empty slice.
func Text(text string, maxWords, overlap int) ([]string, error) {
	if maxWords <= 0 || overlap < 0 || maxWords-overlap <= 0 {
		return nil, fmt.Errorf("chunk: size=%d overlap=%d: %w", maxWords, overlap, domain.ErrChunkConfig)
	}
	words := strings.Fields(text)
	step := maxWords - overlap

	chunks := make([]string, 0, Count(len(words), maxWords, overlap))
	for start := 0; start < len(words); start += step {
		end := min(start+maxWords, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks, nil
}

// Count returns how many chunks Text produces for n words.
func Count(n, maxWords, overlap int) int {
	step := maxWords - overlap
	if n <= 0 || step <= 0 {
		return 0
	}
	return (n + step - 1) / step
}

// WordCount approximates token count as whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Chunker carries a fixed window configuration.
type Chunker struct {
	Size    int
	Overlap int
}

// New validates the window configuration once, up front.
func New(size, overlap int) (Chunker, error) {
	if _, err := Text("", size, overlap); err != nil {
		return Chunker{}, err
	}
	return Chunker{Size: size, Overlap: overlap}, nil
}

// Default returns the 100/30 chunker.
func Default() Chunker {
	return Chunker{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Split chunks text with the configured window.
func (c Chunker) Split(text string) ([]string, error) {
	return Text(text, c.Size, c.Overlap)
}
