// Package chunk splits decrypted file text into overlapping passages for indexing.
package chunk

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter is a deterministic recursive character splitter.
type Splitter struct {
	splitter textsplitter.RecursiveCharacter
}

// New creates a splitter producing chunks of at most size runes with overlap runes shared between neighbours.
func New(size, overlap int) *Splitter {
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

// Chunk splits text. Blank chunks are dropped; blank text yields no chunks.
func (s *Splitter) Chunk(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	parts, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}
