package domain

import (
	"context"
	"fmt"
)

// Embedding is one vector and the tokens the provider billed for it. A cache hit bills 0.
type Embedding struct {
	Vector []float32
	Tokens int
}

// Embeddings holds vectors in input order.
type Embeddings struct {
	Vectors [][]float32
	Tokens  int
}

// Embedder turns one text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

// BatchEmbedder turns many texts into vectors with as few provider calls as it can.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) (Embeddings, error)
}

// EmbedAll uses the batch endpoint of e when it has one, otherwise it embeds texts one by one.
func EmbedAll(ctx context.Context, e Embedder, texts []string) (Embeddings, error) {
	if len(texts) == 0 {
		return Embeddings{}, nil
	}
	if b, ok := e.(BatchEmbedder); ok {
		return b.EmbedBatch(ctx, texts)
	}

	out := Embeddings{Vectors: make([][]float32, 0, len(texts))}
	for i, text := range texts {
		one, err := e.Embed(ctx, text)
		if err != nil {
			return Embeddings{}, fmt.Errorf("embed text %d of %d: %w", i+1, len(texts), err)
		}
		out.Vectors = append(out.Vectors, one.Vector)
		out.Tokens += one.Tokens
	}
	return out, nil
}

// Instructed prefixes every text with a task instruction.
// Asymmetric models want one instruction for stored chunks and another for queries.
type Instructed struct {
	inner       Embedder
	instruction string
}

// Instruct wraps inner so every text it sees starts with instruction.
func Instruct(inner Embedder, instruction string) *Instructed {
	return &Instructed{inner: inner, instruction: instruction}
}

// Embed implements Embedder.
func (e *Instructed) Embed(ctx context.Context, text string) (Embedding, error) {
	return e.inner.Embed(ctx, e.instruction+text)
}

// EmbedBatch implements BatchEmbedder.
func (e *Instructed) EmbedBatch(ctx context.Context, texts []string) (Embeddings, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.instruction + t
	}
	return EmbedAll(ctx, e.inner, prefixed)
}
