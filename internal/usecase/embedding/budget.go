// Package embedding keeps embedding spend inside the configured token budget.
package embedding

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

var tracer = otel.Tracer("querynode/usecase/embedding")

// MaxBatch is the most texts sent to the provider in one call.
const MaxBatch = 256

// Budget is the provider token quota.
type Budget interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// Budgeted refuses provider calls once the budget is spent and records what each call consumed.
// A nil budget only adds tracing and batch splitting.
type Budgeted struct {
	inner  domain.Embedder
	budget Budget
	model  string
	logger *zap.Logger
}

// NewBudgeted wraps inner.
func NewBudgeted(inner domain.Embedder, budget Budget, model string, logger *zap.Logger) *Budgeted {
	return &Budgeted{inner: inner, budget: budget, model: model, logger: logger}
}

// Embed implements domain.Embedder.
func (b *Budgeted) Embed(ctx context.Context, text string) (_ domain.Embedding, err error) {
	ctx, span := tracer.Start(ctx, "embedding.Embed", trace.WithAttributes(
		attribute.String("embedding.model", b.model),
	))
	defer finish(span, &err)

	if err := b.allow(ctx); err != nil {
		return domain.Embedding{}, err
	}
	res, err := b.inner.Embed(ctx, text)
	if err != nil {
		return domain.Embedding{}, fmt.Errorf("embed: %w", err)
	}
	b.spend(res.Tokens)
	return res, nil
}

// EmbedBatch sends texts in slices of MaxBatch and checks the budget before each slice,
// so one large file cannot overrun it by more than a slice.
func (b *Budgeted) EmbedBatch(ctx context.Context, texts []string) (_ domain.Embeddings, err error) {
	if len(texts) == 0 {
		return domain.Embeddings{}, nil
	}
	ctx, span := tracer.Start(ctx, "embedding.EmbedBatch", trace.WithAttributes(
		attribute.String("embedding.model", b.model),
		attribute.Int("embedding.texts", len(texts)),
	))
	defer finish(span, &err)

	out := domain.Embeddings{Vectors: make([][]float32, 0, len(texts))}
	for start := 0; start < len(texts); start += MaxBatch {
		if err := b.allow(ctx); err != nil {
			return domain.Embeddings{}, err
		}
		part, err := domain.EmbedAll(ctx, b.inner, texts[start:min(start+MaxBatch, len(texts))])
		if err != nil {
			b.logger.Error("Embedding batch failed",
				zap.String("model", b.model),
				zap.Int("offset", start),
				zap.Error(err),
			)
			return domain.Embeddings{}, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		out.Vectors = append(out.Vectors, part.Vectors...)
		out.Tokens += part.Tokens
		b.spend(part.Tokens)
	}

	b.logger.Debug("Embedded batch", zap.Int("texts", len(texts)), zap.Int("tokens", out.Tokens))
	return out, nil
}

func (b *Budgeted) allow(ctx context.Context) error {
	if b.budget == nil {
		return nil
	}
	if err := b.budget.Check(ctx); err != nil {
		b.logger.Warn("Embedding budget exhausted", zap.String("model", b.model), zap.Error(err))
		return fmt.Errorf("embedding budget: %w", err)
	}
	return nil
}

func (b *Budgeted) spend(tokens int) {
	if b.budget == nil || tokens <= 0 {
		return
	}
	b.budget.Record(int64(tokens))
	metrics.EmbeddingBudgetRemaining.WithLabelValues("daily").Set(float64(b.budget.RemainingDaily()))
	metrics.EmbeddingBudgetRemaining.WithLabelValues("monthly").Set(float64(b.budget.RemainingMonthly()))
}

func finish(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
